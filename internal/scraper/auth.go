package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jgoulah/remotemeter/internal/htmldoc"
)

var tracer = otel.Tracer("remotemeter/scraper")

const (
	loginPath = "/login_set.html"

	// The portal hands the session over to the data host with a hidden
	// form that an inline script submits on load
	autoSubmitTrigger = "document.iform.submit()"
	autoSubmitForm    = "iform"
)

// successMarkers appear (lower-cased) only on pages served to a logged-in user
var successMarkers = []string{
	"로그아웃",
	"logout",
	"마이페이지",
	"mypage",
	"님",
	"회원정보",
	"내정보",
	"원격검침",
}

var scriptRedirectRe = regexp.MustCompile(`location\.(href|replace)\s*[=(]\s*["']([^"']+)["']`)

var (
	ErrLoginRejected   = errors.New("login request was not accepted")
	ErrNoSuccessSignal = errors.New("no logged-in marker, handoff form or script redirect found")
	ErrHandoffFailed   = errors.New("handoff to meter host failed")
)

// Credentials are the portal account's username and password
type Credentials struct {
	Username string
	Password string
}

// Authenticator performs the portal login handshake on a Session
type Authenticator struct {
	session *Session
	pacer   pacer
}

// NewAuthenticator creates an authenticator for the session. pacing is the
// pause taken before following a script redirect.
func NewAuthenticator(session *Session, pacing time.Duration) *Authenticator {
	return &Authenticator{session: session, pacer: newPacer(pacing)}
}

// Login performs the handshake and reports whether the session is now
// logged in. Failures are logged, never returned.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) bool {
	ctx, span := tracer.Start(ctx, "authenticator:Login")
	defer span.End()

	if err := a.login(ctx, creds); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		slog.WarnContext(ctx, "login failed", "err", err)
		return false
	}
	return true
}

func (a *Authenticator) login(ctx context.Context, creds Credentials) error {
	s := a.session

	// Seeds the session cookies; the page itself is irrelevant
	if _, err := s.get(ctx, s.http, s.primary.String(), nil, nil); err != nil {
		return fmt.Errorf("loading main page: %w", err)
	}

	form := url.Values{}
	form.Set("uid", creds.Username)
	form.Set("upasswd", creds.Password)
	form.Set("x", "0")
	form.Set("y", "0")

	origin := s.primary.Scheme + "://" + s.primary.Host
	res, err := s.postForm(ctx, s.http, s.primaryURL(loginPath), form, map[string]string{
		"Content-Type":   "application/x-www-form-urlencoded",
		"Origin":         origin,
		"Referer":        s.primaryURL("/"),
		"Cache-Control":  "max-age=0",
		"Sec-Fetch-Dest": "document",
		"Sec-Fetch-Mode": "navigate",
		"Sec-Fetch-Site": "same-origin",
		"Sec-Fetch-User": "?1",
	})
	if err != nil {
		return fmt.Errorf("submitting credentials: %w", err)
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%w (status %d)", ErrLoginRejected, res.StatusCode)
	}

	if hasSuccessMarker(res.Body) {
		slog.DebugContext(ctx, "logged in", "signal", "marker")
		return nil
	}

	if strings.Contains(res.Body, autoSubmitTrigger) {
		err := a.handoff(ctx, res)
		if err == nil {
			presented := s.ReconcileCookies()
			slog.DebugContext(ctx, "logged in", "signal", "handoff", "cookies", len(presented))
			return nil
		}
		slog.DebugContext(ctx, "handoff did not complete", "err", err)
	}

	if target, ok := findScriptRedirect(res.Body); ok {
		return a.followScriptRedirect(ctx, target)
	}

	return ErrNoSuccessSignal
}

// handoff replays the auto-submitting form against the data host
func (a *Authenticator) handoff(ctx context.Context, res *page) error {
	ctx, span := tracer.Start(ctx, "authenticator:handoff")
	defer span.End()

	doc, err := htmldoc.Parse(res.Body)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandoffFailed, err)
	}

	form, ok := doc.FindFirst("form", htmldoc.AttrEquals("name", autoSubmitForm))
	if !ok {
		return fmt.Errorf("%w: form %q not found", ErrHandoffFailed, autoSubmitForm)
	}

	action, ok := form.Attr("action")
	if !ok || action == "" {
		return fmt.Errorf("%w: form has no action", ErrHandoffFailed)
	}
	target, err := resolveAgainst(res.URL, a.session.primary, action)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrHandoffFailed, err)
	}

	data := url.Values{}
	hidden := form.FindAll("input",
		htmldoc.AttrEqualFold("type", "hidden"),
		htmldoc.HasAttr("name"),
	)
	for _, input := range hidden {
		name := input.AttrOr("name", "")
		if name == "" {
			continue
		}
		data.Set(name, input.AttrOr("value", ""))
	}
	span.SetAttributes(
		attribute.String("action", target.String()),
		attribute.Int("fields", len(data)),
	)

	second, err := a.session.postForm(ctx, a.session.insecure, target.String(), data, nil)
	if err != nil {
		span.SetStatus(codes.Error, "handoff request failed")
		return fmt.Errorf("%w: %w", ErrHandoffFailed, err)
	}
	if second.StatusCode != http.StatusOK {
		span.SetStatus(codes.Error, "handoff rejected")
		return fmt.Errorf("%w (status %d)", ErrHandoffFailed, second.StatusCode)
	}

	return nil
}

func (a *Authenticator) followScriptRedirect(ctx context.Context, target string) error {
	u, err := a.session.resolve(target)
	if err != nil {
		return fmt.Errorf("following script redirect: %w", err)
	}

	if err := a.pacer.wait(ctx); err != nil {
		return err
	}

	res, err := a.session.get(ctx, a.session.http, u.String(), nil, nil)
	if err != nil {
		return fmt.Errorf("following script redirect: %w", err)
	}
	if !hasSuccessMarker(res.Body) {
		return fmt.Errorf("%w after redirect to %s", ErrNoSuccessSignal, u)
	}

	slog.DebugContext(ctx, "logged in", "signal", "redirect", "url", u.String())
	return nil
}

func hasSuccessMarker(body string) bool {
	return containsAny(strings.ToLower(body), successMarkers)
}

func containsAny(text string, substrs []string) bool {
	for _, s := range substrs {
		if strings.Contains(text, s) {
			return true
		}
	}
	return false
}

// findScriptRedirect extracts the target of location.href = "..." or
// location.replace("...")
func findScriptRedirect(body string) (string, bool) {
	if !strings.Contains(body, "location.href") && !strings.Contains(body, "location.replace") {
		return "", false
	}
	m := scriptRedirectRe.FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return m[2], true
}

// resolveAgainst resolves ref against base, or fallback when base is unknown
func resolveAgainst(base, fallback *url.URL, ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", ref, err)
	}
	if base == nil {
		base = fallback
	}
	return base.ResolveReference(u), nil
}
