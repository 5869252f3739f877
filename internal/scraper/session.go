package scraper

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"

	"github.com/jgoulah/remotemeter/internal/config"
)

const userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/138.0.0.0 Safari/537.36"

var defaultHeaders = map[string]string{
	"User-Agent":                userAgent,
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "ko;q=0.6",
	"Sec-GPC":                   "1",
	"Upgrade-Insecure-Requests": "1",
}

// Session is the cookie-bearing HTTP state shared by the login handshake
// and the meter fetches. The primary host is reached with certificate
// verification; the data host (and the handoff into it) is not, since it
// serves a self-signed certificate.
type Session struct {
	primary *url.URL
	data    *url.URL
	jar     *cookiejar.Jar

	http     *resty.Client
	insecure *resty.Client
}

// SessionOptions configures a Session
type SessionOptions struct {
	BaseURL      string
	MeterBaseURL string
	Timeout      time.Duration
}

// page is the decoded result of one request
type page struct {
	StatusCode int
	URL        *url.URL // final URL after redirects
	Body       string   // UTF-8
}

// NewSession creates an empty session for the two hosts
func NewSession(opts SessionOptions) (*Session, error) {
	primary, err := parseBaseURL(config.EnvBaseURL, opts.BaseURL)
	if err != nil {
		return nil, err
	}
	data, err := parseBaseURL(config.EnvMeterBaseURL, opts.MeterBaseURL)
	if err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = config.DefaultTimeout
	}

	s := &Session{
		primary:  primary,
		data:     data,
		jar:      jar,
		http:     newRestyClient(jar, timeout),
		insecure: newRestyClient(jar, timeout),
	}
	s.insecure.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})

	return s, nil
}

func parseBaseURL(key, raw string) (*url.URL, error) {
	if raw == "" {
		return nil, &config.ConfigurationError{Key: key, Message: "base URL is not set"}
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &config.ConfigurationError{Key: key, Message: fmt.Sprintf("invalid base URL %q", raw)}
	}
	return u, nil
}

func newRestyClient(jar http.CookieJar, timeout time.Duration) *resty.Client {
	client := resty.New()
	client.SetCookieJar(jar)
	client.SetTimeout(timeout)
	client.SetHeaders(defaultHeaders)
	client.SetRedirectPolicy(resty.FlexibleRedirectPolicy(10))

	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		slog.DebugContext(res.Request.Context(), "request finished",
			"method", res.Request.Method,
			"url", res.Request.URL,
			"status", res.StatusCode(),
			"duration", res.Time(),
		)
		return nil
	})
	client.OnError(func(req *resty.Request, err error) {
		slog.DebugContext(req.Context(), "request failed",
			"method", req.Method,
			"url", req.URL,
			"err", err,
		)
	})

	return client
}

// PrimaryURL returns the authentication host's base URL
func (s *Session) PrimaryURL() *url.URL {
	u := *s.primary
	return &u
}

// DataURL returns the meter data host's base URL
func (s *Session) DataURL() *url.URL {
	u := *s.data
	return &u
}

// Cookies returns the cookies the session would present to u
func (s *Session) Cookies(u *url.URL) []*http.Cookie {
	return s.jar.Cookies(u)
}

// ReconcileCookies returns the session's cookies keyed by name as the data
// host sees them. Cookies scoped to the data host win over same-named
// primary host cookies; primary host cookies are listed but never sent to
// the data host.
func (s *Session) ReconcileCookies() map[string]*http.Cookie {
	presented := make(map[string]*http.Cookie)
	for _, c := range s.jar.Cookies(s.primary) {
		presented[c.Name] = c
	}
	for _, c := range s.jar.Cookies(s.data) {
		presented[c.Name] = c
	}
	return presented
}

// ExportCookies returns the data host's cookies in the config format used
// by the capture browser
func (s *Session) ExportCookies() []config.Cookie {
	var result []config.Cookie
	for _, c := range s.jar.Cookies(s.data) {
		result = append(result, config.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: s.data.Hostname(),
			Path:   "/",
			Secure: s.data.Scheme == "https",
		})
	}
	return result
}

// resolve resolves ref against the primary host
func (s *Session) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("parsing url %q: %w", ref, err)
	}
	return s.primary.ResolveReference(u), nil
}

func (s *Session) primaryURL(path string) string {
	return s.primary.String() + path
}

func (s *Session) dataURL(path string) string {
	return s.data.String() + path
}

func (s *Session) get(ctx context.Context, client *resty.Client, target string, query, headers map[string]string) (*page, error) {
	res, err := client.R().
		SetContext(ctx).
		SetQueryParams(query).
		SetHeaders(headers).
		Get(target)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	return newPage(res), nil
}

func (s *Session) postForm(ctx context.Context, client *resty.Client, target string, form url.Values, headers map[string]string) (*page, error) {
	res, err := client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetFormDataFromValues(form).
		Post(target)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", target, err)
	}
	return newPage(res), nil
}

func newPage(res *resty.Response) *page {
	p := &page{
		StatusCode: res.StatusCode(),
		Body:       decodeBody(res.Body(), res.Header().Get("Content-Type")),
	}
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		p.URL = res.RawResponse.Request.URL
	}
	return p
}

// decodeBody converts a response body to UTF-8 using the declared charset
// (header or <meta>). Undeclared bodies that are already valid UTF-8 are
// left alone.
func decodeBody(body []byte, contentType string) string {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" || (!certain && utf8.Valid(body)) {
		return string(body)
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}
