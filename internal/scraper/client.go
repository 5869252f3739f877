package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jgoulah/remotemeter/internal/config"
	"github.com/jgoulah/remotemeter/internal/parser"
	"github.com/jgoulah/remotemeter/pkg/models"
)

const (
	meterSubPath  = "/center/remote_meter_sub.php"
	meterViewPath = "/center/remote_meter_view.php"
	meterViewTag  = "home_remote_meter"
)

var (
	ErrNoReadings   = errors.New("no readings in meter table")
	ErrInvalidMonth = errors.New("month must be between 1 and 12")
)

// HTTPError reports a non-successful status from the meter host
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("meter host returned status %d for %s", e.StatusCode, e.URL)
}

// Client fetches remote meter readings for one portal account
type Client struct {
	session *Session
	auth    *Authenticator
	pacer   pacer
	meterID int
	retries int
}

// ClientOptions configures a Client
type ClientOptions struct {
	BaseURL      string
	MeterBaseURL string
	Timeout      time.Duration
	Pacing       time.Duration // pause after each successful month and before script redirects, zero disables
	MeterID      int           // meter used by FetchRange
	Retries      int           // kept for callers that wrap the client in their own retry loop
}

// NewClient creates a client with an empty session. It only fails when a
// base URL is missing or malformed, with a *config.ConfigurationError.
func NewClient(opts ClientOptions) (*Client, error) {
	session, err := NewSession(SessionOptions{
		BaseURL:      opts.BaseURL,
		MeterBaseURL: opts.MeterBaseURL,
		Timeout:      opts.Timeout,
	})
	if err != nil {
		return nil, err
	}

	meterID := opts.MeterID
	if meterID <= 0 {
		meterID = config.DefaultMeterID
	}

	return &Client{
		session: session,
		auth:    NewAuthenticator(session, opts.Pacing),
		pacer:   newPacer(opts.Pacing),
		meterID: meterID,
		retries: opts.Retries,
	}, nil
}

// NewClientFromConfig creates a client from validated configuration
func NewClientFromConfig(cfg *config.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewClient(ClientOptions{
		BaseURL:      cfg.BaseURL,
		MeterBaseURL: cfg.MeterBaseURL,
		Timeout:      cfg.GetTimeout(),
		Pacing:       cfg.GetPacing(),
		MeterID:      cfg.GetMeterID(),
		Retries:      cfg.GetRetries(),
	})
}

// Session returns the client's session
func (c *Client) Session() *Session {
	return c.session
}

// Retries returns the configured retry count. The client itself never retries.
func (c *Client) Retries() int {
	return c.retries
}

// Login logs the session in and reports success
func (c *Client) Login(ctx context.Context, username, password string) bool {
	return c.auth.Login(ctx, Credentials{Username: username, Password: password})
}

// FetchMonth fetches and parses one month of readings for a meter. It
// returns nil when the month has no readings or the fetch failed; the
// reason is logged.
func (c *Client) FetchMonth(ctx context.Context, year, month, meterID int) *models.MonthReadings {
	ctx, span := tracer.Start(ctx, "client:FetchMonth")
	defer span.End()
	span.SetAttributes(
		attribute.Int("year", year),
		attribute.Int("month", month),
		attribute.Int("meter", meterID),
	)

	result, err := c.fetchMonth(ctx, year, month, meterID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		slog.InfoContext(ctx, "no meter data", "year", year, "month", month, "meter", meterID, "err", err)
		return nil
	}

	slog.DebugContext(ctx, "fetched meter data", "year", year, "month", month, "readings", len(result.Readings))
	return result
}

func (c *Client) fetchMonth(ctx context.Context, year, month, meterID int) (*models.MonthReadings, error) {
	if month < 1 || month > 12 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidMonth, month)
	}

	s := c.session
	target := s.dataURL(meterSubPath)
	query := map[string]string{
		"tag": meterViewTag,
		"yy":  strconv.Itoa(year),
		"mm":  strconv.Itoa(month),
		"eg":  strconv.Itoa(meterID),
	}
	headers := map[string]string{
		"Referer":    MeterViewURL(s.data.String(), year, 0, meterID),
		"Connection": "keep-alive",
	}

	res, err := s.get(ctx, s.insecure, target, query, headers)
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: res.StatusCode, URL: target}
	}

	readings := parser.ParseMeterTable(res.Body)
	if len(readings) == 0 {
		return nil, ErrNoReadings
	}

	return &models.MonthReadings{
		Year:     year,
		Month:    month,
		Readings: readings,
	}, nil
}

// FetchRange fetches every month from start to end inclusive, in order,
// keeping only months that returned readings. It pauses after each
// successful month.
func (c *Client) FetchRange(ctx context.Context, startYear, startMonth, endYear, endMonth int) []models.MonthReadings {
	results := []models.MonthReadings{}

	year, month := startYear, startMonth
	for year < endYear || (year == endYear && month <= endMonth) {
		if result := c.FetchMonth(ctx, year, month, c.meterID); result != nil {
			results = append(results, *result)
			if err := c.pacer.wait(ctx); err != nil {
				slog.WarnContext(ctx, "stopping month range", "err", err)
				return results
			}
		}

		month++
		if month > 12 {
			month = 1
			year++
		}
	}

	return results
}

// MeterViewURL returns the human-facing page for a meter's year (and, when
// month is non-zero, month)
func MeterViewURL(meterBaseURL string, year, month, meterID int) string {
	u := fmt.Sprintf("%s%s?tag=%s&eg=%d&yy=%d", meterBaseURL, meterViewPath, meterViewTag, meterID, year)
	if month > 0 {
		u += fmt.Sprintf("&mm=%d", month)
	}
	return u
}

// pacer spaces out requests to the portal
type pacer struct {
	interval time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

func newPacer(interval time.Duration) pacer {
	return pacer{interval: interval, sleep: sleepContext}
}

func (p pacer) wait(ctx context.Context) error {
	if p.interval <= 0 {
		return nil
	}
	return p.sleep(ctx, p.interval)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
