package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/jgoulah/remotemeter/internal/config"
)

const defaultCaptureTimeout = 2 * time.Minute

// CaptureOptions configures a browser capture of one page
type CaptureOptions struct {
	URL     string
	Cookies []config.Cookie
	Visible bool
	Timeout time.Duration
}

// Capture is a page as Chrome rendered it, with the cookies the browser
// held for that page afterwards
type Capture struct {
	HTML    string
	Cookies []config.Cookie
}

// CaptureMonth renders the meter view page for a month in Chrome using the
// session's data host cookies. The session must already be logged in.
func (c *Client) CaptureMonth(ctx context.Context, year, month, meterID int, visible bool) (*Capture, error) {
	ctx, span := tracer.Start(ctx, "client:CaptureMonth")
	defer span.End()

	return CapturePage(ctx, CaptureOptions{
		URL:     MeterViewURL(c.session.data.String(), year, month, meterID),
		Cookies: c.session.ExportCookies(),
		Visible: visible,
	})
}

// CapturePage loads a page in Chrome with the given cookies and returns its
// rendered HTML. Certificate errors are ignored, like the data host client.
func CapturePage(ctx context.Context, opts CaptureOptions) (*Capture, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultCaptureTimeout
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !opts.Visible),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.UserAgent(userAgent),
	)

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer cancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, timeout)
	defer cancel()

	if err := SetCookies(browserCtx, opts.Cookies); err != nil {
		return nil, err
	}

	var html string
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(opts.URL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("capturing %s: %w", opts.URL, err)
	}

	cookies, err := ExtractCookies(browserCtx, opts.URL)
	if err != nil {
		return nil, err
	}

	return &Capture{HTML: html, Cookies: cookies}, nil
}

// ExtractCookies returns the cookies the browser would send to pageURL
func ExtractCookies(ctx context.Context, pageURL string) ([]config.Cookie, error) {
	var cookies []*network.Cookie

	if err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithUrls([]string{pageURL}).Do(ctx)
			return err
		}),
	); err != nil {
		return nil, fmt.Errorf("reading browser cookies for %s: %w", pageURL, err)
	}

	return fromNetworkCookies(cookies), nil
}

func fromNetworkCookies(cookies []*network.Cookie) []config.Cookie {
	result := make([]config.Cookie, 0, len(cookies))
	for _, c := range cookies {
		cookie := config.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		// Session cookies report -1
		if !c.Session && c.Expires > 0 {
			cookie.Expires = c.Expires
		}
		result = append(result, cookie)
	}
	return result
}

// DroppedCookies returns the names of sent cookies the browser no longer
// holds, or holds with a different value. A replaced PHPSESSID means the
// portal started a new session and the capture shows a logged-out page.
func DroppedCookies(sent, held []config.Cookie) []string {
	values := make(map[string]string, len(held))
	for _, c := range held {
		values[c.Name] = c.Value
	}

	var dropped []string
	for _, c := range sent {
		if v, ok := values[c.Name]; !ok || v != c.Value {
			dropped = append(dropped, c.Name)
		}
	}
	return dropped
}

// SetCookies sets cookies in the browser context
func SetCookies(ctx context.Context, cookies []config.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}

	params := cookieParams(cookies)
	if err := chromedp.Run(ctx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			return network.SetCookies(params).Do(ctx)
		}),
	); err != nil {
		return fmt.Errorf("setting %d cookies: %w", len(params), err)
	}

	return nil
}

func cookieParams(cookies []config.Cookie) []*network.CookieParam {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			p.Expires = &expires
		}
		params = append(params, p)
	}
	return params
}
