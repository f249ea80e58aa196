// Package browser logs in to the device through a real headless browser,
// for firmware whose login page only works with its own scripts.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

var ErrStillOnLoginPage = errors.New("browser: still on the login page")

type Options struct {
	// LoginURL is the page holding the login form.
	LoginURL string
	Username string
	Password string
	ExecPath string
	Headless bool
	Timeout  time.Duration
}

type Result struct {
	FinalURL string
	Cookies  []*http.Cookie
}

// loginPages are the login documents of every operator variant.
var loginPages = map[string]bool{
	"index.html":       true,
	"login_inter.html": true,
	"login_pldt.html":  true,
}

func isLoginLocation(loc string) bool {
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	p := strings.TrimSuffix(u.Path, "/")
	if p == "" {
		return true
	}
	return loginPages[path.Base(p)]
}

func allocatorOptions(o Options) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", o.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	if o.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(o.ExecPath))
	}
	return opts
}

// Login fills #user_name and #loginpp, clicks #login_btn and waits until the
// browser has left the login page. The device session cookies are returned
// so a gateway or CLI can continue with plain HTTP.
func Login(ctx context.Context, o Options) (*Result, error) {
	if o.LoginURL == "" {
		return nil, errors.New("browser: login url is required")
	}
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocatorOptions(o)...)
	defer cancelAlloc()
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)
	defer cancelTask()
	taskCtx, cancel := context.WithTimeout(taskCtx, o.Timeout)
	defer cancel()

	var final string
	var cookies []*network.Cookie
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(o.LoginURL),
		chromedp.WaitVisible("#user_name", chromedp.ByQuery),
		chromedp.SendKeys("#user_name", o.Username, chromedp.ByQuery),
		chromedp.SendKeys("#loginpp", o.Password, chromedp.ByQuery),
		chromedp.Click("#login_btn", chromedp.ByQuery),
		waitLeaveLogin(&final),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{final}).Do(ctx)
			return err
		}),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && final != "" && isLoginLocation(final) {
			return nil, fmt.Errorf("%w after %s", ErrStillOnLoginPage, o.Timeout)
		}
		return nil, fmt.Errorf("browser login: %w", err)
	}
	slog.Info("browser login finished", "url", final, "cookies", len(cookies))
	return &Result{FinalURL: final, Cookies: toHTTPCookies(cookies)}, nil
}

func waitLeaveLogin(final *string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()
		for {
			if err := chromedp.Location(final).Do(ctx); err != nil {
				return err
			}
			if !isLoginLocation(*final) {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
}

func toHTTPCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}
