package xhr

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"

	"github.com/IIAteeneaaII/ontester/internal/operator"
)

const maxBody = 1 << 20

// Client talks to the CPE CGI multiplexer.
type Client struct {
	base       *url.URL
	httpClient *http.Client
	logger     *slog.Logger
	tracer     trace.Tracer
	user, pass string
	onExpired  func(*SessionExpiredError)
	nonce      func() string

	operator atomic.Value // string
	lastOp   atomic.Int64
}

type Option func(*Client)

// WithHTTPClient replaces the default client, which keeps its own cookie
// jar. Servers that forward browser cookies should pass a client without a
// jar so sessions of different browsers never mix.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithBasicAuth adds HTTP basic credentials to every request. Some
// firmware builds put the CGI behind it.
func WithBasicAuth(user, pass string) Option {
	return func(c *Client) { c.user, c.pass = user, pass }
}

// WithOperator sets the operator used to pick the login page on expiry.
func WithOperator(op string) Option {
	return func(c *Client) { c.operator.Store(op) }
}

// OnSessionExpired registers a hook run whenever a response reports an
// invalid session.
func OnSessionExpired(fn func(*SessionExpiredError)) Option {
	return func(c *Client) { c.onExpired = fn }
}

// New returns a client for the device at baseURL, e.g. http://192.168.1.1.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse device url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("device url %q needs scheme and host", baseURL)
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	c := &Client{
		base:       u,
		httpClient: &http.Client{Timeout: 10 * time.Second, Jar: jar},
		logger:     slog.Default(),
		tracer:     otel.Tracer("github.com/IIAteeneaaII/ontester/internal/xhr"),
		nonce: func() string {
			return strconv.FormatFloat(rand.Float64(), 'f', -1, 64)
		},
	}
	c.operator.Store("")
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// BaseURL returns the device address.
func (c *Client) BaseURL() string { return c.base.String() }

// SetOperator updates the operator once it has been discovered.
func (c *Client) SetOperator(op string) { c.operator.Store(op) }

func (c *Client) Operator() string { return c.operator.Load().(string) }

// LastOperation is the time of the last POST whose answer carried a
// session_valid field. Zero if there was none.
func (c *Client) LastOperation() time.Time {
	n := c.lastOp.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Get calls an ajax method with a GET request.
func (c *Client) Get(ctx context.Context, method string, params url.Values) (Response, error) {
	ctx, span := c.tracer.Start(ctx, "xhr.get", trace.WithAttributes(attribute.String("ajax.method", method)))
	defer span.End()

	u := c.base.JoinPath("cgi-bin", "ajax")
	u.RawQuery = encodeParams(method, params, c.nonce())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, body, err := c.roundTrip(req, method)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return c.finish(method, resp, body, false)
}

// Post refreshes the session token and then calls an ajax method with a
// form-encoded POST. Without a token nothing is sent.
func (c *Client) Post(ctx context.Context, method string, params url.Values) (Response, error) {
	ctx, span := c.tracer.Start(ctx, "xhr.post", trace.WithAttributes(attribute.String("ajax.method", method)))
	defer span.End()

	tok, err := c.Get(ctx, "get_refresh_sessionid", nil)
	if err != nil {
		return nil, fmt.Errorf("refresh session id: %w", err)
	}
	if !tok.Has("sessionid") {
		span.SetStatus(codes.Error, ErrNoSessionID.Error())
		return nil, ErrNoSessionID
	}

	form := url.Values{}
	for k, v := range params {
		form[k] = append([]string(nil), v...)
	}
	form.Set("sessionid", tok.String("sessionid"))

	u := c.base.JoinPath("cgi-bin", "ajax")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(),
		strings.NewReader(encodeParams(method, form, c.nonce())))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, body, err := c.roundTrip(req, method)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return c.finish(method, resp, body, true)
}

// CheckSession asks is_logined.cgi whether the session is logged in and at
// which role level. A level that does not parse is reported as -1.
func (c *Client) CheckSession(ctx context.Context) (bool, int, error) {
	ctx, span := c.tracer.Start(ctx, "xhr.is_logined")
	defer span.End()

	u := c.base.JoinPath("cgi-bin", "is_logined.cgi")
	u.RawQuery = "_=" + c.nonce()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), nil)
	if err != nil {
		return false, 0, err
	}
	_, body, err := c.roundTrip(req, "is_logined")
	if err != nil {
		span.RecordError(err)
		return false, 0, err
	}
	var r Response
	if err := json.Unmarshal(body, &r); err != nil {
		return false, 0, fmt.Errorf("decode is_logined: %w", err)
	}
	if r.Has("result") && looseZero(r["result"]) {
		return false, 0, nil
	}
	level, ok := r.Int("user")
	if !ok {
		level = -1
	}
	span.SetAttributes(attribute.Int("session.level", level))
	return true, level, nil
}

// Heartbeat keeps the device session alive.
func (c *Client) Heartbeat(ctx context.Context) error {
	_, err := c.Get(ctx, "get_heartbeat", nil)
	return err
}

func (c *Client) roundTrip(req *http.Request, method string) (*http.Response, []byte, error) {
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}
	sess := sessionFrom(req.Context())
	if sess != nil {
		for _, ck := range sess.cookies() {
			req.AddCookie(ck)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("xhr %s: %w", method, err)
	}
	defer resp.Body.Close()

	if sess != nil {
		sess.record(resp.Cookies())
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, nil, fmt.Errorf("xhr %s: read body: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, &HTTPStatusError{Method: method, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, body, nil
}

func (c *Client) finish(method string, resp *http.Response, body []byte, post bool) (Response, error) {
	r := Decode(resp.Header.Get("Content-Type"), body)
	if r == nil {
		c.logger.Debug("undecodable device response", "method", method, "content_type", resp.Header.Get("Content-Type"))
		return nil, nil
	}
	if !r.Has("session_valid") {
		return r, nil
	}
	if post {
		c.lastOp.Store(time.Now().UnixNano())
	}
	if looseZero(r["session_valid"]) {
		target, alert := operator.SessionExpired(c.Operator())
		se := &SessionExpiredError{Method: method, Target: target, Alert: alert}
		c.logger.Info("device session expired", "method", method, "operator", c.Operator())
		if c.onExpired != nil {
			c.onExpired(se)
		}
		return r, se
	}
	return r, nil
}
