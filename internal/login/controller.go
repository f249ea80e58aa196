package login

import (
	"context"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/IIAteeneaaII/ontester/internal/xhr"
)

// Transport is the device side of the login page.
type Transport interface {
	xhr.Getter
	Post(ctx context.Context, method string, params url.Values) (xhr.Response, error)
}

// Controller drives one login page: it brands the form, submits the
// credentials and turns the device answer into the next step.
type Controller struct {
	t       Transport
	cipher  Cipher
	logger  *slog.Logger
	newCode func() string

	mu        sync.Mutex
	branding  *Branding
	challenge string

	submitting atomic.Bool
}

type Option func(*Controller)

// WithCipher replaces the firmware credential cipher.
func WithCipher(c Cipher) Option {
	return func(ctl *Controller) { ctl.cipher = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) { ctl.logger = l }
}

// WithCaptchaSource replaces the captcha generator.
func WithCaptchaSource(fn func() string) Option {
	return func(ctl *Controller) { ctl.newCode = fn }
}

func NewController(t Transport, opts ...Option) *Controller {
	c := &Controller{
		t:       t,
		cipher:  FiberhomeCipher{},
		logger:  slog.Default(),
		newCode: randomCode,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Challenge returns the captcha the user has to type, empty when the
// operator shows none.
func (c *Controller) Challenge() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.challenge
}

func (c *Controller) currentBranding(ctx context.Context) (*Branding, error) {
	c.mu.Lock()
	b := c.branding
	c.mu.Unlock()
	if b != nil {
		return b, nil
	}
	return c.LoadBranding(ctx)
}
