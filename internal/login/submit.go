package login

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/IIAteeneaaII/ontester/internal/operator"
)

// ErrSubmitInProgress is returned while another submission of the same
// form is still running.
var ErrSubmitInProgress = errors.New("login: submit already in progress")

// Credentials is what the user typed.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Captcha  string `json:"captcha,omitempty"`
}

// ValidationError rejects a form before anything is sent. Key is the i18n
// message to show.
type ValidationError struct {
	Key string
}

func (e *ValidationError) Error() string {
	return "login: invalid form: " + e.Key
}

// Validate checks the form the way the page does before submitting.
func (c *Controller) Validate(b *Branding, cr Credentials) error {
	if cr.Username == "" {
		return &ValidationError{Key: "no_username_alert"}
	}
	if cr.Password == "" {
		return &ValidationError{Key: "no_password_alert"}
	}
	if b.Captcha && cr.Captcha != c.Challenge() {
		return &ValidationError{Key: "validate_code_alert"}
	}
	if b.Operator == operator.BZ_CLARO && b.AdminDisabled && b.SuperUser != "" && cr.Username == b.SuperUser {
		return &ValidationError{Key: "name_pwd_error"}
	}
	return nil
}

// Submit validates, encrypts and posts the credentials and maps the answer
// to an outcome. Concurrent calls on one controller are rejected.
func (c *Controller) Submit(ctx context.Context, cr Credentials) (Outcome, error) {
	if !c.submitting.CompareAndSwap(false, true) {
		return Outcome{}, ErrSubmitInProgress
	}
	defer c.submitting.Store(false)

	b, err := c.currentBranding(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if err := c.Validate(b, cr); err != nil {
		return Outcome{}, err
	}

	form, err := c.loginForm(b.Operator, cr)
	if err != nil {
		return Outcome{}, err
	}
	resp, err := c.t.Post(ctx, "do_login", form)
	if err != nil && resp == nil {
		return Outcome{}, fmt.Errorf("do_login: %w", err)
	}
	out, herr := c.HandleResult(ctx, resp)
	if herr != nil {
		return out, herr
	}
	c.logger.Info("login answered", "operator", b.Operator, "result", int(out.Result), "redirect", out.Redirect)
	return out, nil
}

func (c *Controller) loginForm(op string, cr Credentials) (url.Values, error) {
	form := url.Values{}
	switch op {
	case operator.BZ_ALGAR, operator.BZ_VTAL:
		enc, err := c.cipher.Encrypt(cr.Username)
		if err != nil {
			return nil, fmt.Errorf("encrypt username: %w", err)
		}
		form.Set("login_name", enc)
	case operator.BZ_INTELBRAS:
		enc, err := c.cipher.Encrypt(cr.Username)
		if err != nil {
			return nil, fmt.Errorf("encrypt username: %w", err)
		}
		form.Set("xt_yhm", enc)
	default:
		form.Set("username", cr.Username)
	}
	pd, err := c.cipher.Encrypt(cr.Password)
	if err != nil {
		return nil, fmt.Errorf("encrypt password: %w", err)
	}
	form.Set("loginpd", pd)
	form.Set("port", "0")
	return form, nil
}
