package gateway

import (
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/IIAteeneaaII/ontester/internal/login"
)

const (
	captchaCookie = "cpegate_captcha"
	captchaTTL    = 10 * time.Minute
)

type captchaEntry struct {
	code    string
	expires time.Time
}

// captchaStore remembers the code shown on a branded login page until the
// same browser submits the form.
type captchaStore struct {
	mu    sync.Mutex
	codes map[string]captchaEntry
	now   func() time.Time
}

func newCaptchaStore() *captchaStore {
	return &captchaStore{codes: map[string]captchaEntry{}, now: time.Now}
}

func newCode() string { return fmt.Sprintf("%04d", rand.IntN(10000)) }

// issuer is a captcha source that stores every code it hands out and gives
// the browser a cookie pointing at it.
func (c *captchaStore) issuer(set func(*http.Cookie)) login.Option {
	return login.WithCaptchaSource(func() string {
		id, code := uuid.NewString(), newCode()
		c.mu.Lock()
		c.gc()
		c.codes[id] = captchaEntry{code: code, expires: c.now().Add(captchaTTL)}
		c.mu.Unlock()
		set(&http.Cookie{Name: captchaCookie, Value: id, Path: "/", HttpOnly: true, SameSite: http.SameSiteStrictMode, MaxAge: int(captchaTTL.Seconds())})
		return code
	})
}

// replay is a captcha source that returns the code previously issued to
// this browser and forgets it, so each code is checked once. Without one no
// typed code can match.
func (c *captchaStore) replay(r *http.Request) login.Option {
	code := uuid.NewString()
	if ck, err := r.Cookie(captchaCookie); err == nil {
		c.mu.Lock()
		if e, ok := c.codes[ck.Value]; ok {
			delete(c.codes, ck.Value)
			if c.now().Before(e.expires) {
				code = e.code
			}
		}
		c.mu.Unlock()
	}
	return login.WithCaptchaSource(func() string { return code })
}

// gc drops expired codes; callers hold mu.
func (c *captchaStore) gc() {
	now := c.now()
	for id, e := range c.codes {
		if !now.Before(e.expires) {
			delete(c.codes, id)
		}
	}
}
