package xhr

import (
	"context"
	"net/http"
	"sync"
)

// Session carries one browser's device cookies through a request context.
// Cookies the device sets are merged in and kept for the caller to relay.
type Session struct {
	mu      sync.Mutex
	jar     map[string]*http.Cookie
	updated []*http.Cookie
}

type sessionKey struct{}

// NewSession seeds a session with the cookies the browser sent.
func NewSession(cookies []*http.Cookie) *Session {
	s := &Session{jar: make(map[string]*http.Cookie, len(cookies))}
	for _, c := range cookies {
		s.jar[c.Name] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
	return s
}

// WithSession attaches s to ctx. Every request made with the returned
// context sends and updates the session cookies.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFrom(ctx context.Context) *Session {
	s, _ := ctx.Value(sessionKey{}).(*Session)
	return s
}

// SetCookies returns the cookies the device set during the session.
func (s *Session) SetCookies() []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*http.Cookie(nil), s.updated...)
}

func (s *Session) cookies() []*http.Cookie {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*http.Cookie, 0, len(s.jar))
	for _, c := range s.jar {
		out = append(out, c)
	}
	return out
}

func (s *Session) record(set []*http.Cookie) {
	if len(set) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range set {
		s.updated = append(s.updated, c)
		if c.MaxAge < 0 {
			delete(s.jar, c.Name)
			continue
		}
		s.jar[c.Name] = &http.Cookie{Name: c.Name, Value: c.Value}
	}
}
