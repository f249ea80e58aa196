package gateway

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/IIAteeneaaII/ontester/internal/access"
	"github.com/IIAteeneaaII/ontester/internal/apperr"
	"github.com/IIAteeneaaII/ontester/internal/audit"
	"github.com/IIAteeneaaII/ontester/internal/events"
	"github.com/IIAteeneaaII/ontester/internal/observability"
	"github.com/IIAteeneaaII/ontester/internal/operator"
	"github.com/IIAteeneaaII/ontester/internal/xhr"
)

// gated reports whether a request is a page load the gate decides on.
// Scripts, images and the CGI calls the pages make pass straight through.
// Anything that names an .htm(l) document is gated, suffixes included, so
// a page can not slip past by decoration.
func gated(r *http.Request) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return false
	}
	p := r.URL.Path
	return strings.HasSuffix(p, "/") || strings.Contains(path.Base(p), ".htm")
}

// canonicalPath cleans p the way the gate reads it: no empty, "." or ".."
// elements, and a trailing slash only on directories the request asked for
// with one. A document never keeps a trailing slash.
func canonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	c := path.Clean(p)
	if strings.HasSuffix(p, "/") && c != "/" && !strings.Contains(path.Base(c), ".htm") {
		c += "/"
	}
	return c
}

func (s *Server) gateMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the device sees exactly the path the gate checked
		r.URL.RawPath = ""
		if c := canonicalPath(r.URL.Path); c != r.URL.Path {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				u := *r.URL
				u.Path = c
				http.Redirect(w, r, u.RequestURI(), http.StatusMovedPermanently)
				return
			}
			r.URL.Path = c
		}
		if !gated(r) {
			next.ServeHTTP(w, r)
			return
		}
		ctx, sess := deviceSession(r)

		oc := s.oc
		if access.NeedsLoginState(oc) {
			oc = oc.WithLogin(s.loginState(ctx))
		}
		d, err := s.gate.Check(ctx, oc, r.URL.Path, s.client)
		relayCookies(w, sess)
		if err != nil {
			s.logger.Error("gate check failed", "operator", oc.Operator, "path", r.URL.Path, "error", err)
			apperr.Write(w, apperr.Internal("permission data unavailable", err))
			return
		}
		observability.GateDecisions.WithLabelValues(oc.Operator, d.Verdict.String()).Inc()
		if d.Verdict == access.Allow {
			next.ServeHTTP(w, r)
			return
		}

		s.logger.Info("page denied", "operator", oc.Operator, "page", d.Page, "decision", d.Verdict.String(), "reason", d.Reason)
		s.recordDenial(r, oc, d)
		http.Redirect(w, r, resolveTarget(r.URL, d.Target), http.StatusFound)
	})
}

// resolveTarget turns the decision target into a path the browser can
// follow. Login pages are relative to the requested page.
func resolveTarget(page *url.URL, target string) string {
	if strings.HasPrefix(target, "/") {
		return target
	}
	base := &url.URL{Path: page.Path}
	if base.Path == "" {
		base.Path = "/"
	}
	resolved := base.ResolveReference(&url.URL{Path: target})
	return path.Clean(resolved.Path)
}

// loginState reads the role of the logged in account and the pending
// first-login flags. The gate only needs it for the forced password change
// rule. Unreadable answers leave the state empty, which never forces it.
func (s *Server) loginState(ctx context.Context) operator.LoginState {
	var st operator.LoginState
	u, err := s.client.Get(ctx, "get_login_user", nil)
	if err != nil || u == nil {
		if err != nil {
			s.logger.Warn("get_login_user failed", "error", err)
		}
		return st
	}
	switch u.String("login_user") {
	case "1":
		st.Role = operator.RoleAdmin
	case "0":
		st.Role = operator.RoleUser
	}
	cfg, err := s.client.Get(ctx, "get_web_config", nil)
	if err != nil {
		s.logger.Warn("get_web_config failed", "error", err)
		return st
	}
	st.FirstLoginAdmin = cfg.String("FirstTimeLoginAdmin") == "1"
	st.FirstLoginUser = cfg.String("FirstTimeLoginUser") == "1"
	return st
}

func (s *Server) recordDenial(r *http.Request, oc operator.Context, d access.Decision) {
	ctx := context.WithoutCancel(r.Context())
	rec := &audit.Record{
		Kind:       audit.KindGate,
		Operator:   oc.Operator,
		Page:       d.Page,
		Outcome:    d.Verdict.String(),
		Detail:     d.Reason,
		RemoteAddr: r.RemoteAddr,
		RequestID:  middleware.GetReqID(r.Context()),
	}
	if err := s.audit.Record(ctx, rec); err != nil {
		s.logger.Warn("audit write failed", "error", err)
	}
	data := map[string]any{"page": d.Page, "verdict": d.Verdict.String(), "reason": d.Reason, "target": d.Target}
	go func() {
		if err := s.events.Publish(ctx, events.EventGateDenied, data); err != nil {
			s.logger.Warn("event publish failed", "event", events.EventGateDenied, "error", err)
		}
	}()
	s.hub.Broadcast(Event{Type: EventGateDenied, Operator: oc.Operator, Page: d.Page, Detail: map[string]any{"verdict": d.Verdict.String()}})
}

// SessionExpired is the xhr client hook: it tells open tabs, the audit log
// and the event stream that the device dropped the session.
func (s *Server) SessionExpired(se *xhr.SessionExpiredError) {
	observability.SessionExpirations.Inc()
	ctx := context.Background()
	if err := s.audit.Record(ctx, &audit.Record{
		Kind:     audit.KindSession,
		Operator: s.client.Operator(),
		Outcome:  "expired",
		Detail:   se.Method,
	}); err != nil {
		s.logger.Warn("audit write failed", "error", err)
	}
	go func() {
		if err := s.events.Publish(ctx, events.EventSessionExpired, map[string]any{"method": se.Method, "target": se.Target}); err != nil {
			s.logger.Warn("event publish failed", "event", events.EventSessionExpired, "error", err)
		}
	}()
	s.hub.Broadcast(Event{Type: EventSessionExpired, Operator: s.client.Operator(), Detail: map[string]any{"target": se.Target, "alert": se.Alert}})
}
