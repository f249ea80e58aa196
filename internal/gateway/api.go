package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/IIAteeneaaII/ontester/internal/access"
	"github.com/IIAteeneaaII/ontester/internal/apperr"
	"github.com/IIAteeneaaII/ontester/internal/audit"
	"github.com/IIAteeneaaII/ontester/internal/events"
	"github.com/IIAteeneaaII/ontester/internal/login"
	"github.com/IIAteeneaaII/ontester/internal/observability"
	"github.com/IIAteeneaaII/ontester/internal/ratelimit"
)

func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/branding", s.handleBranding)
	r.With(s.limiter.Middleware(ratelimit.KeyByDevice(s.upstream.Host))).Post("/login", s.handleLogin)
	r.Post("/lang", s.handleLang)
	r.Get("/access/table", s.handleAccessTable)
	r.Get("/audit", s.handleAudit)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) handleBranding(w http.ResponseWriter, r *http.Request) {
	ctx, sess := deviceSession(r)
	ctl := s.newController(s.captchas.issuer(func(c *http.Cookie) { http.SetCookie(w, c) }))
	b, err := ctl.LoadBranding(ctx)
	relayCookies(w, sess)
	if err != nil {
		apperr.Write(w, apperr.BadGateway("device identity unavailable", err))
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var cr login.Credentials
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&cr); err != nil {
		apperr.Write(w, apperr.BadRequest("invalid login body"))
		return
	}
	ctx, sess := deviceSession(r)
	ctl := s.newController(s.captchas.replay(r))
	out, err := ctl.Submit(ctx, cr)
	relayCookies(w, sess)

	var ve *login.ValidationError
	switch {
	case errors.As(err, &ve):
		apperr.Write(w, apperr.BadRequest(ve.Key).WithField("key", ve.Key))
		return
	case err != nil:
		s.logger.Warn("login submit failed", "error", err)
		apperr.Write(w, apperr.BadGateway("device login failed", err))
		return
	}

	op := s.client.Operator()
	result := strconv.Itoa(int(out.Result))
	observability.LoginOutcomes.WithLabelValues(op, result).Inc()
	s.recordLogin(r, op, cr.Username, out)
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) recordLogin(r *http.Request, op, username string, out login.Outcome) {
	ctx := context.WithoutCancel(r.Context())
	detail := out.Message
	if out.Redirect != "" {
		detail = out.Redirect
	}
	if err := s.audit.Record(ctx, &audit.Record{
		Kind:       audit.KindLogin,
		Operator:   op,
		Outcome:    strconv.Itoa(int(out.Result)),
		Detail:     username + " " + detail,
		RemoteAddr: r.RemoteAddr,
		RequestID:  middleware.GetReqID(r.Context()),
	}); err != nil {
		s.logger.Warn("audit write failed", "error", err)
	}
	data := map[string]any{"result": int(out.Result), "redirect": out.Redirect, "message": out.Message}
	go func() {
		if err := s.events.Publish(ctx, events.EventLoginOutcome, data); err != nil {
			s.logger.Warn("event publish failed", "event", events.EventLoginOutcome, "error", err)
		}
	}()
	s.hub.Broadcast(Event{Type: EventLogin, Operator: op, OK: out.Result == login.ResultSuccess, Detail: data})
}

type langRequest struct {
	Lang string `json:"lang"`
}

type langResponse struct {
	Reload   bool   `json:"reload"`
	TermsURL string `json:"terms_url"`
}

func (s *Server) handleLang(w http.ResponseWriter, r *http.Request) {
	var req langRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1024)).Decode(&req); err != nil {
		apperr.Write(w, apperr.BadRequest("invalid language body"))
		return
	}
	ctx, sess := deviceSession(r)
	reload, err := s.newController().ChangeLanguage(ctx, req.Lang)
	relayCookies(w, sess)
	switch {
	case errors.Is(err, login.ErrUnknownLanguage):
		apperr.Write(w, apperr.BadRequest("unknown language"))
		return
	case err != nil:
		apperr.Write(w, apperr.BadGateway("language change failed", err))
		return
	}
	writeJSON(w, http.StatusOK, langResponse{Reload: reload, TermsURL: login.TermsURL(req.Lang, s.oc.Model)})
}

type tableResponse struct {
	Operator string        `json:"operator"`
	Dir      string        `json:"dir"`
	Page     string        `json:"page,omitempty"`
	Level    *access.Level `json:"level,omitempty"`
	Entries  access.Table  `json:"entries"`
}

// handleAccessTable shows the effective table for a page path, as the gate
// would build it.
func (s *Server) handleAccessTable(w http.ResponseWriter, r *http.Request) {
	page := r.URL.Query().Get("page")
	if page == "" {
		apperr.Write(w, apperr.BadRequest("query parameter 'page' is required"))
		return
	}
	dir, file := access.SplitPage(page)
	t, err := s.gate.Catalog().Build(s.oc, dir)
	if err != nil {
		apperr.Write(w, apperr.Internal("build table failed", err))
		return
	}
	resp := tableResponse{Operator: s.oc.Operator, Dir: dir, Page: file, Entries: t}
	if lvl, ok := t.Lookup(file); ok {
		resp.Level = &lvl
	}
	writeJSON(w, http.StatusOK, resp)
}

type auditLister interface {
	List(ctx context.Context, kind audit.Kind, since time.Time, limit int) ([]audit.Record, error)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	l, ok := s.audit.(auditLister)
	if !ok {
		apperr.Write(w, apperr.New(http.StatusNotFound, "audit log disabled", nil))
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	var since time.Time
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			apperr.Write(w, apperr.BadRequest("invalid since parameter"))
			return
		}
		since = t
	}
	recs, err := l.List(r.Context(), audit.Kind(q.Get("kind")), since, limit)
	if err != nil {
		apperr.Write(w, apperr.Internal("audit query failed", err))
		return
	}
	writeJSON(w, http.StatusOK, recs)
}
