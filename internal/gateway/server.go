package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/IIAteeneaaII/ontester/internal/access"
	"github.com/IIAteeneaaII/ontester/internal/audit"
	"github.com/IIAteeneaaII/ontester/internal/events"
	"github.com/IIAteeneaaII/ontester/internal/login"
	"github.com/IIAteeneaaII/ontester/internal/observability"
	"github.com/IIAteeneaaII/ontester/internal/operator"
	"github.com/IIAteeneaaII/ontester/internal/ratelimit"
	"github.com/IIAteeneaaII/ontester/internal/xhr"
)

// Deps are the collaborators of the gateway. Client and Gate are required.
type Deps struct {
	Client  *xhr.Client
	Gate    *access.Gate
	Context operator.Context
	Hub     *Hub
	Audit   audit.Recorder
	Events  events.Publisher
	Limiter *ratelimit.RateLimiter
	Logger  *slog.Logger
	// CORSOrigins limits /api callers; empty allows any origin.
	CORSOrigins []string
}

// Server fronts one device: it gates page loads, proxies everything else
// and serves the login API.
type Server struct {
	client   *xhr.Client
	gate     *access.Gate
	oc       operator.Context
	hub      *Hub
	audit    audit.Recorder
	events   events.Publisher
	limiter  *ratelimit.RateLimiter
	logger   *slog.Logger
	origins  []string
	upstream *url.URL
	proxy    *httputil.ReverseProxy
	captchas *captchaStore
}

func NewServer(d Deps) (*Server, error) {
	if d.Client == nil || d.Gate == nil {
		return nil, errors.New("gateway: client and gate are required")
	}
	upstream, err := url.Parse(d.Client.BaseURL())
	if err != nil {
		return nil, err
	}
	s := &Server{
		client:   d.Client,
		gate:     d.Gate,
		oc:       d.Context,
		hub:      d.Hub,
		audit:    d.Audit,
		events:   d.Events,
		limiter:  d.Limiter,
		logger:   d.Logger,
		origins:  d.CORSOrigins,
		upstream: upstream,
		captchas: newCaptchaStore(),
	}
	if s.hub == nil {
		s.hub = NewHub()
	}
	if s.audit == nil {
		s.audit = audit.Nop{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.oc.Operator != "" {
		s.client.SetOperator(s.oc.Operator)
	}
	s.proxy = s.newProxy()
	return s, nil
}

// Context is the operator context the gate evaluates with.
func (s *Server) Context() operator.Context { return s.oc }

func (s *Server) Hub() *Hub { return s.hub }

// Handler builds the full router. promHandler may be nil.
func (s *Server) Handler(promHandler http.Handler, tracer trace.Tracer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if tracer != nil {
		r.Use(observability.MetricsAndTracingMiddleware(tracer))
	}
	r.Use(correlationID)

	if promHandler != nil {
		r.Handle("/metrics", promHandler)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/ws/session", s.hub)

	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   s.corsOrigins(),
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Correlation-ID"},
			ExposedHeaders:   []string{"X-Correlation-ID", "Trace-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		s.RegisterRoutes(r)
	})

	r.Get(operator.PathBadRequest, errorPage(http.StatusBadRequest, "Bad Request"))
	r.Get(operator.PathUnauthorized, errorPage(http.StatusUnauthorized, "Request Unauthorized"))

	r.With(s.gateMiddleware).Handle("/*", s.proxy)
	return r
}

func (s *Server) corsOrigins() []string {
	if len(s.origins) == 0 {
		return []string{"*"}
	}
	return s.origins
}

type correlationKey struct{}

func correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Correlation-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Correlation-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), correlationKey{}, id)))
	})
}

// CorrelationID returns the id attached by the middleware, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func errorPage(status int, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte("<!DOCTYPE html><html><head><title>" + title + "</title></head><body><h1>" + title + "</h1></body></html>"))
	}
}

// deviceSession wraps the request context with the browser's device
// cookies.
func deviceSession(r *http.Request) (context.Context, *xhr.Session) {
	sess := xhr.NewSession(r.Cookies())
	return xhr.WithSession(r.Context(), sess), sess
}

// relayCookies passes cookies the device set back to the browser.
func relayCookies(w http.ResponseWriter, sess *xhr.Session) {
	for _, c := range sess.SetCookies() {
		http.SetCookie(w, c)
	}
}

// newController gives each API call its own controller bound to the
// browser's session.
func (s *Server) newController(opts ...login.Option) *login.Controller {
	return login.NewController(s.client, append([]login.Option{login.WithLogger(s.logger)}, opts...)...)
}
