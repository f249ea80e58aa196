package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/IIAteeneaaII/ontester/internal/access"
	"github.com/IIAteeneaaII/ontester/internal/audit"
	"github.com/IIAteeneaaII/ontester/internal/config"
	"github.com/IIAteeneaaII/ontester/internal/events"
	"github.com/IIAteeneaaII/ontester/internal/gateway"
	"github.com/IIAteeneaaII/ontester/internal/observability"
	"github.com/IIAteeneaaII/ontester/internal/ratelimit"
	"github.com/IIAteeneaaII/ontester/internal/xhr"
)

func main() {
	flags := pflag.NewFlagSet("cpegate", pflag.ExitOnError)
	cfgPath := flags.StringP("config", "c", "config/gateway.yaml", "path to the gateway config file")
	flags.String("listen", "", "listen address")
	flags.String("base-url", "", "device address")
	flags.String("operator", "", "operator code, read from the device when empty")
	flags.String("area-code", "", "operator area code")
	flags.String("model", "", "device model, read from the device when empty")
	flags.String("tables-dir", "", "directory overriding the built-in permission tables")
	flags.String("failure-policy", "", "open or closed when the session check fails")
	_ = flags.Parse(os.Args[1:])

	level := new(slog.LevelVar)
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if os.Getenv("LOG_FORMAT") == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	if _, err := os.Stat(*cfgPath); err != nil && !flags.Changed("config") {
		*cfgPath = ""
	}
	cfg, err := config.Load(*cfgPath, flags)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		slog.Warn("unknown log level, using info", "level", cfg.LogLevel)
	}
	slog.Info("config loaded", "listen", cfg.ListenAddr, "device", cfg.Device.BaseURL, "operator", cfg.Operator.Operator)

	shutdown, promHandler, tracer := observability.SetupObservability("cpegate")
	defer shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *gateway.Server
	client, err := xhr.New(cfg.Device.BaseURL,
		xhr.WithHTTPClient(&http.Client{Timeout: cfg.Device.Timeout}),
		xhr.WithLogger(logger),
		xhr.WithTracer(tracer),
		xhr.WithBasicAuth(cfg.Device.Username, cfg.Device.Password),
		xhr.OnSessionExpired(func(se *xhr.SessionExpiredError) {
			if srv != nil {
				srv.SessionExpired(se)
			}
		}),
	)
	if err != nil {
		slog.Error("invalid device address", "error", err)
		os.Exit(1)
	}

	oc, err := gateway.ResolveContext(ctx, client, cfg.Operator)
	if err != nil {
		slog.Warn("device identity unavailable, using configured context", "error", err)
	}
	slog.Info("operator context", "operator", oc.Operator, "area", oc.AreaCode, "model", oc.Model)

	catalog, err := access.LoadCatalog(cfg.Access.TablesDir)
	if err != nil {
		slog.Error("failed to load permission tables", "error", err)
		os.Exit(1)
	}
	gate := access.NewGate(catalog, access.WithFailurePolicy(cfg.Policy()), access.WithLogger(logger))

	rec, closeAudit := setupAudit(cfg)
	defer closeAudit()

	publisher := setupEvents(cfg)
	defer publisher.Close()

	limiter, closeRedis := setupRateLimiter(ctx, cfg)
	defer closeRedis()

	srv, err = gateway.NewServer(gateway.Deps{
		Client:      client,
		Gate:        gate,
		Context:     oc,
		Hub:         gateway.NewHub(cfg.CORSOrigins...),
		Audit:       rec,
		Events:      publisher,
		Limiter:     limiter,
		Logger:      logger,
		CORSOrigins: cfg.CORSOrigins,
	})
	if err != nil {
		slog.Error("failed to build gateway", "error", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(promHandler, tracer),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("cpegate started", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", "error", err)
			stop()
		}
	}()

	srv.StartHook(ctx)
	poller := xhr.NewPoller(client)
	if cfg.Heartbeat.Enabled {
		srv.StartHeartbeat(ctx, poller, cfg.Heartbeat.Interval)
	}

	<-ctx.Done()
	slog.Info("shutdown signal received")
	poller.Halt()
	poller.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	slog.Info("server shut down gracefully")
}

func setupAudit(cfg *config.Config) (audit.Recorder, func()) {
	if cfg.Audit.DSN == "" {
		slog.Info("audit log disabled")
		return audit.Nop{}, func() {}
	}
	db, err := audit.Open(cfg.Audit.Driver, cfg.Audit.DSN)
	if err != nil {
		slog.Error("audit db init failed", "error", err)
		os.Exit(1)
	}
	repo, err := audit.New(db)
	if err != nil {
		slog.Error("audit migrate failed", "error", err)
		os.Exit(1)
	}
	ret, err := audit.NewRetention(repo, cfg.Audit.PurgeSchedule, cfg.Audit.Retention, slog.Default())
	if err != nil {
		slog.Error("audit retention init failed", "error", err)
		os.Exit(1)
	}
	ret.Start()
	return repo, func() {
		ret.Stop()
		if err := repo.Close(); err != nil {
			slog.Warn("audit close failed", "error", err)
		}
	}
}

func setupEvents(cfg *config.Config) events.Publisher {
	if cfg.MQTT.Broker == "" {
		return events.Nop{}
	}
	p, err := events.New(cfg.MQTT.Broker, cfg.MQTT.StationID, cfg.MQTT.Env)
	if err != nil {
		slog.Warn("mqtt unavailable, events disabled", "broker", cfg.MQTT.Broker, "error", err)
		return events.Nop{}
	}
	slog.Info("publishing events", "broker", cfg.MQTT.Broker, "station", cfg.MQTT.StationID)
	return p
}

func setupRateLimiter(ctx context.Context, cfg *config.Config) (*ratelimit.RateLimiter, func()) {
	if !cfg.RateLimit.Enabled || cfg.Redis.Addr == "" {
		return nil, func() {}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if pong, err := rdb.Ping(ctx).Result(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	} else {
		slog.Info("connected to redis", "pong", pong)
	}
	return ratelimit.New(rdb, "cpegate:login", cfg.RateLimit.LimiterConfig), func() { _ = rdb.Close() }
}
