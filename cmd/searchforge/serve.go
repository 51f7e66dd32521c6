package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	sfhttp "github.com/Strob0t/SearchForge/internal/adapter/http"
	sfmcp "github.com/Strob0t/SearchForge/internal/adapter/mcp"
	sfnats "github.com/Strob0t/SearchForge/internal/adapter/nats"
	sfotel "github.com/Strob0t/SearchForge/internal/adapter/otel"
	"github.com/Strob0t/SearchForge/internal/adapter/ws"
	"github.com/Strob0t/SearchForge/internal/config"
	"github.com/Strob0t/SearchForge/internal/middleware"
	"github.com/Strob0t/SearchForge/internal/resilience"
	"github.com/Strob0t/SearchForge/internal/service"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 15 * time.Second
)

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"event_log", cfg.EventLog.Backend,
		"cache_l2", cfg.Cache.L2,
	)

	// --- Observability ---

	shutdownOTEL, err := sfotel.Setup(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	tel, err := sfotel.NewTelemetry(otel.GetTracerProvider(), otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	// --- Infrastructure ---

	queue, err := sfnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Drain() }()
	slog.Info("nats connected", "url", cfg.NATS.URL)

	events, closeEvents, err := openEventStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	defer closeEvents()

	results, l1, closeResults, err := openResultCache(ctx, cfg, queue)
	if err != nil {
		return fmt.Errorf("result cache: %w", err)
	}
	defer closeResults()

	runner, err := sfnats.NewRunner(ctx, queue)
	if err != nil {
		return fmt.Errorf("agent runner: %w", err)
	}
	defer runner.Stop()

	// --- Services ---

	sessions := service.NewSessionManager(cfg.Search.SessionIdleTimeout,
		service.WithSweepInterval(cfg.Search.SweepInterval))
	hub := ws.NewHub(originPatterns(cfg.Server.CORSOrigin)...)
	searches := service.NewSearchService(cfg.Search, service.SearchDeps{
		Runner:      runner,
		Sessions:    sessions,
		Events:      events,
		Results:     results,
		Hub:         hub,
		Telemetry:   tel,
		EventsGuard: newBreaker("event_log", cfg.Breaker),
		CacheGuard:  newBreaker("result_cache", cfg.Breaker),
	})

	// --- HTTP ---

	handlers := sfhttp.NewHandlers(searches)
	handlers.Health = func(context.Context) map[string]string {
		stats := l1.Stats()
		status := map[string]string{
			"nats":         "up",
			"ws_clients":   fmt.Sprint(hub.ConnectionCount()),
			"l1_hit_ratio": strconv.FormatFloat(stats.HitRatio, 'f', 3, 64),
		}
		if !queue.IsConnected() {
			status["nats"] = "down"
		}
		return status
	}
	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)

	r := chi.NewRouter()
	r.Use(sfotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(sfhttp.SecurityHeaders)
	r.Use(sfhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.RequestID)
	r.Use(sfhttp.Logger)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/health", handlers.HealthCheck)
	r.Get("/ws", hub.HandleWS)
	sfhttp.MountRoutes(r, handlers, limiter.Handler)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.Search.StreamBudget + time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	mcpSrv := sfmcp.NewServer(sfmcp.ServerConfig{
		Addr:    cfg.MCP.Addr,
		Name:    "searchforge",
		Version: version,
		APIKey:  cfg.MCP.APIKey,
	}, sfmcp.ServerDeps{Searches: searches})
	if cfg.MCP.Addr != "" {
		if err := mcpSrv.Start(); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return sessions.Run(gctx) })
	g.Go(func() error { return limiter.Run(gctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime) })
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(sctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if err := mcpSrv.Stop(sctx); err != nil {
			errs = append(errs, err)
		}
		if err := searches.Shutdown(sctx); err != nil {
			errs = append(errs, err)
		}
		sessions.CloseAll()
		hub.CloseAll()
		return errors.Join(errs...)
	})
	return g.Wait()
}

func newBreaker(name string, cfg config.Breaker) *resilience.Breaker {
	return resilience.NewBreaker(name, cfg.MaxFailures, cfg.Timeout,
		resilience.WithStateChange(func(name string, from, to resilience.State) {
			slog.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		}),
	)
}

// originPatterns turns the CORS origin into a websocket origin pattern.
func originPatterns(origin string) []string {
	if origin == "" || origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return []string{origin}
	}
	return []string{u.Host}
}
