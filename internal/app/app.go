// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hookline/hookline/internal/config"
	"github.com/hookline/hookline/internal/dispatch"
	"github.com/hookline/hookline/internal/domain"
	"github.com/hookline/hookline/internal/ingest"
	"github.com/hookline/hookline/internal/notify"
	"github.com/hookline/hookline/internal/notify/discord"
	"github.com/hookline/hookline/internal/notify/telegram"
	"github.com/hookline/hookline/internal/notify/webhook"
	"github.com/hookline/hookline/internal/pkg/httputil"
	"github.com/hookline/hookline/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	engine        *dispatch.Engine
	server        *http.Server
	metricsServer *http.Server
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	renderer, err := notify.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}

	webhookSender := webhook.NewSender(webhook.Config{
		Timeout: cfg.Notifiers.Webhook.Timeout,
	})

	discordSender := discord.NewSender(discord.Config{
		Username: cfg.Notifiers.Discord.Username,
		Timeout:  cfg.Notifiers.Discord.Timeout,
	})

	telegramSender, err := telegram.NewSender(telegram.Config{
		Enabled:   cfg.Notifiers.Telegram.Enabled,
		BotToken:  cfg.Notifiers.Telegram.BotToken,
		RateLimit: cfg.Notifiers.Telegram.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram sender: %w", err)
	}

	destinations := make([]domain.Destination, 0, len(cfg.Destinations))
	for _, d := range cfg.Destinations {
		if d.Type == string(domain.DestinationTypeTelegram) && !cfg.Notifiers.Telegram.Enabled {
			logger.Warn("telegram sender is disabled: destination will not receive notifications", "destination", d.Key)
		}
		destinations = append(destinations, domain.Destination{
			Key:    d.Key,
			Type:   domain.DestinationType(d.Type),
			Target: d.Target,
			Batch:  d.Batch,
		})
	}

	logger.Info("dispatch configured",
		"destinations", len(destinations),
		"telegram_enabled", cfg.Notifiers.Telegram.Enabled,
	)

	engine := dispatch.NewEngine(dispatch.Config{
		Breaker: dispatch.BreakerConfig{
			FailureThreshold: cfg.Dispatch.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Dispatch.Breaker.ResetTimeout,
		},
		Retry: dispatch.RetryPolicy{
			MaxRetries:        cfg.Dispatch.Retry.MaxRetries,
			InitialDelay:      cfg.Dispatch.Retry.InitialDelay,
			BackoffMultiplier: cfg.Dispatch.Retry.BackoffMultiplier,
			MaxDelay:          cfg.Dispatch.Retry.MaxDelay,
			Jitter:            cfg.Dispatch.Retry.Jitter,
			AttemptTimeout:    cfg.Dispatch.Retry.AttemptTimeout,
		},
		Cooldown: dispatch.CooldownConfig{
			Period:     cfg.Dispatch.Cooldown.Period,
			MaxEntries: cfg.Dispatch.Cooldown.MaxEntries,
		},
		Batch: dispatch.BatchConfig{
			Size:    cfg.Dispatch.Batch.Size,
			Timeout: cfg.Dispatch.Batch.Timeout,
		},
		Runner: dispatch.RunnerConfig{
			PerKeyRate:  cfg.Dispatch.RateLimit.PerKeyRate,
			PerKeyBurst: cfg.Dispatch.RateLimit.PerKeyBurst,
		},
	}, logger, renderer, destinations, webhookSender, discordSender, telegramSender)

	app := &App{
		config: cfg,
		logger: logger,
		engine: engine,
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// Run starts the HTTP servers.
func (a *App) Run() error {
	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application. The HTTP surfaces stop
// first so no new events arrive, then the engine drains its buffers and
// in-flight deliveries.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	if err := a.engine.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Engine returns the dispatch engine instance. Used in tests.
func (a *App) Engine() *dispatch.Engine {
	return a.engine
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	ingestHandler := ingest.NewHandler(a.engine)

	r.Route("/api/v1", func(r chi.Router) {
		ingestHandler.RegisterRoutes(r)
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, _ *http.Request) {
	// All state is in-memory; ready as soon as the engine exists.
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
