// Package app wires configuration, storage, the portal bridge, the
// notification channels and the supervisor into one process.
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
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tmsbridge/gradewatch/internal/bridge"
	"github.com/tmsbridge/gradewatch/internal/config"
	"github.com/tmsbridge/gradewatch/internal/notify"
	"github.com/tmsbridge/gradewatch/internal/notify/email"
	"github.com/tmsbridge/gradewatch/internal/notify/telegram"
	"github.com/tmsbridge/gradewatch/internal/notify/webhook"
	"github.com/tmsbridge/gradewatch/internal/pipeline"
	"github.com/tmsbridge/gradewatch/internal/pkg/ctxlog"
	"github.com/tmsbridge/gradewatch/internal/pkg/httputil"
	"github.com/tmsbridge/gradewatch/internal/pkg/metrics"
	"github.com/tmsbridge/gradewatch/internal/pkg/postgres"
	"github.com/tmsbridge/gradewatch/internal/portal"
	"github.com/tmsbridge/gradewatch/internal/scheduler"
	"github.com/tmsbridge/gradewatch/internal/store"
	storepostgres "github.com/tmsbridge/gradewatch/internal/store/postgres"
	"github.com/tmsbridge/gradewatch/internal/version"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	bridge        *bridge.Client
	supervisor    *scheduler.Supervisor
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	if cfg.Database.Migrate {
		if err := storepostgres.Migrate(cfg.Database.URL); err != nil {
			return nil, fmt.Errorf("migrate database: %w", err)
		}
	}

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	key, err := cfg.Store.SecretKeyBytes()
	if err != nil {
		db.Close()
		return nil, err
	}
	cipher, err := store.NewCipher(key)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create credential cipher: %w", err)
	}
	repo := storepostgres.NewRepository(db, cipher)

	bridgeClient := bridge.New(bridge.Config{
		Timeout:       cfg.Bridge.Timeout,
		MaxConcurrent: cfg.Bridge.MaxConcurrent,
		CloseTimeout:  cfg.Bridge.CloseTimeout,
		UserAgent:     cfg.Bridge.UserAgent,
	})

	portalClient := portal.NewClient(portal.Config{
		BaseURL:       cfg.Portal.BaseURL,
		LoginPath:     cfg.Portal.LoginPath,
		GradesPath:    cfg.Portal.GradesPath,
		SessionCookie: cfg.Portal.SessionCookie,
	}, bridgeClient)

	dispatcher, err := setupDispatcher(cfg, repo)
	if err != nil {
		db.Close()
		_ = bridgeClient.Close()
		return nil, err
	}

	pipe := pipeline.New(repo, portalClient, dispatcher)

	supervisor := scheduler.New(scheduler.Config{
		Interval:     cfg.Scheduler.Interval,
		CycleTimeout: cfg.Scheduler.CycleTimeout,
		StopTimeout:  cfg.Scheduler.StopTimeout,
		LockPath:     cfg.Scheduler.LockPath,
	}, pipe, logger)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		bridge:        bridgeClient,
		supervisor:    supervisor,
		metricsCancel: metricsCancel,
	}

	go app.collectDBMetrics(metricsCtx)

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

func setupDispatcher(cfg *config.Config, repo store.Repository) (*notify.Dispatcher, error) {
	telegramSender, err := telegram.NewSender(telegram.Config{
		Enabled:   cfg.Notify.Telegram.Enabled,
		BotToken:  cfg.Notify.Telegram.BotToken,
		RateLimit: cfg.Notify.Telegram.RateLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram sender: %w", err)
	}
	if !cfg.Notify.Telegram.Enabled {
		slog.Warn("telegram sender is disabled: telegram notifications will not be sent")
	}

	emailSender, err := email.NewSender(email.Config{
		Enabled:      cfg.Notify.Email.Enabled,
		SMTPHost:     cfg.Notify.Email.SMTPHost,
		SMTPPort:     cfg.Notify.Email.SMTPPort,
		SMTPUser:     cfg.Notify.Email.SMTPUser,
		SMTPPassword: cfg.Notify.Email.SMTPPassword,
		FromAddress:  cfg.Notify.Email.FromAddress,
	})
	if err != nil {
		return nil, fmt.Errorf("create email sender: %w", err)
	}
	if !cfg.Notify.Email.Enabled {
		slog.Warn("email sender is disabled: email notifications will not be sent")
	}

	// Webhooks carry their destination per binding, so the sender is
	// always available.
	webhookSender := webhook.NewSender(webhook.Config{
		Username:  cfg.Notify.Webhook.Username,
		AvatarURL: cfg.Notify.Webhook.AvatarURL,
		Timeout:   cfg.Notify.Webhook.Timeout,
	})

	renderer, err := notify.NewRenderer()
	if err != nil {
		return nil, fmt.Errorf("create renderer: %w", err)
	}

	return notify.NewDispatcher(notify.Config{
		MaxConcurrent: cfg.Notify.MaxConcurrent,
		SendTimeout:   cfg.Notify.SendTimeout,
	}, repo, renderer, telegramSender, webhookSender, emailSender), nil
}

// Run starts the supervisor and the HTTP servers. It blocks until the
// main server stops.
func (a *App) Run() error {
	if err := a.supervisor.Start(); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

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

// Shutdown gracefully stops the supervisor, the HTTP servers, the
// bridge and the database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.metricsCancel()

	var errs []error

	// Let the in-flight cycle finish before tearing the bridge down.
	if a.supervisor.State() == scheduler.StateRunning {
		if err := a.supervisor.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop supervisor: %w", err))
		}
	}

	var wg sync.WaitGroup
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

	if err := a.bridge.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bridge: %w", err))
	}

	a.db.Close()

	return errors.Join(errs...)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Supervisor returns the supervisor instance. Used in tests.
func (a *App) Supervisor() *scheduler.Supervisor {
	return a.supervisor
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

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

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func (a *App) collectDBMetrics(ctx context.Context) {
	metrics.RecordDBPoolMetrics(a.db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
		case <-ctx.Done():
			return
		}
	}
}
