package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Startup-Consulting-Inc/newsletter/internal/api"
	"github.com/Startup-Consulting-Inc/newsletter/internal/audit"
	"github.com/Startup-Consulting-Inc/newsletter/internal/compose"
	"github.com/Startup-Consulting-Inc/newsletter/internal/config"
	"github.com/Startup-Consulting-Inc/newsletter/internal/dispatch"
	"github.com/Startup-Consulting-Inc/newsletter/internal/dkim"
	"github.com/Startup-Consulting-Inc/newsletter/internal/metrics"
	"github.com/Startup-Consulting-Inc/newsletter/internal/orchestrator"
	"github.com/Startup-Consulting-Inc/newsletter/internal/recipients"
	"github.com/Startup-Consulting-Inc/newsletter/internal/relay"
	"github.com/Startup-Consulting-Inc/newsletter/internal/scheduler"
	"github.com/Startup-Consulting-Inc/newsletter/internal/storage"
	"github.com/Startup-Consulting-Inc/newsletter/internal/tracking"
)

// App is the main application
type App struct {
	config        *config.Config
	store         *storage.BoltStore
	relay         relay.Relay
	service       *orchestrator.Service
	scheduler     *scheduler.Scheduler
	apiServer     *api.Server
	metricsServer *metrics.Server
	redis         *redis.Client
	logger        *slog.Logger
}

// New creates a new application
func New(cfg *config.Config) (*App, error) {
	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Create storage
	store, err := storage.Open(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}

	a := &App{config: cfg, store: store, logger: logger}
	if err := a.wire(); err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) wire() error {
	cfg, logger := a.config, a.logger

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		metrics.SetGlobal(m)
		a.metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path, cfg.Metrics.AllowedIPs, logger.With("component", "metrics"))
	}

	auditor := a.setupAudit()

	// Setup DKIM signing
	var signer *dkim.Signer
	if cfg.Relay.DKIM.Enabled {
		var err error
		signer, err = dkim.LoadSigner(cfg.Relay.DKIM.KeyFile, cfg.Relay.DKIM.Domain, cfg.Relay.DKIM.Selector)
		if err != nil {
			return fmt.Errorf("failed to load DKIM key: %w", err)
		}
		logger.Info("DKIM signing enabled", "domain", cfg.Relay.DKIM.Domain, "selector", cfg.Relay.DKIM.Selector)
	}

	r, err := NewRelay(cfg, a.store, logger)
	if err != nil {
		return err
	}
	a.relay = r

	builder, err := relay.NewBuilder(relay.Sender{
		Address: cfg.Relay.From,
		Name:    cfg.Relay.FromName,
		ReplyTo: cfg.Relay.ReplyTo,
	}, signer, logger.With("component", "builder"))
	if err != nil {
		return fmt.Errorf("failed to create message builder: %w", err)
	}

	compositor := compose.New(compose.Config{
		BaseURL:      cfg.Tracking.BaseURL,
		ContactEmail: cfg.Tracking.ContactEmail,
		InlineCSS:    cfg.InlineCSS(),
	}, logger.With("component", "compose"))

	dispatcher := dispatch.New(dispatch.Config{
		BatchSize:   cfg.Dispatch.BatchSize,
		Concurrency: cfg.Dispatch.Concurrency,
		BatchDelay:  cfg.Dispatch.BatchDelay,
	}, compositor, builder, r, logger.With("component", "dispatch"))

	resolver := recipients.NewResolver(a.store, logger.With("component", "resolver"))

	a.service = orchestrator.New(a.store, resolver, dispatcher, r, auditor, logger.With("component", "orchestrator"))
	if cfg.Scheduler.MaxAttempts > 0 {
		a.service.SetRetryPolicy(orchestrator.MaxAttempts(cfg.Scheduler.MaxAttempts))
	}

	if cfg.SchedulerEnabled() {
		a.scheduler = scheduler.New(a.store, a.service, auditor, cfg.Scheduler.Interval, logger.With("component", "scheduler"))
	}

	tracker := tracking.NewTracker(a.store, auditor, logger.With("component", "tracking"))
	trackingHandler := tracking.NewHandler(tracker, a.store, auditor, logger.With("component", "tracking"))

	a.apiServer = api.NewServer(&cfg.API, a.service, a.store, trackingHandler, logger.With("component", "api"))
	return nil
}

// NewRelay creates the outbound relay selected by the configuration.
// The sandbox relay captures into store.
func NewRelay(cfg *config.Config, store relay.CaptureStore, logger *slog.Logger) (relay.Relay, error) {
	rc := cfg.Relay

	switch rc.Provider {
	case config.ProviderSES:
		r, err := relay.NewSESRelay(context.Background(), relay.SESConfig{
			Region:           rc.SES.Region,
			AccessKey:        rc.SES.AccessKey,
			SecretKey:        rc.SES.SecretKey,
			MaxConnections:   rc.MaxConnections,
			ConfigurationSet: rc.SES.ConfigurationSet,
		}, logger.With("component", "relay_ses"))
		if err != nil {
			return nil, fmt.Errorf("failed to create SES relay: %w", err)
		}
		logger.Info("using SES relay", "region", rc.SES.Region)
		return r, nil

	case config.ProviderSandbox:
		logger.Warn("sandbox relay enabled, messages are captured and not delivered")
		return relay.NewSandboxRelay(store, rc.MaxConnections, rc.Sandbox.ErrorProbability, logger.With("component", "relay_sandbox")), nil

	default:
		logger.Info("using SMTP relay", "host", rc.SMTP.Host, "port", rc.SMTP.Port, "tls", rc.SMTP.TLS)
		return relay.NewSMTPRelay(relay.SMTPConfig{
			Host:                     rc.SMTP.Host,
			Port:                     rc.SMTP.Port,
			TLS:                      rc.SMTP.TLS,
			InsecureSkipVerify:       rc.SMTP.InsecureSkipVerify,
			Username:                 rc.SMTP.Username,
			Password:                 rc.SMTP.Password,
			Hostname:                 cfg.Server.Hostname,
			Timeout:                  rc.Timeout,
			MaxConnections:           rc.MaxConnections,
			MaxMessagesPerConnection: rc.MaxMessagesPerConnection,
		}, logger.With("component", "relay_smtp")), nil
	}
}

// setupAudit fans audit events out to the log, the store and Redis
func (a *App) setupAudit() audit.Auditor {
	cfg := a.config.Audit
	sinks := []audit.Auditor{audit.NewLogSink(a.logger.With("component", "audit"))}

	if a.config.AuditStoreEnabled() {
		sinks = append(sinks, audit.NewStoreSink(a.store))
	}

	if cfg.Redis.Enabled {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		sinks = append(sinks, audit.NewRedisSink(a.redis, cfg.Redis.Stream, cfg.Redis.MaxLen))
		a.logger.Info("audit stream enabled", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)
	}

	return audit.NewMulti(a.logger.With("component", "audit"), sinks...)
}

// Run starts all components and waits for shutdown
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting newsletter service",
		"hostname", a.config.Server.Hostname,
		"api_addr", a.config.API.ListenAddr,
		"relay", a.relay.Name(),
		"scheduler", a.scheduler != nil,
	)

	// Create context that listens for signals
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	verifyCtx, verifyCancel := context.WithTimeout(ctx, a.config.Relay.Timeout)
	if err := a.relay.Verify(verifyCtx); err != nil {
		a.logger.Warn("relay verification failed, sends will fail until it is reachable", "error", err)
	}
	verifyCancel()

	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.logger.Warn("audit redis unreachable", "addr", a.config.Audit.Redis.Addr, "error", err)
		}
	}

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	// Channel to collect errors
	errCh := make(chan error, 2)

	// Start API server
	go func() {
		if err := a.apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()

	// Start metrics server
	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		cancel()
	}

	// Graceful shutdown
	return a.Shutdown(context.Background())
}

// Shutdown gracefully shuts down all components
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	// Create timeout context
	timeout := a.config.API.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Stop scheduler first (stop starting new sends)
	if a.scheduler != nil {
		a.scheduler.Stop()
	}

	// Shutdown servers, in-flight sends finish before the API returns
	if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api server shutdown error", "error", err)
	}

	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("metrics server shutdown error", "error", err)
		}
	}

	if err := a.relay.Close(); err != nil {
		a.logger.Error("relay close error", "error", err)
	}

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("redis close error", "error", err)
		}
	}

	// Close storage
	if err := a.store.Close(); err != nil {
		a.logger.Error("storage close error", "error", err)
	}

	a.logger.Info("shutdown complete")
	return nil
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
