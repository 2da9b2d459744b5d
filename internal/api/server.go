// Package api exposes the authenticated JSON API and mounts the public
// tracking endpoints.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Startup-Consulting-Inc/newsletter/internal/config"
	"github.com/Startup-Consulting-Inc/newsletter/internal/metrics"
	"github.com/Startup-Consulting-Inc/newsletter/internal/models"
	"github.com/Startup-Consulting-Inc/newsletter/internal/orchestrator"
	"github.com/Startup-Consulting-Inc/newsletter/internal/storage"
	"github.com/Startup-Consulting-Inc/newsletter/internal/tracking"
)

// NewsletterService is the newsletter lifecycle used by the API
type NewsletterService interface {
	Create(ctx context.Context, n *models.Newsletter) (*models.Newsletter, error)
	Get(ctx context.Context, id string) (*models.Newsletter, error)
	Update(ctx context.Context, id string, upd models.NewsletterUpdate) (*models.Newsletter, error)
	Schedule(ctx context.Context, id string, at time.Time) (*models.Newsletter, error)
	Send(ctx context.Context, id string, trigger orchestrator.Trigger) (*orchestrator.SendOutcome, error)
}

// Store is the document store used by the seeding and inspection endpoints
type Store interface {
	ListNewsletters(ctx context.Context, status models.Status) ([]*models.Newsletter, error)
	ListTrackingEvents(ctx context.Context, newsletterID string) ([]*models.TrackingEvent, error)

	CreateGroup(ctx context.Context, g *models.RecipientGroup) error
	GetGroup(ctx context.Context, id string) (*models.RecipientGroup, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]models.Recipient, error)
	AddRecipient(ctx context.Context, r *models.Recipient) error
	GetRecipient(ctx context.Context, id string) (*models.Recipient, error)
	RemoveRecipient(ctx context.Context, id string) (*models.Recipient, error)
	ImportRecipients(ctx context.Context, groupID string, reader io.Reader) (*models.RecipientImportResult, error)

	ListCaptured(ctx context.Context, filter storage.SandboxFilter) ([]*storage.CapturedMessage, error)
	CountCaptured(ctx context.Context, newsletterID string) (int, error)
	GetCaptured(ctx context.Context, id string) (*storage.CapturedMessage, error)
	ClearCaptured(ctx context.Context, newsletterID string) (int, error)

	ListAudit(ctx context.Context, filter storage.AuditFilter) ([]*storage.AuditEntry, error)
}

// Server is the HTTP API server
type Server struct {
	router     *chi.Mux
	httpServer *http.Server
	service    NewsletterService
	store      Store
	tracking   *tracking.Handler
	auth       *keyAuth
	config     *config.APIConfig
	logger     *slog.Logger
	startTime  time.Time
}

// NewServer creates a new API server
func NewServer(cfg *config.APIConfig, service NewsletterService, store Store, trackingHandler *tracking.Handler, logger *slog.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		service:   service,
		store:     store,
		tracking:  trackingHandler,
		auth:      newKeyAuth(cfg.Keys),
		config:    cfg,
		logger:    logger,
		startTime: time.Now(),
	}

	if len(cfg.Keys) == 0 {
		logger.Warn("no API keys configured, all /api/v1 requests will be rejected")
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Recoverer)
	s.router.Use(metrics.HTTPMiddleware)

	// Public endpoints
	s.router.Get("/health", s.handleHealth)
	if s.tracking != nil {
		s.tracking.Mount(s.router)
	}

	// API v1 routes (auth required)
	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)
		r.Use(s.bodyLimitMiddleware)

		r.Route("/newsletters", func(r chi.Router) {
			r.Get("/", s.handleListNewsletters)
			r.Post("/", s.handleCreateNewsletter)
			r.Get("/{id}", s.handleGetNewsletter)
			r.Put("/{id}", s.handleUpdateNewsletter)
			r.Post("/{id}/send", s.handleSendNewsletter)
			r.Post("/{id}/schedule", s.handleScheduleNewsletter)
			r.Get("/{id}/events", s.handleListEvents)
		})

		r.Route("/groups", func(r chi.Router) {
			r.Post("/", s.handleCreateGroup)
			r.Get("/{id}", s.handleGetGroup)
			r.Get("/{id}/recipients", s.handleListRecipients)
			r.Post("/{id}/recipients", s.handleAddRecipient)
			r.Post("/{id}/import", s.handleImportRecipients)
			r.Delete("/{id}/recipients/{rid}", s.handleRemoveRecipient)
		})

		r.Route("/sandbox", func(r chi.Router) {
			r.Get("/messages", s.handleListCaptured)
			r.Get("/messages/{id}", s.handleGetCaptured)
			r.Delete("/messages", s.handleClearCaptured)
		})

		r.Get("/audit", s.handleListAudit)
	})
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.httpServer = &http.Server{
		Addr:           s.config.ListenAddr,
		Handler:        s.router,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
	}

	s.logger.Info("starting HTTP API server", "addr", s.config.ListenAddr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP API server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
