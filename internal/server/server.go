// Package server assembles the license server's HTTP surface and owns
// its lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"uvdm/internal/config"
	"uvdm/internal/middleware"
	"uvdm/internal/registry"
	"uvdm/internal/services"
	"uvdm/internal/store"
	transport "uvdm/internal/transport/http"
)

// Server is the UVDM license server.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *store.DB
	http   *http.Server
}

// New builds a fully wired server from configuration. The caller owns
// the returned server and must call Run and, eventually, Close.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	providers := store.NewProviders(db)
	reg := registry.New(db, logger)

	licenseService := services.NewLicenseService(reg, logger)
	webhookService := services.NewWebhookService(providers, logger)

	admin := middleware.NewAdminAuth(cfg.Admin.Key, logger)

	licenseHandler := transport.NewLicenseHandler(licenseService, admin, logger, cfg.Server.RateLimitRPM)
	webhookHandler := transport.NewWebhookHandler(webhookService, admin, logger)
	adminHandler := transport.NewAdminHandler(providers, admin, logger)
	healthHandler := transport.NewHealthHandler(db, providers, logger)

	r := chi.NewRouter()
	r.Use(middleware.TraceID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.AdminHeaderName},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", healthHandler.Root)
	r.Get("/healthz", healthHandler.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Mount("/license", licenseHandler.Routes())
		r.Mount("/webhooks", webhookHandler.Routes())
		r.Mount("/admin/payments", adminHandler.Routes())
		r.Get("/payments/providers", healthHandler.PublicProviders)
	})

	return &Server{
		cfg:    cfg,
		logger: logger,
		db:     db,
		http: &http.Server{
			Addr:         cfg.ListenAddr(),
			Handler:      r,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
	}, nil
}

// Run starts the HTTP listener and blocks until ctx is cancelled, then
// drains in-flight requests within the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("license server listening",
			slog.String("addr", s.http.Addr),
			slog.Bool("admin_guard", s.cfg.AdminGuardEnabled()),
		)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down", slog.Duration("timeout", s.cfg.Server.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the server's resources.
func (s *Server) Close() error {
	return s.db.Close()
}

// Handler exposes the assembled router for in-process tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}
