package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/render"

	apierrors "uvdm/internal/errors"
	"uvdm/internal/store"
	"uvdm/pkg/contracts/domain"
)

// Version is the server version reported by the root descriptor.
// Overridden at build time with -ldflags.
var Version = "dev"

// HealthHandler serves the service descriptor, health probe and the
// public provider listing.
type HealthHandler struct {
	db        *store.DB
	providers *store.Providers
	logger    *slog.Logger
	started   time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(db *store.DB, providers *store.Providers, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		providers: providers,
		logger:    logger.With(slog.String("handler", "health")),
		started:   time.Now().UTC(),
	}
}

// Root handles GET /, a descriptor clients use to discover the API.
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"service": "UVDM License Server",
		"version": Version,
		"status":  "running",
		"endpoints": map[string]string{
			"verify":     "POST /api/license/verify",
			"activate":   "POST /api/license/activate",
			"deactivate": "POST /api/license/deactivate",
			"generate":   "POST /api/license/generate",
			"status":     "GET /api/license/status",
			"providers":  "GET /api/payments/providers",
			"webhooks":   "POST /api/webhooks/{provider}",
			"health":     "GET /healthz",
			"metrics":    "GET /metrics",
		},
	})
}

// Healthz handles GET /healthz. The probe fails when the database is
// unreachable.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.PingContext(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "health probe failed", slog.String("error", err.Error()))
		render.Status(r, http.StatusServiceUnavailable)
		render.JSON(w, r, map[string]interface{}{
			"status": "unhealthy",
			"error":  "database unreachable",
		})
		return
	}

	render.JSON(w, r, map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// PublicProviders handles GET /api/payments/providers. Only enabled
// providers are listed, and only their public fields.
func (h *HealthHandler) PublicProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.providers.ListEnabledProviders(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list enabled providers failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.Internal())
		return
	}

	summaries := make([]domain.ProviderSummary, 0, len(providers))
	for _, p := range providers {
		summaries = append(summaries, domain.ProviderSummary{
			ProviderKey:  p.ProviderKey,
			ProviderName: p.ProviderName,
			Enabled:      p.Enabled,
		})
	}
	render.JSON(w, r, map[string]interface{}{"providers": summaries})
}
