package http

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "uvdm/internal/errors"
	"uvdm/internal/middleware"
	"uvdm/internal/security"
	"uvdm/internal/store"
	"uvdm/pkg/contracts/domain"
)

// AdminHandler manages payment providers and their webhook settings.
// Every route requires the admin key; secrets are masked in responses
// unless include_secrets=true is passed.
type AdminHandler struct {
	providers *store.Providers
	admin     *middleware.AdminAuth
	logger    *slog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(providers *store.Providers, admin *middleware.AdminAuth, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		providers: providers,
		admin:     admin,
		logger:    logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns the chi router for /api/admin/payments.
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(h.admin.Require)

	r.Get("/", h.ListProviders)
	r.Post("/", h.CreateProvider)
	r.Route("/webhooks", func(r chi.Router) {
		r.Get("/", h.ListWebhooks)
		r.Post("/", h.CreateWebhook)
		r.Put("/{id}", h.UpdateWebhook)
		r.Delete("/{id}", h.DeleteWebhook)
	})
	r.Get("/{id}", h.GetProvider)
	r.Put("/{id}", h.UpdateProvider)
	r.Delete("/{id}", h.DeleteProvider)

	return r
}

func includeSecrets(r *http.Request) bool {
	return r.URL.Query().Get("include_secrets") == "true"
}

// ListProviders handles GET /api/admin/payments.
func (h *AdminHandler) ListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.providers.ListProviders(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list providers failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.Internal())
		return
	}

	if !includeSecrets(r) {
		for i := range providers {
			providers[i] = providers[i].Masked()
		}
	}
	render.JSON(w, r, providers)
}

// CreateProvider handles POST /api/admin/payments.
func (h *AdminHandler) CreateProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ProviderRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.Malformed("Invalid request body"))
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.Malformed("provider_key and provider_name are required"))
		return
	}

	provider := domain.PaymentProvider{
		ProviderKey:  req.ProviderKey,
		ProviderName: req.ProviderName,
		Config:       req.Config,
		Enabled:      req.Enabled,
	}
	if provider.Config == nil {
		provider.Config = map[string]string{}
	}

	if err := h.providers.CreateProvider(ctx, &provider); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			render.Render(w, r, &apierrors.APIError{
				StatusCode: http.StatusConflict,
				ErrorCode:  apierrors.CodeConflict,
				Message:    "Provider key already exists",
			})
			return
		}
		h.logger.ErrorContext(ctx, "create provider failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.Internal())
		return
	}

	h.logger.InfoContext(ctx, "payment provider created",
		slog.String("provider_key", provider.ProviderKey),
		slog.String("provider_id", provider.ID),
	)

	render.Status(r, http.StatusCreated)
	render.JSON(w, r, provider.Masked())
}

// GetProvider handles GET /api/admin/payments/{id}.
func (h *AdminHandler) GetProvider(w http.ResponseWriter, r *http.Request) {
	provider, err := h.providers.GetProvider(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		render.Render(w, r, apierrors.ErrProviderNotFound)
		return
	}
	if err != nil {
		render.Render(w, r, apierrors.Internal())
		return
	}

	if !includeSecrets(r) {
		provider = provider.Masked()
	}
	render.JSON(w, r, provider)
}

// UpdateProvider handles PUT /api/admin/payments/{id}. The stored
// record is replaced wholesale with the request payload.
func (h *AdminHandler) UpdateProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req domain.ProviderRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.Malformed("Invalid request body"))
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.Malformed("provider_key and provider_name are required"))
		return
	}

	provider := domain.PaymentProvider{
		ID:           id,
		ProviderKey:  req.ProviderKey,
		ProviderName: req.ProviderName,
		Config:       req.Config,
		Enabled:      req.Enabled,
		UpdatedAt:    time.Now().UTC(),
	}
	if provider.Config == nil {
		provider.Config = map[string]string{}
	}

	if err := h.providers.UpdateProvider(ctx, &provider); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Render(w, r, apierrors.ErrProviderNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "update provider failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.Internal())
		return
	}

	h.logger.InfoContext(ctx, "payment provider updated", slog.String("provider_id", id))
	render.JSON(w, r, map[string]interface{}{"success": true, "message": "Provider updated"})
}

// DeleteProvider handles DELETE /api/admin/payments/{id}. Webhook
// settings for the provider are removed by the cascade.
func (h *AdminHandler) DeleteProvider(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.providers.DeleteProvider(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Render(w, r, apierrors.ErrProviderNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "delete provider failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.Internal())
		return
	}

	h.logger.InfoContext(ctx, "payment provider deleted", slog.String("provider_id", id))
	render.JSON(w, r, map[string]interface{}{"success": true, "message": "Provider deleted"})
}

// ListWebhooks handles GET /api/admin/payments/webhooks. An optional
// provider_id query narrows the listing.
func (h *AdminHandler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.providers.ListWebhooks(r.Context(), r.URL.Query().Get("provider_id"))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list webhooks failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.Internal())
		return
	}

	if !includeSecrets(r) {
		for i := range webhooks {
			webhooks[i] = webhooks[i].Masked()
		}
	}
	render.JSON(w, r, webhooks)
}

// CreateWebhook handles POST /api/admin/payments/webhooks. A missing
// secret is generated so every endpoint starts out verifiable.
func (h *AdminHandler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.WebhookRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.Malformed("Invalid request body"))
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.Malformed("provider_id is required"))
		return
	}

	generated := false
	if req.WebhookSecret == "" {
		secret, err := security.GenerateWebhookSecret()
		if err != nil {
			render.Render(w, r, apierrors.Internal())
			return
		}
		req.WebhookSecret = secret
		generated = true
	}

	webhook := domain.WebhookSettings{
		ProviderID:    req.ProviderID,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
		Enabled:       req.Enabled,
	}

	if err := h.providers.CreateWebhook(ctx, &webhook); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Render(w, r, apierrors.ErrProviderNotFound)
			return
		}
		h.logger.ErrorContext(ctx, "create webhook failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.Internal())
		return
	}

	h.logger.InfoContext(ctx, "webhook settings created",
		slog.String("webhook_id", webhook.ID),
		slog.String("provider_id", webhook.ProviderID),
		slog.Bool("secret_generated", generated),
	)

	// The generated secret is returned once, unmasked, so the caller can
	// configure the provider side. Later reads mask it.
	response := webhook
	if !generated && !includeSecrets(r) {
		response = webhook.Masked()
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, response)
}

// UpdateWebhook handles PUT /api/admin/payments/webhooks/{id}.
func (h *AdminHandler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	var req domain.WebhookRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, apierrors.Malformed("Invalid request body"))
		return
	}
	if err := validate.Struct(&req); err != nil {
		render.Render(w, r, apierrors.Malformed("provider_id is required"))
		return
	}

	webhook := domain.WebhookSettings{
		ID:            id,
		ProviderID:    req.ProviderID,
		WebhookURL:    req.WebhookURL,
		WebhookSecret: req.WebhookSecret,
		Enabled:       req.Enabled,
		UpdatedAt:     time.Now().UTC(),
	}

	if err := h.providers.UpdateWebhook(ctx, &webhook); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Render(w, r, apierrors.NotFound("Webhook settings"))
			return
		}
		h.logger.ErrorContext(ctx, "update webhook failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.Internal())
		return
	}

	h.logger.InfoContext(ctx, "webhook settings updated", slog.String("webhook_id", id))
	render.JSON(w, r, map[string]interface{}{"success": true, "message": "Webhook settings updated"})
}

// DeleteWebhook handles DELETE /api/admin/payments/webhooks/{id}.
func (h *AdminHandler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	if err := h.providers.DeleteWebhook(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			render.Render(w, r, apierrors.NotFound("Webhook settings"))
			return
		}
		h.logger.ErrorContext(ctx, "delete webhook failed", slog.String("error", err.Error()))
		render.Render(w, r, apierrors.Internal())
		return
	}

	h.logger.InfoContext(ctx, "webhook settings deleted", slog.String("webhook_id", id))
	render.JSON(w, r, map[string]interface{}{"success": true, "message": "Webhook settings deleted"})
}
