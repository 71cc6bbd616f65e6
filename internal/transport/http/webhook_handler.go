package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apierrors "uvdm/internal/errors"
	"uvdm/internal/middleware"
	"uvdm/internal/services"
)

// maxWebhookBody bounds the webhook payload size.
const maxWebhookBody = 1 << 20

// WebhookHandler receives payment provider webhooks.
type WebhookHandler struct {
	service *services.WebhookService
	admin   *middleware.AdminAuth
	logger  *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(service *services.WebhookService, admin *middleware.AdminAuth, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		service: service,
		admin:   admin,
		logger:  logger.With(slog.String("handler", "webhook")),
	}
}

// Routes returns the chi router for /api/webhooks.
func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/{providerKey}", h.Receive)
	r.With(h.admin.Require).Post("/{providerKey}/test", h.Test)
	return r
}

// Receive handles POST /api/webhooks/{providerKey}. The body is read raw;
// signature verification operates on the exact bytes received.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	providerKey := chi.URLParam(r, "providerKey")

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		render.Render(w, r, apierrors.Malformed("Failed to read request body"))
		return
	}

	event, err := h.service.Dispatch(ctx, providerKey, payload, r.Header)
	switch {
	case errors.Is(err, services.ErrUnknownProvider):
		render.Render(w, r, apierrors.ErrProviderNotFound)
		return
	case errors.Is(err, services.ErrProviderDisabled):
		render.Render(w, r, apierrors.ErrProviderDisabled)
		return
	case errors.Is(err, services.ErrInvalidSignature):
		render.Render(w, r, apierrors.ErrInvalidSignature)
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "webhook dispatch failed",
			slog.String("provider", providerKey),
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apierrors.Internal())
		return
	}

	h.logger.InfoContext(ctx, "webhook received",
		slog.String("provider", event.Provider),
		slog.String("event_type", event.EventType),
		slog.String("event_id", event.EventID),
	)

	render.JSON(w, r, map[string]interface{}{
		"success":  true,
		"message":  "Webhook received and verified",
		"provider": event.Provider,
	})
}

// Test handles POST /api/webhooks/{providerKey}/test, an admin echo
// endpoint for verifying webhook configuration end to end.
func (h *WebhookHandler) Test(w http.ResponseWriter, r *http.Request) {
	providerKey := chi.URLParam(r, "providerKey")

	var body interface{}
	if err := render.DecodeJSON(r.Body, &body); err != nil {
		body = nil
	}

	h.logger.InfoContext(r.Context(), "test webhook received",
		slog.String("provider", providerKey),
	)

	render.JSON(w, r, map[string]interface{}{
		"success":       true,
		"message":       "Test webhook received successfully",
		"provider":      providerKey,
		"received_data": body,
	})
}
