// Package http contains the chi HTTP handlers exposing the license API,
// the webhook receiver, and the admin CRUD surface.
package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "uvdm/internal/errors"
	"uvdm/internal/middleware"
	"uvdm/internal/registry"
	"uvdm/internal/services"
	"uvdm/pkg/contracts/domain"
)

var validate = validator.New()

// LicenseHandler handles license API requests.
type LicenseHandler struct {
	service *services.LicenseService
	admin   *middleware.AdminAuth
	logger  *slog.Logger
	rateRPM int
}

// NewLicenseHandler creates a new license handler.
func NewLicenseHandler(service *services.LicenseService, admin *middleware.AdminAuth, logger *slog.Logger, rateRPM int) *LicenseHandler {
	return &LicenseHandler{
		service: service,
		admin:   admin,
		logger:  logger.With(slog.String("handler", "license")),
		rateRPM: rateRPM,
	}
}

// Routes returns the chi router for /api/license.
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Timeout(30 * time.Second))

	r.Post("/verify", h.Verify)
	r.Get("/status", h.Status)

	// Brute-force protection on the mutating endpoints.
	r.Group(func(r chi.Router) {
		if h.rateRPM > 0 {
			r.Use(httprate.LimitByIP(h.rateRPM, time.Minute))
		}
		r.Post("/activate", h.Activate)
		r.Post("/deactivate", h.Deactivate)
		r.Post("/generate", h.Generate)
	})

	return r
}

// Verify handles POST /api/license/verify.
func (h *LicenseHandler) Verify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.VerifyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeVerifyError(w, r, http.StatusBadRequest, "Missing license_key")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeVerifyError(w, r, http.StatusBadRequest, "Missing license_key")
		return
	}

	result, err := h.service.Verify(ctx, req.LicenseKey, req.MachineID)
	if err != nil {
		h.logger.ErrorContext(ctx, "license verification failed",
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apierrors.Internal())
		return
	}

	switch result.Status {
	case domain.StatusValid:
		render.Status(r, http.StatusOK)
	case domain.StatusNotFound:
		render.Status(r, http.StatusNotFound)
	default:
		// Expired, inactive, and machine mismatch are all refusals of an
		// existing license.
		render.Status(r, http.StatusForbidden)
	}
	render.JSON(w, r, result)
}

// Activate handles POST /api/license/activate.
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.ActivateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeActivateError(w, r, http.StatusBadRequest, "Missing license_key or machine_id")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeActivateError(w, r, http.StatusBadRequest, "Missing license_key or machine_id")
		return
	}

	lic, err := h.service.Activate(ctx, req.LicenseKey, req.MachineID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeActivateError(w, r, http.StatusNotFound, "Invalid license key")
		return
	case errors.Is(err, registry.ErrConflict):
		writeActivateError(w, r, http.StatusForbidden, "License already activated on another machine")
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "license activation failed",
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apierrors.Internal())
		return
	}

	render.JSON(w, r, domain.ActivateResponse{
		Success:     true,
		Message:     "License activated successfully",
		LicenseType: lic.LicenseType,
		ExpiryDate:  lic.ExpiryDate,
	})
}

// Deactivate handles POST /api/license/deactivate.
func (h *LicenseHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req domain.DeactivateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		writeActivateError(w, r, http.StatusBadRequest, "Missing license_key")
		return
	}
	if err := validate.Struct(&req); err != nil {
		writeActivateError(w, r, http.StatusBadRequest, "Missing license_key")
		return
	}

	_, err := h.service.Deactivate(ctx, req.LicenseKey, req.MachineID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		writeActivateError(w, r, http.StatusNotFound, "Invalid license key")
		return
	case errors.Is(err, registry.ErrForbidden):
		writeActivateError(w, r, http.StatusForbidden, "Cannot deactivate license from different machine")
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "license deactivation failed",
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apierrors.Internal())
		return
	}

	render.JSON(w, r, domain.ActivateResponse{
		Success: true,
		Message: "License deactivated successfully",
	})
}

// Status handles GET /api/license/status.
func (h *LicenseHandler) Status(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.StatusSummary(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "license status summary failed",
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apierrors.Internal())
		return
	}
	render.JSON(w, r, summary)
}

// Generate handles POST /api/license/generate. Admin only; the secret may
// arrive in the X-Admin-Key header or the admin_key body field.
func (h *LicenseHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// An empty body is fine; all generate parameters have defaults.
	var req domain.GenerateRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		render.Render(w, r, apierrors.Malformed("Invalid request body"))
		return
	}

	provided := r.Header.Get(middleware.AdminHeaderName)
	if provided == "" {
		provided = req.AdminKey
	}
	if !h.admin.Authorize(provided) {
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, domain.GenerateResponse{Success: false, Error: "Unauthorized"})
		return
	}

	duration := registry.DefaultDurationDays
	if req.DurationDays != nil {
		duration = *req.DurationDays
	}

	lic, err := h.service.Generate(ctx, req.LicenseType, duration, req.Features)
	if err != nil {
		h.logger.ErrorContext(ctx, "license generation failed",
			slog.String("error", err.Error()),
		)
		render.Render(w, r, apierrors.Internal())
		return
	}

	render.JSON(w, r, domain.GenerateResponse{
		Success:     true,
		LicenseKey:  lic.Key,
		LicenseType: lic.LicenseType,
		ExpiryDate:  lic.ExpiryDate,
		Features:    lic.Features,
	})
}

func writeVerifyError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, domain.VerificationResult{Valid: false, Error: message})
}

func writeActivateError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, domain.ActivateResponse{Success: false, Error: message})
}
