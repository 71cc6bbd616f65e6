// Package middleware provides the HTTP middleware for the UVDM license
// server: the admin authentication guard and structured request logging.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/render"

	apierrors "uvdm/internal/errors"
	"uvdm/internal/security"
)

// AdminHeaderName is the header carrying the admin shared secret.
const AdminHeaderName = "X-Admin-Key"

// AdminAuth is the shared-secret gate protecting registry- and
// provider-mutating endpoints. The disabled state is explicit: with no
// secret configured the guard permits everything, which is a development
// default, not a production posture.
type AdminAuth struct {
	secret string
	logger *slog.Logger
}

// NewAdminAuth creates the admin guard. An empty secret leaves the guard
// disabled.
func NewAdminAuth(secret string, logger *slog.Logger) *AdminAuth {
	guard := &AdminAuth{
		secret: secret,
		logger: logger.With(slog.String("component", "admin_guard")),
	}
	if !guard.Enabled() {
		logger.Warn("ADMIN GUARD DISABLED: no admin secret configured, all admin endpoints are open. " +
			"Set UVDM_ADMIN_KEY before exposing this server.")
	}
	return guard
}

// Enabled reports whether a secret is configured.
func (a *AdminAuth) Enabled() bool {
	return a.secret != ""
}

// Authorize checks a caller-supplied secret in constant time. With the
// guard disabled every secret, including an empty one, is accepted.
func (a *AdminAuth) Authorize(provided string) bool {
	if !a.Enabled() {
		return true
	}
	return security.SecureCompare(provided, a.secret)
}

// Require is a chi middleware enforcing the guard via the X-Admin-Key
// header. Each permitted request through a disabled guard is logged so the
// trust gap stays visible.
func (a *AdminAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.Enabled() {
			a.logger.WarnContext(r.Context(), "admin request permitted without authentication",
				slog.String("path", r.URL.Path),
			)
			next.ServeHTTP(w, r)
			return
		}
		if !a.Authorize(r.Header.Get(AdminHeaderName)) {
			a.logger.WarnContext(r.Context(), "admin authentication failed",
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			render.Render(w, r, apierrors.ErrUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
