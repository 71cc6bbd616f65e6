package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uvdm/internal/middleware"
	"uvdm/internal/registry"
	"uvdm/internal/security"
	"uvdm/internal/services"
	"uvdm/internal/store"
	"uvdm/pkg/contracts/domain"
)

const testAdminKey = "test-admin-key"

type testAPI struct {
	router    chi.Router
	providers *store.Providers
	registry  *registry.Registry
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	providers := store.NewProviders(db)
	reg := registry.New(db, logger)
	licenseService := services.NewLicenseService(reg, logger)
	webhookService := services.NewWebhookService(providers, logger)
	admin := middleware.NewAdminAuth(testAdminKey, logger)

	licenseHandler := NewLicenseHandler(licenseService, admin, logger, 0)
	webhookHandler := NewWebhookHandler(webhookService, admin, logger)
	adminHandler := NewAdminHandler(providers, admin, logger)
	healthHandler := NewHealthHandler(db, providers, logger)

	r := chi.NewRouter()
	r.Get("/", healthHandler.Root)
	r.Get("/healthz", healthHandler.Healthz)
	r.Route("/api", func(r chi.Router) {
		r.Mount("/license", licenseHandler.Routes())
		r.Mount("/webhooks", webhookHandler.Routes())
		r.Mount("/admin/payments", adminHandler.Routes())
		r.Get("/payments/providers", healthHandler.PublicProviders)
	})

	return &testAPI{router: r, providers: providers, registry: reg}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func (a *testAPI) generateLicense(t *testing.T) string {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/license/generate", domain.GenerateRequest{}, map[string]string{
		middleware.AdminHeaderName: testAdminKey,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp domain.GenerateResponse
	decodeBody(t, rec, &resp)
	require.True(t, resp.Success)
	return resp.LicenseKey
}

func TestGenerateEndpoint(t *testing.T) {
	api := newTestAPI(t)

	t.Run("requires admin key", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/api/license/generate", domain.GenerateRequest{}, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		var resp domain.GenerateResponse
		decodeBody(t, rec, &resp)
		assert.False(t, resp.Success)
		assert.Equal(t, "Unauthorized", resp.Error)
	})

	t.Run("rejects wrong admin key", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/api/license/generate", domain.GenerateRequest{}, map[string]string{
			middleware.AdminHeaderName: "wrong",
		})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("issues key with defaults", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/api/license/generate", domain.GenerateRequest{}, map[string]string{
			middleware.AdminHeaderName: testAdminKey,
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp domain.GenerateResponse
		decodeBody(t, rec, &resp)
		assert.True(t, resp.Success)
		assert.Regexp(t, regexp.MustCompile(`^UVDM-[0-9A-F]{8}-[0-9A-F]{8}-[0-9A-F]{8}-[0-9A-F]{8}$`), resp.LicenseKey)
		assert.Equal(t, "standard", resp.LicenseType)
		assert.Equal(t, []string{"download", "upload", "playlist", "batch"}, resp.Features)
		require.NotNil(t, resp.ExpiryDate)
		assert.WithinDuration(t, time.Now().AddDate(0, 0, 365), *resp.ExpiryDate, time.Minute)
	})

	t.Run("accepts admin key in body", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/api/license/generate", domain.GenerateRequest{
			AdminKey:    testAdminKey,
			LicenseType: "pro",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp domain.GenerateResponse
		decodeBody(t, rec, &resp)
		assert.True(t, resp.Success)
		assert.Equal(t, "pro", resp.LicenseType)
	})

	t.Run("explicit zero duration means no expiry", func(t *testing.T) {
		zero := 0
		rec := api.do(t, http.MethodPost, "/api/license/generate", domain.GenerateRequest{
			DurationDays: &zero,
		}, map[string]string{middleware.AdminHeaderName: testAdminKey})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp domain.GenerateResponse
		decodeBody(t, rec, &resp)
		assert.True(t, resp.Success)
		assert.Nil(t, resp.ExpiryDate)
	})
}

func TestVerifyEndpoint(t *testing.T) {
	api := newTestAPI(t)

	t.Run("missing license_key", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/api/license/verify", map[string]string{}, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		var result domain.VerificationResult
		decodeBody(t, rec, &result)
		assert.False(t, result.Valid)
		assert.Equal(t, "Missing license_key", result.Error)
	})

	t.Run("unknown key", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/api/license/verify", domain.VerifyRequest{
			LicenseKey: "UVDM-00000000-00000000-00000000-00000000",
		}, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)

		var result domain.VerificationResult
		decodeBody(t, rec, &result)
		assert.False(t, result.Valid)
		assert.Equal(t, domain.StatusNotFound, result.Status)
	})

	t.Run("inactive before activation", func(t *testing.T) {
		key := api.generateLicense(t)
		rec := api.do(t, http.MethodPost, "/api/license/verify", domain.VerifyRequest{LicenseKey: key}, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)

		var result domain.VerificationResult
		decodeBody(t, rec, &result)
		assert.Equal(t, domain.StatusInactive, result.Status)
	})

	t.Run("offline fields never appear in server responses", func(t *testing.T) {
		key := api.generateLicense(t)
		rec := api.do(t, http.MethodPost, "/api/license/activate", domain.ActivateRequest{
			LicenseKey: key, MachineID: "machine-offline-check",
		}, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = api.do(t, http.MethodPost, "/api/license/verify", domain.VerifyRequest{
			LicenseKey: key, MachineID: "machine-offline-check",
		}, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotContains(t, rec.Body.String(), `"offline"`)
		assert.NotContains(t, rec.Body.String(), `"cache_age_days"`)
	})
}

func TestLicenseLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	key := api.generateLicense(t)

	// Activate on machine A.
	rec := api.do(t, http.MethodPost, "/api/license/activate", domain.ActivateRequest{
		LicenseKey: key, MachineID: "machine-a",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var act domain.ActivateResponse
	decodeBody(t, rec, &act)
	assert.True(t, act.Success)
	assert.Equal(t, "License activated successfully", act.Message)
	assert.Equal(t, "standard", act.LicenseType)

	// Verification from the bound machine succeeds.
	rec = api.do(t, http.MethodPost, "/api/license/verify", domain.VerifyRequest{
		LicenseKey: key, MachineID: "machine-a",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var result domain.VerificationResult
	decodeBody(t, rec, &result)
	assert.True(t, result.Valid)
	assert.Equal(t, domain.StatusValid, result.Status)
	assert.NotEmpty(t, result.Features)

	// Verification from another machine is refused.
	rec = api.do(t, http.MethodPost, "/api/license/verify", domain.VerifyRequest{
		LicenseKey: key, MachineID: "machine-b",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	decodeBody(t, rec, &result)
	assert.Equal(t, domain.StatusMachineMismatch, result.Status)

	// Activation from another machine conflicts.
	rec = api.do(t, http.MethodPost, "/api/license/activate", domain.ActivateRequest{
		LicenseKey: key, MachineID: "machine-b",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	decodeBody(t, rec, &act)
	assert.False(t, act.Success)
	assert.Equal(t, "License already activated on another machine", act.Error)

	// Re-activation from the same machine is idempotent.
	rec = api.do(t, http.MethodPost, "/api/license/activate", domain.ActivateRequest{
		LicenseKey: key, MachineID: "machine-a",
	}, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Deactivation from another machine is refused.
	rec = api.do(t, http.MethodPost, "/api/license/deactivate", domain.DeactivateRequest{
		LicenseKey: key, MachineID: "machine-b",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	decodeBody(t, rec, &act)
	assert.Equal(t, "Cannot deactivate license from different machine", act.Error)

	// Deactivation from the bound machine succeeds.
	rec = api.do(t, http.MethodPost, "/api/license/deactivate", domain.DeactivateRequest{
		LicenseKey: key, MachineID: "machine-a",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &act)
	assert.True(t, act.Success)
	assert.Equal(t, "License deactivated successfully", act.Message)

	// The license is now inactive.
	rec = api.do(t, http.MethodPost, "/api/license/verify", domain.VerifyRequest{
		LicenseKey: key, MachineID: "machine-a",
	}, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	decodeBody(t, rec, &result)
	assert.Equal(t, domain.StatusInactive, result.Status)
}

func TestStatusEndpoint(t *testing.T) {
	api := newTestAPI(t)
	key := api.generateLicense(t)
	api.generateLicense(t)

	rec := api.do(t, http.MethodPost, "/api/license/activate", domain.ActivateRequest{
		LicenseKey: key, MachineID: "machine-a",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(t, http.MethodGet, "/api/license/status", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var summary domain.StatusSummary
	decodeBody(t, rec, &summary)
	assert.Equal(t, 2, summary.TotalLicenses)
	assert.Equal(t, 1, summary.ActiveLicenses)
	assert.Equal(t, 0, summary.ExpiredLicenses)
}

func (a *testAPI) createProvider(t *testing.T, key string, enabled bool, secret string) domain.PaymentProvider {
	t.Helper()
	ctx := context.Background()

	provider := domain.PaymentProvider{
		ProviderKey:  key,
		ProviderName: key,
		Config:       map[string]string{},
		Enabled:      enabled,
	}
	require.NoError(t, a.providers.CreateProvider(ctx, &provider))

	if secret != "" {
		webhook := domain.WebhookSettings{
			ProviderID:    provider.ID,
			WebhookSecret: secret,
			Enabled:       true,
		}
		require.NoError(t, a.providers.CreateWebhook(ctx, &webhook))
	}
	return provider
}

func TestWebhookEndpoint(t *testing.T) {
	const secret = "whsec_test"
	payload := []byte(`{"type":"payment.completed","id":"evt_123"}`)

	t.Run("unknown provider", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodPost, "/api/webhooks/nope", payload, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("disabled provider", func(t *testing.T) {
		api := newTestAPI(t)
		api.createProvider(t, "paypal", false, secret)
		rec := api.do(t, http.MethodPost, "/api/webhooks/paypal", payload, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("stripe valid signature", func(t *testing.T) {
		api := newTestAPI(t)
		api.createProvider(t, "stripe", true, secret)

		ts := time.Now().Unix()
		digest := security.ComputeHMACSHA256(secret, []byte(fmt.Sprintf("%d.%s", ts, payload)))
		rec := api.do(t, http.MethodPost, "/api/webhooks/stripe", payload, map[string]string{
			"Stripe-Signature": fmt.Sprintf("t=%d,v1=%s", ts, digest),
		})
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Success  bool   `json:"success"`
			Provider string `json:"provider"`
		}
		decodeBody(t, rec, &resp)
		assert.True(t, resp.Success)
		assert.Equal(t, "stripe", resp.Provider)
	})

	t.Run("stripe tampered payload", func(t *testing.T) {
		api := newTestAPI(t)
		api.createProvider(t, "stripe", true, secret)

		ts := time.Now().Unix()
		digest := security.ComputeHMACSHA256(secret, []byte(fmt.Sprintf("%d.%s", ts, payload)))
		rec := api.do(t, http.MethodPost, "/api/webhooks/stripe", []byte(`{"type":"payment.completed","id":"evt_999"}`), map[string]string{
			"Stripe-Signature": fmt.Sprintf("t=%d,v1=%s", ts, digest),
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("stripe missing header", func(t *testing.T) {
		api := newTestAPI(t)
		api.createProvider(t, "stripe", true, secret)
		rec := api.do(t, http.MethodPost, "/api/webhooks/stripe", payload, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("generic provider valid signature", func(t *testing.T) {
		api := newTestAPI(t)
		api.createProvider(t, "paypal", true, secret)

		digest := security.ComputeHMACSHA256(secret, payload)
		rec := api.do(t, http.MethodPost, "/api/webhooks/paypal", payload, map[string]string{
			"Paypal-Transmission-Sig": digest,
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("generic provider wrong secret", func(t *testing.T) {
		api := newTestAPI(t)
		api.createProvider(t, "paypal", true, secret)

		digest := security.ComputeHMACSHA256("other-secret", payload)
		rec := api.do(t, http.MethodPost, "/api/webhooks/paypal", payload, map[string]string{
			"Paypal-Transmission-Sig": digest,
		})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no enabled secret accepts unverified", func(t *testing.T) {
		api := newTestAPI(t)
		api.createProvider(t, "crypto", true, "")
		rec := api.do(t, http.MethodPost, "/api/webhooks/crypto", payload, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("test endpoint requires admin", func(t *testing.T) {
		api := newTestAPI(t)
		rec := api.do(t, http.MethodPost, "/api/webhooks/stripe/test", payload, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		rec = api.do(t, http.MethodPost, "/api/webhooks/stripe/test", payload, map[string]string{
			middleware.AdminHeaderName: testAdminKey,
		})
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestAdminProviderCRUD(t *testing.T) {
	api := newTestAPI(t)
	adminHeaders := map[string]string{middleware.AdminHeaderName: testAdminKey}

	t.Run("requires admin key", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/api/admin/payments/", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	var created domain.PaymentProvider
	t.Run("create", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/api/admin/payments/", domain.ProviderRequest{
			ProviderKey:  "stripe",
			ProviderName: "Stripe",
			Config:       map[string]string{"api_key": "sk_live_1234567890"},
			Enabled:      true,
		}, adminHeaders)
		require.Equal(t, http.StatusCreated, rec.Code)

		decodeBody(t, rec, &created)
		assert.NotEmpty(t, created.ID)
		// The response masks credentials.
		assert.Equal(t, "7890", created.Config["api_key"][len(created.Config["api_key"])-4:])
		assert.Contains(t, created.Config["api_key"], "*")
	})

	t.Run("duplicate key conflicts", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/api/admin/payments/", domain.ProviderRequest{
			ProviderKey:  "stripe",
			ProviderName: "Stripe again",
		}, adminHeaders)
		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("get masks secrets by default", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/api/admin/payments/"+created.ID, nil, adminHeaders)
		require.Equal(t, http.StatusOK, rec.Code)

		var got domain.PaymentProvider
		decodeBody(t, rec, &got)
		assert.Contains(t, got.Config["api_key"], "*")
	})

	t.Run("get with include_secrets", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/api/admin/payments/"+created.ID+"?include_secrets=true", nil, adminHeaders)
		require.Equal(t, http.StatusOK, rec.Code)

		var got domain.PaymentProvider
		decodeBody(t, rec, &got)
		assert.Equal(t, "sk_live_1234567890", got.Config["api_key"])
	})

	t.Run("update", func(t *testing.T) {
		rec := api.do(t, http.MethodPut, "/api/admin/payments/"+created.ID, domain.ProviderRequest{
			ProviderKey:  "stripe",
			ProviderName: "Stripe Payments",
			Config:       map[string]string{"api_key": "sk_live_1234567890"},
			Enabled:      false,
		}, adminHeaders)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = api.do(t, http.MethodGet, "/api/admin/payments/"+created.ID, nil, adminHeaders)
		var got domain.PaymentProvider
		decodeBody(t, rec, &got)
		assert.Equal(t, "Stripe Payments", got.ProviderName)
		assert.False(t, got.Enabled)
	})

	t.Run("update unknown id", func(t *testing.T) {
		rec := api.do(t, http.MethodPut, "/api/admin/payments/missing", domain.ProviderRequest{
			ProviderKey:  "x",
			ProviderName: "x",
		}, adminHeaders)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := api.do(t, http.MethodDelete, "/api/admin/payments/"+created.ID, nil, adminHeaders)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = api.do(t, http.MethodGet, "/api/admin/payments/"+created.ID, nil, adminHeaders)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAdminWebhookCRUD(t *testing.T) {
	api := newTestAPI(t)
	adminHeaders := map[string]string{middleware.AdminHeaderName: testAdminKey}
	provider := api.createProvider(t, "wise", true, "")

	var created domain.WebhookSettings
	t.Run("create generates missing secret", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/api/admin/payments/webhooks/", domain.WebhookRequest{
			ProviderID: provider.ID,
			WebhookURL: "https://example.com/hooks/wise",
			Enabled:    true,
		}, adminHeaders)
		require.Equal(t, http.StatusCreated, rec.Code)

		decodeBody(t, rec, &created)
		assert.NotEmpty(t, created.ID)
		// The generated secret is returned once, in the clear.
		assert.NotEmpty(t, created.WebhookSecret)
		assert.NotContains(t, created.WebhookSecret, "*")
	})

	t.Run("create for unknown provider", func(t *testing.T) {
		rec := api.do(t, http.MethodPost, "/api/admin/payments/webhooks/", domain.WebhookRequest{
			ProviderID: "missing",
		}, adminHeaders)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("list masks secrets", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/api/admin/payments/webhooks/?provider_id="+provider.ID, nil, adminHeaders)
		require.Equal(t, http.StatusOK, rec.Code)

		var webhooks []domain.WebhookSettings
		decodeBody(t, rec, &webhooks)
		require.Len(t, webhooks, 1)
		assert.Contains(t, webhooks[0].WebhookSecret, "*")
	})

	t.Run("update", func(t *testing.T) {
		rec := api.do(t, http.MethodPut, "/api/admin/payments/webhooks/"+created.ID, domain.WebhookRequest{
			ProviderID:    provider.ID,
			WebhookURL:    "https://example.com/hooks/wise-v2",
			WebhookSecret: created.WebhookSecret,
			Enabled:       false,
		}, adminHeaders)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		rec := api.do(t, http.MethodDelete, "/api/admin/payments/webhooks/"+created.ID, nil, adminHeaders)
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = api.do(t, http.MethodDelete, "/api/admin/payments/webhooks/"+created.ID, nil, adminHeaders)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestPublicEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.createProvider(t, "stripe", true, "whsec_x")
	api.createProvider(t, "paypal", false, "")

	t.Run("root descriptor", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var desc struct {
			Service   string            `json:"service"`
			Status    string            `json:"status"`
			Endpoints map[string]string `json:"endpoints"`
		}
		decodeBody(t, rec, &desc)
		assert.Equal(t, "UVDM License Server", desc.Service)
		assert.Equal(t, "running", desc.Status)
		assert.NotEmpty(t, desc.Endpoints)
	})

	t.Run("healthz", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/healthz", nil, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("providers lists only enabled", func(t *testing.T) {
		rec := api.do(t, http.MethodGet, "/api/payments/providers", nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp struct {
			Providers []domain.ProviderSummary `json:"providers"`
		}
		decodeBody(t, rec, &resp)
		require.Len(t, resp.Providers, 1)
		assert.Equal(t, "stripe", resp.Providers[0].ProviderKey)
		// No config or secret material in the public view.
		assert.NotContains(t, rec.Body.String(), "whsec_x")
	})
}
