package license

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uvdm/internal/security"
	"uvdm/pkg/contracts/domain"
)

const testKey = "UVDM-DEADBEEF-CAFEBABE-12345678-9ABCDEF0"

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	return &Client{
		baseURL: serverURL,
		http:    &http.Client{Timeout: 2 * time.Second},
		cache:   NewCache(filepath.Join(t.TempDir(), "license_cache.json")),
		machine: &security.MachineIdentity{},
		logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		now:     time.Now,
	}
}

func verifyServer(t *testing.T, status int, result domain.VerificationResult) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/license/verify", r.URL.Path)

		var req domain.VerifyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, testKey, req.LicenseKey)
		require.NotEmpty(t, req.MachineID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(result)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVerifyLicenseOnline(t *testing.T) {
	expiry := time.Now().Add(300 * 24 * time.Hour).UTC().Truncate(time.Second)
	srv := verifyServer(t, http.StatusOK, domain.VerificationResult{
		Valid:       true,
		Status:      domain.StatusValid,
		LicenseType: "standard",
		ExpiryDate:  &expiry,
		Features:    []string{"download", "upload"},
	})

	c := newTestClient(t, srv.URL)
	result, err := c.VerifyLicense(context.Background(), testKey, false)
	require.NoError(t, err)

	assert.True(t, result.Valid)
	assert.False(t, result.Offline)
	assert.Equal(t, "standard", result.LicenseType)

	// A successful verification seeds the offline cache.
	entry, err := c.cache.Load()
	require.NoError(t, err)
	assert.Equal(t, testKey, entry.LicenseKey)
	assert.Equal(t, c.MachineID(), entry.MachineID)
}

func TestVerifyLicenseRejectionReturnsResult(t *testing.T) {
	srv := verifyServer(t, http.StatusForbidden, domain.VerificationResult{
		Valid:  false,
		Status: domain.StatusExpired,
		Error:  "License expired",
	})

	c := newTestClient(t, srv.URL)
	result, err := c.VerifyLicense(context.Background(), testKey, false)
	require.NoError(t, err)

	assert.False(t, result.Valid)
	assert.Equal(t, domain.StatusExpired, result.Status)
	assert.False(t, result.Offline)
}

func TestVerifyLicenseRejectionDropsCache(t *testing.T) {
	srv := verifyServer(t, http.StatusForbidden, domain.VerificationResult{
		Valid: false,
		Error: "License is not active",
	})

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.cache.Save(&CacheEntry{
		LicenseKey: testKey,
		MachineID:  c.MachineID(),
		VerifiedAt: time.Now().UTC(),
	}))

	_, err := c.VerifyLicense(context.Background(), testKey, false)
	require.NoError(t, err)

	_, err = c.cache.Load()
	assert.ErrorIs(t, err, ErrNoCachedLicense)
}

func TestVerifyLicenseOfflineFallback(t *testing.T) {
	tests := []struct {
		name      string
		age       time.Duration
		wantValid bool
	}{
		{name: "fresh cache", age: time.Hour, wantValid: true},
		{name: "just inside window", age: 6*24*time.Hour + 23*time.Hour, wantValid: true},
		{name: "just past window", age: 7*24*time.Hour + time.Second, wantValid: false},
		{name: "far past window", age: 30 * 24 * time.Hour, wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Unreachable server: nothing listens on this address.
			c := newTestClient(t, "http://127.0.0.1:1")
			require.NoError(t, c.cache.Save(&CacheEntry{
				LicenseKey:  testKey,
				LicenseType: "standard",
				Features:    []string{"download"},
				MachineID:   c.MachineID(),
				VerifiedAt:  time.Now().UTC().Add(-tt.age),
			}))

			result, err := c.VerifyLicense(context.Background(), testKey, false)
			require.NoError(t, err)
			assert.True(t, result.Offline)

			if !tt.wantValid {
				assert.False(t, result.Valid)
				assert.Equal(t, "no valid cached license found", result.Error)
				return
			}
			assert.True(t, result.Valid)
			assert.Equal(t, "standard", result.LicenseType)
			assert.Equal(t, int(tt.age.Hours()/24), result.CacheAgeDays)
		})
	}
}

func TestVerifyLicenseForcedOffline(t *testing.T) {
	// A reachable server must not be contacted when offline is requested.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("unexpected request to server in offline mode")
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.cache.Save(&CacheEntry{
		LicenseKey:  testKey,
		LicenseType: "standard",
		MachineID:   c.MachineID(),
		VerifiedAt:  time.Now().UTC(),
	}))

	result, err := c.VerifyLicense(context.Background(), testKey, true)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.True(t, result.Offline)
}

func TestVerifyLicenseOfflineNoCache(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")

	result, err := c.VerifyLicense(context.Background(), testKey, false)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.True(t, result.Offline)
	assert.Equal(t, "no valid cached license found", result.Error)
}

func TestVerifyLicenseOfflineDifferentKey(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	require.NoError(t, c.cache.Save(&CacheEntry{
		LicenseKey: "UVDM-00000000-00000000-00000000-00000000",
		MachineID:  c.MachineID(),
		VerifiedAt: time.Now().UTC(),
	}))

	result, err := c.VerifyLicense(context.Background(), testKey, false)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestVerifyLicenseOfflineDifferentMachine(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	require.NoError(t, c.cache.Save(&CacheEntry{
		LicenseKey: testKey,
		MachineID:  "someone-elses-machine",
		VerifiedAt: time.Now().UTC(),
	}))

	result, err := c.VerifyLicense(context.Background(), testKey, false)
	require.NoError(t, err)
	assert.False(t, result.Valid)
}

func TestVerifyLicenseOfflineExpiredLicense(t *testing.T) {
	// The cache is fresh but the license itself expired since the last
	// online check.
	c := newTestClient(t, "http://127.0.0.1:1")
	expired := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, c.cache.Save(&CacheEntry{
		LicenseKey: testKey,
		ExpiryDate: &expired,
		MachineID:  c.MachineID(),
		VerifiedAt: time.Now().UTC(),
	}))

	result, err := c.VerifyLicense(context.Background(), testKey, false)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, domain.StatusExpired, result.Status)
	assert.True(t, result.Offline)
}

func TestVerifyLicenseCorruptCache(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	require.NoError(t, os.WriteFile(c.cache.path, []byte("{not json"), 0o600))

	result, err := c.VerifyLicense(context.Background(), testKey, false)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.True(t, result.Offline)
}

func TestActivateLicenseSeedsCache(t *testing.T) {
	expiry := time.Now().Add(365 * 24 * time.Hour).UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/license/activate", r.URL.Path)
		json.NewEncoder(w).Encode(domain.ActivateResponse{
			Success:     true,
			Message:     "License activated successfully",
			LicenseType: "standard",
			ExpiryDate:  &expiry,
		})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	resp, err := c.ActivateLicense(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	entry, err := c.cache.Load()
	require.NoError(t, err)
	assert.Equal(t, testKey, entry.LicenseKey)
	assert.Equal(t, "standard", entry.LicenseType)
}

func TestActivateLicenseConflictNoCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(domain.ActivateResponse{
			Success: false,
			Error:   "License already activated on another machine",
		})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	resp, err := c.ActivateLicense(context.Background(), testKey)
	require.NoError(t, err)
	assert.False(t, resp.Success)

	_, err = c.cache.Load()
	assert.ErrorIs(t, err, ErrNoCachedLicense)
}

func TestDeactivateLicenseRemovesCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/license/deactivate", r.URL.Path)
		json.NewEncoder(w).Encode(domain.ActivateResponse{
			Success: true,
			Message: "License deactivated successfully",
		})
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.cache.Save(&CacheEntry{
		LicenseKey: testKey,
		MachineID:  c.MachineID(),
		VerifiedAt: time.Now().UTC(),
	}))

	resp, err := c.DeactivateLicense(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, resp.Success)

	_, err = c.cache.Load()
	assert.ErrorIs(t, err, ErrNoCachedLicense)
}

func TestDeactivateLicenseUnreachableStillRemovesCache(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:1")
	require.NoError(t, c.cache.Save(&CacheEntry{
		LicenseKey: testKey,
		MachineID:  c.MachineID(),
		VerifiedAt: time.Now().UTC(),
	}))

	_, err := c.DeactivateLicense(context.Background(), testKey)
	assert.ErrorIs(t, err, ErrServerUnreachable)

	_, err = c.cache.Load()
	assert.ErrorIs(t, err, ErrNoCachedLicense)
}

func TestCheckServerReachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"running"}`))
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	assert.True(t, c.CheckServerReachable(context.Background()))

	c = newTestClient(t, "http://127.0.0.1:1")
	assert.False(t, c.CheckServerReachable(context.Background()))
}

func TestCacheSaveAtomicOverwrite(t *testing.T) {
	cache := NewCache(filepath.Join(t.TempDir(), "nested", "cache.json"))

	first := &CacheEntry{LicenseKey: testKey, MachineID: "m1", VerifiedAt: time.Now().UTC()}
	require.NoError(t, cache.Save(first))

	second := &CacheEntry{LicenseKey: testKey, MachineID: "m2", VerifiedAt: time.Now().UTC()}
	require.NoError(t, cache.Save(second))

	entry, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "m2", entry.MachineID)
}
