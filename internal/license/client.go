// Package license implements the client side of UVDM license
// entitlement: online verification against the license server, machine
// binding, and a bounded offline cache so a valid license keeps working
// through short network outages.
package license

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"uvdm/internal/config"
	"uvdm/internal/security"
	"uvdm/pkg/contracts/domain"
)

// Client talks to the UVDM license server on behalf of the desktop
// application.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *Cache
	machine *security.MachineIdentity
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient creates a license client from configuration.
func NewClient(cfg config.ClientConfig, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.ServerURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		cache:   NewCache(cfg.CacheFile),
		machine: &security.MachineIdentity{},
		logger:  logger.With(slog.String("component", "license_client")),
		now:     time.Now,
	}
}

// MachineID returns this machine's identifier as sent to the server.
func (c *Client) MachineID() string {
	return c.machine.ID()
}

// VerifyLicense checks the key against the server. When offline is set
// the network is skipped and only the cache is consulted. When the
// server cannot be reached the last successful verification is honored
// if it is within the offline trust window; otherwise the error
// surfaces. A definitive server rejection never falls back to the cache.
func (c *Client) VerifyLicense(ctx context.Context, key string, offline bool) (domain.VerificationResult, error) {
	if offline {
		return c.verifyOffline(ctx, key)
	}

	req := domain.VerifyRequest{
		LicenseKey: key,
		MachineID:  c.machine.ID(),
	}

	var result domain.VerificationResult
	status, err := c.post(ctx, "/api/license/verify", req, &result)
	if err != nil {
		c.logger.WarnContext(ctx, "license server unreachable, trying offline cache",
			slog.String("error", err.Error()),
		)
		return c.verifyOffline(ctx, key)
	}

	// Any HTTP status carries a result body; 403/404 are definitive
	// rejections, not outages.
	if status == http.StatusOK && result.Valid {
		c.storeCache(ctx, key, result)
	} else {
		// The entitlement is gone; a stale snapshot must not resurrect it.
		if err := c.cache.Remove(); err != nil {
			c.logger.WarnContext(ctx, "failed to drop stale license cache",
				slog.String("error", err.Error()),
			)
		}
	}
	return result, nil
}

// verifyOffline resolves a verification from the on-disk cache. A cache
// miss or a stale entry degrades to an invalid answer, never to a hard
// failure; the application runs with reduced entitlement instead.
func (c *Client) verifyOffline(ctx context.Context, key string) (domain.VerificationResult, error) {
	entry, err := c.cache.Load()
	if err != nil || entry.LicenseKey != key || entry.MachineID != c.machine.ID() {
		return domain.VerificationResult{
			Valid:   false,
			Error:   "no valid cached license found",
			Offline: true,
		}, nil
	}

	now := c.now()
	if !entry.Trusted(now) {
		return domain.VerificationResult{
			Valid:        false,
			Error:        "no valid cached license found",
			Offline:      true,
			CacheAgeDays: int(entry.Age(now).Hours() / 24),
		}, nil
	}
	if entry.ExpiryDate != nil && now.After(*entry.ExpiryDate) {
		return domain.VerificationResult{
			Valid:   false,
			Status:  domain.StatusExpired,
			Error:   "License expired",
			Offline: true,
		}, nil
	}

	c.logger.InfoContext(ctx, "license verified from offline cache",
		slog.Int("cache_age_days", int(entry.Age(now).Hours()/24)),
	)
	return entry.result(now), nil
}

// ActivateLicense binds the key to this machine and seeds the offline
// cache on success.
func (c *Client) ActivateLicense(ctx context.Context, key string) (domain.ActivateResponse, error) {
	req := domain.ActivateRequest{
		LicenseKey: key,
		MachineID:  c.machine.ID(),
	}

	var resp domain.ActivateResponse
	if _, err := c.post(ctx, "/api/license/activate", req, &resp); err != nil {
		return domain.ActivateResponse{}, fmt.Errorf("%w: %w", ErrServerUnreachable, err)
	}

	if resp.Success {
		c.storeCache(ctx, key, domain.VerificationResult{
			Valid:       true,
			LicenseType: resp.LicenseType,
			ExpiryDate:  resp.ExpiryDate,
		})
	}
	return resp, nil
}

// DeactivateLicense releases this machine's use of the key and removes
// the offline cache regardless of the server's answer.
func (c *Client) DeactivateLicense(ctx context.Context, key string) (domain.ActivateResponse, error) {
	req := domain.DeactivateRequest{
		LicenseKey: key,
		MachineID:  c.machine.ID(),
	}

	var resp domain.ActivateResponse
	_, err := c.post(ctx, "/api/license/deactivate", req, &resp)

	if rmErr := c.cache.Remove(); rmErr != nil {
		c.logger.WarnContext(ctx, "failed to remove license cache",
			slog.String("error", rmErr.Error()),
		)
	}
	if err != nil {
		return domain.ActivateResponse{}, fmt.Errorf("%w: %w", ErrServerUnreachable, err)
	}
	return resp, nil
}

// CheckServerReachable probes the server's root endpoint.
func (c *Client) CheckServerReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

func (c *Client) storeCache(ctx context.Context, key string, result domain.VerificationResult) {
	entry := &CacheEntry{
		LicenseKey:  key,
		LicenseType: result.LicenseType,
		ExpiryDate:  result.ExpiryDate,
		Features:    result.Features,
		MachineID:   c.machine.ID(),
		VerifiedAt:  c.now().UTC(),
	}
	if err := c.cache.Save(entry); err != nil {
		// Caching is best effort; online verification already succeeded.
		c.logger.WarnContext(ctx, "failed to write license cache",
			slog.String("error", err.Error()),
		)
	}
}

// post sends a JSON request and decodes the JSON response regardless of
// status code, returning the status. Transport failures return an error.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) (int, error) {
	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return 0, fmt.Errorf("build request url: %w", err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("license server request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	if len(data) > 0 && out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
		}
	}
	return resp.StatusCode, nil
}
