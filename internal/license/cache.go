package license

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"uvdm/pkg/contracts/domain"
)

// OfflineTrustWindow is how long a cached successful verification is
// honored when the server is unreachable. Beyond it the cache is stale
// and verification fails rather than silently extending entitlement.
const OfflineTrustWindow = 7 * 24 * time.Hour

// CacheEntry is the single on-disk snapshot of the last successful
// online verification.
type CacheEntry struct {
	LicenseKey  string     `json:"license_key"`
	LicenseType string     `json:"license_type"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	Features    []string   `json:"features"`
	MachineID   string     `json:"machine_id"`
	VerifiedAt  time.Time  `json:"verified_at"`
}

// Age returns how long ago the entry was verified.
func (e *CacheEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.VerifiedAt)
}

// Trusted reports whether the entry is still inside the offline trust
// window.
func (e *CacheEntry) Trusted(now time.Time) bool {
	age := e.Age(now)
	return age >= 0 && age <= OfflineTrustWindow
}

// Cache persists the verification snapshot as a JSON file.
type Cache struct {
	path string
}

// NewCache creates a cache rooted at path.
func NewCache(path string) *Cache {
	return &Cache{path: path}
}

// Load reads the snapshot. Returns ErrNoCachedLicense when the file does
// not exist or cannot be parsed; a corrupt cache is treated the same as
// a missing one.
func (c *Cache) Load() (*CacheEntry, error) {
	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCachedLicense
		}
		return nil, fmt.Errorf("read license cache: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, ErrNoCachedLicense
	}
	if entry.LicenseKey == "" {
		return nil, ErrNoCachedLicense
	}
	return &entry, nil
}

// Save writes the snapshot, creating parent directories as needed. The
// file is written atomically via a rename.
func (c *Cache) Save(entry *CacheEntry) error {
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create cache dir: %w", err)
		}
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("encode license cache: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write license cache: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write license cache: %w", err)
	}
	return nil
}

// Remove deletes the snapshot. Missing files are not an error.
func (c *Cache) Remove() error {
	if err := os.Remove(c.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove license cache: %w", err)
	}
	return nil
}

// result converts a trusted entry into an offline verification result.
func (e *CacheEntry) result(now time.Time) domain.VerificationResult {
	return domain.VerificationResult{
		Valid:        true,
		Status:       domain.StatusValid,
		LicenseType:  e.LicenseType,
		ExpiryDate:   e.ExpiryDate,
		Features:     e.Features,
		Offline:      true,
		CacheAgeDays: int(e.Age(now).Hours() / 24),
	}
}
