// Package domain contains the wire-level contract types shared between the
// UVDM license server and the embedded license client. These types are the
// Single Source of Truth for the license API payloads.
package domain

import (
	"time"
)

// License represents a license record as stored by the registry.
type License struct {
	Key           string     `json:"license_key" db:"license_key"`
	LicenseType   string     `json:"license_type" db:"license_type"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	ActivatedAt   *time.Time `json:"activated_at,omitempty" db:"activated_at"`
	DeactivatedAt *time.Time `json:"deactivated_at,omitempty" db:"deactivated_at"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty" db:"expiry_date"`
	Active        bool       `json:"active" db:"active"`
	MachineIDHash string     `json:"-" db:"machine_id_hash"`
	Features      []string   `json:"features"`
}

// IsExpired reports whether the license has an expiry date in the past.
// A nil expiry date means the license is perpetual.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiryDate != nil && now.After(*l.ExpiryDate)
}

// IsBound reports whether the license is bound to a machine.
func (l *License) IsBound() bool {
	return l.MachineIDHash != ""
}

// VerificationStatus is the discriminant of a license verification result.
// Exactly one status applies per verification; the check order is fixed:
// not found, expired, inactive, machine mismatch, valid.
type VerificationStatus string

const (
	StatusValid           VerificationStatus = "valid"
	StatusExpired         VerificationStatus = "expired"
	StatusInactive        VerificationStatus = "inactive"
	StatusMachineMismatch VerificationStatus = "machine_mismatch"
	StatusNotFound        VerificationStatus = "not_found"
)

// VerificationResult is the outcome of a license verification, either from
// the server or from the client's offline cache.
type VerificationResult struct {
	Valid       bool               `json:"valid"`
	Status      VerificationStatus `json:"status,omitempty"`
	LicenseType string             `json:"license_type,omitempty"`
	ExpiryDate  *time.Time         `json:"expiry_date,omitempty"`
	Features    []string           `json:"features,omitempty"`
	Error       string             `json:"error,omitempty"`

	// Offline reporting, populated by the client only.
	Offline      bool `json:"offline,omitempty"`
	CacheAgeDays int  `json:"cache_age_days,omitempty"`
}

// VerifyRequest is the payload for POST /api/license/verify.
type VerifyRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	MachineID  string `json:"machine_id,omitempty"`
}

// ActivateRequest is the payload for POST /api/license/activate.
type ActivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	MachineID  string `json:"machine_id" validate:"required"`
}

// DeactivateRequest is the payload for POST /api/license/deactivate.
// MachineID is optional; when present it must match the stored binding.
type DeactivateRequest struct {
	LicenseKey string `json:"license_key" validate:"required"`
	MachineID  string `json:"machine_id,omitempty"`
}

// ActivateResponse is returned by the activate and deactivate endpoints.
type ActivateResponse struct {
	Success     bool       `json:"success"`
	Message     string     `json:"message,omitempty"`
	Error       string     `json:"error,omitempty"`
	LicenseType string     `json:"license_type,omitempty"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
}

// GenerateRequest is the payload for POST /api/license/generate.
// AdminKey duplicates the X-Admin-Key header for callers that cannot set
// custom headers; either form satisfies the admin guard.
type GenerateRequest struct {
	AdminKey    string   `json:"admin_key,omitempty"`
	LicenseType string   `json:"license_type,omitempty"`
	// DurationDays distinguishes absent (default one year) from an
	// explicit zero (perpetual).
	DurationDays *int     `json:"duration_days,omitempty"`
	Features     []string `json:"features,omitempty"`
}

// GenerateResponse is returned by the generate endpoint.
type GenerateResponse struct {
	Success     bool       `json:"success"`
	LicenseKey  string     `json:"license_key,omitempty"`
	LicenseType string     `json:"license_type,omitempty"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
	Features    []string   `json:"features,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// StatusSummary is returned by GET /api/license/status.
type StatusSummary struct {
	TotalLicenses   int `json:"total_licenses"`
	ActiveLicenses  int `json:"active_licenses"`
	ExpiredLicenses int `json:"expired_licenses"`
}
