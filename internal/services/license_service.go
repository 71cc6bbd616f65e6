// Package services contains the business logic of the UVDM trust core:
// license verification policy on top of the registry, and webhook
// signature dispatch on top of the provider store.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"uvdm/internal/registry"
	"uvdm/internal/security"
	"uvdm/pkg/contracts/domain"
)

// LicenseService wraps the registry behind the verification policy.
type LicenseService struct {
	registry *registry.Registry
	logger   *slog.Logger
	now      func() time.Time
}

// NewLicenseService creates the verification service.
func NewLicenseService(reg *registry.Registry, logger *slog.Logger) *LicenseService {
	return &LicenseService{
		registry: reg,
		logger:   logger.With(slog.String("service", "license")),
		now:      time.Now,
	}
}

// Verify evaluates a license key against the registry. The check order is
// fixed so callers always receive the most specific rejection: not found,
// then expired, then inactive, then machine mismatch. Expiry wins over
// activity, so an expired-but-active license reports expired.
func (s *LicenseService) Verify(ctx context.Context, key, rawMachineID string) (domain.VerificationResult, error) {
	lic, err := s.registry.Get(ctx, key)
	if errors.Is(err, registry.ErrNotFound) {
		verificationsTotal.WithLabelValues(string(domain.StatusNotFound)).Inc()
		return domain.VerificationResult{
			Status: domain.StatusNotFound,
			Error:  "Invalid license key",
		}, nil
	}
	if err != nil {
		return domain.VerificationResult{}, fmt.Errorf("verify license: %w", err)
	}

	if lic.IsExpired(s.now()) {
		verificationsTotal.WithLabelValues(string(domain.StatusExpired)).Inc()
		return domain.VerificationResult{
			Status:     domain.StatusExpired,
			Error:      "License expired",
			ExpiryDate: lic.ExpiryDate,
		}, nil
	}

	if !lic.Active {
		verificationsTotal.WithLabelValues(string(domain.StatusInactive)).Inc()
		return domain.VerificationResult{
			Status: domain.StatusInactive,
			Error:  "License is not active",
		}, nil
	}

	if rawMachineID != "" && lic.IsBound() {
		if lic.MachineIDHash != security.HashMachineID(rawMachineID) {
			verificationsTotal.WithLabelValues(string(domain.StatusMachineMismatch)).Inc()
			s.logger.WarnContext(ctx, "license verification machine mismatch",
				slog.String("license_type", lic.LicenseType),
			)
			return domain.VerificationResult{
				Status: domain.StatusMachineMismatch,
				Error:  "License is bound to a different machine",
			}, nil
		}
	}

	verificationsTotal.WithLabelValues(string(domain.StatusValid)).Inc()
	return domain.VerificationResult{
		Valid:       true,
		Status:      domain.StatusValid,
		LicenseType: lic.LicenseType,
		ExpiryDate:  lic.ExpiryDate,
		Features:    lic.Features,
	}, nil
}

// Activate binds and activates a license for the given machine.
func (s *LicenseService) Activate(ctx context.Context, key, rawMachineID string) (domain.License, error) {
	return s.registry.Activate(ctx, key, rawMachineID)
}

// Deactivate marks a license inactive, keeping its binding.
func (s *LicenseService) Deactivate(ctx context.Context, key, rawMachineID string) (domain.License, error) {
	return s.registry.Deactivate(ctx, key, rawMachineID)
}

// Generate creates a new license.
func (s *LicenseService) Generate(ctx context.Context, licenseType string, durationDays int, features []string) (domain.License, error) {
	return s.registry.Generate(ctx, licenseType, durationDays, features)
}

// StatusSummary reports registry-wide counts.
func (s *LicenseService) StatusSummary(ctx context.Context) (domain.StatusSummary, error) {
	return s.registry.StatusSummary(ctx)
}
