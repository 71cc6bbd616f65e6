// Package registry implements the durable license registry: key
// generation, machine binding, and the activation lifecycle.
//
// Every mutation runs as a single read-modify-write transaction so that
// two concurrent activation attempts against the same key serialize
// instead of silently overwriting one another.
package registry

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"uvdm/internal/security"
	"uvdm/internal/store"
	"uvdm/pkg/contracts/domain"
)

var (
	// ErrNotFound is returned when a license key is not registered.
	ErrNotFound = errors.New("license not found")
	// ErrConflict is returned when activation collides with an existing
	// binding to a different machine.
	ErrConflict = errors.New("license already activated on another machine")
	// ErrForbidden is returned when deactivation is attempted from a
	// machine other than the bound one.
	ErrForbidden = errors.New("license is bound to a different machine")
)

// KeyPattern is the fixed lexical format of a license key: the UVDM prefix
// plus four hyphen-separated groups of eight uppercase hex characters.
var KeyPattern = regexp.MustCompile(`^UVDM-[0-9A-F]{8}-[0-9A-F]{8}-[0-9A-F]{8}-[0-9A-F]{8}$`)

// DefaultFeatures is the capability set granted when generate is called
// without an explicit feature list.
var DefaultFeatures = []string{"download", "upload", "playlist", "batch"}

const (
	// DefaultLicenseType is applied when generate receives no tier tag.
	DefaultLicenseType = "standard"
	// DefaultDurationDays is applied when generate receives no duration.
	DefaultDurationDays = 365

	keyInsertRetries = 3
)

// Registry is the durable keyed store of license records.
type Registry struct {
	db     *store.DB
	logger *slog.Logger
	now    func() time.Time
}

// New creates a license registry on the shared database.
func New(db *store.DB, logger *slog.Logger) *Registry {
	return &Registry{
		db:     db,
		logger: logger.With(slog.String("component", "license_registry")),
		now:    time.Now,
	}
}

// licenseRow maps 1:1 to the licenses table.
type licenseRow struct {
	Key           string       `db:"license_key"`
	LicenseType   string       `db:"license_type"`
	CreatedAt     time.Time    `db:"created_at"`
	ActivatedAt   sql.NullTime `db:"activated_at"`
	DeactivatedAt sql.NullTime `db:"deactivated_at"`
	ExpiryDate    sql.NullTime `db:"expiry_date"`
	Active        bool         `db:"active"`
	MachineIDHash string       `db:"machine_id_hash"`
	Features      string       `db:"features"`
}

func (r licenseRow) toModel() (domain.License, error) {
	var features []string
	if r.Features != "" {
		if err := json.Unmarshal([]byte(r.Features), &features); err != nil {
			return domain.License{}, fmt.Errorf("decode license features: %w", err)
		}
	}
	lic := domain.License{
		Key:           r.Key,
		LicenseType:   r.LicenseType,
		CreatedAt:     r.CreatedAt,
		Active:        r.Active,
		MachineIDHash: r.MachineIDHash,
		Features:      features,
	}
	if r.ActivatedAt.Valid {
		t := r.ActivatedAt.Time
		lic.ActivatedAt = &t
	}
	if r.DeactivatedAt.Valid {
		t := r.DeactivatedAt.Time
		lic.DeactivatedAt = &t
	}
	if r.ExpiryDate.Valid {
		t := r.ExpiryDate.Time
		lic.ExpiryDate = &t
	}
	return lic, nil
}

// GenerateKey produces a fresh license key with 128 bits of entropy in the
// fixed format UVDM-XXXXXXXX-XXXXXXXX-XXXXXXXX-XXXXXXXX.
func GenerateKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate license key: %w", err)
	}
	h := strings.ToUpper(hex.EncodeToString(buf))
	return fmt.Sprintf("UVDM-%s-%s-%s-%s", h[0:8], h[8:16], h[16:24], h[24:32]), nil
}

// Generate creates a new unbound, inactive license. A non-positive
// durationDays yields a perpetual license (no expiry). Key uniqueness is
// checked by the primary key constraint; a collision triggers a retry with
// a fresh key.
func (r *Registry) Generate(ctx context.Context, licenseType string, durationDays int, features []string) (domain.License, error) {
	if licenseType == "" {
		licenseType = DefaultLicenseType
	}
	if features == nil {
		features = DefaultFeatures
	}

	now := r.now().UTC()
	lic := domain.License{
		LicenseType: licenseType,
		CreatedAt:   now,
		Features:    features,
	}
	if durationDays > 0 {
		expiry := now.AddDate(0, 0, durationDays)
		lic.ExpiryDate = &expiry
	}

	featuresJSON, err := json.Marshal(features)
	if err != nil {
		return domain.License{}, fmt.Errorf("encode license features: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < keyInsertRetries; attempt++ {
		key, err := GenerateKey()
		if err != nil {
			return domain.License{}, err
		}

		const q = `INSERT INTO licenses
			(license_key, license_type, created_at, expiry_date, active, machine_id_hash, features)
			VALUES (?, ?, ?, ?, 0, '', ?)`
		_, err = r.db.Conn().ExecContext(ctx, q,
			key, lic.LicenseType, lic.CreatedAt, nullableTime(lic.ExpiryDate), string(featuresJSON))
		if err == nil {
			lic.Key = key
			r.logger.InfoContext(ctx, "license generated",
				slog.String("license_type", lic.LicenseType),
				slog.Int("duration_days", durationDays),
			)
			return lic, nil
		}
		if !isUniqueViolation(err) {
			return domain.License{}, fmt.Errorf("insert license: %w", err)
		}
		lastErr = err
		r.logger.WarnContext(ctx, "license key collision, retrying",
			slog.Int("attempt", attempt+1),
		)
	}
	return domain.License{}, fmt.Errorf("insert license after %d attempts: %w", keyInsertRetries, lastErr)
}

// Get returns the license for key, or ErrNotFound.
func (r *Registry) Get(ctx context.Context, key string) (domain.License, error) {
	return getLicense(ctx, r.db.Conn(), key)
}

type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

func getLicense(ctx context.Context, q queryer, key string) (domain.License, error) {
	var row licenseRow
	err := q.GetContext(ctx, &row, `SELECT * FROM licenses WHERE license_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.License{}, ErrNotFound
	}
	if err != nil {
		return domain.License{}, fmt.Errorf("get license: %w", err)
	}
	return row.toModel()
}

// Activate binds the license to the machine identified by rawMachineID and
// marks it active. A license already bound to a different machine fails
// with ErrConflict; re-activation from the same machine is idempotent.
func (r *Registry) Activate(ctx context.Context, key, rawMachineID string) (domain.License, error) {
	machineHash := security.HashMachineID(rawMachineID)

	lic, err := r.mutate(ctx, key, func(lic *domain.License, now time.Time) error {
		if lic.IsBound() && lic.MachineIDHash != machineHash {
			return ErrConflict
		}
		lic.MachineIDHash = machineHash
		lic.Active = true
		activatedAt := now
		lic.ActivatedAt = &activatedAt
		return nil
	})
	if err != nil {
		return domain.License{}, err
	}

	r.logger.InfoContext(ctx, "license activated",
		slog.String("license_type", lic.LicenseType),
	)
	return lic, nil
}

// Deactivate marks the license inactive. When rawMachineID is supplied and
// the license is bound to a different machine, it fails with ErrForbidden.
// The machine binding is retained so a different machine still cannot
// claim the key afterwards.
func (r *Registry) Deactivate(ctx context.Context, key, rawMachineID string) (domain.License, error) {
	lic, err := r.mutate(ctx, key, func(lic *domain.License, now time.Time) error {
		if rawMachineID != "" && lic.IsBound() {
			if lic.MachineIDHash != security.HashMachineID(rawMachineID) {
				return ErrForbidden
			}
		}
		lic.Active = false
		deactivatedAt := now
		lic.DeactivatedAt = &deactivatedAt
		return nil
	})
	if err != nil {
		return domain.License{}, err
	}

	r.logger.InfoContext(ctx, "license deactivated",
		slog.String("license_type", lic.LicenseType),
	)
	return lic, nil
}

// mutate runs a read-modify-write on a single license inside one
// transaction.
func (r *Registry) mutate(ctx context.Context, key string, apply func(*domain.License, time.Time) error) (domain.License, error) {
	tx, err := r.db.Conn().BeginTxx(ctx, nil)
	if err != nil {
		return domain.License{}, fmt.Errorf("begin license update: %w", err)
	}
	defer tx.Rollback()

	lic, err := getLicense(ctx, tx, key)
	if err != nil {
		return domain.License{}, err
	}

	if err := apply(&lic, r.now().UTC()); err != nil {
		return domain.License{}, err
	}

	const q = `UPDATE licenses
		SET active = ?, machine_id_hash = ?, activated_at = ?, deactivated_at = ?
		WHERE license_key = ?`
	if _, err := tx.ExecContext(ctx, q,
		lic.Active, lic.MachineIDHash,
		nullableTime(lic.ActivatedAt), nullableTime(lic.DeactivatedAt), key); err != nil {
		return domain.License{}, fmt.Errorf("update license: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.License{}, fmt.Errorf("commit license update: %w", err)
	}
	return lic, nil
}

// StatusSummary reports registry-wide counts. Expiry is computed against
// the current time on every call, never cached.
func (r *Registry) StatusSummary(ctx context.Context) (domain.StatusSummary, error) {
	var rows []licenseRow
	if err := r.db.Conn().SelectContext(ctx, &rows, `SELECT * FROM licenses`); err != nil {
		return domain.StatusSummary{}, fmt.Errorf("list licenses: %w", err)
	}

	now := r.now()
	summary := domain.StatusSummary{TotalLicenses: len(rows)}
	for _, row := range rows {
		if row.Active {
			summary.ActiveLicenses++
		}
		if row.ExpiryDate.Valid && now.After(row.ExpiryDate.Time) {
			summary.ExpiredLicenses++
		}
	}
	return summary, nil
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
