package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"uvdm/pkg/contracts/domain"
)

var (
	// ErrNotFound is returned when a provider or webhook setting does not
	// exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned when a provider_key is already taken.
	ErrDuplicateKey = errors.New("provider key already exists")
)

// Providers persists payment provider configuration and the related
// webhook settings.
type Providers struct {
	db *DB
}

// NewProviders creates the provider store on the shared database.
func NewProviders(db *DB) *Providers {
	return &Providers{db: db}
}

// providerRow maps 1:1 to the payment_providers table. Config is stored as
// a JSON object keyed by credential field name.
type providerRow struct {
	ID           string    `db:"id"`
	ProviderKey  string    `db:"provider_key"`
	ProviderName string    `db:"provider_name"`
	Config       string    `db:"config"`
	Enabled      bool      `db:"enabled"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r providerRow) toModel() (domain.PaymentProvider, error) {
	cfg := map[string]string{}
	if r.Config != "" {
		if err := json.Unmarshal([]byte(r.Config), &cfg); err != nil {
			return domain.PaymentProvider{}, fmt.Errorf("decode provider config: %w", err)
		}
	}
	return domain.PaymentProvider{
		ID:           r.ID,
		ProviderKey:  r.ProviderKey,
		ProviderName: r.ProviderName,
		Config:       cfg,
		Enabled:      r.Enabled,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

// CreateProvider inserts a new payment provider. ID and timestamps are
// populated on the passed model.
func (p *Providers) CreateProvider(ctx context.Context, provider *domain.PaymentProvider) error {
	now := time.Now().UTC()
	provider.ID = uuid.NewString()
	provider.CreatedAt = now
	provider.UpdatedAt = now

	configJSON, err := json.Marshal(provider.Config)
	if err != nil {
		return fmt.Errorf("encode provider config: %w", err)
	}

	const q = `INSERT INTO payment_providers
		(id, provider_key, provider_name, config, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err = p.db.Conn().ExecContext(ctx, q,
		provider.ID, provider.ProviderKey, provider.ProviderName,
		string(configJSON), provider.Enabled, provider.CreatedAt, provider.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert provider: %w", err)
	}
	return nil
}

// GetProvider returns a provider by its generated ID.
func (p *Providers) GetProvider(ctx context.Context, id string) (domain.PaymentProvider, error) {
	var row providerRow
	err := p.db.Conn().GetContext(ctx, &row,
		`SELECT * FROM payment_providers WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentProvider{}, ErrNotFound
	}
	if err != nil {
		return domain.PaymentProvider{}, fmt.Errorf("get provider: %w", err)
	}
	return row.toModel()
}

// GetProviderByKey returns a provider by its unique provider_key.
func (p *Providers) GetProviderByKey(ctx context.Context, key string) (domain.PaymentProvider, error) {
	var row providerRow
	err := p.db.Conn().GetContext(ctx, &row,
		`SELECT * FROM payment_providers WHERE provider_key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentProvider{}, ErrNotFound
	}
	if err != nil {
		return domain.PaymentProvider{}, fmt.Errorf("get provider by key: %w", err)
	}
	return row.toModel()
}

// ListProviders returns all providers ordered by creation time.
func (p *Providers) ListProviders(ctx context.Context) ([]domain.PaymentProvider, error) {
	var rows []providerRow
	err := p.db.Conn().SelectContext(ctx, &rows,
		`SELECT * FROM payment_providers ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list providers: %w", err)
	}
	providers := make([]domain.PaymentProvider, 0, len(rows))
	for _, row := range rows {
		provider, err := row.toModel()
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	return providers, nil
}

// ListEnabledProviders returns providers with enabled=true.
func (p *Providers) ListEnabledProviders(ctx context.Context) ([]domain.PaymentProvider, error) {
	var rows []providerRow
	err := p.db.Conn().SelectContext(ctx, &rows,
		`SELECT * FROM payment_providers WHERE enabled = 1 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list enabled providers: %w", err)
	}
	providers := make([]domain.PaymentProvider, 0, len(rows))
	for _, row := range rows {
		provider, err := row.toModel()
		if err != nil {
			return nil, err
		}
		providers = append(providers, provider)
	}
	return providers, nil
}

// UpdateProvider replaces a provider record as a whole. Partial config is
// still a whole replacement, never a patch.
func (p *Providers) UpdateProvider(ctx context.Context, provider *domain.PaymentProvider) error {
	provider.UpdatedAt = time.Now().UTC()

	configJSON, err := json.Marshal(provider.Config)
	if err != nil {
		return fmt.Errorf("encode provider config: %w", err)
	}

	const q = `UPDATE payment_providers
		SET provider_key = ?, provider_name = ?, config = ?, enabled = ?, updated_at = ?
		WHERE id = ?`
	result, err := p.db.Conn().ExecContext(ctx, q,
		provider.ProviderKey, provider.ProviderName, string(configJSON),
		provider.Enabled, provider.UpdatedAt, provider.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("update provider: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update provider: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteProvider removes a provider and, via cascade, its webhook
// settings.
func (p *Providers) DeleteProvider(ctx context.Context, id string) error {
	result, err := p.db.Conn().ExecContext(ctx,
		`DELETE FROM payment_providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete provider: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ---------------------------------------------------------------------------
// Webhook settings
// ---------------------------------------------------------------------------

// CreateWebhook inserts webhook settings for a provider.
func (p *Providers) CreateWebhook(ctx context.Context, webhook *domain.WebhookSettings) error {
	now := time.Now().UTC()
	webhook.ID = uuid.NewString()
	webhook.CreatedAt = now
	webhook.UpdatedAt = now

	const q = `INSERT INTO webhook_settings
		(id, provider_id, webhook_url, webhook_secret, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	_, err := p.db.Conn().ExecContext(ctx, q,
		webhook.ID, webhook.ProviderID, webhook.WebhookURL,
		webhook.WebhookSecret, webhook.Enabled, webhook.CreatedAt, webhook.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("insert webhook settings: %w", err)
	}
	return nil
}

// GetWebhook returns webhook settings by ID.
func (p *Providers) GetWebhook(ctx context.Context, id string) (domain.WebhookSettings, error) {
	var webhook domain.WebhookSettings
	err := p.db.Conn().GetContext(ctx, &webhook,
		`SELECT * FROM webhook_settings WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.WebhookSettings{}, ErrNotFound
	}
	if err != nil {
		return domain.WebhookSettings{}, fmt.Errorf("get webhook settings: %w", err)
	}
	return webhook, nil
}

// ListWebhooks returns all webhook settings, optionally filtered by
// provider ID.
func (p *Providers) ListWebhooks(ctx context.Context, providerID string) ([]domain.WebhookSettings, error) {
	var webhooks []domain.WebhookSettings
	var err error
	if providerID == "" {
		err = p.db.Conn().SelectContext(ctx, &webhooks,
			`SELECT * FROM webhook_settings ORDER BY created_at, id`)
	} else {
		err = p.db.Conn().SelectContext(ctx, &webhooks,
			`SELECT * FROM webhook_settings WHERE provider_id = ? ORDER BY created_at, id`, providerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list webhook settings: %w", err)
	}
	return webhooks, nil
}

// ActiveWebhookSecret returns the secret of the first enabled webhook
// setting for the provider. An enabled setting with an empty secret is
// treated the same as no setting at all. Returns ErrNotFound when no
// usable secret exists; the dispatcher then applies its fail-open policy.
func (p *Providers) ActiveWebhookSecret(ctx context.Context, providerID string) (string, error) {
	var secret string
	err := p.db.Conn().GetContext(ctx, &secret,
		`SELECT webhook_secret FROM webhook_settings
		 WHERE provider_id = ? AND enabled = 1 AND webhook_secret != ''
		 ORDER BY created_at, id LIMIT 1`, providerID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get active webhook secret: %w", err)
	}
	return secret, nil
}

// UpdateWebhook replaces a webhook settings record as a whole.
func (p *Providers) UpdateWebhook(ctx context.Context, webhook *domain.WebhookSettings) error {
	webhook.UpdatedAt = time.Now().UTC()

	const q = `UPDATE webhook_settings
		SET provider_id = ?, webhook_url = ?, webhook_secret = ?, enabled = ?, updated_at = ?
		WHERE id = ?`
	result, err := p.db.Conn().ExecContext(ctx, q,
		webhook.ProviderID, webhook.WebhookURL, webhook.WebhookSecret,
		webhook.Enabled, webhook.UpdatedAt, webhook.ID)
	if err != nil {
		return fmt.Errorf("update webhook settings: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update webhook settings: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteWebhook removes a webhook settings record.
func (p *Providers) DeleteWebhook(ctx context.Context, id string) error {
	result, err := p.db.Conn().ExecContext(ctx,
		`DELETE FROM webhook_settings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete webhook settings: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete webhook settings: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
