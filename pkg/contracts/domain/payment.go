package domain

import (
	"time"
)

// PaymentProvider is a configured payment provider. Config holds
// credential fields keyed by name; sensitive values are masked at the
// serialization boundary unless the caller holds elevated access.
type PaymentProvider struct {
	ID           string            `json:"id" db:"id"`
	ProviderKey  string            `json:"provider_key" db:"provider_key"`
	ProviderName string            `json:"provider_name" db:"provider_name"`
	Config       map[string]string `json:"config"`
	Enabled      bool              `json:"enabled" db:"enabled"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// WebhookSettings holds the webhook endpoint configuration for a provider.
// Verification uses the secret of the first enabled setting for the
// provider; with none enabled the dispatcher has no secret to check
// against.
type WebhookSettings struct {
	ID            string    `json:"id" db:"id"`
	ProviderID    string    `json:"provider_id" db:"provider_id"`
	WebhookURL    string    `json:"webhook_url" db:"webhook_url"`
	WebhookSecret string    `json:"webhook_secret" db:"webhook_secret"`
	Enabled       bool      `json:"enabled" db:"enabled"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// ProviderRequest is the admin payload for creating or updating a
// payment provider.
type ProviderRequest struct {
	ProviderKey  string            `json:"provider_key" validate:"required,lowercase,alphanum"`
	ProviderName string            `json:"provider_name" validate:"required"`
	Config       map[string]string `json:"config"`
	Enabled      bool              `json:"enabled"`
}

// WebhookRequest is the admin payload for creating or updating a
// provider's webhook settings. An empty secret on create is replaced
// with a generated one.
type WebhookRequest struct {
	ProviderID    string `json:"provider_id" validate:"required"`
	WebhookURL    string `json:"webhook_url" validate:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret"`
	Enabled       bool   `json:"enabled"`
}

// WebhookEvent is the parsed identity of an accepted webhook, surfaced for
// downstream processing.
type WebhookEvent struct {
	Provider  string `json:"provider"`
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
}

// ProviderSummary is the minimal provider view exposed to unauthenticated
// clients.
type ProviderSummary struct {
	ProviderKey  string `json:"provider_key"`
	ProviderName string `json:"provider_name"`
	Enabled      bool   `json:"enabled"`
}
