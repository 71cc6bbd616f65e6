package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"uvdm/internal/security"
	"uvdm/internal/store"
	"uvdm/pkg/contracts/domain"
)

// Dispatch errors, mapped to HTTP statuses by the webhook handler.
var (
	ErrUnknownProvider  = errors.New("unknown provider")
	ErrProviderDisabled = errors.New("provider is not enabled")
	ErrInvalidSignature = errors.New("webhook signature verification failed")
)

// stripeSignatureHeader carries the composite t=,v1= signature.
const stripeSignatureHeader = "Stripe-Signature"

// signatureHeaders maps a provider key to the headers its generic
// HMAC-SHA256 signature may arrive in, in lookup order.
var signatureHeaders = map[string][]string{
	"paypal": {"Paypal-Transmission-Sig"},
	"wise":   {"X-Signature-Sha256", "X-Signature"},
	"crypto": {"X-Webhook-Signature"},
}

// defaultSignatureHeaders is used for providers without a dedicated entry.
var defaultSignatureHeaders = []string{"X-Webhook-Signature"}

// WebhookService routes an inbound webhook to the correct per-provider
// signature check using secrets from the provider store. The service
// itself is state-free; all trust material lives in the store.
type WebhookService struct {
	providers *store.Providers
	logger    *slog.Logger
}

// NewWebhookService creates the webhook trust dispatcher.
func NewWebhookService(providers *store.Providers, logger *slog.Logger) *WebhookService {
	return &WebhookService{
		providers: providers,
		logger:    logger.With(slog.String("service", "webhook")),
	}
}

// Dispatch verifies an inbound webhook for providerKey. payload must be
// the exact raw request bytes; verification recomputes the HMAC over them,
// never over a re-serialized form. On success the parsed event identity is
// returned for downstream processing.
func (s *WebhookService) Dispatch(ctx context.Context, providerKey string, payload []byte, header http.Header) (domain.WebhookEvent, error) {
	provider, err := s.providers.GetProviderByKey(ctx, providerKey)
	if errors.Is(err, store.ErrNotFound) {
		webhooksTotal.WithLabelValues(providerKey, "unknown_provider").Inc()
		return domain.WebhookEvent{}, ErrUnknownProvider
	}
	if err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("resolve provider: %w", err)
	}
	if !provider.Enabled {
		webhooksTotal.WithLabelValues(providerKey, "provider_disabled").Inc()
		return domain.WebhookEvent{}, ErrProviderDisabled
	}

	secret, err := s.providers.ActiveWebhookSecret(ctx, provider.ID)
	if errors.Is(err, store.ErrNotFound) {
		// Fail-open: with no enabled webhook secret there is nothing to
		// verify against. Accepting here is a deliberate development
		// convenience and a real trust gap, so every exercise of it is
		// logged loudly.
		s.logger.WarnContext(ctx, "no webhook secret configured, accepting webhook WITHOUT verification",
			slog.String("provider", providerKey),
		)
		webhooksTotal.WithLabelValues(providerKey, "accepted_unverified").Inc()
		return s.parseEvent(providerKey, payload), nil
	}
	if err != nil {
		return domain.WebhookEvent{}, fmt.Errorf("resolve webhook secret: %w", err)
	}

	if !s.verifySignature(providerKey, secret, payload, header) {
		s.logger.WarnContext(ctx, "webhook signature verification failed",
			slog.String("provider", providerKey),
		)
		webhooksTotal.WithLabelValues(providerKey, "invalid_signature").Inc()
		return domain.WebhookEvent{}, ErrInvalidSignature
	}

	webhooksTotal.WithLabelValues(providerKey, "accepted").Inc()
	return s.parseEvent(providerKey, payload), nil
}

// verifySignature selects the provider-specific check. Stripe uses the
// composite timestamp scheme; every other provider uses HMAC-SHA256 over
// the raw body with the signature in its designated header.
func (s *WebhookService) verifySignature(providerKey, secret string, payload []byte, header http.Header) bool {
	if providerKey == "stripe" {
		return security.VerifyStripeSignature(secret, payload, header.Get(stripeSignatureHeader))
	}

	headers, ok := signatureHeaders[providerKey]
	if !ok {
		headers = defaultSignatureHeaders
	}
	for _, name := range headers {
		if signature := header.Get(name); signature != "" {
			return security.VerifyHMACSHA256(secret, payload, signature)
		}
	}
	return false
}

// parseEvent extracts the event type and id from the payload on a
// best-effort basis; a non-JSON body yields an event with empty identity.
func (s *WebhookService) parseEvent(providerKey string, payload []byte) domain.WebhookEvent {
	var body struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		s.logger.Debug("webhook payload is not JSON",
			slog.String("provider", providerKey),
		)
	}
	return domain.WebhookEvent{
		Provider:  providerKey,
		EventType: body.Type,
		EventID:   body.ID,
	}
}
