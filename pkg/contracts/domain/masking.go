package domain

import (
	"strings"
)

// sensitiveConfigKeys are the provider config fields whose values are
// masked on non-privileged reads.
var sensitiveConfigKeys = map[string]bool{
	"api_key":        true,
	"client_secret":  true,
	"api_token":      true,
	"secret_key":     true,
	"private_key":    true,
	"webhook_secret": true,
}

// Masked returns a display copy of the provider with sensitive config
// values reduced to their last four characters. The stored value is never
// mutated; masking is a serialization-boundary transform only.
func (p PaymentProvider) Masked() PaymentProvider {
	if len(p.Config) == 0 {
		return p
	}
	masked := make(map[string]string, len(p.Config))
	for key, value := range p.Config {
		if sensitiveConfigKeys[key] && value != "" {
			masked[key] = maskTail(value)
		} else {
			masked[key] = value
		}
	}
	p.Config = masked
	return p
}

// Masked returns a display copy of the webhook settings with the secret
// reduced to its first and last four characters.
func (w WebhookSettings) Masked() WebhookSettings {
	if w.WebhookSecret != "" {
		w.WebhookSecret = maskEnds(w.WebhookSecret)
	}
	return w
}

func maskTail(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
}

func maskEnds(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}
