package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// GenerateWebhookSecret returns a freshly generated webhook signing secret
// (32 bytes of entropy, URL-safe encoding).
func GenerateWebhookSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
