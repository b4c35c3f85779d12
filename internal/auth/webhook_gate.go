package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
)

// WebhookSecretHeader carries the shared secret on ingestion requests.
const WebhookSecretHeader = "X-Webhook-Secret"

var (
	ErrMissingWebhookSecret = errors.New("webhook gate: secret required")
	// ErrForbiddenWebhook indicates a missing or wrong shared secret.
	ErrForbiddenWebhook = errors.New("webhook gate: forbidden")
)

// WebhookGate admits ingestion requests that present the shared secret.
type WebhookGate struct {
	secret []byte
}

func NewWebhookGate(secret string) (*WebhookGate, error) {
	trimmed := strings.TrimSpace(secret)
	if trimmed == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &WebhookGate{secret: []byte(trimmed)}, nil
}

// Verify compares the presented secret in constant time.
func (g *WebhookGate) Verify(presented string) error {
	if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), g.secret) != 1 {
		return ErrForbiddenWebhook
	}
	return nil
}
