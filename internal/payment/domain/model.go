// Package domain defines billing provider webhook adapters.
package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	eventdomain "github.com/smallbiznis/contextswitch/internal/billingevent/domain"
)

var (
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrInvalidProvider  = errors.New("invalid_provider")
	ErrProviderNotFound = errors.New("provider_not_found")
	ErrInvalidConfig    = errors.New("invalid_provider_config")
)

// AdapterConfig carries provider credentials and verification settings.
type AdapterConfig struct {
	Provider  string
	Config    map[string]any
	Tolerance time.Duration
	Now       func() time.Time
}

// WebhookAdapter authenticates and normalizes one provider's webhooks.
// Verify must run before Parse; Parse never sees an unauthenticated body.
type WebhookAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*eventdomain.Event, error)
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (WebhookAdapter, error)
}

// IngestResult is what the webhook endpoint acknowledges.
type IngestResult struct {
	EventID   string              `json:"event_id"`
	EventType string              `json:"event_type"`
	Outcome   eventdomain.Outcome `json:"outcome"`
}

type Service interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (IngestResult, error)
}
