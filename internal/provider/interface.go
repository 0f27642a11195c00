package provider

import (
	"context"
	"time"

	"outreachmail/pkg/models"
)

// Provider is one delivery path for a single outbound email.
type Provider interface {
	// Send attempts delivery of one message. It returns a RejectedError
	// when the provider refused the message and an UnavailableError when
	// the provider could not be reached. On a nil error the result must
	// be non-nil.
	Send(ctx context.Context, msg *models.Message) (*SendResult, error)
	Name() string
}

// SendResult contains the provider-level outcome of a successful send.
type SendResult struct {
	MessageID  string
	StatusCode int
	Duration   time.Duration
}
