package provider

import (
	"context"
	"errors"
	"strings"
	"testing"

	"outreachmail/pkg/models"
)

// mockProvider counts calls and returns a canned outcome.
type mockProvider struct {
	name   string
	result *SendResult
	err    error
	calls  int
}

func (m *mockProvider) Name() string {
	return m.name
}

func (m *mockProvider) Send(ctx context.Context, msg *models.Message) (*SendResult, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func validTestMessage() *models.Message {
	return &models.Message{
		To:      []string{"user@example.com"},
		Subject: "Hi",
		Text:    "Body",
	}
}

func TestFailoverSender_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("PrimarySuccessSkipsSecondary", func(t *testing.T) {
		primary := &mockProvider{name: "sendgrid", result: &SendResult{MessageID: "sg-1", StatusCode: 202}}
		secondary := &mockProvider{name: "smtp"}
		sender := NewFailoverSender(primary, secondary)

		result, err := sender.Send(ctx, validTestMessage())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if !result.Success {
			t.Errorf("Expected success, got failure: %s", result.Error)
		}
		if result.Provider != "primary" {
			t.Errorf("Expected provider primary, got: %s", result.Provider)
		}
		if result.MessageID != "sg-1" {
			t.Errorf("Expected message id sg-1, got: %s", result.MessageID)
		}
		if secondary.calls != 0 {
			t.Errorf("Expected secondary untouched, got %d calls", secondary.calls)
		}
	})

	t.Run("FallsBackToSecondaryOnPrimaryFailure", func(t *testing.T) {
		primary := &mockProvider{
			name: "sendgrid",
			err:  &UnavailableError{Provider: "sendgrid", Cause: errors.New("connection refused")},
		}
		secondary := &mockProvider{name: "smtp", result: &SendResult{MessageID: "smtp-1"}}
		sender := NewFailoverSender(primary, secondary)

		result, err := sender.Send(ctx, validTestMessage())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if !result.Success {
			t.Errorf("Expected success via secondary, got failure: %s", result.Error)
		}
		if result.Provider != "secondary" {
			t.Errorf("Expected provider secondary, got: %s", result.Provider)
		}
		if primary.calls != 1 || secondary.calls != 1 {
			t.Errorf("Expected one call each, got primary=%d secondary=%d", primary.calls, secondary.calls)
		}
	})

	t.Run("BothFailuresNameBothProviders", func(t *testing.T) {
		primary := &mockProvider{
			name: "sendgrid",
			err:  &UnavailableError{Provider: "sendgrid", Cause: errors.New("timeout")},
		}
		secondary := &mockProvider{
			name: "smtp",
			err:  &UnavailableError{Provider: "smtp", Cause: errors.New("auth failed")},
		}
		sender := NewFailoverSender(primary, secondary)

		result, err := sender.Send(ctx, validTestMessage())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if result.Success {
			t.Fatal("Expected failure when both providers fail")
		}
		for _, want := range []string{"primary", "secondary", "sendgrid", "smtp", "timeout", "auth failed"} {
			if !strings.Contains(result.Error, want) {
				t.Errorf("Expected aggregated error to mention %q, got: %s", want, result.Error)
			}
		}
	})

	t.Run("ResultlessProviderTreatedAsFailure", func(t *testing.T) {
		primary := &mockProvider{name: "sendgrid"} // returns nil result, nil error
		secondary := &mockProvider{name: "smtp", result: &SendResult{MessageID: "smtp-9"}}
		sender := NewFailoverSender(primary, secondary)

		result, err := sender.Send(ctx, validTestMessage())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if !result.Success {
			t.Fatalf("Expected secondary to carry the send, got: %s", result.Error)
		}
		if result.Provider != "secondary" {
			t.Errorf("Expected provider secondary, got: %s", result.Provider)
		}
		if result.MessageID != "smtp-9" {
			t.Errorf("Expected message id smtp-9, got: %s", result.MessageID)
		}
	})

	t.Run("ValidationFailsBeforeAnyNetworkCall", func(t *testing.T) {
		primary := &mockProvider{name: "sendgrid"}
		secondary := &mockProvider{name: "smtp"}
		sender := NewFailoverSender(primary, secondary)

		_, err := sender.Send(ctx, &models.Message{})
		if !IsValidationError(err) {
			t.Fatalf("Expected ValidationError, got: %v", err)
		}

		if primary.calls != 0 || secondary.calls != 0 {
			t.Errorf("Expected zero provider calls, got primary=%d secondary=%d", primary.calls, secondary.calls)
		}
	})

	t.Run("MissingSubjectWithoutTemplateIsRejected", func(t *testing.T) {
		sender := NewFailoverSender(&mockProvider{name: "sendgrid"})

		_, err := sender.Send(ctx, &models.Message{To: []string{"user@example.com"}, Text: "Body"})
		if !IsValidationError(err) {
			t.Fatalf("Expected ValidationError for missing subject, got: %v", err)
		}
	})

	t.Run("TemplateReferenceSatisfiesValidation", func(t *testing.T) {
		primary := &mockProvider{name: "sendgrid", result: &SendResult{MessageID: "sg-2", StatusCode: 202}}
		sender := NewFailoverSender(primary)

		result, err := sender.Send(ctx, &models.Message{
			To:           []string{"user@example.com"},
			TemplateID:   "d-1234",
			TemplateData: map[string]interface{}{"name": "Ada"},
		})
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if !result.Success {
			t.Errorf("Expected success, got failure: %s", result.Error)
		}
	})

	t.Run("NoProvidersConfigured", func(t *testing.T) {
		sender := NewFailoverSender()

		result, err := sender.Send(ctx, validTestMessage())
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}
		if result.Success {
			t.Fatal("Expected failure with no providers")
		}
	})
}
