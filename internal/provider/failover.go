package provider

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"outreachmail/pkg/models"
)

// FailoverSender sends one email through an ordered list of providers,
// taking the first success. Attempt one is the transactional API, attempt
// two the mailbox-protocol relay when configured; there is no retry beyond
// that single fallback and no ordering guarantee across calls.
type FailoverSender struct {
	providers []Provider
}

// roleNames labels attempts by position so callers see a stable
// primary/secondary vocabulary regardless of which providers are wired in.
var roleNames = []string{"primary", "secondary"}

func NewFailoverSender(providers ...Provider) *FailoverSender {
	return &FailoverSender{providers: providers}
}

// Send validates the message, then walks the provider list in order. A
// ValidationError is returned before any provider is contacted. Delivery
// failures are reported through the result, with the aggregated error
// naming every attempted provider so operators can tell a primary outage
// from a misconfigured relay.
func (f *FailoverSender) Send(ctx context.Context, msg *models.Message) (*models.DeliveryResult, error) {
	startTime := time.Now()

	if err := validateMessage(msg); err != nil {
		return nil, err
	}

	if len(f.providers) == 0 {
		return &models.DeliveryResult{
			Success:  false,
			Error:    "no delivery providers configured",
			Duration: time.Since(startTime),
		}, nil
	}

	var attempts []string
	for i, p := range f.providers {
		role := roleName(i)

		result, err := p.Send(ctx, msg)
		if err == nil && result == nil {
			err = fmt.Errorf("provider returned no result")
		}
		if err == nil {
			return &models.DeliveryResult{
				Success:    true,
				Provider:   role,
				MessageID:  result.MessageID,
				StatusCode: result.StatusCode,
				Duration:   time.Since(startTime),
			}, nil
		}

		attempts = append(attempts, fmt.Sprintf("%s (%s): %v", role, p.Name(), err))
		log.Printf("Delivery attempt %d/%d failed via %s: %v", i+1, len(f.providers), p.Name(), err)

		if err := ctx.Err(); err != nil {
			attempts = append(attempts, fmt.Sprintf("aborted: %v", err))
			break
		}
	}

	return &models.DeliveryResult{
		Success:  false,
		Error:    "all providers failed: " + strings.Join(attempts, "; "),
		Duration: time.Since(startTime),
	}, nil
}

func roleName(i int) string {
	if i < len(roleNames) {
		return roleNames[i]
	}
	return fmt.Sprintf("fallback-%d", i)
}

func validateMessage(msg *models.Message) error {
	if msg == nil {
		return &ValidationError{Field: "message", Message: "message cannot be nil"}
	}

	if len(msg.To) == 0 || msg.To[0] == "" {
		return &ValidationError{Field: "to", Message: "at least one recipient is required"}
	}

	if msg.Subject == "" && msg.TemplateID == "" {
		return &ValidationError{Field: "subject", Message: "subject or template_id is required"}
	}

	if msg.HTML == "" && msg.Text == "" && msg.TemplateID == "" {
		return &ValidationError{Field: "body", Message: "message must contain HTML or text content"}
	}

	return nil
}
