package models

import (
	"time"
)

type Message struct {
	ID      string            `json:"id"`
	From    string            `json:"from,omitempty"`
	To      []string          `json:"to"`
	CC      []string          `json:"cc,omitempty"`
	BCC     []string          `json:"bcc,omitempty"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Template-based sends carry a provider template reference instead of
	// a subject/body pair.
	TemplateID   string                 `json:"template_id,omitempty"`
	TemplateData map[string]interface{} `json:"template_data,omitempty"`

	// Campaign and user tracking
	CampaignID string `json:"campaign_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`

	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// DeliveryResult is the normalized outcome of one send attempt chain.
type DeliveryResult struct {
	Success    bool          `json:"success"`
	Provider   string        `json:"provider,omitempty"`
	MessageID  string        `json:"message_id,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}

// MessageRecord is a stored reference to a message visible in a connected
// mailbox, written by sends and by sync. ProviderMessageID is unique in the
// store, which is what makes sync idempotent.
type MessageRecord struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	MailboxEmail      string    `json:"mailbox_email"`
	ProviderMessageID string    `json:"provider_message_id"`
	Direction         Direction `json:"direction"`
	FromEmail         string    `json:"from_email"`
	ToEmails          []string  `json:"to_emails"`
	Subject           string    `json:"subject"`
	Snippet           string    `json:"snippet,omitempty"`
	Body              string    `json:"body,omitempty"`
	InternalDate      time.Time `json:"internal_date"`
	CreatedAt         time.Time `json:"created_at"`
}

type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)
