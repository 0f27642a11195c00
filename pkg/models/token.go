package models

import (
	"time"
)

// TokenRecord is the persisted OAuth grant for one (user, mailbox) pair.
// At most one active record exists per pair; the store's upsert on
// (user_id, mailbox_email) enforces it.
type TokenRecord struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	MailboxEmail string      `json:"mailbox_email"`
	AccessToken  string      `json:"-"`
	RefreshToken string      `json:"-"`
	Expiry       time.Time   `json:"expiry"`
	Status       TokenStatus `json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

type TokenStatus string

const (
	TokenStatusActive  TokenStatus = "active"
	TokenStatusExpired TokenStatus = "expired"
	TokenStatusInvalid TokenStatus = "invalid"
)

// Usable reports whether the record can authorize a provider call right
// now, without a refresh.
func (t *TokenRecord) Usable(now time.Time) bool {
	return t.Status == TokenStatusActive && now.Before(t.Expiry)
}

// AuthorizationStatus answers "can this user send mail" for the route
// layer. It is computed from stored records only, never from a provider
// call.
type AuthorizationStatus struct {
	IsAuthorized           bool     `json:"is_authorized"`
	ActiveTokenCount       int      `json:"active_token_count"`
	MailboxesNeedingReauth []string `json:"mailboxes_needing_reauth"`
}

// ProviderSendResult is returned by a mailbox-provider send.
type ProviderSendResult struct {
	ProviderMessageID string    `json:"provider_message_id"`
	MailboxEmail      string    `json:"mailbox_email"`
	SentAt            time.Time `json:"sent_at"`
}
