package token

import (
	"errors"
	"fmt"
)

// ErrGrantRevoked is returned by a MailboxClient refresh when the provider
// rejects the stored refresh token. The record can never recover; only a
// fresh consent flow helps.
var ErrGrantRevoked = errors.New("refresh token rejected by provider")

// ValidationError means the caller supplied a malformed message. Raised
// before any token lookup or provider call; fix and resubmit.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid message: %s (%s)", e.Message, e.Field)
}

// IsValidationError reports whether err is a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ExchangeError means the one-time authorization code could not be
// exchanged: invalid, expired, or already consumed. Codes are single-use
// by provider contract, so retrying the same code can never succeed; the
// user must restart the consent flow.
type ExchangeError struct {
	UserID  string
	Message string
	Cause   error
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("authorization code exchange failed for user %s: %s", e.UserID, e.Message)
}

func (e *ExchangeError) Unwrap() error {
	return e.Cause
}

// ReauthRequiredError means the stored grant is unusable: no record, no
// refresh token, or the provider revoked the grant. The UI should offer a
// reconnect action, never a retry.
type ReauthRequiredError struct {
	UserID       string
	MailboxEmail string
	Reason       string
	Cause        error
}

func (e *ReauthRequiredError) Error() string {
	if e.MailboxEmail != "" {
		return fmt.Sprintf("reauthorization required for %s (user %s): %s", e.MailboxEmail, e.UserID, e.Reason)
	}
	return fmt.Sprintf("reauthorization required for user %s: %s", e.UserID, e.Reason)
}

func (e *ReauthRequiredError) Unwrap() error {
	return e.Cause
}

// SendRejectedError means the mailbox provider refused a well-formed send
// (quota, content policy). Not retried here.
type SendRejectedError struct {
	MailboxEmail string
	StatusCode   int
	Message      string
	Cause        error
}

func (e *SendRejectedError) Error() string {
	return fmt.Sprintf("mailbox provider rejected send from %s (status %d): %s",
		e.MailboxEmail, e.StatusCode, e.Message)
}

func (e *SendRejectedError) Unwrap() error {
	return e.Cause
}

// IsReauthRequired reports whether err is a ReauthRequiredError.
func IsReauthRequired(err error) bool {
	var re *ReauthRequiredError
	return errors.As(err, &re)
}

// IsExchangeError reports whether err is an ExchangeError.
func IsExchangeError(err error) bool {
	var ee *ExchangeError
	return errors.As(err, &ee)
}
