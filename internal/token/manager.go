package token

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"outreachmail/internal/store"
	"outreachmail/pkg/models"

	"golang.org/x/oauth2"
)

// expirySkew is subtracted from a token's remaining lifetime when deciding
// whether it is still usable, so a token cannot lapse mid-call.
const expirySkew = 60 * time.Second

// Store is the persistence surface the manager needs. *store.Store
// implements it; tests use an in-memory fake.
type Store interface {
	UpsertToken(ctx context.Context, rec *models.TokenRecord) error
	GetTokensByUser(ctx context.Context, userID string) ([]*models.TokenRecord, error)
	GetToken(ctx context.Context, userID, mailboxEmail string) (*models.TokenRecord, error)
	UpdateTokenStatus(ctx context.Context, id string, status models.TokenStatus) error
	InsertMessageRecord(ctx context.Context, rec *models.MessageRecord) (bool, error)
	HasMessageRecord(ctx context.Context, providerMessageID string) (bool, error)
	ListMessageRecords(ctx context.Context, userID string, limit int) ([]*models.MessageRecord, error)
}

// Manager owns the OAuth grant lifecycle for mailbox connections: consent
// URL construction, code exchange, lazy refresh, authorization status, and
// sends/syncs through a live token. It holds no state between calls; the
// store is the only shared resource, and its upsert semantics are the
// concurrency boundary for racing refreshes.
type Manager struct {
	client MailboxClient
	store  Store
}

func NewManager(client MailboxClient, st Store) *Manager {
	return &Manager{client: client, store: st}
}

// BuildAuthorizationURL returns the provider consent URL. The user id
// travels as the opaque state value and comes back unchanged on the
// redirect. No state is created until the code is exchanged, so this is
// safe to call any number of times.
func (m *Manager) BuildAuthorizationURL(userID string) string {
	return m.client.AuthCodeURL(userID)
}

// ExchangeCode trades a one-time authorization code for a token pair,
// resolves the authenticated mailbox address, and persists an active
// record. Codes are single-use: a consumed code fails every time,
// including the first retry.
func (m *Manager) ExchangeCode(ctx context.Context, code, userID string) (*models.TokenRecord, error) {
	if code == "" {
		return nil, &ExchangeError{UserID: userID, Message: "authorization code is empty"}
	}
	if userID == "" {
		return nil, &ExchangeError{UserID: userID, Message: "user id is empty"}
	}

	tok, err := m.client.Exchange(ctx, code)
	if err != nil {
		return nil, &ExchangeError{
			UserID:  userID,
			Message: "code is invalid, expired, or already used; restart the connection flow",
			Cause:   err,
		}
	}

	mailbox, err := m.client.Profile(ctx, tok)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve mailbox address after exchange: %w", err)
	}

	rec := &models.TokenRecord{
		UserID:       userID,
		MailboxEmail: mailbox,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Status:       models.TokenStatusActive,
	}

	// The provider may omit the refresh token on repeat consent; keep the
	// previously stored one rather than overwriting it with nothing.
	if rec.RefreshToken == "" {
		if existing, err := m.store.GetToken(ctx, userID, mailbox); err == nil {
			rec.RefreshToken = existing.RefreshToken
		}
	}

	if err := m.store.UpsertToken(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist token record: %w", err)
	}

	log.Printf("Mailbox %s connected for user %s (expires %v)", mailbox, userID, tok.Expiry)
	return rec, nil
}

// GetAuthorizationStatus answers "can this user send mail" from stored
// records alone. It never calls the provider.
func (m *Manager) GetAuthorizationStatus(ctx context.Context, userID string) (*models.AuthorizationStatus, error) {
	records, err := m.store.GetTokensByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token records for user %s: %w", userID, err)
	}

	status := &models.AuthorizationStatus{
		MailboxesNeedingReauth: []string{},
	}

	now := time.Now()
	for _, rec := range records {
		if rec.Usable(now) {
			status.ActiveTokenCount++
			continue
		}
		status.MailboxesNeedingReauth = append(status.MailboxesNeedingReauth, rec.MailboxEmail)
	}

	status.IsAuthorized = status.ActiveTokenCount > 0
	return status, nil
}

// GetLiveToken returns a record guaranteed usable now, refreshing first
// when the stored access token has lapsed. A provider-rejected refresh
// flips the record to invalid before the error surfaces, so status
// queries reflect reality immediately.
func (m *Manager) GetLiveToken(ctx context.Context, userID string) (*models.TokenRecord, error) {
	records, err := m.store.GetTokensByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load token records for user %s: %w", userID, err)
	}

	var candidate *models.TokenRecord
	now := time.Now()
	for _, rec := range records {
		if rec.Status == models.TokenStatusInvalid {
			continue
		}
		if rec.Status == models.TokenStatusActive && now.Add(expirySkew).Before(rec.Expiry) {
			return rec, nil
		}
		if candidate == nil {
			candidate = rec
		}
	}

	if candidate == nil {
		return nil, &ReauthRequiredError{
			UserID: userID,
			Reason: "no mailbox connection on record",
		}
	}

	return m.refresh(ctx, candidate)
}

// refresh performs one refresh-token exchange and persists the result with
// total-overwrite semantics. Concurrent refreshes for the same record are
// interchangeable, so whichever lands last wins.
func (m *Manager) refresh(ctx context.Context, rec *models.TokenRecord) (*models.TokenRecord, error) {
	// Lazy expiry detection: record the lapse before attempting the
	// refresh, so a transient refresh failure still leaves the stored
	// status truthful.
	if rec.Status == models.TokenStatusActive && time.Now().After(rec.Expiry) {
		if err := m.store.UpdateTokenStatus(ctx, rec.ID, models.TokenStatusExpired); err != nil {
			log.Printf("Warning: failed to mark token %s expired: %v", rec.ID, err)
		} else {
			rec.Status = models.TokenStatusExpired
		}
	}

	if rec.RefreshToken == "" {
		if err := m.store.UpdateTokenStatus(ctx, rec.ID, models.TokenStatusInvalid); err != nil {
			log.Printf("Warning: failed to mark token %s invalid: %v", rec.ID, err)
		}
		return nil, &ReauthRequiredError{
			UserID:       rec.UserID,
			MailboxEmail: rec.MailboxEmail,
			Reason:       "no refresh token stored; reconnect the mailbox",
		}
	}

	newTok, err := m.client.Refresh(ctx, recordToken(rec))
	if err != nil {
		if errors.Is(err, ErrGrantRevoked) {
			if statusErr := m.store.UpdateTokenStatus(ctx, rec.ID, models.TokenStatusInvalid); statusErr != nil {
				log.Printf("Warning: failed to mark token %s invalid: %v", rec.ID, statusErr)
			}
			log.Printf("Refresh rejected for %s (user %s), record marked invalid", rec.MailboxEmail, rec.UserID)
			return nil, &ReauthRequiredError{
				UserID:       rec.UserID,
				MailboxEmail: rec.MailboxEmail,
				Reason:       "provider revoked the stored grant; reconnect the mailbox",
				Cause:        err,
			}
		}
		return nil, fmt.Errorf("refresh failed for %s: %w", rec.MailboxEmail, err)
	}

	rec.AccessToken = newTok.AccessToken
	rec.Expiry = newTok.Expiry
	rec.Status = models.TokenStatusActive
	if newTok.RefreshToken != "" {
		rec.RefreshToken = newTok.RefreshToken
	}

	if err := m.store.UpsertToken(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed token: %w", err)
	}

	log.Printf("Refreshed token for %s (user %s, new expiry %v)", rec.MailboxEmail, rec.UserID, rec.Expiry)
	return rec, nil
}

// SendViaToken sends a message through the user's connected mailbox and
// records a reference to it for the inbox view.
func (m *Manager) SendViaToken(ctx context.Context, userID string, msg *models.Message) (*models.ProviderSendResult, error) {
	if msg == nil || len(msg.To) == 0 || msg.To[0] == "" {
		return nil, &ValidationError{Field: "to", Message: "at least one recipient is required"}
	}
	if msg.HTML == "" && msg.Text == "" {
		return nil, &ValidationError{Field: "body", Message: "message must contain HTML or text content"}
	}

	rec, err := m.GetLiveToken(ctx, userID)
	if err != nil {
		return nil, err
	}

	raw := buildRawMessage(rec.MailboxEmail, msg)

	startTime := time.Now()
	providerID, err := m.client.SendRaw(ctx, recordToken(rec), raw)
	sendDuration := time.Since(startTime)

	if err != nil {
		var rejected *SendRejectedError
		if errors.As(err, &rejected) {
			rejected.MailboxEmail = rec.MailboxEmail
			log.Printf("Mailbox send rejected for %s (took %v): %v", rec.MailboxEmail, sendDuration, rejected)
			return nil, rejected
		}
		return nil, fmt.Errorf("mailbox send failed for %s: %w", rec.MailboxEmail, err)
	}

	sentAt := time.Now().UTC()
	record := &models.MessageRecord{
		UserID:            userID,
		MailboxEmail:      rec.MailboxEmail,
		ProviderMessageID: providerID,
		Direction:         models.DirectionSent,
		FromEmail:         rec.MailboxEmail,
		ToEmails:          msg.To,
		Subject:           msg.Subject,
		Body:              firstNonEmpty(msg.Text, msg.HTML),
		InternalDate:      sentAt,
	}
	if _, err := m.store.InsertMessageRecord(ctx, record); err != nil {
		// The send already succeeded; a bookkeeping failure must not turn
		// it into an error for the caller.
		log.Printf("Warning: failed to record sent message %s: %v", providerID, err)
	}

	log.Printf("Mailbox send successful from %s to %v (took %v, id %s)",
		rec.MailboxEmail, msg.To, sendDuration, providerID)

	return &models.ProviderSendResult{
		ProviderMessageID: providerID,
		MailboxEmail:      rec.MailboxEmail,
		SentAt:            sentAt,
	}, nil
}

// SyncRecentMessages pulls the most recent messages visible to the grant
// and stores the ones not already recorded, classifying each as sent or
// received. Matching on the provider-assigned message id makes
// re-invocation idempotent: nothing new on the provider side means a
// result of zero.
func (m *Manager) SyncRecentMessages(ctx context.Context, userID string, maxCount int) (int, error) {
	if maxCount <= 0 {
		maxCount = 50
	}

	rec, err := m.GetLiveToken(ctx, userID)
	if err != nil {
		return 0, err
	}

	ids, err := m.client.ListMessageIDs(ctx, recordToken(rec), int64(maxCount))
	if err != nil {
		return 0, fmt.Errorf("failed to list recent messages for %s: %w", rec.MailboxEmail, err)
	}

	newCount := 0
	for _, id := range ids {
		seen, err := m.store.HasMessageRecord(ctx, id)
		if err != nil {
			return newCount, fmt.Errorf("failed to check message %s: %w", id, err)
		}
		if seen {
			continue
		}

		remote, err := m.client.GetMessage(ctx, recordToken(rec), id)
		if err != nil {
			return newCount, fmt.Errorf("failed to fetch message %s: %w", id, err)
		}

		record := &models.MessageRecord{
			UserID:            userID,
			MailboxEmail:      rec.MailboxEmail,
			ProviderMessageID: remote.ID,
			Direction:         classifyDirection(remote, rec.MailboxEmail),
			FromEmail:         remote.From,
			ToEmails:          remote.To,
			Subject:           remote.Subject,
			Snippet:           remote.Snippet,
			Body:              remote.Body,
			InternalDate:      remote.InternalDate,
		}

		inserted, err := m.store.InsertMessageRecord(ctx, record)
		if err != nil {
			return newCount, fmt.Errorf("failed to store message %s: %w", id, err)
		}
		if inserted {
			newCount++
		}
	}

	log.Printf("Synced mailbox %s for user %s: %d new of %d listed",
		rec.MailboxEmail, userID, newCount, len(ids))

	return newCount, nil
}

// ListMessages returns stored message references for the inbox view.
func (m *Manager) ListMessages(ctx context.Context, userID string, limit int) ([]*models.MessageRecord, error) {
	return m.store.ListMessageRecords(ctx, userID, limit)
}

// classifyDirection uses the provider's SENT label when present, falling
// back to comparing the From header against the connection's mailbox.
func classifyDirection(remote *RemoteMessage, mailboxEmail string) models.Direction {
	for _, label := range remote.LabelIDs {
		if label == "SENT" {
			return models.DirectionSent
		}
	}
	if strings.Contains(strings.ToLower(remote.From), strings.ToLower(mailboxEmail)) {
		return models.DirectionSent
	}
	return models.DirectionReceived
}

// buildRawMessage assembles an RFC 2822 message and encodes it the way the
// provider's raw send expects.
func buildRawMessage(from string, msg *models.Message) string {
	var b strings.Builder

	fromHeader := from
	if msg.From != "" {
		fromHeader = msg.From
	}
	b.WriteString(fmt.Sprintf("From: %s\r\n", sanitizeHeaderValue(fromHeader)))
	b.WriteString(fmt.Sprintf("To: %s\r\n", sanitizeHeaderValue(strings.Join(msg.To, ", "))))
	if len(msg.CC) > 0 {
		b.WriteString(fmt.Sprintf("Cc: %s\r\n", sanitizeHeaderValue(strings.Join(msg.CC, ", "))))
	}
	if len(msg.BCC) > 0 {
		b.WriteString(fmt.Sprintf("Bcc: %s\r\n", sanitizeHeaderValue(strings.Join(msg.BCC, ", "))))
	}
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", sanitizeHeaderValue(msg.Subject)))

	for key, value := range msg.Headers {
		if !isReservedHeader(key) {
			b.WriteString(fmt.Sprintf("%s: %s\r\n", sanitizeHeaderValue(key), sanitizeHeaderValue(value)))
		}
	}

	if msg.HTML != "" {
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.HTML)
	} else {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		b.WriteString(msg.Text)
	}

	return base64.URLEncoding.EncodeToString([]byte(b.String()))
}

// sanitizeHeaderValue strips CR/LF so caller-supplied values cannot smuggle
// extra headers into the raw message.
func sanitizeHeaderValue(value string) string {
	value = strings.ReplaceAll(value, "\r", "")
	return strings.ReplaceAll(value, "\n", " ")
}

func isReservedHeader(header string) bool {
	switch strings.ToLower(header) {
	case "from", "to", "cc", "bcc", "subject", "content-type", "message-id", "date":
		return true
	}
	return false
}

func recordToken(rec *models.TokenRecord) *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		Expiry:       rec.Expiry,
		TokenType:    "Bearer",
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

var _ Store = (*store.Store)(nil)
