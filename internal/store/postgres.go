package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"outreachmail/pkg/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Store persists token records and mailbox message references in Postgres.
// The unique constraints on (user_id, mailbox_email) and
// provider_message_id are the concurrency boundary for concurrent
// refreshes and re-entrant syncs; no in-process locking is used.
type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// UpsertToken writes a token record with total-overwrite semantics. Two
// refreshes racing on the same (user, mailbox) both win in turn; results
// for the same record are interchangeable, so last write wins is correct.
func (s *Store) UpsertToken(ctx context.Context, rec *models.TokenRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	const q = `
		INSERT INTO mailbox_tokens (
			id, user_id, mailbox_email, access_token, refresh_token,
			expiry, status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id, mailbox_email) DO UPDATE SET
			access_token  = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			expiry        = EXCLUDED.expiry,
			status        = EXCLUDED.status,
			updated_at    = EXCLUDED.updated_at
		RETURNING id, created_at`

	err := s.pool.QueryRow(ctx, q,
		rec.ID, rec.UserID, rec.MailboxEmail, rec.AccessToken, rec.RefreshToken,
		rec.Expiry, rec.Status, rec.CreatedAt, rec.UpdatedAt,
	).Scan(&rec.ID, &rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert token for %s/%s: %w", rec.UserID, rec.MailboxEmail, err)
	}

	return nil
}

// GetTokensByUser returns all token records for a user, newest first.
func (s *Store) GetTokensByUser(ctx context.Context, userID string) ([]*models.TokenRecord, error) {
	const q = `
		SELECT id, user_id, mailbox_email, access_token, refresh_token,
		       expiry, status, created_at, updated_at
		FROM mailbox_tokens
		WHERE user_id = $1
		ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tokens for user %s: %w", userID, err)
	}
	defer rows.Close()

	var records []*models.TokenRecord
	for rows.Next() {
		var rec models.TokenRecord
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.MailboxEmail, &rec.AccessToken, &rec.RefreshToken,
			&rec.Expiry, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan token row: %w", err)
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// GetToken returns the record for one (user, mailbox) pair.
func (s *Store) GetToken(ctx context.Context, userID, mailboxEmail string) (*models.TokenRecord, error) {
	const q = `
		SELECT id, user_id, mailbox_email, access_token, refresh_token,
		       expiry, status, created_at, updated_at
		FROM mailbox_tokens
		WHERE user_id = $1 AND mailbox_email = $2`

	var rec models.TokenRecord
	err := s.pool.QueryRow(ctx, q, userID, mailboxEmail).Scan(
		&rec.ID, &rec.UserID, &rec.MailboxEmail, &rec.AccessToken, &rec.RefreshToken,
		&rec.Expiry, &rec.Status, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query token %s/%s: %w", userID, mailboxEmail, err)
	}

	return &rec, nil
}

// UpdateTokenStatus flips a record's status. Records are never deleted by
// this subsystem; invalid records stay visible to status queries.
func (s *Store) UpdateTokenStatus(ctx context.Context, id string, status models.TokenStatus) error {
	const q = `
		UPDATE mailbox_tokens
		SET status = $2, updated_at = $3
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update token %s status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// InsertMessageRecord stores a message reference if its provider message id
// has not been seen before. Returns true when a row was inserted, false
// when the record already existed. This is what makes sync idempotent.
func (s *Store) InsertMessageRecord(ctx context.Context, rec *models.MessageRecord) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO mailbox_messages (
			id, user_id, mailbox_email, provider_message_id, direction,
			from_email, to_emails, subject, snippet, body, internal_date, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (provider_message_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q,
		rec.ID, rec.UserID, rec.MailboxEmail, rec.ProviderMessageID, rec.Direction,
		rec.FromEmail, rec.ToEmails, rec.Subject, rec.Snippet, rec.Body,
		rec.InternalDate, rec.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert message record %s: %w", rec.ProviderMessageID, err)
	}

	return tag.RowsAffected() > 0, nil
}

// HasMessageRecord reports whether a provider message id is already stored.
func (s *Store) HasMessageRecord(ctx context.Context, providerMessageID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM mailbox_messages WHERE provider_message_id = $1)`

	var exists bool
	if err := s.pool.QueryRow(ctx, q, providerMessageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check message record %s: %w", providerMessageID, err)
	}

	return exists, nil
}

// ListMessageRecords returns stored message references for a user, newest
// first, for the inbox view.
func (s *Store) ListMessageRecords(ctx context.Context, userID string, limit int) ([]*models.MessageRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	const q = `
		SELECT id, user_id, mailbox_email, provider_message_id, direction,
		       from_email, to_emails, subject, snippet, body, internal_date, created_at
		FROM mailbox_messages
		WHERE user_id = $1
		ORDER BY internal_date DESC
		LIMIT $2`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query message records for user %s: %w", userID, err)
	}
	defer rows.Close()

	var records []*models.MessageRecord
	for rows.Next() {
		var rec models.MessageRecord
		if err := rows.Scan(
			&rec.ID, &rec.UserID, &rec.MailboxEmail, &rec.ProviderMessageID, &rec.Direction,
			&rec.FromEmail, &rec.ToEmails, &rec.Subject, &rec.Snippet, &rec.Body,
			&rec.InternalDate, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message record row: %w", err)
		}
		records = append(records, &rec)
	}

	return records, rows.Err()
}
