// Package postgres provides the PostgreSQL implementation of the
// store repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tmsbridge/gradewatch/internal/domain"
	"github.com/tmsbridge/gradewatch/internal/store"
)

// Repository implements store.Repository using PostgreSQL. Portal
// secrets are sealed with the cipher on the way in and opened on the
// way out; the database only ever sees ciphertext.
type Repository struct {
	db     *pgxpool.Pool
	cipher *store.Cipher
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool, cipher *store.Cipher) *Repository {
	return &Repository{db: db, cipher: cipher}
}

// UpsertSubscriber registers the account or refreshes its secret.
func (r *Repository) UpsertSubscriber(ctx context.Context, accountID, secret string) (int64, error) {
	sealed, err := r.cipher.Seal(secret)
	if err != nil {
		return 0, fmt.Errorf("seal secret: %w", err)
	}

	query := `
		INSERT INTO subscribers (account_id, secret)
		VALUES ($1, $2)
		ON CONFLICT (account_id)
		DO UPDATE SET secret = EXCLUDED.secret, updated_at = NOW()
		RETURNING id
	`
	var id int64
	if err := r.db.QueryRow(ctx, query, accountID, sealed).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert subscriber: %w", err)
	}
	return id, nil
}

// AuthCandidates lists subscribers with an active binding and no
// current session.
func (r *Repository) AuthCandidates(ctx context.Context) ([]domain.Credentials, error) {
	query := `
		SELECT s.id, s.account_id, s.secret
		FROM subscribers s
		WHERE NOT (
			s.active_telegram_id IS NULL AND
			s.active_webhook_id IS NULL AND
			s.active_email_id IS NULL
		)
		AND NOT EXISTS (
			SELECT 1 FROM sessions ses
			WHERE ses.subscriber_id = s.id AND NOT ses.expired
		)
		ORDER BY s.id
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("auth candidates: %w", err)
	}
	defer rows.Close()

	creds := make([]domain.Credentials, 0)
	for rows.Next() {
		var c domain.Credentials
		var sealed []byte
		if err := rows.Scan(&c.SubscriberID, &c.AccountID, &sealed); err != nil {
			return nil, fmt.Errorf("scan auth candidate: %w", err)
		}
		if c.Secret, err = r.cipher.Open(sealed); err != nil {
			return nil, fmt.Errorf("open secret for %d: %w", c.SubscriberID, err)
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// PollTargets lists subscribers holding a current session and at
// least one active binding.
func (r *Repository) PollTargets(ctx context.Context) ([]domain.PollTarget, error) {
	query := `
		SELECT DISTINCT ON (ses.subscriber_id) ses.subscriber_id, ses.token
		FROM sessions ses
		JOIN subscribers s ON s.id = ses.subscriber_id
		WHERE NOT ses.expired
		AND NOT (
			s.active_telegram_id IS NULL AND
			s.active_webhook_id IS NULL AND
			s.active_email_id IS NULL
		)
		ORDER BY ses.subscriber_id, ses.created_at DESC, ses.id DESC
	`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("poll targets: %w", err)
	}
	defer rows.Close()

	targets := make([]domain.PollTarget, 0)
	for rows.Next() {
		var t domain.PollTarget
		if err := rows.Scan(&t.SubscriberID, &t.SessionToken); err != nil {
			return nil, fmt.Errorf("scan poll target: %w", err)
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// InsertSession records a new current session row.
func (r *Repository) InsertSession(ctx context.Context, subscriberID int64, token string) error {
	query := `INSERT INTO sessions (subscriber_id, token) VALUES ($1, $2)`
	if _, err := r.db.Exec(ctx, query, subscriberID, token); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// ExpireCurrentSession flips the latest non-expired session to
// expired. The expired flag is the only mutation sessions ever see.
func (r *Repository) ExpireCurrentSession(ctx context.Context, subscriberID int64) error {
	query := `
		UPDATE sessions SET expired = TRUE
		WHERE id = (
			SELECT id FROM sessions
			WHERE subscriber_id = $1 AND NOT expired
			ORDER BY created_at DESC, id DESC
			LIMIT 1
		)
	`
	result, err := r.db.Exec(ctx, query, subscriberID)
	if err != nil {
		return fmt.Errorf("expire session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNoCurrentSession
	}
	return nil
}

// GetSnapshot returns the last persisted snapshot.
func (r *Repository) GetSnapshot(ctx context.Context, subscriberID int64) (*domain.Snapshot, error) {
	query := `SELECT grades, updated_at FROM snapshots WHERE subscriber_id = $1`

	snap := domain.Snapshot{SubscriberID: subscriberID}
	err := r.db.QueryRow(ctx, query, subscriberID).Scan(&snap.Grades, &snap.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return &snap, nil
}

// SaveSnapshot replaces the subscriber's snapshot.
func (r *Repository) SaveSnapshot(ctx context.Context, subscriberID int64, grades domain.GradeTable) error {
	query := `
		INSERT INTO snapshots (subscriber_id, grades, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (subscriber_id)
		DO UPDATE SET grades = EXCLUDED.grades, updated_at = NOW()
	`
	if _, err := r.db.Exec(ctx, query, subscriberID, grades); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// ActiveBindings resolves the subscriber's active binding per kind.
func (r *Repository) ActiveBindings(ctx context.Context, subscriberID int64) ([]domain.ChannelBinding, error) {
	query := `
		SELECT b.id, b.subscriber_id, b.kind, b.target, b.created_at
		FROM subscribers s
		JOIN channel_bindings b
		  ON b.id IN (s.active_telegram_id, s.active_webhook_id, s.active_email_id)
		WHERE s.id = $1
		ORDER BY b.kind
	`
	rows, err := r.db.Query(ctx, query, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("active bindings: %w", err)
	}
	defer rows.Close()

	bindings := make([]domain.ChannelBinding, 0)
	for rows.Next() {
		var b domain.ChannelBinding
		if err := rows.Scan(&b.ID, &b.SubscriberID, &b.Kind, &b.Target, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan binding: %w", err)
		}
		bindings = append(bindings, b)
	}
	return bindings, rows.Err()
}

// CreateBinding records a new binding row.
func (r *Repository) CreateBinding(ctx context.Context, subscriberID int64, kind domain.ChannelKind, target string) (int64, error) {
	query := `
		INSERT INTO channel_bindings (subscriber_id, kind, target)
		VALUES ($1, $2, $3)
		RETURNING id
	`
	var id int64
	if err := r.db.QueryRow(ctx, query, subscriberID, kind, target).Scan(&id); err != nil {
		return 0, fmt.Errorf("create binding: %w", err)
	}
	return id, nil
}

// SetActiveBinding points the active slot for the binding's kind at
// the given binding row.
func (r *Repository) SetActiveBinding(ctx context.Context, subscriberID, bindingID int64) error {
	query := `
		UPDATE subscribers s SET
			active_telegram_id = CASE WHEN b.kind = 'telegram' THEN b.id ELSE s.active_telegram_id END,
			active_webhook_id  = CASE WHEN b.kind = 'webhook'  THEN b.id ELSE s.active_webhook_id END,
			active_email_id    = CASE WHEN b.kind = 'email'    THEN b.id ELSE s.active_email_id END,
			updated_at = NOW()
		FROM channel_bindings b
		WHERE s.id = $1 AND b.id = $2 AND b.subscriber_id = s.id
	`
	result, err := r.db.Exec(ctx, query, subscriberID, bindingID)
	if err != nil {
		return fmt.Errorf("set active binding: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrBindingNotFound
	}
	return nil
}

// ClearActiveBinding deactivates one kind; binding rows are retained.
func (r *Repository) ClearActiveBinding(ctx context.Context, subscriberID int64, kind domain.ChannelKind) error {
	var column string
	switch kind {
	case domain.ChannelKindTelegram:
		column = "active_telegram_id"
	case domain.ChannelKindWebhook:
		column = "active_webhook_id"
	case domain.ChannelKindEmail:
		column = "active_email_id"
	default:
		return fmt.Errorf("unknown channel kind %q", kind)
	}

	query := fmt.Sprintf(`UPDATE subscribers SET %s = NULL, updated_at = NOW() WHERE id = $1`, column)
	result, err := r.db.Exec(ctx, query, subscriberID)
	if err != nil {
		return fmt.Errorf("clear active binding: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrSubscriberNotFound
	}
	return nil
}
