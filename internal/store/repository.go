// Package store defines the narrow persistence contract for
// subscribers, sessions, snapshots and channel bindings.
package store

import (
	"context"
	"errors"

	"github.com/tmsbridge/gradewatch/internal/domain"
)

// Repository errors.
var (
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrSnapshotNotFound   = errors.New("snapshot not found")
	ErrBindingNotFound    = errors.New("channel binding not found")
	ErrNoCurrentSession   = errors.New("no current session")
)

// Repository is the store contract used by the pipeline. All writes
// are short, row-scoped transactions: one subscriber's write never
// blocks another's read or write.
type Repository interface {
	// UpsertSubscriber registers an account on first successful login
	// and refreshes the stored secret on every later one.
	UpsertSubscriber(ctx context.Context, accountID, secret string) (int64, error)

	// AuthCandidates lists subscribers that have at least one active
	// channel binding and no current (non-expired) session.
	AuthCandidates(ctx context.Context) ([]domain.Credentials, error)

	// PollTargets lists subscribers with a current session and at
	// least one active binding, paired with that session's token.
	PollTargets(ctx context.Context) ([]domain.PollTarget, error)

	// InsertSession records a freshly obtained session as current.
	InsertSession(ctx context.Context, subscriberID int64, token string) error

	// ExpireCurrentSession flips the latest non-expired session of the
	// subscriber to expired. Older rows are left untouched.
	ExpireCurrentSession(ctx context.Context, subscriberID int64) error

	// GetSnapshot returns the last persisted snapshot, or
	// ErrSnapshotNotFound if the subscriber has none yet.
	GetSnapshot(ctx context.Context, subscriberID int64) (*domain.Snapshot, error)

	// SaveSnapshot replaces the subscriber's snapshot. Callers must
	// diff before saving: the previous value is gone afterwards.
	SaveSnapshot(ctx context.Context, subscriberID int64, grades domain.GradeTable) error

	// ActiveBindings resolves the subscriber's active binding per
	// channel kind. Zero, one or many kinds may be active.
	ActiveBindings(ctx context.Context, subscriberID int64) ([]domain.ChannelBinding, error)

	// CreateBinding records a new binding row for a subscriber.
	CreateBinding(ctx context.Context, subscriberID int64, kind domain.ChannelKind, target string) (int64, error)

	// SetActiveBinding points the subscriber's active slot for the
	// binding's kind at the given binding.
	SetActiveBinding(ctx context.Context, subscriberID, bindingID int64) error

	// ClearActiveBinding deactivates a kind for the subscriber.
	// Binding rows themselves are retained.
	ClearActiveBinding(ctx context.Context, subscriberID int64, kind domain.ChannelKind) error
}
