// Package pipeline runs the per-cycle stages: authorize subscribers
// that lost their session, then fetch and diff grade snapshots,
// handing non-empty change-sets to the notifier.
package pipeline

import (
	"context"

	"github.com/tmsbridge/gradewatch/internal/domain"
	"github.com/tmsbridge/gradewatch/internal/portal"
	"github.com/tmsbridge/gradewatch/internal/store"
)

// Notifier delivers a change-set to a subscriber's active channels.
// Delivery failures stay inside the notifier; Notify never reports
// them back to the pipeline.
type Notifier interface {
	Notify(ctx context.Context, subscriberID int64, changes domain.ChangeSet, snapshot domain.GradeTable)
}

// PortalClient is the slice of the portal API the pipeline consumes.
type PortalClient interface {
	LoginBatch(ctx context.Context, creds []domain.Credentials) []portal.LoginResult
	FetchGradesBatch(ctx context.Context, targets []domain.PollTarget) []portal.FetchResult
}

// Pipeline wires the two stages over a shared store.
type Pipeline struct {
	repo     store.Repository
	portal   PortalClient
	notifier Notifier
}

// New creates a pipeline.
func New(repo store.Repository, portalClient PortalClient, notifier Notifier) *Pipeline {
	return &Pipeline{
		repo:     repo,
		portal:   portalClient,
		notifier: notifier,
	}
}

// Run executes one complete cycle. Authorization fully completes
// before any grade fetch starts; later stages re-read the session
// store rather than consuming in-memory output.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.Authorize(ctx); err != nil {
		return err
	}
	return p.Check(ctx)
}
