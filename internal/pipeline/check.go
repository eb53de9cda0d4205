package pipeline

import (
	"context"
	"errors"

	"github.com/tmsbridge/gradewatch/internal/pkg/ctxlog"
	"github.com/tmsbridge/gradewatch/internal/portal"
	"github.com/tmsbridge/gradewatch/internal/store"
)

// Check fetches a fresh grade table for every subscriber holding a
// current session, diffs it against the stored snapshot, and hands
// non-empty change-sets to the notifier. The change-set is computed
// and delivered strictly before the snapshot row is replaced; once
// replaced, the previous table is gone and the change can never be
// reported again. Delivery failures do not block the replace, so each
// change is offered at most once.
func (p *Pipeline) Check(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	targets, err := p.repo.PollTargets(ctx)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	logger.Debug("checking grades", "count", len(targets))

	for _, result := range p.portal.FetchGradesBatch(ctx, targets) {
		p.handleFetch(ctx, result)
	}
	return nil
}

func (p *Pipeline) handleFetch(ctx context.Context, result portal.FetchResult) {
	logger := ctxlog.FromContext(ctx)

	switch {
	case errors.Is(result.Err, portal.ErrSessionExpired):
		recordFetch("expired")
		logger.Info("session expired", "subscriber_id", result.SubscriberID)
		if err := p.repo.ExpireCurrentSession(ctx, result.SubscriberID); err != nil && !errors.Is(err, store.ErrNoCurrentSession) {
			logger.Error("expire session failed",
				"subscriber_id", result.SubscriberID,
				"error", err,
			)
		}
		return
	case result.Err != nil:
		// Transient; the session stays current and the next cycle
		// retries.
		recordFetch("failure")
		logger.Error("grade fetch failed",
			"subscriber_id", result.SubscriberID,
			"error", result.Err,
		)
		return
	}
	recordFetch("success")

	previous, err := p.repo.GetSnapshot(ctx, result.SubscriberID)
	switch {
	case errors.Is(err, store.ErrSnapshotNotFound):
		// First sighting seeds the baseline without notifying.
	case err != nil:
		logger.Error("load snapshot failed",
			"subscriber_id", result.SubscriberID,
			"error", err,
		)
		return
	default:
		changes := Diff(previous.Grades, result.Grades)
		if !changes.Empty() {
			logger.Info("changes found",
				"subscriber_id", result.SubscriberID,
				"courses", len(changes),
			)
			recordChanges(len(changes))
			p.notifier.Notify(ctx, result.SubscriberID, changes, result.Grades)
		}
	}

	if err := p.repo.SaveSnapshot(ctx, result.SubscriberID, result.Grades); err != nil {
		logger.Error("save snapshot failed",
			"subscriber_id", result.SubscriberID,
			"error", err,
		)
	}
}
