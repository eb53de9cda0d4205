package pipeline

import (
	"context"
	"errors"

	"github.com/tmsbridge/gradewatch/internal/pkg/ctxlog"
	"github.com/tmsbridge/gradewatch/internal/portal"
)

// Authorize logs in every subscriber that has an active binding but no
// current session. Failed logins are logged and skipped; a subscriber
// with stale credentials stays silent until corrected rather than
// spamming its channels about the failure.
func (p *Pipeline) Authorize(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	candidates, err := p.repo.AuthCandidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	logger.Debug("authorizing subscribers", "count", len(candidates))

	for _, result := range p.portal.LoginBatch(ctx, candidates) {
		if result.Err != nil {
			level := logger.Error
			if errors.Is(result.Err, portal.ErrBadCredentials) {
				level = logger.Warn
			}
			level("login failed",
				"subscriber_id", result.SubscriberID,
				"account_id", result.AccountID,
				"error", result.Err,
			)
			recordLogin("failure")
			continue
		}

		if err := p.repo.InsertSession(ctx, result.SubscriberID, result.Token); err != nil {
			logger.Error("persist session failed",
				"subscriber_id", result.SubscriberID,
				"error", err,
			)
			recordLogin("failure")
			continue
		}

		logger.Info("session established", "subscriber_id", result.SubscriberID)
		recordLogin("success")
	}
	return nil
}
