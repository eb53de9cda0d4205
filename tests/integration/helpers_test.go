//go:build integration

package integration

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tmsbridge/gradewatch/internal/domain"
)

var accountSeq atomic.Int64

// uniqueAccountID returns a fresh portal account id so tests never
// collide on the subscribers unique constraint.
func uniqueAccountID() string {
	return fmt.Sprintf("student%04d", accountSeq.Add(1))
}

// newSubscriber registers an account and returns its id.
func newSubscriber(t *testing.T, secret string) (int64, string) {
	t.Helper()
	accountID := uniqueAccountID()
	id, err := testRepo.UpsertSubscriber(context.Background(), accountID, secret)
	require.NoError(t, err)
	return id, accountID
}

// bindActive creates a binding and points the active slot at it.
func bindActive(t *testing.T, subscriberID int64, kind domain.ChannelKind, target string) int64 {
	t.Helper()
	ctx := context.Background()
	bindingID, err := testRepo.CreateBinding(ctx, subscriberID, kind, target)
	require.NoError(t, err)
	require.NoError(t, testRepo.SetActiveBinding(ctx, subscriberID, bindingID))
	return bindingID
}
