package index

import (
	"context"
	"math"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"jobescrow/core/types"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := Open(filepath.Join(t.TempDir(), "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func jobEvent(eventType, id, client, freelancer, state string) *types.Event {
	attrs := map[string]string{
		"id":            id,
		"client":        client,
		"token":         "USDC",
		"amount":        "1000",
		"softDeadline":  "100",
		"hardDeadline":  "200",
		"penaltyPerSec": "10",
		"state":         state,
		"updatedAt":     "50",
	}
	if freelancer != "" {
		attrs["freelancer"] = freelancer
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func TestApplyUpsertsLatestSnapshot(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()

	require.NoError(t, idx.Apply(ctx, jobEvent("jobs.posted", "1", "job1client", "", "open")))
	require.NoError(t, idx.Apply(ctx, jobEvent("jobs.assigned", "1", "job1client", "job1free", "assigned")))
	completed := jobEvent("jobs.completed", "1", "job1client", "job1free", "completed")
	completed.Attributes["payout"] = "500"
	completed.Attributes["refund"] = "500"
	require.NoError(t, idx.Apply(ctx, completed))

	row, err := idx.Get(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, "completed", row.State)
	require.Equal(t, "job1free", row.Freelancer)
	require.Equal(t, "500", row.Payout)
	require.Equal(t, "jobs.completed", row.LastEvent)
	require.Equal(t, "200", row.HardDeadline)
	require.Equal(t, uint64(200), Uint(row.HardDeadline))

	_, err = idx.Get(ctx, 2)
	require.ErrorIs(t, err, ErrNotIndexed)
}

func TestApplyStoresFullRangeDeadlines(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	maxDeadline := strconv.FormatUint(math.MaxUint64, 10)
	evt := jobEvent("jobs.posted", "7", "job1client", "", "open")
	evt.Attributes["softDeadline"] = strconv.FormatUint(math.MaxUint64-1, 10)
	evt.Attributes["hardDeadline"] = maxDeadline
	evt.Attributes["updatedAt"] = maxDeadline
	require.NoError(t, idx.Apply(ctx, evt))

	row, err := idx.Get(ctx, 7)
	require.NoError(t, err)
	require.Equal(t, uint64(math.MaxUint64), Uint(row.HardDeadline))
	require.Equal(t, uint64(math.MaxUint64-1), Uint(row.SoftDeadline))
	require.Equal(t, uint64(math.MaxUint64), Uint(row.LedgerUpdatedAt))

	rows, err := idx.ListByAccount(ctx, "job1client", "open", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, maxDeadline, rows[0].HardDeadline)
}

func TestApplyRejectsMalformedDeadline(t *testing.T) {
	idx := openTestIndex(t)
	evt := jobEvent("jobs.posted", "1", "job1client", "", "open")
	evt.Attributes["hardDeadline"] = "-5"
	require.Error(t, idx.Apply(context.Background(), evt))
}

func TestApplyIgnoresOtherEvents(t *testing.T) {
	idx := openTestIndex(t)
	require.NoError(t, idx.Apply(context.Background(), &types.Event{Type: "transfer.token", Attributes: map[string]string{"amount": "1"}}))
	require.Error(t, idx.Apply(context.Background(), &types.Event{Type: "jobs.posted", Attributes: map[string]string{}}))
}

func TestListByAccount(t *testing.T) {
	idx := openTestIndex(t)
	ctx := context.Background()
	require.NoError(t, idx.Apply(ctx, jobEvent("jobs.posted", "1", "job1alice", "", "open")))
	require.NoError(t, idx.Apply(ctx, jobEvent("jobs.assigned", "2", "job1alice", "job1bob", "assigned")))
	require.NoError(t, idx.Apply(ctx, jobEvent("jobs.assigned", "3", "job1carol", "job1bob", "assigned")))

	rows, err := idx.ListByAccount(ctx, "job1alice", "", 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, uint64(2), rows[0].ID)

	rows, err = idx.ListByAccount(ctx, "job1bob", "assigned", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, uint64(3), rows[0].ID)

	rows, err = idx.ListByAccount(ctx, "job1alice", "completed", 10)
	require.NoError(t, err)
	require.Empty(t, rows)

	_, err = idx.ListByAccount(ctx, " ", "", 10)
	require.Error(t, err)
}
