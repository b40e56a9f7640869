package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

func newTestAllocDB(t *testing.T) *AllocDB {
	t.Helper()
	s, err := NewAllocDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testAllocation(id, token string) domain.Allocation {
	now := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)
	return domain.Allocation{
		ID:               id,
		SessionID:        "sess-1",
		StrategyRef:      "strat-1",
		Pool:             "options",
		Allocation:       0.03,
		Status:           domain.AllocationStaged,
		TTLUntil:         now.Add(7 * 24 * time.Hour),
		ConsistencyToken: token,
		CreatedAt:        now,
	}
}

func TestInsertAndFindByToken(t *testing.T) {
	s := newTestAllocDB(t)
	ctx := context.Background()

	require.NoError(t, s.InsertAllocation(ctx, testAllocation("a-1", "tok-1")))

	got, err := s.FindByToken(ctx, "sess-1", "strat-1", "tok-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "a-1", got.ID)
	assert.Equal(t, domain.AllocationStaged, got.Status)

	missing, err := s.FindByToken(ctx, "sess-1", "strat-1", "tok-unused")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDuplicateTokenRejected(t *testing.T) {
	s := newTestAllocDB(t)
	ctx := context.Background()

	require.NoError(t, s.InsertAllocation(ctx, testAllocation("a-1", "tok-1")))

	err := s.InsertAllocation(ctx, testAllocation("a-2", "tok-1"))
	assert.Error(t, err)

	// a different token for the same pair is fine
	assert.NoError(t, s.InsertAllocation(ctx, testAllocation("a-3", "tok-2")))
}

func TestUpdateStatus_CompareAndSet(t *testing.T) {
	s := newTestAllocDB(t)
	ctx := context.Background()

	require.NoError(t, s.InsertAllocation(ctx, testAllocation("a-1", "tok-1")))

	require.NoError(t, s.UpdateStatus(ctx, "a-1", domain.AllocationStaged, domain.AllocationActive))

	// the row is no longer staged, so the same transition fails
	err := s.UpdateStatus(ctx, "a-1", domain.AllocationStaged, domain.AllocationActive)
	assert.Error(t, err)

	active, err := s.AllocationsByStatus(ctx, domain.AllocationActive)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestUpdateStatus_TerminalStaysTerminal(t *testing.T) {
	s := newTestAllocDB(t)
	ctx := context.Background()

	require.NoError(t, s.InsertAllocation(ctx, testAllocation("a-1", "tok-1")))
	require.NoError(t, s.UpdateStatus(ctx, "a-1", domain.AllocationStaged, domain.AllocationExpired))

	err := s.UpdateStatus(ctx, "a-1", domain.AllocationActive, domain.AllocationActive)
	assert.Error(t, err)

	got, err := s.FindByToken(ctx, "sess-1", "strat-1", "tok-1")
	require.NoError(t, err)
	assert.Equal(t, domain.AllocationExpired, got.Status)
}

func TestAllocationsByStatus_FIFO(t *testing.T) {
	s := newTestAllocDB(t)
	ctx := context.Background()

	older := testAllocation("a-old", "tok-1")
	older.CreatedAt = older.CreatedAt.Add(-time.Hour)
	newer := testAllocation("a-new", "tok-2")

	require.NoError(t, s.InsertAllocation(ctx, newer))
	require.NoError(t, s.InsertAllocation(ctx, older))

	staged, err := s.AllocationsByStatus(ctx, domain.AllocationStaged)
	require.NoError(t, err)
	require.Len(t, staged, 2)
	assert.Equal(t, "a-old", staged[0].ID)
	assert.Equal(t, "a-new", staged[1].ID)
}

func TestBucketResult_Roundtrip(t *testing.T) {
	s := newTestAllocDB(t)
	ctx := context.Background()
	bucket := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)

	missing, err := s.BucketResult(ctx, bucket)
	require.NoError(t, err)
	assert.Nil(t, missing)

	result := domain.RebalanceResult{
		Bucket:      bucket,
		Mode:        domain.RebalanceExecute,
		PoolCap:     0.05,
		ActiveTotal: 0.04,
		Activated: []domain.AllocationChange{
			{AllocationID: "a-1", StrategyRef: "strat-1", Amount: 0.04, Reason: "within pool cap"},
		},
	}
	require.NoError(t, s.SaveBucketResult(ctx, result))

	got, err := s.BucketResult(ctx, bucket)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, result.PoolCap, got.PoolCap)
	assert.Equal(t, result.Activated, got.Activated)
	assert.True(t, got.Bucket.Equal(bucket))
}

func TestSaveBucketResult_AtMostOnce(t *testing.T) {
	s := newTestAllocDB(t)
	ctx := context.Background()
	bucket := time.Date(2026, 8, 30, 15, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveBucketResult(ctx, domain.RebalanceResult{Bucket: bucket}))
	err := s.SaveBucketResult(ctx, domain.RebalanceResult{Bucket: bucket})
	assert.Error(t, err)

	// the next hour is a different bucket
	assert.NoError(t, s.SaveBucketResult(ctx, domain.RebalanceResult{Bucket: bucket.Add(time.Hour)}))
}

func TestRebalanceLock(t *testing.T) {
	s := newTestAllocDB(t)
	ctx := context.Background()

	got, err := s.AcquireRebalanceLock(ctx, "runner-1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, got)

	// another holder is blocked while the lock is fresh
	got, err = s.AcquireRebalanceLock(ctx, "runner-2", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, got)

	// the owner may re-acquire
	got, err = s.AcquireRebalanceLock(ctx, "runner-1", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, got)

	require.NoError(t, s.ReleaseRebalanceLock(ctx, "runner-1"))

	got, err = s.AcquireRebalanceLock(ctx, "runner-2", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestRebalanceLock_StaleTakeover(t *testing.T) {
	s := newTestAllocDB(t)
	ctx := context.Background()

	got, err := s.AcquireRebalanceLock(ctx, "crashed-runner", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, got)

	// age the lock past the stale cutoff
	old := time.Now().UTC().Add(-10 * time.Minute).UnixNano()
	_, err = s.db.ExecContext(ctx, `UPDATE rebalance_lock SET acquired_at = ? WHERE id = 1`, old)
	require.NoError(t, err)

	got, err = s.AcquireRebalanceLock(ctx, "runner-2", 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestReleaseRebalanceLock_OnlyOwner(t *testing.T) {
	s := newTestAllocDB(t)
	ctx := context.Background()

	got, err := s.AcquireRebalanceLock(ctx, "runner-1", 5*time.Minute)
	require.NoError(t, err)
	require.True(t, got)

	// a non-owner release is a no-op
	require.NoError(t, s.ReleaseRebalanceLock(ctx, "runner-2"))

	got, err = s.AcquireRebalanceLock(ctx, "runner-3", 5*time.Minute)
	require.NoError(t, err)
	assert.False(t, got)
}
