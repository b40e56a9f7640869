package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

// AllocationStore persists allocation state. The capital allocator is its
// only writer; the store serializes mutations per allocation id.
type AllocationStore interface {
	InsertAllocation(ctx context.Context, a domain.Allocation) error

	// UpdateStatus transitions id from one status to another. It fails when
	// the current status does not match from, which keeps terminal states
	// terminal.
	UpdateStatus(ctx context.Context, id string, from, to domain.AllocationStatus) error

	AllocationsByStatus(ctx context.Context, status domain.AllocationStatus) ([]domain.Allocation, error)
	AllAllocations(ctx context.Context) ([]domain.Allocation, error)

	// FindByToken returns the allocation previously created for this
	// (session, strategy, token) triple, or nil. Backs stage idempotency.
	FindByToken(ctx context.Context, sessionID, strategyRef, token string) (*domain.Allocation, error)

	// BucketResult returns the recorded result for an hour bucket, or nil
	// when the bucket has not been processed.
	BucketResult(ctx context.Context, bucket time.Time) (*domain.RebalanceResult, error)
	SaveBucketResult(ctx context.Context, r domain.RebalanceResult) error

	// AcquireRebalanceLock takes the single rebalance lock. A lock older
	// than staleAfter is considered abandoned and may be taken over.
	AcquireRebalanceLock(ctx context.Context, holder string, staleAfter time.Duration) (bool, error)
	ReleaseRebalanceLock(ctx context.Context, holder string) error

	Close() error
}
