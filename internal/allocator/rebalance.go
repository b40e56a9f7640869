package allocator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alejandrodnm/tradegate/internal/domain"
)

const (
	rejectWouldExceedCap = "would exceed pool cap"
	demoteCapContracted  = "pool cap contracted"
)

// Rebalance recomputes the pool cap, expires stale allocations, demotes
// actives that no longer fit a shrunk cap, and activates staged allocations
// in FIFO order while the running total stays under the cap. Immediately
// after an execute pass, the sum of active allocations never exceeds the
// recomputed cap.
//
// Execute mode is at-most-once per hour bucket: the persisted bucket marker
// is checked before any mutation, and a repeat call for a processed bucket
// returns the recorded result unchanged. Preview mode computes the same
// outcome without persisting anything.
func (a *Allocator) Rebalance(ctx context.Context, mode domain.RebalanceMode) (domain.RebalanceResult, error) {
	now := a.now().UTC()
	bucket := now.Truncate(time.Hour)

	if mode == domain.RebalanceExecute {
		recorded, err := a.store.BucketResult(ctx, bucket)
		if err != nil {
			return domain.RebalanceResult{}, fmt.Errorf("allocator.Rebalance: bucket lookup: %w", err)
		}
		if recorded != nil {
			recorded.Replayed = true
			return *recorded, nil
		}

		got, err := a.store.AcquireRebalanceLock(ctx, a.holder, lockStaleAfter)
		if err != nil {
			return domain.RebalanceResult{}, fmt.Errorf("allocator.Rebalance: acquire lock: %w", err)
		}
		if !got {
			return domain.RebalanceResult{}, fmt.Errorf("allocator.Rebalance: lock held by another runner")
		}
		defer func() {
			if err := a.store.ReleaseRebalanceLock(ctx, a.holder); err != nil {
				slog.Warn("allocator: release rebalance lock", "err", err)
			}
		}()

		// Re-check under the lock: another runner may have processed the
		// bucket between our first look and acquiring the lock.
		recorded, err = a.store.BucketResult(ctx, bucket)
		if err != nil {
			return domain.RebalanceResult{}, fmt.Errorf("allocator.Rebalance: bucket recheck: %w", err)
		}
		if recorded != nil {
			recorded.Replayed = true
			return *recorded, nil
		}
	}

	prod, err := a.perf.ProductionStats(ctx)
	if err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("allocator.Rebalance: production stats: %w", err)
	}
	poolCap := PoolCap(a.params, prod)

	active, err := a.store.AllocationsByStatus(ctx, domain.AllocationActive)
	if err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("allocator.Rebalance: list active: %w", err)
	}
	staged, err := a.store.AllocationsByStatus(ctx, domain.AllocationStaged)
	if err != nil {
		return domain.RebalanceResult{}, fmt.Errorf("allocator.Rebalance: list staged: %w", err)
	}

	result := domain.RebalanceResult{Bucket: bucket, Mode: mode, PoolCap: poolCap}

	// 1. Expire active allocations past their TTL, subtracting them from
	//    the running total.
	runningTotal := 0.0
	var surviving []domain.Allocation
	for _, alloc := range active {
		if alloc.Expired(now) {
			if mode == domain.RebalanceExecute {
				if err := a.store.UpdateStatus(ctx, alloc.ID, domain.AllocationActive, domain.AllocationExpired); err != nil {
					return domain.RebalanceResult{}, fmt.Errorf("allocator.Rebalance: expire %s: %w", alloc.ID, err)
				}
			}
			result.Expired = append(result.Expired, domain.AllocationChange{
				AllocationID: alloc.ID,
				StrategyRef:  alloc.StrategyRef,
				Amount:       alloc.Allocation,
				Reason:       "ttl elapsed",
			})
			continue
		}
		surviving = append(surviving, alloc)
		runningTotal += alloc.Allocation
	}

	// 2. A shrunk cap demotes surviving actives newest first until the
	//    total fits again. Demoted allocations freeze, keeping the ledger
	//    record of why the grant stopped.
	for i := len(surviving) - 1; i >= 0 && runningTotal > poolCap; i-- {
		alloc := surviving[i]
		if mode == domain.RebalanceExecute {
			if err := a.store.UpdateStatus(ctx, alloc.ID, domain.AllocationActive, domain.AllocationFrozen); err != nil {
				return domain.RebalanceResult{}, fmt.Errorf("allocator.Rebalance: demote %s: %w", alloc.ID, err)
			}
		}
		runningTotal -= alloc.Allocation
		result.Demoted = append(result.Demoted, domain.AllocationChange{
			AllocationID: alloc.ID,
			StrategyRef:  alloc.StrategyRef,
			Amount:       alloc.Allocation,
			Reason:       demoteCapContracted,
		})
	}

	// 3. FIFO activation of staged allocations under the cap. Staged
	//    allocations past their own TTL expire instead.
	for _, alloc := range staged {
		change := domain.AllocationChange{
			AllocationID: alloc.ID,
			StrategyRef:  alloc.StrategyRef,
			Amount:       alloc.Allocation,
		}

		if alloc.Expired(now) {
			if mode == domain.RebalanceExecute {
				if err := a.store.UpdateStatus(ctx, alloc.ID, domain.AllocationStaged, domain.AllocationExpired); err != nil {
					return domain.RebalanceResult{}, fmt.Errorf("allocator.Rebalance: expire staged %s: %w", alloc.ID, err)
				}
			}
			change.Reason = "ttl elapsed before activation"
			result.Expired = append(result.Expired, change)
			continue
		}

		if runningTotal+alloc.Allocation > poolCap {
			change.Reason = rejectWouldExceedCap
			result.Rejected = append(result.Rejected, change)
			continue
		}

		if mode == domain.RebalanceExecute {
			if err := a.store.UpdateStatus(ctx, alloc.ID, domain.AllocationStaged, domain.AllocationActive); err != nil {
				return domain.RebalanceResult{}, fmt.Errorf("allocator.Rebalance: activate %s: %w", alloc.ID, err)
			}
		}
		runningTotal += alloc.Allocation
		change.Reason = "within pool cap"
		result.Activated = append(result.Activated, change)
	}

	result.ActiveTotal = runningTotal
	publishRebalance(poolCap, runningTotal)

	if mode == domain.RebalanceExecute {
		if err := a.store.SaveBucketResult(ctx, result); err != nil {
			return domain.RebalanceResult{}, fmt.Errorf("allocator.Rebalance: save bucket: %w", err)
		}
		slog.Info("allocator: rebalanced",
			"bucket", bucket.Format(time.RFC3339),
			"pool_cap", poolCap,
			"active_total", runningTotal,
			"activated", len(result.Activated),
			"rejected", len(result.Rejected),
			"expired", len(result.Expired),
			"demoted", len(result.Demoted),
		)
	}

	return result, nil
}
