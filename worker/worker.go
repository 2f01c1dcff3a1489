// Package worker runs the claim/handle/complete loop on top of the
// claim ledger. Each worker goroutine claims one task at a time, hands
// it to the registered handler with the lease duration as its deadline,
// then completes on success or releases on failure so the task is
// immediately claimable again. Retry policy beyond that is the
// handler's own business.
package worker

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"go-claimqueue/ledger"
	"go-claimqueue/model"
)

// Ledger is the slice of the claim ledger the runner needs.
type Ledger interface {
	Claim(ctx context.Context, workerClass string, leaseDuration time.Duration, watermark int64) (model.Lease, bool, error)
	Complete(ctx context.Context, taskID int64, workerClass string, leasedAt time.Time) error
	Release(ctx context.Context, taskID int64, workerClass string, leasedAt time.Time) error
	SweepExpired(ctx context.Context, workerClass string, leaseDuration time.Duration) (int64, error)
}

// Waiter blocks until a ready nudge arrives or blockFor passes.
type Waiter interface {
	Wait(ctx context.Context, blockFor time.Duration) (int64, bool, error)
}

// Handler does the actual work for a claimed task. A non-nil error
// releases the lease so another worker can pick the task up right away.
type Handler func(ctx context.Context, taskID int64) error

type Runner struct {
	Ledger        Ledger
	Handle        Handler
	WorkerClass   string
	LeaseDuration time.Duration
	Watermark     int64

	// Notifier is optional; without it idle workers sleep PollInterval
	// between claim attempts.
	Notifier     Waiter
	PollInterval time.Duration
}

func (r *Runner) pollInterval() time.Duration {
	if r.PollInterval > 0 {
		return r.PollInterval
	}
	return 2 * time.Second
}

// Start launches workerCount claim loops. They run until ctx is
// cancelled and are accounted for on wg.
func (r *Runner) Start(ctx context.Context, workerCount int, wg *sync.WaitGroup) {
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					log.Printf("[worker %d] shutting down", id)
					return
				default:
					r.runOnce(ctx, id)
				}
			}
		}(i + 1)
	}
}

func (r *Runner) runOnce(ctx context.Context, id int) {
	lease, ok, err := r.Ledger.Claim(ctx, r.WorkerClass, r.LeaseDuration, r.Watermark)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Printf("[worker %d] claim error: %v", id, err)
		r.idle(ctx)
		return
	}
	if !ok {
		r.idle(ctx)
		return
	}

	taskCtx, cancel := context.WithTimeout(ctx, r.LeaseDuration)
	err = r.Handle(taskCtx, lease.TaskID)
	cancel()

	if err != nil {
		log.Printf("[worker %d] task %d failed: %v", id, lease.TaskID, err)
		if rerr := r.Ledger.Release(ctx, lease.TaskID, r.WorkerClass, lease.LeasedAt); rerr != nil {
			if errors.Is(rerr, ledger.ErrLeaseLost) {
				log.Printf("[worker %d] task %d lease already reclaimed", id, lease.TaskID)
			} else {
				log.Printf("[worker %d] release task %d: %v", id, lease.TaskID, rerr)
			}
		}
		return
	}

	if cerr := r.Ledger.Complete(ctx, lease.TaskID, r.WorkerClass, lease.LeasedAt); cerr != nil {
		if errors.Is(cerr, ledger.ErrLeaseLost) {
			// Ran past the lease and someone else took over; their
			// result stands, ours is discarded.
			log.Printf("[worker %d] task %d completed too late, lease reclaimed", id, lease.TaskID)
		} else {
			log.Printf("[worker %d] complete task %d: %v", id, lease.TaskID, cerr)
		}
		return
	}
	log.Printf("[worker %d] completed task %d", id, lease.TaskID)
}

// idle waits for the next reason to try claiming: a ready nudge if a
// notifier is wired, otherwise one poll interval.
func (r *Runner) idle(ctx context.Context) {
	if r.Notifier != nil {
		if _, _, err := r.Notifier.Wait(ctx, r.pollInterval()); err != nil && ctx.Err() == nil {
			log.Printf("[worker] notify wait: %v", err)
		}
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(r.pollInterval()):
	}
}

// StartSweeper launches the periodic expiry sweep: leases whose holders
// died come back as unclaimed without waiting for the next claim to
// trip over them.
func (r *Runner) StartSweeper(ctx context.Context, interval time.Duration, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Printf("[sweeper] shutting down")
				return
			case <-ticker.C:
				n, err := r.Ledger.SweepExpired(ctx, r.WorkerClass, r.LeaseDuration)
				if err != nil {
					if ctx.Err() == nil {
						log.Printf("[sweeper] sweep error: %v", err)
					}
					continue
				}
				if n > 0 {
					log.Printf("[sweeper] reset %d expired leases", n)
				}
			}
		}
	}()
}
