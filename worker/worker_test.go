package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go-claimqueue/model"

	"github.com/stretchr/testify/require"
)

// fakeLedger hands out a fixed sequence of leases and records what the
// runner does with them.
type fakeLedger struct {
	mu        sync.Mutex
	pending   []model.Lease
	completed []int64
	released  []int64
}

func (f *fakeLedger) Claim(ctx context.Context, workerClass string, leaseDuration time.Duration, watermark int64) (model.Lease, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		return model.Lease{}, false, nil
	}
	lease := f.pending[0]
	f.pending = f.pending[1:]
	return lease, true, nil
}

func (f *fakeLedger) Complete(ctx context.Context, taskID int64, workerClass string, leasedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, taskID)
	return nil
}

func (f *fakeLedger) Release(ctx context.Context, taskID int64, workerClass string, leasedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, taskID)
	return nil
}

func (f *fakeLedger) SweepExpired(ctx context.Context, workerClass string, leaseDuration time.Duration) (int64, error) {
	return 0, nil
}

func (f *fakeLedger) snapshot() (completed, released []int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64{}, f.completed...), append([]int64{}, f.released...)
}

func newRunner(led *fakeLedger, handle Handler) *Runner {
	return &Runner{
		Ledger:        led,
		Handle:        handle,
		WorkerClass:   "typeA",
		LeaseDuration: time.Second,
		PollInterval:  10 * time.Millisecond,
	}
}

func TestRunnerCompletesClaimedTasks(t *testing.T) {
	led := &fakeLedger{pending: []model.Lease{
		{TaskID: 100, WorkerClass: "typeA", Status: model.StatusLeased, LeasedAt: time.Now()},
		{TaskID: 101, WorkerClass: "typeA", Status: model.StatusLeased, LeasedAt: time.Now()},
	}}

	var mu sync.Mutex
	var handled []int64
	runner := newRunner(led, func(ctx context.Context, taskID int64) error {
		mu.Lock()
		handled = append(handled, taskID)
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	runner.Start(ctx, 1, &wg)

	time.Sleep(100 * time.Millisecond)
	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int64{100, 101}, handled)
	completed, released := led.snapshot()
	require.Equal(t, []int64{100, 101}, completed)
	require.Empty(t, released)
}

func TestRunnerReleasesOnHandlerFailure(t *testing.T) {
	led := &fakeLedger{pending: []model.Lease{
		{TaskID: 100, WorkerClass: "typeA", Status: model.StatusLeased, LeasedAt: time.Now()},
	}}

	runner := newRunner(led, func(ctx context.Context, taskID int64) error {
		return errors.New("simulated failure")
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	runner.Start(ctx, 1, &wg)

	time.Sleep(100 * time.Millisecond)
	cancel()
	wg.Wait()

	completed, released := led.snapshot()
	require.Empty(t, completed)
	require.Equal(t, []int64{100}, released)
}

func TestRunnerHandsHandlerALeaseBoundedContext(t *testing.T) {
	led := &fakeLedger{pending: []model.Lease{
		{TaskID: 100, WorkerClass: "typeA", Status: model.StatusLeased, LeasedAt: time.Now()},
	}}

	var mu sync.Mutex
	var sawDeadline bool
	runner := newRunner(led, func(ctx context.Context, taskID int64) error {
		_, ok := ctx.Deadline()
		mu.Lock()
		sawDeadline = ok
		mu.Unlock()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	runner.Start(ctx, 1, &wg)

	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.True(t, sawDeadline)
}

func TestRunnerIdlesWhenNothingIsEligible(t *testing.T) {
	led := &fakeLedger{}

	runner := newRunner(led, func(ctx context.Context, taskID int64) error {
		t.Error("handler should never run without a claim")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	runner.Start(ctx, 2, &wg)

	time.Sleep(50 * time.Millisecond)
	cancel()
	wg.Wait()

	completed, released := led.snapshot()
	require.Empty(t, completed)
	require.Empty(t, released)
}
