package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doorcal/internal/syncer"
)

type countingRunner struct {
	calls   atomic.Int32
	lastOpt atomic.Value
	err     error
	block   chan struct{}
}

func (r *countingRunner) Run(ctx context.Context, opts syncer.Options) (*syncer.Report, error) {
	r.calls.Add(1)
	r.lastOpt.Store(opts)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return &syncer.Report{}, nil
}

func TestWorkerRunsImmediately(t *testing.T) {
	r := &countingRunner{}
	w := NewWorker(r, "*/15 * * * *", syncer.Options{DryRun: true})

	assert.Equal(t, "*/15 * * * *", w.Start(context.Background()))
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	w.Stop()

	assert.Equal(t, syncer.Options{DryRun: true}, r.lastOpt.Load())
}

func TestWorkerFallsBackOnBadSpec(t *testing.T) {
	w := NewWorker(&countingRunner{}, "every tuesday-ish", syncer.Options{})
	assert.Equal(t, FallbackSpec, w.Start(context.Background()))
	w.Stop()
}

func TestWorkerStopCancelsInFlightRun(t *testing.T) {
	r := &countingRunner{block: make(chan struct{})}
	w := NewWorker(r, "@daily", syncer.Options{})
	w.Start(context.Background())
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after cancelling the run")
	}
}

func TestWorkerToleratesLockedRuns(t *testing.T) {
	r := &countingRunner{err: syncer.ErrLocked}
	w := NewWorker(r, "@daily", syncer.Options{})
	w.Start(context.Background())
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	w.Stop()
}
