package scheduler

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	appLog "doorcal/internal/log"
	"doorcal/internal/syncer"
)

// FallbackSpec is used when the configured refresh spec does not parse.
const FallbackSpec = "@hourly"

// Runner performs one sync run.
type Runner interface {
	Run(ctx context.Context, opts syncer.Options) (*syncer.Report, error)
}

// Worker triggers sync runs on a cron schedule. Overlapping ticks are
// skipped while a run is still in progress.
type Worker struct {
	runner Runner
	opts   syncer.Options
	spec   string

	cron   *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewWorker(runner Runner, spec string, opts syncer.Options) *Worker {
	return &Worker{runner: runner, spec: spec, opts: opts}
}

// Start runs one sync immediately in the background and then schedules
// the rest. It returns the spec actually in use.
func (w *Worker) Start(ctx context.Context) string {
	w.runCtx, w.cancel = context.WithCancel(ctx)

	logger := cronLogger{}
	newCron := func() *cron.Cron {
		return cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		)
	}

	c := newCron()
	job := cron.FuncJob(func() { w.runOnce(w.runCtx) })
	if _, err := c.AddJob(w.spec, job); err != nil {
		appLog.Warn("failed to schedule with configured refresh spec; falling back", "spec", w.spec, "fallback", FallbackSpec, "err", err)
		w.spec = FallbackSpec
		c = newCron()
		_, _ = c.AddJob(w.spec, job)
	}
	c.Start()
	w.cron = c

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.runOnce(w.runCtx)
	}()

	appLog.Info("scheduler started", "spec", w.spec, "dry_run", w.opts.DryRun)
	return w.spec
}

// Stop cancels in-flight runs and waits for them and the cron to finish.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	if w.cron != nil {
		ctx := w.cron.Stop()
		<-ctx.Done()
	}
	w.wg.Wait()
	appLog.Info("scheduler stopped")
}

func (w *Worker) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, err := w.runner.Run(ctx, w.opts)
	switch {
	case err == nil:
	case errors.Is(err, syncer.ErrLocked):
		appLog.Info("skipping scheduled sync; another run holds the lock")
	default:
		appLog.Error("scheduled sync failed", err)
	}
}

// cronLogger routes cron's own messages to internal/log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	appLog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	appLog.Error("cron: "+msg, err, keysAndValues...)
}
