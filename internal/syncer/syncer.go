package syncer

import (
	"context"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"doorcal/internal/config"
	"doorcal/internal/ics"
	"doorcal/internal/lock"
	appLog "doorcal/internal/log"
	"doorcal/internal/model"
	"doorcal/internal/timeline"
	"doorcal/internal/verkada"
)

// ErrLocked is returned by Run when another run holds the lock.
var ErrLocked = errors.New("another sync run is in progress")

// AccessSource provides doors and exception calendars.
type AccessSource interface {
	FetchAll(ctx context.Context) (*verkada.Snapshot, error)
}

// Calendar is the external calendar holding the actual timeline.
type Calendar interface {
	Download(ctx context.Context, w model.ScheduleWindow) (map[string][]model.ExternalEvent, error)
	Insert(ctx context.Context, add model.Addition) error
	Delete(ctx context.Context, ev model.ExternalEvent) error
}

// Options controls a single run.
type Options struct {
	// DryRun computes and logs the changeset without writing.
	DryRun bool
	// ExportICS, if set, is a path the pending additions are written to as
	// an iCalendar file.
	ExportICS string
}

// Plan is the outcome of the read-only half of a run.
type Plan struct {
	ComputedAt time.Time                   `json:"computed_at"`
	Window     model.ScheduleWindow        `json:"window"`
	Desired    map[string][]model.Interval `json:"desired"`
	Changes    model.Changeset             `json:"changes"`
	Warnings   []string                    `json:"warnings"`
}

// Report summarizes one run.
type Report struct {
	RunID    string               `json:"run_id"`
	Started  time.Time            `json:"started"`
	Finished time.Time            `json:"finished"`
	Window   model.ScheduleWindow `json:"window"`
	DryRun   bool                 `json:"dry_run"`

	Desired  int `json:"desired"`
	ToAdd    int `json:"to_add"`
	ToDelete int `json:"to_delete"`
	Added    int `json:"added"`
	Deleted  int `json:"deleted"`
	Failed   int `json:"failed"`

	Warnings []string `json:"warnings,omitempty"`
	Err      string   `json:"error,omitempty"`
}

// Syncer runs the door schedule sync.
type Syncer struct {
	cfg    *config.Config
	source AccessSource
	cal    Calendar
	locker lock.Locker
	now    func() time.Time

	mu   sync.RWMutex
	last *Report
}

func New(cfg *config.Config, source AccessSource, cal Calendar, locker lock.Locker) *Syncer {
	return &Syncer{
		cfg:    cfg,
		source: source,
		cal:    cal,
		locker: locker,
		now:    time.Now,
	}
}

// LastReport returns a copy of the most recent finished run, or nil.
func (s *Syncer) LastReport() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	r := *s.last
	r.Warnings = slices.Clone(s.last.Warnings)
	return &r
}

func (s *Syncer) setLast(r *Report) {
	s.mu.Lock()
	s.last = r
	s.mu.Unlock()
}

// Run performs one full sync under the run lock. Nothing is written when
// reading either side or building the timeline fails. Individual write
// failures are logged and counted in the report.
func (s *Syncer) Run(ctx context.Context, opts Options) (*Report, error) {
	runID := uuid.NewString()
	key, ttl := s.cfg.Lock.Key, s.cfg.LockTTL()

	token, ok, err := s.locker.TryLock(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLocked
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			appLog.Error("failed to release run lock", err, "run_id", runID, "key", key)
		}
	}()

	rep := &Report{RunID: runID, Started: s.now(), DryRun: opts.DryRun}
	err = s.run(ctx, rep, opts)
	rep.Finished = s.now()
	if err != nil {
		rep.Err = err.Error()
	}
	s.setLast(rep)

	appLog.Info("sync run finished",
		"run_id", runID,
		"dry_run", opts.DryRun,
		"to_add", rep.ToAdd,
		"to_delete", rep.ToDelete,
		"added", rep.Added,
		"deleted", rep.Deleted,
		"failed", rep.Failed,
		"warnings", len(rep.Warnings),
		"duration", rep.Finished.Sub(rep.Started),
	)
	return rep, err
}

func (s *Syncer) run(ctx context.Context, rep *Report, opts Options) error {
	plan, err := s.plan(ctx, rep.RunID)
	if err != nil {
		return err
	}

	rep.Window = plan.Window
	rep.Warnings = plan.Warnings
	rep.ToAdd = len(plan.Changes.ToAdd)
	rep.ToDelete = len(plan.Changes.ToDelete)
	for _, ivs := range plan.Desired {
		rep.Desired += len(ivs)
	}

	if opts.ExportICS != "" {
		if err := exportICS(opts.ExportICS, plan.Changes.ToAdd, rep.Started); err != nil {
			return err
		}
		appLog.Info("exported pending additions", "run_id", rep.RunID, "path", opts.ExportICS, "events", len(plan.Changes.ToAdd))
	}

	if plan.Changes.Empty() {
		appLog.Info("google calendar and verkada exceptions are already in sync", "run_id", rep.RunID)
		return nil
	}

	if opts.DryRun {
		for _, ev := range plan.Changes.ToDelete {
			appLog.Info("dry run: would delete", "run_id", rep.RunID, "door", ev.DoorName, "status", ev.Status, "start", ev.Start, "end", ev.End, "id", ev.ID)
		}
		for _, add := range plan.Changes.ToAdd {
			appLog.Info("dry run: would add", "run_id", rep.RunID, "door", add.DoorName, "status", add.Status, "start", add.Start, "end", add.End)
		}
		return nil
	}

	return s.apply(ctx, rep, plan.Changes)
}

// apply deletes first, then adds. It stops early only when ctx is done.
func (s *Syncer) apply(ctx context.Context, rep *Report, cs model.Changeset) error {
	for _, ev := range cs.ToDelete {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.cal.Delete(ctx, ev); err != nil {
			rep.Failed++
			appLog.Error("failed to delete event", err, "run_id", rep.RunID, "door", ev.DoorName, "id", ev.ID)
			continue
		}
		rep.Deleted++
	}

	for _, add := range cs.ToAdd {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.cal.Insert(ctx, add); err != nil {
			rep.Failed++
			appLog.Error("failed to add event", err, "run_id", rep.RunID, "door", add.DoorName, "start", add.Start)
			continue
		}
		rep.Added++
	}

	appLog.Info("finished synchronizing google calendar and verkada exceptions", "run_id", rep.RunID)
	return nil
}

// Plan computes the desired timeline and changeset without taking the lock
// or writing anything.
func (s *Syncer) Plan(ctx context.Context) (*Plan, error) {
	return s.plan(ctx, "plan-"+uuid.NewString())
}

func (s *Syncer) plan(ctx context.Context, runID string) (*Plan, error) {
	now := s.now()
	w := s.cfg.Window(now)
	appLog.Info("computing door schedule", "run_id", runID, "first_date", w.FirstDate.Format(time.DateOnly), "last_date", w.LastDate.Format(time.DateOnly))

	var (
		actual map[string][]model.ExternalEvent
		snap   *verkada.Snapshot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		actual, err = s.cal.Download(gctx, w)
		return errors.Wrap(err, "download external calendar")
	})
	g.Go(func() error {
		var err error
		snap, err = s.source.FetchAll(gctx)
		return errors.Wrap(err, "fetch access control data")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res, err := timeline.Build(timeline.Input{
		Window:     w,
		Today:      model.Date(now),
		ClipWeekly: s.cfg.General.ClipWeeklyToWindow,
		Doors:      snap.Doors,
		Calendars:  snap.Calendars,
	})
	if err != nil {
		return nil, errors.Wrap(err, "build desired timeline")
	}

	warnings := make([]string, 0, len(snap.Warnings)+len(res.Warnings))
	warnings = append(warnings, snap.Warnings...)
	for _, warn := range res.Warnings {
		warnings = append(warnings, warn.String())
	}
	for _, msg := range warnings {
		appLog.Warn(msg, "run_id", runID)
	}

	cs := timeline.Reconcile(res.Timelines, actual)
	appLog.Debug("computed changeset", "run_id", runID, "to_add", len(cs.ToAdd), "to_delete", len(cs.ToDelete))

	return &Plan{
		ComputedAt: now,
		Window:     w,
		Desired:    res.Timelines,
		Changes:    cs,
		Warnings:   warnings,
	}, nil
}

func exportICS(path string, adds []model.Addition, stamp time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := ics.Export(f, adds, stamp); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}
