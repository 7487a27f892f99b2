package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"clockd/internal/storage"
	logx "clockd/pkg/logx"
)

// Lister is the slice of the store the registry reads.
type Lister interface {
	ActiveSchedules(ctx context.Context) ([]storage.ScheduleRecord, error)
}

// Registry maps persisted schedules onto live trigger registrations.
//
// Reload is single-flight: overlapping reload requests collapse into one
// store read and one reinstall pass, and every caller gets that pass's
// result. Without this, two concurrent reloads can interleave their
// stop/install steps and leave a schedule doubly registered.
type Registry struct {
	engine TriggerEngine
	store  Lister
	fire   func(rec storage.ScheduleRecord)
	log    logx.Logger

	mu      sync.Mutex
	handles map[string]Handle

	reload singleflight.Group
}

func NewRegistry(engine TriggerEngine, store Lister, fire func(storage.ScheduleRecord), log logx.Logger) *Registry {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		engine:  engine,
		store:   store,
		fire:    fire,
		log:     log.With(logx.String("component", "registry")),
		handles: map[string]Handle{},
	}
}

// InstallAll reads every active schedule and registers a trigger for each.
// A schedule that fails validation is skipped with a warning; one bad record
// must not keep the rest from firing. Returns the number installed.
func (g *Registry) InstallAll(ctx context.Context) (int, error) {
	recs, err := g.store.ActiveSchedules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active schedules: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	for _, rec := range recs {
		if err := g.installLocked(rec); err != nil {
			g.log.Warn("skipping schedule",
				logx.String("schedule_id", rec.ID),
				logx.String("name", rec.Name),
				logx.Err(err),
			)
		}
	}
	return len(g.handles), nil
}

func (g *Registry) installLocked(rec storage.ScheduleRecord) error {
	if _, exists := g.handles[rec.ID]; exists {
		return fmt.Errorf("schedule %s already installed", rec.ID)
	}
	hour, minute, err := ParseClock(rec.StartTime)
	if err != nil {
		return err
	}
	days, err := WeekdayNumbers(rec.Weekdays, g.log)
	if err != nil {
		return err
	}
	h, err := g.engine.Install(Rule{Hour: hour, Minute: minute, Weekdays: days}, func() {
		g.fire(rec)
	})
	if err != nil {
		return err
	}
	g.handles[rec.ID] = h
	g.log.Debug("schedule installed",
		logx.String("schedule_id", rec.ID),
		logx.String("name", rec.Name),
		logx.String("at", rec.StartTime),
	)
	return nil
}

type reloadCounts struct {
	stopped int
	active  int
}

// Reload drops every registration and reinstalls from the store, reporting
// how many triggers were stopped and how many are now live. Concurrent
// callers share one pass and its counts.
func (g *Registry) Reload(ctx context.Context) (stopped, active int, err error) {
	v, err, _ := g.reload.Do("reload", func() (any, error) {
		c := reloadCounts{stopped: g.StopAll()}
		n, ierr := g.InstallAll(ctx)
		c.active = n
		return c, ierr
	})
	if err != nil {
		return 0, 0, err
	}
	c := v.(reloadCounts)
	return c.stopped, c.active, nil
}

// StopAll removes every live registration and reports how many were live.
// Safe to call when empty.
func (g *Registry) StopAll() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.handles)
	for id, h := range g.handles {
		h.Stop()
		delete(g.handles, id)
	}
	return n
}

// Count returns the number of live registrations.
func (g *Registry) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

// IDs returns the schedule ids with live registrations, sorted.
func (g *Registry) IDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]string, 0, len(g.handles))
	for id := range g.handles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
