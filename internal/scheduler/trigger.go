package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "clockd/pkg/logx"
)

// Rule is one installed trigger: fire at Hour:Minute on each listed weekday
// (cron numbering, Sunday=0), in the engine's location.
type Rule struct {
	Hour     int
	Minute   int
	Weekdays []int
}

// Spec renders the rule as a five-field cron expression.
func (r Rule) Spec() string {
	days := make([]string, len(r.Weekdays))
	for i, d := range r.Weekdays {
		days[i] = strconv.Itoa(d)
	}
	return fmt.Sprintf("%d %d * * %s", r.Minute, r.Hour, strings.Join(days, ","))
}

// Handle is a live trigger registration.
type Handle interface {
	Stop()
}

// TriggerEngine owns the clock that fires rules. The cron-backed engine is
// the production implementation; tests substitute their own.
type TriggerEngine interface {
	Install(r Rule, fire func()) (Handle, error)
	Start()
	Stop(ctx context.Context)
	Location() *time.Location
}

type cronEngine struct {
	c   *cron.Cron
	loc *time.Location
}

// NewCronEngine builds an engine pinned to the given IANA timezone. All rule
// evaluation happens in that location regardless of the host clock; a missing
// or invalid name is an error rather than a silent fallback to host time.
func NewCronEngine(tz string, log logx.Logger) (TriggerEngine, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil, fmt.Errorf("scheduler timezone is required")
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", tz, err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &cronEngine{
		c:   cron.New(cron.WithParser(parser), cron.WithLocation(loc), cron.WithLogger(cron.DiscardLogger)),
		loc: loc,
	}, nil
}

func (e *cronEngine) Install(r Rule, fire func()) (Handle, error) {
	id, err := e.c.AddFunc(r.Spec(), fire)
	if err != nil {
		return nil, fmt.Errorf("install rule %q: %w", r.Spec(), err)
	}
	return &cronHandle{c: e.c, id: id}, nil
}

func (e *cronEngine) Start() { e.c.Start() }

func (e *cronEngine) Stop(ctx context.Context) {
	done := e.c.Stop().Done()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (e *cronEngine) Location() *time.Location { return e.loc }

type cronHandle struct {
	c  *cron.Cron
	id cron.EntryID
}

func (h *cronHandle) Stop() { h.c.Remove(h.id) }

// ParseClock validates a wall-clock "HH:MM" trigger time.
func ParseClock(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 || len(parts[0]) < 1 || len(parts[0]) > 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
