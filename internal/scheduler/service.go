package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"clockd/internal/device"
	"clockd/internal/eventbus"
	"clockd/internal/movement"
	"clockd/internal/storage"
	logx "clockd/pkg/logx"
)

// ErrNoDevice is returned by device probes when no actuator endpoint has
// been configured and none was given.
var ErrNoDevice = errors.New("no device configured")

// ErrAlreadyRunning is returned by Start on a running scheduler. Nothing is
// reinstalled; the existing trigger set stays as is.
var ErrAlreadyRunning = errors.New("scheduler is already running")

// executeBudget bounds one firing end to end (resolve + dispatch + log).
const executeBudget = 30 * time.Second

// Options wires the service's collaborators.
type Options struct {
	Timezone   string
	Store      storage.Store
	Dispatcher *device.Dispatcher
	Bus        eventbus.Bus
	Log        logx.Logger
}

// Service is the scheduling facade: lifecycle, device endpoint, manual
// execution and the execution log, all behind one mutex-guarded front.
type Service struct {
	store      storage.Store
	resolver   *movement.Resolver
	dispatcher *device.Dispatcher
	bus        eventbus.Bus
	log        logx.Logger

	mu       sync.Mutex
	tz       string
	running  bool
	engine   TriggerEngine
	registry *Registry
	dev      device.Config

	statsMu sync.Mutex
	stats   Statistics
}

func New(opts Options) *Service {
	log := opts.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		store:      opts.Store,
		resolver:   movement.NewResolver(opts.Store, log),
		dispatcher: opts.Dispatcher,
		bus:        opts.Bus,
		log:        log.With(logx.String("component", "scheduler")),
		tz:         opts.Timezone,
	}
}

// Start brings up the trigger engine and installs every active schedule.
// Starting a running scheduler reports ErrAlreadyRunning along with the
// current count; it never installs duplicates.
func (s *Service) Start(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return s.registry.Count(), ErrAlreadyRunning
	}

	engine, err := NewCronEngine(s.tz, s.log)
	if err != nil {
		return 0, err
	}
	registry := NewRegistry(engine, s.store, func(rec storage.ScheduleRecord) {
		// Each firing runs on its own cron goroutine; a panic there would
		// take the process down, so contain it here.
		defer func() {
			if p := recover(); p != nil {
				s.log.Error("firing panicked",
					logx.String("schedule_id", rec.ID),
					logx.Any("panic", p),
					logx.Stack(string(debug.Stack())),
				)
			}
		}()
		s.execute(context.Background(), rec, false)
	}, s.log)

	n, err := registry.InstallAll(ctx)
	if err != nil {
		return 0, err
	}
	engine.Start()

	s.engine = engine
	s.registry = registry
	s.running = true
	s.log.Info("scheduler started",
		logx.String("tz", engine.Location().String()),
		logx.Int("schedules", n),
	)
	return n, nil
}

// Stop halts the engine and drops all registrations, reporting whether there
// was anything to stop. In-flight firings run to completion; no new ones
// start.
func (s *Service) Stop(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.registry.StopAll()
	s.engine.Stop(ctx)
	s.engine = nil
	s.registry = nil
	s.running = false
	s.log.Info("scheduler stopped")
	return true
}

// Reload re-reads active schedules from the store and swaps the trigger set,
// reporting how many triggers were stopped and how many are now live. Valid
// in either state: a stopped scheduler derives an empty trigger set, so the
// reload succeeds with zero counts and the change is picked up on the next
// start. Concurrent reloads collapse into one pass.
func (s *Service) Reload(ctx context.Context) (stopped, active int, err error) {
	s.mu.Lock()
	registry := s.registry
	s.mu.Unlock()
	if registry == nil {
		s.log.Debug("reload while stopped; nothing installed")
		return 0, 0, nil
	}
	stopped, active, err = registry.Reload(ctx)
	if err != nil {
		s.log.Error("reload failed", logx.Err(err))
		return 0, 0, err
	}
	s.log.Info("schedules reloaded",
		logx.Int("stopped", stopped),
		logx.Int("schedules", active),
	)
	return stopped, active, nil
}

// Toggle flips the running state and reports the new one.
func (s *Service) Toggle(ctx context.Context) (bool, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		s.Stop(ctx)
		return false, nil
	}
	if _, err := s.Start(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Apply adopts a new timezone. A running scheduler restarts its engine so
// existing rules are re-evaluated in the new location.
func (s *Service) Apply(ctx context.Context, timezone string) error {
	timezone = strings.TrimSpace(timezone)
	s.mu.Lock()
	changed := timezone != "" && timezone != s.tz
	running := s.running
	if changed {
		s.tz = timezone
	}
	s.mu.Unlock()

	if !changed || !running {
		return nil
	}
	s.Stop(ctx)
	_, err := s.Start(ctx)
	return err
}

// Status reports the snapshot the admin surface serves.
func (s *Service) Status() Status {
	s.mu.Lock()
	st := Status{
		Running:  s.running,
		Timezone: s.tz,
		Device:   s.dev,
	}
	if s.registry != nil {
		st.Schedules = s.registry.Count()
		st.ScheduleIDs = s.registry.IDs()
	}
	s.mu.Unlock()

	s.statsMu.Lock()
	st.Stats = s.stats
	s.statsMu.Unlock()
	return st
}

// Device returns the current actuator endpoint.
func (s *Service) Device() device.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dev
}

// ConfigureDevice sets the actuator endpoint. The endpoint lives in memory
// only and must be set again after a restart.
func (s *Service) ConfigureDevice(ip, typ string) (device.Config, error) {
	if !device.ValidIP(ip) {
		return device.Config{}, fmt.Errorf("invalid device IP %q", ip)
	}
	if typ == "" {
		typ = string(device.TypeStandard)
	}
	if !device.ValidType(typ) {
		return device.Config{}, fmt.Errorf("unknown device type %q", typ)
	}
	cfg := device.Config{IP: ip, Type: device.Type(typ)}

	s.mu.Lock()
	s.dev = cfg
	s.mu.Unlock()
	s.log.Info("device configured", logx.String("ip", cfg.IP), logx.String("type", string(cfg.Type)))
	return cfg, nil
}

// PingDevice probes the actuator's status endpoint. An empty ip probes the
// configured device.
func (s *Service) PingDevice(ctx context.Context, ip string) (device.Result, error) {
	target, err := s.probeTarget(ip)
	if err != nil {
		return device.Result{}, err
	}
	return s.dispatcher.Ping(ctx, target), nil
}

// DeviceInfo fetches the actuator's info endpoint. An empty ip queries the
// configured device.
func (s *Service) DeviceInfo(ctx context.Context, ip string) (device.Result, error) {
	target, err := s.probeTarget(ip)
	if err != nil {
		return device.Result{}, err
	}
	return s.dispatcher.Info(ctx, target), nil
}

func (s *Service) probeTarget(ip string) (string, error) {
	if ip != "" {
		if !device.ValidIP(ip) {
			return "", fmt.Errorf("invalid device IP %q", ip)
		}
		return ip, nil
	}
	dev := s.Device()
	if !dev.Configured() {
		return "", ErrNoDevice
	}
	return dev.IP, nil
}

// ExecuteNow fires a schedule immediately, outside its trigger times. Works
// whether or not the scheduler is running.
func (s *Service) ExecuteNow(ctx context.Context, scheduleID string) (device.Result, error) {
	rec, err := s.store.ScheduleByID(ctx, scheduleID)
	if err != nil {
		return device.Result{}, err
	}
	return s.execute(ctx, rec, true), nil
}

// ExecuteMovement dispatches a stored movement immediately, outside any
// schedule. speed > 0 overrides both axes before clamping. Direct runs are
// operator actions, not trigger firings, so they are not appended to the
// execution log and do not move the statistics.
func (s *Service) ExecuteMovement(ctx context.Context, movementID string, speed int) (device.Result, error) {
	devCfg := s.Device()
	if !devCfg.Configured() {
		return device.Result{}, ErrNoDevice
	}
	ctx, cancel := context.WithTimeout(ctx, executeBudget)
	defer cancel()

	cmd, err := s.resolver.Resolve(ctx, movementID)
	if err != nil {
		return device.Result{}, err
	}
	if speed > 0 {
		cmd.Hours.Speed = speed
		cmd.Minutes.Speed = speed
	}

	res := s.dispatcher.Send(ctx, devCfg, cmd)
	lvl := s.log.Info
	if !res.Success {
		lvl = s.log.Warn
	}
	lvl("movement executed directly",
		logx.String("movement_id", movementID),
		logx.String("name", cmd.Name),
		logx.Bool("success", res.Success),
	)
	return res, nil
}

// ExecutionLogs returns the most recent firings, newest first.
func (s *Service) ExecutionLogs(ctx context.Context, limit int) ([]storage.ExecutionLogEntry, error) {
	return s.store.RecentExecutions(ctx, limit)
}

// execute is the single firing path for both cron triggers and manual runs:
// resolve the movement, dispatch it, record the outcome. A failure to write
// the execution log is itself logged but never surfaced; the firing's
// outcome is whatever the dispatch produced.
func (s *Service) execute(ctx context.Context, rec storage.ScheduleRecord, manual bool) device.Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, executeBudget)
	defer cancel()

	devCfg := s.Device()

	var (
		res    device.Result
		cmd    movement.Command
		hasCmd bool
	)
	switch {
	case !devCfg.Configured():
		res = device.Result{Message: "no device configured; set the device IP first"}
	default:
		var err error
		cmd, err = s.resolver.Resolve(ctx, rec.MovementID)
		if err != nil {
			res = device.Result{Message: fmt.Sprintf("movement %q unavailable: %v", rec.MovementID, err)}
		} else {
			hasCmd = true
			res = s.dispatcher.Send(ctx, devCfg, cmd)
		}
	}
	took := time.Since(start)

	s.statsMu.Lock()
	s.stats.Total++
	if res.Success {
		s.stats.Succeeded++
		s.stats.LastError = ""
	} else {
		s.stats.Failed++
		s.stats.LastError = res.Message
	}
	s.stats.LastRun = start
	s.statsMu.Unlock()

	entry := storage.ExecutionLogEntry{
		ID:           uuid.NewString(),
		ScheduleID:   rec.ID,
		ScheduleName: rec.Name,
		MovementID:   rec.MovementID,
		ExecutedAt:   start,
		Success:      res.Success,
		DeviceIP:     devCfg.IP,
	}
	if hasCmd {
		entry.MovementName = cmd.Name
	}
	if !res.Success {
		entry.Error = res.Message
	}
	if err := s.store.AppendExecution(ctx, entry); err != nil {
		s.log.Error("execution log write failed",
			logx.String("schedule_id", rec.ID),
			logx.Err(err),
		)
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.ExecutionEvent{
			ScheduleID:   rec.ID,
			ScheduleName: rec.Name,
			MovementID:   rec.MovementID,
			MovementName: entry.MovementName,
			At:           start,
			Took:         took,
			Success:      res.Success,
			Error:        entry.Error,
			DeviceIP:     devCfg.IP,
			Manual:       manual,
		})
	}

	lvl := s.log.Info
	if !res.Success {
		lvl = s.log.Warn
	}
	lvl("schedule executed",
		logx.String("schedule_id", rec.ID),
		logx.String("name", rec.Name),
		logx.Bool("manual", manual),
		logx.Bool("success", res.Success),
		logx.Duration("took", took),
	)
	return res
}
