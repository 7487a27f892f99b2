package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"clockd/internal/device"
	"clockd/internal/eventbus"
	"clockd/internal/storage"
	logx "clockd/pkg/logx"
)

// memStore is an in-memory storage.Store for facade tests.
type memStore struct {
	mu         sync.Mutex
	schedules  map[string]storage.ScheduleRecord
	movements  map[string]storage.MovementDefinition
	current    *storage.MovementDefinition
	executions []storage.ExecutionLogEntry
	users      map[string]storage.UserRecord
}

func newMemStore() *memStore {
	return &memStore{
		schedules: map[string]storage.ScheduleRecord{},
		movements: map[string]storage.MovementDefinition{},
		users:     map[string]storage.UserRecord{},
	}
}

func (m *memStore) ActiveSchedules(context.Context) ([]storage.ScheduleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ScheduleRecord
	for _, r := range m.schedules {
		if r.Active {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) Schedules(context.Context) ([]storage.ScheduleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ScheduleRecord
	for _, r := range m.schedules {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) ScheduleByID(_ context.Context, id string) (storage.ScheduleRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.schedules[id]
	if !ok {
		return storage.ScheduleRecord{}, storage.ErrNotFound
	}
	return r, nil
}

func (m *memStore) PutSchedule(_ context.Context, rec storage.ScheduleRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[rec.ID] = rec
	return nil
}

func (m *memStore) UpdateSchedule(ctx context.Context, rec storage.ScheduleRecord) error {
	return m.PutSchedule(ctx, rec)
}

func (m *memStore) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.schedules, id)
	return nil
}

func (m *memStore) Movements(context.Context) ([]storage.MovementDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.MovementDefinition
	for _, d := range m.movements {
		out = append(out, d)
	}
	return out, nil
}

func (m *memStore) MovementByID(_ context.Context, id string) (storage.MovementDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.movements[id]
	if !ok {
		return storage.MovementDefinition{}, storage.ErrNotFound
	}
	return d, nil
}

func (m *memStore) PutMovement(_ context.Context, def storage.MovementDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.movements[def.ID] = def
	return nil
}

func (m *memStore) UpdateMovement(ctx context.Context, def storage.MovementDefinition) error {
	return m.PutMovement(ctx, def)
}

func (m *memStore) MovementByName(_ context.Context, name string) (storage.MovementDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.movements {
		if d.Name == name {
			return d, nil
		}
	}
	return storage.MovementDefinition{}, storage.ErrNotFound
}

func (m *memStore) DeleteMovement(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.movements, id)
	return nil
}

func (m *memStore) CurrentMovement(context.Context) (storage.MovementDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return storage.MovementDefinition{}, storage.ErrNotFound
	}
	return *m.current, nil
}

func (m *memStore) SetCurrentMovement(_ context.Context, def storage.MovementDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = &def
	return nil
}

func (m *memStore) AppendExecution(_ context.Context, e storage.ExecutionLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, e)
	return nil
}

func (m *memStore) RecentExecutions(_ context.Context, limit int) ([]storage.ExecutionLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]storage.ExecutionLogEntry(nil), m.executions...)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) Users(context.Context) ([]storage.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.UserRecord
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *memStore) UserByUsername(_ context.Context, username string) (storage.UserRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return storage.UserRecord{}, storage.ErrNotFound
}

func (m *memStore) PutUser(_ context.Context, u storage.UserRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *memStore) DeleteUser(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, id)
	return nil
}

func (m *memStore) CountUsers(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users), nil
}

func (m *memStore) Close() error { return nil }

func newTestService(t *testing.T, store storage.Store) (*Service, eventbus.Bus) {
	t.Helper()
	bus := eventbus.New()
	svc := New(Options{
		Timezone:   "America/Tijuana",
		Store:      store,
		Dispatcher: device.NewDispatcher(device.Options{DispatchTimeout: 2 * time.Second}, logx.Nop()),
		Bus:        bus,
		Log:        logx.Nop(),
	})
	return svc, bus
}

func TestStartStopToggle(t *testing.T) {
	store := newMemStore()
	_ = store.PutSchedule(context.Background(), sched("s1", "07:30", "M", "F"))
	svc, _ := newTestService(t, store)
	ctx := context.Background()

	n, err := svc.Start(ctx)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if n != 1 {
		t.Fatalf("installed = %d, want 1", n)
	}
	if st := svc.Status(); !st.Running || st.Schedules != 1 || st.Timezone != "America/Tijuana" {
		t.Fatalf("status = %+v", st)
	}

	// A second start is refused without touching the trigger set.
	if n, err := svc.Start(ctx); err != ErrAlreadyRunning || n != 1 {
		t.Fatalf("second Start = %d, %v; want 1, ErrAlreadyRunning", n, err)
	}
	if ids := svc.Status().ScheduleIDs; len(ids) != 1 || ids[0] != "s1" {
		t.Fatalf("schedule ids = %v", ids)
	}

	running, err := svc.Toggle(ctx)
	if err != nil || running {
		t.Fatalf("toggle = %v, %v; want stopped", running, err)
	}
	if st := svc.Status(); st.Running {
		t.Fatal("still running after toggle")
	}

	running, err = svc.Toggle(ctx)
	if err != nil || !running {
		t.Fatalf("toggle = %v, %v; want running", running, err)
	}
	if !svc.Stop(ctx) {
		t.Fatal("Stop on a running scheduler reported nothing to stop")
	}
	if svc.Stop(ctx) {
		t.Fatal("second Stop reported something to stop")
	}
}

func TestReloadWhileStoppedIsEmpty(t *testing.T) {
	svc, _ := newTestService(t, newMemStore())
	stopped, active, err := svc.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if stopped != 0 || active != 0 {
		t.Fatalf("reload on stopped scheduler = (%d, %d), want (0, 0)", stopped, active)
	}
}

func TestReloadPicksUpNewSchedules(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	_ = store.PutSchedule(ctx, sched("s1", "07:30", "M"))
	svc, _ := newTestService(t, store)

	if _, err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop(ctx)

	_ = store.PutSchedule(ctx, sched("s2", "20:00", "Sa", "Su"))
	stopped, active, err := svc.Reload(ctx)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if stopped != 1 || active != 2 {
		t.Fatalf("reload = (%d stopped, %d active), want (1, 2)", stopped, active)
	}
}

func TestExecuteNowDispatchesAndLogs(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	dev := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
	}))
	defer dev.Close()

	store := newMemStore()
	ctx := context.Background()
	_ = store.PutMovement(ctx, storage.MovementDefinition{ID: "mv-1", Name: "swing"})
	_ = store.PutSchedule(ctx, sched("s1", "07:30", "M"))

	svc, bus := newTestService(t, store)
	events, unsub := bus.Subscribe(4)
	defer unsub()

	// Point the service at the fake device (host:port stands in for the IP).
	svc.mu.Lock()
	svc.dev = device.Config{IP: strings.TrimPrefix(dev.URL, "http://"), Type: device.TypeStandard}
	svc.mu.Unlock()

	res, err := svc.ExecuteNow(ctx, "s1")
	if err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	if !res.Success {
		t.Fatalf("dispatch failed: %s", res.Message)
	}

	mu.Lock()
	gotPaths := append([]string(nil), paths...)
	mu.Unlock()
	if len(gotPaths) != 1 || gotPaths[0] != "/swing" {
		t.Fatalf("device saw %v, want [/swing]", gotPaths)
	}

	logs, err := svc.ExecutionLogs(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 || !logs[0].Success || logs[0].ScheduleID != "s1" || logs[0].MovementName != "swing" {
		t.Fatalf("logs = %+v", logs)
	}

	select {
	case ev := <-events:
		if !ev.Success || !ev.Manual || ev.ScheduleID != "s1" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no execution event published")
	}

	if st := svc.Status(); st.Stats.Total != 1 || st.Stats.Succeeded != 1 {
		t.Fatalf("stats = %+v", st.Stats)
	}
}

func TestExecuteNowWithoutDeviceFailsButLogs(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	_ = store.PutMovement(ctx, storage.MovementDefinition{ID: "mv-1", Name: "swing"})
	_ = store.PutSchedule(ctx, sched("s1", "07:30", "M"))
	svc, _ := newTestService(t, store)

	res, err := svc.ExecuteNow(ctx, "s1")
	if err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure without a configured device")
	}
	if !strings.Contains(res.Message, "no device configured") {
		t.Fatalf("message = %q", res.Message)
	}

	logs, _ := svc.ExecutionLogs(ctx, 10)
	if len(logs) != 1 || logs[0].Success {
		t.Fatalf("logs = %+v", logs)
	}
	if st := svc.Status(); st.Stats.Failed != 1 {
		t.Fatalf("stats = %+v", st.Stats)
	}
}

func TestExecuteNowMissingMovement(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	_ = store.PutSchedule(ctx, sched("s1", "07:30", "M")) // mv-1 never stored
	svc, _ := newTestService(t, store)
	if _, err := svc.ConfigureDevice("192.168.1.50", "standard"); err != nil {
		t.Fatal(err)
	}

	res, err := svc.ExecuteNow(ctx, "s1")
	if err != nil {
		t.Fatalf("ExecuteNow: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure for missing movement")
	}
	if !strings.Contains(res.Message, "mv-1") {
		t.Fatalf("message = %q", res.Message)
	}
}

func TestExecuteNowUnknownSchedule(t *testing.T) {
	svc, _ := newTestService(t, newMemStore())
	if _, err := svc.ExecuteNow(context.Background(), "ghost"); err != storage.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExecuteMovementDirect(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	var bodies [][]byte
	dev := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		paths = append(paths, r.URL.Path)
		bodies = append(bodies, b)
		mu.Unlock()
	}))
	defer dev.Close()

	store := newMemStore()
	ctx := context.Background()
	_ = store.PutMovement(ctx, storage.MovementDefinition{ID: "mv-1", Name: "left"})
	svc, _ := newTestService(t, store)

	svc.mu.Lock()
	svc.dev = device.Config{IP: strings.TrimPrefix(dev.URL, "http://"), Type: device.TypePrototype}
	svc.mu.Unlock()

	res, err := svc.ExecuteMovement(ctx, "mv-1", 80)
	if err != nil {
		t.Fatalf("ExecuteMovement: %v", err)
	}
	if !res.Success {
		t.Fatalf("dispatch failed: %s", res.Message)
	}

	mu.Lock()
	gotPaths := append([]string(nil), paths...)
	gotBodies := append([][]byte(nil), bodies...)
	mu.Unlock()
	if len(gotPaths) != 1 || gotPaths[0] != "/move" {
		t.Fatalf("device saw %v, want [/move]", gotPaths)
	}
	var cmd struct {
		Direction string `json:"direction"`
		Speed     int    `json:"speed"`
		Steps     int    `json:"steps"`
	}
	if err := json.Unmarshal(gotBodies[0], &cmd); err != nil {
		t.Fatalf("body: %v", err)
	}
	if cmd.Direction != "CCW" || cmd.Speed != 80 || cmd.Steps != 2048 {
		t.Fatalf("payload = %+v", cmd)
	}

	// Direct runs never touch the execution log.
	if logs, _ := svc.ExecutionLogs(ctx, 10); len(logs) != 0 {
		t.Fatalf("logs = %+v", logs)
	}

	if _, err := svc.ExecuteMovement(ctx, "ghost", 0); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	svc.mu.Lock()
	svc.dev = device.Config{}
	svc.mu.Unlock()
	if _, err := svc.ExecuteMovement(ctx, "mv-1", 0); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("err = %v, want ErrNoDevice", err)
	}
}

func TestConfigureDevice(t *testing.T) {
	svc, _ := newTestService(t, newMemStore())

	cfg, err := svc.ConfigureDevice("10.0.0.42", "")
	if err != nil {
		t.Fatalf("ConfigureDevice: %v", err)
	}
	if cfg.Type != device.TypeStandard {
		t.Fatalf("default type = %s, want standard", cfg.Type)
	}
	if got := svc.Device(); got.IP != "10.0.0.42" {
		t.Fatalf("device = %+v", got)
	}

	if _, err := svc.ConfigureDevice("999.1.1.1", "standard"); err == nil {
		t.Fatal("bad IP accepted")
	}
	if _, err := svc.ConfigureDevice("10.0.0.1", "quantum"); err == nil {
		t.Fatal("bad type accepted")
	}
}

func TestApplyTimezoneRestartsEngine(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()
	_ = store.PutSchedule(ctx, sched("s1", "07:30", "M"))
	svc, _ := newTestService(t, store)

	if _, err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop(ctx)

	if err := svc.Apply(ctx, "America/Mexico_City"); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	st := svc.Status()
	if !st.Running || st.Timezone != "America/Mexico_City" || st.Schedules != 1 {
		t.Fatalf("status = %+v", st)
	}
}
