package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "clockd/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "clockd.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open(Config{Driver: "postgres", Path: "x"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestScheduleRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	rec := ScheduleRecord{
		ID:         "s1",
		Name:       "morning",
		StartTime:  "07:30",
		Weekdays:   []string{"M", "W", "F"},
		MovementID: "mv-1",
		Active:     true,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := st.PutSchedule(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := st.ScheduleByID(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "morning" || got.StartTime != "07:30" || !got.Active {
		t.Fatalf("got %+v", got)
	}
	if len(got.Weekdays) != 3 || got.Weekdays[0] != "M" {
		t.Fatalf("weekdays = %v", got.Weekdays)
	}

	got.Active = false
	got.StartTime = "08:00"
	if err := st.UpdateSchedule(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	active, err := st.ActiveSchedules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Fatalf("deactivated schedule still listed active: %v", active)
	}
	all, err := st.Schedules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].StartTime != "08:00" {
		t.Fatalf("all = %+v", all)
	}

	if err := st.DeleteSchedule(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := st.ScheduleByID(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if err := st.DeleteSchedule(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete err = %v, want ErrNotFound", err)
	}
}

func TestMovementRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	def := MovementDefinition{
		ID:       "mv-1",
		Name:     "slow-sweep",
		Duration: 30,
		General:  "antihorario",
		Hours:    AxisProfile{Direction: "horario", Speed: 70, Angle: 90},
		Minutes:  AxisProfile{Speed: 40},
	}
	if err := st.PutMovement(ctx, def); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := st.MovementByID(ctx, "mv-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Hours.Speed != 70 || got.Hours.Angle != 90 || got.Minutes.Speed != 40 {
		t.Fatalf("axes = %+v / %+v", got.Hours, got.Minutes)
	}
	if got.General != "antihorario" {
		t.Fatalf("general = %q", got.General)
	}

	got.Duration = 60
	if err := st.UpdateMovement(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	defs, err := st.Movements(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 || defs[0].Duration != 60 {
		t.Fatalf("defs = %+v", defs)
	}

	if _, err := st.MovementByID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestMovementByName(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if err := st.PutMovement(ctx, MovementDefinition{ID: "mv-1", Name: "swing"}); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := st.MovementByName(ctx, "swing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != "mv-1" {
		t.Fatalf("id = %q", got.ID)
	}
	if _, err := st.MovementByName(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCurrentMovementRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if _, err := st.CurrentMovement(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	def := MovementDefinition{
		ID:    "mv-1",
		Name:  "swing",
		Hours: AxisProfile{Speed: 70},
	}
	if err := st.SetCurrentMovement(ctx, def); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := st.CurrentMovement(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "swing" || got.Hours.Speed != 70 {
		t.Fatalf("got %+v", got)
	}

	// Setting again replaces the single row.
	def.Hours.Speed = 85
	if err := st.SetCurrentMovement(ctx, def); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err = st.CurrentMovement(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Hours.Speed != 85 {
		t.Fatalf("speed = %d, want 85", got.Hours.Speed)
	}
}

func TestExecutionLogOrderingAndLimit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		err := st.AppendExecution(ctx, ExecutionLogEntry{
			ID:         string(rune('a' + i)),
			ScheduleID: "s1",
			ExecutedAt: base.Add(time.Duration(i) * time.Minute),
			Success:    i%2 == 0,
			Error:      "",
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	logs, err := st.RecentExecutions(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 3 {
		t.Fatalf("len = %d, want 3", len(logs))
	}
	// Newest first.
	if !logs[0].ExecutedAt.After(logs[1].ExecutedAt) {
		t.Fatalf("not ordered newest first: %v, %v", logs[0].ExecutedAt, logs[1].ExecutedAt)
	}
	if logs[0].ID != "e" {
		t.Fatalf("newest = %q, want e", logs[0].ID)
	}
}

func TestUserRoundTrip(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	if n, err := st.CountUsers(ctx); err != nil || n != 0 {
		t.Fatalf("count = %d, %v", n, err)
	}

	u := UserRecord{ID: "u1", Username: "admin", PasswordHash: "$2a$10$x", DisplayName: "Admin"}
	if err := st.PutUser(ctx, u); err != nil {
		t.Fatalf("put: %v", err)
	}
	// Username is unique.
	if err := st.PutUser(ctx, UserRecord{ID: "u2", Username: "admin", PasswordHash: "y"}); err == nil {
		t.Fatal("duplicate username accepted")
	}

	got, err := st.UserByUsername(ctx, "admin")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PasswordHash != "$2a$10$x" {
		t.Fatalf("hash = %q", got.PasswordHash)
	}
	if _, err := st.UserByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if n, _ := st.CountUsers(ctx); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	if err := st.DeleteUser(ctx, "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
