package storage

import (
	"context"
	"errors"
	"strings"

	logx "clockd/pkg/logx"
)

// Store is the persistence API used by the scheduler core and the admin
// surface. Implementations must be safe for concurrent use.
type Store interface {
	// Schedules
	ActiveSchedules(ctx context.Context) ([]ScheduleRecord, error)
	Schedules(ctx context.Context) ([]ScheduleRecord, error)
	ScheduleByID(ctx context.Context, id string) (ScheduleRecord, error)
	PutSchedule(ctx context.Context, rec ScheduleRecord) error
	UpdateSchedule(ctx context.Context, rec ScheduleRecord) error
	DeleteSchedule(ctx context.Context, id string) error

	// Movements
	Movements(ctx context.Context) ([]MovementDefinition, error)
	MovementByID(ctx context.Context, id string) (MovementDefinition, error)
	MovementByName(ctx context.Context, name string) (MovementDefinition, error)
	PutMovement(ctx context.Context, def MovementDefinition) error
	UpdateMovement(ctx context.Context, def MovementDefinition) error
	DeleteMovement(ctx context.Context, id string) error

	// Current movement: the singleton profile the clock is presently running.
	CurrentMovement(ctx context.Context) (MovementDefinition, error)
	SetCurrentMovement(ctx context.Context, def MovementDefinition) error

	// Execution log (append-only)
	AppendExecution(ctx context.Context, e ExecutionLogEntry) error
	RecentExecutions(ctx context.Context, limit int) ([]ExecutionLogEntry, error)

	// Users
	Users(ctx context.Context) ([]UserRecord, error)
	UserByUsername(ctx context.Context, username string) (UserRecord, error)
	PutUser(ctx context.Context, u UserRecord) error
	DeleteUser(ctx context.Context, id string) error
	CountUsers(ctx context.Context) (int, error)

	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
