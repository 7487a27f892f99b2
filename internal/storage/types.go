package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned by the *ByID lookups when no document matches.
var ErrNotFound = errors.New("not found")

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//
// An empty driver means "sqlite".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ScheduleRecord is a user-authored recurring rule.
//
// StartTime/EndTime are wall-clock "HH:MM" strings; the engine triggers only
// on StartTime (EndTime is informational). Weekdays holds tokens from the
// fixed vocabulary Su/M/T/W/Th/F/Sa.
type ScheduleRecord struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	StartTime  string    `json:"startTime"`
	EndTime    string    `json:"endTime,omitempty"`
	Weekdays   []string  `json:"weekdays"`
	MovementID string    `json:"movementId"`
	Active     bool      `json:"active"`
	CreatedBy  string    `json:"createdBy,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// AxisProfile is one hand's motion parameters.
// Direction is "horario" (clockwise) or "antihorario"; Speed is clamped to
// [1,100] before transmission, not at rest.
type AxisProfile struct {
	Direction string `json:"direction,omitempty"`
	Speed     int    `json:"speed,omitempty"`
	Angle     int    `json:"angle,omitempty"`
}

// MovementDefinition is an actuator motion profile. A definition whose Name
// matches the preset vocabulary (left/right/crazy/normal/stop/swing) is
// dispatched as a preset; anything else is a custom profile.
type MovementDefinition struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Duration    int         `json:"duration,omitempty"` // seconds
	General     string      `json:"directionGeneral,omitempty"`
	Hours       AxisProfile `json:"hours,omitempty"`
	Minutes     AxisProfile `json:"minutes,omitempty"`
	CreatedBy   string      `json:"createdBy,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// ExecutionLogEntry records one trigger firing, success or failure.
// Entries are append-only; the scheduler never updates or deletes them.
type ExecutionLogEntry struct {
	ID           string    `json:"id"`
	ScheduleID   string    `json:"scheduleId"`
	ScheduleName string    `json:"scheduleName"`
	MovementID   string    `json:"movementId"`
	MovementName string    `json:"movementName,omitempty"`
	ExecutedAt   time.Time `json:"executedAt"`
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
	DeviceIP     string    `json:"deviceIp,omitempty"`
}

// UserRecord is an admin API credential. PasswordHash is bcrypt.
type UserRecord struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	DisplayName  string    `json:"displayName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
