package scheduler

import (
	"time"

	"clockd/internal/device"
)

// Statistics is a running tally of trigger firings since process start.
// Counters are monotonic; they are not persisted.
type Statistics struct {
	Total     int64     `json:"total"`
	Succeeded int64     `json:"succeeded"`
	Failed    int64     `json:"failed"`
	LastRun   time.Time `json:"lastRun,omitzero"`
	LastError string    `json:"lastError,omitempty"`
}

// Status is the scheduler snapshot the admin surface exposes.
type Status struct {
	Running     bool          `json:"running"`
	Timezone    string        `json:"timezone"`
	Schedules   int           `json:"schedules"`
	ScheduleIDs []string      `json:"scheduleIds"`
	Device      device.Config `json:"device"`
	Stats       Statistics    `json:"stats"`
}
