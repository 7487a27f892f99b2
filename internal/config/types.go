package config

type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`
	Storage StorageConfig `json:"storage"`

	// Scheduler controls the recurring trigger service (timezone, autostart).
	Scheduler SchedulerConfig `json:"scheduler"`

	Auth   AuthConfig   `json:"auth"`
	Device DeviceConfig `json:"device,omitempty"`
}

// ServerConfig controls the admin HTTP surface.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type ServerConfig struct {
	Addr string `json:"addr"`

	// RatePerSec/Burst bound the global request rate on the admin API.
	// Zero values fall back to 20 req/s with a burst of 40.
	RatePerSec int `json:"rate_per_sec,omitempty"`
	Burst      int `json:"burst,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./clockd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SchedulerConfig controls the event scheduler.
//
// Timezone is the single system-wide zone all schedules evaluate in.
// Schedules themselves carry only HH:MM + weekday tokens; they are never
// zone-qualified per record.
type SchedulerConfig struct {
	// Autostart starts the scheduler on boot without waiting for an
	// admin POST /api/scheduler/start.
	Autostart bool `json:"autostart"`

	// Timezone is an IANA zone, e.g. "America/Tijuana" (the default).
	Timezone string `json:"timezone,omitempty"`
}

// AuthConfig controls admin API authentication.
//
// AdminUser/AdminPassword are a bootstrap credential accepted only while the
// users table is empty (first boot). Do not log either field.
type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret"`
	TokenTTL      string `json:"token_ttl,omitempty"` // default "24h"
	AdminUser     string `json:"admin_user,omitempty"`
	AdminPassword string `json:"admin_password,omitempty"`
}

// DeviceConfig carries dispatch tunables only. The actuator's IP and type are
// runtime state set through the admin API, never persisted.
type DeviceConfig struct {
	// DispatchTimeout bounds one command delivery attempt. Default "12s".
	DispatchTimeout string `json:"dispatch_timeout,omitempty"`
	// ProbeTimeout bounds ping/info requests. Default "5s".
	ProbeTimeout string `json:"probe_timeout,omitempty"`
}
