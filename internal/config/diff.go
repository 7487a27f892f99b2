package config

import (
	"sort"
	"strings"

	logx "clockd/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging. Secrets (jwt_secret, admin_password)
// are surfaced only as "set / not set".
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Server
	if oldCfg.Server != newCfg.Server {
		changed = append(changed, "server")
		attrs = append(attrs,
			logx.String("server.addr", strings.TrimSpace(newCfg.Server.Addr)),
			logx.Int("server.rate_per_sec", newCfg.Server.RatePerSec),
		)
	}

	// Logging
	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Storage
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(newCfg.Storage.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	// Scheduler
	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.autostart", newCfg.Scheduler.Autostart),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	// Auth (never log secrets)
	if oldCfg.Auth != newCfg.Auth {
		changed = append(changed, "auth")
		attrs = append(attrs,
			logx.Bool("auth.jwt_secret_set", strings.TrimSpace(newCfg.Auth.JWTSecret) != ""),
			logx.Bool("auth.bootstrap_user_set", strings.TrimSpace(newCfg.Auth.AdminUser) != ""),
			logx.String("auth.token_ttl", strings.TrimSpace(newCfg.Auth.TokenTTL)),
		)
	}

	// Device tunables
	if oldCfg.Device != newCfg.Device {
		changed = append(changed, "device")
		attrs = append(attrs,
			logx.String("device.dispatch_timeout", strings.TrimSpace(newCfg.Device.DispatchTimeout)),
			logx.String("device.probe_timeout", strings.TrimSpace(newCfg.Device.ProbeTimeout)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
