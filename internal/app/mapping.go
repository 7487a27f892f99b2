package app

import (
	"fmt"
	"strings"
	"time"

	"clockd/internal/config"
	"clockd/internal/server"
	"clockd/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.Duration("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		path = "./clockd.db"
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        path,
		BusyTimeout: busy,
	}, nil
}

func mapServerConfig(cfg *config.Config) (server.Config, error) {
	readTimeout, err := config.Duration("server.read_timeout", cfg.Server.ReadTimeout)
	if err != nil {
		return server.Config{}, err
	}
	writeTimeout, err := config.Duration("server.write_timeout", cfg.Server.WriteTimeout)
	if err != nil {
		return server.Config{}, err
	}
	idleTimeout, err := config.Duration("server.idle_timeout", cfg.Server.IdleTimeout)
	if err != nil {
		return server.Config{}, err
	}
	tokenTTL, err := config.DurationOr("auth.token_ttl", cfg.Auth.TokenTTL, 24*time.Hour)
	if err != nil {
		return server.Config{}, err
	}

	addr := strings.TrimSpace(cfg.Server.Addr)
	if addr == "" {
		addr = ":8080"
	}
	return server.Config{
		Addr:         addr,
		RatePerSec:   cfg.Server.RatePerSec,
		Burst:        cfg.Server.Burst,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
		Auth: server.AuthConfig{
			JWTSecret:     cfg.Auth.JWTSecret,
			TokenTTL:      tokenTTL,
			AdminUser:     cfg.Auth.AdminUser,
			AdminPassword: cfg.Auth.AdminPassword,
		},
	}, nil
}

// validateConfig is the transactional reload gate: a config that fails here
// is rejected before any component sees it.
func validateConfig(cfg *config.Config) error {
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := config.Duration("device.dispatch_timeout", cfg.Device.DispatchTimeout); err != nil {
		return err
	}
	if _, err := config.Duration("device.probe_timeout", cfg.Device.ProbeTimeout); err != nil {
		return err
	}
	if _, err := mapServerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if cfg.Server.RatePerSec < 0 || cfg.Server.Burst < 0 {
		return fmt.Errorf("server.rate_per_sec and server.burst must be >= 0")
	}
	return nil
}
