package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration parses a config duration string such as "750ms" or "2m". The
// empty string means unset and parses to zero; negative values are rejected.
// name identifies the option in the error.
func Duration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", name, raw)
	}
	return d, nil
}

// DurationOr is Duration with a fallback for the unset case.
func DurationOr(name, raw string, def time.Duration) (time.Duration, error) {
	d, err := Duration(name, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 {
		return def, nil
	}
	return d, nil
}
