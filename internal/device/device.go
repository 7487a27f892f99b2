package device

import (
	"strconv"
	"strings"
)

// Type selects the wire protocol the actuator firmware speaks.
type Type string

const (
	// TypeStandard is the shipped firmware: presets by GET, customs as the
	// Spanish-field nested JSON document.
	TypeStandard Type = "standard"
	// TypePrototype is the bench firmware: everything is POSTed with flat
	// English fields.
	TypePrototype Type = "prototype"
)

// ValidType reports whether t names a known protocol.
func ValidType(t string) bool {
	switch Type(t) {
	case TypeStandard, TypePrototype:
		return true
	}
	return false
}

// Config is the runtime actuator endpoint. It is held in memory only; the
// device must be re-configured after a restart.
type Config struct {
	IP   string `json:"ip"`
	Type Type   `json:"type"`
}

// Configured reports whether an endpoint has been set.
func (c Config) Configured() bool { return c.IP != "" }

// ValidIP accepts dotted-quad IPv4 with each octet in [0,255]. Hostnames are
// rejected on purpose: the actuator lives on the local network and is always
// addressed by IP.
func ValidIP(ip string) bool {
	parts := strings.Split(ip, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if p == "" || len(p) > 3 {
			return false
		}
		// Digits only; Atoi would wave through a leading sign ("+1").
		for i := 0; i < len(p); i++ {
			if p[i] < '0' || p[i] > '9' {
				return false
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > 255 {
			return false
		}
		// Reject leading zeros ("01") so the stored form is canonical.
		if len(p) > 1 && p[0] == '0' {
			return false
		}
	}
	return true
}
