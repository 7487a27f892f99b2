package config

import (
	"encoding/json"
	"hash/fnv"
)

// configHash fingerprints a config by its canonical JSON form. Watch uses it
// to skip reload churn when the file was rewritten with identical content.
func configHash(cfg *Config) uint64 {
	if cfg == nil {
		return 0
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	return hashBytes(b)
}

func hashBytes(b []byte) uint64 {
	if len(b) == 0 {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
