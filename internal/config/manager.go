package config

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	yaml "go.yaml.in/yaml/v3"

	logx "clockd/pkg/logx"
)

// Manager owns the config file: initial load, strict parsing, and hot-reload
// with fan-out to subscribers.
type Manager struct {
	path string

	log      logx.Logger
	validate func(*Config) error

	mu       sync.RWMutex
	cfg      *Config
	lastHash uint64

	subsMu sync.Mutex
	subs   []chan *Config
}

func NewManager(path string) *Manager {
	return &Manager{path: path, log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) {
	if !log.IsZero() {
		m.log = log
	}
}

// SetValidator installs the check Watch runs before adopting a rewritten
// file. A rejected file leaves the previous config in place.
func (m *Manager) SetValidator(fn func(*Config) error) { m.validate = fn }

// Load reads and parses the file and makes the result current.
func (m *Manager) Load() (*Config, error) {
	cfg, err := m.parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

// Get returns the current config; nil before the first successful Load.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// parse reads the file and decodes it strictly: unknown keys and trailing
// data are errors, so a typoed option fails loud instead of silently falling
// back to a default. YAML files are converted to JSON first so both formats
// go through the one strict decoder.
func (m *Manager) parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	if ext := strings.ToLower(filepath.Ext(m.path)); ext == ".yaml" || ext == ".yml" {
		if raw, err = yamlToJSON(raw); err != nil {
			return nil, fmt.Errorf("%s: %w", m.path, err)
		}
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}
	switch err := dec.Decode(&struct{}{}); err {
	case io.EOF:
	case nil:
		return nil, fmt.Errorf("%s: trailing data after config document", m.path)
	default:
		return nil, fmt.Errorf("%s: %w", m.path, err)
	}
	return &cfg, nil
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var v any
	if err := yaml.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return json.Marshal(stringifyKeys(v))
}

// stringifyKeys rewrites yaml's map[any]any nodes so the tree can be handed
// to encoding/json.
func stringifyKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return out
	case map[string]any:
		for k, v := range x {
			x[k] = stringifyKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringifyKeys(x[i])
		}
		return x
	default:
		return in
	}
}

func (m *Manager) commit(cfg *Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.lastHash = configHash(cfg)
	m.mu.Unlock()
}

// Subscribe registers for reload notifications. Unsubscribe closes the
// channel.
func (m *Manager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

// publish hands cfg to every subscriber without blocking the watch loop. A
// full buffer loses its oldest entry so the newest config always lands;
// subscribers only care about the latest state. subsMu is held across the
// sends so no channel is closed mid-send.
func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped", logx.Int("buffer", cap(ch)))
		}
	}
}

// reload is the debounced tail of a file event: re-parse, skip when the
// content hash is unchanged, validate, then commit and publish.
func (m *Manager) reload() {
	cfg, err := m.parse()
	if err != nil {
		m.log.Warn("config reload skipped", logx.Err(err))
		return
	}

	h := configHash(cfg)
	m.mu.RLock()
	unchanged := h != 0 && h == m.lastHash
	m.mu.RUnlock()
	if unchanged {
		m.log.Debug("config rewritten with identical content; nothing to do")
		return
	}

	if m.validate != nil {
		if err := m.validate(cfg); err != nil {
			m.log.Warn("config rejected; keeping previous", logx.Err(err))
			return
		}
	}

	m.commit(cfg)
	m.publish(cfg)
	m.log.Info("config reloaded", logx.String("path", m.path))
}

// Editors rarely write a file in one syscall, so a save shows up as a burst
// of events. debounceDelay batches the burst into a single reload.
const debounceDelay = 250 * time.Millisecond

const (
	watchBackoffMin = 250 * time.Millisecond
	watchBackoffMax = 5 * time.Second
)

// Watch follows the config file until ctx ends. The parent directory is
// watched rather than the file itself so atomic-rename saves keep working,
// and a broken watcher is rebuilt with backoff instead of taking hot-reload
// down for the rest of the process lifetime.
func (m *Manager) Watch(ctx context.Context) error {
	dir := filepath.Dir(m.path)
	base := filepath.Base(m.path)

	var timerMu sync.Mutex
	var timer *time.Timer
	bump := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounceDelay, m.reload)
	}

	backoff := watchBackoffMin
	for ctx.Err() == nil {
		w, err := fsnotify.NewWatcher()
		if err == nil {
			if err = w.Add(dir); err != nil {
				_ = w.Close()
			}
		}
		if err != nil {
			m.log.Warn("config watch setup failed", logx.String("dir", dir), logx.Err(err))
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, watchBackoffMax)
			continue
		}
		backoff = watchBackoffMin
		m.log.Debug("config watcher running", logx.String("file", m.path))

		m.follow(ctx, w, base, bump)
		_ = w.Close()
		if ctx.Err() != nil {
			return nil
		}
		m.log.Warn("config watcher stopped; rebuilding", logx.Duration("backoff", backoff))
		if !sleep(ctx, backoff) {
			return nil
		}
		backoff = min(backoff*2, watchBackoffMax)
	}
	return nil
}

// follow drains one watcher until it breaks or ctx ends.
func (m *Manager) follow(ctx context.Context, w *fsnotify.Watcher, base string, bump func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			// Match by basename: event paths may be absolute or relative
			// depending on how the directory was registered.
			if strings.EqualFold(filepath.Base(ev.Name), base) {
				bump()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			if err == nil {
				continue
			}
			// Overflow means events were missed; reload once to catch up.
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow", logx.Err(err))
				bump()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
			if strings.Contains(err.Error(), "closed") {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
