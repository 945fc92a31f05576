package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const configFileName = "config.json"

// Manager owns config.json. It creates the file from defaults on first run,
// persists validated updates and, once Watch is called, picks up edits made
// by other processes.
type Manager struct {
	path     string
	debounce time.Duration
	onError  func(error)

	mu       sync.RWMutex
	cfg      Config
	onChange func(Config)
	watching bool
}

type ManagerOption func(*Manager)

func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{debounce: 300 * time.Millisecond}
	for _, opt := range opts {
		opt(m)
	}

	if m.path == "" {
		path, err := defaultConfigPath()
		if err != nil {
			return nil, err
		}
		m.path = path
	}

	cfg, err := m.load()
	if err != nil {
		return nil, err
	}
	m.cfg = cfg
	return m, nil
}

func (m *Manager) Get() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) UpdateFromJSON(jsonStr string) error {
	var cfg Config
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		return fmt.Errorf("parse config json: %w", err)
	}
	return m.Update(cfg)
}

// SetBackendURL is a convenience for the most common edit.
func (m *Manager) SetBackendURL(rawURL string) error {
	cfg := m.Get()
	cfg.BackendURL = rawURL
	return m.Update(cfg)
}

// Update validates cfg and writes it to disk before making it current.
// The watcher later sees our own write, finds nothing changed and stays quiet.
func (m *Manager) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if m.Get() == cfg {
		return nil
	}
	if err := saveFile(m.path, cfg); err != nil {
		return err
	}
	m.swap(cfg)
	return nil
}

// Watch reports every effective change made to the file on disk to onChange
// until ctx is done. A second call only replaces the callback.
func (m *Manager) Watch(ctx context.Context, onChange func(Config)) error {
	m.mu.Lock()
	m.onChange = onChange
	started := m.watching
	m.watching = true
	m.mu.Unlock()
	if started {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		m.stopWatching()
		return fmt.Errorf("config watcher: %w", err)
	}
	// Editors replace the file by rename, so watch the directory.
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		_ = w.Close()
		m.stopWatching()
		return fmt.Errorf("watch config dir: %w", err)
	}

	go m.run(ctx, w)
	return nil
}

func (m *Manager) run(ctx context.Context, w *fsnotify.Watcher) {
	defer m.stopWatching()
	defer w.Close()

	settle := time.NewTimer(m.debounce)
	settle.Stop()
	defer settle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.Events:
			if !ok {
				return
			}
			if m.touches(evt) {
				settle.Reset(m.debounce)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			m.fail(fmt.Errorf("config watcher: %w", err))
		case <-settle.C:
			m.reload()
		}
	}
}

func (m *Manager) touches(evt fsnotify.Event) bool {
	return filepath.Clean(evt.Name) == filepath.Clean(m.path) &&
		evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (m *Manager) reload() {
	cfg, err := readFile(m.path)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		m.fail(fmt.Errorf("config reload: %w", err))
		return
	}
	if m.Get() == cfg {
		return
	}
	m.swap(cfg)
}

func (m *Manager) swap(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	notify := m.onChange
	m.mu.Unlock()

	if notify != nil {
		notify(cfg)
	}
}

func (m *Manager) stopWatching() {
	m.mu.Lock()
	m.watching = false
	m.mu.Unlock()
}

func (m *Manager) fail(err error) {
	if m.onError != nil {
		m.onError(err)
	}
}

// load reads the file, writing the defaults first when it does not exist.
func (m *Manager) load() (Config, error) {
	cfg, err := readFile(m.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = *DefaultConfigWithRoot(filepath.Dir(m.path))
		if err := saveFile(m.path, cfg); err != nil {
			return Config{}, fmt.Errorf("write initial config: %w", err)
		}
	case err != nil:
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, cfg.Validate()
}

func readFile(path string) (Config, error) {
	var cfg Config
	err := loadConfigFromFile(path, &cfg)
	return cfg, err
}

// saveFile replaces path in one rename so readers never see half a file.
func saveFile(path string, cfg Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func defaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		if dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, appDirName, configFileName), nil
}

func WithConfigDir(dir string) ManagerOption {
	return func(m *Manager) {
		if dir != "" {
			m.path = filepath.Join(dir, configFileName)
		}
	}
}

func WithConfigPath(path string) ManagerOption {
	return func(m *Manager) {
		if path != "" {
			m.path = path
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.debounce = d
		}
	}
}

// WithErrorHandler receives watcher and reload errors, which are otherwise dropped.
func WithErrorHandler(fn func(error)) ManagerOption {
	return func(m *Manager) {
		m.onError = fn
	}
}
