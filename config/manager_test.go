package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerCreatesAndUpdates(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir))
	require.NoError(t, err)

	path := filepath.Join(dir, "config.json")
	_, err = os.Stat(path)
	require.NoError(t, err, "config file not created")

	cfg := mgr.Get()
	assert.Equal(t, filepath.Join(dir, "storage.db"), cfg.DBPath)

	cfg.BackendURL = "https://dfu.example.com"
	cfg.RequestTimeoutSeconds = 15
	data, _ := json.Marshal(cfg)
	require.NoError(t, mgr.UpdateFromJSON(string(data)))

	updated := mgr.Get()
	assert.Equal(t, "https://dfu.example.com", updated.BackendURL)
	assert.Equal(t, 15*time.Second, updated.RequestTimeout())

	reopened, err := NewManager(WithConfigDir(dir))
	require.NoError(t, err)
	assert.Equal(t, updated, reopened.Get())
}

func TestManagerRejectsInvalidUpdate(t *testing.T) {
	mgr, err := NewManager(WithConfigDir(t.TempDir()))
	require.NoError(t, err)

	assert.Error(t, mgr.SetBackendURL("not a url"))
	assert.Error(t, mgr.SetBackendURL("ftp://example.com"))
	assert.Equal(t, "http://localhost:8000", mgr.Get().BackendURL)

	require.NoError(t, mgr.SetBackendURL("http://127.0.0.1:9000"))
	assert.Equal(t, "http://127.0.0.1:9000", mgr.Get().BackendURL)
}

func TestManagerWatchReloads(t *testing.T) {
	dir := t.TempDir()
	mgr, err := NewManager(WithConfigDir(dir), WithDebounce(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan Config, 1)
	require.NoError(t, mgr.Watch(ctx, func(cfg Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	}))

	cfg := mgr.Get()
	cfg.BackendURL = "http://changed.example.com"
	require.NoError(t, saveFile(mgr.Path(), cfg))

	select {
	case got := <-reloaded:
		assert.Equal(t, "http://changed.example.com", got.BackendURL)
	case <-time.After(2 * time.Second):
		t.Fatalf("watcher did not fire on config change")
	}
}

func TestManagerWatchReportsBrokenFile(t *testing.T) {
	dir := t.TempDir()
	errs := make(chan error, 4)
	mgr, err := NewManager(WithConfigDir(dir), WithDebounce(50*time.Millisecond), WithErrorHandler(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))
	require.NoError(t, err)
	before := mgr.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan Config, 1)
	require.NoError(t, mgr.Watch(ctx, func(cfg Config) { changed <- cfg }))

	require.NoError(t, os.WriteFile(mgr.Path(), []byte("{not json"), 0o644))

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "config reload")
	case <-time.After(2 * time.Second):
		t.Fatalf("error handler not called for a broken config file")
	}
	assert.Empty(t, changed)
	assert.Equal(t, before, mgr.Get())
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfigWithRoot(t.TempDir())
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.RequestTimeoutSeconds = 0
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.DBPath = " "
	assert.Error(t, bad.Validate())
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DFUCHAT_BACKEND_URL", "https://api.example.org")
	t.Setenv("DFUCHAT_DATA_DIR", dir)
	t.Setenv("DFUCHAT_REQUEST_TIMEOUT", "5")
	t.Setenv("DFUCHAT_DEBUG", "true")

	cfg := DefaultConfigWithRoot("/unused")
	cfg.ApplyEnv()

	assert.Equal(t, "https://api.example.org", cfg.BackendURL)
	assert.Equal(t, filepath.Join(dir, "storage.db"), cfg.DBPath)
	assert.Equal(t, 5, cfg.RequestTimeoutSeconds)
	assert.True(t, cfg.Debug)
}
