package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSinkWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "client.log")
	l := New(Options{FilePath: path})

	l.Info("chat", "exchange settled", map[string]any{"session": "g1"})
	l.Error("chat", "exchange failed", map[string]any{"error": errors.New("boom")})
	l.Debug("chat", "filtered out", nil)
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, `"module":"chat"`)
	assert.Contains(t, out, `"message":"exchange settled"`)
	assert.Contains(t, out, "boom")
	assert.False(t, strings.Contains(out, "filtered out"), "debug entries must be dropped at info level")
}

func TestNopAndEmptyOptions(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Warn("x", "y", nil)
		New(Options{}).Info("x", "y", nil)
	})
}
