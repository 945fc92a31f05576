package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/DFUChat/config"
	"github.com/dyike/DFUChat/internal/chat"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		line string
		want replCommand
	}{
		{"hello there\n", replCommand{text: "hello there"}},
		{"   ", replCommand{}},
		{"/", replCommand{name: "help"}},
		{"/Open 12", replCommand{name: "open", args: []string{"12"}}},
		{"/upload  my foot.png ", replCommand{name: "upload", args: []string{"my", "foot.png"}}},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, parseInput(tt.line))
		})
	}
}

func TestParseThreadID(t *testing.T) {
	id, err := parseThreadID(" #42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := parseThreadID(bad)
		assert.Error(t, err, bad)
	}
}

func exportSnapshot() chat.Snapshot {
	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return chat.Snapshot{
		Regime:  chat.RegimeAccount,
		Session: chat.AccountSession{ThreadID: 7, Title: "Heel wound", CreatedAt: created},
		Messages: []chat.Message{
			{ID: "u1", Role: chat.RoleUser, Content: "my heel hurts", Timestamp: created.Add(time.Minute)},
			{ID: "a1", Role: chat.RoleAssistant, Content: "How long has it hurt?", Timestamp: created.Add(2 * time.Minute)},
		},
	}
}

func TestNewThreadExport(t *testing.T) {
	now := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	doc, err := newThreadExport(exportSnapshot(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(7), doc.ThreadID)
	assert.Equal(t, "Heel wound", doc.Title)
	assert.Equal(t, now, doc.ExportedAt)
	assert.Len(t, doc.Messages, 2)

	_, err = newThreadExport(chat.Snapshot{Regime: chat.RegimeGuest}, now)
	assert.ErrorIs(t, err, chat.ErrNoSession)
}

func TestWriteExportJSON(t *testing.T) {
	doc, err := newThreadExport(exportSnapshot(), time.Now())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeExport(&buf, doc, "JSON"))

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, float64(7), decoded["thread_id"])
	msgs, ok := decoded["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
}

func TestWriteExportYAML(t *testing.T) {
	doc, err := newThreadExport(exportSnapshot(), time.Now())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, writeExport(&buf, doc, "yaml"))
	assert.Contains(t, buf.String(), "title: Heel wound")

	var decoded struct {
		ThreadID int64 `yaml:"thread_id"`
		Messages []struct {
			Content string `yaml:"content"`
		} `yaml:"messages"`
	}
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, int64(7), decoded.ThreadID)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, "How long has it hurt?", decoded.Messages[1].Content)
}

func TestWriteExportRejectsUnknownFormat(t *testing.T) {
	err := writeExport(&bytes.Buffer{}, threadExport{}, "csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "csv")
}

func TestShowConfig(t *testing.T) {
	cfg := config.DefaultConfigWithRoot(t.TempDir())
	cfg.BackendURL = "http://dfu.test"

	var buf bytes.Buffer
	showConfig(&buf, "/tmp/config.json", *cfg)
	out := buf.String()
	assert.Contains(t, out, "http://dfu.test")
	assert.Contains(t, out, "/tmp/config.json")
}

func TestReadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wound.png")
	require.NoError(t, os.WriteFile(path, []byte("not really a png"), 0o600))

	img, err := readImage(` "` + path + `" `)
	require.NoError(t, err)
	assert.Equal(t, "wound.png", img.Name)
	assert.Equal(t, []byte("not really a png"), img.Data)

	_, err = readImage(filepath.Join(dir, "missing.png"))
	assert.Error(t, err)
}

func TestSelectedThread(t *testing.T) {
	assert.Equal(t, int64(9), selectedThread(chat.AccountSession{ThreadID: 9}))
	assert.Equal(t, int64(0), selectedThread(nil))
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := NewRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	joined := strings.Join(names, ",")
	for _, want := range []string{"login", "logout", "send", "upload", "history", "open", "new", "delete", "export", "config", "version"} {
		assert.Contains(t, joined, want)
	}
	for _, flag := range []string{"config", "backend", "debug", "plain"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(flag), flag)
	}
}
