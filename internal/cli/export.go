package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/dyike/DFUChat/internal/chat"
)

// threadExport is the document written by `dfuchat export`.
type threadExport struct {
	ThreadID   int64          `json:"thread_id" yaml:"thread_id"`
	Title      string         `json:"title" yaml:"title"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at"`
	ExportedAt time.Time      `json:"exported_at" yaml:"exported_at"`
	Messages   []chat.Message `json:"messages" yaml:"messages"`
}

func newThreadExport(snap chat.Snapshot, now time.Time) (threadExport, error) {
	sess, ok := snap.Session.(chat.AccountSession)
	if !ok {
		return threadExport{}, chat.ErrNoSession
	}
	return threadExport{
		ThreadID:   sess.ThreadID,
		Title:      sess.Title,
		CreatedAt:  sess.CreatedAt.UTC(),
		ExportedAt: now.UTC(),
		Messages:   snap.Messages,
	}, nil
}

func writeExport(w io.Writer, doc threadExport, format string) error {
	switch strings.ToLower(format) {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(doc)
	case "yaml", "yml":
		data, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encode yaml: %w", err)
		}
		_, err = w.Write(data)
		return err
	default:
		return fmt.Errorf("unsupported export format %q (use json or yaml)", format)
	}
}
