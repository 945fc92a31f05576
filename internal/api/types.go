package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Time accepts RFC 3339 as well as the naive UTC timestamps the backend
// emits (no zone suffix).
type Time struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func (t *Time) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(string(data), `"`)
	if raw == "" || raw == "null" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t.Time = parsed
		return nil
	}
	for _, layout := range naiveLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", raw)
}

func (t Time) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

type GuestStart struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Reply is the body of both ai-message endpoints. PatientState is only sent
// on guest sessions and is kept opaque.
type Reply struct {
	AssistantMessage string          `json:"assistant_message"`
	PatientState     json.RawMessage `json:"patient_state,omitempty"`
}

type UploadResult struct {
	Status           string          `json:"status"`
	Prediction       Prediction      `json:"prediction"`
	AssistantMessage string          `json:"assistant_message"`
	PatientState     json.RawMessage `json:"patient_state,omitempty"`
}

// Prediction is a bare severity string on guest uploads and an object on
// account uploads; both decode here.
type Prediction struct {
	Severity   string
	Confidence decimal.NullDecimal
	IsFoot     *bool
	Status     string
}

func (p *Prediction) UnmarshalJSON(data []byte) error {
	*p = Prediction{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &p.Severity)
	}

	var obj struct {
		Severity   string              `json:"severity"`
		Confidence decimal.NullDecimal `json:"confidence"`
		IsFoot     *bool               `json:"is_foot"`
		Status     string              `json:"status"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode prediction: %w", err)
	}
	p.Severity = obj.Severity
	p.Confidence = obj.Confidence
	p.IsFoot = obj.IsFoot
	p.Status = obj.Status
	return nil
}

// Thread is a persisted chat as listed by /chat/history and returned by
// /chat/create. The backend names the id chat_id; thread_id is accepted too.
type Thread struct {
	ID        int64  `json:"chat_id"`
	Title     string `json:"title"`
	CreatedAt Time   `json:"created_at"`
}

func (t *Thread) UnmarshalJSON(data []byte) error {
	var raw struct {
		ChatID    *int64 `json:"chat_id"`
		ThreadID  *int64 `json:"thread_id"`
		Title     string `json:"title"`
		CreatedAt Time   `json:"created_at"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch {
	case raw.ChatID != nil:
		t.ID = *raw.ChatID
	case raw.ThreadID != nil:
		t.ID = *raw.ThreadID
	default:
		return fmt.Errorf("thread without chat_id")
	}
	t.Title = raw.Title
	t.CreatedAt = raw.CreatedAt
	return nil
}

type ThreadMessage struct {
	ID        int64  `json:"id"`
	Role      string `json:"role"`
	Content   string `json:"content"`
	CreatedAt Time   `json:"created_at"`
}

type ThreadDetail struct {
	Thread
	Messages []ThreadMessage `json:"messages"`
}

func (d *ThreadDetail) UnmarshalJSON(data []byte) error {
	if err := d.Thread.UnmarshalJSON(data); err != nil {
		return err
	}
	var raw struct {
		Messages []ThreadMessage `json:"messages"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Messages = raw.Messages
	return nil
}

// Image is an upload payload. ContentType must be image/jpeg or image/png or
// the backend rejects it.
type Image struct {
	Name        string
	ContentType string
	Data        []byte
}

type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Login struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	User        User   `json:"user"`
}
