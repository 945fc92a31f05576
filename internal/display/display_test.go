package display

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dyike/DFUChat/internal/chat"
)

func TestParseButtons(t *testing.T) {
	content := "You should see a specialist soon.\n\n" +
		"[[BUTTON:Find nearby doctors:/find-doctors?doctorTypes=podiatrist,diabetologist]]"

	text, buttons := ParseButtons(content)
	assert.Equal(t, "You should see a specialist soon.", text)
	assert.Equal(t, []Button{{Label: "Find nearby doctors", URL: "/find-doctors?doctorTypes=podiatrist,diabetologist"}}, buttons)

	text, buttons = ParseButtons("no markers here")
	assert.Equal(t, "no markers here", text)
	assert.Nil(t, buttons)
}

func TestParseButtonsKeepsOrder(t *testing.T) {
	_, buttons := ParseButtons("[[BUTTON:A:/a]] middle [[BUTTON:B:https://b.example/x]]")
	assert.Equal(t, []Button{{Label: "A", URL: "/a"}, {Label: "B", URL: "https://b.example/x"}}, buttons)
}

func TestResolveURL(t *testing.T) {
	assert.Equal(t, "https://app.example/find-doctors", ResolveURL("https://app.example/", "/find-doctors"))
	assert.Equal(t, "https://other.example", ResolveURL("https://app.example", "https://other.example"))
	assert.Equal(t, "/find-doctors", ResolveURL("", "/find-doctors"))
}

func TestFormatMessagePlain(t *testing.T) {
	p := New(Options{Width: 80, Out: &bytes.Buffer{}, LinkBase: "https://app.example"})
	ts := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	out := p.FormatMessage(chat.Message{Role: chat.RoleUser, Content: "hello", Pending: true, Timestamp: ts})
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "sending")

	out = p.FormatMessage(chat.Message{
		Role:      chat.RoleAssistant,
		Content:   "Please see a doctor. [[BUTTON:Find nearby hospitals:/find-doctors?query=hospital]]",
		Timestamp: ts,
	})
	assert.Contains(t, out, "Please see a doctor.")
	assert.NotContains(t, out, "[[BUTTON")
	assert.Contains(t, out, "Find nearby hospitals")
	assert.Contains(t, out, "https://app.example/find-doctors?query=hospital")
}

func TestFormatHistoryMarksSelection(t *testing.T) {
	out := FormatHistory([]chat.HistoryEntry{
		{ThreadID: 42, Title: "foot pain"},
		{ThreadID: 7},
	}, 42)
	assert.Contains(t, out, "* 42")
	assert.Contains(t, out, "Untitled chat")
}

func TestPatientState(t *testing.T) {
	var buf bytes.Buffer
	p := New(Options{Width: 80, Out: &buf})
	p.PatientState(json.RawMessage(`{"qa_active":true}`))
	assert.Contains(t, buf.String(), `"qa_active": true`)
}
