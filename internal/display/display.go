// Package display renders conversations to the terminal.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/dyike/DFUChat/internal/chat"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true)

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280")).
			Italic(true)

	syntheticStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B"))

	buttonStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8B5CF6")).
			Underline(true)

	noticeStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#F59E0B")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#3B82F6"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))
)

type Options struct {
	// Markdown renders assistant replies through glamour.
	Markdown bool
	// Width overrides the detected terminal width.
	Width int
	// LinkBase resolves relative button targets.
	LinkBase string
	Out      io.Writer
}

// Printer writes conversation elements to a terminal.
type Printer struct {
	out      io.Writer
	width    int
	linkBase string
	markdown *glamour.TermRenderer
}

func New(opts Options) *Printer {
	p := &Printer{out: opts.Out, width: opts.Width, linkBase: opts.LinkBase}
	if p.out == nil {
		p.out = os.Stdout
	}
	if p.width <= 0 {
		p.width = TerminalWidth()
	}
	if opts.Markdown {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(p.width-4),
		)
		if err == nil {
			p.markdown = r
		}
	}
	return p
}

// TerminalWidth is the width of stdout, or 80 when it is not a terminal.
func TerminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return 80
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w < 20 {
		return 80
	}
	return w
}

func (p *Printer) SetLinkBase(base string) {
	p.linkBase = base
}

// FormatMessage renders one log entry, including any call-to-action links.
func (p *Printer) FormatMessage(m chat.Message) string {
	stamp := mutedStyle.Render(m.Timestamp.Local().Format("15:04"))

	if m.Role == chat.RoleUser {
		label := userStyle.Render("You")
		body := m.Content
		if m.Pending {
			body = pendingStyle.Render(body + " (sending...)")
		}
		return fmt.Sprintf("%s %s\n%s\n", stamp, label, body)
	}

	text, buttons := ParseButtons(m.Content)
	label := assistantStyle.Render("Assistant")

	var body string
	switch {
	case m.Synthetic:
		body = syntheticStyle.Render(text)
	case p.markdown != nil:
		rendered, err := p.markdown.Render(text)
		if err != nil {
			body = text
		} else {
			body = strings.Trim(rendered, "\n")
		}
	default:
		body = text
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n%s\n", stamp, label, body)
	for _, btn := range buttons {
		fmt.Fprintf(&b, "  -> %s %s\n", btn.Label, buttonStyle.Render(ResolveURL(p.linkBase, btn.URL)))
	}
	return b.String()
}

func (p *Printer) Message(m chat.Message) {
	fmt.Fprintln(p.out, p.FormatMessage(m))
}

// Transcript prints a whole log.
func (p *Printer) Transcript(msgs []chat.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(p.out, mutedStyle.Render("No messages yet. Type to start the conversation."))
		return
	}
	for _, m := range msgs {
		p.Message(m)
	}
}

// FormatHistory lists threads, marking the selected one.
func FormatHistory(entries []chat.HistoryEntry, selected int64) string {
	if len(entries) == 0 {
		return mutedStyle.Render("No saved chats yet.")
	}
	var b strings.Builder
	for _, h := range entries {
		marker := "  "
		if h.ThreadID == selected {
			marker = "* "
		}
		title := h.Title
		if title == "" {
			title = "Untitled chat"
		}
		created := ""
		if !h.CreatedAt.IsZero() {
			created = mutedStyle.Render(h.CreatedAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Fprintf(&b, "%s%-6d %s %s\n", marker, h.ThreadID, title, created)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (p *Printer) History(entries []chat.HistoryEntry, selected int64) {
	fmt.Fprintln(p.out, FormatHistory(entries, selected))
}

// StatusLine summarizes the regime, session and status of a snapshot.
func StatusLine(snap chat.Snapshot) string {
	session := "no session"
	switch s := snap.Session.(type) {
	case chat.GuestSession:
		session = "guest session " + shortID(s.SessionID)
	case chat.AccountSession:
		session = fmt.Sprintf("chat #%d", s.ThreadID)
		if s.Title != "" {
			session += " " + s.Title
		}
	}
	return mutedStyle.Render(fmt.Sprintf("[%s | %s | %s]", snap.Regime, session, snap.Status))
}

func (p *Printer) Status(snap chat.Snapshot) {
	fmt.Fprintln(p.out, StatusLine(snap))
}

// PatientState pretty-prints the opaque patient state kept by guest chats.
func (p *Printer) PatientState(raw json.RawMessage) {
	if len(raw) == 0 {
		fmt.Fprintln(p.out, mutedStyle.Render("No patient state recorded yet."))
		return
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Fprintln(p.out, string(raw))
		return
	}
	out, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(p.out, string(out))
}

func (p *Printer) Banner(regime chat.Regime, user string) {
	title := titleStyle.Render("DFU Assistant")
	who := "guest mode, nothing is saved"
	if regime == chat.RegimeAccount {
		who = "signed in"
		if user != "" {
			who += " as " + user
		}
	}
	fmt.Fprintf(p.out, "%s %s\n", title, mutedStyle.Render(who))
	fmt.Fprintln(p.out, mutedStyle.Render("Type a message, or /help for commands."))
	fmt.Fprintln(p.out)
}

func (p *Printer) Notice(text string) {
	fmt.Fprintln(p.out, noticeStyle.Render(text))
}

func (p *Printer) Error(err error) {
	fmt.Fprintln(p.out, errorStyle.Render("Error: "+err.Error()))
}

func (p *Printer) Info(message string) {
	fmt.Fprintln(p.out, infoStyle.Render(message))
}

func (p *Printer) Success(message string) {
	fmt.Fprintln(p.out, successStyle.Render(message))
}

func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}
