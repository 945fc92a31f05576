package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyike/DFUChat/internal/api"
	"github.com/dyike/DFUChat/internal/chat"
)

// InteractiveSession is the chat REPL. Plain lines are sent to the
// assistant; lines starting with / are commands.
type InteractiveSession struct {
	app    *app
	orch   *chat.Orchestrator
	reader *bufio.Reader

	lastRegime chat.Regime
}

func NewInteractiveSession(a *app, orch *chat.Orchestrator, in io.Reader) *InteractiveSession {
	return &InteractiveSession{
		app:        a,
		orch:       orch,
		reader:     bufio.NewReader(in),
		lastRegime: orch.Store().Regime(),
	}
}

// replCommand is one parsed input line.
type replCommand struct {
	name string
	args []string
	text string
}

func parseInput(line string) replCommand {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "/") {
		return replCommand{text: line}
	}
	parts := strings.Fields(line[1:])
	if len(parts) == 0 {
		return replCommand{name: "help"}
	}
	return replCommand{name: strings.ToLower(parts[0]), args: parts[1:]}
}

// Start runs until /exit or end of input.
func (s *InteractiveSession) Start(ctx context.Context) error {
	s.app.printer.Banner(s.lastRegime, s.app.userLabel())
	s.showSession()

	for {
		if ctx.Err() != nil {
			return nil
		}
		s.checkRegime()
		fmt.Print("> ")

		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				fmt.Println()
				return nil
			}
			return err
		}

		cmd := parseInput(line)
		switch {
		case cmd.name == "" && cmd.text == "":
			continue
		case cmd.name == "":
			s.send(ctx, cmd.text)
		case cmd.name == "exit" || cmd.name == "quit" || cmd.name == "q":
			fmt.Println("Take care!")
			return nil
		default:
			s.handleCommand(ctx, cmd)
		}
		fmt.Println()
	}
}

func (s *InteractiveSession) handleCommand(ctx context.Context, cmd replCommand) {
	p := s.app.printer
	switch cmd.name {
	case "help", "h", "?":
		s.showHelp()

	case "upload", "image":
		if len(cmd.args) == 0 {
			p.Error(errors.New("usage: /upload <path to photo>"))
			return
		}
		s.upload(ctx, strings.Join(cmd.args, " "))

	case "history", "hist":
		if err := s.orch.RefreshHistory(ctx); err != nil {
			p.Error(err)
			return
		}
		p.History(s.orch.Store().History(), selectedThread(s.orch.Store().Session()))

	case "open":
		id, err := s.pickThread(cmd.args)
		if err != nil {
			p.Error(err)
			return
		}
		if err := s.orch.SelectThread(ctx, id); err != nil {
			p.Error(err)
			return
		}
		s.showSession()

	case "new":
		if s.orch.Store().Regime() == chat.RegimeGuest {
			if err := s.orch.ForgetGuest(ctx); err != nil {
				p.Error(err)
				return
			}
			p.Success("Started a new guest conversation.")
			return
		}
		sess, err := s.orch.NewThread(ctx)
		if err != nil {
			p.Error(err)
			return
		}
		p.Success(fmt.Sprintf("Started chat #%d.", sess.ThreadID))

	case "delete", "del":
		if len(cmd.args) == 0 {
			p.Error(errors.New("usage: /delete <chat id>"))
			return
		}
		id, err := parseThreadID(cmd.args[0])
		if err != nil {
			p.Error(err)
			return
		}
		ok, err := ConfirmDelete(id)
		if err != nil || !ok {
			if err != nil {
				p.Error(err)
			}
			return
		}
		if err := s.orch.DeleteThread(ctx, id); err != nil {
			p.Error(err)
			return
		}
		p.Success(fmt.Sprintf("Deleted chat #%d.", id))

	case "state":
		p.PatientState(s.orch.Store().Snapshot().PatientState)

	case "status":
		p.Status(s.orch.Store().Snapshot())

	case "transcript", "log":
		p.Transcript(s.orch.Store().Messages())

	case "login":
		email := ""
		if len(cmd.args) > 0 {
			email = cmd.args[0]
		}
		email, password, err := PromptForCredentials(s.reader, email)
		if err != nil {
			p.Error(err)
			return
		}
		user, err := s.app.auth.Login(ctx, email, password)
		if err != nil {
			p.Error(err)
			return
		}
		p.Success("Signed in as " + user.Email)

	case "logout":
		if err := s.app.auth.Logout(ctx); err != nil {
			p.Error(err)
			return
		}
		p.Success("Signed out.")

	case "whoami":
		user, err := s.app.auth.Me(ctx)
		if err != nil {
			p.Info("Browsing as a guest.")
			return
		}
		p.Info(fmt.Sprintf("%s <%s>", user.Name, user.Email))

	case "retry":
		if err := s.orch.Acquire(ctx); err != nil {
			p.Error(err)
			return
		}
		s.showSession()

	default:
		p.Error(fmt.Errorf("unknown command /%s, type /help", cmd.name))
	}
}

func (s *InteractiveSession) send(ctx context.Context, text string) {
	x, err := s.orch.Send(text)
	if err != nil {
		s.app.printer.Error(err)
		return
	}
	s.await(ctx, x)
}

func (s *InteractiveSession) upload(ctx context.Context, path string) {
	img, err := readImage(path)
	if err != nil {
		s.app.printer.Error(err)
		return
	}
	x, err := s.orch.Upload(img)
	if err != nil {
		s.app.printer.Error(err)
		return
	}
	s.app.printer.Info("Uploading " + img.Name + "...")
	s.await(ctx, x)
}

// await blocks the prompt until the reply lands. Ctrl+C cancels ctx and
// abandons the wait; the exchange itself keeps running.
func (s *InteractiveSession) await(ctx context.Context, x *chat.Exchange) {
	p := s.app.printer
	reply, err := x.Wait(ctx)
	if reply.Content != "" {
		p.Message(reply)
	}

	var expired *chat.SessionExpired
	switch {
	case err == nil:
	case errors.As(err, &expired):
		// surfaced as the store notice below
	case errors.Is(err, chat.ErrSuperseded):
		p.Info("The conversation changed before the reply arrived.")
	case reply.Synthetic:
		s.app.log.Warn("cli", "exchange failed", map[string]any{"error": err.Error()})
	default:
		p.Error(err)
	}
	s.flushNotice()
}

func (s *InteractiveSession) flushNotice() {
	store := s.orch.Store()
	if n := store.Snapshot().Notice; n != "" {
		s.app.printer.Notice(n)
		store.ClearNotice()
	}
}

// checkRegime reprints the banner when a login, logout or forced sign-out
// switched the regime since the last prompt.
func (s *InteractiveSession) checkRegime() {
	regime := s.orch.Store().Regime()
	if regime == s.lastRegime {
		return
	}
	s.lastRegime = regime
	s.orch.WaitIdle()
	fmt.Println()
	s.app.printer.Banner(regime, s.app.userLabel())
	s.showSession()
}

func (s *InteractiveSession) showSession() {
	snap := s.orch.Store().Snapshot()
	s.app.printer.Status(snap)
	if snap.Status == chat.StatusInitializing {
		s.app.printer.Notice("Still connecting to the assistant. Your next message retries, or use /retry.")
	}
	if len(snap.Messages) > 0 {
		s.app.printer.Transcript(snap.Messages)
	}
	s.flushNotice()
}

func (s *InteractiveSession) pickThread(args []string) (int64, error) {
	if len(args) > 0 {
		return parseThreadID(args[0])
	}
	if s.orch.Store().Regime() != chat.RegimeAccount {
		return 0, chat.ErrWrongRegime
	}
	return PromptForThread(s.orch.Store().History())
}

func (s *InteractiveSession) showHelp() {
	fmt.Println("Commands:")
	fmt.Println("  <text>              send a message to the assistant")
	fmt.Println("  /upload <path>      send a JPEG or PNG photo of the wound (max 5 MB)")
	fmt.Println("  /new                start a new conversation")
	fmt.Println("  /history            list saved chats (signed in)")
	fmt.Println("  /open [id]          open a saved chat")
	fmt.Println("  /delete <id>        delete a saved chat")
	fmt.Println("  /state              show what the assistant has recorded so far (guest)")
	fmt.Println("  /status             show the current session")
	fmt.Println("  /transcript         reprint the conversation")
	fmt.Println("  /login [email]      sign in to keep your chats")
	fmt.Println("  /logout             sign out")
	fmt.Println("  /whoami             show the signed-in user")
	fmt.Println("  /retry              retry connecting")
	fmt.Println("  /exit               quit")
}

func selectedThread(sess chat.Session) int64 {
	if a, ok := sess.(chat.AccountSession); ok {
		return a.ThreadID
	}
	return 0
}

func readImage(path string) (api.Image, error) {
	path = strings.Trim(strings.TrimSpace(path), `"'`)
	info, err := os.Stat(path)
	if err != nil {
		return api.Image{}, err
	}
	if info.Size() > chat.MaxImageBytes {
		return api.Image{}, &chat.UploadValidationFailure{Reason: "file is larger than 5 MB"}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return api.Image{}, err
	}
	return api.Image{Name: filepath.Base(path), Data: data}, nil
}
