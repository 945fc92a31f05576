package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/dyike/DFUChat/internal/api"
	"github.com/dyike/DFUChat/internal/storage"
)

type ExchangeState int

const (
	ExchangeComposing ExchangeState = iota
	ExchangeSentOptimistic
	ExchangeAwaitingReply
	ExchangeSettled
	ExchangeFailed
)

func (s ExchangeState) String() string {
	switch s {
	case ExchangeSentOptimistic:
		return "sent-optimistic"
	case ExchangeAwaitingReply:
		return "awaiting-reply"
	case ExchangeSettled:
		return "settled"
	case ExchangeFailed:
		return "failed"
	default:
		return "composing"
	}
}

// Exchange is one user turn. It is returned once the echo is in the log and
// completes when the reply (or its substitute) has been applied.
type Exchange struct {
	echo Message
	done chan struct{}

	mu    sync.Mutex
	state ExchangeState
	reply Message
	err   error
}

func newExchange(echo Message) *Exchange {
	return &Exchange{echo: echo, state: ExchangeSentOptimistic, done: make(chan struct{})}
}

// Echo is the user message as it was appended, pending.
func (x *Exchange) Echo() Message { return x.echo }

func (x *Exchange) Done() <-chan struct{} { return x.done }

func (x *Exchange) State() ExchangeState {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// Reply is the assistant message appended on completion. It is synthetic
// when the exchange failed, and zero when nothing was appended.
func (x *Exchange) Reply() Message {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.reply
}

func (x *Exchange) Err() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.err
}

// Wait blocks until the exchange completes or ctx is done.
func (x *Exchange) Wait(ctx context.Context) (Message, error) {
	select {
	case <-x.done:
		return x.Reply(), x.Err()
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

func (x *Exchange) setState(s ExchangeState) {
	x.mu.Lock()
	x.state = s
	x.mu.Unlock()
}

func (x *Exchange) finish(reply Message, err error) {
	x.mu.Lock()
	x.reply = reply
	x.err = err
	if err != nil {
		x.state = ExchangeFailed
	} else {
		x.state = ExchangeSettled
	}
	x.mu.Unlock()
	close(x.done)
}

// payload is what a turn carries to the backend: text, or an image.
type payload struct {
	text  string
	image *api.Image
}

// outcome is the backend answer normalized across text and image turns.
type outcome struct {
	content      string
	patientState json.RawMessage
}

// Send appends text to the log as a pending user message and dispatches it.
// It returns as soon as the echo is visible; the returned Exchange reports
// the outcome. A second send while one is awaiting its reply fails with
// ErrExchangeInFlight and leaves the log untouched.
func (o *Orchestrator) Send(text string) (*Exchange, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	echo := Message{ID: uuid.NewString(), Role: RoleUser, Content: text, Pending: true}
	return o.dispatch(echo, payload{text: text})
}

// Upload validates img and sends it like a message. Invalid images fail with
// *UploadValidationFailure before anything is echoed.
func (o *Orchestrator) Upload(img api.Image) (*Exchange, error) {
	img, err := ValidateImage(img)
	if err != nil {
		return nil, err
	}
	echo := Message{
		ID:         uuid.NewString(),
		Role:       RoleUser,
		Content:    "[image: " + img.Name + "]",
		Pending:    true,
		Attachment: img.Name,
	}
	return o.dispatch(echo, payload{image: &img})
}

func (o *Orchestrator) dispatch(echo Message, p payload) (*Exchange, error) {
	if o.ctx.Err() != nil {
		return nil, o.ctx.Err()
	}
	gen, stamped, err := o.store.beginExchange(echo)
	if err != nil {
		return nil, err
	}

	x := newExchange(stamped)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.runExchange(o.ctx, x, gen, p)
	}()
	return x, nil
}

func (o *Orchestrator) runExchange(ctx context.Context, x *Exchange, gen uint64, p payload) {
	x.setState(ExchangeAwaitingReply)
	echoID := x.echo.ID

	sess, live := o.store.sessionAt(gen)
	if !live {
		x.finish(Message{}, ErrSuperseded)
		return
	}

	regime := o.store.Regime()
	var (
		key string
		res outcome
		err error
	)
	if regime == RegimeGuest {
		g, ok := sess.(GuestSession)
		if !ok {
			g, err = o.acquireGuest(ctx, gen)
			if err != nil {
				o.failAcquire(x, gen, err)
				return
			}
		}
		key = g.Key()
		res, err = o.sendGuest(ctx, g.SessionID, p)
		if errors.Is(err, api.ErrNotFound) {
			o.recoverGuest(ctx, x, gen, g, err)
			return
		}
	} else {
		a, ok := sess.(AccountSession)
		if !ok {
			a, err = o.ensureThread(ctx, gen)
			if err != nil {
				o.failAcquire(x, gen, err)
				return
			}
		}
		key = a.Key()
		res, err = o.sendThread(ctx, a.ThreadID, p)
	}

	if err != nil {
		o.log.Warn("chat", "exchange failed", map[string]any{"session": key, "error": err.Error()})
		reply, ok := o.store.settle(gen, echoID, Message{ID: uuid.NewString(), Role: RoleAssistant, Content: failureReply, Synthetic: true}, nil)
		if !ok {
			x.finish(Message{}, ErrSuperseded)
			return
		}
		x.finish(reply, &ExchangeFailure{SessionKey: key, Err: err})
		return
	}

	reply, ok := o.store.settle(gen, echoID, Message{ID: uuid.NewString(), Role: RoleAssistant, Content: res.content}, res.patientState)
	if !ok {
		o.log.Debug("chat", "discarded stale reply", map[string]any{"session": key})
		x.finish(Message{}, ErrSuperseded)
		return
	}
	o.log.Debug("chat", "exchange settled", map[string]any{"session": key})
	x.finish(reply, nil)
}

func (o *Orchestrator) sendGuest(ctx context.Context, sessionID string, p payload) (outcome, error) {
	if p.image != nil {
		res, err := o.backend.UploadGuestImage(ctx, sessionID, *p.image)
		if err != nil {
			return outcome{}, err
		}
		return outcome{content: summarizeUpload(res), patientState: res.PatientState}, nil
	}
	reply, err := o.backend.SendGuestMessage(ctx, sessionID, p.text)
	if err != nil {
		return outcome{}, err
	}
	return outcome{content: reply.AssistantMessage, patientState: reply.PatientState}, nil
}

func (o *Orchestrator) sendThread(ctx context.Context, threadID int64, p payload) (outcome, error) {
	if p.image != nil {
		res, err := o.backend.UploadThreadImage(ctx, threadID, *p.image)
		if err != nil {
			return outcome{}, err
		}
		return outcome{content: summarizeUpload(res), patientState: res.PatientState}, nil
	}
	reply, err := o.backend.SendThreadMessage(ctx, threadID, p.text)
	if err != nil {
		return outcome{}, err
	}
	return outcome{content: reply.AssistantMessage, patientState: reply.PatientState}, nil
}

// failAcquire completes an exchange whose session could not be established.
func (o *Orchestrator) failAcquire(x *Exchange, gen uint64, err error) {
	if errors.Is(err, ErrSuperseded) {
		x.finish(Message{}, err)
		return
	}
	reply, ok := o.store.settle(gen, x.echo.ID, Message{ID: uuid.NewString(), Role: RoleAssistant, Content: initializeReply, Synthetic: true}, nil)
	if !ok {
		x.finish(Message{}, ErrSuperseded)
		return
	}
	o.store.setStatus(gen, StatusInitializing)
	x.finish(reply, err)
}

// recoverGuest handles a guest session the backend has forgotten: the cached
// id goes, a fresh session is started and the user is told the context was
// lost. The message is not replayed.
func (o *Orchestrator) recoverGuest(ctx context.Context, x *Exchange, gen uint64, expired GuestSession, cause error) {
	o.log.Warn("chat", "guest session expired", map[string]any{"session_id": expired.SessionID})

	if err := o.kv.Delete(ctx, storage.KeyGuestSession); err != nil {
		o.log.Warn("chat", "clear cached guest session failed", map[string]any{"error": err.Error()})
	}
	if !o.store.dropGuest(gen) {
		x.finish(Message{}, ErrSuperseded)
		return
	}

	if _, err := o.acquireGuest(ctx, gen); err != nil && !errors.Is(err, ErrSuperseded) {
		o.log.Warn("chat", "guest re-acquisition failed", map[string]any{"error": err.Error()})
	}

	if !o.store.abandon(gen, x.echo.ID, expiredNotice) {
		x.finish(Message{}, ErrSuperseded)
		return
	}
	x.finish(Message{}, &SessionExpired{SessionID: expired.SessionID, Err: cause})
}
