package chat

import (
	"context"
	"errors"
	"sort"
	"strconv"

	"github.com/dyike/DFUChat/internal/api"
	"github.com/dyike/DFUChat/internal/storage"
)

// Acquire establishes a session for the current regime. In guest regime it
// adopts the cached id or starts a new one; in account regime it loads the
// history and opens the most recent thread, if any. Failures are
// recoverable: the store is left in a state the next user action retries from.
func (o *Orchestrator) Acquire(ctx context.Context) error {
	gen := o.store.generationNow()
	if o.store.Regime() == RegimeAccount {
		return o.refreshHistory(ctx, gen)
	}
	_, err := o.acquireGuest(ctx, gen)
	return err
}

// acquireGuest returns the guest session live at gen, creating one when
// neither the store nor local storage has it. Calls are serialized so
// concurrent callers share one create.
func (o *Orchestrator) acquireGuest(ctx context.Context, gen uint64) (GuestSession, error) {
	o.acquireMu.Lock()
	defer o.acquireMu.Unlock()

	sess, live := o.store.sessionAt(gen)
	if !live {
		return GuestSession{}, ErrSuperseded
	}
	if g, ok := sess.(GuestSession); ok {
		return g, nil
	}

	o.store.setStatus(gen, StatusInitializing)

	cached, found, err := o.kv.Get(ctx, storage.KeyGuestSession)
	if err != nil {
		o.log.Warn("chat", "read cached guest session failed", map[string]any{"error": err.Error()})
	}
	if found && cached != "" {
		g := GuestSession{SessionID: cached, CreatedLocallyAt: o.now()}
		o.store.attach(gen, g)
		o.log.Debug("chat", "adopted cached guest session", map[string]any{"session_id": cached})
		return g, nil
	}

	start, err := o.backend.StartGuest(ctx)
	if err != nil {
		o.log.Warn("chat", "guest session start failed", map[string]any{"error": err.Error()})
		return GuestSession{}, &AcquisitionFailure{Regime: RegimeGuest, Op: "start", Err: err}
	}
	if start.SessionID == "" {
		return GuestSession{}, &AcquisitionFailure{Regime: RegimeGuest, Op: "start", Err: errors.New("backend returned an empty session id")}
	}
	if err := o.kv.Set(ctx, storage.KeyGuestSession, start.SessionID); err != nil {
		o.log.Warn("chat", "cache guest session failed", map[string]any{"error": err.Error()})
	}

	g := GuestSession{SessionID: start.SessionID, CreatedLocallyAt: o.now()}
	if !o.store.attach(gen, g) {
		return GuestSession{}, ErrSuperseded
	}
	o.log.Info("chat", "guest session started", map[string]any{"session_id": start.SessionID})
	return g, nil
}

// ForgetGuest drops the cached guest id and the log, then starts a fresh
// guest session.
func (o *Orchestrator) ForgetGuest(ctx context.Context) error {
	if o.store.Regime() != RegimeGuest {
		return ErrWrongRegime
	}
	if err := o.kv.Delete(ctx, storage.KeyGuestSession); err != nil {
		return err
	}
	gen, ok := o.store.replace(o.store.beginLoad(), nil, nil)
	if !ok {
		return nil
	}
	_, err := o.acquireGuest(ctx, gen)
	if errors.Is(err, ErrSuperseded) {
		return nil
	}
	return err
}

// RefreshHistory reloads the thread list. When nothing is selected the most
// recent thread is opened.
func (o *Orchestrator) RefreshHistory(ctx context.Context) error {
	if o.store.Regime() != RegimeAccount {
		return ErrWrongRegime
	}
	return o.refreshHistory(ctx, o.store.generationNow())
}

func (o *Orchestrator) refreshHistory(ctx context.Context, gen uint64) error {
	threads, err := o.backend.ListThreads(ctx)
	if err != nil {
		o.log.Warn("chat", "load history failed", map[string]any{"error": err.Error()})
		return &AcquisitionFailure{Regime: RegimeAccount, Op: "load history", Err: err}
	}

	entries := make([]HistoryEntry, 0, len(threads))
	for _, th := range threads {
		entries = append(entries, entryOf(th))
	}
	// Newest first regardless of the order the backend used.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if !o.store.setHistory(gen, entries) {
		return nil
	}
	o.log.Debug("chat", "history loaded", map[string]any{"threads": len(entries)})

	sess, live := o.store.sessionAt(gen)
	if !live || sess != nil || len(entries) == 0 || o.store.inFlightNow() {
		return nil
	}
	return o.SelectThread(ctx, entries[0].ThreadID)
}

// SelectThread opens a persisted thread and replaces the log with its
// messages.
func (o *Orchestrator) SelectThread(ctx context.Context, id int64) error {
	if o.store.Regime() != RegimeAccount {
		return ErrWrongRegime
	}

	gen := o.store.beginLoad()
	detail, err := o.backend.GetThread(ctx, id)
	if err != nil {
		o.store.loadFailed(gen)
		o.log.Warn("chat", "load thread failed", map[string]any{"thread_id": id, "error": err.Error()})
		return &AcquisitionFailure{Regime: RegimeAccount, Op: "load thread", Err: err}
	}

	log := make([]Message, 0, len(detail.Messages))
	for _, m := range detail.Messages {
		role := RoleAssistant
		if m.Role == string(RoleUser) {
			role = RoleUser
		}
		log = append(log, Message{
			ID:        strconv.FormatInt(m.ID, 10),
			Role:      role,
			Content:   m.Content,
			Timestamp: m.CreatedAt.Time,
		})
	}

	sess := AccountSession{ThreadID: id, Title: detail.Title, CreatedAt: detail.CreatedAt.Time}
	if _, ok := o.store.replace(gen, sess, log); ok {
		o.log.Info("chat", "thread opened", map[string]any{"thread_id": id, "messages": len(log)})
	}
	return nil
}

// NewThread creates an empty thread, puts it at the head of the history and
// selects it.
func (o *Orchestrator) NewThread(ctx context.Context) (AccountSession, error) {
	if o.store.Regime() != RegimeAccount {
		return AccountSession{}, ErrWrongRegime
	}

	gen := o.store.beginLoad()
	th, err := o.backend.CreateThread(ctx)
	if err != nil {
		o.store.loadFailed(gen)
		return AccountSession{}, &AcquisitionFailure{Regime: RegimeAccount, Op: "create thread", Err: err}
	}

	sess := sessionOf(th)
	next, ok := o.store.replace(gen, sess, nil)
	if ok {
		o.store.addHistoryHead(next, entryOf(th))
		o.log.Info("chat", "thread created", map[string]any{"thread_id": th.ID})
	}
	return sess, nil
}

// DeleteThread removes a thread on the backend and from the history. A
// thread the backend no longer has counts as deleted.
func (o *Orchestrator) DeleteThread(ctx context.Context, id int64) error {
	if o.store.Regime() != RegimeAccount {
		return ErrWrongRegime
	}
	if err := o.backend.DeleteThread(ctx, id); err != nil && !errors.Is(err, api.ErrNotFound) {
		return err
	}
	selected := o.store.removeThread(id)
	o.log.Info("chat", "thread deleted", map[string]any{"thread_id": id, "selected": selected})
	return nil
}

// ensureThread creates the thread a first message goes to. The new thread is
// attached to gen without starting a new generation so the exchange that
// asked for it still settles.
func (o *Orchestrator) ensureThread(ctx context.Context, gen uint64) (AccountSession, error) {
	o.acquireMu.Lock()
	defer o.acquireMu.Unlock()

	sess, live := o.store.sessionAt(gen)
	if !live {
		return AccountSession{}, ErrSuperseded
	}
	if a, ok := sess.(AccountSession); ok {
		return a, nil
	}

	th, err := o.backend.CreateThread(ctx)
	if err != nil {
		o.log.Warn("chat", "lazy thread create failed", map[string]any{"error": err.Error()})
		return AccountSession{}, &AcquisitionFailure{Regime: RegimeAccount, Op: "create thread", Err: err}
	}
	a := sessionOf(th)
	if !o.store.attachThread(gen, a) {
		return AccountSession{}, ErrSuperseded
	}
	o.log.Info("chat", "thread created for first message", map[string]any{"thread_id": th.ID})
	return a, nil
}

func entryOf(th api.Thread) HistoryEntry {
	return HistoryEntry{ThreadID: th.ID, Title: th.Title, CreatedAt: th.CreatedAt.Time}
}

func sessionOf(th api.Thread) AccountSession {
	return AccountSession{ThreadID: th.ID, Title: th.Title, CreatedAt: th.CreatedAt.Time}
}
