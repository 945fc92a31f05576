package chat

import (
	"encoding/json"
	"sync"
	"time"
)

type Status int

const (
	StatusIdle Status = iota
	// StatusInitializing: acquisition is running or last failed; sends retry it.
	StatusInitializing
	StatusLoading
	StatusAwaitingReply
)

func (s Status) String() string {
	switch s {
	case StatusInitializing:
		return "initializing"
	case StatusLoading:
		return "loading"
	case StatusAwaitingReply:
		return "awaiting-reply"
	default:
		return "idle"
	}
}

// Snapshot is an immutable copy of the store, safe to render.
type Snapshot struct {
	Version      uint64
	Regime       Regime
	Session      Session
	Messages     []Message
	History      []HistoryEntry
	Status       Status
	Notice       string
	PatientState json.RawMessage
}

// Store is the single source of truth for rendering: the active session,
// its log and the account history. It is mutated only by the acquisition
// and exchange protocols.
//
// Every replacement of the session bumps the generation. Background work
// captures the generation it started under and its writes are dropped once
// the generation moved on.
type Store struct {
	mu sync.Mutex
	now func() time.Time

	version      uint64
	generation   uint64
	regime       Regime
	session      Session
	messages     []Message
	history      []HistoryEntry
	status       Status
	notice       string
	patientState json.RawMessage
	inFlight     bool

	nextListener int
	listeners    map[int]func(Snapshot)
}

func NewStore(now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{now: now, listeners: make(map[int]func(Snapshot))}
}

// Subscribe calls fn after every mutation with the resulting snapshot.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

func (s *Store) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]HistoryEntry(nil), s.history...)
}

func (s *Store) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

func (s *Store) Regime() Regime {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.regime
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Version:      s.version,
		Regime:       s.regime,
		Session:      s.session,
		Messages:     append([]Message(nil), s.messages...),
		History:      append([]HistoryEntry(nil), s.history...),
		Status:       s.status,
		Notice:       s.notice,
		PatientState: append(json.RawMessage(nil), s.patientState...),
	}
}

// mutate runs fn under the lock and, when fn reports a change, notifies
// listeners after unlocking.
func (s *Store) mutate(fn func() bool) bool {
	s.mu.Lock()
	changed := fn()
	if !changed {
		s.mu.Unlock()
		return false
	}
	s.version++
	snap := s.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, l := range s.listeners {
		fns = append(fns, l)
	}
	s.mu.Unlock()

	for _, l := range fns {
		l(snap)
	}
	return true
}

func (s *Store) generationNow() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// reset drops all state and switches regime. It returns the new generation.
func (s *Store) reset(regime Regime) uint64 {
	var gen uint64
	s.mutate(func() bool {
		s.generation++
		gen = s.generation
		s.regime = regime
		s.session = nil
		s.messages = nil
		s.history = nil
		s.status = StatusIdle
		s.notice = ""
		s.patientState = nil
		s.inFlight = false
		return true
	})
	return gen
}

// current reports whether gen is still the live generation.
func (s *Store) currentLocked(gen uint64) bool {
	return s.generation == gen
}

func (s *Store) setStatus(gen uint64, status Status) {
	s.mutate(func() bool {
		if !s.currentLocked(gen) || s.status == status {
			return false
		}
		s.status = status
		return true
	})
}

func (s *Store) setNotice(gen uint64, notice string) {
	s.mutate(func() bool {
		if !s.currentLocked(gen) {
			return false
		}
		s.notice = notice
		return true
	})
}

// ClearNotice is called by the UI once the notice has been shown.
func (s *Store) ClearNotice() {
	s.mutate(func() bool {
		if s.notice == "" {
			return false
		}
		s.notice = ""
		return true
	})
}

// attach installs sess for gen without touching the log, as happens when
// a guest session or thread is created on behalf of a pending exchange.
func (s *Store) attach(gen uint64, sess Session) bool {
	return s.mutate(func() bool {
		if !s.currentLocked(gen) || sess.Regime() != s.regime {
			return false
		}
		s.session = sess
		if s.status == StatusInitializing {
			s.status = StatusIdle
			if s.inFlight {
				s.status = StatusAwaitingReply
			}
		}
		return true
	})
}

// attachThread is attach plus inserting the new thread at the head of the history.
func (s *Store) attachThread(gen uint64, sess AccountSession) bool {
	return s.mutate(func() bool {
		if !s.currentLocked(gen) || s.regime != RegimeAccount {
			return false
		}
		s.session = sess
		s.history = prependEntry(s.history, HistoryEntry{ThreadID: sess.ThreadID, Title: sess.Title, CreatedAt: sess.CreatedAt})
		return true
	})
}

// beginLoad starts replacing the session: a new generation begins so any
// exchange still awaiting its reply is discarded when it lands.
func (s *Store) beginLoad() uint64 {
	var gen uint64
	s.mutate(func() bool {
		s.generation++
		gen = s.generation
		s.status = StatusLoading
		s.notice = ""
		s.inFlight = false
		return true
	})
	return gen
}

// loadFailed leaves the previous session in place.
func (s *Store) loadFailed(gen uint64) {
	s.setStatus(gen, StatusIdle)
}

// replace installs sess with a wholesale new log. ok is false when gen is
// stale, i.e. another load or a regime switch superseded this one.
func (s *Store) replace(gen uint64, sess Session, log []Message) (next uint64, ok bool) {
	s.mutate(func() bool {
		if !s.currentLocked(gen) {
			return false
		}
		if sess != nil && sess.Regime() != s.regime {
			return false
		}
		s.generation++
		next = s.generation
		ok = true
		s.session = sess
		s.messages = clampLog(log)
		s.status = StatusIdle
		s.patientState = nil
		s.inFlight = false
		return true
	})
	return next, ok
}

func (s *Store) setHistory(gen uint64, entries []HistoryEntry) bool {
	return s.mutate(func() bool {
		if !s.currentLocked(gen) {
			return false
		}
		s.history = append([]HistoryEntry(nil), entries...)
		// A thread created while the list was in flight stays listed.
		if sess, ok := s.session.(AccountSession); ok && !containsThread(s.history, sess.ThreadID) {
			s.history = prependEntry(s.history, HistoryEntry{ThreadID: sess.ThreadID, Title: sess.Title, CreatedAt: sess.CreatedAt})
		}
		return true
	})
}

func containsThread(history []HistoryEntry, id int64) bool {
	for _, h := range history {
		if h.ThreadID == id {
			return true
		}
	}
	return false
}

func (s *Store) addHistoryHead(gen uint64, entry HistoryEntry) bool {
	return s.mutate(func() bool {
		if !s.currentLocked(gen) {
			return false
		}
		s.history = prependEntry(s.history, entry)
		return true
	})
}

// removeThread drops id from the history. When it is the selected thread the
// selection and log are cleared and a new generation starts.
func (s *Store) removeThread(id int64) (wasSelected bool) {
	s.mutate(func() bool {
		changed := false
		kept := s.history[:0:0]
		for _, h := range s.history {
			if h.ThreadID == id {
				changed = true
				continue
			}
			kept = append(kept, h)
		}
		s.history = kept

		if a, ok := s.session.(AccountSession); ok && a.ThreadID == id {
			wasSelected = true
			changed = true
			s.generation++
			s.session = nil
			s.messages = nil
			s.status = StatusIdle
			s.inFlight = false
		}
		return changed
	})
	return wasSelected
}

// beginExchange claims the single in-flight slot and appends the optimistic
// echo. It fails with ErrExchangeInFlight without touching the log.
func (s *Store) beginExchange(echo Message) (gen uint64, stamped Message, err error) {
	s.mutate(func() bool {
		if s.inFlight {
			err = ErrExchangeInFlight
			return false
		}
		if s.status == StatusLoading {
			err = ErrSessionLoading
			return false
		}
		s.inFlight = true
		s.status = StatusAwaitingReply
		s.notice = ""
		gen = s.generation
		stamped = s.appendLocked(echo)
		return true
	})
	return gen, stamped, err
}

// settle acknowledges the echo, appends reply and releases the slot.
func (s *Store) settle(gen uint64, echoID string, reply Message, patientState json.RawMessage) (Message, bool) {
	var stamped Message
	ok := s.mutate(func() bool {
		if !s.currentLocked(gen) {
			return false
		}
		s.ackLocked(echoID)
		stamped = s.appendLocked(reply)
		if len(patientState) > 0 {
			s.patientState = append(json.RawMessage(nil), patientState...)
		}
		s.finishLocked()
		return true
	})
	return stamped, ok
}

// abandon acknowledges the echo and releases the slot without a reply.
func (s *Store) abandon(gen uint64, echoID string, notice string) bool {
	return s.mutate(func() bool {
		if !s.currentLocked(gen) {
			return false
		}
		s.ackLocked(echoID)
		s.notice = notice
		s.finishLocked()
		return true
	})
}

// dropGuest forgets an expired guest session, keeping the log.
func (s *Store) dropGuest(gen uint64) bool {
	return s.mutate(func() bool {
		if !s.currentLocked(gen) {
			return false
		}
		if _, ok := s.session.(GuestSession); !ok {
			return false
		}
		s.session = nil
		return true
	})
}

func (s *Store) setPatientState(gen uint64, state json.RawMessage) {
	s.mutate(func() bool {
		if !s.currentLocked(gen) || len(state) == 0 {
			return false
		}
		s.patientState = append(json.RawMessage(nil), state...)
		return true
	})
}

func (s *Store) inFlightNow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight
}

func (s *Store) sessionAt(gen uint64) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.currentLocked(gen) {
		return nil, false
	}
	return s.session, true
}

func (s *Store) finishLocked() {
	s.inFlight = false
	if s.status == StatusAwaitingReply {
		s.status = StatusIdle
	}
}

func (s *Store) ackLocked(id string) {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			s.messages[i].Pending = false
			return
		}
	}
}

// appendLocked stamps msg so the log stays non-decreasing in time.
func (s *Store) appendLocked(msg Message) Message {
	ts := s.now()
	if n := len(s.messages); n > 0 && ts.Before(s.messages[n-1].Timestamp) {
		ts = s.messages[n-1].Timestamp
	}
	msg.Timestamp = ts
	s.messages = append(s.messages, msg)
	return msg
}

func clampLog(log []Message) []Message {
	out := make([]Message, len(log))
	copy(out, log)
	for i := 1; i < len(out); i++ {
		if out[i].Timestamp.Before(out[i-1].Timestamp) {
			out[i].Timestamp = out[i-1].Timestamp
		}
	}
	return out
}

func prependEntry(history []HistoryEntry, entry HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(history)+1)
	out = append(out, entry)
	for _, h := range history {
		if h.ThreadID != entry.ThreadID {
			out = append(out, h)
		}
	}
	return out
}
