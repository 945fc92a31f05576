package chat

import (
	"strconv"
	"time"
)

// Regime selects which backend surface a conversation runs against.
type Regime int

const (
	RegimeGuest Regime = iota
	RegimeAccount
)

func (r Regime) String() string {
	if r == RegimeAccount {
		return "account"
	}
	return "guest"
}

func regimeOf(account bool) Regime {
	if account {
		return RegimeAccount
	}
	return RegimeGuest
}

// Session is the active session handle. It is sealed: the only
// implementations are GuestSession and AccountSession.
type Session interface {
	Regime() Regime
	// Key identifies the session in logs.
	Key() string
	isSession()
}

// GuestSession lives only in server memory; the server may forget it at any time.
type GuestSession struct {
	SessionID        string
	CreatedLocallyAt time.Time
}

func (GuestSession) Regime() Regime { return RegimeGuest }
func (g GuestSession) Key() string  { return "guest:" + g.SessionID }
func (GuestSession) isSession()     {}

// AccountSession is a persisted thread owned by the signed-in user.
type AccountSession struct {
	ThreadID  int64
	Title     string
	CreatedAt time.Time
}

func (AccountSession) Regime() Regime { return RegimeAccount }
func (a AccountSession) Key() string  { return "thread:" + strconv.FormatInt(a.ThreadID, 10) }
func (AccountSession) isSession()     {}

// HistoryEntry is the summary of a persisted thread shown in the history list.
type HistoryEntry struct {
	ThreadID  int64     `json:"thread_id" yaml:"thread_id"`
	Title     string    `json:"title" yaml:"title"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
