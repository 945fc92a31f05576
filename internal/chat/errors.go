package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrExchangeInFlight rejects a send while another exchange awaits its reply.
	ErrExchangeInFlight = errors.New("chat: an exchange is already awaiting a reply")
	ErrSessionLoading   = errors.New("chat: a thread is still loading")
	ErrEmptyMessage     = errors.New("chat: message is empty")
	ErrNoSession        = errors.New("chat: no active session")
	ErrWrongRegime      = errors.New("chat: operation not available in this regime")
	// ErrSuperseded is reported by work whose session was replaced before it
	// finished; its result was discarded.
	ErrSuperseded = errors.New("chat: session changed before the operation finished")
)

// AcquisitionFailure is a network or backend error while creating or loading
// a session. The next user action retries.
type AcquisitionFailure struct {
	Regime Regime
	Op     string
	Err    error
}

func (e *AcquisitionFailure) Error() string {
	return fmt.Sprintf("%s session %s failed: %v", e.Regime, e.Op, e.Err)
}

func (e *AcquisitionFailure) Unwrap() error { return e.Err }

// SessionExpired reports that the backend no longer knows the guest session.
// A fresh session has been acquired (if possible); the message was not replayed.
type SessionExpired struct {
	SessionID string
	Err       error
}

func (e *SessionExpired) Error() string {
	return fmt.Sprintf("guest session %s expired: %v", e.SessionID, e.Err)
}

func (e *SessionExpired) Unwrap() error { return e.Err }

// ExchangeFailure is any other send failure. A synthetic reply was appended
// and the session stays usable.
type ExchangeFailure struct {
	SessionKey string
	Err        error
}

func (e *ExchangeFailure) Error() string {
	return fmt.Sprintf("exchange on %s failed: %v", e.SessionKey, e.Err)
}

func (e *ExchangeFailure) Unwrap() error { return e.Err }

// UploadValidationFailure is a client-side rejection of an image. Nothing
// was sent.
type UploadValidationFailure struct {
	Reason string
}

func (e *UploadValidationFailure) Error() string {
	return "invalid upload: " + e.Reason
}
