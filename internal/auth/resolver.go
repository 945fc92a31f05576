package auth

import (
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/dyike/DFUChat/internal/api"
)

// CredentialSource yields the currently held token ("" when none) and the
// user it was issued for.
type CredentialSource interface {
	Token() string
	User() *api.User
}

// Resolver projects credential state onto the active regime. It caches the
// last observed value so Refresh can report transitions.
type Resolver struct {
	creds  CredentialSource
	now    func() time.Time

	mu        sync.Mutex
	account   bool
	nextID    int
	listeners map[int]func(account bool)
}

func NewResolver(creds CredentialSource) *Resolver {
	r := &Resolver{
		creds:     creds,
		now:       time.Now,
		listeners: make(map[int]func(bool)),
	}
	r.account = r.evaluate()
	return r
}

// IsAccountRegime reports the value observed at the last Refresh.
func (r *Resolver) IsAccountRegime() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.account
}

// Refresh re-reads the credential and notifies subscribers when the regime
// flipped. It returns the current value.
func (r *Resolver) Refresh() bool {
	next := r.evaluate()

	r.mu.Lock()
	changed := next != r.account
	r.account = next
	var fns []func(bool)
	if changed {
		fns = make([]func(bool), 0, len(r.listeners))
		for _, fn := range r.listeners {
			fns = append(fns, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range fns {
		fn(next)
	}
	return next
}

// Subscribe registers fn for regime transitions and returns its cancel func.
func (r *Resolver) Subscribe(fn func(account bool)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, id)
		r.mu.Unlock()
	}
}

// evaluate requires both halves of a login: a usable token and its user.
func (r *Resolver) evaluate() bool {
	return r.creds.User() != nil && ValidToken(r.creds.Token(), r.now())
}

// ValidToken reports whether token is usable at now. Opaque (non-JWT) tokens
// are trusted until the backend rejects them; JWTs are checked against exp.
// The signature is not verified, the client has no key.
func ValidToken(token string, now time.Time) bool {
	if token == "" {
		return false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}
	return now.Before(exp.Time)
}
