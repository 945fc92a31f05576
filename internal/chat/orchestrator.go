// Package chat is the conversational session orchestrator. It picks the
// session regime from the identity state, acquires guest sessions or
// account threads, runs optimistic message exchanges against the backend and
// recovers when the backend forgets a guest session.
package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dyike/DFUChat/internal/api"
	"github.com/dyike/DFUChat/internal/logger"
	"github.com/dyike/DFUChat/internal/storage"
)

// Backend is the subset of the API client the orchestrator drives.
type Backend interface {
	StartGuest(ctx context.Context) (api.GuestStart, error)
	SendGuestMessage(ctx context.Context, sessionID, content string) (api.Reply, error)
	UploadGuestImage(ctx context.Context, sessionID string, img api.Image) (api.UploadResult, error)

	ListThreads(ctx context.Context) ([]api.Thread, error)
	CreateThread(ctx context.Context) (api.Thread, error)
	GetThread(ctx context.Context, id int64) (api.ThreadDetail, error)
	DeleteThread(ctx context.Context, id int64) error
	SendThreadMessage(ctx context.Context, id int64, content string) (api.Reply, error)
	UploadThreadImage(ctx context.Context, id int64, img api.Image) (api.UploadResult, error)
}

// Identity reports whether a valid credential is held and announces changes.
type Identity interface {
	IsAccountRegime() bool
	Subscribe(fn func(account bool)) func()
}

type Deps struct {
	Backend  Backend
	Storage  storage.KV
	Identity Identity
	Logger   logger.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

type Orchestrator struct {
	backend  Backend
	kv       storage.KV
	identity Identity
	log      logger.Logger
	now      func() time.Time
	store    *Store

	// acquireMu serializes session creation so one guest start or lazy
	// thread create serves every caller waiting on it.
	acquireMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce   sync.Once
	unsubscribe func()
}

func New(deps Deps) (*Orchestrator, error) {
	if deps.Backend == nil {
		return nil, errors.New("chat: backend is required")
	}
	if deps.Storage == nil {
		return nil, errors.New("chat: storage is required")
	}
	if deps.Identity == nil {
		return nil, errors.New("chat: identity is required")
	}
	log := deps.Logger
	if log == nil {
		log = logger.Nop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		backend:  deps.Backend,
		kv:       deps.Storage,
		identity: deps.Identity,
		log:      log,
		now:      now,
		store:    NewStore(now),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

func (o *Orchestrator) Store() *Store { return o.store }

// Start enters the regime the identity currently reports and acquires a
// session for it. An *AcquisitionFailure is not fatal; sends retry it.
// Later identity transitions switch the regime in the background.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.startOnce.Do(func() {
		o.unsubscribe = o.identity.Subscribe(o.switchRegime)
	})
	regime := regimeOf(o.identity.IsAccountRegime())
	o.store.reset(regime)
	o.log.Info("chat", "orchestrator started", map[string]any{"regime": regime.String()})
	return o.Acquire(ctx)
}

// switchRegime drops every trace of the previous regime before acquiring a
// session for the new one.
func (o *Orchestrator) switchRegime(account bool) {
	if o.ctx.Err() != nil {
		return
	}
	regime := regimeOf(account)
	o.store.reset(regime)
	o.log.Info("chat", "regime switched", map[string]any{"regime": regime.String()})

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		if err := o.Acquire(o.ctx); err != nil && !errors.Is(err, ErrSuperseded) {
			o.log.Warn("chat", "acquisition after regime switch failed", map[string]any{"error": err.Error()})
		}
	}()
}

// WaitIdle blocks until background acquisitions and exchanges have finished.
func (o *Orchestrator) WaitIdle() {
	o.wg.Wait()
}

// Close abandons outstanding network work and stops following identity
// changes. No cancellation is sent to the backend.
func (o *Orchestrator) Close() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	o.cancel()
	o.wg.Wait()
}
