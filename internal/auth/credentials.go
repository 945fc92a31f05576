// Package auth owns the credential: it persists the bearer token, derives
// the active regime from it and exposes login/logout.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dyike/DFUChat/internal/api"
	"github.com/dyike/DFUChat/internal/storage"
)

// Credentials keeps the token and user under their storage keys and holds an
// in-memory copy so every outgoing request does not hit the database.
type Credentials struct {
	kv storage.KV

	mu    sync.RWMutex
	token string
	user  *api.User
}

func NewCredentials(kv storage.KV) *Credentials {
	return &Credentials{kv: kv}
}

// Load refreshes the in-memory copy from storage.
func (c *Credentials) Load(ctx context.Context) error {
	token, _, err := c.kv.Get(ctx, storage.KeyToken)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	raw, ok, err := c.kv.Get(ctx, storage.KeyUser)
	if err != nil {
		return fmt.Errorf("load user: %w", err)
	}

	var user *api.User
	if ok && raw != "" {
		var u api.User
		if err := json.Unmarshal([]byte(raw), &u); err == nil {
			user = &u
		}
	}

	c.mu.Lock()
	c.token = token
	c.user = user
	c.mu.Unlock()
	return nil
}

func (c *Credentials) Save(ctx context.Context, token string, user *api.User) error {
	if err := c.kv.Set(ctx, storage.KeyToken, token); err != nil {
		return err
	}
	if user != nil {
		data, err := json.Marshal(user)
		if err != nil {
			return fmt.Errorf("encode user: %w", err)
		}
		if err := c.kv.Set(ctx, storage.KeyUser, string(data)); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.token = token
	c.user = user
	c.mu.Unlock()
	return nil
}

// Clear removes both keys. The in-memory copy is cleared even when storage fails.
func (c *Credentials) Clear(ctx context.Context) error {
	c.mu.Lock()
	c.token = ""
	c.user = nil
	c.mu.Unlock()
	return c.kv.Delete(ctx, storage.KeyToken, storage.KeyUser)
}

func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Credentials) User() *api.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.user == nil {
		return nil
	}
	u := *c.user
	return &u
}
