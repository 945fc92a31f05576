package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/DFUChat/internal/api"
	"github.com/dyike/DFUChat/internal/storage"
)

func signed(t *testing.T, exp time.Time) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "1",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestValidToken(t *testing.T) {
	now := time.Now()

	assert.False(t, ValidToken("", now))
	assert.True(t, ValidToken("opaque-token", now))
	assert.True(t, ValidToken(signed(t, now.Add(time.Hour)), now))
	assert.False(t, ValidToken(signed(t, now.Add(-time.Minute)), now))
}

type fakeBackend struct {
	meCalls int
	loginErr error
}

func (f *fakeBackend) Login(_ context.Context, email, _ string) (api.Login, error) {
	if f.loginErr != nil {
		return api.Login{}, f.loginErr
	}
	return api.Login{AccessToken: "tok-" + email, TokenType: "bearer", User: api.User{ID: 9, Name: "Ana", Email: email}}, nil
}

func (f *fakeBackend) Register(_ context.Context, _, _, _ string) (string, error) {
	return "check your inbox", nil
}

func (f *fakeBackend) Me(_ context.Context) (api.User, error) {
	f.meCalls++
	return api.User{ID: 9, Name: "Ana"}, nil
}

func TestLoginLogoutNotifiesTransitions(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	creds := NewCredentials(kv)
	require.NoError(t, creds.Load(ctx))

	resolver := NewResolver(creds)
	assert.False(t, resolver.IsAccountRegime())

	var transitions []bool
	cancel := resolver.Subscribe(func(account bool) { transitions = append(transitions, account) })
	defer cancel()

	backend := &fakeBackend{}
	svc := NewService(backend, creds, resolver, nil)

	user, err := svc.Login(ctx, "ana@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, "Ana", user.Name)
	assert.True(t, resolver.IsAccountRegime())

	stored, ok, _ := kv.Get(ctx, storage.KeyToken)
	assert.True(t, ok)
	assert.Equal(t, "tok-ana@example.com", stored)

	// a second refresh without a change must not notify
	resolver.Refresh()

	_, err = svc.Me(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, backend.meCalls, "profile from login should be cached")

	require.NoError(t, svc.Logout(ctx))
	assert.False(t, resolver.IsAccountRegime())
	_, ok, _ = kv.Get(ctx, storage.KeyUser)
	assert.False(t, ok)

	assert.Equal(t, []bool{true, false}, transitions)
}

func TestLoginFailureKeepsGuestRegime(t *testing.T) {
	ctx := context.Background()
	creds := NewCredentials(storage.NewMemory())
	resolver := NewResolver(creds)
	svc := NewService(&fakeBackend{loginErr: errors.New("bad password")}, creds, resolver, nil)

	_, err := svc.Login(ctx, "a@b.c", "nope")
	assert.Error(t, err)
	assert.False(t, resolver.IsAccountRegime())
}

func TestCredentialsReload(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	require.NoError(t, NewCredentials(kv).Save(ctx, "tok", &api.User{ID: 1, Name: "Bo"}))

	fresh := NewCredentials(kv)
	require.NoError(t, fresh.Load(ctx))
	assert.Equal(t, "tok", fresh.Token())
	require.NotNil(t, fresh.User())
	assert.Equal(t, "Bo", fresh.User().Name)

	svc := NewService(&fakeBackend{}, fresh, NewResolver(fresh), nil)
	svc.ForceSignOut()
	assert.Empty(t, fresh.Token())
}

func TestTokenWithoutUserStaysGuest(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	require.NoError(t, kv.Set(ctx, storage.KeyToken, "orphan-token"))

	creds := NewCredentials(kv)
	require.NoError(t, creds.Load(ctx))
	assert.Equal(t, "orphan-token", creds.Token())
	assert.False(t, NewResolver(creds).IsAccountRegime())

	require.NoError(t, creds.Save(ctx, "orphan-token", &api.User{ID: 3, Email: "c@d.e"}))
	assert.True(t, NewResolver(creds).IsAccountRegime())
}
