package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyike/DFUChat/internal/storage"
)

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "storage.db")

	s, err := Open(path)
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, storage.KeyGuestSession)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, storage.KeyGuestSession, "g1"))
	require.NoError(t, s.Set(ctx, storage.KeyGuestSession, "g2"))
	require.NoError(t, s.Set(ctx, storage.KeyToken, "tok"))

	v, ok, err := s.Get(ctx, storage.KeyGuestSession)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "g2", v)

	keys, err := s.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{storage.KeyGuestSession, storage.KeyToken}, keys)
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	v, ok, err = reopened.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "tok", v)

	require.NoError(t, reopened.Delete(ctx, storage.KeyToken, storage.KeyUser))
	_, ok, err = reopened.Get(ctx, storage.KeyToken)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)
}
