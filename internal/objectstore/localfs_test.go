package objectstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLocalFS(t *testing.T) *LocalFSBackend {
	t.Helper()
	root := t.TempDir()
	b, err := NewLocalFSBackend(root)
	require.NoError(t, err)
	return b
}

func TestLocalFSPutGetRoundTrip(t *testing.T) {
	b := newTestLocalFS(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "cache/app1/abc", []byte("hello")))

	data, err := b.Get(ctx, "cache/app1/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestLocalFSGetMissingReturnsErrMiss(t *testing.T) {
	b := newTestLocalFS(t)
	_, err := b.Get(context.Background(), "cache/app1/missing")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestLocalFSDeletePrefixRemovesOnlyMatchingTree(t *testing.T) {
	b := newTestLocalFS(t)
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, "cache/app1/a", []byte("1")))
	require.NoError(t, b.Put(ctx, "cache/app1/b", []byte("2")))
	require.NoError(t, b.Put(ctx, "cache/app2/c", []byte("3")))

	require.NoError(t, b.DeletePrefix(ctx, Prefix("app1")))

	_, err := b.Get(ctx, "cache/app1/a")
	assert.ErrorIs(t, err, ErrMiss)
	_, err = b.Get(ctx, "cache/app1/b")
	assert.ErrorIs(t, err, ErrMiss)

	data, err := b.Get(ctx, "cache/app2/c")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), data)
}

func TestLocalFSDeletePrefixOnMissingDirIsNotAnError(t *testing.T) {
	b := newTestLocalFS(t)
	assert.NoError(t, b.DeletePrefix(context.Background(), Prefix("never-existed")))
}

func TestLocalFSProbeFailsWhenRootRemoved(t *testing.T) {
	root := t.TempDir()
	b, err := NewLocalFSBackend(root)
	require.NoError(t, err)

	require.NoError(t, os.RemoveAll(root))
	assert.Error(t, b.Probe(context.Background()))
}

func TestLocalFSIsAvailabilityError(t *testing.T) {
	b := newTestLocalFS(t)
	assert.False(t, b.IsAvailabilityError(nil))
	assert.False(t, b.IsAvailabilityError(ErrMiss))
	assert.False(t, b.IsAvailabilityError(os.ErrNotExist))
	assert.True(t, b.IsAvailabilityError(os.ErrPermission))
}

func TestLocalFSPutCreatesNestedDirectories(t *testing.T) {
	b := newTestLocalFS(t)
	ctx := context.Background()
	key := ObjectKey("app1", "deadbeef")

	require.NoError(t, b.Put(ctx, key, []byte("data")))

	_, err := os.Stat(filepath.Join(b.root, filepath.FromSlash(key)))
	require.NoError(t, err)
}
