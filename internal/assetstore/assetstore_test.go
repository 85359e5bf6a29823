package assetstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"pixiset/internal/assetstore"
)

func TestPutGetRoundTrip(t *testing.T) {
	store, err := assetstore.NewDisk(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	data := []byte("original bytes")
	ref, err := store.Put(ctx, data)
	require.NoError(t, err)
	require.Len(t, ref, 64) // sha256 hex

	got, err := store.Get(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, data, got)
}

func TestPutIsContentAddressed(t *testing.T) {
	store, err := assetstore.NewDisk(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref1, err := store.Put(ctx, []byte("same"))
	require.NoError(t, err)
	ref2, err := store.Put(ctx, []byte("same"))
	require.NoError(t, err)
	require.Equal(t, ref1, ref2)

	ref3, err := store.Put(ctx, []byte("different"))
	require.NoError(t, err)
	require.NotEqual(t, ref1, ref3)
}

func TestGetUnknownRef(t *testing.T) {
	store, err := assetstore.NewDisk(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef")
	require.ErrorIs(t, err, assetstore.ErrNotFound)
}

func TestCanceledContextStopsIO(t *testing.T) {
	store, err := assetstore.NewDisk(t.TempDir())
	require.NoError(t, err)

	ref, err := store.Put(context.Background(), []byte("kept"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Put(ctx, []byte("never written"))
	require.ErrorIs(t, err, context.Canceled)
	_, err = store.Get(ctx, ref)
	require.ErrorIs(t, err, context.Canceled)
	require.ErrorIs(t, store.Delete(ctx, ref), context.Canceled)

	// The blob survives the canceled delete.
	got, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, []byte("kept"), got)
}

func TestDeleteIsIdempotent(t *testing.T) {
	store, err := assetstore.NewDisk(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	ref, err := store.Put(ctx, []byte("short lived"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, ref))
	require.NoError(t, store.Delete(ctx, ref))

	_, err = store.Get(ctx, ref)
	require.ErrorIs(t, err, assetstore.ErrNotFound)
}
