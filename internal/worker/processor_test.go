package worker_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"pixiset/internal/assetstore"
	"pixiset/internal/models"
	"pixiset/internal/testsupport"
	"pixiset/internal/worker"
)

func newProcessor(t *testing.T, maxBytes int64, maxDim int) (*worker.Processor, *assetstore.Disk) {
	t.Helper()
	blobs, err := assetstore.NewDisk(t.TempDir())
	require.NoError(t, err)
	proc, err := worker.NewProcessor(blobs, maxBytes, maxDim, 100, "pixiset")
	require.NoError(t, err)
	return proc, blobs
}

func TestProcessStoresOriginalAndThumbnail(t *testing.T) {
	proc, blobs := newProcessor(t, 1<<20, 4000)
	ctx := context.Background()

	asset := &models.AssetRecord{ID: uuid.New()}
	data := testsupport.JPEGBytes(t, 640, 480)

	reason, err := proc.Process(ctx, asset, data)
	require.NoError(t, err)
	require.Empty(t, reason)
	require.NotEmpty(t, asset.OriginalRef)
	require.NotEmpty(t, asset.ThumbnailRef)
	require.NotEqual(t, asset.OriginalRef, asset.ThumbnailRef)

	original, err := blobs.Get(ctx, asset.OriginalRef)
	require.NoError(t, err)
	require.Equal(t, data, original)

	thumb, err := blobs.Get(ctx, asset.ThumbnailRef)
	require.NoError(t, err)
	require.NotEmpty(t, thumb)
}

func TestProcessAcceptsPNG(t *testing.T) {
	proc, _ := newProcessor(t, 1<<20, 4000)

	asset := &models.AssetRecord{ID: uuid.New()}
	reason, err := proc.Process(context.Background(), asset, testsupport.PNGBytes(t, 320, 240))
	require.NoError(t, err)
	require.Empty(t, reason)
}

func TestProcessRejectsCorruptBytes(t *testing.T) {
	proc, _ := newProcessor(t, 1<<20, 4000)

	asset := &models.AssetRecord{ID: uuid.New()}
	reason, err := proc.Process(context.Background(), asset, testsupport.CorruptBytes())
	require.Error(t, err)
	require.Equal(t, models.ReasonInvalidFormat, reason)
	require.Empty(t, asset.OriginalRef)
}

func TestProcessRejectsOversizeBytes(t *testing.T) {
	proc, _ := newProcessor(t, 64, 4000) // 64-byte ceiling

	asset := &models.AssetRecord{ID: uuid.New()}
	reason, err := proc.Process(context.Background(), asset, testsupport.JPEGBytes(t, 640, 480))
	require.Error(t, err)
	require.Equal(t, models.ReasonTooLarge, reason)
}

func TestProcessRejectsOversizeDimensions(t *testing.T) {
	proc, _ := newProcessor(t, 1<<20, 200) // 200px ceiling

	asset := &models.AssetRecord{ID: uuid.New()}
	reason, err := proc.Process(context.Background(), asset, testsupport.JPEGBytes(t, 640, 480))
	require.Error(t, err)
	require.Equal(t, models.ReasonTooLarge, reason)
}

func TestProcessExpiredContextIsStorageError(t *testing.T) {
	proc, _ := newProcessor(t, 1<<20, 4000)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	asset := &models.AssetRecord{ID: uuid.New()}
	reason, err := proc.Process(ctx, asset, testsupport.JPEGBytes(t, 320, 240))
	require.Error(t, err)
	require.Equal(t, models.ReasonStorageError, reason)
}
