package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"pixiset/internal/assetstore"
	"pixiset/internal/gallery"
	"pixiset/internal/ingest"
	"pixiset/internal/logging"
	"pixiset/internal/models"
	"pixiset/internal/statuscache"
	"pixiset/internal/storage/memstore"
	"pixiset/internal/testsupport"
	"pixiset/internal/worker"
)

type fixture struct {
	store     *memstore.Store
	cache     *statuscache.Cache
	galleries *gallery.Aggregates
	pool      *worker.Pool
	orch      *ingest.Orchestrator
	galleryID uuid.UUID
	accountID uuid.UUID
}

func newFixture(t *testing.T, remaining int64, opts ingest.Options) *fixture {
	t.Helper()
	store := memstore.New()
	cache, _ := testsupport.NewCache(t, time.Minute)

	blobs, err := assetstore.NewDisk(t.TempDir())
	require.NoError(t, err)
	proc, err := worker.NewProcessor(blobs, 1<<20, 4000, 100, "pixiset")
	require.NoError(t, err)

	galleries := gallery.New(store, logging.Discard())
	pool := worker.NewPool(proc, galleries, logging.Discard(), 2, time.Minute)

	orch := ingest.New(store, cache, &testsupport.Billing{Remaining: remaining}, pool, logging.Discard(), opts)
	pool.Start(context.Background())
	t.Cleanup(pool.Stop)

	g := &models.Gallery{ID: uuid.New(), OwnerID: uuid.New(), Name: "g", CreatedAt: time.Now()}
	require.NoError(t, store.CreateGallery(context.Background(), g))

	return &fixture{
		store: store, cache: cache, galleries: galleries, pool: pool, orch: orch,
		galleryID: g.ID, accountID: g.OwnerID,
	}
}

func uploads(t *testing.T, count int) []ingest.FileUpload {
	t.Helper()
	files := make([]ingest.FileUpload, count)
	data := testsupport.JPEGBytes(t, 64, 64)
	for i := range files {
		files[i] = ingest.FileUpload{Name: "photo.jpg", Data: data}
	}
	return files
}

func waitSettled(t *testing.T, f *fixture, batchID uuid.UUID) statuscache.BatchSnapshot {
	t.Helper()
	var snap statuscache.BatchSnapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = f.orch.GetBatchStatus(context.Background(), batchID)
		return err == nil && snap.Settled
	}, 5*time.Second, 10*time.Millisecond)
	return snap
}

func TestSubmitAcceptsUpToFifty(t *testing.T) {
	f := newFixture(t, 1<<30, ingest.Options{})

	batch, err := f.orch.Submit(context.Background(), f.accountID, f.galleryID, uploads(t, 50))
	require.NoError(t, err)
	require.Equal(t, 50, batch.SubmittedCount)
}

func TestSubmitRejectsFiftyOneAndCreatesNothing(t *testing.T) {
	f := newFixture(t, 1<<30, ingest.Options{})

	_, err := f.orch.Submit(context.Background(), f.accountID, f.galleryID, uploads(t, 51))
	require.ErrorIs(t, err, models.ErrQuotaExceeded)

	photos, lerr := f.galleries.List(context.Background(), f.galleryID)
	require.NoError(t, lerr)
	require.Empty(t, photos)
}

func TestSubmitRejectsWhenStorageQuotaInsufficient(t *testing.T) {
	f := newFixture(t, 10, ingest.Options{}) // 10 bytes remaining

	_, err := f.orch.Submit(context.Background(), f.accountID, f.galleryID, uploads(t, 2))
	require.ErrorIs(t, err, models.ErrQuotaExceeded)
}

func TestSubmitRejectsEmptyBatch(t *testing.T) {
	f := newFixture(t, 1<<30, ingest.Options{})

	_, err := f.orch.Submit(context.Background(), f.accountID, f.galleryID, nil)
	require.ErrorIs(t, err, ingest.ErrEmptyBatch)
}

func TestSubmitRejectsUnknownGallery(t *testing.T) {
	f := newFixture(t, 1<<30, ingest.Options{})

	_, err := f.orch.Submit(context.Background(), f.accountID, uuid.New(), uploads(t, 1))
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestPollRightAfterSubmitNeverMissesBatch(t *testing.T) {
	f := newFixture(t, 1<<30, ingest.Options{})

	batch, err := f.orch.Submit(context.Background(), f.accountID, f.galleryID, uploads(t, 3))
	require.NoError(t, err)

	snap, err := f.orch.GetBatchStatus(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Len(t, snap.Assets, 3)
	require.Equal(t, 3, snap.Counts["queued"]+snap.Counts["processing"]+snap.Counts["ready"])
}

func TestBatchSettlesWithAllReadyInSubmissionOrder(t *testing.T) {
	f := newFixture(t, 1<<30, ingest.Options{})
	ctx := context.Background()

	batch, err := f.orch.Submit(ctx, f.accountID, f.galleryID, uploads(t, 2))
	require.NoError(t, err)

	snap := waitSettled(t, f, batch.ID)
	require.Equal(t, 2, snap.Counts["ready"])

	photos, err := f.galleries.List(ctx, f.galleryID)
	require.NoError(t, err)
	require.Len(t, photos, 2)
	require.Equal(t, 0, photos[0].SequenceIndex)
	require.Equal(t, 1, photos[1].SequenceIndex)
}

func TestOversizedFileFailsAloneWithTooLarge(t *testing.T) {
	f := newFixture(t, 1<<30, ingest.Options{})
	ctx := context.Background()

	big := make([]byte, 2<<20) // above the 1 MiB processor ceiling
	files := []ingest.FileUpload{{Name: "huge.jpg", Data: big}}

	batch, err := f.orch.Submit(ctx, f.accountID, f.galleryID, files)
	require.NoError(t, err)

	snap := waitSettled(t, f, batch.ID)
	require.Equal(t, 1, snap.Counts["failed"])
	require.Equal(t, models.ReasonTooLarge, snap.Assets[0].ErrorReason)

	photos, err := f.galleries.List(ctx, f.galleryID)
	require.NoError(t, err)
	require.Empty(t, photos)
}

func TestCorruptFileDoesNotAffectSiblings(t *testing.T) {
	f := newFixture(t, 1<<30, ingest.Options{})
	ctx := context.Background()

	files := []ingest.FileUpload{
		{Name: "ok1.jpg", Data: testsupport.JPEGBytes(t, 64, 64)},
		{Name: "bad.jpg", Data: testsupport.CorruptBytes()},
		{Name: "ok2.jpg", Data: testsupport.JPEGBytes(t, 96, 96)},
	}
	batch, err := f.orch.Submit(ctx, f.accountID, f.galleryID, files)
	require.NoError(t, err)

	snap := waitSettled(t, f, batch.ID)
	require.Equal(t, 2, snap.Counts["ready"])
	require.Equal(t, 1, snap.Counts["failed"])

	photos, err := f.galleries.List(ctx, f.galleryID)
	require.NoError(t, err)
	require.Len(t, photos, 2)
}

func TestSweeperDropsSettledReadBatches(t *testing.T) {
	f := newFixture(t, 1<<30, ingest.Options{SweepInterval: 10 * time.Millisecond, BatchRetention: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batch, err := f.orch.Submit(ctx, f.accountID, f.galleryID, uploads(t, 1))
	require.NoError(t, err)
	waitSettled(t, f, batch.ID) // settles and marks the batch read

	go f.orch.RunSweeper(ctx)

	require.Eventually(t, func() bool {
		_, err := f.store.GetBatch(context.Background(), batch.ID)
		return err != nil
	}, 5*time.Second, 10*time.Millisecond)

	// The ready photo survives batch GC.
	photos, err := f.galleries.List(context.Background(), f.galleryID)
	require.NoError(t, err)
	require.Len(t, photos, 1)
}
