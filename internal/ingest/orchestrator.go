// Package ingest accepts upload batches, enforces quota, dispatches assets
// to the worker pool, and keeps the batch poll surface current.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pixiset/internal/account"
	"pixiset/internal/models"
	"pixiset/internal/statuscache"
	"pixiset/internal/storage"
	"pixiset/internal/worker"
)

// ErrEmptyBatch rejects a submission with no files.
var ErrEmptyBatch = errors.New("empty batch")

// FileUpload is one client-submitted file, in submission order.
type FileUpload struct {
	Name string
	Data []byte
}

// Options tunes batch acceptance and retention.
type Options struct {
	MaxBatchSize   int
	BatchRetention time.Duration
	SweepInterval  time.Duration
}

type batchState struct {
	read    bool
	settled bool
}

// Orchestrator owns the upload-batch lifecycle. Submission is synchronous
// only up to quota checks and record creation; processing is observed via
// worker settle callbacks.
type Orchestrator struct {
	store   storage.Store
	cache   *statuscache.Cache
	billing account.Billing
	pool    *worker.Pool
	log     *slog.Logger
	opts    Options

	mu      sync.Mutex
	tracked map[uuid.UUID]*batchState
}

func New(store storage.Store, cache *statuscache.Cache, billing account.Billing, pool *worker.Pool, log *slog.Logger, opts Options) *Orchestrator {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 50
	}
	o := &Orchestrator{
		store:   store,
		cache:   cache,
		billing: billing,
		pool:    pool,
		log:     log.With("component", "ingest"),
		opts:    opts,
		tracked: make(map[uuid.UUID]*batchState),
	}
	pool.SetOnSettled(o.assetSettled)
	return o
}

// Submit accepts a batch for a gallery and returns its handle immediately.
// A poll issued right after return always finds the batch: the initial
// all-queued snapshot is written before dispatch.
func (o *Orchestrator) Submit(ctx context.Context, accountID, galleryID uuid.UUID, files []FileUpload) (*models.UploadBatch, error) {
	const op = "ingest.Submit"

	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(files) > o.opts.MaxBatchSize {
		return nil, fmt.Errorf("%s: batch of %d exceeds ceiling of %d: %w",
			op, len(files), o.opts.MaxBatchSize, models.ErrQuotaExceeded)
	}

	var totalBytes int64
	for _, f := range files {
		totalBytes += int64(len(f.Data))
	}
	remaining, err := o.billing.RemainingStorage(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if totalBytes > remaining {
		return nil, fmt.Errorf("%s: batch needs %d bytes, %d remaining: %w",
			op, totalBytes, remaining, models.ErrQuotaExceeded)
	}

	if _, err := o.store.GetGallery(ctx, galleryID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := time.Now().UTC()
	batch := &models.UploadBatch{
		ID:             uuid.New(),
		GalleryID:      galleryID,
		SubmittedCount: len(files),
		CreatedAt:      now,
	}
	assets := make([]*models.AssetRecord, len(files))
	for i, f := range files {
		assets[i] = &models.AssetRecord{
			ID:            uuid.New(),
			BatchID:       batch.ID,
			GalleryID:     galleryID,
			OriginalName:  f.Name,
			State:         models.AssetQueued,
			SequenceIndex: i,
			SizeBytes:     int64(len(f.Data)),
			CreatedAt:     now,
		}
	}

	if err := o.store.CreateBatch(ctx, batch, assets); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	snap := statuscache.BatchSnapshotOf(batch.ID, galleryID, assets)
	if err := o.cache.PutBatch(ctx, snap); err != nil {
		// The store remains authoritative; a later poll rebuilds the entry.
		o.log.Warn("initial snapshot write failed", "batch_id", batch.ID, "error", err)
	}

	o.mu.Lock()
	o.tracked[batch.ID] = &batchState{}
	o.mu.Unlock()

	for i, a := range assets {
		if err := o.pool.Dispatch(worker.Job{Asset: a, Data: files[i].Data}); err != nil {
			o.log.Error("dispatch failed", "batch_id", batch.ID, "asset_id", a.ID, "error", err)
		}
	}

	o.log.Info("batch accepted", "batch_id", batch.ID, "gallery_id", galleryID, "files", len(files))
	return batch, nil
}

// assetSettled refreshes the batch snapshot after a terminal transition.
func (o *Orchestrator) assetSettled(ctx context.Context, asset *models.AssetRecord) {
	snap, err := o.rebuildSnapshot(ctx, asset.BatchID, asset.GalleryID)
	if err != nil {
		o.log.Error("snapshot rebuild failed", "batch_id", asset.BatchID, "error", err)
		return
	}
	if snap.Settled {
		o.mu.Lock()
		if st, ok := o.tracked[asset.BatchID]; ok {
			st.settled = true
		}
		o.mu.Unlock()
	}
}

// GetBatchStatus serves the poll surface: cache first, store on miss.
func (o *Orchestrator) GetBatchStatus(ctx context.Context, batchID uuid.UUID) (statuscache.BatchSnapshot, error) {
	const op = "ingest.GetBatchStatus"

	snap, err := o.cache.GetBatch(ctx, batchID)
	if errors.Is(err, statuscache.ErrMiss) {
		batch, berr := o.store.GetBatch(ctx, batchID)
		if berr != nil {
			return statuscache.BatchSnapshot{}, fmt.Errorf("%s: %w", op, berr)
		}
		snap, err = o.rebuildSnapshot(ctx, batchID, batch.GalleryID)
	}
	if err != nil {
		return statuscache.BatchSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}

	o.mu.Lock()
	if st, ok := o.tracked[batchID]; ok {
		st.read = true
		st.settled = snap.Settled
	}
	o.mu.Unlock()
	return snap, nil
}

func (o *Orchestrator) rebuildSnapshot(ctx context.Context, batchID, galleryID uuid.UUID) (statuscache.BatchSnapshot, error) {
	assets, err := o.store.ListBatchAssets(ctx, batchID)
	if err != nil {
		return statuscache.BatchSnapshot{}, err
	}
	snap := statuscache.BatchSnapshotOf(batchID, galleryID, assets)
	if err := o.cache.PutBatch(ctx, snap); err != nil {
		return statuscache.BatchSnapshot{}, err
	}
	return snap, nil
}

// GetAsset looks up one asset record.
func (o *Orchestrator) GetAsset(ctx context.Context, assetID uuid.UUID) (*models.AssetRecord, error) {
	const op = "ingest.GetAsset"

	a, err := o.store.GetAsset(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return a, nil
}

// RunSweeper garbage-collects batches until the context ends: a batch goes
// once it has settled and been read at least once, or once the retention
// window lapses, whichever comes first.
func (o *Orchestrator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(o.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.sweep(ctx)
		}
	}
}

func (o *Orchestrator) sweep(ctx context.Context) {
	o.mu.Lock()
	var eligible []uuid.UUID
	for id, st := range o.tracked {
		if st.settled && st.read {
			eligible = append(eligible, id)
		}
	}
	o.mu.Unlock()

	if o.opts.BatchRetention > 0 {
		cutoff := time.Now().UTC().Add(-o.opts.BatchRetention)
		expired, err := o.store.ListBatchesBefore(ctx, cutoff)
		if err != nil {
			o.log.Error("retention scan failed", "error", err)
		} else {
			eligible = append(eligible, expired...)
		}
	}

	dropped := 0
	seen := make(map[uuid.UUID]struct{}, len(eligible))
	for _, id := range eligible {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if err := o.store.DeleteBatch(ctx, id); err != nil {
			o.log.Error("batch delete failed", "batch_id", id, "error", err)
			continue
		}
		o.mu.Lock()
		delete(o.tracked, id)
		o.mu.Unlock()
		dropped++
	}
	if dropped > 0 {
		o.log.Info("swept batches", "count", dropped)
	}
}
