// Package gallery owns the authoritative, ordered photo collection of each
// gallery. Mutations on one gallery are serialized; different galleries
// proceed in parallel.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"pixiset/internal/models"
	"pixiset/internal/storage"
)

// Aggregates coordinates per-gallery mutations over the store. The keyed
// mutex is the serialization point the store itself does not provide.
type Aggregates struct {
	store storage.Store
	log   *slog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func New(store storage.Store, log *slog.Logger) *Aggregates {
	return &Aggregates{
		store: store,
		log:   log.With("component", "gallery"),
		locks: make(map[uuid.UUID]*sync.Mutex),
	}
}

func (g *Aggregates) lockFor(galleryID uuid.UUID) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[galleryID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[galleryID] = l
	}
	return l
}

// MarkProcessing persists the queued→processing transition. A record that is
// already terminal stays terminal.
func (g *Aggregates) MarkProcessing(ctx context.Context, asset *models.AssetRecord) error {
	const op = "gallery.MarkProcessing"

	l := g.lockFor(asset.GalleryID)
	l.Lock()
	defer l.Unlock()

	cur, err := g.store.GetAsset(ctx, asset.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if cur.State != models.AssetQueued {
		return nil
	}
	asset.State = models.AssetProcessing
	if err := g.store.UpdateAsset(ctx, asset); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AddReady records a terminal Ready asset and makes it visible in its
// gallery. Idempotent on asset id: a retried worker callback finds the
// record already terminal and changes nothing.
func (g *Aggregates) AddReady(ctx context.Context, asset *models.AssetRecord) error {
	const op = "gallery.AddReady"

	l := g.lockFor(asset.GalleryID)
	l.Lock()
	defer l.Unlock()

	cur, err := g.store.GetAsset(ctx, asset.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if cur.State.Terminal() {
		return nil
	}

	asset.State = models.AssetReady
	asset.ErrorReason = ""
	if err := g.store.UpdateAsset(ctx, asset); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	g.log.Info("photo added", "gallery_id", asset.GalleryID, "asset_id", asset.ID, "seq", asset.SequenceIndex)
	return nil
}

// RecordFailed records a terminal Failed asset. Failed assets never appear
// in the visible sequence; the record exists so status polls can report the
// reason. Idempotent like AddReady.
func (g *Aggregates) RecordFailed(ctx context.Context, asset *models.AssetRecord, reason string) error {
	const op = "gallery.RecordFailed"

	l := g.lockFor(asset.GalleryID)
	l.Lock()
	defer l.Unlock()

	cur, err := g.store.GetAsset(ctx, asset.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if cur.State.Terminal() {
		return nil
	}

	asset.State = models.AssetFailed
	asset.ErrorReason = reason
	if err := g.store.UpdateAsset(ctx, asset); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	g.log.Warn("photo failed", "gallery_id", asset.GalleryID, "asset_id", asset.ID, "reason", reason)
	return nil
}

// Remove hides a photo from its gallery. Removing an unknown or
// already-removed id succeeds: a delete racing a slow upload needs no
// coordination from the caller.
func (g *Aggregates) Remove(ctx context.Context, galleryID, assetID uuid.UUID) error {
	const op = "gallery.Remove"

	l := g.lockFor(galleryID)
	l.Lock()
	defer l.Unlock()

	if _, err := g.store.GetAsset(ctx, assetID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := g.store.MarkAssetRemoved(ctx, assetID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RefInUse reports whether any live photo still references the blob. Blobs
// are content-addressed, so photos with identical bytes share refs; deleting
// one photo must not destroy the other's files.
func (g *Aggregates) RefInUse(ctx context.Context, ref string) (bool, error) {
	const op = "gallery.RefInUse"

	n, err := g.store.CountAssetsWithRef(ctx, ref)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}

// List returns the visible photo sequence in submission order.
func (g *Aggregates) List(ctx context.Context, galleryID uuid.UUID) ([]*models.AssetRecord, error) {
	const op = "gallery.List"

	photos, err := g.store.ListGalleryPhotos(ctx, galleryID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return photos, nil
}

// View returns the gallery with its photos and counts the view.
func (g *Aggregates) View(ctx context.Context, galleryID uuid.UUID) (*models.Gallery, []*models.AssetRecord, error) {
	const op = "gallery.View"

	meta, err := g.store.GetGallery(ctx, galleryID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	photos, err := g.store.ListGalleryPhotos(ctx, galleryID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := g.store.IncrementGalleryViews(ctx, galleryID); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	meta.ViewCount++
	return meta, photos, nil
}
