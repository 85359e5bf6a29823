// Package storage persists batches, assets, galleries, and websites. The
// Postgres implementation is the durable system of record; tests use the
// in-memory implementation under storage/memstore.
package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pixiset/internal/models"
)

// Store is the persistence boundary shared by the ingestion, gallery, and
// publish components. Implementations must make CreateBatch atomic: either
// the batch and all its asset rows exist, or none do.
type Store interface {
	CreateBatch(ctx context.Context, batch *models.UploadBatch, assets []*models.AssetRecord) error
	GetBatch(ctx context.Context, id uuid.UUID) (*models.UploadBatch, error)
	ListBatchAssets(ctx context.Context, batchID uuid.UUID) ([]*models.AssetRecord, error)
	// DeleteBatch removes the batch row and its failed asset rows. Ready
	// assets stay: they are gallery membership, not batch bookkeeping.
	DeleteBatch(ctx context.Context, id uuid.UUID) error
	ListBatchesBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)

	GetAsset(ctx context.Context, id uuid.UUID) (*models.AssetRecord, error)
	// UpdateAsset persists the processing fields of an asset record: state,
	// error reason, and store refs.
	UpdateAsset(ctx context.Context, asset *models.AssetRecord) error
	// MarkAssetRemoved hides an asset from its gallery. Removing an unknown
	// or already-removed id is a no-op.
	MarkAssetRemoved(ctx context.Context, id uuid.UUID) error
	// CountAssetsWithRef counts non-removed assets whose original or
	// thumbnail points at the blob ref. Refs are content addresses, so
	// photos with identical bytes share them.
	CountAssetsWithRef(ctx context.Context, ref string) (int, error)

	CreateGallery(ctx context.Context, g *models.Gallery) error
	GetGallery(ctx context.Context, id uuid.UUID) (*models.Gallery, error)
	IncrementGalleryViews(ctx context.Context, id uuid.UUID) error
	// ListGalleryPhotos returns the visible photo sequence: ready, not
	// removed, ordered by submission (batch creation time, then sequence
	// index within the batch).
	ListGalleryPhotos(ctx context.Context, galleryID uuid.UUID) ([]*models.AssetRecord, error)

	CreateWebsite(ctx context.Context, w *models.Website) error
	GetWebsite(ctx context.Context, id uuid.UUID) (*models.Website, error)
	UpdateWebsite(ctx context.Context, w *models.Website) error
	FindWebsiteByPendingJob(ctx context.Context, jobID string) (*models.Website, error)
}
