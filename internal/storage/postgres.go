package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"pixiset/internal/models"
)

// Postgres implements Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	db   *sql.DB // for migrations
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	const op = "storage.NewPostgres"

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db := stdlib.OpenDBFromPool(pool)
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Postgres{pool: pool, db: db}, nil
}

func (s *Postgres) Close() {
	s.db.Close()
	s.pool.Close()
}

func (s *Postgres) CreateBatch(ctx context.Context, batch *models.UploadBatch, assets []*models.AssetRecord) error {
	const op = "storage.CreateBatch"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO upload_batches (id, gallery_id, submitted_count, created_at)
		 VALUES ($1, $2, $3, $4)`,
		batch.ID, batch.GalleryID, batch.SubmittedCount, batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	for _, a := range assets {
		_, err = tx.Exec(ctx,
			`INSERT INTO assets (id, batch_id, gallery_id, original_name, original_ref, thumbnail_ref,
			                     state, error_reason, sequence_index, size_bytes, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			a.ID, a.BatchID, a.GalleryID, a.OriginalName, a.OriginalRef, a.ThumbnailRef,
			a.State, a.ErrorReason, a.SequenceIndex, a.SizeBytes, a.CreatedAt)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Postgres) GetBatch(ctx context.Context, id uuid.UUID) (*models.UploadBatch, error) {
	const op = "storage.GetBatch"

	var b models.UploadBatch
	err := s.pool.QueryRow(ctx,
		`SELECT id, gallery_id, submitted_count, created_at FROM upload_batches WHERE id = $1`, id).
		Scan(&b.ID, &b.GalleryID, &b.SubmittedCount, &b.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &b, nil
}

func (s *Postgres) ListBatchAssets(ctx context.Context, batchID uuid.UUID) ([]*models.AssetRecord, error) {
	const op = "storage.ListBatchAssets"

	rows, err := s.pool.Query(ctx,
		assetColumns+` FROM assets WHERE batch_id = $1 ORDER BY sequence_index`, batchID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	return scanAssets(rows, op)
}

func (s *Postgres) DeleteBatch(ctx context.Context, id uuid.UUID) error {
	const op = "storage.DeleteBatch"

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM assets WHERE batch_id = $1 AND state = $2`, id, models.AssetFailed); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM upload_batches WHERE id = $1`, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Postgres) ListBatchesBefore(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	const op = "storage.ListBatchesBefore"

	rows, err := s.pool.Query(ctx, `SELECT id FROM upload_batches WHERE created_at < $1`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

const assetColumns = `SELECT id, batch_id, gallery_id, original_name, original_ref, thumbnail_ref,
       state, error_reason, sequence_index, size_bytes, created_at`

func scanAssets(rows pgx.Rows, op string) ([]*models.AssetRecord, error) {
	var out []*models.AssetRecord
	for rows.Next() {
		var a models.AssetRecord
		err := rows.Scan(&a.ID, &a.BatchID, &a.GalleryID, &a.OriginalName, &a.OriginalRef,
			&a.ThumbnailRef, &a.State, &a.ErrorReason, &a.SequenceIndex, &a.SizeBytes, &a.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *Postgres) GetAsset(ctx context.Context, id uuid.UUID) (*models.AssetRecord, error) {
	const op = "storage.GetAsset"

	var a models.AssetRecord
	err := s.pool.QueryRow(ctx, assetColumns+` FROM assets WHERE id = $1`, id).
		Scan(&a.ID, &a.BatchID, &a.GalleryID, &a.OriginalName, &a.OriginalRef,
			&a.ThumbnailRef, &a.State, &a.ErrorReason, &a.SequenceIndex, &a.SizeBytes, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &a, nil
}

func (s *Postgres) UpdateAsset(ctx context.Context, a *models.AssetRecord) error {
	const op = "storage.UpdateAsset"

	_, err := s.pool.Exec(ctx,
		`UPDATE assets SET original_ref = $2, thumbnail_ref = $3, state = $4, error_reason = $5
		 WHERE id = $1`,
		a.ID, a.OriginalRef, a.ThumbnailRef, a.State, a.ErrorReason)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Postgres) MarkAssetRemoved(ctx context.Context, id uuid.UUID) error {
	const op = "storage.MarkAssetRemoved"

	_, err := s.pool.Exec(ctx, `UPDATE assets SET removed = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Postgres) CountAssetsWithRef(ctx context.Context, ref string) (int, error) {
	const op = "storage.CountAssetsWithRef"

	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM assets
		 WHERE (original_ref = $1 OR thumbnail_ref = $1) AND NOT removed`, ref).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *Postgres) CreateGallery(ctx context.Context, g *models.Gallery) error {
	const op = "storage.CreateGallery"

	_, err := s.pool.Exec(ctx,
		`INSERT INTO galleries (id, owner_id, name, description, privacy, view_count, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		g.ID, g.OwnerID, g.Name, g.Description, g.Privacy, g.ViewCount, g.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Postgres) GetGallery(ctx context.Context, id uuid.UUID) (*models.Gallery, error) {
	const op = "storage.GetGallery"

	var g models.Gallery
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, description, privacy, view_count, created_at
		 FROM galleries WHERE id = $1`, id).
		Scan(&g.ID, &g.OwnerID, &g.Name, &g.Description, &g.Privacy, &g.ViewCount, &g.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &g, nil
}

func (s *Postgres) IncrementGalleryViews(ctx context.Context, id uuid.UUID) error {
	const op = "storage.IncrementGalleryViews"

	_, err := s.pool.Exec(ctx, `UPDATE galleries SET view_count = view_count + 1 WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Postgres) ListGalleryPhotos(ctx context.Context, galleryID uuid.UUID) ([]*models.AssetRecord, error) {
	const op = "storage.ListGalleryPhotos"

	rows, err := s.pool.Query(ctx,
		assetColumns+` FROM assets
		 WHERE gallery_id = $1 AND state = $2 AND NOT removed
		 ORDER BY created_at, sequence_index`, galleryID, models.AssetReady)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()
	return scanAssets(rows, op)
}

func (s *Postgres) CreateWebsite(ctx context.Context, w *models.Website) error {
	const op = "storage.CreateWebsite"

	draft, live, pending, err := marshalSettings(w)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO websites (id, draft_settings, live_settings, publish_state, build_status,
		                       pending_job_id, pending_settings, published_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		w.ID, draft, live, w.PublishState, w.BuildStatus, w.PendingJobID, pending, w.PublishedAt, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Postgres) GetWebsite(ctx context.Context, id uuid.UUID) (*models.Website, error) {
	const op = "storage.GetWebsite"
	return s.queryWebsite(ctx, op, `WHERE id = $1`, id)
}

func (s *Postgres) FindWebsiteByPendingJob(ctx context.Context, jobID string) (*models.Website, error) {
	const op = "storage.FindWebsiteByPendingJob"
	return s.queryWebsite(ctx, op, `WHERE pending_job_id = $1`, jobID)
}

func (s *Postgres) queryWebsite(ctx context.Context, op, where string, arg any) (*models.Website, error) {
	var (
		w       models.Website
		draft   []byte
		live    []byte
		pending []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, draft_settings, live_settings, publish_state, build_status,
		        pending_job_id, pending_settings, published_at, created_at
		 FROM websites `+where, arg).
		Scan(&w.ID, &draft, &live, &w.PublishState, &w.BuildStatus,
			&w.PendingJobID, &pending, &w.PublishedAt, &w.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(draft, &w.DraftSettings); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if w.LiveSettings, err = unmarshalSettings(live); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if w.PendingSettings, err = unmarshalSettings(pending); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &w, nil
}

func unmarshalSettings(data []byte) (*models.SiteSettings, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var settings models.SiteSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Postgres) UpdateWebsite(ctx context.Context, w *models.Website) error {
	const op = "storage.UpdateWebsite"

	draft, live, pending, err := marshalSettings(w)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	_, err = s.pool.Exec(ctx,
		`UPDATE websites SET draft_settings = $2, live_settings = $3, publish_state = $4,
		        build_status = $5, pending_job_id = $6, pending_settings = $7, published_at = $8
		 WHERE id = $1`,
		w.ID, draft, live, w.PublishState, w.BuildStatus, w.PendingJobID, pending, w.PublishedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func marshalSettings(w *models.Website) (draft, live, pending []byte, err error) {
	draft, err = json.Marshal(w.DraftSettings)
	if err != nil {
		return nil, nil, nil, err
	}
	if w.LiveSettings != nil {
		if live, err = json.Marshal(w.LiveSettings); err != nil {
			return nil, nil, nil, err
		}
	}
	if w.PendingSettings != nil {
		if pending, err = json.Marshal(w.PendingSettings); err != nil {
			return nil, nil, nil, err
		}
	}
	return draft, live, pending, nil
}
