// Package memstore implements storage.Store in memory. It backs the test
// suites and keeps the same semantics as the Postgres store: atomic batch
// creation, idempotent removal, submission-ordered photo listings.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pixiset/internal/models"
	"pixiset/internal/storage"
)

type Store struct {
	mu       sync.RWMutex
	batches  map[uuid.UUID]*models.UploadBatch
	assets   map[uuid.UUID]*models.AssetRecord
	removed  map[uuid.UUID]bool
	gallerys map[uuid.UUID]*models.Gallery
	websites map[uuid.UUID]*models.Website
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		batches:  make(map[uuid.UUID]*models.UploadBatch),
		assets:   make(map[uuid.UUID]*models.AssetRecord),
		removed:  make(map[uuid.UUID]bool),
		gallerys: make(map[uuid.UUID]*models.Gallery),
		websites: make(map[uuid.UUID]*models.Website),
	}
}

func (s *Store) CreateBatch(_ context.Context, batch *models.UploadBatch, assets []*models.AssetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := *batch
	s.batches[b.ID] = &b
	for _, a := range assets {
		cp := *a
		s.assets[cp.ID] = &cp
	}
	return nil
}

func (s *Store) GetBatch(_ context.Context, id uuid.UUID) (*models.UploadBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *Store) ListBatchAssets(_ context.Context, batchID uuid.UUID) ([]*models.AssetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AssetRecord
	for _, a := range s.assets {
		if a.BatchID == batchID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceIndex < out[j].SequenceIndex })
	return out, nil
}

func (s *Store) DeleteBatch(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.batches, id)
	for aid, a := range s.assets {
		if a.BatchID == id && a.State == models.AssetFailed {
			delete(s.assets, aid)
		}
	}
	return nil
}

func (s *Store) ListBatchesBefore(_ context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for id, b := range s.batches {
		if b.CreatedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *Store) GetAsset(_ context.Context, id uuid.UUID) (*models.AssetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assets[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) UpdateAsset(_ context.Context, a *models.AssetRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.assets[a.ID]
	if !ok {
		return models.ErrNotFound
	}
	cur.OriginalRef = a.OriginalRef
	cur.ThumbnailRef = a.ThumbnailRef
	cur.State = a.State
	cur.ErrorReason = a.ErrorReason
	return nil
}

func (s *Store) MarkAssetRemoved(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed[id] = true
	return nil
}

func (s *Store) CountAssetsWithRef(_ context.Context, ref string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.assets {
		if s.removed[a.ID] {
			continue
		}
		if a.OriginalRef == ref || a.ThumbnailRef == ref {
			n++
		}
	}
	return n, nil
}

func (s *Store) CreateGallery(_ context.Context, g *models.Gallery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.gallerys[cp.ID] = &cp
	return nil
}

func (s *Store) GetGallery(_ context.Context, id uuid.UUID) (*models.Gallery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gallerys[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (s *Store) IncrementGalleryViews(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gallerys[id]
	if !ok {
		return models.ErrNotFound
	}
	g.ViewCount++
	return nil
}

func (s *Store) ListGalleryPhotos(_ context.Context, galleryID uuid.UUID) ([]*models.AssetRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.AssetRecord
	for _, a := range s.assets {
		if a.GalleryID == galleryID && a.State == models.AssetReady && !s.removed[a.ID] {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].SequenceIndex < out[j].SequenceIndex
	})
	return out, nil
}

func (s *Store) CreateWebsite(_ context.Context, w *models.Website) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneWebsite(w)
	s.websites[cp.ID] = cp
	return nil
}

func (s *Store) GetWebsite(_ context.Context, id uuid.UUID) (*models.Website, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.websites[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return cloneWebsite(w), nil
}

func (s *Store) UpdateWebsite(_ context.Context, w *models.Website) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.websites[w.ID]; !ok {
		return models.ErrNotFound
	}
	s.websites[w.ID] = cloneWebsite(w)
	return nil
}

func (s *Store) FindWebsiteByPendingJob(_ context.Context, jobID string) (*models.Website, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, w := range s.websites {
		if w.PendingJobID == jobID {
			return cloneWebsite(w), nil
		}
	}
	return nil, models.ErrNotFound
}

func cloneWebsite(w *models.Website) *models.Website {
	cp := *w
	if w.LiveSettings != nil {
		live := *w.LiveSettings
		cp.LiveSettings = &live
	}
	if w.PendingSettings != nil {
		pending := *w.PendingSettings
		cp.PendingSettings = &pending
	}
	if w.PublishedAt != nil {
		at := *w.PublishedAt
		cp.PublishedAt = &at
	}
	return &cp
}
