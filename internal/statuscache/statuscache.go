// Package statuscache is the pollable read model for batch and website
// status. It is never the system of record: entries are JSON snapshots in
// Redis with a sliding TTL, last write wins per key.
package statuscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pixiset/internal/models"
)

// ErrMiss is returned when a key has no live snapshot; callers fall back to
// the authoritative aggregate.
var ErrMiss = errors.New("status cache miss")

// AssetStatus is the per-asset line in a batch snapshot.
type AssetStatus struct {
	AssetID       uuid.UUID `json:"assetId"`
	State         string    `json:"state"`
	ErrorReason   string    `json:"errorReason,omitempty"`
	SequenceIndex int       `json:"sequenceIndex"`
}

// BatchSnapshot is what a poller sees for one upload batch.
type BatchSnapshot struct {
	BatchID   uuid.UUID      `json:"batchId"`
	GalleryID uuid.UUID      `json:"galleryId"`
	Counts    map[string]int `json:"counts"`
	Assets    []AssetStatus  `json:"assets"`
	Settled   bool           `json:"settled"`
}

// WebsiteSnapshot is what a poller sees for one website.
type WebsiteSnapshot struct {
	WebsiteID    uuid.UUID `json:"websiteId"`
	PublishState string    `json:"publishState"`
	BuildStatus  string    `json:"buildStatus,omitempty"`
}

// BatchSnapshotOf builds a snapshot from a batch's asset records.
func BatchSnapshotOf(batchID, galleryID uuid.UUID, assets []*models.AssetRecord) BatchSnapshot {
	snap := BatchSnapshot{
		BatchID:   batchID,
		GalleryID: galleryID,
		Counts:    make(map[string]int, 4),
		Assets:    make([]AssetStatus, 0, len(assets)),
		Settled:   true,
	}
	for _, a := range assets {
		snap.Counts[string(a.State)]++
		if !a.State.Terminal() {
			snap.Settled = false
		}
		snap.Assets = append(snap.Assets, AssetStatus{
			AssetID:       a.ID,
			State:         string(a.State),
			ErrorReason:   a.ErrorReason,
			SequenceIndex: a.SequenceIndex,
		})
	}
	return snap
}

// Cache stores snapshots in Redis with a sliding TTL: each write and each
// read pushes eviction out by the configured TTL.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func New(rdb *redis.Client, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

func (c *Cache) PutBatch(ctx context.Context, snap BatchSnapshot) error {
	return c.put(ctx, batchKey(snap.BatchID), snap)
}

func (c *Cache) GetBatch(ctx context.Context, batchID uuid.UUID) (BatchSnapshot, error) {
	var snap BatchSnapshot
	err := c.get(ctx, batchKey(batchID), &snap)
	return snap, err
}

func (c *Cache) PutWebsite(ctx context.Context, snap WebsiteSnapshot) error {
	return c.put(ctx, websiteKey(snap.WebsiteID), snap)
}

func (c *Cache) GetWebsite(ctx context.Context, websiteID uuid.UUID) (WebsiteSnapshot, error) {
	var snap WebsiteSnapshot
	err := c.get(ctx, websiteKey(websiteID), &snap)
	return snap, err
}

func (c *Cache) put(ctx context.Context, key string, v any) error {
	const op = "statuscache.put"

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (c *Cache) get(ctx context.Context, key string, dst any) error {
	const op = "statuscache.get"

	data, err := c.rdb.GetEx(ctx, key, c.ttl).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func batchKey(id uuid.UUID) string   { return "status:batch:" + id.String() }
func websiteKey(id uuid.UUID) string { return "status:website:" + id.String() }
