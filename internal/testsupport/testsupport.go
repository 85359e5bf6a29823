// Package testsupport provides shared fixtures for the test suites: image
// bytes, a miniredis-backed status cache, and fake collaborators.
package testsupport

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"pixiset/internal/models"
	"pixiset/internal/statuscache"
)

// JPEGBytes returns an encoded JPEG of the given size.
func JPEGBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	return encode(t, w, h, imaging.JPEG)
}

// PNGBytes returns an encoded PNG of the given size.
func PNGBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	return encode(t, w, h, imaging.PNG)
}

func encode(t *testing.T, w, h int, format imaging.Format) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{uint8(x % 256), uint8(y % 256), 128, 255})
		}
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

// CorruptBytes is not decodable as any supported image format.
func CorruptBytes() []byte {
	return []byte("definitely not an image")
}

// NewCache returns a status cache backed by an in-process miniredis.
func NewCache(t *testing.T, ttl time.Duration) (*statuscache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return statuscache.New(rdb, ttl), mr
}

// Billing is a fake billing collaborator with a fixed remaining quota.
type Billing struct {
	Remaining int64
	Err       error
}

func (b *Billing) RemainingStorage(context.Context, uuid.UUID) (int64, error) {
	return b.Remaining, b.Err
}

// BuildRequest records one Enqueue call on the fake builder.
type BuildRequest struct {
	JobID     string
	WebsiteID uuid.UUID
	Snapshot  models.SiteSettings
}

// Builder is a fake build collaborator that records hand-offs and mints
// sequential job ids. Completion is driven by the test through the machine.
type Builder struct {
	mu       sync.Mutex
	requests []BuildRequest
	next     int
	NextErr  error
}

func (b *Builder) Enqueue(_ context.Context, websiteID uuid.UUID, snapshot models.SiteSettings) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NextErr != nil {
		err := b.NextErr
		b.NextErr = nil
		return "", err
	}
	b.next++
	req := BuildRequest{
		JobID:     fmt.Sprintf("job-%d", b.next),
		WebsiteID: websiteID,
		Snapshot:  snapshot,
	}
	b.requests = append(b.requests, req)
	return req.JobID, nil
}

// Requests returns a copy of the recorded hand-offs.
func (b *Builder) Requests() []BuildRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]BuildRequest, len(b.requests))
	copy(out, b.requests)
	return out
}
