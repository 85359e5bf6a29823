// Package assetstore is the boundary to durable blob storage for originals
// and derived thumbnails. Refs are content addresses; blobs are never
// mutated in place.
package assetstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when a ref has no blob behind it.
var ErrNotFound = errors.New("asset blob not found")

// Store is a content-addressed blob store. Put returns the ref for the
// written bytes; writing the same bytes twice yields the same ref.
type Store interface {
	Put(ctx context.Context, data []byte) (ref string, err error)
	Get(ctx context.Context, ref string) ([]byte, error)
	Delete(ctx context.Context, ref string) error
}

// Disk stores blobs under a root directory, fanned out by the first two hex
// characters of the ref.
type Disk struct {
	root string
}

var _ Store = (*Disk)(nil)

func NewDisk(root string) (*Disk, error) {
	const op = "assetstore.NewDisk"
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Disk{root: root}, nil
}

func (d *Disk) Put(ctx context.Context, data []byte) (string, error) {
	const op = "assetstore.Put"

	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])

	path := d.path(ref)
	if _, err := os.Stat(path); err == nil {
		return ref, nil // identical content already stored
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	// Write to a temp file and rename so a crashed write never leaves a
	// partial blob behind a valid ref.
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return ref, nil
}

func (d *Disk) Get(ctx context.Context, ref string) ([]byte, error) {
	const op = "assetstore.Get"

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	data, err := os.ReadFile(d.path(ref))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return data, nil
}

func (d *Disk) Delete(ctx context.Context, ref string) error {
	const op = "assetstore.Delete"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err := os.Remove(d.path(ref))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (d *Disk) path(ref string) string {
	if len(ref) < 2 {
		return filepath.Join(d.root, ref)
	}
	return filepath.Join(d.root, ref[:2], ref)
}
