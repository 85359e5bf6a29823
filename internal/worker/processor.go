// Package worker executes the per-asset transform: validate, derive a
// watermarked thumbnail, persist both blobs. A bounded pool drives the
// processors; each asset reaches exactly one terminal state.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/imaging"
	"github.com/golang/freetype"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"pixiset/internal/assetstore"
	"pixiset/internal/models"
)

// Processor turns source bytes into stored original + thumbnail refs. It is
// stateless and safe for concurrent use.
type Processor struct {
	blobs     assetstore.Store
	maxBytes  int64
	maxDimPx  int
	thumbPx   int
	watermark string
	font      *truetype.Font
}

func NewProcessor(blobs assetstore.Store, maxBytes int64, maxDimPx, thumbPx int, watermark string) (*Processor, error) {
	const op = "worker.NewProcessor"

	f, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Processor{
		blobs:     blobs,
		maxBytes:  maxBytes,
		maxDimPx:  maxDimPx,
		thumbPx:   thumbPx,
		watermark: watermark,
		font:      f,
	}, nil
}

// Process runs the transform and fills in the asset's refs. The returned
// reason is "" on success or one of the failure-reason constants; err carries
// the underlying cause for logging.
func (p *Processor) Process(ctx context.Context, asset *models.AssetRecord, data []byte) (reason string, err error) {
	if int64(len(data)) > p.maxBytes {
		return models.ReasonTooLarge, fmt.Errorf("source is %d bytes, limit %d", len(data), p.maxBytes)
	}

	src, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return models.ReasonInvalidFormat, err
	}
	bounds := src.Bounds()
	if bounds.Dx() > p.maxDimPx || bounds.Dy() > p.maxDimPx {
		return models.ReasonTooLarge, fmt.Errorf("source is %dx%d, limit %dpx", bounds.Dx(), bounds.Dy(), p.maxDimPx)
	}
	if err := ctx.Err(); err != nil {
		return models.ReasonStorageError, err
	}

	thumb := imaging.Thumbnail(src, p.thumbPx, p.thumbPx, imaging.Lanczos)
	marked, err := p.applyWatermark(thumb)
	if err != nil {
		return models.ReasonStorageError, err
	}

	var thumbBuf bytes.Buffer
	if err := imaging.Encode(&thumbBuf, marked, imaging.JPEG); err != nil {
		return models.ReasonStorageError, err
	}
	if err := ctx.Err(); err != nil {
		return models.ReasonStorageError, err
	}

	originalRef, err := p.blobs.Put(ctx, data)
	if err != nil {
		return models.ReasonStorageError, err
	}
	thumbRef, err := p.blobs.Put(ctx, thumbBuf.Bytes())
	if err != nil {
		return models.ReasonStorageError, err
	}

	asset.OriginalRef = originalRef
	asset.ThumbnailRef = thumbRef
	return "", nil
}

// applyWatermark draws the photographer's watermark text in the lower-left
// corner of a preview. Originals are never marked.
func (p *Processor) applyWatermark(img image.Image) (image.Image, error) {
	if p.watermark == "" {
		return img, nil
	}

	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, dst.Bounds(), img, img.Bounds().Min, draw.Src)

	size := float64(dst.Bounds().Dy()) / 16
	if size < 10 {
		size = 10
	}

	c := freetype.NewContext()
	c.SetFont(p.font)
	c.SetFontSize(size)
	c.SetClip(dst.Bounds())
	c.SetDst(dst)
	c.SetSrc(image.NewUniform(color.RGBA{255, 255, 255, 200}))

	margin := int(size) / 2
	pt := freetype.Pt(dst.Bounds().Min.X+margin, dst.Bounds().Max.Y-margin)
	if _, err := c.DrawString(p.watermark, pt); err != nil {
		return nil, err
	}
	return dst, nil
}
