package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"pixiset/internal/ingest"
	"pixiset/internal/models"
)

type photoView struct {
	ID            string `json:"id"`
	OriginalName  string `json:"originalName"`
	OriginalURL   string `json:"originalUrl"`
	ThumbnailURL  string `json:"thumbnailUrl"`
	SequenceIndex int    `json:"sequenceIndex"`
}

func photoViewOf(a *models.AssetRecord) photoView {
	return photoView{
		ID:            a.ID.String(),
		OriginalName:  a.OriginalName,
		OriginalURL:   "/files/" + a.OriginalRef,
		ThumbnailURL:  "/files/" + a.ThumbnailRef,
		SequenceIndex: a.SequenceIndex,
	}
}

func (s *Server) handleUploadBatch(c *gin.Context) {
	const op = "server.handleUploadBatch"

	galleryID, ok := parseID(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	headers := form.File["photos"]

	files := make([]ingest.FileUpload, 0, len(headers))
	for _, h := range headers {
		src, err := h.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		data, err := io.ReadAll(src)
		src.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		files = append(files, ingest.FileUpload{Name: h.Filename, Data: data})
	}

	batch, err := s.orch.Submit(c.Request.Context(), accountID(c), galleryID, files)
	if err != nil {
		s.log.Warn("submit rejected", "op", op, "gallery_id", galleryID, "error", err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batchId":        batch.ID.String(),
		"submittedCount": batch.SubmittedCount,
	})
}

func (s *Server) handleGetBatchStatus(c *gin.Context) {
	batchID, ok := parseID(c)
	if !ok {
		return
	}
	snap, err := s.orch.GetBatchStatus(c.Request.Context(), batchID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) handleGetGallery(c *gin.Context) {
	galleryID, ok := parseID(c)
	if !ok {
		return
	}
	meta, photos, err := s.galleries.View(c.Request.Context(), galleryID)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]photoView, 0, len(photos))
	for _, p := range photos {
		views = append(views, photoViewOf(p))
	}
	c.JSON(http.StatusOK, gin.H{
		"id":          meta.ID.String(),
		"name":        meta.Name,
		"description": meta.Description,
		"privacy":     meta.Privacy,
		"viewCount":   meta.ViewCount,
		"photos":      views,
	})
}

func (s *Server) handleDeletePhoto(c *gin.Context) {
	assetID, ok := parseID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	// Removal is idempotent: an unknown id still answers 204 so a delete
	// racing a slow upload needs no coordination.
	asset, err := s.orch.GetAsset(ctx, assetID)
	if err != nil {
		c.Status(http.StatusNoContent)
		return
	}
	if err := s.galleries.Remove(ctx, asset.GalleryID, assetID); err != nil {
		writeError(c, err)
		return
	}
	for _, ref := range []string{asset.OriginalRef, asset.ThumbnailRef} {
		if ref == "" {
			continue
		}
		used, err := s.galleries.RefInUse(ctx, ref)
		if err != nil {
			s.log.Warn("ref check failed", "asset_id", assetID, "ref", ref, "error", err)
			continue
		}
		if used {
			// Another photo with identical bytes shares the blob.
			continue
		}
		if err := s.blobs.Delete(ctx, ref); err != nil {
			s.log.Warn("blob delete failed", "asset_id", assetID, "ref", ref, "error", err)
		}
	}
	c.Status(http.StatusNoContent)
}
