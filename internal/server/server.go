// Package server exposes the HTTP surface: batch upload, the poll endpoints,
// gallery reads, and the website publish workflow.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pixiset/internal/account"
	"pixiset/internal/assetstore"
	"pixiset/internal/gallery"
	"pixiset/internal/ingest"
	"pixiset/internal/models"
	"pixiset/internal/publish"
)

type Server struct {
	router    *gin.Engine
	http      *http.Server
	orch      *ingest.Orchestrator
	galleries *gallery.Aggregates
	machine   *publish.Machine
	blobs     assetstore.Store
	accounts  account.Accounts
	log       *slog.Logger
}

func New(addr string, orch *ingest.Orchestrator, galleries *gallery.Aggregates, machine *publish.Machine,
	blobs assetstore.Store, accounts account.Accounts, log *slog.Logger) *Server {

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{
		router:    r,
		http:      &http.Server{Addr: addr, Handler: r},
		orch:      orch,
		galleries: galleries,
		machine:   machine,
		blobs:     blobs,
		accounts:  accounts,
		log:       log.With("component", "server"),
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/files/:ref", s.handleGetBlob)
	r.POST("/internal/build/callback", s.handleBuildCallback)

	api := r.Group("/api", s.authorize)
	{
		api.POST("/galleries/:id/photos", s.handleUploadBatch)
		api.GET("/galleries/:id", s.handleGetGallery)
		api.GET("/batches/:id", s.handleGetBatchStatus)
		api.DELETE("/photos/:id", s.handleDeletePhoto)

		api.POST("/websites", s.handleCreateWebsite)
		api.GET("/websites/:id", s.handleGetWebsite)
		api.PUT("/websites/:id/settings", s.handleEditDraft)
		api.POST("/websites/:id/publish", s.handleRequestPublish)
		api.GET("/websites/:id/status", s.handleGetWebsiteStatus)
	}

	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Start() error {
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// authorize resolves the bearer token to an account once, at the boundary.
// Handlers read the account id from the context instead of re-checking.
func (s *Server) authorize(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	accountID, err := s.accounts.Authorize(c.Request.Context(), token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set("accountID", accountID)
	c.Next()
}

func accountID(c *gin.Context) uuid.UUID {
	id, _ := c.MustGet("accountID").(uuid.UUID)
	return id
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}

// writeError maps the error taxonomy onto status codes.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrQuotaExceeded):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "QuotaExceeded"})
	case errors.Is(err, models.ErrAlreadyPublishing):
		c.JSON(http.StatusConflict, gin.H{"error": "AlreadyPublishing"})
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, ingest.ErrEmptyBatch):
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty batch"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleGetBlob(c *gin.Context) {
	data, err := s.blobs.Get(c.Request.Context(), c.Param("ref"))
	if errors.Is(err, assetstore.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, http.DetectContentType(data), data)
}

func (s *Server) handleBuildCallback(c *gin.Context) {
	var result publish.BuildResult
	if err := c.ShouldBindJSON(&result); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if result.JobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "jobId required"})
		return
	}
	if err := s.machine.HandleBuildResult(c.Request.Context(), result.JobID, result.Success, result.Reason); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
