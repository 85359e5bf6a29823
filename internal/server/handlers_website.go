package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"pixiset/internal/models"
)

func (s *Server) handleCreateWebsite(c *gin.Context) {
	var settings models.SiteSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := s.machine.Create(c.Request.Context(), settings)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, websiteView(w))
}

func (s *Server) handleGetWebsite(c *gin.Context) {
	websiteID, ok := parseID(c)
	if !ok {
		return
	}
	w, err := s.machine.GetWebsite(c.Request.Context(), websiteID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, websiteView(w))
}

func (s *Server) handleEditDraft(c *gin.Context) {
	websiteID, ok := parseID(c)
	if !ok {
		return
	}
	var settings models.SiteSettings
	if err := c.ShouldBindJSON(&settings); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w, err := s.machine.EditDraft(c.Request.Context(), websiteID, settings)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, websiteView(w))
}

func (s *Server) handleRequestPublish(c *gin.Context) {
	websiteID, ok := parseID(c)
	if !ok {
		return
	}
	w, err := s.machine.RequestPublish(c.Request.Context(), websiteID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, websiteView(w))
}

func (s *Server) handleGetWebsiteStatus(c *gin.Context) {
	websiteID, ok := parseID(c)
	if !ok {
		return
	}
	snap, err := s.machine.GetWebsiteStatus(c.Request.Context(), websiteID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

func websiteView(w *models.Website) gin.H {
	view := gin.H{
		"id":            w.ID.String(),
		"draftSettings": w.DraftSettings,
		"publishState":  string(w.PublishState),
	}
	if w.BuildStatus != "" {
		view["buildStatus"] = w.BuildStatus
	}
	if w.LiveSettings != nil {
		view["liveSettings"] = w.LiveSettings
		view["publishedUrl"] = w.PublishedURL()
	}
	if w.PublishedAt != nil {
		view["publishedAt"] = w.PublishedAt
	}
	return view
}
