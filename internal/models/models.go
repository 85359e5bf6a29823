// Package models holds the shared data model for the ingestion and publish
// cores: upload batches, asset records, galleries, photos, and websites.
//
// State enums here are the single source of truth for lifecycle semantics.
// Asset and publish states are terminal-once: code that transitions records
// must go through the owning component (worker pool, publish machine), never
// flip these fields directly.
package models

import (
	"time"

	"github.com/google/uuid"
)

// AssetState represents the lifecycle of one uploaded asset.
type AssetState string

const (
	AssetQueued     AssetState = "queued"
	AssetProcessing AssetState = "processing"
	AssetReady      AssetState = "ready"
	AssetFailed     AssetState = "failed"
)

// Terminal reports whether no further transition may occur.
func (s AssetState) Terminal() bool {
	return s == AssetReady || s == AssetFailed
}

// Failure reasons recorded on a Failed asset. These are part of the poll
// surface contract, not internal strings.
const (
	ReasonInvalidFormat = "InvalidFormat"
	ReasonTooLarge      = "TooLarge"
	ReasonStorageError  = "StorageError"
)

// UploadBatch groups one client submission of files for a gallery.
type UploadBatch struct {
	ID             uuid.UUID
	GalleryID      uuid.UUID
	SubmittedCount int
	CreatedAt      time.Time
}

// AssetRecord is one file inside a batch. SequenceIndex fixes display order
// at submission time; completion order never reorders a gallery.
type AssetRecord struct {
	ID            uuid.UUID
	BatchID       uuid.UUID
	GalleryID     uuid.UUID
	OriginalName  string
	OriginalRef   string
	ThumbnailRef  string
	State         AssetState
	ErrorReason   string
	SequenceIndex int
	SizeBytes     int64
	CreatedAt     time.Time
}

// Gallery is the client-facing photo collection.
type Gallery struct {
	ID          uuid.UUID
	OwnerID     uuid.UUID
	Name        string
	Description string
	Privacy     string // "public" or "private"
	ViewCount   int64
	CreatedAt   time.Time
}

// PublishState represents the lifecycle of a website's publish workflow.
type PublishState string

const (
	PublishDraft      PublishState = "draft"
	PublishPublishing PublishState = "publishing"
	PublishLive       PublishState = "live"
	PublishFailed     PublishState = "failed"
)

// SiteSettings is the website builder form: identity plus design choices.
type SiteSettings struct {
	Name         string `json:"name"`
	Slug         string `json:"slug"`
	LogoURL      string `json:"logoUrl"`
	PrimaryColor string `json:"primaryColor"`
	FontFamily   string `json:"fontFamily"`
	Layout       string `json:"layout"`
}

// Website carries a draft settings document that the owner edits freely and a
// live settings document replaced only by a successful publish.
type Website struct {
	ID            uuid.UUID
	DraftSettings SiteSettings
	LiveSettings  *SiteSettings
	PublishState  PublishState
	BuildStatus   string
	// PendingJobID and PendingSettings exist only while a build is in
	// flight: the settings snapshot taken at request time, insulated from
	// later draft edits.
	PendingJobID    string
	PendingSettings *SiteSettings
	PublishedAt     *time.Time
	CreatedAt       time.Time
}

// PublishedURL returns the public address for a live site, or "" while the
// site has never gone live.
func (w *Website) PublishedURL() string {
	if w.LiveSettings == nil || w.LiveSettings.Slug == "" {
		return ""
	}
	return "https://" + w.LiveSettings.Slug + ".pixiset.app"
}
