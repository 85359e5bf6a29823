// Package publish owns the website draft→publish lifecycle. The per-website
// lock plus a state check is the compare-and-swap that keeps at most one
// build in flight per site; the Build collaborator runs asynchronously and
// reports back through HandleBuildResult.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"pixiset/internal/models"
	"pixiset/internal/statuscache"
	"pixiset/internal/storage"
)

// Builder is the external build service. Enqueue hands off a settings
// snapshot and returns a job id; completion arrives later via
// HandleBuildResult.
type Builder interface {
	Enqueue(ctx context.Context, websiteID uuid.UUID, snapshot models.SiteSettings) (jobID string, err error)
}

// Options tunes the machine. BuildTimeout of zero disables the watchdog.
type Options struct {
	BuildTimeout time.Duration
}

type Machine struct {
	store   storage.Store
	cache   *statuscache.Cache
	builder Builder
	log     *slog.Logger
	opts    Options

	mu     sync.Mutex
	locks  map[uuid.UUID]*sync.Mutex
	timers map[string]*time.Timer
}

func New(store storage.Store, cache *statuscache.Cache, builder Builder, log *slog.Logger, opts Options) *Machine {
	return &Machine{
		store:   store,
		cache:   cache,
		builder: builder,
		log:     log.With("component", "publish"),
		opts:    opts,
		locks:   make(map[uuid.UUID]*sync.Mutex),
		timers:  make(map[string]*time.Timer),
	}
}

func (m *Machine) lockFor(websiteID uuid.UUID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[websiteID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[websiteID] = l
	}
	return l
}

// Create registers a new website in Draft state.
func (m *Machine) Create(ctx context.Context, settings models.SiteSettings) (*models.Website, error) {
	const op = "publish.Create"

	w := &models.Website{
		ID:            uuid.New(),
		DraftSettings: settings,
		PublishState:  models.PublishDraft,
		CreatedAt:     time.Now().UTC(),
	}
	if err := m.store.CreateWebsite(ctx, w); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return w, nil
}

// EditDraft applies a last-write-wins draft update. Allowed in every publish
// state; an in-flight build keeps its own snapshot and is unaffected.
func (m *Machine) EditDraft(ctx context.Context, websiteID uuid.UUID, settings models.SiteSettings) (*models.Website, error) {
	const op = "publish.EditDraft"

	l := m.lockFor(websiteID)
	l.Lock()
	defer l.Unlock()

	w, err := m.store.GetWebsite(ctx, websiteID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	w.DraftSettings = settings
	if err := m.store.UpdateWebsite(ctx, w); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return w, nil
}

// RequestPublish starts a build for the current draft. The only rejection is
// ErrAlreadyPublishing: exactly one of two concurrent requests wins.
func (m *Machine) RequestPublish(ctx context.Context, websiteID uuid.UUID) (*models.Website, error) {
	const op = "publish.RequestPublish"

	l := m.lockFor(websiteID)
	l.Lock()
	defer l.Unlock()

	w, err := m.store.GetWebsite(ctx, websiteID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if w.PublishState == models.PublishPublishing {
		return nil, fmt.Errorf("%s: website %s: %w", op, websiteID, models.ErrAlreadyPublishing)
	}

	snapshot := w.DraftSettings
	jobID, err := m.builder.Enqueue(ctx, websiteID, snapshot)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	w.PublishState = models.PublishPublishing
	w.BuildStatus = "queued"
	w.PendingJobID = jobID
	w.PendingSettings = &snapshot
	if err := m.store.UpdateWebsite(ctx, w); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	m.putSnapshot(ctx, w)
	m.armTimeout(jobID)

	m.log.Info("publish accepted", "website_id", websiteID, "job_id", jobID)
	return w, nil
}

// HandleBuildResult completes the in-flight publish for the job. Stale or
// duplicate callbacks (unknown job, job superseded) are dropped: a website
// leaves Publishing exactly once per accepted request.
func (m *Machine) HandleBuildResult(ctx context.Context, jobID string, success bool, reason string) error {
	const op = "publish.HandleBuildResult"

	w, err := m.store.FindWebsiteByPendingJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			m.log.Debug("stale build result dropped", "job_id", jobID)
			return nil
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	l := m.lockFor(w.ID)
	l.Lock()
	defer l.Unlock()

	// Re-read under the lock; the first of a racing callback pair wins.
	w, err = m.store.GetWebsite(ctx, w.ID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if w.PublishState != models.PublishPublishing || w.PendingJobID != jobID {
		return nil
	}

	m.disarmTimeout(jobID)

	if success {
		now := time.Now().UTC()
		w.LiveSettings = w.PendingSettings
		w.PublishState = models.PublishLive
		w.PublishedAt = &now
		w.BuildStatus = ""
		m.log.Info("site live", "website_id", w.ID, "job_id", jobID, "url", w.PublishedURL())
	} else {
		if reason == "" {
			reason = "BuildFailed"
		}
		w.PublishState = models.PublishFailed
		w.BuildStatus = reason
		m.log.Warn("build failed", "website_id", w.ID, "job_id", jobID, "reason", reason)
	}
	w.PendingJobID = ""
	w.PendingSettings = nil

	if err := m.store.UpdateWebsite(ctx, w); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	m.putSnapshot(ctx, w)
	return nil
}

// GetWebsite returns the authoritative record.
func (m *Machine) GetWebsite(ctx context.Context, websiteID uuid.UUID) (*models.Website, error) {
	const op = "publish.GetWebsite"

	w, err := m.store.GetWebsite(ctx, websiteID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return w, nil
}

// GetWebsiteStatus serves the poll surface: cache first, store on miss.
func (m *Machine) GetWebsiteStatus(ctx context.Context, websiteID uuid.UUID) (statuscache.WebsiteSnapshot, error) {
	const op = "publish.GetWebsiteStatus"

	snap, err := m.cache.GetWebsite(ctx, websiteID)
	if errors.Is(err, statuscache.ErrMiss) {
		w, werr := m.store.GetWebsite(ctx, websiteID)
		if werr != nil {
			return statuscache.WebsiteSnapshot{}, fmt.Errorf("%s: %w", op, werr)
		}
		snap = snapshotOf(w)
		if perr := m.cache.PutWebsite(ctx, snap); perr != nil {
			m.log.Warn("status snapshot write failed", "website_id", websiteID, "error", perr)
		}
		return snap, nil
	}
	if err != nil {
		return statuscache.WebsiteSnapshot{}, fmt.Errorf("%s: %w", op, err)
	}
	return snap, nil
}

func (m *Machine) putSnapshot(ctx context.Context, w *models.Website) {
	if err := m.cache.PutWebsite(ctx, snapshotOf(w)); err != nil {
		m.log.Warn("status snapshot write failed", "website_id", w.ID, "error", err)
	}
}

func snapshotOf(w *models.Website) statuscache.WebsiteSnapshot {
	return statuscache.WebsiteSnapshot{
		WebsiteID:    w.ID,
		PublishState: string(w.PublishState),
		BuildStatus:  w.BuildStatus,
	}
}

func (m *Machine) armTimeout(jobID string) {
	if m.opts.BuildTimeout <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[jobID] = time.AfterFunc(m.opts.BuildTimeout, func() {
		// HandleBuildResult drops the timeout if a real callback won.
		if err := m.HandleBuildResult(context.Background(), jobID, false, "build timed out"); err != nil {
			m.log.Error("timeout handling failed", "job_id", jobID, "error", err)
		}
	})
}

func (m *Machine) disarmTimeout(jobID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.timers[jobID]; ok {
		t.Stop()
		delete(m.timers, jobID)
	}
}
