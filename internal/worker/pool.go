package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pixiset/internal/gallery"
	"pixiset/internal/models"
)

// Job is one asset plus its source bytes, queued for processing.
type Job struct {
	Asset *models.AssetRecord
	Data  []byte
}

// SettleFunc is invoked after an asset reaches its terminal state and has
// been handed to the gallery aggregate.
type SettleFunc func(ctx context.Context, asset *models.AssetRecord)

// Pool processes assets with bounded concurrency. Dispatch never blocks on
// processing I/O; in-flight jobs always run to a terminal state, there is no
// cancel path.
type Pool struct {
	proc      *Processor
	galleries *gallery.Aggregates
	log       *slog.Logger

	workers int
	timeout time.Duration
	jobs    chan Job

	settleMu sync.RWMutex
	settle   SettleFunc

	stopMu  sync.RWMutex
	stopped bool

	wg      sync.WaitGroup
	started bool
}

// ErrStopped is returned by Dispatch after Stop.
var ErrStopped = errors.New("worker pool stopped")

func NewPool(proc *Processor, galleries *gallery.Aggregates, log *slog.Logger, workers int, timeout time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{
		proc:      proc,
		galleries: galleries,
		log:       log.With("component", "worker"),
		workers:   workers,
		timeout:   timeout,
		jobs:      make(chan Job, 1024),
	}
}

// SetOnSettled registers the terminal-transition callback. Must be called
// before Start.
func (p *Pool) SetOnSettled(fn SettleFunc) {
	p.settleMu.Lock()
	p.settle = fn
	p.settleMu.Unlock()
}

// Start launches the worker goroutines. The context bounds the pool's
// lifetime for logging only; queued jobs are drained on Stop.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

// Stop closes the queue and waits for in-flight and queued jobs to settle.
// Safe to call more than once.
func (p *Pool) Stop() {
	p.stopMu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.stopMu.Unlock()
	p.wg.Wait()
}

// Dispatch queues a job. Fire-and-forget: the caller observes completion via
// the settle callback, never a return value. The read lock holds off Stop so
// the send never races the channel close.
func (p *Pool) Dispatch(job Job) error {
	p.stopMu.RLock()
	defer p.stopMu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	p.jobs <- job
	return nil
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job Job) {
	asset := job.Asset

	// The worker is the sole writer of the record until it settles.
	asset.State = models.AssetProcessing
	if err := p.galleries.MarkProcessing(ctx, asset); err != nil {
		p.log.Error("mark processing", "asset_id", asset.ID, "error", err)
	}

	tctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	reason, perr := p.proc.Process(tctx, asset, job.Data)
	if reason == "" && tctx.Err() != nil {
		// Exceeding the per-asset timeout is a storage failure, not a hang.
		reason, perr = models.ReasonStorageError, tctx.Err()
	}

	// Terminal hand-off happens on a fresh context: shutdown must not leave
	// a half-written record behind.
	hctx, hcancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer hcancel()

	if reason == "" {
		if err := p.galleries.AddReady(hctx, asset); err != nil {
			p.log.Error("add ready", "asset_id", asset.ID, "error", err)
			return
		}
	} else {
		p.log.Warn("asset failed", "asset_id", asset.ID, "reason", reason, "error", perr)
		if err := p.galleries.RecordFailed(hctx, asset, reason); err != nil {
			p.log.Error("record failed", "asset_id", asset.ID, "error", err)
			return
		}
	}

	p.settleMu.RLock()
	settle := p.settle
	p.settleMu.RUnlock()
	if settle != nil {
		settle(hctx, asset)
	}
}
