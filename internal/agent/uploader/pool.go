// Package uploader runs the bounded worker pool that drives the storage
// adapter. Workers never query the store themselves: they only process
// attachments the queue's claim operation leased to them, which is what
// rules out duplicate uploads.
package uploader

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fieldtrace/mediasync/internal/agent/models"
	"github.com/fieldtrace/mediasync/internal/agent/queue"
	"github.com/fieldtrace/mediasync/internal/agent/storage"
	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/logging"
)

// Config bounds the pool.
type Config struct {
	// Workers is the number of concurrent upload workers. Kept small to
	// bound bandwidth and battery use.
	Workers int

	// BatchSize is how many attachments one wake-up claims at a time.
	BatchSize int

	// Interval is the periodic wake-up; Kick wakes the pool early.
	Interval time.Duration

	// CallTimeout bounds each network call. A timeout is a retryable
	// failure and counts toward the retry budget.
	CallTimeout time.Duration
}

type Pool struct {
	queue   *queue.Queue
	adapter storage.Adapter
	cfg     Config
	log     logging.Logger
	kick    chan struct{}
}

func New(q *queue.Queue, adapter storage.Adapter, cfg Config, log logging.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = cfg.Workers
	}
	return &Pool{
		queue:   q,
		adapter: adapter,
		cfg:     cfg,
		log:     log.With("component", "uploader"),
		kick:    make(chan struct{}, 1),
	}
}

// Kick wakes the pool ahead of the periodic timer, e.g. right after an
// enqueue or when the network comes back. Non-blocking.
func (p *Pool) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// Run processes uploads until ctx is canceled.
func (p *Pool) Run(ctx context.Context) {
	jobs := make(chan *models.Attachment, p.cfg.BatchSize)

	var wg sync.WaitGroup
	for i := 1; i <= p.cfg.Workers; i++ {
		wg.Add(1)
		go p.worker(ctx, i, jobs, &wg)
	}

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

DispatchLoop:
	for {
		select {
		case <-ctx.Done():
			break DispatchLoop
		case <-ticker.C:
		case <-p.kick:
		}
		p.dispatch(ctx, jobs)
	}

	close(jobs)
	wg.Wait()
}

// dispatch claims batches until the eligible set is drained or ctx ends.
func (p *Pool) dispatch(ctx context.Context, jobs chan<- *models.Attachment) {
	for {
		claimed, err := p.queue.ClaimNextBatch(ctx, p.cfg.BatchSize)
		if err != nil {
			p.log.Error(ctx, "claim failed", "error", err)
			return
		}
		if len(claimed) == 0 {
			return
		}

		for _, a := range claimed {
			select {
			case <-ctx.Done():
				return
			case jobs <- a:
			}
		}

		if len(claimed) < p.cfg.BatchSize {
			return
		}
	}
}

func (p *Pool) worker(ctx context.Context, id int, jobs <-chan *models.Attachment, wg *sync.WaitGroup) {
	defer wg.Done()

	for a := range jobs {
		if ctx.Err() != nil {
			return
		}
		p.log.Debug(ctx, "worker processing attachment", "worker_id", id, "attachment_id", a.ID)
		p.process(ctx, a)
	}
}

// process drives one leased attachment through the adapter and reports the
// outcome back to the queue.
func (p *Pool) process(ctx context.Context, a *models.Attachment) {
	target, err := withTimeout(ctx, p.cfg.CallTimeout, func(ctx context.Context) (*storage.SignedTarget, error) {
		return p.adapter.RequestUploadTarget(ctx, a)
	})
	if err != nil {
		p.reportFailure(ctx, a, err)
		return
	}

	remoteURL, err := withTimeout(ctx, p.cfg.CallTimeout, func(ctx context.Context) (string, error) {
		return p.adapter.Transfer(ctx, a.LocalPath, target)
	})
	if err != nil {
		p.reportFailure(ctx, a, err)
		return
	}

	if err := p.queue.ReportSuccess(ctx, a.ID, remoteURL); err != nil {
		if errors.Is(err, common.ErrInvalidTransition) || errors.Is(err, common.ErrNotFound) {
			// Deleted or re-routed mid-upload: the result must be
			// discarded, not recorded as synced.
			p.log.Info(ctx, "discarding upload result", "attachment_id", a.ID, "error", err)
			return
		}
		p.log.Error(ctx, "recording upload result failed", "attachment_id", a.ID, "error", err)
	}
}

func (p *Pool) reportFailure(ctx context.Context, a *models.Attachment, cause error) {
	if errors.Is(cause, common.ErrUnauthorized) {
		// Credentials likely need refresh; the failure still consumes a
		// retry so the attachment cannot loop silently.
		p.log.Error(ctx, "upload rejected by broker, credentials need attention",
			"attachment_id", a.ID, "error", cause)
	}

	if _, err := p.queue.ReportFailure(ctx, a.ID, cause); err != nil {
		if errors.Is(err, common.ErrInvalidTransition) || errors.Is(err, common.ErrNotFound) {
			p.log.Info(ctx, "discarding upload failure", "attachment_id", a.ID, "error", err)
			return
		}
		p.log.Error(ctx, "recording upload failure failed", "attachment_id", a.ID, "error", err)
	}
}

func withTimeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}
