package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fieldtrace/mediasync/internal/agent/api"
	"github.com/fieldtrace/mediasync/internal/agent/models"
	"github.com/fieldtrace/mediasync/internal/agent/repositories/oplog"
	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/logging"
	"github.com/sethvargo/go-retry"
)

// ReconcileAPI is the slice of the server client the connector needs.
type ReconcileAPI interface {
	SubmitOperations(ctx context.Context, entries []api.OperationPayload) ([]api.OperationResult, error)
}

// Config tunes the drain loop.
type Config struct {
	// BatchSize caps entries per reconciliation call.
	BatchSize int
	// Interval is how often the loop drains without an explicit kick.
	Interval time.Duration
	// SubmitRetryBase seeds the exponential backoff for transient submit
	// failures within a single drain pass.
	SubmitRetryBase time.Duration
	// SubmitRetryMax caps in-pass transient retries. The batch stays
	// undelivered after that and the next pass picks it up again.
	SubmitRetryMax uint64
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Submitted int
	Applied   int
	Rejected  int
}

// Connector pushes undelivered operation log entries to the reconciliation
// API in creation order and stamps the per-entry outcomes back into the log.
type Connector struct {
	repo   oplog.Repository
	remote ReconcileAPI
	cfg    Config
	log    logging.Logger
	kick   chan struct{}

	now func() time.Time
}

func New(repo oplog.Repository, remote ReconcileAPI, cfg Config, log logging.Logger) *Connector {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.SubmitRetryBase <= 0 {
		cfg.SubmitRetryBase = time.Second
	}
	if cfg.SubmitRetryMax == 0 {
		cfg.SubmitRetryMax = 3
	}
	return &Connector{
		repo:   repo,
		remote: remote,
		cfg:    cfg,
		log:    log,
		kick:   make(chan struct{}, 1),
		now:    time.Now,
	}
}

// Kick requests an immediate drain pass. Safe from any goroutine; kicks
// coalesce while a pass is running.
func (c *Connector) Kick() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// Run drains on every tick and kick until ctx is canceled.
func (c *Connector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-c.kick:
		}
		if err := c.Drain(ctx); err != nil {
			c.log.Warn(ctx, "operation log drain interrupted", "error", err)
		}
	}
}

// Drain repeatedly submits batches until the undelivered backlog is empty
// or a submit fails.
func (c *Connector) Drain(ctx context.Context) error {
	for {
		res, err := c.DrainOnce(ctx)
		if err != nil {
			return err
		}
		if res.Submitted < c.cfg.BatchSize {
			return nil
		}
	}
}

// DrainOnce submits at most one batch. A transient submit failure is retried
// in place with exponential backoff; entries stay undelivered if the retries
// run out, so no entry is ever lost to a flaky link.
func (c *Connector) DrainOnce(ctx context.Context) (DrainResult, error) {
	var res DrainResult

	entries, err := c.repo.SelectUndelivered(ctx, c.cfg.BatchSize)
	if err != nil {
		return res, fmt.Errorf("selecting undelivered entries: %w", err)
	}
	if len(entries) == 0 {
		return res, nil
	}

	payloads := make([]api.OperationPayload, 0, len(entries))
	byID := make(map[string]*models.OperationEntry, len(entries))
	for _, e := range entries {
		payloads = append(payloads, api.OperationPayload{
			ID:            e.ID,
			OperationType: string(e.Type),
			AttachmentID:  e.AttachmentID,
			RemoteURL:     e.RemoteURL,
			OwnerMetadata: e.OwnerMetadata,
			CreatedAt:     e.CreatedAt,
		})
		byID[e.ID] = e
	}
	res.Submitted = len(payloads)

	var results []api.OperationResult
	backoff := retry.WithMaxRetries(c.cfg.SubmitRetryMax,
		retry.NewExponential(c.cfg.SubmitRetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var serr error
		results, serr = c.remote.SubmitOperations(ctx, payloads)
		if errors.Is(serr, common.ErrTransient) {
			return retry.RetryableError(serr)
		}
		return serr
	})
	if err != nil {
		return res, fmt.Errorf("submitting %d entries: %w", len(payloads), err)
	}

	now := c.now()
	for _, r := range results {
		entry, ok := byID[r.ID]
		if !ok {
			c.log.Warn(ctx, "result for entry outside the batch", "id", r.ID)
			continue
		}
		switch r.Status {
		case api.StatusApplied:
			if err := c.repo.MarkDelivered(ctx, entry.ID, now); err != nil {
				return res, fmt.Errorf("marking %s delivered: %w", entry.ID, err)
			}
			res.Applied++
		case api.StatusRejected:
			if err := c.repo.MarkFailed(ctx, entry.ID, r.Reason); err != nil {
				return res, fmt.Errorf("marking %s failed: %w", entry.ID, err)
			}
			c.log.Error(ctx, "reconciliation rejected entry",
				"id", entry.ID, "type", entry.Type, "reason", r.Reason)
			res.Rejected++
		default:
			c.log.Warn(ctx, "unknown result status", "id", r.ID, "status", r.Status)
		}
	}
	return res, nil
}
