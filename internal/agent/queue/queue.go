// Package queue owns the attachment state machine. It decides upload
// eligibility, enforces the retry bound at the single failure transition
// point, and emits operation log entries when transfers are locally
// confirmed. All mutations run as transactions against the durable store;
// nothing here keeps state in memory.
package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fieldtrace/mediasync/internal/agent/models"
	"github.com/fieldtrace/mediasync/internal/agent/repositories/attachments"
	"github.com/fieldtrace/mediasync/internal/agent/repositories/oplog"
	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/dbx"
	"github.com/fieldtrace/mediasync/internal/filex"
	"github.com/fieldtrace/mediasync/internal/logging"
)

// Config bounds the queue's retry behavior.
type Config struct {
	// MaxRetries is the retry ceiling. Once RetryCount reaches it, the
	// attachment transitions to FAILED and stops retrying.
	MaxRetries int

	// BackoffBase and BackoffMax bound the exponential retry delay.
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// Queue is the single owner of attachment state transitions.
type Queue struct {
	db  *sql.DB
	cfg Config
	log logging.Logger

	// seams for tests
	now       func() time.Time
	randInt64 func(int64) int64
}

func New(db *sql.DB, cfg Config, log logging.Logger) *Queue {
	return &Queue{
		db:        db,
		cfg:       cfg,
		log:       log.With("component", "queue"),
		now:       time.Now,
		randInt64: defaultRandInt64,
	}
}

// EnqueueRequest describes a capture the UI layer hands over for upload.
type EnqueueRequest struct {
	// ID lets the caller supply a stable id so a retried enqueue stays
	// idempotent. Empty means the queue assigns one.
	ID string

	LocalPath string

	// MediaType is the caller's declared type. It is only trusted when
	// the encoded bytes cannot be classified.
	MediaType string

	Metadata models.Metadata
}

// Enqueue creates a record in QUEUED_UPLOAD and returns its id. The media
// type is derived from the encoded bytes on disk, never defaulted: a known
// defect class is a declared type that contradicts the actual encoding.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (string, error) {
	if req.LocalPath == "" {
		return "", errors.New("enqueue: local path is required")
	}

	mediaType, err := filex.DetectMediaType(req.LocalPath)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", req.LocalPath, errors.Join(common.ErrLocalStorage, err))
	}
	if mediaType == "application/octet-stream" && req.MediaType != "" {
		mediaType = req.MediaType
	}

	size, err := filex.FileSize(req.LocalPath)
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", req.LocalPath, errors.Join(common.ErrLocalStorage, err))
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}

	now := q.now()
	a := &models.Attachment{
		ID:        id,
		LocalPath: req.LocalPath,
		MediaType: mediaType,
		SizeBytes: size,
		State:     models.StateQueuedUpload,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	inserted, err := attachments.NewSQLiteRepository(q.db).Insert(ctx, a)
	if err != nil {
		return "", err
	}
	if !inserted {
		q.log.Debug(ctx, "enqueue ignored, id already known", "attachment_id", id)
	}
	return id, nil
}

// ClaimNextBatch atomically selects up to limit eligible attachments and
// transitions them to UPLOADING, returning only those this call actually
// claimed. The select-and-mark runs in one transaction with a state guard
// on every row, so concurrent callers partition the eligible set.
func (q *Queue) ClaimNextBatch(ctx context.Context, limit int) ([]*models.Attachment, error) {
	now := q.now()
	var claimed []*models.Attachment

	err := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := attachments.NewSQLiteRepository(tx)

		eligible, err := repo.SelectEligible(ctx, now, limit)
		if err != nil {
			return err
		}

		for _, a := range eligible {
			ok, err := repo.MarkUploading(ctx, a.ID, now)
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			a.State = models.StateUploading
			claimed = append(claimed, a)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return claimed, nil
}

// ReportSuccess records a finished transfer: remote URL set, SYNCED state,
// and the ADD operation log entry appended, all in one transaction. When
// the record was deleted or re-routed mid-upload the transition is refused
// and the worker must discard the result.
func (q *Queue) ReportSuccess(ctx context.Context, id, remoteURL string) error {
	now := q.now()

	return dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := attachments.NewSQLiteRepository(tx)

		a, err := repo.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("report success %s: %w", id, err)
		}

		ok, err := repo.MarkSynced(ctx, id, remoteURL, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("report success %s: state %s: %w", id, a.State, common.ErrInvalidTransition)
		}

		entry := &models.OperationEntry{
			ID:            models.OperationID(id, models.OperationAdd),
			Type:          models.OperationAdd,
			AttachmentID:  id,
			RemoteURL:     remoteURL,
			OwnerMetadata: a.Metadata,
			CreatedAt:     now,
		}
		if _, err := oplog.NewSQLiteRepository(tx).Append(ctx, entry); err != nil {
			return err
		}

		q.log.Info(ctx, "attachment synced", "attachment_id", id, "remote_url", remoteURL)
		return nil
	})
}

// ReportFailure increments the retry count and either schedules the next
// attempt with backoff or, once the bound is reached, parks the attachment
// in FAILED. This is the only place the retry ceiling is enforced.
func (q *Queue) ReportFailure(ctx context.Context, id string, cause error) (models.State, error) {
	now := q.now()
	var result models.State

	err := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := attachments.NewSQLiteRepository(tx)

		a, err := repo.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("report failure %s: %w", id, err)
		}
		if a.State != models.StateUploading {
			return fmt.Errorf("report failure %s: state %s: %w", id, a.State, common.ErrInvalidTransition)
		}

		count := a.RetryCount + 1

		if count >= q.cfg.MaxRetries {
			if _, err := repo.MarkFailed(ctx, id, count, now); err != nil {
				return err
			}
			result = models.StateFailed
			q.log.Error(ctx, "attachment failed permanently",
				"attachment_id", id, "retry_count", count, "error", cause)
			return nil
		}

		delay := backoffDelay(count, q.cfg.BackoffBase, q.cfg.BackoffMax, q.randInt64)
		if _, err := repo.MarkRetry(ctx, id, count, now.Add(delay), now); err != nil {
			return err
		}
		result = models.StateQueuedUpload
		q.log.Warn(ctx, "upload failed, retry scheduled",
			"attachment_id", id, "retry_count", count, "delay", delay, "error", cause)
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// Delete routes a user-initiated delete. A local record moves to
// QUEUED_DELETE and a DELETE entry is appended; an attachment that never
// reached remote storage is simply dropped; an attachment with no local
// record at all (already fully remote) goes straight to the operation log.
func (q *Queue) Delete(ctx context.Context, id string) error {
	now := q.now()

	return dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := attachments.NewSQLiteRepository(tx)
		logRepo := oplog.NewSQLiteRepository(tx)

		deleteEntry := func(remoteURL string, md models.Metadata) error {
			entry := &models.OperationEntry{
				ID:            models.OperationID(id, models.OperationDelete),
				Type:          models.OperationDelete,
				AttachmentID:  id,
				RemoteURL:     remoteURL,
				OwnerMetadata: md,
				CreatedAt:     now,
			}
			_, err := logRepo.Append(ctx, entry)
			return err
		}

		a, err := repo.GetByID(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			// Fully remote attachment: nothing local to clean up.
			return deleteEntry("", nil)
		}
		if err != nil {
			return fmt.Errorf("delete %s: %w", id, err)
		}

		switch a.State {
		case models.StateQueuedUpload, models.StateFailed:
			// Never uploaded, so no remote state to reconcile.
			return repo.DeleteRow(ctx, id)

		case models.StateUploading, models.StateSynced:
			if _, err := repo.MarkQueuedDelete(ctx, id, now); err != nil {
				return err
			}
			return deleteEntry(a.RemoteURL, a.Metadata)

		case models.StateQueuedDelete:
			// Already routed.
			return nil

		default:
			return fmt.Errorf("delete %s: state %s: %w", id, a.State, common.ErrInvalidTransition)
		}
	})
}

// Requeue puts a FAILED attachment back into rotation with a fresh retry
// budget. This is the manual-retry surface for the UI.
func (q *Queue) Requeue(ctx context.Context, id string) error {
	ok, err := attachments.NewSQLiteRepository(q.db).MarkRequeued(ctx, id, q.now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("requeue %s: %w", id, common.ErrInvalidTransition)
	}
	return nil
}

// RecoverLeases returns every UPLOADING record to QUEUED_UPLOAD. Called
// once at startup: leases are held by workers of this process, so any
// leftover UPLOADING state is a remnant of a crash.
func (q *Queue) RecoverLeases(ctx context.Context) error {
	n, err := attachments.NewSQLiteRepository(q.db).ResetUploading(ctx, q.now())
	if err != nil {
		return err
	}
	if n > 0 {
		q.log.Warn(ctx, "recovered stale upload leases", "count", n)
	}
	return nil
}

// Get returns a single attachment for display.
func (q *Queue) Get(ctx context.Context, id string) (*models.Attachment, error) {
	return attachments.NewSQLiteRepository(q.db).GetByID(ctx, id)
}

// ListByState returns attachments in the given state for display.
func (q *Queue) ListByState(ctx context.Context, state models.State) ([]*models.Attachment, error) {
	return attachments.NewSQLiteRepository(q.db).SelectByState(ctx, state)
}

// CleanupSynced clears the local path of every SYNCED attachment whose ADD
// entry has been confirmed delivered, and returns the file paths that are
// now safe to remove from disk. Local cleanup must never race ahead of
// confirmed remote durability, so delivery is checked per attachment.
func (q *Queue) CleanupSynced(ctx context.Context) ([]string, error) {
	now := q.now()
	var paths []string

	err := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := attachments.NewSQLiteRepository(tx)
		logRepo := oplog.NewSQLiteRepository(tx)

		synced, err := repo.SelectByState(ctx, models.StateSynced)
		if err != nil {
			return err
		}

		for _, a := range synced {
			if a.LocalPath == "" {
				continue
			}
			entry, err := logRepo.GetByID(ctx, models.OperationID(a.ID, models.OperationAdd))
			if errors.Is(err, common.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if !entry.Delivered() {
				continue
			}
			if err := repo.ClearLocalPath(ctx, a.ID, now); err != nil {
				return err
			}
			paths = append(paths, a.LocalPath)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cleanup synced: %w", err)
	}
	return paths, nil
}

// DeleteReady returns QUEUED_DELETE attachments whose DELETE entry has been
// delivered, i.e. those whose remote object may now be removed.
func (q *Queue) DeleteReady(ctx context.Context) ([]*models.Attachment, error) {
	repo := attachments.NewSQLiteRepository(q.db)
	logRepo := oplog.NewSQLiteRepository(q.db)

	pending, err := repo.SelectByState(ctx, models.StateQueuedDelete)
	if err != nil {
		return nil, err
	}

	var ready []*models.Attachment
	for _, a := range pending {
		entry, err := logRepo.GetByID(ctx, models.OperationID(a.ID, models.OperationDelete))
		if errors.Is(err, common.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if entry.Delivered() {
			ready = append(ready, a)
		}
	}
	return ready, nil
}

// CompleteDelete removes the attachment row once the remote object is gone
// and returns the local path (possibly empty) left to unlink.
func (q *Queue) CompleteDelete(ctx context.Context, id string) (string, error) {
	var path string
	err := dbx.WithTx(ctx, q.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := attachments.NewSQLiteRepository(tx)

		a, err := repo.GetByID(ctx, id)
		if errors.Is(err, common.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		path = a.LocalPath
		return repo.DeleteRow(ctx, id)
	})
	if err != nil {
		return "", fmt.Errorf("complete delete %s: %w", id, err)
	}
	return path, nil
}
