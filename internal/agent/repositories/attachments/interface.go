package attachments

import (
	"context"
	"time"

	"github.com/fieldtrace/mediasync/internal/agent/models"
)

// Repository is pure data access for attachment records. All state-machine
// policy (retry bounds, backoff, eligibility) lives in the queue; the
// repository only offers the conditional transitions the queue composes
// inside transactions.
type Repository interface {
	// Insert stores a new record. It is idempotent by id: re-inserting an
	// existing id is a no-op and returns false.
	Insert(ctx context.Context, a *models.Attachment) (bool, error)

	// GetByID returns the record or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Attachment, error)

	// SelectEligible returns up to limit records in QUEUED_UPLOAD whose
	// scheduled retry time is not in the future, oldest first.
	SelectEligible(ctx context.Context, now time.Time, limit int) ([]*models.Attachment, error)

	// MarkUploading transitions a record to UPLOADING, conditional on it
	// still being claimable. Returns false when another claimer won.
	MarkUploading(ctx context.Context, id string, now time.Time) (bool, error)

	// MarkSynced sets the remote URL and transitions UPLOADING -> SYNCED.
	// Returns false when the record is no longer UPLOADING.
	MarkSynced(ctx context.Context, id, remoteURL string, now time.Time) (bool, error)

	// MarkRetry transitions UPLOADING -> QUEUED_UPLOAD with the new retry
	// count and scheduled retry time.
	MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt, now time.Time) (bool, error)

	// MarkFailed transitions UPLOADING -> FAILED (terminal).
	MarkFailed(ctx context.Context, id string, retryCount int, now time.Time) (bool, error)

	// MarkQueuedDelete transitions SYNCED or UPLOADING -> QUEUED_DELETE.
	MarkQueuedDelete(ctx context.Context, id string, now time.Time) (bool, error)

	// MarkRequeued transitions FAILED -> QUEUED_UPLOAD with a reset retry
	// count (manual retry surface).
	MarkRequeued(ctx context.Context, id string, now time.Time) (bool, error)

	// ResetUploading returns every UPLOADING record to QUEUED_UPLOAD.
	// Used at startup: a lease cannot survive the process that held it.
	ResetUploading(ctx context.Context, now time.Time) (int64, error)

	// ClearLocalPath drops the local path after confirmed remote
	// durability and local cleanup.
	ClearLocalPath(ctx context.Context, id string, now time.Time) error

	// DeleteRow removes the record entirely (delete confirmed remotely).
	DeleteRow(ctx context.Context, id string) error

	// SelectByState returns all records in the given state.
	SelectByState(ctx context.Context, state models.State) ([]*models.Attachment, error)
}
