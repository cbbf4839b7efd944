package oplog

import (
	"context"
	"time"

	"github.com/fieldtrace/mediasync/internal/agent/models"
)

// Repository is data access for the append-only operation log. Rows are
// never updated except to stamp delivered_at or failed_reason, and never
// deleted.
type Repository interface {
	// Append inserts an entry. It is idempotent by entry id: appending
	// twice with the same idempotency key leaves exactly one row and
	// returns false the second time.
	Append(ctx context.Context, e *models.OperationEntry) (bool, error)

	// GetByID returns the entry or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.OperationEntry, error)

	// SelectUndelivered returns up to limit entries that are neither
	// delivered nor terminally failed, in creation order. Creation order
	// per attachment is what preserves ADD-before-DELETE delivery.
	SelectUndelivered(ctx context.Context, limit int) ([]*models.OperationEntry, error)

	// MarkDelivered stamps delivered_at after remote acknowledgment.
	MarkDelivered(ctx context.Context, id string, at time.Time) error

	// MarkFailed records a structurally permanent rejection. The entry is
	// terminal and surfaced, never retried.
	MarkFailed(ctx context.Context, id, reason string) error
}
