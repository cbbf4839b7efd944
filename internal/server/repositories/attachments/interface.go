package attachments

import (
	"context"
	"time"

	"github.com/fieldtrace/mediasync/internal/server/models"
)

// Repository is data access for reconciled attachments.
type Repository interface {
	// GetByID returns the attachment or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Attachment, error)

	// Create inserts a PRESENT attachment row.
	Create(ctx context.Context, a *models.Attachment) error

	// MarkDeleted flips a PRESENT attachment to DELETED. Returns false when
	// the row was not PRESENT.
	MarkDeleted(ctx context.Context, id string, at time.Time) (bool, error)
}
