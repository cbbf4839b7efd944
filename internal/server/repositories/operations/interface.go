package operations

import (
	"context"

	"github.com/fieldtrace/mediasync/internal/server/models"
)

// Repository is data access for applied operations. The table is what makes
// reconciliation idempotent across replays.
type Repository interface {
	// Insert records an applied operation. Returns false when an operation
	// with the same id was applied before.
	Insert(ctx context.Context, op *models.Operation) (bool, error)

	// GetByID returns the operation or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Operation, error)
}
