package devices

import (
	"context"

	"github.com/fieldtrace/mediasync/internal/server/models"
)

// Repository is data access for registered devices.
type Repository interface {
	Create(ctx context.Context, d *models.Device) error
	// GetByID returns the device or common.ErrNotFound.
	GetByID(ctx context.Context, id string) (*models.Device, error)
}
