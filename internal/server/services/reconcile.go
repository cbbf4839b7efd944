package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/dbx"
	"github.com/fieldtrace/mediasync/internal/server/models"
	"github.com/fieldtrace/mediasync/internal/server/repositories/attachments"
	"github.com/fieldtrace/mediasync/internal/server/repositories/operations"
)

const (
	OperationAdd    = "ADD"
	OperationDelete = "DELETE"

	StatusApplied  = "applied"
	StatusRejected = "rejected"
)

// OperationInput is one entry from a device's operation log.
type OperationInput struct {
	ID            string
	Type          string
	AttachmentID  string
	RemoteURL     string
	OwnerMetadata map[string]string
	CreatedAt     time.Time
}

// OperationOutcome is the per-entry result. A batch never fails as a whole;
// each entry is either applied or rejected with a reason.
type OperationOutcome struct {
	ID     string
	Status string
	Reason string
}

// ReconcileService applies device operation logs to the server's attachment
// records. Application is idempotent per entry id, so devices can replay
// batches after a lost acknowledgment.
type ReconcileService struct {
	db *sql.DB
}

func NewReconcileService(db *sql.DB) *ReconcileService {
	return &ReconcileService{db: db}
}

// Apply processes entries in order, each in its own transaction. A returned
// error means infrastructure failure; the caller should report the whole
// batch as retryable.
func (s *ReconcileService) Apply(ctx context.Context, deviceID string, entries []OperationInput) ([]OperationOutcome, error) {
	outcomes := make([]OperationOutcome, 0, len(entries))
	for _, e := range entries {
		outcome, err := s.applyOne(ctx, deviceID, e)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, nil
}

func (s *ReconcileService) applyOne(ctx context.Context, deviceID string, e OperationInput) (OperationOutcome, error) {
	if reason := validate(e); reason != "" {
		return OperationOutcome{ID: e.ID, Status: StatusRejected, Reason: reason}, nil
	}

	outcome := OperationOutcome{ID: e.ID, Status: StatusApplied}

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		opRepo := operations.NewPostgresRepository(tx)
		attRepo := attachments.NewPostgresRepository(tx)

		current, err := attRepo.GetByID(ctx, e.AttachmentID)
		if err != nil && !errors.Is(err, common.ErrNotFound) {
			return err
		}

		if current != nil && current.DeviceID != deviceID {
			outcome = OperationOutcome{ID: e.ID, Status: StatusRejected, Reason: "attachment owned by another device"}
			return nil
		}

		if e.Type == OperationAdd && current != nil && current.State == models.AttachmentDeleted {
			outcome = OperationOutcome{ID: e.ID, Status: StatusRejected, Reason: "attachment already deleted"}
			return nil
		}

		inserted, err := opRepo.Insert(ctx, &models.Operation{
			ID:            e.ID,
			DeviceID:      deviceID,
			Type:          e.Type,
			AttachmentID:  e.AttachmentID,
			RemoteURL:     e.RemoteURL,
			OwnerMetadata: e.OwnerMetadata,
			CreatedAt:     e.CreatedAt,
		})
		if err != nil {
			return err
		}
		if !inserted {
			// Replay of an already applied entry: acknowledge again.
			return nil
		}

		switch e.Type {
		case OperationAdd:
			if current != nil {
				return nil
			}
			return attRepo.Create(ctx, &models.Attachment{
				ID:            e.AttachmentID,
				DeviceID:      deviceID,
				RemoteURL:     e.RemoteURL,
				StorageKey:    StorageKey(deviceID, e.AttachmentID),
				OwnerMetadata: e.OwnerMetadata,
				CreatedAt:     e.CreatedAt,
			})
		case OperationDelete:
			// Deleting an attachment the server never saw is acknowledged;
			// the device may have dropped a capture before its first upload.
			_, err := attRepo.MarkDeleted(ctx, e.AttachmentID, time.Now())
			return err
		}
		return nil
	})
	if err != nil {
		return OperationOutcome{}, fmt.Errorf("applying %s: %w", e.ID, err)
	}
	return outcome, nil
}

func validate(e OperationInput) string {
	switch {
	case e.ID == "":
		return "missing entry id"
	case e.AttachmentID == "":
		return "missing attachment id"
	case e.Type != OperationAdd && e.Type != OperationDelete:
		return fmt.Sprintf("unknown operation type %q", e.Type)
	case e.Type == OperationAdd && e.RemoteURL == "":
		return "ADD without remote url"
	}
	return ""
}
