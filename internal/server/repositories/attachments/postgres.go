package attachments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/dbx"
	"github.com/fieldtrace/mediasync/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	query :=
		`SELECT id, device_id, remote_url, storage_key, media_type, owner_metadata,
		        state, created_at, updated_at
		 FROM attachments
		 WHERE id = $1
		 `

	a := &models.Attachment{}
	var meta []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.DeviceID, &a.RemoteURL, &a.StorageKey, &a.MediaType, &meta,
		&a.State, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.OwnerMetadata); err != nil {
			return nil, fmt.Errorf("decoding owner metadata: %w", err)
		}
	}
	return a, nil
}

func (r *PostgresRepository) Create(ctx context.Context, a *models.Attachment) error {
	meta, err := json.Marshal(a.OwnerMetadata)
	if err != nil {
		return fmt.Errorf("encoding owner metadata: %w", err)
	}
	if a.OwnerMetadata == nil {
		meta = []byte("{}")
	}

	query :=
		`INSERT INTO attachments
		     (id, device_id, remote_url, storage_key, media_type, owner_metadata, state, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 `

	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.DeviceID, a.RemoteURL, a.StorageKey, a.MediaType, meta,
		models.AttachmentPresent, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) MarkDeleted(ctx context.Context, id string, at time.Time) (bool, error) {
	query :=
		`UPDATE attachments
		 SET state = $1, updated_at = $2
		 WHERE id = $3 AND state = $4
		 `

	res, err := r.db.ExecContext(ctx, query,
		models.AttachmentDeleted, at, id, models.AttachmentPresent)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}
