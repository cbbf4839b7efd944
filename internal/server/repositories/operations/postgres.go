package operations

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

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

func (r *PostgresRepository) Insert(ctx context.Context, op *models.Operation) (bool, error) {
	meta, err := json.Marshal(op.OwnerMetadata)
	if err != nil {
		return false, fmt.Errorf("encoding owner metadata: %w", err)
	}
	if op.OwnerMetadata == nil {
		meta = []byte("{}")
	}

	query :=
		`INSERT INTO operations
		     (id, device_id, operation_type, attachment_id, remote_url, owner_metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING
		 `

	res, err := r.db.ExecContext(ctx, query,
		op.ID, op.DeviceID, op.Type, op.AttachmentID, op.RemoteURL, meta, op.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Operation, error) {
	query :=
		`SELECT id, device_id, operation_type, attachment_id, remote_url, owner_metadata,
		        created_at, applied_at
		 FROM operations
		 WHERE id = $1
		 `

	op := &models.Operation{}
	var meta []byte
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&op.ID, &op.DeviceID, &op.Type, &op.AttachmentID, &op.RemoteURL, &meta,
		&op.CreatedAt, &op.AppliedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &op.OwnerMetadata); err != nil {
			return nil, fmt.Errorf("decoding owner metadata: %w", err)
		}
	}
	return op, nil
}
