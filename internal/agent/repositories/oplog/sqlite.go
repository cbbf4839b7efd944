package oplog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fieldtrace/mediasync/internal/agent/models"
	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/dbx"
)

// SQLiteRepository implements Repository over a dbx.DBTX.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const entryColumns = `id, operation_type, attachment_id, remote_url, owner_metadata_json, created_at, delivered_at, failed_reason`

func (r *SQLiteRepository) Append(ctx context.Context, e *models.OperationEntry) (bool, error) {
	md, err := e.OwnerMetadata.JSON()
	if err != nil {
		return false, fmt.Errorf("encoding owner metadata: %w", err)
	}

	query := `INSERT OR IGNORE INTO operation_log
		(id, operation_type, attachment_id, remote_url, owner_metadata_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		e.ID, string(e.Type), e.AttachmentID, e.RemoteURL, md, e.CreatedAt.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to append operation entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func scanEntry(scan func(dest ...any) error) (*models.OperationEntry, error) {
	var (
		e            models.OperationEntry
		opType       string
		metadataJSON string
		createdAt    int64
		deliveredAt  sql.NullInt64
	)
	err := scan(&e.ID, &opType, &e.AttachmentID, &e.RemoteURL, &metadataJSON,
		&createdAt, &deliveredAt, &e.FailedReason)
	if err != nil {
		return nil, err
	}
	e.Type = models.OperationType(opType)
	e.CreatedAt = time.Unix(0, createdAt)
	if deliveredAt.Valid {
		t := time.Unix(0, deliveredAt.Int64)
		e.DeliveredAt = &t
	}
	e.OwnerMetadata, err = models.MetadataFromJSON(metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("decoding owner metadata: %w", err)
	}
	return &e, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.OperationEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM operation_log WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)

	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select operation entry: %w", err)
	}
	return e, nil
}

func (r *SQLiteRepository) SelectUndelivered(ctx context.Context, limit int) ([]*models.OperationEntry, error) {
	query := `SELECT ` + entryColumns + ` FROM operation_log
		WHERE delivered_at IS NULL AND failed_reason = ''
		ORDER BY created_at, rowid
		LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select undelivered entries: %w", err)
	}
	defer rows.Close()

	var result []*models.OperationEntry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *SQLiteRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE operation_log SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, at.UnixNano(), id); err != nil {
		return fmt.Errorf("failed to mark entry delivered: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id, reason string) error {
	query := `UPDATE operation_log SET failed_reason = ? WHERE id = ? AND delivered_at IS NULL`
	if _, err := r.db.ExecContext(ctx, query, reason, id); err != nil {
		return fmt.Errorf("failed to mark entry failed: %w", err)
	}
	return nil
}
