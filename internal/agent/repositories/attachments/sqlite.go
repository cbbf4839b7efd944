package attachments

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

// SQLiteRepository implements Repository over a dbx.DBTX (*sql.DB or
// *sql.Tx). Timestamps are stored as unix nanoseconds; the zero time is
// stored as 0 so "eligible immediately" is a plain integer comparison.
type SQLiteRepository struct {
	db dbx.DBTX
}

func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const attachmentColumns = `id, local_path, remote_url, media_type, size_bytes, state, retry_count, next_retry_at, metadata_json, created_at, updated_at`

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func scanAttachment(scan func(dest ...any) error) (*models.Attachment, error) {
	var (
		a              models.Attachment
		state          string
		metadataJSON   string
		nextRetry, cAt int64
		uAt            int64
	)
	err := scan(&a.ID, &a.LocalPath, &a.RemoteURL, &a.MediaType, &a.SizeBytes,
		&state, &a.RetryCount, &nextRetry, &metadataJSON, &cAt, &uAt)
	if err != nil {
		return nil, err
	}
	a.State = models.State(state)
	a.NextRetryAt = fromNanos(nextRetry)
	a.CreatedAt = fromNanos(cAt)
	a.UpdatedAt = fromNanos(uAt)
	a.Metadata, err = models.MetadataFromJSON(metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &a, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, a *models.Attachment) (bool, error) {
	md, err := a.Metadata.JSON()
	if err != nil {
		return false, fmt.Errorf("encoding metadata: %w", err)
	}

	query := `INSERT OR IGNORE INTO attachments
		(` + attachmentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query,
		a.ID, a.LocalPath, a.RemoteURL, a.MediaType, a.SizeBytes,
		string(a.State), a.RetryCount, nanos(a.NextRetryAt), md,
		nanos(a.CreatedAt), nanos(a.UpdatedAt))
	if err != nil {
		return false, fmt.Errorf("failed to insert attachment: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)

	a, err := scanAttachment(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select attachment: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) SelectEligible(ctx context.Context, now time.Time, limit int) ([]*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments
		WHERE state = ? AND next_retry_at <= ?
		ORDER BY next_retry_at, created_at
		LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, string(models.StateQueuedUpload), now.UnixNano(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select eligible attachments: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

func (r *SQLiteRepository) SelectByState(ctx context.Context, state models.State) ([]*models.Attachment, error) {
	query := `SELECT ` + attachmentColumns + ` FROM attachments WHERE state = ? ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to select attachments by state: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

func collect(rows *sql.Rows) ([]*models.Attachment, error) {
	var result []*models.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// transition runs a conditional UPDATE and reports whether exactly one row
// changed. The WHERE clause carries the state guard, which is what makes
// concurrent claimers partition the eligible set instead of duplicating it.
func (r *SQLiteRepository) transition(ctx context.Context, query string, args ...any) (bool, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to update attachment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *SQLiteRepository) MarkUploading(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `UPDATE attachments SET state = ?, updated_at = ?
		WHERE id = ? AND state = ? AND next_retry_at <= ?`
	return r.transition(ctx, query,
		string(models.StateUploading), now.UnixNano(),
		id, string(models.StateQueuedUpload), now.UnixNano())
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id, remoteURL string, now time.Time) (bool, error) {
	query := `UPDATE attachments SET state = ?, remote_url = ?, updated_at = ?
		WHERE id = ? AND state = ?`
	return r.transition(ctx, query,
		string(models.StateSynced), remoteURL, now.UnixNano(),
		id, string(models.StateUploading))
}

func (r *SQLiteRepository) MarkRetry(ctx context.Context, id string, retryCount int, nextRetryAt, now time.Time) (bool, error) {
	query := `UPDATE attachments SET state = ?, retry_count = ?, next_retry_at = ?, updated_at = ?
		WHERE id = ? AND state = ?`
	return r.transition(ctx, query,
		string(models.StateQueuedUpload), retryCount, nextRetryAt.UnixNano(), now.UnixNano(),
		id, string(models.StateUploading))
}

func (r *SQLiteRepository) MarkFailed(ctx context.Context, id string, retryCount int, now time.Time) (bool, error) {
	query := `UPDATE attachments SET state = ?, retry_count = ?, next_retry_at = 0, updated_at = ?
		WHERE id = ? AND state = ?`
	return r.transition(ctx, query,
		string(models.StateFailed), retryCount, now.UnixNano(),
		id, string(models.StateUploading))
}

func (r *SQLiteRepository) MarkQueuedDelete(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `UPDATE attachments SET state = ?, updated_at = ?
		WHERE id = ? AND state IN (?, ?)`
	return r.transition(ctx, query,
		string(models.StateQueuedDelete), now.UnixNano(),
		id, string(models.StateSynced), string(models.StateUploading))
}

func (r *SQLiteRepository) MarkRequeued(ctx context.Context, id string, now time.Time) (bool, error) {
	query := `UPDATE attachments SET state = ?, retry_count = 0, next_retry_at = 0, updated_at = ?
		WHERE id = ? AND state = ?`
	return r.transition(ctx, query,
		string(models.StateQueuedUpload), now.UnixNano(),
		id, string(models.StateFailed))
}

func (r *SQLiteRepository) ResetUploading(ctx context.Context, now time.Time) (int64, error) {
	query := `UPDATE attachments SET state = ?, updated_at = ? WHERE state = ?`
	res, err := r.db.ExecContext(ctx, query,
		string(models.StateQueuedUpload), now.UnixNano(), string(models.StateUploading))
	if err != nil {
		return 0, fmt.Errorf("failed to reset uploading attachments: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) ClearLocalPath(ctx context.Context, id string, now time.Time) error {
	query := `UPDATE attachments SET local_path = '', updated_at = ? WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, now.UnixNano(), id); err != nil {
		return fmt.Errorf("failed to clear local path: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) DeleteRow(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}
