package attachments

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/fieldtrace/mediasync/internal/agent/models"
	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`
CREATE TABLE attachments (
  id TEXT PRIMARY KEY,
  local_path TEXT NOT NULL DEFAULT '',
  remote_url TEXT NOT NULL DEFAULT '',
  media_type TEXT NOT NULL,
  size_bytes INTEGER NOT NULL DEFAULT 0,
  state TEXT NOT NULL,
  retry_count INTEGER NOT NULL DEFAULT 0,
  next_retry_at INTEGER NOT NULL DEFAULT 0,
  metadata_json TEXT NOT NULL DEFAULT '{}',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
`)
	require.NoError(t, err)

	return db
}

func queued(id string) *models.Attachment {
	now := time.Now()
	return &models.Attachment{
		ID:        id,
		LocalPath: "/captures/" + id + ".jpg",
		MediaType: "image/jpeg",
		SizeBytes: 1024,
		State:     models.StateQueuedUpload,
		Metadata:  models.Metadata{"scheduleId": "s1", "role": "before"},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInsert_IdempotentByID(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()

	inserted, err := r.Insert(ctx, queued("a1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Re-inserting the same id is a no-op.
	again := queued("a1")
	again.LocalPath = "/captures/other.jpg"
	inserted, err = r.Insert(ctx, again)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := r.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "/captures/a1.jpg", got.LocalPath)
	assert.Equal(t, models.Metadata{"scheduleId": "s1", "role": "before"}, got.Metadata)
}

func TestGetByID_NotFound(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)

	_, err := r.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSelectEligible_ExcludesFutureRetry(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	now := time.Now()

	ready := queued("ready")
	_, err := r.Insert(ctx, ready)
	require.NoError(t, err)

	later := queued("later")
	later.NextRetryAt = now.Add(time.Hour)
	_, err = r.Insert(ctx, later)
	require.NoError(t, err)

	got, err := r.SelectEligible(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ready", got[0].ID)
}

func TestMarkUploading_OnlyOnceWins(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	now := time.Now()

	_, err := r.Insert(ctx, queued("a1"))
	require.NoError(t, err)

	ok, err := r.MarkUploading(ctx, "a1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	// The state guard rejects a second claim for the same row.
	ok, err = r.MarkUploading(ctx, "a1", now)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarkSynced_RequiresUploading(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	now := time.Now()

	_, err := r.Insert(ctx, queued("a1"))
	require.NoError(t, err)

	ok, err := r.MarkSynced(ctx, "a1", "https://store/a1", now)
	require.NoError(t, err)
	assert.False(t, ok, "record was never claimed")

	_, err = r.MarkUploading(ctx, "a1", now)
	require.NoError(t, err)

	ok, err = r.MarkSynced(ctx, "a1", "https://store/a1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StateSynced, got.State)
	assert.Equal(t, "https://store/a1", got.RemoteURL)
}

func TestMarkRetryAndFailed(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	now := time.Now()

	_, err := r.Insert(ctx, queued("a1"))
	require.NoError(t, err)
	_, err = r.MarkUploading(ctx, "a1", now)
	require.NoError(t, err)

	next := now.Add(30 * time.Second)
	ok, err := r.MarkRetry(ctx, "a1", 1, next, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StateQueuedUpload, got.State)
	assert.Equal(t, 1, got.RetryCount)
	assert.Equal(t, next.UnixNano(), got.NextRetryAt.UnixNano())

	// Record scheduled in the future is not claimable yet.
	ok, err = r.MarkUploading(ctx, "a1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.MarkUploading(ctx, "a1", next.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.MarkFailed(ctx, "a1", 2, now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = r.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Equal(t, 2, got.RetryCount)
}

func TestMarkRequeued_ResetsRetryCount(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	now := time.Now()

	_, err := r.Insert(ctx, queued("a1"))
	require.NoError(t, err)
	_, err = r.MarkUploading(ctx, "a1", now)
	require.NoError(t, err)
	_, err = r.MarkFailed(ctx, "a1", 3, now)
	require.NoError(t, err)

	ok, err := r.MarkRequeued(ctx, "a1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := r.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.StateQueuedUpload, got.State)
	assert.Equal(t, 0, got.RetryCount)
}

func TestClearLocalPathAndDeleteRow(t *testing.T) {
	db := setupDB(t)
	r := NewSQLiteRepository(db)
	ctx := context.Background()
	now := time.Now()

	_, err := r.Insert(ctx, queued("a1"))
	require.NoError(t, err)

	require.NoError(t, r.ClearLocalPath(ctx, "a1", now))
	got, err := r.GetByID(ctx, "a1")
	require.NoError(t, err)
	assert.Empty(t, got.LocalPath)

	require.NoError(t, r.DeleteRow(ctx, "a1"))
	_, err = r.GetByID(ctx, "a1")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
