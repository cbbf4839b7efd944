package uploader

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fieldtrace/mediasync/internal/agent/localdb"
	"github.com/fieldtrace/mediasync/internal/agent/models"
	"github.com/fieldtrace/mediasync/internal/agent/queue"
	"github.com/fieldtrace/mediasync/internal/agent/repositories/oplog"
	"github.com/fieldtrace/mediasync/internal/agent/storage"
	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter scripts per-attachment outcomes. The attachment id is
// recovered from the remote URL the fake itself issued.
type fakeAdapter struct {
	mu       sync.Mutex
	failIDs  map[string]bool
	attempts map[string]int
	blocked  map[string]chan struct{}
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		failIDs:  map[string]bool{},
		attempts: map[string]int{},
		blocked:  map[string]chan struct{}{},
	}
}

func (f *fakeAdapter) RequestUploadTarget(ctx context.Context, a *models.Attachment) (*storage.SignedTarget, error) {
	return &storage.SignedTarget{
		UploadURL: "https://store/put/" + a.ID,
		RemoteURL: "https://store/captures/" + a.ID,
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}, nil
}

func (f *fakeAdapter) Transfer(ctx context.Context, localPath string, target *storage.SignedTarget) (string, error) {
	id := strings.TrimPrefix(target.RemoteURL, "https://store/captures/")

	f.mu.Lock()
	f.attempts[id]++
	fail := f.failIDs[id]
	gate := f.blocked[id]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fail {
		return "", fmt.Errorf("transfer %s: %w", id, common.ErrTransient)
	}
	return target.RemoteURL, nil
}

func (f *fakeAdapter) Delete(ctx context.Context, attachmentID, remoteURL string) error {
	return nil
}

func (f *fakeAdapter) tries(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[id]
}

func setup(t *testing.T) (*queue.Queue, *sql.DB) {
	t.Helper()
	db, err := localdb.Open(context.Background(), filepath.Join(t.TempDir(), "agent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	q := queue.New(db, queue.Config{
		MaxRetries:  3,
		BackoffBase: time.Millisecond,
		BackoffMax:  2 * time.Millisecond,
	}, logging.NewDiscard())
	return q, db
}

func startPool(t *testing.T, q *queue.Queue, adapter storage.Adapter) *Pool {
	t.Helper()
	pool := New(q, adapter, Config{
		Workers:     2,
		BatchSize:   2,
		Interval:    5 * time.Millisecond,
		CallTimeout: time.Second,
	}, logging.NewDiscard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pool.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return pool
}

func enqueueFile(t *testing.T, q *queue.Queue, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("capture-bytes"), 0o600))

	id, err := q.Enqueue(context.Background(), queue.EnqueueRequest{
		LocalPath: path,
		MediaType: "image/jpeg",
		Metadata:  models.Metadata{"photoId": name},
	})
	require.NoError(t, err)
	return id
}

func stateOf(t *testing.T, q *queue.Queue, id string) models.State {
	t.Helper()
	a, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	return a.State
}

func TestPool_UploadsEnqueuedAttachments(t *testing.T) {
	q, db := setup(t)
	adapter := newFakeAdapter()
	pool := startPool(t, q, adapter)

	id := enqueueFile(t, q, "a.jpg")
	pool.Kick()

	require.Eventually(t, func() bool {
		return stateOf(t, q, id) == models.StateSynced
	}, 2*time.Second, 5*time.Millisecond)

	a, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "https://store/captures/"+id, a.RemoteURL)

	entries, err := oplog.NewSQLiteRepository(db).SelectUndelivered(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.OperationAdd, entries[0].Type)
}

func TestPool_RetryCeilingScenario(t *testing.T) {
	// Three attachments; the adapter fails every attempt for one of them.
	// That one must reach FAILED after exactly MaxRetries cycles while the
	// other two reach SYNCED.
	q, db := setup(t)
	adapter := newFakeAdapter()

	good1 := enqueueFile(t, q, "good1.jpg")
	good2 := enqueueFile(t, q, "good2.jpg")
	bad := enqueueFile(t, q, "bad.jpg")
	adapter.failIDs[bad] = true

	pool := startPool(t, q, adapter)
	pool.Kick()

	require.Eventually(t, func() bool {
		return stateOf(t, q, good1) == models.StateSynced &&
			stateOf(t, q, good2) == models.StateSynced &&
			stateOf(t, q, bad) == models.StateFailed
	}, 5*time.Second, 10*time.Millisecond)

	a, err := q.Get(context.Background(), bad)
	require.NoError(t, err)
	assert.Equal(t, 3, a.RetryCount, "no attachment retries past the ceiling")
	assert.Equal(t, 3, adapter.tries(bad), "exactly one transfer per claim cycle")

	// Only the two successes produced ADD entries.
	entries, err := oplog.NewSQLiteRepository(db).SelectUndelivered(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPool_DiscardsResultWhenDeletedMidUpload(t *testing.T) {
	q, db := setup(t)
	adapter := newFakeAdapter()

	id := enqueueFile(t, q, "a.jpg")
	gate := make(chan struct{})
	adapter.blocked[id] = gate

	pool := startPool(t, q, adapter)
	pool.Kick()

	// Wait until the worker is inside the transfer.
	require.Eventually(t, func() bool {
		return adapter.tries(id) == 1
	}, 2*time.Second, 5*time.Millisecond)

	// Delete while the upload is in flight, then let the transfer finish.
	require.NoError(t, q.Delete(context.Background(), id))
	close(gate)

	// The completed transfer must not resurrect the attachment.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, models.StateQueuedDelete, stateOf(t, q, id))

	_, err := oplog.NewSQLiteRepository(db).GetByID(context.Background(),
		models.OperationID(id, models.OperationAdd))
	assert.ErrorIs(t, err, common.ErrNotFound, "no ADD entry for discarded result")
}
