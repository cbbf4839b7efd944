package operations

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/fieldtrace/mediasync/internal/common"
	"github.com/fieldtrace/mediasync/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestInsert_New(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+operations.*ON\s+CONFLICT\s*\(id\)\s*DO\s+NOTHING`).
		WithArgs("att-1:ADD", "d1", "ADD", "att-1", "https://store/att-1", []byte(`{"photoId":"p1"}`), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	inserted, err := repo.Insert(context.Background(), &models.Operation{
		ID:            "att-1:ADD",
		DeviceID:      "d1",
		Type:          "ADD",
		AttachmentID:  "att-1",
		RemoteURL:     "https://store/att-1",
		OwnerMetadata: map[string]string{"photoId": "p1"},
		CreatedAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if !inserted {
		t.Fatalf("expected inserted=true for a new operation")
	}
}

func TestInsert_Replay(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)INSERT\s+INTO\s+operations`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.Insert(context.Background(), &models.Operation{
		ID: "att-1:ADD", DeviceID: "d1", Type: "ADD", AttachmentID: "att-1",
	})
	if err != nil {
		t.Fatalf("Insert error: %v", err)
	}
	if inserted {
		t.Fatalf("expected inserted=false for a replayed operation")
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+id,.*FROM\s+operations`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected common.ErrNotFound, got %v", err)
	}
}

func TestGetByID_DecodesMetadata(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "device_id", "operation_type", "attachment_id", "remote_url",
		"owner_metadata", "created_at", "applied_at",
	}).AddRow("att-1:ADD", "d1", "ADD", "att-1", "", []byte(`{"photoId":"p1"}`), now, now)
	mock.ExpectQuery(`SELECT\s+id,.*FROM\s+operations`).
		WithArgs("att-1:ADD").
		WillReturnRows(rows)

	op, err := repo.GetByID(context.Background(), "att-1:ADD")
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if op.OwnerMetadata["photoId"] != "p1" {
		t.Fatalf("unexpected metadata: %+v", op.OwnerMetadata)
	}
}
