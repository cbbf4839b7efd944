package devices

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
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

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+devices\s*\(id,\s*name,\s*secret_hash\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*$`

	mock.ExpectExec(q).
		WithArgs("d1", "kitchen-tablet", []byte("hash")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.Device{
		ID: "d1", Name: "kitchen-tablet", SecretHash: []byte("hash"),
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`INSERT\s+INTO\s+devices`).
		WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &models.Device{ID: "d1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetByID_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "name", "secret_hash", "created_at"}).
		AddRow("d1", "kitchen-tablet", []byte("hash"), created)
	mock.ExpectQuery(`SELECT\s+id,\s*name,\s*secret_hash,\s*created_at\s+FROM\s+devices`).
		WithArgs("d1").
		WillReturnRows(rows)

	d, err := repo.GetByID(context.Background(), "d1")
	if err != nil {
		t.Fatalf("GetByID error: %v", err)
	}
	if d.ID != "d1" || d.Name != "kitchen-tablet" || string(d.SecretHash) != "hash" {
		t.Fatalf("unexpected device: %+v", d)
	}
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT\s+id,\s*name,\s*secret_hash,\s*created_at\s+FROM\s+devices`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected common.ErrNotFound, got %v", err)
	}
}
