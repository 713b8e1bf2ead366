package documents

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/docshare/internal/common"
	"github.com/dmitrijs2005/docshare/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

var docCols = []string{"id", "owner_id", "title", "storage_key", "content_type", "size_bytes", "created_at"}

func TestCreate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	created := time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)INSERT INTO documents \(owner_id, title, storage_key, content_type, size_bytes\).*RETURNING id, created_at`).
		WithArgs("u1", "Report", "u1/k", "application/pdf", int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("d1", created))

	got, err := repo.Create(context.Background(), &models.Document{
		OwnerID: "u1", Title: "Report", StorageKey: "u1/k", ContentType: "application/pdf", SizeBytes: 42,
	})
	require.NoError(t, err)
	assert.Equal(t, "d1", got.ID)
	assert.Equal(t, created, got.CreatedAt)
}

func TestGetByID(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectQuery(`(?s)SELECT id, owner_id, title.*FROM documents WHERE id = \$1`).
			WithArgs("d1").
			WillReturnRows(sqlmock.NewRows(docCols).AddRow("d1", "u1", "T", "k", "text/plain", 1, time.Time{}))

		got, err := repo.GetByID(context.Background(), "d1")
		require.NoError(t, err)
		assert.Equal(t, "u1", got.OwnerID)
		assert.Equal(t, "k", got.StorageKey)
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectQuery(`FROM documents WHERE id = \$1`).WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByID(context.Background(), "d1")
		assert.ErrorIs(t, err, common.ErrorNotFound)
	})
}

func TestListByOwner(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`(?s)FROM documents WHERE owner_id = \$1\s+ORDER BY created_at DESC, id`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows(docCols).
			AddRow("d2", "u1", "B", "k2", "text/plain", 2, time.Time{}).
			AddRow("d1", "u1", "A", "k1", "text/plain", 1, time.Time{}))

	got, err := repo.ListByOwner(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "d2", got[0].ID)
	assert.Equal(t, "d1", got[1].ID)
}

func TestListByOwner_QueryError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`FROM documents WHERE owner_id`).WillReturnError(errors.New("db err"))

	_, err := repo.ListByOwner(context.Background(), "u1")
	require.Error(t, err)
	assert.Regexp(t, `failed to select documents: .*db err`, err.Error())
}

func TestDelete(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectExec(`DELETE FROM documents WHERE id = \$1`).
			WithArgs("d1").WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Delete(context.Background(), "d1"))
	})

	t.Run("missing", func(t *testing.T) {
		repo, mock, db := newRepoWithMock(t)
		defer db.Close()

		mock.ExpectExec(`DELETE FROM documents`).WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.Delete(context.Background(), "d1"), common.ErrorNotFound)
	})
}
