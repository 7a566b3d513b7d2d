package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/mailpipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		TableName:      "extraction_tasks",
		ColumnName:     "attachment_id",
		ConstraintName: "extraction_tasks_attachment_id_key",
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no rows", sql.ErrNoRows, store.ErrNotFound},
		{"wrapped no rows", fmt.Errorf("scan: %w", sql.ErrNoRows), store.ErrNotFound},
		{"unique", newPgError(uniqueViolationCode), store.ErrDuplicate},
		{"foreign key", newPgError(foreignKeyViolationCode), store.ErrInvalidEntity},
		{"check", newPgError(checkViolationCode), store.ErrInvalidEntity},
		{"not null", newPgError(notNullViolationCode), store.ErrInvalidEntity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.ErrorIs(t, MapError(tc.err), tc.want)
		})
	}

	assert.NoError(t, MapError(nil))

	other := errors.New("connection refused")
	assert.Equal(t, other, MapError(other))

	serialization := newPgError("40001")
	assert.Equal(t, error(serialization), MapError(serialization))
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	assert.True(t, IsUniqueViolation(newPgError(uniqueViolationCode)))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", newPgError(uniqueViolationCode))))
	assert.False(t, IsUniqueViolation(newPgError(checkViolationCode)))
	assert.False(t, IsUniqueViolation(errors.New("plain")))
}

func TestRequireOneRow(t *testing.T) {
	t.Parallel()

	assert.NoError(t, requireOneRow(sqlmock.NewResult(0, 1), store.ErrConflict))
	assert.ErrorIs(t, requireOneRow(sqlmock.NewResult(0, 0), store.ErrConflict), store.ErrConflict)

	err := requireOneRow(sqlmock.NewErrorResult(errors.New("driver")), store.ErrConflict)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rows affected")
}
