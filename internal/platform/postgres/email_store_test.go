package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresEmailStore(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s := NewPostgresEmailStore(db, nil)
	ctx := context.Background()

	emailID, tenantID := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("JOIN tenants t ON t.id = e.tenant_id")).
		WithArgs(emailID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "tenant_id", "code", "sender_email", "subject", "correlation_id"}).
			AddRow(emailID.String(), tenantID.String(), "ACME", "ap@acme.test", "Invoices", "msg-1"))

	email, err := s.GetEmail(ctx, emailID)
	require.NoError(t, err)
	assert.Equal(t, "ACME", email.TenantCode)
	assert.Equal(t, tenantID, email.TenantID)
	assert.Equal(t, "msg-1", email.CorrelationID)

	mock.ExpectQuery(regexp.QuoteMeta("JOIN tenants")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = s.GetEmail(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrEmailNotFound)

	a1, a2 := uuid.New(), uuid.New()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, filename FROM attachments WHERE email_id = $1")).
		WithArgs(emailID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "filename"}).
			AddRow(a1.String(), "a.pdf").
			AddRow(a2.String(), "b.pdf"))

	names, err := s.AttachmentFilenames(ctx, emailID)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]string{a1: "a.pdf", a2: "b.pdf"}, names)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status <> $2")).
		WithArgs(emailID, "processed", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	first, err := s.MarkProcessed(ctx, emailID, fixedNow)
	require.NoError(t, err)
	assert.True(t, first)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE emails")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	again, err := s.MarkProcessed(ctx, emailID, fixedNow)
	require.NoError(t, err)
	assert.False(t, again)

	mock.ExpectExec(regexp.QuoteMeta("SET status = $2, processed_at = NULL")).
		WithArgs(emailID, "processing", "processed").
		WillReturnResult(sqlmock.NewResult(0, 1))
	reopened, err := s.Reopen(ctx, emailID)
	require.NoError(t, err)
	assert.True(t, reopened)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE emails")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	reopened, err = s.Reopen(ctx, emailID)
	require.NoError(t, err)
	assert.False(t, reopened)

	assert.NoError(t, mock.ExpectationsWereMet())
}
