//go:build integration

package testdb

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/phrazzld/mailpipe/internal/platform/postgres"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Environment variables naming an existing database to use instead of a
// container, in order of precedence.
var databaseURLEnvVars = []string{"MAILPIPE_TEST_DB_URL", "DATABASE_URL"}

// Start returns an open connection to a migrated database. When one of
// databaseURLEnvVars is set (as in CI, where Postgres runs as a service)
// that database is reset and reused; otherwise a PostgreSQL container is
// started and terminated when the test finishes.
func Start(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	connStr, external := externalURL()
	if !external {
		connStr = startContainer(t)
	}

	db, err := sql.Open("pgx", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.PingContext(ctx))
	if external {
		require.NoError(t, postgres.Migrate(ctx, db, postgres.MigrateReset, nil))
	}
	require.NoError(t, postgres.Migrate(ctx, db, postgres.MigrateUp, nil))
	return db
}

func externalURL() (string, bool) {
	for _, name := range databaseURLEnvVars {
		if v := os.Getenv(name); v != "" {
			return v, true
		}
	}
	return "", false
}

func startContainer(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("mailpipe_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

// Fixture identifies a seeded tenant, email and its attachments.
type Fixture struct {
	TenantID      uuid.UUID
	EmailID       uuid.UUID
	AttachmentIDs []uuid.UUID
}

// SeedEmail inserts a tenant, an email and n attachments.
func SeedEmail(t *testing.T, db *sql.DB, webhookURL string, n int) Fixture {
	t.Helper()
	ctx := context.Background()

	f := Fixture{TenantID: uuid.New(), EmailID: uuid.New()}

	_, err := db.ExecContext(ctx, `
		INSERT INTO tenants (id, code, name, webhook_enabled, webhook_url)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))`,
		f.TenantID, "T"+f.TenantID.String()[:8], "Test tenant", webhookURL != "", webhookURL)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `
		INSERT INTO emails (id, tenant_id, correlation_id, sender_email, subject)
		VALUES ($1, $2, $3, $4, $5)`,
		f.EmailID, f.TenantID, "msg-"+f.EmailID.String()[:8], "ap@tenant.test", "Invoices")
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		id := uuid.New()
		_, err = db.ExecContext(ctx, `
			INSERT INTO attachments (id, email_id, filename, pdf_path)
			VALUES ($1, $2, $3, $4)`,
			id, f.EmailID, id.String()[:8]+".pdf", "inbox/"+id.String()+".pdf")
		require.NoError(t, err)
		f.AttachmentIDs = append(f.AttachmentIDs, id)
	}
	return f
}
