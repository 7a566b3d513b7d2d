package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
)

// EmailStore reads the inbound emails and attachments that tasks belong to
// and records when an email's extraction group has finished.
type EmailStore interface {
	// GetEmail returns the email or ErrEmailNotFound.
	GetEmail(ctx context.Context, id uuid.UUID) (*domain.EmailInfo, error)

	// AttachmentFilenames maps attachment id to filename for the email.
	AttachmentFilenames(ctx context.Context, emailID uuid.UUID) (map[uuid.UUID]string, error)

	// MarkProcessed sets the email status to processed. It reports false when
	// the email was already processed.
	MarkProcessed(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)

	// Reopen clears the processed status so the email's group can close
	// again. It reports false when the email was not processed.
	Reopen(ctx context.Context, id uuid.UUID) (bool, error)

	// WithTx returns an EmailStore bound to tx.
	WithTx(tx *sql.Tx) EmailStore
}
