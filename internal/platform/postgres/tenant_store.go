package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/phrazzld/mailpipe/internal/domain"
	"github.com/phrazzld/mailpipe/internal/store"
)

// PostgresTenantStore reads tenant webhook configuration and active
// extraction templates.
type PostgresTenantStore struct {
	db     store.DBTX
	logger *slog.Logger
}

// NewPostgresTenantStore creates a tenant store. A nil logger uses the default.
func NewPostgresTenantStore(db store.DBTX, log *slog.Logger) *PostgresTenantStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresTenantStore{
		db:     db,
		logger: log.With(slog.String("component", "tenant_store")),
	}
}

// GetWebhookConfig returns the tenant's webhook settings.
func (s *PostgresTenantStore) GetWebhookConfig(ctx context.Context, tenantID uuid.UUID) (domain.WebhookConfig, error) {
	var cfg domain.WebhookConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT webhook_enabled, COALESCE(webhook_url, ''), COALESCE(webhook_secret, '')
		FROM tenants WHERE id = $1`, tenantID).Scan(&cfg.Enabled, &cfg.URL, &cfg.Secret)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.WebhookConfig{}, store.ErrTenantNotFound
		}
		return domain.WebhookConfig{}, store.NewStoreError("tenant", "get_webhook_config", "query failed", MapError(err))
	}
	return cfg, nil
}

// IsWebhookEnabled reports whether the tenant has webhook delivery enabled.
func (s *PostgresTenantStore) IsWebhookEnabled(ctx context.Context, tenantID uuid.UUID) (bool, error) {
	cfg, err := s.GetWebhookConfig(ctx, tenantID)
	if err != nil {
		return false, err
	}
	return cfg.Enabled, nil
}

// GetWebhookURL returns the tenant's webhook URL, or "" when none is configured.
func (s *PostgresTenantStore) GetWebhookURL(ctx context.Context, tenantID uuid.UUID) (string, error) {
	cfg, err := s.GetWebhookConfig(ctx, tenantID)
	if err != nil {
		return "", err
	}
	return cfg.URL, nil
}

// FindActiveTemplate returns the file path of the newest active template
// for the tenant and source, or store.ErrTemplateNotFound.
func (s *PostgresTenantStore) FindActiveTemplate(ctx context.Context, tenantID uuid.UUID, source string) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `
		SELECT file_path FROM extraction_templates
		WHERE tenant_id = $1 AND source = $2 AND is_active
		ORDER BY version DESC
		LIMIT 1`, tenantID, source).Scan(&path)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", store.ErrTemplateNotFound
		}
		return "", store.NewStoreError("extraction_template", "find_active", "query failed", MapError(err))
	}
	return path, nil
}
