package provision

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
)

// ClientStore is the slice of client persistence the orchestrator needs.
// Updates are field-selective so concurrent webhook counter increments are
// never clobbered by provisioning progress writes.
type ClientStore interface {
	Get(ctx context.Context, id string) (*model.Client, error)

	// SaveProgress persists the client's status, bindings and audit trail.
	SaveProgress(ctx context.Context, client *model.Client) error

	// Activate commits status=active together with the deployment and
	// database bindings in one transaction.
	Activate(ctx context.Context, client *model.Client) error

	// DatabaseOwner returns the id of the client currently bound to a tenant
	// database connection string, or "" when no client holds it.
	DatabaseOwner(ctx context.Context, dsn string) (string, error)
}

// GormStore implements ClientStore on the platform database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Get loads a client by id.
func (s *GormStore) Get(ctx context.Context, id string) (*model.Client, error) {
	var client model.Client
	result := s.db.WithContext(ctx).First(&client, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, result.Error
	}
	return &client, nil
}

// SaveProgress persists provisioning progress without touching financial counters.
func (s *GormStore) SaveProgress(ctx context.Context, client *model.Client) error {
	return s.db.WithContext(ctx).Model(&model.Client{}).
		Where("id = ?", client.ID).
		Updates(map[string]interface{}{
			"status":           client.Status,
			"provider_kind":    client.ProviderKind,
			"provider_site_id": client.ProviderSiteID,
			"deployment_url":   client.DeploymentURL,
			"admin_url":        client.AdminURL,
			"database_url":     client.DatabaseURL,
			"audit_log":        client.AuditLog,
			"updated_at":       time.Now().UTC(),
		}).Error
}

// DatabaseOwner looks up which client, if any, is bound to a tenant DSN.
func (s *GormStore) DatabaseOwner(ctx context.Context, dsn string) (string, error) {
	var client model.Client
	result := s.db.WithContext(ctx).Select("id").First(&client, "database_url = ?", dsn)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", result.Error
	}
	return client.ID, nil
}

// Activate transitions the client to active atomically with its bindings, so
// there is no state where the status says active but a binding is missing.
func (s *GormStore) Activate(ctx context.Context, client *model.Client) error {
	if !client.HasDatabaseBinding() || !client.HasSiteBinding() {
		return ErrMissingFields
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Model(&model.Client{}).
			Where("id = ?", client.ID).
			Updates(map[string]interface{}{
				"status":           model.StatusActive,
				"provider_kind":    client.ProviderKind,
				"provider_site_id": client.ProviderSiteID,
				"deployment_url":   client.DeploymentURL,
				"admin_url":        client.AdminURL,
				"database_url":     client.DatabaseURL,
				"audit_log":        client.AuditLog,
				"updated_at":       time.Now().UTC(),
			}).Error
	})
}
