package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PendingDatabaseSentinel is stored as the database binding while allocation
// is still in flight.
const PendingDatabaseSentinel = "PENDING_DATABASE_CREATION"

// Status is the client lifecycle state. Deletion is a terminal state in the
// same enum, never a separate flag, so a client cannot be both active and deleted.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusProvisioning Status = "provisioning"
	StatusActive       Status = "active"
	StatusSuspended    Status = "suspended"
	StatusDeleted      Status = "deleted"
)

// IsValid reports whether s is a known lifecycle state.
func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusProvisioning, StatusActive, StatusSuspended, StatusDeleted:
		return true
	}
	return false
}

// legal lifecycle transitions; deleted has no outgoing edges
var transitions = map[Status][]Status{
	StatusDraft:        {StatusProvisioning, StatusDeleted},
	StatusProvisioning: {StatusProvisioning, StatusActive, StatusDeleted},
	StatusActive:       {StatusSuspended, StatusDeleted},
	StatusSuspended:    {StatusActive, StatusDeleted},
	StatusDeleted:      {},
}

// CanTransition reports whether moving from s to target is a legal lifecycle change.
func (s Status) CanTransition(target Status) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// ProviderKind identifies which hosting control plane a client deploys to.
type ProviderKind string

const (
	ProviderPloi   ProviderKind = "ploi"
	ProviderVercel ProviderKind = "vercel"
)

// IsValid reports whether k is a supported provider.
func (k ProviderKind) IsValid() bool {
	return k == ProviderPloi || k == ProviderVercel
}

// FeatureFlags maps feature name to its value ("true"/"false" or an enum string).
// Stored as jsonb on the client record.
type FeatureFlags map[string]string

// Value implements driver.Valuer for jsonb storage
func (f FeatureFlags) Value() (driver.Value, error) {
	if f == nil {
		return "{}", nil
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for jsonb storage
func (f *FeatureFlags) Scan(value interface{}) error {
	if value == nil {
		*f = FeatureFlags{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for FeatureFlags")
	}
	if len(data) == 0 {
		*f = FeatureFlags{}
		return nil
	}
	return json.Unmarshal(data, f)
}

// AuditEntry is one timestamped note on a client's append-only audit trail.
type AuditEntry struct {
	At      time.Time `json:"at"`
	Step    string    `json:"step,omitempty"`
	Message string    `json:"message"`
}

// AuditTrail is the append-only list of audit entries, stored as jsonb.
type AuditTrail []AuditEntry

// Value implements driver.Valuer for jsonb storage
func (a AuditTrail) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for jsonb storage
func (a *AuditTrail) Scan(value interface{}) error {
	if value == nil {
		*a = AuditTrail{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("unsupported type for AuditTrail")
	}
	if len(data) == 0 {
		*a = AuditTrail{}
		return nil
	}
	return json.Unmarshal(data, a)
}

// Append returns the trail with a new timestamped entry added.
func (a AuditTrail) Append(step, format string, args ...interface{}) AuditTrail {
	return append(a, AuditEntry{
		At:      time.Now().UTC(),
		Step:    step,
		Message: fmt.Sprintf(format, args...),
	})
}

// Client represents one isolated customer deployment managed by the platform.
// It is the only durable state the provisioning core owns.
type Client struct {
	ID     string `json:"id" gorm:"type:uuid;primaryKey"`
	Name   string `json:"name" gorm:"type:varchar(100);not null"`
	Domain string `json:"domain" gorm:"type:varchar(100);uniqueIndex;not null"`
	Status Status `json:"status" gorm:"type:varchar(20);index;default:'draft'"`

	// Deployment binding
	ProviderKind   ProviderKind `json:"provider_kind" gorm:"type:varchar(20)"`
	ProviderSiteID string       `json:"provider_site_id" gorm:"type:varchar(100)"`
	DeploymentURL  string       `json:"deployment_url" gorm:"type:varchar(255)"`
	AdminURL       string       `json:"admin_url" gorm:"type:varchar(255)"`

	// Database binding; PendingDatabaseSentinel while allocation is in flight
	DatabaseURL string `json:"database_url" gorm:"type:varchar(255)"`

	// Plan doubles as the pricing tier for commission rates and the tenant
	// type exposed to downstream services.
	Plan string `json:"plan" gorm:"type:varchar(50);default:'standard'"`

	FeatureFlags FeatureFlags `json:"feature_flags" gorm:"type:jsonb"`

	// Financial counters, mutated only by the webhook reconciler and only upward
	TotalVolume   float64    `json:"total_volume" gorm:"default:0"`
	TotalRevenue  float64    `json:"total_revenue" gorm:"default:0"`
	LastPaymentAt *time.Time `json:"last_payment_at,omitempty"`

	AuditLog AuditTrail `json:"audit_log" gorm:"type:jsonb"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasDatabaseBinding reports whether a real (non-sentinel) connection string is set.
func (c *Client) HasDatabaseBinding() bool {
	return c.DatabaseURL != "" && c.DatabaseURL != PendingDatabaseSentinel
}

// HasSiteBinding reports whether the client is registered with a hosting provider.
func (c *Client) HasSiteBinding() bool {
	return c.ProviderSiteID != ""
}
