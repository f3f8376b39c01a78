package provision

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/envsync"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/provider"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/prometheus"
)

// Step names, in execution order. They double as audit trail step labels.
const (
	StepDatabaseAllocated  = "database_allocated"
	StepSiteRegistered     = "site_registered"
	StepEnvironmentApplied = "environment_applied"
	StepDeployTriggered    = "deploy_triggered"
)

// DatabaseProvisioner allocates an isolated tenant database and returns its
// connection string. Must be idempotent per domain.
type DatabaseProvisioner interface {
	EnsureDatabase(ctx context.Context, domain string) (dsn string, created bool, err error)
}

// AdapterResolver resolves a provider kind to its configured adapter.
type AdapterResolver interface {
	Get(kind model.ProviderKind) (provider.Adapter, error)
}

// Result is the structured outcome of one provisioning run.
type Result struct {
	Success       bool         `json:"success"`
	InProgress    bool         `json:"in_progress,omitempty"`
	Status        model.Status `json:"status"`
	DeploymentURL string       `json:"deployment_url,omitempty"`
	AdminURL      string       `json:"admin_url,omitempty"`
	Logs          []string     `json:"logs"`
}

// Orchestrator drives the end-to-end provisioning sequence for a client:
// allocate database, register site, apply environment, trigger first deploy,
// mark active. Every step is idempotent, so re-invoking after a partial
// failure resumes from the first incomplete step.
type Orchestrator struct {
	store     ClientStore
	cluster   DatabaseProvisioner
	providers AdapterResolver
	locker    Locker
	logger    *zap.Logger
}

// NewOrchestrator wires the orchestrator's collaborators explicitly; nothing
// is read from ambient state, so fakes can stand in for every dependency.
func NewOrchestrator(store ClientStore, cluster DatabaseProvisioner, providers AdapterResolver, locker Locker, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		cluster:   cluster,
		providers: providers,
		locker:    locker,
		logger:    logger,
	}
}

// Provision runs the provisioning sequence for a client. Completed steps are
// detected from the client's persisted bindings and skipped; failed steps are
// not rolled back. Callers may safely invoke this again after a failure.
func (o *Orchestrator) Provision(ctx context.Context, clientID string, kind model.ProviderKind, extraEnv map[string]string) (*Result, error) {
	client, err := o.store.Get(ctx, clientID)
	if err != nil {
		prometheus.RecordProvisioningRun("rejected")
		return nil, err
	}

	// Lifecycle guards run before any side effect
	switch client.Status {
	case model.StatusDeleted:
		prometheus.RecordProvisioningRun("rejected")
		return nil, fmt.Errorf("client %s: %w", clientID, ErrClientDeleted)
	case model.StatusSuspended:
		prometheus.RecordProvisioningRun("rejected")
		return nil, fmt.Errorf("client %s: %w", clientID, ErrClientSuspended)
	case model.StatusActive:
		prometheus.RecordProvisioningRun("rejected")
		return nil, fmt.Errorf("client %s: %w", clientID, ErrAlreadyActive)
	}

	if client.Name == "" || client.Domain == "" {
		prometheus.RecordProvisioningRun("rejected")
		return nil, fmt.Errorf("client %s: %w: name and domain are required", clientID, ErrMissingFields)
	}

	if kind == "" {
		kind = client.ProviderKind
	}
	if !kind.IsValid() {
		prometheus.RecordProvisioningRun("rejected")
		return nil, fmt.Errorf("client %s: invalid provider kind %q", clientID, kind)
	}
	if client.ProviderKind != "" && client.ProviderKind != kind {
		prometheus.RecordProvisioningRun("rejected")
		return nil, fmt.Errorf("client %s: already bound to provider %q, cannot switch to %q", clientID, client.ProviderKind, kind)
	}

	adapter, err := o.providers.Get(kind)
	if err != nil {
		prometheus.RecordProvisioningRun("rejected")
		return nil, err
	}

	// Per-client critical section: a concurrent run losing this race is a
	// no-op, not an error.
	release, ok, err := o.locker.Acquire(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("acquire provisioning lock: %w", err)
	}
	if !ok {
		o.logger.Info("Provisioning already in progress",
			zap.String("client_id", clientID))
		prometheus.RecordProvisioningRun("in_progress")
		return &Result{
			InProgress: true,
			Status:     client.Status,
			Logs:       []string{"provisioning already in progress for this client"},
		}, nil
	}
	defer release()

	client.ProviderKind = kind
	client.Status = model.StatusProvisioning
	client.AuditLog = client.AuditLog.Append("", "provisioning run started (provider=%s)", kind)
	if err := o.store.SaveProgress(ctx, client); err != nil {
		return nil, fmt.Errorf("persist provisioning status: %w", err)
	}

	run := &attempt{orchestrator: o, client: client}

	// Step 1: allocate the tenant database. The site cannot be deployed
	// without its connection string, so this always comes first.
	if client.HasDatabaseBinding() {
		run.skip(StepDatabaseAllocated, "database binding already present")
	} else {
		err := run.step(ctx, StepDatabaseAllocated, func() (string, error) {
			client.DatabaseURL = model.PendingDatabaseSentinel
			if err := o.store.SaveProgress(ctx, client); err != nil {
				return "", err
			}
			dsn, created, err := o.cluster.EnsureDatabase(ctx, client.Domain)
			if err != nil {
				return "", err
			}
			if !created {
				// Distinct domains can sanitize to the same database name;
				// a database held by another client must never be reused.
				owner, err := o.store.DatabaseOwner(ctx, dsn)
				if err != nil {
					return "", err
				}
				if owner != "" && owner != client.ID {
					return "", fmt.Errorf("%w: database for domain %q already belongs to client %s", ErrDatabaseConflict, client.Domain, owner)
				}
			}
			client.DatabaseURL = dsn
			if created {
				return "tenant database created", nil
			}
			return "existing tenant database reused", nil
		})
		if err != nil {
			return run.fail(ctx, StepDatabaseAllocated, err)
		}
	}

	// Step 2: register the site with the hosting provider.
	if client.HasSiteBinding() {
		run.skip(StepSiteRegistered, "provider site already registered")
	} else {
		err := run.step(ctx, StepSiteRegistered, func() (string, error) {
			site, err := adapter.RegisterSite(ctx, client.Name, client.Domain)
			if err != nil {
				return "", err
			}
			client.ProviderSiteID = site.ID
			client.DeploymentURL = site.DeploymentURL
			client.AdminURL = site.AdminURL
			return fmt.Sprintf("site registered (id=%s)", site.ID), nil
		})
		if err != nil {
			return run.fail(ctx, StepSiteRegistered, err)
		}
	}

	// Step 3: inject the environment. Always re-applied; the merge preserves
	// provider-side keys we do not own.
	err = run.step(ctx, StepEnvironmentApplied, func() (string, error) {
		raw, err := adapter.GetEnvironment(ctx, client.ProviderSiteID)
		if err != nil {
			return "", err
		}
		overlay := envsync.BuildFeatureEnv(client.FeatureFlags)
		overlay["DATABASE_URL"] = client.DatabaseURL
		overlay["APP_NAME"] = client.Name
		overlay["APP_DOMAIN"] = client.Domain
		for k, v := range extraEnv {
			overlay[k] = v
		}
		merged := envsync.MergeEnv(envsync.ParseEnv(raw), overlay)
		if err := adapter.SetEnvironment(ctx, client.ProviderSiteID, envsync.SerializeEnv(merged)); err != nil {
			return "", err
		}
		return fmt.Sprintf("environment applied (%d variables)", len(merged)), nil
	})
	if err != nil {
		return run.fail(ctx, StepEnvironmentApplied, err)
	}

	// Step 4: trigger the first deploy.
	err = run.step(ctx, StepDeployTriggered, func() (string, error) {
		result, err := adapter.Deploy(ctx, client.ProviderSiteID)
		if err != nil {
			return "", err
		}
		if result.Message != "" {
			return fmt.Sprintf("deploy triggered: %s", result.Message), nil
		}
		return "deploy triggered", nil
	})
	if err != nil {
		return run.fail(ctx, StepDeployTriggered, err)
	}

	// Done: status and bindings are committed together.
	client.AuditLog = client.AuditLog.Append("", "provisioning completed, client active")
	if err := o.store.Activate(ctx, client); err != nil {
		return run.fail(ctx, "activate", err)
	}

	o.logger.Info("Client provisioned",
		zap.String("client_id", client.ID),
		zap.String("domain", client.Domain),
		zap.String("provider", string(kind)),
		zap.String("deployment_url", client.DeploymentURL))
	prometheus.RecordProvisioningRun("success")

	return &Result{
		Success:       true,
		Status:        model.StatusActive,
		DeploymentURL: client.DeploymentURL,
		AdminURL:      client.AdminURL,
		Logs:          run.logs,
	}, nil
}

// attempt tracks one run's ordered step log.
type attempt struct {
	orchestrator *Orchestrator
	client       *model.Client
	logs         []string
}

func (a *attempt) skip(step, reason string) {
	msg := fmt.Sprintf("%s: skipped (%s)", step, reason)
	a.logs = append(a.logs, msg)
	a.client.AuditLog = a.client.AuditLog.Append(step, "skipped: %s", reason)
	prometheus.RecordProvisioningStep(step, "skipped")
	a.orchestrator.logger.Info("Provisioning step skipped",
		zap.String("client_id", a.client.ID),
		zap.String("step", step),
		zap.String("reason", reason))
}

func (a *attempt) step(ctx context.Context, step string, fn func() (string, error)) error {
	defer prometheus.TrackStep(step)(time.Now())

	msg, err := fn()
	if err != nil {
		prometheus.RecordProvisioningStep(step, "failed")
		return err
	}

	a.logs = append(a.logs, fmt.Sprintf("%s: %s", step, msg))
	a.client.AuditLog = a.client.AuditLog.Append(step, "%s", msg)
	prometheus.RecordProvisioningStep(step, "ok")

	if err := a.orchestrator.store.SaveProgress(ctx, a.client); err != nil {
		return fmt.Errorf("persist step progress: %w", err)
	}

	a.orchestrator.logger.Info("Provisioning step completed",
		zap.String("client_id", a.client.ID),
		zap.String("step", step),
		zap.String("detail", msg))
	return nil
}

// fail records the step failure on the audit trail and leaves the client in
// provisioning so the run can be retried. Completed steps are not rolled back.
func (a *attempt) fail(ctx context.Context, step string, cause error) (*Result, error) {
	a.logs = append(a.logs, fmt.Sprintf("%s: failed: %v", step, cause))
	a.client.AuditLog = a.client.AuditLog.Append(step, "failed: %v", cause)

	if err := a.orchestrator.store.SaveProgress(ctx, a.client); err != nil {
		a.orchestrator.logger.Error("Failed to persist provisioning failure",
			zap.String("client_id", a.client.ID),
			zap.Error(err))
	}

	a.orchestrator.logger.Error("Provisioning step failed",
		zap.String("client_id", a.client.ID),
		zap.String("step", step),
		zap.Error(cause))
	prometheus.RecordProvisioningRun("failed")

	return &Result{
			Success: false,
			Status:  model.StatusProvisioning,
			Logs:    a.logs,
		}, &StepError{
			ClientID: a.client.ID,
			Step:     step,
			Err:      cause,
		}
}
