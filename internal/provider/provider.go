package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/prometheus"
)

// Error classes surfaced by adapters. Transient errors have already been
// retried inside the adapter; auth and validation errors are never retried.
var (
	ErrAuth       = errors.New("provider authentication failed")
	ErrValidation = errors.New("provider rejected request")
	ErrTransient  = errors.New("provider temporarily unavailable")
)

// Site is the provider-assigned handle for a registered client site.
type Site struct {
	ID            string
	DeploymentURL string
	AdminURL      string
}

// DeployResult reports the outcome of a triggered deployment.
type DeployResult struct {
	DeploymentID string
	Message      string
}

// Adapter is the uniform contract over heterogeneous hosting control planes.
// The orchestrator and the environment synchronizer depend on this interface
// only; provider choice is per-client configuration.
type Adapter interface {
	// Kind identifies the control plane this adapter drives.
	Kind() model.ProviderKind

	// RegisterSite creates the hosting-side site/project for a client.
	RegisterSite(ctx context.Context, name, domain string) (*Site, error)

	// GetEnvironment fetches the site's current raw environment text.
	// A site that has never been configured yields an empty string.
	GetEnvironment(ctx context.Context, siteID string) (string, error)

	// SetEnvironment replaces the site's raw environment text.
	SetEnvironment(ctx context.Context, siteID, raw string) error

	// Deploy triggers the full build/deploy pipeline.
	Deploy(ctx context.Context, siteID string) (*DeployResult, error)

	// Reload performs the lighter process-level restart needed to pick up
	// environment changes, without a rebuild.
	Reload(ctx context.Context, siteID string) error
}

// Registry resolves a provider kind to its configured adapter.
type Registry struct {
	adapters map[model.ProviderKind]Adapter
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.ProviderKind]Adapter)}
	for _, a := range adapters {
		r.adapters[a.Kind()] = a
	}
	return r
}

// Get returns the adapter for a provider kind.
func (r *Registry) Get(kind model.ProviderKind) (Adapter, error) {
	a, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("unsupported provider kind %q", kind)
	}
	return a, nil
}

// classify maps an HTTP exchange to the adapter error taxonomy. Network
// failures arrive here only after resty has exhausted its retries. The
// operation string starts with the provider name.
func classify(operation string, resp *resty.Response, err error) error {
	cerr := classifyExchange(operation, resp, err)
	if cerr != nil {
		kind, op, _ := strings.Cut(operation, " ")
		prometheus.RecordProviderError(kind, op)
	}
	return cerr
}

func classifyExchange(operation string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrTransient, operation, err)
	}
	if resp == nil {
		return fmt.Errorf("%w: %s: no response", ErrTransient, operation)
	}
	status := resp.StatusCode()
	switch {
	case status == 401 || status == 403:
		return fmt.Errorf("%w: %s: status %d", ErrAuth, operation, status)
	case status >= 500:
		return fmt.Errorf("%w: %s: status %d", ErrTransient, operation, status)
	case status >= 400:
		// Surface the provider's validation message verbatim
		return fmt.Errorf("%w: %s: status %d: %s", ErrValidation, operation, status, resp.String())
	}
	return nil
}

// retryOnTransient restricts resty retries to connection failures and 5xx
// responses; auth and validation rejections must not be retried.
func retryOnTransient(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	return r != nil && r.StatusCode() >= 500
}
