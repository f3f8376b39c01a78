package provision

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/cluster"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/provider"
)

// fakeStore is an in-memory ClientStore.
type fakeStore struct {
	clients map[string]*model.Client
}

func newFakeStore(clients ...*model.Client) *fakeStore {
	s := &fakeStore{clients: make(map[string]*model.Client)}
	for _, c := range clients {
		cp := *c
		s.clients[c.ID] = &cp
	}
	return s
}

func (s *fakeStore) Get(ctx context.Context, id string) (*model.Client, error) {
	c, ok := s.clients[id]
	if !ok {
		return nil, ErrClientNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *fakeStore) SaveProgress(ctx context.Context, client *model.Client) error {
	cp := *client
	s.clients[client.ID] = &cp
	return nil
}

func (s *fakeStore) DatabaseOwner(ctx context.Context, dsn string) (string, error) {
	for _, c := range s.clients {
		if c.DatabaseURL == dsn {
			return c.ID, nil
		}
	}
	return "", nil
}

func (s *fakeStore) Activate(ctx context.Context, client *model.Client) error {
	if !client.HasDatabaseBinding() || !client.HasSiteBinding() {
		return ErrMissingFields
	}
	cp := *client
	cp.Status = model.StatusActive
	s.clients[client.ID] = &cp
	return nil
}

// fakeCluster counts creations so tests can prove idempotency.
type fakeCluster struct {
	created map[string]bool
	calls   int
	err     error
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{created: make(map[string]bool)}
}

func (f *fakeCluster) EnsureDatabase(ctx context.Context, domain string) (string, bool, error) {
	f.calls++
	if f.err != nil {
		return "", false, f.err
	}
	name := cluster.DatabaseName(domain)
	created := !f.created[name]
	f.created[name] = true
	return "postgres://cluster/" + name, created, nil
}

// fakeLocker simulates the per-client critical section.
type fakeLocker struct {
	busy bool
}

func (l *fakeLocker) Acquire(ctx context.Context, clientID string) (func(), bool, error) {
	if l.busy {
		return nil, false, nil
	}
	return func() {}, true, nil
}

// mockAdapter is a testify mock over the provider adapter.
type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Kind() model.ProviderKind { return model.ProviderPloi }

func (m *mockAdapter) RegisterSite(ctx context.Context, name, domain string) (*provider.Site, error) {
	args := m.Called(name, domain)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.Site), args.Error(1)
}

func (m *mockAdapter) GetEnvironment(ctx context.Context, siteID string) (string, error) {
	args := m.Called(siteID)
	return args.String(0), args.Error(1)
}

func (m *mockAdapter) SetEnvironment(ctx context.Context, siteID, raw string) error {
	args := m.Called(siteID, raw)
	return args.Error(0)
}

func (m *mockAdapter) Deploy(ctx context.Context, siteID string) (*provider.DeployResult, error) {
	args := m.Called(siteID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*provider.DeployResult), args.Error(1)
}

func (m *mockAdapter) Reload(ctx context.Context, siteID string) error {
	args := m.Called(siteID)
	return args.Error(0)
}

func newOrchestrator(store ClientStore, cl DatabaseProvisioner, a provider.Adapter, locker Locker) *Orchestrator {
	return NewOrchestrator(store, cl, provider.NewRegistry(a), locker, zap.NewNop())
}

func stepEntries(trail model.AuditTrail) []string {
	var steps []string
	for _, e := range trail {
		if e.Step != "" && !strings.HasPrefix(e.Message, "failed") && !strings.HasPrefix(e.Message, "skipped") {
			steps = append(steps, e.Step)
		}
	}
	return steps
}

func TestProvisionHappyPath(t *testing.T) {
	store := newFakeStore(&model.Client{
		ID:     "acme-id",
		Name:   "Acme",
		Domain: "acme",
		Status: model.StatusDraft,
	})
	cl := newFakeCluster()
	adapter := new(mockAdapter)
	adapter.On("RegisterSite", "Acme", "acme").Return(&provider.Site{
		ID:            "site-42",
		DeploymentURL: "https://acme.example.com",
		AdminURL:      "https://acme.example.com/admin",
	}, nil)
	adapter.On("GetEnvironment", "site-42").Return("", nil)
	adapter.On("SetEnvironment", "site-42", mock.MatchedBy(func(raw string) bool {
		return strings.Contains(raw, "DATABASE_URL=postgres://cluster/client_acme") &&
			strings.Contains(raw, "APP_DOMAIN=acme")
	})).Return(nil)
	adapter.On("Deploy", "site-42").Return(&provider.DeployResult{Message: "queued"}, nil)

	o := newOrchestrator(store, cl, adapter, &fakeLocker{})
	result, err := o.Provision(context.Background(), "acme-id", model.ProviderPloi, nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, model.StatusActive, result.Status)
	assert.Equal(t, "https://acme.example.com", result.DeploymentURL)
	assert.Len(t, result.Logs, 4)

	final, err := store.Get(context.Background(), "acme-id")
	require.NoError(t, err)
	assert.Equal(t, model.StatusActive, final.Status)
	assert.Equal(t, "postgres://cluster/client_acme", final.DatabaseURL)
	assert.Equal(t, "site-42", final.ProviderSiteID)
	assert.Equal(t, []string{
		StepDatabaseAllocated,
		StepSiteRegistered,
		StepEnvironmentApplied,
		StepDeployTriggered,
	}, stepEntries(final.AuditLog))

	adapter.AssertExpectations(t)
}

func TestProvisionResumesAfterDatabaseStep(t *testing.T) {
	// A prior run allocated the database and then failed; the retry must not
	// create a second database and proceeds straight to site registration.
	store := newFakeStore(&model.Client{
		ID:           "acme-id",
		Name:         "Acme",
		Domain:       "acme",
		Status:       model.StatusProvisioning,
		ProviderKind: model.ProviderPloi,
		DatabaseURL:  "postgres://cluster/client_acme",
	})
	cl := newFakeCluster()
	adapter := new(mockAdapter)
	adapter.On("RegisterSite", "Acme", "acme").Return(&provider.Site{ID: "site-42"}, nil)
	adapter.On("GetEnvironment", "site-42").Return("", nil)
	adapter.On("SetEnvironment", "site-42", mock.Anything).Return(nil)
	adapter.On("Deploy", "site-42").Return(&provider.DeployResult{}, nil)

	o := newOrchestrator(store, cl, adapter, &fakeLocker{})
	result, err := o.Provision(context.Background(), "acme-id", "", nil)
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, 0, cl.calls, "existing database binding must be reused, not recreated")
	assert.Contains(t, result.Logs[0], "skipped")
}

func TestProvisionDeletedClientRejected(t *testing.T) {
	store := newFakeStore(&model.Client{
		ID:     "gone-id",
		Name:   "Gone",
		Domain: "gone",
		Status: model.StatusDeleted,
	})
	cl := newFakeCluster()
	adapter := new(mockAdapter)

	o := newOrchestrator(store, cl, adapter, &fakeLocker{})
	_, err := o.Provision(context.Background(), "gone-id", model.ProviderPloi, nil)

	require.ErrorIs(t, err, ErrClientDeleted)
	assert.Equal(t, 0, cl.calls)
	adapter.AssertNotCalled(t, "RegisterSite", mock.Anything, mock.Anything)
}

func TestProvisionActiveClientConflict(t *testing.T) {
	store := newFakeStore(&model.Client{
		ID:     "live-id",
		Name:   "Live",
		Domain: "live",
		Status: model.StatusActive,
	})

	o := newOrchestrator(store, newFakeCluster(), new(mockAdapter), &fakeLocker{})
	_, err := o.Provision(context.Background(), "live-id", model.ProviderPloi, nil)

	require.ErrorIs(t, err, ErrAlreadyActive)
}

func TestProvisionSuspendedClientRejected(t *testing.T) {
	store := newFakeStore(&model.Client{
		ID:     "frozen-id",
		Name:   "Frozen",
		Domain: "frozen",
		Status: model.StatusSuspended,
	})

	o := newOrchestrator(store, newFakeCluster(), new(mockAdapter), &fakeLocker{})
	_, err := o.Provision(context.Background(), "frozen-id", model.ProviderPloi, nil)

	require.ErrorIs(t, err, ErrClientSuspended)
}

func TestProvisionUnknownClient(t *testing.T) {
	o := newOrchestrator(newFakeStore(), newFakeCluster(), new(mockAdapter), &fakeLocker{})
	_, err := o.Provision(context.Background(), "missing", model.ProviderPloi, nil)

	require.ErrorIs(t, err, ErrClientNotFound)
}

func TestProvisionConcurrentRunNoOp(t *testing.T) {
	store := newFakeStore(&model.Client{
		ID:     "acme-id",
		Name:   "Acme",
		Domain: "acme",
		Status: model.StatusDraft,
	})
	cl := newFakeCluster()

	o := newOrchestrator(store, cl, new(mockAdapter), &fakeLocker{busy: true})
	result, err := o.Provision(context.Background(), "acme-id", model.ProviderPloi, nil)

	// Losing the race is a no-op, not an error
	require.NoError(t, err)
	assert.True(t, result.InProgress)
	assert.Equal(t, 0, cl.calls)
}

func TestProvisionStepFailureLeavesClientRetryable(t *testing.T) {
	store := newFakeStore(&model.Client{
		ID:     "acme-id",
		Name:   "Acme",
		Domain: "acme",
		Status: model.StatusDraft,
	})
	cl := newFakeCluster()
	cl.err = errors.New("cluster unreachable")

	o := newOrchestrator(store, cl, new(mockAdapter), &fakeLocker{})
	result, err := o.Provision(context.Background(), "acme-id", model.ProviderPloi, nil)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepDatabaseAllocated, stepErr.Step)
	assert.Equal(t, "acme-id", stepErr.ClientID)
	assert.False(t, result.Success)
	assert.Equal(t, model.StatusProvisioning, result.Status)

	// The failure is on the audit trail and the client stays retryable
	final, err := store.Get(context.Background(), "acme-id")
	require.NoError(t, err)
	assert.Equal(t, model.StatusProvisioning, final.Status)
	require.NotEmpty(t, final.AuditLog)
	last := final.AuditLog[len(final.AuditLog)-1]
	assert.Equal(t, StepDatabaseAllocated, last.Step)
	assert.Contains(t, last.Message, "cluster unreachable")
}

func TestProvisionDatabaseBoundToOtherClientFatal(t *testing.T) {
	// "my-shop" and "my.shop" sanitize to the same database name. The first
	// client owns the database; provisioning the second must surface a fatal
	// conflict instead of silently sharing tenant data.
	store := newFakeStore(
		&model.Client{
			ID:          "first-id",
			Name:        "First",
			Domain:      "my-shop",
			Status:      model.StatusActive,
			DatabaseURL: "postgres://cluster/client_my_shop",
		},
		&model.Client{
			ID:     "second-id",
			Name:   "Second",
			Domain: "my.shop",
			Status: model.StatusDraft,
		},
	)
	cl := newFakeCluster()
	cl.created["client_my_shop"] = true

	o := newOrchestrator(store, cl, new(mockAdapter), &fakeLocker{})
	_, err := o.Provision(context.Background(), "second-id", model.ProviderPloi, nil)

	require.ErrorIs(t, err, ErrDatabaseConflict)
	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, StepDatabaseAllocated, stepErr.Step)

	// The second client must not end up bound to the first client's database
	second, getErr := store.Get(context.Background(), "second-id")
	require.NoError(t, getErr)
	assert.False(t, second.HasDatabaseBinding())
}

func TestProvisionProviderSwitchRejected(t *testing.T) {
	store := newFakeStore(&model.Client{
		ID:           "acme-id",
		Name:         "Acme",
		Domain:       "acme",
		Status:       model.StatusProvisioning,
		ProviderKind: model.ProviderVercel,
	})

	o := newOrchestrator(store, newFakeCluster(), new(mockAdapter), &fakeLocker{})
	_, err := o.Provision(context.Background(), "acme-id", model.ProviderPloi, nil)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "already bound to provider")
}
