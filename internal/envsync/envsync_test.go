package envsync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/provider"
)

func TestFeatureKey(t *testing.T) {
	assert.Equal(t, "FEATURE_CHECKOUT", FeatureKey("checkout"))
	assert.Equal(t, "FEATURE_MULTI_LANGUAGE", FeatureKey("multi-language"))
	assert.Equal(t, "FEATURE_BLOG_V2", FeatureKey(" blog v2 "))
}

func TestParseEnv(t *testing.T) {
	raw := "A=1\n\n# comment line\nB=2\nnot a pair\n  C = 3 \n=novalue\n"
	env := ParseEnv(raw)

	assert.Equal(t, map[string]string{
		"A": "1",
		"B": "2",
		"C": "3",
	}, env)
}

func TestParseEnvEmpty(t *testing.T) {
	// A provider that has never been configured yields empty text, which is
	// an empty mapping, not an error.
	assert.Empty(t, ParseEnv(""))
}

func TestMergeEnvPreservesUnrelatedKeys(t *testing.T) {
	existing := map[string]string{"A": "1", "B": "2"}
	overlay := map[string]string{"B": "3", "C": "4"}

	merged := MergeEnv(existing, overlay)

	assert.Equal(t, map[string]string{"A": "1", "B": "3", "C": "4"}, merged)
	// The input maps are untouched
	assert.Equal(t, "2", existing["B"])
}

func TestSerializeEnvDeterministic(t *testing.T) {
	env := map[string]string{"B": "2", "A": "1", "C": "3"}

	first := SerializeEnv(env)
	second := SerializeEnv(env)

	assert.Equal(t, "A=1\nB=2\nC=3\n", first)
	assert.Equal(t, first, second)
}

func TestSerializeEnvEmpty(t *testing.T) {
	assert.Equal(t, "", SerializeEnv(nil))
}

// recordingAdapter captures pushed environment content for assertions.
type recordingAdapter struct {
	env     string
	pushed  []string
	reloads int
	deploys int
}

func (a *recordingAdapter) Kind() model.ProviderKind { return model.ProviderPloi }

func (a *recordingAdapter) RegisterSite(ctx context.Context, name, domain string) (*provider.Site, error) {
	return &provider.Site{ID: "site-1"}, nil
}

func (a *recordingAdapter) GetEnvironment(ctx context.Context, siteID string) (string, error) {
	return a.env, nil
}

func (a *recordingAdapter) SetEnvironment(ctx context.Context, siteID, raw string) error {
	a.pushed = append(a.pushed, raw)
	a.env = raw
	return nil
}

func (a *recordingAdapter) Deploy(ctx context.Context, siteID string) (*provider.DeployResult, error) {
	a.deploys++
	return &provider.DeployResult{}, nil
}

func (a *recordingAdapter) Reload(ctx context.Context, siteID string) error {
	a.reloads++
	return nil
}

func TestSyncMergesAndReloadsWithoutDeploy(t *testing.T) {
	adapter := &recordingAdapter{env: "A=1\nB=2\n"}
	sync := NewSynchronizer(provider.NewRegistry(adapter), zap.NewNop())

	client := &model.Client{
		ID:             "client-1",
		ProviderKind:   model.ProviderPloi,
		ProviderSiteID: "site-1",
		FeatureFlags:   model.FeatureFlags{"b": "3", "c": "4"},
	}

	result, err := sync.Sync(context.Background(), client)
	require.NoError(t, err)

	require.Len(t, adapter.pushed, 1)
	assert.Equal(t, "A=1\nB=2\nFEATURE_B=3\nFEATURE_C=4\n", adapter.pushed[0])
	assert.Equal(t, []string{"FEATURE_B", "FEATURE_C"}, result.SyncedVars)
	assert.Equal(t, 1, adapter.reloads)
	assert.Equal(t, 0, adapter.deploys, "a flag flip must not pay full-deploy cost")
}

func TestSyncIdempotent(t *testing.T) {
	adapter := &recordingAdapter{env: "A=1\n"}
	sync := NewSynchronizer(provider.NewRegistry(adapter), zap.NewNop())

	client := &model.Client{
		ID:             "client-1",
		ProviderKind:   model.ProviderPloi,
		ProviderSiteID: "site-1",
		FeatureFlags:   model.FeatureFlags{"checkout": "true"},
	}

	_, err := sync.Sync(context.Background(), client)
	require.NoError(t, err)
	_, err = sync.Sync(context.Background(), client)
	require.NoError(t, err)

	require.Len(t, adapter.pushed, 2)
	assert.Equal(t, adapter.pushed[0], adapter.pushed[1], "unchanged flags must push byte-identical content")
}

func TestSyncEmptyProviderEnvironment(t *testing.T) {
	adapter := &recordingAdapter{env: ""}
	sync := NewSynchronizer(provider.NewRegistry(adapter), zap.NewNop())

	client := &model.Client{
		ID:             "client-1",
		ProviderKind:   model.ProviderPloi,
		ProviderSiteID: "site-1",
		FeatureFlags:   model.FeatureFlags{"checkout": "true"},
	}

	result, err := sync.Sync(context.Background(), client)
	require.NoError(t, err)
	assert.Equal(t, []string{"FEATURE_CHECKOUT"}, result.SyncedVars)
	assert.Equal(t, "FEATURE_CHECKOUT=true\n", adapter.env)
}
