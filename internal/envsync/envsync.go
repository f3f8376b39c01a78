package envsync

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/provider"
)

// featurePrefix is the fixed naming convention for flag-derived variables:
// one FEATURE_<NAME> key per flag.
const featurePrefix = "FEATURE_"

// FeatureKey converts a feature flag name to its environment variable name.
func FeatureKey(flag string) string {
	key := strings.ToUpper(strings.TrimSpace(flag))
	key = strings.Map(func(r rune) rune {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, key)
	return featurePrefix + key
}

// BuildFeatureEnv materializes a client's feature flags as env variables.
func BuildFeatureEnv(flags model.FeatureFlags) map[string]string {
	env := make(map[string]string, len(flags))
	for name, value := range flags {
		env[FeatureKey(name)] = value
	}
	return env
}

// ParseEnv parses raw env text into a key/value mapping. Blank lines, comment
// lines and lines without a separator are ignored rather than rejected, so
// provider-managed content we did not write cannot fail the sync.
func ParseEnv(raw string) map[string]string {
	env := make(map[string]string)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		env[key] = strings.TrimSpace(parts[1])
	}
	return env
}

// MergeEnv overlays new keys onto an existing mapping. Overlay keys always
// win; every other existing key is preserved untouched.
func MergeEnv(existing, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(existing)+len(overlay))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// SerializeEnv renders a mapping as raw env text with sorted keys, so the
// same mapping always serializes to byte-identical output.
func SerializeEnv(env map[string]string) string {
	if len(env) == 0 {
		return ""
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(env[k])
		b.WriteByte('\n')
	}
	return b.String()
}

// Result reports what a sync pushed and how the change takes effect.
type Result struct {
	SyncedVars   []string `json:"synced_vars"`
	Instructions string   `json:"instructions"`
}

// Synchronizer pushes a client's feature flags to its deployed environment
// without triggering the full deploy pipeline.
type Synchronizer struct {
	providers *provider.Registry
	logger    *zap.Logger
}

// NewSynchronizer creates a Synchronizer over the configured provider adapters.
func NewSynchronizer(providers *provider.Registry, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{providers: providers, logger: logger}
}

// Sync fetches the provider's current environment, overlays the client's
// feature variables while preserving unrelated keys, pushes the result, and
// asks for a process-level reload. Running it twice with unchanged flags
// pushes byte-identical content.
func (s *Synchronizer) Sync(ctx context.Context, client *model.Client) (*Result, error) {
	adapter, err := s.providers.Get(client.ProviderKind)
	if err != nil {
		return nil, err
	}

	raw, err := adapter.GetEnvironment(ctx, client.ProviderSiteID)
	if err != nil {
		return nil, fmt.Errorf("fetch current environment: %w", err)
	}

	featureEnv := BuildFeatureEnv(client.FeatureFlags)
	merged := MergeEnv(ParseEnv(raw), featureEnv)
	content := SerializeEnv(merged)

	if err := adapter.SetEnvironment(ctx, client.ProviderSiteID, content); err != nil {
		return nil, fmt.Errorf("push environment: %w", err)
	}

	if err := adapter.Reload(ctx, client.ProviderSiteID); err != nil {
		return nil, fmt.Errorf("reload processes: %w", err)
	}

	synced := make([]string, 0, len(featureEnv))
	for k := range featureEnv {
		synced = append(synced, k)
	}
	sort.Strings(synced)

	s.logger.Info("Environment synchronized",
		zap.String("client_id", client.ID),
		zap.String("provider", string(client.ProviderKind)),
		zap.Int("feature_vars", len(synced)))

	return &Result{
		SyncedVars:   synced,
		Instructions: "environment updated and processes reloaded; no redeploy was triggered",
	}, nil
}
