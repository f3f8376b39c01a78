package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/internal/model"
	"github.com/compassdigitalnl/compassdigital-cms-sub009/prometheus"
)

var (
	ErrNotFound = errors.New("no active client matches hostname")
	ErrNotReady = errors.New("client database binding is not ready")
)

const cacheTTL = 60 * time.Second

// Info is the resolved tenant identity injected into downstream request handling.
type Info struct {
	ClientID    string `json:"client_id"`
	Domain      string `json:"domain"`
	DatabaseURL string `json:"database_url"`
	Plan        string `json:"plan"`
}

// Resolver maps an inbound hostname to tenant identity and its database
// connection string. Pure read path: it never mutates client state.
type Resolver struct {
	db     *gorm.DB
	cache  *redis.Client
	logger *zap.Logger
}

// NewResolver creates a Resolver. The redis cache keeps the per-request
// lookup off the platform database; cache may be nil in tests.
func NewResolver(db *gorm.DB, cache *redis.Client, logger *zap.Logger) *Resolver {
	return &Resolver{db: db, cache: cache, logger: logger}
}

// Subdomain extracts the tenant subdomain from an inbound Host header.
func Subdomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if i := strings.Index(host, ":"); i >= 0 {
		host = host[:i]
	}
	if i := strings.Index(host, "."); i >= 0 {
		return host[:i]
	}
	return host
}

func cacheKey(subdomain string) string {
	return "tenant:route:" + subdomain
}

// Resolve looks up the tenant for a hostname. Only active clients with a real
// database binding resolve; anything else is a configuration error for the caller.
func (r *Resolver) Resolve(ctx context.Context, host string) (*Info, error) {
	subdomain := Subdomain(host)
	if subdomain == "" {
		prometheus.RecordTenantLookup("not_found")
		return nil, ErrNotFound
	}

	if r.cache != nil {
		cached, err := r.cache.Get(ctx, cacheKey(subdomain)).Result()
		if err == nil {
			var info Info
			if jsonErr := json.Unmarshal([]byte(cached), &info); jsonErr == nil {
				prometheus.RecordTenantLookup("cache_hit")
				return &info, nil
			}
		}
	}

	var client model.Client
	result := r.db.WithContext(ctx).
		Select("id", "domain", "status", "database_url", "plan").
		First(&client, "domain = ?", subdomain)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			prometheus.RecordTenantLookup("not_found")
			return nil, ErrNotFound
		}
		return nil, result.Error
	}

	if client.Status != model.StatusActive {
		prometheus.RecordTenantLookup("not_found")
		return nil, ErrNotFound
	}
	if !client.HasDatabaseBinding() {
		prometheus.RecordTenantLookup("not_ready")
		return nil, ErrNotReady
	}

	info := &Info{
		ClientID:    client.ID,
		Domain:      client.Domain,
		DatabaseURL: client.DatabaseURL,
		Plan:        client.Plan,
	}

	if r.cache != nil {
		if payload, err := json.Marshal(info); err == nil {
			if err := r.cache.Set(ctx, cacheKey(subdomain), payload, cacheTTL).Err(); err != nil {
				r.logger.Warn("Failed to cache tenant route",
					zap.String("subdomain", subdomain),
					zap.Error(err))
			}
		}
	}

	prometheus.RecordTenantLookup("hit")
	return info, nil
}

// Invalidate drops a cached route, called after lifecycle changes.
func (r *Resolver) Invalidate(ctx context.Context, subdomain string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, cacheKey(subdomain)).Err(); err != nil {
		r.logger.Warn("Failed to invalidate tenant route",
			zap.String("subdomain", subdomain),
			zap.Error(err))
	}
}
