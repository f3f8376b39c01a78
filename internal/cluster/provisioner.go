package cluster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/compassdigitalnl/compassdigital-cms-sub009/pkg/config"
)

var (
	// ErrUnavailable marks transient cluster connectivity failures; callers may retry.
	ErrUnavailable = errors.New("database cluster unavailable")
)

const (
	// pq error code for duplicate_database; a lost creation race lands here
	pgDuplicateDatabase = "42P04"

	databasePrefix = "client_"
	queryTimeout   = 10 * time.Second
)

var nonIdentifier = regexp.MustCompile(`[^a-z0-9_]+`)

// DatabaseName derives the deterministic tenant database name for a client domain.
// The same domain always maps to the same database, which is what makes
// check-then-create safe to repeat.
func DatabaseName(domain string) string {
	name := strings.ToLower(strings.TrimSpace(domain))
	name = nonIdentifier.ReplaceAllString(name, "_")
	name = strings.Trim(name, "_")
	return databasePrefix + name
}

// Provisioner allocates isolated tenant databases inside a shared cluster.
type Provisioner struct {
	db     *sql.DB
	cfg    config.ClusterConfig
	logger *zap.Logger
}

// NewProvisioner connects to the cluster's maintenance database.
func NewProvisioner(cfg config.ClusterConfig, logger *zap.Logger) (*Provisioner, error) {
	db, err := sql.Open("postgres", cfg.AdminDSN())
	if err != nil {
		return nil, fmt.Errorf("open cluster connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Provisioner{db: db, cfg: cfg, logger: logger}, nil
}

// Close releases the cluster connection pool.
func (p *Provisioner) Close() error {
	return p.db.Close()
}

// DatabaseExists checks whether a database with the given name exists in the cluster.
func (p *Provisioner) DatabaseExists(ctx context.Context, name string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	var one int
	err := p.db.QueryRowContext(ctx, "SELECT 1 FROM pg_database WHERE datname = $1", name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: check database %q: %v", ErrUnavailable, name, err)
	}
	return true, nil
}

// CreateDatabase creates a database with the given name. Losing a creation race
// to a concurrent caller is treated as success.
func (p *Provisioner) CreateDatabase(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	// CREATE DATABASE cannot be parameterized; the name is quoted instead
	_, err := p.db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", pq.QuoteIdentifier(name)))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgDuplicateDatabase {
			p.logger.Info("Database already exists, reusing",
				zap.String("database", name))
			return nil
		}
		return fmt.Errorf("%w: create database %q: %v", ErrUnavailable, name, err)
	}
	return nil
}

// EnsureDatabase looks up the deterministically named database for a client
// domain, creates it if absent, and returns its connection string. Safe to
// invoke any number of times for the same domain; only the first successful
// call creates anything.
func (p *Provisioner) EnsureDatabase(ctx context.Context, domain string) (dsn string, created bool, err error) {
	name := DatabaseName(domain)

	exists, err := p.DatabaseExists(ctx, name)
	if err != nil {
		return "", false, err
	}

	if exists {
		p.logger.Info("Tenant database already present",
			zap.String("domain", domain),
			zap.String("database", name))
		return p.cfg.TenantDSN(name), false, nil
	}

	if err := p.CreateDatabase(ctx, name); err != nil {
		return "", false, err
	}

	p.logger.Info("Tenant database created",
		zap.String("domain", domain),
		zap.String("database", name))
	return p.cfg.TenantDSN(name), true, nil
}
