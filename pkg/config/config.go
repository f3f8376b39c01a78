package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gorm.io/gorm/logger"
)

// DBConfig holds the platform database configuration (the store that owns the
// Client records, distinct from the tenant databases we provision).
type DBConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	LogLevel        logger.LogLevel
}

// GetDSN returns the PostgreSQL connection string
func (c *DBConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

// ClusterConfig holds credentials for the shared tenant database cluster.
// Tenant databases are created inside this cluster, one per client.
type ClusterConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	SSLMode  string
}

// AdminDSN returns a connection string to the cluster's maintenance database,
// used for CREATE DATABASE and existence checks.
func (c *ClusterConfig) AdminDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=postgres sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.SSLMode)
}

// TenantDSN returns the connection string for a provisioned tenant database.
func (c *ClusterConfig) TenantDSN(dbName string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, dbName, c.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Env  string
}

// JWTConfig holds JWT configuration
type JWTConfig struct {
	SigningKey      string
	ExpirationHours int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Prefix string
}

// RedisConfig holds the redis connection used for provisioning locks and
// tenant resolution caching.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// PloiConfig holds credentials for the Ploi (VPS/git deploy) control plane.
type PloiConfig struct {
	BaseURL  string
	APIToken string
	ServerID string
}

// VercelConfig holds credentials for the Vercel (serverless deploy) control plane.
type VercelConfig struct {
	BaseURL  string
	APIToken string
	TeamID   string
}

// AuthConfig holds the shared service-to-service key accepted alongside admin JWTs.
type AuthConfig struct {
	ServiceKey string
}

// Config holds all configuration
type Config struct {
	ServiceName string
	DB          DBConfig
	Cluster     ClusterConfig
	Server      ServerConfig
	JWT         JWTConfig
	Log         LogConfig
	Metrics     MetricsConfig
	Redis       RedisConfig
	Ploi        PloiConfig
	Vercel      VercelConfig
	Auth        AuthConfig
	BaseDomain  string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// Not returning error as .env file is optional
		fmt.Printf("Warning: .env file not found, using environment variables\n")
	}

	config := &Config{
		ServiceName: getEnv("SERVICE_NAME", "provisioner-service"),
		DB: DBConfig{
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "password"),
			DBName:          getEnv("DB_NAME", "provisioner_service"),
			SSLMode:         getEnv("DB_SSL_MODE", "disable"),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 1*time.Hour),
			LogLevel:        getEnvAsLogLevel("DB_LOG_LEVEL", logger.Warn),
		},
		Cluster: ClusterConfig{
			Host:     getEnv("CLUSTER_HOST", "localhost"),
			Port:     getEnv("CLUSTER_PORT", "5432"),
			User:     getEnv("CLUSTER_USER", "postgres"),
			Password: getEnv("CLUSTER_PASSWORD", "password"),
			SSLMode:  getEnv("CLUSTER_SSL_MODE", "disable"),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8086"),
			Env:  getEnv("APP_ENV", "development"),
		},
		JWT: JWTConfig{
			SigningKey:      getEnv("JWT_SIGNING_KEY", "provisionerservicesecretkey"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Metrics: MetricsConfig{
			Prefix: getEnv("METRICS_PREFIX", "provisioner"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Ploi: PloiConfig{
			BaseURL:  getEnv("PLOI_BASE_URL", "https://ploi.io/api"),
			APIToken: getEnv("PLOI_API_TOKEN", ""),
			ServerID: getEnv("PLOI_SERVER_ID", ""),
		},
		Vercel: VercelConfig{
			BaseURL:  getEnv("VERCEL_BASE_URL", "https://api.vercel.com"),
			APIToken: getEnv("VERCEL_API_TOKEN", ""),
			TeamID:   getEnv("VERCEL_TEAM_ID", ""),
		},
		Auth: AuthConfig{
			ServiceKey: getEnv("SERVICE_KEY", ""),
		},
		BaseDomain: getEnv("BASE_DOMAIN", "example-platform.com"),
	}

	return config, nil
}

// LogConfig returns the configuration as a zap logger-friendly format
func (c *Config) LogConfig() []zap.Field {
	return []zap.Field{
		zap.String("environment", c.Server.Env),
		zap.String("db_host", c.DB.Host),
		zap.String("db_name", c.DB.DBName),
		zap.String("cluster_host", c.Cluster.Host),
		zap.String("server_port", c.Server.Port),
		zap.String("base_domain", c.BaseDomain),
	}
}

// Helper function to get environment variables with defaults
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as integers
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as durations
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// Helper function to get environment variables as log levels
func getEnvAsLogLevel(key string, defaultValue logger.LogLevel) logger.LogLevel {
	valueStr := getEnv(key, "")
	switch valueStr {
	case "silent":
		return logger.Silent
	case "error":
		return logger.Error
	case "warn":
		return logger.Warn
	case "info":
		return logger.Info
	default:
		return defaultValue
	}
}
