package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/versionmanager/pkg/observability"
	"github.com/platinummonkey/versionmanager/pkg/storage/postgres"
)

// FileEnv names the optional YAML config file
const FileEnv = "VM_CONFIG_FILE"

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Security      SecurityConfig      `yaml:"security"`
	Sessions      SessionConfig       `yaml:"sessions"`
	Pools         PoolConfig          `yaml:"pools"`
	Retention     RetentionConfig     `yaml:"retention"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	// CookieSecure marks session cookies Secure; enable behind TLS
	CookieSecure bool `yaml:"cookie_secure"`
}

// DatabaseConfig is the control-plane database
type DatabaseConfig struct {
	URL         string        `yaml:"url"`
	MaxConns    int           `yaml:"max_conns"`
	MinConns    int           `yaml:"min_conns"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxLifetime time.Duration `yaml:"max_lifetime"`
	MaxIdleTime time.Duration `yaml:"max_idle_time"`
	AutoMigrate bool          `yaml:"auto_migrate"`
}

// Connection returns the pool sizing for the control-plane pool
func (d DatabaseConfig) Connection() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		MaxConns:    d.MaxConns,
		MinConns:    d.MinConns,
		Timeout:     d.Timeout,
		MaxLifetime: d.MaxLifetime,
		MaxIdleTime: d.MaxIdleTime,
	}
}

// SecurityConfig holds secrets
type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

// SessionConfig selects the session backend. An empty RedisURL keeps
// sessions in process memory.
type SessionConfig struct {
	RedisURL       string        `yaml:"redis_url"`
	TTL            time.Duration `yaml:"ttl"`
	MemoryCapacity int           `yaml:"memory_capacity"`
	InviteTTL      time.Duration `yaml:"invite_ttl"`
}

// PoolConfig sizes the per-tenant pool cache and each tenant pool
type PoolConfig struct {
	MaxPools        int           `yaml:"max_pools"`
	MaxConnsPerPool int           `yaml:"max_conns_per_pool"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	MaxIdleTime     time.Duration `yaml:"max_idle_time"`
}

// Connection returns the sizing applied to every tenant pool
func (p PoolConfig) Connection() postgres.ConnectionConfig {
	return postgres.ConnectionConfig{
		MaxConns:    p.MaxConnsPerPool,
		MinConns:    0,
		Timeout:     p.ConnectTimeout,
		MaxLifetime: 30 * time.Minute,
		MaxIdleTime: p.MaxIdleTime,
	}
}

// RetentionConfig drives the scheduled cleanup jobs
type RetentionConfig struct {
	AuditDays int    `yaml:"audit_days"`
	Schedule  string `yaml:"schedule"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool    `yaml:"otel_enabled"`
	OTelEndpoint       string  `yaml:"otel_endpoint"`
	OTelServiceName    string  `yaml:"otel_service_name"`
	OTelServiceVersion string  `yaml:"otel_service_version"`
	OTelInsecure       bool    `yaml:"otel_insecure"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLevel(o.LogLevel)
}

// OTel returns the tracing setup
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
		SampleRatio:    o.OTelSampleRatio,
	}
}

// Default returns the configuration used before any file or env is applied
func Default() *Config {
	conn := postgres.DefaultConnectionConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			MaxConns:    conn.MaxConns,
			MinConns:    conn.MinConns,
			Timeout:     conn.Timeout,
			MaxLifetime: conn.MaxLifetime,
			MaxIdleTime: conn.MaxIdleTime,
		},
		Sessions: SessionConfig{
			TTL:            30 * 24 * time.Hour,
			MemoryCapacity: 10000,
			InviteTTL:      72 * time.Hour,
		},
		Pools: PoolConfig{
			MaxPools:        10,
			MaxConnsPerPool: 5,
			ConnectTimeout:  5 * time.Second,
			MaxIdleTime:     5 * time.Minute,
		},
		Retention: RetentionConfig{
			AuditDays: 90,
			Schedule:  "15 3 * * *",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    observability.DefaultServiceName,
			OTelServiceVersion: "dev",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// named by VM_CONFIG_FILE, and finally environment variables.
func LoadConfig() (*Config, error) {
	return Load(os.Getenv(FileEnv))
}

// Load is LoadConfig with an explicit file path; empty skips the file
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides values present in the environment
func (c *Config) applyEnv() {
	c.Server.Host = getEnv("VM_HOST", c.Server.Host)
	c.Server.Port = getEnv("VM_PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("VM_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("VM_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.IdleTimeout = getEnvDuration("VM_IDLE_TIMEOUT", c.Server.IdleTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("VM_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.HealthPort = getEnv("VM_HEALTH_PORT", c.Server.HealthPort)
	c.Server.CookieSecure = getEnvBool("VM_COOKIE_SECURE", c.Server.CookieSecure)

	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Database.MaxConns = getEnvInt("VM_DB_MAX_CONNS", c.Database.MaxConns)
	c.Database.MinConns = getEnvInt("VM_DB_MIN_CONNS", c.Database.MinConns)
	c.Database.Timeout = getEnvDuration("VM_DB_TIMEOUT", c.Database.Timeout)
	c.Database.AutoMigrate = getEnvBool("VM_AUTO_MIGRATE", c.Database.AutoMigrate)

	c.Security.EncryptionKey = getEnv("ENCRYPTION_KEY", c.Security.EncryptionKey)

	c.Sessions.RedisURL = getEnv("VM_REDIS_URL", c.Sessions.RedisURL)
	c.Sessions.TTL = getEnvDuration("VM_SESSION_TTL", c.Sessions.TTL)
	c.Sessions.MemoryCapacity = getEnvInt("VM_SESSION_MEMORY_CAPACITY", c.Sessions.MemoryCapacity)
	c.Sessions.InviteTTL = getEnvDuration("VM_INVITE_TTL", c.Sessions.InviteTTL)

	c.Pools.MaxPools = getEnvInt("VM_MAX_POOLS", c.Pools.MaxPools)
	c.Pools.MaxConnsPerPool = getEnvInt("VM_POOL_MAX_CONNS", c.Pools.MaxConnsPerPool)
	c.Pools.ConnectTimeout = getEnvDuration("VM_POOL_CONNECT_TIMEOUT", c.Pools.ConnectTimeout)
	c.Pools.MaxIdleTime = getEnvDuration("VM_POOL_MAX_IDLE_TIME", c.Pools.MaxIdleTime)

	c.Retention.AuditDays = getEnvInt("VM_AUDIT_RETENTION_DAYS", c.Retention.AuditDays)
	c.Retention.Schedule = getEnv("VM_RETENTION_SCHEDULE", c.Retention.Schedule)

	c.Observability.LogLevel = getEnv("VM_LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.MetricsEnabled = getEnvBool("VM_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("VM_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("VM_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("VM_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelServiceVersion = getEnv("VM_OTEL_SERVICE_VERSION", c.Observability.OTelServiceVersion)
	c.Observability.OTelInsecure = getEnvBool("VM_OTEL_INSECURE", c.Observability.OTelInsecure)
	c.Observability.OTelSampleRatio = getEnvFloat("VM_OTEL_SAMPLE_RATIO", c.Observability.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server port is required"))
	}
	if c.Server.HealthPort == "" {
		errs = append(errs, errors.New("health port is required"))
	}
	if c.Server.Port != "" && c.Server.Port == c.Server.HealthPort {
		errs = append(errs, errors.New("server port and health port must be different"))
	}

	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	} else if _, err := postgres.ParseDatabaseURL(c.Database.URL); err != nil {
		errs = append(errs, err)
	}
	if c.Database.MaxConns < 1 {
		errs = append(errs, errors.New("database max conns must be at least 1"))
	}

	if key := c.Security.EncryptionKey; key != "" && len(key) < 32 {
		errs = append(errs, errors.New("ENCRYPTION_KEY must be at least 32 characters long"))
	}

	if c.Pools.MaxPools < 1 {
		errs = append(errs, errors.New("max pools must be at least 1"))
	}
	if c.Pools.MaxConnsPerPool < 1 {
		errs = append(errs, errors.New("max conns per pool must be at least 1"))
	}
	if c.Sessions.TTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if c.Retention.AuditDays < 0 {
		errs = append(errs, errors.New("audit retention days cannot be negative"))
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, errors.New("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, errors.New("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
