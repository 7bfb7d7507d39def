// Package models - Service configuration and operational settings.
// This file defines the configuration structures for every gatekeeper component.
//
// Configuration Philosophy:
// - Hierarchical configuration with logical grouping (server, storage, security, etc.)
// - Defaults that work out of the box for a single local instance
// - Validation that refuses silently-wrong multi-instance setups
package models

import (
	"errors"
	"fmt"
	"time"
)

// Account storage types
const (
	StorageTypeMemory   = "memory"
	StorageTypeDatabase = "database"
)

// Database drivers
const (
	DatabaseDriverPostgres = "postgres"
	DatabaseDriverSQLite   = "sqlite"
)

// Backends shared by the bucket store and the revocation ledger.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendDatabase = "database"
)

// Trace exporters
const (
	TraceExporterStdout = "stdout"
	TraceExporterOTLP   = "otlp"
)

// Built-in rate limit policy names.
const (
	PolicyGeneral   = "general"
	PolicyAuth      = "auth"
	PolicyUpload    = "upload"
	PolicySensitive = "sensitive"
)

// MinJWTSecretLength is the minimum accepted HS256 secret size in bytes.
const MinJWTSecretLength = 32

// Config is the root configuration structure containing all service settings.
//
// Configuration Structure:
// - Server: HTTP server and network settings
// - Storage: Account store selection
// - Database: Shared SQL connection used by any component that selects it
// - Redis: Shared Redis connection used by any component that selects it
// - Security: JWT, rate limiting and revocation
// - Uploads: Upload endpoint settings
// - Logging, Metrics, Observability: operational output
type Config struct {
	Server        ServerConfig        `yaml:"server" json:"server"`
	Storage       StorageConfig       `yaml:"storage" json:"storage"`
	Database      DatabaseConfig      `yaml:"database" json:"database"`
	Redis         RedisConfig         `yaml:"redis" json:"redis"`
	Security      SecurityConfig      `yaml:"security" json:"security"`
	Uploads       UploadsConfig       `yaml:"uploads" json:"uploads"`
	Logging       LoggingConfig       `yaml:"logging" json:"logging"`
	Metrics       MetricsConfig       `yaml:"metrics" json:"metrics"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

type ServerConfig struct {
	Port         int           `yaml:"port" json:"port"`
	Host         string        `yaml:"host" json:"host"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`
	TLSEnabled   bool          `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile  string        `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile   string        `yaml:"tls_key_file" json:"tls_key_file"`
	// TrustProxyHeaders makes client IP resolution honour X-Forwarded-For and
	// X-Real-IP. Enable only behind a load balancer that overwrites them.
	TrustProxyHeaders bool       `yaml:"trust_proxy_headers" json:"trust_proxy_headers"`
	CORS              CORSConfig `yaml:"cors" json:"cors"`
}

type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" json:"allowed_headers"`
	MaxAge         int      `yaml:"max_age" json:"max_age"`
}

type StorageConfig struct {
	Type string `yaml:"type" json:"type"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver" json:"driver"`
	DSN             string        `yaml:"dsn" json:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate" json:"auto_migrate"`
}

type RedisConfig struct {
	// Addr accepts host:port or a redis:// URL.
	Addr        string        `yaml:"addr" json:"addr"`
	Password    string        `yaml:"password" json:"-"`
	DB          int           `yaml:"db" json:"db"`
	PoolSize    int           `yaml:"pool_size" json:"pool_size"`
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	KeyPrefix   string        `yaml:"key_prefix" json:"key_prefix"`
}

type SecurityConfig struct {
	// SingleInstance acknowledges that in-process backends keep per-replica
	// state. Memory backends are refused unless it is set.
	SingleInstance bool                 `yaml:"single_instance" json:"single_instance"`
	PasswordCost   int                  `yaml:"password_cost" json:"password_cost"`
	BootstrapAdmin BootstrapAdminConfig `yaml:"bootstrap_admin" json:"bootstrap_admin"`
	JWT            JWTConfig            `yaml:"jwt" json:"jwt"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit" json:"rate_limit"`
	Revocation     RevocationConfig     `yaml:"revocation" json:"revocation"`
}

type BootstrapAdminConfig struct {
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password" json:"-"`
}

type JWTConfig struct {
	Secret   string        `yaml:"secret" json:"-"`
	Issuer   string        `yaml:"issuer" json:"issuer"`
	Audience string        `yaml:"audience" json:"audience"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
	Leeway   time.Duration `yaml:"leeway" json:"leeway"`
}

type RateLimitConfig struct {
	Enabled         bool                    `yaml:"enabled" json:"enabled"`
	Backend         string                  `yaml:"backend" json:"backend"`
	FailOpen        bool                    `yaml:"fail_open" json:"fail_open"`
	StoreTimeout    time.Duration           `yaml:"store_timeout" json:"store_timeout"`
	CleanupInterval time.Duration           `yaml:"cleanup_interval" json:"cleanup_interval"`
	Policies        map[string]PolicyConfig `yaml:"policies" json:"policies"`
}

// PolicyConfig is the configured shape of a single named rate limit policy.
type PolicyConfig struct {
	Points        int           `yaml:"points" json:"points"`
	Duration      time.Duration `yaml:"duration" json:"duration"`
	BlockDuration time.Duration `yaml:"block_duration" json:"block_duration"`
	Message       string        `yaml:"message" json:"message"`
}

type RevocationConfig struct {
	Backend         string        `yaml:"backend" json:"backend"`
	TrackIssued     bool          `yaml:"track_issued" json:"track_issued"`
	FailOpen        bool          `yaml:"fail_open" json:"fail_open"`
	StoreTimeout    time.Duration `yaml:"store_timeout" json:"store_timeout"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

// UploadsConfig configures the upload route. An empty Dir disables it.
type UploadsConfig struct {
	Dir      string `yaml:"dir" json:"dir"`
	MaxBytes int64  `yaml:"max_bytes" json:"max_bytes"`
}

type LoggingConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type ObservabilityConfig struct {
	ServiceName string `yaml:"service_name" json:"service_name"`
	// Environment is reported as deployment.environment on every span and
	// metric.
	Environment string        `yaml:"environment" json:"environment"`
	Tracing     TracingConfig `yaml:"tracing" json:"tracing"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate" json:"sample_rate"`
}

// DefaultPolicies returns the built-in rate limit policies.
func DefaultPolicies() map[string]PolicyConfig {
	return map[string]PolicyConfig{
		PolicyGeneral: {
			Points:   100,
			Duration: time.Minute,
			Message:  "Too many requests, please try again later.",
		},
		PolicyAuth: {
			Points:   5,
			Duration: 15 * time.Minute,
			Message:  "Too many authentication attempts, please try again later.",
		},
		PolicyUpload: {
			Points:   10,
			Duration: time.Hour,
			Message:  "Too many uploads, please try again later.",
		},
		PolicySensitive: {
			Points:   3,
			Duration: 30 * time.Minute,
			Message:  "Too many sensitive operations, please try again later.",
		},
	}
}

// NewDefaultConfig creates the base configuration. Its in-process backends
// only validate once single_instance is set explicitly.
//
// Default Values Rationale:
// - Port 8080: Standard non-privileged HTTP port
// - Memory backends without single_instance: a replica must opt in to per-process state
// - Rate limiting fails open, revocation fails closed
// - 100ms store timeout: store calls never dominate request latency
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			Host:         "0.0.0.0",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type"},
				MaxAge:         86400,
			},
		},
		Storage: StorageConfig{
			Type: StorageTypeMemory,
		},
		Database: DatabaseConfig{
			Driver:          DatabaseDriverSQLite,
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
			KeyPrefix:   "gatekeeper:",
		},
		Security: SecurityConfig{
			SingleInstance: false,
			PasswordCost:   10,
			JWT: JWTConfig{
				TTL:    24 * time.Hour,
				Leeway: 0,
			},
			RateLimit: RateLimitConfig{
				Enabled:         true,
				Backend:         BackendMemory,
				FailOpen:        true,
				StoreTimeout:    100 * time.Millisecond,
				CleanupInterval: 5 * time.Minute,
				Policies:        DefaultPolicies(),
			},
			Revocation: RevocationConfig{
				Backend:         BackendMemory,
				TrackIssued:     true,
				FailOpen:        false,
				StoreTimeout:    100 * time.Millisecond,
				CleanupInterval: 10 * time.Minute,
			},
		},
		Uploads: UploadsConfig{
			Dir:      "./data/uploads",
			MaxBytes: 10 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9090,
		},
		Observability: ObservabilityConfig{
			ServiceName: "gatekeeper",
			Environment: "development",
			Tracing: TracingConfig{
				Enabled:    false,
				Exporter:   TraceExporterStdout,
				SampleRate: 1.0,
			},
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("invalid storage config: %w", err)
	}

	if err := c.Security.Validate(); err != nil {
		return fmt.Errorf("invalid security config: %w", err)
	}

	if c.UsesDatabase() {
		if err := c.Database.Validate(); err != nil {
			return fmt.Errorf("invalid database config: %w", err)
		}
	}

	if c.UsesRedis() && c.Redis.Addr == "" {
		return errors.New("invalid redis config: addr is required when a redis backend is selected")
	}

	if err := c.Uploads.Validate(); err != nil {
		return fmt.Errorf("invalid uploads config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}

	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("invalid observability config: %w", err)
	}

	return nil
}

// UsesDatabase reports whether any component selected the SQL database.
func (c *Config) UsesDatabase() bool {
	return c.Storage.Type == StorageTypeDatabase ||
		(c.Security.RateLimit.Enabled && c.Security.RateLimit.Backend == BackendDatabase) ||
		c.Security.Revocation.Backend == BackendDatabase
}

// UsesRedis reports whether any component selected Redis.
func (c *Config) UsesRedis() bool {
	return (c.Security.RateLimit.Enabled && c.Security.RateLimit.Backend == BackendRedis) ||
		c.Security.Revocation.Backend == BackendRedis
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}

	if sc.Host == "" {
		return errors.New("host cannot be empty")
	}

	if sc.ReadTimeout < 0 {
		return errors.New("read timeout cannot be negative")
	}

	if sc.WriteTimeout < 0 {
		return errors.New("write timeout cannot be negative")
	}

	if sc.IdleTimeout < 0 {
		return errors.New("idle timeout cannot be negative")
	}

	if sc.TLSEnabled {
		if sc.TLSCertFile == "" {
			return errors.New("TLS cert file is required when TLS is enabled")
		}
		if sc.TLSKeyFile == "" {
			return errors.New("TLS key file is required when TLS is enabled")
		}
	}

	return nil
}

func (stc *StorageConfig) Validate() error {
	switch stc.Type {
	case StorageTypeMemory, StorageTypeDatabase:
		return nil
	default:
		return fmt.Errorf("invalid storage type: %s", stc.Type)
	}
}

func (dc *DatabaseConfig) Validate() error {
	switch dc.Driver {
	case DatabaseDriverPostgres, DatabaseDriverSQLite:
	default:
		return fmt.Errorf("invalid database driver: %s", dc.Driver)
	}

	if dc.DSN == "" {
		return errors.New("database DSN is required when a database backend is selected")
	}

	if dc.MaxOpenConns < 0 || dc.MaxIdleConns < 0 {
		return errors.New("connection limits cannot be negative")
	}

	return nil
}

func (sec *SecurityConfig) Validate() error {
	if len(sec.JWT.Secret) < MinJWTSecretLength {
		return fmt.Errorf("jwt secret must be at least %d bytes", MinJWTSecretLength)
	}

	if sec.JWT.TTL <= 0 {
		return errors.New("jwt ttl must be positive")
	}

	if sec.JWT.Leeway < 0 {
		return errors.New("jwt leeway cannot be negative")
	}

	if sec.BootstrapAdmin.Email != "" && sec.BootstrapAdmin.Password == "" {
		return errors.New("bootstrap admin password is required when email is set")
	}

	if err := sec.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}

	if err := sec.Revocation.Validate(); err != nil {
		return fmt.Errorf("revocation: %w", err)
	}

	// A memory backend on one replica never sees the others' state.
	if !sec.SingleInstance {
		if sec.RateLimit.Enabled && sec.RateLimit.Backend == BackendMemory {
			return errors.New("rate_limit backend \"memory\" is per-process; set single_instance: true or choose redis/database")
		}
		if sec.Revocation.Backend == BackendMemory {
			return errors.New("revocation backend \"memory\" is per-process; set single_instance: true or choose redis/database")
		}
	}

	return nil
}

func (rl *RateLimitConfig) Validate() error {
	if !rl.Enabled {
		return nil
	}

	if err := validateBackend(rl.Backend); err != nil {
		return err
	}

	if rl.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}

	for _, name := range []string{PolicyGeneral, PolicyAuth, PolicyUpload, PolicySensitive} {
		if _, ok := rl.Policies[name]; !ok {
			return fmt.Errorf("policy %q must be configured", name)
		}
	}

	for name, p := range rl.Policies {
		if p.Points <= 0 {
			return fmt.Errorf("policy %q: points must be positive", name)
		}
		if p.Duration <= 0 {
			return fmt.Errorf("policy %q: duration must be positive", name)
		}
		if p.BlockDuration < 0 {
			return fmt.Errorf("policy %q: block duration cannot be negative", name)
		}
	}

	return nil
}

func (rc *RevocationConfig) Validate() error {
	if err := validateBackend(rc.Backend); err != nil {
		return err
	}

	if rc.StoreTimeout <= 0 {
		return errors.New("store timeout must be positive")
	}

	return nil
}

func validateBackend(backend string) error {
	switch backend {
	case BackendMemory, BackendRedis, BackendDatabase:
		return nil
	default:
		return fmt.Errorf("invalid backend: %s", backend)
	}
}

func (uc *UploadsConfig) Validate() error {
	if uc.Dir == "" {
		return nil
	}
	if uc.MaxBytes <= 0 {
		return errors.New("max bytes must be positive")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	validLevels := []string{"debug", "info", "warn", "error"}
	found := false
	for _, vl := range validLevels {
		if lc.Level == vl {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log level: %s", lc.Level)
	}

	validFormats := []string{"json", "text"}
	found = false
	for _, vf := range validFormats {
		if lc.Format == vf {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log format: %s", lc.Format)
	}

	validOutputs := []string{"stdout", "stderr", "file"}
	found = false
	for _, vo := range validOutputs {
		if lc.Output == vo {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invalid log output: %s", lc.Output)
	}

	if lc.Output == "file" && lc.FilePath == "" {
		return errors.New("file path is required when output is file")
	}

	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}

	if mc.Path == "" {
		return errors.New("metrics path cannot be empty")
	}

	if mc.Port <= 0 || mc.Port > 65535 {
		return errors.New("metrics port must be between 1 and 65535")
	}

	return nil
}

func (oc *ObservabilityConfig) Validate() error {
	if oc.ServiceName == "" {
		return errors.New("service name cannot be empty")
	}

	if !oc.Tracing.Enabled {
		return nil
	}

	switch oc.Tracing.Exporter {
	case TraceExporterStdout:
	case TraceExporterOTLP:
		if oc.Tracing.OTLPEndpoint == "" {
			return errors.New("otlp endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("invalid trace exporter: %s", oc.Tracing.Exporter)
	}

	if oc.Tracing.SampleRate < 0 || oc.Tracing.SampleRate > 1 {
		return errors.New("sample rate must be between 0 and 1")
	}

	return nil
}
