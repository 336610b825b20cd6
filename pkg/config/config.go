// Package config loads Vorion's runtime configuration from environment
// variables, a 12-factor os.Getenv style rather than a config-file
// loader.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds server configuration for the governance plane.
type Config struct {
	Port     string
	LogLevel string

	// DeploymentContext gates the context ceiling applied to trust scores
	// (contracts.DeploymentContext*).
	DeploymentContext string

	// Database connection pieces.
	DatabaseDriver string // "postgres" | "sqlite"
	DatabaseDSN    string
	DBMaxOpenConns int
	DBMaxIdleConns int

	// KV / coordination backend (Redis).
	KVHost     string
	KVPort     string
	KVDB       int
	KVPassword string

	// JWT attestation signing.
	JWTSecret     string
	JWTExpiration time.Duration

	// Process-scoped signing secret, HKDF-derived into Ed25519 keys
	// (pkg/crypto.NewEd25519SignerFromSecret).
	SigningSecret string
	UseECDSAFallback bool

	// Encryption-at-rest parameters for sealed attestation claims.
	EncryptionKey        string
	EncryptionSalt       string
	EncryptionIterations int
	KDFVersion           int

	// Telemetry.
	TelemetryEndpoint string
	ServiceName       string

	// Health / readiness timeouts.
	HealthCheckTimeout time.Duration

	// Audit retention (days). ArchiveAfterDays must be < RetentionDays.
	AuditRetentionDays int
	ArchiveAfterDays   int

	ShadowMode bool
}

// Load reads configuration from the environment, applying development
// defaults. Load does not enforce production guard rails; callers in an
// enterprise, regulated or sovereign deployment context must also call
// Validate.
func Load() *Config {
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "INFO"),
		DeploymentContext: getEnv("DEPLOYMENT_CONTEXT", "local"),

		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "file:vorion.db?cache=shared"),
		DBMaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),

		KVHost:     getEnv("KV_HOST", "localhost"),
		KVPort:     getEnv("KV_PORT", "6379"),
		KVDB:       getEnvInt("KV_DB", 0),
		KVPassword: getEnv("KV_PASSWORD", ""),

		JWTSecret:     getEnv("JWT_SECRET", "dev-insecure-jwt-secret"),
		JWTExpiration: getEnvDuration("JWT_EXPIRATION", time.Hour),

		SigningSecret:    getEnv("SIGNING_SECRET", ""),
		UseECDSAFallback: getEnv("SIGNING_USE_ECDSA_FALLBACK", "false") == "true",

		EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
		EncryptionSalt:       getEnv("ENCRYPTION_SALT", ""),
		EncryptionIterations: getEnvInt("ENCRYPTION_ITERATIONS", 600000),
		KDFVersion:           getEnvInt("KDF_VERSION", 2),

		TelemetryEndpoint: getEnv("TELEMETRY_ENDPOINT", ""),
		ServiceName:       getEnv("SERVICE_NAME", "vorion"),

		HealthCheckTimeout: getEnvDuration("HEALTH_CHECK_TIMEOUT", 5*time.Second),

		AuditRetentionDays: getEnvInt("AUDIT_RETENTION_DAYS", 365),
		ArchiveAfterDays:   getEnvInt("AUDIT_ARCHIVE_AFTER_DAYS", 90),

		ShadowMode: getEnv("SHADOW_MODE", "") == "true",
	}
	return cfg
}

// Validate enforces the fail-fast guard rails an enterprise, regulated
// or sovereign deployment must satisfy before it is allowed to boot.
// Local and team deployments are exempt so the zero-config defaults
// above keep working.
func (c *Config) Validate() error {
	if c.DeploymentContext != "enterprise" && c.DeploymentContext != "regulated" && c.DeploymentContext != "sovereign" {
		return nil
	}

	if c.JWTSecret == "dev-insecure-jwt-secret" || c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET must be set explicitly in %s deployments", c.DeploymentContext)
	}
	if c.SigningSecret == "" {
		return fmt.Errorf("config: SIGNING_SECRET must be set explicitly in %s deployments", c.DeploymentContext)
	}
	if c.EncryptionKey == "" || c.EncryptionSalt == "" {
		return fmt.Errorf("config: ENCRYPTION_KEY and ENCRYPTION_SALT are required in %s deployments", c.DeploymentContext)
	}
	if c.KDFVersion < 2 {
		return fmt.Errorf("config: KDF_VERSION %d is a legacy key-derivation scheme, not permitted in %s deployments", c.KDFVersion, c.DeploymentContext)
	}
	if c.ArchiveAfterDays >= c.AuditRetentionDays {
		return fmt.Errorf("config: AUDIT_ARCHIVE_AFTER_DAYS (%d) must be less than AUDIT_RETENTION_DAYS (%d)", c.ArchiveAfterDays, c.AuditRetentionDays)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
