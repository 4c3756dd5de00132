/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// CreativeBackend selects where uploaded ad creative files are stored.
type CreativeBackend string

const (
	CreativeBackendFS CreativeBackend = "fs"
	CreativeBackendS3 CreativeBackend = "s3"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., https://ads.example.com)
	DBBackend   DatabaseBackend
	DBDSN       string
	MetricsBind string

	// Placement serving policy overrides (YAML). Empty uses compiled-in defaults.
	PlacementPolicyFile string

	// Session tracker configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration

	// Premium listener tokens
	PremiumJWTSigningKey string
	PremiumProviderURL   string // Optional remote premium-status endpoint

	// Admin surface
	AdminEnabled bool

	// Event fanout
	NATSUrl     string
	NATSEnabled bool

	// Creative storage
	CreativeBackend CreativeBackend
	CreativeRoot    string

	// S3 creative storage configuration
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3PublicBaseURL   string // Optional CDN URL
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Budget sweeper
	SweepInterval time.Duration

	// Leader election for singleton background workers in replicated deployments
	LeaderElectionEnabled bool

	// Admin log tail ring buffer capacity
	LogBufferSize int
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("GRIMNIR_ADS_ENV", "development"),
		HTTPBind:    getEnv("GRIMNIR_ADS_HTTP_BIND", "0.0.0.0"),
		HTTPPort:    getEnvInt("GRIMNIR_ADS_HTTP_PORT", 8080),
		BaseURL:     getEnv("GRIMNIR_ADS_BASE_URL", ""),
		DBBackend:   DatabaseBackend(getEnv("GRIMNIR_ADS_DB_BACKEND", string(DatabasePostgres))),
		DBDSN:       getEnv("GRIMNIR_ADS_DB_DSN", ""),
		MetricsBind: getEnv("GRIMNIR_ADS_METRICS_BIND", "127.0.0.1:9000"),

		PlacementPolicyFile: getEnv("GRIMNIR_ADS_PLACEMENT_POLICY_FILE", ""),

		RedisAddr:     getEnv("GRIMNIR_ADS_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("GRIMNIR_ADS_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("GRIMNIR_ADS_REDIS_DB", 0),
		SessionTTL:    time.Duration(getEnvInt("GRIMNIR_ADS_SESSION_TTL_MINUTES", 240)) * time.Minute,

		PremiumJWTSigningKey: getEnv("GRIMNIR_ADS_PREMIUM_JWT_SIGNING_KEY", ""),
		PremiumProviderURL:   getEnv("GRIMNIR_ADS_PREMIUM_PROVIDER_URL", ""),

		AdminEnabled: getEnvBool("GRIMNIR_ADS_ADMIN_ENABLED", true),

		NATSUrl:     getEnv("GRIMNIR_ADS_NATS_URL", "nats://localhost:4222"),
		NATSEnabled: getEnvBool("GRIMNIR_ADS_NATS_ENABLED", false),

		CreativeBackend: CreativeBackend(getEnv("GRIMNIR_ADS_CREATIVE_BACKEND", string(CreativeBackendFS))),
		CreativeRoot:    getEnv("GRIMNIR_ADS_CREATIVE_ROOT", "./creatives"),

		S3AccessKeyID:     getEnvAny([]string{"GRIMNIR_ADS_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"GRIMNIR_ADS_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"GRIMNIR_ADS_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"GRIMNIR_ADS_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"GRIMNIR_ADS_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3PublicBaseURL:   getEnvAny([]string{"GRIMNIR_ADS_S3_PUBLIC_BASE_URL", "S3_PUBLIC_BASE_URL"}, ""),
		S3UsePathStyle:    getEnvBool("GRIMNIR_ADS_S3_USE_PATH_STYLE", false),

		TracingEnabled:    getEnvBool("GRIMNIR_ADS_TRACING_ENABLED", false),
		OTLPEndpoint:      getEnv("GRIMNIR_ADS_OTLP_ENDPOINT", "localhost:4317"),
		TracingSampleRate: getEnvFloat("GRIMNIR_ADS_TRACING_SAMPLE_RATE", 1.0),

		SweepInterval: time.Duration(getEnvInt("GRIMNIR_ADS_SWEEP_INTERVAL_MINUTES", 5)) * time.Minute,

		LeaderElectionEnabled: getEnvBool("GRIMNIR_ADS_LEADER_ELECTION_ENABLED", false),

		LogBufferSize: getEnvInt("GRIMNIR_ADS_LOG_BUFFER_SIZE", 10000),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("GRIMNIR_ADS_DB_DSN must be provided")
	}

	if cfg.CreativeBackend != CreativeBackendFS && cfg.CreativeBackend != CreativeBackendS3 {
		return nil, fmt.Errorf("unsupported creative backend %q", cfg.CreativeBackend)
	}
	if cfg.CreativeBackend == CreativeBackendS3 && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("GRIMNIR_ADS_S3_BUCKET must be set when the S3 creative backend is selected")
	}

	if strings.EqualFold(cfg.Environment, "production") && cfg.PremiumJWTSigningKey == "" && cfg.PremiumProviderURL == "" {
		return nil, fmt.Errorf("a premium-status source (GRIMNIR_ADS_PREMIUM_JWT_SIGNING_KEY or GRIMNIR_ADS_PREMIUM_PROVIDER_URL) is required in production")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "true" || v == "1" || v == "yes" {
			return true
		}
		if v == "false" || v == "0" || v == "no" {
			return false
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
	}
	return def
}

// getEnvAny returns the first non-empty value among keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}
