// Package config loads gateway configuration from UAPK_* environment
// variables, following the teacher's plain os.Getenv-with-fallback Load()
// idiom rather than a flag/viper-based parser.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Config holds gateway server configuration.
type Config struct {
	Port     string
	LogLevel string

	DatabaseURL string

	GatewayPrivateKeyPEM string

	DefaultDailyBudget int

	ConnectorTimeoutSeconds   float64
	MaxConnectorResponseBytes int64
	ConnectorRateLimitPerSec  float64
	AllowedWebhookDomains     []string

	ApprovalExpiryHours int

	RedisAddr           string
	AuditArchiveBackend string
	AuditArchiveBucket  string

	RiskBudgetEnabled          bool
	RiskBudgetScoreCap         float64
	RiskBudgetBlastRadiusCap   int
	RiskBudgetComputeCapMillis int64

	TenantRateLimitPerSecond int
	TenantRateLimitBurst     int
}

// Load reads configuration from the environment, applying the same
// defaults a local/dev run would need.
func Load() *Config {
	return &Config{
		Port:     envOr("UAPK_PORT", "8080"),
		LogLevel: envOr("UAPK_LOG_LEVEL", "INFO"),

		DatabaseURL: envOr("UAPK_DATABASE_URL", "postgres://uapk@localhost:5432/uapk?sslmode=disable"),

		GatewayPrivateKeyPEM: os.Getenv("UAPK_GATEWAY_PRIVATE_KEY"),

		DefaultDailyBudget: envInt("UAPK_GATEWAY_DEFAULT_DAILY_BUDGET", 0),

		ConnectorTimeoutSeconds:   envFloat("UAPK_CONNECTOR_TIMEOUT_SECONDS", 30),
		MaxConnectorResponseBytes: envInt64("UAPK_MAX_CONNECTOR_RESPONSE_BYTES", 1_000_000),
		ConnectorRateLimitPerSec:  envFloat("UAPK_CONNECTOR_RATE_LIMIT_PER_SECOND", 0),
		AllowedWebhookDomains:     envList("UAPK_ALLOWED_WEBHOOK_DOMAINS"),

		ApprovalExpiryHours: envInt("UAPK_APPROVAL_EXPIRY_HOURS", 72),

		RedisAddr:           os.Getenv("UAPK_REDIS_ADDR"),
		AuditArchiveBackend: envOr("UAPK_AUDIT_ARCHIVE_BACKEND", ""),
		AuditArchiveBucket:  os.Getenv("UAPK_AUDIT_ARCHIVE_BUCKET"),

		RiskBudgetEnabled:          envBool("UAPK_RISK_BUDGET_ENABLED", false),
		RiskBudgetScoreCap:         envFloat("UAPK_RISK_BUDGET_SCORE_CAP", 100),
		RiskBudgetBlastRadiusCap:   envInt("UAPK_RISK_BUDGET_BLAST_RADIUS_CAP", 10),
		RiskBudgetComputeCapMillis: envInt64("UAPK_RISK_BUDGET_COMPUTE_CAP_MILLIS", 60_000),

		TenantRateLimitPerSecond: envInt("UAPK_TENANT_RATE_LIMIT_PER_SECOND", 0),
		TenantRateLimitBurst:     envInt("UAPK_TENANT_RATE_LIMIT_BURST", 20),
	}
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
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

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
