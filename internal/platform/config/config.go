// Package config builds process configuration from the environment so main
// stays lean. Retention and compliance defaults are explicit here rather than
// scattered through the code.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures the full process configuration.
type Server struct {
	Addr     string
	LogLevel string

	// JWTSigningKey signs and validates actor tokens.
	JWTSigningKey string

	// FieldKey is the 32-byte AES key for ENCRYPTED fields, base64-encoded in
	// the environment. Key management beyond a single versioned key is out of
	// scope; KeyVersion tags ciphertexts for future rotation.
	FieldKey   []byte
	KeyVersion uint32

	// PostgresURL enables the sql-backed stores when set; empty means the
	// in-memory stores (tests, local development).
	PostgresURL string
	// RedisURL enables the Redis token vault when set.
	RedisURL string
	// KafkaBrokers enables the audit stream relay when non-empty.
	KafkaBrokers []string
	AuditTopic   string

	// Retention defaults, overridable at runtime through the policy API.
	TransactionRetention time.Duration
	RetentionInterval    time.Duration
	RetentionRunBudget   time.Duration

	// GDPRErasureSLA bounds how long an erasure request may stay unresolved
	// before the GDPR snapshot flags it. Default 30 days.
	GDPRErasureSLA time.Duration

	// OperationTimeout bounds reveal and audit-append calls; exceeding it
	// surfaces a retryable unavailable error instead of hanging the caller.
	OperationTimeout time.Duration
}

// FromEnv builds a Server config from environment variables.
func FromEnv() (Server, error) {
	cfg := Server{
		Addr:                 envOr("CUSTODIA_ADDR", ":8080"),
		LogLevel:             envOr("CUSTODIA_LOG_LEVEL", "info"),
		JWTSigningKey:        envOr("CUSTODIA_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresURL:          os.Getenv("CUSTODIA_POSTGRES_URL"),
		RedisURL:             os.Getenv("CUSTODIA_REDIS_URL"),
		AuditTopic:           envOr("CUSTODIA_AUDIT_TOPIC", "custodia.audit"),
		KeyVersion:           1,
		TransactionRetention: daysOr("CUSTODIA_TRANSACTION_RETENTION_DAYS", 2555),
		RetentionInterval:    durationOr("CUSTODIA_RETENTION_INTERVAL", time.Hour),
		RetentionRunBudget:   durationOr("CUSTODIA_RETENTION_RUN_BUDGET", 5*time.Minute),
		GDPRErasureSLA:       daysOr("CUSTODIA_GDPR_ERASURE_SLA_DAYS", 30),
		OperationTimeout:     durationOr("CUSTODIA_OPERATION_TIMEOUT", 5*time.Second),
	}

	if brokers := os.Getenv("CUSTODIA_KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitComma(brokers)
	}

	key, err := fieldKeyFromEnv()
	if err != nil {
		return Server{}, err
	}
	cfg.FieldKey = key

	return cfg, nil
}

func fieldKeyFromEnv() ([]byte, error) {
	raw := os.Getenv("CUSTODIA_FIELD_KEY")
	if raw == "" {
		// Deterministic development key; production must set the env var.
		return []byte("0123456789abcdef0123456789abcdef"), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode CUSTODIA_FIELD_KEY: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("CUSTODIA_FIELD_KEY must be 32 bytes, got %d", len(key))
	}
	return key, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func daysOr(key string, fallbackDays int) time.Duration {
	days := fallbackDays
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	return time.Duration(days) * 24 * time.Hour
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
