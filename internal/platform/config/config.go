package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Retention defaults. Culturally sensitive material is retained far longer
// than general records.
const (
	DefaultRetention         = 7 * 365 * 24 * time.Hour
	DefaultCulturalRetention = 50 * 365 * 24 * time.Hour
)

// Config captures process-level configuration. FromEnv builds it from
// environment variables so main stays lean.
type Config struct {
	Addr string

	// IntegrityKey is the 32-byte key used for HMAC audit hashing.
	IntegrityKey []byte

	// MasterKey seeds derivation of the named field-encryption keys used by
	// the transformation engine. FieldKeyNames limits which names rules may
	// reference.
	MasterKey     []byte
	FieldKeyNames []string

	CulturalValidation bool

	Retention         time.Duration
	CulturalRetention time.Duration

	// ExpirySweepInterval drives the background sweep that expires
	// attestations past their validity window.
	ExpirySweepInterval time.Duration

	PostgresDSN     string
	RedisAddr       string
	KafkaBrokers    []string
	KafkaAuditTopic string
}

// FromEnv reads configuration from the environment. The integrity key is
// required and must be exactly 64 hex characters; everything else has
// development defaults.
func FromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("ATTESTOR_ADDR", ":8080"),
		CulturalValidation:  envOr("ATTESTOR_CULTURAL_VALIDATION", "true") == "true",
		Retention:           DefaultRetention,
		CulturalRetention:   DefaultCulturalRetention,
		ExpirySweepInterval: time.Hour,
		PostgresDSN:         os.Getenv("ATTESTOR_POSTGRES_DSN"),
		RedisAddr:           os.Getenv("ATTESTOR_REDIS_ADDR"),
		KafkaAuditTopic:     envOr("ATTESTOR_KAFKA_AUDIT_TOPIC", "attestor.audit"),
	}

	rawKey := os.Getenv("ATTESTOR_INTEGRITY_KEY")
	if rawKey == "" {
		return Config{}, fmt.Errorf("config: ATTESTOR_INTEGRITY_KEY is required")
	}
	key, err := hex.DecodeString(rawKey)
	if err != nil || len(key) != 32 {
		return Config{}, fmt.Errorf("config: ATTESTOR_INTEGRITY_KEY must be 64 hex characters (32 bytes)")
	}
	cfg.IntegrityKey = key

	rawMaster := os.Getenv("ATTESTOR_MASTER_KEY")
	if rawMaster == "" {
		return Config{}, fmt.Errorf("config: ATTESTOR_MASTER_KEY is required")
	}
	master, err := hex.DecodeString(rawMaster)
	if err != nil || len(master) != 32 {
		return Config{}, fmt.Errorf("config: ATTESTOR_MASTER_KEY must be 64 hex characters (32 bytes)")
	}
	cfg.MasterKey = master

	cfg.FieldKeyNames = splitCommas(envOr("ATTESTOR_FIELD_KEYS", "default"))

	if v := os.Getenv("ATTESTOR_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return Config{}, fmt.Errorf("config: ATTESTOR_RETENTION_DAYS must be a positive integer")
		}
		cfg.Retention = time.Duration(days) * 24 * time.Hour
	}
	if v := os.Getenv("ATTESTOR_CULTURAL_RETENTION_DAYS"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil || days <= 0 {
			return Config{}, fmt.Errorf("config: ATTESTOR_CULTURAL_RETENTION_DAYS must be a positive integer")
		}
		cfg.CulturalRetention = time.Duration(days) * 24 * time.Hour
	}
	if v := os.Getenv("ATTESTOR_EXPIRY_SWEEP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid ATTESTOR_EXPIRY_SWEEP_INTERVAL: %w", err)
		}
		cfg.ExpirySweepInterval = d
	}
	if v := os.Getenv("ATTESTOR_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitCommas(v)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitCommas(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
