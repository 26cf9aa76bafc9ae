package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName  string
	HTTPPort     string
	PostgresDSN  string
	KafkaBrokers []string
	AutoMigrate  bool

	Consensus ConsensusConfig

	IdempotencyTTL     time.Duration
	WorkerPollInterval time.Duration
	ReconcileInterval  time.Duration

	EnableEvidenceUploadConsumer bool
}

// ConsensusConfig carries the raw evaluator thresholds; bootstrap turns them
// into a validated policy.
type ConsensusConfig struct {
	Quorum         int
	VerifyPercent  int
	RejectPercent  int
	FlagPercent    int
	TerminalStates bool
	MaxAttempts    int
	RetryInterval  time.Duration
}

var defaults = map[string]any{
	"SERVICE_NAME":                    "crowdproof",
	"HTTP_PORT":                       "8080",
	"POSTGRES_DSN":                    "",
	"KAFKA_BROKERS":                   "localhost:9092",
	"DB_AUTO_MIGRATE":                 "true",
	"CONSENSUS_QUORUM":                3,
	"CONSENSUS_VERIFY_PERCENT":        70,
	"CONSENSUS_REJECT_PERCENT":        70,
	"CONSENSUS_FLAG_PERCENT":          30,
	"CONSENSUS_TERMINAL_STATES":       "true",
	"CONSENSUS_MAX_ATTEMPTS":          5,
	"CONSENSUS_RETRY_INTERVAL":        "25ms",
	"IDEMPOTENCY_TTL":                 "168h",
	"WORKER_POLL_INTERVAL":            "2s",
	"RECONCILE_INTERVAL":              "5m",
	"ENABLE_EVIDENCE_UPLOAD_CONSUMER": "true",
}

// Load reads configuration from the environment. When CONFIG_FILE is set the
// file is read first and environment variables still take precedence.
func Load() (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	var brokers []string
	for _, value := range strings.Split(v.GetString("KAFKA_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	cfg := Config{
		ServiceName:  strings.TrimSpace(v.GetString("SERVICE_NAME")),
		HTTPPort:     strings.TrimSpace(v.GetString("HTTP_PORT")),
		PostgresDSN:  strings.TrimSpace(v.GetString("POSTGRES_DSN")),
		KafkaBrokers: brokers,
		AutoMigrate:  envBool(v, "DB_AUTO_MIGRATE", true),
		Consensus: ConsensusConfig{
			Quorum:         v.GetInt("CONSENSUS_QUORUM"),
			VerifyPercent:  v.GetInt("CONSENSUS_VERIFY_PERCENT"),
			RejectPercent:  v.GetInt("CONSENSUS_REJECT_PERCENT"),
			FlagPercent:    v.GetInt("CONSENSUS_FLAG_PERCENT"),
			TerminalStates: envBool(v, "CONSENSUS_TERMINAL_STATES", true),
			MaxAttempts:    v.GetInt("CONSENSUS_MAX_ATTEMPTS"),
			RetryInterval:  v.GetDuration("CONSENSUS_RETRY_INTERVAL"),
		},
		IdempotencyTTL:     v.GetDuration("IDEMPOTENCY_TTL"),
		WorkerPollInterval: v.GetDuration("WORKER_POLL_INTERVAL"),
		ReconcileInterval:  v.GetDuration("RECONCILE_INTERVAL"),

		EnableEvidenceUploadConsumer: envBool(v, "ENABLE_EVIDENCE_UPLOAD_CONSUMER", true),
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "crowdproof"
	}
	if cfg.HTTPPort == "" {
		cfg.HTTPPort = "8080"
	}
	if cfg.Consensus.MaxAttempts < 1 {
		return Config{}, errors.New("CONSENSUS_MAX_ATTEMPTS must be at least 1")
	}
	if cfg.WorkerPollInterval <= 0 || cfg.ReconcileInterval <= 0 {
		return Config{}, errors.New("WORKER_POLL_INTERVAL and RECONCILE_INTERVAL must be positive")
	}
	return cfg, nil
}

func envBool(v *viper.Viper, name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(v.GetString(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}
