// Package config loads pipeline configuration from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// BrokerMode selects how the Redis client is constructed.
type BrokerMode string

// Supported broker connection modes.
const (
	BrokerModeDirect   BrokerMode = "direct"
	BrokerModeSentinel BrokerMode = "sentinel"
)

// BrokerConfig holds the broker connection settings.
type BrokerConfig struct {
	Mode     BrokerMode
	Host     string
	Port     int
	DB       int
	Password string

	// Sentinel-mode settings.
	SentinelHosts    []string
	MasterSet        string
	SentinelPassword string

	// BlockTimeout bounds each blocking stream read so shutdown signals
	// are observed within the window.
	BlockTimeout time.Duration
}

// Addr returns the direct-mode host:port address.
func (c BrokerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Config is the full pipeline configuration shared by all stages.
type Config struct {
	Broker BrokerConfig

	// Platform API client.
	PlatformURL   string
	PlatformToken string

	// External collaborators.
	ModelURL         string
	ChatWebhookURL   string
	VerifyServiceURL string

	// Trust lists consumed by the verification stage.
	VerifiedDomainsFile string
	VerifiedUsersFile   string

	// HTTP surfaces.
	IngressPort string
	VerifyPort  string

	// HTTPTimeout is the per-call timeout for every outbound HTTP request.
	HTTPTimeout time.Duration

	LogLevel slog.Level
}

// LoadFromEnv builds a Config from environment variables. Malformed values
// are configuration errors and fatal to startup.
func LoadFromEnv() (*Config, error) {
	brokerPort, err := strconv.Atoi(getEnvOrDefault("BROKER_PORT", "6379"))
	if err != nil {
		return nil, fmt.Errorf("invalid BROKER_PORT: %w", err)
	}
	brokerDB, err := strconv.Atoi(getEnvOrDefault("BROKER_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid BROKER_DB: %w", err)
	}

	mode := BrokerMode(getEnvOrDefault("BROKER_MODE", string(BrokerModeDirect)))
	switch mode {
	case BrokerModeDirect, BrokerModeSentinel:
	default:
		return nil, fmt.Errorf("invalid BROKER_MODE %q: must be %q or %q", mode, BrokerModeDirect, BrokerModeSentinel)
	}

	var sentinelHosts []string
	if raw := os.Getenv("SENTINEL_HOSTS"); raw != "" {
		for _, h := range strings.Split(raw, ",") {
			if h = strings.TrimSpace(h); h != "" {
				sentinelHosts = append(sentinelHosts, h)
			}
		}
	}
	if mode == BrokerModeSentinel && len(sentinelHosts) == 0 {
		return nil, fmt.Errorf("BROKER_MODE is %q but SENTINEL_HOSTS is empty", BrokerModeSentinel)
	}

	blockTimeout, err := parseDurationEnv("BROKER_BLOCK", 10*time.Second)
	if err != nil {
		return nil, err
	}
	httpTimeout, err := parseDurationEnv("HTTP_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}

	level, err := parseLogLevel(getEnvOrDefault("LOGLEVEL", "info"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Broker: BrokerConfig{
			Mode:             mode,
			Host:             getEnvOrDefault("BROKER_HOST", "localhost"),
			Port:             brokerPort,
			DB:               brokerDB,
			Password:         os.Getenv("BROKER_PASSWORD"),
			SentinelHosts:    sentinelHosts,
			MasterSet:        os.Getenv("SENTINEL_MASTER_SET"),
			SentinelPassword: os.Getenv("SENTINEL_PASSWORD"),
			BlockTimeout:     blockTimeout,
		},
		PlatformURL:         strings.TrimRight(os.Getenv("PLATFORM_URL"), "/"),
		PlatformToken:       os.Getenv("PLATFORM_TOKEN"),
		ModelURL:            strings.TrimRight(os.Getenv("MODEL_URL"), "/"),
		ChatWebhookURL:      os.Getenv("CHAT_WEBHOOK_URL"),
		VerifyServiceURL:    getEnvOrDefault("VERIFY_SERVICE_URL", "http://localhost:8001"),
		VerifiedDomainsFile: os.Getenv("VERIFIED_DOMAINS_FILE"),
		VerifiedUsersFile:   os.Getenv("VERIFIED_USERS_FILE"),
		IngressPort:         getEnvOrDefault("INGRESS_PORT", "8000"),
		VerifyPort:          getEnvOrDefault("VERIFY_PORT", "8001"),
		HTTPTimeout:         httpTimeout,
		LogLevel:            level,
	}, nil
}

// ValidateStage reports the required keys missing for one pipeline stage.
// Stages only validate what they use, so a notification-only deployment
// does not need platform credentials.
func (c *Config) ValidateStage(stage string) error {
	var missing []string
	need := func(key, val string) {
		if val == "" {
			missing = append(missing, key)
		}
	}

	switch stage {
	case "verification", "retrieval":
		need("PLATFORM_URL", c.PlatformURL)
		need("PLATFORM_TOKEN", c.PlatformToken)
	case "classification":
		need("MODEL_URL", c.ModelURL)
	case "notification":
		need("CHAT_WEBHOOK_URL", c.ChatWebhookURL)
	}

	if len(missing) > 0 {
		return fmt.Errorf("stage %s requires %s", stage, strings.Join(missing, ", "))
	}
	return nil
}

func parseDurationEnv(key string, defaultVal time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(raw) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "critical":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid LOGLEVEL %q", raw)
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
