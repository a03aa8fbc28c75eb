// Package config loads VibeMQ's broker configuration: JSON on
// disk with environment variable overrides layered on top, mirroring how
// the daemon this broker's codebase grew out of handled configuration.
package config

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"
	"time"
)

// ListenConfig holds the broker's TCP listen settings.
type ListenConfig struct {
	Addr string `json:"addr"` // :7711
	TLS  TLSConfig `json:"tls"`
}

// TLSConfig holds the PKCS#12 bundle used to terminate TLS on the listener.
// TLS is used only when Enabled is true; otherwise the broker listens in
// plaintext. Setting VIBEMQ_TLS_BUNDLE_PATH also sets Enabled.
type TLSConfig struct {
	Enabled      bool   `json:"enabled"`
	BundlePath   string `json:"bundle_path"`   // PKCS#12 (.p12/.pfx) bundle
	BundlePasswd string `json:"bundle_passwd"` // decryption password for the bundle
}

// AuthConfig holds the broker's single-shared-token authentication setting.
// An empty Token disables authentication: every Connect succeeds.
type AuthConfig struct {
	Token string `json:"token"`
}

// QueueDefaultsConfig holds the options applied to a queue created by
// Publish-to-a-missing-queue or by CreateQueue with no payload.
type QueueDefaultsConfig struct {
	Mode                  string `json:"mode"`                      // RoundRobin, FanOutWithAck, FanOutWithoutAck, PriorityBased
	MaxQueueSize          int    `json:"max_queue_size"`            // default: 10000
	MessageTTL            string `json:"message_ttl"`               // e.g. "5m"; "" disables expiration
	EnableDeadLetterQueue bool   `json:"enable_dead_letter_queue"`
	OverflowStrategy      string `json:"overflow_strategy"` // DropOldest, DropNewest, BlockPublisher, RedirectToDlq
	MaxRetryAttempts      int    `json:"max_retry_attempts"`
}

// RateLimitConfig holds the sliding-window admission limits enforced per
// remote address (connections) and per session (messages).
type RateLimitConfig struct {
	ConnectionWindow time.Duration `json:"connection_window"` // default: 1m
	ConnectionCap    int           `json:"connection_cap"`    // default: 20
	MessageWindow    time.Duration `json:"message_window"`    // default: 1s
	MessageCap       int           `json:"message_cap"`       // default: 1000
}

// AckConfig tunes the ack tracker's retry backoff schedule.
type AckConfig struct {
	BaseRetryDelay time.Duration `json:"base_retry_delay"` // default: 2s
	MaxRetryDelay  time.Duration `json:"max_retry_delay"`  // default: 2m
	TickInterval   time.Duration `json:"tick_interval"`    // default: 1s
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled          bool      `json:"enabled"`           // default: true
	Namespace        string    `json:"namespace"`         // vibemq
	HistogramBuckets []float64 `json:"histogram_buckets"` // delivery-latency buckets, ms
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// HTTPConfig holds the health/metrics sidecar's listen settings. An empty
// Addr disables the sidecar.
type HTTPConfig struct {
	Addr string `json:"addr"` // :7712
}

// ShutdownConfig bounds how long graceful shutdown waits for in-flight
// ack-required deliveries to drain before forcing sessions closed.
type ShutdownConfig struct {
	DrainTimeout time.Duration `json:"drain_timeout"` // default: 10s
}

// Config is the broker's full configuration tree.
type Config struct {
	Listen        ListenConfig        `json:"listen"`
	MaxConnections int                `json:"max_connections"` // default: 1000
	Auth          AuthConfig          `json:"auth"`
	QueueDefaults QueueDefaultsConfig `json:"queue_defaults"`
	RateLimit     RateLimitConfig     `json:"rate_limit"`
	Ack           AckConfig           `json:"ack"`
	Metrics       MetricsConfig       `json:"metrics"`
	Logging       LoggingConfig       `json:"logging"`
	HTTP          HTTPConfig          `json:"http"`
	Shutdown      ShutdownConfig      `json:"shutdown"`
}

// DefaultConfig returns a Config with sensible defaults; every broker entry
// point starts from this and layers a file and/or environment on top.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			Addr: ":7711",
		},
		MaxConnections: 1000,
		QueueDefaults: QueueDefaultsConfig{
			Mode:             "RoundRobin",
			MaxQueueSize:     10000,
			OverflowStrategy: "DropOldest",
			MaxRetryAttempts: 3,
		},
		RateLimit: RateLimitConfig{
			ConnectionWindow: time.Minute,
			ConnectionCap:    20,
			MessageWindow:    time.Second,
			MessageCap:       1000,
		},
		Ack: AckConfig{
			BaseRetryDelay: 2 * time.Second,
			MaxRetryDelay:  2 * time.Minute,
			TickInterval:   time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:          true,
			Namespace:        "vibemq",
			HistogramBuckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		HTTP: HTTPConfig{
			Addr: ":7712",
		},
		Shutdown: ShutdownConfig{
			DrainTimeout: 10 * time.Second,
		},
	}
}

// LoadFromFile loads configuration from a JSON file on top of the defaults;
// fields absent from the file keep their default value.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv applies environment variable overrides to cfg, in the same
// VIBEMQ_-prefixed style the daemon this grew out of used for its own
// NOVA_-prefixed variables.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("VIBEMQ_LISTEN_ADDR"); v != "" {
		cfg.Listen.Addr = v
	}
	if v := os.Getenv("VIBEMQ_TLS_ENABLED"); v != "" {
		cfg.Listen.TLS.Enabled = parseBool(v)
	}
	if v := os.Getenv("VIBEMQ_TLS_BUNDLE_PATH"); v != "" {
		cfg.Listen.TLS.BundlePath = v
		cfg.Listen.TLS.Enabled = true
	}
	if v := os.Getenv("VIBEMQ_TLS_BUNDLE_PASSWORD"); v != "" {
		cfg.Listen.TLS.BundlePasswd = v
	}
	if v := os.Getenv("VIBEMQ_MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConnections = n
		}
	}
	if v := os.Getenv("VIBEMQ_AUTH_TOKEN"); v != "" {
		cfg.Auth.Token = v
	}

	if v := os.Getenv("VIBEMQ_QUEUE_MODE"); v != "" {
		cfg.QueueDefaults.Mode = v
	}
	if v := os.Getenv("VIBEMQ_QUEUE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueDefaults.MaxQueueSize = n
		}
	}
	if v := os.Getenv("VIBEMQ_QUEUE_MESSAGE_TTL"); v != "" {
		cfg.QueueDefaults.MessageTTL = v
	}
	if v := os.Getenv("VIBEMQ_QUEUE_OVERFLOW_STRATEGY"); v != "" {
		cfg.QueueDefaults.OverflowStrategy = v
	}
	if v := os.Getenv("VIBEMQ_QUEUE_ENABLE_DLQ"); v != "" {
		cfg.QueueDefaults.EnableDeadLetterQueue = parseBool(v)
	}
	if v := os.Getenv("VIBEMQ_QUEUE_MAX_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.QueueDefaults.MaxRetryAttempts = n
		}
	}

	if v := os.Getenv("VIBEMQ_RATELIMIT_CONNECTION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimit.ConnectionWindow = d
		}
	}
	if v := os.Getenv("VIBEMQ_RATELIMIT_CONNECTION_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.ConnectionCap = n
		}
	}
	if v := os.Getenv("VIBEMQ_RATELIMIT_MESSAGE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimit.MessageWindow = d
		}
	}
	if v := os.Getenv("VIBEMQ_RATELIMIT_MESSAGE_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.MessageCap = n
		}
	}

	if v := os.Getenv("VIBEMQ_ACK_BASE_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ack.BaseRetryDelay = d
		}
	}
	if v := os.Getenv("VIBEMQ_ACK_MAX_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ack.MaxRetryDelay = d
		}
	}
	if v := os.Getenv("VIBEMQ_ACK_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Ack.TickInterval = d
		}
	}

	if v := os.Getenv("VIBEMQ_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}
	if v := os.Getenv("VIBEMQ_METRICS_NAMESPACE"); v != "" {
		cfg.Metrics.Namespace = v
	}

	if v := os.Getenv("VIBEMQ_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VIBEMQ_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("VIBEMQ_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}

	if v := os.Getenv("VIBEMQ_SHUTDOWN_DRAIN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Shutdown.DrainTimeout = d
		}
	}
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes"
}
