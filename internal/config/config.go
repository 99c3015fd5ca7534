// Package config loads the immutable process configuration from the
// environment. Validation failures here are startup-fatal: the process must
// not begin accepting work with a bad secret key or relay list. The loaded
// value is threaded into every component at construction and never read
// again at runtime.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Config is the full process configuration.
type Config struct {
	// Identity.
	SecretKey string // 64-char hex Nostr secret key
	PublicKey string // derived from SecretKey

	// Relay subscriptions.
	RelayAddrs []string

	// Publish collaborator.
	NATSURL  string
	NATSName string

	// Optional collaborators; empty disables them.
	RedisAddr   string
	DatabaseURL string

	// Metrics/health HTTP endpoint.
	MetricsAddr string

	// Pipeline sizing.
	EventQueueSize    int
	RequestQueueSize  int
	DecisionQueueSize int
	UnwrapWorkers     int

	// Shutdown.
	ShutdownGrace time.Duration
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		NATSURL:           "nats://localhost:4222",
		NATSName:          "reportinator",
		MetricsAddr:       ":9090",
		EventQueueSize:    256,
		RequestQueueSize:  64,
		DecisionQueueSize: 16,
		UnwrapWorkers:     4,
		ShutdownGrace:     10 * time.Second,
	}

	secret := os.Getenv("NOSTR_SECRET_KEY")
	if secret == "" {
		return nil, fmt.Errorf("config: NOSTR_SECRET_KEY is required")
	}
	if !isHexKey(secret) {
		return nil, fmt.Errorf("config: NOSTR_SECRET_KEY must be a 64-char hex string")
	}
	pubkey, err := nostr.GetPublicKey(secret)
	if err != nil {
		return nil, fmt.Errorf("config: invalid NOSTR_SECRET_KEY: %w", err)
	}
	cfg.SecretKey = secret
	cfg.PublicKey = pubkey

	addrs := os.Getenv("RELAY_ADDRS")
	if addrs == "" {
		return nil, fmt.Errorf("config: RELAY_ADDRS is required (comma-separated websocket URLs)")
	}
	for _, raw := range strings.Split(addrs, ",") {
		addr := strings.TrimSpace(raw)
		if addr == "" {
			continue
		}
		u, err := url.Parse(addr)
		if err != nil {
			return nil, fmt.Errorf("config: invalid relay address %q: %w", addr, err)
		}
		if u.Scheme != "ws" && u.Scheme != "wss" {
			return nil, fmt.Errorf("config: relay address %q must use ws:// or wss://", addr)
		}
		cfg.RelayAddrs = append(cfg.RelayAddrs, addr)
	}
	if len(cfg.RelayAddrs) == 0 {
		return nil, fmt.Errorf("config: RELAY_ADDRS contains no usable addresses")
	}

	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("NATS_NAME"); v != "" {
		cfg.NATSName = v
	}
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	if err := intFromEnv("EVENT_QUEUE_SIZE", &cfg.EventQueueSize); err != nil {
		return nil, err
	}
	if err := intFromEnv("REQUEST_QUEUE_SIZE", &cfg.RequestQueueSize); err != nil {
		return nil, err
	}
	if err := intFromEnv("DECISION_QUEUE_SIZE", &cfg.DecisionQueueSize); err != nil {
		return nil, err
	}
	if err := intFromEnv("UNWRAP_WORKERS", &cfg.UnwrapWorkers); err != nil {
		return nil, err
	}

	if v := os.Getenv("SHUTDOWN_GRACE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("config: invalid SHUTDOWN_GRACE %q: %w", v, err)
		}
		cfg.ShutdownGrace = d
	}

	return cfg, nil
}

// intFromEnv overwrites dst when the variable is set to a positive integer.
func intFromEnv(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fmt.Errorf("config: %s must be a positive integer, got %q", name, v)
	}
	*dst = n
	return nil
}

// isHexKey reports whether s is 64 lowercase hex characters.
func isHexKey(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
