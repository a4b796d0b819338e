// Package config reads tapline's configuration from the process environment.
// Required values fail fast at startup instead of surfacing as undefined
// behavior at the first network call.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the connector.
type Config struct {
	// StreamEndpoints are the gateway WebSocket URLs, tried in rotation.
	StreamEndpoints []string

	// StreamToken is the bearer credential for the stream subscription.
	StreamToken string

	// WebhookURL is the downstream sink receiving one JSON record per post.
	WebhookURL string

	// DatastoreURL and DatastoreKey configure the optional secondary
	// persistence sink. Both must be set together.
	DatastoreURL string
	DatastoreKey string

	// ArchiveDBPath enables the optional local bolt archive when non-empty.
	ArchiveDBPath string

	// GroupThreads switches between thread grouping and per-post forwarding.
	GroupThreads bool

	// GroupWindow is the debounce window for thread grouping.
	GroupWindow time.Duration

	// LivenessTimeout is the maximum silent gap before a connection is
	// considered stalled. The provider heartbeats about every 20s.
	LivenessTimeout time.Duration

	// ReconnectDelay applies after transient disconnects.
	ReconnectDelay time.Duration

	// RateLimitFloor is the starting back-off for rate-limit faults.
	RateLimitFloor time.Duration

	// StrictRestart exits the process on rate-limit and liveness faults.
	StrictRestart bool

	// Paused short-circuits all network activity; the process only waits
	// for termination signals.
	Paused bool

	// Compress requests zstd-compressed stream messages.
	Compress bool

	// ListenAddr is the ops HTTP server address.
	ListenAddr string
}

// Load reads configuration from environment variables. Missing required
// variables are an error.
func Load() (*Config, error) {
	cfg := &Config{
		GroupThreads:    true,
		GroupWindow:     2 * time.Second,
		LivenessTimeout: 40 * time.Second,
		ReconnectDelay:  30 * time.Second,
		RateLimitFloor:  time.Minute,
		ListenAddr:      ":18920",
	}

	cfg.StreamToken = os.Getenv("TAPLINE_STREAM_TOKEN")
	if cfg.StreamToken == "" {
		return nil, fmt.Errorf("TAPLINE_STREAM_TOKEN is required")
	}

	cfg.WebhookURL = os.Getenv("TAPLINE_WEBHOOK_URL")
	if cfg.WebhookURL == "" {
		return nil, fmt.Errorf("TAPLINE_WEBHOOK_URL is required")
	}

	if raw := os.Getenv("TAPLINE_STREAM_URL"); raw != "" {
		for _, endpoint := range strings.Split(raw, ",") {
			if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
				cfg.StreamEndpoints = append(cfg.StreamEndpoints, endpoint)
			}
		}
	}

	cfg.DatastoreURL = os.Getenv("TAPLINE_DATASTORE_URL")
	cfg.DatastoreKey = os.Getenv("TAPLINE_DATASTORE_KEY")
	if (cfg.DatastoreURL == "") != (cfg.DatastoreKey == "") {
		return nil, fmt.Errorf("TAPLINE_DATASTORE_URL and TAPLINE_DATASTORE_KEY must be set together")
	}

	cfg.ArchiveDBPath = os.Getenv("TAPLINE_ARCHIVE_DB_PATH")

	if addr := os.Getenv("TAPLINE_LISTEN_ADDR"); addr != "" {
		cfg.ListenAddr = addr
	}

	var err error
	if cfg.GroupThreads, err = boolVar("TAPLINE_GROUP_THREADS", cfg.GroupThreads); err != nil {
		return nil, err
	}
	if cfg.StrictRestart, err = boolVar("TAPLINE_STRICT_RESTART", false); err != nil {
		return nil, err
	}
	if cfg.Paused, err = boolVar("TAPLINE_PAUSED", false); err != nil {
		return nil, err
	}
	if cfg.Compress, err = boolVar("TAPLINE_COMPRESS", false); err != nil {
		return nil, err
	}

	if cfg.GroupWindow, err = durationVar("TAPLINE_GROUP_WINDOW", cfg.GroupWindow); err != nil {
		return nil, err
	}
	if cfg.LivenessTimeout, err = durationVar("TAPLINE_LIVENESS_TIMEOUT", cfg.LivenessTimeout); err != nil {
		return nil, err
	}
	if cfg.ReconnectDelay, err = durationVar("TAPLINE_RECONNECT_DELAY", cfg.ReconnectDelay); err != nil {
		return nil, err
	}
	if cfg.RateLimitFloor, err = durationVar("TAPLINE_RATE_LIMIT_FLOOR", cfg.RateLimitFloor); err != nil {
		return nil, err
	}

	return cfg, nil
}

func boolVar(name string, fallback bool) (bool, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}

func durationVar(name string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", name)
	}
	return v, nil
}
