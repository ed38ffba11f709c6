// Package config handles application configuration management.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/asteroid-belt/wearsync/internal/models"
)

// Config holds all application configuration.
type Config struct {
	// Base directory for all wearsync data
	BaseDir string

	// DeviceName is announced to peers; defaults to the hostname.
	DeviceName string

	// Transport settings for the peer link
	Transport TransportConfig

	// Retry governs the offline queue's automatic retries.
	Retry models.RetryPolicy

	// Sync tunes batching, pacing, and timeouts.
	Sync models.SyncConfiguration

	// Debug enables verbose database logging.
	Debug bool
}

// TransportConfig holds peer link settings.
type TransportConfig struct {
	// ListenAddr is the local address the peer link listens on.
	ListenAddr string
	// PeerURL is the paired device's base URL; empty means wait for the
	// peer to dial in.
	PeerURL string
	// DialInterval is the pause between reconnect attempts.
	DialInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if dir := os.Getenv("WEARSYNC_DIR"); dir != "" {
		cfg.BaseDir = dir
	}
	if name := os.Getenv("WEARSYNC_DEVICE_NAME"); name != "" {
		cfg.DeviceName = name
	}
	if addr := os.Getenv("WEARSYNC_LISTEN"); addr != "" {
		cfg.Transport.ListenAddr = addr
	}
	if url := os.Getenv("WEARSYNC_PEER"); url != "" {
		cfg.Transport.PeerURL = url
	}
	if v := os.Getenv("WEARSYNC_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("WEARSYNC_MAX_RETRIES: %w", err)
		}
		cfg.Retry.MaxRetries = n
	}
	if v := os.Getenv("WEARSYNC_BATCH_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("WEARSYNC_BATCH_SIZE: %w", err)
		}
		cfg.Sync.BatchSize = n
	}
	if os.Getenv("WEARSYNC_DEBUG") != "" {
		cfg.Debug = true
	}

	if err := ensureDirectories(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ensureDirectories creates required directories if they don't exist.
func ensureDirectories(cfg *Config) error {
	paths := GetPaths(cfg)
	for _, dir := range []string{cfg.BaseDir, paths.Audio, paths.Received} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
