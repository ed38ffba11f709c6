package config

import (
	"os"
	"time"

	"github.com/asteroid-belt/wearsync/internal/models"
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	name, err := os.Hostname()
	if err != nil {
		name = "wearsync-device"
	}
	return &Config{
		BaseDir:    DefaultBaseDir(),
		DeviceName: name,

		Transport: TransportConfig{
			ListenAddr:   ":8590",
			DialInterval: 5 * time.Second,
		},

		Retry: models.DefaultRetryPolicy(),
		Sync:  models.DefaultSyncConfiguration(),
	}
}
