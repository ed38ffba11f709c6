package config

import (
	"path/filepath"

	"github.com/adrg/xdg"
)

// Paths contains commonly used file paths.
type Paths struct {
	Database string // Main SQLite database
	Log      string // Log file
	Audio    string // Locally captured audio files
	Received string // Audio files received from peers
}

// GetPaths returns all commonly used paths based on config.
func GetPaths(cfg *Config) Paths {
	return Paths{
		Database: filepath.Join(cfg.BaseDir, "wearsync.db"),
		Log:      filepath.Join(cfg.BaseDir, "wearsync.log"),
		Audio:    filepath.Join(cfg.BaseDir, "audio"),
		Received: filepath.Join(cfg.BaseDir, "received"),
	}
}

// DefaultBaseDir returns the default base directory, following the XDG
// data-home convention.
func DefaultBaseDir() string {
	return filepath.Join(xdg.DataHome, "wearsync")
}
