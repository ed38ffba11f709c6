// Package db provides a GORM-based database layer for wearsync.
// It uses the pure-Go SQLite driver.
package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/asteroid-belt/wearsync/internal/events"
	"github.com/asteroid-belt/wearsync/internal/models"
)

// DB wraps the GORM database connection with wearsync-specific operations.
type DB struct {
	*gorm.DB
	path string

	// recordingsChanged fires after any write to the recordings table so
	// observers can re-read the collection.
	recordingsChanged *events.Broadcaster[struct{}]
}

// Config holds database configuration options.
type Config struct {
	Path        string
	Debug       bool
	MaxIdleConn int
	MaxOpenConn int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		Debug:       false,
		MaxIdleConn: 1,
		MaxOpenConn: 1,
	}
}

// New creates a new database connection and runs migrations.
func New(cfg Config) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	// Configure GORM logger
	logLevel := logger.Silent
	if cfg.Debug {
		logLevel = logger.Info
	}

	// Build DSN with DELETE journal mode for simpler transaction handling
	// (WAL mode has visibility issues with the pure-Go SQLite driver)
	dsn := fmt.Sprintf("%s?_pragma=journal_mode(DELETE)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", cfg.Path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logLevel),
		SkipDefaultTransaction: true, // Better performance for read operations
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Configure connection pool
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConn)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConn)
	sqlDB.SetConnMaxLifetime(time.Hour)

	wrapped := &DB{
		DB:                db,
		path:              cfg.Path,
		recordingsChanged: events.NewBroadcaster[struct{}](8),
	}

	// Run auto-migrations
	if err := wrapped.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	// Seed default sync metadata
	if err := wrapped.seedSyncMeta(); err != nil {
		return nil, fmt.Errorf("seed sync meta: %w", err)
	}

	return wrapped, nil
}

// migrate runs GORM auto-migrations for all models.
func (db *DB) migrate() error {
	return db.AutoMigrate(
		&models.Recording{},
		&models.QueuedOperation{},
		&models.SyncMeta{},
		&SyncRecord{},
	)
}

// seedSyncMeta inserts default sync metadata if not present. The device id
// is generated once and kept for the lifetime of the database.
func (db *DB) seedSyncMeta() error {
	defaults := []models.SyncMeta{
		{Key: models.SyncMetaDeviceID, Value: uuid.New().String()},
		{Key: models.SyncMetaLastMetaSync, Value: ""},
		{Key: models.SyncMetaLastFullSync, Value: ""},
		{Key: models.SyncMetaSchemaVer, Value: "1"},
	}

	for _, meta := range defaults {
		// Only insert if not exists
		result := db.Where("key = ?", meta.Key).FirstOrCreate(&meta)
		if result.Error != nil {
			return result.Error
		}
	}

	return nil
}

// DeviceID returns the persistent device id seeded at first open.
func (db *DB) DeviceID() (string, error) {
	return db.GetSyncMeta(models.SyncMetaDeviceID)
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.recordingsChanged.Close()
	sqlDB, err := db.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Transaction executes a function within a database transaction.
// The callback receives a *DB wrapper that uses the transaction.
// If the callback returns an error, the transaction is rolled back.
// If the callback returns nil, the transaction is committed.
func (d *DB) Transaction(fc func(tx *DB) error) error {
	return d.DB.Transaction(func(tx *gorm.DB) error {
		wrappedTx := &DB{DB: tx, path: d.path, recordingsChanged: d.recordingsChanged}
		return fc(wrappedTx)
	})
}

// GetStats returns aggregate statistics about the database.
func (db *DB) GetStats() (*models.StoreStats, error) {
	var stats models.StoreStats

	if err := db.Model(&models.Recording{}).Count(&stats.TotalRecordings).Error; err != nil {
		return nil, fmt.Errorf("count recordings: %w", err)
	}

	if err := db.Model(&models.Recording{}).
		Where("sync_status = ?", models.SyncPending).
		Count(&stats.PendingRecordings).Error; err != nil {
		return nil, fmt.Errorf("count pending recordings: %w", err)
	}

	if err := db.Model(&models.QueuedOperation{}).
		Where("failed = ?", false).
		Count(&stats.QueuedOperations).Error; err != nil {
		return nil, fmt.Errorf("count queued operations: %w", err)
	}

	if err := db.Model(&models.QueuedOperation{}).
		Where("failed = ?", true).
		Count(&stats.FailedOperations).Error; err != nil {
		return nil, fmt.Errorf("count failed operations: %w", err)
	}

	// Get database file size
	if info, err := os.Stat(db.path); err == nil {
		stats.StoreSizeBytes = info.Size()
	}

	stats.LastUpdated = time.Now()

	return &stats, nil
}
