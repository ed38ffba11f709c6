package db

import (
	"fmt"
	"io"
	"os"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/asteroid-belt/wearsync/internal/models"
)

// CreateRecording creates a new recording row.
func (db *DB) CreateRecording(rec *models.Recording) error {
	if err := db.Create(rec).Error; err != nil {
		return fmt.Errorf("create recording: %w", err)
	}
	db.notifyRecordingsChanged()
	return nil
}

// GetRecording retrieves a recording by id.
func (db *DB) GetRecording(id string) (*models.Recording, error) {
	var rec models.Recording
	err := db.First(&rec, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get recording %s: %w", id, err)
	}
	return &rec, nil
}

// ListRecordings returns all recordings, newest first.
func (db *DB) ListRecordings() ([]models.Recording, error) {
	var recs []models.Recording
	if err := db.Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	return recs, nil
}

// ListRecordingsByStatus returns recordings in one sync status, newest first.
func (db *DB) ListRecordingsByStatus(status models.SyncStatus) ([]models.Recording, error) {
	var recs []models.Recording
	if err := db.Where("sync_status = ?", status).
		Order("created_at DESC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list recordings by status: %w", err)
	}
	return recs, nil
}

// UpsertRecording creates or updates a recording. Only metadata fields are
// updated on conflict; the local file path and capture attributes are
// preserved.
func (db *DB) UpsertRecording(rec *models.Recording) error {
	err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "description", "tags",
			"sync_status", "updated_at",
		}),
	}).Create(rec).Error
	if err != nil {
		return fmt.Errorf("upsert recording: %w", err)
	}
	db.notifyRecordingsChanged()
	return nil
}

// UpdateTitle sets a recording's title and bumps its updated timestamp.
func (db *DB) UpdateTitle(id, title string) error {
	return db.updateRecordingFields(id, map[string]interface{}{"title": title})
}

// UpdateDescription sets a recording's description.
func (db *DB) UpdateDescription(id, description string) error {
	return db.updateRecordingFields(id, map[string]interface{}{"description": description})
}

// UpdateTags replaces a recording's tags.
func (db *DB) UpdateTags(id string, tags []string) error {
	return db.updateRecordingFields(id, map[string]interface{}{"tags": models.StringList(tags)})
}

// AttachAudioFile records where a received recording's audio landed.
func (db *DB) AttachAudioFile(id, path string, sizeBytes int64) error {
	return db.updateRecordingFields(id, map[string]interface{}{
		"file_path":   path,
		"size_bytes":  sizeBytes,
		"sync_status": models.SyncCompleted,
	})
}

// UpdateSyncStatus moves a recording to a new sync status.
func (db *DB) UpdateSyncStatus(id string, status models.SyncStatus) error {
	return db.updateRecordingFields(id, map[string]interface{}{"sync_status": status})
}

func (db *DB) updateRecordingFields(id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now()
	result := db.Model(&models.Recording{}).Where("id = ?", id).Updates(fields)
	if result.Error != nil {
		return fmt.Errorf("update recording %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("update recording %s: %w", id, gorm.ErrRecordNotFound)
	}
	db.notifyRecordingsChanged()
	return nil
}

// DeleteRecording removes a recording row. The audio file on disk is the
// caller's to clean up.
func (db *DB) DeleteRecording(id string) error {
	result := db.Delete(&models.Recording{}, "id = ?", id)
	if result.Error != nil {
		return fmt.Errorf("delete recording %s: %w", id, result.Error)
	}
	db.notifyRecordingsChanged()
	return nil
}

// AudioReader opens the recording's audio file for streaming. The caller
// closes the reader.
func (db *DB) AudioReader(id string) (io.ReadCloser, int64, error) {
	rec, err := db.GetRecording(id)
	if err != nil {
		return nil, 0, err
	}
	if rec == nil {
		return nil, 0, fmt.Errorf("audio reader: recording %s not found", id)
	}
	if rec.FilePath == "" {
		return nil, 0, fmt.Errorf("audio reader: recording %s has no file", id)
	}
	f, err := os.Open(rec.FilePath)
	if err != nil {
		return nil, 0, fmt.Errorf("open audio file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat audio file: %w", err)
	}
	return f, info.Size(), nil
}

// ObserveRecordings streams the full recording list after every change to
// the recordings table. Subscribers receive the current list immediately.
func (db *DB) ObserveRecordings() (<-chan []models.Recording, func()) {
	changed, cancel := db.recordingsChanged.Subscribe()
	out := make(chan []models.Recording, 1)

	if recs, err := db.ListRecordings(); err == nil {
		out <- recs
	}

	done := make(chan struct{})
	go func() {
		defer close(out)
		for {
			select {
			case _, ok := <-changed:
				if !ok {
					return
				}
				recs, err := db.ListRecordings()
				if err != nil {
					continue
				}
				select {
				case out <- recs:
				default:
					// Drop the stale snapshot; a newer one follows.
					select {
					case <-out:
					default:
					}
					out <- recs
				}
			case <-done:
				return
			}
		}
	}()

	var once bool
	return out, func() {
		if !once {
			once = true
			cancel()
			close(done)
		}
	}
}

func (db *DB) notifyRecordingsChanged() {
	if db.recordingsChanged != nil {
		db.recordingsChanged.Publish(struct{}{})
	}
}
