package db

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/asteroid-belt/wearsync/internal/models"
)

// EnqueueOperation persists a new queued operation. Duplicate logical
// operations are allowed; the drain loop processes each independently.
func (db *DB) EnqueueOperation(op *models.QueuedOperation) error {
	if err := db.Create(op).Error; err != nil {
		return fmt.Errorf("enqueue operation: %w", err)
	}
	return nil
}

// GetOperation retrieves one queued operation by id.
func (db *DB) GetOperation(id string) (*models.QueuedOperation, error) {
	var op models.QueuedOperation
	err := db.First(&op, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get operation %s: %w", id, err)
	}
	return &op, nil
}

// NextOperations returns up to limit active operations eligible to run at
// now, ordered by priority urgency then enqueue time. Operations waiting out
// a backoff delay are skipped.
func (db *DB) NextOperations(now time.Time, limit int) ([]models.QueuedOperation, error) {
	var ops []models.QueuedOperation
	err := db.Where("failed = ?", false).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Order("created_at ASC").
		Find(&ops).Error
	if err != nil {
		return nil, fmt.Errorf("next operations: %w", err)
	}

	// Priority ranks are not ordinal in SQL, so sort the candidate set here.
	// The sort is stable: FIFO order holds within one priority.
	sortByUrgency(ops)

	if limit > 0 && len(ops) > limit {
		ops = ops[:limit]
	}
	return ops, nil
}

// sortByUrgency orders operations by descending priority rank, preserving
// the incoming FIFO order within equal ranks.
func sortByUrgency(ops []models.QueuedOperation) {
	// Insertion sort keeps the stability guarantee explicit.
	for i := 1; i < len(ops); i++ {
		for j := i; j > 0 && ops[j].Priority.UrgencyRank() > ops[j-1].Priority.UrgencyRank(); j-- {
			ops[j], ops[j-1] = ops[j-1], ops[j]
		}
	}
}

// ActiveOperations returns all non-failed operations, oldest first.
func (db *DB) ActiveOperations() ([]models.QueuedOperation, error) {
	var ops []models.QueuedOperation
	if err := db.Where("failed = ?", false).
		Order("created_at ASC").Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("active operations: %w", err)
	}
	return ops, nil
}

// FailedOperations returns the quarantined set, oldest first.
func (db *DB) FailedOperations() ([]models.QueuedOperation, error) {
	var ops []models.QueuedOperation
	if err := db.Where("failed = ?", true).
		Order("created_at ASC").Find(&ops).Error; err != nil {
		return nil, fmt.Errorf("failed operations: %w", err)
	}
	return ops, nil
}

// CompleteOperation removes a finished operation from the queue.
func (db *DB) CompleteOperation(id string) error {
	if err := db.Delete(&models.QueuedOperation{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("complete operation %s: %w", id, err)
	}
	return nil
}

// FailOperation moves an operation to the failed set, recording the bumped
// retry count and the earliest automatic retry time. A nil nextRetryAt marks
// the failure terminal; only a manual retry revives it.
func (db *DB) FailOperation(id string, retryCount int, nextRetryAt *time.Time, lastError string) error {
	result := db.Model(&models.QueuedOperation{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"failed":        true,
			"retry_count":   retryCount,
			"next_retry_at": nextRetryAt,
			"last_error":    lastError,
		})
	if result.Error != nil {
		return fmt.Errorf("fail operation %s: %w", id, result.Error)
	}
	return nil
}

// RequeueEligibleFailed moves failed operations whose retry time has elapsed
// and whose retry budget is not exhausted back to the active queue. The
// retry count is preserved so backoff keeps growing. Returns the number
// requeued.
func (db *DB) RequeueEligibleFailed(now time.Time, maxRetries int) (int64, error) {
	result := db.Model(&models.QueuedOperation{}).
		Where("failed = ?", true).
		Where("retry_count < ?", maxRetries).
		Where("next_retry_at IS NOT NULL AND next_retry_at <= ?", now).
		Updates(map[string]interface{}{
			"failed":        false,
			"next_retry_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("requeue eligible failed: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ReviveOperation moves a failed operation back to the active queue with a
// fresh retry budget.
func (db *DB) ReviveOperation(id string) error {
	result := db.Model(&models.QueuedOperation{}).Where("id = ? AND failed = ?", id, true).
		Updates(map[string]interface{}{
			"failed":        false,
			"retry_count":   0,
			"next_retry_at": nil,
			"last_error":    "",
		})
	if result.Error != nil {
		return fmt.Errorf("revive operation %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("revive operation %s: %w", id, gorm.ErrRecordNotFound)
	}
	return nil
}

// ReviveAllFailed moves every failed operation back to the active queue.
// Returns the number revived.
func (db *DB) ReviveAllFailed() (int64, error) {
	result := db.Model(&models.QueuedOperation{}).Where("failed = ?", true).
		Updates(map[string]interface{}{
			"failed":        false,
			"retry_count":   0,
			"next_retry_at": nil,
			"last_error":    "",
		})
	if result.Error != nil {
		return 0, fmt.Errorf("revive failed operations: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ClearActiveOperations drops every pending operation. Returns the number
// removed.
func (db *DB) ClearActiveOperations() (int64, error) {
	result := db.Where("failed = ?", false).Delete(&models.QueuedOperation{})
	if result.Error != nil {
		return 0, fmt.Errorf("clear active operations: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// ClearFailedOperations drops the quarantined set. Returns the number
// removed.
func (db *DB) ClearFailedOperations() (int64, error) {
	result := db.Where("failed = ?", true).Delete(&models.QueuedOperation{})
	if result.Error != nil {
		return 0, fmt.Errorf("clear failed operations: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountOperations returns the active and failed queue depths.
func (db *DB) CountOperations() (active int64, failed int64, err error) {
	if err = db.Model(&models.QueuedOperation{}).
		Where("failed = ?", false).Count(&active).Error; err != nil {
		return 0, 0, fmt.Errorf("count active operations: %w", err)
	}
	if err = db.Model(&models.QueuedOperation{}).
		Where("failed = ?", true).Count(&failed).Error; err != nil {
		return 0, 0, fmt.Errorf("count failed operations: %w", err)
	}
	return active, failed, nil
}
