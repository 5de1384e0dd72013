// Package syncqueue implements the pending-change queue and the
// synchronizer that replays queued mutations against the authoritative
// backend once connectivity returns.
package syncqueue

import (
	"encoding/json"
	"fmt"

	"github.com/courseo-app/courseogo/internal/backend"
	"github.com/courseo-app/courseogo/internal/database"
	"github.com/courseo-app/courseogo/internal/errs"
	"github.com/courseo-app/courseogo/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Queue is the append-only store of mutations awaiting replay.
// Items are owned exclusively by the synchronizer once enqueued: confirmed
// replays remove them, transient failures increment the attempt count,
// permanent failures park them for manual resolution. Nothing is ever
// silently dropped.
type Queue struct {
	db *database.DB
}

// NewQueue creates a queue over the local database
func NewQueue(db *database.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue appends a mutation with a fresh id and a zero attempt count
func (q *Queue) Enqueue(entityType, entityID string, op models.Operation, payload backend.Record) (*models.PendingChange, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize pending payload: %w", err)
	}

	change := &models.PendingChange{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Operation:  op,
		Payload:    datatypes.JSON(raw),
		Status:     models.PendingStatusQueued,
	}
	if err := q.db.Create(change).Error; err != nil {
		return nil, errs.Wrap(errs.KindStorageCorrupt, "failed to enqueue pending change", err)
	}
	return change, nil
}

// Queued returns replayable items strictly in creation order
func (q *Queue) Queued() ([]models.PendingChange, error) {
	var items []models.PendingChange
	err := q.db.Where("status = ?", models.PendingStatusQueued).
		Order("seq").Find(&items).Error
	if err != nil {
		return nil, errs.Wrap(errs.KindStorageCorrupt, "failed to read pending queue", err)
	}
	return items, nil
}

// Manual returns items parked for human resolution
func (q *Queue) Manual() ([]models.PendingChange, error) {
	var items []models.PendingChange
	err := q.db.Where("status = ?", models.PendingStatusManual).
		Order("seq").Find(&items).Error
	if err != nil {
		return nil, errs.Wrap(errs.KindStorageCorrupt, "failed to read manual items", err)
	}
	return items, nil
}

// Counts returns the number of queued and manual items
func (q *Queue) Counts() (queued int64, manual int64) {
	q.db.Model(&models.PendingChange{}).Where("status = ?", models.PendingStatusQueued).Count(&queued)
	q.db.Model(&models.PendingChange{}).Where("status = ?", models.PendingStatusManual).Count(&manual)
	return queued, manual
}

// remove deletes a confirmed item
func (q *Queue) remove(id string) error {
	return q.db.Where("id = ?", id).Delete(&models.PendingChange{}).Error
}

// recordFailure keeps an item with an incremented attempt count
func (q *Queue) recordFailure(item *models.PendingChange, cause error) {
	msg := cause.Error()
	item.AttemptCount++
	item.LastError = &msg
	q.db.Model(&models.PendingChange{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
		"attempt_count": item.AttemptCount,
		"last_error":    msg,
	})
}

// parkForManual marks an item as requiring human resolution
func (q *Queue) parkForManual(item *models.PendingChange, cause error) {
	msg := cause.Error()
	q.db.Model(&models.PendingChange{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
		"status":     models.PendingStatusManual,
		"last_error": msg,
	})
}

// rebindEntityID repoints later queue items after a create replay assigned
// the backend id
func (q *Queue) rebindEntityID(entityType, localID, backendID string) {
	if localID == "" || backendID == "" || localID == backendID {
		return
	}
	q.db.Model(&models.PendingChange{}).
		Where("entity_type = ? AND entity_id = ?", entityType, localID).
		Update("entity_id", backendID)
}
