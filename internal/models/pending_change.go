package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PendingStatus represents the lifecycle of a queued mutation
type PendingStatus string

const (
	// PendingStatusQueued means the change awaits replay
	PendingStatusQueued PendingStatus = "queued"
	// PendingStatusManual means replay hit a permanent failure and the
	// change waits for human resolution. Never discarded automatically.
	PendingStatusManual PendingStatus = "manual"
)

// Operation is the mutation verb of a pending change
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// PendingChange is a mutation recorded while the authoritative backend was
// not reachable (or not yet confirmed). Owned exclusively by the
// synchronizer: removed on confirmed replay, kept with an incremented
// attempt count on transient failure.
type PendingChange struct {
	// Seq is the replay order: a monotonic insert sequence, because
	// same-millisecond timestamps cannot order a burst of offline edits
	Seq          int64          `gorm:"primaryKey;autoIncrement" json:"seq"`
	ID           string         `gorm:"type:uuid;uniqueIndex;not null" json:"id"`
	EntityType   string         `gorm:"type:varchar(100);not null;index:idx_pending_entity" json:"entityType"`
	EntityID     string         `gorm:"type:varchar(255);index:idx_pending_entity" json:"entityId"`
	Operation    Operation      `gorm:"type:varchar(20);not null" json:"operation"`
	Payload      datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	AttemptCount int            `gorm:"default:0" json:"attemptCount"`
	LastError    *string        `gorm:"type:text" json:"lastError,omitempty"`
	Status       PendingStatus  `gorm:"type:varchar(20);default:'queued';index" json:"status"`
	CreatedAt    time.Time      `gorm:"index" json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (PendingChange) TableName() string {
	return "pending_changes"
}

// BeforeCreate hook
func (pc *PendingChange) BeforeCreate(tx *gorm.DB) error {
	if pc.Status == "" {
		pc.Status = PendingStatusQueued
	}
	return nil
}
