package models

import (
	"time"

	"gorm.io/datatypes"
)

// DraftRecord is a partially filled business entity (typically an order
// being composed) persisted locally so it survives restarts. EntityRef is
// the foreign key to the record the draft will become; the same id is also
// embedded in the payload and must stay consistent with EntityRef
// (see localcache.RepairInvariants).
type DraftRecord struct {
	ID         string         `gorm:"primaryKey;type:uuid" json:"id"`
	EntityType string         `gorm:"type:varchar(100);not null;index" json:"entityType"`
	EntityRef  string         `gorm:"type:varchar(255)" json:"entityRef"`
	Payload    datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// TableName specifies the table name
func (DraftRecord) TableName() string {
	return "draft_records"
}
