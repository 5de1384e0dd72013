package models

import (
	"time"

	"gorm.io/datatypes"
)

// CachedRecord is the last known copy of a business entity, refreshed on
// every successful backend read and served while offline.
type CachedRecord struct {
	EntityType    string         `gorm:"primaryKey;type:varchar(100)" json:"entityType"`
	RecordID      string         `gorm:"primaryKey;type:varchar(255)" json:"recordId"`
	Payload       datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	SourceBackend string         `gorm:"type:varchar(10)" json:"sourceBackend"`
	FetchedAt     time.Time      `gorm:"index" json:"fetchedAt"`
}

// TableName specifies the table name
func (CachedRecord) TableName() string {
	return "cached_records"
}
