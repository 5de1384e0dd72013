package models

import "time"

// CachedAsset is a locally stored copy of a remotely fetched image.
// Never authoritative: always re-fetchable from RemoteURL.
type CachedAsset struct {
	ID            string     `gorm:"primaryKey;type:uuid" json:"id"`
	RemoteURL     string     `gorm:"type:varchar(2000);uniqueIndex;not null" json:"remoteUrl"`
	SourceBackend string     `gorm:"type:varchar(10);index" json:"sourceBackend"` // "A" or "B"
	ContentType   string     `gorm:"type:varchar(255)" json:"contentType"`
	Data          []byte     `gorm:"type:bytea" json:"-"`
	SizeBytes     int64      `json:"sizeBytes"`
	FetchedAt     time.Time  `gorm:"index" json:"fetchedAt"`
	LastAccessAt  time.Time  `gorm:"index" json:"lastAccessAt"`
	MigratedAt    *time.Time `json:"migratedAt,omitempty"`
	MigratedURL   string     `gorm:"type:varchar(2000)" json:"migratedUrl,omitempty"`
}

// TableName specifies the table name
func (CachedAsset) TableName() string {
	return "cached_assets"
}
