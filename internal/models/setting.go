package models

import "time"

// StoredSetting is a namespaced key/value entry in the local database.
// Session storage (canonical key plus legacy mirrors), the data source
// preference and the forced-offline override all live here, so every writer
// uses its own key and cannot clobber the others.
type StoredSetting struct {
	Key       string    `gorm:"primaryKey;type:varchar(255)" json:"key"`
	Value     string    `gorm:"type:text" json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName specifies the table name
func (StoredSetting) TableName() string {
	return "stored_settings"
}
