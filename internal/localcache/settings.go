package localcache

import (
	"errors"
	"log"
	"sync"

	"github.com/courseo-app/courseogo/internal/database"
	"github.com/courseo-app/courseogo/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Settings is the namespaced key/value store shared by the session store,
// the arbiter preference and the connectivity override. When the local
// database misbehaves, writes degrade to an in-memory overlay for the rest
// of the process instead of failing the caller.
type Settings struct {
	db *database.DB

	mu      sync.RWMutex
	overlay map[string]string
}

// NewSettings creates a settings store backed by the local database
func NewSettings(db *database.DB) *Settings {
	return &Settings{
		db:      db,
		overlay: make(map[string]string),
	}
}

// Get returns the value for a key, or "" and false when absent
func (s *Settings) Get(key string) (string, bool) {
	var setting models.StoredSetting
	err := s.db.Where("key = ?", key).First(&setting).Error
	if err == nil {
		return setting.Value, true
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("⚠️  Settings read failed for %q, checking in-memory overlay: %v", key, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.overlay[key]
	return v, ok
}

// Put stores a value under a key
func (s *Settings) Put(key, value string) {
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		UpdateAll: true,
	}).Create(&models.StoredSetting{Key: key, Value: value}).Error
	if err != nil {
		log.Printf("⚠️  Settings write failed for %q, degrading to in-memory: %v", key, err)
		s.mu.Lock()
		s.overlay[key] = value
		s.mu.Unlock()
		return
	}

	s.mu.Lock()
	delete(s.overlay, key)
	s.mu.Unlock()
}

// Delete removes a key
func (s *Settings) Delete(key string) {
	if err := s.db.Where("key = ?", key).Delete(&models.StoredSetting{}).Error; err != nil {
		log.Printf("⚠️  Settings delete failed for %q: %v", key, err)
	}
	s.mu.Lock()
	delete(s.overlay, key)
	s.mu.Unlock()
}
