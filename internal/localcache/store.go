// Package localcache implements the durable local cache: draft records,
// the read-through copy of backend entities served while offline, and the
// settings table everything session-related persists into.
package localcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/courseo-app/courseogo/internal/backend"
	"github.com/courseo-app/courseogo/internal/database"
	"github.com/courseo-app/courseogo/internal/errs"
	"github.com/courseo-app/courseogo/internal/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store wraps the local database with cache-shaped operations
type Store struct {
	db *database.DB
}

// NewStore creates a local cache store
func NewStore(db *database.DB) *Store {
	return &Store{db: db}
}

// SaveDraft inserts or updates a draft record, assigning an id when missing
func (s *Store) SaveDraft(draft *models.DraftRecord) error {
	if draft.ID == "" {
		draft.ID = uuid.NewString()
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(draft).Error
	if err != nil {
		return errs.Wrap(errs.KindStorageCorrupt, "failed to save draft", err)
	}
	return nil
}

// GetDraft returns a draft by id, or nil when absent
func (s *Store) GetDraft(id string) (*models.DraftRecord, error) {
	var draft models.DraftRecord
	err := s.db.Where("id = ?", id).First(&draft).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindStorageCorrupt, "failed to read draft", err)
	}
	return &draft, nil
}

// ListDrafts returns all drafts for an entity type
func (s *Store) ListDrafts(entityType string) ([]models.DraftRecord, error) {
	var drafts []models.DraftRecord
	if err := s.db.Where("entity_type = ?", entityType).Order("created_at").Find(&drafts).Error; err != nil {
		return nil, errs.Wrap(errs.KindStorageCorrupt, "failed to list drafts", err)
	}
	return drafts, nil
}

// DeleteDraft removes a draft
func (s *Store) DeleteDraft(id string) error {
	if err := s.db.Where("id = ?", id).Delete(&models.DraftRecord{}).Error; err != nil {
		return errs.Wrap(errs.KindStorageCorrupt, "failed to delete draft", err)
	}
	return nil
}

// RepairInvariants runs the startup self-consistency pass over drafts:
// when a draft's foreign key disagrees with the nested copy of the same id
// inside its payload, the foreign key wins and the nested copy is rewritten.
// A draft without a foreign key adopts the nested id instead.
func (s *Store) RepairInvariants() (int, error) {
	var drafts []models.DraftRecord
	if err := s.db.Find(&drafts).Error; err != nil {
		return 0, errs.Wrap(errs.KindStorageCorrupt, "failed to scan drafts", err)
	}

	repaired := 0
	for _, draft := range drafts {
		var payload map[string]interface{}
		if err := json.Unmarshal(draft.Payload, &payload); err != nil {
			log.Printf("⚠️  Draft %s payload unreadable, skipping repair: %v", draft.ID, err)
			continue
		}
		nested, ok := payload["record"].(map[string]interface{})
		if !ok {
			continue
		}
		nestedID, _ := nested["id"].(string)

		switch {
		case draft.EntityRef == "" && nestedID != "":
			draft.EntityRef = nestedID
		case draft.EntityRef != "" && nestedID != draft.EntityRef:
			nested["id"] = draft.EntityRef
		default:
			continue
		}

		raw, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		draft.Payload = datatypes.JSON(raw)
		if err := s.db.Save(&draft).Error; err != nil {
			log.Printf("⚠️  Failed to repair draft %s: %v", draft.ID, err)
			continue
		}
		repaired++
	}

	if repaired > 0 {
		log.Printf("🔧 Repaired %d draft record(s) with inconsistent references", repaired)
	}
	return repaired, nil
}

// CacheRecords refreshes the read-through copies after a successful
// backend read. Failures are logged, never propagated: caching is an
// optimization, not a correctness requirement.
func (s *Store) CacheRecords(entityType string, records []backend.Record, sourceBackend string) {
	for _, rec := range records {
		id := rec.ID()
		if id == "" {
			continue
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		cached := models.CachedRecord{
			EntityType:    entityType,
			RecordID:      id,
			Payload:       datatypes.JSON(raw),
			SourceBackend: sourceBackend,
			FetchedAt:     time.Now().UTC(),
		}
		err = s.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "entity_type"}, {Name: "record_id"}},
			UpdateAll: true,
		}).Create(&cached).Error
		if err != nil {
			log.Printf("⚠️  Failed to cache %s/%s: %v", entityType, id, err)
		}
	}
}

// GetCachedRecord returns the last known copy of a record, or nil
func (s *Store) GetCachedRecord(entityType, id string) (backend.Record, error) {
	var cached models.CachedRecord
	err := s.db.Where("entity_type = ? AND record_id = ?", entityType, id).First(&cached).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.KindStorageCorrupt, "failed to read cached record", err)
	}
	return decodeCached(cached)
}

// ListCachedRecords returns the last known records for an entity type,
// filtered in memory the same way a backend list would be
func (s *Store) ListCachedRecords(entityType string, q backend.Query) ([]backend.Record, error) {
	var cached []models.CachedRecord
	if err := s.db.Where("entity_type = ?", entityType).Order("record_id").Find(&cached).Error; err != nil {
		return nil, errs.Wrap(errs.KindStorageCorrupt, "failed to list cached records", err)
	}

	records := make([]backend.Record, 0, len(cached))
	for _, c := range cached {
		rec, err := decodeCached(c)
		if err != nil {
			continue
		}
		if !matchesFilter(rec, q.Filter) {
			continue
		}
		records = append(records, rec)
		if q.Limit > 0 && len(records) >= q.Limit {
			break
		}
	}
	return records, nil
}

// ApplyLocal applies a mutation against the cached copies so offline reads
// see their own writes. Creates get a locally generated id that the
// synchronizer later reconciles with the backend-assigned one.
func (s *Store) ApplyLocal(entityType string, op models.Operation, payload backend.Record) (backend.Record, error) {
	switch op {
	case models.OperationCreate:
		if payload.ID() == "" {
			payload["id"] = "local-" + uuid.NewString()
		}
		s.CacheRecords(entityType, []backend.Record{payload}, "local")
		return payload, nil

	case models.OperationUpdate:
		id := payload.ID()
		if id == "" {
			return nil, errs.New(errs.KindValidationRejected, "update requires an id")
		}
		existing, err := s.GetCachedRecord(entityType, id)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			existing = backend.Record{}
		}
		for k, v := range payload {
			existing[k] = v
		}
		s.CacheRecords(entityType, []backend.Record{existing}, "local")
		return existing, nil

	case models.OperationDelete:
		id := payload.ID()
		if id == "" {
			return nil, errs.New(errs.KindValidationRejected, "delete requires an id")
		}
		err := s.db.Where("entity_type = ? AND record_id = ?", entityType, id).
			Delete(&models.CachedRecord{}).Error
		if err != nil {
			return nil, errs.Wrap(errs.KindStorageCorrupt, "failed to delete cached record", err)
		}
		return payload, nil
	}
	return nil, errs.New(errs.KindValidationRejected, fmt.Sprintf("unknown operation %q", op))
}

// ReplaceLocalID rewrites a locally generated id with the backend-assigned
// one after a create replays successfully
func (s *Store) ReplaceLocalID(entityType, localID, backendID string) {
	if localID == "" || backendID == "" || localID == backendID {
		return
	}
	rec, err := s.GetCachedRecord(entityType, localID)
	if err != nil || rec == nil {
		return
	}
	s.db.Where("entity_type = ? AND record_id = ?", entityType, localID).
		Delete(&models.CachedRecord{})
	rec["id"] = backendID
	s.CacheRecords(entityType, []backend.Record{rec}, "local")
}

// decodeCached unpacks a cached row into the canonical record shape
func decodeCached(c models.CachedRecord) (backend.Record, error) {
	var rec backend.Record
	if err := json.Unmarshal(c.Payload, &rec); err != nil {
		return nil, errs.Wrap(errs.KindStorageCorrupt, "cached record unreadable", err)
	}
	return rec, nil
}

// matchesFilter applies equality filters against record fields
func matchesFilter(rec backend.Record, filter map[string]string) bool {
	for k, want := range filter {
		got, ok := rec[k]
		if !ok || fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}
