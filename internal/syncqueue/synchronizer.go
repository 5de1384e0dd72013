package syncqueue

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/courseo-app/courseogo/internal/backend"
	"github.com/courseo-app/courseogo/internal/errs"
	"github.com/courseo-app/courseogo/internal/localcache"
	"github.com/courseo-app/courseogo/internal/models"
)

// Target supplies the authoritative backend at drain time. The arbiter
// implements it: which backend is authoritative can change between drains.
type Target interface {
	AuthoritativeClient() backend.Client
}

// DrainResult summarizes one drain pass
type DrainResult struct {
	Replayed  int  `json:"replayed"`
	Transient int  `json:"transient"`
	Manual    int  `json:"manual"`
	Skipped   bool `json:"skipped"`
}

// Synchronizer replays the pending-change queue against the authoritative
// backend. Drains are strictly FIFO per entity, re-entrant calls are
// no-ops while one is in flight, and transient failures push the next
// attempt out with bounded exponential backoff.
type Synchronizer struct {
	queue  *Queue
	store  *localcache.Store
	target Target

	mu          sync.Mutex
	draining    bool
	nextAttempt time.Time
	backoff     *backoff.ExponentialBackOff

	onDrained []func(DrainResult)
}

// NewSynchronizer creates a synchronizer
func NewSynchronizer(queue *Queue, store *localcache.Store, target Target) *Synchronizer {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.MaxInterval = 5 * time.Minute
	bo.MaxElapsedTime = 0 // the queue never gives up on its own
	bo.Reset()

	return &Synchronizer{
		queue:   queue,
		store:   store,
		target:  target,
		backoff: bo,
	}
}

// OnDrained registers an observer notified after each effective drain pass
func (s *Synchronizer) OnDrained(fn func(DrainResult)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDrained = append(s.onDrained, fn)
}

// TriggerNow clears the backoff gate so the next Drain runs immediately.
// Called on reconnect.
func (s *Synchronizer) TriggerNow() {
	s.mu.Lock()
	s.nextAttempt = time.Time{}
	s.backoff.Reset()
	s.mu.Unlock()
}

// Drain replays queued items in creation order. Safe to call concurrently
// with itself: a call while another drain is in flight returns immediately.
func (s *Synchronizer) Drain(ctx context.Context) DrainResult {
	s.mu.Lock()
	if s.draining || time.Now().Before(s.nextAttempt) {
		s.mu.Unlock()
		return DrainResult{Skipped: true}
	}
	s.draining = true
	s.mu.Unlock()

	result := s.drain(ctx)

	s.mu.Lock()
	s.draining = false
	if result.Transient > 0 {
		delay := s.backoff.NextBackOff()
		s.nextAttempt = time.Now().Add(delay)
		log.Printf("⏳ Drain saw %d transient failure(s), next attempt in %v", result.Transient, delay)
	} else {
		s.backoff.Reset()
		s.nextAttempt = time.Time{}
	}
	observers := append([]func(DrainResult){}, s.onDrained...)
	s.mu.Unlock()

	if !result.Skipped {
		for _, fn := range observers {
			fn(result)
		}
	}
	return result
}

// drain is the single-flight drain body
func (s *Synchronizer) drain(ctx context.Context) DrainResult {
	var result DrainResult

	client := s.target.AuthoritativeClient()
	if client == nil {
		// Nothing reachable; the queue waits for the next trigger
		return DrainResult{Skipped: true}
	}

	items, err := s.queue.Queued()
	if err != nil {
		log.Printf("⚠️  Drain could not read queue: %v", err)
		return DrainResult{Skipped: true}
	}
	if len(items) == 0 {
		return result
	}

	log.Printf("🔄 Draining %d pending change(s) against backend %s", len(items), client.Name())

	// An entity whose item failed transiently blocks its later items so
	// causal order per record is preserved. Other entities continue.
	blocked := make(map[string]bool)

	for i := range items {
		item := &items[i]
		if ctx.Err() != nil {
			break
		}

		key := item.EntityType + "/" + item.EntityID
		if blocked[key] {
			result.Transient++
			continue
		}

		backendID, err := s.replay(ctx, client, item)
		switch {
		case err == nil:
			if backendID != "" && backendID != item.EntityID {
				// The queue rows were rebound inside replay; this slice was
				// loaded before the create ran and still carries the local id
				rebindInFlight(items[i+1:], item.EntityType, item.EntityID, backendID)
			}
			if removeErr := s.queue.remove(item.ID); removeErr != nil {
				log.Printf("⚠️  Replayed change %s but failed to dequeue it: %v", item.ID, removeErr)
			}
			result.Replayed++

		case errs.KindOf(err) == errs.KindAuthExpired:
			// Session is being torn down; stop the whole drain
			log.Printf("🔒 Drain aborted: %v", err)
			s.queue.recordFailure(item, err)
			result.Transient++
			return result

		case errs.IsPermanent(err):
			log.Printf("🚫 Change %s (%s %s) rejected permanently: %v", item.ID, item.Operation, item.EntityType, err)
			s.queue.parkForManual(item, err)
			result.Manual++

		default:
			s.queue.recordFailure(item, err)
			blocked[key] = true
			result.Transient++
		}
	}

	log.Printf("✅ Drain finished: %d replayed, %d transient, %d parked for manual resolution",
		result.Replayed, result.Transient, result.Manual)
	return result
}

// replay applies one pending change against the authoritative backend.
// For a create it returns the backend-assigned id so later items for the
// same record can be repointed.
func (s *Synchronizer) replay(ctx context.Context, client backend.Client, item *models.PendingChange) (string, error) {
	var payload backend.Record
	if err := json.Unmarshal(item.Payload, &payload); err != nil {
		return "", errs.Wrap(errs.KindValidationRejected, "pending payload unreadable", err)
	}

	switch item.Operation {
	case models.OperationCreate:
		localID := payload.ID()
		delete(payload, "id") // the backend assigns the real id
		created, err := client.Create(ctx, item.EntityType, payload)
		if err != nil {
			payload["id"] = localID
			return "", err
		}
		backendID := created.ID()
		s.store.ReplaceLocalID(item.EntityType, localID, backendID)
		s.queue.rebindEntityID(item.EntityType, localID, backendID)
		s.store.CacheRecords(item.EntityType, []backend.Record{created}, client.Name())
		return backendID, nil

	case models.OperationUpdate:
		delete(payload, "id")
		updated, err := client.Update(ctx, item.EntityType, item.EntityID, payload)
		if err != nil {
			return "", err
		}
		s.store.CacheRecords(item.EntityType, []backend.Record{updated}, client.Name())
		return "", nil

	case models.OperationDelete:
		return "", client.Delete(ctx, item.EntityType, item.EntityID)
	}
	return "", errs.New(errs.KindValidationRejected, "unknown pending operation")
}

// rebindInFlight repoints not-yet-replayed items of the current pass onto
// the backend-assigned id after their record's create confirmed
func rebindInFlight(items []models.PendingChange, entityType, localID, backendID string) {
	for i := range items {
		if items[i].EntityType == entityType && items[i].EntityID == localID {
			items[i].EntityID = backendID
		}
	}
}
