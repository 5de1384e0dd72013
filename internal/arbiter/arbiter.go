// Package arbiter decides, per operation, whether the legacy backend (A),
// the new REST backend (B) or the local durable cache serves it. B is
// preferred whenever both backends are viable; every mutation accepted
// while not fully synchronized against the authoritative backend is also
// queued for replay, because during a migration a "success" against the
// legacy store does not guarantee the new store will see it.
package arbiter

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/courseo-app/courseogo/internal/backend"
	"github.com/courseo-app/courseogo/internal/connectivity"
	"github.com/courseo-app/courseogo/internal/errs"
	"github.com/courseo-app/courseogo/internal/localcache"
	"github.com/courseo-app/courseogo/internal/models"
	"github.com/courseo-app/courseogo/internal/syncqueue"
)

const keyPreference = "datasource.preference"

// Source is the arbiter state for one entity type
type Source string

const (
	SourceUsingB    Source = "USING_B"
	SourceUsingA    Source = "USING_A"
	SourceLocalOnly Source = "USING_LOCAL_ONLY"
)

// Preference is the process-wide data source preference, persisted
// across restarts
type Preference string

const (
	PreferenceAuto   Preference = "AUTO"
	PreferenceForceA Preference = "FORCE_A"
	PreferenceForceB Preference = "FORCE_B"
)

// WriteResult reports where a mutation landed and whether it was queued
type WriteResult struct {
	Record backend.Record `json:"record"`
	Source Source         `json:"source"`
	Queued bool           `json:"queued"`
}

// Arbiter is the data source arbiter
type Arbiter struct {
	clientA  backend.Client
	clientB  backend.Client
	store    *localcache.Store
	queue    *syncqueue.Queue
	monitor  *connectivity.Monitor
	settings *localcache.Settings

	mu            sync.RWMutex
	pref          Preference
	defaultSource Source
	sources       map[string]Source

	onSwitch    []func(entityType string, from, to Source)
	onRecovered []func()
}

// New creates the arbiter, restoring the persisted preference
func New(clientA, clientB backend.Client, store *localcache.Store, queue *syncqueue.Queue, monitor *connectivity.Monitor, settings *localcache.Settings) *Arbiter {
	a := &Arbiter{
		clientA:       clientA,
		clientB:       clientB,
		store:         store,
		queue:         queue,
		monitor:       monitor,
		settings:      settings,
		pref:          PreferenceAuto,
		defaultSource: SourceUsingB,
		sources:       make(map[string]Source),
	}
	if v, ok := settings.Get(keyPreference); ok {
		switch Preference(v) {
		case PreferenceAuto, PreferenceForceA, PreferenceForceB:
			a.pref = Preference(v)
		}
	}
	return a
}

// Start computes the initial default source and hooks connectivity
// transitions. Offline drops every entity to local immediately; recovery
// re-elects the default source (never resuming A silently when B is back)
// and notifies the recovery observers so the synchronizer drains.
func (a *Arbiter) Start(ctx context.Context) {
	a.electDefaultSource(ctx)

	a.monitor.Subscribe(func(online bool) {
		if online {
			a.handleRecovered()
		} else {
			a.handleOffline()
		}
	})
}

// OnSwitch registers an observer for per-entity source transitions
func (a *Arbiter) OnSwitch(fn func(entityType string, from, to Source)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onSwitch = append(a.onSwitch, fn)
}

// OnRecovered registers an observer fired after connectivity returns
func (a *Arbiter) OnRecovered(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onRecovered = append(a.onRecovered, fn)
}

// Preference returns the current data source preference
func (a *Arbiter) Preference() Preference {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pref
}

// SetPreference persists a new preference and resets per-entity state
func (a *Arbiter) SetPreference(ctx context.Context, p Preference) {
	a.mu.Lock()
	a.pref = p
	a.sources = make(map[string]Source)
	a.mu.Unlock()

	a.settings.Put(keyPreference, string(p))
	log.Printf("⚙️  Data source preference set to %s", p)
	a.electDefaultSource(ctx)
}

// electDefaultSource picks the starting source. Forced offline skips all
// probes: no network call is made while the override is set.
func (a *Arbiter) electDefaultSource(ctx context.Context) {
	if a.monitor.IsForcedOffline() {
		a.setDefault(SourceLocalOnly)
		return
	}

	pref := a.Preference()
	if pref == PreferenceForceA {
		a.setDefault(SourceUsingA)
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	errB := a.clientB.Ping(probeCtx)
	cancel()
	if errB == nil {
		a.setDefault(SourceUsingB)
		return
	}
	if pref == PreferenceForceB {
		a.setDefault(SourceLocalOnly)
		return
	}

	probeCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
	errA := a.clientA.Ping(probeCtx)
	cancel()
	if errA == nil {
		a.setDefault(SourceUsingA)
		return
	}
	a.setDefault(SourceLocalOnly)
}

// setDefault records the default source and clears per-entity overrides
func (a *Arbiter) setDefault(src Source) {
	a.mu.Lock()
	a.defaultSource = src
	a.sources = make(map[string]Source)
	a.mu.Unlock()
	log.Printf("🧭 Arbiter default source: %s", src)
}

// handleOffline drops every entity to the local cache without any
// network attempt
func (a *Arbiter) handleOffline() {
	a.setDefault(SourceLocalOnly)
}

// handleRecovered re-elects the default source and fires recovery observers
func (a *Arbiter) handleRecovered() {
	a.electDefaultSource(context.Background())

	a.mu.RLock()
	observers := append([]func(){}, a.onRecovered...)
	a.mu.RUnlock()
	for _, fn := range observers {
		fn()
	}
}

// sourceFor resolves the current source for an entity type. Forced
// offline and detected offline both pin it to local.
func (a *Arbiter) sourceFor(entityType string) Source {
	if a.monitor.IsForcedOffline() || !a.monitor.IsOnline() {
		return SourceLocalOnly
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if src, ok := a.sources[entityType]; ok {
		return src
	}
	return a.defaultSource
}

// transition records a per-entity source change and notifies observers
func (a *Arbiter) transition(entityType string, to Source) {
	a.mu.Lock()
	from, ok := a.sources[entityType]
	if !ok {
		from = a.defaultSource
	}
	if from == to {
		a.mu.Unlock()
		return
	}
	a.sources[entityType] = to
	observers := append([]func(string, Source, Source){}, a.onSwitch...)
	a.mu.Unlock()

	log.Printf("🔀 %s: %s -> %s", entityType, from, to)
	for _, fn := range observers {
		fn(entityType, from, to)
	}
}

// clientFor maps a source to its backend client
func (a *Arbiter) clientFor(src Source) backend.Client {
	switch src {
	case SourceUsingA:
		return a.clientA
	case SourceUsingB:
		return a.clientB
	}
	return nil
}

// otherBackend returns the fallback source for AUTO mode
func otherBackend(src Source) Source {
	if src == SourceUsingB {
		return SourceUsingA
	}
	return SourceUsingB
}

// authoritative reports which backend writes must eventually reach.
// B is preferred; only FORCE_A changes that.
func (a *Arbiter) authoritative() Source {
	if a.Preference() == PreferenceForceA {
		return SourceUsingA
	}
	return SourceUsingB
}

// AuthoritativeClient implements syncqueue.Target: the client pending
// changes replay against right now, or nil while nothing may be called.
func (a *Arbiter) AuthoritativeClient() backend.Client {
	if a.monitor.IsForcedOffline() || !a.monitor.IsOnline() {
		return nil
	}

	want := a.authoritative()
	client := a.clientFor(want)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		return nil
	}
	return client
}

// Read lists records for an entity type through the current source,
// falling back per the arbitration policy and refreshing the read-through
// cache on success
func (a *Arbiter) Read(ctx context.Context, entityType string, q backend.Query) ([]backend.Record, Source, error) {
	src := a.sourceFor(entityType)
	if src == SourceLocalOnly {
		records, err := a.store.ListCachedRecords(entityType, q)
		return records, SourceLocalOnly, err
	}

	records, err := a.clientFor(src).List(ctx, entityType, q)
	if err == nil {
		a.store.CacheRecords(entityType, records, a.clientFor(src).Name())
		return records, src, nil
	}
	if !errs.IsTransient(err) {
		return nil, src, err
	}

	if a.Preference() == PreferenceAuto {
		fallback := otherBackend(src)
		records, retryErr := a.clientFor(fallback).List(ctx, entityType, q)
		if retryErr == nil {
			a.transition(entityType, fallback)
			a.store.CacheRecords(entityType, records, a.clientFor(fallback).Name())
			return records, fallback, nil
		}
		if !errs.IsTransient(retryErr) {
			return nil, fallback, retryErr
		}
	}

	a.transition(entityType, SourceLocalOnly)
	records, cacheErr := a.store.ListCachedRecords(entityType, q)
	return records, SourceLocalOnly, cacheErr
}

// Get fetches one record through the current source with the same
// fallback policy as Read
func (a *Arbiter) Get(ctx context.Context, entityType, id string) (backend.Record, Source, error) {
	src := a.sourceFor(entityType)
	if src == SourceLocalOnly {
		rec, err := a.store.GetCachedRecord(entityType, id)
		return rec, SourceLocalOnly, err
	}

	rec, err := a.clientFor(src).Get(ctx, entityType, id)
	if err == nil {
		a.store.CacheRecords(entityType, []backend.Record{rec}, a.clientFor(src).Name())
		return rec, src, nil
	}
	if !errs.IsTransient(err) {
		return nil, src, err
	}

	if a.Preference() == PreferenceAuto {
		fallback := otherBackend(src)
		rec, retryErr := a.clientFor(fallback).Get(ctx, entityType, id)
		if retryErr == nil {
			a.transition(entityType, fallback)
			a.store.CacheRecords(entityType, []backend.Record{rec}, a.clientFor(fallback).Name())
			return rec, fallback, nil
		}
		if !errs.IsTransient(retryErr) {
			return nil, fallback, retryErr
		}
	}

	a.transition(entityType, SourceLocalOnly)
	rec, cacheErr := a.store.GetCachedRecord(entityType, id)
	return rec, SourceLocalOnly, cacheErr
}

// Write executes a mutation. Anything not confirmed by the authoritative
// backend is queued for replay, including writes that nominally succeeded
// against the non-authoritative backend.
func (a *Arbiter) Write(ctx context.Context, entityType string, op models.Operation, payload backend.Record) (*WriteResult, error) {
	src := a.sourceFor(entityType)

	if src == SourceLocalOnly {
		return a.writeLocal(entityType, op, payload)
	}

	rec, err := a.execute(ctx, a.clientFor(src), entityType, op, payload)
	if err == nil {
		queued := false
		if src != a.authoritative() {
			if _, qErr := a.queue.Enqueue(entityType, mutationID(op, rec, payload), op, payload); qErr != nil {
				log.Printf("⚠️  Could not queue shadow copy of %s %s: %v", op, entityType, qErr)
			} else {
				queued = true
			}
		}
		a.store.CacheRecords(entityType, []backend.Record{rec}, a.clientFor(src).Name())
		return &WriteResult{Record: rec, Source: src, Queued: queued}, nil
	}
	if !errs.IsTransient(err) {
		return nil, err
	}

	if a.Preference() == PreferenceAuto {
		fallback := otherBackend(src)
		rec, retryErr := a.execute(ctx, a.clientFor(fallback), entityType, op, payload)
		if retryErr == nil {
			a.transition(entityType, fallback)
			queued := false
			if fallback != a.authoritative() {
				if _, qErr := a.queue.Enqueue(entityType, mutationID(op, rec, payload), op, payload); qErr != nil {
					log.Printf("⚠️  Could not queue shadow copy of %s %s: %v", op, entityType, qErr)
				} else {
					queued = true
				}
			}
			a.store.CacheRecords(entityType, []backend.Record{rec}, a.clientFor(fallback).Name())
			return &WriteResult{Record: rec, Source: fallback, Queued: queued}, nil
		}
		if !errs.IsTransient(retryErr) {
			return nil, retryErr
		}
	}

	a.transition(entityType, SourceLocalOnly)
	return a.writeLocal(entityType, op, payload)
}

// writeLocal applies a mutation to the local cache and queues it
func (a *Arbiter) writeLocal(entityType string, op models.Operation, payload backend.Record) (*WriteResult, error) {
	rec, err := a.store.ApplyLocal(entityType, op, payload)
	if err != nil {
		return nil, err
	}
	if _, err := a.queue.Enqueue(entityType, rec.ID(), op, rec); err != nil {
		return nil, err
	}
	return &WriteResult{Record: rec, Source: SourceLocalOnly, Queued: true}, nil
}

// execute dispatches one mutation verb against a backend client
func (a *Arbiter) execute(ctx context.Context, client backend.Client, entityType string, op models.Operation, payload backend.Record) (backend.Record, error) {
	switch op {
	case models.OperationCreate:
		return client.Create(ctx, entityType, payload)
	case models.OperationUpdate:
		id := payload.ID()
		if id == "" {
			return nil, errs.New(errs.KindValidationRejected, "update requires an id")
		}
		body := make(backend.Record, len(payload))
		for k, v := range payload {
			if k != "id" {
				body[k] = v
			}
		}
		return client.Update(ctx, entityType, id, body)
	case models.OperationDelete:
		id := payload.ID()
		if id == "" {
			return nil, errs.New(errs.KindValidationRejected, "delete requires an id")
		}
		if err := client.Delete(ctx, entityType, id); err != nil {
			return nil, err
		}
		return payload, nil
	}
	return nil, errs.New(errs.KindValidationRejected, "unknown operation")
}

// mutationID picks the id a queued shadow copy should track
func mutationID(op models.Operation, result, payload backend.Record) string {
	if id := result.ID(); id != "" {
		return id
	}
	return payload.ID()
}

// Status describes the arbiter for support tooling
type Status struct {
	Preference    Preference        `json:"preference"`
	DefaultSource Source            `json:"defaultSource"`
	Sources       map[string]Source `json:"sources"`
	Online        bool              `json:"online"`
	ForcedOffline bool              `json:"forcedOffline"`
}

// CurrentStatus snapshots the arbiter state
func (a *Arbiter) CurrentStatus() Status {
	a.mu.RLock()
	sources := make(map[string]Source, len(a.sources))
	for k, v := range a.sources {
		sources[k] = v
	}
	pref := a.pref
	def := a.defaultSource
	a.mu.RUnlock()

	return Status{
		Preference:    pref,
		DefaultSource: def,
		Sources:       sources,
		Online:        a.monitor.IsOnline(),
		ForcedOffline: a.monitor.IsForcedOffline(),
	}
}
