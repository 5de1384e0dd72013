package syncqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/courseo-app/courseogo/internal/backend"
	"github.com/courseo-app/courseogo/internal/database"
	"github.com/courseo-app/courseogo/internal/errs"
	"github.com/courseo-app/courseogo/internal/localcache"
	"github.com/courseo-app/courseogo/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *database.DB {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	// One connection so every session sees the same in-memory database
	sqlDB.SetMaxOpenConns(1)

	db := database.Wrap(gdb)
	if err := db.AutoMigrate(&models.PendingChange{}, &models.CachedRecord{}, &models.DraftRecord{}, &models.StoredSetting{}); err != nil {
		t.Fatalf("failed to migrate test schema: %v", err)
	}
	return db
}

// fakeClient scripts per-operation outcomes and records the call order
type fakeClient struct {
	mu      sync.Mutex
	name    string
	calls   []string
	nextID  int
	failure map[string]error // keyed by "op entityType", applied to every matching call
}

func newFakeClient(name string) *fakeClient {
	return &fakeClient{name: name, failure: make(map[string]error)}
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeClient) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func (f *fakeClient) Name() string { return f.name }

func (f *fakeClient) Ping(ctx context.Context) error { return nil }

func (f *fakeClient) List(ctx context.Context, entityType string, q backend.Query) ([]backend.Record, error) {
	f.record("list " + entityType)
	return nil, f.failure["list "+entityType]
}

func (f *fakeClient) Get(ctx context.Context, entityType, id string) (backend.Record, error) {
	f.record("get " + entityType + "/" + id)
	return backend.Record{"id": id}, f.failure["get "+entityType]
}

func (f *fakeClient) Create(ctx context.Context, entityType string, payload backend.Record) (backend.Record, error) {
	f.record("create " + entityType)
	if err := f.failure["create "+entityType]; err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("%s-srv-%d", f.name, f.nextID)
	f.mu.Unlock()

	out := backend.Record{"id": id}
	for k, v := range payload {
		out[k] = v
	}
	out["id"] = id
	return out, nil
}

func (f *fakeClient) Update(ctx context.Context, entityType, id string, payload backend.Record) (backend.Record, error) {
	f.record("update " + entityType + "/" + id)
	if err := f.failure["update "+entityType]; err != nil {
		return nil, err
	}
	out := backend.Record{"id": id}
	for k, v := range payload {
		out[k] = v
	}
	out["id"] = id
	return out, nil
}

func (f *fakeClient) Delete(ctx context.Context, entityType, id string) error {
	f.record("delete " + entityType + "/" + id)
	return f.failure["delete "+entityType]
}

// fixedTarget always drains against the same client
type fixedTarget struct {
	client backend.Client
}

func (ft fixedTarget) AuthoritativeClient() backend.Client { return ft.client }

func TestDrainReplaysInOrderAndRebindsLocalIDs(t *testing.T) {
	db := testDB(t)
	queue := NewQueue(db)
	store := localcache.NewStore(db)
	client := newFakeClient("B")
	syncer := NewSynchronizer(queue, store, fixedTarget{client})

	// Offline session: create then update the same record under a local id
	created, err := store.ApplyLocal("commandes", models.OperationCreate, backend.Record{"orderNumber": "CMD-9"})
	if err != nil {
		t.Fatalf("ApplyLocal create failed: %v", err)
	}
	localID := created.ID()
	if _, err := queue.Enqueue("commandes", localID, models.OperationCreate, created); err != nil {
		t.Fatalf("enqueue create failed: %v", err)
	}
	updated := backend.Record{"id": localID, "status": "livrée"}
	if _, err := queue.Enqueue("commandes", localID, models.OperationUpdate, updated); err != nil {
		t.Fatalf("enqueue update failed: %v", err)
	}

	result := syncer.Drain(context.Background())
	if result.Replayed != 2 || result.Transient != 0 || result.Manual != 0 {
		t.Fatalf("drain result = %+v", result)
	}

	calls := client.callLog()
	if len(calls) != 2 || calls[0] != "create commandes" || calls[1] != "update commandes/B-srv-1" {
		t.Errorf("replay order wrong: %v", calls)
	}

	queued, manual := queue.Counts()
	if queued != 0 || manual != 0 {
		t.Errorf("queue not empty after drain: queued=%d manual=%d", queued, manual)
	}

	// The cached copy now lives under the backend-assigned id
	if rec, _ := store.GetCachedRecord("commandes", localID); rec != nil {
		t.Error("local id copy should be gone after rebind")
	}
	rec, err := store.GetCachedRecord("commandes", "B-srv-1")
	if err != nil || rec == nil {
		t.Fatalf("backend id copy missing: %v", err)
	}
	if rec["status"] != "livrée" {
		t.Errorf("replayed update not cached: %v", rec)
	}
}

func TestTransientFailureBlocksOnlyThatEntity(t *testing.T) {
	db := testDB(t)
	queue := NewQueue(db)
	store := localcache.NewStore(db)
	client := newFakeClient("B")
	client.failure["update commandes"] = errs.Network("update", fmt.Errorf("down"))
	syncer := NewSynchronizer(queue, store, fixedTarget{client})

	queue.Enqueue("commandes", "c1", models.OperationUpdate, backend.Record{"id": "c1", "status": "x"})
	queue.Enqueue("commandes", "c1", models.OperationDelete, backend.Record{"id": "c1"})
	queue.Enqueue("magasins", "m1", models.OperationUpdate, backend.Record{"id": "m1", "name": "Sud"})

	result := syncer.Drain(context.Background())
	if result.Replayed != 0 {
		// magasins update succeeds, commandes are held back
		t.Logf("calls: %v", client.callLog())
	}
	if result.Transient != 2 {
		t.Errorf("transient = %d, want 2 (failed update plus blocked delete)", result.Transient)
	}

	calls := client.callLog()
	for _, c := range calls {
		if c == "delete commandes/c1" {
			t.Error("later change for a blocked entity must not be attempted")
		}
	}

	queued, _ := queue.Counts()
	if queued != 2 {
		t.Errorf("queued = %d, want the two commandes items kept", queued)
	}

	items, _ := queue.Queued()
	for _, item := range items {
		if item.EntityType == "commandes" && item.Operation == models.OperationUpdate {
			if item.AttemptCount != 1 {
				t.Errorf("failed item attempt count = %d, want 1", item.AttemptCount)
			}
			if item.LastError == nil {
				t.Error("failed item should carry its last error")
			}
		}
	}
}

func TestPermanentFailureParksForManualResolution(t *testing.T) {
	db := testDB(t)
	queue := NewQueue(db)
	store := localcache.NewStore(db)
	client := newFakeClient("B")
	client.failure["update commandes"] = errs.New(errs.KindValidationRejected, "bad status value")
	syncer := NewSynchronizer(queue, store, fixedTarget{client})

	queue.Enqueue("commandes", "c1", models.OperationUpdate, backend.Record{"id": "c1", "status": "???"})

	result := syncer.Drain(context.Background())
	if result.Manual != 1 {
		t.Fatalf("manual = %d, want 1", result.Manual)
	}

	queued, manual := queue.Counts()
	if queued != 0 || manual != 1 {
		t.Errorf("counts queued=%d manual=%d, rejected item must be parked, never dropped", queued, manual)
	}
}

func TestAuthExpiredAbortsDrain(t *testing.T) {
	db := testDB(t)
	queue := NewQueue(db)
	store := localcache.NewStore(db)
	client := newFakeClient("B")
	client.failure["update commandes"] = errs.New(errs.KindAuthExpired, "stale token")
	syncer := NewSynchronizer(queue, store, fixedTarget{client})

	queue.Enqueue("commandes", "c1", models.OperationUpdate, backend.Record{"id": "c1"})
	queue.Enqueue("magasins", "m1", models.OperationUpdate, backend.Record{"id": "m1"})

	syncer.Drain(context.Background())

	for _, c := range client.callLog() {
		if c == "update magasins/m1" {
			t.Error("drain must stop entirely on an expired session")
		}
	}
	queued, _ := queue.Counts()
	if queued != 2 {
		t.Errorf("queued = %d, want both items kept for after re-login", queued)
	}
}

func TestDrainSkipsWhenNothingReachable(t *testing.T) {
	db := testDB(t)
	queue := NewQueue(db)
	store := localcache.NewStore(db)
	syncer := NewSynchronizer(queue, store, fixedTarget{nil})

	queue.Enqueue("commandes", "c1", models.OperationUpdate, backend.Record{"id": "c1"})

	result := syncer.Drain(context.Background())
	if !result.Skipped {
		t.Error("drain with no reachable backend should be skipped")
	}
	queued, _ := queue.Counts()
	if queued != 1 {
		t.Errorf("queued = %d, skipped drain must not touch the queue", queued)
	}
}

func TestBackoffGateDefersImmediateRetry(t *testing.T) {
	db := testDB(t)
	queue := NewQueue(db)
	store := localcache.NewStore(db)
	client := newFakeClient("B")
	client.failure["update commandes"] = errs.Network("update", fmt.Errorf("down"))
	syncer := NewSynchronizer(queue, store, fixedTarget{client})

	queue.Enqueue("commandes", "c1", models.OperationUpdate, backend.Record{"id": "c1"})

	first := syncer.Drain(context.Background())
	if first.Transient != 1 {
		t.Fatalf("first drain transient = %d", first.Transient)
	}

	// Gate is armed: an immediate second drain must not hit the backend
	second := syncer.Drain(context.Background())
	if !second.Skipped {
		t.Error("drain inside the backoff window should be skipped")
	}

	// Reconnect clears the gate
	syncer.TriggerNow()
	client.failure = map[string]error{}
	third := syncer.Drain(context.Background())
	if third.Replayed != 1 {
		t.Errorf("post-trigger drain replayed = %d, want 1", third.Replayed)
	}
}
