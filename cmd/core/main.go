package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/courseo-app/courseogo/internal/arbiter"
	"github.com/courseo-app/courseogo/internal/assets"
	"github.com/courseo-app/courseogo/internal/auth"
	"github.com/courseo-app/courseogo/internal/backend/legacy"
	"github.com/courseo-app/courseogo/internal/backend/restapi"
	"github.com/courseo-app/courseogo/internal/config"
	"github.com/courseo-app/courseogo/internal/connectivity"
	"github.com/courseo-app/courseogo/internal/database"
	"github.com/courseo-app/courseogo/internal/events"
	"github.com/courseo-app/courseogo/internal/handlers"
	"github.com/courseo-app/courseogo/internal/localcache"
	"github.com/courseo-app/courseogo/internal/models"
	"github.com/courseo-app/courseogo/internal/scheduler"
	"github.com/courseo-app/courseogo/internal/syncqueue"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Initialize database (Detects Embedded vs External automatically)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// Note: db.Close() is called manually in shutdown handler below

	// 3. Auto-Migrate Schema (Critical for Zero-Config)
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.StoredSetting{},
		&models.CachedRecord{},
		&models.DraftRecord{},
		&models.PendingChange{},
		&models.CachedAsset{},
	)
	if err != nil {
		log.Printf("⚠️ Migration warning: %v\n", err)
	} else {
		log.Println("✅ Schema synchronized successfully")
	}

	// 4. Local cache and settings
	settings := localcache.NewSettings(db)
	store := localcache.NewStore(db)
	if _, err := store.RepairInvariants(); err != nil {
		log.Printf("⚠️ Draft repair pass failed: %v", err)
	}

	// 5. Backend clients
	clientA := legacy.NewClient(cfg.BackendA)
	clientB := restapi.NewClient(cfg.BackendB.BaseURL)

	// 6. Connectivity monitor, B probed first
	monitor := connectivity.NewMonitor(settings,
		time.Duration(cfg.Sync.ProbeIntervalSec)*time.Second, clientB, clientA)
	if cfg.Sync.ForcedOffline {
		monitor.SetForcedOffline(true)
	}

	// 7. Unified auth
	tokenStore := auth.NewTokenStore(settings)
	authSvc := auth.NewService(tokenStore, clientA, clientB, cfg.SessionSecret)
	clientB.SetSessionExpiredHandler(authSvc.HandleSessionExpired)
	if session, err := authSvc.RestoreSession(); err != nil {
		log.Printf("⚠️ Session restore failed: %v", err)
	} else if session != nil {
		log.Printf("🔑 Restored session for %s", session.Email)
	}

	// 8. Pending queue, arbiter and synchronizer
	queue := syncqueue.NewQueue(db)
	arb := arbiter.New(clientA, clientB, store, queue, monitor, settings)
	syncer := syncqueue.NewSynchronizer(queue, store, arb)

	// 9. Asset cache manager
	assetMgr := assets.NewManager(db, monitor, clientB,
		cfg.Sync.AssetMaxAgeDays, cfg.Sync.AssetMaxTotalMB,
		time.Duration(cfg.Sync.AssetMigrationDelay)*time.Second)

	// 10. Event stream
	hub := events.NewHub()
	go hub.Run()

	monitor.Subscribe(func(online bool) {
		hub.Broadcast(events.TypeConnectivity, map[string]bool{"online": online})
	})
	arb.OnSwitch(func(entityType string, from, to arbiter.Source) {
		hub.Broadcast(events.TypeSourceSwitch, map[string]string{
			"entityType": entityType,
			"from":       string(from),
			"to":         string(to),
		})
	})
	arb.OnRecovered(func() {
		syncer.TriggerNow()
		go syncer.Drain(context.Background())
	})
	syncer.OnDrained(func(result syncqueue.DrainResult) {
		hub.Broadcast(events.TypeDrainFinished, result)
	})
	authSvc.OnLogout(func() {
		hub.Broadcast(events.TypeSessionEnded, nil)
	})

	arb.Start(context.Background())
	monitor.Start()
	monitor.ProbeNow(context.Background())

	// 11. Background tasks
	sched := scheduler.New()
	sched.Register(scheduler.Task{
		Name:     "drain",
		Interval: time.Duration(cfg.Sync.DrainIntervalSec) * time.Second,
		Run:      func(ctx context.Context) { syncer.Drain(ctx) },
	})
	sched.Register(scheduler.Task{
		Name:       "asset-cleanup",
		Interval:   24 * time.Hour,
		RunAtStart: true,
		Run:        func(ctx context.Context) { assetMgr.CleanupCache(ctx) },
	})
	sched.Register(scheduler.Task{
		Name:     "asset-migration",
		Interval: 10 * time.Minute,
		Run:      func(ctx context.Context) { assetMgr.MigrateAssets(ctx) },
	})
	sched.Start()

	// 12. HTTP surface
	router := handlers.NewRouter(authSvc, arb, queue, syncer, monitor, assetMgr, store, hub)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Channel to listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Courseo core starting on port %s\n", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	// Create context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown HTTP server
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	sched.Stop()
	monitor.Stop()

	// Close database (this also stops embedded PostgreSQL)
	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
