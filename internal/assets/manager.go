// Package assets manages the local cache of remotely hosted images
// (store logos, delivery proof photos). Cached copies are never
// authoritative and can always be re-fetched; the manager also migrates
// legacy-hosted assets to the new backend in the background, because the
// legacy store's asset URLs expire when the old account is shut down.
package assets

import (
	"context"
	"io"
	"log"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/courseo-app/courseogo/internal/database"
	"github.com/courseo-app/courseogo/internal/errs"
	"github.com/courseo-app/courseogo/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm/clause"
)

// maxAssetBytes caps a single downloaded asset
const maxAssetBytes = 20 * 1024 * 1024

// Connectivity gates all network activity of the manager
type Connectivity interface {
	IsOnline() bool
	IsForcedOffline() bool
}

// Uploader pushes asset bytes to the new backend during migration
type Uploader interface {
	UploadAsset(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// Manager owns the asset cache and its maintenance jobs
type Manager struct {
	db       *database.DB
	monitor  Connectivity
	uploader Uploader
	http     *http.Client

	maxAge         time.Duration
	maxTotalBytes  int64
	migrationDelay time.Duration

	mu        sync.Mutex
	startedAt time.Time
	migrating bool
}

// NewManager creates an asset manager. maxAgeDays and maxTotalMB bound
// the cache; migrationDelay defers the first migration pass after start
// so startup traffic settles first.
func NewManager(db *database.DB, monitor Connectivity, uploader Uploader, maxAgeDays, maxTotalMB int, migrationDelay time.Duration) *Manager {
	return &Manager{
		db:             db,
		monitor:        monitor,
		uploader:       uploader,
		http:           &http.Client{Timeout: 30 * time.Second},
		maxAge:         time.Duration(maxAgeDays) * 24 * time.Hour,
		maxTotalBytes:  int64(maxTotalMB) * 1024 * 1024,
		migrationDelay: migrationDelay,
		startedAt:      time.Now(),
	}
}

// Fetch returns the asset at remoteURL, serving the cached copy when
// present and downloading otherwise. While offline a cache miss is a
// transient error, never a network attempt.
func (m *Manager) Fetch(ctx context.Context, remoteURL, sourceBackend string) (*models.CachedAsset, error) {
	var cached models.CachedAsset
	err := m.db.Where("remote_url = ?", remoteURL).First(&cached).Error
	if err == nil {
		m.db.Model(&models.CachedAsset{}).Where("id = ?", cached.ID).
			Update("last_access_at", time.Now().UTC())
		return &cached, nil
	}

	if m.monitor.IsForcedOffline() || !m.monitor.IsOnline() {
		return nil, errs.New(errs.KindNetworkUnreachable, "asset not cached and currently offline")
	}

	return m.download(ctx, remoteURL, sourceBackend)
}

// download fetches an asset and stores it
func (m *Manager) download(ctx context.Context, remoteURL, sourceBackend string) (*models.CachedAsset, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteURL, nil)
	if err != nil {
		return nil, errs.Wrap(errs.KindValidationRejected, "bad asset url", err)
	}

	resp, err := m.http.Do(req)
	if err != nil {
		return nil, errs.Network("asset download", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, errs.FromHTTP(resp.StatusCode, "asset download failed")
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes+1))
	if err != nil {
		return nil, errs.Network("asset download", err)
	}
	if len(data) > maxAssetBytes {
		return nil, errs.New(errs.KindValidationRejected, "asset exceeds size limit")
	}

	now := time.Now().UTC()
	asset := models.CachedAsset{
		ID:            uuid.NewString(),
		RemoteURL:     remoteURL,
		SourceBackend: sourceBackend,
		ContentType:   resp.Header.Get("Content-Type"),
		Data:          data,
		SizeBytes:     int64(len(data)),
		FetchedAt:     now,
		LastAccessAt:  now,
	}
	err = m.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "remote_url"}},
		UpdateAll: true,
	}).Create(&asset).Error
	if err != nil {
		// Serve the download anyway; caching is best effort
		log.Printf("⚠️  Failed to cache asset %s: %v", remoteURL, err)
	}
	return &asset, nil
}

// CleanupCache evicts assets unused for longer than the age limit, then
// least-recently-used assets until the cache fits the size budget. Runs
// at startup and daily.
func (m *Manager) CleanupCache(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-m.maxAge)
	res := m.db.Where("last_access_at < ?", cutoff).Delete(&models.CachedAsset{})
	if res.Error != nil {
		log.Printf("⚠️  Asset age eviction failed: %v", res.Error)
	} else if res.RowsAffected > 0 {
		log.Printf("🧹 Evicted %d stale asset(s)", res.RowsAffected)
	}

	var total int64
	if err := m.db.Model(&models.CachedAsset{}).Select("COALESCE(SUM(size_bytes), 0)").Scan(&total).Error; err != nil {
		log.Printf("⚠️  Asset size scan failed: %v", err)
		return
	}

	evicted := 0
	for total > m.maxTotalBytes {
		var oldest models.CachedAsset
		if err := m.db.Order("last_access_at").First(&oldest).Error; err != nil {
			break
		}
		if err := m.db.Where("id = ?", oldest.ID).Delete(&models.CachedAsset{}).Error; err != nil {
			break
		}
		total -= oldest.SizeBytes
		evicted++
	}
	if evicted > 0 {
		log.Printf("🧹 Evicted %d asset(s) to fit the %d MB cache budget", evicted, m.maxTotalBytes/(1024*1024))
	}
}

// MigrateAssets re-uploads legacy-hosted assets to the new backend.
// Skipped entirely while offline or during the settle window after start;
// failures are logged and retried on the next pass.
func (m *Manager) MigrateAssets(ctx context.Context) {
	if m.monitor.IsForcedOffline() || !m.monitor.IsOnline() {
		return
	}

	m.mu.Lock()
	if m.migrating || time.Since(m.startedAt) < m.migrationDelay {
		m.mu.Unlock()
		return
	}
	m.migrating = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.migrating = false
		m.mu.Unlock()
	}()

	var pending []models.CachedAsset
	err := m.db.Where("source_backend = ? AND migrated_at IS NULL", "A").
		Order("fetched_at").Limit(50).Find(&pending).Error
	if err != nil {
		log.Printf("⚠️  Could not scan assets for migration: %v", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	log.Printf("📦 Migrating %d legacy asset(s)", len(pending))
	migrated := 0
	for i := range pending {
		asset := &pending[i]
		if ctx.Err() != nil {
			break
		}

		filename := path.Base(asset.RemoteURL)
		newURL, err := m.uploader.UploadAsset(ctx, filename, asset.ContentType, asset.Data)
		if err != nil {
			log.Printf("⚠️  Failed to migrate asset %s: %v", asset.RemoteURL, err)
			if errs.KindOf(err) == errs.KindAuthExpired {
				break
			}
			continue
		}

		now := time.Now().UTC()
		m.db.Model(&models.CachedAsset{}).Where("id = ?", asset.ID).Updates(map[string]interface{}{
			"migrated_at":  now,
			"migrated_url": newURL,
		})
		migrated++
	}
	if migrated > 0 {
		log.Printf("✅ Migrated %d asset(s) to the new backend", migrated)
	}
}

// Stats summarizes the cache for support tooling
type Stats struct {
	Count          int64 `json:"count"`
	TotalBytes     int64 `json:"totalBytes"`
	AwaitingUpload int64 `json:"awaitingUpload"`
}

// CurrentStats snapshots cache usage
func (m *Manager) CurrentStats() Stats {
	var s Stats
	m.db.Model(&models.CachedAsset{}).Count(&s.Count)
	m.db.Model(&models.CachedAsset{}).Select("COALESCE(SUM(size_bytes), 0)").Scan(&s.TotalBytes)
	m.db.Model(&models.CachedAsset{}).Where("source_backend = ? AND migrated_at IS NULL", "A").Count(&s.AwaitingUpload)
	return s
}
