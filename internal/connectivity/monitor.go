// Package connectivity tracks online/offline state from periodic
// reachability probes plus a persisted developer override. The override
// takes precedence over real reachability: while it is set, no network
// call of any kind is attempted, not even a probe.
package connectivity

import (
	"context"
	"log"
	"sync"
	"time"
)

const keyForcedOffline = "connectivity.forced_offline"

// SettingsStore is the persistence surface for the forced-offline flag
type SettingsStore interface {
	Get(key string) (string, bool)
	Put(key, value string)
}

// Prober is the reachability probe of one backend
type Prober interface {
	Name() string
	Ping(ctx context.Context) error
}

// Monitor tracks connectivity and exposes it reactively. It cannot fail,
// only report.
type Monitor struct {
	mu       sync.RWMutex
	probers  []Prober
	settings SettingsStore
	online   bool
	forced   bool
	// announced is the last effective state (online && !forced) delivered
	// to subscribers; transitions are detected against it, so toggling the
	// override counts even when reachability never changed
	announced   bool
	interval    time.Duration
	subscribers []func(online bool)

	running bool
	stop    chan struct{}
}

// NewMonitor creates a monitor probing the given backends in order.
// The persisted forced-offline flag is restored immediately.
func NewMonitor(settings SettingsStore, interval time.Duration, probers ...Prober) *Monitor {
	m := &Monitor{
		probers:  probers,
		settings: settings,
		interval: interval,
		stop:     make(chan struct{}),
	}
	if v, ok := settings.Get(keyForcedOffline); ok && v == "true" {
		m.forced = true
	}
	return m
}

// Start begins the periodic probe loop
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	go m.probeLoop()
}

// Stop halts the probe loop
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}
	m.running = false
	close(m.stop)
}

// IsOnline reports whether any backend is reachable. Always false while
// the forced-offline override is set.
func (m *Monitor) IsOnline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online && !m.forced
}

// IsForcedOffline reports the developer override
func (m *Monitor) IsForcedOffline() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.forced
}

// SetForcedOffline sets and persists the developer override
func (m *Monitor) SetForcedOffline(forced bool) {
	m.mu.Lock()
	if m.forced == forced {
		m.mu.Unlock()
		return
	}
	m.forced = forced
	if forced {
		m.settings.Put(keyForcedOffline, "true")
	} else {
		m.settings.Put(keyForcedOffline, "false")
	}
	changed := forced && m.announced
	if changed {
		m.announced = false
	}
	m.mu.Unlock()

	if forced {
		log.Println("🔌 Forced offline mode enabled")
		if changed {
			m.notify(false)
		}
	} else {
		log.Println("🔌 Forced offline mode disabled, probing...")
		m.ProbeNow(context.Background())
	}
}

// Subscribe registers a callback invoked on every online/offline transition
func (m *Monitor) Subscribe(fn func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// ProbeNow runs one probe pass immediately and returns the effective state.
// A no-op while forced offline: the override suppresses all network calls.
func (m *Monitor) ProbeNow(ctx context.Context) bool {
	m.mu.RLock()
	forced := m.forced
	probers := m.probers
	m.mu.RUnlock()

	if forced {
		return false
	}

	reachable := false
	for _, p := range probers {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.Ping(probeCtx)
		cancel()
		if err == nil {
			reachable = true
			break
		}
		log.Printf("📡 Backend %s unreachable: %v", p.Name(), err)
	}

	m.mu.Lock()
	m.online = reachable
	effective := reachable && !m.forced
	changed := effective != m.announced
	m.announced = effective
	m.mu.Unlock()

	if changed {
		if effective {
			log.Println("📡 Connectivity restored")
		} else {
			log.Println("📡 Connectivity lost")
		}
		m.notify(effective)
	}
	return reachable
}

// notify invokes subscribers outside the monitor lock
func (m *Monitor) notify(online bool) {
	m.mu.RLock()
	subscribers := append([]func(bool){}, m.subscribers...)
	m.mu.RUnlock()

	for _, fn := range subscribers {
		fn(online)
	}
}

// probeLoop periodically re-checks reachability
func (m *Monitor) probeLoop() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.ProbeNow(context.Background())
		case <-m.stop:
			return
		}
	}
}
