package connectivity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeSettings struct {
	mu   sync.Mutex
	data map[string]string
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{data: make(map[string]string)}
}

func (f *fakeSettings) Get(key string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok
}

func (f *fakeSettings) Put(key, value string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
}

type fakeProber struct {
	mu    sync.Mutex
	name  string
	err   error
	calls int
}

func (p *fakeProber) Name() string { return p.name }

func (p *fakeProber) Ping(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestProbeNowFirstReachableWins(t *testing.T) {
	b := &fakeProber{name: "B", err: errors.New("down")}
	a := &fakeProber{name: "A"}
	m := NewMonitor(newFakeSettings(), time.Minute, b, a)

	if !m.ProbeNow(context.Background()) {
		t.Fatal("A is reachable, probe should report online")
	}
	if !m.IsOnline() {
		t.Error("IsOnline should be true after successful probe")
	}
	if b.callCount() != 1 || a.callCount() != 1 {
		t.Errorf("probe order wrong: B=%d A=%d", b.callCount(), a.callCount())
	}

	// Once a prober succeeds the rest are skipped
	b.err = nil
	m.ProbeNow(context.Background())
	if a.callCount() != 1 {
		t.Errorf("A probed %d times, later probers should be skipped once B answers", a.callCount())
	}
}

func TestForcedOfflineSuppressesAllProbes(t *testing.T) {
	b := &fakeProber{name: "B"}
	settings := newFakeSettings()
	m := NewMonitor(settings, time.Minute, b)

	m.ProbeNow(context.Background())
	if !m.IsOnline() {
		t.Fatal("should be online before the override")
	}
	baseline := b.callCount()

	m.SetForcedOffline(true)
	if m.IsOnline() {
		t.Error("forced offline must report offline regardless of reachability")
	}
	if !m.IsForcedOffline() {
		t.Error("override flag not visible")
	}

	if m.ProbeNow(context.Background()) {
		t.Error("ProbeNow must be a no-op while forced offline")
	}
	if b.callCount() != baseline {
		t.Errorf("prober called %d times while forced offline", b.callCount()-baseline)
	}

	if v, _ := settings.Get("connectivity.forced_offline"); v != "true" {
		t.Errorf("override not persisted, got %q", v)
	}
}

func TestForcedOfflineRestoredAcrossRestart(t *testing.T) {
	settings := newFakeSettings()
	settings.Put("connectivity.forced_offline", "true")

	b := &fakeProber{name: "B"}
	m := NewMonitor(settings, time.Minute, b)
	if !m.IsForcedOffline() {
		t.Error("persisted override should survive a restart")
	}
	if m.ProbeNow(context.Background()) || b.callCount() != 0 {
		t.Error("restored override must keep suppressing probes")
	}
}

func TestSubscribersSeeTransitions(t *testing.T) {
	b := &fakeProber{name: "B"}
	m := NewMonitor(newFakeSettings(), time.Minute, b)

	var mu sync.Mutex
	var events []bool
	m.Subscribe(func(online bool) {
		mu.Lock()
		events = append(events, online)
		mu.Unlock()
	})

	m.ProbeNow(context.Background()) // offline -> online
	b.err = errors.New("down")
	m.ProbeNow(context.Background()) // online -> offline
	m.ProbeNow(context.Background()) // no transition, no event

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != true || events[1] != false {
		t.Errorf("transition events = %v, want [true false]", events)
	}
}

func TestClearingOverrideNotifiesWhenNetworkNeverChanged(t *testing.T) {
	b := &fakeProber{name: "B"}
	m := NewMonitor(newFakeSettings(), time.Minute, b)
	m.ProbeNow(context.Background()) // reachable the whole time

	var mu sync.Mutex
	var events []bool
	m.Subscribe(func(online bool) {
		mu.Lock()
		events = append(events, online)
		mu.Unlock()
	})

	m.SetForcedOffline(true)
	m.SetForcedOffline(false)

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 2 || events[0] != false || events[1] != true {
		t.Errorf("transition events = %v, want [false true]", events)
	}
	if !m.IsOnline() {
		t.Error("monitor must report online once the override clears over a live network")
	}
}

func TestClearingOverrideReprobes(t *testing.T) {
	b := &fakeProber{name: "B"}
	m := NewMonitor(newFakeSettings(), time.Minute, b)
	m.SetForcedOffline(true)

	m.SetForcedOffline(false)
	if b.callCount() == 0 {
		t.Error("clearing the override should probe immediately")
	}
	if !m.IsOnline() {
		t.Error("reachable backend should flip state online after the override clears")
	}
}
