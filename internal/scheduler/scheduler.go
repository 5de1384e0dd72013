// Package scheduler runs named periodic tasks with support for running
// a task out of band, so timers and explicit triggers (reconnect, API
// calls) share one execution path per task.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"
)

// Task is one periodic job
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)

	// RunAtStart executes the task once immediately when the scheduler starts
	RunAtStart bool
}

// Scheduler owns a set of periodic tasks
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[string]Task
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates an empty scheduler
func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]Task)}
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.Name] = t
}

// Start launches one loop per registered task
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.running = true

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(ctx, t)
	}
	log.Printf("⏰ Scheduler started with %d task(s)", len(s.tasks))
}

// Stop cancels every task loop and waits for them to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	log.Println("⏰ Scheduler stopped")
}

// Trigger runs a task immediately, outside its timer. Returns false when
// the task is unknown.
func (s *Scheduler) Trigger(ctx context.Context, name string) bool {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()

	if !ok {
		return false
	}
	t.Run(ctx)
	return true
}

// loop drives one task until the scheduler stops
func (s *Scheduler) loop(ctx context.Context, t Task) {
	defer s.wg.Done()

	if t.RunAtStart {
		t.Run(ctx)
	}

	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.Run(ctx)
		case <-ctx.Done():
			return
		}
	}
}
