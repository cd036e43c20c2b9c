// Package schedule runs an ingest job on a recurring cron schedule, wrapping
// github.com/robfig/cron/v3 the way the teacher repo wraps it for its own
// SQL job scheduler.
package schedule

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"
)

// IngestFunc runs one full streaming pass over a PBF source. It is expected
// to return once the pass has either completed or ctx was canceled.
type IngestFunc func(ctx context.Context) error

// jobExecution tracks a currently-running scheduled invocation.
type jobExecution struct {
	cancel context.CancelFunc
}

// Scheduler runs a single IngestFunc on a cron expression, refusing to
// overlap invocations (a slow or stuck re-ingest should not pile up).
type Scheduler struct {
	cron *cron.Cron
	fn   IngestFunc

	mu      sync.Mutex
	running *jobExecution
}

// New builds a Scheduler that invokes fn on expr (6-field cron syntax with a
// leading seconds field, per the teacher's own convention).
func New(expr string, fn IngestFunc) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		fn:   fn,
	}
	if _, err := s.cron.AddFunc(expr, s.runOnce); err != nil {
		return nil, fmt.Errorf("schedule: invalid cron expression %q: %w", expr, err)
	}
	return s, nil
}

// Start begins the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop, cancels any in-flight run, and waits for the
// scheduler's own goroutines to settle before returning.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()

	s.mu.Lock()
	if s.running != nil {
		s.running.cancel()
	}
	s.mu.Unlock()

	<-ctx.Done()
}

func (s *Scheduler) runOnce() {
	s.mu.Lock()
	if s.running != nil {
		s.mu.Unlock()
		log.Println("schedule: previous ingest run still in progress, skipping this tick")
		return
	}
	runCtx, cancel := context.WithCancel(context.Background())
	s.running = &jobExecution{cancel: cancel}
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.running = nil
		s.mu.Unlock()
	}()

	if err := s.fn(runCtx); err != nil {
		log.Printf("schedule: ingest run failed: %v", err)
	}
}
