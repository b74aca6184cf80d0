package scheduler

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ErrPassInFlight is returned by TriggerOnce when a simulation pass is
// already running.
var ErrPassInFlight = errors.New("simulation pass already in flight")

// Scheduler drives simulation passes at a fixed cadence. Passes never
// overlap: a timer firing that arrives while a pass is still running is
// skipped with a warning rather than queued.
type Scheduler struct {
	interval time.Duration
	pass     func(now time.Time)
	log      *slog.Logger

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	inFlight atomic.Bool
}

// New creates a scheduler. The pass function is invoked once per firing with
// the firing time.
func New(interval time.Duration, pass func(now time.Time), log *slog.Logger) *Scheduler {
	return &Scheduler{
		interval: interval,
		pass:     pass,
		log:      log,
	}
}

// Start begins the repeating timer. Calling Start on a running scheduler is
// a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		s.log.Warn("Scheduler already running, ignoring start")
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(s.stopCh)
	s.log.Info("Scheduler started", "interval", s.interval)
}

// Stop cancels the timer. An in-flight pass is allowed to complete. Calling
// Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("Scheduler stopped")
}

// Running reports whether the timer is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// TriggerOnce runs exactly one pass immediately, independent of the timer.
// Returns ErrPassInFlight if a pass is already running.
func (s *Scheduler) TriggerOnce() error {
	if !s.inFlight.CompareAndSwap(false, true) {
		return ErrPassInFlight
	}
	defer s.inFlight.Store(false)
	s.pass(time.Now())
	return nil
}

func (s *Scheduler) loop(stopCh chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			if !s.inFlight.CompareAndSwap(false, true) {
				s.log.Warn("Previous pass still running, skipping tick")
				continue
			}
			s.pass(now)
			s.inFlight.Store(false)
		}
	}
}
