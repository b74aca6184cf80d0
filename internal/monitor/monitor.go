package monitor

import (
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Status is one point-in-time view of process health.
type Status struct {
	Time         time.Time `json:"time"`
	Goroutines   int       `json:"goroutines"`
	HeapAllocMB  float64   `json:"heapAllocMb"`
	NumGC        uint32    `json:"numGc"`
	Robots       int       `json:"robots"`
	Observers    int       `json:"observers"`
	SchedRunning bool      `json:"schedulerRunning"`
}

// Sources provides the live figures the monitor reports alongside runtime
// stats.
type Sources struct {
	Robots       func() int
	Observers    func() int
	SchedRunning func() bool
}

// Service periodically logs a status line. It also serves Snapshot for the
// health endpoint.
type Service struct {
	sources  Sources
	interval time.Duration
	log      *slog.Logger

	mu        sync.Mutex
	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewService creates a monitor reporting at the given interval.
func NewService(sources Sources, interval time.Duration, log *slog.Logger) *Service {
	return &Service{
		sources:  sources,
		interval: interval,
		log:      log,
	}
}

// IsRunning returns whether the monitor loop is active.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Snapshot returns the current status.
func (s *Service) Snapshot() Status {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	return Status{
		Time:         time.Now(),
		Goroutines:   runtime.NumGoroutine(),
		HeapAllocMB:  float64(mem.HeapAlloc) / 1024 / 1024,
		NumGC:        mem.NumGC,
		Robots:       s.sources.Robots(),
		Observers:    s.sources.Observers(),
		SchedRunning: s.sources.SchedRunning(),
	}
}

// Start begins the reporting loop. No-op if already running.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return
	}
	s.isRunning = true
	s.stopCh = make(chan struct{})

	s.wg.Add(1)
	go s.loop(s.stopCh)
}

// Stop halts the reporting loop. No-op if not running.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) loop(stopCh chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			st := s.Snapshot()
			s.log.Info("Status",
				"goroutines", st.Goroutines,
				"heapAllocMb", st.HeapAllocMB,
				"robots", st.Robots,
				"observers", st.Observers,
				"running", st.SchedRunning,
			)
		}
	}
}
