package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"scrapekit/models"
)

// Job is one scheduled unit of work, typically a full crawl
type Job func(ctx context.Context) error

// Scheduler re-runs a job at a fixed interval. Runs never overlap: a run
// that outlasts the interval delays the next one.
type Scheduler struct {
	every     time.Duration
	job       Job
	onFailure func(ctx context.Context, run int, err error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	runs   int
}

// NewScheduler creates a scheduler running job every interval
func NewScheduler(every time.Duration, job Job) (*Scheduler, error) {
	if every <= 0 {
		return nil, fmt.Errorf("%w: schedule interval must be positive, got %s", models.ErrConfiguration, every)
	}
	if job == nil {
		return nil, fmt.Errorf("%w: no job to schedule", models.ErrConfiguration)
	}
	return &Scheduler{every: every, job: job}, nil
}

// OnFailure registers a callback for failed runs
func (s *Scheduler) OnFailure(fn func(ctx context.Context, run int, err error)) {
	s.onFailure = fn
}

// Start starts the scheduler in a goroutine
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.Run(ctx)
	}()
}

// Stop stops the scheduler and waits for a running job to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	log.Println("Scheduler stopped")
}

// Runs returns the number of runs started so far
func (s *Scheduler) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Run executes the job immediately and then on every tick until ctx is done
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()

	for {
		s.runOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	s.mu.Lock()
	s.runs++
	run := s.runs
	s.mu.Unlock()

	log.Printf("Starting scheduled run %d\n", run)
	start := time.Now()
	if err := s.job(ctx); err != nil {
		log.Printf("Error in scheduled run %d: %v\n", run, err)
		if s.onFailure != nil {
			s.onFailure(ctx, run, err)
		}
		return
	}
	log.Printf("Scheduled run %d finished in %s, next in %s\n", run, time.Since(start).Round(time.Millisecond), s.every)
}
