package cron

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mnemo-bot/mnemo/internal/store"
)

// ErrNotFound is returned when a job id does not match any stored job.
var ErrNotFound = errors.New("job not found")

// Service owns the persistent job table and the tick loop that fires due
// jobs. Firings run through Dispatch so a slow downstream call never stalls
// the next tick.
type Service struct {
	storePath   string
	tick        time.Duration
	minInterval time.Duration

	// OnFire routes a due job's prompt into the conversation pipeline.
	OnFire func(job Job) error
	// Dispatch offloads a firing; defaults to a plain goroutine.
	Dispatch func(fn func())

	now func() time.Time

	mu     sync.Mutex
	jobs   []Job
	cancel context.CancelFunc
}

func NewService(storePath string, tick, minInterval time.Duration) *Service {
	return &Service{
		storePath:   storePath,
		tick:        tick,
		minInterval: minInterval,
		Dispatch:    func(fn func()) { go fn() },
		now:         time.Now,
	}
}

func (s *Service) Start(ctx context.Context) error {
	if err := s.load(); err != nil {
		log.Printf("[cron] warning: failed to load jobs: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	count := len(s.jobs)
	s.mu.Unlock()

	go s.tickLoop(runCtx)
	log.Printf("[cron] started with %d jobs", count)
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	log.Printf("[cron] stopped")
}

func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runTick()
		case <-ctx.Done():
			return
		}
	}
}

// runTick scans for due jobs, advances their bookkeeping, persists the table,
// and only then dispatches the firings. Persist-before-dispatch means a crash
// mid-firing re-fires at most once on restart.
func (s *Service) runTick() {
	now := s.now()
	nowMs := now.UnixMilli()

	s.mu.Lock()
	var due []Job
	kept := s.jobs[:0]
	for _, job := range s.jobs {
		if !job.Enabled || job.State.NextFireMs == 0 || job.State.NextFireMs > nowMs {
			kept = append(kept, job)
			continue
		}

		job.State.LastFiredMs = nowMs
		switch job.Schedule.Kind {
		case KindOnce:
			due = append(due, job)
			continue // terminal, drop from the table
		case KindInterval:
			job.State.NextFireMs = advanceInterval(job.State.NextFireMs, job.Schedule.EveryMs, nowMs)
		case KindDaily:
			job.State.NextFireMs = computeNext(job.Schedule, now)
		}
		due = append(due, job)
		kept = append(kept, job)
	}
	s.jobs = kept
	if len(due) > 0 {
		s.saveLocked()
	}
	s.mu.Unlock()

	for _, job := range due {
		j := job
		s.Dispatch(func() { s.fire(j) })
	}
}

func (s *Service) fire(job Job) {
	log.Printf("[cron] firing job %s for %s", job.ID, job.Owner)
	if s.OnFire == nil {
		log.Printf("[cron] no OnFire handler set")
		return
	}

	err := s.OnFire(job)

	if job.Schedule.Kind == KindOnce {
		// Already removed from the table; nothing to record.
		if err != nil {
			log.Printf("[cron] job %s error: %v", job.ID, err)
		}
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		if err != nil {
			s.jobs[i].State.LastStatus = "error"
			s.jobs[i].State.LastError = err.Error()
			log.Printf("[cron] job %s error: %v", job.ID, err)
		} else {
			s.jobs[i].State.LastStatus = "ok"
			s.jobs[i].State.LastError = ""
		}
		s.saveLocked()
		break
	}
}

// Add validates and persists a new job, returning its generated id.
func (s *Service) Add(owner, prompt string, sched Schedule) (Job, error) {
	if strings.TrimSpace(prompt) == "" {
		return Job{}, fmt.Errorf("empty prompt")
	}
	now := s.now()

	switch sched.Kind {
	case KindOnce:
		if sched.AtMs <= now.UnixMilli() {
			return Job{}, fmt.Errorf("fire time must be in the future")
		}
	case KindInterval:
		if min := s.minInterval.Milliseconds(); sched.EveryMs < min {
			return Job{}, fmt.Errorf("interval must be at least %s", s.minInterval)
		}
	case KindDaily:
		if _, _, err := ParseTimeOfDay(sched.TimeOfDay); err != nil {
			return Job{}, err
		}
	default:
		return Job{}, fmt.Errorf("unknown schedule kind %q", sched.Kind)
	}

	job := newJob(owner, prompt, sched, now)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	if err := store.Save(s.storePath, jobStore{Version: storeVersion, Jobs: s.jobs}); err != nil {
		s.jobs = s.jobs[:len(s.jobs)-1]
		return Job{}, fmt.Errorf("save jobs: %w", err)
	}
	return job, nil
}

// List returns the owner's jobs ordered by next fire time.
func (s *Service) List(owner string) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Job
	for _, job := range s.jobs {
		if job.Owner == owner {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].State.NextFireMs < out[j].State.NextFireMs
	})
	return out
}

func (s *Service) Info(id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID == id {
			return job, nil
		}
	}
	return Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

func (s *Service) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, job := range s.jobs {
		if job.ID == id {
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			s.saveLocked()
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Toggle flips a job's enabled flag. Re-enabling recomputes the next fire
// time from now so a long-disabled job does not fire for a stale instant.
func (s *Service) Toggle(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		s.jobs[i].Enabled = !s.jobs[i].Enabled
		if s.jobs[i].Enabled {
			s.jobs[i].State.NextFireMs = computeNext(s.jobs[i].Schedule, s.now())
		}
		s.saveLocked()
		return s.jobs[i].Enabled, nil
	}
	return false, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Test fires a job immediately without touching its schedule bookkeeping.
func (s *Service) Test(id string) error {
	job, err := s.Info(id)
	if err != nil {
		return err
	}
	s.Dispatch(func() {
		if s.OnFire == nil {
			return
		}
		if err := s.OnFire(job); err != nil {
			log.Printf("[cron] test fire %s error: %v", job.ID, err)
		}
	})
	return nil
}

func (s *Service) load() error {
	var st jobStore
	if err := store.Load(s.storePath, &st); err != nil {
		return err
	}
	s.mu.Lock()
	s.jobs = st.Jobs
	s.mu.Unlock()
	return nil
}

func (s *Service) saveLocked() {
	if err := store.Save(s.storePath, jobStore{Version: storeVersion, Jobs: s.jobs}); err != nil {
		log.Printf("[cron] save failed: %v", err)
	}
}
