// Package scheduler runs mail maintenance on cron schedules: compaction of
// the mail file and the forwarding audit. A failed run is logged and the
// next tick retries.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler manages scheduled job execution.
type Scheduler struct {
	jobs        []Job
	cron        *cron.Cron
	history     map[string]*JobHistory
	historyFile *HistoryFile
	running     map[string]bool
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewScheduler creates a scheduler for jobs. hf may be nil to keep history
// in memory only; otherwise history is saved after every run.
func NewScheduler(jobs []Job, hf *HistoryFile) *Scheduler {
	history := make(map[string]*JobHistory)
	if hf != nil {
		loaded, err := hf.Load()
		if err != nil {
			log.Printf("WARN: Failed to load maintenance history: %v", err)
		} else {
			history = loaded
		}
	}

	return &Scheduler{
		jobs:        jobs,
		history:     history,
		historyFile: hf,
		running:     make(map[string]bool),
		ctx:         context.Background(),
	}
}

// Start schedules every job with a non-empty schedule and blocks until ctx
// is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx, cancel := s.ctx, s.cancel
	s.mu.Unlock()
	defer cancel()

	s.cron = cron.New(cron.WithSeconds())

	scheduled := 0
	for _, job := range s.jobs {
		if job.Schedule == "" {
			log.Printf("DEBUG: Job '%s' (%s) has no schedule, skipping", job.ID, job.Name)
			continue
		}
		j := job
		if _, err := s.cron.AddFunc(j.Schedule, func() { s.runJob(j) }); err != nil {
			return fmt.Errorf("schedule job %s (%q): %w", j.ID, j.Schedule, err)
		}
		scheduled++
		log.Printf("INFO: Job '%s' (%s) scheduled: %s", j.ID, j.Name, j.Schedule)
	}

	if scheduled == 0 {
		log.Printf("WARN: No maintenance jobs to schedule")
		return nil
	}

	s.cron.Start()
	log.Printf("INFO: Maintenance scheduler running with %d jobs", scheduled)

	<-runCtx.Done()
	log.Printf("INFO: Maintenance scheduler stopping...")
	s.Stop()
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		cronCtx := s.cron.Stop()
		<-cronCtx.Done()
	}
}

// RunNow runs the job with id immediately, outside its schedule.
func (s *Scheduler) RunNow(id string) (JobResult, error) {
	for _, job := range s.jobs {
		if job.ID == id {
			res, ran := s.runJob(job)
			if !ran {
				return res, fmt.Errorf("job %s is already running", id)
			}
			return res, nil
		}
	}
	return JobResult{}, fmt.Errorf("unknown job %q", id)
}

// runJob runs job unless a previous run is still in progress.
func (s *Scheduler) runJob(job Job) (JobResult, bool) {
	s.mu.Lock()
	if s.running[job.ID] {
		s.mu.Unlock()
		log.Printf("WARN: Job '%s' (%s) skipped: already running", job.ID, job.Name)
		return JobResult{JobID: job.ID}, false
	}
	s.running[job.ID] = true
	ctx := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, job.ID)
		s.mu.Unlock()
	}()

	result := JobResult{JobID: job.ID, StartTime: time.Now()}
	summary, err := job.Run(ctx)
	result.EndTime = time.Now()
	result.Summary = summary
	result.Error = err
	result.Success = err == nil

	if err != nil {
		log.Printf("ERROR: Job '%s' (%s) failed: %v", job.ID, job.Name, err)
	} else {
		log.Printf("INFO: Job '%s' (%s) completed: %s", job.ID, job.Name, summary)
	}
	s.updateHistory(result)
	return result, true
}

// GetHistory returns a copy of the job history.
func (s *Scheduler) GetHistory() map[string]*JobHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()

	historyCopy := make(map[string]*JobHistory)
	for k, v := range s.history {
		hCopy := *v
		historyCopy[k] = &hCopy
	}
	return historyCopy
}

// Status returns one line per configured job, in job order.
func (s *Scheduler) Status() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := make([]string, 0, len(s.jobs))
	for _, job := range s.jobs {
		h := JobHistory{JobID: job.ID}
		if saved, ok := s.history[job.ID]; ok {
			h = *saved
		}
		lines = append(lines, h.String())
	}
	return lines
}
