package crawl

import (
	"errors"
	"sync"

	"github.com/sitesage/sitesage/internal/clock"
)

// ErrJobNotFound indicates an unknown job ID.
var ErrJobNotFound = errors.New("crawl: job not found")

// JobStore tracks crawl jobs in memory. Job state is transient; the durable
// output of a crawl lives in the vector store.
type JobStore struct {
	mu       sync.RWMutex
	jobs     map[string]Job
	canceled map[string]bool
	clock    clock.Clock
}

// NewJobStore constructs a JobStore.
func NewJobStore(clk clock.Clock) *JobStore {
	return &JobStore{
		jobs:     make(map[string]Job),
		canceled: make(map[string]bool),
		clock:    clk,
	}
}

// Create stores a new job in queued status.
func (s *JobStore) Create(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("crawl: job already exists")
	}
	job.Status = JobQueued
	job.Submitted = s.clock.Now()
	s.jobs[job.ID] = job
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(jobID string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return job, nil
}

// UpdateStatus moves a job to status, recording transition timestamps and the
// latest counters. A job already marked canceled keeps that status.
func (s *JobStore) UpdateStatus(jobID string, status JobStatus, errText string, counters Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if s.canceled[jobID] && isTerminal(status) {
		status = JobCanceled
	}
	job.Status = status
	job.Error = errText
	job.Counters = counters
	now := s.clock.Now()
	if status == JobRunning && job.Started.IsZero() {
		job.Started = now
	}
	if isTerminal(status) && job.Finished.IsZero() {
		job.Finished = now
	}
	s.jobs[jobID] = job
	return nil
}

// Cancel flags a job so workers stop picking up new pages. In-flight fetches
// finish; the job settles in canceled status once they do.
func (s *JobStore) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	s.canceled[jobID] = true
	if !isTerminal(job.Status) && job.Status != JobRunning {
		job.Status = JobCanceled
		job.Finished = s.clock.Now()
		s.jobs[jobID] = job
	}
	return nil
}

// IsCanceled reports whether cancellation has been requested for jobID.
func (s *JobStore) IsCanceled(jobID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canceled[jobID]
}

// List returns a snapshot of all jobs.
func (s *JobStore) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, job)
	}
	return out
}

func isTerminal(status JobStatus) bool {
	switch status {
	case JobSucceeded, JobFailed, JobCanceled:
		return true
	default:
		return false
	}
}
