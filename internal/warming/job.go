package warming

import (
	"fmt"
	"sync/atomic"
	"time"
)

// JobState is one node of the job lifecycle:
// pending → active → completed or failed. A failed job with retries left
// returns to pending.
type JobState string

const (
	JobPending   JobState = "pending"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is one planned warm of a single key. A job is mutated only by the
// scheduler goroutine that owns it for the current cycle.
type Job struct {
	ID                string        `json:"id"`
	Key               string        `json:"key"`
	Priority          Priority      `json:"priority"`
	State             JobState      `json:"state"`
	Retries           int           `json:"retries"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	CreatedAt         time.Time     `json:"created_at"`
	StartedAt         time.Time     `json:"started_at,omitempty"`
	FinishedAt        time.Time     `json:"finished_at,omitempty"`
	LastError         string        `json:"last_error,omitempty"`
}

var jobSeq atomic.Uint64

// newJob creates a pending job for a candidate. The duration estimate
// shrinks with priority: urgent warms are expected to be answered fast,
// low-priority ones tolerate slow fetches.
func newJob(c Candidate) *Job {
	return &Job{
		ID:                fmt.Sprintf("warm-%d", jobSeq.Add(1)),
		Key:               c.Key,
		Priority:          c.Priority,
		State:             JobPending,
		EstimatedDuration: estimateDuration(c.Priority),
		CreatedAt:         time.Now(),
	}
}

func estimateDuration(p Priority) time.Duration {
	switch p {
	case PriorityHigh:
		return 2 * time.Second
	case PriorityMedium:
		return 5 * time.Second
	default:
		return 10 * time.Second
	}
}

func (j *Job) markActive(now time.Time) {
	j.State = JobActive
	j.StartedAt = now
}

func (j *Job) markCompleted(now time.Time) {
	j.State = JobCompleted
	j.FinishedAt = now
	j.LastError = ""
}

func (j *Job) markFailed(now time.Time, err error) {
	j.State = JobFailed
	j.FinishedAt = now
	if err != nil {
		j.LastError = err.Error()
	}
}

// terminal reports whether the job has left the scheduler's working set.
func (j *Job) terminal() bool {
	return j.State == JobCompleted || j.State == JobFailed
}
