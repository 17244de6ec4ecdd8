package domain

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates job lifecycle states. PENDING is the only state a job
// can leave; SUCCEEDED and FAILED are terminal.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether no further transition is possible from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job is one paid unit of generation work. It only exists once its cost has
// been debited.
type Job struct {
	ID            string
	OwnerID       string
	Payload       json.RawMessage
	Cost          int64
	Status        JobStatus
	Progress      string
	ResultRef     string
	FailureReason string
	Country       string

	// Lease state. Attempts counts how many times a worker claimed the job.
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	Attempts       int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Pending reports whether the job is still awaiting a terminal outcome.
func (j *Job) Pending() bool {
	return j != nil && j.Status == JobStatusPending
}

// LeaseLive reports whether any unexpired lease exists at now. A live lease is
// never granted again, not even to the token that holds it.
func (j *Job) LeaseLive(now time.Time) bool {
	if j == nil || j.LeaseOwner == "" {
		return false
	}
	return j.LeaseExpiresAt != nil && j.LeaseExpiresAt.After(now)
}
