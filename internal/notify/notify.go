// Package notify delivers best-effort job events to interested clients.
// Nothing here is durable; the job store stays the source of truth.
package notify

import (
	"context"
	"time"
)

type EventType string

const (
	EventProgress  EventType = "progress"
	EventSucceeded EventType = "succeeded"
	EventFailed    EventType = "failed"
)

// Event is published on the job's topic.
type Event struct {
	JobID     string    `json:"job_id"`
	Type      EventType `json:"type"`
	Progress  string    `json:"progress,omitempty"`
	ResultRef string    `json:"result_ref,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

// Terminal reports whether the event closes the job.
func (e Event) Terminal() bool {
	return e.Type == EventSucceeded || e.Type == EventFailed
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Subscriber streams events for one job. The channel closes when ctx is done
// or the subscription breaks.
type Subscriber interface {
	Subscribe(ctx context.Context, jobID string) (<-chan Event, error)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// DefaultPrefix prefixes every job topic.
const DefaultPrefix = "genforge:jobs:"

// Topic returns the channel name for a job.
func Topic(prefix, jobID string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + jobID
}
