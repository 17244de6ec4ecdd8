// Package queue carries job ids from admission to workers. Delivery is
// at-least-once; handlers must tolerate redelivery.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrRequeue asks the queue to redeliver the message later. Handlers wrap it
// when they were interrupted before reaching an outcome.
var ErrRequeue = errors.New("queue: requeue delivery")

// ErrQueueFull is returned by the local queue when its buffer is exhausted.
var ErrQueueFull = errors.New("queue: buffer full")

// Trigger schedules a job for execution.
type Trigger interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Handler processes one delivery.
type Handler func(ctx context.Context, jobID string) error

// TriggerFunc adapts a function to Trigger.
type TriggerFunc func(ctx context.Context, jobID string) error

func (f TriggerFunc) Enqueue(ctx context.Context, jobID string) error { return f(ctx, jobID) }

type message struct {
	JobID      string    `json:"job_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

func encode(jobID string, now time.Time) ([]byte, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, errors.New("queue: empty job id")
	}
	return json.Marshal(message{JobID: jobID, EnqueuedAt: now.UTC()})
}

func decode(body []byte) (string, error) {
	var m message
	if err := json.Unmarshal(body, &m); err != nil {
		return "", fmt.Errorf("queue: decode message: %w", err)
	}
	if strings.TrimSpace(m.JobID) == "" {
		return "", errors.New("queue: message without job id")
	}
	return m.JobID, nil
}
