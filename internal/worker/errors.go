package worker

import (
	"errors"
	"fmt"

	"genforge/internal/queue"
)

var (
	// ErrStageFailed matches every StageError.
	ErrStageFailed = errors.New("stage failed")
	ErrUpload      = errors.New("artifact upload failed")
	// ErrInterrupted is returned when the worker stops before an outcome. It
	// wraps queue.ErrRequeue so the delivery is retried.
	ErrInterrupted = fmt.Errorf("worker interrupted: %w", queue.ErrRequeue)

	errLeaseLost = errors.New("lease lost")
)

// StageError reports which stage aborted the pipeline.
type StageError struct {
	Index int
	Name  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %v", e.Index+1, e.Name, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Is(target error) bool { return target == ErrStageFailed }
