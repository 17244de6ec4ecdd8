package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"genforge/internal/domain"
	"genforge/internal/notify"
)

type Options struct {
	// RecoveryDelay is waited after a transport fault before asking the
	// server what happened to the job.
	RecoveryDelay time.Duration
	// WaitTimeout bounds the whole generation once the job is admitted.
	WaitTimeout  time.Duration
	PollInterval time.Duration
	// LongPoll is how long the server holds the submission open.
	LongPoll   time.Duration
	OnProgress func(jobID, progress string)
	Logger     zerolog.Logger
}

// Outcome is a succeeded generation.
type Outcome struct {
	JobID     string
	ResultRef string
	// Balance is the refreshed diamond balance, or -1 when it could not be read.
	Balance int64
	// Recovered is set when the result was adopted after a transport fault.
	Recovered bool
	Duplicate bool
}

// Orchestrator drives one generation per Generate call. It listens for push
// events when a Subscriber is configured and falls back to polling the job.
type Orchestrator struct {
	api    *API
	events notify.Subscriber
	opts   Options
	logger zerolog.Logger
}

func NewOrchestrator(api *API, events notify.Subscriber, opts Options) *Orchestrator {
	if opts.RecoveryDelay <= 0 {
		opts.RecoveryDelay = 2 * time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 5 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.LongPoll <= 0 {
		opts.LongPoll = 25 * time.Second
	}
	return &Orchestrator{api: api, events: events, opts: opts, logger: opts.Logger}
}

type submitResult struct {
	resp   *SubmitResponse
	status int
	err    error
}

// Generate submits a paid job with a locally minted id and waits for its
// outcome. Push events and the HTTP response race; the first terminal signal
// wins. Cancelling ctx abandons the wait only, the server still finishes the
// job and settles its ledger.
func (o *Orchestrator) Generate(ctx context.Context, params json.RawMessage, cost int64) (*Outcome, error) {
	return o.generate(ctx, domain.NewJobID(), params, cost)
}

// Resume runs Generate with a caller-chosen job id, typically the id of an
// earlier attempt that ended in ErrRecoveryAmbiguous. An admitted job is not
// charged twice.
func (o *Orchestrator) Resume(ctx context.Context, jobID string, params json.RawMessage, cost int64) (*Outcome, error) {
	if err := domain.ValidateJobID(jobID); err != nil {
		return nil, err
	}
	return o.generate(ctx, jobID, params, cost)
}

func (o *Orchestrator) generate(ctx context.Context, jobID string, params json.RawMessage, cost int64) (*Outcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	log := o.logger.With().Str("job_id", jobID).Logger()

	var push <-chan notify.Event
	if o.events != nil {
		ch, err := o.events.Subscribe(ctx, jobID)
		if err != nil {
			log.Warn().Err(err).Msg("client: push subscription failed, polling only")
		} else {
			push = ch
		}
	}

	submitted := make(chan submitResult, 1)
	go func() {
		resp, status, err := o.api.Submit(ctx, SubmitRequest{
			JobID:       jobID,
			Params:      params,
			Cost:        cost,
			WaitSeconds: int(o.opts.LongPoll / time.Second),
		})
		submitted <- submitResult{resp: resp, status: status, err: err}
	}()

	deadline := time.NewTimer(o.opts.WaitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	var (
		poll      <-chan time.Time
		recovered bool
		duplicate bool
		progress  string
	)
	report := func(p string) {
		if p == "" || p == progress {
			return
		}
		progress = p
		if o.opts.OnProgress != nil {
			o.opts.OnProgress(jobID, p)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-deadline.C:
			return nil, fmt.Errorf("%w: %s after %s", ErrWaitTimeout, jobID, o.opts.WaitTimeout)

		case ev, ok := <-push:
			if !ok {
				push = nil
				continue
			}
			switch ev.Type {
			case notify.EventProgress:
				report(ev.Progress)
			case notify.EventSucceeded:
				log.Debug().Msg("client: result delivered by push")
				return o.succeeded(ctx, jobID, ev.ResultRef, recovered, duplicate), nil
			case notify.EventFailed:
				return nil, jobFailed(jobID, ev.Reason)
			}

		case res := <-submitted:
			submitted = nil
			view, err := o.settle(ctx, jobID, res)
			if err != nil {
				return nil, err
			}
			if res.err != nil {
				recovered = true
			} else {
				duplicate = res.resp.Duplicate
			}
			if view.Terminal() {
				return o.finish(ctx, view, recovered, duplicate)
			}
			report(view.Progress)
			poll = ticker.C

		case <-poll:
			view, err := o.api.Job(ctx, jobID)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				log.Debug().Err(err).Msg("client: poll failed")
				continue
			}
			report(view.Progress)
			if view.Terminal() {
				return o.finish(ctx, view, recovered, duplicate)
			}
		}
	}
}

// settle interprets the submission result and returns the job as known at
// this point. A pending view means the caller keeps waiting.
func (o *Orchestrator) settle(ctx context.Context, jobID string, res submitResult) (*JobView, error) {
	if res.err == nil {
		if res.resp.Job != nil {
			return res.resp.Job, nil
		}
		return &JobView{ID: jobID, Status: res.resp.Status}, nil
	}
	if !errors.Is(res.err, ErrTransport) {
		return nil, res.err
	}

	o.logger.Warn().Err(res.err).Str("job_id", jobID).Dur("delay", o.opts.RecoveryDelay).Msg("client: submission interrupted, recovering by job id")
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(o.opts.RecoveryDelay):
	}

	view, err := o.api.Job(ctx, jobID)
	switch {
	case err == nil:
		return view, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case IsStatus(err, http.StatusNotFound):
		return nil, fmt.Errorf("%w: %s was not admitted: %w", ErrRecoveryAmbiguous, jobID, res.err)
	default:
		return nil, fmt.Errorf("%w: %s: %w", ErrRecoveryAmbiguous, jobID, errors.Join(res.err, err))
	}
}

func (o *Orchestrator) finish(ctx context.Context, view *JobView, recovered, duplicate bool) (*Outcome, error) {
	if view.Status == "FAILED" {
		return nil, jobFailed(view.ID, view.FailureReason)
	}
	return o.succeeded(ctx, view.ID, view.ResultRef, recovered, duplicate), nil
}

func (o *Orchestrator) succeeded(ctx context.Context, jobID, ref string, recovered, duplicate bool) *Outcome {
	out := &Outcome{JobID: jobID, ResultRef: ref, Recovered: recovered, Duplicate: duplicate}
	acct, err := o.api.Account(ctx)
	if err != nil {
		o.logger.Debug().Err(err).Str("job_id", jobID).Msg("client: balance refresh failed")
		out.Balance = -1
		return out
	}
	out.Balance = acct.Diamonds
	return out
}

// RecoverRecent returns the newest succeeded job created since the given
// time. It is meant for history views; Generate never adopts a result this way.
func (o *Orchestrator) RecoverRecent(ctx context.Context, since time.Time) (*JobView, error) {
	return o.api.LatestSucceeded(ctx, since)
}

func jobFailed(jobID, reason string) error {
	if reason == "" {
		reason = "no reason given"
	}
	return fmt.Errorf("%w: %s: %s", ErrJobFailed, jobID, reason)
}
