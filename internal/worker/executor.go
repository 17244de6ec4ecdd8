// Package worker executes admitted jobs. Execution is at-least-once; every
// state change is guarded on the job still being PENDING so the economic
// effect happens exactly once.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"genforge/internal/billing"
	"genforge/internal/domain"
	"genforge/internal/notify"
	"genforge/internal/providers/image"
	"genforge/internal/storage"
)

// Config tunes an Executor.
type Config struct {
	WorkerID string
	LeaseTTL time.Duration
	// RenewEvery is how often a running job extends its lease. Defaults to a
	// third of LeaseTTL.
	RenewEvery   time.Duration
	MaxAttempts  int
	StageTimeout time.Duration
	// Parallel runs independent render stages concurrently.
	Parallel bool
}

type Executor struct {
	store     domain.Store
	ledger    *billing.Ledger
	generator image.Generator
	blob      storage.BlobStore
	events    notify.Publisher
	cfg       Config
	logger    zerolog.Logger
}

func NewExecutor(store domain.Store, ledger *billing.Ledger, generator image.Generator, blob storage.BlobStore, events notify.Publisher, cfg Config, logger zerolog.Logger) *Executor {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 3 * time.Minute
	}
	if cfg.RenewEvery <= 0 || cfg.RenewEvery >= cfg.LeaseTTL {
		cfg.RenewEvery = cfg.LeaseTTL / 3
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 90 * time.Second
	}
	if events == nil {
		events = notify.Nop{}
	}
	return &Executor{
		store:     store,
		ledger:    ledger,
		generator: generator,
		blob:      blob,
		events:    events,
		cfg:       cfg,
		logger:    logger.With().Str("worker_id", cfg.WorkerID).Logger(),
	}
}

// Run processes one delivery of jobID. Deliveries for unknown, finished or
// leased jobs are no-ops. It returns ErrInterrupted when ctx is cancelled
// before an outcome is recorded.
func (e *Executor) Run(ctx context.Context, jobID string) error {
	token := e.claimToken()
	job, err := e.store.Jobs().ClaimLease(ctx, jobID, token, e.cfg.LeaseTTL)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		e.logger.Warn().Str("job_id", jobID).Msg("worker: job not found, dropping delivery")
		return nil
	case errors.Is(err, domain.ErrJobTerminal):
		e.logger.Debug().Str("job_id", jobID).Msg("worker: job already terminal")
		return nil
	case errors.Is(err, domain.ErrLeaseHeld):
		e.logger.Debug().Str("job_id", jobID).Msg("worker: lease held elsewhere")
		return nil
	case err != nil:
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		return fmt.Errorf("claim lease %s: %w", jobID, err)
	}
	defer e.release(ctx, jobID, token)

	runCtx, lose := context.WithCancelCause(ctx)
	defer lose(nil)
	stop := e.keepLease(runCtx, jobID, token, lose)
	defer stop()

	log := e.logger.With().Str("job_id", jobID).Str("lease", token).Int("attempt", job.Attempts).Logger()
	log.Info().Msg("worker: job claimed")

	if e.cfg.MaxAttempts > 0 && job.Attempts > e.cfg.MaxAttempts {
		return e.fail(ctx, job, token, fmt.Sprintf("attempts exhausted after %d tries", job.Attempts-1))
	}

	plan, err := BuildPlan(job.Payload)
	if err != nil {
		return e.fail(ctx, job, token, err.Error())
	}

	artifact, err := e.execute(runCtx, job, plan)
	if err != nil {
		if errors.Is(context.Cause(runCtx), errLeaseLost) {
			log.Warn().Err(err).Msg("worker: lease lost during pipeline, abandoning run")
			return nil
		}
		if ctx.Err() != nil {
			log.Info().Err(err).Msg("worker: interrupted during pipeline")
			return ErrInterrupted
		}
		return e.fail(ctx, job, token, err.Error())
	}

	ref, err := e.blob.Put(runCtx, artifact.Data, artifact.ContentType)
	if err != nil {
		if errors.Is(context.Cause(runCtx), errLeaseLost) {
			log.Warn().Err(err).Msg("worker: lease lost during upload, abandoning run")
			return nil
		}
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		return e.fail(ctx, job, token, fmt.Sprintf("%v: %v", ErrUpload, err))
	}

	moved := false
	err = e.store.WithinTx(ctx, func(repos domain.Repositories) error {
		held, err := repos.Jobs().RenewLease(ctx, jobID, token, e.cfg.LeaseTTL)
		if err != nil || !held {
			return err
		}
		ok, err := repos.Jobs().MarkSucceeded(ctx, jobID, ref)
		if err != nil || !ok {
			return err
		}
		moved = true
		return e.ledger.AwardXP(ctx, repos, job.OwnerID, job.Cost)
	})
	if err != nil {
		if ctx.Err() != nil {
			return ErrInterrupted
		}
		return fmt.Errorf("mark %s succeeded: %w", jobID, err)
	}
	if !moved {
		log.Warn().Str("result_ref", ref).Msg("worker: job finished elsewhere or lease lost, uploaded result is orphaned")
		return nil
	}

	log.Info().Str("result_ref", ref).Int("stages", len(plan.Stages)).Msg("worker: job succeeded")
	e.publish(ctx, notify.Event{JobID: jobID, Type: notify.EventSucceeded, ResultRef: ref})
	return nil
}

// FailAndRefund moves a PENDING job to FAILED and returns its cost to the
// owner in the same transaction. It reports whether this call made the
// transition; later calls find the job terminal and change nothing.
func (e *Executor) FailAndRefund(ctx context.Context, jobID, reason string) (bool, error) {
	return e.failAndRefund(ctx, jobID, "", reason)
}

// failAndRefund only moves the job while token still holds its lease, unless
// token is empty.
func (e *Executor) failAndRefund(ctx context.Context, jobID, token, reason string) (bool, error) {
	reason = billing.Truncate(reason, billing.MaxDescriptionLen)
	refunded := false
	err := e.store.WithinTx(ctx, func(repos domain.Repositories) error {
		if token != "" {
			held, err := repos.Jobs().RenewLease(ctx, jobID, token, e.cfg.LeaseTTL)
			if err != nil || !held {
				return err
			}
		}
		job, err := repos.Jobs().Get(ctx, jobID)
		if err != nil {
			return err
		}
		moved, err := repos.Jobs().MarkFailed(ctx, jobID, reason)
		if err != nil || !moved {
			return err
		}
		if _, err := e.ledger.Credit(ctx, repos, billing.Entry{
			OwnerID:     job.OwnerID,
			Amount:      job.Cost,
			Kind:        domain.EntryKindRefund,
			Description: reason,
			JobID:       jobID,
		}); err != nil {
			return err
		}
		refunded = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return refunded, nil
}

func (e *Executor) fail(ctx context.Context, job *domain.Job, token, reason string) error {
	refunded, err := e.failAndRefund(ctx, job.ID, token, reason)
	if err != nil {
		return err
	}
	if !refunded {
		return nil
	}
	e.logger.Warn().
		Str("job_id", job.ID).
		Str("owner_id", job.OwnerID).
		Int64("refund", job.Cost).
		Str("reason", reason).
		Msg("worker: job failed, cost refunded")
	e.publish(ctx, notify.Event{JobID: job.ID, Type: notify.EventFailed, Reason: billing.Truncate(reason, billing.MaxDescriptionLen)})
	return nil
}

// execute runs the plan and returns the final artifact.
func (e *Executor) execute(ctx context.Context, job *domain.Job, plan Plan) (image.Artifact, error) {
	outputs := make([]image.Artifact, len(plan.Stages))
	next := 0

	if e.cfg.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for _, stage := range plan.Stages {
			if stage.Kind != StageRender || len(stage.Inputs) > 0 {
				break
			}
			next++
			g.Go(func() error {
				art, err := e.runStage(gctx, job, plan, stage, nil)
				outputs[stage.Index] = art
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return image.Artifact{}, err
		}
	}

	for _, stage := range plan.Stages[next:] {
		refs := make([]image.Artifact, 0, len(stage.Inputs))
		for _, in := range stage.Inputs {
			refs = append(refs, outputs[in])
		}
		art, err := e.runStage(ctx, job, plan, stage, refs)
		if err != nil {
			return image.Artifact{}, err
		}
		outputs[stage.Index] = art
	}
	return outputs[plan.Final().Index], nil
}

func (e *Executor) runStage(ctx context.Context, job *domain.Job, plan Plan, stage Stage, refs []image.Artifact) (image.Artifact, error) {
	if err := ctx.Err(); err != nil {
		return image.Artifact{}, &StageError{Index: stage.Index, Name: stage.Name, Err: err}
	}
	progress := plan.Progress(stage)
	if err := e.store.Jobs().SetProgress(ctx, job.ID, progress); err != nil {
		e.logger.Warn().Err(err).Str("job_id", job.ID).Msg("worker: progress update failed")
	}
	e.publish(ctx, notify.Event{JobID: job.ID, Type: notify.EventProgress, Progress: progress})

	stageCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()

	started := time.Now()
	art, err := e.generator.Generate(stageCtx, image.Request{
		Prompt:      stage.Prompt,
		AspectRatio: plan.Params.AspectRatio,
		Style:       plan.Params.Style,
		References:  refs,
		RequestID:   fmt.Sprintf("%s/%d", job.ID, stage.Index),
	})
	if err == nil {
		art, err = validateArtifact(art)
	}
	if err != nil {
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", e.cfg.StageTimeout, err)
		}
		return image.Artifact{}, &StageError{Index: stage.Index, Name: stage.Name, Err: err}
	}

	e.logger.Debug().
		Str("job_id", job.ID).
		Str("stage", stage.Name).
		Dur("elapsed", time.Since(started)).
		Int("bytes", len(art.Data)).
		Msg("worker: stage complete")
	return art, nil
}

// validateArtifact requires bytes that decode as an image of the declared type.
func validateArtifact(art image.Artifact) (image.Artifact, error) {
	if art.Empty() {
		return art, errors.New("backend returned no image data")
	}
	cfg, format, err := stdimage.DecodeConfig(bytes.NewReader(art.Data))
	if err != nil {
		return art, fmt.Errorf("backend returned undecodable image: %w", err)
	}
	detected := "image/" + format
	declared := image.NormalizeContentType(art.ContentType)
	if declared == "image/jpg" {
		declared = "image/jpeg"
	}
	if declared != "" && declared != detected {
		return art, fmt.Errorf("backend declared %s but sent %s", declared, detected)
	}
	art.ContentType = detected
	art.Width, art.Height = cfg.Width, cfg.Height
	return art, nil
}

func (e *Executor) publish(ctx context.Context, ev notify.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.Debug().Err(err).Str("job_id", ev.JobID).Str("type", string(ev.Type)).Msg("worker: publish event failed")
	}
}

// claimToken names one run. Runs sharing a WorkerID never share a lease.
func (e *Executor) claimToken() string {
	return e.cfg.WorkerID + "/" + uuid.NewString()[:8]
}

// keepLease renews the lease every RenewEvery until the returned stop is
// called. When the lease turns out to be gone it cancels the run with
// errLeaseLost.
func (e *Executor) keepLease(ctx context.Context, jobID, token string, lose context.CancelCauseFunc) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		ticker := time.NewTicker(e.cfg.RenewEvery)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			held, err := e.store.Jobs().RenewLease(ctx, jobID, token, e.cfg.LeaseTTL)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				e.logger.Warn().Err(err).Str("job_id", jobID).Msg("worker: renew lease failed")
				continue
			}
			if !held {
				e.logger.Warn().Str("job_id", jobID).Str("lease", token).Msg("worker: lease taken over")
				lose(errLeaseLost)
				return
			}
		}
	}()
	return func() {
		close(done)
		<-exited
	}
}

func (e *Executor) release(ctx context.Context, jobID, token string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := e.store.Jobs().ReleaseLease(ctx, jobID, token); err != nil {
		e.logger.Warn().Err(err).Str("job_id", jobID).Msg("worker: release lease failed")
	}
}
