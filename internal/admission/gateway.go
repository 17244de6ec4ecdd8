// Package admission accepts paid generation requests. A job only becomes
// visible together with the debit that pays for it.
package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"genforge/internal/billing"
	"genforge/internal/domain"
	"genforge/internal/domain/jsoncfg"
	"genforge/internal/queue"
)

// PayloadValidator rejects payloads the worker could not plan.
type PayloadValidator func(raw json.RawMessage) error

// Request is one admission attempt. JobID is optional; when the caller
// proposes one, resubmitting it is idempotent.
type Request struct {
	OwnerID string
	JobID   string
	Payload json.RawMessage
	Cost    int64
	Country string
}

// Receipt confirms admission.
type Receipt struct {
	JobID        string
	BalanceAfter int64
	Duplicate    bool
	Job          *domain.Job
}

type Gateway struct {
	store    domain.Store
	ledger   *billing.Ledger
	trigger  queue.Trigger
	validate PayloadValidator
	logger   zerolog.Logger
}

func NewGateway(store domain.Store, ledger *billing.Ledger, trigger queue.Trigger, validate PayloadValidator, logger zerolog.Logger) *Gateway {
	return &Gateway{store: store, ledger: ledger, trigger: trigger, validate: validate, logger: logger}
}

// SubmitJob validates the request, then in one transaction inserts the PENDING
// job, debits the cost and records the CHARGE. The worker trigger is sent after
// commit and its failure does not fail admission.
func (g *Gateway) SubmitJob(ctx context.Context, req Request) (*Receipt, error) {
	if err := g.check(&req); err != nil {
		return nil, err
	}

	if existing, err := g.store.Jobs().Get(ctx, req.JobID); err == nil {
		return g.duplicate(ctx, req, existing)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	acct, err := g.store.Accounts().GetAccount(ctx, req.OwnerID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil, domain.ErrInsufficientFunds
	case err != nil:
		return nil, err
	case acct.Diamonds < req.Cost:
		return nil, domain.ErrInsufficientFunds
	}

	var (
		receipt *Receipt
		dup     *domain.Job
	)
	err = g.store.WithinTx(ctx, func(repos domain.Repositories) error {
		job := &domain.Job{
			ID:      req.JobID,
			OwnerID: req.OwnerID,
			Payload: req.Payload,
			Cost:    req.Cost,
			Country: req.Country,
		}
		inserted, err := repos.Jobs().Insert(ctx, job)
		if err != nil {
			return err
		}
		if !inserted {
			// lost a race against a concurrent submit of the same id
			existing, err := repos.Jobs().Get(ctx, req.JobID)
			if err != nil {
				return err
			}
			dup = existing
			return nil
		}
		balance, err := g.ledger.Debit(ctx, repos, billing.Entry{
			OwnerID:     req.OwnerID,
			Amount:      req.Cost,
			Kind:        domain.EntryKindCharge,
			Description: "generation job " + req.JobID,
			JobID:       req.JobID,
		})
		if err != nil {
			return err
		}
		receipt = &Receipt{JobID: job.ID, BalanceAfter: balance, Job: job}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if dup != nil {
		return g.duplicate(ctx, req, dup)
	}

	g.logger.Info().
		Str("job_id", receipt.JobID).
		Str("owner_id", req.OwnerID).
		Int64("cost", req.Cost).
		Int64("balance", receipt.BalanceAfter).
		Msg("admission: job accepted")

	if err := g.trigger.Enqueue(ctx, receipt.JobID); err != nil {
		g.logger.Warn().Err(err).Str("job_id", receipt.JobID).Msg("admission: trigger failed, sweeper will redeliver")
	}
	return receipt, nil
}

func (g *Gateway) check(req *Request) error {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	if req.OwnerID == "" {
		return fmt.Errorf("%w: owner id is required", domain.ErrInvalidInput)
	}
	if req.Cost <= 0 {
		return fmt.Errorf("%w: cost must be positive", domain.ErrInvalidInput)
	}
	if len(req.Payload) == 0 || !json.Valid(req.Payload) {
		return fmt.Errorf("%w: payload must be JSON", domain.ErrInvalidInput)
	}
	if g.validate != nil {
		if err := g.validate(req.Payload); err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				return err
			}
			return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
		}
	}
	if req.JobID == "" {
		req.JobID = domain.NewJobID()
		return nil
	}
	return domain.ValidateJobID(req.JobID)
}

func (g *Gateway) duplicate(ctx context.Context, req Request, existing *domain.Job) (*Receipt, error) {
	if existing.OwnerID != req.OwnerID {
		return nil, domain.ErrJobConflict
	}
	receipt := &Receipt{JobID: existing.ID, Duplicate: true, Job: existing}
	if acct, err := g.store.Accounts().GetAccount(ctx, req.OwnerID); err == nil {
		receipt.BalanceAfter = acct.Diamonds
	}
	g.logger.Info().Str("job_id", existing.ID).Str("owner_id", req.OwnerID).Msg("admission: duplicate submit")
	return receipt, nil
}

// ValidateParams accepts payloads that decode into generation params.
func ValidateParams(raw json.RawMessage) error {
	_, err := jsoncfg.ParseParams(raw)
	return err
}
