package repo

import (
	"context"
	"encoding/json"
	"time"

	"genforge/internal/domain"
	"genforge/internal/infra"
	"genforge/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Insert stores a new PENDING job.
func (r *JobRepositoryPG) Insert(ctx context.Context, job *domain.Job) (bool, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QInsertJob,
		job.ID,
		job.OwnerID,
		[]byte(job.Payload),
		job.Cost,
		job.Country,
	)
	if err := row.Scan(&job.CreatedAt, &job.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, storeErr("insert job", err)
	}
	job.Status = domain.JobStatusPending
	return true, nil
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, storeErr("select job", err)
	}
	return job, nil
}

func (r *JobRepositoryPG) ListByOwner(ctx context.Context, ownerID string, limit int) ([]domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectJobsByOwner, ownerID, limit)
	if err != nil {
		return nil, storeErr("list jobs", err)
	}
	defer rows.Close()
	var out []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, storeErr("scan job", err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate jobs", err)
	}
	return out, nil
}

func (r *JobRepositoryPG) SetProgress(ctx context.Context, jobID, progress string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QUpdateJobProgress, jobID, progress); err != nil {
		return storeErr("update progress", err)
	}
	return nil
}

func (r *JobRepositoryPG) MarkSucceeded(ctx context.Context, jobID, resultRef string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkJobSucceeded, jobID, resultRef)
	if err != nil {
		return false, storeErr("mark succeeded", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepositoryPG) MarkFailed(ctx context.Context, jobID, reason string) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QMarkJobFailed, jobID, reason)
	if err != nil {
		return false, storeErr("mark failed", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ClaimLease takes the job lease for owner. When the claim is refused the
// current job is returned along with ErrJobTerminal or ErrLeaseHeld.
func (r *JobRepositoryPG) ClaimLease(ctx context.Context, jobID, owner string, ttl time.Duration) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QClaimJobLease, jobID, owner, ttl.Seconds()))
	if err == nil {
		return job, nil
	}
	if !infra.IsNoRows(err) {
		return nil, storeErr("claim lease", err)
	}
	current, err := r.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, domain.ErrJobTerminal
	}
	return current, domain.ErrLeaseHeld
}

// RenewLease extends a lease still held by owner. Inside a transaction the
// update also locks the row until commit.
func (r *JobRepositoryPG) RenewLease(ctx context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QRenewJobLease, jobID, owner, ttl.Seconds())
	if err != nil {
		return false, storeErr("renew lease", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *JobRepositoryPG) ReleaseLease(ctx context.Context, jobID, owner string) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QReleaseJobLease, jobID, owner); err != nil {
		return storeErr("release lease", err)
	}
	return nil
}

func (r *JobRepositoryPG) ListStalled(ctx context.Context, unclaimedBefore time.Time, limit int) ([]string, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectStalledJobs, unclaimedBefore, limit)
	if err != nil {
		return nil, storeErr("list stalled", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storeErr("scan stalled", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate stalled", err)
	}
	return ids, nil
}

func (r *JobRepositoryPG) LatestSucceeded(ctx context.Context, ownerID string, since time.Time) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectLatestSucceededJob, ownerID, since))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, storeErr("latest succeeded", err)
	}
	return job, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var (
		job     domain.Job
		payload []byte
		status  string
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&payload,
		&job.Cost,
		&status,
		&job.Progress,
		&job.ResultRef,
		&job.FailureReason,
		&job.Country,
		&job.LeaseOwner,
		&job.LeaseExpiresAt,
		&job.Attempts,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Payload = append(json.RawMessage(nil), payload...)
	job.Status = domain.JobStatus(status)
	return &job, nil
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
