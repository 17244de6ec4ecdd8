package memstore

import (
	"context"
	"time"

	"genforge/internal/domain"
)

type jobRepo struct{ view view }

func (r jobRepo) Insert(_ context.Context, job *domain.Job) (bool, error) {
	inserted := false
	err := r.view.do(func(st *state, s *Store) error {
		if err := s.fault("jobs.insert"); err != nil {
			return err
		}
		if _, exists := st.jobs[job.ID]; exists {
			return nil
		}
		now := s.now()
		job.Status = domain.JobStatusPending
		job.CreatedAt = now
		job.UpdatedAt = now
		st.jobs[job.ID] = copyJob(job)
		inserted = true
		return nil
	})
	return inserted, err
}

func (r jobRepo) Get(_ context.Context, jobID string) (*domain.Job, error) {
	var out *domain.Job
	err := r.view.do(func(st *state, s *Store) error {
		if err := s.fault("jobs.get"); err != nil {
			return err
		}
		j, ok := st.jobs[jobID]
		if !ok {
			return domain.ErrNotFound
		}
		out = copyJob(j)
		return nil
	})
	return out, err
}

func (r jobRepo) ListByOwner(_ context.Context, ownerID string, limit int) ([]domain.Job, error) {
	var out []domain.Job
	err := r.view.do(func(st *state, s *Store) error {
		for _, j := range st.jobs {
			if j.OwnerID == ownerID {
				out = append(out, *copyJob(j))
			}
		}
		return nil
	})
	sortJobsDesc(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r jobRepo) SetProgress(_ context.Context, jobID, progress string) error {
	return r.view.do(func(st *state, s *Store) error {
		if err := s.fault("jobs.set_progress"); err != nil {
			return err
		}
		if j, ok := st.jobs[jobID]; ok && j.Pending() {
			j.Progress = progress
			j.UpdatedAt = s.now()
		}
		return nil
	})
}

func (r jobRepo) MarkSucceeded(_ context.Context, jobID, resultRef string) (bool, error) {
	return r.transition(jobID, "jobs.mark_succeeded", func(j *domain.Job) {
		j.Status = domain.JobStatusSucceeded
		j.ResultRef = resultRef
	})
}

func (r jobRepo) MarkFailed(_ context.Context, jobID, reason string) (bool, error) {
	return r.transition(jobID, "jobs.mark_failed", func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.FailureReason = reason
	})
}

func (r jobRepo) transition(jobID, op string, apply func(j *domain.Job)) (bool, error) {
	moved := false
	err := r.view.do(func(st *state, s *Store) error {
		if err := s.fault(op); err != nil {
			return err
		}
		j, ok := st.jobs[jobID]
		if !ok || !j.Pending() {
			return nil
		}
		apply(j)
		j.Progress = ""
		j.LeaseOwner = ""
		j.LeaseExpiresAt = nil
		j.UpdatedAt = s.now()
		moved = true
		return nil
	})
	return moved, err
}

func (r jobRepo) ClaimLease(_ context.Context, jobID, owner string, ttl time.Duration) (*domain.Job, error) {
	var out *domain.Job
	err := r.view.do(func(st *state, s *Store) error {
		if err := s.fault("jobs.claim_lease"); err != nil {
			return err
		}
		j, ok := st.jobs[jobID]
		if !ok {
			return domain.ErrNotFound
		}
		now := s.now()
		if j.Status.Terminal() {
			out = copyJob(j)
			return domain.ErrJobTerminal
		}
		if j.LeaseLive(now) {
			out = copyJob(j)
			return domain.ErrLeaseHeld
		}
		expires := now.Add(ttl)
		j.LeaseOwner = owner
		j.LeaseExpiresAt = &expires
		j.Attempts++
		j.UpdatedAt = now
		out = copyJob(j)
		return nil
	})
	return out, err
}

func (r jobRepo) RenewLease(_ context.Context, jobID, owner string, ttl time.Duration) (bool, error) {
	held := false
	err := r.view.do(func(st *state, s *Store) error {
		if err := s.fault("jobs.renew_lease"); err != nil {
			return err
		}
		j, ok := st.jobs[jobID]
		if !ok || !j.Pending() || j.LeaseOwner != owner {
			return nil
		}
		now := s.now()
		expires := now.Add(ttl)
		j.LeaseExpiresAt = &expires
		j.UpdatedAt = now
		held = true
		return nil
	})
	return held, err
}

func (r jobRepo) ReleaseLease(_ context.Context, jobID, owner string) error {
	return r.view.do(func(st *state, s *Store) error {
		if j, ok := st.jobs[jobID]; ok && j.LeaseOwner == owner {
			j.LeaseOwner = ""
			j.LeaseExpiresAt = nil
			j.UpdatedAt = s.now()
		}
		return nil
	})
}

func (r jobRepo) ListStalled(_ context.Context, unclaimedBefore time.Time, limit int) ([]string, error) {
	var stalled []domain.Job
	err := r.view.do(func(st *state, s *Store) error {
		now := s.now()
		for _, j := range st.jobs {
			if !j.Pending() {
				continue
			}
			expired := j.LeaseOwner != "" && j.LeaseExpiresAt != nil && j.LeaseExpiresAt.Before(now)
			orphaned := j.LeaseOwner == "" && j.UpdatedAt.Before(unclaimedBefore)
			if expired || orphaned {
				stalled = append(stalled, *j)
			}
		}
		return nil
	})
	sortJobsDesc(stalled)
	ids := make([]string, 0, len(stalled))
	for i := len(stalled) - 1; i >= 0; i-- {
		ids = append(ids, stalled[i].ID)
		if limit > 0 && len(ids) >= limit {
			break
		}
	}
	return ids, err
}

func (r jobRepo) LatestSucceeded(_ context.Context, ownerID string, since time.Time) (*domain.Job, error) {
	var best *domain.Job
	err := r.view.do(func(st *state, s *Store) error {
		for _, j := range st.jobs {
			if j.OwnerID != ownerID || j.Status != domain.JobStatusSucceeded || j.ResultRef == "" {
				continue
			}
			if j.CreatedAt.Before(since) {
				continue
			}
			if best == nil || j.CreatedAt.After(best.CreatedAt) {
				best = copyJob(j)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return best, nil
}
