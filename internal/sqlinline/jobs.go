package sqlinline

// jobColumns must stay in sync with repo.scanJob.
const jobColumns = `id, owner_id, payload, cost, status, coalesce(progress, ''), coalesce(result_ref, ''),
       coalesce(failure_reason, ''), coalesce(country, ''), coalesce(lease_owner, ''), lease_expires_at,
       attempts, created_at, updated_at`

const QInsertJob = `--sql 376d128b-be23-449c-a184-c9aebc1d14da
insert into jobs (id, owner_id, payload, cost, status, country, attempts, created_at, updated_at)
values ($1::text, $2::text, $3::jsonb, $4::bigint, 'PENDING', nullif($5::text, ''), 0, now(), now())
on conflict (id) do nothing
returning created_at, updated_at;
`

const QSelectJob = `--sql 2583dbf4-5aad-4474-ae64-7b1533cc0dbf
select ` + jobColumns + `
from jobs
where id = $1::text;
`

const QSelectJobsByOwner = `--sql e350fc59-7d7b-433d-8bf3-ac52a3a6f96d
select ` + jobColumns + `
from jobs
where owner_id = $1::text
order by created_at desc
limit $2::int;
`

const QUpdateJobProgress = `--sql 94df9a7e-3e95-47b8-8f92-17d546a8a947
update jobs
set progress = $2::text,
    updated_at = now()
where id = $1::text
  and status = 'PENDING';
`

const QMarkJobSucceeded = `--sql bddc1e5f-db95-497f-ac79-88f19eb86408
update jobs
set status = 'SUCCEEDED',
    result_ref = $2::text,
    progress = null,
    lease_owner = null,
    lease_expires_at = null,
    updated_at = now()
where id = $1::text
  and status = 'PENDING';
`

const QMarkJobFailed = `--sql a2f3587c-2a94-455c-a276-78b71332dda0
update jobs
set status = 'FAILED',
    failure_reason = $2::text,
    progress = null,
    lease_owner = null,
    lease_expires_at = null,
    updated_at = now()
where id = $1::text
  and status = 'PENDING';
`

// The lease is taken only when free or expired. Each run claims with its own
// token, so a live lease is never granted twice. Every successful claim counts
// as one attempt.
const QClaimJobLease = `--sql de73d7cd-5e3c-492c-81e9-506921f45df6
update jobs
set lease_owner = $2::text,
    lease_expires_at = now() + make_interval(secs => $3::double precision),
    attempts = attempts + 1,
    updated_at = now()
where id = $1::text
  and status = 'PENDING'
  and (lease_owner is null or lease_expires_at < now())
returning ` + jobColumns + `;
`

const QRenewJobLease = `--sql 9f9f9735-f492-4918-9926-a020514b35e7
update jobs
set lease_expires_at = now() + make_interval(secs => $3::double precision),
    updated_at = now()
where id = $1::text
  and status = 'PENDING'
  and lease_owner = $2::text;
`

const QReleaseJobLease = `--sql 3ca1761d-61c6-4023-8657-59b9b8e2e435
update jobs
set lease_owner = null,
    lease_expires_at = null,
    updated_at = now()
where id = $1::text
  and lease_owner = $2::text;
`

const QSelectStalledJobs = `--sql f62152e2-0473-4b31-924f-8815b4b56a70
select id
from jobs
where status = 'PENDING'
  and (
    (lease_owner is not null and lease_expires_at < now())
    or (lease_owner is null and updated_at < $1::timestamptz)
  )
order by created_at asc
limit $2::int;
`

const QSelectLatestSucceededJob = `--sql 9f0c348a-0cb7-4652-8ff9-8d1b092cb39b
select ` + jobColumns + `
from jobs
where owner_id = $1::text
  and status = 'SUCCEEDED'
  and result_ref is not null
  and created_at >= $2::timestamptz
order by created_at desc
limit 1;
`
