package sqlinline

const QSelectAccount = `--sql 6f19b92f-0142-42f2-857f-d45cecc4baab
select owner_id, diamonds, xp, created_at, updated_at
from accounts
where owner_id = $1::text;
`

// no-op update so RETURNING yields the existing row on conflict
const QEnsureAccount = `--sql 8444f353-8a96-4345-8bf7-4b2952468e01
insert into accounts (owner_id, diamonds, xp, created_at, updated_at)
values ($1::text, 0, 0, now(), now())
on conflict (owner_id) do update set owner_id = excluded.owner_id
returning owner_id, diamonds, xp, created_at, updated_at;
`

// Conditional debit: the row lock taken by the update re-checks the balance,
// so concurrent debits can never drive it negative.
const QDebitAccount = `--sql 6ae5377d-575a-4c9b-b944-04a9a0cf6316
update accounts
set diamonds = diamonds - $2::bigint,
    updated_at = now()
where owner_id = $1::text
  and diamonds >= $2::bigint
returning diamonds;
`

const QCreditAccount = `--sql 9cf9e6ed-4006-4583-88b3-df576daa57cf
update accounts
set diamonds = diamonds + $2::bigint,
    updated_at = now()
where owner_id = $1::text
returning diamonds;
`

const QAddAccountXP = `--sql d2f4e8ba-720e-4895-99e7-2cd8a2989e06
update accounts
set xp = xp + $2::bigint,
    updated_at = now()
where owner_id = $1::text;
`

const QInsertLedgerEntry = `--sql 94f54ffd-1309-44eb-8482-a33dfd32b3d5
insert into ledger_entries (id, account_id, amount, kind, description, job_id, balance_after, created_at)
values ($1::text, $2::text, $3::bigint, $4::text, $5::text, nullif($6::text, ''), $7::bigint, now())
returning created_at;
`

const QSelectLedgerEntriesByAccount = `--sql 9498b9bd-bacd-42fb-9337-e1313f2ea370
select id, account_id, amount, kind, description, coalesce(job_id, ''), balance_after, created_at
from ledger_entries
where account_id = $1::text
order by created_at desc, id desc
limit $2::int;
`

const QSelectLedgerEntriesByJob = `--sql 37ceac2d-52a4-4ddc-8211-277683422d10
select id, account_id, amount, kind, description, coalesce(job_id, ''), balance_after, created_at
from ledger_entries
where job_id = $1::text
order by created_at asc, id asc;
`
