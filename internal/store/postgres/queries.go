package postgres

const queryInsertTrigger = `
INSERT INTO triggers (id, user_ref, kind, rule, timezone, next_run, payload, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

const queryGetTrigger = `
SELECT id, user_ref, kind, rule, timezone, next_run, payload, status, claimed_at, last_fired_at, created_at, updated_at
FROM triggers
WHERE id = $1
`

const queryListTriggers = `
SELECT id, user_ref, kind, rule, timezone, next_run, payload, status, claimed_at, last_fired_at, created_at, updated_at
FROM triggers
WHERE user_ref = $1
ORDER BY created_at DESC
LIMIT $2 OFFSET $3
`

// queryCancelTrigger only flips active rows; terminal states stay terminal.
const queryCancelTrigger = `
UPDATE triggers
SET status = 'canceled', updated_at = $2
WHERE id = $1
  AND status = 'active'
`

const queryTriggerExists = `
SELECT 1 FROM triggers WHERE id = $1
`

// queryClaimDue selects and claims the due batch in one statement.
// FOR UPDATE SKIP LOCKED keeps concurrent sweep invocations from
// claiming the same rows; a stamped claim hides a row from later
// invocations until the lease cutoff passes.
const queryClaimDue = `
WITH due AS (
    SELECT id FROM triggers
    WHERE status = 'active'
      AND next_run <= $1
      AND (claimed_at IS NULL OR claimed_at < $2)
    ORDER BY next_run ASC
    LIMIT $3
    FOR UPDATE SKIP LOCKED
),
claimed AS (
    UPDATE triggers
    SET claimed_at = $1
    FROM due
    WHERE triggers.id = due.id
    RETURNING triggers.id, triggers.user_ref, triggers.kind, triggers.rule, triggers.timezone,
              triggers.next_run, triggers.payload, triggers.status, triggers.claimed_at,
              triggers.last_fired_at, triggers.created_at, triggers.updated_at
)
SELECT * FROM claimed ORDER BY next_run ASC
`

const queryGetTriggerForAdvance = `
SELECT kind, rule, timezone, status FROM triggers WHERE id = $1 FOR UPDATE
`

const queryAdvanceTrigger = `
UPDATE triggers
SET next_run = $2, claimed_at = NULL, last_fired_at = $3, updated_at = $3
WHERE id = $1
  AND status = 'active'
`

const queryExhaustTrigger = `
UPDATE triggers
SET status = 'exhausted', claimed_at = NULL, last_fired_at = $2, updated_at = $2
WHERE id = $1
  AND status = 'active'
`

const queryInsertAlert = `
INSERT INTO alerts (id, user_ref, type, severity, message, channel, payload, context, status, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`
