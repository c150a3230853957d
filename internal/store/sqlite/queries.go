package sqlite

const schema = `
CREATE TABLE IF NOT EXISTS triggers (
	id            TEXT PRIMARY KEY,
	user_ref      TEXT NOT NULL,
	kind          TEXT NOT NULL,
	rule          TEXT NOT NULL,
	timezone      TEXT NOT NULL,
	next_run      TEXT NOT NULL,
	payload       TEXT NOT NULL DEFAULT '{}',
	status        TEXT NOT NULL DEFAULT 'active',
	claimed_at    TEXT,
	last_fired_at TEXT,
	created_at    TEXT NOT NULL,
	updated_at    TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_triggers_due
	ON triggers (next_run) WHERE status = 'active';

CREATE INDEX IF NOT EXISTS idx_triggers_user_ref
	ON triggers (user_ref, created_at);

CREATE TABLE IF NOT EXISTS alerts (
	id         TEXT PRIMARY KEY,
	user_ref   TEXT NOT NULL,
	type       TEXT NOT NULL,
	severity   TEXT NOT NULL,
	message    TEXT NOT NULL,
	channel    TEXT NOT NULL,
	payload    TEXT NOT NULL DEFAULT '{}',
	context    TEXT NOT NULL DEFAULT '{}',
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_alerts_user_ref
	ON alerts (user_ref, created_at);
`

const queryInsertTrigger = `
INSERT INTO triggers (id, user_ref, kind, rule, timezone, next_run, payload, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const queryGetTrigger = `
SELECT id, user_ref, kind, rule, timezone, next_run, payload, status, claimed_at, last_fired_at, created_at, updated_at
FROM triggers
WHERE id = ?
`

const queryListTriggers = `
SELECT id, user_ref, kind, rule, timezone, next_run, payload, status, claimed_at, last_fired_at, created_at, updated_at
FROM triggers
WHERE user_ref = ?
ORDER BY created_at DESC, id
LIMIT ? OFFSET ?
`

const queryCancelTrigger = `
UPDATE triggers
SET status = 'canceled', updated_at = ?
WHERE id = ? AND status = 'active'
`

const queryTriggerExists = `
SELECT 1 FROM triggers WHERE id = ?
`

// The single write connection serializes claims, so unlike the
// PostgreSQL store no row locking is needed here.
const queryClaimDue = `
UPDATE triggers
SET claimed_at = ?
WHERE id IN (
	SELECT id FROM triggers
	WHERE status = 'active'
	  AND next_run <= ?
	  AND (claimed_at IS NULL OR claimed_at < ?)
	ORDER BY next_run ASC
	LIMIT ?
)
RETURNING id, user_ref, kind, rule, timezone, next_run, payload, status, claimed_at, last_fired_at, created_at, updated_at
`

const queryGetTriggerForAdvance = `
SELECT kind, rule, timezone, status FROM triggers WHERE id = ?
`

const queryAdvanceTrigger = `
UPDATE triggers
SET next_run = ?, claimed_at = NULL, last_fired_at = ?, updated_at = ?
WHERE id = ? AND status = 'active'
`

const queryExhaustTrigger = `
UPDATE triggers
SET status = 'exhausted', claimed_at = NULL, last_fired_at = ?, updated_at = ?
WHERE id = ? AND status = 'active'
`

const queryInsertAlert = `
INSERT INTO alerts (id, user_ref, type, severity, message, channel, payload, context, status, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`
