// Package store implements the durable live-spec store, draft store,
// controller-job scheduler rows and alert history on top of a SQLite
// database, following the same database/sql + mattn/go-sqlite3
// pattern as catalog.LoadFromSQLite. JSON columns tolerate unicode
// escapes but the builder rejects escaped NULs before they ever reach
// a row (§4.5, §6).
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // registers the "sqlite3" driver
)

// schema is the conceptual persistent schema of §6, reduced to what
// the controller engine itself needs (the draft API surface, the
// builder's schema/storage-mapping inputs, and the connector registry
// are external collaborators and are not modeled here).
const schema = `
CREATE TABLE IF NOT EXISTS live_specs (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	catalog_name         TEXT NOT NULL,
	catalog_name_fold    TEXT NOT NULL UNIQUE,
	spec_type            TEXT NOT NULL,
	spec                 TEXT,
	built_spec           TEXT,
	built_spec_hash      INTEGER NOT NULL DEFAULT 0,
	last_pub_id          INTEGER NOT NULL DEFAULT 0,
	generation_id        INTEGER NOT NULL DEFAULT 0,
	reads_from           TEXT,
	writes_to            TEXT,
	source_capture       TEXT,
	data_plane_id        TEXT NOT NULL DEFAULT '',
	inferred_schema_hash TEXT,
	deleted_at           INTEGER
);

CREATE TABLE IF NOT EXISTS draft_specs (
	draft_id      TEXT NOT NULL,
	catalog_name  TEXT NOT NULL,
	spec_type     TEXT NOT NULL,
	spec          TEXT,
	expect_pub_id INTEGER,
	is_touch      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (draft_id, catalog_name)
);

CREATE TABLE IF NOT EXISTS publications (
	id           INTEGER PRIMARY KEY,
	user_id      TEXT NOT NULL,
	draft_id     TEXT NOT NULL,
	detail       TEXT,
	auto_evolve  INTEGER NOT NULL DEFAULT 0,
	background   INTEGER NOT NULL DEFAULT 0,
	data_plane   TEXT NOT NULL DEFAULT '',
	result       TEXT NOT NULL,
	errors       TEXT,
	created_at   INTEGER NOT NULL,
	completed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS publication_specs (
	publication_id INTEGER NOT NULL,
	live_spec_id   INTEGER NOT NULL,
	catalog_name   TEXT NOT NULL,
	spec_type      TEXT NOT NULL,
	expect_pub_id  INTEGER,
	PRIMARY KEY (publication_id, live_spec_id)
);

CREATE TABLE IF NOT EXISTS controller_jobs (
	live_spec_id        INTEGER PRIMARY KEY,
	controller_next_run INTEGER,
	controller_version  INTEGER NOT NULL DEFAULT 0,
	updated_at          INTEGER NOT NULL,
	status              TEXT NOT NULL DEFAULT '{}',
	failures            INTEGER NOT NULL DEFAULT 0,
	last_error          TEXT,
	leased_until        INTEGER
);

CREATE TABLE IF NOT EXISTS alert_history (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	spec_name   TEXT NOT NULL,
	alert_type  TEXT NOT NULL,
	first_ts    INTEGER NOT NULL,
	last_ts     INTEGER NOT NULL,
	count       INTEGER NOT NULL DEFAULT 1,
	fired       INTEGER NOT NULL DEFAULT 0,
	error       TEXT,
	resolved_ts INTEGER
);

CREATE TABLE IF NOT EXISTS shard_failures (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	catalog_name TEXT NOT NULL,
	shard_id   TEXT NOT NULL,
	observed_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS role_grants (
	subject_role TEXT NOT NULL,
	object_role  TEXT NOT NULL,
	capability   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_grants (
	user_id TEXT NOT NULL,
	object_role TEXT NOT NULL,
	capability TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_controller_jobs_next_run ON controller_jobs(controller_next_run);
CREATE INDEX IF NOT EXISTS idx_alert_history_unresolved ON alert_history(spec_name, alert_type, resolved_ts);

-- The controller itself publishes under a well-known system identity,
-- analogous to a service account, carrying admin over every role
-- prefix ('' is a prefix of every name) so executors can submit
-- deletion-propagation and backfill publications without impersonating
-- the user who owns the affected catalog (§4.4, §4.8).
INSERT INTO user_grants(user_id, object_role, capability)
SELECT 'controller', '', 'admin'
WHERE NOT EXISTS (
	SELECT 1 FROM user_grants WHERE user_id='controller' AND object_role='' AND capability='admin'
);
`

// SystemUserID is the controller's own publishing identity (§4.4, §4.8).
const SystemUserID = "controller"

// Open opens (and if necessary creates) a SQLite-backed store at path.
// Use ":memory:" for ephemeral test databases.
func Open(path string) (*sql.DB, error) {
	var db, err = sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite DB: %w", err)
	}
	// The controller engine relies on serializable transactions and a
	// single writer to emulate SKIP LOCKED; SQLite only supports one
	// writer at a time regardless, so pin the pool to size 1.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}
	return db, nil
}
