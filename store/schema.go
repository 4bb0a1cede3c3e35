package store

// SchemaVersion is stamped into run_metadata on every Open call,
// overwriting any earlier value. The store declares a single schema
// version; no migration path is implemented, and a stored version is
// not compared against this one.
const SchemaVersion = 1

// schemaDDL mirrors the three tables required by spec.md §6: run_metadata,
// url_queue, and check_results, plus the status index and the partial
// unique index on fingerprint.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS run_metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS url_queue (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	url                 TEXT NOT NULL,
	fingerprint         TEXT,
	parent_url          TEXT NOT NULL DEFAULT '',
	base_ref            TEXT NOT NULL DEFAULT '',
	recursion_level     INTEGER NOT NULL DEFAULT 0,
	line                INTEGER NOT NULL DEFAULT 0,
	column_num          INTEGER NOT NULL DEFAULT 0,
	page                INTEGER NOT NULL DEFAULT 0,
	name                TEXT NOT NULL DEFAULT '',
	extern              TEXT NOT NULL DEFAULT '',
	url_encoding        TEXT NOT NULL DEFAULT '',
	parent_content_type TEXT NOT NULL DEFAULT '',
	status              TEXT NOT NULL DEFAULT 'pending',
	created_at          TEXT NOT NULL,
	updated_at          TEXT
);
CREATE INDEX IF NOT EXISTS idx_url_queue_status ON url_queue(status);
CREATE UNIQUE INDEX IF NOT EXISTS idx_url_queue_fingerprint
	ON url_queue(fingerprint) WHERE fingerprint IS NOT NULL;

CREATE TABLE IF NOT EXISTS check_results (
	fingerprint  TEXT PRIMARY KEY,
	url          TEXT NOT NULL DEFAULT '',
	valid        INTEGER NOT NULL DEFAULT 1,
	extern       INTEGER NOT NULL DEFAULT 0,
	result       TEXT NOT NULL DEFAULT '',
	warnings     TEXT NOT NULL DEFAULT '[]',
	info         TEXT NOT NULL DEFAULT '[]',
	name         TEXT NOT NULL DEFAULT '',
	title        TEXT NOT NULL DEFAULT '',
	parent_url   TEXT NOT NULL DEFAULT '',
	base_ref     TEXT NOT NULL DEFAULT '',
	base_url     TEXT NOT NULL DEFAULT '',
	domain       TEXT NOT NULL DEFAULT '',
	content_type TEXT NOT NULL DEFAULT '',
	size         INTEGER NOT NULL DEFAULT -1,
	modified     TEXT,
	dltime       REAL NOT NULL DEFAULT -1,
	checktime    REAL NOT NULL DEFAULT 0,
	line         INTEGER NOT NULL DEFAULT 0,
	column_num   INTEGER NOT NULL DEFAULT 0,
	page         INTEGER NOT NULL DEFAULT 0,
	level        INTEGER NOT NULL DEFAULT 0,
	checked_at   TEXT NOT NULL
);
`
