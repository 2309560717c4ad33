package store

// schema is applied on every open; all statements are idempotent
const schema = `
CREATE TABLE IF NOT EXISTS threads (
	id            TEXT PRIMARY KEY,
	username      TEXT NOT NULL DEFAULT '',
	text          TEXT NOT NULL DEFAULT '',
	media_type    TEXT NOT NULL DEFAULT '',
	media_url     TEXT NOT NULL DEFAULT '',
	timestamp     TIMESTAMP NOT NULL,
	location_name TEXT NOT NULL DEFAULT '',
	latitude      REAL,
	longitude     REAL,
	issue_id      TEXT,
	replied       INTEGER NOT NULL DEFAULT 0,
	raw           TEXT NOT NULL DEFAULT '',
	ingested_at   TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_threads_issue_id ON threads(issue_id);

CREATE TABLE IF NOT EXISTS issues (
	id            TEXT PRIMARY KEY,
	category      TEXT NOT NULL,
	type          TEXT NOT NULL,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	image_urls    TEXT NOT NULL DEFAULT '[]',
	location_name TEXT NOT NULL DEFAULT '',
	latitude      REAL,
	longitude     REAL,
	report_count  INTEGER NOT NULL DEFAULT 1,
	thread_ids    TEXT NOT NULL DEFAULT '[]',
	created_at    TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_issues_title ON issues(title);

-- Singleton counter backing sequential issue id allocation. The row is
-- created here so allocation can always UPDATE it under the transaction's
-- write lock.
CREATE TABLE IF NOT EXISTS issue_counter (
	id       INTEGER PRIMARY KEY CHECK (id = 1),
	last_seq INTEGER NOT NULL DEFAULT 0
);

INSERT OR IGNORE INTO issue_counter (id, last_seq) VALUES (1, 0);
`
