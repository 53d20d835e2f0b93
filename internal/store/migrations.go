package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS credentials (
	user_id             TEXT PRIMARY KEY,
	email_address       TEXT NOT NULL DEFAULT '',
	access_token        TEXT NOT NULL DEFAULT '',
	access_token_expiry DATETIME,
	refresh_token       TEXT NOT NULL DEFAULT '',
	needs_reauth        INTEGER NOT NULL DEFAULT 0 CHECK(needs_reauth IN (0, 1)),
	history_cursor      TEXT NOT NULL DEFAULT '',
	updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS invites (
	id                 TEXT PRIMARY KEY,
	owner_user_id      TEXT NOT NULL,
	thread_id          TEXT NOT NULL UNIQUE,
	primary_message_id TEXT NOT NULL UNIQUE,
	subject            TEXT NOT NULL DEFAULT '',
	payload            TEXT NOT NULL DEFAULT '{}',
	shared_user_ids    TEXT NOT NULL DEFAULT '[]',
	status             TEXT NOT NULL DEFAULT 'pending'
		CHECK(status IN ('pending', 'approved', 'declined')),
	notes              TEXT NOT NULL DEFAULT '',
	confidence         TEXT NOT NULL DEFAULT '{}',
	created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_invites_owner ON invites(owner_user_id);
CREATE INDEX IF NOT EXISTS idx_invites_status ON invites(status);

CREATE TABLE IF NOT EXISTS digests (
	id             TEXT PRIMARY KEY,
	user_id        TEXT NOT NULL,
	sent_at        DATETIME NOT NULL,
	items          TEXT NOT NULL DEFAULT '[]',
	letter_mapping TEXT NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_digests_user_sent ON digests(user_id, sent_at);

CREATE TABLE IF NOT EXISTS decisions (
	user_id    TEXT NOT NULL,
	invite_id  TEXT NOT NULL,
	decision   TEXT NOT NULL CHECK(decision IN ('yes', 'no', 'maybe')),
	notes      TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	decided_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, invite_id)
);

CREATE TABLE IF NOT EXISTS partner_links (
	user_id       TEXT PRIMARY KEY,
	partner_id    TEXT NOT NULL,
	partner_email TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS notifications (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	kind       TEXT NOT NULL,
	message    TEXT NOT NULL,
	read       INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
}
