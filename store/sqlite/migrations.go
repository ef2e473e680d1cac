package sqlite

// Migration is one schema step. Versions apply in slice order and are
// recorded in usufruct_schema_migrations so reruns are no-ops.
type Migration struct {
	Name    string
	Version string
	SQL     string
}

// Migrations is the ordered schema for the Usufruct store (SQLite).
var Migrations = []Migration{
	{
		Name:    "create_usufruct_rights",
		Version: "20240101000001",
		SQL: `
CREATE TABLE IF NOT EXISTS usufruct_grants (
    id         TEXT NOT NULL,
    class      INTEGER NOT NULL,
    owner      TEXT NOT NULL,
    grantee    TEXT NOT NULL,
    amount     TEXT NOT NULL DEFAULT '0',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (class, owner, grantee)
);

CREATE INDEX IF NOT EXISTS idx_usufruct_grants_owner ON usufruct_grants (owner);
CREATE INDEX IF NOT EXISTS idx_usufruct_grants_grantee ON usufruct_grants (grantee);

CREATE TABLE IF NOT EXISTS usufruct_frozen (
    class  INTEGER NOT NULL,
    owner  TEXT NOT NULL,
    amount TEXT NOT NULL DEFAULT '0',
    PRIMARY KEY (class, owner)
);

CREATE TABLE IF NOT EXISTS usufruct_usage (
    class   INTEGER NOT NULL,
    grantee TEXT NOT NULL,
    amount  TEXT NOT NULL DEFAULT '0',
    PRIMARY KEY (class, grantee)
);
`,
	},
	{
		Name:    "create_usufruct_custody",
		Version: "20240101000002",
		SQL: `
CREATE TABLE IF NOT EXISTS usufruct_holdings (
    class  INTEGER NOT NULL,
    owner  TEXT NOT NULL,
    amount TEXT NOT NULL DEFAULT '0',
    PRIMARY KEY (class, owner)
);

CREATE TABLE IF NOT EXISTS usufruct_supplies (
    class  INTEGER PRIMARY KEY,
    amount TEXT NOT NULL DEFAULT '0'
);

CREATE TABLE IF NOT EXISTS usufruct_approvals (
    owner      TEXT NOT NULL,
    operator   TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now')),
    PRIMARY KEY (owner, operator)
);

CREATE TABLE IF NOT EXISTS usufruct_classes (
    class      INTEGER PRIMARY KEY,
    name       TEXT NOT NULL DEFAULT '',
    symbol     TEXT NOT NULL DEFAULT '',
    uri        TEXT NOT NULL DEFAULT '',
    metadata   TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`,
	},
	{
		Name:    "create_usufruct_journal",
		Version: "20240101000003",
		SQL: `
CREATE TABLE IF NOT EXISTS usufruct_journal (
    id        TEXT PRIMARY KEY,
    kind      TEXT NOT NULL DEFAULT '',
    class     INTEGER NOT NULL DEFAULT 0,
    from_addr TEXT NOT NULL DEFAULT '',
    to_addr   TEXT NOT NULL DEFAULT '',
    operator  TEXT NOT NULL DEFAULT '',
    amount    TEXT,
    note      TEXT NOT NULL DEFAULT '',
    at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_usufruct_journal_at ON usufruct_journal (at);
CREATE INDEX IF NOT EXISTS idx_usufruct_journal_kind ON usufruct_journal (kind, at);
CREATE INDEX IF NOT EXISTS idx_usufruct_journal_class ON usufruct_journal (class, at);
`,
	},
}
