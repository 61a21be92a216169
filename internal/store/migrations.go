package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create sessions",
		SQL: `
			CREATE TABLE sessions (
				id          TEXT PRIMARY KEY,
				document    TEXT NOT NULL,
				search_text TEXT NOT NULL DEFAULT '',
				created_at  TEXT NOT NULL DEFAULT (datetime('now')),
				updated_at  TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_sessions_updated ON sessions (updated_at DESC);
		`,
	},
	{
		Version: 2,
		Name:    "create session search with FTS5",
		SQL: `
			CREATE VIRTUAL TABLE sessions_fts USING fts5(
				search_text,
				content='sessions',
				content_rowid='rowid'
			);

			CREATE TRIGGER sessions_ai AFTER INSERT ON sessions BEGIN
				INSERT INTO sessions_fts(rowid, search_text)
				VALUES (new.rowid, new.search_text);
			END;

			CREATE TRIGGER sessions_ad AFTER DELETE ON sessions BEGIN
				INSERT INTO sessions_fts(sessions_fts, rowid, search_text)
				VALUES ('delete', old.rowid, old.search_text);
			END;

			CREATE TRIGGER sessions_au AFTER UPDATE ON sessions BEGIN
				INSERT INTO sessions_fts(sessions_fts, rowid, search_text)
				VALUES ('delete', old.rowid, old.search_text);
				INSERT INTO sessions_fts(rowid, search_text)
				VALUES (new.rowid, new.search_text);
			END;
		`,
	},
}
