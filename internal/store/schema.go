package store

// schemaVersion is the schema this build writes.
const schemaVersion = 1

var schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);

CREATE TABLE IF NOT EXISTS projects (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	source_path TEXT NOT NULL,
	output_dir  TEXT NOT NULL,
	scales      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	cores       INTEGER NOT NULL,
	status      TEXT NOT NULL,
	message     TEXT,
	width       INTEGER NOT NULL DEFAULT 0,
	height      INTEGER NOT NULL DEFAULT 0,
	started_at  TEXT,
	finished_at TEXT
);

CREATE TABLE IF NOT EXISTS layers (
	seq                INTEGER PRIMARY KEY AUTOINCREMENT,
	id                 TEXT NOT NULL UNIQUE,
	project_id         TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	parent_id          TEXT,
	source_resource_id TEXT,
	name               TEXT NOT NULL,
	kind               TEXT NOT NULL,
	x                  INTEGER NOT NULL,
	y                  INTEGER NOT NULL,
	width              INTEGER NOT NULL CHECK (width > 0),
	height             INTEGER NOT NULL CHECK (height > 0),
	content            TEXT,
	image_path         TEXT,
	hidden             INTEGER NOT NULL DEFAULT 0,
	metadata           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_layers_project ON layers(project_id);
`
