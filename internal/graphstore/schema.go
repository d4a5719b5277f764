package graphstore

// schemaSQL defines the graph schema. Entities and relationships are typed
// rows; denormalized counts live on the project row.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    owner_id TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    file_count INTEGER NOT NULL DEFAULT 0,
    entity_count INTEGER NOT NULL DEFAULT 0,
    relationship_count INTEGER NOT NULL DEFAULT 0,
    created_at TEXT NOT NULL,
    updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    name TEXT NOT NULL,
    file_path TEXT NOT NULL,
    start_line INTEGER NOT NULL,
    end_line INTEGER NOT NULL,
    signature TEXT,
    docstring TEXT,
    body TEXT,
    language TEXT,
    metadata TEXT,
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS relationships (
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL,
    kind TEXT NOT NULL,
    project_id TEXT NOT NULL,
    metadata TEXT,
    created_at TEXT NOT NULL,
    PRIMARY KEY (source_id, target_id, kind)
);

CREATE TABLE IF NOT EXISTS external_modules (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at TEXT NOT NULL
);
`

// indexSQL statements run one at a time so a single failure stays non-fatal.
var indexSQL = []string{
	`CREATE INDEX IF NOT EXISTS idx_entities_project ON entities(project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_project_kind ON entities(project_id, kind)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_name_kind ON entities(name, kind)`,
	`CREATE INDEX IF NOT EXISTS idx_entities_file ON entities(file_path)`,
	`CREATE INDEX IF NOT EXISTS idx_rel_source ON relationships(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rel_target ON relationships(target_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rel_project ON relationships(project_id)`,
	`CREATE INDEX IF NOT EXISTS idx_rel_kind ON relationships(kind)`,
}
