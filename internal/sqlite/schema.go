package sqlite

// Schema DDL for all tables.
const (
	createDocuments = `CREATE TABLE documents (
    name TEXT PRIMARY KEY,
    document_id TEXT NOT NULL UNIQUE,
    created_at TEXT NOT NULL
);`

	createOwners = `CREATE TABLE owners (
    document TEXT NOT NULL,
    owner TEXT NOT NULL,
    finished INTEGER NOT NULL DEFAULT 0,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (document, owner),
    FOREIGN KEY (document) REFERENCES documents(name) ON DELETE CASCADE
);`

	createSegments = `CREATE TABLE segments (
    document TEXT NOT NULL,
    ordinal INTEGER NOT NULL,
    begin_offset INTEGER NOT NULL,
    end_offset INTEGER NOT NULL,
    PRIMARY KEY (document, ordinal),
    FOREIGN KEY (document) REFERENCES documents(name) ON DELETE CASCADE
);`

	createAnnotationSets = `CREATE TABLE annotation_sets (
    document TEXT NOT NULL,
    owner TEXT NOT NULL,
    revision TEXT NOT NULL,
    content TEXT NOT NULL,
    updated_at TEXT NOT NULL,
    PRIMARY KEY (document, owner),
    FOREIGN KEY (document) REFERENCES documents(name) ON DELETE CASCADE
);`
)

// Index DDL for common queries.
const (
	idxOwnersDocument   = `CREATE INDEX idx_owners_document ON owners(document);`
	idxSegmentsDocument = `CREATE INDEX idx_segments_document ON segments(document);`
)

// schemaDDL lists all CREATE TABLE statements in dependency order.
var schemaDDL = []string{
	createDocuments,
	createOwners,
	createSegments,
	createAnnotationSets,
}

// indexDDL lists all CREATE INDEX statements.
var indexDDL = []string{
	idxOwnersDocument,
	idxSegmentsDocument,
}
