// Package vectorstore persists entity embeddings in per-project collections
// and answers similarity queries. Vectors are stored as little-endian
// float32 blobs in an embedded sqlite database; similarity is cosine.
package vectorstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/config"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS collections (
    name TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    created_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS embeddings (
    collection TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    vector BLOB NOT NULL,
    kind TEXT NOT NULL,
    file_path TEXT NOT NULL,
    name TEXT NOT NULL,
    project_id TEXT NOT NULL,
    PRIMARY KEY (collection, entity_id)
);

CREATE INDEX IF NOT EXISTS idx_embeddings_collection ON embeddings(collection);
`

// Metadata describes one stored embedding. All fields are required.
type Metadata struct {
	Kind      string `json:"entity_type"`
	FilePath  string `json:"file_path"`
	Name      string `json:"name"`
	ProjectID string `json:"project_id"`
}

// Entry is one embedding to upsert.
type Entry struct {
	EntityID string
	Vector   []float32
	Metadata Metadata
}

// Hit is one similarity match.
type Hit struct {
	EntityID   string
	Similarity float64
	Metadata   Metadata
}

// Store manages per-project embedding collections.
type Store struct {
	db         *sql.DB
	dimensions int
	logger     *zap.Logger
}

// Open opens or creates the vector database.
func Open(cfg config.VectorConfig, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnection, "create vector directory", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBConnection, "open vector database", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, apperr.Wrap(apperr.CodeDBQuery, "init vector schema", err)
	}
	return &Store{db: db, dimensions: cfg.Dimensions, logger: logger}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CollectionName returns the canonical collection name for a project.
func CollectionName(projectID string) string {
	return fmt.Sprintf("project_%s_embeddings", projectID)
}

// EnsureCollection idempotently creates the project's collection.
func (s *Store) EnsureCollection(ctx context.Context, projectID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO collections (name, project_id) VALUES (?, ?)`,
		CollectionName(projectID), projectID)
	if err != nil {
		return apperr.Wrap(apperr.CodeDBQuery, "ensure collection", err)
	}
	return nil
}

// StoreEmbedding upserts one vector. The metadata fields are all required;
// a missing field or a wrong-dimension vector is a validation error.
func (s *Store) StoreEmbedding(ctx context.Context, entityID string, vector []float32, metadata Metadata) error {
	return s.BatchStore(ctx, []Entry{{EntityID: entityID, Vector: vector, Metadata: metadata}})
}

// BatchStore groups entries by project and performs one collection-level
// upsert per project.
func (s *Store) BatchStore(ctx context.Context, entries []Entry) error {
	byProject := map[string][]Entry{}
	for _, entry := range entries {
		if err := s.validate(entry); err != nil {
			return err
		}
		byProject[entry.Metadata.ProjectID] = append(byProject[entry.Metadata.ProjectID], entry)
	}

	for projectID, group := range byProject {
		if err := s.EnsureCollection(ctx, projectID); err != nil {
			return err
		}
		if err := s.upsert(ctx, CollectionName(projectID), group); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) validate(entry Entry) error {
	m := entry.Metadata
	if m.Kind == "" || m.FilePath == "" || m.Name == "" || m.ProjectID == "" {
		return apperr.Newf(apperr.CodeInvalidRequest,
			"embedding metadata requires entity_type, file_path, name, project_id (entity %s)", entry.EntityID)
	}
	if s.dimensions > 0 && len(entry.Vector) != s.dimensions {
		return apperr.Newf(apperr.CodeInvalidRequest,
			"vector dimension %d does not match configured %d", len(entry.Vector), s.dimensions)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, collection string, entries []Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.CodeDBConnection, "begin vector upsert", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (collection, entity_id, vector, kind, file_path, name, project_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (collection, entity_id) DO UPDATE SET
			vector = excluded.vector, kind = excluded.kind,
			file_path = excluded.file_path, name = excluded.name`)
	if err != nil {
		tx.Rollback()
		return apperr.Wrap(apperr.CodeDBQuery, "prepare vector upsert", err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.ExecContext(ctx, collection, entry.EntityID, encodeVector(entry.Vector),
			entry.Metadata.Kind, entry.Metadata.FilePath, entry.Metadata.Name, entry.Metadata.ProjectID); err != nil {
			tx.Rollback()
			return apperr.Wrap(apperr.CodeDBQuery, "upsert embedding "+entry.EntityID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.CodeDBQuery, "commit vector upsert", err)
	}
	return nil
}

// SemanticSearch queries each project's collection, converts distance to
// similarity, filters by threshold, merges, sorts descending, and keeps the
// global topK.
func (s *Store) SemanticSearch(ctx context.Context, queryVector []float32, projectIDs []string, topK int, threshold float64) ([]Hit, error) {
	if s.dimensions > 0 && len(queryVector) != s.dimensions {
		return nil, apperr.Newf(apperr.CodeInvalidRequest,
			"query vector dimension %d does not match configured %d", len(queryVector), s.dimensions)
	}

	var merged []Hit
	for _, projectID := range projectIDs {
		hits, err := s.searchCollection(ctx, CollectionName(projectID), queryVector, threshold)
		if err != nil {
			return nil, err
		}
		merged = append(merged, hits...)
	}

	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Similarity > merged[j].Similarity })
	if topK > 0 && len(merged) > topK {
		merged = merged[:topK]
	}
	return merged, nil
}

// FindSimilar returns the topK entities closest to the given entity,
// excluding the entity itself.
func (s *Store) FindSimilar(ctx context.Context, entityID, projectID string, topK int) ([]Hit, error) {
	collection := CollectionName(projectID)
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT vector FROM embeddings WHERE collection = ? AND entity_id = ?`,
		collection, entityID).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.Newf(apperr.CodeEntityNotFound, "no embedding for entity: %s", entityID)
		}
		return nil, apperr.Wrap(apperr.CodeDBQuery, "load entity vector", err)
	}

	hits, err := s.searchCollection(ctx, collection, decodeVector(blob), 0)
	if err != nil {
		return nil, err
	}
	out := make([]Hit, 0, topK)
	for _, hit := range hits {
		if hit.EntityID == entityID {
			continue
		}
		out = append(out, hit)
		if topK > 0 && len(out) == topK {
			break
		}
	}
	return out, nil
}

// DeleteProject removes the project's whole collection. A missing
// collection is a no-op returning zero.
func (s *Store) DeleteProject(ctx context.Context, projectID string) (int, error) {
	collection := CollectionName(projectID)
	result, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE collection = ?`, collection)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeDBQuery, "delete embeddings", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, collection); err != nil {
		return 0, apperr.Wrap(apperr.CodeDBQuery, "delete collection", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(deleted), nil
}

// CountEmbeddings returns the number of vectors stored for a project.
func (s *Store) CountEmbeddings(ctx context.Context, projectID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings WHERE collection = ?`,
		CollectionName(projectID)).Scan(&count)
	if err != nil {
		return 0, apperr.Wrap(apperr.CodeDBQuery, "count embeddings", err)
	}
	return count, nil
}

func (s *Store) searchCollection(ctx context.Context, collection string, queryVector []float32, threshold float64) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, vector, kind, file_path, name, project_id
		FROM embeddings WHERE collection = ?`, collection)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeDBQuery, "query collection", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var hit Hit
		var blob []byte
		if err := rows.Scan(&hit.EntityID, &blob, &hit.Metadata.Kind,
			&hit.Metadata.FilePath, &hit.Metadata.Name, &hit.Metadata.ProjectID); err != nil {
			return nil, apperr.Wrap(apperr.CodeDBQuery, "scan embedding", err)
		}
		hit.Similarity = cosineSimilarity(queryVector, decodeVector(blob))
		if hit.Similarity < threshold {
			continue
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeDBQuery, "query collection", err)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	return hits, nil
}

// cosineSimilarity returns the cosine of the angle between two vectors,
// zero when either has no magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func encodeVector(v []float32) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(blob []byte) []float32 {
	out := make([]float32, len(blob)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return out
}
