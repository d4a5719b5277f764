package graphstore

import (
	"context"
	"database/sql"
	"strings"

	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/model"
)

// CreateRelationships inserts a batch of edges. IMPORTS targets with the
// external prefix are merged as ExternalModule nodes; for every other kind
// both endpoints must already exist or the edge is dropped and counted.
// Returns the number of dropped edges.
func (s *Store) CreateRelationships(ctx context.Context, projectID string, rels []model.Relationship) (int, error) {
	if len(rels) == 0 {
		return 0, nil
	}

	dropped := 0
	err := s.withRetry(ctx, "create_relationships", func(ctx context.Context) error {
		dropped = 0
		return s.inTransaction(ctx, func(tx *sql.Tx) error {
			n, err := insertRelationships(ctx, tx, projectID, rels)
			dropped = n
			return err
		})
	})
	if err != nil {
		return 0, err
	}
	if dropped > 0 {
		s.logger.Warn("dropped relationships with missing endpoints",
			zap.String("project_id", projectID), zap.Int("dropped", dropped))
	}
	return dropped, nil
}

// ListRelationships returns every edge in a project.
func (s *Store) ListRelationships(ctx context.Context, projectID string) ([]model.Relationship, error) {
	var rels []model.Relationship
	err := s.withRetry(ctx, "list_relationships", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT source_id, target_id, kind FROM relationships
			WHERE project_id = ?
			ORDER BY source_id, target_id, kind`, projectID)
		if err != nil {
			return classify("list relationships", err)
		}
		defer rows.Close()

		rels = rels[:0]
		for rows.Next() {
			var rel model.Relationship
			var kind string
			if err := rows.Scan(&rel.SourceID, &rel.TargetID, &kind); err != nil {
				return classify("scan relationship", err)
			}
			rel.Kind = model.RelationshipKind(kind)
			rels = append(rels, rel)
		}
		return classify("list relationships", rows.Err())
	})
	return rels, err
}

func insertRelationships(ctx context.Context, tx *sql.Tx, projectID string, rels []model.Relationship) (int, error) {
	existing, err := endpointSet(ctx, tx, rels)
	if err != nil {
		return 0, classify("load relationship endpoints", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO relationships (source_id, target_id, kind, project_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, classify("prepare relationship insert", err)
	}
	defer stmt.Close()

	mergeExternal, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO external_modules (id, name, created_at) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, classify("prepare external merge", err)
	}
	defer mergeExternal.Close()

	now := nowUTC()
	dropped := 0
	for _, rel := range rels {
		external := strings.HasPrefix(rel.TargetID, model.ExternalPrefix)
		if external {
			if _, err := mergeExternal.ExecContext(ctx, rel.TargetID, externalModuleName(rel.TargetID), now); err != nil {
				return 0, classify("merge external module", err)
			}
		}
		if !existing[rel.SourceID] || (!external && !existing[rel.TargetID]) {
			dropped++
			continue
		}
		metadata, err := marshalMetadata(rel.Metadata)
		if err != nil {
			return 0, classify("encode relationship metadata", err)
		}
		if _, err := stmt.ExecContext(ctx,
			rel.SourceID, rel.TargetID, string(rel.Kind), projectID, metadata, now); err != nil {
			return 0, classify("insert relationship", err)
		}
	}
	return dropped, nil
}

// endpointSet loads which of the referenced entity ids exist.
func endpointSet(ctx context.Context, tx *sql.Tx, rels []model.Relationship) (map[string]bool, error) {
	ids := map[string]bool{}
	for _, rel := range rels {
		ids[rel.SourceID] = false
		if !strings.HasPrefix(rel.TargetID, model.ExternalPrefix) {
			ids[rel.TargetID] = false
		}
	}

	// Probe in chunks to stay under parameter limits.
	var pending []string
	for id := range ids {
		pending = append(pending, id)
	}
	const chunkSize = 500
	for start := 0; start < len(pending); start += chunkSize {
		end := start + chunkSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := pending[start:end]

		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(chunk)), ",")
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}
		rows, err := tx.QueryContext(ctx, `SELECT id FROM entities WHERE id IN (`+placeholders+`)`, args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, err
			}
			ids[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return ids, nil
}
