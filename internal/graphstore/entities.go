package graphstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/model"
)

const entityColumns = `id, project_id, kind, name, file_path, start_line, end_line,
	signature, docstring, body, language, metadata, created_at`

// CreateEntities inserts a batch of entities with pre-assigned ids.
// Duplicate ids within the batch are rejected with a query error before
// anything is written.
func (s *Store) CreateEntities(ctx context.Context, projectID string, entities []model.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	if err := checkDuplicateIDs(entities); err != nil {
		return err
	}

	return s.withRetry(ctx, "create_entities", func(ctx context.Context) error {
		return s.inTransaction(ctx, func(tx *sql.Tx) error {
			return insertEntities(ctx, tx, projectID, entities)
		})
	})
}

func checkDuplicateIDs(entities []model.Entity) error {
	seen := make(map[string]bool, len(entities))
	for _, e := range entities {
		if seen[e.ID] {
			return apperr.Newf(apperr.CodeDBQuery, "duplicate entity id in batch: %s", e.ID)
		}
		seen[e.ID] = true
	}
	return nil
}

func insertEntities(ctx context.Context, tx *sql.Tx, projectID string, entities []model.Entity) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entities (`+entityColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return classify("prepare entity insert", err)
	}
	defer stmt.Close()

	now := nowUTC()
	for _, e := range entities {
		pid := e.ProjectID
		if pid == "" {
			pid = projectID
		}
		metadata, err := marshalMetadata(e.Metadata)
		if err != nil {
			return classify("encode entity metadata", err)
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID, pid, string(e.Kind), e.Name, e.FilePath, e.StartLine, e.EndLine,
			e.Signature, e.Docstring, e.Body, string(e.Language), metadata, now); err != nil {
			return classify("insert entity "+e.ID, err)
		}
	}
	return nil
}

// GetEntity retrieves an entity by id within a project.
func (s *Store) GetEntity(ctx context.Context, entityID, projectID string) (*model.Entity, error) {
	var entity *model.Entity
	err := s.withRetry(ctx, "get_entity", func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx, `
			SELECT `+entityColumns+` FROM entities WHERE id = ? AND project_id = ?`,
			entityID, projectID)
		e, err := scanEntity(row)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.Newf(apperr.CodeEntityNotFound, "entity not found: %s", entityID)
			}
			return classify("get entity", err)
		}
		entity = e
		return nil
	})
	return entity, err
}

// ListEntities returns every entity in a project, ordered by file and
// position for deterministic output.
func (s *Store) ListEntities(ctx context.Context, projectID string) ([]model.Entity, error) {
	var entities []model.Entity
	err := s.withRetry(ctx, "list_entities", func(ctx context.Context) error {
		out, err := queryEntities(ctx, s.db, `
			SELECT `+entityColumns+` FROM entities
			WHERE project_id = ?
			ORDER BY file_path, start_line, id`, projectID)
		if err != nil {
			return classify("list entities", err)
		}
		entities = out
		return nil
	})
	return entities, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntity(row rowScanner) (*model.Entity, error) {
	var e model.Entity
	var kind, language string
	var signature, docstring, body, metadata sql.NullString
	var createdAt string

	err := row.Scan(&e.ID, &e.ProjectID, &kind, &e.Name, &e.FilePath,
		&e.StartLine, &e.EndLine, &signature, &docstring, &body, &language,
		&metadata, &createdAt)
	if err != nil {
		return nil, err
	}

	e.Kind = model.EntityKind(kind)
	e.Language = model.Language(language)
	e.Signature = signature.String
	e.Docstring = docstring.String
	e.Body = body.String
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

func queryEntities(ctx context.Context, db *sql.DB, query string, args ...any) ([]model.Entity, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func marshalMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(metadata)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// externalModuleName derives the display name of an external module from
// its prefixed id.
func externalModuleName(id string) string {
	return strings.TrimPrefix(id, model.ExternalPrefix)
}
