package graphstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/model"
)

// CreateProject atomically writes the project node, its entities, and its
// relationships. If any step fails nothing is visible afterwards.
// Denormalized counts are computed inside the same transaction.
func (s *Store) CreateProject(ctx context.Context, project model.Project, entities []model.Entity, rels []model.Relationship) (int, error) {
	if err := checkDuplicateIDs(entities); err != nil {
		return 0, err
	}

	dropped := 0
	err := s.withRetry(ctx, "create_project", func(ctx context.Context) error {
		dropped = 0
		return s.inTransaction(ctx, func(tx *sql.Tx) error {
			now := nowUTC()
			status := project.Status
			if status == "" {
				status = model.ProjectActive
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO projects (id, name, owner_id, status, created_at, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)`,
				project.ID, project.Name, project.OwnerID, status, now, now); err != nil {
				return classify("insert project", err)
			}
			if err := insertEntities(ctx, tx, project.ID, entities); err != nil {
				return err
			}
			n, err := insertRelationships(ctx, tx, project.ID, rels)
			if err != nil {
				return err
			}
			dropped = n
			return refreshCounts(ctx, tx, project.ID)
		})
	})
	return dropped, err
}

// GetProject returns the project row; missing or deleted projects yield a
// not-found error.
func (s *Store) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	var project *model.Project
	err := s.withRetry(ctx, "get_project", func(ctx context.Context) error {
		p, err := scanProject(s.db.QueryRowContext(ctx, `
			SELECT id, name, owner_id, status, file_count, entity_count, created_at
			FROM projects WHERE id = ?`, projectID))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.Newf(apperr.CodeProjectNotFound, "project not found: %s", projectID)
			}
			return classify("get project", err)
		}
		if p.Status == model.ProjectDeleted {
			return apperr.Newf(apperr.CodeProjectNotFound, "project not found: %s", projectID)
		}
		project = p
		return nil
	})
	return project, err
}

// ListProjects returns all active projects.
func (s *Store) ListProjects(ctx context.Context) ([]model.Project, error) {
	var projects []model.Project
	err := s.withRetry(ctx, "list_projects", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, name, owner_id, status, file_count, entity_count, created_at
			FROM projects WHERE status = ? ORDER BY created_at DESC`, model.ProjectActive)
		if err != nil {
			return classify("list projects", err)
		}
		defer rows.Close()

		projects = nil
		for rows.Next() {
			p, err := scanProject(rows)
			if err != nil {
				return classify("scan project", err)
			}
			projects = append(projects, *p)
		}
		return classify("list projects", rows.Err())
	})
	return projects, err
}

// UpdateProject replaces the entities of changed and deleted files. For
// every touched file path all project entities at that path are deleted,
// cascading their relationships, then the new entities and relationships
// are written. The whole update is one transaction.
func (s *Store) UpdateProject(ctx context.Context, projectID string, changed []model.ParseResult, deletedFiles []string) (int, error) {
	touched := map[string]bool{}
	for _, file := range deletedFiles {
		touched[file] = true
	}
	var newEntities []model.Entity
	var newRels []model.Relationship
	for _, result := range changed {
		touched[result.FilePath] = true
		newEntities = append(newEntities, result.Entities...)
		newRels = append(newRels, result.Relationships...)
	}
	if err := checkDuplicateIDs(newEntities); err != nil {
		return 0, err
	}

	dropped := 0
	err := s.withRetry(ctx, "update_project", func(ctx context.Context) error {
		dropped = 0
		return s.inTransaction(ctx, func(tx *sql.Tx) error {
			for file := range touched {
				if err := deleteFileEntities(ctx, tx, projectID, file); err != nil {
					return err
				}
			}
			if err := insertEntities(ctx, tx, projectID, newEntities); err != nil {
				return err
			}
			n, err := insertRelationships(ctx, tx, projectID, newRels)
			if err != nil {
				return err
			}
			dropped = n
			if _, err := tx.ExecContext(ctx,
				`UPDATE projects SET updated_at = ? WHERE id = ?`, nowUTC(), projectID); err != nil {
				return classify("touch project", err)
			}
			return refreshCounts(ctx, tx, projectID)
		})
	})
	return dropped, err
}

// DeleteProject cascades entities, relationships, and the project row.
func (s *Store) DeleteProject(ctx context.Context, projectID string) error {
	return s.withRetry(ctx, "delete_project", func(ctx context.Context) error {
		return s.inTransaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM relationships WHERE project_id = ?`, projectID); err != nil {
				return classify("delete relationships", err)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM entities WHERE project_id = ?`, projectID); err != nil {
				return classify("delete entities", err)
			}
			result, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, projectID)
			if err != nil {
				return classify("delete project", err)
			}
			if n, err := result.RowsAffected(); err == nil && n == 0 {
				return apperr.Newf(apperr.CodeProjectNotFound, "project not found: %s", projectID)
			}
			return nil
		})
	})
}

// deleteFileEntities removes all entities at one file path plus every edge
// touching them.
func deleteFileEntities(ctx context.Context, tx *sql.Tx, projectID, filePath string) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM entities WHERE project_id = ? AND file_path = ?`, projectID, filePath)
	if err != nil {
		return classify("load file entities", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return classify("scan entity id", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return classify("load file entities", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM relationships WHERE source_id IN (`+placeholders+`) OR target_id IN (`+placeholders+`)`,
		append(append([]any{}, args...), args...)...); err != nil {
		return classify("cascade relationships", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM entities WHERE id IN (`+placeholders+`)`, args...); err != nil {
		return classify("delete file entities", err)
	}
	return nil
}

// refreshCounts recomputes the denormalized project counters.
func refreshCounts(ctx context.Context, tx *sql.Tx, projectID string) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE projects SET
			file_count = (SELECT COUNT(*) FROM entities WHERE project_id = ? AND kind = 'file'),
			entity_count = (SELECT COUNT(*) FROM entities WHERE project_id = ?),
			relationship_count = (SELECT COUNT(*) FROM relationships WHERE project_id = ?)
		WHERE id = ?`,
		projectID, projectID, projectID, projectID)
	return classify("refresh project counts", err)
}

func scanProject(row rowScanner) (*model.Project, error) {
	var p model.Project
	var ownerID sql.NullString
	var createdAt string
	err := row.Scan(&p.ID, &p.Name, &ownerID, &p.Status, &p.FileCount, &p.EntityCount, &createdAt)
	if err != nil {
		return nil, err
	}
	p.OwnerID = ownerID.String
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}
