package graphstore

import (
	"context"
	"database/sql"
	"errors"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/model"
)

// FindCallers returns the entities with an outgoing CALLS edge into the
// given entity, restricted to the same project. Empty when none.
func (s *Store) FindCallers(ctx context.Context, entityID, projectID string) ([]model.Entity, error) {
	var out []model.Entity
	err := s.withRetry(ctx, "find_callers", func(ctx context.Context) error {
		entities, err := queryEntities(ctx, s.db, `
			SELECT `+entityColumns+` FROM entities
			WHERE project_id = ? AND id IN (
				SELECT source_id FROM relationships
				WHERE target_id = ? AND kind = ? AND project_id = ?)
			ORDER BY file_path, start_line`,
			projectID, entityID, string(model.RelCalls), projectID)
		if err != nil {
			return classify("find callers", err)
		}
		out = entities
		return nil
	})
	return out, err
}

// FindDependencies returns entities reachable through one outgoing CALLS or
// USES edge, same-project.
func (s *Store) FindDependencies(ctx context.Context, entityID, projectID string) ([]model.Entity, error) {
	var out []model.Entity
	err := s.withRetry(ctx, "find_dependencies", func(ctx context.Context) error {
		entities, err := queryEntities(ctx, s.db, `
			SELECT `+entityColumns+` FROM entities
			WHERE project_id = ? AND id IN (
				SELECT target_id FROM relationships
				WHERE source_id = ? AND kind IN (?, ?) AND project_id = ?)
			ORDER BY file_path, start_line`,
			projectID, entityID, string(model.RelCalls), string(model.RelUses), projectID)
		if err != nil {
			return classify("find dependencies", err)
		}
		out = entities
		return nil
	})
	return out, err
}

// GetClassHierarchy returns the class itself, its parents via outgoing
// EXTENDS or IMPLEMENTS edges, and its children via incoming ones.
func (s *Store) GetClassHierarchy(ctx context.Context, classID, projectID string) (*model.ClassHierarchy, error) {
	root, err := s.GetEntity(ctx, classID, projectID)
	if err != nil {
		return nil, err
	}

	var hierarchy *model.ClassHierarchy
	err = s.withRetry(ctx, "get_class_hierarchy", func(ctx context.Context) error {
		parents, err := queryEntities(ctx, s.db, `
			SELECT `+entityColumns+` FROM entities
			WHERE id IN (
				SELECT target_id FROM relationships
				WHERE source_id = ? AND kind IN (?, ?))
			ORDER BY name`,
			classID, string(model.RelExtends), string(model.RelImplements))
		if err != nil {
			return classify("hierarchy parents", err)
		}
		children, err := queryEntities(ctx, s.db, `
			SELECT `+entityColumns+` FROM entities
			WHERE id IN (
				SELECT source_id FROM relationships
				WHERE target_id = ? AND kind IN (?, ?))
			ORDER BY name`,
			classID, string(model.RelExtends), string(model.RelImplements))
		if err != nil {
			return classify("hierarchy children", err)
		}
		hierarchy = &model.ClassHierarchy{Root: *root, Parents: parents, Children: children}
		return nil
	})
	return hierarchy, err
}

// ImpactAnalysis returns all distinct descendants reachable through 1 to
// maxDepth CALLS edges, each annotated with its first-visit depth and path.
// A repeated node in the current path marks a cycle; the reported cycle is
// the subsequence from the first occurrence to the current node. The result
// is truncated when any returned path hits maxDepth.
func (s *Store) ImpactAnalysis(ctx context.Context, entityID, projectID string, maxDepth int) (*model.ImpactResult, error) {
	target, err := s.GetEntity(ctx, entityID, projectID)
	if err != nil {
		return nil, err
	}

	adjacency, entitiesByID, err := s.loadCallGraph(ctx, projectID)
	if err != nil {
		return nil, err
	}

	result := &model.ImpactResult{Target: *target, MaxDepth: maxDepth}
	seen := map[string]bool{}
	cycleSeen := map[string]bool{}

	record := func(next string, depth int, path []string) {
		if seen[next] {
			return
		}
		seen[next] = true
		entity, ok := entitiesByID[next]
		if !ok {
			return
		}
		result.Affected = append(result.Affected, model.DependencyNode{
			Entity: entity,
			Depth:  depth,
			Path:   path,
		})
		if depth == maxDepth {
			result.Truncated = true
		}
	}

	var walk func(id string, depth int, path []string)
	walk = func(id string, depth int, path []string) {
		if depth >= maxDepth {
			return
		}
		for _, next := range adjacency[id] {
			nextPath := append(append([]string{}, path...), next)
			if idx := indexOf(path, next); idx >= 0 {
				// Cycle: report the subsequence from the first repeat to
				// the current node; the node still counts as affected but
				// the walk does not continue through it.
				cycle := append(append([]string{}, path[idx:]...), next)
				if key := cycleKey(cycle); !cycleSeen[key] {
					cycleSeen[key] = true
					result.HasCycles = true
					result.CyclePaths = append(result.CyclePaths, cycle)
				}
				record(next, depth+1, nextPath)
				continue
			}
			record(next, depth+1, nextPath)
			walk(next, depth+1, nextPath)
		}
	}
	walk(entityID, 0, []string{entityID})

	result.TotalAffected = len(result.Affected)
	return result, nil
}

// loadCallGraph reads the project's CALLS adjacency and the entities it
// touches in one pass.
func (s *Store) loadCallGraph(ctx context.Context, projectID string) (map[string][]string, map[string]model.Entity, error) {
	adjacency := map[string][]string{}
	err := s.withRetry(ctx, "load_call_graph", func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT source_id, target_id FROM relationships
			WHERE project_id = ? AND kind = ?
			ORDER BY source_id, target_id`,
			projectID, string(model.RelCalls))
		if err != nil {
			return classify("load call graph", err)
		}
		defer rows.Close()

		adjacency = map[string][]string{}
		for rows.Next() {
			var source, targetID string
			if err := rows.Scan(&source, &targetID); err != nil {
				return classify("scan call edge", err)
			}
			adjacency[source] = append(adjacency[source], targetID)
		}
		return classify("load call graph", rows.Err())
	})
	if err != nil {
		return nil, nil, err
	}

	entitiesByID := map[string]model.Entity{}
	err = s.withRetry(ctx, "load_call_graph_entities", func(ctx context.Context) error {
		entities, err := queryEntities(ctx, s.db, `
			SELECT `+entityColumns+` FROM entities WHERE project_id = ?`, projectID)
		if err != nil {
			return classify("load project entities", err)
		}
		entitiesByID = make(map[string]model.Entity, len(entities))
		for _, e := range entities {
			entitiesByID[e.ID] = e
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return adjacency, entitiesByID, nil
}

// EntityExists reports whether the id is present in the project.
func (s *Store) EntityExists(ctx context.Context, entityID, projectID string) (bool, error) {
	_, err := s.GetEntity(ctx, entityID, projectID)
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Code == apperr.CodeEntityNotFound {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CountEntities returns the number of entities in a project, optionally
// filtered by kind.
func (s *Store) CountEntities(ctx context.Context, projectID string, kind model.EntityKind) (int, error) {
	count := 0
	err := s.withRetry(ctx, "count_entities", func(ctx context.Context) error {
		var row *sql.Row
		if kind == "" {
			row = s.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM entities WHERE project_id = ?`, projectID)
		} else {
			row = s.db.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM entities WHERE project_id = ? AND kind = ?`, projectID, string(kind))
		}
		return classify("count entities", row.Scan(&count))
	})
	return count, err
}

func indexOf(path []string, id string) int {
	for i, p := range path {
		if p == id {
			return i
		}
	}
	return -1
}

func cycleKey(cycle []string) string {
	key := ""
	for _, id := range cycle {
		key += id + "\x00"
	}
	return key
}
