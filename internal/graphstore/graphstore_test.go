package graphstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/config"
	"github.com/codeatlas/atlas/internal/model"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StorageConfig{
		Backend:        "sqlite",
		Path:           filepath.Join(t.TempDir(), "graph.db"),
		QueryTimeoutMS: 5000,
	}
	s, err := Open(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntity(projectID, id, kind, name, filePath string, line int) model.Entity {
	return model.Entity{
		ID:        id,
		ProjectID: projectID,
		Kind:      model.EntityKind(kind),
		Name:      name,
		FilePath:  filePath,
		StartLine: line,
		EndLine:   line + 2,
		Language:  model.LangPython,
	}
}

func seedProject(t *testing.T, s *Store, projectID string, entities []model.Entity, rels []model.Relationship) {
	t.Helper()
	_, err := s.CreateProject(context.Background(),
		model.Project{ID: projectID, Name: projectID, OwnerID: "u1"}, entities, rels)
	require.NoError(t, err)
}

func TestCreateProjectAndCounts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entities := []model.Entity{
		testEntity("P", "P_file_m", "file", "m.py", "m.py", 1),
		testEntity("P", "P_func_a", "function", "a", "m.py", 1),
		testEntity("P", "P_func_b", "function", "b", "m.py", 5),
	}
	rels := []model.Relationship{
		{SourceID: "P_file_m", TargetID: "P_func_a", Kind: model.RelDefines},
		{SourceID: "P_file_m", TargetID: "P_func_b", Kind: model.RelDefines},
		{SourceID: "P_func_a", TargetID: "P_func_b", Kind: model.RelCalls},
	}
	seedProject(t, s, "P", entities, rels)

	p, err := s.GetProject(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 1, p.FileCount)
	assert.Equal(t, 3, p.EntityCount)
}

func TestCreateProjectRollsBackOnFailure(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entities := []model.Entity{
		testEntity("P", "P_func_a", "function", "a", "m.py", 1),
		testEntity("P", "P_func_a", "function", "a2", "m.py", 5),
	}
	_, err := s.CreateProject(ctx, model.Project{ID: "P", Name: "p"}, entities, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeDBQuery, apperr.CodeOf(err))

	_, err = s.GetProject(ctx, "P")
	assert.Equal(t, apperr.CodeProjectNotFound, apperr.CodeOf(err))
}

func TestCreateEntitiesRejectsDuplicateBatchIDs(t *testing.T) {
	s := openTestStore(t)
	seedProject(t, s, "P", nil, nil)

	err := s.CreateEntities(context.Background(), "P", []model.Entity{
		testEntity("P", "dup", "function", "a", "m.py", 1),
		testEntity("P", "dup", "function", "b", "m.py", 5),
	})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeDBQuery, apperr.CodeOf(err))
}

func TestFindCallersAndDependencies(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entities := []model.Entity{
		testEntity("P", "P_func_a", "function", "a", "m.py", 1),
		testEntity("P", "P_func_b", "function", "b", "m.py", 5),
		testEntity("P", "P_var_x", "variable", "x", "m.py", 9),
	}
	rels := []model.Relationship{
		{SourceID: "P_func_a", TargetID: "P_func_b", Kind: model.RelCalls},
		{SourceID: "P_func_a", TargetID: "P_var_x", Kind: model.RelUses},
	}
	seedProject(t, s, "P", entities, rels)

	callers, err := s.FindCallers(ctx, "P_func_b", "P")
	require.NoError(t, err)
	require.Len(t, callers, 1)
	assert.Equal(t, "P_func_a", callers[0].ID)

	deps, err := s.FindDependencies(ctx, "P_func_a", "P")
	require.NoError(t, err)
	require.Len(t, deps, 2)

	none, err := s.FindCallers(ctx, "P_func_a", "P")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCreateRelationshipsMergesExternalAndDrops(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entities := []model.Entity{
		testEntity("P", "P_file_m", "file", "m.py", "m.py", 1),
	}
	rels := []model.Relationship{
		{SourceID: "P_file_m", TargetID: "external:os", Kind: model.RelImports},
		{SourceID: "P_file_m", TargetID: "P_missing", Kind: model.RelDefines},
	}
	dropped, err := s.CreateProject(ctx, model.Project{ID: "P", Name: "p"}, entities, rels)
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)

	var name string
	err = s.DB().QueryRow(`SELECT name FROM external_modules WHERE id = ?`, "external:os").Scan(&name)
	require.NoError(t, err)
	assert.Equal(t, "os", name)
}

func TestImpactAnalysisWithCycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entities := []model.Entity{
		testEntity("P", "A", "function", "a", "m.py", 1),
		testEntity("P", "B", "function", "b", "m.py", 5),
		testEntity("P", "C", "function", "c", "m.py", 9),
	}
	rels := []model.Relationship{
		{SourceID: "A", TargetID: "B", Kind: model.RelCalls},
		{SourceID: "B", TargetID: "C", Kind: model.RelCalls},
		{SourceID: "C", TargetID: "A", Kind: model.RelCalls},
	}
	seedProject(t, s, "P", entities, rels)

	result, err := s.ImpactAnalysis(ctx, "A", "P", 5)
	require.NoError(t, err)

	depths := map[string]int{}
	for _, node := range result.Affected {
		depths[node.Entity.ID] = node.Depth
	}
	assert.Equal(t, map[string]int{"B": 1, "C": 2, "A": 3}, depths)
	assert.Equal(t, 3, result.TotalAffected)

	require.True(t, result.HasCycles)
	require.Len(t, result.CyclePaths, 1)
	cycle := result.CyclePaths[0]
	assert.GreaterOrEqual(t, len(cycle), 3)
	assert.Equal(t, cycle[0], cycle[len(cycle)-1])
	assert.Subset(t, cycle, []string{"A", "B", "C"})
}

func TestImpactAnalysisTruncatedAtMaxDepth(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entities := []model.Entity{
		testEntity("P", "A", "function", "a", "m.py", 1),
		testEntity("P", "B", "function", "b", "m.py", 5),
		testEntity("P", "C", "function", "c", "m.py", 9),
	}
	rels := []model.Relationship{
		{SourceID: "A", TargetID: "B", Kind: model.RelCalls},
		{SourceID: "B", TargetID: "C", Kind: model.RelCalls},
	}
	seedProject(t, s, "P", entities, rels)

	result, err := s.ImpactAnalysis(ctx, "A", "P", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalAffected)
	assert.True(t, result.Truncated)

	full, err := s.ImpactAnalysis(ctx, "A", "P", 5)
	require.NoError(t, err)
	assert.False(t, full.Truncated)
	assert.False(t, full.HasCycles)
}

func TestGetClassHierarchy(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entities := []model.Entity{
		testEntity("P", "Base", "class", "Base", "m.py", 1),
		testEntity("P", "Mid", "class", "Mid", "m.py", 5),
		testEntity("P", "Leaf", "class", "Leaf", "m.py", 9),
	}
	rels := []model.Relationship{
		{SourceID: "Mid", TargetID: "Base", Kind: model.RelExtends},
		{SourceID: "Leaf", TargetID: "Mid", Kind: model.RelExtends},
	}
	seedProject(t, s, "P", entities, rels)

	h, err := s.GetClassHierarchy(ctx, "Mid", "P")
	require.NoError(t, err)
	assert.Equal(t, "Mid", h.Root.ID)
	require.Len(t, h.Parents, 1)
	assert.Equal(t, "Base", h.Parents[0].ID)
	require.Len(t, h.Children, 1)
	assert.Equal(t, "Leaf", h.Children[0].ID)
}

func TestGetProjectGraphSymbolView(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entities := []model.Entity{
		testEntity("P", "P_file_m", "file", "m.py", "m.py", 1),
		testEntity("P", "P_func_a", "function", "a", "m.py", 1),
		testEntity("P", "P_func_b", "function", "b", "m.py", 5),
	}
	rels := []model.Relationship{
		{SourceID: "P_func_a", TargetID: "P_func_b", Kind: model.RelCalls},
		{SourceID: "P_file_m", TargetID: "external:os", Kind: model.RelImports},
	}
	seedProject(t, s, "P", entities, rels)

	filters := ResolveFilters(model.GraphFilters{ViewMode: model.ViewSymbol}, model.ViewFile, true, true, 500, 2000)
	view, err := s.GetProjectGraph(ctx, "P", filters)
	require.NoError(t, err)

	assert.Len(t, view.Nodes, 4) // three entities plus external:os
	assert.Len(t, view.Edges, 2)
	assert.False(t, view.Truncated)
	assert.Equal(t, 3, view.Coverage.EntitiesInProject)
	assert.Equal(t, 2, view.Coverage.RelationshipsInProject)
}

func TestGetProjectGraphFileViewAndTruncation(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entities := []model.Entity{
		testEntity("P", "F1", "file", "a.py", "a.py", 1),
		testEntity("P", "F2", "file", "b.py", "b.py", 1),
		testEntity("P", "P_func_a", "function", "a", "a.py", 1),
	}
	rels := []model.Relationship{
		{SourceID: "F1", TargetID: "F2", Kind: model.RelImports},
		{SourceID: "F1", TargetID: "P_func_a", Kind: model.RelDefines},
	}
	seedProject(t, s, "P", entities, rels)

	filters := ResolveFilters(model.GraphFilters{ViewMode: model.ViewFile}, model.ViewFile, true, true, 500, 2000)
	view, err := s.GetProjectGraph(ctx, "P", filters)
	require.NoError(t, err)
	assert.Len(t, view.Nodes, 2)
	require.Len(t, view.Edges, 1)
	assert.Equal(t, "IMPORTS", view.Edges[0].Type)

	small := ResolveFilters(model.GraphFilters{ViewMode: model.ViewFile, MaxNodes: 1}, model.ViewFile, true, true, 500, 2000)
	view, err = s.GetProjectGraph(ctx, "P", small)
	require.NoError(t, err)
	assert.Len(t, view.Nodes, 1)
	assert.True(t, view.Truncated)
	// Edges referencing cut nodes are dropped.
	assert.Empty(t, view.Edges)
}

func TestGetProjectGraphExcludesIsolated(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entities := []model.Entity{
		testEntity("P", "P_func_a", "function", "a", "m.py", 1),
		testEntity("P", "P_func_b", "function", "b", "m.py", 5),
		testEntity("P", "P_func_iso", "function", "iso", "m.py", 9),
	}
	rels := []model.Relationship{
		{SourceID: "P_func_a", TargetID: "P_func_b", Kind: model.RelCalls},
	}
	seedProject(t, s, "P", entities, rels)

	noIso := false
	filters := ResolveFilters(model.GraphFilters{ViewMode: model.ViewSymbol, IncludeIsolated: &noIso},
		model.ViewFile, true, true, 500, 2000)
	view, err := s.GetProjectGraph(ctx, "P", filters)
	require.NoError(t, err)
	assert.Len(t, view.Nodes, 2)
}

func TestUpdateProjectReplacesFileEntities(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entities := []model.Entity{
		testEntity("P", "F1", "file", "m.py", "m.py", 1),
		testEntity("P", "P_func_old", "function", "old", "m.py", 2),
	}
	rels := []model.Relationship{
		{SourceID: "F1", TargetID: "P_func_old", Kind: model.RelDefines},
	}
	seedProject(t, s, "P", entities, rels)

	changed := []model.ParseResult{{
		FilePath: "m.py",
		Entities: []model.Entity{
			testEntity("P", "F1b", "file", "m.py", "m.py", 1),
			testEntity("P", "P_func_new", "function", "new", "m.py", 2),
		},
		Relationships: []model.Relationship{
			{SourceID: "F1b", TargetID: "P_func_new", Kind: model.RelDefines},
		},
	}}
	_, err := s.UpdateProject(ctx, "P", changed, nil)
	require.NoError(t, err)

	_, err = s.GetEntity(ctx, "P_func_old", "P")
	assert.Equal(t, apperr.CodeEntityNotFound, apperr.CodeOf(err))

	e, err := s.GetEntity(ctx, "P_func_new", "P")
	require.NoError(t, err)
	assert.Equal(t, "new", e.Name)

	p, err := s.GetProject(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 2, p.EntityCount)
}

func TestDeleteProjectCascades(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entities := []model.Entity{testEntity("P", "P_func_a", "function", "a", "m.py", 1)}
	seedProject(t, s, "P", entities, nil)

	require.NoError(t, s.DeleteProject(ctx, "P"))

	_, err := s.GetProject(ctx, "P")
	assert.Equal(t, apperr.CodeProjectNotFound, apperr.CodeOf(err))
	_, err = s.GetEntity(ctx, "P_func_a", "P")
	assert.Equal(t, apperr.CodeEntityNotFound, apperr.CodeOf(err))

	err = s.DeleteProject(ctx, "P")
	assert.Equal(t, apperr.CodeProjectNotFound, apperr.CodeOf(err))
}

func TestEntityMetadataRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	entity := testEntity("P", "P_func_a", "function", "a", "m.py", 1)
	entity.Metadata = map[string]any{"original_name": "process", "is_overloaded": true}
	seedProject(t, s, "P", []model.Entity{entity}, nil)

	got, err := s.GetEntity(ctx, "P_func_a", "P")
	require.NoError(t, err)
	assert.Equal(t, "process", got.Metadata["original_name"])
	assert.Equal(t, true, got.Metadata["is_overloaded"])
}
