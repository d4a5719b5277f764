package query

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/cache"
	"github.com/codeatlas/atlas/internal/config"
	"github.com/codeatlas/atlas/internal/embed"
	"github.com/codeatlas/atlas/internal/graphstore"
	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/vectorstore"
)

type fixedProvider struct {
	vector []float32
}

func (p *fixedProvider) Embed(ctx context.Context, text string, task embed.Task) ([]float32, error) {
	return p.vector, nil
}
func (p *fixedProvider) Dimensions() int { return len(p.vector) }
func (p *fixedProvider) Name() string    { return "fixed" }
func (p *fixedProvider) Close() error    { return nil }

type engineHarness struct {
	engine  *Engine
	graph   *graphstore.Store
	vectors *vectorstore.Store
	cache   *cache.Cache
}

func newEngineHarness(t *testing.T, queryVector []float32) *engineHarness {
	t.Helper()
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	graph, err := graphstore.Open(config.StorageConfig{
		Backend:        "sqlite",
		Path:           filepath.Join(dir, "graph.db"),
		QueryTimeoutMS: 5000,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { graph.Close() })

	vectors, err := vectorstore.Open(config.VectorConfig{
		Path:       filepath.Join(dir, "vectors.db"),
		Dimensions: 3,
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { vectors.Close() })

	results, err := cache.Open(filepath.Join(dir, "cache.db"), 300)
	require.NoError(t, err)
	t.Cleanup(func() { results.Close() })

	client := embed.NewClient(&fixedProvider{vector: queryVector}, 6000, logger)
	t.Cleanup(func() { client.Close() })

	cfg := config.QueryConfig{
		SearchTopK:          10,
		SimilarityThreshold: 0.1,
		ViewMode:            model.ViewSymbol,
		IncludeExternal:     true,
		IncludeIsolated:     true,
		MaxNodes:            100,
		MaxEdges:            200,
	}
	engine := New(graph, vectors, client, results, cfg, logger)
	return &engineHarness{engine: engine, graph: graph, vectors: vectors, cache: results}
}

func entity(projectID, id, kind, name string, line int) model.Entity {
	return model.Entity{
		ID:        id,
		ProjectID: projectID,
		Kind:      model.EntityKind(kind),
		Name:      name,
		FilePath:  "app/main.py",
		StartLine: line,
		EndLine:   line + 3,
		Language:  model.LangPython,
	}
}

func seedCallGraph(t *testing.T, h *engineHarness, projectID string) {
	t.Helper()
	entities := []model.Entity{
		entity(projectID, "e_main", "function", "main", 1),
		entity(projectID, "e_helper", "function", "helper", 10),
		entity(projectID, "e_util", "function", "util", 20),
	}
	rels := []model.Relationship{
		{SourceID: "e_main", TargetID: "e_helper", Kind: model.RelCalls},
		{SourceID: "e_helper", TargetID: "e_util", Kind: model.RelCalls},
	}
	_, err := h.graph.CreateProject(context.Background(),
		model.Project{ID: projectID, Name: "demo"}, entities, rels)
	require.NoError(t, err)
}

func TestFindCallersWithFingerprint(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})
	seedCallGraph(t, h, "P1")

	result, err := h.engine.FindCallers(context.Background(), "P1", "e_helper")
	require.NoError(t, err)
	require.Equal(t, 1, result.Count)
	assert.Equal(t, "e_main", result.Entities[0].ID)
	assert.Equal(t, cache.CallersKey("P1", "e_helper"), result.Metadata["fingerprint"])
}

func TestStructuralQueriesServeFromCache(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})
	seedCallGraph(t, h, "P1")
	ctx := context.Background()

	first, err := h.engine.FindDependencies(ctx, "P1", "e_main")
	require.NoError(t, err)
	require.Equal(t, 1, first.Count)

	// Remove the backing data; the cached result must still be served.
	require.NoError(t, h.graph.DeleteProject(ctx, "P1"))

	second, err := h.engine.FindDependencies(ctx, "P1", "e_main")
	require.NoError(t, err)
	assert.Equal(t, first.Entities, second.Entities)
}

func TestInvalidateProjectForcesRefetch(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})
	seedCallGraph(t, h, "P1")
	ctx := context.Background()

	_, err := h.engine.FindCallers(ctx, "P1", "e_helper")
	require.NoError(t, err)

	require.NoError(t, h.graph.DeleteProject(ctx, "P1"))
	h.engine.InvalidateProject("P1")

	refreshed, err := h.engine.FindCallers(ctx, "P1", "e_helper")
	require.NoError(t, err)
	assert.Zero(t, refreshed.Count)
}

func TestImpactAnalysisDefaultsDepth(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})
	seedCallGraph(t, h, "P1")

	result, err := h.engine.ImpactAnalysis(context.Background(), "P1", "e_main", 0)
	require.NoError(t, err)
	assert.Equal(t, defaultMaxDepth, result.MaxDepth)
	assert.Equal(t, 2, result.TotalAffected)
	assert.False(t, result.HasCycles)
}

func TestSemanticSearchRanksAndSnips(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})
	ctx := context.Background()

	near := entity("P1", "e_near", "function", "parse_config", 1)
	near.Signature = "def parse_config(path: str) -> dict"
	far := entity("P1", "e_far", "function", "render", 30)
	far.Body = "def render():\n    pass"
	_, err := h.graph.CreateProject(ctx, model.Project{ID: "P1", Name: "demo"},
		[]model.Entity{near, far}, nil)
	require.NoError(t, err)

	meta := func(e model.Entity) vectorstore.Metadata {
		return vectorstore.Metadata{
			Kind: string(e.Kind), FilePath: e.FilePath, Name: e.Name, ProjectID: "P1",
		}
	}
	require.NoError(t, h.vectors.BatchStore(ctx, []vectorstore.Entry{
		{EntityID: "e_near", Vector: []float32{0.9, 0.1, 0}, Metadata: meta(near)},
		{EntityID: "e_far", Vector: []float32{0.2, 0.9, 0.2}, Metadata: meta(far)},
	}))

	results, err := h.engine.SemanticSearch(ctx, "how is config parsed", []string{"P1"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "e_near", results[0].Entity.ID)
	assert.Greater(t, results[0].Similarity, results[1].Similarity)
	assert.Equal(t, "def parse_config(path: str) -> dict", results[0].Snippet)
	assert.Equal(t, "app/main.py", results[0].FilePath)
}

func TestSemanticSearchValidation(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})

	_, err := h.engine.SemanticSearch(context.Background(), "  ", []string{"P1"}, 5)
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))

	_, err = h.engine.SemanticSearch(context.Background(), "query", nil, 5)
	assert.Equal(t, apperr.CodeInvalidRequest, apperr.CodeOf(err))
}

func TestSemanticSearchSkipsOrphanedHits(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})
	ctx := context.Background()

	kept := entity("P1", "e_kept", "function", "kept", 1)
	_, err := h.graph.CreateProject(ctx, model.Project{ID: "P1", Name: "demo"},
		[]model.Entity{kept}, nil)
	require.NoError(t, err)

	meta := vectorstore.Metadata{Kind: "function", FilePath: "a.py", Name: "x", ProjectID: "P1"}
	require.NoError(t, h.vectors.BatchStore(ctx, []vectorstore.Entry{
		{EntityID: "e_kept", Vector: []float32{1, 0, 0}, Metadata: meta},
		{EntityID: "e_gone", Vector: []float32{0.9, 0.1, 0}, Metadata: meta},
	}))

	results, err := h.engine.SemanticSearch(ctx, "anything", []string{"P1"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "e_kept", results[0].Entity.ID)
}

func TestProjectGraphCachesPerFilters(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})
	seedCallGraph(t, h, "P1")
	ctx := context.Background()

	symbolView, err := h.engine.ProjectGraph(ctx, "P1", model.GraphFilters{})
	require.NoError(t, err)
	assert.Equal(t, model.ViewSymbol, symbolView.ViewMode)
	assert.Len(t, symbolView.Nodes, 3)

	fileView, err := h.engine.ProjectGraph(ctx, "P1", model.GraphFilters{ViewMode: model.ViewFile})
	require.NoError(t, err)
	assert.Equal(t, model.ViewFile, fileView.ViewMode)
	assert.NotEqual(t, len(symbolView.Nodes), len(fileView.Nodes))

	// Same filters hit the cache even after the project is gone.
	require.NoError(t, h.graph.DeleteProject(ctx, "P1"))
	again, err := h.engine.ProjectGraph(ctx, "P1", model.GraphFilters{})
	require.NoError(t, err)
	assert.Len(t, again.Nodes, 3)
}

func TestSnippet(t *testing.T) {
	withSig := model.Entity{Kind: model.KindFunction, Name: "f",
		Signature: "def f(x)", Body: "def f(x):\n    return x"}
	assert.Equal(t, "def f(x)", Snippet(withSig))

	bodyOnly := model.Entity{Kind: model.KindFunction, Name: "f", Body: "def f(): pass"}
	assert.Equal(t, "def f(): pass", Snippet(bodyOnly))

	bare := model.Entity{Kind: model.KindClass, Name: "Widget"}
	assert.Equal(t, "class: Widget", Snippet(bare))

	long := model.Entity{Kind: model.KindFunction, Name: "f",
		Signature: strings.Repeat("a", 250)}
	got := Snippet(long)
	assert.Len(t, got, snippetLimit+3)
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestProjectHotspots(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})
	seedCallGraph(t, h, "P1")
	ctx := context.Background()

	report, err := h.engine.ProjectHotspots(ctx, "P1", 10)
	require.NoError(t, err)
	require.NotEmpty(t, report.Hotspots)
	assert.Equal(t, "P1", report.ProjectID)
	assert.Equal(t, 3, report.Stats.NodeCount)
	assert.Equal(t, 2, report.Stats.EdgeCount)

	// e_util sits at the end of the chain and accumulates rank.
	assert.Equal(t, "e_util", report.Hotspots[0].EntityID)
	assert.Equal(t, "util", report.Hotspots[0].Name)

	// Served from cache after the backing data is gone.
	require.NoError(t, h.graph.DeleteProject(ctx, "P1"))
	cached, err := h.engine.ProjectHotspots(ctx, "P1", 10)
	require.NoError(t, err)
	assert.Equal(t, report.Hotspots[0].EntityID, cached.Hotspots[0].EntityID)
}

func TestProjectHotspotsUnknownProject(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})

	_, err := h.engine.ProjectHotspots(context.Background(), "nope", 10)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeProjectNotFound, apperr.CodeOf(err))
}

func seedEmbeddings(t *testing.T, h *engineHarness, projectID string) {
	t.Helper()
	entries := []vectorstore.Entry{
		{EntityID: "e_main", Vector: []float32{1, 0, 0},
			Metadata: vectorstore.Metadata{Kind: "function", FilePath: "app/main.py", Name: "main", ProjectID: projectID}},
		{EntityID: "e_helper", Vector: []float32{0.9, 0.1, 0},
			Metadata: vectorstore.Metadata{Kind: "function", FilePath: "app/main.py", Name: "helper", ProjectID: projectID}},
		{EntityID: "e_util", Vector: []float32{0, 1, 0},
			Metadata: vectorstore.Metadata{Kind: "function", FilePath: "app/main.py", Name: "util", ProjectID: projectID}},
	}
	require.NoError(t, h.vectors.BatchStore(context.Background(), entries))
}

func TestFindSimilar(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})
	seedCallGraph(t, h, "P1")
	seedEmbeddings(t, h, "P1")

	results, err := h.engine.FindSimilar(context.Background(), "P1", "e_main", 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "e_helper", results[0].Entity.ID)
	for _, result := range results {
		assert.NotEqual(t, "e_main", result.Entity.ID)
		assert.NotEmpty(t, result.Snippet)
	}
}

func TestFindSimilarUnknownEntity(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})
	seedCallGraph(t, h, "P1")

	_, err := h.engine.FindSimilar(context.Background(), "P1", "ghost", 3)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeEntityNotFound, apperr.CodeOf(err))
}

func TestCacheStats(t *testing.T) {
	h := newEngineHarness(t, []float32{1, 0, 0})
	seedCallGraph(t, h, "P1")
	ctx := context.Background()

	_, err := h.engine.FindCallers(ctx, "P1", "e_helper")
	require.NoError(t, err)
	_, err = h.engine.FindCallers(ctx, "P1", "e_helper")
	require.NoError(t, err)

	stats := h.engine.CacheStats()
	assert.True(t, stats.Connected)
	assert.GreaterOrEqual(t, stats.Hits, int64(1))
	assert.GreaterOrEqual(t, stats.Misses, int64(1))
}
