// Package query is the read side of atlas. The engine fronts the graph
// and vector stores with a fingerprint-keyed result cache and returns
// typed results with timing metadata.
package query

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/cache"
	"github.com/codeatlas/atlas/internal/centrality"
	"github.com/codeatlas/atlas/internal/config"
	"github.com/codeatlas/atlas/internal/embed"
	"github.com/codeatlas/atlas/internal/graphstore"
	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/vectorstore"
)

const (
	snippetLimit       = 200
	defaultMaxDepth    = 5
	defaultHotspotTopN = 20
)

// Engine answers structural and semantic queries, consulting the cache
// before either store.
type Engine struct {
	graph    *graphstore.Store
	vectors  *vectorstore.Store
	embedder *embed.Client
	results  *cache.Cache
	cfg      config.QueryConfig
	logger   *zap.Logger
}

// New wires a query engine. The cache is optional.
func New(graph *graphstore.Store, vectors *vectorstore.Store, embedder *embed.Client,
	results *cache.Cache, cfg config.QueryConfig, logger *zap.Logger) *Engine {
	return &Engine{
		graph:    graph,
		vectors:  vectors,
		embedder: embedder,
		results:  results,
		cfg:      cfg,
		logger:   logger,
	}
}

// FindCallers returns the entities with CALLS edges into the function.
func (e *Engine) FindCallers(ctx context.Context, projectID, functionID string) (*model.QueryResult, error) {
	key := cache.CallersKey(projectID, functionID)
	return e.structural(ctx, key, func() ([]model.Entity, error) {
		return e.graph.FindCallers(ctx, functionID, projectID)
	})
}

// FindDependencies returns the entities the function calls or uses.
func (e *Engine) FindDependencies(ctx context.Context, projectID, functionID string) (*model.QueryResult, error) {
	key := cache.DependenciesKey(projectID, functionID)
	return e.structural(ctx, key, func() ([]model.Entity, error) {
		return e.graph.FindDependencies(ctx, functionID, projectID)
	})
}

// structural runs one cacheable graph lookup and wraps it in a
// QueryResult carrying the fingerprint and the elapsed time.
func (e *Engine) structural(ctx context.Context, key string, fetch func() ([]model.Entity, error)) (*model.QueryResult, error) {
	started := time.Now()

	var entities []model.Entity
	if hit := e.cacheGet(key, &entities); !hit {
		var err error
		entities, err = fetch()
		if err != nil {
			return nil, err
		}
		e.cacheSet(key, entities)
	}

	return &model.QueryResult{
		Entities:    entities,
		Count:       len(entities),
		QueryTimeMS: float64(time.Since(started).Microseconds()) / 1000,
		Metadata:    map[string]any{"fingerprint": key},
	}, nil
}

// ImpactAnalysis returns the transitive CALLS descendants of the entity
// up to maxDepth, with cycle reporting.
func (e *Engine) ImpactAnalysis(ctx context.Context, projectID, entityID string, maxDepth int) (*model.ImpactResult, error) {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}
	key := cache.ImpactKey(projectID, entityID, maxDepth)

	var cached model.ImpactResult
	if hit := e.cacheGet(key, &cached); hit {
		return &cached, nil
	}

	result, err := e.graph.ImpactAnalysis(ctx, entityID, projectID, maxDepth)
	if err != nil {
		return nil, err
	}
	e.cacheSet(key, result)
	return result, nil
}

// ListProjects returns the active projects.
func (e *Engine) ListProjects(ctx context.Context) ([]model.Project, error) {
	return e.graph.ListProjects(ctx)
}

// GetProject returns one project by id.
func (e *Engine) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	return e.graph.GetProject(ctx, projectID)
}

// ClassHierarchy returns the inheritance neighborhood of a class.
func (e *Engine) ClassHierarchy(ctx context.Context, projectID, classID string) (*model.ClassHierarchy, error) {
	return e.graph.GetClassHierarchy(ctx, classID, projectID)
}

// SemanticSearch embeds the query, searches the requested projects, and
// materializes each hit into a full entity with a display snippet.
func (e *Engine) SemanticSearch(ctx context.Context, queryText string, projectIDs []string, topK int) ([]model.SearchResult, error) {
	if strings.TrimSpace(queryText) == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, "query text is required")
	}
	if len(projectIDs) == 0 {
		return nil, apperr.New(apperr.CodeInvalidRequest, "at least one project id is required")
	}
	if topK <= 0 {
		topK = e.cfg.SearchTopK
	}

	key := cache.SearchKey(projectIDs, queryText)
	var cached []model.SearchResult
	if hit := e.cacheGet(key, &cached); hit {
		return cached, nil
	}

	vector, err := e.embedder.Generate(ctx, queryText, embed.TaskQuery, true)
	if err != nil {
		return nil, err
	}

	hits, err := e.vectors.SemanticSearch(ctx, vector, projectIDs, topK, e.cfg.SimilarityThreshold)
	if err != nil {
		return nil, err
	}

	results := make([]model.SearchResult, 0, len(hits))
	for _, hit := range hits {
		entity, err := e.graph.GetEntity(ctx, hit.EntityID, hit.Metadata.ProjectID)
		if err != nil {
			// The vector store can briefly hold entries for entities
			// removed from the graph.
			e.logger.Warn("search hit without graph entity",
				zap.String("entity_id", hit.EntityID), zap.Error(err))
			continue
		}
		results = append(results, model.SearchResult{
			Entity:     *entity,
			Similarity: hit.Similarity,
			FilePath:   entity.FilePath,
			Snippet:    Snippet(*entity),
		})
	}
	if len(results) > topK {
		results = results[:topK]
	}

	e.cacheSet(key, results)
	return results, nil
}

// FindSimilar returns the entities whose embeddings are closest to the
// given entity's, excluding the entity itself.
func (e *Engine) FindSimilar(ctx context.Context, projectID, entityID string, topK int) ([]model.SearchResult, error) {
	if entityID == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, "entity id is required")
	}
	if topK <= 0 {
		topK = e.cfg.SearchTopK
	}

	key := cache.SimilarKey(projectID, entityID, topK)
	var cached []model.SearchResult
	if hit := e.cacheGet(key, &cached); hit {
		return cached, nil
	}

	if _, err := e.graph.GetEntity(ctx, entityID, projectID); err != nil {
		return nil, err
	}

	hits, err := e.vectors.FindSimilar(ctx, entityID, projectID, topK)
	if err != nil {
		return nil, err
	}

	results := make([]model.SearchResult, 0, len(hits))
	for _, hit := range hits {
		entity, err := e.graph.GetEntity(ctx, hit.EntityID, projectID)
		if err != nil {
			e.logger.Warn("similar hit without graph entity",
				zap.String("entity_id", hit.EntityID), zap.Error(err))
			continue
		}
		results = append(results, model.SearchResult{
			Entity:     *entity,
			Similarity: hit.Similarity,
			FilePath:   entity.FilePath,
			Snippet:    Snippet(*entity),
		})
	}

	e.cacheSet(key, results)
	return results, nil
}

// CacheStats reports result-cache counters, or a zero value when the
// engine runs without a cache.
func (e *Engine) CacheStats() cache.Stats {
	if e.results == nil {
		return cache.Stats{}
	}
	return e.results.GetStats()
}

// ProjectGraph returns the visualization projection for a project,
// applying configured defaults to unset filters.
func (e *Engine) ProjectGraph(ctx context.Context, projectID string, filters model.GraphFilters) (*model.GraphView, error) {
	resolved := graphstore.ResolveFilters(filters,
		e.cfg.ViewMode, e.cfg.IncludeExternal, e.cfg.IncludeIsolated,
		e.cfg.MaxNodes, e.cfg.MaxEdges)

	key := cache.GraphKey(projectID, filterFingerprint(resolved))
	var cached model.GraphView
	if hit := e.cacheGet(key, &cached); hit {
		return &cached, nil
	}

	view, err := e.graph.GetProjectGraph(ctx, projectID, resolved)
	if err != nil {
		return nil, err
	}
	e.cacheSet(key, view)
	return view, nil
}

// ProjectHotspots ranks the project's entities by graph centrality.
func (e *Engine) ProjectHotspots(ctx context.Context, projectID string, topN int) (*centrality.Report, error) {
	if topN <= 0 {
		topN = defaultHotspotTopN
	}

	key := cache.HotspotsKey(projectID, topN)
	var cached centrality.Report
	if hit := e.cacheGet(key, &cached); hit {
		return &cached, nil
	}

	if _, err := e.graph.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	entities, err := e.graph.ListEntities(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rels, err := e.graph.ListRelationships(ctx, projectID)
	if err != nil {
		return nil, err
	}

	report := centrality.Analyze(projectID, entities, rels, topN)
	e.cacheSet(key, report)
	return report, nil
}

// InvalidateProject drops cached results for a project after writes.
func (e *Engine) InvalidateProject(projectID string) {
	if e.results == nil {
		return
	}
	if _, err := e.results.DeletePattern("*:project:" + projectID + ":*"); err != nil {
		e.logger.Warn("cache invalidation failed",
			zap.String("project_id", projectID), zap.Error(err))
	}
}

// Snippet builds the display excerpt for one search hit: signature when
// present, then body, then a kind-name line, clipped at 200 chars.
func Snippet(entity model.Entity) string {
	text := entity.Signature
	if text == "" {
		text = entity.Body
	}
	if text == "" {
		text = string(entity.Kind) + ": " + entity.Name
	}
	if len(text) > snippetLimit {
		return text[:snippetLimit] + "..."
	}
	return text
}

// filterFingerprint serializes resolved filters deterministically for the
// cache key.
func filterFingerprint(filters model.GraphFilters) string {
	raw, err := json.Marshal(filters)
	if err != nil {
		return ""
	}
	return string(raw)
}

func (e *Engine) cacheGet(key string, out any) bool {
	if e.results == nil {
		return false
	}
	hit, err := e.results.Get(key, out)
	if err != nil {
		e.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

func (e *Engine) cacheSet(key string, value any) {
	if e.results == nil {
		return
	}
	if err := e.results.Set(key, value); err != nil {
		e.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
