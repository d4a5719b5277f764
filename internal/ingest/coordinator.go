// Package ingest owns the ingestion pipeline: session lifecycle, upload
// validation, dispatch to a broker or an in-process worker, and the
// parse, enrich, graph-write, embed, vector-upsert sequence.
package ingest

import (
	"context"
	"fmt"
	"path"
	"runtime"
	"sort"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/cache"
	"github.com/codeatlas/atlas/internal/config"
	"github.com/codeatlas/atlas/internal/embed"
	"github.com/codeatlas/atlas/internal/enrich"
	"github.com/codeatlas/atlas/internal/extract"
	"github.com/codeatlas/atlas/internal/graphstore"
	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/vectorstore"
)

// Progress milestones of one ingestion job.
const (
	progressParsed    = 0.2
	progressGraph     = 0.4
	progressEmbedded  = 0.7
	progressVectors   = 0.9
	progressCompleted = 1.0
)

// Coordinator orchestrates ingestion jobs end to end.
type Coordinator struct {
	cfg      *config.Config
	graph    *graphstore.Store
	vectors  *vectorstore.Store
	embedder *embed.Client
	enricher *enrich.Enricher
	sessions *SessionStore
	results  *cache.Cache
	broker   *Broker
	logger   *zap.Logger
}

// NewCoordinator wires the pipeline. The broker and result cache are
// optional; a nil broker forces in-process execution.
func NewCoordinator(cfg *config.Config, graph *graphstore.Store, vectors *vectorstore.Store,
	embedder *embed.Client, sessions *SessionStore, results *cache.Cache, broker *Broker,
	logger *zap.Logger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		graph:    graph,
		vectors:  vectors,
		embedder: embedder,
		enricher: enrich.New(logger),
		sessions: sessions,
		results:  results,
		broker:   broker,
		logger:   logger,
	}
}

// UploadProject validates the upload, creates the project and session,
// and dispatches a ProcessProject job. The returned session is pending
// until a worker picks the job up.
func (c *Coordinator) UploadProject(ctx context.Context, name string, files []model.SourceFile, ownerID string) (*model.Session, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, "project name is required")
	}
	if len(files) == 0 {
		return nil, apperr.New(apperr.CodeInvalidRequest, "at least one file is required")
	}
	if limit := c.cfg.Upload.MaxUploadFiles; limit > 0 && len(files) > limit {
		return nil, apperr.Newf(apperr.CodeInvalidRequest,
			"upload exceeds the %d file limit", limit)
	}
	maxBytes := int64(c.cfg.Upload.MaxFileSizeMB) * 1024 * 1024
	for _, file := range files {
		if maxBytes > 0 && int64(len(file.Content)) > maxBytes {
			return nil, apperr.Newf(apperr.CodeFileSizeExceeded,
				"file %s exceeds the %d MB limit", file.Path, c.cfg.Upload.MaxFileSizeMB)
		}
	}

	projectID := NewProjectID()
	session, err := c.sessions.Create(projectID, len(files))
	if err != nil {
		return nil, err
	}

	c.dispatch(Job{
		SessionID: session.SessionID,
		ProjectID: projectID,
		Name:      name,
		OwnerID:   ownerID,
		Files:     files,
	})
	return session, nil
}

// UploadFromSourceControl validates the repository URL, creates a session
// already in processing state, and fetches the tree in the background
// before joining the standard ProcessProject path.
func (c *Coordinator) UploadFromSourceControl(ctx context.Context, name, repoURL, ownerID, branch string) (*model.Session, error) {
	if strings.TrimSpace(name) == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, "project name is required")
	}
	if err := ValidateRepoURL(repoURL); err != nil {
		return nil, err
	}

	projectID := NewProjectID()
	session, err := c.sessions.Create(projectID, 0)
	if err != nil {
		return nil, err
	}
	if _, err := c.sessions.Update(session.SessionID, func(s *model.Session) {
		s.Status = model.SessionProcessing
	}); err != nil {
		return nil, err
	}

	go func() {
		opts := CloneOptions{
			Branch:       branch,
			Exclude:      c.cfg.Upload.Exclude,
			MaxFiles:     c.cfg.Upload.MaxFilesPerProject,
			MaxFileBytes: int64(c.cfg.Upload.MaxFileSizeMB) * 1024 * 1024,
		}
		files, err := CloneAndCollect(context.Background(), repoURL, opts, c.logger)
		if err != nil {
			c.failSession(session.SessionID, fmt.Sprintf("source control fetch failed: %v", err))
			return
		}
		c.sessions.Update(session.SessionID, func(s *model.Session) {
			s.TotalFiles = len(files)
		})
		c.dispatch(Job{
			SessionID: session.SessionID,
			ProjectID: projectID,
			Name:      name,
			OwnerID:   ownerID,
			Files:     files,
		})
	}()

	return session, nil
}

// GetSession returns the persisted session state.
func (c *Coordinator) GetSession(sessionID string) (*model.Session, error) {
	return c.sessions.Get(sessionID)
}

// dispatch enqueues the job on the broker when one is reachable, falling
// back to an in-process background task so API semantics stay identical.
func (c *Coordinator) dispatch(job Job) {
	if c.broker != nil && c.broker.Reachable() {
		err := c.broker.Publish(job)
		if err == nil {
			return
		}
		c.logger.Warn("broker publish failed, running in-process", zap.Error(err))
	}
	go c.ProcessProject(context.Background(), job)
}

// ProcessProject runs the full pipeline for one job. Failures mark the
// session failed; the method never panics across the goroutine boundary.
func (c *Coordinator) ProcessProject(ctx context.Context, job Job) {
	if err := c.processProject(ctx, job); err != nil {
		c.logger.Error("ingestion failed",
			zap.String("session_id", job.SessionID), zap.Error(err))
		c.failSession(job.SessionID, err.Error())
	}
}

func (c *Coordinator) processProject(ctx context.Context, job Job) error {
	c.sessions.Update(job.SessionID, func(s *model.Session) {
		s.Status = model.SessionProcessing
		s.Progress = 0
		s.TotalFiles = len(job.Files)
	})

	// Phase 1: parse files in parallel; results stay index-aligned so
	// entity order is deterministic.
	results := make([]model.ParseResult, len(job.Files))
	workers := runtime.NumCPU()
	if workers > len(job.Files) {
		workers = len(job.Files)
	}
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, file := range job.Files {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = extract.File(file.Path, file.Content, job.ProjectID, "")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("parse: %w", err)
	}

	var parseErrors []string
	sources := make(map[string]string, len(job.Files))
	for i, result := range results {
		parseErrors = append(parseErrors, result.Errors...)
		sources[result.FilePath] = job.Files[i].Content
	}
	c.sessions.Update(job.SessionID, func(s *model.Session) {
		s.Progress = progressParsed
		s.FilesProcessed = len(job.Files)
		s.Errors = append(s.Errors, parseErrors...)
	})

	// Phase 2: enrich and write the graph atomically.
	c.enricher.Project(job.ProjectID, results, sources, findTSConfig(job.Files, c.logger))

	var entities []model.Entity
	var rels []model.Relationship
	for _, result := range results {
		entities = append(entities, result.Entities...)
		rels = append(rels, result.Relationships...)
	}
	project := model.Project{ID: job.ProjectID, Name: job.Name, OwnerID: job.OwnerID}
	dropped, err := c.graph.CreateProject(ctx, project, entities, rels)
	if err != nil {
		return fmt.Errorf("graph write: %w", err)
	}
	if dropped > 0 {
		parseErrors = append(parseErrors,
			fmt.Sprintf("%d relationships dropped for missing endpoints", dropped))
	}
	c.sessions.Update(job.SessionID, func(s *model.Session) {
		s.Progress = progressGraph
		s.EntitiesExtracted = len(entities)
		if dropped > 0 {
			s.Errors = append(s.Errors,
				fmt.Sprintf("%d relationships dropped for missing endpoints", dropped))
		}
	})

	// Phase 3: embeddings, batched, progress linear from 0.4 to 0.7.
	// Per-entity failures are logged and skipped.
	entries, embedErrors := c.embedEntities(ctx, job, entities)

	// Phase 4: vector upsert.
	if len(entries) > 0 {
		if err := c.vectors.BatchStore(ctx, entries); err != nil {
			return fmt.Errorf("vector upsert: %w", err)
		}
	}
	c.sessions.Update(job.SessionID, func(s *model.Session) {
		s.Progress = progressVectors
	})

	// Phase 5: statistics and completion.
	relationshipCount := len(rels) - dropped
	if relationshipCount < 0 {
		relationshipCount = 0
	}
	statistics := map[string]any{
		"file_count":         len(job.Files),
		"entity_count":       len(entities),
		"relationship_count": relationshipCount,
		"embedding_count":    len(entries),
		"error_count":        len(parseErrors) + embedErrors,
	}
	c.sessions.Update(job.SessionID, func(s *model.Session) {
		s.Status = model.SessionCompleted
		s.Progress = progressCompleted
		s.Statistics = statistics
	})

	if c.results != nil {
		c.results.InvalidateProject(job.ProjectID)
	}
	c.logger.Info("ingestion completed",
		zap.String("session_id", job.SessionID),
		zap.String("project_id", job.ProjectID),
		zap.Int("entities", len(entities)),
		zap.Int("embeddings", len(entries)))
	return nil
}

// embedEntities generates document embeddings for every entity, batched by
// the configured size, advancing session progress linearly.
func (c *Coordinator) embedEntities(ctx context.Context, job Job, entities []model.Entity) ([]vectorstore.Entry, int) {
	batchSize := c.cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = len(entities)
	}

	var entries []vectorstore.Entry
	failures := 0
	for i, entity := range entities {
		vector, err := c.embedder.GenerateForEntity(ctx, entity, true)
		if err != nil {
			failures++
			c.logger.Warn("embedding skipped",
				zap.String("entity_id", entity.ID), zap.Error(err))
			continue
		}
		entries = append(entries, vectorstore.Entry{
			EntityID: entity.ID,
			Vector:   vector,
			Metadata: vectorstore.Metadata{
				Kind:      string(entity.Kind),
				FilePath:  entity.FilePath,
				Name:      entity.Name,
				ProjectID: job.ProjectID,
			},
		})

		if (i+1)%batchSize == 0 || i == len(entities)-1 {
			fraction := float64(i+1) / float64(len(entities))
			progress := progressGraph + fraction*(progressEmbedded-progressGraph)
			c.sessions.Update(job.SessionID, func(s *model.Session) {
				s.Progress = progress
			})
		}
	}
	return entries, failures
}

// UpdateProject reparses the changed files, swaps them into the graph
// atomically, refreshes their embeddings, and invalidates cached queries.
func (c *Coordinator) UpdateProject(ctx context.Context, projectID string, changedFiles []model.SourceFile, deletedFiles []string) error {
	if _, err := c.graph.GetProject(ctx, projectID); err != nil {
		return err
	}

	results := make([]model.ParseResult, 0, len(changedFiles))
	sources := make(map[string]string, len(changedFiles))
	for _, file := range changedFiles {
		result := extract.File(file.Path, file.Content, projectID, "")
		results = append(results, result)
		sources[result.FilePath] = file.Content
	}
	c.enricher.Project(projectID, results, sources, nil)

	if _, err := c.graph.UpdateProject(ctx, projectID, results, deletedFiles); err != nil {
		return err
	}

	var entities []model.Entity
	for _, result := range results {
		entities = append(entities, result.Entities...)
	}
	entries, _ := c.embedEntities(ctx, Job{SessionID: "", ProjectID: projectID}, entities)
	if len(entries) > 0 {
		if err := c.vectors.BatchStore(ctx, entries); err != nil {
			return fmt.Errorf("vector upsert: %w", err)
		}
	}

	if c.results != nil {
		c.results.InvalidateProject(projectID)
	}
	return nil
}

// DeleteProject removes the project from the graph, drops its vector
// collection, and clears cached queries.
func (c *Coordinator) DeleteProject(ctx context.Context, projectID string) error {
	if err := c.graph.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	if _, err := c.vectors.DeleteProject(ctx, projectID); err != nil {
		c.logger.Warn("vector collection delete failed",
			zap.String("project_id", projectID), zap.Error(err))
	}
	if c.results != nil {
		c.results.InvalidateProject(projectID)
	}
	return nil
}

func (c *Coordinator) failSession(sessionID, message string) {
	c.sessions.Update(sessionID, func(s *model.Session) {
		s.Status = model.SessionFailed
		s.Errors = append(s.Errors, message)
	})
}

// findTSConfig locates the shallowest tsconfig.json among the uploaded
// files.
func findTSConfig(files []model.SourceFile, logger *zap.Logger) *enrich.TSConfig {
	var candidates []model.SourceFile
	for _, file := range files {
		if path.Base(file.Path) == "tsconfig.json" {
			candidates = append(candidates, file)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return strings.Count(candidates[i].Path, "/") < strings.Count(candidates[j].Path, "/")
	})
	tsconfig, err := enrich.ParseTSConfig(extract.NormalizePath(candidates[0].Path), []byte(candidates[0].Content))
	if err != nil {
		logger.Warn("tsconfig parse failed", zap.String("path", candidates[0].Path), zap.Error(err))
		return nil
	}
	return tsconfig
}
