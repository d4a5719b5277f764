// Package assemble builds token-budgeted prompt context from hybrid
// retrieval: semantic hits fused with their one-hop graph neighborhood.
package assemble

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/graphstore"
	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/query"
)

const (
	// Relevance fusion weights. Semantic similarity dominates; graph
	// proximity decays with distance.
	semanticWeight = 0.7
	graphWeight    = 0.3

	// Token estimate: one token per four characters. The contract is
	// monotonicity and determinism, not tokenizer fidelity.
	charsPerToken = 4

	contextHeader = "Relevant code from your project:"

	sourceSemantic = "semantic"
	sourceGraph    = "graph"
	sourceManual   = "manual"
)

// ValidationResult reports whether a candidate selection fits the budget
// without assembling the context text.
type ValidationResult struct {
	Valid         bool   `json:"valid"`
	TotalTokens   int    `json:"total_tokens"`
	TokenBudget   int    `json:"token_budget"`
	EntitiesCount int    `json:"entities_count"`
	Message       string `json:"message"`
}

// Assembler ranks entities and renders citation blocks under a budget.
type Assembler struct {
	engine *query.Engine
	graph  *graphstore.Store
	topK   int
	logger *zap.Logger
}

// New wires a context assembler. topK bounds the semantic step.
func New(engine *query.Engine, graph *graphstore.Store, topK int, logger *zap.Logger) *Assembler {
	if topK <= 0 {
		topK = 10
	}
	return &Assembler{engine: engine, graph: graph, topK: topK, logger: logger}
}

// RetrieveContext ranks entities for the query and greedily assembles
// citation blocks until the next block would exceed the token budget.
// Manual entity ids bypass ranking and carry relevance 1.0.
func (a *Assembler) RetrieveContext(ctx context.Context, queryText, projectID string, tokenBudget int, manualIDs []string) (*model.ContextResult, error) {
	ranked, err := a.rank(ctx, queryText, projectID, manualIDs)
	if err != nil {
		return nil, err
	}

	var blocks []string
	var included, excluded []model.ScoredEntity
	used := tokenEstimate(contextHeader)

	for _, scored := range ranked {
		block := CitationBlock(scored.Entity)
		cost := tokenEstimate(block) + tokenEstimate("\n\n")
		if used+cost > tokenBudget {
			excluded = append(excluded, scored)
			continue
		}
		used += cost
		blocks = append(blocks, block)
		included = append(included, scored)
	}

	text := contextHeader
	if len(blocks) > 0 {
		text += "\n\n" + strings.Join(blocks, "\n\n")
	}
	// TokenCount is the sum the admission loop charged against, so it can
	// never exceed the budget; re-estimating the joined text could, since
	// separator chars recover the per-block floor fractions.
	return &model.ContextResult{
		ContextText: text,
		Entities:    included,
		Excluded:    excluded,
		TokenCount:  used,
		TokenBudget: tokenBudget,
	}, nil
}

// Validate reports whether the full ranked selection fits the budget,
// without rendering the context.
func (a *Assembler) Validate(ctx context.Context, queryText, projectID string, tokenBudget int, manualIDs []string) (*ValidationResult, error) {
	ranked, err := a.rank(ctx, queryText, projectID, manualIDs)
	if err != nil {
		return nil, err
	}

	total := tokenEstimate(contextHeader)
	for _, scored := range ranked {
		total += tokenEstimate(CitationBlock(scored.Entity)) + tokenEstimate("\n\n")
	}

	result := &ValidationResult{
		TotalTokens:   total,
		TokenBudget:   tokenBudget,
		EntitiesCount: len(ranked),
	}
	if total <= tokenBudget {
		result.Valid = true
		result.Message = fmt.Sprintf("%d entities fit within the %d token budget", len(ranked), tokenBudget)
	} else {
		result.Message = fmt.Sprintf("selection needs %d tokens, budget is %d", total, tokenBudget)
	}
	return result, nil
}

// rank produces the scored entity list, manual ids first when supplied.
func (a *Assembler) rank(ctx context.Context, queryText, projectID string, manualIDs []string) ([]model.ScoredEntity, error) {
	if len(manualIDs) > 0 {
		return a.manual(ctx, projectID, manualIDs)
	}
	if strings.TrimSpace(queryText) == "" {
		return nil, apperr.New(apperr.CodeInvalidRequest, "query text is required")
	}
	return a.hybrid(ctx, queryText, projectID)
}

func (a *Assembler) manual(ctx context.Context, projectID string, ids []string) ([]model.ScoredEntity, error) {
	out := make([]model.ScoredEntity, 0, len(ids))
	for _, id := range ids {
		entity, err := a.graph.GetEntity(ctx, id, projectID)
		if err != nil {
			return nil, err
		}
		out = append(out, model.ScoredEntity{
			Entity:    *entity,
			Relevance: 1.0,
			Source:    sourceManual,
		})
	}
	return out, nil
}

// hybrid runs the semantic step, expands each hit one hop through the
// call graph, and fuses the two scores.
func (a *Assembler) hybrid(ctx context.Context, queryText, projectID string) ([]model.ScoredEntity, error) {
	hits, err := a.engine.SemanticSearch(ctx, queryText, []string{projectID}, a.topK)
	if err != nil {
		return nil, err
	}

	scored := make(map[string]*model.ScoredEntity, len(hits))
	order := make([]string, 0, len(hits))
	for _, hit := range hits {
		scored[hit.Entity.ID] = &model.ScoredEntity{
			Entity:        hit.Entity,
			SemanticScore: hit.Similarity,
			Source:        sourceSemantic,
		}
		order = append(order, hit.Entity.ID)
	}

	for _, id := range order {
		for _, neighbor := range a.neighbors(ctx, projectID, id) {
			if _, seen := scored[neighbor.ID]; seen {
				continue
			}
			scored[neighbor.ID] = &model.ScoredEntity{
				Entity:        neighbor,
				GraphDistance: 1,
				Source:        sourceGraph,
			}
			order = append(order, neighbor.ID)
		}
	}

	out := make([]model.ScoredEntity, 0, len(order))
	for _, id := range order {
		s := scored[id]
		s.Relevance = fuse(s.SemanticScore, s.GraphDistance)
		out = append(out, *s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Relevance > out[j].Relevance
	})
	return out, nil
}

// neighbors collects the one-hop callers and dependencies of an entity.
// Graph errors degrade to a semantic-only result.
func (a *Assembler) neighbors(ctx context.Context, projectID, entityID string) []model.Entity {
	var out []model.Entity
	if callers, err := a.engine.FindCallers(ctx, projectID, entityID); err == nil {
		out = append(out, callers.Entities...)
	} else {
		a.logger.Warn("caller expansion failed", zap.String("entity_id", entityID), zap.Error(err))
	}
	if deps, err := a.engine.FindDependencies(ctx, projectID, entityID); err == nil {
		out = append(out, deps.Entities...)
	} else {
		a.logger.Warn("dependency expansion failed", zap.String("entity_id", entityID), zap.Error(err))
	}
	return out
}

// fuse combines semantic and graph scores. Entities reached both ways get
// both terms; the others get their single weighted term.
func fuse(semanticScore float64, graphDistance int) float64 {
	score := 0.0
	if semanticScore > 0 {
		score += semanticWeight * semanticScore
	}
	if graphDistance > 0 {
		score += graphWeight / float64(graphDistance)
	}
	return score
}

// CitationBlock renders one entity as a context citation.
func CitationBlock(entity model.Entity) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[File: %s, Lines: %d-%d]\n", entity.FilePath, entity.StartLine, entity.EndLine)

	content := entity.Signature
	if content == "" {
		content = entity.Body
	}
	if content == "" {
		content = string(entity.Kind) + ": " + entity.Name
	}
	b.WriteString(content)

	if entity.Docstring != "" {
		b.WriteString("\n\"\"\"" + entity.Docstring + "\"\"\"")
	}
	return b.String()
}

func tokenEstimate(text string) int {
	return len(text) / charsPerToken
}
