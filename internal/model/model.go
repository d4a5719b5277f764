// Package model defines the core domain types shared across the system:
// code entities, relationships, projects, and ingestion sessions.
package model

import "time"

// EntityKind is the closed set of entity types extracted from source code.
type EntityKind string

const (
	KindFile     EntityKind = "file"
	KindFunction EntityKind = "function"
	KindClass    EntityKind = "class"
	KindVariable EntityKind = "variable"
	KindImport   EntityKind = "import"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	switch k {
	case KindFile, KindFunction, KindClass, KindVariable, KindImport:
		return true
	}
	return false
}

// Label returns the graph node label for the kind (File, Function, ...).
func (k EntityKind) Label() string {
	switch k {
	case KindFile:
		return "File"
	case KindFunction:
		return "Function"
	case KindClass:
		return "Class"
	case KindVariable:
		return "Variable"
	case KindImport:
		return "Import"
	}
	return ""
}

// RelationshipKind is the closed set of edge types between entities.
type RelationshipKind string

const (
	RelDefines    RelationshipKind = "DEFINES"
	RelCalls      RelationshipKind = "CALLS"
	RelImports    RelationshipKind = "IMPORTS"
	RelExtends    RelationshipKind = "EXTENDS"
	RelImplements RelationshipKind = "IMPLEMENTS"
	RelUses       RelationshipKind = "USES"
	RelTests      RelationshipKind = "TESTS"
)

// Valid reports whether k is a known relationship kind.
func (k RelationshipKind) Valid() bool {
	switch k {
	case RelDefines, RelCalls, RelImports, RelExtends, RelImplements, RelUses, RelTests:
		return true
	}
	return false
}

// Language is the set of supported source languages.
type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangTypeScript Language = "typescript"
	LangJava       Language = "java"
)

// ExternalPrefix marks import targets outside the project. The module name
// is everything after the prefix.
const ExternalPrefix = "external:"

// Entity is a first-class code object stored in the graph. IDs are
// deterministic: {project}_{kind}_{sanitizedName}_{startLine}_{pathHash}.
type Entity struct {
	ID        string         `json:"id"`
	ProjectID string         `json:"project_id"`
	Kind      EntityKind     `json:"entity_type"`
	Name      string         `json:"name"`
	FilePath  string         `json:"file_path"`
	StartLine int            `json:"start_line"`
	EndLine   int            `json:"end_line"`
	Signature string         `json:"signature,omitempty"`
	Docstring string         `json:"docstring,omitempty"`
	Body      string         `json:"body,omitempty"`
	Language  Language       `json:"language"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Relationship is a directed typed edge between two entities. Targets of
// IMPORTS edges may carry the external: prefix.
type Relationship struct {
	SourceID string           `json:"source_id"`
	TargetID string           `json:"target_id"`
	Kind     RelationshipKind `json:"relationship_type"`
	Metadata map[string]any   `json:"metadata,omitempty"`
}

// Project status values.
const (
	ProjectActive  = "active"
	ProjectDeleted = "deleted"
)

// Project is a code project owning its entities and relationships.
// FileCount and EntityCount are denormalized and refreshed after ingestion.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OwnerID     string    `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
	FileCount   int       `json:"file_count"`
	EntityCount int       `json:"entity_count"`
	Status      string    `json:"status"`
}

// Session status values. A session advances monotonically to completed or
// failed and is never resurrected.
const (
	SessionPending    = "pending"
	SessionProcessing = "processing"
	SessionCompleted  = "completed"
	SessionFailed     = "failed"
)

// Session tracks one ingestion job. Sessions are the only cross-process
// state the core owns and survive restarts as JSON files.
type Session struct {
	SessionID         string         `json:"session_id"`
	ProjectID         string         `json:"project_id"`
	Status            string         `json:"status"`
	Progress          float64        `json:"progress"`
	FilesProcessed    int            `json:"files_processed"`
	TotalFiles        int            `json:"total_files"`
	EntitiesExtracted int            `json:"entities_extracted"`
	Errors            []string       `json:"errors"`
	Statistics        map[string]any `json:"statistics,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// SourceFile is one input file handed to the ingestion pipeline.
type SourceFile struct {
	Path    string
	Content string
}

// ParseResult is the outcome of parsing a single file. Errors are collected,
// never raised: at worst the entity list is empty.
type ParseResult struct {
	FilePath      string
	Entities      []Entity
	Relationships []Relationship
	Errors        []string
	ParseDuration time.Duration
}

// ScoredEntity is an entity annotated with retrieval scores. GraphDistance
// is zero when the entity was not reached through the graph.
type ScoredEntity struct {
	Entity        Entity  `json:"entity"`
	Relevance     float64 `json:"relevance_score"`
	SemanticScore float64 `json:"semantic_score"`
	GraphDistance int     `json:"graph_distance,omitempty"`
	Source        string  `json:"source"`
}

// SearchResult is one semantic search hit with its display snippet.
type SearchResult struct {
	Entity     Entity  `json:"entity"`
	Similarity float64 `json:"similarity"`
	FilePath   string  `json:"file_path"`
	Snippet    string  `json:"snippet"`
}

// DependencyNode is one reachable entity in an impact analysis, with the
// path that reached it.
type DependencyNode struct {
	Entity Entity   `json:"entity"`
	Depth  int      `json:"depth"`
	Path   []string `json:"path"`
}

// ImpactResult is the outcome of a transitive impact analysis.
type ImpactResult struct {
	Target        Entity           `json:"target_entity"`
	Affected      []DependencyNode `json:"affected_entities"`
	MaxDepth      int              `json:"max_depth"`
	TotalAffected int              `json:"total_affected"`
	HasCycles     bool             `json:"has_cycles"`
	CyclePaths    [][]string       `json:"cycle_paths"`
	Truncated     bool             `json:"truncated"`
}

// ClassHierarchy is the inheritance neighborhood of one class.
type ClassHierarchy struct {
	Root     Entity   `json:"root"`
	Parents  []Entity `json:"parents"`
	Children []Entity `json:"children"`
}

// GraphNode is a node in a visualization projection.
type GraphNode struct {
	ID       string         `json:"id"`
	Label    string         `json:"label"`
	Type     string         `json:"type"`
	FilePath string         `json:"file_path,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// GraphEdge is an edge in a visualization projection.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// ViewMode selects the visualization granularity.
const (
	ViewFile   = "file"
	ViewSymbol = "symbol"
)

// GraphFilters narrows a visualization projection.
type GraphFilters struct {
	EntityKinds     []EntityKind `json:"entity_types,omitempty"`
	Languages       []Language   `json:"languages,omitempty"`
	FilePatterns    []string     `json:"file_patterns,omitempty"`
	ViewMode        string       `json:"view_mode,omitempty"`
	IncludeExternal *bool        `json:"include_external,omitempty"`
	IncludeIsolated *bool        `json:"include_isolated,omitempty"`
	MaxNodes        int          `json:"max_nodes,omitempty"`
	MaxEdges        int          `json:"max_edges,omitempty"`
}

// GraphCoverage reports project-wide totals before truncation so clients
// can detect clipping.
type GraphCoverage struct {
	EntitiesInProject      int `json:"entities_in_project"`
	RelationshipsInProject int `json:"relationships_in_project"`
}

// GraphView is the visualization projection of one project.
type GraphView struct {
	Nodes     []GraphNode    `json:"nodes"`
	Edges     []GraphEdge    `json:"edges"`
	Stats     map[string]int `json:"stats"`
	Coverage  GraphCoverage  `json:"coverage"`
	Truncated bool           `json:"truncated"`
	ViewMode  string         `json:"view_mode"`
}

// ContextResult is an assembled, token-budgeted prompt context.
type ContextResult struct {
	ContextText string         `json:"context_text"`
	Entities    []ScoredEntity `json:"entities"`
	Excluded    []ScoredEntity `json:"excluded_entities"`
	TokenCount  int            `json:"token_count"`
	TokenBudget int            `json:"token_budget"`
}

// QueryResult wraps structural query output with timing metadata.
type QueryResult struct {
	Entities    []Entity       `json:"entities"`
	Count       int            `json:"count"`
	QueryTimeMS float64        `json:"query_time_ms"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}
