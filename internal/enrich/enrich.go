// Package enrich runs after per-file extraction and before the graph write.
// It guarantees every supported source file has a file entity and rewrites
// JavaScript and TypeScript import edges to point at internal files when the
// import target lives inside the project. It also tags calls made by test
// functions with TESTS edges.
package enrich

import (
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/codeatlas/atlas/internal/extract"
	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/parser"
)

// extensionCandidates are tried in order when an import path has no
// extension; index files are tried last.
var extensionCandidates = []string{".ts", ".tsx", ".js", ".jsx", ".py"}

// Enricher resolves cross-file references over a project's parse results.
type Enricher struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Enricher {
	return &Enricher{logger: logger}
}

// Project enriches the combined parse results of one ingestion in place.
// sources maps normalized file paths to their raw content; tsconfig may be
// nil when the project has none.
func (e *Enricher) Project(projectID string, results []model.ParseResult, sources map[string]string, tsconfig *TSConfig) {
	e.ensureFileEntities(projectID, results, sources)

	index := buildIndex(results)
	for i := range results {
		e.resolveImports(&results[i], index, tsconfig)
		e.linkTestCalls(&results[i])
	}
}

// linkTestCalls adds a TESTS edge alongside every CALLS edge from a test
// function to a symbol defined in the same file, so coverage-style queries
// can follow test relationships without re-deriving naming conventions.
func (e *Enricher) linkTestCalls(result *model.ParseResult) {
	local := map[string]bool{}
	for i := range result.Entities {
		switch result.Entities[i].Kind {
		case model.KindFunction, model.KindClass, model.KindVariable:
			local[result.Entities[i].ID] = true
		}
	}
	if len(local) == 0 {
		return
	}

	seen := map[string]bool{}
	for _, rel := range result.Relationships {
		seen[edgeKey(rel)] = true
	}

	for i := range result.Entities {
		entity := &result.Entities[i]
		if entity.Kind != model.KindFunction || !isTestContext(entity.Name, result.FilePath) {
			continue
		}
		for _, rel := range result.Relationships {
			if rel.SourceID != entity.ID || rel.Kind != model.RelCalls || !local[rel.TargetID] {
				continue
			}
			tests := model.Relationship{
				SourceID: entity.ID,
				TargetID: rel.TargetID,
				Kind:     model.RelTests,
			}
			if key := edgeKey(tests); !seen[key] {
				seen[key] = true
				result.Relationships = append(result.Relationships, tests)
			}
		}
	}
}

// isTestContext recognizes the common Python and JS/TS test naming
// conventions by function name or file name.
func isTestContext(name, filePath string) bool {
	lower := strings.ToLower(name)
	if strings.HasPrefix(lower, "test_") || strings.HasSuffix(lower, "_test") {
		return true
	}
	base := strings.ToLower(path.Base(filePath))
	return strings.HasPrefix(base, "test_") ||
		strings.Contains(base, "_test.") ||
		strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.")
}

// ensureFileEntities synthesizes a file entity for every supported source
// file the extractor produced none for, such as empty files.
func (e *Enricher) ensureFileEntities(projectID string, results []model.ParseResult, sources map[string]string) {
	for i := range results {
		r := &results[i]
		if parser.LanguageFromExtension(strings.ToLower(path.Ext(r.FilePath))) == "" {
			continue
		}
		hasFile := false
		for _, entity := range r.Entities {
			if entity.Kind == model.KindFile {
				hasFile = true
				break
			}
		}
		if hasFile {
			continue
		}

		lineCount := 1
		if content, ok := sources[r.FilePath]; ok {
			if n := len(strings.Split(content, "\n")); n > lineCount {
				lineCount = n
			}
		}
		lang := model.Language(parser.LanguageFromExtension(strings.ToLower(path.Ext(r.FilePath))))
		entity := model.Entity{
			ProjectID: projectID,
			Kind:      model.KindFile,
			Name:      path.Base(r.FilePath),
			FilePath:  r.FilePath,
			StartLine: 1,
			EndLine:   lineCount,
			Language:  lang,
			Metadata:  map[string]any{"full_path": r.FilePath},
		}
		entity.ID = extract.BuildEntityID(projectID, model.KindFile, entity.Name, entity.FilePath, 1)
		r.Entities = append([]model.Entity{entity}, r.Entities...)
		e.logger.Debug("synthesized file entity", zap.String("file", r.FilePath))
	}
}

// projectIndex holds the lookup tables import resolution needs.
type projectIndex struct {
	// fileByPath maps normalized path to its file entity.
	fileByPath map[string]*model.Entity
	// filesByStem maps basename without extension to all matching paths.
	filesByStem map[string][]string
	// symbolsByFile maps file path to name → entity for defined symbols.
	symbolsByFile map[string]map[string]*model.Entity
}

func buildIndex(results []model.ParseResult) *projectIndex {
	idx := &projectIndex{
		fileByPath:    map[string]*model.Entity{},
		filesByStem:   map[string][]string{},
		symbolsByFile: map[string]map[string]*model.Entity{},
	}
	for i := range results {
		r := &results[i]
		for j := range r.Entities {
			entity := &r.Entities[j]
			switch entity.Kind {
			case model.KindFile:
				idx.fileByPath[entity.FilePath] = entity
				stem := strings.TrimSuffix(path.Base(entity.FilePath), path.Ext(entity.FilePath))
				idx.filesByStem[stem] = append(idx.filesByStem[stem], entity.FilePath)
			case model.KindFunction, model.KindClass, model.KindVariable:
				symbols := idx.symbolsByFile[entity.FilePath]
				if symbols == nil {
					symbols = map[string]*model.Entity{}
					idx.symbolsByFile[entity.FilePath] = symbols
				}
				name := entity.Name
				if orig, ok := entity.Metadata["original_name"].(string); ok && orig != "" {
					name = orig
				}
				if _, exists := symbols[name]; !exists {
					symbols[name] = entity
				}
			}
		}
	}
	return idx
}

// resolveImports rewrites external IMPORTS edges to file→file edges when
// the module resolves to an internal file, and adds USES edges from the
// import entity to the named symbols the target file defines.
func (e *Enricher) resolveImports(result *model.ParseResult, idx *projectIndex, tsconfig *TSConfig) {
	var fileEntity *model.Entity
	for i := range result.Entities {
		if result.Entities[i].Kind == model.KindFile {
			fileEntity = &result.Entities[i]
			break
		}
	}
	if fileEntity == nil {
		return
	}

	lang := model.Language(parser.LanguageFromExtension(strings.ToLower(path.Ext(result.FilePath))))
	if lang != model.LangJavaScript && lang != model.LangTypeScript {
		return
	}

	seen := map[string]bool{}
	for _, rel := range result.Relationships {
		seen[edgeKey(rel)] = true
	}

	for i := range result.Entities {
		imp := &result.Entities[i]
		if imp.Kind != model.KindImport {
			continue
		}
		module, _ := imp.Metadata["module"].(string)
		if module == "" {
			module = imp.Name
		}

		target := e.resolveModule(result.FilePath, module, idx, tsconfig)
		if target == "" {
			continue
		}
		targetFile, ok := idx.fileByPath[target]
		if !ok {
			continue
		}

		// Redirect the external IMPORTS edge to the resolved file.
		external := model.ExternalPrefix + module
		for j := range result.Relationships {
			rel := &result.Relationships[j]
			if rel.Kind == model.RelImports && rel.TargetID == external && rel.SourceID == fileEntity.ID {
				rel.TargetID = targetFile.ID
				rel.Metadata = map[string]any{
					"resolution":           "file_match",
					"resolved_from_module": module,
				}
			}
		}

		for _, symbol := range metadataStrings(imp.Metadata, "symbols") {
			symbolEntity, ok := idx.symbolsByFile[target][symbol]
			if !ok {
				continue
			}
			uses := model.Relationship{
				SourceID: imp.ID,
				TargetID: symbolEntity.ID,
				Kind:     model.RelUses,
			}
			if key := edgeKey(uses); !seen[key] {
				seen[key] = true
				result.Relationships = append(result.Relationships, uses)
			}
		}

		e.logger.Debug("resolved internal import",
			zap.String("file", result.FilePath),
			zap.String("module", module),
			zap.String("target", target))
	}
}

// resolveModule maps an import module string to an internal file path.
// Resolution order: relative paths, tsconfig aliases, unique-stem fallback.
func (e *Enricher) resolveModule(fromFile, module string, idx *projectIndex, tsconfig *TSConfig) string {
	if strings.HasPrefix(module, "./") || strings.HasPrefix(module, "../") {
		base := path.Join(path.Dir(fromFile), module)
		if target := matchWithExtensions(base, idx); target != "" {
			return target
		}
	}

	if tsconfig != nil {
		for _, candidate := range tsconfig.Resolve(module) {
			if target := matchWithExtensions(candidate, idx); target != "" {
				return target
			}
		}
	}

	// Unique-stem fallback: one file in the project whose basename stem
	// equals the import's last segment.
	segments := strings.Split(module, "/")
	stem := segments[len(segments)-1]
	if paths := idx.filesByStem[stem]; len(paths) == 1 {
		return paths[0]
	}
	return ""
}

// matchWithExtensions tries the path as-is, then with each extension
// candidate, then as a directory index file.
func matchWithExtensions(base string, idx *projectIndex) string {
	if _, ok := idx.fileByPath[base]; ok {
		return base
	}
	for _, ext := range extensionCandidates {
		if _, ok := idx.fileByPath[base+ext]; ok {
			return base + ext
		}
	}
	for _, ext := range extensionCandidates {
		candidate := base + "/index" + ext
		if _, ok := idx.fileByPath[candidate]; ok {
			return candidate
		}
	}
	return ""
}

func edgeKey(rel model.Relationship) string {
	return rel.SourceID + "\x00" + rel.TargetID + "\x00" + string(rel.Kind)
}

func metadataStrings(metadata map[string]any, key string) []string {
	if metadata == nil {
		return nil
	}
	switch v := metadata[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
