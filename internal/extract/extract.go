// Package extract turns parsed ASTs into code entities and relationships.
// Each supported language has its own extractor sharing a common traversal
// shape; extract.File is the single entry point used by the ingestion
// pipeline.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/parser"
)

// maxBodyChars bounds stored entity bodies.
const maxBodyChars = 500

// File parses one source file and extracts its entities and relationships.
// Failures never propagate as errors: at worst the result carries an error
// string and an empty entity list.
func File(filePath, content, projectID string, langOverride parser.Language) model.ParseResult {
	started := time.Now()
	result := model.ParseResult{FilePath: NormalizePath(filePath)}

	lang := langOverride
	if lang == "" {
		lang = parser.LanguageFromExtension(strings.ToLower(filepath.Ext(filePath)))
	}
	if lang == "" {
		result.Errors = append(result.Errors,
			fmt.Sprintf("unsupported file extension: %s", filepath.Ext(filePath)))
		result.ParseDuration = time.Since(started)
		return result
	}

	p, err := parser.NewParserForFile(filePath)
	if err != nil {
		p, err = parser.NewParser(lang)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("parser init failed: %v", err))
			result.ParseDuration = time.Since(started)
			return result
		}
	}
	defer p.Close()

	parsed, err := p.Parse([]byte(content))
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to parse %s: %v", filePath, err))
		result.ParseDuration = time.Since(started)
		return result
	}
	defer parsed.Close()

	// Syntax errors are non-fatal; extraction continues on the recoverable
	// subtree.
	if parsed.HasErrors() {
		result.Errors = append(result.Errors, fmt.Sprintf("syntax errors in %s", filePath))
	}

	var entities []model.Entity
	switch lang {
	case parser.Python:
		entities = newPythonExtractor(parsed, result.FilePath).extract()
	case parser.JavaScript, parser.TypeScript:
		entities = newScriptExtractor(parsed, result.FilePath, lang).extract()
	case parser.Java:
		entities = newJavaExtractor(parsed, result.FilePath).extract()
	}

	for i := range entities {
		entities[i].ProjectID = projectID
	}

	entities = DisambiguateOverloads(entities)

	fileEntity := newFileEntity(result.FilePath, content, projectID, model.Language(lang))
	all := make([]model.Entity, 0, len(entities)+1)
	all = append(all, fileEntity)
	all = append(all, entities...)
	AssignIDs(projectID, all)

	result.Entities = all
	result.Relationships = extractRelationships(parsed, all)
	result.ParseDuration = time.Since(started)
	return result
}

// newFileEntity synthesizes the file-level entity. Its end line is the total
// line count of the content, never below 1.
func newFileEntity(filePath, content, projectID string, lang model.Language) model.Entity {
	lineCount := len(strings.Split(content, "\n"))
	if lineCount < 1 {
		lineCount = 1
	}
	return model.Entity{
		ProjectID: projectID,
		Kind:      model.KindFile,
		Name:      filepath.Base(filePath),
		FilePath:  filePath,
		StartLine: 1,
		EndLine:   lineCount,
		Language:  lang,
		Metadata:  map[string]any{"full_path": filePath},
	}
}

// nodeLineRange converts tree-sitter 0-based rows to 1-based inclusive lines.
func nodeLineRange(node *sitter.Node) (int, int) {
	start := int(node.StartPoint().Row) + 1
	end := int(node.EndPoint().Row) + 1
	if end < start {
		end = start
	}
	return start, end
}

// findChildByType returns the first direct child of the given type.
func findChildByType(node *sitter.Node, nodeType string) *sitter.Node {
	for i := uint32(0); i < node.ChildCount(); i++ {
		child := node.Child(int(i))
		if child.Type() == nodeType {
			return child
		}
	}
	return nil
}

// truncateBody caps body text at the storage bound.
func truncateBody(s string) string {
	if len(s) > maxBodyChars {
		return s[:maxBodyChars]
	}
	return s
}
