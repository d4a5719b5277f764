package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/parser"
)

// extractRelationships builds the per-file edge set: DEFINES from the file
// entity, CALLS resolved against in-file names, EXTENDS and IMPLEMENTS from
// class metadata, and IMPORTS to external module targets.
func extractRelationships(parsed *parser.ParseResult, entities []model.Entity) []model.Relationship {
	if len(entities) == 0 {
		return nil
	}

	var fileEntity *model.Entity
	for i := range entities {
		if entities[i].Kind == model.KindFile {
			fileEntity = &entities[i]
			break
		}
	}

	var rels []model.Relationship
	seen := map[string]bool{}
	add := func(source, target string, kind model.RelationshipKind) {
		if source == "" || target == "" {
			return
		}
		key := source + "\x00" + target + "\x00" + string(kind)
		if seen[key] {
			return
		}
		seen[key] = true
		rels = append(rels, model.Relationship{SourceID: source, TargetID: target, Kind: kind})
	}

	if fileEntity != nil {
		for i := range entities {
			if entities[i].ID == fileEntity.ID {
				continue
			}
			add(fileEntity.ID, entities[i].ID, model.RelDefines)
		}
	}

	byName := entityNameIndex(entities)

	for _, call := range callNodes(parsed) {
		callee := calleeName(parsed, call)
		if callee == "" {
			continue
		}
		target, ok := byName[callee]
		if !ok {
			continue
		}
		line := int(call.StartPoint().Row) + 1
		source := innermostContaining(entities, line)
		if source == nil || source.ID == target.ID {
			continue
		}
		add(source.ID, target.ID, model.RelCalls)
	}

	for i := range entities {
		e := &entities[i]
		switch e.Kind {
		case model.KindClass:
			for _, base := range metadataStrings(e.Metadata, "base_classes") {
				if target, ok := byName[lastComponent(base)]; ok && target.ID != e.ID {
					add(e.ID, target.ID, model.RelExtends)
				}
			}
			for _, iface := range metadataStrings(e.Metadata, "implements") {
				if target, ok := byName[lastComponent(iface)]; ok && target.ID != e.ID {
					add(e.ID, target.ID, model.RelImplements)
				}
			}
		case model.KindImport:
			if fileEntity != nil {
				add(fileEntity.ID, model.ExternalPrefix+e.Name, model.RelImports)
			}
		}
	}

	return rels
}

// entityNameIndex maps resolvable short names to their entities. Overloaded
// functions resolve through their original name; the earliest definition
// wins on duplicates.
func entityNameIndex(entities []model.Entity) map[string]*model.Entity {
	byName := map[string]*model.Entity{}
	for i := range entities {
		e := &entities[i]
		if e.Kind != model.KindFunction && e.Kind != model.KindClass {
			continue
		}
		name := e.Name
		if orig, ok := e.Metadata["original_name"].(string); ok && orig != "" {
			name = orig
		}
		if _, exists := byName[name]; !exists {
			byName[name] = e
		}
	}
	return byName
}

func callNodes(parsed *parser.ParseResult) []*sitter.Node {
	var nodes []*sitter.Node
	for _, nodeType := range []string{"call", "call_expression", "method_invocation", "object_creation_expression"} {
		nodes = append(nodes, parsed.FindNodesByType(nodeType)...)
	}
	return nodes
}

// calleeName returns the rightmost name component of the called expression.
func calleeName(parsed *parser.ParseResult, call *sitter.Node) string {
	switch call.Type() {
	case "method_invocation":
		if nameNode := call.ChildByFieldName("name"); nameNode != nil {
			return parsed.NodeText(nameNode)
		}
		return ""
	case "object_creation_expression":
		if typeNode := call.ChildByFieldName("type"); typeNode != nil {
			return lastComponent(parsed.NodeText(typeNode))
		}
		return ""
	}

	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return parsed.NodeText(fn)
	case "attribute":
		if attr := fn.ChildByFieldName("attribute"); attr != nil {
			return parsed.NodeText(attr)
		}
	case "member_expression":
		if prop := fn.ChildByFieldName("property"); prop != nil {
			return parsed.NodeText(prop)
		}
	}
	return ""
}

// innermostContaining returns the function or class entity with the
// tightest line span covering the given line.
func innermostContaining(entities []model.Entity, line int) *model.Entity {
	var best *model.Entity
	bestSpan := 0
	for i := range entities {
		e := &entities[i]
		if e.Kind != model.KindFunction && e.Kind != model.KindClass {
			continue
		}
		if line < e.StartLine || line > e.EndLine {
			continue
		}
		span := e.EndLine - e.StartLine
		if best == nil || span < bestSpan {
			best = e
			bestSpan = span
		}
	}
	return best
}

// metadataStrings reads a []string-valued metadata key, tolerating the
// []any shape JSON decoding produces.
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

// lastComponent strips qualifier prefixes and generic arguments from a
// type reference, e.g. "app.models.Base" and "List<Item>" reduce to their
// rightmost plain name.
func lastComponent(name string) string {
	if idx := strings.IndexByte(name, '<'); idx > 0 {
		name = name[:idx]
	}
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		name = name[idx+1:]
	}
	return strings.TrimSpace(name)
}
