package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/parser"
)

// scriptExtractor extracts entities from JavaScript and TypeScript ASTs.
// The two grammars share node types for everything this extractor reads;
// TypeScript adds interfaces and type annotations.
type scriptExtractor struct {
	result   *parser.ParseResult
	filePath string
	language model.Language
}

func newScriptExtractor(result *parser.ParseResult, filePath string, lang parser.Language) *scriptExtractor {
	return &scriptExtractor{
		result:   result,
		filePath: filePath,
		language: model.Language(lang),
	}
}

func (e *scriptExtractor) extract() []model.Entity {
	var entities []model.Entity

	for _, nodeType := range []string{"function_declaration", "generator_function_declaration"} {
		for _, node := range e.result.FindNodesByType(nodeType) {
			if entity := e.extractFunction(node); entity != nil {
				entities = append(entities, *entity)
			}
		}
	}

	// Arrow functions and function expressions bound to const/let/var.
	for _, node := range e.result.FindNodesByType("variable_declarator") {
		if entity := e.extractDeclarator(node); entity != nil {
			entities = append(entities, *entity)
		}
	}

	for _, node := range e.result.FindNodesByType("method_definition") {
		if entity := e.extractMethod(node); entity != nil {
			entities = append(entities, *entity)
		}
	}

	for _, node := range e.result.FindNodesByType("class_declaration") {
		if entity := e.extractClass(node); entity != nil {
			entities = append(entities, *entity)
		}
	}

	// TypeScript interfaces become class entities flagged as interfaces so
	// IMPLEMENTS edges have an in-file target.
	for _, node := range e.result.FindNodesByType("interface_declaration") {
		if entity := e.extractInterface(node); entity != nil {
			entities = append(entities, *entity)
		}
	}

	entities = append(entities, e.extractImports()...)

	return entities
}

func (e *scriptExtractor) extractFunction(node *sitter.Node) *model.Entity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := e.result.NodeText(nameNode)

	params := ""
	if paramsNode := node.ChildByFieldName("parameters"); paramsNode != nil {
		params = e.result.NodeText(paramsNode)
	}
	signature := "function " + name + params
	if retNode := node.ChildByFieldName("return_type"); retNode != nil {
		signature += e.result.NodeText(retNode)
	}

	metadata := map[string]any{}
	if isAsyncScriptNode(node) {
		metadata["is_async"] = true
		signature = "async " + signature
	}
	if node.Type() == "generator_function_declaration" {
		metadata["is_generator"] = true
	}

	body := ""
	if bodyNode := node.ChildByFieldName("body"); bodyNode != nil {
		body = e.result.NodeText(bodyNode)
	}

	startLine, endLine := nodeLineRange(node)

	return &model.Entity{
		Kind:      model.KindFunction,
		Name:      name,
		FilePath:  e.filePath,
		StartLine: startLine,
		EndLine:   endLine,
		Signature: signature,
		Docstring: e.precedingComment(node),
		Body:      truncateBody(body),
		Language:  e.language,
		Metadata:  metadata,
	}
}

// extractDeclarator handles `const f = (x) => ...` and plain top-level
// variables. Function-valued declarators become function entities; other
// declarators only count when declared at program scope.
func (e *scriptExtractor) extractDeclarator(node *sitter.Node) *model.Entity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil || nameNode.Type() != "identifier" {
		return nil
	}
	name := e.result.NodeText(nameNode)
	value := node.ChildByFieldName("value")

	if value != nil && (value.Type() == "arrow_function" || value.Type() == "function_expression" || value.Type() == "function") {
		params := ""
		if paramsNode := value.ChildByFieldName("parameters"); paramsNode != nil {
			params = e.result.NodeText(paramsNode)
		} else if paramNode := value.ChildByFieldName("parameter"); paramNode != nil {
			params = "(" + e.result.NodeText(paramNode) + ")"
		}
		signature := "const " + name + " = " + params + " => ..."

		metadata := map[string]any{"is_arrow": true}
		if isAsyncScriptNode(value) {
			metadata["is_async"] = true
		}

		body := ""
		if bodyNode := value.ChildByFieldName("body"); bodyNode != nil {
			body = e.result.NodeText(bodyNode)
		}

		startLine, endLine := nodeLineRange(node)
		declaration := declarationOf(node)

		return &model.Entity{
			Kind:      model.KindFunction,
			Name:      name,
			FilePath:  e.filePath,
			StartLine: startLine,
			EndLine:   endLine,
			Signature: signature,
			Docstring: e.precedingComment(declaration),
			Body:      truncateBody(body),
			Language:  e.language,
			Metadata:  metadata,
		}
	}

	// Top-level variables only, including exported ones.
	declaration := declarationOf(node)
	if declaration == nil || declaration.Parent() == nil {
		return nil
	}
	switch declaration.Parent().Type() {
	case "program":
	case "export_statement":
		if declaration.Parent().Parent() == nil || declaration.Parent().Parent().Type() != "program" {
			return nil
		}
	default:
		return nil
	}

	startLine, endLine := nodeLineRange(node)
	return &model.Entity{
		Kind:      model.KindVariable,
		Name:      name,
		FilePath:  e.filePath,
		StartLine: startLine,
		EndLine:   endLine,
		Body:      truncateBody(e.result.NodeText(node)),
		Language:  e.language,
		Metadata:  map[string]any{"scope": "module"},
	}
}

func (e *scriptExtractor) extractMethod(node *sitter.Node) *model.Entity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := e.result.NodeText(nameNode)
	if name == "constructor" {
		return nil
	}

	params := ""
	if paramsNode := node.ChildByFieldName("parameters"); paramsNode != nil {
		params = e.result.NodeText(paramsNode)
	}
	signature := name + params
	if retNode := node.ChildByFieldName("return_type"); retNode != nil {
		signature += e.result.NodeText(retNode)
	}

	metadata := map[string]any{}
	if isAsyncScriptNode(node) {
		metadata["is_async"] = true
	}
	if className := e.enclosingClassName(node); className != "" {
		metadata["class_name"] = className
	}

	body := ""
	if bodyNode := node.ChildByFieldName("body"); bodyNode != nil {
		body = e.result.NodeText(bodyNode)
	}

	startLine, endLine := nodeLineRange(node)

	return &model.Entity{
		Kind:      model.KindFunction,
		Name:      name,
		FilePath:  e.filePath,
		StartLine: startLine,
		EndLine:   endLine,
		Signature: signature,
		Docstring: e.precedingComment(node),
		Body:      truncateBody(body),
		Language:  e.language,
		Metadata:  metadata,
	}
}

func (e *scriptExtractor) extractClass(node *sitter.Node) *model.Entity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := e.result.NodeText(nameNode)

	var bases, implements []string
	if heritage := findChildByType(node, "class_heritage"); heritage != nil {
		// JS grammar: class_heritage is "extends <expr>". TS grammar nests
		// extends_clause and implements_clause.
		if extendsClause := findChildByType(heritage, "extends_clause"); extendsClause != nil {
			for i := uint32(0); i < extendsClause.NamedChildCount(); i++ {
				bases = append(bases, e.result.NodeText(extendsClause.NamedChild(int(i))))
			}
		} else {
			for i := uint32(0); i < heritage.NamedChildCount(); i++ {
				bases = append(bases, e.result.NodeText(heritage.NamedChild(int(i))))
			}
		}
		if implClause := findChildByType(heritage, "implements_clause"); implClause != nil {
			for i := uint32(0); i < implClause.NamedChildCount(); i++ {
				implements = append(implements, e.result.NodeText(implClause.NamedChild(int(i))))
			}
		}
	}

	var methods []string
	body := ""
	if bodyNode := node.ChildByFieldName("body"); bodyNode != nil {
		body = e.result.NodeText(bodyNode)
		for _, m := range collectDescendants(bodyNode, "method_definition") {
			if mn := m.ChildByFieldName("name"); mn != nil {
				methods = append(methods, e.result.NodeText(mn))
			}
		}
	}

	metadata := map[string]any{}
	if len(bases) > 0 {
		metadata["base_classes"] = bases
	}
	if len(implements) > 0 {
		metadata["implements"] = implements
	}
	if len(methods) > 0 {
		metadata["methods"] = methods
	}

	startLine, endLine := nodeLineRange(node)

	return &model.Entity{
		Kind:      model.KindClass,
		Name:      name,
		FilePath:  e.filePath,
		StartLine: startLine,
		EndLine:   endLine,
		Signature: "class " + name,
		Docstring: e.precedingComment(node),
		Body:      truncateBody(body),
		Language:  e.language,
		Metadata:  metadata,
	}
}

func (e *scriptExtractor) extractInterface(node *sitter.Node) *model.Entity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := e.result.NodeText(nameNode)

	// The extends clause node type differs between grammar revisions.
	var bases []string
	for _, clauseType := range []string{"extends_type_clause", "extends_clause"} {
		if extendsClause := findChildByType(node, clauseType); extendsClause != nil {
			for i := uint32(0); i < extendsClause.NamedChildCount(); i++ {
				bases = append(bases, e.result.NodeText(extendsClause.NamedChild(int(i))))
			}
			break
		}
	}

	metadata := map[string]any{"is_interface": true}
	if len(bases) > 0 {
		metadata["base_classes"] = bases
	}

	startLine, endLine := nodeLineRange(node)

	return &model.Entity{
		Kind:      model.KindClass,
		Name:      name,
		FilePath:  e.filePath,
		StartLine: startLine,
		EndLine:   endLine,
		Signature: "interface " + name,
		Docstring: e.precedingComment(node),
		Body:      truncateBody(e.result.NodeText(node)),
		Language:  e.language,
		Metadata:  metadata,
	}
}

// extractImports handles ES import statements, recording the module source,
// named symbols, default import, and namespace alias.
func (e *scriptExtractor) extractImports() []model.Entity {
	var entities []model.Entity

	for _, node := range e.result.FindNodesByType("import_statement") {
		sourceNode := node.ChildByFieldName("source")
		if sourceNode == nil {
			continue
		}
		module := strings.Trim(e.result.NodeText(sourceNode), `"'`)

		var symbols []string
		alias := ""
		star := false
		if clause := findChildByType(node, "import_clause"); clause != nil {
			for i := uint32(0); i < clause.NamedChildCount(); i++ {
				child := clause.NamedChild(int(i))
				switch child.Type() {
				case "identifier":
					symbols = append(symbols, e.result.NodeText(child))
				case "namespace_import":
					star = true
					for j := uint32(0); j < child.NamedChildCount(); j++ {
						if child.NamedChild(int(j)).Type() == "identifier" {
							alias = e.result.NodeText(child.NamedChild(int(j)))
						}
					}
				case "named_imports":
					for j := uint32(0); j < child.NamedChildCount(); j++ {
						spec := child.NamedChild(int(j))
						if spec.Type() != "import_specifier" {
							continue
						}
						if nameNode := spec.ChildByFieldName("name"); nameNode != nil {
							symbols = append(symbols, e.result.NodeText(nameNode))
						}
					}
				}
			}
		}

		startLine, endLine := nodeLineRange(node)
		metadata := map[string]any{"module": module}
		if len(symbols) > 0 {
			metadata["symbols"] = symbols
		}
		if alias != "" {
			metadata["alias"] = alias
		}
		if star {
			metadata["star_import"] = true
		}

		entities = append(entities, model.Entity{
			Kind:      model.KindImport,
			Name:      module,
			FilePath:  e.filePath,
			StartLine: startLine,
			EndLine:   endLine,
			Signature: strings.TrimSpace(e.result.NodeText(node)),
			Language:  e.language,
			Metadata:  metadata,
		})
	}

	return entities
}

// precedingComment returns the comment immediately above the node, with
// comment markers stripped. JSDoc blocks and line comments both qualify.
func (e *scriptExtractor) precedingComment(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	prev := node.PrevSibling()
	if prev == nil || prev.Type() != "comment" {
		return ""
	}
	// Only adjacent comments count.
	if int(node.StartPoint().Row)-int(prev.EndPoint().Row) > 1 {
		return ""
	}
	return cleanComment(e.result.NodeText(prev))
}

func (e *scriptExtractor) enclosingClassName(node *sitter.Node) string {
	for parent := node.Parent(); parent != nil; parent = parent.Parent() {
		if parent.Type() == "class_declaration" || parent.Type() == "class" {
			if nameNode := parent.ChildByFieldName("name"); nameNode != nil {
				return e.result.NodeText(nameNode)
			}
		}
	}
	return ""
}

// declarationOf walks from a variable_declarator to its enclosing
// lexical_declaration or variable_declaration.
func declarationOf(node *sitter.Node) *sitter.Node {
	for parent := node.Parent(); parent != nil; parent = parent.Parent() {
		if parent.Type() == "lexical_declaration" || parent.Type() == "variable_declaration" {
			return parent
		}
	}
	return nil
}

// isAsyncScriptNode reports whether the node carries the async keyword.
func isAsyncScriptNode(node *sitter.Node) bool {
	for i := uint32(0); i < node.ChildCount(); i++ {
		if node.Child(int(i)).Type() == "async" {
			return true
		}
	}
	return false
}

// cleanComment strips //, /* */ and leading * markers from a comment block.
func cleanComment(comment string) string {
	comment = strings.TrimSpace(comment)
	if strings.HasPrefix(comment, "/*") {
		comment = strings.TrimPrefix(comment, "/**")
		comment = strings.TrimPrefix(comment, "/*")
		comment = strings.TrimSuffix(comment, "*/")
	}
	var lines []string
	for _, line := range strings.Split(comment, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "//")
		line = strings.TrimPrefix(line, "*")
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}
