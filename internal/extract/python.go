package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/parser"
)

// pythonExtractor extracts entities from a parsed Python AST.
type pythonExtractor struct {
	result   *parser.ParseResult
	filePath string
}

func newPythonExtractor(result *parser.ParseResult, filePath string) *pythonExtractor {
	return &pythonExtractor{result: result, filePath: filePath}
}

// extract returns functions (methods included), classes, module-level
// variables, and imports.
func (e *pythonExtractor) extract() []model.Entity {
	var entities []model.Entity

	for _, node := range e.result.FindNodesByType("function_definition") {
		if entity := e.extractFunction(node); entity != nil {
			entities = append(entities, *entity)
		}
	}

	for _, node := range e.result.FindNodesByType("class_definition") {
		if entity := e.extractClass(node); entity != nil {
			entities = append(entities, *entity)
		}
	}

	entities = append(entities, e.extractImports()...)
	entities = append(entities, e.extractModuleVariables()...)

	return entities
}

// extractFunction builds a function entity from a function_definition node.
// Methods are extracted as function entities too; the containing class is
// recorded in metadata.
func (e *pythonExtractor) extractFunction(node *sitter.Node) *model.Entity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := e.result.NodeText(nameNode)

	params := ""
	if paramsNode := node.ChildByFieldName("parameters"); paramsNode != nil {
		params = e.result.NodeText(paramsNode)
	}

	signature := "def " + name + params
	if returnNode := node.ChildByFieldName("return_type"); returnNode != nil {
		signature += " -> " + e.result.NodeText(returnNode)
	}
	isAsync := e.isAsync(node)
	if isAsync {
		signature = "async " + signature
	}

	body := ""
	docstring := ""
	if bodyNode := node.ChildByFieldName("body"); bodyNode != nil {
		body = e.result.NodeText(bodyNode)
		docstring = e.blockDocstring(bodyNode)
	}

	startLine, endLine := nodeLineRange(node)

	metadata := map[string]any{}
	if isAsync {
		metadata["is_async"] = true
	}
	if e.isGenerator(node) {
		metadata["is_generator"] = true
	}
	if decorators := e.decoratorsOf(node); len(decorators) > 0 {
		metadata["decorators"] = decorators
	}
	if className := e.enclosingClassName(node); className != "" {
		metadata["class_name"] = className
	}

	return &model.Entity{
		Kind:      model.KindFunction,
		Name:      name,
		FilePath:  e.filePath,
		StartLine: startLine,
		EndLine:   endLine,
		Signature: signature,
		Docstring: docstring,
		Body:      truncateBody(body),
		Language:  model.LangPython,
		Metadata:  metadata,
	}
}

// extractClass builds a class entity, recording base classes and method
// names in metadata for relationship extraction and embedding content.
func (e *pythonExtractor) extractClass(node *sitter.Node) *model.Entity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := e.result.NodeText(nameNode)

	var bases []string
	if supers := node.ChildByFieldName("superclasses"); supers != nil {
		for i := uint32(0); i < supers.NamedChildCount(); i++ {
			arg := supers.NamedChild(int(i))
			switch arg.Type() {
			case "identifier", "attribute":
				bases = append(bases, e.result.NodeText(arg))
			}
		}
	}

	var methods []string
	body := ""
	docstring := ""
	if bodyNode := node.ChildByFieldName("body"); bodyNode != nil {
		body = e.result.NodeText(bodyNode)
		docstring = e.blockDocstring(bodyNode)
		for _, fn := range collectDescendants(bodyNode, "function_definition") {
			if mn := fn.ChildByFieldName("name"); mn != nil {
				methods = append(methods, e.result.NodeText(mn))
			}
		}
	}

	startLine, endLine := nodeLineRange(node)

	metadata := map[string]any{}
	if len(bases) > 0 {
		metadata["base_classes"] = bases
	}
	if len(methods) > 0 {
		metadata["methods"] = methods
	}
	if decorators := e.decoratorsOf(node); len(decorators) > 0 {
		metadata["decorators"] = decorators
	}

	return &model.Entity{
		Kind:      model.KindClass,
		Name:      name,
		FilePath:  e.filePath,
		StartLine: startLine,
		EndLine:   endLine,
		Signature: "class " + name,
		Docstring: docstring,
		Body:      truncateBody(body),
		Language:  model.LangPython,
		Metadata:  metadata,
	}
}

// extractImports handles both import and from-import statements, recording
// the module name, imported symbols, and aliases.
func (e *pythonExtractor) extractImports() []model.Entity {
	var entities []model.Entity

	for _, node := range e.result.FindNodesByType("import_statement") {
		for i := uint32(0); i < node.NamedChildCount(); i++ {
			child := node.NamedChild(int(i))
			module := ""
			alias := ""
			switch child.Type() {
			case "dotted_name":
				module = e.result.NodeText(child)
			case "aliased_import":
				if nameNode := child.ChildByFieldName("name"); nameNode != nil {
					module = e.result.NodeText(nameNode)
				}
				if aliasNode := child.ChildByFieldName("alias"); aliasNode != nil {
					alias = e.result.NodeText(aliasNode)
				}
			}
			if module == "" {
				continue
			}
			entities = append(entities, e.importEntity(node, module, nil, alias, false))
		}
	}

	for _, node := range e.result.FindNodesByType("import_from_statement") {
		moduleNode := node.ChildByFieldName("module_name")
		if moduleNode == nil {
			continue
		}
		module := e.result.NodeText(moduleNode)

		var symbols []string
		star := false
		for i := uint32(0); i < node.NamedChildCount(); i++ {
			child := node.NamedChild(int(i))
			if child == moduleNode {
				continue
			}
			switch child.Type() {
			case "dotted_name", "identifier":
				symbols = append(symbols, e.result.NodeText(child))
			case "aliased_import":
				if nameNode := child.ChildByFieldName("name"); nameNode != nil {
					symbols = append(symbols, e.result.NodeText(nameNode))
				}
			case "wildcard_import":
				star = true
			}
		}
		entities = append(entities, e.importEntity(node, module, symbols, "", star))
	}

	return entities
}

func (e *pythonExtractor) importEntity(node *sitter.Node, module string, symbols []string, alias string, star bool) model.Entity {
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
	return model.Entity{
		Kind:      model.KindImport,
		Name:      module,
		FilePath:  e.filePath,
		StartLine: startLine,
		EndLine:   endLine,
		Signature: strings.TrimSpace(e.result.NodeText(node)),
		Language:  model.LangPython,
		Metadata:  metadata,
	}
}

// extractModuleVariables extracts assignments at module scope only.
func (e *pythonExtractor) extractModuleVariables() []model.Entity {
	var entities []model.Entity
	root := e.result.Root

	for i := uint32(0); i < root.NamedChildCount(); i++ {
		stmt := root.NamedChild(int(i))
		if stmt.Type() != "expression_statement" {
			continue
		}
		assign := findChildByType(stmt, "assignment")
		if assign == nil {
			continue
		}
		left := assign.ChildByFieldName("left")
		if left == nil || left.Type() != "identifier" {
			continue
		}
		name := e.result.NodeText(left)
		startLine, endLine := nodeLineRange(assign)

		entities = append(entities, model.Entity{
			Kind:      model.KindVariable,
			Name:      name,
			FilePath:  e.filePath,
			StartLine: startLine,
			EndLine:   endLine,
			Body:      truncateBody(e.result.NodeText(assign)),
			Language:  model.LangPython,
			Metadata:  map[string]any{"scope": "module"},
		})
	}

	return entities
}

// blockDocstring returns the first string literal of a block, unquoted.
func (e *pythonExtractor) blockDocstring(block *sitter.Node) string {
	if block.NamedChildCount() == 0 {
		return ""
	}
	first := block.NamedChild(0)
	if first.Type() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str.Type() != "string" {
		return ""
	}
	return unquotePythonString(e.result.NodeText(str))
}

func unquotePythonString(s string) string {
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			return strings.TrimSpace(s[len(q) : len(s)-len(q)])
		}
	}
	return strings.TrimSpace(s)
}

// isAsync reports whether the function_definition carries the async keyword.
func (e *pythonExtractor) isAsync(node *sitter.Node) bool {
	for i := uint32(0); i < node.ChildCount(); i++ {
		if node.Child(int(i)).Type() == "async" {
			return true
		}
	}
	return false
}

// isGenerator reports whether the function body contains a yield outside
// nested functions.
func (e *pythonExtractor) isGenerator(node *sitter.Node) bool {
	bodyNode := node.ChildByFieldName("body")
	if bodyNode == nil {
		return false
	}
	found := false
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if found || n.Type() == "function_definition" {
			return
		}
		if n.Type() == "yield" {
			found = true
			return
		}
		for i := uint32(0); i < n.ChildCount(); i++ {
			walk(n.Child(int(i)))
		}
	}
	for i := uint32(0); i < bodyNode.ChildCount(); i++ {
		walk(bodyNode.Child(int(i)))
	}
	return found
}

// decoratorsOf collects decorator names when the node sits inside a
// decorated_definition.
func (e *pythonExtractor) decoratorsOf(node *sitter.Node) []string {
	parent := node.Parent()
	if parent == nil || parent.Type() != "decorated_definition" {
		return nil
	}
	var decorators []string
	for i := uint32(0); i < parent.NamedChildCount(); i++ {
		child := parent.NamedChild(int(i))
		if child.Type() != "decorator" {
			continue
		}
		text := strings.TrimPrefix(e.result.NodeText(child), "@")
		if idx := strings.IndexByte(text, '('); idx > 0 {
			text = text[:idx]
		}
		decorators = append(decorators, strings.TrimSpace(text))
	}
	return decorators
}

// enclosingClassName returns the nearest class name containing the node.
func (e *pythonExtractor) enclosingClassName(node *sitter.Node) string {
	for parent := node.Parent(); parent != nil; parent = parent.Parent() {
		if parent.Type() == "class_definition" {
			if nameNode := parent.ChildByFieldName("name"); nameNode != nil {
				return e.result.NodeText(nameNode)
			}
		}
	}
	return ""
}

// collectDescendants gathers all descendant nodes of the given type.
func collectDescendants(node *sitter.Node, nodeType string) []*sitter.Node {
	var out []*sitter.Node
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.Type() == nodeType {
			out = append(out, n)
		}
		for i := uint32(0); i < n.ChildCount(); i++ {
			walk(n.Child(int(i)))
		}
	}
	walk(node)
	return out
}
