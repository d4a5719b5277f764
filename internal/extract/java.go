package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/codeatlas/atlas/internal/model"
	"github.com/codeatlas/atlas/internal/parser"
)

// javaExtractor extracts entities from a parsed Java AST.
type javaExtractor struct {
	result   *parser.ParseResult
	filePath string
}

func newJavaExtractor(result *parser.ParseResult, filePath string) *javaExtractor {
	return &javaExtractor{result: result, filePath: filePath}
}

func (e *javaExtractor) extract() []model.Entity {
	var entities []model.Entity

	for _, node := range e.result.FindNodesByType("class_declaration") {
		if entity := e.extractClass(node); entity != nil {
			entities = append(entities, *entity)
		}
	}

	for _, node := range e.result.FindNodesByType("interface_declaration") {
		if entity := e.extractInterface(node); entity != nil {
			entities = append(entities, *entity)
		}
	}

	for _, node := range e.result.FindNodesByType("method_declaration") {
		if entity := e.extractMethod(node); entity != nil {
			entities = append(entities, *entity)
		}
	}

	for _, node := range e.result.FindNodesByType("constructor_declaration") {
		if entity := e.extractMethod(node); entity != nil {
			entities = append(entities, *entity)
		}
	}

	entities = append(entities, e.extractFields()...)
	entities = append(entities, e.extractImports()...)

	return entities
}

func (e *javaExtractor) extractClass(node *sitter.Node) *model.Entity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := e.result.NodeText(nameNode)

	var bases []string
	if superclass := node.ChildByFieldName("superclass"); superclass != nil {
		for i := uint32(0); i < superclass.NamedChildCount(); i++ {
			bases = append(bases, e.result.NodeText(superclass.NamedChild(int(i))))
		}
	}

	var implements []string
	if interfaces := node.ChildByFieldName("interfaces"); interfaces != nil {
		if typeList := findChildByType(interfaces, "type_list"); typeList != nil {
			for i := uint32(0); i < typeList.NamedChildCount(); i++ {
				implements = append(implements, e.result.NodeText(typeList.NamedChild(int(i))))
			}
		}
	}

	var methods []string
	body := ""
	if bodyNode := node.ChildByFieldName("body"); bodyNode != nil {
		body = e.result.NodeText(bodyNode)
		for _, m := range collectDescendants(bodyNode, "method_declaration") {
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
		Docstring: e.precedingJavadoc(node),
		Body:      truncateBody(body),
		Language:  model.LangJava,
		Metadata:  metadata,
	}
}

func (e *javaExtractor) extractInterface(node *sitter.Node) *model.Entity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := e.result.NodeText(nameNode)

	var bases []string
	if extendsNode := findChildByType(node, "extends_interfaces"); extendsNode != nil {
		if typeList := findChildByType(extendsNode, "type_list"); typeList != nil {
			for i := uint32(0); i < typeList.NamedChildCount(); i++ {
				bases = append(bases, e.result.NodeText(typeList.NamedChild(int(i))))
			}
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
		Docstring: e.precedingJavadoc(node),
		Body:      truncateBody(e.result.NodeText(node)),
		Language:  model.LangJava,
		Metadata:  metadata,
	}
}

func (e *javaExtractor) extractMethod(node *sitter.Node) *model.Entity {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := e.result.NodeText(nameNode)

	params := ""
	if paramsNode := node.ChildByFieldName("parameters"); paramsNode != nil {
		params = e.result.NodeText(paramsNode)
	}
	signature := name + params
	if typeNode := node.ChildByFieldName("type"); typeNode != nil {
		signature = e.result.NodeText(typeNode) + " " + signature
	}

	metadata := map[string]any{}
	if className := e.enclosingTypeName(node); className != "" {
		metadata["class_name"] = className
	}
	if node.Type() == "constructor_declaration" {
		metadata["is_constructor"] = true
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
		Docstring: e.precedingJavadoc(node),
		Body:      truncateBody(body),
		Language:  model.LangJava,
		Metadata:  metadata,
	}
}

// extractFields records class-level fields as variable entities.
func (e *javaExtractor) extractFields() []model.Entity {
	var entities []model.Entity

	for _, node := range e.result.FindNodesByType("field_declaration") {
		declarator := findChildByType(node, "variable_declarator")
		if declarator == nil {
			continue
		}
		nameNode := declarator.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := e.result.NodeText(nameNode)

		metadata := map[string]any{"scope": "class"}
		if className := e.enclosingTypeName(node); className != "" {
			metadata["class_name"] = className
		}

		startLine, endLine := nodeLineRange(node)
		entities = append(entities, model.Entity{
			Kind:      model.KindVariable,
			Name:      name,
			FilePath:  e.filePath,
			StartLine: startLine,
			EndLine:   endLine,
			Body:      truncateBody(e.result.NodeText(node)),
			Language:  model.LangJava,
			Metadata:  metadata,
		})
	}

	return entities
}

func (e *javaExtractor) extractImports() []model.Entity {
	var entities []model.Entity

	for _, node := range e.result.FindNodesByType("import_declaration") {
		var module string
		star := false
		for i := uint32(0); i < node.NamedChildCount(); i++ {
			child := node.NamedChild(int(i))
			switch child.Type() {
			case "scoped_identifier", "identifier":
				module = e.result.NodeText(child)
			case "asterisk":
				star = true
			}
		}
		if module == "" {
			continue
		}

		startLine, endLine := nodeLineRange(node)
		metadata := map[string]any{"module": module}
		if star {
			metadata["star_import"] = true
		}
		if findChildByType(node, "static") != nil {
			metadata["static"] = true
		}

		entities = append(entities, model.Entity{
			Kind:      model.KindImport,
			Name:      module,
			FilePath:  e.filePath,
			StartLine: startLine,
			EndLine:   endLine,
			Signature: strings.TrimSpace(e.result.NodeText(node)),
			Language:  model.LangJava,
			Metadata:  metadata,
		})
	}

	return entities
}

// precedingJavadoc returns the block comment immediately above the node.
func (e *javaExtractor) precedingJavadoc(node *sitter.Node) string {
	prev := node.PrevSibling()
	if prev == nil {
		return ""
	}
	if prev.Type() != "block_comment" && prev.Type() != "line_comment" && prev.Type() != "comment" {
		return ""
	}
	if int(node.StartPoint().Row)-int(prev.EndPoint().Row) > 1 {
		return ""
	}
	return cleanComment(e.result.NodeText(prev))
}

// enclosingTypeName returns the nearest class or interface name containing
// the node.
func (e *javaExtractor) enclosingTypeName(node *sitter.Node) string {
	for parent := node.Parent(); parent != nil; parent = parent.Parent() {
		switch parent.Type() {
		case "class_declaration", "interface_declaration", "enum_declaration":
			if nameNode := parent.ChildByFieldName("name"); nameNode != nil {
				return e.result.NodeText(nameNode)
			}
		}
	}
	return ""
}
