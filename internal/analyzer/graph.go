package analyzer

import (
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/codeatlas/atlas/internal/apperr"
	"github.com/codeatlas/atlas/internal/parser"
)

// moduleNodeID anchors every snippet graph; top-level statements hang off
// it.
const moduleNodeID = "module:main"

// callGraph parses the snippet and runs the two collection passes.
func (a *Analyzer) callGraph(code string) (*GraphResult, error) {
	p, err := parser.NewParser(parser.Python)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, "create python parser", err)
	}
	defer p.Close()

	parsed, err := p.Parse([]byte(code))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeParse, "parse snippet", err)
	}
	defer parsed.Tree.Close()
	if parsed.HasErrors() {
		return nil, apperr.New(apperr.CodeInvalidRequest, "snippet contains syntax errors")
	}

	defs := newDefinitionCollector(parsed.Source)
	defs.walk(parsed.Root)

	edges := newEdgeCollector(defs)
	edges.walk(parsed.Root)

	nodes := make([]Node, 0, len(edges.nodes))
	for _, node := range edges.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].Line != nodes[j].Line {
			return nodes[i].Line < nodes[j].Line
		}
		return nodes[i].ID < nodes[j].ID
	})

	out := make([]Edge, 0, len(edges.edges))
	for edge := range edges.edges {
		out = append(out, edge)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].To != out[j].To {
			return out[i].To < out[j].To
		}
		return out[i].Type < out[j].Type
	})

	return &GraphResult{Nodes: nodes, Edges: out}, nil
}

type scopeEntry struct {
	kind string // module | class | function
	name string
	id   string
}

// definitionCollector assigns a stable id to every function, class, and
// method, tracking a scope stack for qualified names.
type definitionCollector struct {
	source    []byte
	nodes     map[string]Node
	nameToIDs map[string][]string
	scope     []scopeEntry
}

func newDefinitionCollector(source []byte) *definitionCollector {
	c := &definitionCollector{
		source:    source,
		nodes:     map[string]Node{},
		nameToIDs: map[string][]string{},
		scope:     []scopeEntry{{kind: "module", name: "main", id: moduleNodeID}},
	}
	c.add(moduleNodeID, "main", "module", 1)
	return c
}

func (c *definitionCollector) add(id, name, nodeType string, line int) {
	if _, ok := c.nodes[id]; ok {
		return
	}
	if line < 1 {
		line = 1
	}
	c.nodes[id] = Node{ID: id, Name: name, Type: nodeType, Line: line}
	short := lastDotted(name)
	c.nameToIDs[short] = append(c.nameToIDs[short], id)
}

func (c *definitionCollector) qualified(name string) string {
	var parts []string
	for _, entry := range c.scope {
		if entry.kind != "module" {
			parts = append(parts, entry.name)
		}
	}
	parts = append(parts, name)
	return strings.Join(parts, ".")
}

func (c *definitionCollector) inClass() bool {
	for _, entry := range c.scope {
		if entry.kind == "class" {
			return true
		}
	}
	return false
}

func (c *definitionCollector) walk(node *sitter.Node) {
	switch node.Type() {
	case "class_definition":
		name := c.text(node.ChildByFieldName("name"))
		qname := c.qualified(name)
		id := "class:" + qname
		c.add(id, qname, "class", line(node))

		c.scope = append(c.scope, scopeEntry{kind: "class", name: name, id: id})
		c.walkChildren(node)
		c.scope = c.scope[:len(c.scope)-1]
		return
	case "function_definition":
		name := c.text(node.ChildByFieldName("name"))
		qname := c.qualified(name)
		prefix, nodeType := "func", "function"
		if c.inClass() {
			prefix, nodeType = "method", "method"
		}
		id := prefix + ":" + qname
		c.add(id, qname, nodeType, line(node))

		c.scope = append(c.scope, scopeEntry{kind: "function", name: name, id: id})
		c.walkChildren(node)
		c.scope = c.scope[:len(c.scope)-1]
		return
	}
	c.walkChildren(node)
}

func (c *definitionCollector) walkChildren(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		c.walk(node.Child(i))
	}
}

func (c *definitionCollector) text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return node.Content(c.source)
}

// edgeCollector resolves calls, imports, and inheritance against the
// collected definitions, adding external nodes on demand.
type edgeCollector struct {
	source        []byte
	nodes         map[string]Node
	nameToIDs     map[string][]string
	edges         map[Edge]struct{}
	scope         []string
	importAliases map[string]string
	classNames    map[string]string
}

func newEdgeCollector(defs *definitionCollector) *edgeCollector {
	classNames := map[string]string{}
	for id, node := range defs.nodes {
		if strings.HasPrefix(id, "class:") {
			classNames[node.Name] = id
		}
	}
	return &edgeCollector{
		source:        defs.source,
		nodes:         defs.nodes,
		nameToIDs:     defs.nameToIDs,
		edges:         map[Edge]struct{}{},
		scope:         []string{moduleNodeID},
		importAliases: map[string]string{},
		classNames:    classNames,
	}
}

func (c *edgeCollector) currentScope() string {
	return c.scope[len(c.scope)-1]
}

func (c *edgeCollector) currentClassID() string {
	for i := len(c.scope) - 1; i >= 0; i-- {
		if strings.HasPrefix(c.scope[i], "class:") {
			return c.scope[i]
		}
	}
	return ""
}

func (c *edgeCollector) ensureExternal(rawName, nodeType string) string {
	clean := strings.TrimSpace(rawName)
	if clean == "" {
		clean = "unknown"
	}
	var id string
	switch nodeType {
	case "module":
		id = "module:" + clean
	case "class":
		id = "external_class:" + clean
	default:
		nodeType = "function"
		id = "external_func:" + clean
	}
	if _, ok := c.nodes[id]; !ok {
		c.nodes[id] = Node{ID: id, Name: clean, Type: nodeType, Line: 0}
	}
	return id
}

func (c *edgeCollector) addEdge(source, target, edgeType string) {
	if source == "" || target == "" {
		return
	}
	if _, ok := c.nodes[source]; !ok {
		return
	}
	if _, ok := c.nodes[target]; !ok {
		return
	}
	c.edges[Edge{From: source, To: target, Type: edgeType}] = struct{}{}
}

// resolveName picks the best candidate for a bare name: nearest enclosing
// scope wins, with a strong bonus for methods of the current class.
func (c *edgeCollector) resolveName(name string) string {
	candidates := c.nameToIDs[name]
	if len(candidates) == 0 {
		return ""
	}

	currentClassName := ""
	if classID := c.currentClassID(); classID != "" {
		currentClassName = c.nodes[classID].Name
	}

	bestScore := -1 << 30
	bestDepth := -1 << 30
	best := ""
	for _, candidateID := range candidates {
		candidateName := c.nodes[candidateID].Name

		lexical := -1
		for idx := len(c.scope) - 1; idx >= 0; idx-- {
			scopeName := c.nodes[c.scope[idx]].Name
			if candidateName == scopeName+"."+name {
				if score := idx + 1; score > lexical {
					lexical = score
				}
			}
		}
		if candidateName == name && lexical < 0 {
			lexical = 0
		}

		classBonus := 0
		if currentClassName != "" && strings.HasPrefix(candidateID, "method:") &&
			strings.HasPrefix(candidateName, currentClassName+".") {
			classBonus = 100
		}

		score := lexical + classBonus
		depth := -len(strings.Split(candidateName, "."))
		if score > bestScore || (score == bestScore && depth > bestDepth) {
			bestScore, bestDepth, best = score, depth, candidateID
		}
	}
	return best
}

// resolveAttributeCall handles Root.Tail(...) conservatively: a known
// class root binds to its method, a known import alias becomes an
// external function, anything else stays unresolved.
func (c *edgeCollector) resolveAttributeCall(root, tail string) string {
	short := lastDotted(tail)

	if classID, ok := c.classNames[root]; ok {
		methodID := "method:" + c.nodes[classID].Name + "." + short
		if _, ok := c.nodes[methodID]; ok {
			return methodID
		}
	}
	if aliasTarget, ok := c.importAliases[root]; ok {
		return c.ensureExternal(aliasTarget+"."+tail, "function")
	}
	return ""
}

func (c *edgeCollector) walk(node *sitter.Node) {
	switch node.Type() {
	case "import_statement":
		c.collectImport(node)
	case "import_from_statement":
		c.collectImportFrom(node)
	case "class_definition":
		c.enterClass(node)
		return
	case "function_definition":
		c.enterFunction(node)
		return
	case "call":
		c.collectCall(node)
	}
	c.walkChildren(node)
}

func (c *edgeCollector) walkChildren(node *sitter.Node) {
	for i := 0; i < int(node.ChildCount()); i++ {
		c.walk(node.Child(i))
	}
}

// collectImport handles `import a.b` and `import a.b as c`.
func (c *edgeCollector) collectImport(node *sitter.Node) {
	source := c.currentScope()
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			moduleName := c.text(child)
			c.addEdge(source, c.ensureExternal(moduleName, "module"), "imports")
			c.importAliases[firstDotted(moduleName)] = moduleName
		case "aliased_import":
			moduleName := c.text(child.ChildByFieldName("name"))
			alias := c.text(child.ChildByFieldName("alias"))
			c.addEdge(source, c.ensureExternal(moduleName, "module"), "imports")
			if alias == "" {
				alias = firstDotted(moduleName)
			}
			c.importAliases[alias] = moduleName
		}
	}
}

// collectImportFrom handles `from a.b import c [as d]`.
func (c *edgeCollector) collectImportFrom(node *sitter.Node) {
	source := c.currentScope()
	moduleNode := node.ChildByFieldName("module_name")
	moduleName := c.text(moduleNode)
	if moduleName != "" {
		c.addEdge(source, c.ensureExternal(moduleName, "module"), "imports")
	}

	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if moduleNode != nil && child.Equal(moduleNode) {
			continue
		}
		switch child.Type() {
		case "dotted_name":
			name := c.text(child)
			if moduleName != "" {
				c.importAliases[name] = moduleName + "." + name
			}
		case "aliased_import":
			name := c.text(child.ChildByFieldName("name"))
			alias := c.text(child.ChildByFieldName("alias"))
			if alias == "" {
				alias = name
			}
			if moduleName != "" {
				c.importAliases[alias] = moduleName + "." + name
			}
		}
	}
}

func (c *edgeCollector) enterClass(node *sitter.Node) {
	name := c.text(node.ChildByFieldName("name"))
	var qnameParts []string
	for _, sid := range c.scope[1:] {
		qnameParts = append(qnameParts, lastDotted(c.nodes[sid].Name))
	}
	qnameParts = append(qnameParts, name)
	currentID := "class:" + strings.Join(qnameParts, ".")

	if _, ok := c.nodes[currentID]; ok {
		if superclasses := node.ChildByFieldName("superclasses"); superclasses != nil {
			for i := 0; i < int(superclasses.NamedChildCount()); i++ {
				base := superclasses.NamedChild(i)
				baseName := ""
				switch base.Type() {
				case "identifier", "attribute":
					baseName = c.text(base)
				}
				if baseName == "" {
					continue
				}
				targetID := c.resolveName(lastDotted(baseName))
				if targetID == "" {
					targetID = c.ensureExternal(baseName, "class")
				}
				c.addEdge(currentID, targetID, "extends")
			}
		}
	}

	c.scope = append(c.scope, currentID)
	c.walkChildren(node)
	c.scope = c.scope[:len(c.scope)-1]
}

func (c *edgeCollector) enterFunction(node *sitter.Node) {
	name := c.text(node.ChildByFieldName("name"))
	parent := c.currentScope()

	var currentID string
	if strings.HasPrefix(parent, "class:") {
		currentID = "method:" + c.nodes[parent].Name + "." + name
	} else if strings.HasPrefix(parent, "func:") || strings.HasPrefix(parent, "method:") {
		currentID = "func:" + c.nodes[parent].Name + "." + name
	} else {
		currentID = "func:" + name
	}

	if _, ok := c.nodes[currentID]; ok {
		c.scope = append(c.scope, currentID)
		c.walkChildren(node)
		c.scope = c.scope[:len(c.scope)-1]
		return
	}
	c.walkChildren(node)
}

func (c *edgeCollector) collectCall(node *sitter.Node) {
	source := c.currentScope()
	callName := c.callName(node.ChildByFieldName("function"))
	if callName == "" {
		return
	}

	var targetID string
	if root, tail, dotted := strings.Cut(callName, "."); dotted {
		if root == "self" || root == "cls" {
			if classID := c.currentClassID(); classID != "" {
				methodID := "method:" + c.nodes[classID].Name + "." + lastDotted(tail)
				if _, ok := c.nodes[methodID]; ok {
					targetID = methodID
				}
			}
			if targetID == "" {
				targetID = c.resolveName(lastDotted(tail))
			}
		} else {
			targetID = c.resolveAttributeCall(root, tail)
		}
	} else if aliasTarget, ok := c.importAliases[callName]; ok {
		targetID = c.ensureExternal(aliasTarget, "function")
	} else {
		targetID = c.resolveName(callName)
	}

	if targetID == "" {
		targetID = c.ensureExternal(callName, "function")
	}
	c.addEdge(source, targetID, "calls")
}

// callName flattens the call target into a dotted name; subscript or call
// roots yield empty.
func (c *edgeCollector) callName(fn *sitter.Node) string {
	if fn == nil {
		return ""
	}
	switch fn.Type() {
	case "identifier":
		return c.text(fn)
	case "attribute":
		var parts []string
		cur := fn
		for cur != nil && cur.Type() == "attribute" {
			parts = append(parts, c.text(cur.ChildByFieldName("attribute")))
			cur = cur.ChildByFieldName("object")
		}
		if cur == nil || cur.Type() != "identifier" {
			return ""
		}
		parts = append(parts, c.text(cur))
		for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
			parts[i], parts[j] = parts[j], parts[i]
		}
		return strings.Join(parts, ".")
	}
	return ""
}

func (c *edgeCollector) text(node *sitter.Node) string {
	if node == nil {
		return ""
	}
	return node.Content(c.source)
}

func line(node *sitter.Node) int {
	return int(node.StartPoint().Row) + 1
}

func lastDotted(name string) string {
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

func firstDotted(name string) string {
	if idx := strings.IndexByte(name, '.'); idx >= 0 {
		return name[:idx]
	}
	return name
}
