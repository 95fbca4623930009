package chunk

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
)

// declarationName pulls the identifier that names a declaration node. Most
// grammars expose a "name" field; the rest nest the identifier a level or
// two down.
func declarationName(n *sitter.Node, source []byte, lang *language) string {
	if name := n.ChildByFieldName("name"); name != nil {
		return name.Content(source)
	}

	switch n.Type() {
	case "decorated_definition":
		// Python decorators wrap the definition they decorate.
		if def := n.ChildByFieldName("definition"); def != nil {
			return declarationName(def, source, lang)
		}

	case "type_declaration":
		// Go: type ( Name ... ); the name sits on the type_spec.
		if spec := firstNamedOfType(n, "type_spec"); spec != nil {
			if name := spec.ChildByFieldName("name"); name != nil {
				return name.Content(source)
			}
		}

	case "const_declaration", "var_declaration":
		// Go const/var blocks: name the chunk after the first spec.
		for _, specType := range []string{"const_spec", "var_spec"} {
			if spec := firstNamedOfType(n, specType); spec != nil {
				if name := spec.ChildByFieldName("name"); name != nil {
					return name.Content(source)
				}
			}
		}

	case "lexical_declaration", "variable_declaration":
		// JS/TS: const name = ...
		if decl := firstNamedOfType(n, "variable_declarator"); decl != nil {
			if name := decl.ChildByFieldName("name"); name != nil {
				return name.Content(source)
			}
		}

	case "function_definition", "type_definition":
		// C/C++ bury the identifier inside the declarator chain.
		if decl := n.ChildByFieldName("declarator"); decl != nil {
			return innermostIdentifier(decl, source)
		}

	case "impl_item":
		// Rust: impl Trait for Type — the symbol is the type.
		if typ := n.ChildByFieldName("type"); typ != nil {
			return typ.Content(source)
		}
	}
	return ""
}

// innermostIdentifier descends declarator chains to the naming identifier.
func innermostIdentifier(n *sitter.Node, source []byte) string {
	switch n.Type() {
	case "identifier", "field_identifier", "type_identifier", "qualified_identifier":
		return n.Content(source)
	}
	if decl := n.ChildByFieldName("declarator"); decl != nil {
		return innermostIdentifier(decl, source)
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if name := innermostIdentifier(n.NamedChild(i), source); name != "" {
			return name
		}
	}
	return ""
}

// declarationHeritage reads base classes and implemented interfaces off a
// type declaration.
func declarationHeritage(n *sitter.Node, source []byte, lang *language) (extends, implements []string) {
	switch lang.name {
	case "python":
		// class Name(Base1, Base2):
		if supers := n.ChildByFieldName("superclasses"); supers != nil {
			extends = identifierList(supers, source)
		}

	case "javascript", "typescript", "tsx":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			switch child.Type() {
			case "class_heritage":
				// TS nests extends/implements clauses; JS puts the
				// expression directly under class_heritage.
				ext := typesOfKind(child, source, "extends_clause")
				impl := typesOfKind(child, source, "implements_clause")
				if len(ext) == 0 && len(impl) == 0 {
					ext = identifierList(child, source)
				}
				extends = append(extends, ext...)
				implements = append(implements, impl...)
			case "extends_type_clause":
				// interface A extends B
				extends = append(extends, identifierList(child, source)...)
			}
		}

	case "java":
		if super := n.ChildByFieldName("superclass"); super != nil {
			extends = identifierList(super, source)
		}
		if ifaces := n.ChildByFieldName("interfaces"); ifaces != nil {
			implements = identifierList(ifaces, source)
		}

	case "rust":
		if n.Type() == "impl_item" {
			if trait := n.ChildByFieldName("trait"); trait != nil {
				implements = []string{trait.Content(source)}
			}
		}

	case "cpp":
		if base := firstNamedOfType(n, "base_class_clause"); base != nil {
			extends = identifierList(base, source)
		}

	case "csharp":
		if base := firstNamedOfType(n, "base_list"); base != nil {
			extends = identifierList(base, source)
		}
	}
	return extends, implements
}

// typesOfKind collects identifiers under children of the given clause type.
func typesOfKind(n *sitter.Node, source []byte, clauseType string) []string {
	var out []string
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == clauseType {
			out = append(out, identifierList(child, source)...)
		}
	}
	return out
}

// identifierList collects the identifier-ish named children of a node.
func identifierList(n *sitter.Node, source []byte) []string {
	var out []string
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		switch node.Type() {
		case "identifier", "type_identifier", "scoped_type_identifier", "qualified_name", "generic_type":
			name := node.Content(source)
			// Strip generic arguments: List<T> names List.
			if idx := strings.IndexByte(name, '<'); idx > 0 {
				name = name[:idx]
			}
			out = append(out, strings.TrimSpace(name))
			return
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(n)
	return out
}

// calleeName resolves the called name of a call node, taking the rightmost
// identifier of member and attribute accesses.
func calleeName(call *sitter.Node, source []byte) string {
	// Java puts the name field on the invocation itself.
	if name := call.ChildByFieldName("name"); name != nil {
		return name.Content(source)
	}
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return ""
	}

	switch fn.Type() {
	case "identifier":
		return fn.Content(source)
	case "selector_expression": // Go: pkg.Fn
		if f := fn.ChildByFieldName("field"); f != nil {
			return f.Content(source)
		}
	case "attribute": // Python: obj.method
		if a := fn.ChildByFieldName("attribute"); a != nil {
			return a.Content(source)
		}
	case "member_expression": // JS/TS: obj.method
		if p := fn.ChildByFieldName("property"); p != nil {
			return p.Content(source)
		}
	case "field_expression": // Rust/C++: obj.method
		if f := fn.ChildByFieldName("field"); f != nil {
			return f.Content(source)
		}
	case "member_access_expression": // C#: obj.Method
		if nm := fn.ChildByFieldName("name"); nm != nil {
			return nm.Content(source)
		}
	case "scoped_identifier": // Rust: mod::fn
		if nm := fn.ChildByFieldName("name"); nm != nil {
			return nm.Content(source)
		}
	}
	return ""
}

// collectImports gathers the module names a file imports, in source order.
func collectImports(root *sitter.Node, source []byte, lang *language) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(name string) {
		name = strings.Trim(strings.TrimSpace(name), `"'<>`)
		if name == "" {
			return
		}
		if _, dup := seen[name]; dup {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if !lang.isImport(child.Type()) {
			continue
		}

		switch lang.name {
		case "go":
			// Single import or a parenthesized block of import_specs.
			for _, lit := range namedDescendantsOfType(child, "interpreted_string_literal") {
				add(lit.Content(source))
			}
		case "python":
			if mod := child.ChildByFieldName("module_name"); mod != nil {
				add(mod.Content(source))
				continue
			}
			for _, name := range namedDescendantsOfType(child, "dotted_name") {
				add(name.Content(source))
			}
		case "javascript", "typescript", "tsx":
			if src := child.ChildByFieldName("source"); src != nil {
				add(src.Content(source))
			}
		case "java", "csharp":
			for _, id := range namedDescendantsOfType(child, "scoped_identifier", "qualified_name", "identifier") {
				add(id.Content(source))
				break
			}
		case "rust":
			if arg := child.ChildByFieldName("argument"); arg != nil {
				add(arg.Content(source))
			}
		case "c", "cpp":
			if path := child.ChildByFieldName("path"); path != nil {
				add(path.Content(source))
			}
		}
	}
	return out
}

// namedDescendantsOfType walks the subtree collecting nodes of the given
// types.
func namedDescendantsOfType(n *sitter.Node, types ...string) []*sitter.Node {
	var out []*sitter.Node
	var walk func(node *sitter.Node)
	walk = func(node *sitter.Node) {
		for _, t := range types {
			if node.Type() == t {
				out = append(out, node)
				break
			}
		}
		for i := 0; i < int(node.NamedChildCount()); i++ {
			walk(node.NamedChild(i))
		}
	}
	walk(n)
	return out
}

func firstNamedOfType(n *sitter.Node, nodeType string) *sitter.Node {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if child := n.NamedChild(i); child.Type() == nodeType {
			return child
		}
	}
	return nil
}
