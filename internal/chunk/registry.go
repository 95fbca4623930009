package chunk

import (
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// language describes how one grammar maps onto chunk boundaries and symbol
// metadata. decls maps top-level declaration node types to symbol types;
// members maps node types that only count as declarations inside a type
// body (methods). callNodes and importNodes drive the metadata walkers.
type language struct {
	name    string
	grammar *sitter.Language

	decls   map[string]string
	members map[string]string

	importNodes []string
	callNodes   []string

	// containerTypes are the decl node types whose bodies are searched for
	// member declarations and whose name becomes the member's parent.
	containerTypes []string
}

var languages = map[string]*language{
	"go": {
		name:    "go",
		grammar: golang.GetLanguage(),
		decls: map[string]string{
			"function_declaration": "function",
			"method_declaration":   "method",
			"type_declaration":     "type",
			"const_declaration":    "constant",
			"var_declaration":      "variable",
		},
		importNodes: []string{"import_declaration"},
		callNodes:   []string{"call_expression"},
	},
	"python": {
		name:    "python",
		grammar: python.GetLanguage(),
		decls: map[string]string{
			"function_definition":  "function",
			"class_definition":     "class",
			"decorated_definition": "function",
		},
		members: map[string]string{
			"function_definition":  "method",
			"decorated_definition": "method",
		},
		importNodes:    []string{"import_statement", "import_from_statement"},
		callNodes:      []string{"call"},
		containerTypes: []string{"class_definition"},
	},
	"javascript": {
		name:    "javascript",
		grammar: javascript.GetLanguage(),
		decls: map[string]string{
			"function_declaration":           "function",
			"generator_function_declaration": "function",
			"class_declaration":              "class",
			"lexical_declaration":            "variable",
			"variable_declaration":           "variable",
		},
		members: map[string]string{
			"method_definition": "method",
		},
		importNodes:    []string{"import_statement"},
		callNodes:      []string{"call_expression"},
		containerTypes: []string{"class_declaration"},
	},
	"typescript": {
		name:    "typescript",
		grammar: typescript.GetLanguage(),
		decls: map[string]string{
			"function_declaration":   "function",
			"class_declaration":      "class",
			"interface_declaration":  "interface",
			"type_alias_declaration": "type",
			"enum_declaration":       "enum",
			"lexical_declaration":    "variable",
			"variable_declaration":   "variable",
		},
		members: map[string]string{
			"method_definition": "method",
		},
		importNodes:    []string{"import_statement"},
		callNodes:      []string{"call_expression"},
		containerTypes: []string{"class_declaration"},
	},
	"tsx": {
		name:    "tsx",
		grammar: tsx.GetLanguage(),
		decls: map[string]string{
			"function_declaration":   "function",
			"class_declaration":      "class",
			"interface_declaration":  "interface",
			"type_alias_declaration": "type",
			"enum_declaration":       "enum",
			"lexical_declaration":    "variable",
			"variable_declaration":   "variable",
		},
		members: map[string]string{
			"method_definition": "method",
		},
		importNodes:    []string{"import_statement"},
		callNodes:      []string{"call_expression"},
		containerTypes: []string{"class_declaration"},
	},
	"java": {
		name:    "java",
		grammar: java.GetLanguage(),
		decls: map[string]string{
			"class_declaration":     "class",
			"interface_declaration": "interface",
			"enum_declaration":      "enum",
		},
		members: map[string]string{
			"method_declaration":      "method",
			"constructor_declaration": "method",
		},
		importNodes:    []string{"import_declaration"},
		callNodes:      []string{"method_invocation"},
		containerTypes: []string{"class_declaration", "interface_declaration", "enum_declaration"},
	},
	"rust": {
		name:    "rust",
		grammar: rust.GetLanguage(),
		decls: map[string]string{
			"function_item": "function",
			"struct_item":   "struct",
			"enum_item":     "enum",
			"trait_item":    "interface",
			"impl_item":     "class",
			"type_item":     "type",
			"const_item":    "constant",
			"static_item":   "variable",
			"mod_item":      "module",
		},
		members: map[string]string{
			"function_item": "method",
		},
		importNodes:    []string{"use_declaration"},
		callNodes:      []string{"call_expression"},
		containerTypes: []string{"impl_item", "trait_item"},
	},
	"c": {
		name:    "c",
		grammar: c.GetLanguage(),
		decls: map[string]string{
			"function_definition": "function",
			"struct_specifier":    "struct",
			"enum_specifier":      "enum",
			"type_definition":     "type",
		},
		importNodes: []string{"preproc_include"},
		callNodes:   []string{"call_expression"},
	},
	"cpp": {
		name:    "cpp",
		grammar: cpp.GetLanguage(),
		decls: map[string]string{
			"function_definition":  "function",
			"class_specifier":      "class",
			"struct_specifier":     "struct",
			"enum_specifier":       "enum",
			"type_definition":      "type",
			"namespace_definition": "module",
		},
		members: map[string]string{
			"function_definition": "method",
		},
		importNodes:    []string{"preproc_include"},
		callNodes:      []string{"call_expression"},
		containerTypes: []string{"class_specifier", "struct_specifier"},
	},
	"csharp": {
		name:    "csharp",
		grammar: csharp.GetLanguage(),
		decls: map[string]string{
			"class_declaration":     "class",
			"interface_declaration": "interface",
			"struct_declaration":    "struct",
			"enum_declaration":      "enum",
			"record_declaration":    "class",
		},
		members: map[string]string{
			"method_declaration":      "method",
			"constructor_declaration": "method",
		},
		importNodes:    []string{"using_directive"},
		callNodes:      []string{"invocation_expression"},
		containerTypes: []string{"class_declaration", "interface_declaration", "struct_declaration", "record_declaration"},
	},
}

// SupportedLanguages lists the code languages the splitter parses.
func SupportedLanguages() []string {
	out := make([]string, 0, len(languages))
	for name := range languages {
		out = append(out, name)
	}
	return out
}

func (l *language) isContainer(nodeType string) bool {
	for _, t := range l.containerTypes {
		if t == nodeType {
			return true
		}
	}
	return false
}

func (l *language) isImport(nodeType string) bool {
	for _, t := range l.importNodes {
		if t == nodeType {
			return true
		}
	}
	return false
}

func (l *language) isCall(nodeType string) bool {
	for _, t := range l.callNodes {
		if t == nodeType {
			return true
		}
	}
	return false
}
