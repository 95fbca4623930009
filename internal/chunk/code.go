package chunk

import (
	"context"
	"sort"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

// codeSplitter cuts code files on declaration boundaries. Each chunk carries
// the symbol name and type plus the structural metadata the graph extractor
// reads: imports, calls, extends, implements, and the enclosing type.
type codeSplitter struct {
	opts Options

	// tree-sitter parsers are not safe for concurrent use.
	mu     sync.Mutex
	parser *sitter.Parser
}

func newCodeSplitter(opts Options) *codeSplitter {
	return &codeSplitter{opts: opts, parser: sitter.NewParser()}
}

func (s *codeSplitter) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parser != nil {
		s.parser.Close()
		s.parser = nil
	}
}

// declaration is one split unit found in the tree.
type declaration struct {
	node       *sitter.Node
	symbolType string
	name       string
	parent     string
	extends    []string
	implements []string
}

// split parses content and returns one chunk per declaration. Files with no
// recognizable declarations return no chunks so the caller can fall back to
// plain-text splitting.
func (s *codeSplitter) split(ctx context.Context, sourcePath, langName string, content []byte) ([]*store.Chunk, error) {
	lang, ok := languages[langName]
	if !ok {
		return nil, errors.Newf(errors.KindInternal, "no grammar for language %s", langName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.parser == nil {
		return nil, errors.New(errors.KindInternal, "splitter is closed")
	}

	s.parser.SetLanguage(lang.grammar)
	tree, err := s.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, errors.Wrapf(errors.KindInternal, err, "parse %s", sourcePath)
	}
	defer tree.Close()

	root := tree.RootNode()
	imports := collectImports(root, content, lang)
	decls := collectDeclarations(root, content, lang, "")

	var chunks []*store.Chunk
	for _, d := range decls {
		chunks = append(chunks, s.chunksForDeclaration(d, content, lang)...)
	}

	// Imports belong to the file, not a symbol; record them once on the
	// first chunk so re-extraction does not multiply the triples.
	if len(chunks) > 0 && len(imports) > 0 {
		setMeta(chunks[0], store.MetaImports, imports)
	}
	for _, c := range chunks {
		c.SourceType = store.SourceTypeCode
		c.Language = langName
	}
	return chunks, nil
}

// collectDeclarations walks the named children of node gathering split
// units. Container declarations (classes, traits, impl blocks) are kept
// whole unless oversized; their members are also visited so methods carry a
// parent marker.
func collectDeclarations(node *sitter.Node, source []byte, lang *language, parent string) []declaration {
	var out []declaration
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		nodeType := child.Type()

		symbolType, isDecl := lang.decls[nodeType]
		if parent != "" {
			if memberType, isMember := lang.members[nodeType]; isMember {
				symbolType, isDecl = memberType, true
			}
		}
		if !isDecl {
			// Grammars wrap bodies in intermediate nodes
			// (declaration_list, class_body, block); descend through
			// them without changing the parent.
			if nodeType == "declaration_list" || nodeType == "class_body" ||
				nodeType == "block" || nodeType == "body" ||
				nodeType == "field_declaration_list" || nodeType == "export_statement" {
				out = append(out, collectDeclarations(child, source, lang, parent)...)
			}
			continue
		}

		d := declaration{node: child, symbolType: symbolType, parent: parent}
		d.name = declarationName(child, source, lang)
		if d.name == "" {
			continue
		}
		d.extends, d.implements = declarationHeritage(child, source, lang)
		out = append(out, d)

		if lang.isContainer(nodeType) {
			out = append(out, collectDeclarations(child, source, lang, d.name)...)
		}
	}
	return out
}

// chunksForDeclaration renders one declaration into chunks, subdividing when
// the declaration exceeds the token budget.
func (s *codeSplitter) chunksForDeclaration(d declaration, source []byte, lang *language) []*store.Chunk {
	start := commentStart(source, d.node.StartByte())
	text := string(source[start:d.node.EndByte()])
	startLine := lineOfByte(source, start)
	endLine := int(d.node.EndPoint().Row) + 1

	calls := collectCalls(d.node, source, lang, d.name)

	base := func() *store.Chunk {
		c := &store.Chunk{
			SymbolType: d.symbolType,
			SymbolName: d.name,
		}
		if d.parent != "" {
			setMeta(c, store.MetaParent, []string{d.parent})
		}
		return c
	}

	if estimateTokens(text) <= s.opts.ChunkSize {
		c := base()
		c.Text = text
		c.StartLine = startLine
		c.EndLine = endLine
		setMeta(c, store.MetaCalls, calls)
		setMeta(c, store.MetaExtends, d.extends)
		setMeta(c, store.MetaImplements, d.implements)
		return []*store.Chunk{c}
	}

	// Oversized declaration: cut at blank-line block boundaries with
	// line-based carry-forward. Structural metadata stays on the first
	// part only.
	parts := splitOversized(text, s.opts)
	chunks := make([]*store.Chunk, 0, len(parts))
	for i, p := range parts {
		c := base()
		c.Text = p.text
		c.StartLine = startLine + p.startLine
		c.EndLine = startLine + p.endLine
		if i == 0 {
			setMeta(c, store.MetaCalls, calls)
			setMeta(c, store.MetaExtends, d.extends)
			setMeta(c, store.MetaImplements, d.implements)
		}
		chunks = append(chunks, c)
	}
	return chunks
}

// part is one window of an oversized unit; line offsets are relative to the
// unit start.
type part struct {
	text      string
	startLine int
	endLine   int
}

// splitOversized windows text by lines, preferring blank-line boundaries and
// carrying overlap lines forward between windows.
func splitOversized(text string, opts Options) []part {
	lines := strings.Split(text, "\n")

	// Line budgets derived from the token budget at ~80 chars per line.
	maxLines := opts.ChunkSize * tokensPerChar / 80
	if maxLines < 20 {
		maxLines = 20
	}
	overlap := opts.ChunkOverlap * tokensPerChar / 80
	if overlap < 2 {
		overlap = 2
	}

	var parts []part
	for i := 0; i < len(lines); {
		end := i + maxLines
		if end >= len(lines) {
			end = len(lines)
		} else {
			// Prefer ending on a blank line within the trailing quarter
			// of the window.
			for j := end; j > i+maxLines*3/4; j-- {
				if strings.TrimSpace(lines[j-1]) == "" {
					end = j
					break
				}
			}
		}

		parts = append(parts, part{
			text:      strings.Join(lines[i:end], "\n"),
			startLine: i,
			endLine:   end - 1,
		})
		if end >= len(lines) {
			break
		}
		i = end - overlap
		if i < 0 {
			i = 0
		}
	}
	return parts
}

// commentStart extends a declaration start backwards over contiguous
// preceding comment lines so doc comments stay with their symbol.
func commentStart(source []byte, start uint32) uint32 {
	lineStart := int(start)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	for lineStart > 0 {
		prevEnd := lineStart - 1
		prevStart := prevEnd
		for prevStart > 0 && source[prevStart-1] != '\n' {
			prevStart--
		}
		line := strings.TrimSpace(string(source[prevStart:prevEnd]))
		if !isCommentLine(line) {
			break
		}
		lineStart = prevStart
	}
	return uint32(lineStart)
}

func isCommentLine(line string) bool {
	return strings.HasPrefix(line, "//") ||
		strings.HasPrefix(line, "#") ||
		strings.HasPrefix(line, "/*") ||
		strings.HasPrefix(line, "*") ||
		strings.HasPrefix(line, "\"\"\"")
}

// lineOfByte reports the 1-indexed line containing the byte offset.
func lineOfByte(source []byte, offset uint32) int {
	line := 1
	for i := uint32(0); i < offset && int(i) < len(source); i++ {
		if source[i] == '\n' {
			line++
		}
	}
	return line
}

// collectCalls gathers the distinct callee names inside a declaration,
// excluding self-recursion, sorted for stable metadata.
func collectCalls(node *sitter.Node, source []byte, lang *language, self string) []string {
	seen := make(map[string]struct{})
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if lang.isCall(n.Type()) {
			if name := calleeName(n, source); name != "" && name != self {
				seen[name] = struct{}{}
			}
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(node)

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// setMeta stores a comma-joined identifier list, skipping empty lists.
func setMeta(c *store.Chunk, key string, values []string) {
	if len(values) == 0 {
		return
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]string)
	}
	c.Metadata[key] = strings.Join(values, ",")
}
