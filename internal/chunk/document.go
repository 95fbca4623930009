package chunk

import (
	"strings"
	"unicode"

	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

// documentSplitter packs prose into token-budgeted chunks on paragraph and
// heading boundaries. Oversized paragraphs are cut at sentence ends, and the
// tail sentences of each chunk carry forward into the next as overlap.
type documentSplitter struct {
	opts Options
}

func newDocumentSplitter(opts Options) *documentSplitter {
	return &documentSplitter{opts: opts}
}

// block is one paragraph, heading section start, or fenced code block.
type block struct {
	text      string
	startLine int // 1-indexed
	endLine   int
	heading   string // markdown heading path in effect
	isHeading bool   // block starts a new section
}

// splitText chunks plain prose with no heading structure.
func (s *documentSplitter) splitText(sourceType, language, text string) []*store.Chunk {
	blocks := parseBlocks(text, false)
	chunks := s.pack(blocks)
	for _, c := range chunks {
		c.SourceType = sourceType
		c.Language = language
	}
	return chunks
}

// splitMarkdown chunks markdown, tracking the heading path so every chunk
// records which section it came from.
func (s *documentSplitter) splitMarkdown(text string) []*store.Chunk {
	blocks := parseBlocks(text, true)
	chunks := s.pack(blocks)
	for _, c := range chunks {
		c.SourceType = store.SourceTypeDocument
		c.Language = "markdown"
	}
	return chunks
}

// parseBlocks splits text into paragraphs separated by blank lines. Fenced
// code blocks stay whole. With markdown enabled, heading lines update the
// heading path and mark section starts.
func parseBlocks(text string, markdown bool) []block {
	lines := strings.Split(text, "\n")

	var blocks []block
	var headingStack [6]string
	var cur []string
	curStart := 0
	curHeading := ""
	curIsHeading := false
	inFence := false

	flush := func(endLine int) {
		joined := strings.TrimRight(strings.Join(cur, "\n"), "\n ")
		if strings.TrimSpace(joined) != "" {
			blocks = append(blocks, block{
				text:      joined,
				startLine: curStart + 1,
				endLine:   endLine,
				heading:   curHeading,
				isHeading: curIsHeading,
			})
		}
		cur = nil
		curIsHeading = false
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			if len(cur) == 0 {
				curStart = i
			}
			cur = append(cur, line)
			if !inFence {
				flush(i + 1)
			}
			continue
		}
		if inFence {
			cur = append(cur, line)
			continue
		}

		if markdown {
			if level, title, ok := headingLine(trimmed); ok {
				flush(i)
				headingStack[level-1] = title
				for j := level; j < len(headingStack); j++ {
					headingStack[j] = ""
				}
				var parts []string
				for _, h := range headingStack[:level] {
					if h != "" {
						parts = append(parts, h)
					}
				}
				curHeading = strings.Join(parts, " > ")
				curStart = i
				curIsHeading = true
				cur = append(cur, line)
				continue
			}
		}

		if trimmed == "" {
			flush(i)
			continue
		}
		if len(cur) == 0 {
			curStart = i
		}
		cur = append(cur, line)
	}
	flush(len(lines))
	return blocks
}

// headingLine parses an ATX heading, reporting its level and title.
func headingLine(line string) (level int, title string, ok bool) {
	if !strings.HasPrefix(line, "#") {
		return 0, "", false
	}
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level > 6 || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	return level, strings.TrimSpace(line[level:]), true
}

// pack accumulates blocks into chunks within the token budget. A heading
// block always starts a new chunk; blocks that alone exceed the budget are
// cut at sentence boundaries.
func (s *documentSplitter) pack(blocks []block) []*store.Chunk {
	var chunks []*store.Chunk

	var cur strings.Builder
	var overlapText string
	curStart, curEnd := 0, 0
	curHeading := ""

	flush := func() {
		text := strings.TrimSpace(cur.String())
		if text == "" {
			return
		}
		c := &store.Chunk{
			Text:      text,
			StartLine: curStart,
			EndLine:   curEnd,
		}
		if curHeading != "" {
			setMeta(c, store.MetaHeading, []string{curHeading})
		}
		chunks = append(chunks, c)

		overlapText = tailSentences(text, s.opts.ChunkOverlap)
		cur.Reset()
	}

	appendBlock := func(text string, startLine, endLine int) {
		if cur.Len() == 0 {
			curStart = startLine
			if overlapText != "" && overlapText != text {
				cur.WriteString(overlapText)
				cur.WriteString("\n\n")
			}
		} else {
			cur.WriteString("\n\n")
		}
		cur.WriteString(text)
		curEnd = endLine
	}

	for _, b := range blocks {
		if b.isHeading && cur.Len() > 0 {
			flush()
			// Overlap never crosses a section boundary.
			overlapText = ""
		}
		if cur.Len() == 0 {
			curHeading = b.heading
		}

		if estimateTokens(b.text) > s.opts.ChunkSize {
			// Oversized paragraph: emit what we have, then sentence-cut
			// the block into budget-sized chunks.
			for _, piece := range sentenceCut(b.text, s.opts.ChunkSize) {
				if cur.Len() > 0 && estimateTokens(cur.String())+estimateTokens(piece) > s.opts.ChunkSize {
					flush()
				}
				appendBlock(piece, b.startLine, b.endLine)
			}
			continue
		}

		if cur.Len() > 0 && estimateTokens(cur.String())+estimateTokens(b.text) > s.opts.ChunkSize {
			flush()
		}
		appendBlock(b.text, b.startLine, b.endLine)
	}
	flush()
	return chunks
}

// sentenceCut splits text into pieces of at most budget tokens, cutting only
// at sentence ends. A single sentence over budget stays whole.
func sentenceCut(text string, budget int) []string {
	sentences := splitSentences(text)
	var pieces []string
	var cur strings.Builder
	for _, sent := range sentences {
		if cur.Len() > 0 && estimateTokens(cur.String())+estimateTokens(sent) > budget {
			pieces = append(pieces, strings.TrimSpace(cur.String()))
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString(" ")
		}
		cur.WriteString(sent)
	}
	if cur.Len() > 0 {
		pieces = append(pieces, strings.TrimSpace(cur.String()))
	}
	return pieces
}

// tailSentences returns the trailing sentences of text within the overlap
// budget, for carry-forward context.
func tailSentences(text string, budget int) string {
	sentences := splitSentences(text)
	var out []string
	total := 0
	for i := len(sentences) - 1; i >= 0; i-- {
		t := estimateTokens(sentences[i])
		if total+t > budget && len(out) > 0 {
			break
		}
		if total+t > budget {
			return ""
		}
		out = append([]string{sentences[i]}, out...)
		total += t
	}
	if len(out) == len(sentences) {
		// The whole text fits the overlap budget; carrying it forward
		// would just duplicate the chunk.
		return ""
	}
	return strings.Join(out, " ")
}

// splitSentences cuts prose at terminal punctuation followed by whitespace
// and an uppercase letter or digit. Abbreviation-heavy prose over-merges
// rather than cutting mid-sentence.
func splitSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)
	for i := 0; i < len(runes)-1; i++ {
		c := runes[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j >= len(runes) {
			continue
		}
		if unicode.IsUpper(runes[j]) || unicode.IsDigit(runes[j]) {
			sentences = append(sentences, strings.TrimSpace(string(runes[start:i+1])))
			start = j
			i = j - 1
		}
	}
	if start < len(runes) {
		if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
			sentences = append(sentences, tail)
		}
	}
	return sentences
}
