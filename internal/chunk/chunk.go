// Package chunk splits source files into retrievable chunks. Documents are
// packed into token-budgeted chunks on paragraph and heading boundaries,
// never mid-sentence. Code is split on declarations using tree-sitter, with
// symbol metadata recorded for the graph extractor. Chunk ids derive from
// (source_path, chunk_index) so re-splitting an unchanged file is stable.
package chunk

import (
	"context"
	"log/slog"

	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

// Defaults applied when Options leaves a field zero.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 64

	// tokensPerChar approximates token counts without a tokenizer; close
	// enough for budget decisions on both prose and code.
	tokensPerChar = 4
)

// Options sets the token budget for every splitter.
type Options struct {
	// ChunkSize is the target chunk size in tokens.
	ChunkSize int

	// ChunkOverlap is the carry-forward between consecutive chunks of one
	// oversized unit, in tokens.
	ChunkOverlap int
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.ChunkOverlap <= 0 {
		o.ChunkOverlap = DefaultChunkOverlap
	}
	if o.ChunkOverlap >= o.ChunkSize {
		o.ChunkOverlap = o.ChunkSize / 4
	}
	return o
}

// Splitter turns one file into chunks. It dispatches on source type: code
// goes through the AST splitter and falls back to the document splitter when
// the file does not parse.
type Splitter struct {
	opts Options
	code *codeSplitter
	doc  *documentSplitter
}

// New builds a splitter with the given token budget.
func New(opts Options) *Splitter {
	opts = opts.withDefaults()
	return &Splitter{
		opts: opts,
		code: newCodeSplitter(opts),
		doc:  newDocumentSplitter(opts),
	}
}

// Close releases parser resources.
func (s *Splitter) Close() {
	s.code.Close()
}

// Split chunks one file. sourceType is store.SourceTypeDocument or
// store.SourceTypeCode; language is the code language or the document
// format. Empty files yield no chunks and no error.
func (s *Splitter) Split(ctx context.Context, sourcePath, sourceType, language string, content []byte) ([]*store.Chunk, error) {
	if len(content) == 0 {
		return nil, nil
	}

	if sourceType == store.SourceTypeCode {
		chunks, err := s.code.split(ctx, sourcePath, language, content)
		if err == nil && len(chunks) > 0 {
			return finalize(sourcePath, chunks), nil
		}
		if err != nil {
			slog.Warn("code_parse_failed",
				slog.String("path", sourcePath),
				slog.String("language", language),
				slog.String("error", err.Error()))
		}
		// Unparseable code still gets indexed as plain text.
		chunks = s.doc.splitText(store.SourceTypeCode, language, string(content))
		return finalize(sourcePath, chunks), nil
	}

	text, err := ExtractText(language, content)
	if err != nil {
		return nil, err
	}
	var chunks []*store.Chunk
	if language == "markdown" {
		chunks = s.doc.splitMarkdown(text)
	} else {
		chunks = s.doc.splitText(store.SourceTypeDocument, language, text)
	}
	return finalize(sourcePath, chunks), nil
}

// finalize assigns chunk indices and the derived ids in file order.
func finalize(sourcePath string, chunks []*store.Chunk) []*store.Chunk {
	for i, c := range chunks {
		c.SourcePath = sourcePath
		c.ChunkIndex = i
		c.ChunkID = store.NewChunkID(sourcePath, i)
	}
	return chunks
}

// estimateTokens approximates the token count of s.
func estimateTokens(s string) int {
	return len(s) / tokensPerChar
}
