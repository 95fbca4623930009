package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

// Generator produces text from a prompt. Satisfied by internal/llm clients.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

const extractPromptTemplate = `You extract knowledge-graph triples from source material.

Entity types (use exactly these when they apply, otherwise a short free-form noun):
%s

Relationships (use exactly these when they apply, otherwise a short free-form verb):
%s

Respond with a JSON array and nothing else. Each element:
{"subject": "...", "subject_type": "...", "predicate": "...", "object": "...", "object_type": "..."}

Extract at most %d triples from this %s:

%s`

// Extractor combines the structural and LLM extraction passes for one chunk.
// Either pass can be disabled; with both disabled Extract returns nothing.
type Extractor struct {
	gen    Generator
	ast    bool
	maxLLM int
}

// NewExtractor wires the extraction passes. gen may be nil when LLM
// extraction is disabled.
func NewExtractor(gen Generator, useAST bool, maxTripletsPerChunk int) *Extractor {
	if maxTripletsPerChunk <= 0 {
		maxTripletsPerChunk = 10
	}
	return &Extractor{gen: gen, ast: useAST, maxLLM: maxTripletsPerChunk}
}

// Extract runs both passes in parallel and returns deduplicated triples. An
// LLM failure degrades to structural triples only; the only hard error is
// context cancellation.
func (e *Extractor) Extract(ctx context.Context, c *store.Chunk) ([]Triple, error) {
	var astTriples, llmTriples []Triple

	g, gctx := errgroup.WithContext(ctx)
	if e.ast {
		g.Go(func() error {
			astTriples = ASTExtractor{}.Extract(c)
			return nil
		})
	}
	if e.gen != nil {
		g.Go(func() error {
			triples, err := e.extractLLM(gctx, c)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				slog.Warn("graph_llm_extraction_failed",
					slog.String("chunk_id", c.ChunkID),
					slog.String("error", err.Error()))
				return nil
			}
			llmTriples = triples
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return Dedupe(append(astTriples, llmTriples...)), nil
}

// extractLLM prompts the model with the closed vocabularies and parses its
// JSON reply, keeping at most maxLLM triples.
func (e *Extractor) extractLLM(ctx context.Context, c *store.Chunk) ([]Triple, error) {
	kind := "document excerpt"
	if c.SourceType == store.SourceTypeCode {
		kind = fmt.Sprintf("%s code", c.Language)
	}
	prompt := fmt.Sprintf(extractPromptTemplate,
		strings.Join(EntityTypes, ", "),
		strings.Join(Relationships, ", "),
		e.maxLLM, kind, c.Text)

	raw, err := e.gen.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	triples, err := ParseTriples(raw)
	if err != nil {
		return nil, err
	}
	if len(triples) > e.maxLLM {
		triples = triples[:e.maxLLM]
	}
	for i := range triples {
		triples[i].ChunkID = c.ChunkID
		triples[i].SourcePath = c.SourcePath
	}
	return triples, nil
}

// llmTriple is the reply element shape the prompt asks for.
type llmTriple struct {
	Subject     string `json:"subject"`
	SubjectType string `json:"subject_type"`
	Predicate   string `json:"predicate"`
	Object      string `json:"object"`
	ObjectType  string `json:"object_type"`
}

// ParseTriples decodes a model reply into normalized triples. Code fences
// and prose around the JSON array are tolerated; invalid elements are
// dropped, not errors.
func ParseTriples(raw string) ([]Triple, error) {
	payload := extractJSONArray(raw)
	if payload == "" {
		return nil, fmt.Errorf("no JSON array in reply")
	}

	var items []llmTriple
	if err := json.Unmarshal([]byte(payload), &items); err != nil {
		return nil, fmt.Errorf("decode triples: %w", err)
	}

	out := make([]Triple, 0, len(items))
	for _, it := range items {
		t := Triple{
			Subject:     it.Subject,
			SubjectType: it.SubjectType,
			Predicate:   it.Predicate,
			Object:      it.Object,
			ObjectType:  it.ObjectType,
		}
		t.Normalize()
		if t.Valid() {
			out = append(out, t)
		}
	}
	return Dedupe(out), nil
}

// extractJSONArray slices the outermost [...] from a reply that may carry
// code fences or surrounding prose.
func extractJSONArray(raw string) string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
