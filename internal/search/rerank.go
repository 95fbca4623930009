package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/llm"
)

// DefaultRerankTimeout bounds one rerank call.
const DefaultRerankTimeout = 10 * time.Second

// rerankExcerptChars truncates each passage in the prompt; relevance
// scoring does not need the whole chunk.
const rerankExcerptChars = 600

const rerankPromptTemplate = `Score how relevant each passage is to the query on a scale of 0 to 10.

Query: %s

%s
Reply with a JSON array of %d numbers only, one score per passage in order.`

// Reranker scores (query, passage) pairs with a local generation model.
type Reranker struct {
	gen     llm.Generator
	timeout time.Duration
}

// NewReranker wraps a generator. timeout <= 0 uses the default.
func NewReranker(gen llm.Generator, timeout time.Duration) *Reranker {
	if timeout <= 0 {
		timeout = DefaultRerankTimeout
	}
	return &Reranker{gen: gen, timeout: timeout}
}

// Rerank returns one relevance score in [0,1] per document, in input order.
func (r *Reranker) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	raw, err := r.gen.Generate(ctx, r.prompt(query, docs))
	if err != nil {
		return nil, err
	}
	return parseScores(raw, len(docs))
}

// Close releases the underlying generator.
func (r *Reranker) Close() error {
	return r.gen.Close()
}

func (r *Reranker) prompt(query string, docs []string) string {
	var b strings.Builder
	for i, doc := range docs {
		if len(doc) > rerankExcerptChars {
			doc = doc[:rerankExcerptChars]
		}
		fmt.Fprintf(&b, "Passage %d:\n%s\n\n", i+1, doc)
	}
	return fmt.Sprintf(rerankPromptTemplate, query, b.String(), len(docs))
}

// parseScores decodes the model reply, tolerating code fences and prose
// around the JSON array, and normalizes the 0-10 scale to [0,1].
func parseScores(raw string, want int) ([]float64, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, errors.New(errors.KindInternal, "no JSON array in rerank reply")
	}

	var scores []float64
	if err := json.Unmarshal([]byte(raw[start:end+1]), &scores); err != nil {
		return nil, errors.Wrap(errors.KindInternal, "decode rerank scores", err)
	}
	if len(scores) != want {
		return nil, errors.Newf(errors.KindInternal, "expected %d rerank scores, got %d", want, len(scores))
	}

	out := make([]float64, len(scores))
	for i, s := range scores {
		switch {
		case s < 0:
			s = 0
		case s > 10:
			s = 10
		}
		out[i] = s / 10
	}
	return out, nil
}
