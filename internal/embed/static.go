package embed

import (
	"context"
	"hash/fnv"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// StaticDimensions is the fixed dimension of the hash embedder.
const StaticDimensions = 256

// StaticModelName is the model identifier the static embedder records.
const StaticModelName = "static-hash-256"

// Feature weights for vector generation.
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// programmingStopWords are language keywords too common to carry signal.
var programmingStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

// Static is the deterministic hash embedder: no network, no model files.
// Identical text always produces identical vectors, which is what the tests
// and offline keyword-heavy setups need; semantic quality is reduced.
type Static struct {
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*Static)(nil)

func NewStatic() *Static {
	return &Static{}
}

// Embed hashes token and trigram features into a fixed-size unit vector.
func (e *Static) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, errors.New(errors.KindProviderUnavailable, "embedder is closed")
	}
	e.mu.RUnlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return make([]float32, StaticDimensions), nil
	}

	vector := make([]float32, StaticDimensions)
	for _, token := range filterStopWords(tokenize(trimmed)) {
		vector[hashToIndex(token)] += tokenWeight
	}
	for _, ngram := range extractNgrams(normalizeForNgrams(trimmed), ngramSize) {
		vector[hashToIndex(ngram)] += ngramWeight
	}
	return normalizeVector(vector), nil
}

// EmbedBatch embeds each text independently.
func (e *Static) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

func (e *Static) Dimensions() int { return StaticDimensions }
func (e *Static) ModelName() string { return StaticModelName }

// Available is always true; the static embedder has no external dependency.
func (e *Static) Available(ctx context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *Static) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// tokenize splits text into lowercased code-aware tokens: identifiers break
// on camelCase and snake_case boundaries.
func tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		for _, t := range splitCodeToken(word) {
			if lower := strings.ToLower(t); lower != "" {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// splitCodeToken splits camelCase and snake_case identifiers into parts.
func splitCodeToken(token string) []string {
	if strings.Contains(token, "_") {
		var parts []string
		for _, p := range strings.Split(token, "_") {
			if p != "" {
				parts = append(parts, splitCamel(p)...)
			}
		}
		return parts
	}
	return splitCamel(token)
}

func splitCamel(s string) []string {
	var parts []string
	var current strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) && (unicode.IsLower(runes[i-1]) ||
			(i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

func filterStopWords(tokens []string) []string {
	out := tokens[:0]
	for _, t := range tokens {
		if !programmingStopWords[t] {
			out = append(out, t)
		}
	}
	return out
}

// normalizeForNgrams lowercases and collapses non-alphanumerics to single
// spaces so trigrams cross word boundaries consistently.
func normalizeForNgrams(text string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			lastSpace = false
		} else if !lastSpace {
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func extractNgrams(text string, n int) []string {
	runes := []rune(text)
	if len(runes) < n {
		return nil
	}
	grams := make([]string, 0, len(runes)-n+1)
	for i := 0; i+n <= len(runes); i++ {
		grams = append(grams, string(runes[i:i+n]))
	}
	return grams
}

func hashToIndex(s string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum32() % uint32(StaticDimensions))
}
