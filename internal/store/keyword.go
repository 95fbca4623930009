package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Analyzer component names registered with Bleve.
const (
	chunkTokenizerName  = "chunk_tokenizer"
	chunkStopFilterName = "chunk_stop"
	chunkAnalyzerName   = "chunk_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(chunkTokenizerName, chunkTokenizerConstructor)
	_ = registry.RegisterTokenFilter(chunkStopFilterName, chunkStopFilterConstructor)
}

// keywordIndex wraps Bleve for keyword retrieval over chunk text. Filter
// fields are indexed verbatim (lowercased) so term queries can narrow
// results without post-filtering.
type keywordIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	path   string
	closed bool
}

// keywordDoc is the document shape handed to Bleve.
type keywordDoc struct {
	Text       string `json:"text"`
	SourceType string `json:"source_type"`
	Language   string `json:"language"`
	SymbolType string `json:"symbol_type"`
}

// keywordHit is one scored match. Scores are raw Bleve scores; the backend
// normalizes them per query.
type keywordHit struct {
	ID    string
	Score float64
}

// newKeywordIndex opens or creates a keyword index at path. An empty path
// yields an in-memory index for tests. Corrupted on-disk indexes are cleared
// and recreated; the data is rebuilt by the next indexing run.
func newKeywordIndex(path string) (*keywordIndex, error) {
	indexMapping, err := buildKeywordMapping()
	if err != nil {
		return nil, fmt.Errorf("build index mapping: %w", err)
	}

	var idx bleve.Index
	if path == "" {
		idx, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create index directory: %w", err)
		}

		if validErr := checkKeywordIntegrity(path); validErr != nil {
			slog.Warn("keyword_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted at %s and cannot remove: %w", path, removeErr)
			}
			slog.Info("keyword_index_cleared", slog.String("path", path))
		}

		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, indexMapping)
		} else if err != nil && isKeywordCorruption(err) {
			slog.Warn("keyword_index_open_failed",
				slog.String("path", path),
				slog.String("error", err.Error()))
			if removeErr := os.RemoveAll(path); removeErr != nil {
				return nil, fmt.Errorf("keyword index corrupted, cannot clear: %w", removeErr)
			}
			idx, err = bleve.New(path, indexMapping)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}

	return &keywordIndex{index: idx, path: path}, nil
}

// buildKeywordMapping wires the identifier-aware analyzer for chunk text and
// exact-term fields for the filterable attributes.
func buildKeywordMapping() (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer(chunkAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": chunkTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			chunkStopFilterName,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("add custom analyzer: %w", err)
	}
	indexMapping.DefaultAnalyzer = chunkAnalyzerName

	textField := bleve.NewTextFieldMapping()
	textField.Analyzer = chunkAnalyzerName

	termField := bleve.NewTextFieldMapping()
	termField.Analyzer = keyword.Name
	termField.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("text", textField)
	doc.AddFieldMappingsAt("source_type", termField)
	doc.AddFieldMappingsAt("language", termField)
	doc.AddFieldMappingsAt("symbol_type", termField)
	indexMapping.DefaultMapping = doc

	return indexMapping, nil
}

// checkKeywordIntegrity detects a half-written Bleve directory before Open
// can choke on it.
func checkKeywordIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing")
	}
	if err != nil {
		return fmt.Errorf("stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

// isKeywordCorruption matches errors Bleve surfaces from a damaged index.
func isKeywordCorruption(err error) bool {
	if err == nil {
		return false
	}
	if err == bleve.ErrorIndexMetaCorrupt {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt") ||
		strings.Contains(msg, "no such file or directory")
}

// Index adds or replaces chunks in the keyword index.
func (k *keywordIndex) Index(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := k.index.NewBatch()
	for _, c := range chunks {
		doc := keywordDoc{
			Text:       c.EmbeddingText(),
			SourceType: strings.ToLower(c.SourceType),
			Language:   strings.ToLower(c.Language),
			SymbolType: strings.ToLower(c.SymbolType),
		}
		if err := batch.Index(c.ChunkID, doc); err != nil {
			return fmt.Errorf("index chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("execute batch: %w", err)
	}
	return nil
}

// Search returns up to limit chunks matching text, narrowed by filters.
func (k *keywordIndex) Search(ctx context.Context, text string, limit int, filters Filters) ([]keywordHit, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return nil, fmt.Errorf("keyword index is closed")
	}
	if strings.TrimSpace(text) == "" {
		return []keywordHit{}, nil
	}

	match := bleve.NewMatchQuery(text)
	match.SetField("text")

	conj := bleve.NewConjunctionQuery(match)
	addTermFilter(conj, "source_type", filters.SourceTypes)
	addTermFilter(conj, "language", filters.Languages)
	addTermFilter(conj, "symbol_type", filters.SymbolTypes)

	req := bleve.NewSearchRequest(conj)
	req.Size = limit

	result, err := k.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	hits := make([]keywordHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, keywordHit{ID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// addTermFilter narrows the query to documents whose field matches any of
// the given values.
func addTermFilter(conj *query.ConjunctionQuery, field string, values []string) {
	if len(values) == 0 {
		return
	}
	terms := make([]query.Query, 0, len(values))
	for _, v := range values {
		tq := bleve.NewTermQuery(v)
		tq.SetField(field)
		terms = append(terms, tq)
	}
	conj.AddQuery(bleve.NewDisjunctionQuery(terms...))
}

// Delete removes chunks by id.
func (k *keywordIndex) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}

	batch := k.index.NewBatch()
	for _, id := range ids {
		batch.Delete(id)
	}
	if err := k.index.Batch(batch); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (k *keywordIndex) Count() (int, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.closed {
		return 0, fmt.Errorf("keyword index is closed")
	}
	n, err := k.index.DocCount()
	if err != nil {
		return 0, fmt.Errorf("doc count: %w", err)
	}
	return int(n), nil
}

// Reset drops every document by recreating the index.
func (k *keywordIndex) Reset() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return fmt.Errorf("keyword index is closed")
	}
	if err := k.index.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	indexMapping, err := buildKeywordMapping()
	if err != nil {
		return fmt.Errorf("build index mapping: %w", err)
	}
	if k.path == "" {
		k.index, err = bleve.NewMemOnly(indexMapping)
	} else {
		if err := os.RemoveAll(k.path); err != nil {
			return fmt.Errorf("remove index: %w", err)
		}
		k.index, err = bleve.New(k.path, indexMapping)
	}
	if err != nil {
		return fmt.Errorf("recreate keyword index: %w", err)
	}
	return nil
}

// Close closes the underlying index.
func (k *keywordIndex) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.closed {
		return nil
	}
	k.closed = true
	if k.index != nil {
		return k.index.Close()
	}
	return nil
}

// chunkTokenizerConstructor builds the identifier-aware Bleve tokenizer.
func chunkTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveChunkTokenizer{}, nil
}

type bleveChunkTokenizer struct{}

// Tokenize implements analysis.Tokenizer using the shared Tokenize rules.
func (t *bleveChunkTokenizer) Tokenize(input []byte) analysis.TokenStream {
	text := string(input)
	tokens := Tokenize(text)

	result := make(analysis.TokenStream, 0, len(tokens))
	pos := 1
	offset := 0

	for _, token := range tokens {
		start := strings.Index(strings.ToLower(text[offset:]), token)
		if start == -1 {
			start = offset
		} else {
			start += offset
		}
		end := start + len(token)

		result = append(result, &analysis.Token{
			Term:     []byte(token),
			Start:    start,
			End:      end,
			Position: pos,
			Type:     analysis.AlphaNumeric,
		})
		pos++
		if end <= len(text) {
			offset = end
		}
	}
	return result
}

// chunkStopFilterConstructor builds the stop word filter.
func chunkStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	return &bleveChunkStopFilter{stopWords: buildStopSet(defaultStopWords)}, nil
}

type bleveChunkStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *bleveChunkStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		term := strings.ToLower(string(token.Term))
		if _, isStop := f.stopWords[term]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
