package graph

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

type stubGenerator struct {
	reply string
	err   error
}

func (s stubGenerator) Generate(context.Context, string) (string, error) {
	return s.reply, s.err
}

func TestParseTriples(t *testing.T) {
	raw := "Here are the triples:\n```json\n[\n" +
		`{"subject": "AuthService", "subject_type": "class", "predicate": "Depends On", "object": "TokenStore", "object_type": "interface"},` +
		`{"subject": "", "predicate": "calls", "object": "X"},` +
		`{"subject": "AuthService", "subject_type": "class", "predicate": "depends_on", "object": "TokenStore"}` +
		"\n]\n```"

	triples, err := ParseTriples(raw)
	require.NoError(t, err)

	// The empty-subject element is dropped and the repeat deduplicated.
	require.Len(t, triples, 1)
	assert.Equal(t, "AuthService", triples[0].Subject)
	assert.Equal(t, EntityClass, triples[0].SubjectType)
	assert.Equal(t, RelDependsOn, triples[0].Predicate)
	assert.Equal(t, EntityInterface, triples[0].ObjectType)
}

func TestParseTriples_NoArray(t *testing.T) {
	_, err := ParseTriples("I could not find any triples.")
	assert.Error(t, err)
}

func TestExtractor_CombinesBothPasses(t *testing.T) {
	// Given: an LLM that reports one semantic edge
	gen := stubGenerator{reply: `[{"subject": "AuthService", "predicate": "references", "object": "OAuth spec"}]`}
	ex := NewExtractor(gen, true, 10)
	c := &store.Chunk{
		ChunkID:    "c1",
		SourcePath: "auth.go",
		SourceType: store.SourceTypeCode,
		Language:   "go",
		SymbolType: "class",
		SymbolName: "AuthService",
		Text:       "type AuthService struct{}",
	}

	// When: extraction runs
	triples, err := ex.Extract(context.Background(), c)
	require.NoError(t, err)

	// Then: structural and LLM triples are merged
	predicates := make(map[string]bool)
	for _, tr := range triples {
		predicates[tr.Predicate] = true
	}
	assert.True(t, predicates[RelContains])
	assert.True(t, predicates[RelDefinedIn])
	assert.True(t, predicates[RelReferences])
}

func TestExtractor_CapsLLMTriples(t *testing.T) {
	reply := "["
	for i := 0; i < 15; i++ {
		if i > 0 {
			reply += ","
		}
		reply += fmt.Sprintf(`{"subject": "S%d", "predicate": "calls", "object": "O%d"}`, i, i)
	}
	reply += "]"

	ex := NewExtractor(stubGenerator{reply: reply}, false, 10)
	c := &store.Chunk{ChunkID: "c1", SourcePath: "a.md", SourceType: store.SourceTypeDocument, Text: "text"}

	triples, err := ex.Extract(context.Background(), c)
	require.NoError(t, err)

	assert.Len(t, triples, 10)
}

func TestExtractor_LLMFailureDegradesToAST(t *testing.T) {
	// Given: a failing model
	ex := NewExtractor(stubGenerator{err: fmt.Errorf("connection refused")}, true, 10)
	c := &store.Chunk{
		ChunkID:    "c1",
		SourcePath: "auth.go",
		SourceType: store.SourceTypeCode,
		SymbolType: "function",
		SymbolName: "Login",
		Text:       "func Login() {}",
	}

	// When: extraction runs
	triples, err := ex.Extract(context.Background(), c)

	// Then: the structural pass still delivers
	require.NoError(t, err)
	assert.NotEmpty(t, triples)
}

func TestExtractor_AllDisabled(t *testing.T) {
	ex := NewExtractor(nil, false, 10)
	c := &store.Chunk{ChunkID: "c1", Text: "text", SourceType: store.SourceTypeDocument}

	triples, err := ex.Extract(context.Background(), c)

	require.NoError(t, err)
	assert.Empty(t, triples)
}
