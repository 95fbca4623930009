package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeEntityType(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "canonical casing kept", input: "Function", want: "Function"},
		{name: "lowercase mapped", input: "function", want: "Function"},
		{name: "uppercase mapped", input: "README", want: "README"},
		{name: "mixed case mapped", input: "aPIdoc", want: "APIDoc"},
		{name: "free-form kept", input: "Database", want: "Database"},
		{name: "whitespace trimmed", input: "  Class ", want: "Class"},
		{name: "empty stays empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeEntityType(tt.input))
		})
	}
}

func TestNormalizeRelationship(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "canonical kept", input: "calls", want: "calls"},
		{name: "case folded", input: "Calls", want: "calls"},
		{name: "space separator", input: "depends on", want: "depends_on"},
		{name: "hyphen separator", input: "Defined-In", want: "defined_in"},
		{name: "free-form lowercased", input: "Configures", want: "configures"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeRelationship(tt.input))
		})
	}
}

func TestTripleNormalize(t *testing.T) {
	tr := Triple{
		Subject:     "  AuthService ",
		SubjectType: "class",
		Predicate:   "Depends On",
		Object:      "TokenStore",
		ObjectType:  "interface",
	}

	tr.Normalize()

	assert.Equal(t, "AuthService", tr.Subject)
	assert.Equal(t, EntityClass, tr.SubjectType)
	assert.Equal(t, RelDependsOn, tr.Predicate)
	assert.Equal(t, EntityInterface, tr.ObjectType)
}

func TestDedupe(t *testing.T) {
	triples := []Triple{
		{Subject: "A", Predicate: RelCalls, Object: "B", ChunkID: "c1"},
		{Subject: "A", Predicate: RelCalls, Object: "B", ChunkID: "c2"},
		{Subject: "A", Predicate: RelImports, Object: "B"},
	}

	out := Dedupe(triples)

	assert.Len(t, out, 2)
	// First occurrence wins.
	assert.Equal(t, "c1", out[0].ChunkID)
}

func TestMatchesTypes(t *testing.T) {
	tr := &Triple{
		Subject: "A", SubjectType: EntityClass,
		Predicate: RelCalls,
		Object:    "B", ObjectType: EntityFunction,
	}

	assert.True(t, matchesTypes(tr, nil, nil))
	assert.True(t, matchesTypes(tr, []string{"class"}, nil))
	assert.True(t, matchesTypes(tr, []string{"function"}, nil))
	assert.False(t, matchesTypes(tr, []string{"interface"}, nil))
	assert.True(t, matchesTypes(tr, nil, []string{"calls"}))
	assert.False(t, matchesTypes(tr, nil, []string{"imports"}))
}
