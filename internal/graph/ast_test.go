package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

func TestASTExtractor_CodeChunk(t *testing.T) {
	// Given: a method chunk with splitter metadata
	c := &store.Chunk{
		ChunkID:    "c1",
		SourcePath: "internal/auth/service.go",
		SourceType: store.SourceTypeCode,
		Language:   "go",
		SymbolType: "method",
		SymbolName: "Login",
		Metadata: map[string]string{
			store.MetaParent:  "AuthService",
			store.MetaImports: "crypto/rand, time",
			store.MetaCalls:   "ValidateToken",
		},
	}

	// When: structural triples are extracted
	triples := ASTExtractor{}.Extract(c)

	// Then: containment, imports, and calls are all present
	require.NotEmpty(t, triples)
	assert.Contains(t, triples, Triple{
		Subject: "internal/auth/service.go", SubjectType: EntityModule,
		Predicate: RelContains,
		Object:    "Login", ObjectType: EntityMethod,
		ChunkID: "c1", SourcePath: "internal/auth/service.go",
	})
	assert.Contains(t, triples, Triple{
		Subject: "Login", SubjectType: EntityMethod,
		Predicate: RelDefinedIn,
		Object:    "internal/auth/service.go", ObjectType: EntityModule,
		ChunkID: "c1", SourcePath: "internal/auth/service.go",
	})
	assert.Contains(t, triples, Triple{
		Subject: "AuthService", SubjectType: EntityClass,
		Predicate: RelContains,
		Object:    "Login", ObjectType: EntityMethod,
		ChunkID: "c1", SourcePath: "internal/auth/service.go",
	})
	assert.Contains(t, triples, Triple{
		Subject: "internal/auth/service.go", SubjectType: EntityModule,
		Predicate: RelImports,
		Object:    "crypto/rand", ObjectType: EntityModule,
		ChunkID: "c1", SourcePath: "internal/auth/service.go",
	})
	assert.Contains(t, triples, Triple{
		Subject: "Login", SubjectType: EntityMethod,
		Predicate: RelCalls,
		Object:    "ValidateToken", ObjectType: EntityFunction,
		ChunkID: "c1", SourcePath: "internal/auth/service.go",
	})
}

func TestASTExtractor_InheritanceMetadata(t *testing.T) {
	c := &store.Chunk{
		ChunkID:    "c2",
		SourcePath: "models.py",
		SourceType: store.SourceTypeCode,
		Language:   "python",
		SymbolType: "class",
		SymbolName: "AdminUser",
		Metadata: map[string]string{
			store.MetaExtends:    "User",
			store.MetaImplements: "Auditable",
		},
	}

	triples := ASTExtractor{}.Extract(c)

	assert.Contains(t, triples, Triple{
		Subject: "AdminUser", SubjectType: EntityClass,
		Predicate: RelExtends,
		Object:    "User", ObjectType: EntityClass,
		ChunkID: "c2", SourcePath: "models.py",
	})
	assert.Contains(t, triples, Triple{
		Subject: "AdminUser", SubjectType: EntityClass,
		Predicate: RelImplements,
		Object:    "Auditable", ObjectType: EntityInterface,
		ChunkID: "c2", SourcePath: "models.py",
	})
}

func TestASTExtractor_SkipsNonCode(t *testing.T) {
	doc := &store.Chunk{
		ChunkID:    "c3",
		SourcePath: "readme.md",
		SourceType: store.SourceTypeDocument,
		Text:       "installation notes",
	}
	assert.Empty(t, ASTExtractor{}.Extract(doc))

	// Code chunk without a symbol produces nothing either.
	anon := &store.Chunk{
		ChunkID:    "c4",
		SourcePath: "script.py",
		SourceType: store.SourceTypeCode,
	}
	assert.Empty(t, ASTExtractor{}.Extract(anon))
}
