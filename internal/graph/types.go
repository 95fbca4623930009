// Package graph extracts typed (subject, predicate, object) triples from
// indexed chunks and answers traversal queries over them. Extraction combines
// a structural pass over code-splitter symbol metadata with an optional LLM
// pass; triples persist to SQLite beside the embedded backend or to the
// graph_triples table on Postgres.
package graph

import (
	"context"
	"strings"
)

// Entity types recognized by the extractors. Free-form types are stored
// as-is when they fall outside this set.
const (
	EntityPackage   = "Package"
	EntityModule    = "Module"
	EntityClass     = "Class"
	EntityMethod    = "Method"
	EntityFunction  = "Function"
	EntityInterface = "Interface"
	EntityEnum      = "Enum"

	EntityDesignDoc = "DesignDoc"
	EntityUserDoc   = "UserDoc"
	EntityPRD       = "PRD"
	EntityRunbook   = "Runbook"
	EntityReadme    = "README"
	EntityAPIDoc    = "APIDoc"

	EntityService    = "Service"
	EntityEndpoint   = "Endpoint"
	EntityConfig     = "Config"
	EntityDependency = "Dependency"
)

// Relationship vocabulary. Predicates outside this set are stored lowercase
// as free-form strings.
const (
	RelCalls      = "calls"
	RelExtends    = "extends"
	RelImplements = "implements"
	RelImports    = "imports"
	RelContains   = "contains"
	RelReferences = "references"
	RelDependsOn  = "depends_on"
	RelDefinedIn  = "defined_in"
)

// EntityTypes lists the closed entity-type schema in canonical casing.
var EntityTypes = []string{
	EntityPackage, EntityModule, EntityClass, EntityMethod, EntityFunction,
	EntityInterface, EntityEnum,
	EntityDesignDoc, EntityUserDoc, EntityPRD, EntityRunbook, EntityReadme,
	EntityAPIDoc,
	EntityService, EntityEndpoint, EntityConfig, EntityDependency,
}

// Relationships lists the closed relationship vocabulary.
var Relationships = []string{
	RelCalls, RelExtends, RelImplements, RelImports, RelContains,
	RelReferences, RelDependsOn, RelDefinedIn,
}

var (
	canonicalEntity   = buildCanonical(EntityTypes)
	canonicalRelation = buildCanonical(Relationships)
)

func buildCanonical(values []string) map[string]string {
	m := make(map[string]string, len(values))
	for _, v := range values {
		m[strings.ToLower(v)] = v
	}
	return m
}

// Triple is one edge of the knowledge graph. Untyped triples (empty
// SubjectType/ObjectType) are legal. ChunkID and SourcePath record which
// chunk produced the edge so traversal can hand back retrievable text and
// re-indexing a file can replace its triples.
type Triple struct {
	ID          int64  `json:"id,omitempty"`
	Subject     string `json:"subject"`
	Predicate   string `json:"predicate"`
	Object      string `json:"object"`
	SubjectType string `json:"subject_type,omitempty"`
	ObjectType  string `json:"object_type,omitempty"`
	ChunkID     string `json:"chunk_id,omitempty"`
	SourcePath  string `json:"source_path,omitempty"`
}

// Valid reports whether the triple has all three required parts.
func (t *Triple) Valid() bool {
	return t.Subject != "" && t.Predicate != "" && t.Object != ""
}

// Normalize trims the identity strings and maps types and predicate onto the
// closed vocabularies case-insensitively. Values outside the vocabularies
// are kept as cleaned free-form strings.
func (t *Triple) Normalize() {
	t.Subject = strings.TrimSpace(t.Subject)
	t.Object = strings.TrimSpace(t.Object)
	t.Predicate = NormalizeRelationship(t.Predicate)
	t.SubjectType = NormalizeEntityType(t.SubjectType)
	t.ObjectType = NormalizeEntityType(t.ObjectType)
}

// key identifies a triple for deduplication.
func (t *Triple) key() string {
	return t.Subject + "\x00" + t.Predicate + "\x00" + t.Object
}

// NormalizeEntityType maps s onto the closed entity-type schema ignoring
// case. Unknown types come back trimmed but otherwise untouched.
func NormalizeEntityType(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if canonical, ok := canonicalEntity[strings.ToLower(s)]; ok {
		return canonical
	}
	return s
}

// NormalizeRelationship maps s onto the relationship vocabulary ignoring
// case and separator style ("depends on" and "Depends-On" both become
// "depends_on"). Unknown predicates come back lowercased.
func NormalizeRelationship(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	if canonical, ok := canonicalRelation[s]; ok {
		return canonical
	}
	return s
}

// Dedupe drops repeated (subject, predicate, object) triples, keeping the
// first occurrence.
func Dedupe(triples []Triple) []Triple {
	seen := make(map[string]struct{}, len(triples))
	out := triples[:0]
	for _, t := range triples {
		k := t.key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, t)
	}
	return out
}

// TripleQuery filters the flat triple listing. Type filters are applied by
// over-fetching three times the limit and dropping non-matching triples, so
// ordering by insertion survives filtering.
type TripleQuery struct {
	// Text terms match against subject and object identifiers. Empty means
	// all triples.
	Text string

	Limit             int
	EntityTypes       []string
	RelationshipTypes []string
}

// Store persists triples and answers the lookups traversal needs.
type Store interface {
	// Insert writes triples, replacing rows with the same
	// (subject, predicate, object) identity.
	Insert(ctx context.Context, triples []Triple) error

	// Neighbors returns triples whose subject or object matches any of the
	// given node identifiers, compared case-insensitively.
	Neighbors(ctx context.Context, nodes []string, limit int) ([]Triple, error)

	// SearchNodes returns triples whose subject or object contains any of
	// the given terms, for seeding traversal from query text.
	SearchNodes(ctx context.Context, terms []string, limit int) ([]Triple, error)

	// TriplesByChunk returns the triples extracted from the given chunks,
	// for seeding traversal from vector hits.
	TriplesByChunk(ctx context.Context, chunkIDs []string) ([]Triple, error)

	// Query lists triples with optional text and type filtering.
	Query(ctx context.Context, q TripleQuery) ([]Triple, error)

	// DeleteBySource removes the triples extracted from one source path and
	// reports how many were removed.
	DeleteBySource(ctx context.Context, sourcePath string) (int, error)

	// NodeCount counts distinct subject and object identifiers.
	NodeCount(ctx context.Context) (int, error)

	// Count counts stored triples.
	Count(ctx context.Context) (int, error)

	Reset(ctx context.Context) error
	Close() error
}

// matchesTypes applies entity and relationship filters to one triple. An
// empty filter list admits everything; entity filters pass when either end
// of the edge matches.
func matchesTypes(t *Triple, entityTypes, relationshipTypes []string) bool {
	if len(relationshipTypes) > 0 && !containsFold(relationshipTypes, t.Predicate) {
		return false
	}
	if len(entityTypes) > 0 &&
		!containsFold(entityTypes, t.SubjectType) && !containsFold(entityTypes, t.ObjectType) {
		return false
	}
	return true
}

func containsFold(values []string, v string) bool {
	for _, c := range values {
		if strings.EqualFold(c, v) {
			return true
		}
	}
	return false
}
