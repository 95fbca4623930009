package graph

import (
	"strings"

	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

// symbolEntity maps code-splitter symbol types onto the entity schema.
var symbolEntity = map[string]string{
	"function":  EntityFunction,
	"method":    EntityMethod,
	"class":     EntityClass,
	"struct":    EntityClass,
	"interface": EntityInterface,
	"enum":      EntityEnum,
	"module":    EntityModule,
	"package":   EntityPackage,
}

// ASTExtractor emits structural triples from the symbol metadata the code
// splitter records. It never calls out; document chunks produce nothing.
type ASTExtractor struct{}

// Extract derives containment, import, call, and inheritance triples for one
// code chunk.
func (ASTExtractor) Extract(c *store.Chunk) []Triple {
	if c.SourceType != store.SourceTypeCode || c.SymbolName == "" {
		return nil
	}

	symType := entityForSymbol(c.SymbolType)
	out := make([]Triple, 0, 4)
	add := func(t Triple) {
		t.ChunkID = c.ChunkID
		t.SourcePath = c.SourcePath
		t.Normalize()
		if t.Valid() {
			out = append(out, t)
		}
	}

	add(Triple{
		Subject: c.SourcePath, SubjectType: EntityModule,
		Predicate: RelContains,
		Object:    c.SymbolName, ObjectType: symType,
	})
	add(Triple{
		Subject: c.SymbolName, SubjectType: symType,
		Predicate: RelDefinedIn,
		Object:    c.SourcePath, ObjectType: EntityModule,
	})

	if parent := c.Metadata[store.MetaParent]; parent != "" {
		add(Triple{
			Subject: parent, SubjectType: EntityClass,
			Predicate: RelContains,
			Object:    c.SymbolName, ObjectType: symType,
		})
	}
	for _, imp := range splitList(c.Metadata[store.MetaImports]) {
		add(Triple{
			Subject: c.SourcePath, SubjectType: EntityModule,
			Predicate: RelImports,
			Object:    imp, ObjectType: EntityModule,
		})
	}
	for _, callee := range splitList(c.Metadata[store.MetaCalls]) {
		add(Triple{
			Subject: c.SymbolName, SubjectType: symType,
			Predicate: RelCalls,
			Object:    callee, ObjectType: EntityFunction,
		})
	}
	for _, base := range splitList(c.Metadata[store.MetaExtends]) {
		add(Triple{
			Subject: c.SymbolName, SubjectType: symType,
			Predicate: RelExtends,
			Object:    base, ObjectType: EntityClass,
		})
	}
	for _, iface := range splitList(c.Metadata[store.MetaImplements]) {
		add(Triple{
			Subject: c.SymbolName, SubjectType: symType,
			Predicate: RelImplements,
			Object:    iface, ObjectType: EntityInterface,
		})
	}

	return Dedupe(out)
}

func entityForSymbol(symbolType string) string {
	if e, ok := symbolEntity[strings.ToLower(symbolType)]; ok {
		return e
	}
	return ""
}

// splitList parses the comma-joined identifier lists stored in chunk
// metadata.
func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
