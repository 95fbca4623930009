package store

import (
	"fmt"
	"slices"
	"strings"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
)

// Filter keys accepted on queries. source_type, language, and symbol_type
// narrow chunk retrieval; entity_types and relationship_types apply only to
// graph traversal and are ignored by the chunk backends.
const (
	FilterSourceType        = "source_type"
	FilterLanguage          = "language"
	FilterSymbolType        = "symbol_type"
	FilterEntityTypes       = "entity_types"
	FilterRelationshipTypes = "relationship_types"
)

// Filters restricts retrieval to chunks matching every present field.
// Each field is a membership test: empty means no restriction, multiple
// values mean any-of.
type Filters struct {
	SourceTypes       []string
	Languages         []string
	SymbolTypes       []string
	EntityTypes       []string
	RelationshipTypes []string
}

// ParseFilters converts the wire-level filter map into typed Filters.
// Values may be a single string or a list of strings. Unknown keys are
// rejected rather than silently ignored.
func ParseFilters(raw map[string]any) (Filters, error) {
	var f Filters
	for key, value := range raw {
		values, err := filterValues(key, value)
		if err != nil {
			return Filters{}, err
		}
		switch key {
		case FilterSourceType:
			f.SourceTypes = values
		case FilterLanguage:
			f.Languages = values
		case FilterSymbolType:
			f.SymbolTypes = values
		case FilterEntityTypes:
			f.EntityTypes = values
		case FilterRelationshipTypes:
			f.RelationshipTypes = values
		default:
			return Filters{}, errors.Newf(errors.KindInvalidFilter, "unknown filter key %q", key).
				WithHint("supported keys: source_type, language, symbol_type, entity_types, relationship_types")
		}
	}
	return f, nil
}

// filterValues accepts a scalar string or a list of strings and returns the
// lowercased value set.
func filterValues(key string, value any) ([]string, error) {
	switch v := value.(type) {
	case string:
		if v == "" {
			return nil, errors.Newf(errors.KindInvalidFilter, "filter %q has an empty value", key)
		}
		return []string{strings.ToLower(v)}, nil
	case []string:
		return lowerAll(key, v)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, errors.Newf(errors.KindInvalidFilter, "filter %q contains a non-string value %v", key, item)
			}
			out = append(out, s)
		}
		return lowerAll(key, out)
	default:
		return nil, errors.Newf(errors.KindInvalidFilter, "filter %q must be a string or list of strings, got %T", key, value)
	}
}

func lowerAll(key string, values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, errors.Newf(errors.KindInvalidFilter, "filter %q has an empty value list", key)
	}
	out := make([]string, len(values))
	for i, v := range values {
		if v == "" {
			return nil, errors.Newf(errors.KindInvalidFilter, "filter %q has an empty value", key)
		}
		out[i] = strings.ToLower(v)
	}
	return out, nil
}

// Wire renders the filters in the request shape ParseFilters accepts:
// single values as scalars, multiple as lists. Nil when nothing is set, so
// JSON-encoding clients omit the field entirely.
func (f Filters) Wire() map[string]any {
	out := make(map[string]any)
	put := func(key string, values []string) {
		switch len(values) {
		case 0:
		case 1:
			out[key] = values[0]
		default:
			out[key] = values
		}
	}
	put(FilterSourceType, f.SourceTypes)
	put(FilterLanguage, f.Languages)
	put(FilterSymbolType, f.SymbolTypes)
	put(FilterEntityTypes, f.EntityTypes)
	put(FilterRelationshipTypes, f.RelationshipTypes)
	if len(out) == 0 {
		return nil
	}
	return out
}

// Empty reports whether no chunk-level restriction is present. Graph-only
// fields do not count: the chunk backends have nothing to narrow on.
func (f Filters) Empty() bool {
	return len(f.SourceTypes) == 0 && len(f.Languages) == 0 && len(f.SymbolTypes) == 0
}

// Match reports whether a chunk satisfies every chunk-level restriction.
func (f Filters) Match(c *Chunk) bool {
	if !matchField(f.SourceTypes, c.SourceType) {
		return false
	}
	if !matchField(f.Languages, c.Language) {
		return false
	}
	return matchField(f.SymbolTypes, c.SymbolType)
}

func matchField(allowed []string, value string) bool {
	if len(allowed) == 0 {
		return true
	}
	return slices.Contains(allowed, strings.ToLower(value))
}

// String renders the active restrictions for logs.
func (f Filters) String() string {
	var parts []string
	appendPart := func(key string, values []string) {
		if len(values) > 0 {
			parts = append(parts, fmt.Sprintf("%s=%s", key, strings.Join(values, ",")))
		}
	}
	appendPart(FilterSourceType, f.SourceTypes)
	appendPart(FilterLanguage, f.Languages)
	appendPart(FilterSymbolType, f.SymbolTypes)
	appendPart(FilterEntityTypes, f.EntityTypes)
	appendPart(FilterRelationshipTypes, f.RelationshipTypes)
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}
