package store

import (
	"regexp"
	"strings"
	"unicode"
)

// tokenPattern matches alphanumeric runs; identifiers are split further below.
var tokenPattern = regexp.MustCompile(`[a-zA-Z0-9_]+`)

// defaultStopWords are keywords and filler identifiers that carry no signal
// in either code or prose chunks.
var defaultStopWords = []string{
	"var", "let", "const", "func", "function", "def", "class",
	"return", "if", "else", "for", "while",
	"the", "and", "with", "that", "this", "from",
	"data", "result", "value", "item", "key", "err", "ctx", "tmp",
}

// Tokenize splits text with identifier-aware rules: camelCase, PascalCase,
// and snake_case are broken apart, everything is lowercased, and tokens
// shorter than two characters are dropped.
func Tokenize(text string) []string {
	var tokens []string
	for _, word := range tokenPattern.FindAllString(text, -1) {
		for _, t := range SplitIdentifier(word) {
			lower := strings.ToLower(t)
			if len(lower) >= 2 {
				tokens = append(tokens, lower)
			}
		}
	}
	return tokens
}

// SplitIdentifier splits snake_case and camelCase identifiers into their
// component words.
func SplitIdentifier(token string) []string {
	if strings.Contains(token, "_") {
		var result []string
		for _, part := range strings.Split(token, "_") {
			if part != "" {
				result = append(result, splitCamel(part)...)
			}
		}
		return result
	}
	return splitCamel(token)
}

// splitCamel splits camelCase and PascalCase, keeping acronym runs together:
// "parseHTTPRequest" becomes ["parse", "HTTP", "Request"].
func splitCamel(s string) []string {
	if s == "" {
		return []string{}
	}

	var result []string
	var current strings.Builder

	runes := []rune(s)
	for i, r := range runes {
		if i > 0 && unicode.IsUpper(r) {
			prevIsLower := unicode.IsLower(runes[i-1])
			nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevIsLower || nextIsLower {
				if current.Len() > 0 {
					result = append(result, current.String())
					current.Reset()
				}
			}
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

// buildStopSet converts a stop word list into a lookup set.
func buildStopSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}
