package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "camelCase identifier",
			input: "getUserById",
			want:  []string{"get", "user", "by", "id"},
		},
		{
			name:  "snake_case identifier",
			input: "parse_config_file",
			want:  []string{"parse", "config", "file"},
		},
		{
			name:  "acronym run stays together",
			input: "parseHTTPRequest",
			want:  []string{"parse", "http", "request"},
		},
		{
			name:  "punctuation is a separator",
			input: "client.Do(req)",
			want:  []string{"client", "do", "req"},
		},
		{
			name:  "single characters dropped",
			input: "a b c word",
			want:  []string{"word"},
		},
		{
			name:  "prose is lowercased",
			input: "Retrieval Service",
			want:  []string{"retrieval", "service"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.input))
		})
	}
}

func TestSplitIdentifier(t *testing.T) {
	// Given: a mixed snake and camel identifier
	got := SplitIdentifier("http_serverHandler")

	// Then: both conventions are split
	assert.Equal(t, []string{"http", "server", "Handler"}, got)
}

func TestSplitCamelEmpty(t *testing.T) {
	assert.Empty(t, splitCamel(""))
	assert.NotNil(t, splitCamel(""))
}

func TestBuildStopSet(t *testing.T) {
	set := buildStopSet([]string{"The", "func"})

	_, hasThe := set["the"]
	_, hasFunc := set["func"]
	assert.True(t, hasThe)
	assert.True(t, hasFunc)
}
