package scanner

import (
	"path/filepath"
	"strings"

	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

// codeLanguages maps extensions of the supported code languages.
var codeLanguages = map[string]string{
	".py":  "python",
	".pyi": "python",

	".ts":  "typescript",
	".tsx": "typescript",
	".js":  "javascript",
	".jsx": "javascript",
	".mjs": "javascript",

	".java": "java",
	".go":   "go",
	".rs":   "rust",

	".c": "c",
	".h": "c",

	".cpp": "cpp",
	".cc":  "cpp",
	".cxx": "cpp",
	".hpp": "cpp",
	".hh":  "cpp",

	".cs": "csharp",
}

// documentFormats maps extensions of the supported document formats.
var documentFormats = map[string]string{
	".md":       "markdown",
	".markdown": "markdown",
	".txt":      "text",
	".text":     "text",
	".pdf":      "pdf",
	".html":     "html",
	".htm":      "html",
	".docx":     "docx",
}

// Classify reports the source type and language/format for a path, or
// ok=false for unsupported extensions. When includeCode is false, code files
// classify as unsupported.
func Classify(path string, includeCode bool) (sourceType, language string, ok bool) {
	ext := strings.ToLower(filepath.Ext(path))
	if format, found := documentFormats[ext]; found {
		return store.SourceTypeDocument, format, true
	}
	if lang, found := codeLanguages[ext]; found && includeCode {
		return store.SourceTypeCode, lang, true
	}
	return "", "", false
}

// Default directories never worth walking into.
var defaultExcludeDirs = []string{
	"**/node_modules/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/.venv/**",
	"**/.ssh/**",
}

// Sensitive files are never indexed regardless of include patterns.
var sensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	"*credentials*",
	"*secrets*",
	"*password*",
	".netrc",
	".npmrc",
	".pypirc",
	"id_rsa",
	"id_dsa",
	"id_ecdsa",
	"id_ed25519",
}

// matchDirPattern matches a directory path against an exclude pattern,
// supporting "**/name/**", "dir/**", and plain prefixes.
func matchDirPattern(relPath, pattern string) bool {
	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimSuffix(strings.TrimPrefix(pattern, "**/"), "/**")
		for _, part := range strings.Split(relPath, string(filepath.Separator)) {
			if part == suffix {
				return true
			}
		}
		return false
	}
	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return relPath == prefix || strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}
	return relPath == pattern || strings.HasPrefix(relPath, pattern+string(filepath.Separator))
}

// matchFilePattern matches a file against an include/exclude pattern. The
// supported shapes are the ones configs actually use: "dir/**",
// "dir/name*.ext", "**/*.ext", "*mid*", "prefix*", "*suffix", and exact
// names.
func matchFilePattern(baseName, relPath, pattern string) bool {
	if strings.HasSuffix(pattern, "/**") && !strings.HasPrefix(pattern, "**/") {
		prefix := strings.TrimSuffix(pattern, "/**")
		return strings.HasPrefix(relPath, prefix+string(filepath.Separator))
	}

	if strings.Contains(pattern, string(filepath.Separator)) && strings.Contains(pattern, "*") && !strings.HasPrefix(pattern, "**/") {
		dir := filepath.Dir(pattern)
		if filepath.Dir(relPath) != dir {
			return false
		}
		matched, err := filepath.Match(filepath.Base(pattern), baseName)
		return err == nil && matched
	}

	if strings.HasPrefix(pattern, "**/") {
		suffix := strings.TrimPrefix(pattern, "**/")
		if strings.HasPrefix(suffix, "*.") {
			return strings.HasSuffix(baseName, strings.TrimPrefix(suffix, "*"))
		}
		for _, part := range strings.Split(relPath, string(filepath.Separator)) {
			if part == suffix {
				return true
			}
		}
		return false
	}

	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*") && len(pattern) > 1 {
		middle := strings.TrimSuffix(strings.TrimPrefix(pattern, "*"), "*")
		return strings.Contains(strings.ToLower(baseName), strings.ToLower(middle))
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(baseName, strings.TrimSuffix(pattern, "*"))
	}
	if strings.HasPrefix(pattern, "*") {
		return strings.HasSuffix(baseName, strings.TrimPrefix(pattern, "*"))
	}
	return baseName == pattern
}
