// Package scanner discovers indexable files under a project directory. It
// honors include/exclude globs and .gitignore rules, always excludes the
// project state directory, and classifies files as documents or code by
// extension. Unsupported, binary, and oversized files are counted and
// skipped, never failures.
package scanner

import (
	"bytes"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/gitignore"
)

// gitignoreCacheSize bounds the matcher cache in long-running instances.
const gitignoreCacheSize = 1000

// DefaultMaxFileSize applies when the options leave the limit unset (5MB).
const DefaultMaxFileSize = 5 * 1024 * 1024

// File is one discovered, indexable file.
type File struct {
	// Path is relative to the project root and is the chunk source_path.
	Path    string
	AbsPath string
	Size    int64
	ModTime time.Time

	// SourceType is store.SourceTypeDocument or store.SourceTypeCode.
	SourceType string

	// Language is the code language, or the document format (markdown,
	// pdf, text, html, docx) for documents.
	Language string
}

// Stats counts what discovery skipped. Jobs surface these on the job record.
type Stats struct {
	Discovered  int `json:"discovered"`
	Unsupported int `json:"unsupported"`
	Binary      int `json:"binary"`
	Oversized   int `json:"oversized"`
	Ignored     int `json:"ignored"`
}

// Options configures one discovery walk.
type Options struct {
	// Root is the directory to walk, absolute or relative to ProjectRoot.
	Root string

	// ProjectRoot anchors relative source paths and the state-dir exclusion.
	ProjectRoot string

	Include []string
	Exclude []string

	// Recursive false limits discovery to Root's immediate children.
	Recursive bool

	// IncludeCode false restricts discovery to document formats.
	IncludeCode bool

	// MaxFileSize in bytes; 0 means DefaultMaxFileSize.
	MaxFileSize int64
}

// Scanner walks project trees. The gitignore matcher cache persists across
// scans so re-index jobs do not re-parse unchanged .gitignore files.
type Scanner struct {
	cacheMu sync.RWMutex
	cache   *lru.Cache[string, *gitignore.Matcher]
}

func New() *Scanner {
	cache, _ := lru.New[string, *gitignore.Matcher](gitignoreCacheSize)
	return &Scanner{cache: cache}
}

// Scan walks opts.Root and returns the indexable files sorted by path, plus
// the skip counters. Per-file problems are counted or logged, never fatal;
// only an unusable root or context cancellation fail the walk.
func (s *Scanner) Scan(ctx context.Context, opts Options) ([]File, Stats, error) {
	var stats Stats

	projectRoot, err := filepath.Abs(opts.ProjectRoot)
	if err != nil {
		return nil, stats, err
	}
	root := opts.Root
	if root == "" {
		root = projectRoot
	}
	if !filepath.IsAbs(root) {
		root = filepath.Join(projectRoot, root)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, stats, errors.Wrapf(errors.KindInvalidQuery, err, "folder %s not readable", opts.Root).
			WithHint("folder_path must exist under the project root")
	}
	if !info.IsDir() {
		return nil, stats, errors.Newf(errors.KindInvalidQuery, "%s is not a directory", opts.Root)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	var files []File
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil // unreadable entries are skipped
		}

		relPath, err := filepath.Rel(projectRoot, path)
		if err != nil || relPath == "." {
			return nil
		}

		if d.IsDir() {
			if path == root {
				return nil
			}
			if s.excludeDir(relPath, d.Name(), opts) {
				return filepath.SkipDir
			}
			if !opts.Recursive && filepath.Dir(path) == root {
				return filepath.SkipDir
			}
			return nil
		}

		// Symlinked files are skipped; following them risks walking outside
		// the project.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if s.excludeFile(relPath, projectRoot, opts) {
			stats.Ignored++
			return nil
		}

		sourceType, language, ok := Classify(relPath, opts.IncludeCode)
		if !ok {
			stats.Unsupported++
			slog.Debug("file_unsupported", slog.String("path", relPath))
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}
		if fi.Size() > maxSize {
			stats.Oversized++
			slog.Warn("file_oversized",
				slog.String("path", relPath),
				slog.Int64("size", fi.Size()),
				slog.Int64("limit", maxSize))
			return nil
		}
		if isBinary(path) {
			stats.Binary++
			return nil
		}

		files = append(files, File{
			Path:       filepath.ToSlash(relPath),
			AbsPath:    path,
			Size:       fi.Size(),
			ModTime:    fi.ModTime(),
			SourceType: sourceType,
			Language:   language,
		})
		return nil
	})
	if walkErr != nil {
		return nil, stats, walkErr
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	stats.Discovered = len(files)
	return files, stats, nil
}

// excludeDir prunes whole subtrees: the state directory, defaults, custom
// excludes, and gitignored directories.
func (s *Scanner) excludeDir(relPath, name string, opts Options) bool {
	if name == config.StateDirName || name == ".git" {
		return true
	}
	for _, pattern := range defaultExcludeDirs {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.Exclude {
		if matchDirPattern(relPath, pattern) {
			return true
		}
	}
	return s.gitignored(relPath, opts.ProjectRoot, true)
}

// excludeFile applies sensitive-file patterns, custom excludes, include
// globs, and gitignore.
func (s *Scanner) excludeFile(relPath, projectRoot string, opts Options) bool {
	baseName := filepath.Base(relPath)

	for _, pattern := range sensitiveFilePatterns {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	for _, pattern := range opts.Exclude {
		if matchFilePattern(baseName, relPath, pattern) {
			return true
		}
	}
	if len(opts.Include) > 0 {
		included := false
		for _, pattern := range opts.Include {
			if matchFilePattern(baseName, relPath, pattern) {
				included = true
				break
			}
		}
		if !included {
			return true
		}
	}
	return s.gitignored(relPath, projectRoot, false)
}

// gitignored consults the root .gitignore plus any nested ones along the
// path, each scoped to its directory.
func (s *Scanner) gitignored(relPath, projectRoot string, isDir bool) bool {
	if m := s.matcherFor(projectRoot, ""); m != nil && m.Match(relPath, isDir) {
		return true
	}

	dir := filepath.Dir(relPath)
	if dir == "." {
		return false
	}
	currentAbs := projectRoot
	currentBase := ""
	for _, part := range strings.Split(dir, string(filepath.Separator)) {
		currentAbs = filepath.Join(currentAbs, part)
		currentBase = filepath.ToSlash(filepath.Join(currentBase, part))
		if m := s.matcherFor(currentAbs, currentBase); m != nil && m.Match(filepath.ToSlash(relPath), isDir) {
			return true
		}
	}
	return false
}

// matcherFor returns the cached matcher for one directory's .gitignore, or
// nil when the directory has none.
func (s *Scanner) matcherFor(dir, base string) *gitignore.Matcher {
	s.cacheMu.RLock()
	matcher, ok := s.cache.Get(dir)
	s.cacheMu.RUnlock()
	if ok {
		return matcher
	}

	path := filepath.Join(dir, ".gitignore")
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	matcher = gitignore.New()
	if err := matcher.AddFromFile(path, base); err != nil {
		return nil
	}

	s.cacheMu.Lock()
	s.cache.Add(dir, matcher)
	s.cacheMu.Unlock()
	return matcher
}

// InvalidateCache clears cached gitignore matchers, for tests that rewrite
// .gitignore files between scans.
func (s *Scanner) InvalidateCache() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.cache.Purge()
}

// isBinary sniffs the first 512 bytes for null bytes.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil {
		return false
	}
	return bytes.Contains(buf[:n], []byte{0})
}
