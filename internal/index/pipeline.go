// Package index runs the ingestion pipeline: discover files, skip unchanged
// ones by content hash, split, optionally summarize, embed with bounded
// concurrency, extract graph triples, and upsert per file. A file either
// lands completely or not at all, so cancellation between files never leaves
// partial chunks behind.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/SpillwaveSolutions/agent-brain/internal/chunk"
	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/embed"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/graph"
	"github.com/SpillwaveSolutions/agent-brain/internal/scanner"
	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

// ManifestName is the dedupe manifest file inside the state directory.
const ManifestName = "manifest.json"

// defaultEmbedWorkers bounds the embedding fan-out when config leaves it
// unset.
const defaultEmbedWorkers = 8

// Summarizer produces a short summary from a prompt. Satisfied by
// internal/llm generators; nil disables summarization.
type Summarizer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Deps are the pipeline's collaborators. GraphStore and Extractor are nil
// when the graph is disabled; Summarizer is nil when summarization is off.
type Deps struct {
	Config      *config.Config
	ProjectRoot string
	Backend     store.Backend
	Embedder    embed.Embedder
	Scanner     *scanner.Scanner
	Splitter    *chunk.Splitter
	GraphStore  graph.Store
	Extractor   *graph.Extractor
	Summarizer  Summarizer
}

// Progress reports per-file pipeline advancement.
type Progress struct {
	Stage   string `json:"stage"`
	Current int    `json:"current"`
	Total   int    `json:"total"`
	File    string `json:"file,omitempty"`
}

// Options configures one pipeline run.
type Options struct {
	// Folder restricts the run to one directory under the project root;
	// empty indexes the whole project.
	Folder string

	// Recursive applies to Folder runs; full-project runs always recurse.
	Recursive bool

	// IncludeCode admits source files alongside documents.
	IncludeCode bool

	// ChunkSize and ChunkOverlap override the configured token budgets for
	// this run; zero keeps the configured values.
	ChunkSize    int
	ChunkOverlap int

	// Force re-indexes files whose content hash is unchanged.
	Force bool

	// OnProgress, when set, receives per-file progress events.
	OnProgress func(Progress)
}

// Result summarizes one pipeline run.
type Result struct {
	FilesIndexed int           `json:"files_indexed"`
	FilesSkipped int           `json:"files_skipped"`
	FilesRemoved int           `json:"files_removed"`
	Chunks       int           `json:"chunks"`
	Triples      int           `json:"triples"`
	Scan         scanner.Stats `json:"scan"`
	Duration     time.Duration `json:"-"`
}

// Pipeline executes indexing runs against one project.
type Pipeline struct {
	cfg        *config.Config
	root       string
	backend    store.Backend
	embedder   embed.Embedder
	scanner    *scanner.Scanner
	splitter   *chunk.Splitter
	graphStore graph.Store
	extractor  *graph.Extractor
	summarizer Summarizer
	manifest   *Manifest
}

// New builds a pipeline and loads the dedupe manifest from the state
// directory.
func New(deps Deps) (*Pipeline, error) {
	if deps.Config == nil || deps.Backend == nil || deps.Embedder == nil {
		return nil, errors.New(errors.KindInternal, "pipeline requires config, backend, and embedder")
	}
	if deps.ProjectRoot == "" {
		return nil, errors.New(errors.KindInternal, "pipeline requires a project root")
	}
	if deps.Scanner == nil {
		deps.Scanner = scanner.New()
	}
	if deps.Splitter == nil {
		deps.Splitter = chunk.New(chunk.Options{
			ChunkSize:    deps.Config.Index.ChunkSize,
			ChunkOverlap: deps.Config.Index.ChunkOverlap,
		})
	}

	manifest, err := LoadManifest(filepath.Join(config.StateDir(deps.ProjectRoot), ManifestName))
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:        deps.Config,
		root:       deps.ProjectRoot,
		backend:    deps.Backend,
		embedder:   deps.Embedder,
		scanner:    deps.Scanner,
		splitter:   deps.Splitter,
		graphStore: deps.GraphStore,
		extractor:  deps.Extractor,
		summarizer: deps.Summarizer,
		manifest:   manifest,
	}, nil
}

// Close releases splitter resources.
func (p *Pipeline) Close() {
	p.splitter.Close()
}

// Manifest exposes the dedupe manifest, mainly for status reporting.
func (p *Pipeline) Manifest() *Manifest {
	return p.manifest
}

// Run executes one indexing pass. Cancellation is honored between files:
// the context error surfaces after the in-flight file commits or rolls
// back.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	started := time.Now()
	res := &Result{}

	recursive := opts.Recursive || opts.Folder == ""
	files, stats, err := p.scanner.Scan(ctx, scanner.Options{
		Root:        opts.Folder,
		ProjectRoot: p.root,
		Include:     p.cfg.Index.Include,
		Exclude:     p.cfg.Index.Exclude,
		Recursive:   recursive,
		IncludeCode: opts.IncludeCode,
		MaxFileSize: int64(p.cfg.Index.MaxFileSizeMB) * 1024 * 1024,
	})
	if err != nil {
		return nil, err
	}
	res.Scan = stats

	splitter := p.splitter
	if opts.ChunkSize > 0 || opts.ChunkOverlap > 0 {
		size, overlap := p.cfg.Index.ChunkSize, p.cfg.Index.ChunkOverlap
		if opts.ChunkSize > 0 {
			size = opts.ChunkSize
		}
		if opts.ChunkOverlap > 0 {
			overlap = opts.ChunkOverlap
		}
		splitter = chunk.New(chunk.Options{ChunkSize: size, ChunkOverlap: overlap})
		defer splitter.Close()
	}

	slog.Info("index_started",
		slog.Int("files", len(files)),
		slog.String("folder", opts.Folder),
		slog.Bool("force", opts.Force))

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Stage: "index", Current: i + 1, Total: len(files), File: f.Path})
		}

		indexed, chunks, triples, err := p.indexFile(ctx, splitter, f, opts.Force)
		if err != nil {
			if errors.IsKind(err, errors.KindCancelled) || ctx.Err() != nil {
				return res, err
			}
			// One broken file must not sink the run.
			slog.Warn("index_file_failed",
				slog.String("path", f.Path),
				slog.String("error", err.Error()))
			continue
		}
		if indexed {
			res.FilesIndexed++
			res.Chunks += chunks
			res.Triples += triples
		} else {
			res.FilesSkipped++
		}
	}

	// A full-project pass also retires files that disappeared from disk.
	if opts.Folder == "" {
		removed, err := p.removeMissing(ctx, files)
		if err != nil {
			return res, err
		}
		res.FilesRemoved = removed
	}

	if err := p.backend.Flush(ctx); err != nil {
		return res, err
	}

	res.Duration = time.Since(started)
	slog.Info("index_complete",
		slog.Int("files_indexed", res.FilesIndexed),
		slog.Int("files_skipped", res.FilesSkipped),
		slog.Int("files_removed", res.FilesRemoved),
		slog.Int("chunks", res.Chunks),
		slog.Int("triples", res.Triples),
		slog.Int64("duration_ms", res.Duration.Milliseconds()))
	return res, nil
}

// indexFile runs one file through split, summarize, embed, extract, and
// upsert. It reports whether the file was (re)indexed and how many chunks
// and triples landed.
func (p *Pipeline) indexFile(ctx context.Context, splitter *chunk.Splitter, f scanner.File, force bool) (indexed bool, chunks, triples int, err error) {
	content, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return false, 0, 0, errors.Wrapf(errors.KindStorageUnavailable, err, "read %s", f.Path)
	}

	hash := contentHash(content)
	if prev, ok := p.manifest.Get(f.Path); ok && prev.Hash == hash && !force {
		return false, 0, 0, nil
	}

	split, err := splitter.Split(ctx, f.Path, f.SourceType, f.Language, content)
	if err != nil {
		return false, 0, 0, err
	}
	if len(split) == 0 {
		// Nothing indexable; still retire stale chunks from a previous
		// version of the file.
		if err := p.forgetSource(f.Path); err != nil {
			return false, 0, 0, err
		}
		if _, err := p.deleteSource(ctx, f.Path); err != nil {
			return false, 0, 0, err
		}
		p.manifest.Put(f.Path, ManifestEntry{Hash: hash, IndexedAt: time.Now().UTC()})
		return true, 0, 0, p.manifest.Save()
	}

	if p.summarizer != nil {
		p.summarize(ctx, f.Path, split)
	}
	if err := p.embedChunks(ctx, split); err != nil {
		return false, 0, 0, err
	}

	var extracted []graph.Triple
	if p.extractor != nil && p.graphStore != nil {
		extracted, err = p.extractTriples(ctx, split)
		if err != nil {
			return false, 0, 0, err
		}
	}

	// Replace the file's chunks and triples. The manifest entry is dropped
	// first so an interruption between delete and upsert leaves the file
	// marked dirty for the next run instead of silently skipped.
	if err := p.forgetSource(f.Path); err != nil {
		return false, 0, 0, err
	}
	if _, err := p.deleteSource(ctx, f.Path); err != nil {
		return false, 0, 0, err
	}
	if err := p.backend.Upsert(ctx, split); err != nil {
		return false, 0, 0, err
	}
	if len(extracted) > 0 {
		if err := p.graphStore.Insert(ctx, extracted); err != nil {
			return false, 0, 0, err
		}
	}

	p.manifest.Put(f.Path, ManifestEntry{Hash: hash, Chunks: len(split), IndexedAt: time.Now().UTC()})
	if err := p.manifest.Save(); err != nil {
		return false, 0, 0, err
	}
	return true, len(split), len(extracted), nil
}

// summarize attaches an LLM summary to each chunk. Failures degrade to
// un-summarized chunks, logged once per file.
func (p *Pipeline) summarize(ctx context.Context, path string, chunks []*store.Chunk) {
	timeout := time.Duration(p.cfg.Summarization.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var failed int
	for _, c := range chunks {
		if ctx.Err() != nil {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, timeout)
		summary, err := p.summarizer.Generate(sctx, summaryPrompt(c))
		cancel()
		if err != nil {
			failed++
			continue
		}
		c.Summary = trimSummary(summary)
	}
	if failed > 0 {
		slog.Warn("summarization_degraded",
			slog.String("path", path),
			slog.Int("failed", failed),
			slog.Int("chunks", len(chunks)))
	}
}

func summaryPrompt(c *store.Chunk) string {
	kind := "document excerpt"
	if c.SourceType == store.SourceTypeCode {
		kind = fmt.Sprintf("%s code", c.Language)
	}
	return fmt.Sprintf(
		"Summarize this %s in one or two sentences for a search index. Reply with the summary only.\n\n%s",
		kind, c.Text)
}

func trimSummary(s string) string {
	const maxSummary = 500
	if len(s) > maxSummary {
		s = s[:maxSummary]
	}
	return s
}

// embedChunks fills in embeddings with a bounded worker fan-out. The
// embedding input is the summary-prefixed text when a summary exists.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []*store.Chunk) error {
	workers := p.cfg.Index.EmbedWorkers
	if workers <= 0 {
		workers = defaultEmbedWorkers
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, c := range chunks {
		c := c
		g.Go(func() error {
			vec, err := p.embedder.Embed(gctx, c.EmbeddingText())
			if err != nil {
				return err
			}
			c.Embedding = vec
			return nil
		})
	}
	return g.Wait()
}

// extractTriples runs graph extraction over the file's chunks.
func (p *Pipeline) extractTriples(ctx context.Context, chunks []*store.Chunk) ([]graph.Triple, error) {
	var out []graph.Triple
	for _, c := range chunks {
		triples, err := p.extractor.Extract(ctx, c)
		if err != nil {
			return nil, err
		}
		out = append(out, triples...)
	}
	return graph.Dedupe(out), nil
}

// removeMissing retires manifest entries whose files no longer exist on
// disk after a full scan. Paths the scan filtered out (excluded globs,
// documents-only runs) are stat'ed rather than assumed gone, so a narrower
// pass never drops chunks for files that still exist.
func (p *Pipeline) removeMissing(ctx context.Context, found []scanner.File) (int, error) {
	present := make(map[string]struct{}, len(found))
	for _, f := range found {
		present[f.Path] = struct{}{}
	}

	removed := 0
	for _, path := range p.manifest.Paths() {
		if _, ok := present[path]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if _, err := os.Stat(filepath.Join(p.root, path)); !os.IsNotExist(err) {
			continue
		}
		if _, err := p.deleteSource(ctx, path); err != nil {
			return removed, err
		}
		p.manifest.Delete(path)
		removed++
		slog.Info("index_file_removed", slog.String("path", path))
	}
	if removed > 0 {
		if err := p.manifest.Save(); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// forgetSource persists the removal of a manifest entry ahead of a
// chunk-replacing mutation.
func (p *Pipeline) forgetSource(sourcePath string) error {
	if _, ok := p.manifest.Get(sourcePath); !ok {
		return nil
	}
	p.manifest.Delete(sourcePath)
	return p.manifest.Save()
}

// deleteSource drops a file's chunks and graph triples.
func (p *Pipeline) deleteSource(ctx context.Context, sourcePath string) (int, error) {
	n, err := p.backend.DeleteBySource(ctx, sourcePath)
	if err != nil {
		return 0, err
	}
	if p.graphStore != nil {
		if _, err := p.graphStore.DeleteBySource(ctx, sourcePath); err != nil {
			return n, err
		}
	}
	return n, nil
}

// RebuildGraph re-derives the knowledge graph from scratch: wipe the triple
// store, then re-scan, re-split, and re-extract every file. Chunks and
// embeddings are untouched, so this is much cheaper than a forced re-index.
func (p *Pipeline) RebuildGraph(ctx context.Context, onProgress func(Progress)) (int, error) {
	if p.graphStore == nil || p.extractor == nil {
		return 0, errors.New(errors.KindGraphDisabled, "graph store is disabled").
			WithHint("set graph.enabled: true before rebuilding")
	}

	files, _, err := p.scanner.Scan(ctx, scanner.Options{
		ProjectRoot: p.root,
		Include:     p.cfg.Index.Include,
		Exclude:     p.cfg.Index.Exclude,
		Recursive:   true,
		IncludeCode: true,
		MaxFileSize: int64(p.cfg.Index.MaxFileSizeMB) * 1024 * 1024,
	})
	if err != nil {
		return 0, err
	}

	if err := p.graphStore.Reset(ctx); err != nil {
		return 0, err
	}

	total := 0
	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if onProgress != nil {
			onProgress(Progress{Stage: "rebuild_graph", Current: i + 1, Total: len(files), File: f.Path})
		}

		content, err := os.ReadFile(f.AbsPath)
		if err != nil {
			slog.Warn("rebuild_graph_file_failed", slog.String("path", f.Path), slog.String("error", err.Error()))
			continue
		}
		split, err := p.splitter.Split(ctx, f.Path, f.SourceType, f.Language, content)
		if err != nil || len(split) == 0 {
			continue
		}
		triples, err := p.extractTriples(ctx, split)
		if err != nil {
			return total, err
		}
		if len(triples) == 0 {
			continue
		}
		if err := p.graphStore.Insert(ctx, triples); err != nil {
			return total, err
		}
		total += len(triples)
	}

	slog.Info("graph_rebuilt", slog.Int("files", len(files)), slog.Int("triples", total))
	return total, nil
}

// Reset drops all indexed data: chunks, triples, and the manifest.
func (p *Pipeline) Reset(ctx context.Context) error {
	if err := p.backend.Reset(ctx); err != nil {
		return err
	}
	if p.graphStore != nil {
		if err := p.graphStore.Reset(ctx); err != nil {
			return err
		}
	}
	return p.manifest.Reset()
}

// contentHash is the manifest dedupe key.
func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
