package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/embed"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/graph"
	"github.com/SpillwaveSolutions/agent-brain/internal/index"
	"github.com/SpillwaveSolutions/agent-brain/internal/job"
	"github.com/SpillwaveSolutions/agent-brain/internal/lifecycle"
	"github.com/SpillwaveSolutions/agent-brain/internal/llm"
	"github.com/SpillwaveSolutions/agent-brain/internal/logging"
	"github.com/SpillwaveSolutions/agent-brain/internal/preflight"
	"github.com/SpillwaveSolutions/agent-brain/internal/search"
	"github.com/SpillwaveSolutions/agent-brain/internal/server"
	"github.com/SpillwaveSolutions/agent-brain/internal/store"
	"github.com/SpillwaveSolutions/agent-brain/internal/telemetry"
)

// GraphDBName is the embedded triple store file inside the state directory.
const GraphDBName = "graph.db"

func newStartCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the instance for this project and serve until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(cmd.Context(), port)
		},
	}
	cmd.Flags().IntVar(&port, "port", -1, "listen port (0 = OS-assigned, default from config)")
	return cmd
}

func runStart(ctx context.Context, portFlag int) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	cfg, err := loadConfig(root)
	if err != nil {
		return err
	}
	stateDir := config.StateDir(root)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return errors.Wrap(errors.KindInternal, "creating state directory", err)
	}

	// Fail fast on anything the instance cannot run without.
	for _, r := range preflight.Run(ctx, cfg, root) {
		if r.IsCritical() {
			e := errors.New(preflightKind(r.Name), r.Message)
			if r.Hint != "" {
				e = e.WithHint(r.Hint)
			}
			return e
		}
	}

	cleanup, err := logging.SetupDefault(stateDir, level(cfg))
	if err != nil {
		return err
	}
	defer cleanup()

	port := cfg.Server.Port
	if portFlag >= 0 {
		port = portFlag
	}
	inst, err := lifecycle.Start(lifecycle.Options{
		ProjectRoot: root,
		Mode:        cfg.Storage.Backend,
		Port:        port,
	})
	if err != nil {
		return err
	}
	defer inst.Release()

	app, err := assemble(ctx, cfg, root, stateDir)
	if err != nil {
		return err
	}
	defer app.close()

	srv := server.New(server.Deps{
		Config:    cfg,
		Runtime:   inst.Runtime,
		Engine:    app.engine,
		Queue:     app.queue,
		Worker:    app.worker,
		Backend:   app.backend,
		Graph:     app.graphStore,
		Metrics:   app.metrics,
		Unhealthy: app.unhealthy,
	})

	app.worker.Start(ctx)

	out.Header("agent-brain")
	out.Field("project", "%s", root)
	out.Field("mode", "%s", cfg.Storage.Backend)
	out.Field("base_url", "%s", inst.Runtime.BaseURL)
	if app.unhealthy != nil {
		out.Warning("serving degraded: %s", errorMessage(app.unhealthy))
		out.Hint(errors.HintOf(app.unhealthy))
	}
	out.Println("")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(inst.Listener) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		out.Printf("received %s, shutting down", sig)
	}

	// Graceful shutdown: stop job intake, drain within the configured
	// timeout, then withdraw the runtime file and lock.
	drain := time.Duration(cfg.Server.DrainTimeoutMS) * time.Millisecond
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drain)
	defer cancel()

	if err := app.worker.Stop(shutdownCtx); err != nil {
		out.Warning("active job did not drain: %v", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		out.Warning("server shutdown: %v", err)
	}
	return nil
}

// app bundles the assembled components so shutdown can release them in
// order.
type app struct {
	backend    store.Backend
	embedder   embed.Embedder
	graphStore graph.Store
	engine     *search.Engine
	queue      *job.Queue
	worker     *job.Worker
	pipeline   *index.Pipeline
	metrics    *telemetry.QueryMetrics
	reranker   *search.Reranker
	summarizer llm.Generator
	extractGen llm.Generator

	// unhealthy holds the startup dimension mismatch, if any. The instance
	// serves degraded so the operator can recover through DELETE /index.
	unhealthy error
}

func (a *app) close() {
	if a.pipeline != nil {
		a.pipeline.Close()
	}
	if a.queue != nil {
		a.queue.Close()
	}
	if a.reranker != nil {
		a.reranker.Close()
	}
	if a.summarizer != nil {
		a.summarizer.Close()
	}
	if a.extractGen != nil {
		a.extractGen.Close()
	}
	if a.graphStore != nil {
		a.graphStore.Close()
	}
	if a.backend != nil {
		a.backend.Close()
	}
}

// assemble builds the full service graph per the resolved config.
func assemble(ctx context.Context, cfg *config.Config, root, stateDir string) (*app, error) {
	a := &app{metrics: telemetry.NewQueryMetrics()}

	backend, err := openBackend(ctx, cfg, stateDir)
	if err != nil {
		return nil, err
	}
	a.backend = backend

	embedder, err := embed.New(ctx, cfg.Embedding)
	if err != nil {
		a.close()
		return nil, err
	}
	a.embedder = embedder

	if err := backend.Initialize(ctx, store.EmbeddingMeta{
		Model:     embedder.ModelName(),
		Dimension: embedder.Dimensions(),
	}); err != nil {
		if !errors.IsKind(err, errors.KindStorageDimensionMismatch) {
			a.close()
			return nil, err
		}
		a.unhealthy = err
	}

	var extractor *graph.Extractor
	if cfg.Graph.Enabled {
		a.graphStore, err = openGraphStore(cfg, stateDir, backend)
		if err != nil {
			a.close()
			return nil, err
		}
		if cfg.Graph.UseLLMExtraction {
			a.extractGen, err = llm.New(llm.FromSummarization(cfg.Summarization))
			if err != nil {
				a.close()
				return nil, err
			}
		}
		extractor = graph.NewExtractor(generatorOrNil(a.extractGen), cfg.Graph.UseASTExtraction, cfg.Graph.MaxTripletsPerChunk)
	}

	if cfg.Summarization.Enabled {
		a.summarizer, err = llm.New(llm.FromSummarization(cfg.Summarization))
		if err != nil {
			a.close()
			return nil, err
		}
	}
	if cfg.Rerank.Enabled {
		gen, err := llm.New(llm.FromRerank(cfg.Rerank))
		if err != nil {
			a.close()
			return nil, err
		}
		a.reranker = search.NewReranker(llm.NewBreaker(gen), time.Duration(cfg.Rerank.TimeoutMS)*time.Millisecond)
	}

	deps := index.Deps{
		Config:      cfg,
		ProjectRoot: root,
		Backend:     backend,
		Embedder:    embedder,
		GraphStore:  a.graphStore,
		Extractor:   extractor,
	}
	if a.summarizer != nil {
		deps.Summarizer = a.summarizer
	}
	a.pipeline, err = index.New(deps)
	if err != nil {
		a.close()
		return nil, err
	}

	a.queue, err = job.Open(stateDir)
	if err != nil {
		a.close()
		return nil, err
	}
	a.worker = newWorker(a)
	registerHandlers(a)

	var searcher *graph.Searcher
	if a.graphStore != nil {
		searcher = graph.NewSearcher(a.graphStore)
	}
	a.engine, err = search.New(search.Deps{
		Backend:  backend,
		Embedder: embedder,
		Graph:    searcher,
		Reranker: a.reranker,
		Metrics:  a.metrics,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func openBackend(ctx context.Context, cfg *config.Config, stateDir string) (store.Backend, error) {
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		return store.NewPostgres(ctx, cfg.Storage.Postgres)
	default:
		return store.NewEmbedded(stateDir)
	}
}

func openGraphStore(cfg *config.Config, stateDir string, backend store.Backend) (graph.Store, error) {
	if cfg.Graph.Store == "postgres" {
		pg, ok := backend.(*store.Postgres)
		if !ok {
			return nil, errors.New(errors.KindInvalidConfig,
				"graph.store postgres requires storage.backend postgres").
				WithHint("set graph.store: sqlite or switch the storage backend")
		}
		return graph.NewPostgres(pg.Pool()), nil
	}
	return graph.NewSQLite(filepath.Join(stateDir, GraphDBName))
}

func newWorker(a *app) *job.Worker {
	counters := job.Counters{
		Chunks: func(ctx context.Context) (int, error) {
			return a.backend.Count(ctx, store.Filters{})
		},
	}
	if a.graphStore != nil {
		counters.GraphNodes = a.graphStore.NodeCount
	}
	return job.NewWorker(a.queue, counters)
}

// registerHandlers binds each job kind to the pipeline.
func registerHandlers(a *app) {
	indexHandler := func(ctx context.Context, j job.Job, report func(job.Progress)) error {
		res, err := a.pipeline.Run(ctx, index.Options{
			Folder:       j.Params.Path,
			Recursive:    j.Params.Recursive,
			IncludeCode:  j.Params.IncludeCode,
			ChunkSize:    j.Params.ChunkSize,
			ChunkOverlap: j.Params.ChunkOverlap,
			Force:        j.Params.Force,
			OnProgress:   progressReporter(report),
		})
		if err != nil {
			return err
		}
		// Deleted files shrink the chunk count; the worker's postcondition
		// check needs to know the shrink was legitimate.
		if res.FilesRemoved > 0 {
			done := res.FilesIndexed + res.FilesSkipped
			report(job.Progress{FilesDone: done, FilesTotal: done, FilesRemoved: res.FilesRemoved})
		}
		return nil
	}
	a.worker.Register(job.KindIndexPath, indexHandler)
	a.worker.Register(job.KindAddPath, indexHandler)

	a.worker.Register(job.KindRebuildGraph, func(ctx context.Context, j job.Job, report func(job.Progress)) error {
		_, err := a.pipeline.RebuildGraph(ctx, progressReporter(report))
		return err
	})
	a.worker.Register(job.KindReset, func(ctx context.Context, j job.Job, report func(job.Progress)) error {
		return a.pipeline.Reset(ctx)
	})
}

// progressReporter adapts pipeline progress to job progress records.
func progressReporter(report func(job.Progress)) func(index.Progress) {
	return func(p index.Progress) {
		report(job.Progress{
			FilesDone:  p.Current,
			FilesTotal: p.Total,
		})
	}
}

// preflightKind maps a failed check to the error kind its subsystem uses.
func preflightKind(name string) errors.Kind {
	switch name {
	case "storage_backend":
		return errors.KindStorageUnavailable
	case "embedding_provider", "summarization_provider", "rerank_provider":
		return errors.KindProviderUnavailable
	default:
		return errors.KindInternal
	}
}

func generatorOrNil(gen llm.Generator) graph.Generator {
	if gen == nil {
		return nil
	}
	return gen
}

func level(cfg *config.Config) string {
	if flagLevel != "" {
		return flagLevel
	}
	return cfg.Logging.Level
}
