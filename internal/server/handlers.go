package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/job"
	"github.com/SpillwaveSolutions/agent-brain/internal/search"
	"github.com/SpillwaveSolutions/agent-brain/internal/store"
	"github.com/SpillwaveSolutions/agent-brain/internal/telemetry"
	"github.com/SpillwaveSolutions/agent-brain/pkg/version"
)

// maxBodyBytes bounds request bodies; queries and job params are small.
const maxBodyBytes = 1 << 20

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Mode    string `json:"mode"`

	Embedding     providerInfo  `json:"embedding"`
	Summarization *providerInfo `json:"summarization,omitempty"`
	Rerank        *providerInfo `json:"rerank,omitempty"`
	GraphEnabled  bool          `json:"graph_enabled"`

	// Set when the instance is serving degraded. The shape matches
	// errorBody so clients decode the failure the same way everywhere.
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`
	Hint      string `json:"hint,omitempty"`
}

type providerInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.deps.Config
	resp := healthResponse{
		Status:  "ok",
		Version: version.Short(),
		Mode:    s.deps.Runtime.Mode,
		Embedding: providerInfo{
			Provider: cfg.Embedding.Provider,
			Model:    cfg.Embedding.Model,
		},
		GraphEnabled: cfg.Graph.Enabled,
	}
	if cfg.Summarization.Enabled {
		resp.Summarization = &providerInfo{Provider: cfg.Summarization.Provider, Model: cfg.Summarization.Model}
	}
	if cfg.Rerank.Enabled {
		resp.Rerank = &providerInfo{Provider: cfg.Rerank.Provider, Model: cfg.Rerank.Model}
	}
	if err := s.deps.Unhealthy; err != nil {
		resp.Status = "unhealthy"
		resp.ErrorKind = string(errors.KindOf(err))
		resp.Message = errorText(err)
		resp.Hint = errors.HintOf(err)
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	TotalChunks        int                `json:"total_chunks"`
	GraphNodes         int                `json:"graph_nodes,omitempty"`
	IndexingInProgress bool               `json:"indexing_in_progress"`
	CurrentJobID       string             `json:"current_job_id,omitempty"`
	PendingJobs        int                `json:"pending_jobs"`
	Queries            *telemetry.Summary `json:"queries,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	chunks, err := s.deps.Backend.Count(r.Context(), store.Filters{})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := statusResponse{
		TotalChunks: chunks,
		PendingJobs: len(s.deps.Queue.List(job.ListOptions{Statuses: []job.Status{job.StatusPending}})),
	}
	if id, ok := s.deps.Worker.Active(); ok {
		resp.IndexingInProgress = true
		resp.CurrentJobID = id
	}
	if s.deps.Graph != nil {
		if nodes, err := s.deps.Graph.NodeCount(r.Context()); err == nil {
			resp.GraphNodes = nodes
		}
	}
	if s.deps.Metrics != nil {
		summary := s.deps.Metrics.Summary()
		resp.Queries = &summary
	}
	writeJSON(w, http.StatusOK, resp)
}

// queryRequest decodes with pointers so an absent field takes the default
// while an explicit zero stays an explicit zero for validation to reject.
// Filters arrive as a key → scalar-or-list map and go through
// store.ParseFilters, which owns key validation.
type queryRequest struct {
	Text           string         `json:"text"`
	Mode           string         `json:"mode"`
	TopK           *int           `json:"top_k"`
	Threshold      *float64       `json:"threshold"`
	Alpha          *float64       `json:"alpha"`
	Filters        map[string]any `json:"filters"`
	TraversalDepth int            `json:"traversal_depth"`
	IncludeScores  bool           `json:"include_scores"`
}

type queryResponse struct {
	Results        []queryResult `json:"results"`
	Mode           string        `json:"mode"`
	RerankDegraded bool          `json:"rerank_degraded,omitempty"`
	DurationMS     int64         `json:"duration_ms"`
}

type queryResult struct {
	Chunk *store.Chunk `json:"chunk"`
	Score float64      `json:"score"`

	VectorScore  *float64 `json:"vector_score,omitempty"`
	KeywordScore *float64 `json:"keyword_score,omitempty"`
	RerankScore  *float64 `json:"rerank_score,omitempty"`

	Node  string `json:"node,omitempty"`
	Depth int    `json:"depth,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Unhealthy; err != nil {
		writeError(w, err)
		return
	}
	var body queryRequest
	if !decodeBody(w, r, &body) {
		return
	}
	filters, err := store.ParseFilters(body.Filters)
	if err != nil {
		writeError(w, err)
		return
	}

	req := search.Request{
		Text:           body.Text,
		Mode:           search.Mode(body.Mode),
		TopK:           search.DefaultTopK,
		Threshold:      search.DefaultThreshold,
		Alpha:          search.DefaultAlpha,
		Filters:        filters,
		TraversalDepth: body.TraversalDepth,
		IncludeScores:  body.IncludeScores,
	}
	if body.TopK != nil {
		req.TopK = *body.TopK
	}
	if body.Threshold != nil {
		req.Threshold = *body.Threshold
	}
	if body.Alpha != nil {
		req.Alpha = *body.Alpha
	}

	ctx, cancel := context.WithTimeout(r.Context(), queryDeadline)
	defer cancel()

	resp, err := s.deps.Engine.Search(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}

	out := queryResponse{
		Results:        make([]queryResult, 0, len(resp.Results)),
		Mode:           string(resp.Mode),
		RerankDegraded: resp.RerankDegraded,
		DurationMS:     resp.Duration.Milliseconds(),
	}
	for _, res := range resp.Results {
		qr := queryResult{
			Chunk: res.Chunk,
			Score: res.Score,
			Node:  res.Node,
			Depth: res.Depth,
		}
		if body.IncludeScores {
			qr.VectorScore = &res.VectorScore
			qr.KeywordScore = &res.KeywordScore
			qr.RerankScore = &res.RerankScore
		}
		out.Results = append(out.Results, qr)
	}
	writeJSON(w, http.StatusOK, out)
}

// indexRequest decodes POST /index and /index/add bodies. recursive and
// include_code default true when absent.
type indexRequest struct {
	FolderPath   string `json:"folder_path"`
	Recursive    *bool  `json:"recursive"`
	IncludeCode  *bool  `json:"include_code"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	Force        bool   `json:"force"`
}

func (r indexRequest) params() job.Params {
	p := job.Params{
		Path:         r.FolderPath,
		Recursive:    true,
		IncludeCode:  true,
		ChunkSize:    r.ChunkSize,
		ChunkOverlap: r.ChunkOverlap,
		Force:        r.Force,
	}
	if r.Recursive != nil {
		p.Recursive = *r.Recursive
	}
	if r.IncludeCode != nil {
		p.IncludeCode = *r.IncludeCode
	}
	return p
}

type enqueueResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Unhealthy; err != nil {
		writeError(w, err)
		return
	}
	s.enqueue(w, r, job.KindIndexPath)
}

// handleAdd enqueues an add-only job. It refuses while another indexing job
// is running so adds do not queue up behind a long rebuild unnoticed.
func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Unhealthy; err != nil {
		writeError(w, err)
		return
	}
	if id, ok := s.deps.Worker.Active(); ok {
		writeError(w, errors.Newf(errors.KindConflict, "job %s is running", id).
			WithHint("wait for the active job or cancel it first"))
		return
	}
	s.enqueue(w, r, job.KindAddPath)
}

func (s *Server) enqueue(w http.ResponseWriter, r *http.Request, kind job.Kind) {
	var body indexRequest
	if !decodeBody(w, r, &body) {
		return
	}

	j, err := s.deps.Queue.Enqueue(kind, body.params())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: j.ID, Status: j.Status})
}

// handleRebuildGraph enqueues a graph rebuild. Refused up front when the
// graph is disabled; queueing a job that can only fail helps nobody.
func (s *Server) handleRebuildGraph(w http.ResponseWriter, r *http.Request) {
	if s.deps.Graph == nil {
		writeError(w, errors.New(errors.KindGraphDisabled, "graph store is disabled").
			WithHint("set graph.enabled: true and restart"))
		return
	}
	j, err := s.deps.Queue.Enqueue(job.KindRebuildGraph, job.Params{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: j.ID, Status: j.Status})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	j, err := s.deps.Queue.Enqueue(job.KindReset, job.Params{})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, enqueueResponse{JobID: j.ID, Status: j.Status})
}

type listJobsResponse struct {
	Jobs []job.Job `json:"jobs"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := job.ListOptions{
		Limit:  atoiDefault(q.Get("limit"), 50),
		Offset: atoiDefault(q.Get("offset"), 0),
	}
	for _, v := range splitParam(q.Get("status")) {
		opts.Statuses = append(opts.Statuses, job.Status(strings.ToUpper(v)))
	}
	for _, v := range splitParam(q.Get("kind")) {
		opts.Kinds = append(opts.Kinds, job.Kind(v))
	}
	writeJSON(w, http.StatusOK, listJobsResponse{Jobs: s.deps.Queue.List(opts)})
}

type compactResponse struct {
	Records int `json:"records"`
}

// handleCompactJobs rewrites the job log to one snapshot per job. The log
// also self-compacts at open; this is the manual trigger.
func (s *Server) handleCompactJobs(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Queue.Compact(); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, compactResponse{Records: s.deps.Queue.Records()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	j, ok := s.deps.Queue.Get(id)
	if !ok {
		writeError(w, errors.Newf(errors.KindNotFound, "unknown job %s", id))
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.deps.Queue.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, enqueueResponse{JobID: j.ID, Status: j.Status})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, errors.Wrap(errors.KindInvalidQuery, "decoding request body", err))
		return false
	}
	return true
}

func splitParam(v string) []string {
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

func atoiDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
