// Package client is the HTTP client for a running instance, discovered
// through the project's runtime file.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/SpillwaveSolutions/agent-brain/internal/config"
	"github.com/SpillwaveSolutions/agent-brain/internal/errors"
	"github.com/SpillwaveSolutions/agent-brain/internal/job"
	"github.com/SpillwaveSolutions/agent-brain/internal/lifecycle"
	"github.com/SpillwaveSolutions/agent-brain/internal/store"
)

// defaultTimeout bounds one request; queries carry the server-side deadline,
// this one just keeps a hung connection from blocking the CLI forever.
const defaultTimeout = 60 * time.Second

// Client talks to one instance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New returns a client for a known base URL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Discover resolves the live instance for a project root and returns a
// client bound to it. No instance means KindNotFound.
func Discover(projectRoot string) (*Client, error) {
	rt, err := lifecycle.Discover(config.StateDir(projectRoot), nil)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return nil, errors.New(errors.KindNotFound, "no running instance for this project").
				WithHint("run `agent-brain start` first")
		}
		return nil, err
	}
	return New(rt.BaseURL), nil
}

// BaseURL returns the instance address the client is bound to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Health is the GET /health response.
type Health struct {
	Status       string       `json:"status"`
	Version      string       `json:"version"`
	Mode         string       `json:"mode"`
	Embedding    ProviderInfo `json:"embedding"`
	GraphEnabled bool         `json:"graph_enabled"`
}

type ProviderInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Status is the GET /health/status response.
type Status struct {
	TotalChunks        int    `json:"total_chunks"`
	GraphNodes         int    `json:"graph_nodes"`
	IndexingInProgress bool   `json:"indexing_in_progress"`
	CurrentJobID       string `json:"current_job_id"`
	PendingJobs        int    `json:"pending_jobs"`
}

// QueryRequest mirrors the POST /query body. Pointer fields are omitted when
// nil so the server applies its defaults. Filters take the wire shape the
// server parses: filter key to scalar or list, as store.Filters.Wire emits.
type QueryRequest struct {
	Text           string         `json:"text"`
	Mode           string         `json:"mode,omitempty"`
	TopK           *int           `json:"top_k,omitempty"`
	Threshold      *float64       `json:"threshold,omitempty"`
	Alpha          *float64       `json:"alpha,omitempty"`
	Filters        map[string]any `json:"filters,omitempty"`
	TraversalDepth int            `json:"traversal_depth,omitempty"`
	IncludeScores  bool           `json:"include_scores,omitempty"`
}

// QueryResponse is the POST /query response.
type QueryResponse struct {
	Results        []QueryResult `json:"results"`
	Mode           string        `json:"mode"`
	RerankDegraded bool          `json:"rerank_degraded"`
	DurationMS     int64         `json:"duration_ms"`
}

type QueryResult struct {
	Chunk        *store.Chunk `json:"chunk"`
	Score        float64      `json:"score"`
	VectorScore  *float64     `json:"vector_score,omitempty"`
	KeywordScore *float64     `json:"keyword_score,omitempty"`
	RerankScore  *float64     `json:"rerank_score,omitempty"`
	Node         string       `json:"node,omitempty"`
	Depth        int          `json:"depth,omitempty"`
}

// IndexRequest mirrors the POST /index and /index/add bodies.
type IndexRequest struct {
	FolderPath   string `json:"folder_path,omitempty"`
	Recursive    *bool  `json:"recursive,omitempty"`
	IncludeCode  *bool  `json:"include_code,omitempty"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
	Force        bool   `json:"force,omitempty"`
}

// Enqueued is the 202 response for job-creating endpoints.
type Enqueued struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

// JobsOptions filter GET /index/jobs.
type JobsOptions struct {
	Statuses []string
	Kinds    []string
	Limit    int
	Offset   int
}

func (c *Client) GetHealth(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.call(ctx, http.MethodGet, "/health", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetStatus(ctx context.Context) (*Status, error) {
	var out Status
	if err := c.call(ctx, http.MethodGet, "/health/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	var out QueryResponse
	if err := c.call(ctx, http.MethodPost, "/query", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Index(ctx context.Context, req IndexRequest) (*Enqueued, error) {
	var out Enqueued
	if err := c.call(ctx, http.MethodPost, "/index", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Add(ctx context.Context, req IndexRequest) (*Enqueued, error) {
	var out Enqueued
	if err := c.call(ctx, http.MethodPost, "/index/add", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) RebuildGraph(ctx context.Context) (*Enqueued, error) {
	var out Enqueued
	if err := c.call(ctx, http.MethodPost, "/index/rebuild-graph", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Reset(ctx context.Context) (*Enqueued, error) {
	var out Enqueued
	if err := c.call(ctx, http.MethodDelete, "/index", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Jobs(ctx context.Context, opts JobsOptions) ([]job.Job, error) {
	q := url.Values{}
	if len(opts.Statuses) > 0 {
		q.Set("status", strings.Join(opts.Statuses, ","))
	}
	if len(opts.Kinds) > 0 {
		q.Set("kind", strings.Join(opts.Kinds, ","))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/index/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Jobs []job.Job `json:"jobs"`
	}
	if err := c.call(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *Client) Job(ctx context.Context, id string) (*job.Job, error) {
	var out job.Job
	if err := c.call(ctx, http.MethodGet, "/index/jobs/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CompactJobs rewrites the job log to one snapshot per job and returns the
// remaining record count.
func (c *Client) CompactJobs(ctx context.Context) (int, error) {
	var out struct {
		Records int `json:"records"`
	}
	if err := c.call(ctx, http.MethodPost, "/index/jobs/compact", nil, &out); err != nil {
		return 0, err
	}
	return out.Records, nil
}

func (c *Client) CancelJob(ctx context.Context, id string) (*Enqueued, error) {
	var out Enqueued
	if err := c.call(ctx, http.MethodPost, "/index/jobs/"+url.PathEscape(id)+"/cancel", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// WaitJob polls until the job reaches a terminal status or the context
// expires. onUpdate, when non-nil, observes every distinct snapshot.
func (c *Client) WaitJob(ctx context.Context, id string, onUpdate func(job.Job)) (*job.Job, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	var last job.Job
	for {
		j, err := c.Job(ctx, id)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil && !sameSnapshot(last, *j) {
			onUpdate(*j)
			last = *j
		}
		if j.Status.Terminal() {
			return j, nil
		}

		select {
		case <-ctx.Done():
			return nil, errors.Wrap(errors.KindDeadlineExceeded, "waiting for job", ctx.Err())
		case <-ticker.C:
		}
	}
}

func sameSnapshot(a, b job.Job) bool {
	if a.Status != b.Status {
		return false
	}
	if (a.Progress == nil) != (b.Progress == nil) {
		return false
	}
	return a.Progress == nil || *a.Progress == *b.Progress
}

func (c *Client) call(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(errors.KindInternal, "encoding request", err)
		}
		rd = bytes.NewReader(data)
	} else if method != http.MethodGet {
		rd = strings.NewReader("{}")
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return errors.Wrap(errors.KindInternal, "building request", err)
	}
	if rd != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(errors.KindStorageUnavailable, err, "%s %s", method, path).
			WithHint("is the instance still running? check `agent-brain status`")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return errors.Wrap(errors.KindInternal, "reading response", err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrapf(errors.KindInternal, err, "decoding %s response", path)
		}
	}
	return nil
}

// decodeError rebuilds the server's structured error so CLI callers can
// switch on kind the same way in-process callers do.
func decodeError(status int, data []byte) error {
	var body struct {
		ErrorKind string `json:"error_kind"`
		Message   string `json:"message"`
		Hint      string `json:"hint"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.ErrorKind == "" {
		return errors.Newf(errors.KindInternal, "server returned %d: %s", status, strings.TrimSpace(string(data)))
	}
	e := errors.New(errors.Kind(body.ErrorKind), body.Message)
	if body.Hint != "" {
		e = e.WithHint(body.Hint)
	}
	return e
}

// String renders a one-line description for logs.
func (c *Client) String() string {
	return fmt.Sprintf("agent-brain client -> %s", c.baseURL)
}
