// Package httpapi implements the HTTP gateway for taskgate.
//
// Security:
//   - Optional API key authentication (constant-time comparison)
//   - Per-client rate limiting via token bucket
//   - Every filesystem operation goes through the sandbox root
//   - All requests logged with correlation IDs
//   - TLS expected via reverse proxy (not handled here)
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/okapi"

	"github.com/jkaninda/taskgate/internal/executor"
	"github.com/jkaninda/taskgate/internal/gateway"
	"github.com/jkaninda/taskgate/internal/observability"
	"github.com/jkaninda/taskgate/internal/ratelimit"
	"github.com/jkaninda/taskgate/internal/sandbox"
	"github.com/jkaninda/taskgate/internal/tools"
	"github.com/jkaninda/taskgate/internal/tools/fetch"
	"github.com/jkaninda/taskgate/internal/tools/file"
	"github.com/jkaninda/taskgate/internal/tools/query"
	"github.com/jkaninda/taskgate/internal/translator"
)

const defaultMaxRequestSize = 1 << 20 // 1 MB

// ErrorBody is the standard error response.
type ErrorBody struct {
	Detail string `json:"detail"`
}

// Config configures the HTTP gateway.
type Config struct {
	ListenAddr     string   // e.g., ":8080"
	EnableDocs     bool
	APIKeys        []string // Accepted bearer tokens. Empty = no authentication.
	MaxRequestSize int64    // Maximum request body in bytes. 0 = 1 MB default.

	// Observability
	MetricsRegistry *prometheus.Registry            // Custom Prometheus registry for the metrics endpoint.
	MetricsPath     string                          // Path for metrics endpoint. Default: "/metrics".
	HealthChecker   *observability.HealthChecker    // Health checker for /readyz.
	Metrics         *observability.MetricsCollector // Metrics collector for HTTP middleware.
	Tracer          trace.Tracer                    // OTel tracer for HTTP middleware.
}

// Gateway is the HTTP gateway exposing task execution and resource tools.
type Gateway struct {
	config    Config
	executor  *executor.Executor
	fileTool  *file.Tool
	fetchTool *fetch.Tool
	queryTool *query.Tool
	limiter   *ratelimit.Limiter
	logger    *slog.Logger
	server    *http.Server
	okapi     *okapi.Okapi
}

var _ gateway.Gateway = (*Gateway)(nil)

// NewGateway creates an HTTP gateway.
func NewGateway(cfg Config, ex *executor.Executor, ft *file.Tool, fc *fetch.Tool, qt *query.Tool, rl *ratelimit.Limiter, logger *slog.Logger) *Gateway {
	return &Gateway{
		config:    cfg,
		executor:  ex,
		fileTool:  ft,
		fetchTool: fc,
		queryTool: qt,
		limiter:   rl,
		logger:    logger,
		okapi:     okapi.New(okapi.WithMaxMultipartMemory(defaultMaxRequestSize)),
	}
}

// WithOpenAPIDocs enables the interactive API documentation.
func (g *Gateway) WithOpenAPIDocs() *Gateway {
	g.okapi.WithOpenAPIDocs(
		okapi.OpenAPI{
			Title:   "taskgate",
			Version: "v0.1.0",
		},
	)
	return g
}

// Start launches the HTTP server and blocks until it exits or ctx is canceled.
func (g *Gateway) Start(ctx context.Context) error {
	if g.config.Metrics != nil || g.config.Tracer != nil {
		g.okapi.UseMiddleware(func(next http.Handler) http.Handler {
			return observability.HTTPMetricsMiddleware(g.config.Metrics, g.config.Tracer, next)
		})
	}

	g.okapi.Post("/run", g.authenticate(g.handleRun),
		okapi.DocSummary("Translate a task into a command and execute it"),
		okapi.DocTags("Tasks"),
		okapi.DocResponse(RunResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusInternalServerError, ErrorBody{}),
	)
	g.okapi.Get("/read", g.authenticate(g.handleRead),
		okapi.DocSummary("Read a file from the sandbox"),
		okapi.DocTags("Files"),
		okapi.DocResponse(ReadResponse{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)
	g.okapi.Post("/fetch", g.authenticate(g.handleFetch),
		okapi.DocSummary("Download a URL into the sandbox"),
		okapi.DocTags("Files"),
		okapi.DocRequestBody(FetchRequest{}),
		okapi.DocResponse(FetchResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusForbidden, ErrorBody{}),
	)
	g.okapi.Post("/query", g.authenticate(g.handleQuery),
		okapi.DocSummary("Run a SQL query against a sandboxed SQLite file"),
		okapi.DocTags("Data"),
		okapi.DocRequestBody(QueryRequest{}),
		okapi.DocResponse(QueryResponse{}),
		okapi.DocResponse(http.StatusBadRequest, ErrorBody{}),
		okapi.DocResponse(http.StatusNotFound, ErrorBody{}),
	)

	// Observability endpoints (unauthenticated).
	g.okapi.Get("/healthz", g.handleLiveness)
	g.okapi.Get("/readyz", g.handleReadiness)

	if g.config.MetricsRegistry != nil {
		path := g.config.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		g.okapi.HandleStd("GET", path, promhttp.HandlerFor(g.config.MetricsRegistry, promhttp.HandlerOpts{}).ServeHTTP)
	}
	if g.config.EnableDocs {
		g.WithOpenAPIDocs()
	}

	g.server = &http.Server{
		Addr:              g.config.ListenAddr,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g.logger.Info("http gateway starting", slog.String("addr", g.config.ListenAddr))

	return g.okapi.StartServer(g.server)
}

// Stop gracefully shuts down the HTTP server.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	g.logger.Info("http gateway stopping")
	return g.okapi.Shutdown(g.server)
}

// --- Handlers ---

// RunResponse is the JSON response for POST /run.
type RunResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (g *Gateway) handleRun(c *okapi.Context) error {
	task := c.Request().URL.Query().Get("task")
	if task == "" {
		return writeError(c, http.StatusBadRequest, "task is required")
	}

	correlationID := newCorrelationID()
	g.logger.Info("http run",
		slog.String("correlation_id", correlationID),
		slog.String("task", task),
	)

	output, err := g.executor.Run(c.Context(), task)
	if err != nil {
		return g.taskError(c, correlationID, err)
	}

	return c.OK(RunResponse{Status: "success", Message: output})
}

// ReadResponse is the JSON response for GET /read.
type ReadResponse struct {
	Status  string `json:"status"`
	Content string `json:"content"`
}

func (g *Gateway) handleRead(c *okapi.Context) error {
	path := c.Request().URL.Query().Get("path")
	if path == "" {
		return writeError(c, http.StatusBadRequest, "path is required")
	}

	content, err := g.fileTool.Read(c.Context(), path)
	if err != nil {
		g.recordTool("file_read", err)
		return g.resourceError(c, err)
	}

	g.recordTool("file_read", nil)
	return c.OK(ReadResponse{Status: "success", Content: content})
}

// FetchRequest is the JSON body for POST /fetch.
type FetchRequest struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// FetchResponse is the JSON response for POST /fetch.
type FetchResponse struct {
	Status    string `json:"status"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

func (g *Gateway) handleFetch(c *okapi.Context) error {
	var req FetchRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.URL == "" {
		return writeError(c, http.StatusBadRequest, "url is required")
	}
	if req.Path == "" {
		return writeError(c, http.StatusBadRequest, "path is required")
	}

	n, err := g.fetchTool.Fetch(c.Context(), req.URL, req.Path)
	if err != nil {
		g.recordTool("fetch", err)
		return g.resourceError(c, err)
	}

	g.recordTool("fetch", nil)
	return c.OK(FetchResponse{Status: "success", Path: req.Path, SizeBytes: n})
}

// QueryRequest is the JSON body for POST /query.
type QueryRequest struct {
	DBPath string `json:"db_path"`
	Query  string `json:"query"`
}

// QueryResponse is the JSON response for POST /query.
type QueryResponse struct {
	Status  string   `json:"status"`
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func (g *Gateway) handleQuery(c *okapi.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, http.StatusBadRequest, "invalid request body")
	}
	if req.DBPath == "" {
		return writeError(c, http.StatusBadRequest, "db_path is required")
	}
	if req.Query == "" {
		return writeError(c, http.StatusBadRequest, "query is required")
	}

	res, err := g.queryTool.Query(c.Context(), req.DBPath, req.Query)
	if err != nil {
		g.recordTool("query", err)
		return g.resourceError(c, err)
	}

	g.recordTool("query", nil)
	return c.OK(QueryResponse{Status: "success", Columns: res.Columns, Rows: res.Rows})
}

// HealthResponse is the JSON response for health endpoints.
type HealthResponse struct {
	Status string `json:"status"`
}

func (g *Gateway) handleLiveness(c *okapi.Context) error {
	return c.OK(&HealthResponse{Status: "ok"})
}

// handleReadiness checks all registered dependencies and returns 200 or 503.
func (g *Gateway) handleReadiness(c *okapi.Context) error {
	if g.config.HealthChecker == nil {
		return c.OK(&HealthResponse{Status: "ok"})
	}

	status := g.config.HealthChecker.CheckReady(c.Context())
	code := http.StatusOK
	if status.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, status)
}

// --- Error mapping ---

// taskError maps task pipeline failures to HTTP responses.
func (g *Gateway) taskError(c *okapi.Context, correlationID string, err error) error {
	var exitErr *executor.ExitError
	switch {
	case errors.Is(err, executor.ErrEmptyCommand):
		return writeError(c, http.StatusBadRequest, "failed to parse task")
	case errors.Is(err, executor.ErrDeletionBlocked):
		return writeError(c, http.StatusForbidden, "file deletion is not allowed")
	case errors.Is(err, sandbox.ErrTimeout):
		return writeError(c, http.StatusInternalServerError, "Task execution timeout.")
	case errors.Is(err, translator.ErrTranslation):
		g.logger.Error("translation failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return writeError(c, http.StatusInternalServerError, "task translation failed")
	case errors.As(err, &exitErr):
		return writeError(c, http.StatusInternalServerError, exitErr.Error())
	default:
		g.logger.Error("task execution failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return writeError(c, http.StatusInternalServerError, "internal server error")
	}
}

// resourceError maps tool failures to HTTP responses.
func (g *Gateway) resourceError(c *okapi.Context, err error) error {
	switch {
	case errors.Is(err, sandbox.ErrForbidden):
		if g.config.Metrics != nil {
			g.config.Metrics.RecordSandboxViolation()
		}
		return writeError(c, http.StatusForbidden, "access outside the allowed directory is forbidden")
	case errors.Is(err, tools.ErrNotFound):
		return writeError(c, http.StatusNotFound, "file not found")
	default:
		g.logger.Error("tool operation failed", slog.String("error", err.Error()))
		return writeError(c, http.StatusInternalServerError, err.Error())
	}
}

func writeError(c *okapi.Context, code int, detail string) error {
	return c.JSON(code, ErrorBody{Detail: detail})
}

func (g *Gateway) recordTool(tool string, err error) {
	if g.config.Metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	g.config.Metrics.RecordToolOperation(tool, status)
}

// --- Authentication ---

// authenticate validates the bearer token when API keys are configured and
// applies per-client rate limiting.
func (g *Gateway) authenticate(next okapi.HandlerFunc) okapi.HandlerFunc {
	return func(c *okapi.Context) error {
		clientID := clientAddr(c.Request())

		if len(g.config.APIKeys) > 0 {
			authHeader := c.Header("Authorization")
			if !strings.HasPrefix(authHeader, "Bearer ") {
				return c.AbortUnauthorized("missing or invalid Authorization header")
			}
			apiKey := strings.TrimPrefix(authHeader, "Bearer ")

			matched := false
			for _, key := range g.config.APIKeys {
				if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
					matched = true
				}
			}
			if !matched {
				return c.AbortUnauthorized("invalid API key")
			}
			clientID = apiKey
		}

		if g.limiter != nil {
			if err := g.limiter.Allow(clientID); err != nil {
				return c.AbortTooManyRequests("rate limit exceeded")
			}
		}
		return next(c)
	}
}

// clientAddr returns the remote host without the port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func newCorrelationID() string {
	return uuid.NewString()
}
