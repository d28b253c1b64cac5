package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jkaninda/taskgate/internal/executor"
	"github.com/jkaninda/taskgate/internal/gateway"
	"github.com/jkaninda/taskgate/internal/llm"
	"github.com/jkaninda/taskgate/internal/ratelimit"
	"github.com/jkaninda/taskgate/internal/sandbox"
	"github.com/jkaninda/taskgate/internal/tools/fetch"
	"github.com/jkaninda/taskgate/internal/tools/file"
	"github.com/jkaninda/taskgate/internal/tools/query"
	"github.com/jkaninda/taskgate/internal/translator"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeProvider struct {
	reply func(task string) string
}

func (f *fakeProvider) Complete(_ context.Context, req *llm.Request) (*llm.Response, error) {
	task := req.Messages[len(req.Messages)-1].Content
	return &llm.Response{Content: f.reply(task), StopReason: "end_turn"}, nil
}

func (f *fakeProvider) Name() string { return "fake" }

type testGateway struct {
	baseURL string
	rootDir string
}

type gatewayOptions struct {
	apiKeys         []string
	limiter         *ratelimit.Limiter
	executorTimeout time.Duration
}

func startGateway(t *testing.T, reply func(string) string, opts gatewayOptions) *testGateway {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process runner requires a POSIX shell")
	}

	dir, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	logger := discardLogger()

	root, err := sandbox.NewRoot(dir, logger)
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	runner := sandbox.NewProcessRunner(root, sandbox.ProcessConfig{Timeout: opts.executorTimeout}, logger)
	tr, err := translator.New(&fakeProvider{reply: reply}, translator.Config{}, logger)
	if err != nil {
		t.Fatalf("translator.New: %v", err)
	}
	ex := executor.New(tr, runner, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	// The server is driven through the transport interface, like cmd does.
	var g gateway.Gateway = NewGateway(
		Config{ListenAddr: addr, APIKeys: opts.apiKeys},
		ex,
		file.New(root, file.Config{}, logger),
		fetch.New(root, fetch.Config{}, logger),
		query.New(root, query.Config{}, logger),
		opts.limiter,
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = g.Start(ctx) }()
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer stopCancel()
		_ = g.Stop(stopCtx)
		cancel()
	})

	baseURL := "http://" + addr
	waitReady(t, baseURL)
	return &testGateway{baseURL: baseURL, rootDir: dir}
}

func waitReady(t *testing.T, baseURL string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(baseURL + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("gateway did not become ready")
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	var parsed map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &parsed); err != nil {
			t.Fatalf("Unmarshal %q: %v", data, err)
		}
	}
	return resp.StatusCode, parsed
}

func TestRunListsSandboxFiles(t *testing.T) {
	gw := startGateway(t, func(string) string { return "ls" }, gatewayOptions{})
	if err := os.WriteFile(filepath.Join(gw.rootDir, "hello.txt"), []byte("hi"), 0640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	code, body := doJSON(t, "POST", gw.baseURL+"/run?task=list+all+files", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	if body["status"] != "success" {
		t.Errorf("status field = %v", body["status"])
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "hello.txt") {
		t.Errorf("message = %q, want hello.txt listed", msg)
	}
}

func TestRunMissingTask(t *testing.T) {
	gw := startGateway(t, func(string) string { return "ls" }, gatewayOptions{})

	code, body := doJSON(t, "POST", gw.baseURL+"/run", nil, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if body["detail"] != "task is required" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestRunDeletionBlocked(t *testing.T) {
	gw := startGateway(t, func(string) string { return "rm -rf important" }, gatewayOptions{})

	code, body := doJSON(t, "POST", gw.baseURL+"/run?task=delete+files", nil, nil)
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
	if body["detail"] != "file deletion is not allowed" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestRunEmptyTranslation(t *testing.T) {
	gw := startGateway(t, func(string) string { return "   " }, gatewayOptions{})

	code, body := doJSON(t, "POST", gw.baseURL+"/run?task=do+nothing", nil, nil)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if body["detail"] != "failed to parse task" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestRunTimeout(t *testing.T) {
	gw := startGateway(t, func(string) string { return "sleep 10" }, gatewayOptions{executorTimeout: 200 * time.Millisecond})

	code, body := doJSON(t, "POST", gw.baseURL+"/run?task=wait", nil, nil)
	if code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", code)
	}
	if body["detail"] != "Task execution timeout." {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestRunCommandFailure(t *testing.T) {
	gw := startGateway(t, func(string) string { return "false" }, gatewayOptions{})

	code, _ := doJSON(t, "POST", gw.baseURL+"/run?task=fail", nil, nil)
	if code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", code)
	}
}

func TestReadRoundTrip(t *testing.T) {
	gw := startGateway(t, func(string) string { return "ls" }, gatewayOptions{})
	path := filepath.Join(gw.rootDir, "report.txt")
	if err := os.WriteFile(path, []byte("quarterly numbers"), 0640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	code, body := doJSON(t, "GET", gw.baseURL+"/read?path="+path, nil, nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	if body["content"] != "quarterly numbers" {
		t.Errorf("content = %v", body["content"])
	}
}

func TestReadOutsideRoot(t *testing.T) {
	gw := startGateway(t, func(string) string { return "ls" }, gatewayOptions{})

	code, body := doJSON(t, "GET", gw.baseURL+"/read?path=/etc/passwd", nil, nil)
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
	if detail, _ := body["detail"].(string); !strings.Contains(detail, "forbidden") {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestReadTraversalBlocked(t *testing.T) {
	gw := startGateway(t, func(string) string { return "ls" }, gatewayOptions{})

	escape := gw.rootDir + "/../escape.txt"
	code, _ := doJSON(t, "GET", gw.baseURL+"/read?path="+escape, nil, nil)
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
}

func TestReadMissingFile(t *testing.T) {
	gw := startGateway(t, func(string) string { return "ls" }, gatewayOptions{})

	code, body := doJSON(t, "GET", gw.baseURL+"/read?path="+filepath.Join(gw.rootDir, "absent.txt"), nil, nil)
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
	if body["detail"] != "file not found" {
		t.Errorf("detail = %v", body["detail"])
	}
}

func TestFetchThenRead(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "downloaded payload")
	}))
	defer upstream.Close()

	gw := startGateway(t, func(string) string { return "ls" }, gatewayOptions{})
	dest := filepath.Join(gw.rootDir, "dl", "payload.txt")

	code, body := doJSON(t, "POST", gw.baseURL+"/fetch", FetchRequest{URL: upstream.URL, Path: dest}, nil)
	if code != http.StatusOK {
		t.Fatalf("fetch status = %d, body = %v", code, body)
	}

	code, body = doJSON(t, "GET", gw.baseURL+"/read?path="+dest, nil, nil)
	if code != http.StatusOK {
		t.Fatalf("read status = %d", code)
	}
	if body["content"] != "downloaded payload" {
		t.Errorf("content = %v", body["content"])
	}
}

func TestFetchOutsideRoot(t *testing.T) {
	gw := startGateway(t, func(string) string { return "ls" }, gatewayOptions{})

	code, _ := doJSON(t, "POST", gw.baseURL+"/fetch", FetchRequest{URL: "http://127.0.0.1:1/x", Path: "/etc/evil"}, nil)
	if code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", code)
	}
}

func TestQueryEndpoint(t *testing.T) {
	gw := startGateway(t, func(string) string { return "ls" }, gatewayOptions{})

	dbPath := filepath.Join(gw.rootDir, "app.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("gorm.Open: %v", err)
	}
	if err := db.Exec("CREATE TABLE t (n INTEGER)").Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := db.Exec("INSERT INTO t VALUES (7)").Error; err != nil {
		t.Fatalf("insert: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	code, body := doJSON(t, "POST", gw.baseURL+"/query", QueryRequest{DBPath: dbPath, Query: "SELECT n FROM t"}, nil)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	rows, _ := body["rows"].([]any)
	if len(rows) != 1 {
		t.Fatalf("rows = %v", body["rows"])
	}
}

func TestQueryMissingDatabase(t *testing.T) {
	gw := startGateway(t, func(string) string { return "ls" }, gatewayOptions{})

	code, _ := doJSON(t, "POST", gw.baseURL+"/query", QueryRequest{DBPath: filepath.Join(gw.rootDir, "nope.db"), Query: "SELECT 1"}, nil)
	if code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", code)
	}
}

func TestAPIKeyAuthentication(t *testing.T) {
	gw := startGateway(t, func(string) string { return "echo ok" }, gatewayOptions{apiKeys: []string{"sk-secret"}})

	code, _ := doJSON(t, "POST", gw.baseURL+"/run?task=x", nil, nil)
	if code != http.StatusUnauthorized {
		t.Fatalf("status without key = %d, want 401", code)
	}

	code, _ = doJSON(t, "POST", gw.baseURL+"/run?task=x", nil, map[string]string{"Authorization": "Bearer sk-wrong"})
	if code != http.StatusUnauthorized {
		t.Fatalf("status with bad key = %d, want 401", code)
	}

	code, body := doJSON(t, "POST", gw.baseURL+"/run?task=x", nil, map[string]string{"Authorization": "Bearer sk-secret"})
	if code != http.StatusOK {
		t.Fatalf("status with key = %d, body = %v", code, body)
	}
}

func TestRateLimiting(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: 60, BurstSize: 2})
	gw := startGateway(t, func(string) string { return "echo ok" }, gatewayOptions{limiter: limiter})

	for i := 0; i < 2; i++ {
		code, _ := doJSON(t, "POST", fmt.Sprintf("%s/run?task=t%d", gw.baseURL, i), nil, nil)
		if code != http.StatusOK {
			t.Fatalf("request #%d status = %d", i, code)
		}
	}
	code, _ := doJSON(t, "POST", gw.baseURL+"/run?task=t3", nil, nil)
	if code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	gw := startGateway(t, func(string) string { return "ls" }, gatewayOptions{apiKeys: []string{"sk-secret"}})

	// Health endpoints stay open even when the API requires a key.
	for _, path := range []string{"/healthz", "/readyz"} {
		code, body := doJSON(t, "GET", gw.baseURL+path, nil, nil)
		if code != http.StatusOK {
			t.Errorf("%s status = %d", path, code)
		}
		if body["status"] != "ok" {
			t.Errorf("%s body = %v", path, body)
		}
	}
}

func TestRepeatedTaskUsesCache(t *testing.T) {
	var calls atomic.Int64
	gw := startGateway(t, func(string) string {
		calls.Add(1)
		return "echo cached"
	}, gatewayOptions{})

	for i := 0; i < 3; i++ {
		code, _ := doJSON(t, "POST", gw.baseURL+"/run?task=same+task", nil, nil)
		if code != http.StatusOK {
			t.Fatalf("request #%d status = %d", i, code)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("provider calls = %d, want 1", n)
	}
}
