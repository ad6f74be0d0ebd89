package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgallion1/deepread/internal/analysis"
	"github.com/dgallion1/deepread/internal/config"
	"github.com/dgallion1/deepread/internal/llm"
	"github.com/dgallion1/deepread/internal/pipeline"
)

type happyClient struct{}

func (happyClient) Score(ctx context.Context, text, query string) (llm.ScoreResult, error) {
	return llm.ScoreResult{Relevance: 0.9, Rationale: "relevant"}, nil
}

func (happyClient) Analyze(ctx context.Context, text, query, parentContext string) (llm.AnalyzeResult, error) {
	return llm.AnalyzeResult{Summary: "found it", Confidence: 0.9}, nil
}

func testServer(t *testing.T) (*Server, *pipeline.Orchestrator) {
	t.Helper()
	cfg := config.Config{
		Port:               "0",
		APIKey:             "secret",
		AnthropicModel:     "test-model",
		WorkerCount:        1,
		MaxQueueSize:       8,
		MaxUploadBytes:     1 << 20,
		JobTTL:             time.Hour,
		SegmentSizeTokens:  60,
		MinSegmentTokens:   10,
		MaxRecursionDepth:  3,
		HighConfidence:     0.75,
		LowConfidence:      0.30,
		AnalysisConfidence: 0.60,
		AnalysisWorkers:    2,
		OverallTimeout:     10 * time.Second,
		TotalTokenBudget:   100_000,
		BudgetShrinkFactor: 0.5,
		CancelGracePeriod:  100 * time.Millisecond,
		ScoreCacheSize:     -1,
	}
	log := slog.New(slog.DiscardHandler)
	svc := analysis.New(happyClient{}, nil, log)
	orch := pipeline.NewOrchestrator(cfg, svc, log)
	orch.Start(context.Background())
	t.Cleanup(orch.Stop)

	return NewServer(orch, llm.NewStats(time.Hour), log, cfg), orch
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer secret")
	return req
}

func TestHealthEndpointIsPublic(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
}

func TestAuthErrorsAreJSON(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	srv.ServeHTTP(rec, req)

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json error, got content type %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "invalid api key") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := bearerToken(req); ok {
		t.Fatal("expected no token without a header")
	}

	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	if _, ok := bearerToken(req); ok {
		t.Fatal("expected no token for a non-bearer scheme")
	}

	req.Header.Set("Authorization", "Bearer secret")
	tok, ok := bearerToken(req)
	if !ok || tok != "secret" {
		t.Fatalf("got token %q ok=%v", tok, ok)
	}
}

func TestAnalyzeSync(t *testing.T) {
	srv, _ := testServer(t)

	body, _ := json.Marshal(map[string]any{
		"text":  strings.Repeat("The merger closed in June after regulatory review. ", 40),
		"query": "when did the merger close",
	})
	req := authed(httptest.NewRequest(http.MethodPost, "/api/analyze/sync", bytes.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		DocID  string          `json:"doc_id"`
		Result analysis.Result `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response json: %v", err)
	}
	if resp.DocID == "" {
		t.Error("expected a derived doc id")
	}
	if resp.Result.Answer == "" {
		t.Error("expected a non-empty answer")
	}
	if len(resp.Result.Citations) == 0 {
		t.Error("expected citations")
	}
}

func TestAnalyzeSyncRequiresQueryAndText(t *testing.T) {
	srv, _ := testServer(t)

	for name, body := range map[string]string{
		"missing query": `{"text":"some document"}`,
		"missing text":  `{"query":"a question"}`,
	} {
		req := authed(httptest.NewRequest(http.MethodPost, "/api/analyze/sync", strings.NewReader(body)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", name, rec.Code)
		}
	}
}

func TestAnalyzeAsyncTextJob(t *testing.T) {
	srv, _ := testServer(t)

	body, _ := json.Marshal(map[string]any{
		"text":  strings.Repeat("Asynchronous analysis of long documents. ", 40),
		"query": "what is analyzed",
	})
	req := authed(httptest.NewRequest(http.MethodPost, "/api/analyze", bytes.NewReader(body)))
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	var accepted struct {
		JobID   string `json:"job_id"`
		PollURL string `json:"poll_url"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &accepted); err != nil {
		t.Fatalf("invalid response json: %v", err)
	}
	if accepted.JobID == "" || !strings.Contains(accepted.PollURL, accepted.JobID) {
		t.Fatalf("bad accept payload: %+v", accepted)
	}

	// Poll through the API until the worker finishes.
	deadline := time.After(10 * time.Second)
	for {
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, accepted.PollURL, nil)))
		if rec.Code != http.StatusOK {
			t.Fatalf("status poll returned %d", rec.Code)
		}
		var snap pipeline.JobSnapshot
		if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
			t.Fatalf("invalid snapshot json: %v", err)
		}
		if snap.Status == pipeline.StatusCompleted {
			if snap.Result == nil || snap.Result.Answer == "" {
				t.Fatal("expected completed job to carry its result")
			}
			break
		}
		if snap.Status == pipeline.StatusFailed {
			t.Fatalf("job failed: %v", snap.Errors)
		}
		select {
		case <-deadline:
			t.Fatalf("job still %q", snap.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestAnalyzeMultipartUpload(t *testing.T) {
	srv, _ := testServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "notes.txt")
	fw.Write([]byte(strings.Repeat("Meeting notes about the budget decision. ", 40)))
	mw.WriteField("query", "what was decided")
	mw.WriteField("max_recursion_depth", "2")
	mw.Close()

	req := authed(httptest.NewRequest(http.MethodPost, "/api/analyze", &buf))
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestAnalyzeMultipartRejectsUnsupportedType(t *testing.T) {
	srv, _ := testServer(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "payload.exe")
	fw.Write([]byte("binary"))
	mw.WriteField("query", "q")
	mw.Close()

	req := authed(httptest.NewRequest(http.MethodPost, "/api/analyze", &buf))
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAnalyzeStatusNotFound(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/analyze/nope", nil)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestLLMStatsEndpoint(t *testing.T) {
	srv, _ := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, authed(httptest.NewRequest(http.MethodGet, "/api/stats/llm", nil)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp struct {
		Model string            `json:"model"`
		Stats llm.StatsSnapshot `json:"stats"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid stats json: %v", err)
	}
	if resp.Model != "test-model" {
		t.Errorf("expected model %q, got %q", "test-model", resp.Model)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct{ in, want string }{
		{"report.pdf", "report.pdf"},
		{"../../etc/passwd", "passwd"},
		{"dir/file.txt", "file.txt"},
		{"", "unnamed"},
	}
	for _, c := range cases {
		if got := sanitizeFilename(c.in); got != c.want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
