package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dgallion1/deepread/internal/analysis"
	"github.com/dgallion1/deepread/internal/parser"
	"github.com/dgallion1/deepread/internal/pipeline"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// analyzeRequest is the JSON body for text submissions. Zero-valued override
// fields are treated as unset.
type analyzeRequest struct {
	DocID     string            `json:"doc_id"`
	Title     string            `json:"title"`
	Query     string            `json:"query"`
	Text      string            `json:"text"`
	Overrides *analyzeOverrides `json:"overrides"`
}

type analyzeOverrides struct {
	SegmentSizeTokens           int     `json:"segment_size_tokens"`
	MaxRecursionDepth           int     `json:"max_recursion_depth"`
	HighConfidenceThreshold     float64 `json:"high_confidence_threshold"`
	LowConfidenceThreshold      float64 `json:"low_confidence_threshold"`
	AnalysisConfidenceThreshold float64 `json:"analysis_confidence_threshold"`
	WorkerPoolSize              int     `json:"worker_pool_size"`
	TotalTokenBudget            int64   `json:"total_token_budget"`
	TimeoutSeconds              int     `json:"timeout_seconds"`
}

func (o *analyzeOverrides) toConfig() *analysis.Config {
	if o == nil {
		return nil
	}
	cfg := &analysis.Config{
		SegmentSizeTokens:           o.SegmentSizeTokens,
		MaxRecursionDepth:           o.MaxRecursionDepth,
		HighConfidenceThreshold:     o.HighConfidenceThreshold,
		LowConfidenceThreshold:      o.LowConfidenceThreshold,
		AnalysisConfidenceThreshold: o.AnalysisConfidenceThreshold,
		WorkerPoolSize:              o.WorkerPoolSize,
		TotalTokenBudget:            o.TotalTokenBudget,
	}
	if o.TimeoutSeconds > 0 {
		cfg.OverallTimeout = time.Duration(o.TimeoutSeconds) * time.Second
	}
	return cfg
}

// handleAnalyze accepts a document for asynchronous analysis. Multipart
// submissions carry a file; JSON submissions carry raw text.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	job, ok := s.buildJob(w, r)
	if !ok {
		return
	}

	if err := s.orchestrator.Submit(job); err != nil {
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"job_id":   job.ID,
		"doc_id":   job.DocID,
		"status":   job.Status,
		"poll_url": fmt.Sprintf("/api/analyze/%s", job.ID),
	})
}

// handleAnalyzeSync runs the analysis inline and returns the full result.
// Only JSON text submissions are accepted; file uploads go through the queue.
func (s *Server) handleAnalyzeSync(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return
	}

	docID := req.DocID
	if docID == "" {
		docID = pipeline.ContentHashHex([]byte(req.Text))[:16]
	}

	doc := analysis.NewDocument(docID, req.Text)
	result, err := s.orchestrator.AnalyzeSync(r.Context(), doc, req.Query, req.Overrides.toConfig())
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"doc_id": docID,
		"result": result,
	})
}

func (s *Server) handleAnalyzeStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	snap := job.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

// buildJob parses either form of submission into a queued job. It writes the
// error response itself on failure.
func (s *Server) buildJob(w http.ResponseWriter, r *http.Request) (*pipeline.Job, bool) {
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "multipart/form-data") {
		return s.buildFileJob(w, r)
	}
	return s.buildTextJob(w, r)
}

func (s *Server) buildFileJob(w http.ResponseWriter, r *http.Request) (*pipeline.Job, bool) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	defer r.MultipartForm.RemoveAll()

	query := r.FormValue("query")
	if query == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)
	if !parser.IsSupportedExtension(filename) {
		jsonError(w, fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)), http.StatusBadRequest)
		return nil, false
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return nil, false
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return nil, false
	}

	docID := r.FormValue("doc_id")
	if docID == "" {
		docID = pipeline.ContentHashHex(data)[:16]
	}

	overrides := formOverrides(r.FormValue)
	job := pipeline.NewJob(uuid.NewString(), docID, filename, r.FormValue("title"), query, data, "", overrides)
	return job, true
}

func (s *Server) buildTextJob(w http.ResponseWriter, r *http.Request) (*pipeline.Job, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	if req.Query == "" {
		jsonError(w, "query is required", http.StatusBadRequest)
		return nil, false
	}
	if strings.TrimSpace(req.Text) == "" {
		jsonError(w, "text is required", http.StatusBadRequest)
		return nil, false
	}

	docID := req.DocID
	if docID == "" {
		docID = pipeline.ContentHashHex([]byte(req.Text))[:16]
	}

	job := pipeline.NewJob(uuid.NewString(), docID, "", req.Title, req.Query, nil, req.Text, req.Overrides.toConfig())
	return job, true
}

// formOverrides collects per-request analysis overrides from multipart form
// values. Absent or malformed values are left unset.
func formOverrides(get func(string) string) *analysis.Config {
	ov := analyzeOverrides{}
	set := false
	if v := get("segment_size_tokens"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ov.SegmentSizeTokens = n
			set = true
		}
	}
	if v := get("max_recursion_depth"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ov.MaxRecursionDepth = n
			set = true
		}
	}
	if v := get("high_confidence_threshold"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			ov.HighConfidenceThreshold = f
			set = true
		}
	}
	if v := get("low_confidence_threshold"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			ov.LowConfidenceThreshold = f
			set = true
		}
	}
	if v := get("total_token_budget"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			ov.TotalTokenBudget = n
			set = true
		}
	}
	if v := get("timeout_seconds"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			ov.TimeoutSeconds = n
			set = true
		}
	}
	if !set {
		return nil
	}
	return ov.toConfig()
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}
