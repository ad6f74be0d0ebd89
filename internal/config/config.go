package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgallion1/deepread/internal/analysis"
)

type Config struct {
	Port string

	// Auth
	APIKey string

	// Anthropic client
	AnthropicAPIKey string
	AnthropicModel  string

	// Job queue
	WorkerCount  int
	MaxQueueSize int

	// Upload limits
	MaxUploadBytes int64

	// Job state
	JobTTL time.Duration

	// Analysis defaults; per-request overrides are allowed within these.
	SegmentSizeTokens   int
	MinSegmentTokens    int
	MaxRecursionDepth   int
	HighConfidence      float64
	LowConfidence       float64
	AnalysisConfidence  float64
	AnalysisWorkers     int
	OverallTimeout      time.Duration
	TotalTokenBudget    int64
	BudgetShrinkFactor  float64
	CancelGracePeriod   time.Duration
	ScoreCacheSize      int

	// PDF
	PDFFallbackPdftotext bool
}

func Load() Config {
	def := analysis.DefaultConfig()
	cfg := Config{
		Port: envOr("PORT", "8091"),

		APIKey: os.Getenv("DEEPREAD_API_KEY"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),

		WorkerCount:  envInt("WORKER_COUNT", 4),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 100),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		SegmentSizeTokens:  envInt("SEGMENT_SIZE_TOKENS", def.SegmentSizeTokens),
		MinSegmentTokens:   envInt("MIN_SEGMENT_TOKENS", def.MinSegmentTokens),
		MaxRecursionDepth:  envInt("MAX_RECURSION_DEPTH", def.MaxRecursionDepth),
		HighConfidence:     envFloat("HIGH_CONFIDENCE_THRESHOLD", def.HighConfidenceThreshold),
		LowConfidence:      envFloat("LOW_CONFIDENCE_THRESHOLD", def.LowConfidenceThreshold),
		AnalysisConfidence: envFloat("ANALYSIS_CONFIDENCE_THRESHOLD", def.AnalysisConfidenceThreshold),
		AnalysisWorkers:    envInt("WORKER_POOL_SIZE", def.WorkerPoolSize),
		OverallTimeout:     envDuration("OVERALL_TIMEOUT", def.OverallTimeout),
		TotalTokenBudget:   envInt64("TOTAL_TOKEN_BUDGET", def.TotalTokenBudget),
		BudgetShrinkFactor: envFloat("BUDGET_SHRINK_FACTOR", def.BudgetShrinkFactor),
		CancelGracePeriod:  envDuration("CANCEL_GRACE_PERIOD", def.CancelGracePeriod),
		ScoreCacheSize:     envInt("SCORE_CACHE_SIZE", def.ScoreCacheSize),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("DEEPREAD_API_KEY is required")
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.LowConfidence >= c.HighConfidence {
		return fmt.Errorf("LOW_CONFIDENCE_THRESHOLD must be below HIGH_CONFIDENCE_THRESHOLD")
	}
	return nil
}

// AnalysisConfig maps the service defaults onto one run's options.
func (c Config) AnalysisConfig() analysis.Config {
	return analysis.Config{
		SegmentSizeTokens:           c.SegmentSizeTokens,
		MinSegmentTokens:            c.MinSegmentTokens,
		MaxRecursionDepth:           c.MaxRecursionDepth,
		HighConfidenceThreshold:     c.HighConfidence,
		LowConfidenceThreshold:      c.LowConfidence,
		AnalysisConfidenceThreshold: c.AnalysisConfidence,
		WorkerPoolSize:              c.AnalysisWorkers,
		OverallTimeout:              c.OverallTimeout,
		TotalTokenBudget:            c.TotalTokenBudget,
		BudgetShrinkFactor:          c.BudgetShrinkFactor,
		CancelGracePeriod:           c.CancelGracePeriod,
		ScoreCacheSize:              c.ScoreCacheSize,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
