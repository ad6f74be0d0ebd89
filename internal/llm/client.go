package llm

import (
	"context"
	"errors"
	"fmt"
)

// ScoreResult is the model's relevance judgement for one segment.
type ScoreResult struct {
	Relevance float64 `json:"relevance"`
	Rationale string  `json:"rationale"`
}

// AnalyzeResult is the model's analysis of one segment against a query.
type AnalyzeResult struct {
	Summary    string  `json:"summary"`
	Confidence float64 `json:"confidence"`
}

// Client is the language-model capability the analysis core consumes.
// Both calls may fail transiently; callers decide the retry policy and
// use IsRetryable to classify failures.
type Client interface {
	Score(ctx context.Context, text, query string) (ScoreResult, error)
	Analyze(ctx context.Context, text, query, parentContext string) (AnalyzeResult, error)
}

// RetryableError indicates a transient failure that can be retried.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

// IsRetryable checks if an error is worth retrying.
func IsRetryable(err error) bool {
	var retryErr *RetryableError
	return errors.As(err, &retryErr)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
