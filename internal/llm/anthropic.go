package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const messagesURL = "https://api.anthropic.com/v1/messages"

// AnthropicClient calls the Anthropic Messages API for scoring and analysis.
type AnthropicClient struct {
	apiKey     string
	model      string
	baseURL    string // overrides the API host when set; used by tests
	httpClient *http.Client
	stats      *Stats
}

func NewAnthropicClient(apiKey, model string, stats *Stats) *AnthropicClient {
	return &AnthropicClient{
		apiKey: apiKey,
		model:  model,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		stats: stats,
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Score asks the model to rate a segment's relevance to the query.
func (c *AnthropicClient) Score(ctx context.Context, text, query string) (ScoreResult, error) {
	raw, err := c.complete(ctx, BuildScorePrompt(text, query), 512)
	if err != nil {
		return ScoreResult{}, err
	}
	var result ScoreResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return ScoreResult{}, fmt.Errorf("parse score json: %w (raw: %s)", err, truncate(raw, 200))
	}
	result.Relevance = clamp01(result.Relevance)
	return result, nil
}

// Analyze asks the model to analyze a segment against the query, optionally
// with the parent finding's context for deep-dives.
func (c *AnthropicClient) Analyze(ctx context.Context, text, query, parentContext string) (AnalyzeResult, error) {
	raw, err := c.complete(ctx, BuildAnalyzePrompt(text, query, parentContext), 2048)
	if err != nil {
		return AnalyzeResult{}, err
	}
	var result AnalyzeResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return AnalyzeResult{}, fmt.Errorf("parse analysis json: %w (raw: %s)", err, truncate(raw, 200))
	}
	result.Confidence = clamp01(result.Confidence)
	return result, nil
}

// complete issues one Messages API call and returns the text content with
// any surrounding code fence stripped.
func (c *AnthropicClient) complete(ctx context.Context, prompt string, maxTokens int) (string, error) {
	reqBody := anthropicRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if c.stats != nil {
		c.stats.Record(time.Since(start).Milliseconds())
	}
	if err != nil {
		return "", fmt.Errorf("anthropic api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &RetryableError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic api status %d: %s", resp.StatusCode, string(respBody))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("anthropic error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return "", fmt.Errorf("empty response from model")
	}

	return stripCodeBlock(apiResp.Content[0].Text), nil
}

func (c *AnthropicClient) endpoint() string {
	if c.baseURL != "" {
		return c.baseURL + "/v1/messages"
	}
	return messagesURL
}

// Close releases resources.
func (c *AnthropicClient) Close() {
	c.httpClient.CloseIdleConnections()
}

var codeBlockRe = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")

func stripCodeBlock(s string) string {
	s = strings.TrimSpace(s)
	if m := codeBlockRe.FindStringSubmatch(s); len(m) > 1 {
		return m[1]
	}
	return s
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
