package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/deepread/internal/llm"
)

// testConfig keeps runs small and deterministic: tiny segments, no score
// cache, generous budget unless a test overrides it.
func testConfig() Config {
	return Config{
		SegmentSizeTokens:           60,
		MinSegmentTokens:            10,
		MaxRecursionDepth:           3,
		HighConfidenceThreshold:     0.75,
		LowConfidenceThreshold:      0.30,
		AnalysisConfidenceThreshold: 0.60,
		WorkerPoolSize:              4,
		OverallTimeout:              30 * time.Second,
		TotalTokenBudget:            500_000,
		BudgetShrinkFactor:          0.5,
		BoundaryTolerance:           0.2,
		CancelGracePeriod:           100 * time.Millisecond,
		MaxScoreRetries:             1,
		MaxAnalyzeRetries:           1,
		ScoreCacheSize:              -1,
	}
}

// narrativeDoc builds a document of numbered paragraphs, ~15 words each,
// with the literal NEEDLE planted in the given paragraph indexes.
func narrativeDoc(paragraphs int, needleAt ...int) Document {
	needle := make(map[string]bool)
	for _, i := range needleAt {
		needle[fmt.Sprintf("p%d", i)] = true
	}
	var sb strings.Builder
	for p := 0; p < paragraphs; p++ {
		if p > 0 {
			sb.WriteString("\n\n")
		}
		key := fmt.Sprintf("p%d", p)
		for w := 0; w < 15; w++ {
			if w > 0 {
				sb.WriteString(" ")
			}
			if w == 7 && needle[key] {
				sb.WriteString("NEEDLE")
			} else {
				fmt.Fprintf(&sb, "filler-%s-%d", key, w)
			}
		}
		sb.WriteString(".")
	}
	return NewDocument("doc-1", sb.String())
}

func TestProcess_UniformRelevanceNoDeepDives(t *testing.T) {
	client := &stubClient{
		analyzeFn: func(text, query, parentContext string) (llm.AnalyzeResult, error) {
			return llm.AnalyzeResult{
				Summary:    "summary of " + strings.Fields(text)[0],
				Confidence: 0.9,
			}, nil
		},
	}
	svc := New(client, nil, testLogger())

	doc := narrativeDoc(20)
	cfg := testConfig()
	result, err := svc.Process(context.Background(), doc, "what happens", cfg)
	require.NoError(t, err)

	segs, err := SegmentDocument(doc, cfg.SegmentSizeTokens, cfg.BoundaryTolerance)
	require.NoError(t, err)

	assert.False(t, result.Partial)
	assert.Equal(t, len(segs), result.Stats.SegmentsTotal)
	assert.Equal(t, len(segs), result.Stats.SegmentsRelevant)
	assert.Equal(t, len(segs), result.Stats.Findings)
	assert.Zero(t, result.Stats.DeepDives)
	assert.Zero(t, result.Stats.DegradedCalls)
	assert.Len(t, result.Citations, len(segs))

	// Summaries appear in document order: each segment's first word leads
	// its summary, and segments are in char order.
	parts := strings.Split(result.Answer, "\n\n")
	require.Len(t, parts, len(segs))
	for i, seg := range segs {
		first := strings.Fields(seg.Text(doc))[0]
		assert.Equal(t, "summary of "+first, parts[i])
	}
}

func TestProcess_SparseRelevanceSkipsIrrelevantSegments(t *testing.T) {
	client := &stubClient{
		scoreFn: func(text, query string) (llm.ScoreResult, error) {
			if strings.Contains(text, "NEEDLE") {
				return llm.ScoreResult{Relevance: 0.9, Rationale: "mentions the needle"}, nil
			}
			return llm.ScoreResult{Relevance: 0.1, Rationale: "off topic"}, nil
		},
	}
	svc := New(client, nil, testLogger())

	doc := narrativeDoc(30, 4)
	cfg := testConfig()
	result, err := svc.Process(context.Background(), doc, "where is the needle", cfg)
	require.NoError(t, err)

	segs, err := SegmentDocument(doc, cfg.SegmentSizeTokens, cfg.BoundaryTolerance)
	require.NoError(t, err)
	relevant := 0
	for _, s := range segs {
		if strings.Contains(s.Text(doc), "NEEDLE") {
			relevant++
		}
	}
	require.Greater(t, relevant, 0)
	require.Less(t, relevant, len(segs))

	assert.Equal(t, relevant, result.Stats.SegmentsRelevant)
	assert.Equal(t, int64(relevant), client.analyzeCalls.Load(),
		"segments below the relevance floor must never be analyzed")
	assert.Len(t, result.Citations, relevant)
}

func TestProcess_LowConfidenceTriggersDeepDive(t *testing.T) {
	client := &stubClient{
		analyzeFn: func(text, query, parentContext string) (llm.AnalyzeResult, error) {
			// Coarse segments produce a vague finding; finer ones a precise
			// one, which is what makes the deep-dive worthwhile.
			if EstimateTokens(text) > 40 {
				return llm.AnalyzeResult{Summary: "vague: something here", Confidence: 0.4}, nil
			}
			return llm.AnalyzeResult{Summary: "precise detail", Confidence: 0.9}, nil
		},
	}
	svc := New(client, nil, testLogger())

	doc := narrativeDoc(12)
	result, tracker, err := svc.ProcessWithTrace(context.Background(), doc, "q", testConfig())
	require.NoError(t, err)

	assert.False(t, result.Partial)
	assert.Greater(t, result.Stats.DeepDives, 0)
	assert.Contains(t, result.Answer, "precise detail")
	assert.NotContains(t, result.Answer, "vague")

	// The winning citations come from deeper levels than the first pass.
	for _, c := range result.Citations {
		assert.GreaterOrEqual(t, c.Level, 3)
		assert.Equal(t, 0.9, c.Confidence)
	}

	// The superseded coarse findings stay in the ledger, linked from their
	// refinements, and the provenance tree nests children under parents.
	roots := tracker.TreeFor(doc.ID)
	require.NotEmpty(t, roots)
	for _, root := range roots {
		require.NotEmpty(t, root.Findings, "coarse finding must survive in the ledger")
		require.NotEmpty(t, root.Children, "deep-dive children must hang off the coarse segment")
		parentID := root.Findings[0].ID
		for _, ch := range root.Children {
			for _, f := range ch.Findings {
				assert.Equal(t, parentID, f.ParentFindingID)
			}
		}
	}
}

func TestProcess_BudgetExhaustionYieldsPartial(t *testing.T) {
	client := &stubClient{}
	svc := New(client, nil, testLogger())

	cfg := testConfig()
	cfg.TotalTokenBudget = 400 // covers roughly one scoring call

	result, err := svc.Process(context.Background(), narrativeDoc(20), "q", cfg)
	require.NoError(t, err, "budget exhaustion is a degraded result, not an error")

	assert.True(t, result.Partial)
	assert.Less(t, result.Stats.BudgetRemaining, int64(400))
}

func TestProcess_CancelledContextYieldsPartial(t *testing.T) {
	client := &stubClient{}
	svc := New(client, nil, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.Process(ctx, narrativeDoc(10), "q", testConfig())
	require.NoError(t, err)
	assert.True(t, result.Partial)
}

func TestProcess_TimeoutKeepsCompletedFindings(t *testing.T) {
	// Two analyses finish quickly, then the model stalls until the overall
	// deadline cuts the run short. The completed findings must survive into
	// the partial result.
	var calls atomic.Int64
	client := &stubClient{
		analyzeFn: func(text, query, parentContext string) (llm.AnalyzeResult, error) {
			if calls.Add(1) > 2 {
				return llm.AnalyzeResult{}, &llm.RetryableError{StatusCode: 529, Message: "overloaded"}
			}
			return llm.AnalyzeResult{
				Summary:    "noted " + strings.Fields(text)[0],
				Confidence: 0.9,
			}, nil
		},
	}
	svc := New(client, nil, testLogger())

	cfg := testConfig()
	cfg.WorkerPoolSize = 1 // serialize analyses so the stall hits mid-level
	cfg.OverallTimeout = 300 * time.Millisecond

	result, err := svc.Process(context.Background(), narrativeDoc(12), "q", cfg)
	require.NoError(t, err, "a deadline is a degraded result, not an error")

	assert.True(t, result.Partial)
	require.NotEmpty(t, result.Citations, "findings completed before the deadline must be cited")
	assert.Equal(t, 2, result.Stats.Findings)
	assert.Contains(t, result.Answer, "noted")
}

func TestProcess_DegradedScoringExcludesSegmentOnly(t *testing.T) {
	client := &stubClient{
		scoreFn: func(text, query string) (llm.ScoreResult, error) {
			if strings.Contains(text, "NEEDLE") {
				return llm.ScoreResult{}, errors.New("model rejected the request")
			}
			return llm.ScoreResult{Relevance: 0.9}, nil
		},
	}
	svc := New(client, nil, testLogger())

	doc := narrativeDoc(20, 4)
	result, err := svc.Process(context.Background(), doc, "q", testConfig())
	require.NoError(t, err, "a failed segment degrades, it does not abort the run")

	assert.False(t, result.Partial, "degraded scoring is not an early stop")
	assert.Greater(t, result.Stats.DegradedCalls, 0)
	assert.Greater(t, result.Stats.Findings, 0, "healthy segments still produce findings")
	assert.Less(t, result.Stats.SegmentsRelevant, result.Stats.SegmentsTotal)
}

func TestProcess_EmptyDocumentIsFatal(t *testing.T) {
	svc := New(&stubClient{}, nil, testLogger())

	_, err := svc.Process(context.Background(), NewDocument("d", "  "), "q", testConfig())
	var segErr *SegmentationError
	require.True(t, errors.As(err, &segErr), "segmentation failure is the one fatal error")
}

func TestProcess_RecursionTerminatesAtMaxDepth(t *testing.T) {
	client := &stubClient{
		analyzeFn: func(text, query, parentContext string) (llm.AnalyzeResult, error) {
			// Confidence never improves, so only the depth limit and the
			// granularity floor can stop the recursion.
			return llm.AnalyzeResult{Summary: "still unsure", Confidence: 0.1}, nil
		},
	}
	svc := New(client, nil, testLogger())

	doc := narrativeDoc(12)
	cfg := testConfig()
	result, tracker, err := svc.ProcessWithTrace(context.Background(), doc, "q", cfg)
	require.NoError(t, err)
	assert.False(t, result.Partial, "hitting the depth limit is normal completion")

	var walk func(ns []*ProvenanceNode)
	walk = func(ns []*ProvenanceNode) {
		for _, n := range ns {
			assert.LessOrEqual(t, n.Segment.Level, cfg.MaxRecursionDepth)
			walk(n.Children)
		}
	}
	walk(tracker.TreeFor(doc.ID))
}

func TestProcess_Idempotent(t *testing.T) {
	newClient := func() *stubClient {
		return &stubClient{
			analyzeFn: func(text, query, parentContext string) (llm.AnalyzeResult, error) {
				if EstimateTokens(text) > 40 {
					return llm.AnalyzeResult{Summary: "broad view", Confidence: 0.4}, nil
				}
				return llm.AnalyzeResult{Summary: "narrow view of " + strings.Fields(text)[0], Confidence: 0.9}, nil
			},
		}
	}
	doc := narrativeDoc(16, 2, 9)
	cfg := testConfig()

	first, err := New(newClient(), nil, testLogger()).Process(context.Background(), doc, "q", cfg)
	require.NoError(t, err)
	second, err := New(newClient(), nil, testLogger()).Process(context.Background(), doc, "q", cfg)
	require.NoError(t, err)

	assert.Equal(t, first.Answer, second.Answer)
	assert.Equal(t, first.Citations, second.Citations)
	assert.Equal(t, first.Stats, second.Stats)
}

func TestProcess_SupersededFindingsCountedInStats(t *testing.T) {
	client := &stubClient{
		analyzeFn: func(text, query, parentContext string) (llm.AnalyzeResult, error) {
			if EstimateTokens(text) > 40 {
				return llm.AnalyzeResult{Summary: "coarse", Confidence: 0.4}, nil
			}
			return llm.AnalyzeResult{Summary: "fine", Confidence: 0.9}, nil
		},
	}
	svc := New(client, nil, testLogger())

	result, err := svc.Process(context.Background(), narrativeDoc(12), "q", testConfig())
	require.NoError(t, err)

	// Findings counts accepted plus superseded; with every coarse segment
	// refined there must be more findings than winning citations.
	assert.Greater(t, result.Stats.Findings, len(result.Citations))
}
