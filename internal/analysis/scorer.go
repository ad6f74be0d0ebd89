package analysis

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dgallion1/deepread/internal/llm"
)

// Backoff returns a duration for attempt n (0-indexed) with jitter.
func Backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt)) * 500 * time.Millisecond
	if base > 8*time.Second {
		base = 8 * time.Second
	}
	jitter := time.Duration(rand.Int64N(int64(base) / 2))
	return base + jitter
}

// sleepBackoff waits out the backoff for attempt or returns early when ctx
// is done.
func sleepBackoff(ctx context.Context, attempt int) error {
	select {
	case <-time.After(Backoff(attempt)):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scorer asks the language-model client how relevant a segment is to the
// query. Transient failures are retried with backoff; permanent failure
// degrades to a zero-relevance score instead of propagating, so one
// unreachable collaborator cannot abort the whole analysis.
type Scorer struct {
	client     llm.Client
	stats      *llm.Stats
	log        *slog.Logger
	maxRetries int
	cache      *lru.Cache[string, SegmentScore]
	degraded   counter
}

// counter is a tiny atomic tally of degraded calls.
type counter struct {
	n atomic.Int64
}

func (c *counter) inc() {
	c.n.Add(1)
}

func (c *counter) value() int {
	return int(c.n.Load())
}

func NewScorer(client llm.Client, stats *llm.Stats, log *slog.Logger, maxRetries, cacheSize int) *Scorer {
	s := &Scorer{
		client:     client,
		stats:      stats,
		log:        log,
		maxRetries: maxRetries,
	}
	if cacheSize > 0 {
		s.cache, _ = lru.New[string, SegmentScore](cacheSize)
	}
	return s
}

// Cached returns the memoized score for a segment's span, if one exists.
// The caller can use this to skip budget reservation for revisited spans.
func (s *Scorer) Cached(doc Document, seg Segment, query string) (SegmentScore, bool) {
	if s.cache == nil {
		return SegmentScore{}, false
	}
	cached, ok := s.cache.Get(scoreCacheKey(query, seg.Text(doc)))
	if !ok {
		return SegmentScore{}, false
	}
	cached.SegmentID = seg.ID
	return cached, true
}

// Score evaluates one segment. Never returns an error: a degraded result
// carries relevance 0 and a rationale marking it unscored.
func (s *Scorer) Score(ctx context.Context, doc Document, seg Segment, query string) SegmentScore {
	if cached, ok := s.Cached(doc, seg, query); ok {
		return cached
	}

	var result llm.ScoreResult
	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		result, lastErr = s.client.Score(ctx, seg.Text(doc), query)
		if lastErr == nil || !llm.IsRetryable(lastErr) {
			break
		}
		s.log.Warn("retryable scoring error", "segment_id", seg.ID, "attempt", attempt, "error", lastErr)
		if err := sleepBackoff(ctx, attempt); err != nil {
			lastErr = err
			break
		}
	}
	if lastErr != nil {
		s.degraded.inc()
		if s.stats != nil {
			s.stats.RecordDegraded()
		}
		s.log.Error("scoring failed, treating segment as irrelevant", "segment_id", seg.ID, "error", lastErr)
		return SegmentScore{
			SegmentID: seg.ID,
			Relevance: 0,
			Rationale: fmt.Sprintf("unscored due to error: %s", lastErr),
		}
	}

	score := SegmentScore{
		SegmentID: seg.ID,
		Relevance: result.Relevance,
		Rationale: result.Rationale,
	}
	if s.cache != nil {
		s.cache.Add(scoreCacheKey(query, seg.Text(doc)), score)
	}
	return score
}

// Degraded returns how many scoring calls fell back to a zero result.
func (s *Scorer) Degraded() int {
	return s.degraded.value()
}

func scoreCacheKey(query, text string) string {
	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Analyzer runs the deeper analyze call with the same retry-then-degrade
// policy as the Scorer. A degraded call yields no finding at all; the
// segment simply contributes nothing.
type Analyzer struct {
	client     llm.Client
	stats      *llm.Stats
	log        *slog.Logger
	maxRetries int
	degraded   counter
}

func NewAnalyzer(client llm.Client, stats *llm.Stats, log *slog.Logger, maxRetries int) *Analyzer {
	return &Analyzer{
		client:     client,
		stats:      stats,
		log:        log,
		maxRetries: maxRetries,
	}
}

// Analyze produces the finding for one segment. ok is false when the call
// degraded and no finding exists.
func (a *Analyzer) Analyze(ctx context.Context, doc Document, seg Segment, query, parentContext string) (llm.AnalyzeResult, bool) {
	var result llm.AnalyzeResult
	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		result, lastErr = a.client.Analyze(ctx, seg.Text(doc), query, parentContext)
		if lastErr == nil || !llm.IsRetryable(lastErr) {
			break
		}
		a.log.Warn("retryable analysis error", "segment_id", seg.ID, "attempt", attempt, "error", lastErr)
		if err := sleepBackoff(ctx, attempt); err != nil {
			lastErr = err
			break
		}
	}
	if lastErr != nil {
		a.degraded.inc()
		if a.stats != nil {
			a.stats.RecordDegraded()
		}
		a.log.Error("analysis failed, segment contributes no finding", "segment_id", seg.ID, "error", lastErr)
		return llm.AnalyzeResult{}, false
	}
	return result, true
}

// Degraded returns how many analysis calls failed permanently.
func (a *Analyzer) Degraded() int {
	return a.degraded.value()
}
