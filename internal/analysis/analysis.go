// Package analysis implements recursive full-document reasoning: a document
// is segmented, each segment's relevance to a query is scored, relevant
// segments are analyzed in parallel, and low-confidence findings are
// re-segmented and re-analyzed at finer granularity until a synthesized,
// citation-backed answer is produced. Resource use is bounded by a shared
// token budget, an overall deadline, and a worker pool; per-segment failures
// degrade the result instead of aborting it.
package analysis

import (
	"context"
	"log/slog"
	"time"

	"github.com/dgallion1/deepread/internal/llm"
)

// Service is the analysis core's entry point. One Service is safe for
// concurrent Process calls; each call owns its own recursion state.
type Service struct {
	client llm.Client
	stats  *llm.Stats
	log    *slog.Logger
}

func New(client llm.Client, stats *llm.Stats, log *slog.Logger) *Service {
	return &Service{client: client, stats: stats, log: log}
}

// Process runs the full analysis of one document against one query. The
// only hard failure is a *SegmentationError on the initial document; every
// other degraded condition is reported through Result.Partial and
// per-citation confidence.
func (s *Service) Process(ctx context.Context, doc Document, query string, cfg Config) (*Result, error) {
	result, _, err := s.ProcessWithTrace(ctx, doc, query, cfg)
	return result, err
}

// ProcessWithTrace is Process plus the citation ledger used during the run,
// for callers that want the hierarchical provenance view (CitationTracker.TreeFor).
func (s *Service) ProcessWithTrace(ctx context.Context, doc Document, query string, cfg Config) (*Result, *CitationTracker, error) {
	cfg = cfg.withDefaults()
	log := s.log.With("doc_id", doc.ID)

	ctx, cancel := context.WithTimeout(ctx, cfg.OverallTimeout)
	defer cancel()

	budget := NewBudget(cfg.TotalTokenBudget)
	tracker := NewCitationTracker()
	scorer := NewScorer(s.client, s.stats, log, cfg.MaxScoreRetries, cfg.ScoreCacheSize)
	analyzer := NewAnalyzer(s.client, s.stats, log, cfg.MaxAnalyzeRetries)
	exec := NewExecutor(cfg.WorkerPoolSize, cfg.CancelGracePeriod, log)
	ctrl := NewController(cfg, scorer, analyzer, exec, tracker, budget, log)

	start := time.Now()
	accepted, superseded, partial, err := ctrl.Run(ctx, doc, query)
	if err != nil {
		return nil, nil, err
	}

	result := Aggregate(tracker, accepted, superseded, partial, ctrl.RunStats())
	log.Info("analysis complete",
		"findings", len(accepted),
		"superseded", len(superseded),
		"citations", len(result.Citations),
		"partial", result.Partial,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return result, tracker, nil
}
