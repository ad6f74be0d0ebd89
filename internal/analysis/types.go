package analysis

import (
	"fmt"
	"time"
)

// Document is the immutable input to one analysis run.
type Document struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	TotalTokens int    `json:"total_tokens"`
}

// NewDocument builds a Document with an estimated token count.
func NewDocument(id, text string) Document {
	return Document{
		ID:          id,
		Text:        text,
		TotalTokens: EstimateTokens(text),
	}
}

// Segment is a bounded, contiguous span of a document at a recursion level.
// Level-1 segments have no parent; deeper segments are children of the
// segment whose low-confidence finding triggered a deep-dive.
type Segment struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	Level      int    `json:"level"`
	ParentID   string `json:"parent_segment_id,omitempty"`
	CharStart  int    `json:"char_start"`
	CharEnd    int    `json:"char_end"`
	TokenCount int    `json:"token_count"`
}

// Text returns the segment's span of the document text.
func (s Segment) Text(doc Document) string {
	return doc.Text[s.CharStart:s.CharEnd]
}

// SegmentScore is one (segment, query) relevance evaluation.
type SegmentScore struct {
	SegmentID string  `json:"segment_id"`
	Relevance float64 `json:"relevance"`
	Rationale string  `json:"rationale"`
}

// Finding is the analysis output for one segment. Immutable once created;
// deeper findings supersede (never delete) their parent.
type Finding struct {
	ID          string   `json:"id"`
	SegmentID   string   `json:"segment_id"`
	Level       int      `json:"level"`
	Summary     string   `json:"summary"`
	Confidence  float64  `json:"confidence"`
	CitationIDs []string `json:"citation_ids"`

	// ParentFindingID links a deep-dive finding to the low-confidence
	// finding it refines. Empty for first-pass findings.
	ParentFindingID string `json:"parent_finding_id,omitempty"`
}

// Citation links a finding's claim to the exact source span.
type Citation struct {
	ID        string `json:"id"`
	FindingID string `json:"finding_id"`
	SegmentID string `json:"segment_id"`
	CharStart int    `json:"char_start"`
	CharEnd   int    `json:"char_end"`
}

// CitationRef is one entry of a Result's deduplicated citation list.
type CitationRef struct {
	CharStart  int     `json:"char_start"`
	CharEnd    int     `json:"char_end"`
	SegmentID  string  `json:"source_segment_id"`
	Level      int     `json:"level"`
	Confidence float64 `json:"confidence"`
}

// Result is the synthesized, citation-backed answer for one query.
// Partial is set when the run was cut short by timeout, cancellation, or
// token budget exhaustion; the findings gathered up to that point are still
// included.
type Result struct {
	Answer    string        `json:"answer"`
	Citations []CitationRef `json:"citations"`
	Partial   bool          `json:"partial"`
	Stats     RunStats      `json:"stats"`
}

// RunStats summarizes what one analysis run did.
type RunStats struct {
	SegmentsTotal    int   `json:"segments_total"`
	SegmentsRelevant int   `json:"segments_relevant"`
	Findings         int   `json:"findings"`
	DeepDives        int   `json:"deep_dives"`
	DegradedCalls    int   `json:"degraded_calls"`
	BudgetRemaining  int64 `json:"token_budget_remaining"`
}

// Config holds the recognized tuning options for one analysis run.
// Zero values fall back to the defaults below.
type Config struct {
	SegmentSizeTokens int // target size of level-1 segments
	MinSegmentTokens  int // floor for deep-dive sub-segments

	MaxRecursionDepth int

	HighConfidenceThreshold     float64 // relevance >= high: confident
	LowConfidenceThreshold      float64 // relevance < low: discarded
	AnalysisConfidenceThreshold float64 // finding accepted at or above this

	WorkerPoolSize int
	OverallTimeout time.Duration

	TotalTokenBudget   int64
	BudgetShrinkFactor float64 // fraction of remaining budget each deeper level may spend

	BoundaryTolerance float64 // window around the target size to hunt for a natural cut
	CancelGracePeriod time.Duration

	MaxScoreRetries   int
	MaxAnalyzeRetries int

	ScoreCacheSize int // 0 uses the default; negative disables the cache
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		SegmentSizeTokens:           3000,
		MinSegmentTokens:            200,
		MaxRecursionDepth:           3,
		HighConfidenceThreshold:     0.75,
		LowConfidenceThreshold:      0.30,
		AnalysisConfidenceThreshold: 0.60,
		WorkerPoolSize:              8,
		OverallTimeout:              60 * time.Second,
		TotalTokenBudget:            2_000_000,
		BudgetShrinkFactor:          0.5,
		BoundaryTolerance:           0.15,
		CancelGracePeriod:           2 * time.Second,
		MaxScoreRetries:             2,
		MaxAnalyzeRetries:           2,
		ScoreCacheSize:              1024,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.SegmentSizeTokens == 0 {
		c.SegmentSizeTokens = def.SegmentSizeTokens
	}
	if c.MinSegmentTokens == 0 {
		c.MinSegmentTokens = def.MinSegmentTokens
	}
	if c.MaxRecursionDepth == 0 {
		c.MaxRecursionDepth = def.MaxRecursionDepth
	}
	if c.HighConfidenceThreshold == 0 {
		c.HighConfidenceThreshold = def.HighConfidenceThreshold
	}
	if c.LowConfidenceThreshold == 0 {
		c.LowConfidenceThreshold = def.LowConfidenceThreshold
	}
	if c.AnalysisConfidenceThreshold == 0 {
		c.AnalysisConfidenceThreshold = def.AnalysisConfidenceThreshold
	}
	if c.WorkerPoolSize == 0 {
		c.WorkerPoolSize = def.WorkerPoolSize
	}
	if c.OverallTimeout == 0 {
		c.OverallTimeout = def.OverallTimeout
	}
	if c.TotalTokenBudget == 0 {
		c.TotalTokenBudget = def.TotalTokenBudget
	}
	if c.BudgetShrinkFactor == 0 {
		c.BudgetShrinkFactor = def.BudgetShrinkFactor
	}
	if c.BoundaryTolerance == 0 {
		c.BoundaryTolerance = def.BoundaryTolerance
	}
	if c.CancelGracePeriod == 0 {
		c.CancelGracePeriod = def.CancelGracePeriod
	}
	if c.MaxScoreRetries == 0 {
		c.MaxScoreRetries = def.MaxScoreRetries
	}
	if c.MaxAnalyzeRetries == 0 {
		c.MaxAnalyzeRetries = def.MaxAnalyzeRetries
	}
	if c.ScoreCacheSize == 0 {
		c.ScoreCacheSize = def.ScoreCacheSize
	}
	return c
}

// segmentID derives a deterministic id from the segment's coordinates, so
// repeated runs over the same input produce identical ids.
func segmentID(docID string, level, start, end int) string {
	return fmt.Sprintf("%s:L%d:%d-%d", docID, level, start, end)
}

// findingID derives a deterministic id for the finding of one segment.
func findingID(segID string) string {
	return "finding:" + segID
}
