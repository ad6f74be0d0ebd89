package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgallion1/deepread/internal/analysis"
	"github.com/dgallion1/deepread/internal/config"
	"github.com/dgallion1/deepread/internal/parser"
)

// Worker processes a single analysis job: extract text, run the recursive
// document analysis, store the result on the job.
type Worker struct {
	svc *analysis.Service
	cfg config.Config
	log *slog.Logger
}

func NewWorker(svc *analysis.Service, cfg config.Config, log *slog.Logger) *Worker {
	return &Worker{svc: svc, cfg: cfg, log: log}
}

// Process runs the full pipeline for one job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID)

	text := job.Text()
	title := job.Title

	// Phase 1: Parse, unless the caller submitted raw text.
	if text == "" {
		job.SetStatus(StatusParsing, "parsing")
		p, err := parser.ForFile(job.Filename)
		if err != nil {
			log.Error("unsupported format", "error", err)
			job.AddError(err.Error())
			job.SetStatus(StatusFailed, "parsing")
			return
		}
		if pdfParser, ok := p.(*parser.PDFParser); ok {
			pdfParser.FallbackPdftotext = w.cfg.PDFFallbackPdftotext
		}

		extracted, err := p.Parse(bytes.NewReader(job.FileData()), job.Filename)
		if err != nil {
			log.Error("parse failed", "error", err)
			job.AddError(fmt.Sprintf("parse: %s", err))
			job.SetStatus(StatusFailed, "parsing")
			return
		}
		text = extracted.Text
		if title == "" {
			title = extracted.Title
		}
	}

	// Phase 2: Analyze.
	job.SetStatus(StatusAnalyzing, "analyzing")
	runCfg := w.cfg.AnalysisConfig()
	if ov := job.Overrides(); ov != nil {
		runCfg = mergeOverrides(runCfg, *ov)
	}

	doc := analysis.NewDocument(job.DocID, text)
	result, err := w.svc.Process(ctx, doc, job.Query, runCfg)
	if err != nil {
		var segErr *analysis.SegmentationError
		if errors.As(err, &segErr) {
			log.Error("document cannot be segmented", "error", err)
		} else {
			log.Error("analysis failed", "error", err)
		}
		job.AddError(err.Error())
		job.SetStatus(StatusFailed, "analyzing")
		return
	}

	job.SetResult(result)
	if result.Partial {
		log.Warn("analysis completed partially",
			"findings", result.Stats.Findings,
			"budget_remaining", result.Stats.BudgetRemaining,
		)
		job.SetStatus(StatusPartial, "done")
		return
	}
	log.Info("analysis job complete", "citations", len(result.Citations))
	job.SetStatus(StatusCompleted, "done")
}

// mergeOverrides overlays the non-zero fields of a per-request config onto
// the service defaults.
func mergeOverrides(base, ov analysis.Config) analysis.Config {
	if ov.SegmentSizeTokens > 0 {
		base.SegmentSizeTokens = ov.SegmentSizeTokens
	}
	if ov.MinSegmentTokens > 0 {
		base.MinSegmentTokens = ov.MinSegmentTokens
	}
	if ov.MaxRecursionDepth > 0 {
		base.MaxRecursionDepth = ov.MaxRecursionDepth
	}
	if ov.HighConfidenceThreshold > 0 {
		base.HighConfidenceThreshold = ov.HighConfidenceThreshold
	}
	if ov.LowConfidenceThreshold > 0 {
		base.LowConfidenceThreshold = ov.LowConfidenceThreshold
	}
	if ov.AnalysisConfidenceThreshold > 0 {
		base.AnalysisConfidenceThreshold = ov.AnalysisConfidenceThreshold
	}
	if ov.WorkerPoolSize > 0 {
		base.WorkerPoolSize = ov.WorkerPoolSize
	}
	if ov.OverallTimeout > 0 {
		base.OverallTimeout = ov.OverallTimeout
	}
	if ov.TotalTokenBudget > 0 {
		base.TotalTokenBudget = ov.TotalTokenBudget
	}
	if ov.BudgetShrinkFactor > 0 {
		base.BudgetShrinkFactor = ov.BudgetShrinkFactor
	}
	return base
}
