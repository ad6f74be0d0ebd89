package analysis

import (
	"context"
	"log/slog"
)

// State names the recursion controller's phases.
type State string

const (
	StateLevel1Score    State = "level_1_score"
	StateLevel2Analyze  State = "level_2_analyze"
	StateLevel3DeepDive State = "level_3_deepdive"
	StateDone           State = "done"
)

// workItem is one queued segment awaiting analysis, carrying its recursion
// depth explicitly so levels are driven by an iterative worklist instead of
// call-stack recursion.
type workItem struct {
	seg          Segment
	targetTokens int         // segment size target at this depth
	parent       *resultNode // nil for level-1 items
	parentFind   Finding     // finding that triggered the deep-dive
	hasParent    bool
}

// resultNode records the outcome for one work item and links deep-dive
// children to the finding they refine. Resolution walks this small tree
// bottom-up once the worklist drains.
type resultNode struct {
	finding  Finding
	ok       bool
	children []*resultNode
}

// Controller drives the three-level analysis state machine. It owns the
// recursion state exclusively: workers return results, the controller
// decides queue transitions.
type Controller struct {
	cfg      Config
	scorer   *Scorer
	analyzer *Analyzer
	exec     *Executor
	tracker  *CitationTracker
	budget   *Budget
	log      *slog.Logger

	state   State
	partial bool
	stats   RunStats
}

func NewController(cfg Config, scorer *Scorer, analyzer *Analyzer, exec *Executor, tracker *CitationTracker, budget *Budget, log *slog.Logger) *Controller {
	return &Controller{
		cfg:      cfg,
		scorer:   scorer,
		analyzer: analyzer,
		exec:     exec,
		tracker:  tracker,
		budget:   budget,
		log:      log,
		state:    StateLevel1Score,
	}
}

// State returns the controller's current phase.
func (c *Controller) State() State {
	return c.state
}

func (c *Controller) setState(s State) {
	c.state = s
	c.log.Debug("controller state", "state", s)
}

// stopRequested reports whether new work must no longer be dispatched.
func (c *Controller) stopRequested(ctx context.Context, budget *Budget) bool {
	return ctx.Err() != nil || budget.Exhausted()
}

// Run executes levels 1-3 for one query and returns the accepted findings,
// the findings they superseded, and whether the run ended early. Only
// segmentation of the initial document can fail.
func (c *Controller) Run(ctx context.Context, doc Document, query string) (accepted, superseded []Finding, partial bool, err error) {
	c.setState(StateLevel1Score)
	segments, err := SegmentDocument(doc, c.cfg.SegmentSizeTokens, c.cfg.BoundaryTolerance)
	if err != nil {
		return nil, nil, false, err
	}
	c.tracker.AddSegments(segments)
	c.stats.SegmentsTotal = len(segments)

	scores, scored := c.scoreBatch(ctx, c.budget, doc, segments, query)

	var queue []*workItem
	for i, seg := range segments {
		if !scored[i] || scores[i].Relevance < c.cfg.LowConfidenceThreshold {
			continue
		}
		queue = append(queue, &workItem{seg: seg, targetTokens: c.cfg.SegmentSizeTokens})
	}
	c.stats.SegmentsRelevant = len(queue)
	c.log.Info("level 1 complete",
		"segments", len(segments),
		"relevant", len(queue),
		"budget_remaining", c.budget.Remaining(),
	)

	var roots []*resultNode
	depth := 1
	for len(queue) > 0 {
		if c.stopRequested(ctx, c.budget) {
			c.partial = true
			break
		}
		if depth == 1 {
			c.setState(StateLevel2Analyze)
		} else {
			c.setState(StateLevel3DeepDive)
		}

		// Deeper levels spend only a shrinking fraction of what remains.
		levelBudget := c.budget
		if depth > 1 {
			levelBudget = c.budget.Slice(int64(float64(c.budget.Remaining()) * c.cfg.BudgetShrinkFactor))
		}

		next := c.runLevel(ctx, doc, query, queue, levelBudget, &roots)
		queue = next
		depth++
	}
	if len(queue) > 0 {
		c.partial = true
	}

	c.setState(StateDone)
	accepted, superseded = resolveAll(roots)
	c.stats.Findings = len(accepted) + len(superseded)
	c.stats.DegradedCalls = c.scorer.Degraded() + c.analyzer.Degraded()
	c.stats.BudgetRemaining = c.budget.Remaining()
	return accepted, superseded, c.partial, nil
}

// RunStats reports what the run did; valid after Run returns.
func (c *Controller) RunStats() RunStats {
	return c.stats
}

// runLevel analyzes one worklist generation in parallel and returns the
// deep-dive items for the next generation.
func (c *Controller) runLevel(ctx context.Context, doc Document, query string, queue []*workItem, levelBudget *Budget, roots *[]*resultNode) []*workItem {
	type slot struct {
		summary    string
		confidence float64
		ok         bool
		done       bool
	}
	slots := make([]slot, len(queue))
	tasks := make([]Task, len(queue))
	for i, item := range queue {
		i, item := i, item
		parentContext := ""
		if item.hasParent {
			parentContext = item.parentFind.Summary
		}
		tasks[i] = Task{
			Cost: taskCost(item.seg),
			Run: func(taskCtx context.Context) {
				res, ok := c.analyzer.Analyze(taskCtx, doc, item.seg, query, parentContext)
				slots[i] = slot{summary: res.Summary, confidence: res.Confidence, ok: ok, done: true}
			},
		}
	}
	report := c.exec.RunAll(ctx, levelBudget, tasks)
	if report.Early() {
		c.partial = true
	}

	var next []*workItem
	for i, item := range queue {
		node := &resultNode{}
		if item.parent != nil {
			item.parent.children = append(item.parent.children, node)
		} else {
			*roots = append(*roots, node)
		}

		sl := slots[i]
		if !sl.done || !sl.ok {
			// Degraded or never dispatched: the segment contributes no
			// finding, siblings are unaffected.
			continue
		}

		f := Finding{
			ID:         findingID(item.seg.ID),
			SegmentID:  item.seg.ID,
			Level:      item.seg.Level + 1,
			Summary:    sl.summary,
			Confidence: sl.confidence,
		}
		if item.hasParent {
			f.ParentFindingID = item.parentFind.ID
		}
		f = c.tracker.Record(f, item.seg, item.seg.CharStart, item.seg.CharEnd)
		node.finding = f
		node.ok = true

		children := c.planDeepDive(ctx, doc, query, item, f, levelBudget)
		for _, ch := range children {
			ch.parent = node
			next = append(next, ch)
		}
	}
	return next
}

// planDeepDive decides whether a finding needs deeper re-segmentation and,
// if so, scores the sub-segments and returns the worth-analyzing ones as
// next-generation work items. An empty return means the finding stands as
// the best available answer for its span.
func (c *Controller) planDeepDive(ctx context.Context, doc Document, query string, item *workItem, f Finding, levelBudget *Budget) []*workItem {
	if f.Confidence >= c.cfg.AnalysisConfidenceThreshold {
		return nil
	}
	if item.seg.Level >= c.cfg.MaxRecursionDepth {
		c.log.Debug("recursion limit reached, keeping finding", "segment_id", item.seg.ID, "confidence", f.Confidence)
		return nil
	}
	if c.stopRequested(ctx, c.budget) {
		c.partial = true
		return nil
	}

	childTarget := item.targetTokens / 2
	if childTarget < c.cfg.MinSegmentTokens {
		childTarget = c.cfg.MinSegmentTokens
	}
	children := Subdivide(doc, item.seg, childTarget, c.cfg.BoundaryTolerance)
	if len(children) < 2 {
		// Segment is already at the granularity floor.
		return nil
	}
	c.tracker.AddSegments(children)

	scores, scored := c.scoreBatch(ctx, levelBudget, doc, children, query)
	var out []*workItem
	for i, child := range children {
		if !scored[i] || scores[i].Relevance < c.cfg.LowConfidenceThreshold {
			continue
		}
		out = append(out, &workItem{
			seg:          child,
			targetTokens: childTarget,
			parentFind:   f,
			hasParent:    true,
		})
	}
	if len(out) == 0 {
		// No sub-segment scored above the floor; the parent finding is the
		// best we can do.
		return nil
	}
	c.stats.DeepDives++
	return out
}

// scoreBatch scores segments in parallel. scored[i] is false for segments
// whose task was never dispatched (budget or cancellation). Cached spans are
// answered directly and never reserve budget.
func (c *Controller) scoreBatch(ctx context.Context, budget *Budget, doc Document, segments []Segment, query string) ([]SegmentScore, []bool) {
	scores := make([]SegmentScore, len(segments))
	scored := make([]bool, len(segments))
	var tasks []Task
	for i, seg := range segments {
		if cached, ok := c.scorer.Cached(doc, seg, query); ok {
			scores[i] = cached
			scored[i] = true
			continue
		}
		i, seg := i, seg
		tasks = append(tasks, Task{
			Cost: taskCost(seg),
			Run: func(taskCtx context.Context) {
				scores[i] = c.scorer.Score(taskCtx, doc, seg, query)
				scored[i] = true
			},
		})
	}
	if len(tasks) == 0 {
		return scores, scored
	}
	report := c.exec.RunAll(ctx, budget, tasks)
	if report.Early() {
		c.partial = true
	}
	return scores, scored
}

// resolveAll walks the result forest bottom-up, choosing for each segment
// either its own finding or its deep-dive children's findings, whichever is
// more confident.
func resolveAll(roots []*resultNode) (accepted, superseded []Finding) {
	for _, n := range roots {
		use, sup, _, _ := resolveNode(n)
		accepted = append(accepted, use...)
		superseded = append(superseded, sup...)
	}
	return accepted, superseded
}

func resolveNode(n *resultNode) (use, superseded []Finding, best float64, any bool) {
	if len(n.children) == 0 {
		if !n.ok {
			return nil, nil, 0, false
		}
		return []Finding{n.finding}, nil, n.finding.Confidence, true
	}

	var childUse, childSup []Finding
	bestChild := 0.0
	anyChild := false
	for _, ch := range n.children {
		u, s, b, ok := resolveNode(ch)
		childUse = append(childUse, u...)
		childSup = append(childSup, s...)
		if ok {
			anyChild = true
			if b > bestChild {
				bestChild = b
			}
		}
	}

	switch {
	case n.ok && anyChild && bestChild > n.finding.Confidence:
		// The deep-dive beat the coarse pass: children are the answer, the
		// parent stays cited as superseded.
		superseded = append(childSup, n.finding)
		return childUse, superseded, bestChild, true
	case n.ok:
		// Fall back to the parent finding; descendants stay in the ledger
		// but are not cited.
		return []Finding{n.finding}, nil, n.finding.Confidence, true
	default:
		return childUse, childSup, bestChild, anyChild
	}
}
