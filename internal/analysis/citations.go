package analysis

import (
	"fmt"
	"sort"
	"sync"
)

// CitationTracker is an append-only ledger mapping findings to the segments
// and character spans that produced them. All mutation goes through one
// mutex, so concurrent workers never race on the underlying maps. Entries
// are never removed: a superseded finding stays in the ledger, linked to its
// deeper replacement through ParentFindingID.
type CitationTracker struct {
	mu        sync.Mutex
	segments  map[string]Segment
	findings  map[string]Finding
	citations []Citation
	nextID    int
}

func NewCitationTracker() *CitationTracker {
	return &CitationTracker{
		segments: make(map[string]Segment),
		findings: make(map[string]Finding),
	}
}

// AddSegments registers segments so the provenance tree can be built even
// for segments that never produced a finding.
func (t *CitationTracker) AddSegments(segs []Segment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range segs {
		t.segments[s.ID] = s
	}
}

// Record appends a citation linking a finding to a span of its segment and
// stores the finding with the citation attached. The span is clamped to the
// segment's own bounds so a finding can never cite text outside the segment
// that produced it.
func (t *CitationTracker) Record(f Finding, seg Segment, charStart, charEnd int) Finding {
	if charStart < seg.CharStart {
		charStart = seg.CharStart
	}
	if charEnd > seg.CharEnd || charEnd <= charStart {
		charEnd = seg.CharEnd
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	c := Citation{
		ID:        fmt.Sprintf("cite-%04d", t.nextID),
		FindingID: f.ID,
		SegmentID: seg.ID,
		CharStart: charStart,
		CharEnd:   charEnd,
	}
	t.citations = append(t.citations, c)
	f.CitationIDs = append(f.CitationIDs, c.ID)
	t.findings[f.ID] = f
	t.segments[seg.ID] = seg
	return f
}

// Segment looks up a registered segment.
func (t *CitationTracker) Segment(id string) (Segment, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.segments[id]
	return s, ok
}

// Finding looks up a recorded finding.
func (t *CitationTracker) Finding(id string) (Finding, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.findings[id]
	return f, ok
}

// CitationsFor returns the citations recorded for one finding.
func (t *CitationTracker) CitationsFor(findingID string) []Citation {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Citation
	for _, c := range t.citations {
		if c.FindingID == findingID {
			out = append(out, c)
		}
	}
	return out
}

// ProvenanceNode is one segment in the hierarchical provenance view, with
// the findings attached to it at its level and its deep-dive children.
type ProvenanceNode struct {
	Segment  Segment           `json:"segment"`
	Findings []Finding         `json:"findings,omitempty"`
	Children []*ProvenanceNode `json:"children,omitempty"`
}

// TreeFor builds the provenance tree for a document: root segments in
// document order, each with its recursive children and per-level findings.
func (t *CitationTracker) TreeFor(docID string) []*ProvenanceNode {
	t.mu.Lock()
	defer t.mu.Unlock()

	nodes := make(map[string]*ProvenanceNode)
	for id, seg := range t.segments {
		if seg.DocumentID != docID {
			continue
		}
		nodes[id] = &ProvenanceNode{Segment: seg}
	}
	for _, f := range t.findings {
		if n, ok := nodes[f.SegmentID]; ok {
			n.Findings = append(n.Findings, f)
		}
	}

	var roots []*ProvenanceNode
	for _, n := range nodes {
		if parent, ok := nodes[n.Segment.ParentID]; ok {
			parent.Children = append(parent.Children, n)
		} else {
			roots = append(roots, n)
		}
	}

	var sortNodes func(ns []*ProvenanceNode)
	sortNodes = func(ns []*ProvenanceNode) {
		sort.Slice(ns, func(i, j int) bool {
			return ns[i].Segment.CharStart < ns[j].Segment.CharStart
		})
		for _, n := range ns {
			sort.Slice(n.Findings, func(i, j int) bool {
				return n.Findings[i].Level < n.Findings[j].Level
			})
			sortNodes(n.Children)
		}
	}
	sortNodes(roots)
	return roots
}
