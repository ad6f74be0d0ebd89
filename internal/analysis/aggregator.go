package analysis

import (
	"sort"
	"strings"
)

// aggEntry pairs a finding with its segment for ordering and dedup.
type aggEntry struct {
	finding Finding
	seg     Segment
	used    bool // contributes its summary to the answer
}

// Aggregate merges accepted and superseded findings into the final result:
// summaries concatenated in document order, plus a deduplicated citation
// list. Completion order plays no part; ordering is restored from segment
// character offsets.
func Aggregate(tracker *CitationTracker, accepted, superseded []Finding, partial bool, stats RunStats) *Result {
	var entries []aggEntry
	for _, f := range accepted {
		if seg, ok := tracker.Segment(f.SegmentID); ok {
			entries = append(entries, aggEntry{finding: f, seg: seg, used: true})
		}
	}
	for _, f := range superseded {
		if seg, ok := tracker.Segment(f.SegmentID); ok {
			entries = append(entries, aggEntry{finding: f, seg: seg})
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].seg.CharStart != entries[j].seg.CharStart {
			return entries[i].seg.CharStart < entries[j].seg.CharStart
		}
		// Deeper findings after their parent at the same offset.
		return entries[i].finding.Level < entries[j].finding.Level
	})

	var parts []string
	for _, e := range entries {
		if e.used && strings.TrimSpace(e.finding.Summary) != "" {
			parts = append(parts, strings.TrimSpace(e.finding.Summary))
		}
	}

	var refs []CitationRef
	var owners []aggEntry
	for _, e := range entries {
		for _, c := range tracker.CitationsFor(e.finding.ID) {
			refs = append(refs, CitationRef{
				CharStart:  c.CharStart,
				CharEnd:    c.CharEnd,
				SegmentID:  c.SegmentID,
				Level:      e.finding.Level,
				Confidence: e.finding.Confidence,
			})
			owners = append(owners, e)
		}
	}
	refs = dedupeCitations(refs, owners)

	return &Result{
		Answer:    strings.Join(parts, "\n\n"),
		Citations: refs,
		Partial:   partial,
		Stats:     stats,
	}
}

// dedupeCitations drops a citation when a deeper one overlaps its span,
// unless removing it would leave a summary that appears in the answer with
// no citation at all.
func dedupeCitations(refs []CitationRef, owners []aggEntry) []CitationRef {
	drop := make([]bool, len(refs))
	for i := range refs {
		for j := range refs {
			if i == j || drop[i] || drop[j] {
				continue
			}
			if !overlaps(refs[i], refs[j]) {
				continue
			}
			if refs[j].Level <= refs[i].Level {
				continue
			}
			// refs[j] is deeper and overlapping; drop refs[i] unless it is
			// the only citation left for a summary the answer includes.
			if owners[i].used && remainingFor(drop, owners, i) == 1 {
				continue
			}
			drop[i] = true
		}
	}

	out := make([]CitationRef, 0, len(refs))
	for i, r := range refs {
		if !drop[i] {
			out = append(out, r)
		}
	}
	return out
}

func overlaps(a, b CitationRef) bool {
	return a.CharStart < b.CharEnd && b.CharStart < a.CharEnd
}

// remainingFor counts the not-yet-dropped citations belonging to the same
// finding as owners[idx].
func remainingFor(drop []bool, owners []aggEntry, idx int) int {
	count := 0
	for i := range owners {
		if !drop[i] && owners[i].finding.ID == owners[idx].finding.ID {
			count++
		}
	}
	return count
}
