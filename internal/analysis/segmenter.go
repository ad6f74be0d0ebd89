package analysis

import (
	"strings"
	"unicode/utf8"
)

// SegmentationError is the only hard failure Process surfaces: the document
// cannot be segmented at all, so no analysis can start.
type SegmentationError struct {
	Reason string
}

func (e *SegmentationError) Error() string {
	return "segmentation: " + e.Reason
}

// SegmentDocument splits a document into contiguous level-1 segments of
// approximately targetTokens. Cuts prefer paragraph boundaries, then sentence
// ends, then plain whitespace, searched within a tolerance window around the
// target; only when no boundary exists there does it cut mid-text. The
// returned spans never overlap and their union covers the full text.
func SegmentDocument(doc Document, targetTokens int, tolerance float64) ([]Segment, error) {
	if strings.TrimSpace(doc.Text) == "" {
		return nil, &SegmentationError{Reason: "document text is empty"}
	}
	if targetTokens <= 0 {
		return nil, &SegmentationError{Reason: "target segment size must be positive"}
	}
	return segmentSpan(doc, 0, len(doc.Text), 1, "", targetTokens, tolerance), nil
}

// Subdivide re-segments one segment into smaller children at the next level,
// with ParentID set to the segment that triggered the deep-dive.
func Subdivide(doc Document, parent Segment, targetTokens int, tolerance float64) []Segment {
	if targetTokens <= 0 {
		return nil
	}
	return segmentSpan(doc, parent.CharStart, parent.CharEnd, parent.Level+1, parent.ID, targetTokens, tolerance)
}

func segmentSpan(doc Document, base, end, level int, parentID string, targetTokens int, tolerance float64) []Segment {
	text := doc.Text[base:end]
	if text == "" {
		return nil
	}
	if tolerance <= 0 {
		tolerance = 0.15
	}

	// Convert the token target into characters using the document's own
	// density, so prose and code-heavy text both land near the target.
	charsPerToken := len(text) / max(EstimateTokens(text), 1)
	if charsPerToken < 1 {
		charsPerToken = 1
	}
	targetChars := targetTokens * charsPerToken
	if targetChars < 1 {
		targetChars = 1
	}
	window := int(float64(targetChars) * tolerance)

	var segments []Segment
	pos := 0
	for pos < len(text) {
		remaining := len(text) - pos
		cut := len(text)
		if remaining > targetChars+window {
			ideal := pos + targetChars
			lo := ideal - window
			if lo <= pos {
				lo = pos + 1
			}
			hi := ideal + window
			if hi > len(text) {
				hi = len(text)
			}
			cut = findCut(text, lo, hi, ideal)
		}
		for cut < len(text) && !utf8.RuneStart(text[cut]) {
			cut++
		}
		span := text[pos:cut]
		segments = append(segments, Segment{
			ID:         segmentID(doc.ID, level, base+pos, base+cut),
			DocumentID: doc.ID,
			Level:      level,
			ParentID:   parentID,
			CharStart:  base + pos,
			CharEnd:    base + cut,
			TokenCount: EstimateTokens(span),
		})
		pos = cut
	}
	return segments
}

// findCut picks the best cut position in [lo, hi): the paragraph break
// closest to ideal, else the sentence end closest to ideal, else whitespace,
// else a hard cut at ideal.
func findCut(text string, lo, hi, ideal int) int {
	best := -1
	for i := lo; i < hi-1; i++ {
		if text[i] == '\n' && text[i+1] == '\n' {
			// Cut after the blank line so the separator stays with the
			// preceding segment.
			cut := i + 2
			if better(cut, best, ideal) {
				best = cut
			}
		}
	}
	if best >= 0 {
		return best
	}

	for i := lo; i < hi-1; i++ {
		c := text[i]
		if (c == '.' || c == '!' || c == '?') && isSpace(text[i+1]) {
			cut := i + 1
			if better(cut, best, ideal) {
				best = cut
			}
		}
	}
	if best >= 0 {
		return best
	}

	for i := lo; i < hi; i++ {
		if isSpace(text[i]) {
			cut := i + 1
			if better(cut, best, ideal) {
				best = cut
			}
		}
	}
	if best >= 0 {
		return best
	}

	return ideal
}

func better(candidate, current, ideal int) bool {
	if current < 0 {
		return true
	}
	return abs(candidate-ideal) < abs(current-ideal)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
