package llm

import (
	"fmt"
	"strings"
)

const scorePrompt = `Rate how relevant the following document section is to the question. Return a JSON object with exactly these fields:

- "relevance": relevance of the section to the question, from 0.0 (unrelated) to 1.0 (directly answers it) (float)
- "rationale": one sentence explaining the rating (string, max 200 chars)

Rules:
- Judge only whether the section could contribute to answering the question
- A section that merely mentions a keyword without substance is low relevance (0.1-0.3)
- A section that partially addresses the question is moderate (0.4-0.7)
- Reserve 0.8+ for sections that directly contain the answer

Respond with ONLY the JSON object, no other text.`

const analyzePrompt = `Analyze the following document section and extract what it says about the question. Return a JSON object with exactly these fields:

- "summary": concise statement of what this section contributes to answering the question (string, max 500 chars)
- "confidence": how confident you are that the summary is complete and correct for this section, from 0.0 to 1.0 (float)

Rules:
- Summarize only what the section actually states, never speculate
- If the section only partially covers the question, say what is covered and lower the confidence
- Low confidence (under 0.5) signals the section needs a closer look at finer granularity

Respond with ONLY the JSON object, no other text.`

// BuildScorePrompt creates the relevance-scoring prompt for one segment.
func BuildScorePrompt(text, query string) string {
	var sb strings.Builder
	sb.WriteString(scorePrompt)
	sb.WriteString("\n\n---\n")
	sb.WriteString(fmt.Sprintf("Question: %s\n", query))
	sb.WriteString("---\n")
	sb.WriteString(text)
	return sb.String()
}

// BuildAnalyzePrompt creates the analysis prompt for one segment. When
// parentContext is non-empty (deep-dive into a low-confidence finding), the
// parent's summary is included so the model knows what the coarser pass saw.
func BuildAnalyzePrompt(text, query, parentContext string) string {
	var sb strings.Builder
	sb.WriteString(analyzePrompt)
	sb.WriteString("\n\n---\n")
	sb.WriteString(fmt.Sprintf("Question: %s\n", query))
	if parentContext != "" {
		sb.WriteString("Earlier pass over the surrounding section concluded: ")
		sb.WriteString(parentContext)
		sb.WriteString("\n")
	}
	sb.WriteString("---\n")
	sb.WriteString(text)
	return sb.String()
}
