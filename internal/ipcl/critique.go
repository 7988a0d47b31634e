package ipcl

import (
	"encoding/json"
	"fmt"
	"strings"
)

// rawCritique is the wire shape the critique prompt asks the provider to
// return: an array of these objects, or an empty array when nothing.
type rawCritique struct {
	Persona    string `json:"persona"`
	Concern    string `json:"concern"`
	StepRef    *int   `json:"step_ref"`
	Severity   int    `json:"severity"`
	Confidence int    `json:"confidence"`
}

// parseCritiqueJSON parses a critique response into CritiqueItems, tolerating
// a leading/trailing ```json code fence (providers occasionally wrap JSON in
// one despite the alignment prompt) but never inventing fields. Any other
// deviation from the contract is a parse error; per spec.md §7 a ParseError
// here is never fatal — callers treat it as an empty critique list.
func parseCritiqueJSON(raw string) ([]CritiqueItem, error) {
	stripped := stripJSONFence(raw)

	var entries []rawCritique
	if err := json.Unmarshal([]byte(stripped), &entries); err != nil {
		return nil, fmt.Errorf("ipcl: malformed critique JSON: %w", err)
	}

	items := make([]CritiqueItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, NewCritiqueItem(e.Persona, e.Concern, e.StepRef, e.Severity, e.Confidence))
	}
	return items, nil
}

// stripJSONFence removes a leading ```json (or bare ```) fence and a
// trailing ``` fence, if present. It does not otherwise alter the text.
func stripJSONFence(s string) string {
	t := strings.TrimSpace(s)
	if !strings.HasPrefix(t, "```") {
		return t
	}
	t = strings.TrimPrefix(t, "```json")
	t = strings.TrimPrefix(t, "```")
	t = strings.TrimPrefix(t, "\n")
	if idx := strings.LastIndex(t, "```"); idx != -1 {
		t = t[:idx]
	}
	return strings.TrimSpace(t)
}

func hasMustAddress(items []CritiqueItem) bool {
	for _, c := range items {
		if c.IsMustAddress {
			return true
		}
	}
	return false
}

// computeConvergence compares a newly regenerated plan against the prior
// iteration's plan by character-level delta percentage.
func computeConvergence(newPlan, prevPlan string, critiques []CritiqueItem, convergencePct float64) ConvergenceResult {
	if prevPlan == "" {
		return Continuing{}
	}
	deltaPct := charDeltaPct(newPlan, prevPlan)
	must := hasMustAddress(critiques)

	if deltaPct < convergencePct && !must {
		return Stable{DeltaPct: deltaPct}
	}
	if deltaPct > 40 && must {
		return ScopeRunaway{}
	}
	return Continuing{}
}

func charDeltaPct(newPlan, prevPlan string) float64 {
	newLen := len([]rune(newPlan))
	prevLen := len([]rune(prevPlan))
	if prevLen == 0 {
		return 100
	}
	delta := newLen - prevLen
	if delta < 0 {
		delta = -delta
	}
	return float64(delta) / float64(prevLen) * 100
}

// stripNonNumberedPreamble drops leading lines before the first line that
// begins (after leading whitespace) with a digit, as a numbered step ("1.",
// "2)", etc.) does, so a provider's unsolicited preamble never enters the
// plan text. If no such line is found, the text is returned unchanged.
func stripNonNumberedPreamble(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		t := strings.TrimLeft(line, " \t")
		if t != "" && t[0] >= '0' && t[0] <= '9' {
			return strings.TrimLeft(strings.Join(lines[i:], "\n"), "\n")
		}
	}
	return text
}
