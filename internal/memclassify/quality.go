// Package memclassify decides which conversation turns are worth storing in
// memtree and at what importance tier.
//
// Three jobs: filter out noise (acks, greetings, one-word replies) before it
// pollutes the semantic index, classify the survivors into an importance
// tier so high-signal memories surface first in retrieval, and extract the
// signal-dense prose core of long assistant responses.
package memclassify

import (
	"strings"
)

// Importance ranks how worth remembering a piece of content is.
type Importance int

const (
	// Discard means the content is pure noise; still logged to the
	// conversation log but never inserted into memtree.
	Discard Importance = iota
	// Normal is the default tier: substantive but unremarkable.
	Normal
	// High marks file references, code structure, preferences or factual
	// explanations.
	High
	// Critical marks decisions, bug root-causes, explicit instructions, or
	// anything from the explicit create_memory tool.
	Critical
)

// RetrievalBoost returns the multiplier applied to a memory's similarity
// score at retrieval time. Discard content is never stored and gets 0.
func (i Importance) RetrievalBoost() float64 {
	switch i {
	case Critical:
		return 1.4
	case High:
		return 1.2
	case Normal:
		return 1.0
	default:
		return 0
	}
}

const maxChars = 300

// noisePhrases are pure-acknowledgment turns, checked against the full
// trimmed+lowercased content with trailing punctuation stripped.
var noisePhrases = map[string]bool{
	"ok": true, "okay": true, "sure": true, "yes": true, "no": true,
	"got it": true, "thanks": true, "thank you": true, "great": true,
	"good": true, "nice": true, "perfect": true, "alright": true,
	"fine": true, "sounds good": true, "let me try": true, "i'll try": true,
	"understood": true, "makes sense": true, "i see": true, "cool": true,
	"awesome": true, "noted": true, "will do": true, "on it": true,
	"done": true, "good to know": true, "got it thanks": true, "ok thanks": true,
}

var criticalMarkers = []string{
	"we decided", "i decided", "let's use", "let's go with", "i've decided",
	"the decision", "we should use", "we're going to use", "going forward,",
	"from now on,", "always ", "never ", "don't ", "do not ", "avoid ",
	"make sure to", "you must", "the bug", "root cause", "the fix",
	"the issue was", "the error was", "this was causing", "caused by",
	"remember that", "note that", "important:", "critical:",
	"no, that's wrong", "not like that", "you should never", "preference:",
	"rule:", "convention:",
}

var highMarkers = []string{
	"src/", "~/", ".go ", ".go\"", ".toml", "go.mod", "func ", "pub ",
	"struct ", "interface ", "package ", "import (", "::",
	"the reason", "because ", "works by", "is defined in", "lives in",
	"is located", "is stored", "the pattern", "the approach", "we use ",
	"we're using", "i prefer", "i like to", "prefer to",
}

// Classify decides whether a conversation turn belongs in memtree. role is
// the message role ("user", "assistant", or "system" — the latter used by
// the explicit create_memory tool and always treated as Critical). Returns
// ok=false if the content is noise and should be skipped.
func Classify(role, content string) (stored string, importance Importance, ok bool) {
	trimmed := strings.TrimSpace(content)

	if isNoise(trimmed) {
		return "", Discard, false
	}

	if role == "system" {
		importance = Critical
	} else {
		importance = classifyImportance(trimmed)
	}

	extracted := strings.TrimSpace(extract(role, trimmed))
	if extracted == "" {
		return "", Discard, false
	}

	return extracted, importance, true
}

func isNoise(content string) bool {
	if len(content) < 20 {
		return true
	}
	lower := strings.ToLower(content)
	lower = strings.TrimRight(lower, ".!?")
	return noisePhrases[lower]
}

func classifyImportance(content string) Importance {
	lower := strings.ToLower(content)

	for _, marker := range criticalMarkers {
		if strings.Contains(lower, marker) {
			return Critical
		}
	}
	for _, marker := range highMarkers {
		if strings.Contains(lower, marker) {
			return High
		}
	}
	return Normal
}

func extract(role, content string) string {
	if len(content) <= maxChars {
		return content
	}

	if role == "assistant" {
		var proseLines []string
		for _, line := range strings.Split(content, "\n") {
			if strings.HasPrefix(line, "```") || strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t") {
				continue
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			proseLines = append(proseLines, line)
		}
		prose := strings.Join(proseLines, " ")

		src := content
		if len(prose) >= 40 {
			src = prose
		}
		return truncateAtSentence(src, maxChars)
	}

	return truncateAtSentence(content, maxChars)
}

// truncateAtSentence truncates s at maxChars, preferring a sentence or word
// boundary over a hard cut.
func truncateAtSentence(s string, maxChars int) string {
	if len(s) <= maxChars {
		return s
	}

	slice := s[:maxChars]

	if pos := lastIndexAny(slice, ".!\n"); pos >= 0 {
		return strings.TrimSpace(s[:pos+1])
	}

	if pos := strings.LastIndex(slice, " "); pos >= 0 {
		return strings.TrimSpace(s[:pos]) + "…"
	}

	return slice + "…"
}

func lastIndexAny(s, chars string) int {
	return strings.LastIndexAny(s, chars)
}
