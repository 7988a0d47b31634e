package provider

import "strings"

// UniversalAlignmentPrompt normalizes output discipline across every adapter
// in this package. Different vendors default to different stylistic habits
// (wrapping JSON in prose, ignoring numbered formats); this block is
// prepended to every system prompt so structured-output callers (IPCL
// critique JSON, numbered plans) get parseable output regardless of which
// provider answered.
const UniversalAlignmentPrompt = `## Output Discipline

These rules override any stylistic defaults:

1. When asked for JSON, return ONLY the JSON. No markdown code fences. No prose before or after. The first character of your response must be ` + "`[`" + ` or ` + "`{`" + `.
2. When given a numbered format (1. Step one\n2. Step two), follow it exactly.
3. When given field names or schema, use them verbatim — no renaming, no extras.
4. Do not add unsolicited caveats, disclaimers, or explanations unless the instruction explicitly requests them.
5. Treat every instruction as binding, not advisory.`

// WithAlignment prepends the universal alignment prompt to a caller-supplied
// system prompt. An empty or whitespace-only system prompt is treated as
// absent, and the alignment prompt is returned standalone.
func WithAlignment(system string) string {
	trimmed := strings.TrimSpace(system)
	if trimmed == "" {
		return UniversalAlignmentPrompt
	}
	return UniversalAlignmentPrompt + "\n\n" + system
}
