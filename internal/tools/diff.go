package tools

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"

	"github.com/xonecas/symb/internal/highlight"
)

// unifiedDiff computes a unified diff between before and after, labeling
// both hunks with path, then colorizes it with Chroma's "diff" lexer.
func unifiedDiff(path, before, after string) string {
	edits := myers.ComputeEdits(span.URIFromPath(path), before, after)
	diff := fmt.Sprint(gotextdiff.ToUnified(path, path, before, edits))
	if strings.TrimSpace(diff) == "" {
		return ""
	}
	return highlight.Highlight(diff, "diff", "monokai", "")
}

// ansiSGR matches the colour escape sequences highlight.Highlight inserts.
var ansiSGR = regexp.MustCompile("\x1b\\[[0-9;]*m")

// diffStats counts added/removed lines in a unified diff's hunk bodies,
// ignoring the "---"/"+++" file headers and "@@" hunk headers. Colour
// escape sequences are stripped first, so a highlighted diff counts the
// same as a plain one.
func diffStats(diff string) (added, removed int) {
	for _, line := range strings.Split(ansiSGR.ReplaceAllString(diff, ""), "\n") {
		switch {
		case strings.HasPrefix(line, "+++") || strings.HasPrefix(line, "---"):
			continue
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return added, removed
}
