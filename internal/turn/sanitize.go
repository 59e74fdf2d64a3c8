package turn

import (
	"regexp"
	"strings"
)

// The upstream model occasionally leaks tool-call scaffolding and fenced
// code blocks into text that is meant to be read aloud. Finalisation strips
// those before the text reaches a client.
var (
	fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\n?.*?```")
	danglingFence = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\n?.*$")
	toolMarkerRe  = regexp.MustCompile(`(?s)<tool_?(?:call|output|result)[^>]*>.*?</tool_?(?:call|output|result)>`)
	blankRunsRe   = regexp.MustCompile(`\n{3,}`)
)

// Sanitize removes tool-call and code-block artifacts from accumulated
// response text and collapses excess blank lines. The result is trimmed of
// surrounding whitespace.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	out := fencedBlockRe.ReplaceAllString(text, "")
	out = danglingFence.ReplaceAllString(out, "")
	out = toolMarkerRe.ReplaceAllString(out, "")
	out = blankRunsRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
