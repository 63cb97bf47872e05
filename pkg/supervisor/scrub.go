package supervisor

import (
	"regexp"
	"strings"
)

// ansiEscapeRe matches CSI/OSC escape sequences (cursor movement, colors,
// screen clears) a terminal-drawing CLI emits, which are noise once the
// output is handed to a text-only consumer.
var ansiEscapeRe = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[a-zA-Z]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[()][AB012]|[=>])`)

// controlCharRe strips remaining C0 control bytes except tab/newline/CR.
var controlCharRe = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)

// blankRunRe matches 4 or more consecutive blank lines, which Scrub
// collapses to 3.
var blankRunRe = regexp.MustCompile(`\n{5,}`)

// Scrub removes ANSI CSI/OSC escape sequences, charset selects, stray C0
// control bytes (except newline/tab), and collapses long runs of blank
// lines, from raw PTY output.
func Scrub(s string) string {
	s = ansiEscapeRe.ReplaceAllString(s, "")
	s = controlCharRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = blankRunRe.ReplaceAllString(s, "\n\n\n\n")
	return s
}

func splitLinesKeepEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return strings.EqualFold(s, prefix[:len(s)])
	}
	return strings.EqualFold(s[:len(prefix)], prefix)
}
