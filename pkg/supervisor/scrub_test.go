package supervisor

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrub_RemovesAnsiCursorAndColorSequences(t *testing.T) {
	in := "\x1b[2J\x1b[1;1Hhello\x1b[31m red text\x1b[0m"
	got := Scrub(in)
	assert.Equal(t, "hello red text", got)
}

func TestScrub_RemovesOSCSequence(t *testing.T) {
	in := "before\x1b]0;window title\x07after"
	got := Scrub(in)
	assert.Equal(t, "beforeafter", got)
}

func TestScrub_StripsC0ControlBytesButKeepsNewlineAndTab(t *testing.T) {
	in := "a\x01b\x07c\nd\te"
	got := Scrub(in)
	assert.Equal(t, "abc\nd\te", got)
}

func TestScrub_NormalizesCarriageReturns(t *testing.T) {
	in := "line one\r\nline two\rline three"
	got := Scrub(in)
	assert.Equal(t, "line one\nline two\nline three", got)
}

func TestScrub_CollapsesLongBlankRuns(t *testing.T) {
	in := "top" + strings.Repeat("\n", 8) + "bottom"
	got := Scrub(in)
	assert.Equal(t, "top\n\n\n\nbottom", got)
}

func TestScrub_ShortBlankRunsUntouched(t *testing.T) {
	in := "top\n\n\nbottom"
	got := Scrub(in)
	assert.Equal(t, in, got)
}
