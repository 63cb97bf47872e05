package supervisor

import (
	"context"
	"strings"
	"time"

	"github.com/aidam-sidecar/core/pkg/aidamerr"
)

// keyTranslationTable maps the named key sequences the session-controller
// MCP tool accepts to the literal bytes a terminal program expects on its
// stdin: arrows, enter, esc, tab, backspace, delete, home/end, page
// up/down, ctrl+a..z, space.
var keyTranslationTable = buildKeyTranslationTable()

func buildKeyTranslationTable() map[string]string {
	table := map[string]string{
		"enter":     "\r",
		"return":    "\r",
		"escape":    "\x1b",
		"esc":       "\x1b",
		"tab":       "\t",
		"backspace": "\x7f",
		"delete":    "\x1b[3~",
		"del":       "\x1b[3~",
		"up":        "\x1b[A",
		"down":      "\x1b[B",
		"right":     "\x1b[C",
		"left":      "\x1b[D",
		"home":      "\x1b[H",
		"end":       "\x1b[F",
		"pageup":    "\x1b[5~",
		"page_up":   "\x1b[5~",
		"pagedown":  "\x1b[6~",
		"page_down": "\x1b[6~",
		"space":     " ",
		"shift+tab": "\x1b[Z",
	}
	// ctrl+a through ctrl+z map to the C0 control range 0x01-0x1a.
	for c := byte('a'); c <= 'z'; c++ {
		table["ctrl+"+string(c)] = string([]byte{c - 'a' + 1})
	}
	return table
}

// translateKey resolves a named key to its literal byte sequence, or
// returns key unchanged if it names no known sequence (so callers can pass
// literal single characters too).
func translateKey(key string) string {
	if seq, ok := keyTranslationTable[strings.ToLower(key)]; ok {
		return seq
	}
	return key
}

// SendKeys writes a sequence of named or literal keys with a short debounce
// between each (no trailing carriage return is appended; that distinguishes
// a raw key-sequence send from a plain text Send). If wait is true, it
// returns the idle-framed response accumulated after the sequence
// completes.
func (s *Session) SendKeys(ctx context.Context, keys []string, timeout time.Duration, wait bool) (string, error) {
	s.mu.Lock()
	alive := s.alive
	s.mu.Unlock()
	if !alive {
		return "", aidamerr.NewValidationError("session is not alive")
	}

	for _, key := range keys {
		if _, err := s.pty.WriteString(translateKey(key)); err != nil {
			return "", err
		}
		time.Sleep(keyDebounce)
	}

	if !wait {
		return "", nil
	}
	return s.WaitForIdle(ctx, defaultIdleThreshold, timeout)
}
