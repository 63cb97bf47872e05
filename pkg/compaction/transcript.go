package compaction

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ToolUse is one assistant tool_use content block.
type ToolUse struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult is one tool_result content block, correlated to a ToolUse by ID.
type ToolResult struct {
	ToolUseID string
	Text      string
}

// TranscriptLine is one decoded JSONL record from the host assistant's
// transcript file. A record may carry text, tool invocations, and tool
// results simultaneously (a user turn containing only a tool_result block
// has no independent Texts).
type TranscriptLine struct {
	Role        string // "user" or "assistant"
	Texts       []string
	ToolUses    []ToolUse
	ToolResults []ToolResult
}

// Transcript is the ordered, decoded conversation history read from a JSONL
// transcript file.
type Transcript struct {
	Lines []TranscriptLine
}

// ParseTranscript reads and decodes a JSONL transcript file. Malformed
// individual lines are skipped rather than aborting the whole parse;
// transcripts are append-only logs and a single truncated trailing line is
// expected when a host process is killed mid-write.
func ParseTranscript(path string) (*Transcript, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript %s: %w", path, err)
	}
	defer f.Close()

	t := &Transcript{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		decoded, ok := decodeLine(line)
		if ok {
			t.Lines = append(t.Lines, decoded)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan transcript %s: %w", path, err)
	}
	return t, nil
}

func decodeLine(line string) (TranscriptLine, bool) {
	var raw struct {
		Type    string `json:"type"`
		Message struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return TranscriptLine{}, false
	}

	role := raw.Message.Role
	if role == "" {
		role = raw.Type
	}
	if role != "user" && role != "assistant" {
		return TranscriptLine{}, false
	}

	tl := TranscriptLine{Role: role}
	if len(raw.Message.Content) == 0 {
		return tl, false
	}

	// content is either a bare string or an array of typed blocks.
	var asString string
	if err := json.Unmarshal(raw.Message.Content, &asString); err == nil {
		if strings.TrimSpace(asString) != "" {
			tl.Texts = append(tl.Texts, asString)
		}
		return tl, true
	}

	var blocks []json.RawMessage
	if err := json.Unmarshal(raw.Message.Content, &blocks); err != nil {
		return TranscriptLine{}, false
	}
	for _, b := range blocks {
		var kind struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(b, &kind); err != nil {
			continue
		}
		switch kind.Type {
		case "text":
			var block struct {
				Text string `json:"text"`
			}
			if json.Unmarshal(b, &block) == nil && strings.TrimSpace(block.Text) != "" {
				tl.Texts = append(tl.Texts, block.Text)
			}
		case "tool_use":
			var block struct {
				ID    string          `json:"id"`
				Name  string          `json:"name"`
				Input json.RawMessage `json:"input"`
			}
			if json.Unmarshal(b, &block) == nil {
				tl.ToolUses = append(tl.ToolUses, ToolUse{ID: block.ID, Name: block.Name, Input: block.Input})
			}
		case "tool_result":
			var block struct {
				ToolUseID string          `json:"tool_use_id"`
				Content   json.RawMessage `json:"content"`
			}
			if json.Unmarshal(b, &block) == nil {
				tl.ToolResults = append(tl.ToolResults, ToolResult{
					ToolUseID: block.ToolUseID,
					Text:      toolResultText(block.Content),
				})
			}
		}
	}
	return tl, true
}

// toolResultText flattens a tool_result content field, which may be a bare
// string or an array of {"type":"text","text":"..."} blocks, into plain text.
func toolResultText(raw json.RawMessage) string {
	var asString string
	if json.Unmarshal(raw, &asString) == nil {
		return asString
	}
	var blocks []struct {
		Text string `json:"text"`
	}
	if json.Unmarshal(raw, &blocks) == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return ""
}

// FirstUserText returns the first non-empty user-authored text across the
// transcript, used as the emergency summary's "session goal".
func (t *Transcript) FirstUserText() string {
	for _, l := range t.Lines {
		if l.Role == "user" {
			for _, text := range l.Texts {
				if strings.TrimSpace(text) != "" {
					return text
				}
			}
		}
	}
	return ""
}

// LastUserText returns the last non-empty user-authored text, used as the
// emergency summary's "current task".
func (t *Transcript) LastUserText() string {
	var last string
	for _, l := range t.Lines {
		if l.Role == "user" {
			for _, text := range l.Texts {
				if strings.TrimSpace(text) != "" {
					last = text
				}
			}
		}
	}
	return last
}

// ToolHistogram counts every assistant tool_use invocation by tool name and
// returns the top-10 most frequent, descending.
func (t *Transcript) ToolHistogram() []ToolCount {
	counts := make(map[string]int)
	for _, l := range t.Lines {
		for _, tu := range l.ToolUses {
			counts[tu.Name]++
		}
	}

	histogram := make([]ToolCount, 0, len(counts))
	for name, count := range counts {
		histogram = append(histogram, ToolCount{Name: name, Count: count})
	}
	sort.Slice(histogram, func(i, j int) bool {
		if histogram[i].Count != histogram[j].Count {
			return histogram[i].Count > histogram[j].Count
		}
		return histogram[i].Name < histogram[j].Name
	})
	if len(histogram) > 10 {
		histogram = histogram[:10]
	}
	return histogram
}

// ToolCount is one entry of the tool-usage histogram.
type ToolCount struct {
	Name  string
	Count int
}
