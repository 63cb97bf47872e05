package hooks

import "encoding/json"

// truncatedEnvelope replaces an oversized JSON payload with a preview
// envelope, the shape PostToolUse uses for tool_input/tool_response once
// either exceeds the 4,000-char cap.
type truncatedEnvelope struct {
	Truncated bool   `json:"_truncated"`
	Preview   string `json:"_preview"`
	Length    int    `json:"_length"`
}

const postToolUseTruncateLimit = 4000

// truncateField returns raw unchanged if it's within the limit, or a
// marshaled truncatedEnvelope otherwise. The preview keeps half the limit,
// leaving the envelope itself comfortably under the cap.
func truncateField(raw json.RawMessage) json.RawMessage {
	if len(raw) <= postToolUseTruncateLimit {
		return raw
	}
	envelope := truncatedEnvelope{
		Truncated: true,
		Preview:   string(raw[:postToolUseTruncateLimit/2]),
		Length:    len(raw),
	}
	marshaled, err := json.Marshal(envelope)
	if err != nil {
		// Marshaling a struct of string/bool/int fields cannot fail; this
		// is unreachable in practice.
		return raw
	}
	return marshaled
}
