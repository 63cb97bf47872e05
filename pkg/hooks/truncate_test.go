package hooks

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTruncateField_UnderLimitUnchanged(t *testing.T) {
	raw := json.RawMessage(`{"command":"ls -la"}`)
	assert.Equal(t, raw, truncateField(raw))
}

func TestTruncateField_OverLimitWrapsInEnvelope(t *testing.T) {
	big := strings.Repeat("x", postToolUseTruncateLimit+500)
	raw := json.RawMessage(`"` + big + `"`)

	got := truncateField(raw)

	var envelope truncatedEnvelope
	require.NoError(t, json.Unmarshal(got, &envelope))
	assert.True(t, envelope.Truncated)
	assert.Equal(t, len(raw), envelope.Length)
	assert.Len(t, envelope.Preview, postToolUseTruncateLimit/2)
}
