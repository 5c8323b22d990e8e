package jsonscan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		shape  Shape
		want   string
		reason Reason
	}{
		{name: "bare object", text: `{"a":1}`, shape: Object, want: `{"a":1}`},
		{name: "fenced", text: "Here you go:\n```json\n{\"match\": true, \"index\": 2}\n```\nThanks", shape: Object, want: `{"match": true, "index": 2}`},
		{name: "brackets in strings", text: `note {"answer": "use } and { and \" carefully", "n": [1, {"x": "]"}]} tail`, shape: Object, want: `{"answer": "use } and { and \" carefully", "n": [1, {"x": "]"}]}`},
		{name: "first balanced wins", text: `{"a":1} {"b":2}`, shape: Object, want: `{"a":1}`},
		{name: "object skips leading citation array", text: `See [1]. {"ok":true}`, shape: Object, want: `{"ok":true}`},
		{name: "any picks array", text: `result: [1,2,3] done`, shape: Any, want: `[1,2,3]`},
		{name: "array shape", text: `{"x":1} then [true]`, shape: Array, want: `[true]`},
		{name: "empty", text: "   \n", shape: Object, reason: ReasonEmpty},
		{name: "prose only", text: "I could not find the answer.", shape: Object, reason: ReasonNoJSON},
		{name: "truncated", text: `{"answer": "the deadline is 12 Ma`, shape: Object, reason: ReasonUnbalanced},
		{name: "mismatched", text: `{"a": [1, 2}`, shape: Object, reason: ReasonMismatched},
		{name: "invalid", text: `{answer: yes}`, shape: Object, reason: ReasonInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Extract(tt.text, tt.shape)
			if tt.reason != "" {
				assert.False(t, got.OK())
				assert.Equal(t, tt.reason, got.Reason)
				return
			}
			require.True(t, got.OK(), "reason=%s excerpt=%s", got.Reason, got.Excerpt)
			assert.Equal(t, tt.want, string(got.JSON))
		})
	}
}

func TestExtractTruncatedExcerptKeepsTail(t *testing.T) {
	text := `{"answer": "` + strings.Repeat("a", 1000) + `END`
	got := Extract(text, Object)
	require.Equal(t, ReasonUnbalanced, got.Reason)
	assert.True(t, strings.HasSuffix(got.Excerpt, "END"))
	assert.True(t, strings.HasPrefix(got.Excerpt, "…"))
}

func TestExtractProseExcerptKeepsHead(t *testing.T) {
	text := "Sorry, " + strings.Repeat("b", 1000)
	got := Extract(text, Object)
	require.Equal(t, ReasonNoJSON, got.Reason)
	assert.True(t, strings.HasPrefix(got.Excerpt, "Sorry, "))
}
