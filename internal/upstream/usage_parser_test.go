package upstream

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseUsage(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantFound bool
		wantIn    int
		wantOut   int
		wantTotal int
	}{
		{"openai", `{"usage":{"prompt_tokens":10,"completion_tokens":20,"total_tokens":30}}`, true, 10, 20, 30},
		{"anthropic", `{"usage":{"input_tokens":5,"output_tokens":7}}`, true, 5, 7, 12},
		{"missing usage", `{"choices":[]}`, false, 0, 0, 0},
		{"usage not object", `{"usage":"n/a"}`, false, 0, 0, 0},
		{"not json", `upstream exploded`, false, 0, 0, 0},
		{"negative counts", `{"usage":{"prompt_tokens":-1,"completion_tokens":4}}`, true, 0, 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, found := ParseUsage([]byte(tt.body))
			assert.Equal(t, tt.wantFound, found)
			assert.Equal(t, tt.wantIn, u.InputTokens)
			assert.Equal(t, tt.wantOut, u.OutputTokens)
			assert.Equal(t, tt.wantTotal, u.TotalTokens)
		})
	}
}
