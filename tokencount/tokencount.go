// Package tokencount adapts llm/tokenizer's tiktoken-backed counter to the
// gateway's two operations (spec §4.3): countChat and countText, both
// falling back to ceil(len/4) (never less than 1) when the primary
// tokenizer cannot be constructed or fails to encode.
package tokencount

import (
	"math"

	"github.com/dban0001/llmgateway/llm/tokenizer"
	"github.com/dban0001/llmgateway/types"
)

// Adapter counts tokens for a model, using tiktoken where possible.
type Adapter struct{}

// New returns a ready-to-use Adapter. Tokenizer construction happens
// per-call (tiktoken encodings are cached internally and lazily loaded via
// sync.Once), so Adapter itself holds no state.
func New() *Adapter {
	return &Adapter{}
}

// CountChat counts tokens across a full message list for modelID, including
// per-message role/separator overhead. estimated is true iff the fallback
// character-ratio was used instead of the primary tokenizer.
func (a *Adapter) CountChat(modelID string, messages []types.Message) (count int, estimated bool) {
	tk, err := tokenizer.NewTiktokenTokenizer(modelID)
	if err == nil {
		msgs := make([]tokenizer.Message, len(messages))
		for i, m := range messages {
			msgs[i] = tokenizer.Message{Role: string(m.Role), Content: m.Content}
		}
		if n, err := tk.CountMessages(msgs); err == nil {
			return n, false
		}
	}
	total := 0
	for _, m := range messages {
		total += fallbackCount(m.Content)
	}
	return total, true
}

// CountText counts tokens in a single string for modelID. estimated is true
// iff the fallback character-ratio was used.
func (a *Adapter) CountText(modelID, text string) (count int, estimated bool) {
	tk, err := tokenizer.NewTiktokenTokenizer(modelID)
	if err == nil {
		if n, err := tk.CountTokens(text); err == nil {
			return n, false
		}
	}
	return fallbackCount(text), true
}

// fallbackCount is ceil(len(text)/4), never less than 1 for non-empty text
// and exactly 0 for empty text (no token overhead to impute).
func fallbackCount(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := int(math.Ceil(float64(len(text)) / 4.0))
	if n < 1 {
		n = 1
	}
	return n
}
