package shared

import (
	"time"
)

// TokenUsage tracks the tokens consumed by a request.
type TokenUsage struct {
	PromptTokens     int    `json:"promptTokens"`
	CompletionTokens int    `json:"completionTokens"`
	TotalTokens      int    `json:"totalTokens"`
	Model            string `json:"model,omitempty"`
}

// Add accumulates another usage record into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	if u.Model == "" {
		u.Model = other.Model
	}
}

// StageMeta holds operational metadata for one generation stage
// (a planning chunk, the grocery consolidation, the restaurant selection).
type StageMeta struct {
	Stage    string        `json:"stage"`
	Pipeline string        `json:"pipeline"`
	Usage    TokenUsage    `json:"usage"`
	Latency  time.Duration `json:"latency"`
	Attempts int           `json:"attempts"`
	Success  bool          `json:"success"`
}
