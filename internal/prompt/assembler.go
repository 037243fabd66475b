// Package prompt builds the ordered turn list sent to the completion
// provider.
package prompt

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"github.com/emberchat/companion-api/internal/llm"
	"github.com/emberchat/companion-api/internal/model"
)

// DefaultPersona is the system prompt used when a companion has none.
const DefaultPersona = "You are a flirty, charming AI companion with a playful personality. " +
	"You enjoy light-hearted banter, compliments, and making the user feel special. " +
	"You're intelligent, witty, and a bit cheeky, but always respectful and appropriate. " +
	"You remember previous conversations and reference them naturally. " +
	"Your responses should be engaging, warm, and occasionally suggestive in a tasteful way. " +
	"You aim to build a genuine connection while being helpful and entertaining."

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the cl100k_base tokenizer, a reasonable approximation for
// the served models.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// estimateTokens returns an approximate token count, falling back to a
// character heuristic if the codec is unavailable.
func estimateTokens(text string) int {
	c, err := getCodec()
	if err != nil {
		return len(text) / 4
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// Assembler builds prompts from a persona and persisted history. The history
// bound and token budget cap upstream request size; this is a deliberate
// lossy-context policy, with no summarization or long-term memory.
type Assembler struct {
	historyLimit int
	tokenBudget  int
}

// NewAssembler creates an assembler. Non-positive arguments select the
// defaults (20 messages, 6000 tokens).
func NewAssembler(historyLimit, tokenBudget int) *Assembler {
	if historyLimit <= 0 {
		historyLimit = 20
	}
	if tokenBudget <= 0 {
		tokenBudget = 6000
	}
	return &Assembler{
		historyLimit: historyLimit,
		tokenBudget:  tokenBudget,
	}
}

// HistoryLimit returns the maximum number of history messages consumed.
func (a *Assembler) HistoryLimit() int {
	return a.historyLimit
}

// Assemble returns the ordered turn list: one persona system turn, up to the
// history bound of persisted messages (oldest first), then the new user turn.
// The persona turn and the new user turn are never dropped; history is
// trimmed oldest-first until the token budget holds.
func (a *Assembler) Assemble(persona string, history []model.Message, userContent string) []llm.ChatMessage {
	if persona == "" {
		persona = DefaultPersona
	}

	if len(history) > a.historyLimit {
		history = history[len(history)-a.historyLimit:]
	}

	budget := a.tokenBudget - estimateTokens(persona) - estimateTokens(userContent)
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := estimateTokens(history[i].Content)
		if used+cost > budget {
			break
		}
		used += cost
		start = i
	}
	history = history[start:]

	turns := make([]llm.ChatMessage, 0, len(history)+2)
	turns = append(turns, llm.ChatMessage{Role: string(model.RoleSystem), Content: persona})
	for _, msg := range history {
		turns = append(turns, llm.ChatMessage{Role: string(msg.Role()), Content: msg.Content})
	}
	turns = append(turns, llm.ChatMessage{Role: string(model.RoleUser), Content: userContent})

	return turns
}
