package llm

import (
	"context"

	"virtualgo/internal/models"
)

// Reply is the outcome of one model invocation.
type Reply struct {
	Content   string
	ToolCalls []models.ToolCall
	Metadata  map[string]any
}

// Client produces a reply for a user utterance given the persona's system
// prompt and the conversation so far. Implementations own prompt assembly and
// provider specifics; callers only persist what comes back.
type Client interface {
	Generate(ctx context.Context, systemPrompt string, history []models.Message, utterance string) (*Reply, error)
}
