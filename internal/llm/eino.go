package llm

import (
	"context"
	"fmt"

	"virtualgo/internal/config"
	"virtualgo/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/flow/agent/react"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

// einoClient drives one configured chat model, optionally through a react
// agent when tools are available.
type einoClient struct {
	chatModel model.ToolCallingChatModel
	agent     *react.Agent
	logger    *zap.Logger
}

// NewEinoClient builds the Client for the configured provider (openai, gemini,
// or claude).
func NewEinoClient(ctx context.Context, provider string, cfg *config.Config, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provCfg, ok := cfg.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("provider %s not configured", provider)
	}

	var (
		chatModel model.ToolCallingChatModel
		err       error
	)
	switch provider {
	case "openai":
		chatModel, err = openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: provCfg.BaseURL,
			Model:   provCfg.Model,
			APIKey:  provCfg.APIKey,
		})
	case "gemini":
		var client *genai.Client
		client, err = genai.NewClient(ctx, &genai.ClientConfig{APIKey: provCfg.APIKey})
		if err != nil {
			return nil, fmt.Errorf("init gemini client: %w", err)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  provCfg.Model,
		})
	case "claude":
		var baseURLPtr *string
		if provCfg.BaseURL != "" {
			baseURLPtr = &provCfg.BaseURL
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    provCfg.APIKey,
			Model:     provCfg.Model,
			BaseURL:   baseURLPtr,
			MaxTokens: 3000,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", provider, err)
	}

	var reactAgent *react.Agent
	if tools := initToolsChain(logger); len(tools) > 0 {
		reactAgent, err = react.NewAgent(ctx, &react.AgentConfig{
			ToolCallingModel: chatModel,
			ToolsConfig: compose.ToolsNodeConfig{
				Tools: tools,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("init react agent: %w", err)
		}
	}

	return &einoClient{chatModel: chatModel, agent: reactAgent, logger: logger}, nil
}

func (c *einoClient) Generate(ctx context.Context, systemPrompt string, history []models.Message, utterance string) (*Reply, error) {
	msgs := make([]*schema.Message, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, schema.SystemMessage(systemPrompt))
	}
	msgs = append(msgs, convertHistory(history)...)
	msgs = append(msgs, schema.UserMessage(utterance))

	var (
		resp *schema.Message
		err  error
	)
	if c.agent != nil {
		resp, err = c.agent.Generate(ctx, msgs)
	} else {
		resp, err = c.chatModel.Generate(ctx, msgs)
	}
	if err != nil {
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	return &Reply{
		Content:   resp.Content,
		ToolCalls: convertToolCalls(resp.ToolCalls),
		Metadata:  responseMetadata(resp),
	}, nil
}

func convertHistory(history []models.Message) []*schema.Message {
	var msgs []*schema.Message
	for _, msg := range history {
		switch m := msg.(type) {
		case models.SystemMessage:
			// Persona instructions are injected fresh each turn; skip the
			// stored copy to avoid doubling them up.
		case models.UserMessage:
			msgs = append(msgs, schema.UserMessage(m.Content))
		case models.AssistantMessage:
			assistant := &schema.Message{
				Role:    schema.Assistant,
				Content: m.Content,
			}
			for _, call := range m.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, schema.ToolCall{
					ID:   call.ID,
					Type: call.Type,
					Function: schema.FunctionCall{
						Name:      call.Name,
						Arguments: call.Arguments,
					},
				})
			}
			msgs = append(msgs, assistant)
		case models.ToolResultMessage:
			for _, resp := range m.Responses {
				msgs = append(msgs, schema.ToolMessage(resp.ResponseData, resp.ID))
			}
		}
	}
	return msgs
}

func convertToolCalls(calls []schema.ToolCall) []models.ToolCall {
	var converted []models.ToolCall
	for _, call := range calls {
		converted = append(converted, models.ToolCall{
			ID:        call.ID,
			Type:      call.Type,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return converted
}

func responseMetadata(resp *schema.Message) map[string]any {
	if resp.ResponseMeta == nil {
		return nil
	}
	meta := make(map[string]any)
	if resp.ResponseMeta.FinishReason != "" {
		meta["finishReason"] = resp.ResponseMeta.FinishReason
	}
	if usage := resp.ResponseMeta.Usage; usage != nil {
		meta["promptTokens"] = usage.PromptTokens
		meta["completionTokens"] = usage.CompletionTokens
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}
