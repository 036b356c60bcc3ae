package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"virtualgo/internal/llm"
	"virtualgo/internal/memory"
	"virtualgo/internal/metrics"
	"virtualgo/internal/models"
	"virtualgo/internal/persona"
	"virtualgo/internal/worker"

	"go.uber.org/zap"
)

// ErrEmptyMessage reports a turn with no utterance.
var ErrEmptyMessage = errors.New("message must not be empty")

// Service runs chat turns: it resolves the conversation identity for a
// (user, agent) pair, feeds the stored history to the model, and persists the
// extended history. Turns on the same conversation are serialized here because
// the store itself is last-write-wins.
type Service struct {
	store  *memory.Store
	dir    *memory.Directory
	client llm.Client
	turns  *worker.KeyedExecutor
	logger *zap.Logger
}

func NewService(store *memory.Store, dir *memory.Directory, client llm.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		dir:    dir,
		client: client,
		turns:  worker.NewKeyedExecutor(),
		logger: logger,
	}
}

// TurnResult is what a completed turn hands back to the caller.
type TurnResult struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId"`
	AgentID        string `json:"agentId"`
}

// ResolveOrCreateConversation returns the conversation id for the pair,
// minting one on first contact.
func (s *Service) ResolveOrCreateConversation(ctx context.Context, userID, agentID string) (string, error) {
	return s.dir.ResolveOrCreate(ctx, userID, normalizeAgent(agentID))
}

// SendMessage runs one full turn. The identity stamp after the upsert is the
// second phase of the two-phase write; its failure degrades the row (the
// directory may miss it until re-stamped) but never fails the user's turn.
func (s *Service) SendMessage(ctx context.Context, userID, agentID, utterance string) (*TurnResult, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, ErrEmptyMessage
	}
	agentID = normalizeAgent(agentID)

	conversationID, err := s.dir.ResolveOrCreate(ctx, userID, agentID)
	if err != nil {
		metrics.TurnsTotal.WithLabelValues(agentID, "error").Inc()
		return nil, err
	}

	var reply *llm.Reply
	err = s.turns.Do(conversationID, func() error {
		history, err := s.store.Load(ctx, conversationID)
		if err != nil {
			return err
		}

		reply, err = s.client.Generate(ctx, persona.SystemPrompt(agentID), history, utterance)
		if err != nil {
			return fmt.Errorf("turn for conversation %s: %w", conversationID, err)
		}

		extended := append(history,
			models.UserMessage{Content: utterance},
			models.AssistantMessage{
				Content:   reply.Content,
				ToolCalls: reply.ToolCalls,
				Metadata:  reply.Metadata,
			},
		)
		return s.store.Upsert(ctx, conversationID, userID, agentID, extended)
	})
	if err != nil {
		metrics.TurnsTotal.WithLabelValues(agentID, "error").Inc()
		return nil, err
	}

	// Second phase: stamp the real identity over any placeholder values.
	// Failures are counted and logged inside Stamp.
	_ = s.dir.Stamp(ctx, conversationID, userID, agentID)

	metrics.TurnsTotal.WithLabelValues(agentID, "ok").Inc()
	return &TurnResult{
		Reply:          reply.Content,
		ConversationID: conversationID,
		AgentID:        agentID,
	}, nil
}

// AppendTurn extends a conversation's history with pre-built messages,
// serialized against concurrent turns on the same conversation.
func (s *Service) AppendTurn(ctx context.Context, conversationID string, newMessages []models.Message) error {
	if conversationID == "" {
		return memory.ErrInvalidIdentity
	}
	if len(newMessages) == 0 {
		return nil
	}
	return s.turns.Do(conversationID, func() error {
		history, err := s.store.Load(ctx, conversationID)
		if err != nil {
			return err
		}
		return s.store.Upsert(ctx, conversationID, "", "", append(history, newMessages...))
	})
}

// History returns the pair's conversation filtered to the user and assistant
// messages shown in a chat view, plus the conversation id ("" when the pair
// has no conversation yet). A corrupt stored record degrades to an empty
// history here; display must not break on old data.
func (s *Service) History(ctx context.Context, userID, agentID string) ([]models.Message, string, error) {
	agentID = normalizeAgent(agentID)
	conversationID, err := s.dir.Resolve(ctx, userID, agentID)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}

	history, err := s.store.Load(ctx, conversationID)
	if err != nil {
		var corrupt *memory.CorruptRecordError
		if errors.As(err, &corrupt) {
			s.logger.Warn("returning empty history for corrupt record",
				zap.String("conversation_id", conversationID))
			return nil, conversationID, nil
		}
		return nil, "", err
	}

	var visible []models.Message
	for _, msg := range history {
		if msg.Role() == models.RoleUser || msg.Role() == models.RoleAssistant {
			visible = append(visible, msg)
		}
	}
	return visible, conversationID, nil
}

// StampIdentity re-runs the identity stamp for a conversation, for operators
// repairing rows left degraded by a stamp failure.
func (s *Service) StampIdentity(ctx context.Context, conversationID, userID, agentID string) error {
	return s.dir.Stamp(ctx, conversationID, userID, normalizeAgent(agentID))
}

// DeleteConversation removes a conversation by identity. Idempotent.
func (s *Service) DeleteConversation(ctx context.Context, conversationID string) error {
	return s.store.Delete(ctx, conversationID)
}

// ListConversations returns every stored conversation id.
func (s *Service) ListConversations(ctx context.Context) ([]string, error) {
	return s.store.ListConversationIDs(ctx)
}

func normalizeAgent(agentID string) string {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return persona.DefaultAgentID
	}
	return agentID
}
