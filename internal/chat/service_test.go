package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"virtualgo/internal/config"
	"virtualgo/internal/llm"
	"virtualgo/internal/memory"
	"virtualgo/internal/models"
	"virtualgo/internal/storage"
)

// scriptedClient replies with a canned line per call, recording what it was
// asked.
type scriptedClient struct {
	calls       int
	lastPrompt  string
	lastHistory []models.Message
	err         error
}

func (c *scriptedClient) Generate(_ context.Context, systemPrompt string, history []models.Message, utterance string) (*llm.Reply, error) {
	c.calls++
	c.lastPrompt = systemPrompt
	c.lastHistory = history
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Reply{Content: fmt.Sprintf("reply %d to %q", c.calls, utterance)}, nil
}

func newTestService(t *testing.T) (*Service, *scriptedClient, *sql.DB) {
	t.Helper()
	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: ":memory:"},
	}}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	client := &scriptedClient{}
	store := memory.NewStore(db, nil, nil)
	dir := memory.NewDirectory(db, nil)
	return NewService(store, dir, client, nil), client, db
}

func TestSendMessagePersistsAcrossTurns(t *testing.T) {
	svc, client, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.SendMessage(ctx, "u1", "mecha", "hi")
	if err != nil {
		t.Fatalf("first turn: %v", err)
	}
	if first.ConversationID == "" {
		t.Fatal("first turn must mint a conversation id")
	}
	if len(client.lastHistory) != 0 {
		t.Fatalf("first turn must see empty history, got %d messages", len(client.lastHistory))
	}

	second, err := svc.SendMessage(ctx, "u1", "mecha", "how are you")
	if err != nil {
		t.Fatalf("second turn: %v", err)
	}
	if second.ConversationID != first.ConversationID {
		t.Fatalf("same pair must reuse the conversation: %q vs %q",
			second.ConversationID, first.ConversationID)
	}

	// The second turn's model call sees the first turn's two messages.
	if len(client.lastHistory) != 2 {
		t.Fatalf("second turn history length = %d, want 2", len(client.lastHistory))
	}
	if client.lastHistory[0].Text() != "hi" {
		t.Fatalf("history[0] = %q, want the first utterance", client.lastHistory[0].Text())
	}

	visible, conversationID, err := svc.History(ctx, "u1", "mecha")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if conversationID != first.ConversationID {
		t.Fatalf("history conversation id = %q, want %q", conversationID, first.ConversationID)
	}
	if len(visible) != 4 {
		t.Fatalf("stored history length = %d, want 4", len(visible))
	}
	if visible[0].Text() != "hi" || visible[1].Text() != first.Reply {
		t.Fatal("earlier turns must survive later turns unchanged")
	}
}

func TestSendMessageUsesPersonaPrompt(t *testing.T) {
	svc, client, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, "u1", "fairy", "hello"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	fairyPrompt := client.lastPrompt

	if _, err := svc.SendMessage(ctx, "u1", "", "hello"); err != nil {
		t.Fatalf("turn: %v", err)
	}
	if client.lastPrompt == fairyPrompt {
		t.Fatal("unknown agent must fall back to a different persona prompt")
	}
}

func TestSendMessageRejectsEmptyUtterance(t *testing.T) {
	svc, _, _ := newTestService(t)

	if _, err := svc.SendMessage(context.Background(), "u1", "mecha", "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("blank utterance error = %v, want ErrEmptyMessage", err)
	}
}

func TestSendMessageModelFailureLeavesHistoryUntouched(t *testing.T) {
	svc, client, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.SendMessage(ctx, "u1", "mecha", "hi"); err != nil {
		t.Fatalf("first turn: %v", err)
	}

	client.err = errors.New("model unavailable")
	if _, err := svc.SendMessage(ctx, "u1", "mecha", "again"); err == nil {
		t.Fatal("model failure must fail the turn")
	}
	client.err = nil

	visible, _, err := svc.History(ctx, "u1", "mecha")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(visible) != 2 {
		t.Fatalf("failed turn must not extend history: length = %d, want 2", len(visible))
	}
}

func TestHistoryFiltersNonChatRoles(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	conversationID, err := svc.ResolveOrCreateConversation(ctx, "u1", "mecha")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	err = svc.AppendTurn(ctx, conversationID, []models.Message{
		models.SystemMessage{Content: "you are a robot"},
		models.UserMessage{Content: "hi"},
		models.AssistantMessage{Content: "hello", ToolCalls: []models.ToolCall{{ID: "c1", Name: "search"}}},
		models.ToolResultMessage{Responses: []models.ToolResponse{{ID: "c1", ResponseData: "{}"}}},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	visible, _, err := svc.History(ctx, "u1", "mecha")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(visible) != 2 {
		t.Fatalf("visible history length = %d, want 2", len(visible))
	}
	if visible[0].Role() != models.RoleUser || visible[1].Role() != models.RoleAssistant {
		t.Fatal("only user and assistant messages are shown")
	}
}

func TestHistoryUnknownPair(t *testing.T) {
	svc, _, _ := newTestService(t)

	visible, conversationID, err := svc.History(context.Background(), "nobody", "mecha")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if visible != nil || conversationID != "" {
		t.Fatalf("unknown pair must yield empty history, got %v / %q", visible, conversationID)
	}
}

func TestHistoryDegradesOnCorruptRecord(t *testing.T) {
	svc, _, db := newTestService(t)
	ctx := context.Background()

	conversationID, err := svc.ResolveOrCreateConversation(ctx, "u1", "mecha")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`UPDATE chat_memory SET messages = ? WHERE conversation_id = ?`,
		"not json at all", conversationID,
	); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	visible, gotID, err := svc.History(ctx, "u1", "mecha")
	if err != nil {
		t.Fatalf("history over corrupt record: %v", err)
	}
	if len(visible) != 0 {
		t.Fatalf("corrupt record must degrade to empty history, got %d messages", len(visible))
	}
	if gotID != conversationID {
		t.Fatalf("conversation id must still be reported, got %q", gotID)
	}
}

func TestDeleteConversationIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.SendMessage(ctx, "u1", "mecha", "hi")
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if err := svc.DeleteConversation(ctx, result.ConversationID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteConversation(ctx, result.ConversationID); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}

	ids, err := svc.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("conversation list should be empty, got %v", ids)
	}
}
