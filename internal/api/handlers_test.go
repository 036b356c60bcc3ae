package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"virtualgo/internal/auth"
	"virtualgo/internal/chat"
	"virtualgo/internal/config"
	"virtualgo/internal/llm"
	"virtualgo/internal/memory"
	"virtualgo/internal/models"
	"virtualgo/internal/redis"
	"virtualgo/internal/session"
	"virtualgo/internal/storage"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.entries == nil {
		m.entries = make(map[string]string)
	}
	m.entries[key] = value.(string)
	return nil
}

func (m *memoryCache) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.entries[key]
	if !ok {
		return "", redis.ErrCacheMiss
	}
	return value, nil
}

func (m *memoryCache) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.entries, key)
	}
	return nil
}

type cannedClient struct{}

func (cannedClient) Generate(_ context.Context, _ string, _ []models.Message, utterance string) (*llm.Reply, error) {
	return &llm.Reply{Content: "echo: " + utterance}, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	sessions := session.NewStore(&memoryCache{}, time.Hour)
	authService := auth.NewService(db, sessions)
	store := memory.NewStore(db, nil, nil)
	dir := memory.NewDirectory(db, nil)
	chatService := chat.NewService(store, dir, cannedClient{}, nil)

	router := gin.New()
	NewHandler(authService, chatService).RegisterRoutes(router)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

type authCreds struct {
	userID string
	token  string
}

func registerUser(t *testing.T, router *gin.Engine, username string) authCreds {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/auth/register",
		map[string]string{"username": username, "password": "secret"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
		User  struct {
			ID json.Number `json:"id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode register response: %v", err)
	}
	return authCreds{userID: resp.User.ID.String(), token: resp.Token}
}

func (a authCreds) header() http.Header {
	h := http.Header{}
	h.Set("X-User-ID", a.userID)
	h.Set("Authorization", "Bearer "+a.token)
	return h
}

func TestChatFlowOverHTTP(t *testing.T) {
	router := newTestRouter(t)
	creds := registerUser(t, router, "alice")

	rec := doJSON(t, router, http.MethodPost, "/api/chat/send",
		map[string]string{"message": "hi", "agentId": "mecha"}, creds.header())
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d, body %s", rec.Code, rec.Body.String())
	}
	var sent struct {
		Reply          string `json:"reply"`
		ConversationID string `json:"conversationId"`
		AgentID        string `json:"agentId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode send response: %v", err)
	}
	if sent.Reply != "echo: hi" || sent.ConversationID == "" || sent.AgentID != "mecha" {
		t.Fatalf("unexpected send response: %+v", sent)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/chat/history?agentId=mecha", nil, creds.header())
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d, body %s", rec.Code, rec.Body.String())
	}
	var hist struct {
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &hist); err != nil {
		t.Fatalf("decode history response: %v", err)
	}
	if hist.ConversationID != sent.ConversationID {
		t.Fatalf("history conversation id = %q, want %q", hist.ConversationID, sent.ConversationID)
	}
	if len(hist.Messages) != 2 {
		t.Fatalf("history length = %d, want 2", len(hist.Messages))
	}
	if hist.Messages[0].Role != "user" || hist.Messages[0].Content != "hi" {
		t.Fatalf("unexpected first message: %+v", hist.Messages[0])
	}
	if hist.Messages[1].Role != "assistant" || hist.Messages[1].Content != "echo: hi" {
		t.Fatalf("unexpected second message: %+v", hist.Messages[1])
	}
}

func TestSendRejectsEmptyMessage(t *testing.T) {
	router := newTestRouter(t)
	creds := registerUser(t, router, "alice")

	rec := doJSON(t, router, http.MethodPost, "/api/chat/send",
		map[string]string{"message": "   ", "agentId": "mecha"}, creds.header())
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty message status = %d, want 400", rec.Code)
	}
}

func TestAuthRequiredOnChatRoutes(t *testing.T) {
	router := newTestRouter(t)

	rec := doJSON(t, router, http.MethodPost, "/api/chat/send",
		map[string]string{"message": "hi"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated send status = %d, want 401", rec.Code)
	}

	creds := registerUser(t, router, "alice")
	bad := creds
	bad.token = "forged"
	rec = doJSON(t, router, http.MethodPost, "/api/chat/send",
		map[string]string{"message": "hi"}, bad.header())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("forged token status = %d, want 401", rec.Code)
	}
}

func TestLogoutInvalidatesToken(t *testing.T) {
	router := newTestRouter(t)
	creds := registerUser(t, router, "alice")

	rec := doJSON(t, router, http.MethodPost, "/api/auth/logout", nil, creds.header())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/chat/history", nil, creds.header())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("post-logout status = %d, want 401", rec.Code)
	}
}

func TestReloginInvalidatesOldToken(t *testing.T) {
	router := newTestRouter(t)
	creds := registerUser(t, router, "alice")

	rec := doJSON(t, router, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "alice", "password": "secret"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodGet, "/api/chat/history", nil, creds.header())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("old token after re-login status = %d, want 401", rec.Code)
	}
}

func TestAdminConversationRoutes(t *testing.T) {
	router := newTestRouter(t)
	creds := registerUser(t, router, "alice")

	rec := doJSON(t, router, http.MethodPost, "/api/chat/send",
		map[string]string{"message": "hi", "agentId": "fairy"}, creds.header())
	if rec.Code != http.StatusOK {
		t.Fatalf("send status = %d", rec.Code)
	}
	var sent struct {
		ConversationID string `json:"conversationId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sent); err != nil {
		t.Fatalf("decode send response: %v", err)
	}

	rec = doJSON(t, router, http.MethodGet, "/api/admin/conversations", nil, creds.header())
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listed struct {
		ConversationIDs []string `json:"conversationIds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listed.ConversationIDs) != 1 || listed.ConversationIDs[0] != sent.ConversationID {
		t.Fatalf("unexpected conversation list: %v", listed.ConversationIDs)
	}

	rec = doJSON(t, router, http.MethodPost, "/api/admin/conversations/"+sent.ConversationID+"/stamp",
		map[string]string{"userId": creds.userID, "agentId": "fairy"}, creds.header())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("stamp status = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, router, http.MethodDelete, "/api/admin/conversations/"+sent.ConversationID, nil, creds.header())
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodGet, "/api/chat/history?agentId=fairy", nil, creds.header())
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
}
