package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"virtualgo/internal/auth"
	"virtualgo/internal/chat"
	"virtualgo/internal/memory"
	"virtualgo/internal/models"
	"virtualgo/internal/persona"
)

// Handler wires HTTP routes to the auth and chat services.
type Handler struct {
	auth *auth.Service
	chat *chat.Service
}

func NewHandler(authService *auth.Service, chatService *chat.Service) *Handler {
	return &Handler{auth: authService, chat: chatService}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.POST("/auth/register", h.register)
	api.POST("/auth/login", h.login)

	authed := api.Group("")
	authed.Use(h.auth.Middleware())
	authed.POST("/auth/logout", h.logout)
	authed.POST("/chat/send", h.sendMessage)
	authed.GET("/chat/history", h.getHistory)
	authed.GET("/chat/agents", h.listAgents)
	authed.GET("/admin/conversations", h.listConversations)
	authed.DELETE("/admin/conversations/:id", h.deleteConversation)
	authed.POST("/admin/conversations/:id/stamp", h.stampConversation)
}

type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Nickname string `json:"nickname"`
}

func (h *Handler) register(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, token, err := h.auth.Register(c.Request.Context(), req.Username, req.Password, req.Nickname)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, authResponse(user, token))
}

func (h *Handler) login(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	user, token, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, authResponse(user, token))
}

func (h *Handler) logout(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	if err := h.auth.Logout(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "logout failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

type sendRequest struct {
	Message string `json:"message"`
	AgentID string `json:"agentId"`
}

func (h *Handler) sendMessage(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := h.chat.SendMessage(c.Request.Context(), formatUserID(userID), req.AgentID, req.Message)
	if err != nil {
		if errors.Is(err, chat.ErrEmptyMessage) || errors.Is(err, memory.ErrInvalidIdentity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		// Internal details stay out of the response; the turn can simply be
		// retried.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, please try again"})
		return
	}
	c.JSON(http.StatusOK, result)
}

type historyItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (h *Handler) getHistory(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	agentID := c.DefaultQuery("agentId", persona.DefaultAgentID)

	messages, conversationID, err := h.chat.History(c.Request.Context(), formatUserID(userID), agentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, please try again"})
		return
	}

	items := make([]historyItem, 0, len(messages))
	for _, msg := range messages {
		items = append(items, historyItem{Role: string(msg.Role()), Content: msg.Text()})
	}
	c.JSON(http.StatusOK, gin.H{
		"messages":       items,
		"conversationId": conversationID,
		"agentId":        agentID,
	})
}

func (h *Handler) listAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": persona.AgentIDs()})
}

func (h *Handler) listConversations(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	ids, err := h.chat.ListConversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, please try again"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversationIds": ids})
}

func (h *Handler) deleteConversation(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	if err := h.chat.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, please try again"})
		return
	}
	c.Status(http.StatusNoContent)
}

type stampRequest struct {
	UserID  string `json:"userId"`
	AgentID string `json:"agentId"`
}

func (h *Handler) stampConversation(c *gin.Context) {
	if _, ok := h.authorizedUserID(c); !ok {
		return
	}
	var req stampRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.chat.StampIdentity(c.Request.Context(), c.Param("id"), req.UserID, req.AgentID); err != nil {
		if errors.Is(err, memory.ErrInvalidIdentity) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, please try again"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) authorizedUserID(c *gin.Context) (int64, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return 0, false
	}
	return userID, true
}

func authResponse(user *models.User, token string) gin.H {
	return gin.H{
		"token": token,
		"user": gin.H{
			"id":       user.ID,
			"username": user.Username,
			"nickname": user.Nickname,
		},
	}
}

func formatUserID(userID int64) string {
	return strconv.FormatInt(userID, 10)
}
