package chat

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/welnecker/roleplay/backend/internal/handler/httperr"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
	chatService "github.com/welnecker/roleplay/backend/internal/service/chat"
	"github.com/welnecker/roleplay/backend/pkg/utils"
)

// Generator runs one generation cycle.
type Generator interface {
	Generate(ctx context.Context, req chatService.Request) (*chatService.Result, error)
}

// Handler 聊天服务的HTTP处理器
type Handler struct {
	generator Generator
}

// New 创建聊天处理器
func New(generator Generator) *Handler {
	return &Handler{generator: generator}
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat", h.handleChat)
}

// Payload is the body of a chat turn, shared by every transport.
type Payload struct {
	User      string `json:"user"`
	Character string `json:"character"`
	Model     string `json:"model"`
	Message   string `json:"message"`
}

// Request validates the payload and resolves the character.
func (p Payload) Request() (chatService.Request, error) {
	c, err := persona.ParseCharacter(p.Character)
	if err != nil {
		return chatService.Request{}, err
	}
	return chatService.Request{
		User:      strings.TrimSpace(p.User),
		Character: c,
		Model:     strings.TrimSpace(p.Model),
		Message:   p.Message,
	}, nil
}

// handleChat 生成一轮回复
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var payload Payload
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req, err := payload.Request()
	if err != nil {
		httperr.Respond(w, err)
		return
	}

	res, err := h.generator.Generate(r.Context(), req)
	if err != nil {
		httperr.Respond(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, res)
}
