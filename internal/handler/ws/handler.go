package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	chathandler "github.com/welnecker/roleplay/backend/internal/handler/chat"
	"github.com/welnecker/roleplay/backend/internal/handler/httperr"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	writeWait  = 10 * time.Second
)

// Handler WebSocket聊天处理器
type Handler struct {
	generator chathandler.Generator
	logger    *zap.Logger
	upgrader  websocket.Upgrader
}

// New 创建WebSocket处理器
func New(generator chathandler.Generator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		generator: generator,
		logger:    logger.Named("ws"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

type inboundMessage struct {
	Type string `json:"type"`
	// RequestID is echoed back so clients can match replies.
	RequestID string `json:"requestId,omitempty"`
	chathandler.Payload
}

type outgoingMessage struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	RequestID    string `json:"requestId,omitempty"`
	Data         any    `json:"data,omitempty"`
	Error        string `json:"error,omitempty"`
	Status       int    `json:"status,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// handleWebSocket 处理WebSocket连接。每个连接上的消息按顺序处理。
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	logger := h.logger.With(zap.String("conn", connID))
	logger.Info("connection opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go pingLoop(ctx, conn)

	send := func(msg outgoingMessage) bool {
		msg.ConnectionID = connID
		msg.Timestamp = time.Now().Unix()
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			logger.Warn("write failed", zap.Error(err))
			return false
		}
		return true
	}

	if !send(outgoingMessage{Type: "connected"}) {
		return
	}

	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("read error", zap.Error(err))
			}
			logger.Info("connection closed")
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		if !send(h.handleMessage(ctx, &msg)) {
			return
		}
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *inboundMessage) outgoingMessage {
	out := outgoingMessage{RequestID: msg.RequestID}
	if msg.Type != "chat" {
		out.Type = "error"
		out.Status = http.StatusBadRequest
		out.Error = "unsupported message type"
		return out
	}

	fail := func(err error) outgoingMessage {
		out.Type = "error"
		out.Status = httperr.Status(err)
		out.Error = err.Error()
		return out
	}

	req, err := msg.Request()
	if err != nil {
		return fail(err)
	}
	res, err := h.generator.Generate(ctx, req)
	if err != nil {
		h.logger.Warn("generation failed", zap.String("request", msg.RequestID), zap.Error(err))
		return fail(err)
	}
	out.Type = "reply"
	out.Data = res
	return out
}

// pingLoop 定期发送ping消息
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
