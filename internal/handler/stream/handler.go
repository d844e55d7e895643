package stream

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	chathandler "github.com/welnecker/roleplay/backend/internal/handler/chat"
	"github.com/welnecker/roleplay/backend/internal/handler/httperr"
	chatService "github.com/welnecker/roleplay/backend/internal/service/chat"
	"github.com/welnecker/roleplay/backend/pkg/utils"
)

// DefaultHeartbeat is how often a waiting stream is told generation is still running.
const DefaultHeartbeat = 8 * time.Second

// Handler manages chat turns delivered via Server-Sent Events
type Handler struct {
	generator chathandler.Generator
	logger    *zap.Logger
	Heartbeat time.Duration
}

// New creates a new stream handler
func New(generator chathandler.Generator, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{generator: generator, logger: logger.Named("sse"), Heartbeat: DefaultHeartbeat}
}

// RegisterRoutes 注册流式路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/stream", h.handleStream)
}

// Event is the payload of every SSE event.
type Event struct {
	Identity string              `json:"identity,omitempty"`
	Result   *chatService.Result `json:"result,omitempty"`
	Status   int                 `json:"status,omitempty"`
	Error    string              `json:"error,omitempty"`
	Time     string              `json:"time,omitempty"`
}

type outcome struct {
	res *chatService.Result
	err error
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	q := r.URL.Query()
	payload := chathandler.Payload{
		User:      q.Get("user"),
		Character: q.Get("character"),
		Model:     q.Get("model"),
		Message:   q.Get("message"),
	}
	req, err := payload.Request()
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	if req.User == "" || req.Message == "" {
		utils.RespondError(w, http.StatusBadRequest, "user and message query parameters are required")
		return
	}

	utils.SetupSSEHeaders(w)
	ctx := r.Context()
	if err := utils.SendSSEEvent(w, flusher, "start", Event{Identity: req.User}); err != nil {
		return
	}

	done := make(chan outcome, 1)
	go func() {
		res, err := h.generator.Generate(ctx, req)
		done <- outcome{res: res, err: err}
	}()

	ticker := time.NewTicker(h.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("client went away", zap.String("user", req.User))
			return
		case t := <-ticker.C:
			_ = utils.SendSSEEvent(w, flusher, "heartbeat", Event{Time: t.UTC().Format(time.RFC3339)})
		case out := <-done:
			h.finish(ctx, w, flusher, out)
			return
		}
	}
}

func (h *Handler) finish(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, out outcome) {
	if out.err != nil {
		h.logger.Warn("stream generation failed", zap.Error(out.err))
		_ = utils.SendSSEEvent(w, flusher, "error", Event{Status: httperr.Status(out.err), Error: out.err.Error()})
		return
	}
	if ctx.Err() != nil {
		return
	}
	_ = utils.SendSSEEvent(w, flusher, "message", Event{Identity: out.res.Identity, Result: out.res})
	_ = utils.SendSSEEvent(w, flusher, "end", Event{Identity: out.res.Identity})
}
