// Package identity exposes the stored memory of one (user, character) pair
// for inspection and repair.
package identity

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/welnecker/roleplay/backend/internal/handler/httperr"
	"github.com/welnecker/roleplay/backend/internal/model/canon"
	"github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
	canonsvc "github.com/welnecker/roleplay/backend/internal/service/canon"
	"github.com/welnecker/roleplay/backend/internal/service/session"
	"github.com/welnecker/roleplay/backend/internal/store"
	"github.com/welnecker/roleplay/backend/pkg/utils"
)

const adminSource = "admin"

// ProviderResolver names the provider a model identifier routes to.
type ProviderResolver interface {
	ProviderFor(modelIdentifier string) (string, error)
}

// Handler 身份数据管理处理器
type Handler struct {
	repo      store.Repository
	canon     *canonsvc.Service
	providers ProviderResolver
	locker    session.Locker
	logger    *zap.Logger
}

// New 创建身份管理处理器。providers 可以为 nil。
func New(repo store.Repository, canon *canonsvc.Service, providers ProviderResolver, locker session.Locker, logger *zap.Logger) *Handler {
	if locker == nil {
		locker = session.NewKeyedMutex()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, canon: canon, providers: providers, locker: locker, logger: logger.Named("identity")}
}

// RegisterRoutes 注册身份相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/identities/{user}/{character}", func(r chi.Router) {
		r.Delete("/", h.locked(h.handleDeleteAll))
		r.Get("/status", h.read(h.handleStatus))

		r.Get("/facts", h.read(h.handleListFacts))
		r.Put("/facts/{key}", h.locked(h.handleSetFact))
		r.Delete("/facts/{key}", h.locked(h.handleDeleteFact))

		r.Get("/events", h.read(h.handleListEvents))
		r.Post("/events", h.locked(h.handleRegisterEvent))
		r.Delete("/events/{eventID}", h.locked(h.handleDeleteEvent))

		r.Get("/history", h.read(h.handleListHistory))
		r.Delete("/history", h.locked(h.handleDeleteHistory))
		r.Delete("/history/last", h.locked(h.handleDeleteLast))

		r.Post("/nsfw/reset", h.locked(h.handleResetNSFW))
		r.Post("/nsfw/enable", h.locked(h.handleEnableNSFW))
	})
}

type identityHandler func(w http.ResponseWriter, r *http.Request, id chat.Identity)

func identityFrom(r *http.Request) (chat.Identity, error) {
	c, err := persona.ParseCharacter(chi.URLParam(r, "character"))
	if err != nil {
		return chat.Identity{}, err
	}
	return chat.NewIdentity(chi.URLParam(r, "user"), c)
}

// read resolves the identity only.
func (h *Handler) read(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := identityFrom(r)
		if err != nil {
			httperr.Respond(w, err)
			return
		}
		next(w, r, id)
	}
}

// locked serializes a mutation with generation cycles of the same identity.
func (h *Handler) locked(next identityHandler) http.HandlerFunc {
	return h.read(func(w http.ResponseWriter, r *http.Request, id chat.Identity) {
		unlock, err := h.locker.Lock(r.Context(), id.NormalizedKey())
		if err != nil {
			httperr.Respond(w, err)
			return
		}
		defer unlock()
		next(w, r, id)
	})
}

func limitFrom(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	status, err := h.canon.Status(r.Context(), id)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	body := map[string]any{
		"identity": status.Identity,
		"location": status.Location,
		"nsfw":     status.NSFW,
		"facts":    status.Facts,
	}
	if model := strings.TrimSpace(r.URL.Query().Get("model")); model != "" && h.providers != nil {
		name, err := h.providers.ProviderFor(model)
		if err != nil {
			httperr.Respond(w, err)
			return
		}
		body["provider"] = name
	}
	utils.RespondJSON(w, http.StatusOK, body)
}

func (h *Handler) handleListFacts(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	facts, err := h.repo.ListFacts(r.Context(), id)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, facts)
}

func (h *Handler) handleSetFact(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	var payload struct {
		Value any `json:"value"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil || payload.Value == nil {
		utils.RespondError(w, http.StatusBadRequest, "value is required")
		return
	}
	key := chi.URLParam(r, "key")
	if err := h.repo.SetFact(r.Context(), id, key, payload.Value, canon.NewMeta(adminSource)); err != nil {
		httperr.Respond(w, err)
		return
	}
	h.logger.Info("fact set", zap.String("identity", id.Key()), zap.String("key", key))
	utils.RespondJSON(w, http.StatusOK, canon.Fact{Key: key, Value: payload.Value})
}

func (h *Handler) handleDeleteFact(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	removed, err := h.repo.DeleteFact(r.Context(), id, chi.URLParam(r, "key"))
	respondRemoved(w, removed, err)
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	events, err := h.repo.ListEvents(r.Context(), id, limitFrom(r))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, events)
}

func (h *Handler) handleRegisterEvent(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	var payload struct {
		Type        string   `json:"type"`
		Description string   `json:"description"`
		Location    string   `json:"location"`
		Tags        []string `json:"tags"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Type) == "" {
		utils.RespondError(w, http.StatusBadRequest, "type is required")
		return
	}
	ev, err := h.repo.RegisterEvent(r.Context(), id, canon.Event{
		Type:        strings.TrimSpace(payload.Type),
		Description: payload.Description,
		Location:    payload.Location,
		Tags:        payload.Tags,
		Meta:        map[string]any{"source": adminSource},
	})
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusCreated, ev)
}

func (h *Handler) handleDeleteEvent(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	removed, err := h.repo.DeleteEvent(r.Context(), id, chi.URLParam(r, "eventID"))
	respondRemoved(w, removed, err)
}

func (h *Handler) handleListHistory(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	items, err := h.repo.ListInteractions(r.Context(), id, limitFrom(r))
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, items)
}

func (h *Handler) handleDeleteHistory(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	n, err := h.repo.DeleteHistory(r.Context(), id)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]int64{"deleted": n})
}

func (h *Handler) handleDeleteLast(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	removed, err := h.repo.DeleteLastInteraction(r.Context(), id)
	respondRemoved(w, removed, err)
}

func (h *Handler) handleDeleteAll(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	counts, err := h.repo.DeleteAllUserData(r.Context(), id)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	h.logger.Info("identity purged", zap.String("identity", id.Key()), zap.Any("counts", counts))
	utils.RespondJSON(w, http.StatusOK, counts)
}

func (h *Handler) handleResetNSFW(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	reset, err := h.repo.ResetNSFW(r.Context(), id)
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, map[string]bool{"reset": reset})
}

func (h *Handler) handleEnableNSFW(w http.ResponseWriter, r *http.Request, id chat.Identity) {
	if err := h.repo.EnableNSFW(r.Context(), id); err != nil {
		httperr.Respond(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func respondRemoved(w http.ResponseWriter, removed bool, err error) {
	if err != nil {
		httperr.Respond(w, err)
		return
	}
	if !removed {
		utils.RespondError(w, http.StatusNotFound, "not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
