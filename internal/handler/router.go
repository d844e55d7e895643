package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/welnecker/roleplay/backend/internal/handler/chat"
	"github.com/welnecker/roleplay/backend/internal/handler/identity"
	"github.com/welnecker/roleplay/backend/internal/handler/persona"
	"github.com/welnecker/roleplay/backend/internal/handler/stream"
	"github.com/welnecker/roleplay/backend/internal/handler/ws"
	middlewarePkg "github.com/welnecker/roleplay/backend/internal/middleware"
	personaModel "github.com/welnecker/roleplay/backend/internal/model/persona"
	canonService "github.com/welnecker/roleplay/backend/internal/service/canon"
	"github.com/welnecker/roleplay/backend/internal/service/session"
	"github.com/welnecker/roleplay/backend/internal/store"
	"github.com/welnecker/roleplay/backend/pkg/utils"
)

// Dependencies are the services behind the HTTP surface.
type Dependencies struct {
	Personas  personaModel.Store
	Generator chat.Generator
	Store     store.Repository
	Canon     *canonService.Service
	Providers identity.ProviderResolver
	Locker    session.Locker
	Logger    *zap.Logger
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.Logger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(api chi.Router) {
		persona.New(deps.Personas).RegisterRoutes(api)
		chat.New(deps.Generator).RegisterRoutes(api)
		stream.New(deps.Generator, logger).RegisterRoutes(api)
		ws.New(deps.Generator, logger).RegisterRoutes(api)
		identity.New(deps.Store, deps.Canon, deps.Providers, deps.Locker, logger).RegisterRoutes(api)
	})

	return r
}
