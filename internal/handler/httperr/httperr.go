// Package httperr maps domain errors to HTTP responses.
package httperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
	chatservice "github.com/welnecker/roleplay/backend/internal/service/chat"
	"github.com/welnecker/roleplay/backend/internal/service/provider"
	"github.com/welnecker/roleplay/backend/internal/service/session"
	"github.com/welnecker/roleplay/backend/internal/store"
	"github.com/welnecker/roleplay/backend/pkg/utils"
)

// Status returns the HTTP status for err.
func Status(err error) int {
	var perr *provider.ProviderError
	switch {
	case errors.Is(err, persona.ErrUnknownCharacter),
		errors.Is(err, chat.ErrEmptyUser),
		errors.Is(err, chatservice.ErrEmptyMessage):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrNoProvider):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &perr), errors.Is(err, provider.ErrEmptyCompletion):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrUnavailable), errors.Is(err, session.ErrLockUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err with its mapped status.
func Respond(w http.ResponseWriter, err error) {
	status := Status(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		message = http.StatusText(status)
	}
	utils.RespondError(w, status, message)
}
