// Package provider routes completion requests to exactly one backend.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"
)

// Params are the generation parameters fixed for one call.
type Params struct {
	Temperature float32
	MaxTokens   int
	TopP        float32
}

// Request is a fully assembled prompt.
type Request struct {
	Messages []*schema.Message
	Params   Params
}

// Completion is the text returned by a provider.
type Completion struct {
	Content  string
	Model    string
	Provider string
}

// ModelUsed renders the "provider:model" tag persisted with an interaction.
func (c *Completion) ModelUsed() string {
	return c.Provider + ":" + c.Model
}

// Provider is one completion backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, model string, req Request) (string, error)
}

var (
	// ErrEmptyCompletion is reported when a backend answers with no text.
	ErrEmptyCompletion = errors.New("empty completion")
	// ErrNoProvider is returned when the router cannot resolve a backend.
	ErrNoProvider = errors.New("no provider available")
)

// ProviderError describes a failed completion. It is never retried against
// another provider.
type ProviderError struct {
	Provider   string
	Model      string
	StatusCode int
	Attempts   int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("provider %s model %s", e.Provider, e.Model)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status %d", e.StatusCode)
	}
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProviderError) Unwrap() error { return e.Err }
