package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultCallTimeout bounds one outbound completion call.
const DefaultCallTimeout = 90 * time.Second

// RouterConfig is the immutable routing setup.
type RouterConfig struct {
	// DefaultProvider receives every identifier without a known prefix tag.
	DefaultProvider string
	// DefaultModel is used when the caller passes no identifier.
	DefaultModel string
	CallTimeout  time.Duration
}

// Router maps a model identifier to one provider. A leading "name/" segment
// selects the provider of that name; everything else, including ids that
// contain slashes of their own, goes to the default provider untouched.
type Router struct {
	providers map[string]Provider
	cfg       RouterConfig
	logger    *zap.Logger
}

// NewRouter registers providers by name.
func NewRouter(cfg RouterConfig, logger *zap.Logger, providers ...Provider) (*Router, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	cfg.DefaultProvider = strings.ToLower(strings.TrimSpace(cfg.DefaultProvider))

	byName := make(map[string]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		name := strings.ToLower(p.Name())
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("provider %q registered twice", name)
		}
		byName[name] = p
	}
	if cfg.DefaultProvider != "" {
		if _, ok := byName[cfg.DefaultProvider]; !ok {
			return nil, fmt.Errorf("%w: default provider %q is not registered", ErrNoProvider, cfg.DefaultProvider)
		}
	}
	return &Router{providers: byName, cfg: cfg, logger: logger.Named("router")}, nil
}

// Resolve returns the provider and the model id it should receive.
func (r *Router) Resolve(modelIdentifier string) (Provider, string, error) {
	id := strings.TrimSpace(modelIdentifier)
	if id == "" {
		id = r.cfg.DefaultModel
	}
	if prefix, rest, ok := strings.Cut(id, "/"); ok {
		if p, known := r.providers[strings.ToLower(prefix)]; known {
			if rest == "" {
				return nil, "", fmt.Errorf("%w: empty model after %q", ErrNoProvider, prefix)
			}
			return p, rest, nil
		}
	}
	p, ok := r.providers[r.cfg.DefaultProvider]
	if !ok {
		return nil, "", fmt.Errorf("%w for %q", ErrNoProvider, id)
	}
	if id == "" {
		return nil, "", fmt.Errorf("%w: no model given", ErrNoProvider)
	}
	return p, id, nil
}

// ProviderFor names the backend an identifier would be routed to.
func (r *Router) ProviderFor(modelIdentifier string) (string, error) {
	p, _, err := r.Resolve(modelIdentifier)
	if err != nil {
		return "", err
	}
	return p.Name(), nil
}

// Chat sends the request to the single resolved provider.
func (r *Router) Chat(ctx context.Context, modelIdentifier string, req Request) (*Completion, error) {
	p, model, err := r.Resolve(modelIdentifier)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	started := time.Now()
	content, err := p.Complete(callCtx, model, req)
	if err == nil && strings.TrimSpace(content) == "" {
		err = ErrEmptyCompletion
	}
	if err != nil {
		var perr *ProviderError
		if !errors.As(err, &perr) {
			perr = &ProviderError{Provider: p.Name(), Model: model, Attempts: 1, Err: err}
		}
		r.logger.Warn("completion failed",
			zap.String("provider", p.Name()),
			zap.String("model", model),
			zap.Error(err))
		return nil, perr
	}

	r.logger.Debug("completion",
		zap.String("provider", p.Name()),
		zap.String("model", model),
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("length", len(content)))
	return &Completion{Content: content, Model: model, Provider: p.Name()}, nil
}

// Providers lists registered provider names.
func (r *Router) Providers() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
