package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
)

const (
	defaultOpenRouterURL = "https://openrouter.ai/api/v1"
	defaultTogetherURL   = "https://api.together.xyz/v1"
)

// HTTPConfig configures an OpenAI-compatible chat completions backend.
type HTTPConfig struct {
	Name    string
	BaseURL string
	APIKey  string
	// SiteURL and AppName are sent as OpenRouter attribution headers.
	SiteURL string
	AppName string
	// MaxAttempts bounds transport-level retries, 3 when unset.
	MaxAttempts int
	// Backoff is the first retry delay; it doubles on each attempt.
	Backoff time.Duration
	Client  *http.Client
}

// HTTPProvider talks to /chat/completions of an OpenAI-compatible API.
type HTTPProvider struct {
	cfg    HTTPConfig
	logger *zap.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float32       `json:"top_p,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewHTTPProvider builds a provider for any OpenAI-compatible endpoint.
func NewHTTPProvider(cfg HTTPConfig, logger *zap.Logger) *HTTPProvider {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 500 * time.Millisecond
	}
	if cfg.Client == nil {
		// per-call deadlines come from the context
		cfg.Client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPProvider{cfg: cfg, logger: logger.Named(cfg.Name)}
}

// NewOpenRouter targets OpenRouter.
func NewOpenRouter(cfg HTTPConfig, logger *zap.Logger) *HTTPProvider {
	cfg.Name = "openrouter"
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultOpenRouterURL
	}
	return NewHTTPProvider(cfg, logger)
}

// NewTogether targets Together AI.
func NewTogether(cfg HTTPConfig, logger *zap.Logger) *HTTPProvider {
	cfg.Name = "together"
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTogetherURL
	}
	return NewHTTPProvider(cfg, logger)
}

func (p *HTTPProvider) Name() string { return p.cfg.Name }

// Complete posts the prompt. Transport failures are retried with exponential
// backoff; any HTTP response that is not 2xx ends the call.
func (p *HTTPProvider) Complete(ctx context.Context, model string, req Request) (string, error) {
	fail := func(status, attempts int, err error) (string, error) {
		return "", &ProviderError{Provider: p.cfg.Name, Model: model, StatusCode: status, Attempts: attempts, Err: err}
	}
	if strings.TrimSpace(p.cfg.APIKey) == "" {
		return fail(0, 0, errors.New("api key is required"))
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    toChatMessages(req.Messages),
		Temperature: req.Params.Temperature,
		MaxTokens:   req.Params.MaxTokens,
		TopP:        req.Params.TopP,
	})
	if err != nil {
		return fail(0, 0, err)
	}

	var (
		attempts int
		status   int
		content  string
	)
	call := func() error {
		attempts++
		resp, err := p.post(ctx, body)
		if err != nil {
			return err
		}
		var derr error
		content, status, derr = decodeResponse(resp)
		if derr != nil {
			// the server answered, retrying would repeat the same answer
			return backoff.Permanent(derr)
		}
		return nil
	}
	notify := func(err error, delay time.Duration) {
		p.logger.Warn("transport error, retrying",
			zap.String("model", model),
			zap.Int("attempt", attempts),
			zap.Duration("backoff", delay),
			zap.Error(err))
	}
	if err := backoff.RetryNotify(call, p.retryPolicy(ctx), notify); err != nil {
		return fail(status, attempts, err)
	}
	return content, nil
}

// retryPolicy doubles the delay from cfg.Backoff for at most MaxAttempts
// calls and stops as soon as ctx ends.
func (p *HTTPProvider) retryPolicy(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.cfg.Backoff
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.cfg.MaxAttempts-1)), ctx)
}

func (p *HTTPProvider) post(ctx context.Context, body []byte) (*http.Response, error) {
	url := fmt.Sprintf("%s/chat/completions", strings.TrimRight(p.cfg.BaseURL, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	if p.cfg.SiteURL != "" {
		req.Header.Set("HTTP-Referer", p.cfg.SiteURL)
	}
	if p.cfg.AppName != "" {
		req.Header.Set("X-Title", p.cfg.AppName)
	}
	return p.cfg.Client.Do(req)
}

func decodeResponse(resp *http.Response) (string, int, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return "", resp.StatusCode, errors.New(msg)
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", resp.StatusCode, errors.New(decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", resp.StatusCode, ErrEmptyCompletion
	}
	return decoded.Choices[0].Message.Content, resp.StatusCode, nil
}

func toChatMessages(in []*schema.Message) []chatMessage {
	out := make([]chatMessage, 0, len(in))
	for _, m := range in {
		if m == nil {
			continue
		}
		out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}
