package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// ArkConfig holds Volcengine Ark credentials. Either APIKey or the
// AccessKey/SecretKey pair is required.
type ArkConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	Model     string
	BaseURL   string
	Region    string
}

// Enabled reports whether credentials and a default endpoint are present.
func (c ArkConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewArk builds the "ark" provider on the eino Ark chat model.
func NewArk(ctx context.Context, cfg ArkConfig) (*ChatModelProvider, error) {
	if !cfg.Enabled() {
		return nil, errors.New("ark credentials or model missing: set ARK_API_KEY or ARK_ACCESS_KEY/ARK_SECRET_KEY and ARK_MODEL")
	}
	chatModel, err := ark.NewChatModel(ctx, &ark.ChatModelConfig{
		BaseURL:   cfg.BaseURL,
		Region:    cfg.Region,
		APIKey:    cfg.APIKey,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
		Model:     cfg.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("create ark chat model: %w", err)
	}
	return NewChatModelProvider("ark", chatModel), nil
}

// ChatModelProvider adapts an eino chat model, such as the Ark model, to the
// router. The model id is passed per call so one client serves any endpoint.
type ChatModelProvider struct {
	name  string
	model model.BaseChatModel
}

// NewChatModelProvider registers chatModel under name.
func NewChatModelProvider(name string, chatModel model.BaseChatModel) *ChatModelProvider {
	return &ChatModelProvider{name: name, model: chatModel}
}

func (p *ChatModelProvider) Name() string { return p.name }

func (p *ChatModelProvider) Complete(ctx context.Context, modelName string, req Request) (string, error) {
	opts := []model.Option{model.WithModel(modelName)}
	if req.Params.Temperature > 0 {
		opts = append(opts, model.WithTemperature(req.Params.Temperature))
	}
	if req.Params.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.Params.MaxTokens))
	}
	if req.Params.TopP > 0 {
		opts = append(opts, model.WithTopP(req.Params.TopP))
	}

	msg, err := p.model.Generate(ctx, req.Messages, opts...)
	if err != nil {
		return "", &ProviderError{Provider: p.name, Model: modelName, Attempts: 1, Err: err}
	}
	if msg == nil {
		return "", &ProviderError{Provider: p.name, Model: modelName, Attempts: 1, Err: ErrEmptyCompletion}
	}
	return msg.Content, nil
}
