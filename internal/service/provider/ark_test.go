package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	reply *schema.Message
	err   error
	opts  *model.Options
	input []*schema.Message
}

func (f *fakeChatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.input = input
	f.opts = model.GetCommonOptions(&model.Options{}, opts...)
	return f.reply, f.err
}

func (f *fakeChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func TestChatModelProviderPassesParams(t *testing.T) {
	fake := &fakeChatModel{reply: schema.AssistantMessage("Oi.", nil)}
	p := NewChatModelProvider("ark", fake)

	got, err := p.Complete(context.Background(), "doubao-pro", Request{
		Messages: []*schema.Message{schema.UserMessage("oi")},
		Params:   Params{Temperature: 0.6, MaxTokens: 512, TopP: 0.9},
	})
	require.NoError(t, err)
	assert.Equal(t, "Oi.", got)
	require.NotNil(t, fake.opts.Model)
	assert.Equal(t, "doubao-pro", *fake.opts.Model)
	require.NotNil(t, fake.opts.MaxTokens)
	assert.Equal(t, 512, *fake.opts.MaxTokens)
	require.NotNil(t, fake.opts.Temperature)
	assert.InDelta(t, 0.6, *fake.opts.Temperature, 1e-6)
	assert.Len(t, fake.input, 1)
}

func TestChatModelProviderWrapsErrors(t *testing.T) {
	p := NewChatModelProvider("ark", &fakeChatModel{err: errors.New("quota")})

	_, err := p.Complete(context.Background(), "doubao-pro", Request{})
	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "ark", perr.Provider)
}

func TestNewArkRequiresCredentials(t *testing.T) {
	_, err := NewArk(context.Background(), ArkConfig{Model: "m"})
	assert.Error(t, err)
}
