package chat_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/welnecker/roleplay/backend/internal/analysis/rules"
	"github.com/welnecker/roleplay/backend/internal/model/canon"
	modelchat "github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
	"github.com/welnecker/roleplay/backend/internal/service/chat"
	"github.com/welnecker/roleplay/backend/internal/service/provider"
	"github.com/welnecker/roleplay/backend/internal/store"
	"github.com/welnecker/roleplay/backend/internal/store/storetest"
)

// scriptedRouter answers with replies in order and records every request.
type scriptedRouter struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []provider.Request
}

func (r *scriptedRouter) Chat(_ context.Context, _ string, req provider.Request) (*provider.Completion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	if r.err != nil {
		return nil, r.err
	}
	if len(r.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	reply := r.replies[0]
	r.replies = r.replies[1:]
	return &provider.Completion{Content: reply, Model: "m", Provider: "openrouter"}, nil
}

func (r *scriptedRouter) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.requests)
}

func newService(t *testing.T, repo store.Repository, router chat.Completer, cfg chat.Config) *chat.Service {
	t.Helper()
	svc, err := chat.NewService(chat.Dependencies{
		Store:    repo,
		Personas: persona.NewRegistry(persona.Seed()),
		Router:   router,
	}, cfg)
	require.NoError(t, err)
	return svc
}

func identity(t *testing.T, c persona.Character) modelchat.Identity {
	t.Helper()
	id, err := modelchat.NewIdentity("ana", c)
	require.NoError(t, err)
	return id
}

func generate(t *testing.T, svc *chat.Service, c persona.Character, message string) *chat.Result {
	t.Helper()
	res, err := svc.Generate(context.Background(), chat.Request{User: "ana", Character: c, Model: "m", Message: message})
	require.NoError(t, err)
	return res
}

func TestGenerateSavesInteraction(t *testing.T) {
	repo := storetest.New(t)
	router := &scriptedRouter{replies: []string{"Eu pego minha garrafa e sorrio."}}
	svc := newService(t, repo, router, chat.Config{})
	met := time.Date(2025, 3, 14, 19, 30, 0, 0, time.UTC)
	_, err := repo.RegisterEvent(context.Background(), identity(t, persona.Laura), canon.Event{
		Type:        canon.EventFirstMeeting,
		Description: "Nos conhecemos no café.",
		Location:    "cafeteria oregon",
		Timestamp:   met,
	})
	require.NoError(t, err)

	res := generate(t, svc, persona.Laura, "vamos pra academia")
	assert.Equal(t, "Eu pego minha garrafa e sorrio.", res.Text)
	assert.Equal(t, "openrouter:m", res.ModelUsed)
	assert.Equal(t, "ana::Laura", res.Identity)
	assert.Equal(t, "academia fisium body", res.Location)

	saved, err := repo.ListInteractions(context.Background(), identity(t, persona.Laura), 0)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "vamos pra academia", saved[0].UserMessage)
	assert.Equal(t, "openrouter:m", saved[0].ModelUsed)

	// the prompt carries the pinned location and the user text last
	require.Equal(t, 1, router.calls())
	msgs := router.requests[0].Messages
	last := msgs[len(msgs)-1]
	assert.Equal(t, schema.User, last.Role)
	assert.Contains(t, last.Content, "LOCAL_ATUAL: academia fisium body")
	assert.Contains(t, last.Content, "- último marco: Nos conhecemos no café. (cafeteria oregon) em 2025-03-14 19:30")
	assert.True(t, strings.HasSuffix(last.Content, "vamos pra academia"))
	assert.Equal(t, schema.System, msgs[0].Role)
}

func TestGenerateLocationPinning(t *testing.T) {
	repo := storetest.New(t)
	router := &scriptedRouter{replies: []string{"Sorrio pra você.", "Aceno de volta.", "Peço dois cafés.", "Lembro sim."}}
	svc := newService(t, repo, router, chat.Config{})
	id := identity(t, persona.Laura)

	assert.Equal(t, "academia fisium body", generate(t, svc, persona.Laura, "vamos pra academia").Location)
	assert.Equal(t, "academia fisium body", generate(t, svc, persona.Laura, "I smile and say hi").Location)
	assert.Equal(t, "cafeteria oregon", generate(t, svc, persona.Laura, "chego na cafeteria").Location)
	// a place mentioned without a movement cue does not move the scene
	assert.Equal(t, "cafeteria oregon", generate(t, svc, persona.Laura, "lembra da academia?").Location)

	loc, err := repo.GetFact(context.Background(), id, canon.FactLocation, "")
	require.NoError(t, err)
	assert.Equal(t, "cafeteria oregon", loc)
}

func TestGenerateSeedsCharacterContext(t *testing.T) {
	repo := storetest.New(t)
	svc := newService(t, repo, &scriptedRouter{replies: []string{"Oi."}}, chat.Config{})
	generate(t, svc, persona.Mary, "oi")

	id := identity(t, persona.Mary)
	partner, err := repo.GetFact(context.Background(), id, canon.FactPartner, "")
	require.NoError(t, err)
	assert.Equal(t, "Janio", partner)

	ev, err := repo.LastEvent(context.Background(), id, canon.EventFirstMeeting)
	require.NoError(t, err)
	require.NotNil(t, ev)
}

func TestGenerateCanonRetryOnce(t *testing.T) {
	repo := storetest.New(t)
	router := &scriptedRouter{replies: []string{
		"Meus cabelos são loiros.",
		"Meus cabelos são negros e volumosos.",
	}}
	svc := newService(t, repo, router, chat.Config{})

	res := generate(t, svc, persona.Mary, "qual a cor do seu cabelo?")
	assert.Equal(t, "Meus cabelos são negros e volumosos.", res.Text)
	assert.Contains(t, res.Corrections, chat.CorrectionCanon)
	require.Equal(t, 2, router.calls())

	directive := rules.Default().CanonFor("Mary").Directive
	var found bool
	for _, m := range router.requests[1].Messages {
		if m.Role == schema.System && m.Content == directive {
			found = true
		}
	}
	assert.True(t, found, "retry must carry the canon directive")
	assert.Len(t, router.requests[1].Messages, len(router.requests[0].Messages)+1)
}

func TestGenerateCanonRetryFailureKeepsReply(t *testing.T) {
	repo := storetest.New(t)
	router := &scriptedRouter{replies: []string{"Meus cabelos são loiros."}}
	svc := newService(t, repo, router, chat.Config{})

	res := generate(t, svc, persona.Mary, "qual a cor do seu cabelo?")
	assert.Equal(t, "Meus cabelos são loiros.", res.Text)
	assert.NotContains(t, res.Corrections, chat.CorrectionCanon)
}

func TestGenerateFirstPersonRewrite(t *testing.T) {
	repo := storetest.New(t)
	router := &scriptedRouter{replies: []string{"Mary sorri e ajeita o cabelo.", "Eu sorrio e ajeito o cabelo."}}
	svc := newService(t, repo, router, chat.Config{})

	res := generate(t, svc, persona.Mary, "oi")
	assert.Equal(t, "Eu sorrio e ajeito o cabelo.", res.Text)
	assert.Equal(t, []chat.Correction{chat.CorrectionFirstPerson}, res.Corrections)
}

func TestGenerateSceneRewrite(t *testing.T) {
	repo := storetest.New(t)
	router := &scriptedRouter{replies: []string{
		"Eu amarro o tênis. Depois a gente vai pra praia.",
		"Eu amarro o tênis perto da esteira.",
	}}
	svc := newService(t, repo, router, chat.Config{})

	res := generate(t, svc, persona.Laura, "vamos pra academia")
	assert.Equal(t, "Eu amarro o tênis perto da esteira.", res.Text)
	assert.Equal(t, []chat.Correction{chat.CorrectionSceneRewrite}, res.Corrections)
	assert.Equal(t, 2, router.calls())
}

func TestGenerateSceneStrip(t *testing.T) {
	repo := storetest.New(t)
	router := &scriptedRouter{replies: []string{"Eu amarro o tênis. Depois a gente vai pra praia."}}
	svc := newService(t, repo, router, chat.Config{ScenePolicy: chat.SceneStrip})

	res := generate(t, svc, persona.Laura, "vamos pra academia")
	assert.Equal(t, "Eu amarro o tênis.", res.Text)
	assert.Equal(t, []chat.Correction{chat.CorrectionSceneStrip}, res.Corrections)
	assert.Equal(t, 1, router.calls())
}

func TestGenerateFidelityHardStop(t *testing.T) {
	repo := storetest.New(t)
	router := &scriptedRouter{replies: []string{"Eu fico parada."}}
	svc := newService(t, repo, router, chat.Config{})

	res := generate(t, svc, persona.Mary, "O Carlos me beija e a gente faz sexo")
	hardStop := rules.Default().Fidelity.HardStop
	assert.Equal(t, hardStop, res.Text)
	assert.Contains(t, res.Corrections, chat.CorrectionFidelityStop)

	id := identity(t, persona.Mary)
	events, err := repo.ListEvents(context.Background(), id, 0)
	require.NoError(t, err)
	var stops []canon.Event
	for _, ev := range events {
		if ev.Type == canon.EventFidelityStop {
			stops = append(stops, ev)
		}
	}
	require.Len(t, stops, 1)
	assert.Equal(t, []string{"Carlos"}, stops[0].Tags)

	last, err := repo.LastInteraction(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, hardStop, last.AssistantMessage)
}

func TestGenerateFidelitySoftStop(t *testing.T) {
	repo := storetest.New(t)
	id := identity(t, persona.Mary)
	require.NoError(t, repo.SetFact(context.Background(), id, canon.FactFlirtAllowed, true, canon.NewMeta("test")))
	router := &scriptedRouter{replies: []string{"Eu hesito."}}
	svc := newService(t, repo, router, chat.Config{})

	res := generate(t, svc, persona.Mary, "O Carlos tenta me beijar")
	assert.True(t, strings.HasPrefix(res.Text, "Eu hesito."))
	assert.Contains(t, res.Text, "Melhor não.")
	assert.Contains(t, res.Corrections, chat.CorrectionFidelitySoft)

	ev, err := repo.LastEvent(context.Background(), id, canon.EventFidelitySoftStop)
	require.NoError(t, err)
	require.NotNil(t, ev)
}

func fidelityStops(t *testing.T, repo store.Repository, id modelchat.Identity) []canon.Event {
	t.Helper()
	events, err := repo.ListEvents(context.Background(), id, 0)
	require.NoError(t, err)
	var out []canon.Event
	for _, ev := range events {
		if ev.Type == canon.EventFidelityStop || ev.Type == canon.EventFidelitySoftStop {
			out = append(out, ev)
		}
	}
	return out
}

func TestGenerateFidelityIgnoresCommonWordsAndPlaces(t *testing.T) {
	cases := []struct {
		message string
		reply   string
	}{
		{"Agora me beija, amor.", "Eu te beijo devagar."},
		{"Te beijo no Posto 6.", "Eu sorrio e te abraço."},
		{"Vem, me abraça. Assim me abraça forte.", "Eu te abraço forte."},
		{"Vamos pra Rota do Lagarto, lá eu te beijo.", "Eu sorrio."},
	}
	for _, tc := range cases {
		t.Run(tc.message, func(t *testing.T) {
			repo := storetest.New(t)
			svc := newService(t, repo, &scriptedRouter{replies: []string{tc.reply}}, chat.Config{})

			res := generate(t, svc, persona.Mary, tc.message)
			assert.Equal(t, tc.reply, res.Text)
			assert.NotContains(t, res.Corrections, chat.CorrectionFidelityStop)
			assert.NotContains(t, res.Corrections, chat.CorrectionFidelitySoft)
			assert.Empty(t, fidelityStops(t, repo, identity(t, persona.Mary)))
		})
	}
}

func TestGenerateFidelityNearContactWithoutFlirtIsHardStop(t *testing.T) {
	repo := storetest.New(t)
	svc := newService(t, repo, &scriptedRouter{replies: []string{"Eu hesito."}}, chat.Config{})

	res := generate(t, svc, persona.Mary, "O Carlos tenta me beijar")
	assert.Equal(t, rules.Default().Fidelity.HardStop, res.Text)
	assert.Contains(t, res.Corrections, chat.CorrectionFidelityStop)

	stops := fidelityStops(t, repo, identity(t, persona.Mary))
	require.Len(t, stops, 1)
	assert.Equal(t, canon.EventFidelityStop, stops[0].Type)
}

func TestGenerateFidelitySoftStopSurvivesRepeat(t *testing.T) {
	repo := storetest.New(t)
	id := identity(t, persona.Mary)
	require.NoError(t, repo.SetFact(context.Background(), id, canon.FactFlirtAllowed, true, canon.NewMeta("test")))
	svc := newService(t, repo, &scriptedRouter{replies: []string{"Eu fico sem graça.", "Eu fico sem graça."}}, chat.Config{})
	softStop := rules.Default().Fidelity.SoftStop

	first := generate(t, svc, persona.Mary, "O Carlos tenta me beijar")
	second := generate(t, svc, persona.Mary, "O Carlos tenta me beijar")
	for _, res := range []*chat.Result{first, second} {
		assert.True(t, strings.HasSuffix(res.Text, softStop), res.Text)
		assert.Contains(t, res.Corrections, chat.CorrectionFidelitySoft)
	}
	assert.Len(t, fidelityStops(t, repo, id), 2)
}

// failingSave rejects every interaction write.
type failingSave struct {
	store.Repository
}

func (failingSave) SaveInteraction(context.Context, modelchat.Identity, modelchat.Interaction, ...canon.Event) (modelchat.Interaction, error) {
	return modelchat.Interaction{}, store.ErrUnavailable
}

func TestGenerateFidelityEventNotStoredWhenSaveFails(t *testing.T) {
	repo := storetest.New(t)
	svc := newService(t, failingSave{Repository: repo}, &scriptedRouter{replies: []string{"Eu fico parada."}}, chat.Config{})

	_, err := svc.Generate(context.Background(), chat.Request{User: "ana", Character: persona.Mary, Model: "m", Message: "O Carlos me beija e a gente faz sexo"})
	require.ErrorIs(t, err, store.ErrUnavailable)
	assert.Empty(t, fidelityStops(t, repo, identity(t, persona.Mary)))
}

func TestGenerateFidelitySkippedWhenPartnerNamed(t *testing.T) {
	repo := storetest.New(t)
	router := &scriptedRouter{replies: []string{"Eu abraço o Janio."}}
	svc := newService(t, repo, router, chat.Config{})

	res := generate(t, svc, persona.Mary, "Janio chega no motel")
	assert.Equal(t, "Eu abraço o Janio.", res.Text)
	assert.Equal(t, "motel", res.Location)
	assert.True(t, res.NSFW)
	assert.Empty(t, res.Corrections)

	// partner named at a private place locks the scene
	lock, err := repo.GetFact(context.Background(), identity(t, persona.Mary), canon.FactSceneLock, false)
	require.NoError(t, err)
	assert.Equal(t, true, lock)
}

func TestGenerateDedupesAgainstLastReply(t *testing.T) {
	repo := storetest.New(t)
	router := &scriptedRouter{replies: []string{"Oi. Tudo bem?", "Oi. Tudo bem? Que bom te ver."}}
	svc := newService(t, repo, router, chat.Config{})

	generate(t, svc, persona.Laura, "oi")
	res := generate(t, svc, persona.Laura, "e aí")
	assert.Equal(t, "Que bom te ver.", res.Text)
}

func TestGenerateProviderErrorPropagates(t *testing.T) {
	repo := storetest.New(t)
	perr := &provider.ProviderError{Provider: "together", Model: "x", Err: errors.New("boom")}
	svc := newService(t, repo, &scriptedRouter{err: perr}, chat.Config{})

	_, err := svc.Generate(context.Background(), chat.Request{User: "ana", Character: persona.Laura, Model: "together/x", Message: "oi"})
	var got *provider.ProviderError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, "together", got.Provider)

	saved, err := repo.ListInteractions(context.Background(), identity(t, persona.Laura), 0)
	require.NoError(t, err)
	assert.Empty(t, saved)
}

// failingFacts rejects writes of one fact key.
type failingFacts struct {
	store.Repository
	key string
}

func (f failingFacts) SetFact(ctx context.Context, id modelchat.Identity, key string, value any, meta canon.Meta) error {
	if key == f.key {
		return store.ErrUnavailable
	}
	return f.Repository.SetFact(ctx, id, key, value, meta)
}

func TestGenerateAnnotationErrorsDoNotFail(t *testing.T) {
	repo := failingFacts{Repository: storetest.New(t), key: canon.FactUserName}
	svc := newService(t, repo, &scriptedRouter{replies: []string{"Prazer, Ana."}}, chat.Config{})

	res := generate(t, svc, persona.Laura, "oi, meu nome é ana")
	assert.Equal(t, "Prazer, Ana.", res.Text)
	require.Len(t, res.AnnotationErrors, 1)
	assert.ErrorIs(t, res.AnnotationErrors[0], store.ErrUnavailable)

	saved, err := repo.ListInteractions(context.Background(), identity(t, persona.Laura), 0)
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

func TestGenerateAnnotatesUserName(t *testing.T) {
	repo := storetest.New(t)
	svc := newService(t, repo, &scriptedRouter{replies: []string{"Prazer."}}, chat.Config{})

	generate(t, svc, persona.Laura, "oi, meu nome é ana")
	name, err := repo.GetFact(context.Background(), identity(t, persona.Laura), canon.FactUserName, "")
	require.NoError(t, err)
	assert.Equal(t, "Ana", name)
}

func TestGenerateResponseValidation(t *testing.T) {
	svc := newService(t, storetest.New(t), &scriptedRouter{replies: []string{"Oi."}}, chat.Config{})

	_, err := svc.GenerateResponse(context.Background(), "ana", "oi", "m", "Beatriz")
	assert.ErrorIs(t, err, persona.ErrUnknownCharacter)

	_, err = svc.GenerateResponse(context.Background(), "ana", "   ", "m", "Laura")
	assert.ErrorIs(t, err, chat.ErrEmptyMessage)

	_, err = svc.GenerateResponse(context.Background(), "", "oi", "m", "Laura")
	assert.ErrorIs(t, err, modelchat.ErrEmptyUser)

	got, err := svc.GenerateResponse(context.Background(), "ana", "oi", "m", "")
	require.NoError(t, err)
	assert.Equal(t, "Oi.", got)
}
