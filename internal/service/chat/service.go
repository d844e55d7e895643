package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/welnecker/roleplay/backend/internal/analysis/rules"
	"github.com/welnecker/roleplay/backend/internal/analysis/scene"
	"github.com/welnecker/roleplay/backend/internal/analysis/textproc"
	"github.com/welnecker/roleplay/backend/internal/model/canon"
	"github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
	canonsvc "github.com/welnecker/roleplay/backend/internal/service/canon"
	"github.com/welnecker/roleplay/backend/internal/service/history"
	"github.com/welnecker/roleplay/backend/internal/service/provider"
	"github.com/welnecker/roleplay/backend/internal/service/session"
	"github.com/welnecker/roleplay/backend/internal/store"
)

// ScenePolicy selects how a reply that drifted to another place is fixed.
type ScenePolicy string

const (
	// SceneRewrite asks the model once and strips sentences if that fails.
	SceneRewrite ScenePolicy = "rewrite"
	// SceneStrip only removes the offending sentences.
	SceneStrip ScenePolicy = "strip"
)

// Config holds the fixed generation settings.
type Config struct {
	Params             provider.Params
	HistoryBudget      int
	ParagraphSentences int
	ScenePolicy        ScenePolicy
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		Params:             provider.Params{Temperature: 0.6, MaxTokens: 2048, TopP: 0.9},
		HistoryBudget:      history.DefaultBudget,
		ParagraphSentences: textproc.DefaultMaxSentences,
		ScenePolicy:        SceneRewrite,
	}
}

// Completer is the slice of the provider router the pipeline needs.
type Completer interface {
	Chat(ctx context.Context, modelIdentifier string, req provider.Request) (*provider.Completion, error)
}

// Dependencies are the collaborators of the pipeline.
type Dependencies struct {
	Store    store.Repository
	Personas persona.Store
	Router   Completer
	Locker   session.Locker
	Rules    *rules.Set
	Scenes   *scene.Table
	Logger   *zap.Logger
}

// Service runs the response pipeline.
type Service struct {
	repo     store.Repository
	personas persona.Store
	router   Completer
	locker   session.Locker
	rules    *rules.Set
	scenes   *scene.Table
	canon    *canonsvc.Service
	history  *history.Assembler
	template prompt.ChatTemplate
	notNames map[string]struct{}
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewService validates dependencies and fills defaults.
func NewService(deps Dependencies, cfg Config) (*Service, error) {
	if deps.Store == nil || deps.Router == nil || deps.Personas == nil {
		return nil, errors.New("chat service requires a store, a router and personas")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Locker == nil {
		deps.Locker = session.NewKeyedMutex()
	}
	if deps.Rules == nil {
		deps.Rules = rules.Default()
	}
	if deps.Scenes == nil {
		deps.Scenes = scene.Default()
	}
	defaults := DefaultConfig()
	if cfg.Params == (provider.Params{}) {
		cfg.Params = defaults.Params
	}
	if cfg.HistoryBudget <= 0 {
		cfg.HistoryBudget = defaults.HistoryBudget
	}
	if cfg.ParagraphSentences <= 0 {
		cfg.ParagraphSentences = defaults.ParagraphSentences
	}
	if cfg.ScenePolicy != SceneStrip {
		cfg.ScenePolicy = SceneRewrite
	}

	notNames := make(map[string]struct{})
	for _, w := range append(deps.Rules.Fidelity.NotNames(), deps.Scenes.Words()...) {
		notNames[strings.ToLower(w)] = struct{}{}
	}

	return &Service{
		repo:     deps.Store,
		personas: deps.Personas,
		router:   deps.Router,
		locker:   deps.Locker,
		rules:    deps.Rules,
		scenes:   deps.Scenes,
		canon:    canonsvc.NewService(deps.Store, deps.Scenes, deps.Logger),
		history:  history.NewAssembler(deps.Store, cfg.HistoryBudget),
		template: newPromptTemplate(),
		notNames: notNames,
		cfg:      cfg,
		logger:   deps.Logger.Named("pipeline"),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// GenerateResponse is the plain entry point: it resolves the character name,
// runs the pipeline and returns the reply text.
func (s *Service) GenerateResponse(ctx context.Context, rawUser, userMessage, modelIdentifier, character string) (string, error) {
	c, err := persona.ParseCharacter(character)
	if err != nil {
		return "", err
	}
	res, err := s.Generate(ctx, Request{User: rawUser, Character: c, Model: modelIdentifier, Message: userMessage})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Generate runs one generation cycle while holding the identity's lock.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	id, err := chat.NewIdentity(req.User, req.Character)
	if err != nil {
		return nil, err
	}
	p, ok := s.personas.Find(id.Character())
	if !ok {
		p = s.personas.Lookup(string(id.Character()))
	}

	unlock, err := s.locker.Lock(ctx, id.NormalizedKey())
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", id.Key(), err)
	}
	defer unlock()

	started := time.Now()
	res, err := s.run(ctx, id, p, req.Model, message)
	if err != nil {
		s.logger.Error("generation failed",
			zap.String("identity", id.Key()),
			zap.String("model", req.Model),
			zap.Error(err))
		return nil, err
	}
	s.logger.Info("generated reply",
		zap.String("identity", id.Key()),
		zap.String("model", res.ModelUsed),
		zap.String("location", res.Location),
		zap.Bool("nsfw", res.NSFW),
		zap.Any("corrections", res.Corrections),
		zap.Int("annotation_errors", len(res.AnnotationErrors)),
		zap.Duration("elapsed", time.Since(started)))
	return res, nil
}

func (s *Service) run(ctx context.Context, id chat.Identity, p persona.Persona, modelIdentifier, message string) (*Result, error) {
	if err := s.canon.EnsureCharacterContext(ctx, id, p); err != nil {
		return nil, err
	}

	facts, err := s.repo.GetFacts(ctx, id)
	if err != nil {
		return nil, err
	}
	location, err := s.pinLocation(ctx, id, facts, message)
	if err != nil {
		return nil, err
	}
	nsfw, err := s.canon.NSFWAllowed(ctx, id, facts)
	if err != nil {
		return nil, err
	}

	turn, err := s.assemble(ctx, id, p, facts, location, nsfw, message)
	if err != nil {
		return nil, err
	}

	completion, err := s.router.Chat(ctx, modelIdentifier, s.request(turn.messages))
	if err != nil {
		return nil, err
	}

	res := &Result{Identity: id.Key(), Location: location, NSFW: nsfw, ModelUsed: completion.ModelUsed()}
	text := completion.Content

	text = s.enforceCanon(ctx, p, modelIdentifier, turn, text, res)
	text = s.enforceFirstPerson(ctx, p, modelIdentifier, text, res)
	text = s.enforceScene(ctx, p, modelIdentifier, location, text, res)

	verdict := s.checkFidelity(p, facts, message, text)
	if verdict.hardStop() {
		// the stop line is stored verbatim
		text = s.rules.Fidelity.HardStop
	} else {
		text = s.format(text, res)
		last, err := s.repo.LastInteraction(ctx, id)
		if err != nil {
			return nil, err
		}
		if last != nil {
			text = textproc.Dedupe(text, last.AssistantMessage)
		}
		if verdict.softStop() {
			text = strings.TrimSpace(strings.TrimSpace(text) + "\n\n" + s.rules.Fidelity.SoftStop)
		}
	}

	var events []canon.Event
	if verdict.event != "" {
		res.corrected(verdict.correction)
		events = append(events, verdict.record(location))
		s.logger.Info("fidelity guard",
			zap.String("identity", id.Key()),
			zap.String("event", verdict.event),
			zap.Strings("third_parties", verdict.third))
	}

	if _, err := s.repo.SaveInteraction(ctx, id, chat.Interaction{
		UserMessage:      message,
		AssistantMessage: text,
		ModelUsed:        res.ModelUsed,
		CreatedAt:        s.now(),
	}, events...); err != nil {
		return nil, err
	}
	res.Text = text

	s.annotate(ctx, id, p, facts, location, message, text, res)
	return res, nil
}

// pinLocation pins the inferred location when none is pinned, and moves it
// only when the message asks to go somewhere.
func (s *Service) pinLocation(ctx context.Context, id chat.Identity, facts canon.Facts, message string) (string, error) {
	pinned := facts.String(canon.FactLocation)
	if tag, ok := s.scenes.Canonical(pinned); ok {
		pinned = tag
	}
	inferred, ok := s.scenes.InferLocation(message)
	if !ok || inferred == pinned {
		return pinned, nil
	}
	if pinned != "" && !s.scenes.HasMovementCue(message) {
		return pinned, nil
	}
	if err := s.repo.SetFact(ctx, id, canon.FactLocation, inferred, canon.NewMeta("scene_inference")); err != nil {
		return "", err
	}
	facts[canon.FactLocation] = inferred
	s.logger.Debug("location pinned",
		zap.String("identity", id.Key()),
		zap.String("from", pinned),
		zap.String("to", inferred))
	return inferred, nil
}

func (s *Service) request(messages []*schema.Message) provider.Request {
	return provider.Request{Messages: messages, Params: s.cfg.Params}
}

func (s *Service) format(text string, res *Result) string {
	out, err := textproc.Sanitize(text, textproc.Options{
		MaxSentences: s.cfg.ParagraphSentences,
		Soften:       s.rules.Soften,
	})
	if err != nil {
		s.logger.Warn("sanitize failed, keeping raw reply", zap.Error(err))
		res.corrected(CorrectionSanitizeFailed)
		return text
	}
	return out
}
