// Package canon keeps each identity's canonical memory consistent: it seeds
// per-character facts and milestones and evaluates the NSFW gate.
package canon

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/welnecker/roleplay/backend/internal/analysis/scene"
	"github.com/welnecker/roleplay/backend/internal/model/canon"
	"github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
	"github.com/welnecker/roleplay/backend/internal/store"
)

const bootstrapSource = "bootstrap"

// Service evaluates canonical memory of identities.
type Service struct {
	repo   store.Repository
	scenes *scene.Table
	logger *zap.Logger
}

// NewService wires the store and the scene table.
func NewService(repo store.Repository, scenes *scene.Table, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, scenes: scenes, logger: logger.Named("canon")}
}

// EnsureCharacterContext plants the persona's seed facts and milestone events
// the first time an identity talks to the character. Existing values are
// never overwritten.
func (s *Service) EnsureCharacterContext(ctx context.Context, id chat.Identity, p persona.Persona) error {
	facts, err := s.repo.GetFacts(ctx, id)
	if err != nil {
		return err
	}
	plant := func(f persona.SeedFact) error {
		if facts.Has(f.Key) {
			return nil
		}
		if err := s.repo.SetFact(ctx, id, f.Key, f.Value, canon.NewMeta(bootstrapSource)); err != nil {
			return fmt.Errorf("seed fact %s: %w", f.Key, err)
		}
		facts[f.Key] = f.Value
		return nil
	}

	for _, f := range p.SeedFacts {
		if err := plant(f); err != nil {
			return err
		}
	}
	for _, ev := range p.SeedEvents {
		last, err := s.repo.LastEvent(ctx, id, ev.Type)
		if err != nil {
			return err
		}
		if last == nil {
			if _, err := s.repo.RegisterEvent(ctx, id, canon.Event{
				Type:        ev.Type,
				Description: ev.Description,
				Location:    ev.Location,
				Tags:        []string{bootstrapSource},
				Meta:        map[string]any{"source": bootstrapSource},
			}); err != nil {
				return fmt.Errorf("seed event %s: %w", ev.Type, err)
			}
			s.logger.Info("seeded milestone", zap.String("identity", id.Key()), zap.String("type", ev.Type))
		}
		if ev.Fact != nil {
			if err := plant(*ev.Fact); err != nil {
				return err
			}
		}
	}
	return nil
}

// NSFWAllowed evaluates the explicit content gate. The checks run in a fixed
// order: a manual override ("on" allows, "off" denies everything), a private
// pinned location, the intimacy fact, and finally the milestone event.
func (s *Service) NSFWAllowed(ctx context.Context, id chat.Identity, facts canon.Facts) (bool, error) {
	if facts == nil {
		var err error
		if facts, err = s.repo.GetFacts(ctx, id); err != nil {
			return false, err
		}
	}
	if allowed, decided := Gate(facts, s.scenes); decided {
		return allowed, nil
	}
	ev, err := s.repo.LastEvent(ctx, id, canon.EventFirstTime)
	if err != nil {
		return false, err
	}
	return ev != nil, nil
}

// Gate runs the fact-only part of the NSFW gate. decided is false when the
// answer depends on the milestone event.
func Gate(facts canon.Facts, scenes *scene.Table) (allowed, decided bool) {
	if facts.Has(canon.FactNSFWOverride) {
		if facts.Bool(canon.FactNSFWOverride, false) {
			return true, true
		}
		if !facts.Bool(canon.FactNSFWOverride, true) {
			return false, true
		}
	}
	if scenes != nil && scenes.IsPrivate(facts.String(canon.FactLocation)) {
		return true, true
	}
	if facts.Has(canon.FactVirgin) && !facts.Bool(canon.FactVirgin, true) {
		return true, true
	}
	return false, false
}

// Status summarises an identity for the admin surfaces.
type Status struct {
	Identity string      `json:"identity"`
	Location string      `json:"location"`
	NSFW     bool        `json:"nsfw"`
	Facts    canon.Facts `json:"facts"`
}

// Status reads the pinned location and the gate state.
func (s *Service) Status(ctx context.Context, id chat.Identity) (Status, error) {
	facts, err := s.repo.GetFacts(ctx, id)
	if err != nil {
		return Status{}, err
	}
	nsfw, err := s.NSFWAllowed(ctx, id, facts)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Identity: id.Key(),
		Location: facts.String(canon.FactLocation),
		NSFW:     nsfw,
		Facts:    facts,
	}, nil
}
