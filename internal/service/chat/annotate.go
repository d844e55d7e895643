package chat

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/welnecker/roleplay/backend/internal/model/canon"
	"github.com/welnecker/roleplay/backend/internal/model/chat"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
)

const (
	annotationSource   = "auto_annotation"
	relationshipDating = "namorando"
	sceneLockTTL       = 120 // minutes
)

// annotate plants facts inferred from the finished exchange. Failures are
// collected on the result and logged; the reply is already saved.
func (s *Service) annotate(ctx context.Context, id chat.Identity, p persona.Persona, facts canon.Facts, location, message, reply string, res *Result) {
	set := func(key string, value any) {
		if err := s.repo.SetFact(ctx, id, key, value, canon.NewMeta(annotationSource)); err != nil {
			res.AnnotationErrors = append(res.AnnotationErrors, fmt.Errorf("annotate %s: %w", key, err))
			s.logger.Warn("annotation failed",
				zap.String("identity", id.Key()),
				zap.String("fact", key),
				zap.Error(err))
		}
	}

	ann := &s.rules.Annotations
	if name, ok := ann.UserNameIn(message); ok && name != facts.String(canon.FactUserName) {
		set(canon.FactUserName, name)
	}
	if (ann.RelationshipIn(message) || ann.RelationshipIn(reply)) && facts.String(canon.FactRelationship) != relationshipDating {
		set(canon.FactRelationship, relationshipDating)
	}

	partner := facts.String(canon.FactPartner)
	if partner == "" {
		partner = p.Partner
	}
	if partner != "" && s.scenes.IsPrivate(location) && mentions(message+"\n"+reply, partner) {
		set(canon.FactSceneLock, true)
		set(canon.FactSceneLockAt, s.now().Format(time.RFC3339))
		set(canon.FactSceneLockTTL, sceneLockTTL)
	}
}
