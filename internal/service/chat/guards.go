package chat

import (
	"context"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/welnecker/roleplay/backend/internal/analysis/textproc"
	"github.com/welnecker/roleplay/backend/internal/model/canon"
	"github.com/welnecker/roleplay/backend/internal/model/persona"
)

// rewrite asks the model to rework text under a directive. Errors and empty
// answers are reported to the caller, which keeps the previous text.
func (s *Service) rewrite(ctx context.Context, p persona.Persona, modelIdentifier, directive, text string) (string, error) {
	messages := []*schema.Message{
		schema.SystemMessage(p.Prompt),
		schema.SystemMessage(directive),
		schema.UserMessage(text),
	}
	completion, err := s.router.Chat(ctx, modelIdentifier, s.request(messages))
	if err != nil {
		return "", err
	}
	return completion.Content, nil
}

// enforceCanon retries the whole prompt once with the character's canon
// directive when the reply contradicts a canonical trait.
func (s *Service) enforceCanon(ctx context.Context, p persona.Persona, modelIdentifier string, t *turn, text string, res *Result) string {
	set := s.rules.CanonFor(string(p.Character))
	rule, violated := set.Violation(text)
	if !violated {
		return text
	}
	completion, err := s.router.Chat(ctx, modelIdentifier, s.request(t.with(set.Directive)))
	if err != nil {
		s.logger.Warn("canon retry failed, keeping first reply",
			zap.String("rule", rule.Name), zap.Error(err))
		return text
	}
	res.corrected(CorrectionCanon)
	return completion.Content
}

// enforceFirstPerson rewrites once when a line opens with the character's own
// name.
func (s *Service) enforceFirstPerson(ctx context.Context, p persona.Persona, modelIdentifier, text string, res *Result) string {
	if !narratesSelf(p, text) {
		return text
	}
	out, err := s.rewrite(ctx, p, modelIdentifier, s.rules.FirstPersonDirective, text)
	if err != nil {
		s.logger.Warn("first person rewrite failed", zap.Error(err))
		return text
	}
	res.corrected(CorrectionFirstPerson)
	return out
}

func narratesSelf(p persona.Persona, text string) bool {
	names := make([]string, 0, 2)
	for _, n := range p.SelfNames() {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, regexp.QuoteMeta(n))
		}
	}
	if len(names) == 0 {
		return false
	}
	re := regexp.MustCompile(`(?im)^[\s"'*_—–-]*(?:` + strings.Join(names, "|") + `)(?:[\s,.:;!?]|$)`)
	return re.MatchString(text)
}

// enforceScene keeps the reply inside the pinned location. With the rewrite
// policy the model gets one chance; whatever still drifts is stripped.
func (s *Service) enforceScene(ctx context.Context, p persona.Persona, modelIdentifier, location, text string, res *Result) string {
	if location == "" || !s.scenes.Foreign(text, location) {
		return text
	}
	if s.cfg.ScenePolicy == SceneRewrite {
		out, err := s.rewrite(ctx, p, modelIdentifier, s.rules.SceneRewrite(location), text)
		switch {
		case err != nil:
			s.logger.Warn("scene rewrite failed", zap.String("location", location), zap.Error(err))
		case !s.scenes.Foreign(out, location):
			res.corrected(CorrectionSceneRewrite)
			return out
		default:
			text = out
		}
	}
	res.corrected(CorrectionSceneStrip)
	return textproc.StripForeignSentences(text, func(sentence string) bool {
		return s.scenes.Foreign(sentence, location)
	})
}

// fidelityVerdict is what the fidelity guard decided for one exchange. It is
// applied by the caller and its event is stored with the interaction.
type fidelityVerdict struct {
	event      string
	correction Correction
	third      []string
	partner    string
}

func (v fidelityVerdict) hardStop() bool { return v.event == canon.EventFidelityStop }

func (v fidelityVerdict) softStop() bool { return v.event == canon.EventFidelitySoftStop }

func (v fidelityVerdict) record(location string) canon.Event {
	desc := "Recusa diante de "
	if v.softStop() {
		desc = "Recuo diante de "
	}
	return canon.Event{
		Type:        v.event,
		Description: desc + strings.Join(v.third, ", "),
		Location:    location,
		Tags:        v.third,
		Meta:        map[string]any{"partner": v.partner},
	}
}

// checkFidelity guards characters with a canonical partner against intimacy
// with someone else. Near contact with flirting allowed is a soft stop;
// anything else involving a third party is a hard stop.
func (s *Service) checkFidelity(p persona.Persona, facts canon.Facts, message, text string) fidelityVerdict {
	if !p.Fidelity {
		return fidelityVerdict{}
	}
	partner := facts.String(canon.FactPartner)
	if partner == "" {
		partner = p.Partner
	}
	exchange := message + "\n" + text
	if partner != "" && mentions(exchange, partner) {
		return fidelityVerdict{}
	}

	third := s.thirdParties(exchange, partner, p.SelfNames())
	if len(third) == 0 {
		return fidelityVerdict{}
	}

	lex := &s.rules.Fidelity
	explicit := lex.Explicit.Any(exchange)
	near := lex.Near.Any(exchange)
	if !explicit && !near {
		return fidelityVerdict{}
	}

	v := fidelityVerdict{third: third, partner: partner}
	if near && !explicit && facts.Bool(canon.FactFlirtAllowed, false) {
		v.event, v.correction = canon.EventFidelitySoftStop, CorrectionFidelitySoft
	} else {
		v.event, v.correction = canon.EventFidelityStop, CorrectionFidelityStop
	}
	return v
}

func mentions(text, name string) bool {
	re, err := regexp.Compile(`(?i)(?:^|[^\p{L}])` + regexp.QuoteMeta(name) + `(?:[^\p{L}]|$)`)
	if err != nil {
		return false
	}
	return re.MatchString(text)
}

var letters = regexp.MustCompile(`\p{L}+`)

// thirdParties filters captured names down to people other than the couple.
// Common words, place names and words the exchange also uses in lowercase
// are not names.
func (s *Service) thirdParties(exchange, partner string, self []string) []string {
	couple := make(map[string]struct{})
	for _, n := range append([]string{partner}, self...) {
		for _, w := range strings.Fields(strings.ToLower(n)) {
			couple[w] = struct{}{}
		}
	}
	lowercase := make(map[string]struct{})
	for _, w := range letters.FindAllString(exchange, -1) {
		if r, _ := utf8.DecodeRuneInString(w); unicode.IsLower(r) {
			lowercase[w] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	var out []string
	for _, n := range s.rules.Fidelity.ThirdParty.Captures(exchange) {
		key := strings.ToLower(n)
		if _, ok := s.notNames[key]; ok {
			continue
		}
		if _, ok := couple[key]; ok {
			continue
		}
		if _, ok := lowercase[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}
