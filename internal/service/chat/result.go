package chat

import (
	"errors"

	"github.com/welnecker/roleplay/backend/internal/model/persona"
)

var (
	ErrEmptyMessage = errors.New("message is required")
)

// Request is one user turn.
type Request struct {
	User      string
	Character persona.Character
	Model     string
	Message   string
}

// Correction names a self-correction applied to a reply.
type Correction string

const (
	CorrectionCanon          Correction = "canon_retry"
	CorrectionFirstPerson    Correction = "first_person_rewrite"
	CorrectionSceneRewrite   Correction = "scene_rewrite"
	CorrectionSceneStrip     Correction = "scene_strip"
	CorrectionFidelityStop   Correction = "fidelity_stop"
	CorrectionFidelitySoft   Correction = "fidelity_soft_stop"
	CorrectionSanitizeFailed Correction = "sanitize_failed"
)

// Result is the outcome of one generation cycle. AnnotationErrors collects
// failures of best-effort side annotations; they never fail the cycle.
type Result struct {
	Text             string       `json:"reply"`
	ModelUsed        string       `json:"model"`
	Identity         string       `json:"identity"`
	Location         string       `json:"location,omitempty"`
	NSFW             bool         `json:"nsfw"`
	Corrections      []Correction `json:"corrections,omitempty"`
	AnnotationErrors []error      `json:"-"`
}

func (r *Result) corrected(c Correction) {
	r.Corrections = append(r.Corrections, c)
}
