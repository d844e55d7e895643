// Package scene owns the canonical location table: inference from free text,
// synonym resolution, privacy and the vocabulary classes used to spot a reply
// that drifted to another place.
package scene

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/welnecker/roleplay/backend/internal/analysis/rules"
)

//go:embed scenes.yaml
var defaultTable []byte

// Class groups scenes that share vocabulary.
type Class string

// Scene is one canonical location.
type Scene struct {
	Tag      string   `yaml:"tag"`
	Class    Class    `yaml:"class"`
	Private  bool     `yaml:"private"`
	Synonyms []string `yaml:"synonyms"`
	Patterns []string `yaml:"patterns"`

	compiled []*regexp.Regexp
}

// ClassDef maps a class to the words that reveal it.
type ClassDef struct {
	Name       Class  `yaml:"name"`
	Vocabulary string `yaml:"vocabulary"`

	re *regexp.Regexp
}

// Table is the ordered scene table.
type Table struct {
	MovementCues   string      `yaml:"movement_cues"`
	PrivatePattern string      `yaml:"private_pattern"`
	ClassDefs      []*ClassDef `yaml:"classes"`
	Scenes         []*Scene    `yaml:"scenes"`

	movement *regexp.Regexp
	private  *regexp.Regexp
	byLabel  map[string]*Scene
}

// Load reads a table from path, or the embedded one when path is empty.
func Load(path string) (*Table, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultTable)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scene table: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded table.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("embedded scene table is invalid: %v", err))
	}
	return t
}

// Parse decodes and compiles a YAML scene table.
func Parse(data []byte) (*Table, error) {
	t := &Table{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("decode scene table: %w", err)
	}
	var err error
	if t.MovementCues != "" {
		if t.movement, err = compile(t.MovementCues); err != nil {
			return nil, fmt.Errorf("movement cues: %w", err)
		}
	}
	if t.PrivatePattern != "" {
		if t.private, err = compile(t.PrivatePattern); err != nil {
			return nil, fmt.Errorf("private pattern: %w", err)
		}
	}
	for _, c := range t.ClassDefs {
		if c.re, err = compile(c.Vocabulary); err != nil {
			return nil, fmt.Errorf("class %s: %w", c.Name, err)
		}
	}
	t.byLabel = make(map[string]*Scene)
	for _, s := range t.Scenes {
		s.Tag = normalize(s.Tag)
		if s.Tag == "" {
			return nil, fmt.Errorf("scene without tag")
		}
		for _, p := range s.Patterns {
			re, err := compile(p)
			if err != nil {
				return nil, fmt.Errorf("scene %s: %w", s.Tag, err)
			}
			s.compiled = append(s.compiled, re)
		}
		t.byLabel[s.Tag] = s
		for _, syn := range s.Synonyms {
			if key := normalize(syn); key != "" {
				if _, taken := t.byLabel[key]; !taken {
					t.byLabel[key] = s
				}
			}
		}
	}
	return t, nil
}

func compile(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(rules.ExpandPattern(pattern, false))
}

func normalize(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// InferLocation returns the tag of the first scene whose patterns match text.
func (t *Table) InferLocation(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	for _, s := range t.Scenes {
		for _, re := range s.compiled {
			if re.MatchString(text) {
				return s.Tag, true
			}
		}
	}
	return "", false
}

// Canonical resolves a tag or synonym to its canonical tag.
func (t *Table) Canonical(label string) (string, bool) {
	s, ok := t.byLabel[normalize(label)]
	if !ok {
		return "", false
	}
	return s.Tag, true
}

// Lookup returns the scene for a tag or synonym.
func (t *Table) Lookup(label string) (*Scene, bool) {
	s, ok := t.byLabel[normalize(label)]
	return s, ok
}

// ClassOf returns the vocabulary class of a location, empty when unknown.
func (t *Table) ClassOf(label string) Class {
	if s, ok := t.Lookup(label); ok {
		return s.Class
	}
	if tag, ok := t.InferLocation(label); ok {
		return t.byLabel[tag].Class
	}
	return ""
}

// Classes lists the classes whose vocabulary appears in text, in table order.
func (t *Table) Classes(text string) []Class {
	var out []Class
	for _, c := range t.ClassDefs {
		if c.re.MatchString(text) {
			out = append(out, c.Name)
		}
	}
	return out
}

// Foreign reports whether text mentions a place of another class than the
// location. Unknown locations have no class and nothing is foreign to them.
func (t *Table) Foreign(text, location string) bool {
	own := t.ClassOf(location)
	if own == "" {
		return false
	}
	for _, c := range t.Classes(text) {
		if c != own {
			return true
		}
	}
	return false
}

// IsPrivate reports whether a location is secluded. Free-form labels that are
// not in the table are checked against the private pattern.
func (t *Table) IsPrivate(label string) bool {
	if strings.TrimSpace(label) == "" {
		return false
	}
	if s, ok := t.Lookup(label); ok && s.Private {
		return true
	}
	return t.private != nil && t.private.MatchString(label)
}

// HasMovementCue reports whether text suggests going somewhere else.
func (t *Table) HasMovementCue(text string) bool {
	return t.movement != nil && t.movement.MatchString(text)
}

// Tags returns every canonical tag in table order.
func (t *Table) Tags() []string {
	out := make([]string, 0, len(t.Scenes))
	for _, s := range t.Scenes {
		out = append(out, s.Tag)
	}
	return out
}

// Words returns the lowercase words of every tag and synonym, so free text
// that names a place can be told apart from a person's name.
func (t *Table) Words() []string {
	seen := make(map[string]struct{})
	var out []string
	for label := range t.byLabel {
		for _, w := range strings.FieldsFunc(label, func(r rune) bool { return !unicode.IsLetter(r) }) {
			if _, ok := seen[w]; ok || len([]rune(w)) < 2 {
				continue
			}
			seen[w] = struct{}{}
			out = append(out, w)
		}
	}
	sort.Strings(out)
	return out
}
