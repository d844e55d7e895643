// Package rules loads the heuristic correction tables (canon rules, fidelity
// lexicon, tone substitutions) and evaluates them with one generic matcher.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

const (
	startBoundary = `(?:^|[^\p{L}\p{N}_])`
	endBoundary   = `(?:[^\p{L}\p{N}_]|$)`
)

// ExpandPattern resolves the {start}/{end} boundary tokens and applies the
// case-insensitive flag.
func ExpandPattern(pattern string, caseSensitive bool) string {
	expanded := strings.NewReplacer("{start}", startBoundary, "{end}", endBoundary).Replace(pattern)
	if caseSensitive {
		return expanded
	}
	return "(?i)" + expanded
}

// Rule is one (pattern, action) entry. Unless, when set, vetoes a match if it
// appears within Window runes after the match and before the next period.
type Rule struct {
	Name          string `yaml:"name"`
	Pattern       string `yaml:"pattern"`
	Unless        string `yaml:"unless"`
	Window        int    `yaml:"window"`
	CaseSensitive bool   `yaml:"case_sensitive"`

	re     *regexp.Regexp
	unless *regexp.Regexp
}

func (r *Rule) compile() error {
	re, err := regexp.Compile(ExpandPattern(r.Pattern, r.CaseSensitive))
	if err != nil {
		return fmt.Errorf("rule %q: %w", r.Name, err)
	}
	r.re = re
	if r.Unless != "" {
		unless, err := regexp.Compile(ExpandPattern(r.Unless, r.CaseSensitive))
		if err != nil {
			return fmt.Errorf("rule %q unless: %w", r.Name, err)
		}
		r.unless = unless
		if r.Window <= 0 {
			r.Window = 60
		}
	}
	return nil
}

// Match reports whether the rule fires anywhere in text.
func (r *Rule) Match(text string) bool {
	if r == nil || r.re == nil || text == "" {
		return false
	}
	if r.unless == nil {
		return r.re.MatchString(text)
	}
	for _, loc := range r.re.FindAllStringIndex(text, -1) {
		if !r.unless.MatchString(r.tail(text, loc[1])) {
			return true
		}
	}
	return false
}

// Captures returns the first capture group of every match, or the whole match
// when the pattern has no groups.
func (r *Rule) Captures(text string) []string {
	if r == nil || r.re == nil || text == "" {
		return nil
	}
	var out []string
	for _, m := range r.re.FindAllStringSubmatch(text, -1) {
		if len(m) > 1 {
			out = append(out, m[1])
		} else {
			out = append(out, m[0])
		}
	}
	return out
}

func (r *Rule) tail(text string, from int) string {
	rest := text[from:]
	if idx := strings.IndexByte(rest, '.'); idx >= 0 {
		rest = rest[:idx]
	}
	// leave room for the vetoing word itself
	limit := r.Window + 32
	if utf8.RuneCountInString(rest) > limit {
		runes := []rune(rest)
		rest = string(runes[:limit])
	}
	return rest
}

// Table is an ordered rule list; the first matching rule wins.
type Table []*Rule

func (t Table) compile() error {
	for _, r := range t {
		if err := r.compile(); err != nil {
			return err
		}
	}
	return nil
}

// First returns the first rule matching text.
func (t Table) First(text string) (*Rule, bool) {
	for _, r := range t {
		if r.Match(text) {
			return r, true
		}
	}
	return nil, false
}

// Any reports whether any rule matches.
func (t Table) Any(text string) bool {
	_, ok := t.First(text)
	return ok
}

// Captures collects captures of every rule in order.
func (t Table) Captures(text string) []string {
	var out []string
	for _, r := range t {
		out = append(out, r.Captures(text)...)
	}
	return out
}

// Substitution replaces a phrase case-insensitively, keeping a leading capital.
type Substitution struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`

	re *regexp.Regexp
}

func (s *Substitution) compile() error {
	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(s.From))
	if err != nil {
		return fmt.Errorf("substitution %q: %w", s.From, err)
	}
	s.re = re
	return nil
}

// Apply runs the substitution. Replacement text is literal.
func (s *Substitution) Apply(text string) string {
	if s.re == nil || text == "" {
		return text
	}
	return s.re.ReplaceAllStringFunc(text, func(match string) string {
		first, _ := utf8.DecodeRuneInString(match)
		if unicode.IsUpper(first) {
			return capitalize(s.To)
		}
		return s.To
	})
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// CanonSet holds the hard rules of one character.
type CanonSet struct {
	Directive string `yaml:"directive"`
	Rules     Table  `yaml:"rules"`
}

// Violation returns the first broken canon rule.
func (c *CanonSet) Violation(text string) (*Rule, bool) {
	if c == nil {
		return nil, false
	}
	return c.Rules.First(text)
}

// Fidelity is the lexicon of the fidelity guard.
type Fidelity struct {
	Explicit    Table    `yaml:"explicit"`
	Near        Table    `yaml:"near"`
	ThirdParty  Table    `yaml:"third_party"`
	CommonWords []string `yaml:"common_words"`
	Ignore      []string `yaml:"ignore"`
	HardStop    string   `yaml:"hard_stop"`
	SoftStop    string   `yaml:"soft_stop"`
}

// NotNames lists every word the third-party captures must skip.
func (f *Fidelity) NotNames() []string {
	out := make([]string, 0, len(f.CommonWords)+len(f.Ignore))
	out = append(out, f.CommonWords...)
	return append(out, f.Ignore...)
}

// Annotations are the cues used by best-effort fact planting.
type Annotations struct {
	UserName     string `yaml:"user_name"`
	Relationship string `yaml:"relationship"`

	userName     *regexp.Regexp
	relationship *regexp.Regexp
}

// UserNameIn extracts a self-introduced name from text.
func (a *Annotations) UserNameIn(text string) (string, bool) {
	if a.userName == nil {
		return "", false
	}
	m := a.userName.FindStringSubmatch(text)
	if len(m) < 2 || m[1] == "" {
		return "", false
	}
	return capitalize(strings.ToLower(m[1])), true
}

// RelationshipIn reports whether text establishes a relationship.
func (a *Annotations) RelationshipIn(text string) bool {
	return a.relationship != nil && a.relationship.MatchString(text)
}

// Prompt holds the fixed directives added to every prompt.
type Prompt struct {
	Style       string `yaml:"style"`
	NSFWAllowed string `yaml:"nsfw_allowed"`
	NSFWBlocked string `yaml:"nsfw_blocked"`
}

// Set is the complete rule configuration.
type Set struct {
	Canon                map[string]*CanonSet `yaml:"canon"`
	Prompt               Prompt               `yaml:"prompt"`
	FirstPersonDirective string               `yaml:"first_person_directive"`
	SceneDirective       string               `yaml:"scene_directive"`
	Fidelity             Fidelity             `yaml:"fidelity"`
	Tone                 []*Substitution      `yaml:"tone"`
	Annotations          Annotations          `yaml:"annotations"`
}

// Load reads the rule set from path, or the embedded defaults when path is empty.
func Load(path string) (*Set, error) {
	if strings.TrimSpace(path) == "" {
		return Parse(defaultRules)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(data)
}

// Default returns the embedded rule set.
func Default() *Set {
	set, err := Parse(defaultRules)
	if err != nil {
		panic(fmt.Sprintf("embedded rules are invalid: %v", err))
	}
	return set
}

// Parse decodes and compiles a YAML rule document.
func Parse(data []byte) (*Set, error) {
	set := &Set{}
	if err := yaml.Unmarshal(data, set); err != nil {
		return nil, fmt.Errorf("decode rules: %w", err)
	}
	for name, c := range set.Canon {
		if c == nil {
			continue
		}
		if err := c.Rules.compile(); err != nil {
			return nil, fmt.Errorf("canon %s: %w", name, err)
		}
	}
	for _, t := range []Table{set.Fidelity.Explicit, set.Fidelity.Near, set.Fidelity.ThirdParty} {
		if err := t.compile(); err != nil {
			return nil, fmt.Errorf("fidelity: %w", err)
		}
	}
	for _, s := range set.Tone {
		if err := s.compile(); err != nil {
			return nil, err
		}
	}
	if err := set.Annotations.compile(); err != nil {
		return nil, err
	}
	return set, nil
}

func (a *Annotations) compile() error {
	var err error
	if a.UserName != "" {
		if a.userName, err = regexp.Compile(ExpandPattern(a.UserName, false)); err != nil {
			return fmt.Errorf("annotation user_name: %w", err)
		}
	}
	if a.Relationship != "" {
		if a.relationship, err = regexp.Compile(ExpandPattern(a.Relationship, false)); err != nil {
			return fmt.Errorf("annotation relationship: %w", err)
		}
	}
	return nil
}

// CanonFor returns the canon rules of a character, matched case-insensitively.
func (s *Set) CanonFor(character string) *CanonSet {
	for name, c := range s.Canon {
		if strings.EqualFold(name, character) {
			return c
		}
	}
	return nil
}

// SceneRewrite renders the scene rewrite directive for a location.
func (s *Set) SceneRewrite(location string) string {
	return strings.ReplaceAll(s.SceneDirective, "{location}", location)
}

// StyleDirective renders the style directive for a paragraph size.
func (s *Set) StyleDirective(sentences int) string {
	return strings.ReplaceAll(s.Prompt.Style, "{sentences}", strconv.Itoa(sentences))
}

// NSFWDirective picks the directive for the current gate state.
func (s *Set) NSFWDirective(allowed bool) string {
	if allowed {
		return s.Prompt.NSFWAllowed
	}
	return s.Prompt.NSFWBlocked
}

// Soften applies the tone substitution table in order.
func (s *Set) Soften(text string) string {
	for _, sub := range s.Tone {
		text = sub.Apply(text)
	}
	return text
}
