// Package textproc formats model output: it removes stage-direction markers,
// softens tone, re-chunks prose into short paragraphs and removes sentences
// repeated from the previous reply.
package textproc

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// DefaultMaxSentences is the paragraph size used when Options leaves it unset.
const DefaultMaxSentences = 2

// backslashes are parked on a private-use rune while regexps run
const shield = "\uE000"

var (
	leadingMarker = regexp.MustCompile(`^\s*(?:\([^()\[\]]*\)|\[[^()\[\]]*\])\s*`)
	blankLine     = regexp.MustCompile(`\n\s*\n`)
)

// Options tunes Sanitize.
type Options struct {
	// MaxSentences per paragraph, DefaultMaxSentences when <= 0.
	MaxSentences int
	// Drop removes a sentence when it returns true, e.g. a sentence set in
	// another scene. If every sentence would be dropped nothing is.
	Drop func(sentence string) bool
	// Soften rewrites a sentence, typically the tone substitution table.
	Soften func(sentence string) string
}

// TransformError reports a failure inside a text transform. Callers fall back
// to the untransformed text.
type TransformError struct {
	Op  string
	Err error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("textproc %s: %v", e.Op, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// Sanitize cleans a reply. Applying it twice gives the same result as once.
func Sanitize(text string, opts Options) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = text
			err = &TransformError{Op: "sanitize", Err: fmt.Errorf("%v", r)}
		}
	}()

	maxSentences := opts.MaxSentences
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}

	shielded := strings.ReplaceAll(text, `\`, shield)
	sentences := collectSentences(shielded)
	if opts.Drop != nil {
		sentences = keepUnless(sentences, opts.Drop)
	}
	if opts.Soften != nil {
		for i, s := range sentences {
			sentences[i] = collapse(opts.Soften(s))
		}
	}

	var paragraphs []string
	for start := 0; start < len(sentences); start += maxSentences {
		end := start + maxSentences
		if end > len(sentences) {
			end = len(sentences)
		}
		paragraphs = append(paragraphs, joinSentences(sentences[start:end]))
	}
	return strings.ReplaceAll(strings.Join(paragraphs, "\n\n"), shield, `\`), nil
}

// StripForeignSentences drops every sentence for which foreign returns true
// and keeps the paragraph layout. The input is returned unchanged when nothing
// would remain.
func StripForeignSentences(text string, foreign func(sentence string) bool) string {
	if foreign == nil || strings.TrimSpace(text) == "" {
		return text
	}
	var paragraphs []string
	for _, p := range splitParagraphs(text) {
		kept := make([]string, 0, 4)
		for _, s := range SplitSentences(p) {
			if !foreign(s) {
				kept = append(kept, s)
			}
		}
		if len(kept) > 0 {
			paragraphs = append(paragraphs, joinSentences(kept))
		}
	}
	if len(paragraphs) == 0 {
		return text
	}
	return strings.Join(paragraphs, "\n\n")
}

// Dedupe removes sentences already said in previous and repeated paragraphs.
// It never turns non-empty text into an empty reply.
func Dedupe(text, previous string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	said := make(map[string]struct{})
	for _, s := range SplitSentences(previous) {
		if key := fingerprint(s); key != "" {
			said[key] = struct{}{}
		}
	}

	seen := make(map[string]struct{})
	var paragraphs []string
	for _, p := range splitParagraphs(text) {
		kept := make([]string, 0, 4)
		for _, s := range SplitSentences(p) {
			if _, dup := said[fingerprint(s)]; dup {
				continue
			}
			kept = append(kept, s)
		}
		if len(kept) == 0 {
			continue
		}
		joined := joinSentences(kept)
		key := fingerprint(joined)
		if _, dup := seen[key]; dup && key != "" {
			continue
		}
		seen[key] = struct{}{}
		paragraphs = append(paragraphs, joined)
	}
	if len(paragraphs) == 0 {
		return strings.TrimSpace(text)
	}
	return strings.Join(paragraphs, "\n\n")
}

// SplitSentences splits text at terminal punctuation followed by whitespace.
// Line breaks also end a sentence. Bracketed spans are never split.
func SplitSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, splitLine(line)...)
	}
	return out
}

func splitLine(line string) []string {
	runes := []rune(line)
	paired := pairedBrackets(runes)
	var out []string
	depth := 0
	start := 0
	emit := func(end int) {
		if s := collapse(string(runes[start:end])); s != "" {
			out = append(out, s)
		}
		start = end
	}
	for i := 0; i < len(runes); i++ {
		switch r := runes[i]; {
		case isOpener(r) || isBracketCloser(r):
			if !paired[i] {
				continue
			}
			if isOpener(r) {
				depth++
			} else {
				depth--
			}
		case isTerminal(r) && depth == 0:
			j := i + 1
			for j < len(runes) && (isTerminal(runes[j]) || isCloser(runes[j])) {
				j++
			}
			if j == len(runes) || unicode.IsSpace(runes[j]) {
				emit(j)
			}
			i = j - 1
		}
	}
	emit(len(runes))
	return out
}

// pairedBrackets marks the brackets that have a partner on the same line.
// Only paired brackets hold a span together; a stray "(" is plain text.
func pairedBrackets(runes []rune) []bool {
	paired := make([]bool, len(runes))
	var open []int
	for i, r := range runes {
		switch {
		case isOpener(r):
			open = append(open, i)
		case isBracketCloser(r) && len(open) > 0:
			o := open[len(open)-1]
			open = open[:len(open)-1]
			paired[o], paired[i] = true, true
		}
	}
	return paired
}

func collectSentences(text string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = stripMarkers(line)
		for _, s := range splitLine(line) {
			if s = stripMarkers(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func stripMarkers(s string) string {
	for {
		loc := leadingMarker.FindStringIndex(s)
		if loc == nil {
			return strings.TrimSpace(s)
		}
		s = s[loc[1]:]
	}
}

func keepUnless(sentences []string, drop func(string) bool) []string {
	kept := make([]string, 0, len(sentences))
	for _, s := range sentences {
		if !drop(s) {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return sentences
	}
	return kept
}

// joinSentences puts a sentence on the current line only when splitting the
// line again yields the same sentences; otherwise it starts a new line.
func joinSentences(sentences []string) string {
	var lines []string
	var onLine []string
	for _, s := range sentences {
		if n := len(lines); n > 0 {
			candidate := lines[n-1] + " " + s
			want := append(onLine[:len(onLine):len(onLine)], s)
			if slices.Equal(splitLine(candidate), want) {
				lines[n-1] = candidate
				onLine = want
				continue
			}
		}
		lines = append(lines, s)
		onLine = []string{s}
	}
	return strings.Join(lines, "\n")
}

func splitParagraphs(text string) []string {
	var out []string
	for _, p := range blankLine.Split(strings.TrimSpace(text), -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// fingerprint lowercases and keeps letters and digits only.
func fingerprint(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isOpener(r rune) bool { return r == '(' || r == '[' }

func isBracketCloser(r rune) bool { return r == ')' || r == ']' }

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', '»', ')', ']':
		return true
	}
	return false
}
