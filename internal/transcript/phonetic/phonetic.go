// Package phonetic cleans transcripts using Double Metaphone phonetic codes
// combined with Jaro-Winkler string similarity.
//
// Two operations are provided:
//
//   - [Matcher.TrimPrefix] strips the echo of the wake phrase from the start of
//     a transcript. The wake frame itself is never part of a segment, but
//     speakers often run the phrase into the command and the transcriber then
//     reports its tail ("shot, set a timer" after "hey earshot").
//   - [Matcher.Match] and [Matcher.Correct] snap misheard words back onto a
//     known vocabulary (names, rooms, devices) before the text reaches the
//     reasoning step.
//
// Matching proceeds in two stages. First, Double Metaphone codes are computed
// for every token of the input and the candidate; any shared code makes the
// candidate a phonetic match. Second, the best Jaro-Winkler score across the
// full string, the space-stripped string and each token pair ranks the
// candidates. Phonetic candidates need the phonetic threshold (default 0.70);
// others need the stricter fuzzy threshold (default 0.85).
package phonetic

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85

	// minSuffixLen is the shortest bare fragment of the wake phrase that is
	// accepted as an echo without a similarity check.
	minSuffixLen = 4
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic code is shared and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ─── Vocabulary matching ──────────────────────────────────────────────────────

// Match finds the vocabulary term most phonetically similar to word. word may
// be a single word or a space-separated n-gram.
//
// When matched is false, corrected equals word unchanged and confidence is 0.
func (m *Matcher) Match(word string, vocabulary []string) (corrected string, confidence float64, matched bool) {
	if len(vocabulary) == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	type candidate struct {
		term     string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, term := range vocabulary {
		termLower := strings.ToLower(strings.TrimSpace(term))
		if termLower == "" {
			continue
		}
		termTokens := strings.Fields(termLower)

		phoneticMatch := codesOverlap(inputCodes, codesForTokens(termTokens))
		score := bestJWScore(wordTokens, termTokens, wordLower, termLower)

		switch {
		case phoneticMatch && score >= m.phoneticThreshold:
			if !best.phonetic || score > best.score {
				best = candidate{term: term, score: score, phonetic: true}
			}
		case !phoneticMatch && !best.phonetic:
			if score >= m.fuzzyThreshold && score > best.score {
				best = candidate{term: term, score: score}
			}
		}
	}

	if best.term != "" {
		return best.term, best.score, true
	}
	return word, 0, false
}

// Correction records one substitution made by [Matcher.Correct].
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Correct replaces n-grams of text that match a vocabulary term. At each
// position the longest window (up to the word count of the longest term) is
// tried first so that multi-word terms win over partial single-word matches.
// Text that already spells a term exactly is left alone.
func (m *Matcher) Correct(text string, vocabulary []string) (string, []Correction) {
	tokens := strings.Fields(text)
	maxWords := 0
	for _, v := range vocabulary {
		maxWords = max(maxWords, len(strings.Fields(v)))
	}
	if len(tokens) == 0 || maxWords == 0 {
		return text, nil
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n := min(maxWords, len(tokens)-i)
		consumed := 0
		for ; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			lead, core, trail := splitPunct(window)
			if core == "" {
				continue
			}
			term, conf, ok := m.Match(core, vocabulary)
			if !ok || !m.covers(core, term) {
				continue
			}
			out = append(out, lead+term+trail)
			if core != term {
				corrections = append(corrections, Correction{Original: core, Corrected: term, Confidence: conf})
			}
			consumed = n
			break
		}
		if consumed == 0 {
			out = append(out, tokens[i])
			consumed = 1
		}
		i += consumed
	}
	if len(corrections) == 0 {
		return text, nil
	}
	return strings.Join(out, " "), corrections
}

// covers reports whether window, as a whole, sounds like term. Match alone
// accepts a window when any single token pairs well, which would let a window
// swallow its unrelated neighbours ("the tower of" for "Tower of Whispers").
func (m *Matcher) covers(window, term string) bool {
	a := strings.Join(normalizeTokens(strings.Fields(window)), "")
	b := strings.Join(normalizeTokens(strings.Fields(term)), "")
	if abs(len(a)-len(b)) > max(2, len(b)/4) {
		return false
	}
	return matchr.JaroWinkler(a, b, false) >= m.phoneticThreshold
}

// ─── Wake-phrase echo trimming ────────────────────────────────────────────────

// TrimPrefix removes a leading echo of phrase from text. The echo may be the
// whole phrase or only its tail, spelled differently or split across words
// ("ear shot" for "earshot"), and may be followed by punctuation.
//
// It returns the remaining text with leading punctuation and space removed,
// and whether anything was trimmed. When nothing matches, text is returned
// unchanged.
func (m *Matcher) TrimPrefix(text, phrase string) (string, bool) {
	phraseTokens := normalizeTokens(strings.Fields(phrase))
	if len(phraseTokens) == 0 {
		return text, false
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return text, false
	}
	fullPhrase := strings.Join(phraseTokens, "")

	for k := min(len(words), len(phraseTokens)+1); k >= 1; k-- {
		head := normalizeTokens(words[:k])
		if len(head) != k {
			// A token consisting only of punctuation ends the candidate.
			continue
		}
		if k == len(words) {
			// Never consume the whole transcript; a bare wake phrase has no
			// command to keep.
			continue
		}
		if m.echoes(head, phraseTokens, fullPhrase) {
			rest := strings.Join(words[k:], " ")
			return strings.TrimLeftFunc(rest, func(r rune) bool {
				return unicode.IsSpace(r) || unicode.IsPunct(r)
			}), true
		}
	}
	return text, false
}

// echoes reports whether head, a normalized run of leading transcript tokens,
// sounds like some suffix of the wake phrase.
func (m *Matcher) echoes(head, phraseTokens []string, fullPhrase string) bool {
	joined := strings.Join(head, "")
	if len(joined) >= minSuffixLen && strings.HasSuffix(fullPhrase, joined) {
		return true
	}
	headCodes := codesForTokens(head)
	for start := range phraseTokens {
		suffix := phraseTokens[start:]
		target := strings.Join(suffix, "")
		if joined == target {
			return true
		}
		if abs(len(joined)-len(target)) > max(2, len(target)/3) {
			continue
		}
		// The echo must end on the phrase's final word; this keeps a short
		// command word from being swallowed into a long similar prefix.
		last, lastTarget := head[len(head)-1], suffix[len(suffix)-1]
		if !(len(last) >= 2 && strings.HasSuffix(lastTarget, last)) &&
			matchr.JaroWinkler(last, lastTarget, false) < m.fuzzyThreshold {
			continue
		}
		threshold := m.fuzzyThreshold
		if codesOverlap(headCodes, codesForTokens(suffix)) {
			threshold = m.phoneticThreshold
		}
		if matchr.JaroWinkler(joined, target, false) >= threshold {
			return true
		}
	}
	return false
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// normalizeTokens lowercases tokens and strips everything but letters and
// digits. Tokens that become empty are dropped.
func normalizeTokens(tokens []string) []string {
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		var b strings.Builder
		for _, r := range strings.ToLower(t) {
			if unicode.IsLetter(r) || unicode.IsDigit(r) {
				b.WriteRune(r)
			}
		}
		if b.Len() > 0 {
			out = append(out, b.String())
		}
	}
	return out
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// splitPunct separates leading and trailing punctuation from s.
func splitPunct(s string) (lead, core, trail string) {
	core = strings.TrimLeftFunc(s, unicode.IsPunct)
	lead = s[:len(s)-len(core)]
	trimmed := strings.TrimRightFunc(core, unicode.IsPunct)
	trail = core[len(trimmed):]
	return lead, trimmed, trail
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore returns the highest Jaro-Winkler similarity between input and
// term across the full strings, the space-stripped strings, and every token
// pair.
func bestJWScore(inputTokens, termTokens []string, inputFull, termFull string) float64 {
	score := matchr.JaroWinkler(inputFull, termFull, false)

	if len(inputTokens) > 1 || len(termTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(termTokens, ""), false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(it, tt, false); s > score {
				score = s
			}
		}
	}
	return score
}
