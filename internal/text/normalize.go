// Package text prepares user text for speech synthesis.
//
// Normalization is language neutral: Vocu voices read both Latin and CJK
// scripts, so nothing here expands numbers or abbreviations. The normalizer
// only removes what a voice would read badly (reference markers, control
// characters, runs of repeated punctuation) and folds typographic variants to
// the plain forms.
package text

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Regex patterns for text preprocessing.
const (
	referenceRegexPattern  = `\[\d+\]|[¹²³⁴⁵⁶⁷⁸⁹⁰]+`
	whitespaceRegexPattern = `\s+`
)

// Punctuation and formatting constants.
const (
	emDash       = "—"
	enDash       = "–"
	figureDash   = "‒"
	ellipsis     = "..."
	ellipsisChar = "…"
	space        = " "
)

// sentenceEnds terminate a sentence in the scripts Vocu voices support.
const sentenceEnds = ".!?。！？；;"

// Normalizer cleans text before it is submitted for generation.
type Normalizer struct {
	referencePattern  *regexp.Regexp
	whitespacePattern *regexp.Regexp
	typography        *strings.Replacer
}

// NewNormalizer compiles the patterns once for reuse.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		referencePattern:  regexp.MustCompile(referenceRegexPattern),
		whitespacePattern: regexp.MustCompile(whitespaceRegexPattern),
		typography: strings.NewReplacer(
			emDash, "-",
			enDash, "-",
			figureDash, "-",
			ellipsisChar, ellipsis,
			"“", `"`, "”", `"`,
			"‘", "'", "’", "'",
			"\u00a0", space,
			"\u200b", "",
			"\ufeff", "",
		),
	}
}

// Normalize returns text ready for synthesis, or "" when nothing speakable
// remains.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	text = n.typography.Replace(text)
	text = stripControl(text)
	text = n.referencePattern.ReplaceAllString(text, "")
	text = collapsePunctuation(text)
	text = n.whitespacePattern.ReplaceAllString(text, space)

	return strings.TrimSpace(text)
}

// stripControl drops control characters, keeping whitespace for the
// collapse step.
func stripControl(text string) string {
	return strings.Map(func(char rune) rune {
		if unicode.IsControl(char) && !unicode.IsSpace(char) {
			return -1
		}

		return char
	}, text)
}

// collapsePunctuation keeps one of each run of identical punctuation marks.
// Periods are the exception: up to three are kept so ellipses survive.
func collapsePunctuation(text string) string {
	var (
		result strings.Builder
		last   rune
		run    int
	)

	result.Grow(len(text))

	for _, char := range text {
		if char == last && unicode.IsPunct(char) {
			run++
		} else {
			run = 1
		}

		last = char

		limit := 1
		if char == '.' {
			limit = len(ellipsis)
		}

		if run <= limit {
			result.WriteRune(char)
		}
	}

	return result.String()
}

// Split breaks normalized text into chunks of at most maxRunes runes,
// cutting after sentence ends where possible and at spaces otherwise. A
// maxRunes of zero or less returns the text as a single chunk.
func Split(text string, maxRunes int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if maxRunes <= 0 || utf8.RuneCountInString(text) <= maxRunes {
		return []string{text}
	}

	var chunks []string

	for text != "" {
		runes := []rune(text)
		if len(runes) <= maxRunes {
			chunks = append(chunks, text)

			break
		}

		cut := cutPoint(runes[:maxRunes])
		chunk := strings.TrimSpace(string(runes[:cut]))

		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		text = strings.TrimSpace(string(runes[cut:]))
	}

	return chunks
}

// cutPoint returns the rune count to keep from window: just past the last
// sentence end, else at the last space, else the whole window.
func cutPoint(window []rune) int {
	spaceAt := -1

	for i := len(window) - 1; i > 0; i-- {
		if strings.ContainsRune(sentenceEnds, window[i]) {
			return i + 1
		}

		if spaceAt < 0 && unicode.IsSpace(window[i]) {
			spaceAt = i
		}
	}

	if spaceAt > 0 {
		return spaceAt
	}

	return len(window)
}
