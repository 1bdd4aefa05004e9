package orchestrator

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hwickes/archive-search/internal/models"
)

const defaultLongTokenLen = 8

var (
	// Identifier grammar: alphanumeric segments joined by '_', with a single
	// letter adjacent to a hyphenated numeric segment (KCDC_A-005). Partial
	// fragments are matched so substrings of an identifier classify the same
	// way the full identifier does.
	idFullPattern   = regexp.MustCompile(`^[a-zA-Z]+_[a-zA-Z]-\d+$`)
	idPrefixPattern = regexp.MustCompile(`^[a-zA-Z]+_[a-zA-Z]$`)
	idSuffixPattern = regexp.MustCompile(`^[a-zA-Z]-\d+$`)

	// Path/code-like alphabet: word characters, spaces, '-', '#', '/'.
	// The string must actually contain a '#' or '/' delimiter to qualify.
	pathAlphabetPattern = regexp.MustCompile(`^[\w \-#/]+$`)

	symbolPattern = regexp.MustCompile(`[^\w\s]`)
	digitPattern  = regexp.MustCompile(`\d`)
)

// PatternClassifier labels a normalized search string with the strategy class
// it belongs to. It is a pure function of its input: no state is read or
// written, so a single instance is safe for concurrent use.
type PatternClassifier struct {
	longTokenLen int
}

func NewPatternClassifier(longTokenLen int) *PatternClassifier {
	if longTokenLen <= 0 {
		longTokenLen = defaultLongTokenLen
	}
	return &PatternClassifier{longTokenLen: longTokenLen}
}

// Classify applies the decision table top to bottom, first match wins:
// identifier grammar, then hybrid heuristics, then plain. The identifier
// grammar is case-insensitive; casing in the returned features reflects the
// original string.
func (pc *PatternClassifier) Classify(text string) (models.Classification, models.Features) {
	text = strings.TrimSpace(text)
	words := strings.Fields(text)

	feats := models.Features{WordCount: len(words)}
	if text == "" {
		return models.ClassPlain, feats
	}

	feats.IdentifierLike = looksLikeID(text)
	feats.PathLike = pathAlphabetPattern.MatchString(text) && strings.ContainsAny(text, "#/")
	if feats.IdentifierLike || feats.PathLike {
		return models.ClassIdentifier, feats
	}

	for i, w := range words {
		if i > 0 && isTitleCased(w) {
			feats.ProperNoun = true
		}
		if symbolPattern.MatchString(w) {
			feats.HasSymbols = true
		}
		if digitPattern.MatchString(w) {
			feats.HasDigits = true
		}
		if utf8.RuneCountInString(w) > pc.longTokenLen {
			feats.LongToken = true
		}
	}

	if len(words) >= 2 {
		if feats.ProperNoun || feats.HasSymbols || feats.LongToken ||
			(feats.HasDigits && len(words) > 2) {
			return models.ClassHybrid, feats
		}
	}

	return models.ClassPlain, feats
}

func looksLikeID(text string) bool {
	return idFullPattern.MatchString(text) ||
		idPrefixPattern.MatchString(text) ||
		idSuffixPattern.MatchString(text)
}

// isTitleCased reports a word with an upper-case first rune and lower-case
// remainder, the proper-noun shape full-text stemmers most often miss.
func isTitleCased(w string) bool {
	runes := []rune(w)
	if len(runes) < 2 {
		return false
	}
	if !unicode.IsUpper(runes[0]) {
		return false
	}
	for _, r := range runes[1:] {
		if !unicode.IsLower(r) {
			return false
		}
	}
	return true
}
