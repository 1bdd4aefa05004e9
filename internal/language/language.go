package language

import (
	"fmt"
	"strings"
	"unicode"
)

// ErrUnknownLanguage is returned for a language token the service has no
// entry for. It is surfaced to the caller rather than silently downgraded to
// a default, because changing tokenization behavior behind the client's back
// is exactly what this service exists to avoid.
var ErrUnknownLanguage = fmt.Errorf("unknown language code")

// Info describes one entry of the language base. Analyzer is the name of the
// full-text analyzer configured in the index for this language; it is empty
// for languages the index cannot tokenize (no word-boundary support), which
// forces per-word matching instead.
type Info struct {
	ISO6392  string
	ISO6391  string
	Display  string
	Analyzer string
}

var langbase = []Info{
	{ISO6392: "eng", ISO6391: "en", Display: "english", Analyzer: "english"},
	{ISO6392: "fra", ISO6391: "fr", Display: "french", Analyzer: "french"},
	{ISO6392: "deu", ISO6391: "de", Display: "german", Analyzer: "german"},
	{ISO6392: "spa", ISO6391: "es", Display: "spanish", Analyzer: "spanish"},
	{ISO6392: "ita", ISO6391: "it", Display: "italian", Analyzer: "italian"},
	{ISO6392: "por", ISO6391: "pt", Display: "portuguese", Analyzer: "portuguese"},
	{ISO6392: "zho", ISO6391: "zh", Display: "chinese", Analyzer: ""},
	{ISO6392: "bod", ISO6391: "bo", Display: "tibetan", Analyzer: ""},
	{ISO6392: "jpn", ISO6391: "ja", Display: "japanese", Analyzer: ""},
}

// Default is the language used when the request carries no override.
const Default = "en"

// Resolve maps a 2- or 3-letter language code to its Info. Region suffixes
// are dropped first, so "en-US" resolves the same as "en".
func Resolve(code string) (Info, error) {
	if code == "" {
		code = Default
	}
	code = strings.ToLower(code)
	if i := strings.IndexByte(code, '-'); i > 0 {
		code = code[:i]
	}

	switch len(code) {
	case 2:
		for _, l := range langbase {
			if l.ISO6391 == code {
				return l, nil
			}
		}
	case 3:
		for _, l := range langbase {
			if l.ISO6392 == code {
				return l, nil
			}
		}
	}
	return Info{}, fmt.Errorf("%w: %q", ErrUnknownLanguage, code)
}

// SupportsFullText reports whether every rune in text belongs to a character
// class the analyzed full-text path handles: Latin letters, digits,
// punctuation, symbols, and separators. Scripts outside that set (those the
// index has no word-boundary tokenization for) must go through per-word
// matching instead.
func SupportsFullText(text string) bool {
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
		case unicode.IsDigit(r) || unicode.IsNumber(r):
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
		case unicode.Is(unicode.Latin, r):
		default:
			return false
		}
	}
	return true
}
