package orchestrator

import (
	"errors"
	"strings"

	"github.com/hwickes/archive-search/internal/language"
	"github.com/hwickes/archive-search/internal/models"
)

// ErrEmptyQuery marks a query that is empty after normalization. Callers
// translate it to a zero-result response without ever reaching the index.
var ErrEmptyQuery = errors.New("empty query")

// StrategySelector turns a classification into the predicate tree the
// execution adapter will run. Every branch yields at least one leaf; the
// only way to get no predicate is an empty query, which is an explicit error.
type StrategySelector struct{}

func NewStrategySelector() *StrategySelector {
	return &StrategySelector{}
}

// Select builds the predicate for a normalized query string.
//
// Identifiers get a single exact-substring leaf: the literal byte sequence is
// matched regardless of how the tokenizer would split or drop its segments.
// Hybrid candidates are the union of the analyzed full-text query and a
// verbatim all-words-present query, so a stemmer blind spot on one side never
// silently drops a document the other side can find. Plain text takes the
// analyzed path when the language can tokenize it, per-word matching when it
// cannot.
func (ss *StrategySelector) Select(text string, class models.Classification, lang language.Info) (*models.Predicate, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyQuery
	}

	switch class {
	case models.ClassIdentifier:
		return models.Leaf(models.ExactSubstring(text)), nil

	case models.ClassHybrid:
		return models.Or(
			models.Leaf(models.FullText(text, lang.Analyzer)),
			models.Leaf(models.WordAnd(strings.Fields(text))),
		), nil

	default:
		if lang.Analyzer != "" && language.SupportsFullText(text) {
			return models.Leaf(models.FullText(text, lang.Analyzer)), nil
		}
		return models.Leaf(models.WordAnd(strings.Fields(text))), nil
	}
}
