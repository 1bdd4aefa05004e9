package models

// OpKind tags the primitive query variants the execution adapter understands.
type OpKind int

const (
	// OpExactSubstring matches the literal byte sequence anywhere in the
	// indexable text, bypassing the tokenizer entirely.
	OpExactSubstring OpKind = iota
	// OpPhrase matches the tokens in order through the analyzer.
	OpPhrase
	// OpFullText is analyzed, stemmed full-text matching.
	OpFullText
	// OpWordAnd requires every word to appear verbatim (case-insensitive
	// substring) in the indexable text.
	OpWordAnd
)

func (k OpKind) String() string {
	switch k {
	case OpExactSubstring:
		return "exact_substring"
	case OpPhrase:
		return "phrase"
	case OpFullText:
		return "fulltext"
	case OpWordAnd:
		return "word_and"
	default:
		return "unknown"
	}
}

// PrimitiveOp is a single leaf query. Text carries the original casing; case
// folding is the execution adapter's concern. Words is populated only for
// OpWordAnd, Config (a language analyzer token) only for OpFullText.
type PrimitiveOp struct {
	Kind   OpKind
	Text   string
	Words  []string
	Config string
}

func ExactSubstring(text string) PrimitiveOp {
	return PrimitiveOp{Kind: OpExactSubstring, Text: text}
}

func Phrase(text string) PrimitiveOp {
	return PrimitiveOp{Kind: OpPhrase, Text: text}
}

func FullText(text, config string) PrimitiveOp {
	return PrimitiveOp{Kind: OpFullText, Text: text, Config: config}
}

func WordAnd(words []string) PrimitiveOp {
	return PrimitiveOp{Kind: OpWordAnd, Words: words}
}

// BoolOp combines predicate subtrees.
type BoolOp int

const (
	BoolAnd BoolOp = iota
	BoolOr
)

func (b BoolOp) String() string {
	if b == BoolOr {
		return "or"
	}
	return "and"
}

// Predicate is a boolean tree over primitive query operations. A node is
// either a leaf (Op set, Children nil) or a combination (Children non-empty).
// A well-formed tree always has at least one leaf; OR marks heuristic
// fallbacks where either strategy finding a document is acceptable, AND
// requires all children to match.
type Predicate struct {
	Op       *PrimitiveOp
	Combine  BoolOp
	Children []*Predicate
}

func Leaf(op PrimitiveOp) *Predicate {
	return &Predicate{Op: &op}
}

func And(children ...*Predicate) *Predicate {
	return &Predicate{Combine: BoolAnd, Children: children}
}

func Or(children ...*Predicate) *Predicate {
	return &Predicate{Combine: BoolOr, Children: children}
}

func (p *Predicate) IsLeaf() bool {
	return p != nil && p.Op != nil
}

// Leaves returns the primitive operations in tree order.
func (p *Predicate) Leaves() []PrimitiveOp {
	if p == nil {
		return nil
	}
	if p.Op != nil {
		return []PrimitiveOp{*p.Op}
	}
	var out []PrimitiveOp
	for _, c := range p.Children {
		out = append(out, c.Leaves()...)
	}
	return out
}
