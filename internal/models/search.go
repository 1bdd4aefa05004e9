package models

import "time"

// Classification is the label the pattern classifier assigns to a normalized
// search string. The three classes map one-to-one onto query strategies: an
// identifier is matched byte-for-byte, a hybrid candidate is searched both
// ways and unioned, plain text goes through the analyzer.
type Classification int

const (
	ClassPlain Classification = iota
	ClassIdentifier
	ClassHybrid
)

func (c Classification) String() string {
	switch c {
	case ClassPlain:
		return "plain"
	case ClassIdentifier:
		return "identifier"
	case ClassHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// Features are the signals the classifier extracted while deciding. They are
// carried on the response metadata for diagnostics and never persisted.
type Features struct {
	IdentifierLike bool `json:"identifier_like"`
	PathLike       bool `json:"path_like"`
	ProperNoun     bool `json:"proper_noun"`
	HasSymbols     bool `json:"has_symbols"`
	HasDigits      bool `json:"has_digits"`
	LongToken      bool `json:"long_token"`
	WordCount      int  `json:"word_count"`
}

type SearchRequest struct {
	Query      string   `json:"query"`
	Language   string   `json:"language,omitempty"`
	Fields     []string `json:"fields,omitempty"`
	MultiField bool     `json:"multi_field,omitempty"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	Sort       string   `json:"sort,omitempty"`
	ForceFresh bool     `json:"force_fresh,omitempty"`
	Hydrate    bool     `json:"hydrate,omitempty"`
	RequestID  string   `json:"request_id,omitempty"`
}

type SearchResponse struct {
	Results  []SearchResult     `json:"results"`
	Total    int64              `json:"total"`
	Page     int                `json:"page"`
	PageSize int                `json:"page_size"`
	TookMs   int64              `json:"took_ms"`
	Source   string             `json:"source"`
	Facets   map[string][]Facet `json:"facets,omitempty"`
	Metadata ResponseMetadata   `json:"metadata"`
}

type SearchResult struct {
	ID         string              `json:"id"`
	Score      float64             `json:"score"`
	Label      string              `json:"label,omitempty"`
	Summary    string              `json:"summary,omitempty"`
	Type       string              `json:"type,omitempty"`
	Subtype    string              `json:"subtype,omitempty"`
	Language   string              `json:"language,omitempty"`
	Indexable  string              `json:"indexable,omitempty"`
	Highlights map[string][]string `json:"highlights,omitempty"`
	Fields     map[string]any      `json:"fields,omitempty"`
}

type Facet struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

type ResponseMetadata struct {
	RequestID      string   `json:"request_id"`
	Source         string   `json:"source"`
	CacheHit       bool     `json:"cache_hit"`
	Stale          bool     `json:"stale"`
	Classification string   `json:"classification"`
	Features       Features `json:"features"`
	ShardsHit      int      `json:"shards_hit,omitempty"`
	TimedOut       bool     `json:"timed_out"`
}

// ChangeEvent is a document mutation flowing through the indexing pipeline.
type ChangeEvent struct {
	Type       string         `json:"type"` // CREATE, UPDATE, DELETE
	DocumentID string         `json:"document_id"`
	Collection string         `json:"collection"`
	Document   map[string]any `json:"document,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Version    int64          `json:"version"`
}

type IndexAction struct {
	Action    string         `json:"action"` // index, delete
	Index     string         `json:"index"`
	ID        string         `json:"id"`
	Routing   string         `json:"routing,omitempty"`
	Body      map[string]any `json:"body,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

type AnalyticsEvent struct {
	EventType      string    `json:"event_type"`
	QueryHash      string    `json:"query_hash"`
	Classification string    `json:"classification"`
	DurationMs     float64   `json:"duration_ms"`
	TotalHits      int64     `json:"total_hits"`
	ShardsHit      int       `json:"shards_hit"`
	TimedOut       bool      `json:"timed_out"`
	Timestamp      time.Time `json:"timestamp"`
	TraceID        string    `json:"trace_id"`
	Source         string    `json:"source"`
}
