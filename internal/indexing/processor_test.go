package indexing

import (
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hwickes/archive-search/internal/models"
)

func testProcessor() *StreamProcessor {
	return &StreamProcessor{
		defaultLang: "en",
		logger:      zap.NewNop(),
	}
}

func TestExtractIndexables_PlainString(t *testing.T) {
	sp := testProcessor()

	doc := map[string]any{
		"label": "Kundeling Archive",
	}

	got := sp.ExtractIndexables(doc)
	if len(got) != 1 {
		t.Fatalf("expected 1 indexable, got %d", len(got))
	}
	ix := got[0]
	if ix.Field != "label" {
		t.Errorf("expected field 'label', got %q", ix.Field)
	}
	if ix.Language != "en" {
		t.Errorf("expected default language 'en', got %q", ix.Language)
	}
	if ix.Text != "Kundeling Archive" {
		t.Errorf("unexpected text %q", ix.Text)
	}
	if ix.Subtype != "Kundeling Archive" {
		t.Errorf("expected subtype to be the value itself, got %q", ix.Subtype)
	}
}

func TestExtractIndexables_PerLanguageValues(t *testing.T) {
	sp := testProcessor()

	doc := map[string]any{
		"label": map[string]any{
			"en": []any{"Kundeling Archive"},
			"bo": []any{"ཀུན་བདེ་གླིང་"},
		},
	}

	got := sp.ExtractIndexables(doc)
	if len(got) != 2 {
		t.Fatalf("expected 2 indexables, got %d", len(got))
	}

	byLang := map[string]Indexable{}
	for _, ix := range got {
		byLang[ix.Language] = ix
	}

	if byLang["en"].Text != "Kundeling Archive" {
		t.Errorf("unexpected english text %q", byLang["en"].Text)
	}
	if byLang["bo"].Text != "ཀུན་བདེ་གླིང་" {
		t.Errorf("unexpected tibetan text %q", byLang["bo"].Text)
	}

	// Subtype must be canonical across languages.
	for lang, ix := range byLang {
		if ix.Subtype != "Kundeling Archive" {
			t.Errorf("lang %s: expected canonical subtype, got %q", lang, ix.Subtype)
		}
	}
}

func TestExtractIndexables_MetadataPairs(t *testing.T) {
	sp := testProcessor()

	doc := map[string]any{
		"metadata": []any{
			map[string]any{
				"label": map[string]any{"en": []any{"Author"}},
				"value": map[string]any{
					"en": []any{"Anonymous"},
					"fr": []any{"Anonyme"},
				},
			},
		},
	}

	got := sp.ExtractIndexables(doc)
	if len(got) != 2 {
		t.Fatalf("expected 2 indexables, got %d", len(got))
	}
	for _, ix := range got {
		if ix.Field != "metadata" {
			t.Errorf("expected field 'metadata', got %q", ix.Field)
		}
		if ix.Subtype != "Author" {
			t.Errorf("expected subtype 'Author', got %q", ix.Subtype)
		}
	}
}

func TestExtractIndexables_UntaggedLanguageTakesDefault(t *testing.T) {
	sp := testProcessor()

	// Both tag spellings mean "no language"; the value belongs to the
	// default language so language-scoped searches still find it.
	for _, key := range []string{"none", "@none"} {
		t.Run(key, func(t *testing.T) {
			doc := map[string]any{
				"label": map[string]any{
					key: []any{"Untitled fragment"},
				},
			}

			got := sp.ExtractIndexables(doc)
			if len(got) != 1 {
				t.Fatalf("expected 1 indexable, got %d", len(got))
			}
			if got[0].Language != "en" {
				t.Errorf("untagged value should carry the default language, got %q", got[0].Language)
			}
		})
	}
}

func TestExtractIndexables_UnknownLanguageIndexesUntokenized(t *testing.T) {
	sp := testProcessor()

	doc := map[string]any{
		"label": map[string]any{
			"xx": []any{"mystery"},
		},
	}

	got := sp.ExtractIndexables(doc)
	if len(got) != 1 {
		t.Fatalf("expected 1 indexable, got %d", len(got))
	}
	if got[0].Language != "" {
		t.Errorf("unknown language should fall back to untokenized, got %q", got[0].Language)
	}
}

func TestExtractIndexables_SkipsEmptyValues(t *testing.T) {
	sp := testProcessor()

	doc := map[string]any{
		"label":   "   ",
		"summary": map[string]any{"en": []any{""}},
	}

	got := sp.ExtractIndexables(doc)
	if len(got) != 0 {
		t.Fatalf("expected no indexables for blank values, got %d", len(got))
	}
}

func TestCanonicalValue_PreferenceOrder(t *testing.T) {
	sp := testProcessor()

	tests := []struct {
		name  string
		value any
		want  string
	}{
		{
			name: "english wins",
			value: map[string]any{
				"fr": []any{"Auteur"},
				"en": []any{"Author"},
			},
			want: "Author",
		},
		{
			name: "any language when no english",
			value: map[string]any{
				"fr": []any{"Auteur"},
			},
			want: "Auteur",
		},
		{
			name: "deterministic pick across languages",
			value: map[string]any{
				"fr": []any{"Auteur"},
				"de": []any{"Verfasser"},
			},
			want: "Verfasser", // sorted key order: de before fr
		},
		{
			name:  "fallback to field key",
			value: map[string]any{},
			want:  "metadata",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := sp.canonicalValue(tt.value, "metadata")
			if got != tt.want {
				t.Errorf("canonicalValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIndexableID_Distinct(t *testing.T) {
	a := indexableID("doc1", Indexable{Field: "label", Language: "en", Ordinal: 0})
	b := indexableID("doc1", Indexable{Field: "label", Language: "fr", Ordinal: 1})
	c := indexableID("doc1", Indexable{Field: "label", Language: "", Ordinal: 2})

	if a == b || a == c || b == c {
		t.Errorf("indexable IDs should be distinct: %q %q %q", a, b, c)
	}
}

func TestBuildInvalidationKeys(t *testing.T) {
	event := &models.ChangeEvent{
		Type:       "UPDATE",
		DocumentID: "doc-1",
		Collection: "manifests",
	}

	patterns := buildInvalidationKeys(event)

	hasSearch := false
	hasFacets := false
	for _, p := range patterns {
		if p == "sr:*" {
			hasSearch = true
		}
		if p == "fc:manifests:*" {
			hasFacets = true
		}
	}
	if !hasSearch {
		t.Error("expected search result invalidation pattern")
	}
	if !hasFacets {
		t.Error("expected facet invalidation pattern for the collection")
	}
}

func TestBuildInvalidationKeys_NoCollection(t *testing.T) {
	event := &models.ChangeEvent{Type: "DELETE", DocumentID: "doc-2"}

	patterns := buildInvalidationKeys(event)
	if len(patterns) != 1 || patterns[0] != "sr:*" {
		t.Errorf("expected only sr:* for an event without collection, got %v", patterns)
	}
}

func TestDocumentRow_FlattensIndexables(t *testing.T) {
	sp := testProcessor()

	event := &models.ChangeEvent{
		Type:       "CREATE",
		DocumentID: "doc-7",
		Collection: "manifests",
		Document: map[string]any{
			"type": "Manifest",
			"label": map[string]any{
				"bo": []any{"ཀུན་བདེ་གླིང་"},
				"en": []any{"Kundeling Archive"},
			},
			"summary": "Estate correspondence",
		},
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	indexables := sp.ExtractIndexables(event.Document)
	row := sp.documentRow(event, "manifests", indexables)

	if row.DocumentID != "doc-7" || row.Collection != "manifests" {
		t.Errorf("unexpected identity: %q / %q", row.DocumentID, row.Collection)
	}
	if row.Label != "Kundeling Archive" {
		t.Errorf("label should prefer the default language, got %q", row.Label)
	}
	if row.Summary != "Estate correspondence" {
		t.Errorf("unexpected summary %q", row.Summary)
	}
	if row.Type != "Manifest" {
		t.Errorf("unexpected type %q", row.Type)
	}
	if !strings.Contains(row.Indexable, "ཀུན་བདེ་གླིང་") || !strings.Contains(row.Indexable, "Kundeling Archive") {
		t.Errorf("indexable should carry every language's text, got %q", row.Indexable)
	}
	if !row.UpdatedAt.Equal(event.Timestamp) {
		t.Errorf("updated_at should track the event timestamp, got %v", row.UpdatedAt)
	}
}

func TestFacetDeltas_CountsDistinctValuesOnce(t *testing.T) {
	sp := testProcessor()

	event := &models.ChangeEvent{
		Type:       "CREATE",
		DocumentID: "doc-8",
		Collection: "manifests",
		Document: map[string]any{
			"type": "Manifest",
			"label": map[string]any{
				"en": []any{"Letters", "Letters"},
				"fr": []any{"Lettres"},
			},
			"metadata": []any{
				map[string]any{
					"label": map[string]any{"en": []any{"Author"}},
					"value": map[string]any{"en": []any{"Tsering"}},
				},
			},
		},
	}

	indexables := sp.ExtractIndexables(event.Document)
	deltas := sp.facetDeltas(event, "manifests", indexables, 1)

	byKey := make(map[string]int64)
	for _, d := range deltas {
		if d.Collection != "manifests" {
			t.Errorf("unexpected collection %q", d.Collection)
		}
		byKey[d.Name+"="+d.Value] += d.Delta
	}

	for _, want := range []string{"type=Manifest", "language=en", "language=fr", "Author=Tsering"} {
		if byKey[want] != 1 {
			t.Errorf("expected exactly one +1 delta for %s, got %d (all: %v)", want, byKey[want], byKey)
		}
	}
}

func TestFacetDeltas_NegativeSignForDelete(t *testing.T) {
	sp := testProcessor()

	event := &models.ChangeEvent{
		Type:       "DELETE",
		DocumentID: "doc-9",
		Collection: "manifests",
		Document: map[string]any{
			"type":  "Manifest",
			"label": "Old maps",
		},
	}

	indexables := sp.ExtractIndexables(event.Document)
	deltas := sp.facetDeltas(event, "manifests", indexables, -1)

	if len(deltas) == 0 {
		t.Fatal("expected deltas for a delete carrying a body")
	}
	for _, d := range deltas {
		if d.Delta != -1 {
			t.Errorf("delete should decrement, got %+d for %s=%s", d.Delta, d.Name, d.Value)
		}
	}
}
