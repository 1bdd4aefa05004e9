package models

import "testing"

func TestClassificationString(t *testing.T) {
	tests := []struct {
		class Classification
		want  string
	}{
		{ClassPlain, "plain"},
		{ClassIdentifier, "identifier"},
		{ClassHybrid, "hybrid"},
		{Classification(99), "unknown"},
		{Classification(-1), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := tt.class.String()
			if got != tt.want {
				t.Errorf("Classification(%d).String() = %q, want %q", tt.class, got, tt.want)
			}
		})
	}
}

func TestSearchRequest_Defaults(t *testing.T) {
	req := SearchRequest{}
	if req.Query != "" {
		t.Error("expected empty query")
	}
	if req.Page != 0 {
		t.Error("expected zero page")
	}
	if req.PageSize != 0 {
		t.Error("expected zero page size")
	}
	if req.ForceFresh {
		t.Error("expected ForceFresh to be false")
	}
}

func TestSearchResponse_Defaults(t *testing.T) {
	resp := SearchResponse{}
	if resp.Results != nil {
		t.Error("expected nil results")
	}
	if resp.Total != 0 {
		t.Error("expected zero total")
	}
	if resp.Metadata.CacheHit {
		t.Error("expected CacheHit to be false")
	}
}
