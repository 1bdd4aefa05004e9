package cache

import (
	"testing"

	"github.com/hwickes/archive-search/internal/models"
)

func TestHashString(t *testing.T) {
	// Deterministic
	h1 := hashString("test")
	h2 := hashString("test")
	if h1 != h2 {
		t.Errorf("hashString not deterministic: %q != %q", h1, h2)
	}

	// Different inputs produce different hashes
	h3 := hashString("other")
	if h1 == h3 {
		t.Error("different inputs should produce different hashes")
	}

	// Non-empty
	if h1 == "" {
		t.Error("hash should not be empty")
	}

	// Empty string is valid
	h4 := hashString("")
	if h4 == "" {
		t.Error("hash of empty string should not be empty")
	}
}

func TestBuildSearchKey_Deterministic(t *testing.T) {
	rc := &RedisCache{}

	req := &models.SearchRequest{
		Query:    "kundeling archives",
		Language: "en",
		Page:     0,
		PageSize: 20,
		Sort:     "newest",
	}

	k1 := rc.buildSearchKey(req)
	k2 := rc.buildSearchKey(req)
	if k1 != k2 {
		t.Errorf("buildSearchKey not deterministic: %q != %q", k1, k2)
	}
	if k1 == "" {
		t.Error("search key should not be empty")
	}
	// Should have sr: prefix
	if len(k1) < 3 || k1[:3] != "sr:" {
		t.Errorf("expected 'sr:' prefix, got %q", k1)
	}
}

func TestBuildSearchKey_DifferentQueriesProduceDifferentKeys(t *testing.T) {
	rc := &RedisCache{}

	req1 := &models.SearchRequest{Query: "kundeling", PageSize: 20}
	req2 := &models.SearchRequest{Query: "lhasa", PageSize: 20}

	k1 := rc.buildSearchKey(req1)
	k2 := rc.buildSearchKey(req2)
	if k1 == k2 {
		t.Error("different queries should produce different keys")
	}
}

func TestBuildSearchKey_DifferentPagesProduceDifferentKeys(t *testing.T) {
	rc := &RedisCache{}

	req1 := &models.SearchRequest{Query: "kundeling", Page: 0, PageSize: 20}
	req2 := &models.SearchRequest{Query: "kundeling", Page: 1, PageSize: 20}

	k1 := rc.buildSearchKey(req1)
	k2 := rc.buildSearchKey(req2)
	if k1 == k2 {
		t.Error("different pages should produce different keys")
	}
}

func TestBuildSearchKey_LanguageAffectsKey(t *testing.T) {
	rc := &RedisCache{}

	req1 := &models.SearchRequest{Query: "kundeling", Language: "en", PageSize: 20}
	req2 := &models.SearchRequest{Query: "kundeling", Language: "fr", PageSize: 20}

	k1 := rc.buildSearchKey(req1)
	k2 := rc.buildSearchKey(req2)
	if k1 == k2 {
		t.Error("language should affect cache key")
	}
}

func TestBuildSearchKey_FieldsAffectKey(t *testing.T) {
	rc := &RedisCache{}

	req1 := &models.SearchRequest{Query: "kundeling", PageSize: 20}
	req2 := &models.SearchRequest{
		Query:    "kundeling",
		PageSize: 20,
		Fields:   []string{"label^3"},
	}

	k1 := rc.buildSearchKey(req1)
	k2 := rc.buildSearchKey(req2)
	if k1 == k2 {
		t.Error("fields should affect cache key")
	}
}

func TestBuildSearchKey_MultiFieldAffectsKey(t *testing.T) {
	rc := &RedisCache{}

	req1 := &models.SearchRequest{Query: "kundeling", PageSize: 20}
	req2 := &models.SearchRequest{Query: "kundeling", PageSize: 20, MultiField: true}

	k1 := rc.buildSearchKey(req1)
	k2 := rc.buildSearchKey(req2)
	if k1 == k2 {
		t.Error("multi-field flag should affect cache key")
	}
}

func TestBuildStaleKey_HasStalePrefix(t *testing.T) {
	rc := &RedisCache{}

	req := &models.SearchRequest{Query: "kundeling", PageSize: 20}
	key := rc.buildStaleKey(req)

	if len(key) < 9 || key[:9] != "sr:stale:" {
		t.Errorf("expected 'sr:stale:' prefix, got %q", key)
	}
}

func TestBuildStaleKey_DifferentFromSearchKey(t *testing.T) {
	rc := &RedisCache{}

	req := &models.SearchRequest{Query: "kundeling", PageSize: 20}
	searchKey := rc.buildSearchKey(req)
	staleKey := rc.buildStaleKey(req)

	if searchKey == staleKey {
		t.Error("search key and stale key should be different")
	}
}
