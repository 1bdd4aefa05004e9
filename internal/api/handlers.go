package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/hwickes/archive-search/internal/language"
	"github.com/hwickes/archive-search/internal/models"
	"github.com/hwickes/archive-search/internal/orchestrator"
)

const maxRequestBodySize = 1 << 20 // 1 MB

const maxQueryLen = 1000

type Handler struct {
	orchestrator *orchestrator.Orchestrator
	logger       *zap.Logger
}

func NewHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *Handler {
	return &Handler{
		orchestrator: orch,
		logger:       logger,
	}
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := RequestIDFromContext(ctx)

	req, err := h.parseSearchRequest(r)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Query == "" {
		h.writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}
	req.RequestID = requestID

	resp, err := h.orchestrator.Search(ctx, req)
	if err != nil {
		if errors.Is(err, language.ErrUnknownLanguage) {
			h.writeError(w, http.StatusBadRequest, "unknown_language", err.Error())
			return
		}
		h.logger.Error("search failed",
			zap.String("request_id", requestID),
			zap.String("query", req.Query),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "search_error", "Search service temporarily unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Classify exposes the dispatch decision for a query without executing it:
// the normalized text, the classification with its feature signals, and the
// predicate tree that would be materialized.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		h.writeError(w, http.StatusBadRequest, "missing_query", "Query parameter 'q' is required")
		return
	}
	if len(query) > maxQueryLen {
		query = query[:maxQueryLen]
	}

	normalized, class, feats, pred := h.orchestrator.Classify(query)

	h.writeJSON(w, http.StatusOK, map[string]any{
		"query":          query,
		"normalized":     normalized,
		"classification": class.String(),
		"features":       feats,
		"predicate":      describePredicate(pred),
	})
}

func (h *Handler) Facets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	collection := r.URL.Query().Get("collection")
	if collection == "" {
		collection = "manifests"
	}
	lang := r.URL.Query().Get("language")

	facets, err := h.orchestrator.Facets(ctx, collection, lang)
	if err != nil {
		if errors.Is(err, language.ErrUnknownLanguage) {
			h.writeError(w, http.StatusBadRequest, "unknown_language", err.Error())
			return
		}
		h.logger.Error("facet query failed",
			zap.String("collection", collection),
			zap.Error(err),
		)
		h.writeError(w, http.StatusInternalServerError, "facets_error", "Facet service temporarily unavailable")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"collection": collection,
		"facets":     facets,
	})
}

// describePredicate renders the predicate tree in a transport-neutral shape
// so the diagnostic output is readable without knowing the index's DSL.
func describePredicate(pred *models.Predicate) any {
	if pred == nil {
		return nil
	}
	if pred.IsLeaf() {
		node := map[string]any{"op": pred.Op.Kind.String()}
		if pred.Op.Text != "" {
			node["text"] = pred.Op.Text
		}
		if len(pred.Op.Words) > 0 {
			node["words"] = pred.Op.Words
		}
		return node
	}

	children := make([]any, 0, len(pred.Children))
	for _, c := range pred.Children {
		children = append(children, describePredicate(c))
	}
	return map[string]any{
		"combine":  pred.Combine.String(),
		"children": children,
	}
}

func (h *Handler) parseSearchRequest(r *http.Request) (*models.SearchRequest, error) {
	if r.Method == http.MethodPost {
		var req models.SearchRequest
		limited := io.LimitReader(r.Body, maxRequestBodySize)
		if err := json.NewDecoder(limited).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	// GET request
	q := r.URL.Query()
	req := &models.SearchRequest{
		Query:    q.Get("q"),
		Language: q.Get("language"),
		Sort:     q.Get("sort"),
	}

	if f := q.Get("fields"); f != "" {
		for _, field := range strings.Split(f, ",") {
			field = strings.TrimSpace(field)
			if field != "" {
				req.Fields = append(req.Fields, field)
			}
		}
	}

	if p := q.Get("page"); p != "" {
		page, err := strconv.Atoi(p)
		if err == nil && page >= 0 {
			req.Page = page
		}
	}

	if ps := q.Get("page_size"); ps != "" {
		pageSize, err := strconv.Atoi(ps)
		if err == nil && pageSize > 0 {
			req.PageSize = pageSize
		}
	}

	if q.Get("multi_field") == "true" {
		req.MultiField = true
	}
	if q.Get("force_fresh") == "true" {
		req.ForceFresh = true
	}
	if q.Get("hydrate") == "true" {
		req.Hydrate = true
	}

	return req, nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("writing json response", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	h.writeJSON(w, status, map[string]string{
		"error": message,
		"code":  code,
	})
}
