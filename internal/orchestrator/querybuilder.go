package orchestrator

import (
	"strings"

	"github.com/hwickes/archive-search/internal/models"
)

// defaultFields is the weighted field set searched when the request does not
// ask for multi-field search explicitly.
var defaultFields = []string{"label^3", "summary^2", "indexable"}

// QueryBuilder materializes a predicate tree into the Elasticsearch bool
// query that executes it. The AND/OR structure of the tree is preserved
// exactly: each Combine node becomes its own bool clause, so an OR is never
// distributed over an AND.
type QueryBuilder struct {
	fields []string
}

func NewQueryBuilder(fields []string) *QueryBuilder {
	if len(fields) == 0 {
		fields = defaultFields
	}
	return &QueryBuilder{fields: fields}
}

func (qb *QueryBuilder) BuildESQuery(pred *models.Predicate, req *models.SearchRequest) map[string]any {
	fields := qb.fieldsFor(req)

	query := map[string]any{
		"query": qb.buildNode(pred, fields),
		"from":  req.Page * req.PageSize,
		"size":  req.PageSize,
	}

	query["highlight"] = map[string]any{
		"fields": map[string]any{
			"label":     map[string]any{},
			"summary":   map[string]any{"fragment_size": 150},
			"indexable": map[string]any{"fragment_size": 150},
		},
		"pre_tags":  []string{"<em>"},
		"post_tags": []string{"</em>"},
	}

	if req.Sort == "newest" {
		query["sort"] = []map[string]any{
			{"indexed_at": map[string]any{"order": "desc"}},
			{"_score": map[string]any{"order": "desc"}},
		}
	}

	return query
}

func (qb *QueryBuilder) fieldsFor(req *models.SearchRequest) []string {
	if len(req.Fields) > 0 {
		return req.Fields
	}
	if req.MultiField {
		return qb.fields
	}
	// Single-field search targets the indexable text only.
	return qb.fields[len(qb.fields)-1:]
}

func (qb *QueryBuilder) buildNode(p *models.Predicate, fields []string) map[string]any {
	if p.IsLeaf() {
		return qb.buildLeaf(*p.Op, fields)
	}

	children := make([]map[string]any, 0, len(p.Children))
	for _, c := range p.Children {
		children = append(children, qb.buildNode(c, fields))
	}

	if p.Combine == models.BoolOr {
		return map[string]any{
			"bool": map[string]any{
				"should":               children,
				"minimum_should_match": 1,
			},
		}
	}
	return map[string]any{
		"bool": map[string]any{
			"must": children,
		},
	}
}

func (qb *QueryBuilder) buildLeaf(op models.PrimitiveOp, fields []string) map[string]any {
	switch op.Kind {
	case models.OpExactSubstring:
		return qb.substringQuery(op.Text, fields)

	case models.OpPhrase:
		return map[string]any{
			"multi_match": map[string]any{
				"query":  op.Text,
				"type":   "phrase",
				"fields": fields,
			},
		}

	case models.OpWordAnd:
		must := make([]map[string]any, 0, len(op.Words))
		for _, w := range op.Words {
			must = append(must, qb.substringQuery(w, fields))
		}
		return map[string]any{
			"bool": map[string]any{
				"must": must,
			},
		}

	default: // OpFullText
		return map[string]any{
			"multi_match": map[string]any{
				"query":  op.Text,
				"type":   "best_fields",
				"fields": analyzedFields(fields, op.Config),
			},
		}
	}
}

// substringQuery matches text as a literal, case-insensitive substring of the
// un-analyzed keyword subfield, sidestepping the tokenizer entirely. Across
// multiple fields a hit in any one of them is a match.
func (qb *QueryBuilder) substringQuery(text string, fields []string) map[string]any {
	perField := make([]map[string]any, 0, len(fields))
	for _, f := range fields {
		name, _ := splitBoost(f)
		perField = append(perField, map[string]any{
			"wildcard": map[string]any{
				name + ".keyword": map[string]any{
					"value":            "*" + escapeWildcard(text) + "*",
					"case_insensitive": true,
				},
			},
		})
	}
	if len(perField) == 1 {
		return perField[0]
	}
	return map[string]any{
		"bool": map[string]any{
			"should":               perField,
			"minimum_should_match": 1,
		},
	}
}

// analyzedFields rewrites each field to its language-analyzed subfield,
// keeping any boost suffix. With no analyzer the base fields are used as-is.
func analyzedFields(fields []string, analyzer string) []string {
	if analyzer == "" {
		return fields
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		name, boost := splitBoost(f)
		out = append(out, name+"."+analyzer+boost)
	}
	return out
}

func splitBoost(field string) (name, boost string) {
	if i := strings.IndexByte(field, '^'); i >= 0 {
		return field[:i], field[i:]
	}
	return field, ""
}

func escapeWildcard(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`)
	return r.Replace(s)
}
