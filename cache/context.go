package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Intent is what the caller wants back for a query.
type Intent string

const (
	// IntentQuery returns rows.
	IntentQuery Intent = "query"
	// IntentSummary returns an aggregate or narrative answer.
	IntentSummary Intent = "summary"
)

// ParseIntent maps s to an Intent. Empty means IntentQuery.
func ParseIntent(s string) (Intent, error) {
	switch Intent(strings.ToLower(strings.TrimSpace(s))) {
	case "", IntentQuery:
		return IntentQuery, nil
	case IntentSummary:
		return IntentSummary, nil
	}
	return "", fmt.Errorf("%w: unknown intent %q", ErrInvalidInput, s)
}

// QueryContext is the part of a request, besides its text, that changes the
// answer. Two requests share a cache entry only when both the normalized
// text and the context match.
type QueryContext struct {
	EnableSpatial bool   `json:"enable_spatial" yaml:"enable_spatial"`
	Intent        Intent `json:"query_intent" yaml:"query_intent"`
	IncludeSQL    bool   `json:"include_sql" yaml:"include_sql"`
}

// DefaultContext is spatial, row-returning, without SQL text.
func DefaultContext() QueryContext {
	return QueryContext{EnableSpatial: true, Intent: IntentQuery}
}

// Normalized returns qc with its intent resolved, or ErrInvalidInput.
func (qc QueryContext) Normalized() (QueryContext, error) {
	in, err := ParseIntent(string(qc.Intent))
	if err != nil {
		return QueryContext{}, err
	}
	qc.Intent = in
	return qc, nil
}

// fields lists the context as a flat map; every field appears, so the
// canonical form is exhaustive.
func (qc QueryContext) fields() map[string]any {
	return map[string]any{
		"enable_spatial": qc.EnableSpatial,
		"include_sql":    qc.IncludeSQL,
		"query_intent":   string(qc.Intent),
	}
}

// Canonical returns the context as JSON with sorted keys and no
// whitespace. The intent is normalized first.
func (qc QueryContext) Canonical() ([]byte, error) {
	n, err := qc.Normalized()
	if err != nil {
		return nil, err
	}
	return canonicalize(n.fields())
}

// ParseContext decodes canonical (or any) context JSON.
func ParseContext(data []byte) (QueryContext, error) {
	var qc QueryContext
	if len(data) == 0 {
		return DefaultContext(), nil
	}
	if err := json.Unmarshal(data, &qc); err != nil {
		return QueryContext{}, fmt.Errorf("%w: context: %v", ErrInvalidInput, err)
	}
	return qc.Normalized()
}

// canonicalize renders a map with sorted keys, recursing into nested maps
// and slices. Scalars use encoding/json.
func canonicalize(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := canonicalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(append(append(out, kb...), ':'), vb...)
		}
		return append(out, '}'), nil
	case []any:
		out := []byte{'['}
		for i, e := range val {
			if i > 0 {
				out = append(out, ',')
			}
			eb, err := canonicalize(e)
			if err != nil {
				return nil, err
			}
			out = append(out, eb...)
		}
		return append(out, ']'), nil
	default:
		return json.Marshal(v)
	}
}
