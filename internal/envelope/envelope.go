package envelope

import (
	"encoding/json"
	"fmt"
	"io"

	"finitefield.org/edu-storefront/internal/record"
)

// PageMeta carries pagination for paginated envelopes.
type PageMeta struct {
	CurrentPage int `json:"currentPage"`
	LastPage    int `json:"lastPage"`
}

// HasMore is the canonical "more to load" definition.
func (m PageMeta) HasMore() bool { return m.CurrentPage < m.LastPage }

// Result is the flat list of records extracted from an envelope.
type Result struct {
	Items []record.Record
	Page  *PageMeta
}

// HasMore reports whether another page exists. Absent pagination means no more pages.
func (r Result) HasMore() bool {
	return r.Page != nil && r.Page.HasMore()
}

// rule matches one envelope shape and extracts its records. Rules are evaluated in table order and
// the first match wins, even when a later rule would match more specifically.
type rule struct {
	name  string
	apply func(v any) (Result, bool)
}

// ruleNone names the empty result for unknown shapes.
const ruleNone = "none"

var rules = []rule{
	{name: "array", apply: bareArray},
	{name: "success-data-array", apply: successDataArray},
	{name: "success-paginated", apply: successPaginated},
	{name: "nested-data", apply: nestedData},
}

// Normalize extracts records and optional pagination from an arbitrary decoded backend response.
// Unknown shapes degrade to an empty list.
func Normalize(v any) Result {
	_, res := match(v)
	return res
}

// match is Normalize that also reports the name of the rule that matched, ruleNone otherwise.
func match(v any) (string, Result) {
	for _, r := range rules {
		if res, ok := r.apply(v); ok {
			return r.name, res
		}
	}
	return ruleNone, Result{Items: []record.Record{}}
}

// Decode reads one JSON value, keeping numbers as json.Number so identifiers keep their precision.
func Decode(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("envelope: decode: %w", err)
	}
	return v, nil
}

func bareArray(v any) (Result, bool) {
	list, ok := record.List(v)
	if !ok {
		return Result{}, false
	}
	return Result{Items: records(list)}, true
}

func successDataArray(v any) (Result, bool) {
	env, ok := record.From(v)
	if !ok || !env.Bool("success") {
		return Result{}, false
	}
	list, ok := env.Slice("data")
	if !ok {
		return Result{}, false
	}
	return Result{Items: records(list)}, true
}

func successPaginated(v any) (Result, bool) {
	env, ok := record.From(v)
	if !ok || !env.Bool("success") {
		return Result{}, false
	}
	return paginated(env)
}

func nestedData(v any) (Result, bool) {
	env, ok := record.From(v)
	if !ok {
		return Result{}, false
	}
	return paginated(env)
}

func paginated(env record.Record) (Result, bool) {
	data, ok := env.Map("data")
	if !ok {
		return Result{}, false
	}
	list, ok := data.Slice("data")
	if !ok {
		return Result{}, false
	}
	return Result{Items: records(list), Page: pageMeta(data)}, true
}

func pageMeta(data record.Record) *PageMeta {
	current, hasCurrent := data.Int("currentPage", "current_page")
	last, hasLast := data.Int("lastPage", "last_page")
	if !hasCurrent && !hasLast {
		return nil
	}
	if !hasCurrent {
		current = 1
	}
	if !hasLast {
		last = current
	}
	return &PageMeta{CurrentPage: current, LastPage: last}
}

func records(list []any) []record.Record {
	out := make([]record.Record, 0, len(list))
	for _, item := range list {
		if rec, ok := record.From(item); ok {
			out = append(out, rec)
		}
	}
	return out
}
