package query

import (
	"strings"

	"github.com/donorline/donorline-go/internal/apierr"
	"github.com/donorline/donorline-go/internal/params"
)

const DefaultLimit = 25

type SortField struct {
	Field string
	Desc  bool
}

// Options are the paging, ordering and projection controls of a get call. Limit 0 means
// no limit.
type Options struct {
	Limit  int
	Offset int
	Sort   []SortField
	Return []string
}

// controlKeys never reach the filter set.
var controlKeys = map[string]struct{}{
	"options":       {},
	"option.limit":  {},
	"option.offset": {},
	"option.sort":   {},
	"sort":          {},
	"offset":        {},
	"limit":         {},
	"rowCount":      {},
	"return":        {},
	"version":       {},
	"debug":         {},
	"sequential":    {},
}

// SplitOptions separates control keys from filters. Precedence, lowest first: legacy
// top-level keys, "option.x" keys, then the "options" object.
func SplitOptions(bag params.Bag) (Options, params.Bag, error) {
	opts := Options{Limit: DefaultLimit}
	filters := make(params.Bag, len(bag))
	for k, v := range bag {
		if _, ok := controlKeys[k]; ok {
			continue
		}
		if strings.HasPrefix(k, "return.") {
			continue
		}
		filters[k] = v
	}

	if err := setInt(&opts.Limit, bag, "rowCount"); err != nil {
		return Options{}, nil, err
	}
	for _, key := range []string{"limit", "option.limit"} {
		if err := setInt(&opts.Limit, bag, key); err != nil {
			return Options{}, nil, err
		}
	}
	for _, key := range []string{"offset", "option.offset"} {
		if err := setInt(&opts.Offset, bag, key); err != nil {
			return Options{}, nil, err
		}
	}
	for _, key := range []string{"sort", "option.sort"} {
		if bag.Has(key) {
			opts.Sort = parseSort(bag[key])
		}
	}

	if nested, ok := asBag(bag["options"]); ok {
		if err := setInt(&opts.Limit, nested, "limit"); err != nil {
			return Options{}, nil, err
		}
		if err := setInt(&opts.Offset, nested, "offset"); err != nil {
			return Options{}, nil, err
		}
		if nested.Has("sort") {
			opts.Sort = parseSort(nested["sort"])
		}
		if nested.Has("return") {
			opts.Return = append(opts.Return, parseList(nested["return"])...)
		}
	}

	if bag.Has("return") {
		opts.Return = append(opts.Return, parseList(bag["return"])...)
	}
	for k, v := range bag {
		if field, ok := strings.CutPrefix(k, "return."); ok && field != "" {
			if b, _ := params.ToBool(v); b {
				opts.Return = append(opts.Return, field)
			}
		}
	}
	return opts, filters, nil
}

func setInt(dst *int, bag params.Bag, key string) error {
	if !bag.Has(key) {
		return nil
	}
	v, ok := bag.Int64(key)
	if !ok || v < 0 {
		return apierr.Newf(apierr.Validation, "%s must be a non-negative integer", key)
	}
	*dst = int(v)
	return nil
}

func asBag(v any) (params.Bag, bool) {
	switch t := v.(type) {
	case map[string]any:
		return params.Bag(t), true
	case params.Bag:
		return t, true
	}
	return nil, false
}

func parseList(v any) []string {
	var raw []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			raw = append(raw, params.ToString(item))
		}
	case []string:
		raw = t
	default:
		raw = strings.Split(params.ToString(v), ",")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseSort(v any) []SortField {
	var out []SortField
	for _, item := range parseList(v) {
		parts := strings.Fields(item)
		sf := SortField{Field: parts[0]}
		if len(parts) > 1 && strings.EqualFold(parts[1], "desc") {
			sf.Desc = true
		}
		out = append(out, sf)
	}
	return out
}
