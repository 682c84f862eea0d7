package params

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Bag is one call's loosely typed input. Values arrive from JSON (json.Number, string,
// bool, []any, map[string]any) or from Go callers (ints, floats).
type Bag map[string]any

// Clone returns a shallow copy. Nested maps and slices are shared.
func (b Bag) Clone() Bag {
	out := make(Bag, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Has reports whether key holds a usable value: present, non-nil and not an empty string.
func (b Bag) Has(key string) bool {
	v, ok := b[key]
	return ok && present(v)
}

func (b Bag) String(key string) string {
	if !b.Has(key) {
		return ""
	}
	return ToString(b[key])
}

func (b Bag) Int64(key string) (int64, bool) {
	if !b.Has(key) {
		return 0, false
	}
	return ToInt64(b[key])
}

func (b Bag) Float(key string) (float64, bool) {
	if !b.Has(key) {
		return 0, false
	}
	return ToFloat(b[key])
}

func (b Bag) Bool(key string) (bool, bool) {
	if !b.Has(key) {
		return false, false
	}
	return ToBool(b[key])
}

// Merge returns a copy of b with every key of other that b does not already hold.
func (b Bag) Merge(other Bag) Bag {
	out := b.Clone()
	for k, v := range other {
		if !out.Has(k) {
			out[k] = v
		}
	}
	return out
}

func present(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok && s == "" {
		return false
	}
	return true
}

func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		if t {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(t)
	}
}

func ToInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		f, err := t.Float64()
		if err != nil || f != math.Trunc(f) {
			return 0, false
		}
		return int64(f), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func ToFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		s := strings.ReplaceAll(strings.TrimSpace(t), ",", "")
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func ToBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "yes", "on":
			return true, true
		case "0", "false", "no", "off", "":
			return false, true
		}
		return false, false
	default:
		if i, ok := ToInt64(v); ok {
			return i != 0, true
		}
		return false, false
	}
}
