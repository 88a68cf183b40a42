package vectorstore

import (
	"fmt"
	"strings"
)

// NormalizePath returns p with forward slashes, the form paths are stored
// and matched under whatever the client platform.
func NormalizePath(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// Condition matches a payload key against one or more values
type Condition struct {
	Key    string
	Values []any
}

// Filter holds conditions that must all match
type Filter struct {
	Must []Condition
}

// Match builds an equality condition
func Match(key string, value any) Condition {
	return Condition{Key: key, Values: []any{value}}
}

// MatchAny builds a condition satisfied by any of values
func MatchAny(key string, values ...string) Condition {
	vs := make([]any, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return Condition{Key: key, Values: vs}
}

// Where builds a filter from conditions
func Where(conds ...Condition) Filter {
	return Filter{Must: conds}
}

// And returns a copy of f with more conditions
func (f Filter) And(conds ...Condition) Filter {
	must := make([]Condition, 0, len(f.Must)+len(conds))
	must = append(must, f.Must...)
	must = append(must, conds...)
	return Filter{Must: must}
}

// IsEmpty reports whether f matches everything
func (f Filter) IsEmpty() bool {
	return len(f.Must) == 0
}

// Matches evaluates f against a payload
func (f Filter) Matches(payload map[string]any) bool {
	for _, c := range f.Must {
		v, ok := payload[c.Key]
		if !ok || !c.matches(v) {
			return false
		}
	}
	return true
}

func (c Condition) matches(v any) bool {
	s := valueString(v)
	for _, want := range c.Values {
		if valueString(want) == s {
			return true
		}
	}
	return false
}

// valueString renders scalars the same way whether they come from Go code
// or from decoded JSON, so 3 and 3.0 compare equal.
func valueString(v any) string {
	switch n := v.(type) {
	case float64:
		if n == float64(int64(n)) {
			return fmt.Sprint(int64(n))
		}
	case float32:
		if n == float32(int64(n)) {
			return fmt.Sprint(int64(n))
		}
	}
	return fmt.Sprint(v)
}
