package db

import (
	"fmt"
	"reflect"
)

// MatchFilters reports whether record satisfies every filter by equality.
// Numeric values are compared by value, so a filter of int 3 matches the
// float64 3 that JSON decoding produces.
func MatchFilters(record Record, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := record[key]
		if !ok {
			return false
		}
		if !looseEqual(got, want) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// Compare orders two record values: numbers numerically, strings
// lexicographically, everything else by formatted representation. It backs
// the stable single-column sort in Query.
func Compare(a, b any) int {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		}
		return 0
	}

	fa, fb := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case fa < fb:
		return -1
	case fa > fb:
		return 1
	}
	return 0
}
