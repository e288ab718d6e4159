package vtable

import (
	"sort"
	"strconv"
	"strings"

	"tabel/internal/store"
)

// ParseSortRules разбирает [["age","DESC"],["name","ASC"]].
// Правило, не являющееся парой [поле, направление], пропускается.
func ParseSortRules(raw []any) []SortRule {
	var out []SortRule
	for _, item := range raw {
		pair, ok := item.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		field, ok1 := pair[0].(string)
		dir, ok2 := pair[1].(string)
		if !ok1 || !ok2 || strings.TrimSpace(field) == "" {
			continue
		}
		switch strings.ToUpper(strings.TrimSpace(dir)) {
		case "ASC":
			out = append(out, SortRule{Field: field})
		case "DESC":
			out = append(out, SortRule{Field: field, Desc: true})
		}
	}
	return out
}

// SortRows: устойчивая сортировка по правилам в порядке приоритета.
func SortRows(rows []Row, rules []SortRule) {
	if len(rules) == 0 {
		return
	}
	sort.SliceStable(rows, func(i, j int) bool {
		for _, r := range rules {
			c := compareValues(rows[i][r.Field], rows[j][r.Field])
			if c == 0 {
				continue
			}
			if r.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// compareValues: числа сравниваются как числа, всё остальное: как строки, nil = "".
func compareValues(a, b any) int {
	if x, ok := numeric(a); ok {
		if y, ok := numeric(b); ok {
			switch {
			case x < y:
				return -1
			case x > y:
				return 1
			}
			return 0
		}
	}
	return strings.Compare(sortString(a), sortString(b))
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func sortString(v any) string {
	if ids, ok := v.([]int64); ok {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = strconv.FormatInt(id, 10)
		}
		return strings.Join(parts, ",")
	}
	return store.StringOf(v)
}
