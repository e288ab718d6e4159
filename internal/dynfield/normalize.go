package dynfield

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"tabel/internal/apperr"
	"tabel/internal/store"
)

const maxStringLen = 255

// WriteValue: значение, готовое к записи.
// Empty: строку значения нужно удалить; Multi: набор вариантов (для multiple).
type WriteValue struct {
	Empty  bool
	Scalar string
	Multi  []int64
}

// NormalizeForWrite приводит значение из JSON к представлению хранилища.
// Возвращает FieldError, если значение не подходит к типу поля.
func NormalizeForWrite(def Definition, v any) (WriteValue, *apperr.FieldError) {
	field := def.Key()
	fail := func(code, msg string) (WriteValue, *apperr.FieldError) {
		return WriteValue{}, &apperr.FieldError{Code: code, Field: field, Message: fmt.Sprintf("%s: %s", def.Title, msg)}
	}

	if def.LogicalType() == store.TypeMultiSelect {
		ids, ok := optionList(v)
		if !ok {
			return fail(apperr.ErrTypeMismatch, "expected a list of option ids")
		}
		if len(ids) == 0 {
			return WriteValue{Empty: true, Multi: []int64{}}, nil
		}
		return WriteValue{Multi: ids}, nil
	}

	if isBlank(v) {
		return WriteValue{Empty: true}, nil
	}

	switch def.FieldType {
	case TypeInteger, TypeSelect:
		n, ok := asInt(v)
		if !ok {
			return fail(apperr.ErrTypeMismatch, "expected an integer")
		}
		return WriteValue{Scalar: strconv.FormatInt(n, 10)}, nil
	case TypeDecimal:
		s, ok := asDecimal(v)
		if !ok {
			return fail(apperr.ErrTypeMismatch, "expected a number")
		}
		return WriteValue{Scalar: s}, nil
	case TypeDate, TypeDatetime:
		s, ok := v.(string)
		if !ok {
			return fail(apperr.ErrTypeMismatch, "expected a date string")
		}
		t, ok := store.ParseTime(s)
		if !ok {
			return fail(apperr.ErrTypeMismatch, "invalid date")
		}
		if def.FieldType == TypeDate {
			return WriteValue{Scalar: t.Format(store.DateLayout)}, nil
		}
		return WriteValue{Scalar: t.Format(store.DatetimeLayout)}, nil
	case TypeString:
		s := store.StringOf(v)
		if utf8.RuneCountInString(s) > maxStringLen {
			return fail(apperr.ErrTooLong, fmt.Sprintf("longer than %d characters", maxStringLen))
		}
		return WriteValue{Scalar: s}, nil
	default:
		return WriteValue{Scalar: store.StringOf(v)}, nil
	}
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}

func asInt(v any) (int64, bool) {
	switch t := v.(type) {
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, false
		}
		return int64(t), true
	case int64:
		return t, true
	case int:
		return int64(t), true
	case json.Number:
		n, err := t.Int64()
		return n, err == nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	}
	return 0, false
}

func asDecimal(v any) (string, bool) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return "", false
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case int:
		return strconv.Itoa(t), true
	case json.Number:
		if _, ok := store.ParseDecimal(t.String()); !ok {
			return "", false
		}
		return t.String(), true
	case string:
		s := strings.TrimSpace(strings.ReplaceAll(t, ",", "."))
		if _, ok := store.ParseDecimal(s); !ok {
			return "", false
		}
		return s, true
	}
	return "", false
}

// optionList принимает null, одиночный id или список id; дубли убираются.
func optionList(v any) ([]int64, bool) {
	if isBlank(v) {
		return []int64{}, true
	}
	var items []any
	switch t := v.(type) {
	case []any:
		items = t
	case []int64:
		for _, id := range t {
			items = append(items, id)
		}
	default:
		items = []any{t}
	}
	seen := make(map[int64]struct{}, len(items))
	out := make([]int64, 0, len(items))
	for _, it := range items {
		n, ok := asInt(it)
		if !ok {
			return nil, false
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, true
}
