package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout     = "2006-01-02"
	DatetimeLayout = "2006-01-02 15:04:05"
)

var datetimeLayouts = []string{
	DatetimeLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTime разбирает дату/время в одном из принятых форматов; результат в UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(DateLayout, s); err == nil {
		return t, true
	}
	for _, l := range datetimeLayouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Coerce приводит значение из БД (любого драйвера) к логическому типу.
// Непригодное значение становится nil.
func Coerce(logical string, raw any) any {
	if raw == nil {
		return nil
	}
	if b, ok := raw.([]byte); ok {
		raw = string(b)
	}
	switch logical {
	case TypeInteger, TypeSelect:
		n, ok := toInt(raw)
		if !ok {
			return nil
		}
		return n
	case TypeDecimal:
		f, ok := toFloat(raw)
		if !ok {
			return nil
		}
		return f
	case TypeBoolean:
		b, ok := toBool(raw)
		if !ok {
			return nil
		}
		return b
	case TypeDate:
		t, ok := toTime(raw)
		if !ok {
			return nil
		}
		return t.Format(DateLayout)
	case TypeDatetime:
		t, ok := toTime(raw)
		if !ok {
			return nil
		}
		return t.Format(DatetimeLayout)
	case TypeMultiSelect:
		return DecodeMulti(raw)
	default:
		if t, ok := raw.(time.Time); ok {
			return t.UTC().Format(DatetimeLayout)
		}
		return StringOf(raw)
	}
}

// StringOf: строковое представление скалярного значения из БД или JSON.
func StringOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(DatetimeLayout)
	}
	return fmt.Sprint(v)
}

func toInt(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		return n, err == nil
	case bool:
		return int64(BoolValue(t)), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, finite(t)
	case float32:
		return float64(t), finite(float64(t))
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		return ParseDecimal(t)
	case []byte:
		return ParseDecimal(string(t))
	}
	return 0, false
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// ParseDecimal разбирает число с точкой или запятой. NaN и бесконечности
// не числа: их нельзя сохранить в NUMERIC и отдать в JSON.
func ParseDecimal(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", "."), 64)
	if err != nil || !finite(f) {
		return 0, false
	}
	return f, true
}

func toBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case int64:
		return t != 0, true
	case int:
		return t != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "t", "yes":
			return true, true
		case "0", "false", "f", "no":
			return false, true
		}
	}
	return false, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case string:
		return ParseTime(t)
	}
	return time.Time{}, false
}

// EncodeMulti кодирует набор опций для TEXT-колонки временной таблицы: ",3,7,".
// Пустой набор: пустая строка, отсутствие значений: nil.
func EncodeMulti(ids []int64) any {
	if ids == nil {
		return nil
	}
	if len(ids) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteByte(',')
	for _, id := range ids {
		b.WriteString(strconv.FormatInt(id, 10))
		b.WriteByte(',')
	}
	return b.String()
}

// DecodeMulti: обратное к EncodeMulti.
func DecodeMulti(v any) any {
	switch t := v.(type) {
	case []int64:
		return t
	case string:
		out := []int64{}
		for _, p := range strings.Split(t, ",") {
			if p = strings.TrimSpace(p); p == "" {
				continue
			}
			if n, err := strconv.ParseInt(p, 10, 64); err == nil {
				out = append(out, n)
			}
		}
		return out
	}
	return nil
}
