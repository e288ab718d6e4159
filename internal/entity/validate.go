package entity

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"tabel/internal/apperr"
	"tabel/internal/dsl"
	"tabel/internal/store"
)

var patterns sync.Map // string -> *regexp.Regexp

func compiled(p string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patterns.Store(p, re)
	return re, nil
}

func ferr(code, field, msg string) apperr.FieldError {
	return apperr.FieldError{Code: code, Field: field, Message: msg}
}

// coerceValue приводит значение из JSON к типу колонки. Ссылки здесь не
// обрабатываются: их разрешает сервис через slug.
func coerceValue(f dsl.Field, v any) (any, error) {
	switch f.LogicalType() {
	case store.TypeString, store.TypeText:
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		if len(f.Enum) > 0 {
			for _, ev := range f.Enum {
				if s == ev {
					return s, nil
				}
			}
			return nil, fmt.Errorf("value '%s' is not allowed", s)
		}
		return s, nil
	case store.TypeInteger:
		return toIntStrict(v)
	case store.TypeDecimal:
		return toFloatStrict(v)
	case store.TypeBoolean:
		return toBoolStrict(v)
	case store.TypeDate:
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		t, ok := store.ParseTime(s)
		if !ok {
			return nil, errors.New("must be a date YYYY-MM-DD")
		}
		return t.Format(store.DateLayout), nil
	case store.TypeDatetime:
		s, err := toStringStrict(v)
		if err != nil {
			return nil, err
		}
		t, ok := store.ParseTime(s)
		if !ok {
			return nil, errors.New("must be a datetime YYYY-MM-DD HH:MM:SS")
		}
		return t.Format(store.DatetimeLayout), nil
	}
	return nil, apperr.Configuration("field %s has unsupported type %q", f.Name, f.Type)
}

// checkString: maxlen и pattern для строковых полей.
func checkString(f dsl.Field, s string) *apperr.FieldError {
	if raw := f.Options["maxlen"]; raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && utf8.RuneCountInString(s) > n {
			fe := ferr(apperr.ErrTooLong, f.Name, fmt.Sprintf("Field '%s' must be at most %d characters", f.Name, n))
			return &fe
		}
	}
	if p := f.Pattern(); p != "" && s != "" {
		re, err := compiled(p)
		if err != nil || !re.MatchString(s) {
			fe := ferr(apperr.ErrPattern, f.Name, fmt.Sprintf("Field '%s' does not match %s", f.Name, p))
			return &fe
		}
	}
	return nil
}

func toStringStrict(v any) (string, error) {
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s), nil
	}
	return "", errors.New("must be string")
}

func toIntStrict(v any) (int64, error) {
	switch t := v.(type) {
	case float64:
		// JSON числа приходят как float64
		if t != float64(int64(t)) {
			return 0, errors.New("must be integer")
		}
		return int64(t), nil
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errors.New("must be integer")
		}
		return n, nil
	}
	return 0, errors.New("must be integer")
}

func toFloatStrict(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return 0, errors.New("must be a finite number")
		}
		return t, nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case string:
		f, ok := store.ParseDecimal(t)
		if !ok {
			return 0, errors.New("must be a number")
		}
		return f, nil
	}
	return 0, errors.New("must be a number")
}

func toBoolStrict(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "y", "on":
			return true, nil
		case "false", "0", "no", "n", "off":
			return false, nil
		}
	}
	return false, errors.New("must be boolean")
}

// isBlank: отсутствие значения: null или пустая строка.
func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

// checkReadonlyAndSystem: системные и readonly поля клиент не задаёт.
// version допускается как ожидаемая версия и снимается из payload.
func checkReadonlyAndSystem(schema *dsl.Entity, obj map[string]any) (version *int64, errs []apperr.FieldError) {
	for _, k := range dsl.SystemColumns {
		raw, ok := obj[k]
		if !ok {
			continue
		}
		if k == "version" {
			delete(obj, k)
			if raw == nil {
				continue
			}
			v, err := toIntStrict(raw)
			if err != nil {
				errs = append(errs, ferr(apperr.ErrTypeMismatch, k, "Field 'version' must be integer"))
				continue
			}
			version = &v
			continue
		}
		errs = append(errs, ferr(apperr.ErrReadOnly, k, "Field '"+k+"' is read-only"))
	}
	for _, f := range schema.Fields {
		if f.Readonly() {
			if _, ok := obj[f.Name]; ok {
				errs = append(errs, ferr(apperr.ErrReadOnly, f.Name, "Field '"+f.Name+"' is read-only"))
			}
		}
	}
	return version, errs
}

// applyDefaults: default= для отсутствующих полей при создании.
func applyDefaults(schema *dsl.Entity, obj map[string]any) {
	for _, f := range schema.Fields {
		def, ok := f.Default()
		if !ok {
			continue
		}
		if _, exists := obj[f.Name]; exists {
			continue
		}
		obj[f.Name] = def
	}
}
