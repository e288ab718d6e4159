package vtable

import (
	"tabel/internal/store"
)

// insertValue: значение в представлении колонки временной таблицы.
// Непригодное значение становится NULL.
func insertValue(logical string, v any) any {
	if v == nil {
		return nil
	}
	switch logical {
	case store.TypeBoolean:
		b, ok := store.Coerce(store.TypeBoolean, v).(bool)
		if !ok {
			return nil
		}
		return store.BoolValue(b)
	case store.TypeDecimal:
		f := store.Coerce(store.TypeDecimal, v)
		if f == nil {
			return nil
		}
		return store.StringOf(f)
	case store.TypeMultiSelect:
		ids, _ := store.DecodeMulti(v).([]int64)
		if ids == nil {
			return nil
		}
		return store.EncodeMulti(ids)
	case store.TypeText, store.TypeString:
		return store.StringOf(v)
	default:
		return store.Coerce(logical, v)
	}
}

// outputValue: значение колонки в строке результата.
func outputValue(col column, raw any) any {
	if col.unknown {
		return nil
	}
	if col.isRef() {
		if raw == nil {
			return nil
		}
		return store.StringOf(raw)
	}
	return store.Coerce(col.logical, raw)
}
