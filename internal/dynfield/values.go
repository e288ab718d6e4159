package dynfield

import (
	"context"
	"fmt"
	"sort"

	"tabel/internal/apperr"
	"tabel/internal/store"
)

// размер пачки id в IN (...), чтобы не упереться в лимит параметров SQLite
const inChunk = 500

// ValueStore: значения динамических полей: скаляры в dyn_field_values,
// наборы вариантов multiple-полей в dyn_field_multi_values.
type ValueStore struct {
	db       store.DBTX
	d        store.Dialect
	registry *Registry
}

func NewValueStore(db store.DBTX, d store.Dialect, registry *Registry) *ValueStore {
	return &ValueStore{db: db, d: d, registry: registry}
}

// Values: map[recordID]map[fieldID]значение. Скаляр без сохранённого значения
// в карте отсутствует; multiple-поле всегда даёт []int64 в порядке ordering, id,
// пустой набор, если вариантов нет.
type Values map[int64]map[int64]any

func (v Values) put(recordID, fieldID int64, val any) {
	m, ok := v[recordID]
	if !ok {
		m = make(map[int64]any)
		v[recordID] = m
	}
	m[fieldID] = val
}

// Get: значение поля записи; ok=false, если значения нет.
func (v Values) Get(recordID, fieldID int64) (any, bool) {
	val, ok := v[recordID][fieldID]
	return val, ok
}

// GetValuesForRecords читает значения полей для набора записей, приводя их
// к объявленному типу поля. Неизвестные и удалённые поля пропускаются.
func (s *ValueStore) GetValuesForRecords(ctx context.Context, fieldIDs, recordIDs []int64) (Values, error) {
	out := Values{}
	if len(fieldIDs) == 0 || len(recordIDs) == 0 {
		return out, nil
	}

	defs, err := s.registry.ListByIDs(ctx, fieldIDs)
	if err != nil {
		return nil, err
	}
	return out, s.readInto(ctx, out, defs, recordIDs)
}

// ReadDefinitions: то же, что GetValuesForRecords, но с уже загруженными определениями.
func (s *ValueStore) ReadDefinitions(ctx context.Context, defs map[int64]Definition, recordIDs []int64) (Values, error) {
	out := Values{}
	if len(defs) == 0 || len(recordIDs) == 0 {
		return out, nil
	}
	return out, s.readInto(ctx, out, defs, recordIDs)
}

func (s *ValueStore) readInto(ctx context.Context, out Values, defs map[int64]Definition, recordIDs []int64) error {
	var scalar, multi []int64
	for id, d := range defs {
		if d.LogicalType() == store.TypeMultiSelect {
			multi = append(multi, id)
		} else {
			scalar = append(scalar, id)
		}
	}
	sort.Slice(scalar, func(i, j int) bool { return scalar[i] < scalar[j] })
	sort.Slice(multi, func(i, j int) bool { return multi[i] < multi[j] })

	for start := 0; start < len(recordIDs); start += inChunk {
		end := min(start+inChunk, len(recordIDs))
		chunk := recordIDs[start:end]
		if len(scalar) > 0 {
			if err := s.readScalars(ctx, out, defs, scalar, chunk); err != nil {
				return err
			}
		}
		if len(multi) > 0 {
			if err := s.readMulti(ctx, out, multi, chunk); err != nil {
				return err
			}
			for _, recordID := range chunk {
				for _, fieldID := range multi {
					if _, ok := out.Get(recordID, fieldID); !ok {
						out.put(recordID, fieldID, []int64{})
					}
				}
			}
		}
	}
	return nil
}

func (s *ValueStore) readScalars(ctx context.Context, out Values, defs map[int64]Definition, fieldIDs, recordIDs []int64) error {
	sb := s.d.Select()
	sb.Select("dyn_field_id", "record_id", "value").
		From("dyn_field_values").
		Where(sb.In("dyn_field_id", int64Args(fieldIDs)...), sb.In("record_id", int64Args(recordIDs)...))
	q, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query dyn values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fieldID, recordID int64
			raw               any
		)
		if err := rows.Scan(&fieldID, &recordID, &raw); err != nil {
			return err
		}
		out.put(recordID, fieldID, store.Coerce(defs[fieldID].LogicalType(), raw))
	}
	return rows.Err()
}

func (s *ValueStore) readMulti(ctx context.Context, out Values, fieldIDs, recordIDs []int64) error {
	sb := s.d.Select()
	sb.Select("mv.dyn_field_id", "mv.record_id", "mv.option_id", "o.deleted").
		From(sb.As("dyn_field_multi_values", "mv")).
		Join(sb.As("dropdown_options", "o"), "o.id = mv.option_id").
		Where(sb.In("mv.dyn_field_id", int64Args(fieldIDs)...), sb.In("mv.record_id", int64Args(recordIDs)...)).
		OrderBy("o.ordering", "o.id")
	q, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("query dyn multi values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			fieldID, recordID, optionID int64
			deleted                     bool
		)
		if err := rows.Scan(&fieldID, &recordID, &optionID, &deleted); err != nil {
			return err
		}
		cur, _ := out.Get(recordID, fieldID)
		ids, _ := cur.([]int64)
		if ids == nil {
			ids = []int64{}
		}
		if !deleted {
			ids = append(ids, optionID)
		}
		out.put(recordID, fieldID, ids)
	}
	return rows.Err()
}

// SaveValues проверяет все значения (ошибки копятся) и только потом пишет.
// Скаляр заменяется, пустое значение удаляет строку, набор multiple-поля
// заменяется целиком. Вызывать внутри транзакции.
func (s *ValueStore) SaveValues(ctx context.Context, source string, recordID int64, values map[int64]any) error {
	if len(values) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	defs, err := s.registry.ListByIDs(ctx, ids)
	if err != nil {
		return err
	}

	verr := &apperr.ValidationError{}
	prepared := make(map[int64]WriteValue, len(ids))
	for _, id := range ids {
		def, ok := defs[id]
		if !ok || def.Source != source {
			verr.Add(apperr.ErrUnknown, Key(id), fmt.Sprintf("unknown dynamic field %d for %s", id, source))
			continue
		}
		wv, ferr := NormalizeForWrite(def, values[id])
		if ferr != nil {
			verr.Fields = append(verr.Fields, *ferr)
			continue
		}
		if wv.Empty && def.Required {
			verr.Add(apperr.ErrRequired, def.Key(), fmt.Sprintf("%s is required", def.Title))
			continue
		}
		if def.FieldType == TypeSelect {
			if msg, err := s.checkOptions(ctx, def, wv); err != nil {
				return err
			} else if msg != "" {
				verr.Add(apperr.ErrRefNotFound, def.Key(), msg)
				continue
			}
		}
		prepared[id] = wv
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	for _, id := range ids {
		def, wv := defs[id], prepared[id]
		if def.LogicalType() == store.TypeMultiSelect {
			err = s.replaceMulti(ctx, id, recordID, wv.Multi)
		} else {
			err = s.replaceScalar(ctx, id, recordID, wv)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// checkOptions: выбранные варианты должны принадлежать полю и быть активными.
func (s *ValueStore) checkOptions(ctx context.Context, def Definition, wv WriteValue) (string, error) {
	if wv.Empty {
		return "", nil
	}
	active, err := s.registry.activeOptions(ctx, def.ID)
	if err != nil {
		return "", err
	}
	picked := wv.Multi
	if def.LogicalType() != store.TypeMultiSelect {
		n, ok := asInt(wv.Scalar)
		if !ok {
			return fmt.Sprintf("%s: invalid option", def.Title), nil
		}
		picked = []int64{n}
	}
	for _, id := range picked {
		if _, ok := active[id]; !ok {
			return fmt.Sprintf("%s: option %d does not belong to the field", def.Title, id), nil
		}
	}
	return "", nil
}

func (s *ValueStore) replaceScalar(ctx context.Context, fieldID, recordID int64, wv WriteValue) error {
	db := s.d.Delete()
	db.DeleteFrom("dyn_field_values").Where(db.EQ("dyn_field_id", fieldID), db.EQ("record_id", recordID))
	q, args := db.Build()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("delete dyn value: %w", err)
	}
	if wv.Empty {
		return nil
	}
	ib := s.d.Insert()
	ib.InsertInto("dyn_field_values").Cols("dyn_field_id", "record_id", "value").Values(fieldID, recordID, wv.Scalar)
	q, args = ib.Build()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert dyn value: %w", err)
	}
	return nil
}

func (s *ValueStore) replaceMulti(ctx context.Context, fieldID, recordID int64, optionIDs []int64) error {
	db := s.d.Delete()
	db.DeleteFrom("dyn_field_multi_values").Where(db.EQ("dyn_field_id", fieldID), db.EQ("record_id", recordID))
	q, args := db.Build()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("delete dyn multi values: %w", err)
	}
	if len(optionIDs) == 0 {
		return nil
	}
	ib := s.d.Insert()
	ib.InsertInto("dyn_field_multi_values").Cols("dyn_field_id", "record_id", "option_id")
	for _, opt := range optionIDs {
		ib.Values(fieldID, recordID, opt)
	}
	q, args = ib.Build()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert dyn multi values: %w", err)
	}
	return nil
}
