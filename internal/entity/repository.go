package entity

import (
	"context"
	"fmt"
	"sort"

	"tabel/internal/apperr"
	"tabel/internal/dsl"
	"tabel/internal/store"
)

// Repository: SQL над таблицей одной сущности. Схема задаёт колонки,
// поведение сущности сюда не попадает.
type Repository struct {
	db     store.DBTX
	d      store.Dialect
	schema *dsl.Entity
}

func NewRepository(db store.DBTX, d store.Dialect, schema *dsl.Entity) *Repository {
	return &Repository{db: db, d: d, schema: schema}
}

func (r *Repository) table() string { return r.d.Quote(r.schema.Table()) }

func (r *Repository) columns() []string {
	cols := make([]string, 0, len(dsl.SystemColumns)+len(r.schema.Fields))
	for _, c := range dsl.SystemColumns {
		cols = append(cols, r.d.Quote(c))
	}
	for _, f := range r.schema.Fields {
		cols = append(cols, r.d.Quote(f.Name))
	}
	return cols
}

// GetBySlug: строка записи (в том числе удалённой), значения приведены к типам полей.
func (r *Repository) GetBySlug(ctx context.Context, slug string) (map[string]any, error) {
	sb := r.d.Select()
	sb.Select(r.columns()...).From(r.table()).Where(sb.EQ(r.d.Quote("slug"), slug))
	q, args := sb.Build()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", r.schema.Source(), err)
	}
	defer rows.Close()
	list, err := store.ScanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", r.schema.Source(), err)
	}
	if len(list) == 0 {
		return nil, apperr.NotFound("%s %q", r.schema.Source(), slug)
	}
	return r.coerceRow(list[0]), nil
}

func (r *Repository) coerceRow(raw map[string]any) map[string]any {
	out := make(map[string]any, len(raw))
	out["id"] = store.Coerce(store.TypeInteger, raw["id"])
	out["slug"] = store.StringOf(raw["slug"])
	out["deleted"] = store.Coerce(store.TypeBoolean, raw["deleted"])
	out["version"] = store.Coerce(store.TypeInteger, raw["version"])
	out["created_at"] = store.Coerce(store.TypeDatetime, raw["created_at"])
	out["updated_at"] = store.Coerce(store.TypeDatetime, raw["updated_at"])
	for _, f := range r.schema.Fields {
		out[f.Name] = store.Coerce(f.LogicalType(), raw[f.Name])
	}
	return out
}

// Insert добавляет запись и возвращает её id.
func (r *Repository) Insert(ctx context.Context, values map[string]any) (int64, error) {
	keys := sortedKeys(values)
	cols := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = r.d.Quote(k)
		args[i] = values[k]
	}
	ib := r.d.Insert()
	ib.InsertInto(r.table()).Cols(cols...).Values(args...)
	q, qargs := ib.Build()
	id, err := store.InsertID(ctx, r.db, r.d, q, qargs...)
	if err != nil {
		return 0, r.writeError(err)
	}
	return id, nil
}

// Update меняет поля записи с проверкой версии; version увеличивается.
// false: запись не найдена среди живых или версия уже другая.
func (r *Repository) Update(ctx context.Context, id, version int64, values map[string]any) (bool, error) {
	ub := r.d.Update()
	assigns := make([]string, 0, len(values)+1)
	for _, k := range sortedKeys(values) {
		assigns = append(assigns, ub.Assign(r.d.Quote(k), values[k]))
	}
	assigns = append(assigns, ub.Incr(r.d.Quote("version")))
	ub.Update(r.table()).
		Set(assigns...).
		Where(ub.EQ(r.d.Quote("id"), id), ub.EQ(r.d.Quote("version"), version), ub.EQ(r.d.Quote("deleted"), 0))
	q, args := ub.Build()
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, r.writeError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetDeleted: мягкое удаление или восстановление.
func (r *Repository) SetDeleted(ctx context.Context, id int64, deleted bool, now string) error {
	ub := r.d.Update()
	ub.Update(r.table()).
		Set(
			ub.Assign(r.d.Quote("deleted"), store.BoolValue(deleted)),
			ub.Assign(r.d.Quote("updated_at"), now),
			ub.Incr(r.d.Quote("version")),
		).
		Where(ub.EQ(r.d.Quote("id"), id))
	q, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("soft delete %s: %w", r.schema.Source(), err)
	}
	return nil
}

// Duplicate: есть ли другая живая запись с такими же значениями полей.
func (r *Repository) Duplicate(ctx context.Context, fields []string, values []any, excludeID int64) (bool, error) {
	sb := r.d.Select()
	conds := []string{sb.EQ(r.d.Quote("deleted"), 0)}
	for i, f := range fields {
		if values[i] == nil {
			// NULL не участвует в уникальности
			return false, nil
		}
		conds = append(conds, sb.EQ(r.d.Quote(f), values[i]))
	}
	if excludeID > 0 {
		conds = append(conds, sb.NE(r.d.Quote("id"), excludeID))
	}
	sb.Select("COUNT(*)").From(r.table()).Where(conds...)
	q, args := sb.Build()
	var n int64
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("unique check %s: %w", r.schema.Source(), err)
	}
	return n > 0, nil
}

// LiveExists: есть ли неудалённая запись с id в таблице table.
func LiveExists(ctx context.Context, db store.DBTX, d store.Dialect, table string, id int64) (bool, error) {
	sb := d.Select()
	sb.Select("COUNT(*)").From(d.Quote(table)).Where(sb.EQ(d.Quote("id"), id), sb.EQ(d.Quote("deleted"), 0))
	q, args := sb.Build()
	var n int64
	if err := db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("ref check %s: %w", table, err)
	}
	return n > 0, nil
}

// CountReferences: число живых записей child, у которых field = id.
func CountReferences(ctx context.Context, db store.DBTX, d store.Dialect, child *dsl.Entity, field string, id int64) (int64, error) {
	sb := d.Select()
	sb.Select("COUNT(*)").From(d.Quote(child.Table())).
		Where(sb.EQ(d.Quote(field), id), sb.EQ(d.Quote("deleted"), 0))
	q, args := sb.Build()
	var n int64
	if err := db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count references %s.%s: %w", child.Source(), field, err)
	}
	return n, nil
}

// NullReferences обнуляет ссылку field у живых записей child (on_delete=set_null).
func NullReferences(ctx context.Context, db store.DBTX, d store.Dialect, child *dsl.Entity, field string, id int64, now string) error {
	ub := d.Update()
	ub.Update(d.Quote(child.Table())).
		Set(
			ub.Assign(d.Quote(field), nil),
			ub.Assign(d.Quote("updated_at"), now),
			ub.Incr(d.Quote("version")),
		).
		Where(ub.EQ(d.Quote(field), id), ub.EQ(d.Quote("deleted"), 0))
	q, args := ub.Build()
	if _, err := db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("set null %s.%s: %w", child.Source(), field, err)
	}
	return nil
}

func (r *Repository) writeError(err error) error {
	if store.IsUniqueViolation(err) {
		return apperr.Conflict(apperr.ErrUniqueViolation, r.schema.Source(),
			fmt.Sprintf("%s with these values already exists", r.schema.Source()))
	}
	return fmt.Errorf("write %s: %w", r.schema.Source(), err)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
