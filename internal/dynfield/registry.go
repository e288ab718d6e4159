package dynfield

import (
	"context"
	"fmt"
	"strings"

	"tabel/internal/apperr"
	"tabel/internal/store"
)

var definitionColumns = []string{"id", "source", "title", "field_type", "required", "multiple", "sort", "deleted"}

// Sources: известные теги сущностей (dsl.Catalog).
type Sources interface {
	Has(source string) bool
}

// Registry: CRUD определений динамических полей и их вариантов.
// Работает поверх *sql.DB, *sql.Conn или *sql.Tx: границы транзакции задаёт вызывающий.
type Registry struct {
	db      store.DBTX
	d       store.Dialect
	sources Sources
}

func NewRegistry(db store.DBTX, d store.Dialect, sources Sources) *Registry {
	return &Registry{db: db, d: d, sources: sources}
}

// ListFieldsForSource: неудалённые поля сущности по sort, id.
func (r *Registry) ListFieldsForSource(ctx context.Context, source string) ([]Definition, error) {
	sb := r.d.Select()
	sb.Select(definitionColumns...).
		From("dyn_fields").
		Where(sb.EQ("source", source), sb.EQ("deleted", 0)).
		OrderBy("sort", "id")
	q, args := sb.Build()
	return r.queryDefinitions(ctx, q, args)
}

// ListByIDs: неудалённые поля по списку id; неизвестные id пропускаются.
func (r *Registry) ListByIDs(ctx context.Context, ids []int64) (map[int64]Definition, error) {
	out := make(map[int64]Definition, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	sb := r.d.Select()
	sb.Select(definitionColumns...).
		From("dyn_fields").
		Where(sb.In("id", int64Args(ids)...), sb.EQ("deleted", 0))
	q, args := sb.Build()
	defs, err := r.queryDefinitions(ctx, q, args)
	if err != nil {
		return nil, err
	}
	for _, d := range defs {
		out[d.ID] = d
	}
	return out, nil
}

// Get: поле по id, удалённые не возвращаются.
func (r *Registry) Get(ctx context.Context, id int64) (Definition, error) {
	sb := r.d.Select()
	sb.Select(definitionColumns...).
		From("dyn_fields").
		Where(sb.EQ("id", id), sb.EQ("deleted", 0))
	q, args := sb.Build()
	defs, err := r.queryDefinitions(ctx, q, args)
	if err != nil {
		return Definition{}, err
	}
	if len(defs) == 0 {
		return Definition{}, apperr.NotFound("dynamic field %d", id)
	}
	return defs[0], nil
}

func (r *Registry) Create(ctx context.Context, def Definition) (Definition, error) {
	def.Source = strings.TrimSpace(def.Source)
	def.Title = strings.TrimSpace(def.Title)
	if err := r.validate(ctx, def); err != nil {
		return Definition{}, err
	}

	ib := r.d.Insert()
	ib.InsertInto("dyn_fields").
		Cols("source", "title", "field_type", "required", "multiple", "sort", "deleted").
		Values(def.Source, def.Title, def.FieldType, store.BoolValue(def.Required), store.BoolValue(def.Multiple), def.Sort, 0)
	q, args := ib.Build()
	id, err := store.InsertID(ctx, r.db, r.d, q, args...)
	if err != nil {
		return Definition{}, fmt.Errorf("insert dyn field: %w", err)
	}
	def.ID = id
	def.Deleted = false
	return def, nil
}

// Update меняет заголовок, флаги и тип. Источник поля не меняется;
// смена логического типа запрещена, если у поля уже есть значения.
func (r *Registry) Update(ctx context.Context, def Definition) (Definition, error) {
	cur, err := r.Get(ctx, def.ID)
	if err != nil {
		return Definition{}, err
	}
	def.Source = cur.Source
	def.Title = strings.TrimSpace(def.Title)
	if err := r.validate(ctx, def); err != nil {
		return Definition{}, err
	}

	if def.LogicalType() != cur.LogicalType() {
		has, err := r.hasValues(ctx, def.ID)
		if err != nil {
			return Definition{}, err
		}
		if has {
			return Definition{}, apperr.Invalid(apperr.ErrInvalid, "field_type",
				fmt.Sprintf("field type cannot be changed from %s to %s once values exist", cur.LogicalType(), def.LogicalType()))
		}
	}

	ub := r.d.Update()
	ub.Update("dyn_fields").
		Set(
			ub.Assign("title", def.Title),
			ub.Assign("field_type", def.FieldType),
			ub.Assign("required", store.BoolValue(def.Required)),
			ub.Assign("multiple", store.BoolValue(def.Multiple)),
			ub.Assign("sort", def.Sort),
		).
		Where(ub.EQ("id", def.ID))
	q, args := ub.Build()
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return Definition{}, fmt.Errorf("update dyn field: %w", err)
	}
	return def, nil
}

// Delete: мягкое удаление: значения остаются, поле исчезает из выборок.
func (r *Registry) Delete(ctx context.Context, id int64) error {
	ub := r.d.Update()
	ub.Update("dyn_fields").
		Set(ub.Assign("deleted", 1)).
		Where(ub.EQ("id", id), ub.EQ("deleted", 0))
	q, args := ub.Build()
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("delete dyn field: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("dynamic field %d", id)
	}
	return nil
}

func (r *Registry) validate(ctx context.Context, def Definition) error {
	verr := &apperr.ValidationError{}
	if def.Title == "" {
		verr.Add(apperr.ErrRequired, "title", "title is required")
	}
	if !ValidType(def.FieldType) {
		verr.Add(apperr.ErrEnumInvalid, "field_type", fmt.Sprintf("unknown field type %q", def.FieldType))
	}
	if def.Multiple && def.FieldType != TypeSelect {
		verr.Add(apperr.ErrInvalid, "multiple", "only select fields can be multiple")
	}
	if r.sources != nil && !r.sources.Has(def.Source) {
		verr.Add(apperr.ErrInvalid, "source", fmt.Sprintf("unknown source %q", def.Source))
	}
	if def.Title != "" {
		taken, err := r.titleTaken(ctx, def.Source, def.Title, def.ID)
		if err != nil {
			return err
		}
		if taken {
			verr.Add(apperr.ErrUniqueViolation, "title", fmt.Sprintf("field %q already exists for %s", def.Title, def.Source))
		}
	}
	return verr.OrNil()
}

func (r *Registry) titleTaken(ctx context.Context, source, title string, exceptID int64) (bool, error) {
	sb := r.d.Select()
	sb.Select("COUNT(*)").
		From("dyn_fields").
		Where(sb.EQ("source", source), sb.EQ("title", title), sb.EQ("deleted", 0), sb.NE("id", exceptID))
	q, args := sb.Build()
	return r.exists(ctx, q, args)
}

func (r *Registry) hasValues(ctx context.Context, id int64) (bool, error) {
	for _, table := range []string{"dyn_field_values", "dyn_field_multi_values"} {
		sb := r.d.Select()
		sb.Select("COUNT(*)").From(table).Where(sb.EQ("dyn_field_id", id))
		q, args := sb.Build()
		ok, err := r.exists(ctx, q, args)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (r *Registry) exists(ctx context.Context, q string, args []any) (bool, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *Registry) queryDefinitions(ctx context.Context, q string, args []any) ([]Definition, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query dyn fields: %w", err)
	}
	defer rows.Close()

	var out []Definition
	for rows.Next() {
		var d Definition
		if err := rows.Scan(&d.ID, &d.Source, &d.Title, &d.FieldType, &d.Required, &d.Multiple, &d.Sort, &d.Deleted); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListOptions: неудалённые варианты поля по ordering, id.
func (r *Registry) ListOptions(ctx context.Context, fieldID int64) ([]Option, error) {
	sb := r.d.Select()
	sb.Select("id", "dyn_field_id", "option_label", "ordering").
		From("dropdown_options").
		Where(sb.EQ("dyn_field_id", fieldID), sb.EQ("deleted", 0)).
		OrderBy("ordering", "id")
	q, args := sb.Build()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query options: %w", err)
	}
	defer rows.Close()

	out := []Option{}
	for rows.Next() {
		var o Option
		if err := rows.Scan(&o.ID, &o.FieldID, &o.Label, &o.Ordering); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// SaveOptions приводит набор вариантов к переданному: с id: обновляются,
// без id: добавляются, отсутствующие в наборе помечаются удалёнными.
// Вызывать внутри транзакции.
func (r *Registry) SaveOptions(ctx context.Context, fieldID int64, opts []Option) ([]Option, error) {
	def, err := r.Get(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	if def.FieldType != TypeSelect {
		return nil, apperr.Invalid(apperr.ErrInvalid, "field_id", "only select fields have options")
	}

	existing, err := r.optionIDs(ctx, fieldID)
	if err != nil {
		return nil, err
	}

	verr := &apperr.ValidationError{}
	keep := make(map[int64]struct{}, len(opts))
	for i, o := range opts {
		path := fmt.Sprintf("options[%d]", i)
		if strings.TrimSpace(o.Label) == "" {
			verr.Add(apperr.ErrRequired, path+".option_label", "option label is required")
		}
		if o.ID != 0 {
			if _, ok := existing[o.ID]; !ok {
				verr.Add(apperr.ErrRefNotFound, path+".id", fmt.Sprintf("option %d does not belong to field %d", o.ID, fieldID))
			}
			keep[o.ID] = struct{}{}
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	for _, o := range opts {
		label := strings.TrimSpace(o.Label)
		if o.ID == 0 {
			ib := r.d.Insert()
			ib.InsertInto("dropdown_options").
				Cols("dyn_field_id", "option_label", "ordering", "deleted").
				Values(fieldID, label, o.Ordering, 0)
			q, args := ib.Build()
			if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
				return nil, fmt.Errorf("insert option: %w", err)
			}
			continue
		}
		ub := r.d.Update()
		ub.Update("dropdown_options").
			Set(ub.Assign("option_label", label), ub.Assign("ordering", o.Ordering), ub.Assign("deleted", 0)).
			Where(ub.EQ("id", o.ID))
		q, args := ub.Build()
		if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
			return nil, fmt.Errorf("update option: %w", err)
		}
	}

	for id := range existing {
		if _, ok := keep[id]; ok {
			continue
		}
		ub := r.d.Update()
		ub.Update("dropdown_options").Set(ub.Assign("deleted", 1)).Where(ub.EQ("id", id))
		q, args := ub.Build()
		if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
			return nil, fmt.Errorf("delete option: %w", err)
		}
	}

	return r.ListOptions(ctx, fieldID)
}

// optionIDs: все варианты поля, включая удалённые (их можно вернуть по id).
func (r *Registry) optionIDs(ctx context.Context, fieldID int64) (map[int64]bool, error) {
	sb := r.d.Select()
	sb.Select("id", "deleted").From("dropdown_options").Where(sb.EQ("dyn_field_id", fieldID))
	q, args := sb.Build()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]bool{}
	for rows.Next() {
		var (
			id      int64
			deleted bool
		)
		if err := rows.Scan(&id, &deleted); err != nil {
			return nil, err
		}
		out[id] = deleted
	}
	return out, rows.Err()
}

// activeOptions: множество неудалённых вариантов поля.
func (r *Registry) activeOptions(ctx context.Context, fieldID int64) (map[int64]struct{}, error) {
	all, err := r.optionIDs(ctx, fieldID)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]struct{}, len(all))
	for id, deleted := range all {
		if !deleted {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

