package vtable

import (
	"context"
	"fmt"

	"tabel/internal/apperr"
	"tabel/internal/dsl"
	"tabel/internal/dynfield"
	"tabel/internal/store"
)

const typeRef = "ref"

// column: колонка временной таблицы и её происхождение.
type column struct {
	Column
	logical string // логический тип значения во временной таблице
	sqlName string // имя во временной таблице, без кавычек
	sqlType string
	target  *dsl.Entity // сущность, на которую ссылается ref
	dynID   int64
	unknown bool // запрошенный id динамического поля не найден
}

func (c column) isRef() bool { return c.target != nil }

// dynColumn: имя колонки динамического поля во временной таблице.
func dynColumn(id int64) string { return fmt.Sprintf("dyn_%d", id) }

// plan: разрешённый набор колонок одного вызова Compose.
type plan struct {
	entity  *dsl.Entity
	columns []column
	byKey   map[string]column
	dynDefs map[int64]dynfield.Definition
}

func (p *plan) add(c column) {
	p.columns = append(p.columns, c)
	p.byKey[c.Key] = c
}

func (p *plan) staticCols() []column {
	var out []column
	for _, c := range p.columns {
		if !c.Dynamic {
			out = append(out, c)
		}
	}
	return out
}

// buildPlan разрешает SQL-типы колонок. Тип без записи в таблице диалекта -
// ConfigurationError. Невидимые колонки и несуществующие статические поля отбрасываются.
func (c *Composer) buildPlan(ctx context.Context, reg *dynfield.Registry, ent *dsl.Entity, req Request, visible Visible) (*plan, error) {
	p := &plan{entity: ent, byKey: map[string]column{}}
	canView := func(key string) bool { return visible == nil || visible(key) }

	names := req.Columns
	if len(names) == 0 {
		for _, f := range ent.Fields {
			names = append(names, f.Name)
		}
	}
	for _, name := range names {
		f, ok := ent.Field(name)
		if !ok {
			c.logger.DebugContext(ctx, "Колонка пропущена: нет такого поля", "entity", ent.Source(), "column", name)
			continue
		}
		if _, dup := p.byKey[name]; dup || !canView(name) {
			continue
		}
		col := column{
			Column:  Column{Key: name, Title: name, Type: f.LogicalType()},
			logical: f.LogicalType(),
			sqlName: name,
		}
		if f.IsRef() {
			target, ok := c.catalog.RefTarget(f)
			if !ok {
				return nil, apperr.Configuration("%s.%s references unknown entity %q", ent.Source(), name, f.RefTarget)
			}
			col.target = target
			col.Type = typeRef
			col.Ref = target.Source()
			col.logical = store.TypeInteger
		}
		sqlType, err := c.d.ColumnType(col.logical)
		if err != nil {
			return nil, fmt.Errorf("column %s.%s: %w", ent.Source(), name, err)
		}
		col.sqlType = sqlType
		p.add(col)
	}

	defs, err := reg.ListByIDs(ctx, req.DynamicFields)
	if err != nil {
		return nil, err
	}
	p.dynDefs = map[int64]dynfield.Definition{}
	for _, id := range req.DynamicFields {
		key := dynfield.Key(id)
		if _, dup := p.byKey[key]; dup || !canView(key) {
			continue
		}
		def, ok := defs[id]
		if !ok || def.Source != ent.Source() {
			// неизвестное поле: колонка из одних null
			p.add(column{
				Column:  Column{Key: key, Title: key, Type: store.TypeText, Dynamic: true},
				logical: store.TypeText,
				sqlName: dynColumn(id),
				sqlType: mustText(c.d),
				unknown: true,
			})
			continue
		}
		sqlType, err := c.d.ColumnType(def.LogicalType())
		if err != nil {
			return nil, fmt.Errorf("dynamic field %d: %w", id, err)
		}
		p.dynDefs[id] = def
		p.add(column{
			Column:  Column{Key: key, Title: def.Title, Type: def.LogicalType(), Dynamic: true},
			logical: def.LogicalType(),
			sqlName: dynColumn(id),
			sqlType: sqlType,
			dynID:   id,
		})
	}
	return p, nil
}

func mustText(d store.Dialect) string {
	t, err := d.ColumnType(store.TypeText)
	if err != nil {
		return "TEXT"
	}
	return t
}
