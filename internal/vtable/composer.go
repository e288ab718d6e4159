package vtable

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/huandu/go-sqlbuilder"

	"tabel/internal/apperr"
	"tabel/internal/dsl"
	"tabel/internal/dynfield"
	"tabel/internal/store"
)

// максимум параметров в одном INSERT (SQLite: 999)
const maxInsertParams = 900

// Composer собирает виртуальную таблицу сущности.
type Composer struct {
	db      *sql.DB
	d       store.Dialect
	catalog *dsl.Catalog
	logger  *slog.Logger
}

func NewComposer(db *sql.DB, d store.Dialect, catalog *dsl.Catalog, logger *slog.Logger) *Composer {
	return &Composer{db: db, d: d, catalog: catalog, logger: logger.With(slog.String("service", "vtable"))}
}

// Compose выполняет один цикл: временная таблица на закреплённом соединении,
// заполнение из таблицы сущности и хранилища значений, выборка с фильтром,
// сортировка и пагинация. Временная таблица удаляется на выходе.
func (c *Composer) Compose(ctx context.Context, req Request, visible Visible) (*Result, error) {
	ent, ok := c.catalog.Lookup(req.Entity)
	if !ok {
		return nil, apperr.NotFound("entity %q", req.Entity)
	}
	start := time.Now()

	conn, err := c.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("pin connection: %w", err)
	}
	defer conn.Close()

	reg := dynfield.NewRegistry(conn, c.d, c.catalog)
	p, err := c.buildPlan(ctx, reg, ent, req, visible)
	if err != nil {
		return nil, err
	}

	tmp := "vt_" + ent.Source()
	if err := c.createTemp(ctx, conn, tmp, p); err != nil {
		return nil, err
	}
	defer func() {
		if _, err := conn.ExecContext(context.WithoutCancel(ctx), c.d.DropTempTable(tmp)); err != nil {
			c.logger.WarnContext(ctx, "Не удалось удалить временную таблицу", "table", tmp, "error", err)
		}
	}()

	base, err := c.fetchBase(ctx, conn, p, req.ShowDeleted)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(base))
	for _, r := range base {
		ids = append(ids, r.id)
	}
	values, err := dynfield.NewValueStore(conn, c.d, reg).ReadDefinitions(ctx, p.dynDefs, ids)
	if err != nil {
		return nil, err
	}

	merged := mergeRows(p, base, values)
	if err := c.insertRows(ctx, conn, tmp, p, merged); err != nil {
		return nil, err
	}

	rows, err := c.readBack(ctx, conn, tmp, p, req.Filter)
	if err != nil {
		return nil, err
	}

	SortRows(rows, req.Sort)
	total := len(rows)
	rows = paginate(rows, req.Offset, req.Limit)

	elapsed := time.Since(start)
	composeDuration.WithLabelValues(ent.Source()).Observe(elapsed.Seconds())
	composeRows.WithLabelValues(ent.Source()).Add(float64(len(merged)))
	c.logger.DebugContext(ctx, "Виртуальная таблица собрана",
		slog.String("entity", ent.Source()),
		slog.Int("rows", total),
		slog.Int("columns", len(p.columns)),
		slog.Duration("duration", elapsed),
	)

	cols := make([]Column, 0, len(p.columns))
	for _, col := range p.columns {
		cols = append(cols, col.Column)
	}
	return &Result{Columns: cols, Rows: rows, Total: total}, nil
}

func (c *Composer) createTemp(ctx context.Context, conn *sql.Conn, tmp string, p *plan) error {
	if _, err := conn.ExecContext(ctx, c.d.DropTempTable(tmp)); err != nil {
		return fmt.Errorf("drop temp table: %w", err)
	}

	ctb := c.d.Flavor.NewCreateTableBuilder()
	ctb.CreateTempTable(tmp).IfNotExists().
		Define(c.d.Quote("id"), "BIGINT", "PRIMARY KEY").
		Define(c.d.Quote("slug"), "VARCHAR(64)").
		Define(c.d.Quote("slug_type"), "VARCHAR(64)")
	for _, col := range p.columns {
		ctb.Define(c.d.Quote(col.sqlName), col.sqlType)
	}
	q, _ := ctb.Build()
	if _, err := conn.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("create temp table: %w", err)
	}
	return nil
}

type baseRow struct {
	id   int64
	slug string
	data map[string]any
}

// fetchBase: строки сущности: только удалённые при showDeleted, иначе только живые.
func (c *Composer) fetchBase(ctx context.Context, conn *sql.Conn, p *plan, showDeleted bool) ([]baseRow, error) {
	statics := p.staticCols()
	sb := c.d.Select()
	cols := []string{c.d.Quote("id"), c.d.Quote("slug")}
	for _, col := range statics {
		cols = append(cols, c.d.Quote(col.sqlName))
	}
	deleted := 0
	if showDeleted {
		deleted = 1
	}
	sb.Select(cols...).
		From(c.d.Quote(p.entity.Table())).
		Where(sb.EQ(c.d.Quote("deleted"), deleted)).
		OrderBy(c.d.Quote("id"))
	q, args := sb.Build()

	rows, err := conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", p.entity.Table(), err)
	}
	defer rows.Close()
	raw, err := store.ScanRows(rows)
	if err != nil {
		return nil, err
	}

	out := make([]baseRow, 0, len(raw))
	for _, r := range raw {
		id, ok := store.Coerce(store.TypeInteger, r["id"]).(int64)
		if !ok {
			return nil, fmt.Errorf("%s: bad id %v", p.entity.Table(), r["id"])
		}
		data := make(map[string]any, len(statics))
		for _, col := range statics {
			data[col.sqlName] = r[col.sqlName]
		}
		out = append(out, baseRow{id: id, slug: store.StringOf(r["slug"]), data: data})
	}
	return out, nil
}

// mergeRows: единая форма строк: каждая колонка плана присутствует,
// отсутствующее динамическое значение: nil, у multiple-поля пустой набор.
// Ключи вне плана отбрасываются.
func mergeRows(p *plan, base []baseRow, values dynfield.Values) []map[string]any {
	out := make([]map[string]any, 0, len(base))
	for _, b := range base {
		row := map[string]any{"id": b.id, "slug": b.slug, "slug_type": p.entity.Source()}
		for _, col := range p.columns {
			var v any
			switch {
			case col.unknown:
			case col.Dynamic:
				v, _ = values.Get(b.id, col.dynID)
			default:
				v = b.data[col.sqlName]
			}
			row[col.sqlName] = insertValue(col.logical, v)
		}
		out = append(out, row)
	}
	return out
}

func (c *Composer) insertRows(ctx context.Context, conn *sql.Conn, tmp string, p *plan, rows []map[string]any) error {
	if len(rows) == 0 {
		return nil
	}
	names := []string{"id", "slug", "slug_type"}
	for _, col := range p.columns {
		names = append(names, col.sqlName)
	}
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = c.d.Quote(n)
	}

	batch := max(1, maxInsertParams/len(names))
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		ib := c.d.Insert()
		ib.InsertInto(tmp).Cols(quoted...)
		for _, row := range rows[start:end] {
			vals := make([]any, len(names))
			for i, n := range names {
				vals[i] = row[n]
			}
			ib.Values(vals...)
		}
		q, args := ib.Build()
		if _, err := conn.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", tmp, err)
		}
	}
	return nil
}

// readBack: выборка из временной таблицы с фильтром; ref-колонки
// присоединяются к целевой сущности и дают slug и подпись <col>_label.
func (c *Composer) readBack(ctx context.Context, conn *sql.Conn, tmp string, p *plan, filter []Condition) ([]Row, error) {
	sb := c.d.Select()
	q := c.d.Quote
	sel := []string{"t." + q("id"), "t." + q("slug"), "t." + q("slug_type")}
	filterCols := map[string]filterColumn{
		"slug": {expr: "t." + q("slug"), logical: store.TypeString},
	}
	aliases := make(map[string]string, len(p.columns))
	joins := 0
	for _, col := range p.columns {
		alias := col.sqlName
		if col.isRef() {
			j := fmt.Sprintf("r%d", joins)
			joins++
			sb.JoinWithOption(sqlbuilder.LeftJoin, sb.As(q(col.target.Table()), j), fmt.Sprintf("%s.%s = t.%s", j, q("id"), q(col.sqlName)))
			sel = append(sel,
				fmt.Sprintf("%s.%s AS %s", j, q("slug"), q(alias)),
				fmt.Sprintf("%s.%s AS %s", j, q(col.target.DisplayField()), q(alias+"_label")),
			)
			filterCols[col.Key] = filterColumn{expr: j + "." + q("slug"), logical: store.TypeString}
		} else {
			sel = append(sel, fmt.Sprintf("t.%s AS %s", q(col.sqlName), q(alias)))
			filterCols[col.Key] = filterColumn{expr: "t." + q(col.sqlName), logical: col.logical}
		}
		aliases[col.Key] = alias
	}
	sb.Select(sel...).From(sb.As(tmp, "t"))

	verr := &apperr.ValidationError{}
	var where []string
	for _, cond := range filter {
		fc, ok := filterCols[cond.Field]
		if !ok {
			verr.Add(apperr.ErrUnknown, "filter."+cond.Field, fmt.Sprintf("unknown filter column %q", cond.Field))
			continue
		}
		expr, ferr := buildCondition(sb, c.d, fc, cond)
		if ferr != nil {
			verr.Fields = append(verr.Fields, *ferr)
			continue
		}
		where = append(where, expr)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("t." + q("id"))

	query, args := sb.Build()
	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", tmp, err)
	}
	defer rows.Close()
	raw, err := store.ScanRows(rows)
	if err != nil {
		return nil, err
	}

	out := make([]Row, 0, len(raw))
	for _, r := range raw {
		row := Row{"slug": store.StringOf(r["slug"]), "slug_type": store.StringOf(r["slug_type"])}
		for _, col := range p.columns {
			alias := aliases[col.Key]
			row[col.Key] = outputValue(col, r[alias])
			if col.isRef() {
				label := r[alias+"_label"]
				if label != nil {
					label = store.StringOf(label)
				}
				row[col.Key+"_label"] = label
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func paginate(rows []Row, offset, limit int) []Row {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rows) {
		return []Row{}
	}
	rows = rows[offset:]
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return rows
}
