// Пакет report: сводные отчёты: часы по проектам, платежи по месяцам,
// число записей по сущностям.
package report

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"tabel/internal/apperr"
	"tabel/internal/dsl"
	"tabel/internal/store"
)

type ProjectHours struct {
	Project string  `json:"project"`
	Title   string  `json:"title"`
	Hours   float64 `json:"hours"`
	Entries int64   `json:"entries"`
}

type MonthPayments struct {
	Month    int     `json:"month"`
	Currency string  `json:"currency"`
	Total    float64 `json:"total"`
	Count    int64   `json:"count"`
}

type EntityStat struct {
	Entity  string `json:"entity"`
	Active  int64  `json:"active"`
	Deleted int64  `json:"deleted"`
}

type Reports struct {
	db      store.DBTX
	d       store.Dialect
	catalog *dsl.Catalog
}

func New(db store.DBTX, d store.Dialect, catalog *dsl.Catalog) *Reports {
	return &Reports{db: db, d: d, catalog: catalog}
}

// HoursByProject: сумма часов по живым проектам за период [from, to] включительно.
func (r *Reports) HoursByProject(ctx context.Context, from, to string) ([]ProjectHours, error) {
	fromT, okFrom := parseDay(from)
	toT, okTo := parseDay(to)
	verr := &apperr.ValidationError{}
	if !okFrom {
		verr.Add(apperr.ErrTypeMismatch, "from", "Field 'from' must be a date YYYY-MM-DD")
	}
	if !okTo {
		verr.Add(apperr.ErrTypeMismatch, "to", "Field 'to' must be a date YYYY-MM-DD")
	}
	if okFrom && okTo && toT.Before(fromT) {
		verr.Add(apperr.ErrInvalid, "to", "Period end must not be before its start")
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	sb := r.d.Select()
	sb.Select("p.slug", "p.title", sb.As("SUM(t.hours)", "hours"), sb.As("COUNT(*)", "entries")).
		From(sb.As("time_entries", "t")).
		Join(sb.As("projects", "p"), "p.id = t.project_id").
		Where(
			sb.EQ("t.deleted", 0),
			sb.EQ("p.deleted", 0),
			sb.GTE("t.work_date", fromT.Format(store.DateLayout)),
			sb.LTE("t.work_date", toT.Format(store.DateLayout)),
		).
		GroupBy("p.slug", "p.title").
		OrderBy("p.title", "p.slug")
	rows, err := r.query(ctx, sb)
	if err != nil {
		return nil, err
	}
	out := make([]ProjectHours, 0, len(rows))
	for _, row := range rows {
		hours, _ := store.Coerce(store.TypeDecimal, row["hours"]).(float64)
		entries, _ := store.Coerce(store.TypeInteger, row["entries"]).(int64)
		out = append(out, ProjectHours{
			Project: store.StringOf(row["slug"]),
			Title:   store.StringOf(row["title"]),
			Hours:   hours,
			Entries: entries,
		})
	}
	return out, nil
}

// PaymentsByMonth: сумма неотменённых платежей за год по месяцам и валютам.
func (r *Reports) PaymentsByMonth(ctx context.Context, year int) ([]MonthPayments, error) {
	if year < 1900 || year > 9999 {
		return nil, apperr.Invalid(apperr.ErrInvalid, "year", "Field 'year' must be between 1900 and 9999")
	}
	month := r.monthExpr("paid_on")

	sb := r.d.Select()
	sb.Select(sb.As(month, "month"), "currency", sb.As("SUM(amount)", "total"), sb.As("COUNT(*)", "cnt")).
		From("payments").
		Where(
			sb.EQ("deleted", 0),
			sb.Or(sb.IsNull("status"), sb.NE("status", "cancelled")),
			sb.GTE("paid_on", fmt.Sprintf("%04d-01-01", year)),
			sb.LT("paid_on", fmt.Sprintf("%04d-01-01", year+1)),
		).
		GroupBy(month, "currency").
		OrderBy(month, "currency")
	rows, err := r.query(ctx, sb)
	if err != nil {
		return nil, err
	}
	out := make([]MonthPayments, 0, len(rows))
	for _, row := range rows {
		m, _ := store.Coerce(store.TypeInteger, row["month"]).(int64)
		total, _ := store.Coerce(store.TypeDecimal, row["total"]).(float64)
		cnt, _ := store.Coerce(store.TypeInteger, row["cnt"]).(int64)
		out = append(out, MonthPayments{
			Month:    int(m),
			Currency: store.StringOf(row["currency"]),
			Total:    total,
			Count:    cnt,
		})
	}
	return out, nil
}

// EntityStats: живые и удалённые записи по каждой сущности каталога.
func (r *Reports) EntityStats(ctx context.Context) ([]EntityStat, error) {
	var out []EntityStat
	for _, ent := range r.catalog.Entities() {
		sb := r.d.Select()
		sb.Select(sb.As("COALESCE(SUM(CASE WHEN deleted = 0 THEN 1 ELSE 0 END), 0)", "active"), sb.As("COUNT(*)", "total")).
			From(r.d.Quote(ent.Table()))
		rows, err := r.query(ctx, sb)
		if err != nil {
			return nil, err
		}
		st := EntityStat{Entity: ent.Source()}
		if len(rows) > 0 {
			active, _ := store.Coerce(store.TypeInteger, rows[0]["active"]).(int64)
			total, _ := store.Coerce(store.TypeInteger, rows[0]["total"]).(int64)
			st.Active, st.Deleted = active, total-active
		}
		out = append(out, st)
	}
	return out, nil
}

// monthExpr: номер месяца даты в диалекте.
func (r *Reports) monthExpr(col string) string {
	switch r.d.Name {
	case "postgres":
		return "CAST(EXTRACT(MONTH FROM " + col + ") AS INTEGER)"
	case "mysql":
		return "MONTH(" + col + ")"
	default:
		return "CAST(strftime('%m', " + col + ") AS INTEGER)"
	}
}

func (r *Reports) query(ctx context.Context, sb interface{ Build() (string, []any) }) ([]map[string]any, error) {
	q, args := sb.Build()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("report query: %w", err)
	}
	defer rows.Close()
	return store.ScanRows(rows)
}

func parseDay(s string) (time.Time, bool) {
	t, err := time.Parse(store.DateLayout, s)
	return t, err == nil
}

// YearOf: год из строки; пустая: текущий.
func YearOf(s string, now time.Time) (int, error) {
	if s == "" {
		return now.Year(), nil
	}
	y, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperr.Invalid(apperr.ErrTypeMismatch, "year", "Field 'year' must be integer")
	}
	return y, nil
}
