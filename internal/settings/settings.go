// Пакет settings: сохранённые настройки отображения таблиц и
// пользовательские настройки ключ/значение.
package settings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"tabel/internal/apperr"
	"tabel/internal/dsl"
	"tabel/internal/store"
	"tabel/internal/vtable"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 500
	maxKeyLen       = 128
)

// TableSettings: вид таблицы сущности у пользователя.
// Sort хранится парами [поле, ASC|DESC], как приходит в getTableData.
type TableSettings struct {
	Columns       []string    `json:"columns"`
	DynamicFields []int64     `json:"dynamic_fields"`
	Sort          [][2]string `json:"sort"`
	PageSize      int         `json:"page_size"`
}

// SortRules: правила сортировки для композитора.
func (ts TableSettings) SortRules() []vtable.SortRule {
	raw := make([]any, 0, len(ts.Sort))
	for _, p := range ts.Sort {
		raw = append(raw, []any{p[0], p[1]})
	}
	return vtable.ParseSortRules(raw)
}

func defaults() TableSettings {
	return TableSettings{Columns: []string{}, DynamicFields: []int64{}, Sort: [][2]string{}, PageSize: DefaultPageSize}
}

type Store struct {
	db      *sql.DB
	d       store.Dialect
	catalog *dsl.Catalog
	now     func() time.Time
}

func NewStore(db *sql.DB, d store.Dialect, catalog *dsl.Catalog) *Store {
	return &Store{db: db, d: d, catalog: catalog, now: time.Now}
}

// Table: настройки таблицы; нет сохранённых: значения по умолчанию и found=false.
func (s *Store) Table(ctx context.Context, userSlug, entity string) (TableSettings, bool, error) {
	if _, ok := s.catalog.Lookup(entity); !ok {
		return TableSettings{}, false, apperr.NotFound("entity %q", entity)
	}
	sb := s.d.Select()
	sb.Select("settings").From("table_settings").
		Where(sb.EQ("user_slug", userSlug), sb.EQ("entity", entity))
	q, args := sb.Build()

	var raw string
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return defaults(), false, nil
	}
	if err != nil {
		return TableSettings{}, false, fmt.Errorf("load table settings: %w", err)
	}
	ts := defaults()
	if err := json.Unmarshal([]byte(raw), &ts); err != nil {
		return TableSettings{}, false, fmt.Errorf("decode table settings %s/%s: %w", userSlug, entity, err)
	}
	return ts, true, nil
}

// SaveTable проверяет и сохраняет настройки таблицы.
func (s *Store) SaveTable(ctx context.Context, userSlug, entity string, ts TableSettings) (TableSettings, error) {
	ent, ok := s.catalog.Lookup(entity)
	if !ok {
		return TableSettings{}, apperr.NotFound("entity %q", entity)
	}
	ts, err := normalizeTable(ent, ts)
	if err != nil {
		return TableSettings{}, err
	}
	body, err := json.Marshal(ts)
	if err != nil {
		return TableSettings{}, fmt.Errorf("encode table settings: %w", err)
	}
	now := s.now().UTC().Format(store.DatetimeLayout)

	err = store.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		ub := s.d.Update()
		ub.Update("table_settings").
			Set(ub.Assign("settings", string(body)), ub.Assign("updated_at", now)).
			Where(ub.EQ("user_slug", userSlug), ub.EQ("entity", entity))
		q, args := ub.Build()
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return fmt.Errorf("update table settings: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			return nil
		}
		ib := s.d.Insert()
		ib.InsertInto("table_settings").
			Cols("user_slug", "entity", "settings", "updated_at").
			Values(userSlug, entity, string(body), now)
		q, args = ib.Build()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("insert table settings: %w", err)
		}
		return nil
	})
	if err != nil {
		return TableSettings{}, err
	}
	return ts, nil
}

func normalizeTable(ent *dsl.Entity, ts TableSettings) (TableSettings, error) {
	verr := &apperr.ValidationError{}
	out := defaults()

	seen := map[string]bool{}
	for _, c := range ts.Columns {
		c = strings.TrimSpace(c)
		if seen[c] {
			continue
		}
		seen[c] = true
		if _, ok := ent.Field(c); !ok && c != "slug" {
			verr.Add(apperr.ErrUnknown, "columns", fmt.Sprintf("Unknown column '%s'", c))
			continue
		}
		out.Columns = append(out.Columns, c)
	}

	ids := map[int64]bool{}
	for _, id := range ts.DynamicFields {
		if id <= 0 {
			verr.Add(apperr.ErrInvalid, "dynamic_fields", "Dynamic field id must be positive")
			continue
		}
		if !ids[id] {
			ids[id] = true
			out.DynamicFields = append(out.DynamicFields, id)
		}
	}

	for _, p := range ts.Sort {
		dir := strings.ToUpper(strings.TrimSpace(p[1]))
		if strings.TrimSpace(p[0]) == "" || (dir != "ASC" && dir != "DESC") {
			verr.Add(apperr.ErrInvalid, "sort", "Sort rule must be [field, ASC|DESC]")
			continue
		}
		out.Sort = append(out.Sort, [2]string{strings.TrimSpace(p[0]), dir})
	}

	switch {
	case ts.PageSize == 0:
	case ts.PageSize < 0 || ts.PageSize > MaxPageSize:
		verr.Add(apperr.ErrInvalid, "page_size", fmt.Sprintf("Page size must be between 1 and %d", MaxPageSize))
	default:
		out.PageSize = ts.PageSize
	}
	if err := verr.OrNil(); err != nil {
		return TableSettings{}, err
	}
	return out, nil
}

// User: все настройки пользователя.
func (s *Store) User(ctx context.Context, userSlug string) (map[string]string, error) {
	sb := s.d.Select()
	sb.Select("setting_key", "setting_value").From("user_settings").
		Where(sb.EQ("user_slug", userSlug)).
		OrderBy("setting_key")
	q, args := sb.Build()
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("load user settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan user settings: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

// SaveUser сохраняет набор ключей одной транзакцией. Пустое значение удаляет ключ.
func (s *Store) SaveUser(ctx context.Context, userSlug string, values map[string]string) error {
	verr := &apperr.ValidationError{}
	for k := range values {
		switch {
		case strings.TrimSpace(k) == "":
			verr.Add(apperr.ErrRequired, "key", "Setting key is required")
		case len(k) > maxKeyLen:
			verr.Add(apperr.ErrTooLong, k, fmt.Sprintf("Setting key is longer than %d", maxKeyLen))
		}
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	return store.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, k := range sortedKeys(values) {
			if err := s.putUser(ctx, tx, userSlug, k, values[k]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) putUser(ctx context.Context, tx *sql.Tx, userSlug, key, value string) error {
	del := s.d.Delete()
	del.DeleteFrom("user_settings").Where(del.EQ("user_slug", userSlug), del.EQ("setting_key", key))
	q, args := del.Build()
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("delete user setting %s: %w", key, err)
	}
	if value == "" {
		return nil
	}
	ib := s.d.Insert()
	ib.InsertInto("user_settings").Cols("user_slug", "setting_key", "setting_value").Values(userSlug, key, value)
	q, args = ib.Build()
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert user setting %s: %w", key, err)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
