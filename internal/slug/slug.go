// Пакет slug: внешние идентификаторы записей. Клиент видит только ULID-slug,
// числовой id остаётся внутри. Тип slug: тег сущности.
package slug

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/oklog/ulid/v2"

	"tabel/internal/apperr"
	"tabel/internal/dsl"
	"tabel/internal/store"
)

// New: новый slug: ULID в нижнем регистре.
func New() string {
	return strings.ToLower(ulid.Make().String())
}

// Valid: похоже ли значение на slug.
func Valid(s string) bool {
	_, err := ulid.ParseStrict(strings.ToUpper(s))
	return err == nil
}

// Cache: общий для всех запросов кеш соответствий в обе стороны.
// Пара slug-id не меняется за жизнь записи, инвалидация не нужна.
type Cache struct {
	ids   *lru.Cache[string, int64]
	slugs *lru.Cache[string, string]
}

func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = 10000
	}
	ids, err := lru.New[string, int64](size)
	if err != nil {
		return nil, err
	}
	slugs, err := lru.New[string, string](size)
	if err != nil {
		return nil, err
	}
	return &Cache{ids: ids, slugs: slugs}, nil
}

func (c *Cache) put(slugType, slug string, id int64) {
	c.ids.Add(slugType+":"+slug, id)
	c.slugs.Add(slugType+":"+strconv.FormatInt(id, 10), slug)
}

// Resolver переводит slug в id и обратно по колонке slug таблицы сущности.
// Удалённые записи тоже разрешаются: без этого не восстановить запись.
type Resolver struct {
	db      store.DBTX
	d       store.Dialect
	catalog *dsl.Catalog
	cache   *Cache
}

func NewResolver(db store.DBTX, d store.Dialect, catalog *dsl.Catalog, cache *Cache) *Resolver {
	return &Resolver{db: db, d: d, catalog: catalog, cache: cache}
}

func (r *Resolver) table(slugType string) (string, error) {
	ent, ok := r.catalog.Lookup(slugType)
	if !ok {
		return "", apperr.NotFound("entity %s", slugType)
	}
	return ent.Table(), nil
}

// ToID: id записи по slug; нет записи: NotFoundError.
func (r *Resolver) ToID(ctx context.Context, slugType, slug string) (int64, error) {
	ids, err := r.ToIDs(ctx, slugType, []string{slug})
	if err != nil {
		return 0, err
	}
	id, ok := ids[slug]
	if !ok {
		return 0, apperr.NotFound("%s %q", slugType, slug)
	}
	return id, nil
}

// ToIDs: пакетный вариант ToID; неизвестные slug в ответ не попадают.
func (r *Resolver) ToIDs(ctx context.Context, slugType string, slugs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(slugs))
	var missing []any
	for _, s := range slugs {
		if id, ok := r.cache.ids.Get(slugType + ":" + s); ok {
			out[s] = id
			continue
		}
		missing = append(missing, s)
	}
	if len(missing) == 0 {
		return out, nil
	}
	table, err := r.table(slugType)
	if err != nil {
		return nil, err
	}
	sb := r.d.Select()
	sb.Select("id", "slug").From(table).Where(sb.In("slug", missing...))
	if err := r.fetch(ctx, slugType, sb, func(id int64, s string) { out[s] = id }); err != nil {
		return nil, err
	}
	return out, nil
}

// ToSlug: slug записи по id.
func (r *Resolver) ToSlug(ctx context.Context, slugType string, id int64) (string, error) {
	slugs, err := r.ToSlugs(ctx, slugType, []int64{id})
	if err != nil {
		return "", err
	}
	s, ok := slugs[id]
	if !ok {
		return "", apperr.NotFound("%s %d", slugType, id)
	}
	return s, nil
}

// ToSlugs: пакетный вариант ToSlug.
func (r *Resolver) ToSlugs(ctx context.Context, slugType string, ids []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(ids))
	var missing []any
	for _, id := range ids {
		if s, ok := r.cache.slugs.Get(slugType + ":" + strconv.FormatInt(id, 10)); ok {
			out[id] = s
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}
	table, err := r.table(slugType)
	if err != nil {
		return nil, err
	}
	sb := r.d.Select()
	sb.Select("id", "slug").From(table).Where(sb.In("id", missing...))
	if err := r.fetch(ctx, slugType, sb, func(id int64, s string) { out[id] = s }); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Resolver) fetch(ctx context.Context, slugType string, sb interface{ Build() (string, []any) }, fn func(int64, string)) error {
	q, args := sb.Build()
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("resolve %s slugs: %w", slugType, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id int64
			s  string
		)
		if err := rows.Scan(&id, &s); err != nil {
			return fmt.Errorf("scan %s slug: %w", slugType, err)
		}
		r.cache.put(slugType, s, id)
		fn(id, s)
	}
	return rows.Err()
}
