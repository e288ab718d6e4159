// Пакет entity: общий сервис CRUD для сущностей из DSL. Схема сущности
// передаётся значением, особенности конкретных сущностей подключаются хуками.
package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"tabel/internal/apperr"
	"tabel/internal/dsl"
	"tabel/internal/dynfield"
	"tabel/internal/reference"
	"tabel/internal/slug"
	"tabel/internal/store"
	"tabel/internal/vtable"
)

// Guard проверяет право записи полей до любых изменений и отдаёт предикат
// чтения полей (access.Resolver).
type Guard interface {
	CheckWrite(ctx context.Context, entity string, fields []string) error
	Readable(ctx context.Context, entity string) (func(field string) bool, error)
}

// Deps: общие для всех запросов зависимости.
type Deps struct {
	DB       *sql.DB
	Dialect  store.Dialect
	Catalog  *dsl.Catalog
	Enums    reference.Catalogs
	Slugs    *slug.Cache
	Composer *vtable.Composer
	Hooks    map[string]Hook
	Logger   *slog.Logger
	Now      func() time.Time
}

// Service живёт один запрос: guard несёт права текущего пользователя.
type Service struct {
	Deps
	guard  Guard
	logger *slog.Logger
}

func NewService(deps Deps, guard Guard) *Service {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{Deps: deps, guard: guard, logger: deps.Logger.With(slog.String("service", "entity"))}
}

func (s *Service) schema(source string) (*dsl.Entity, error) {
	ent, ok := s.Catalog.Lookup(source)
	if !ok {
		return nil, apperr.NotFound("entity %q", source)
	}
	return ent, nil
}

func (s *Service) now() string { return s.Now().UTC().Format(store.DatetimeLayout) }

func (s *Service) checkWrite(ctx context.Context, ent *dsl.Entity, fields []string) error {
	if s.guard == nil || len(fields) == 0 {
		return nil
	}
	return s.guard.CheckWrite(ctx, ent.Source(), fields)
}

// readable: предикат can_read; без guard читается всё.
func (s *Service) readable(ctx context.Context, ent *dsl.Entity) (func(string) bool, error) {
	if s.guard == nil {
		return func(string) bool { return true }, nil
	}
	return s.guard.Readable(ctx, ent.Source())
}

// Create валидирует payload по схеме и хукам и добавляет запись. Ссылки: slug.
func (s *Service) Create(ctx context.Context, source string, payload map[string]any) (map[string]any, error) {
	ent, err := s.schema(source)
	if err != nil {
		return nil, err
	}
	obj := maps.Clone(payload)
	if obj == nil {
		obj = map[string]any{}
	}
	verr := &apperr.ValidationError{}
	_, ro := checkReadonlyAndSystem(ent, obj)
	verr.Fields = append(verr.Fields, ro...)
	verr.Fields = append(verr.Fields, unknownFields(ent, obj)...)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	if err := s.checkWrite(ctx, ent, sortedKeys(obj)); err != nil {
		return nil, err
	}

	applyDefaults(ent, obj)
	values, ferrs, err := s.normalize(ctx, s.DB, ent, obj)
	if err != nil {
		return nil, err
	}
	verr.Fields = append(verr.Fields, ferrs...)
	for _, f := range ent.Fields {
		if f.Required() && values[f.Name] == nil && !hasError(verr, f.Name) {
			verr.Add(apperr.ErrRequired, f.Name, "Field '"+f.Name+"' is required")
		}
	}
	if hook := s.Hooks[ent.Source()]; hook != nil && len(verr.Fields) == 0 {
		verr.Fields = append(verr.Fields, hook(values)...)
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	sl := slug.New()
	err = store.RunInTx(ctx, s.DB, func(tx *sql.Tx) error {
		repo := NewRepository(tx, s.Dialect, ent)
		if err := s.checkUnique(ctx, repo, ent, values, nil, 0); err != nil {
			return err
		}
		row := maps.Clone(values)
		now := s.now()
		row["slug"] = sl
		row["deleted"] = 0
		row["version"] = 1
		row["created_at"] = now
		row["updated_at"] = now
		_, err := repo.Insert(ctx, row)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Запись создана", slog.String("entity", ent.Source()), slog.String("slug", sl))
	return s.Get(ctx, ent.Source(), sl)
}

// Update: частичное изменение. expected: ожидаемая версия (If-Match);
// если не задана, берётся version из payload; без неё проверки версии нет.
func (s *Service) Update(ctx context.Context, source, recSlug string, payload map[string]any, expected *int64) (map[string]any, error) {
	ent, err := s.schema(source)
	if err != nil {
		return nil, err
	}
	obj := maps.Clone(payload)
	if obj == nil {
		obj = map[string]any{}
	}
	verr := &apperr.ValidationError{}
	bodyVersion, ro := checkReadonlyAndSystem(ent, obj)
	if expected == nil {
		expected = bodyVersion
	}
	verr.Fields = append(verr.Fields, ro...)
	verr.Fields = append(verr.Fields, unknownFields(ent, obj)...)
	if err := verr.OrNil(); err != nil {
		return nil, err
	}

	cur, err := NewRepository(s.DB, s.Dialect, ent).GetBySlug(ctx, recSlug)
	if err != nil {
		return nil, err
	}
	if cur["deleted"] == true {
		return nil, apperr.NotFound("%s %q", ent.Source(), recSlug)
	}
	curVersion, _ := cur["version"].(int64)
	if expected != nil && *expected != curVersion {
		return nil, versionConflict(curVersion)
	}
	if err := s.checkWrite(ctx, ent, sortedKeys(obj)); err != nil {
		return nil, err
	}

	changes, ferrs, err := s.normalize(ctx, s.DB, ent, obj)
	if err != nil {
		return nil, err
	}
	verr.Fields = append(verr.Fields, ferrs...)
	for name, v := range changes {
		if f, _ := ent.Field(name); f.Required() && v == nil {
			verr.Add(apperr.ErrRequired, name, "Field '"+name+"' is required")
		}
	}
	merged := make(map[string]any, len(ent.Fields))
	for _, f := range ent.Fields {
		merged[f.Name] = cur[f.Name]
	}
	for k, v := range changes {
		merged[k] = v
	}
	if hook := s.Hooks[ent.Source()]; hook != nil && len(verr.Fields) == 0 {
		verr.Fields = append(verr.Fields, hook(merged)...)
		for k := range changes {
			changes[k] = merged[k]
		}
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return s.Get(ctx, ent.Source(), recSlug)
	}

	id, _ := cur["id"].(int64)
	err = store.RunInTx(ctx, s.DB, func(tx *sql.Tx) error {
		repo := NewRepository(tx, s.Dialect, ent)
		if err := s.checkUnique(ctx, repo, ent, merged, changes, id); err != nil {
			return err
		}
		row := maps.Clone(changes)
		row["updated_at"] = s.now()
		ok, err := repo.Update(ctx, id, curVersion, row)
		if err != nil {
			return err
		}
		if !ok {
			return versionConflict(curVersion + 1)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ent.Source(), recSlug)
}

// Delete: мягкое удаление с учётом on_delete ссылающихся полей:
// restrict запрещает удаление, set_null обнуляет ссылки.
func (s *Service) Delete(ctx context.Context, source, recSlug string) error {
	ent, err := s.schema(source)
	if err != nil {
		return err
	}
	cur, err := NewRepository(s.DB, s.Dialect, ent).GetBySlug(ctx, recSlug)
	if err != nil {
		return err
	}
	if cur["deleted"] == true {
		return apperr.NotFound("%s %q", ent.Source(), recSlug)
	}
	id, _ := cur["id"].(int64)
	refs := s.referencing(ent)

	err = store.RunInTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, ref := range refs {
			if ref.field.OnDelete() == "set_null" {
				continue
			}
			n, err := CountReferences(ctx, tx, s.Dialect, ref.child, ref.field.Name, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return &apperr.ConflictError{Fields: []apperr.FieldError{ferr("fk_in_use", ref.field.Name,
					fmt.Sprintf("record is referenced by %s.%s", ref.child.Source(), ref.field.Name))}}
			}
		}
		now := s.now()
		for _, ref := range refs {
			if ref.field.OnDelete() != "set_null" {
				continue
			}
			if err := NullReferences(ctx, tx, s.Dialect, ref.child, ref.field.Name, id, now); err != nil {
				return err
			}
		}
		return NewRepository(tx, s.Dialect, ent).SetDeleted(ctx, id, true, now)
	})
	if err != nil {
		return err
	}
	s.logger.Info("Запись удалена", slog.String("entity", ent.Source()), slog.String("slug", recSlug))
	return nil
}

// Restore снимает пометку удаления, если это не нарушит уникальность.
func (s *Service) Restore(ctx context.Context, source, recSlug string) (map[string]any, error) {
	ent, err := s.schema(source)
	if err != nil {
		return nil, err
	}
	cur, err := NewRepository(s.DB, s.Dialect, ent).GetBySlug(ctx, recSlug)
	if err != nil {
		return nil, err
	}
	if cur["deleted"] != true {
		return s.present(ctx, ent, cur)
	}
	id, _ := cur["id"].(int64)
	err = store.RunInTx(ctx, s.DB, func(tx *sql.Tx) error {
		repo := NewRepository(tx, s.Dialect, ent)
		if err := s.checkUnique(ctx, repo, ent, cur, nil, id); err != nil {
			return err
		}
		return repo.SetDeleted(ctx, id, false, s.now())
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, ent.Source(), recSlug)
}

// Get: запись по slug, ссылки отдаются slug-ами.
func (s *Service) Get(ctx context.Context, source, recSlug string) (map[string]any, error) {
	ent, err := s.schema(source)
	if err != nil {
		return nil, err
	}
	row, err := NewRepository(s.DB, s.Dialect, ent).GetBySlug(ctx, recSlug)
	if err != nil {
		return nil, err
	}
	out, err := s.present(ctx, ent, row)
	if err != nil {
		return nil, err
	}
	can, err := s.readable(ctx, ent)
	if err != nil {
		return nil, err
	}
	// системные ключи (slug, version, deleted, даты) не закрываются правами
	for _, f := range ent.Fields {
		if !can(f.Name) {
			delete(out, f.Name)
		}
	}
	return out, nil
}

// List: табличное представление через виртуальную таблицу.
func (s *Service) List(ctx context.Context, req vtable.Request, visible vtable.Visible) (*vtable.Result, error) {
	return s.Composer.Compose(ctx, req, visible)
}

// SaveDynamicValues записывает значения динамических полей записи в одной транзакции.
func (s *Service) SaveDynamicValues(ctx context.Context, source, recSlug string, values map[int64]any) error {
	ent, err := s.schema(source)
	if err != nil {
		return err
	}
	cur, err := NewRepository(s.DB, s.Dialect, ent).GetBySlug(ctx, recSlug)
	if err != nil {
		return err
	}
	if cur["deleted"] == true {
		return apperr.NotFound("%s %q", ent.Source(), recSlug)
	}
	keys := make([]string, 0, len(values))
	for id := range values {
		keys = append(keys, dynfield.Key(id))
	}
	sort.Strings(keys)
	if err := s.checkWrite(ctx, ent, keys); err != nil {
		return err
	}
	id, _ := cur["id"].(int64)
	return store.RunInTx(ctx, s.DB, func(tx *sql.Tx) error {
		reg := dynfield.NewRegistry(tx, s.Dialect, s.Catalog)
		return dynfield.NewValueStore(tx, s.Dialect, reg).SaveValues(ctx, ent.Source(), id, values)
	})
}

// DynamicValues: значения динамических полей по slug записей: slug -> ключ поля -> значение.
// Неизвестные slug пропускаются.
func (s *Service) DynamicValues(ctx context.Context, source string, slugs []string, fieldIDs []int64) (map[string]map[string]any, error) {
	ent, err := s.schema(source)
	if err != nil {
		return nil, err
	}
	ids, err := slug.NewResolver(s.DB, s.Dialect, s.Catalog, s.Slugs).ToIDs(ctx, ent.Source(), slugs)
	if err != nil {
		return nil, err
	}
	recordIDs := make([]int64, 0, len(ids))
	for _, id := range ids {
		recordIDs = append(recordIDs, id)
	}
	slices.Sort(recordIDs)

	reg := dynfield.NewRegistry(s.DB, s.Dialect, s.Catalog)
	defs, err := reg.ListByIDs(ctx, fieldIDs)
	if err != nil {
		return nil, err
	}
	can, err := s.readable(ctx, ent)
	if err != nil {
		return nil, err
	}
	own := make(map[int64]dynfield.Definition, len(defs))
	for id, def := range defs {
		if def.Source == ent.Source() && can(dynfield.Key(id)) {
			own[id] = def
		}
	}
	vals, err := dynfield.NewValueStore(s.DB, s.Dialect, reg).ReadDefinitions(ctx, own, recordIDs)
	if err != nil {
		return nil, err
	}

	out := make(map[string]map[string]any, len(ids))
	for sl, id := range ids {
		row := make(map[string]any, len(own))
		for fid := range own {
			v, _ := vals.Get(id, fid)
			row[dynfield.Key(fid)] = v
		}
		out[sl] = row
	}
	return out, nil
}

// normalize приводит значения payload к типам колонок, ссылки: к id.
func (s *Service) normalize(ctx context.Context, db store.DBTX, ent *dsl.Entity, obj map[string]any) (map[string]any, []apperr.FieldError, error) {
	out := make(map[string]any, len(obj))
	var errs []apperr.FieldError
	resolver := slug.NewResolver(db, s.Dialect, s.Catalog, s.Slugs)

	for _, name := range sortedKeys(obj) {
		f, _ := ent.Field(name)
		raw := obj[name]
		if isBlank(raw) {
			out[name] = nil
			continue
		}

		if f.IsRef() {
			target, ok := s.Catalog.RefTarget(f)
			if !ok {
				return nil, nil, apperr.Configuration("%s.%s references unknown entity %q", ent.Source(), f.Name, f.RefTarget)
			}
			ref, isStr := raw.(string)
			if !isStr {
				errs = append(errs, ferr(apperr.ErrTypeMismatch, name, "Field '"+name+"' must be a slug"))
				continue
			}
			id, err := resolver.ToID(ctx, target.Source(), strings.TrimSpace(ref))
			if err != nil && !isNotFound(err) {
				return nil, nil, err
			}
			alive := false
			if err == nil {
				if alive, err = LiveExists(ctx, db, s.Dialect, target.Table(), id); err != nil {
					return nil, nil, err
				}
			}
			if !alive {
				errs = append(errs, ferr(apperr.ErrRefNotFound, name, "Referenced '"+target.Source()+"' not found"))
				continue
			}
			out[name] = id
			continue
		}

		v, err := coerceValue(f, raw)
		if err != nil {
			if apperr.IsConfiguration(err) {
				return nil, nil, err
			}
			code := apperr.ErrTypeMismatch
			if len(f.Enum) > 0 {
				code = apperr.ErrEnumInvalid
			}
			errs = append(errs, ferr(code, name, "Field '"+name+"' "+err.Error()))
			continue
		}
		if str, ok := v.(string); ok {
			if fe := checkString(f, str); fe != nil {
				errs = append(errs, *fe)
				continue
			}
			if cat := f.Catalog(); cat != "" && !s.Enums.Valid(cat, str, s.Now()) {
				errs = append(errs, ferr(apperr.ErrEnumInvalid, name, fmt.Sprintf("Value '%s' is not in catalog %s", str, cat)))
				continue
			}
		}
		out[name] = v
	}
	return out, errs, nil
}

// checkUnique: одиночные unique-поля и составные ограничения среди живых записей.
// changes != nil: проверяются только наборы, затронутые изменением.
func (s *Service) checkUnique(ctx context.Context, repo *Repository, ent *dsl.Entity, rec, changes map[string]any, excludeID int64) error {
	var sets [][]string
	for _, f := range ent.Fields {
		if f.Unique() {
			sets = append(sets, []string{f.Name})
		}
	}
	sets = append(sets, ent.Constraints.Unique...)

	for _, set := range sets {
		if changes != nil && !touches(set, changes) {
			continue
		}
		vals := make([]any, len(set))
		for i, f := range set {
			vals[i] = rec[f]
		}
		dup, err := repo.Duplicate(ctx, set, vals, excludeID)
		if err != nil {
			return err
		}
		if dup {
			msg := fmt.Sprintf("Field '%s' must be unique", set[0])
			if len(set) > 1 {
				msg = fmt.Sprintf("Fields %v must be unique together", set)
			}
			return apperr.Conflict(apperr.ErrUniqueViolation, set[0], msg)
		}
	}
	return nil
}

// present: запись для клиента: без внутреннего id, ссылки как slug.
func (s *Service) present(ctx context.Context, ent *dsl.Entity, row map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(row))
	for k, v := range row {
		if k == "id" {
			continue
		}
		out[k] = v
	}
	resolver := slug.NewResolver(s.DB, s.Dialect, s.Catalog, s.Slugs)
	for _, f := range ent.Fields {
		if !f.IsRef() {
			continue
		}
		id, ok := row[f.Name].(int64)
		if !ok {
			out[f.Name] = nil
			continue
		}
		target, ok := s.Catalog.RefTarget(f)
		if !ok {
			return nil, apperr.Configuration("%s.%s references unknown entity %q", ent.Source(), f.Name, f.RefTarget)
		}
		sl, err := resolver.ToSlug(ctx, target.Source(), id)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		out[f.Name] = nilIfEmpty(sl)
	}
	return out, nil
}

type backRef struct {
	child *dsl.Entity
	field dsl.Field
}

// referencing: ref-поля всех сущностей, указывающие на ent.
func (s *Service) referencing(ent *dsl.Entity) []backRef {
	var out []backRef
	for _, child := range s.Catalog.Entities() {
		for _, f := range child.Fields {
			if target, ok := s.Catalog.RefTarget(f); ok && target.Source() == ent.Source() {
				out = append(out, backRef{child: child, field: f})
			}
		}
	}
	return out
}

func unknownFields(ent *dsl.Entity, obj map[string]any) []apperr.FieldError {
	var errs []apperr.FieldError
	for _, k := range sortedKeys(obj) {
		if _, ok := ent.Field(k); !ok {
			errs = append(errs, ferr(apperr.ErrUnknown, k, "Unknown field '"+k+"'"))
		}
	}
	return errs
}

func versionConflict(current int64) error {
	return apperr.Conflict(apperr.ErrVersionConflict, "version", fmt.Sprintf("expected version %d", current))
}

func touches(set []string, changes map[string]any) bool {
	for _, f := range set {
		if _, ok := changes[f]; ok {
			return true
		}
	}
	return false
}

func hasError(verr *apperr.ValidationError, field string) bool {
	for _, f := range verr.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	var nf *apperr.NotFoundError
	return errors.As(err, &nf)
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
