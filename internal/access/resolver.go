package access

import (
	"context"
	"sort"
	"strings"

	"tabel/internal/apperr"
	"tabel/internal/auth"
)

// Resolver вычисляет права пользователя на поля. Живёт один запрос:
// записи field_permissions по сущности читаются один раз и кешируются.
type Resolver struct {
	store   *Store
	session *auth.Session
	cache   map[string]map[permKey]Permission
}

func NewResolver(store *Store, session *auth.Session) *Resolver {
	return &Resolver{store: store, session: session, cache: map[string]map[permKey]Permission{}}
}

func (r *Resolver) load(ctx context.Context, entity string) (map[permKey]Permission, error) {
	if m, ok := r.cache[entity]; ok {
		return m, nil
	}
	list, err := r.store.List(ctx, entity)
	if err != nil {
		return nil, err
	}
	m := make(map[permKey]Permission, len(list))
	for _, p := range list {
		m[keyOf(p.RoleID, p.Entity, p.Field)] = p
	}
	r.cache[entity] = m
	return m, nil
}

// GetFieldPermission: право роли на действие с полем. Нет записи: разрешено.
func (r *Resolver) GetFieldPermission(ctx context.Context, role, entity, field, action string) (bool, error) {
	m, err := r.load(ctx, entity)
	if err != nil {
		return false, err
	}
	return allowed(m, role, entity, field, action), nil
}

func allowed(m map[permKey]Permission, role, entity, field, action string) bool {
	p, ok := m[keyOf(role, entity, field)]
	if !ok {
		return true
	}
	return p.Allows(action)
}

// roles: роли сессии; пользователь без ролей считается сотрудником.
func (r *Resolver) roles() []string {
	if r.session == nil || len(r.session.Roles) == 0 {
		return []string{RoleEmployee}
	}
	return r.session.Roles
}

func (r *Resolver) isAdmin() bool { return r.session.HasRole(RoleAdmin) }

// Can: хотя бы одна роль пользователя разрешает действие. Администратору можно всё.
func (r *Resolver) Can(ctx context.Context, entity, field, action string) (bool, error) {
	if r.isAdmin() {
		return true, nil
	}
	m, err := r.load(ctx, entity)
	if err != nil {
		return false, err
	}
	return r.can(m, entity, field, action), nil
}

func (r *Resolver) can(m map[permKey]Permission, entity, field, action string) bool {
	for _, role := range r.roles() {
		if allowed(m, role, entity, field, action) {
			return true
		}
	}
	return false
}

// Visible: предикат видимости колонок сущности (can_view) для компоновщика.
func (r *Resolver) Visible(ctx context.Context, entity string) (func(field string) bool, error) {
	return r.predicate(ctx, entity, ActionView)
}

// Readable: предикат чтения значений полей (can_read) для карточки записи
// и значений динамических полей.
func (r *Resolver) Readable(ctx context.Context, entity string) (func(field string) bool, error) {
	return r.predicate(ctx, entity, ActionRead)
}

func (r *Resolver) predicate(ctx context.Context, entity, action string) (func(field string) bool, error) {
	if r.isAdmin() {
		return func(string) bool { return true }, nil
	}
	m, err := r.load(ctx, entity)
	if err != nil {
		return nil, err
	}
	return func(field string) bool { return r.can(m, entity, field, action) }, nil
}

// Matrix: права пользователя на перечисленные поля по всем действиям.
func (r *Resolver) Matrix(ctx context.Context, entity string, fields []string) (map[string]map[string]bool, error) {
	out := make(map[string]map[string]bool, len(fields))
	var m map[permKey]Permission
	if !r.isAdmin() {
		var err error
		if m, err = r.load(ctx, entity); err != nil {
			return nil, err
		}
	}
	for _, f := range fields {
		acts := make(map[string]bool, len(Actions))
		for _, a := range Actions {
			acts[a] = m == nil || r.can(m, entity, f, a)
		}
		out[f] = acts
	}
	return out, nil
}

// CheckWrite проверяет can_write по каждому изменяемому полю.
// Запрещённые поля перечисляются в PermissionDeniedError.
func (r *Resolver) CheckWrite(ctx context.Context, entity string, fields []string) error {
	if r.isAdmin() || len(fields) == 0 {
		return nil
	}
	m, err := r.load(ctx, entity)
	if err != nil {
		return err
	}
	var denied []string
	for _, f := range fields {
		if !r.can(m, entity, f, ActionWrite) {
			denied = append(denied, f)
		}
	}
	if len(denied) > 0 {
		sort.Strings(denied)
		return apperr.PermissionDenied("no write access to %s.%s", entity, strings.Join(denied, ", "))
	}
	return nil
}
