package access

import (
	"context"
	"fmt"
	"strings"

	"tabel/internal/apperr"
	"tabel/internal/store"
)

var permissionColumns = []string{
	"role_id", "entity", "field",
	"can_view", "can_read", "can_write", "can_delete", "can_view_add_info",
}

// Store: таблица field_permissions.
type Store struct {
	db store.DBTX
	d  store.Dialect
}

func NewStore(db store.DBTX, d store.Dialect) *Store {
	return &Store{db: db, d: d}
}

// List: все записи прав по сущности, по роли и полю.
func (s *Store) List(ctx context.Context, entity string) ([]Permission, error) {
	sb := s.d.Select()
	sb.Select(permissionColumns...).
		From("field_permissions").
		Where(sb.EQ("entity", entity)).
		OrderBy("role_id", "field")
	q, args := sb.Build()
	return s.query(ctx, q, args)
}

// ListForRoles: записи прав по сущности для набора ролей.
func (s *Store) ListForRoles(ctx context.Context, entity string, roles []string) ([]Permission, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	in := make([]any, 0, len(roles))
	for _, r := range roles {
		in = append(in, r)
	}
	sb := s.d.Select()
	sb.Select(permissionColumns...).
		From("field_permissions").
		Where(sb.EQ("entity", entity), sb.In("role_id", in...))
	q, args := sb.Build()
	return s.query(ctx, q, args)
}

// Save создаёт или обновляет запись (role_id, entity, field).
func (s *Store) Save(ctx context.Context, p Permission) error {
	p.RoleID = strings.ToLower(strings.TrimSpace(p.RoleID))
	p.Entity = strings.TrimSpace(p.Entity)
	p.Field = strings.TrimSpace(p.Field)

	verr := &apperr.ValidationError{}
	if !ValidRole(p.RoleID) {
		verr.Add(apperr.ErrEnumInvalid, "role_id", fmt.Sprintf("unknown role %q", p.RoleID))
	}
	if p.Entity == "" {
		verr.Add(apperr.ErrRequired, "entity", "entity is required")
	}
	if p.Field == "" {
		verr.Add(apperr.ErrRequired, "field", "field is required")
	}
	if err := verr.OrNil(); err != nil {
		return err
	}

	sb := s.d.Select()
	sb.Select("COUNT(*)").
		From("field_permissions").
		Where(sb.EQ("role_id", p.RoleID), sb.EQ("entity", p.Entity), sb.EQ("field", p.Field))
	q, args := sb.Build()
	var n int64
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return fmt.Errorf("lookup field permission: %w", err)
	}

	if n > 0 {
		ub := s.d.Update()
		ub.Update("field_permissions").
			Set(
				ub.Assign("can_view", store.BoolValue(p.CanView)),
				ub.Assign("can_read", store.BoolValue(p.CanRead)),
				ub.Assign("can_write", store.BoolValue(p.CanWrite)),
				ub.Assign("can_delete", store.BoolValue(p.CanDelete)),
				ub.Assign("can_view_add_info", store.BoolValue(p.CanViewInfo)),
			).
			Where(ub.EQ("role_id", p.RoleID), ub.EQ("entity", p.Entity), ub.EQ("field", p.Field))
		q, args := ub.Build()
		if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("update field permission: %w", err)
		}
		return nil
	}

	ib := s.d.Insert()
	ib.InsertInto("field_permissions").
		Cols(permissionColumns...).
		Values(p.RoleID, p.Entity, p.Field,
			store.BoolValue(p.CanView), store.BoolValue(p.CanRead), store.BoolValue(p.CanWrite),
			store.BoolValue(p.CanDelete), store.BoolValue(p.CanViewInfo))
	q, args = ib.Build()
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert field permission: %w", err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, q string, args []any) ([]Permission, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query field permissions: %w", err)
	}
	defer rows.Close()

	var out []Permission
	for rows.Next() {
		var (
			p                            Permission
			view, read, write, del, info int64
		)
		if err := rows.Scan(&p.RoleID, &p.Entity, &p.Field, &view, &read, &write, &del, &info); err != nil {
			return nil, fmt.Errorf("scan field permission: %w", err)
		}
		p.CanView, p.CanRead, p.CanWrite, p.CanDelete, p.CanViewInfo = view != 0, read != 0, write != 0, del != 0, info != 0
		out = append(out, p)
	}
	return out, rows.Err()
}
