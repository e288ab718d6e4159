package access_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabel/internal/access"
	"tabel/internal/apperr"
	"tabel/internal/auth"
	"tabel/internal/store"
	"tabel/internal/store/storetest"
)

func seed(t *testing.T) *access.Store {
	t.Helper()
	db := storetest.Open(t)
	s := access.NewStore(db, db.Dialect)
	ctx := context.Background()
	for _, p := range []access.Permission{
		// hr видит ставку, но не меняет
		{RoleID: "hr", Entity: "user", Field: "hourly_rate", CanView: true, CanRead: true},
		// сотруднику ставка скрыта
		{RoleID: "employee", Entity: "user", Field: "hourly_rate"},
		{RoleID: "manager", Entity: "user", Field: "hourly_rate", CanView: true, CanRead: true, CanWrite: true},
		{RoleID: "employee", Entity: "user", Field: "position", CanView: true, CanRead: true},
	} {
		require.NoError(t, s.Save(ctx, p))
	}
	return s
}

func TestStore_SaveUpserts(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, access.Permission{RoleID: " HR ", Entity: "user", Field: "hourly_rate", CanView: true, CanWrite: true}))

	list, err := s.ListForRoles(ctx, "user", []string{"hr"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].CanWrite)
	assert.False(t, list[0].CanRead)

	all, err := s.List(ctx, "user")
	require.NoError(t, err)
	assert.Len(t, all, 4)

	none, err := s.ListForRoles(ctx, "user", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStore_SaveValidation(t *testing.T) {
	s := seed(t)
	err := s.Save(context.Background(), access.Permission{RoleID: "pilot"})
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Fields, 3)
}

func TestStore_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	d, err := store.DialectFor(store.DriverSQLite)
	require.NoError(t, err)

	boom := errors.New("boom")
	mock.ExpectQuery("SELECT (.+) FROM field_permissions").WillReturnError(boom)

	_, err = access.NewStore(db, d).List(context.Background(), "user")
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolver_Can(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		roles  []string
		field  string
		action string
		want   bool
	}{
		{"нет записи: разрешено", []string{"employee"}, "email", access.ActionWrite, true},
		{"явный запрет", []string{"employee"}, "hourly_rate", access.ActionView, false},
		{"явное разрешение", []string{"hr"}, "hourly_rate", access.ActionView, true},
		{"hr не пишет ставку", []string{"hr"}, "hourly_rate", access.ActionWrite, false},
		{"достаточно одной роли", []string{"hr", "manager"}, "hourly_rate", access.ActionWrite, true},
		{"админу можно всё", []string{"admin"}, "hourly_rate", access.ActionDelete, true},
		{"без ролей как сотрудник", nil, "hourly_rate", access.ActionView, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := access.NewResolver(s, &auth.Session{UserSlug: "u", Roles: tt.roles})
			got, err := r.Can(ctx, "user", tt.field, tt.action)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolver_GetFieldPermission(t *testing.T) {
	r := access.NewResolver(seed(t), nil)
	ctx := context.Background()

	ok, err := r.GetFieldPermission(ctx, "employee", "user", "position", access.ActionWrite)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = r.GetFieldPermission(ctx, "accountant", "user", "position", access.ActionWrite)
	require.NoError(t, err)
	assert.True(t, ok, "нет записи для роли: разрешено")
}

func TestResolver_CachesPerEntity(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	d, err := store.DialectFor(store.DriverSQLite)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{"role_id", "entity", "field", "can_view", "can_read", "can_write", "can_delete", "can_view_add_info"}).
		AddRow("employee", "user", "hourly_rate", 0, 0, 0, 0, 0)
	mock.ExpectQuery("SELECT (.+) FROM field_permissions").WillReturnRows(rows)

	r := access.NewResolver(access.NewStore(db, d), &auth.Session{UserSlug: "u", Roles: []string{"employee"}})
	for range 3 {
		ok, err := r.Can(context.Background(), "user", "hourly_rate", access.ActionView)
		require.NoError(t, err)
		assert.False(t, ok)
	}
	assert.NoError(t, mock.ExpectationsWereMet(), "ожидали один запрос на сущность")
}

func TestResolver_VisibleAndMatrix(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	r := access.NewResolver(s, &auth.Session{UserSlug: "u", Roles: []string{"employee"}})
	visible, err := r.Visible(ctx, "user")
	require.NoError(t, err)
	assert.False(t, visible("hourly_rate"))
	assert.True(t, visible("name"))

	m, err := r.Matrix(ctx, "user", []string{"position", "name"})
	require.NoError(t, err)
	assert.True(t, m["position"][access.ActionView])
	assert.False(t, m["position"][access.ActionWrite])
	assert.True(t, m["name"][access.ActionViewAddInfo])

	admin := access.NewResolver(s, &auth.Session{UserSlug: "a", Roles: []string{"admin"}})
	m, err = admin.Matrix(ctx, "user", []string{"hourly_rate"})
	require.NoError(t, err)
	assert.True(t, m["hourly_rate"][access.ActionWrite])
}

func TestResolver_Readable(t *testing.T) {
	s := seed(t)
	ctx := context.Background()

	r := access.NewResolver(s, &auth.Session{UserSlug: "u", Roles: []string{"employee"}})
	readable, err := r.Readable(ctx, "user")
	require.NoError(t, err)
	assert.False(t, readable("hourly_rate"))
	assert.True(t, readable("position"))
	assert.True(t, readable("name"), "нет строки: разрешено")

	hr := access.NewResolver(s, &auth.Session{UserSlug: "h", Roles: []string{"hr"}})
	readable, err = hr.Readable(ctx, "user")
	require.NoError(t, err)
	assert.True(t, readable("hourly_rate"))

	admin := access.NewResolver(s, &auth.Session{UserSlug: "a", Roles: []string{"admin"}})
	readable, err = admin.Readable(ctx, "user")
	require.NoError(t, err)
	assert.True(t, readable("hourly_rate"))
}

func TestResolver_CheckWrite(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	r := access.NewResolver(s, &auth.Session{UserSlug: "u", Roles: []string{"employee"}})

	assert.NoError(t, r.CheckWrite(ctx, "user", []string{"name", "email"}))

	err := r.CheckWrite(ctx, "user", []string{"position", "name", "hourly_rate"})
	var pe *apperr.PermissionDeniedError
	require.True(t, errors.As(err, &pe), "ожидали PermissionDeniedError, получили %v", err)
	assert.Equal(t, "no write access to user.hourly_rate, position", pe.Message)
}

func TestPolicy_Decide(t *testing.T) {
	p := access.DefaultPolicy()

	tests := []struct {
		name      string
		session   *auth.Session
		endpoints []string
		want      access.Outcome
	}{
		{"без сессии", nil, []string{"/ajax/getTableData"}, access.DeniedUnauthenticated},
		{"не объявлен: любой вошедший", &auth.Session{UserSlug: "u"}, []string{"/ajax/getTableData"}, access.Allowed},
		{"нет нужной роли", &auth.Session{UserSlug: "u", Roles: []string{"employee"}}, []string{"/ajax/createDynamicField"}, access.DeniedForbidden},
		{"есть нужная роль", &auth.Session{UserSlug: "u", Roles: []string{"employee", "hr"}}, []string{"/ajax/createDynamicField"}, access.Allowed},
		{"админ проходит всегда", &auth.Session{UserSlug: "u", Roles: []string{"admin"}}, []string{"/ajax/entity/payment/create"}, access.Allowed},
		{
			"частный ключ важнее общего",
			&auth.Session{UserSlug: "u", Roles: []string{"hr"}},
			[]string{"/ajax/entity/payment/create", "/ajax/entity/:entity/create"},
			access.DeniedForbidden,
		},
		{
			"общий ключ, если частного нет",
			&auth.Session{UserSlug: "u", Roles: []string{"manager"}},
			[]string{"/ajax/entity/project/create", "/ajax/entity/:entity/create"},
			access.Allowed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Decide(tt.session, tt.endpoints...))
		})
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
endpoints:
  /ajax/createDynamicField: [admin]
  /ajax/reports/hoursByProject: []
  /ajax/entity/direction/create: [Manager]
  /ajax/entity/payment/delete: []
`), 0o600))

	p, err := access.LoadPolicy(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, p.RequiredRoles("/ajax/createDynamicField"))
	assert.Empty(t, p.RequiredRoles("/ajax/reports/hoursByProject"), "пустой список снимает требование")

	// пустой частный ключ не проваливается к шаблону /ajax/entity/:entity/delete
	deleteKeys := []string{"/ajax/entity/payment/delete", "/ajax/entity/:entity/delete"}
	assert.Empty(t, p.RequiredRoles(deleteKeys...))
	employee := &auth.Session{UserSlug: "u", Roles: []string{"employee"}}
	assert.Equal(t, access.Allowed, p.Decide(employee, deleteKeys...))
	assert.Equal(t, access.DeniedForbidden, p.Decide(employee, "/ajax/entity/team/delete", "/ajax/entity/:entity/delete"))
	assert.Contains(t, p.Endpoints(), "/ajax/entity/payment/delete")
	assert.Equal(t, []string{"manager"}, p.RequiredRoles("/ajax/entity/direction/create"))
	assert.Equal(t, []string{"admin"}, p.RequiredRoles("/ajax/saveFieldPermission"), "остальное из встроенной таблицы")

	p, err = access.LoadPolicy(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, access.DefaultPolicy().Endpoints(), p.Endpoints())
}

func TestLoadPolicy_Invalid(t *testing.T) {
	tests := map[string]string{
		"неизвестная роль": "endpoints:\n  /ajax/x: [pilot]\n",
		"путь без слэша":   "endpoints:\n  ajax/x: [hr]\n",
		"битый yaml":       "endpoints: [",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "policy.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := access.LoadPolicy(path)
			assert.True(t, apperr.IsConfiguration(err), "ожидали ConfigurationError, получили %v", err)
		})
	}
}
