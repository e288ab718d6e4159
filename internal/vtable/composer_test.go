package vtable_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabel/internal/apperr"
	"tabel/internal/dynfield"
	"tabel/internal/store/storetest"
	"tabel/internal/vtable"
)

type fixture struct {
	db       *storetest.DB
	composer *vtable.Composer

	grade, skills, exp dynfield.Definition
	junior, senior     int64
	goOpt, sqlOpt      int64
}

func newFixture(t *testing.T, db *storetest.DB) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{db: db, composer: vtable.NewComposer(db.DB, db.Dialect, db.Catalog, storetest.Logger())}

	team := db.Insert(t, "teams", map[string]any{"slug": "team-backend", "title": "Backend"})
	anna := db.Insert(t, "users", map[string]any{"slug": "anna", "name": "Anna", "email": "anna@example.com", "team_id": team, "hourly_rate": 1500.5, "active": true})
	boris := db.Insert(t, "users", map[string]any{"slug": "boris", "name": "Boris", "email": "boris@example.com", "hourly_rate": 900, "active": false})
	cyril := db.Insert(t, "users", map[string]any{"slug": "cyril", "name": "Cyril", "email": "cyril@example.com", "hourly_rate": 1500.5, "active": true})
	db.Insert(t, "users", map[string]any{"slug": "dmitry", "name": "Dmitry", "email": "dmitry@example.com", "deleted": 1})

	reg := dynfield.NewRegistry(db, db.Dialect, db.Catalog)
	vs := dynfield.NewValueStore(db, db.Dialect, reg)
	var err error
	f.grade, err = reg.Create(ctx, dynfield.Definition{Source: "user", Title: "Грейд", FieldType: dynfield.TypeSelect})
	require.NoError(t, err)
	f.skills, err = reg.Create(ctx, dynfield.Definition{Source: "user", Title: "Навыки", FieldType: dynfield.TypeSelect, Multiple: true})
	require.NoError(t, err)
	f.exp, err = reg.Create(ctx, dynfield.Definition{Source: "user", Title: "Стаж", FieldType: dynfield.TypeInteger})
	require.NoError(t, err)

	opts, err := reg.SaveOptions(ctx, f.grade.ID, []dynfield.Option{{Label: "Junior", Ordering: 1}, {Label: "Senior", Ordering: 2}})
	require.NoError(t, err)
	f.junior, f.senior = opts[0].ID, opts[1].ID
	opts, err = reg.SaveOptions(ctx, f.skills.ID, []dynfield.Option{{Label: "Go", Ordering: 1}, {Label: "SQL", Ordering: 2}})
	require.NoError(t, err)
	f.goOpt, f.sqlOpt = opts[0].ID, opts[1].ID

	require.NoError(t, vs.SaveValues(ctx, "user", anna, map[int64]any{
		f.grade.ID:  float64(f.senior),
		f.skills.ID: []any{float64(f.sqlOpt), float64(f.goOpt)},
		f.exp.ID:    "5",
	}))
	require.NoError(t, vs.SaveValues(ctx, "user", boris, map[int64]any{f.grade.ID: float64(f.junior)}))
	require.NoError(t, vs.SaveValues(ctx, "user", cyril, map[int64]any{f.exp.ID: float64(2)}))
	return f
}

func (f *fixture) request() vtable.Request {
	return vtable.Request{
		Entity:        "user",
		Columns:       []string{"name", "team_id", "hourly_rate", "active"},
		DynamicFields: []int64{f.grade.ID, f.skills.ID, f.exp.ID, 9999},
	}
}

func slugs(rows []vtable.Row) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r["slug"].(string))
	}
	return out
}

func TestCompose_MergesStaticAndDynamic(t *testing.T) {
	f := newFixture(t, storetest.Open(t))

	res, err := f.composer.Compose(context.Background(), f.request(), nil)
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.Equal(t, []string{"anna", "boris", "cyril"}, slugs(res.Rows))

	keys := make([]string, 0, len(res.Columns))
	for _, c := range res.Columns {
		keys = append(keys, c.Key)
	}
	assert.Equal(t, []string{"name", "team_id", "hourly_rate", "active", f.grade.Key(), f.skills.Key(), f.exp.Key(), "9999"}, keys)
	assert.Equal(t, "ref", res.Columns[1].Type)
	assert.Equal(t, "team", res.Columns[1].Ref)
	assert.Equal(t, "multiselect", res.Columns[5].Type)

	anna := res.Rows[0]
	assert.Equal(t, "Anna", anna["name"])
	assert.Equal(t, "team-backend", anna["team_id"])
	assert.Equal(t, "Backend", anna["team_id_label"])
	assert.Equal(t, 1500.5, anna["hourly_rate"])
	assert.Equal(t, true, anna["active"])
	assert.Equal(t, f.senior, anna[f.grade.Key()])
	assert.Equal(t, []int64{f.goOpt, f.sqlOpt}, anna[f.skills.Key()])
	assert.Equal(t, int64(5), anna[f.exp.Key()])
	assert.Equal(t, "user", anna["slug_type"])

	// отсутствующие значения: ключ есть, значение nil
	for _, row := range res.Rows {
		assert.Contains(t, row, "9999")
		assert.Nil(t, row["9999"])
	}
	boris := res.Rows[1]
	assert.Equal(t, []int64{}, boris[f.skills.Key()], "multiple без значений: пустой набор")
	assert.Nil(t, boris[f.exp.Key()])
	assert.Nil(t, boris["team_id"])
	assert.Nil(t, boris["team_id_label"])
	assert.Equal(t, false, boris["active"])
	assert.Equal(t, float64(900), boris["hourly_rate"])
}

func TestCompose_Filter(t *testing.T) {
	f := newFixture(t, storetest.Open(t))
	ctx := context.Background()

	tests := []struct {
		name string
		cond vtable.Condition
		want []string
	}{
		{"eq", vtable.Condition{Field: "name", Op: "eq", Value: "Boris"}, []string{"boris"}},
		{"like без учёта регистра", vtable.Condition{Field: "name", Op: "like", Value: "OR"}, []string{"boris"}},
		{"in по select", vtable.Condition{Field: f.grade.Key(), Op: "in", Value: []any{float64(f.junior), float64(f.senior)}}, []string{"anna", "boris"}},
		{"eq по multiple", vtable.Condition{Field: f.skills.Key(), Op: "eq", Value: float64(f.sqlOpt)}, []string{"anna"}},
		{"neq по multiple", vtable.Condition{Field: f.skills.Key(), Op: "neq", Value: float64(f.goOpt)}, []string{"boris", "cyril"}},
		{"empty", vtable.Condition{Field: f.exp.Key(), Op: "empty"}, []string{"boris"}},
		{"not_empty", vtable.Condition{Field: f.exp.Key(), Op: "not_empty"}, []string{"anna", "cyril"}},
		{"gt по decimal", vtable.Condition{Field: "hourly_rate", Op: "gt", Value: float64(1000)}, []string{"anna", "cyril"}},
		{"lte по decimal", vtable.Condition{Field: "hourly_rate", Op: "lte", Value: "900"}, []string{"boris"}},
		{"ref по slug", vtable.Condition{Field: "team_id", Op: "eq", Value: "team-backend"}, []string{"anna"}},
		{"ref пустой", vtable.Condition{Field: "team_id", Op: "empty"}, []string{"boris", "cyril"}},
		{"bool", vtable.Condition{Field: "active", Op: "eq", Value: true}, []string{"anna", "cyril"}},
		{"in по slug", vtable.Condition{Field: "slug", Op: "in", Value: []any{"anna", "cyril"}}, []string{"anna", "cyril"}},
		{"пустой in", vtable.Condition{Field: "slug", Op: "in", Value: []any{}}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request()
			req.Filter = []vtable.Condition{tt.cond}
			res, err := f.composer.Compose(ctx, req, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, slugs(res.Rows))
		})
	}
}

func TestCompose_FilterErrors(t *testing.T) {
	f := newFixture(t, storetest.Open(t))
	ctx := context.Background()

	tests := []struct {
		name string
		cond vtable.Condition
	}{
		{"неизвестная колонка", vtable.Condition{Field: "salary", Op: "eq", Value: 1}},
		{"like по integer", vtable.Condition{Field: f.exp.Key(), Op: "like", Value: "1"}},
		{"неизвестная операция", vtable.Condition{Field: "name", Op: "between", Value: "A"}},
		{"in без списка", vtable.Condition{Field: "name", Op: "in", Value: "Anna"}},
		{"кривое число", vtable.Condition{Field: f.exp.Key(), Op: "gt", Value: "много"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request()
			req.Filter = []vtable.Condition{tt.cond}
			_, err := f.composer.Compose(ctx, req, nil)
			var ve *apperr.ValidationError
			assert.True(t, errors.As(err, &ve), "ожидали ValidationError, получили %v", err)
		})
	}
}

func TestCompose_SortAndPaginate(t *testing.T) {
	f := newFixture(t, storetest.Open(t))

	req := f.request()
	req.Sort = vtable.ParseSortRules([]any{[]any{"hourly_rate", "DESC"}, []any{"name", "ASC"}, "мусор"})
	res, err := f.composer.Compose(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"anna", "cyril", "boris"}, slugs(res.Rows))

	req.Offset, req.Limit = 1, 1
	res, err = f.composer.Compose(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, []string{"cyril"}, slugs(res.Rows))

	req.Offset = 10
	res, err = f.composer.Compose(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
}

func TestCompose_ShowDeletedIsExclusive(t *testing.T) {
	f := newFixture(t, storetest.Open(t))

	req := f.request()
	res, err := f.composer.Compose(context.Background(), req, nil)
	require.NoError(t, err)
	assert.NotContains(t, slugs(res.Rows), "dmitry")

	req.ShowDeleted = true
	res, err = f.composer.Compose(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"dmitry"}, slugs(res.Rows))
}

func TestCompose_Visibility(t *testing.T) {
	f := newFixture(t, storetest.Open(t))
	hidden := map[string]bool{"hourly_rate": true, f.grade.Key(): true}
	visible := func(field string) bool { return !hidden[field] }

	res, err := f.composer.Compose(context.Background(), f.request(), visible)
	require.NoError(t, err)
	for _, c := range res.Columns {
		assert.False(t, hidden[c.Key], "колонка %s должна быть скрыта", c.Key)
	}
	assert.NotContains(t, res.Rows[0], "hourly_rate")
	assert.NotContains(t, res.Rows[0], f.grade.Key())

	req := f.request()
	req.Filter = []vtable.Condition{{Field: "hourly_rate", Op: "gt", Value: 0}}
	_, err = f.composer.Compose(context.Background(), req, visible)
	var ve *apperr.ValidationError
	assert.True(t, errors.As(err, &ve), "по скрытой колонке фильтровать нельзя")
}

func TestCompose_DefaultColumns(t *testing.T) {
	f := newFixture(t, storetest.Open(t))

	res, err := f.composer.Compose(context.Background(), vtable.Request{Entity: "User"}, nil)
	require.NoError(t, err)
	ent, ok := f.db.Catalog.Lookup("user")
	require.True(t, ok)
	assert.Len(t, res.Columns, len(ent.Fields))
	assert.Equal(t, 3, res.Total)
}

func TestCompose_UnmappedTypeIsConfigurationError(t *testing.T) {
	f := newFixture(t, storetest.Open(t))
	ctx := context.Background()

	res, err := f.db.ExecContext(ctx,
		"INSERT INTO dyn_fields (source, title, field_type, required, multiple, sort, deleted) VALUES ('user', 'Геоточка', 'geo', 0, 0, 0, 0)")
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)

	req := f.request()
	req.DynamicFields = append(req.DynamicFields, id)
	_, err = f.composer.Compose(ctx, req, nil)
	require.Error(t, err)
	assert.True(t, apperr.IsConfiguration(err), "ожидали ConfigurationError, получили %v", err)
}

func TestCompose_UnknownEntity(t *testing.T) {
	f := newFixture(t, storetest.Open(t))

	_, err := f.composer.Compose(context.Background(), vtable.Request{Entity: "spaceship"}, nil)
	var nf *apperr.NotFoundError
	assert.True(t, errors.As(err, &nf))
}

func TestCompose_Integration(t *testing.T) {
	for name, open := range map[string]func(*testing.T) *storetest.DB{
		"postgres": storetest.OpenPostgres,
		"mysql":    storetest.OpenMySQL,
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, open(t))
			ctx := context.Background()

			req := f.request()
			req.Sort = []vtable.SortRule{{Field: "hourly_rate", Desc: true}, {Field: "name"}}
			res, err := f.composer.Compose(ctx, req, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"anna", "cyril", "boris"}, slugs(res.Rows))
			assert.Equal(t, []int64{f.goOpt, f.sqlOpt}, res.Rows[0][f.skills.Key()])
			assert.Equal(t, "Backend", res.Rows[0]["team_id_label"])

			req.Filter = []vtable.Condition{{Field: f.skills.Key(), Op: "eq", Value: float64(f.goOpt)}}
			res, err = f.composer.Compose(ctx, req, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"anna"}, slugs(res.Rows))

			req.Filter = nil
			req.ShowDeleted = true
			res, err = f.composer.Compose(ctx, req, nil)
			require.NoError(t, err)
			assert.Equal(t, []string{"dmitry"}, slugs(res.Rows))
		})
	}
}
