package dynfield_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabel/internal/apperr"
	"tabel/internal/dynfield"
	"tabel/internal/store/storetest"
)

func newRegistry(t *testing.T) (*dynfield.Registry, *storetest.DB) {
	t.Helper()
	db := storetest.Open(t)
	return dynfield.NewRegistry(db, db.Dialect, db.Catalog), db
}

func fieldCodes(t *testing.T, err error) map[string]string {
	t.Helper()
	var ve *apperr.ValidationError
	require.True(t, errors.As(err, &ve), "ожидали ValidationError, получили %v", err)
	out := map[string]string{}
	for _, f := range ve.Fields {
		out[f.Field] = f.Code
	}
	return out
}

func TestRegistry_CreateAndList(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	grade, err := reg.Create(ctx, dynfield.Definition{Source: "user", Title: " Грейд ", FieldType: dynfield.TypeSelect, Sort: 20})
	require.NoError(t, err)
	assert.NotZero(t, grade.ID)
	assert.Equal(t, "Грейд", grade.Title)

	_, err = reg.Create(ctx, dynfield.Definition{Source: "user", Title: "Стаж", FieldType: dynfield.TypeInteger, Sort: 10})
	require.NoError(t, err)
	_, err = reg.Create(ctx, dynfield.Definition{Source: "project", Title: "Заказчик", FieldType: dynfield.TypeString})
	require.NoError(t, err)

	defs, err := reg.ListFieldsForSource(ctx, "user")
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "Стаж", defs[0].Title, "сортировка по sort")
	assert.Equal(t, "Грейд", defs[1].Title)

	got, err := reg.Get(ctx, grade.ID)
	require.NoError(t, err)
	assert.Equal(t, grade, got)
}

func TestRegistry_CreateValidation(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	_, err := reg.Create(ctx, dynfield.Definition{Source: "user", Title: "Стаж", FieldType: dynfield.TypeInteger})
	require.NoError(t, err)

	tests := []struct {
		name  string
		def   dynfield.Definition
		field string
		code  string
	}{
		{"неизвестный тип", dynfield.Definition{Source: "user", Title: "X", FieldType: "geo"}, "field_type", apperr.ErrEnumInvalid},
		{"неизвестный источник", dynfield.Definition{Source: "spaceship", Title: "X", FieldType: dynfield.TypeString}, "source", apperr.ErrInvalid},
		{"multiple не у select", dynfield.Definition{Source: "user", Title: "X", FieldType: dynfield.TypeInteger, Multiple: true}, "multiple", apperr.ErrInvalid},
		{"пустой заголовок", dynfield.Definition{Source: "user", Title: "  ", FieldType: dynfield.TypeText}, "title", apperr.ErrRequired},
		{"дубль заголовка", dynfield.Definition{Source: "user", Title: "Стаж", FieldType: dynfield.TypeText}, "title", apperr.ErrUniqueViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Create(ctx, tt.def)
			require.Error(t, err)
			assert.Equal(t, tt.code, fieldCodes(t, err)[tt.field])
		})
	}

	// тот же заголовок у другой сущности допустим
	_, err = reg.Create(ctx, dynfield.Definition{Source: "project", Title: "Стаж", FieldType: dynfield.TypeText})
	assert.NoError(t, err)
}

func TestRegistry_UpdateTypeChange(t *testing.T) {
	reg, db := newRegistry(t)
	ctx := context.Background()
	values := dynfield.NewValueStore(db, db.Dialect, reg)

	def, err := reg.Create(ctx, dynfield.Definition{Source: "user", Title: "Стаж", FieldType: dynfield.TypeInteger})
	require.NoError(t, err)

	// пока значений нет: тип менять можно
	def.FieldType = dynfield.TypeDecimal
	def, err = reg.Update(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, dynfield.TypeDecimal, def.FieldType)

	require.NoError(t, values.SaveValues(ctx, "user", 1, map[int64]any{def.ID: "1.5"}))

	def.FieldType = dynfield.TypeString
	_, err = reg.Update(ctx, def)
	require.Error(t, err)
	assert.Equal(t, apperr.ErrInvalid, fieldCodes(t, err)["field_type"])

	// смена заголовка без смены типа проходит
	def.FieldType = dynfield.TypeDecimal
	def.Title = "Стаж, лет"
	def.Source = "project"
	got, err := reg.Update(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, "Стаж, лет", got.Title)
	assert.Equal(t, "user", got.Source, "источник не меняется")
}

func TestRegistry_Delete(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	def, err := reg.Create(ctx, dynfield.Definition{Source: "team", Title: "Офис", FieldType: dynfield.TypeString})
	require.NoError(t, err)
	require.NoError(t, reg.Delete(ctx, def.ID))

	defs, err := reg.ListFieldsForSource(ctx, "team")
	require.NoError(t, err)
	assert.Empty(t, defs)

	var nf *apperr.NotFoundError
	_, err = reg.Get(ctx, def.ID)
	assert.True(t, errors.As(err, &nf))
	assert.True(t, errors.As(reg.Delete(ctx, def.ID), &nf))

	// после удаления заголовок снова свободен
	_, err = reg.Create(ctx, dynfield.Definition{Source: "team", Title: "Офис", FieldType: dynfield.TypeString})
	assert.NoError(t, err)
}

func TestRegistry_SaveOptions(t *testing.T) {
	reg, _ := newRegistry(t)
	ctx := context.Background()

	def, err := reg.Create(ctx, dynfield.Definition{Source: "user", Title: "Грейд", FieldType: dynfield.TypeSelect})
	require.NoError(t, err)

	opts, err := reg.SaveOptions(ctx, def.ID, []dynfield.Option{
		{Label: "Senior", Ordering: 2},
		{Label: "Junior", Ordering: 1},
	})
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, "Junior", opts[0].Label)
	assert.Equal(t, "Senior", opts[1].Label)

	// переименовали Junior, Senior убрали, добавили Middle
	opts, err = reg.SaveOptions(ctx, def.ID, []dynfield.Option{
		{ID: opts[0].ID, Label: "Junior+", Ordering: 1},
		{Label: "Middle", Ordering: 5},
	})
	require.NoError(t, err)
	require.Len(t, opts, 2)
	assert.Equal(t, "Junior+", opts[0].Label)
	assert.Equal(t, "Middle", opts[1].Label)

	t.Run("чужой вариант", func(t *testing.T) {
		_, err := reg.SaveOptions(ctx, def.ID, []dynfield.Option{{ID: 9999, Label: "X"}})
		require.Error(t, err)
		assert.Equal(t, apperr.ErrRefNotFound, fieldCodes(t, err)["options[0].id"])
	})

	t.Run("не select", func(t *testing.T) {
		num, err := reg.Create(ctx, dynfield.Definition{Source: "user", Title: "Стаж", FieldType: dynfield.TypeInteger})
		require.NoError(t, err)
		_, err = reg.SaveOptions(ctx, num.ID, []dynfield.Option{{Label: "1"}})
		require.Error(t, err)
		assert.Contains(t, fieldCodes(t, err), "field_id")
	})
}
