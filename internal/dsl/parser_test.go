package dsl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
module hr

# комментарий
entity Project:
  title: string required maxlen=120
  code: string unique pattern=^[A-Z0-9-]+$
  status: enum[active, paused, closed] default=active
  direction_id: ref[Direction] on_delete=set_null
  budget: decimal permission # бюджет

entity Direction:
  title: string required
  constraints:
    unique(title)
`

func TestParse(t *testing.T) {
	ents, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	require.Len(t, ents, 2)

	p := ents[0]
	assert.Equal(t, "Project", p.Name)
	assert.Equal(t, "hr", p.Module)
	require.Len(t, p.Fields, 5)

	title, ok := p.Field("title")
	require.True(t, ok)
	assert.True(t, title.Required())
	assert.Equal(t, "120", title.Options["maxlen"])

	code, _ := p.Field("code")
	assert.True(t, code.Unique())
	assert.Equal(t, "^[A-Z0-9-]+$", code.Pattern())

	status, _ := p.Field("status")
	assert.Equal(t, "enum", status.Type)
	assert.Equal(t, []string{"active", "paused", "closed"}, status.Enum)
	def, ok := status.Default()
	assert.True(t, ok)
	assert.Equal(t, "active", def)

	dir, _ := p.Field("direction_id")
	assert.True(t, dir.IsRef())
	assert.Equal(t, "Direction", dir.RefTarget)
	assert.Equal(t, "set_null", dir.OnDelete())

	budget, _ := p.Field("budget")
	assert.True(t, budget.Permission())
	assert.Equal(t, "decimal", budget.LogicalType())

	assert.Equal(t, [][]string{{"title"}}, ents[1].Constraints.Unique)
}

func TestParse_BadLine(t *testing.T) {
	_, err := Parse(strings.NewReader("module x\nentity A:\n  ???\n"))
	assert.Error(t, err)
}

func TestEntityNaming(t *testing.T) {
	tests := []struct {
		name, source, table string
	}{
		{"User", "user", "users"},
		{"TimeEntry", "time_entry", "time_entries"},
		{"Direction", "direction", "directions"},
		{"Payment", "payment", "payments"},
		{"Day", "day", "days"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Entity{Name: tt.name}
			assert.Equal(t, tt.source, e.Source())
			assert.Equal(t, tt.table, e.Table())
		})
	}
}

func TestBuiltinCatalog(t *testing.T) {
	cat, err := Builtin()
	require.NoError(t, err)

	for _, src := range []string{"user", "project", "team", "direction", "role", "payment", "time_entry"} {
		assert.True(t, cat.Has(src), src)
	}

	e, ok := cat.Lookup("timesheet.TimeEntry")
	require.True(t, ok)
	assert.Equal(t, "time_entry", e.Source())

	_, ok = cat.Lookup("finance.TimeEntry")
	assert.False(t, ok)

	_, ok = cat.Lookup("Project")
	assert.True(t, ok)

	known := map[string]bool{"currency": true, "payment_status": true}
	issues := Lint(cat, func(name string) bool { return known[name] })
	assert.Empty(t, issues)
}

func TestLint(t *testing.T) {
	src := `
module x
entity A:
  id: string
  b_id: ref[B] required on_delete=set_null
  c_id: ref[Nope]
  weird: blob
  code: string pattern=[a-
  kind: string catalog=missing
  constraints:
    unique(ghost)

entity B:
  title: string
`
	ents, err := Parse(strings.NewReader(src))
	require.NoError(t, err)
	cat, err := NewCatalog(ents)
	require.NoError(t, err)

	codes := map[string]bool{}
	for _, is := range Lint(cat, func(string) bool { return false }) {
		codes[is.Code] = true
	}
	for _, want := range []string{
		"system_column", "required_conflicts_on_delete", "ref_target_unknown",
		"unknown_type", "pattern_invalid", "catalog_unknown", "unique_field_unknown",
	} {
		assert.True(t, codes[want], "ожидали issue %s", want)
	}
}

func TestNewCatalog_Duplicate(t *testing.T) {
	_, err := NewCatalog([]*Entity{{Name: "User", Module: "a"}, {Name: "User", Module: "b"}})
	assert.Error(t, err)
}
