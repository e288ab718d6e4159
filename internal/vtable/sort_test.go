package vtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSortRows(t *testing.T) {
	tests := []struct {
		name  string
		rows  []Row
		rules []SortRule
		want  []string
	}{
		{
			name: "DESC по числу, затем ASC по строке",
			rows: []Row{
				{"age": 30, "name": "B"},
				{"age": 30, "name": "A"},
				{"age": 25, "name": "C"},
			},
			rules: []SortRule{{Field: "age", Desc: true}, {Field: "name"}},
			want:  []string{"A", "B", "C"},
		},
		{
			name: "числовые строки сравниваются как числа",
			rows: []Row{
				{"name": "ten", "v": "10"},
				{"name": "nine", "v": "9"},
				{"name": "hundred", "v": int64(100)},
			},
			rules: []SortRule{{Field: "v"}},
			want:  []string{"nine", "ten", "hundred"},
		},
		{
			name: "nil как пустая строка",
			rows: []Row{
				{"name": "b", "v": "beta"},
				{"name": "nil", "v": nil},
				{"name": "a", "v": "alpha"},
			},
			rules: []SortRule{{Field: "v"}},
			want:  []string{"nil", "a", "b"},
		},
		{
			name: "полная ничья сохраняет порядок",
			rows: []Row{
				{"name": "first", "v": 1},
				{"name": "second", "v": 1},
				{"name": "third", "v": 1},
			},
			rules: []SortRule{{Field: "v", Desc: true}, {Field: "missing"}},
			want:  []string{"first", "second", "third"},
		},
		{
			name: "без правил порядок не меняется",
			rows: []Row{{"name": "z"}, {"name": "a"}},
			want: []string{"z", "a"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SortRows(tt.rows, tt.rules)
			got := make([]string, 0, len(tt.rows))
			for _, r := range tt.rows {
				got = append(got, r["name"].(string))
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSortRules(t *testing.T) {
	raw := []any{
		[]any{"age", "DESC"},
		[]any{"name", "asc"},
		[]any{"solo"},
		"age DESC",
		[]any{"x", "sideways"},
		[]any{1, "ASC"},
		[]any{"", "ASC"},
		[]any{"a", "b", "c"},
	}
	assert.Equal(t, []SortRule{{Field: "age", Desc: true}, {Field: "name"}}, ParseSortRules(raw))
	assert.Empty(t, ParseSortRules(nil))
}

func TestCompareValues(t *testing.T) {
	assert.Equal(t, -1, compareValues(int64(2), 10.5))
	assert.Equal(t, 1, compareValues("b", "a"))
	assert.Equal(t, 0, compareValues(nil, ""))
	assert.Equal(t, -1, compareValues([]int64{1, 2}, []int64{1, 3}))
	// число против строки: сравнение строк
	assert.Equal(t, 1, compareValues("abc", 5))
}
