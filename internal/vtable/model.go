// Пакет vtable: виртуальная таблица: статические колонки сущности и
// динамические поля собираются во временную таблицу, фильтруются SQL-запросом
// и сортируются в Go.
package vtable

// Операции фильтра
const (
	OpEq       = "eq"
	OpNeq      = "neq"
	OpLike     = "like"
	OpIn       = "in"
	OpEmpty    = "empty"
	OpNotEmpty = "not_empty"
	OpGt       = "gt"
	OpGte      = "gte"
	OpLt       = "lt"
	OpLte      = "lte"
)

// Condition: условие фильтра по ключу колонки.
type Condition struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value any    `json:"value"`
}

type SortRule struct {
	Field string
	Desc  bool
}

// Request: что собрать. Columns пуст: все статические поля сущности.
type Request struct {
	Entity        string
	Columns       []string
	DynamicFields []int64
	Filter        []Condition
	Sort          []SortRule
	ShowDeleted   bool
	Limit         int
	Offset        int
}

// Column: описание колонки результата.
type Column struct {
	Key     string `json:"key"`
	Title   string `json:"title"`
	Type    string `json:"type"`
	Dynamic bool   `json:"dynamic,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

// Row: строка результата: ключ колонки (имя поля или id динамического поля) -> значение.
type Row map[string]any

type Result struct {
	Columns []Column `json:"columns"`
	Rows    []Row    `json:"rows"`
	Total   int      `json:"total"`
}

// Visible решает, видна ли колонка пользователю. nil: видны все.
type Visible func(field string) bool
