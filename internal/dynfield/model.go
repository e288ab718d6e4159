// Пакет dynfield: пользовательские (динамические) поля сущностей:
// реестр определений, варианты выпадающих списков и хранилище значений.
package dynfield

import (
	"strconv"

	"tabel/internal/store"
)

// Типы динамических полей
const (
	TypeInteger  = "integer"
	TypeDecimal  = "decimal"
	TypeString   = "string"
	TypeText     = "text"
	TypeDate     = "date"
	TypeDatetime = "datetime"
	TypeSelect   = "select"
)

var validTypes = map[string]struct{}{
	TypeInteger: {}, TypeDecimal: {}, TypeString: {}, TypeText: {},
	TypeDate: {}, TypeDatetime: {}, TypeSelect: {},
}

func ValidType(t string) bool {
	_, ok := validTypes[t]
	return ok
}

// Definition: определение динамического поля.
type Definition struct {
	ID        int64  `json:"id"`
	Source    string `json:"source"`
	Title     string `json:"title"`
	FieldType string `json:"field_type"`
	Required  bool   `json:"required"`
	Multiple  bool   `json:"multiple"`
	Sort      int    `json:"sort"`
	Deleted   bool   `json:"-"`
}

// Key: ключ колонки поля в строках виртуальной таблицы.
func (d Definition) Key() string { return Key(d.ID) }

func Key(id int64) string { return strconv.FormatInt(id, 10) }

// LogicalType: логический тип колонки (store.Type*), неизменный за жизнь поля.
func (d Definition) LogicalType() string {
	if d.FieldType == TypeSelect && d.Multiple {
		return store.TypeMultiSelect
	}
	return d.FieldType
}

// Option: вариант выпадающего списка select-поля.
type Option struct {
	ID       int64  `json:"id"`
	FieldID  int64  `json:"field_id"`
	Label    string `json:"option_label"`
	Ordering int    `json:"ordering"`
}
