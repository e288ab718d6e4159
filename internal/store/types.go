package store

import "tabel/internal/apperr"

// Логические типы колонок
const (
	TypeInteger     = "integer"
	TypeDecimal     = "decimal"
	TypeString      = "string"
	TypeText        = "text"
	TypeDate        = "date"
	TypeDatetime    = "datetime"
	TypeBoolean     = "boolean"
	TypeSelect      = "select"
	TypeMultiSelect = "multiselect"
)

// Таблица типов для виртуальной (временной) таблицы.
// decimal хранится строкой: точность не теряется, сортировка всё равно в Go.
var virtualTypes = map[string]map[string]string{
	"postgres": {
		TypeInteger:     "BIGINT",
		TypeDecimal:     "VARCHAR(255)",
		TypeString:      "VARCHAR(255)",
		TypeText:        "TEXT",
		TypeDate:        "DATE",
		TypeDatetime:    "TIMESTAMP",
		TypeBoolean:     "SMALLINT",
		TypeSelect:      "BIGINT",
		TypeMultiSelect: "TEXT",
	},
	"mysql": {
		TypeInteger:     "BIGINT",
		TypeDecimal:     "VARCHAR(255)",
		TypeString:      "VARCHAR(255)",
		TypeText:        "TEXT",
		TypeDate:        "DATE",
		TypeDatetime:    "DATETIME",
		TypeBoolean:     "TINYINT",
		TypeSelect:      "BIGINT",
		TypeMultiSelect: "TEXT",
	},
	"sqlite": {
		TypeInteger:     "INTEGER",
		TypeDecimal:     "VARCHAR(255)",
		TypeString:      "VARCHAR(255)",
		TypeText:        "TEXT",
		TypeDate:        "DATE",
		TypeDatetime:    "DATETIME",
		TypeBoolean:     "TINYINT",
		TypeSelect:      "INTEGER",
		TypeMultiSelect: "TEXT",
	},
}

// Отличия постоянных таблиц сущностей от временной
var storageOverrides = map[string]map[string]string{
	"postgres": {TypeDecimal: "NUMERIC(18,2)", TypeBoolean: "BOOLEAN"},
	"mysql":    {TypeDecimal: "DECIMAL(18,2)"},
	"sqlite":   {TypeDecimal: "NUMERIC"},
}

// ColumnType: SQL-тип колонки временной таблицы для логического типа.
// Нет записи в таблице: ConfigurationError, без молчаливого дефолта.
func (d Dialect) ColumnType(logical string) (string, error) {
	if t, ok := virtualTypes[d.Name][logical]; ok {
		return t, nil
	}
	return "", apperr.Configuration("no %s column type for logical type %q", d.Name, logical)
}

// StorageType: SQL-тип колонки постоянной таблицы сущности.
func (d Dialect) StorageType(logical string) (string, error) {
	if t, ok := storageOverrides[d.Name][logical]; ok {
		return t, nil
	}
	return d.ColumnType(logical)
}

// IsTextual: колонки, где пустая строка приравнивается к NULL в фильтрах empty/not_empty.
func IsTextual(logical string) bool {
	switch logical {
	case TypeString, TypeText, TypeDecimal, TypeMultiSelect:
		return true
	}
	return false
}
