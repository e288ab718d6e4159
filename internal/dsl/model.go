package dsl

import (
	"strings"
	"unicode"
)

// Entity описывает статическую схему сущности из DSL (EntitySchema).
// После загрузки не меняется.
type Entity struct {
	Name        string
	Module      string
	Fields      []Field
	Constraints Constraints
}

type Constraints struct {
	Unique [][]string
}

// Field описывает поле сущности
type Field struct {
	Name      string
	Type      string            // string, text, int, decimal, bool, date, datetime, enum, ref
	Enum      []string          // значения enum, если поле типа enum
	RefTarget string            // целевая сущность для ref[...]
	Options   map[string]string // required, unique, default, pattern, permission и прочие опции
}

// Системные колонки каждой таблицы сущности
var SystemColumns = []string{"id", "slug", "deleted", "version", "created_at", "updated_at"}

func IsSystemColumn(name string) bool {
	for _, c := range SystemColumns {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// Source: тег сущности (snake_case имени): TimeEntry -> time_entry.
func (e *Entity) Source() string { return snake(e.Name) }

// Table: имя таблицы: множественное число от тега.
func (e *Entity) Table() string { return plural(e.Source()) }

func (e *Entity) Field(name string) (Field, bool) {
	for _, f := range e.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// DisplayField выбирает поле для отображения сущности (для таблиц/ссылок)
func (e *Entity) DisplayField() string {
	for _, c := range []string{"name", "title", "email", "code"} {
		if _, ok := e.Field(c); ok {
			return c
		}
	}
	for _, f := range e.Fields {
		if f.Type == "string" {
			return f.Name
		}
	}
	return "slug"
}

func (f Field) opt(k string) string {
	if f.Options == nil {
		return ""
	}
	return f.Options[k]
}

func (f Field) flag(k string) bool { return strings.EqualFold(f.opt(k), "true") }

func (f Field) Required() bool   { return f.flag("required") }
func (f Field) Unique() bool     { return f.flag("unique") }
func (f Field) Readonly() bool   { return f.flag("readonly") }
func (f Field) Permission() bool { return f.flag("permission") }
func (f Field) Pattern() string  { return f.opt("pattern") }
func (f Field) Catalog() string  { return f.opt("catalog") }
func (f Field) OnDelete() string { return strings.ToLower(strings.TrimSpace(f.opt("on_delete"))) }

func (f Field) Default() (string, bool) {
	if f.Options == nil {
		return "", false
	}
	v, ok := f.Options["default"]
	return v, ok && strings.TrimSpace(v) != ""
}

func (f Field) IsRef() bool { return strings.EqualFold(f.Type, "ref") }

// LogicalType переводит тип DSL в логический тип колонки (store.Type*).
// Для неизвестного типа возвращает исходную строку: маппинг в SQL её отвергнет.
func (f Field) LogicalType() string {
	switch strings.ToLower(f.Type) {
	case "int":
		return "integer"
	case "decimal", "float", "money":
		return "decimal"
	case "string", "enum":
		return "string"
	case "text":
		return "text"
	case "bool":
		return "boolean"
	case "date":
		return "date"
	case "datetime":
		return "datetime"
	case "ref":
		return "integer"
	default:
		return strings.ToLower(f.Type)
	}
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// элементарная плюрализация (users, projects, time_entries)
func plural(s string) string {
	switch {
	case strings.HasSuffix(s, "s"):
		return s
	case strings.HasSuffix(s, "y") && len(s) > 1 && !strings.ContainsRune("aeiou", rune(s[len(s)-2])):
		return s[:len(s)-1] + "ies"
	default:
		return s + "s"
	}
}
