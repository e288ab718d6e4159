// Пакет store: подключение к СУБД (Postgres, MySQL, SQLite), различия диалектов,
// генерация DDL таблиц сущностей и миграции системных таблиц.
package store

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

// Имена драйверов database/sql
const (
	DriverPostgres = "pgx"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite3"
)

// Dialect: всё, чем отличаются поддерживаемые СУБД.
type Dialect struct {
	Name   string // postgres | mysql | sqlite
	Driver string
	Flavor sqlbuilder.Flavor
}

func DialectFor(driver string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres, "postgres", "postgresql":
		return Dialect{Name: "postgres", Driver: DriverPostgres, Flavor: sqlbuilder.PostgreSQL}, nil
	case DriverMySQL:
		return Dialect{Name: "mysql", Driver: DriverMySQL, Flavor: sqlbuilder.MySQL}, nil
	case DriverSQLite, "sqlite":
		return Dialect{Name: "sqlite", Driver: DriverSQLite, Flavor: sqlbuilder.SQLite}, nil
	default:
		return Dialect{}, fmt.Errorf("unsupported db driver %q", driver)
	}
}

func (d Dialect) Quote(name string) string { return d.Flavor.Quote(name) }

func (d Dialect) Select() *sqlbuilder.SelectBuilder { return d.Flavor.NewSelectBuilder() }
func (d Dialect) Insert() *sqlbuilder.InsertBuilder { return d.Flavor.NewInsertBuilder() }
func (d Dialect) Update() *sqlbuilder.UpdateBuilder { return d.Flavor.NewUpdateBuilder() }
func (d Dialect) Delete() *sqlbuilder.DeleteBuilder { return d.Flavor.NewDeleteBuilder() }

// DropTempTable: удаление временной таблицы так, чтобы не задеть обычную с тем же именем.
func (d Dialect) DropTempTable(name string) string {
	switch d.Name {
	case "postgres":
		return "DROP TABLE IF EXISTS pg_temp." + name
	case "mysql":
		return "DROP TEMPORARY TABLE IF EXISTS " + name
	default:
		return "DROP TABLE IF EXISTS temp." + name
	}
}

func (d Dialect) primaryKey() string {
	switch d.Name {
	case "postgres":
		return "BIGSERIAL PRIMARY KEY"
	case "mysql":
		return "BIGINT AUTO_INCREMENT PRIMARY KEY"
	default:
		return "INTEGER PRIMARY KEY AUTOINCREMENT"
	}
}

func (d Dialect) timestampType() string {
	if d.Name == "postgres" {
		return "TIMESTAMP"
	}
	return "DATETIME"
}

// BoolValue: значение для колонок-флагов (SMALLINT 0/1 в системных таблицах).
func BoolValue(b bool) int {
	if b {
		return 1
	}
	return 0
}
