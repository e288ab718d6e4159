package store

import (
	"fmt"
	"strings"

	"tabel/internal/apperr"
	"tabel/internal/dsl"
)

type OnDeletePolicy string

const (
	OnDeleteRestrict OnDeletePolicy = "RESTRICT"
	OnDeleteSetNull  OnDeletePolicy = "SET NULL"
)

func onDeletePolicy(f dsl.Field) OnDeletePolicy {
	if f.OnDelete() == "set_null" {
		return OnDeleteSetNull
	}
	return OnDeleteRestrict
}

// Ключи результата GenerateDDL; ApplyDDL исполняет их по порядку
const (
	ddlTables      = "000_tables"
	ddlIndexes     = "100_indexes"
	ddlForeignKeys = "200_foreign_keys"
)

// GenerateDDL возвращает карту фаза -> SQL DDL (CREATE TABLE, индексы, FK) для всех сущностей.
func GenerateDDL(d Dialect, cat *dsl.Catalog) (map[string]string, error) {
	var tables, indexes, fks strings.Builder

	for _, e := range cat.Entities() {
		tbl := e.Table()

		// системные колонки
		cols := []string{
			d.Quote("id") + " " + d.primaryKey(),
			d.Quote("slug") + " VARCHAR(64) NOT NULL UNIQUE",
			d.Quote("deleted") + " SMALLINT NOT NULL DEFAULT 0",
			d.Quote("version") + " BIGINT NOT NULL DEFAULT 1",
			d.Quote("created_at") + " " + d.timestampType() + " NOT NULL",
			d.Quote("updated_at") + " " + d.timestampType() + " NOT NULL",
		}

		seen := map[string]struct{}{}
		for _, c := range dsl.SystemColumns {
			seen[c] = struct{}{}
		}

		for _, f := range e.Fields {
			name := strings.ToLower(f.Name)
			if _, exists := seen[name]; exists {
				return nil, apperr.Configuration("%s: field %q duplicates a system or another column", e.Source(), f.Name)
			}
			seen[name] = struct{}{}

			typ, err := d.StorageType(f.LogicalType())
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", e.Source(), f.Name, err)
			}
			null := "NULL"
			if f.Required() {
				null = "NOT NULL"
			}
			cols = append(cols, fmt.Sprintf("%s %s %s", d.Quote(name), typ, null))
		}

		fmt.Fprintf(&tables, "CREATE TABLE IF NOT EXISTS %s (\n  %s\n);\n", d.Quote(tbl), strings.Join(cols, ",\n  "))

		// выборка композитора всегда фильтрует по deleted
		if d.Name != "mysql" {
			fmt.Fprintf(&indexes, "CREATE INDEX IF NOT EXISTS %s ON %s (%s);\n",
				tbl+"_deleted_idx", d.Quote(tbl), d.Quote("deleted"))
		}

		// sqlite не умеет ALTER TABLE ADD CONSTRAINT
		if d.Name == "sqlite" {
			continue
		}
		for _, f := range e.Fields {
			target, ok := cat.RefTarget(f)
			if !ok {
				continue
			}
			fmt.Fprintf(&fks,
				"ALTER TABLE %s ADD CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s(%s) ON DELETE %s;\n",
				d.Quote(tbl), tbl+"_"+strings.ToLower(f.Name)+"_fk", d.Quote(strings.ToLower(f.Name)),
				d.Quote(target.Table()), d.Quote("id"), onDeletePolicy(f))
		}
	}

	out := map[string]string{ddlTables: tables.String()}
	if indexes.Len() > 0 {
		out[ddlIndexes] = indexes.String()
	}
	if fks.Len() > 0 {
		out[ddlForeignKeys] = fks.String()
	}
	return out, nil
}
