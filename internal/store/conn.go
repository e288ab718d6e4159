package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "github.com/mattn/go-sqlite3"    // driver: sqlite3
)

// Open открывает пул соединений и проверяет доступность базы.
func Open(d Dialect, url string) (*sql.DB, error) {
	dsn, err := normalizeDSN(d, url)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	return db, nil
}

func normalizeDSN(d Dialect, url string) (string, error) {
	switch d.Name {
	case "mysql":
		// миграции содержат несколько выражений в одном файле
		cfg, err := mysql.ParseDSN(url)
		if err != nil {
			return "", fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.MultiStatements = true
		// RowsAffected: найденные строки, а не изменённые
		cfg.ClientFoundRows = true
		return cfg.FormatDSN(), nil
	case "sqlite":
		if !strings.Contains(url, "_busy_timeout") {
			sep := "?"
			if strings.Contains(url, "?") {
				sep = "&"
			}
			url += sep + "_busy_timeout=5000"
		}
		return url, nil
	default:
		return url, nil
	}
}
