package store

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate применяет SQL-миграции системных таблиц из embedded FS.
// Открывает собственное соединение: migrate закрывает его вместе с собой.
func Migrate(d Dialect, url string, logger *slog.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations/"+d.Name)
	if err != nil {
		return fmt.Errorf("ошибка создания источника миграций: %w", err)
	}

	db, err := Open(d, url)
	if err != nil {
		return err
	}

	var drv database.Driver
	switch d.Name {
	case "postgres":
		drv, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	case "mysql":
		drv, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	default:
		drv, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	}
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("ошибка инициализации драйвера миграций: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, d.Name, drv)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("ошибка инициализации миграций: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("ошибка применения миграций: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.Info("Миграции применены",
		slog.String("dialect", d.Name),
		slog.Uint64("version", uint64(version)),
		slog.Bool("dirty", dirty),
	)
	return nil
}
