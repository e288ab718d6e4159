// Пакет storetest: базы для тестов: файловая SQLite на каждый тест и
// Postgres/MySQL в testcontainers для интеграционных прогонов.
// Миграции системных таблиц и DDL встроенных схем уже применены.
package storetest

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"tabel/internal/dsl"
	"tabel/internal/store"
)

type DB struct {
	*sql.DB
	Dialect store.Dialect
	Catalog *dsl.Catalog
	URL     string
}

// Logger: логгер, который ничего не пишет.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Open создаёт новую SQLite-базу в t.TempDir() и закрывает её по окончании теста.
func Open(t *testing.T) *DB {
	t.Helper()
	return prepare(t, store.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "tabel.db"))
}

// SkipUnlessIntegration: контейнерные тесты только при TEST_INTEGRATION.
func SkipUnlessIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("TEST_INTEGRATION") == "" {
		t.Skip("TEST_INTEGRATION не задан")
	}
}

// OpenPostgres поднимает Postgres в контейнере.
func OpenPostgres(t *testing.T) *DB {
	t.Helper()
	SkipUnlessIntegration(t)
	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:17.5",
		postgres.WithDatabase("tabel"),
		postgres.WithUsername("tabel"),
		postgres.WithPassword("tabel"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	url, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return prepare(t, store.DriverPostgres, url)
}

// OpenMySQL поднимает MySQL в контейнере.
func OpenMySQL(t *testing.T) *DB {
	t.Helper()
	SkipUnlessIntegration(t)
	ctx := context.Background()

	ctr, err := mysql.Run(ctx, "mysql:8.4",
		mysql.WithDatabase("tabel"),
		mysql.WithUsername("tabel"),
		mysql.WithPassword("tabel"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("ready for connections").
				WithOccurrence(1).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctr.Terminate(context.Background()) })

	url, err := ctr.ConnectionString(ctx)
	require.NoError(t, err)
	return prepare(t, store.DriverMySQL, url)
}

func prepare(t *testing.T, driver, url string) *DB {
	t.Helper()

	d, err := store.DialectFor(driver)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(d, url, Logger()))

	cat, err := dsl.Builtin()
	require.NoError(t, err)

	db, err := store.Open(d, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ddl, err := store.GenerateDDL(d, cat)
	require.NoError(t, err)
	require.NoError(t, store.ApplyDDL(db, ddl, Logger()))

	return &DB{DB: db, Dialect: d, Catalog: cat, URL: url}
}

// Insert добавляет запись сущности напрямую, минуя сервисы, и возвращает id.
// slug и метки времени проставляются, если не заданы.
func (db *DB) Insert(t *testing.T, table string, values map[string]any) int64 {
	t.Helper()
	row := map[string]any{
		"slug":       strings.ToLower(ulid.Make().String()),
		"created_at": "2024-01-01 00:00:00",
		"updated_at": "2024-01-01 00:00:00",
	}
	for k, v := range values {
		row[k] = v
	}
	cols := make([]string, 0, len(row))
	for k := range row {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	ib := db.Dialect.Insert()
	quoted := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		quoted[i] = db.Dialect.Quote(c)
		args[i] = row[c]
	}
	ib.InsertInto(db.Dialect.Quote(table)).Cols(quoted...).Values(args...)
	q, qargs := ib.Build()
	id, err := store.InsertID(context.Background(), db.DB, db.Dialect, q, qargs...)
	require.NoError(t, err)
	return id
}
