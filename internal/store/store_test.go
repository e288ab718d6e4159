package store

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabel/internal/apperr"
	"tabel/internal/dsl"
)

func mustDialect(t *testing.T, driver string) Dialect {
	t.Helper()
	d, err := DialectFor(driver)
	require.NoError(t, err)
	return d
}

func TestDialectFor(t *testing.T) {
	tests := []struct {
		driver string
		name   string
	}{
		{"pgx", "postgres"},
		{"postgres", "postgres"},
		{"mysql", "mysql"},
		{"sqlite3", "sqlite"},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			assert.Equal(t, tt.name, mustDialect(t, tt.driver).Name)
		})
	}
	_, err := DialectFor("oracle")
	assert.Error(t, err)
}

func TestColumnType(t *testing.T) {
	my := mustDialect(t, DriverMySQL)
	tests := []struct {
		logical, want string
	}{
		{TypeInteger, "BIGINT"},
		{TypeSelect, "BIGINT"},
		{TypeDecimal, "VARCHAR(255)"},
		{TypeString, "VARCHAR(255)"},
		{TypeDate, "DATE"},
		{TypeDatetime, "DATETIME"},
		{TypeBoolean, "TINYINT"},
		{TypeText, "TEXT"},
	}
	for _, tt := range tests {
		t.Run(tt.logical, func(t *testing.T) {
			got, err := my.ColumnType(tt.logical)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumnType_Unmapped(t *testing.T) {
	for _, driver := range []string{DriverPostgres, DriverMySQL, DriverSQLite} {
		d := mustDialect(t, driver)
		_, err := d.ColumnType("geo")
		require.Error(t, err, driver)
		assert.True(t, apperr.IsConfiguration(err), driver)
	}
}

func TestStorageType(t *testing.T) {
	pg := mustDialect(t, DriverPostgres)
	got, err := pg.StorageType(TypeDecimal)
	require.NoError(t, err)
	assert.Equal(t, "NUMERIC(18,2)", got)

	got, err = pg.StorageType(TypeString)
	require.NoError(t, err)
	assert.Equal(t, "VARCHAR(255)", got)
}

func TestDropTempTable(t *testing.T) {
	assert.Equal(t, "DROP TABLE IF EXISTS pg_temp.vt_user", mustDialect(t, DriverPostgres).DropTempTable("vt_user"))
	assert.Equal(t, "DROP TEMPORARY TABLE IF EXISTS vt_user", mustDialect(t, DriverMySQL).DropTempTable("vt_user"))
	assert.Equal(t, "DROP TABLE IF EXISTS temp.vt_user", mustDialect(t, DriverSQLite).DropTempTable("vt_user"))
}

func TestGenerateDDL(t *testing.T) {
	cat, err := dsl.Builtin()
	require.NoError(t, err)

	t.Run("postgres", func(t *testing.T) {
		ddl, err := GenerateDDL(mustDialect(t, DriverPostgres), cat)
		require.NoError(t, err)
		tables := ddl[ddlTables]
		assert.Contains(t, tables, `CREATE TABLE IF NOT EXISTS "time_entries"`)
		assert.Contains(t, tables, `"hours" NUMERIC(18,2) NOT NULL`)
		assert.Contains(t, tables, `"id" BIGSERIAL PRIMARY KEY`)
		assert.Contains(t, ddl[ddlForeignKeys], `ALTER TABLE "teams" ADD CONSTRAINT teams_direction_id_fk`)
		assert.Contains(t, ddl[ddlForeignKeys], "ON DELETE SET NULL")
	})

	t.Run("mysql", func(t *testing.T) {
		ddl, err := GenerateDDL(mustDialect(t, DriverMySQL), cat)
		require.NoError(t, err)
		assert.Contains(t, ddl[ddlTables], "`id` BIGINT AUTO_INCREMENT PRIMARY KEY")
		assert.NotContains(t, ddl, ddlIndexes)
	})

	t.Run("sqlite", func(t *testing.T) {
		ddl, err := GenerateDDL(mustDialect(t, DriverSQLite), cat)
		require.NoError(t, err)
		assert.NotContains(t, ddl, ddlForeignKeys)
		assert.Contains(t, ddl[ddlIndexes], "users_deleted_idx")
	})
}

func TestGenerateDDL_UnknownType(t *testing.T) {
	ents, err := dsl.Parse(strings.NewReader("module x\nentity A:\n  shape: geo\n"))
	require.NoError(t, err)
	cat, err := dsl.NewCatalog(ents)
	require.NoError(t, err)

	_, err = GenerateDDL(mustDialect(t, DriverSQLite), cat)
	require.Error(t, err)
	assert.True(t, apperr.IsConfiguration(err))
}

func TestSplitStatements(t *testing.T) {
	got := splitStatements("CREATE TABLE a (x INT);\nCREATE INDEX b ON a (x);\n\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX b ON a (x)"}, got)
}

func TestAlreadyExists(t *testing.T) {
	assert.True(t, alreadyExists(&pgconn.PgError{Code: "42710"}))
	assert.True(t, alreadyExists(&pgconn.PgError{Code: "42P07"}))
	assert.False(t, alreadyExists(&pgconn.PgError{Code: "23505"}))
	assert.True(t, alreadyExists(&mysql.MySQLError{Number: 1826}))
	assert.False(t, alreadyExists(&mysql.MySQLError{Number: 1064}))
	assert.True(t, alreadyExists(errors.New("index users_deleted_idx already exists")))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolation(&mysql.MySQLError{Number: 1062}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
}

func TestNormalizeDSN(t *testing.T) {
	dsn, err := normalizeDSN(mustDialect(t, DriverMySQL), "app:secret@tcp(localhost:3306)/tabel")
	require.NoError(t, err)
	assert.Contains(t, dsn, "multiStatements=true")

	dsn, err = normalizeDSN(mustDialect(t, DriverSQLite), "file:/tmp/x.db?cache=shared")
	require.NoError(t, err)
	assert.Equal(t, "file:/tmp/x.db?cache=shared&_busy_timeout=5000", dsn)
}

func TestRunInTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	t.Run("commit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectExec("DELETE FROM user_settings").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := RunInTx(context.Background(), db, func(tx *sql.Tx) error {
			_, err := tx.Exec("DELETE FROM user_settings")
			return err
		})
		require.NoError(t, err)
	})

	t.Run("rollback", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectRollback()

		want := errors.New("nope")
		err := RunInTx(context.Background(), db, func(*sql.Tx) error { return want })
		assert.ErrorIs(t, err, want)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`INSERT INTO dyn_fields \(title\) VALUES \(\$1\) RETURNING id`).
		WithArgs("Грейд").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	id, err := InsertID(context.Background(), db, mustDialect(t, DriverPostgres), "INSERT INTO dyn_fields (title) VALUES ($1)", "Грейд")
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)

	mock.ExpectExec(`INSERT INTO dyn_fields \(title\) VALUES \(\?\)`).
		WithArgs("Грейд").
		WillReturnResult(sqlmock.NewResult(9, 1))
	id, err = InsertID(context.Background(), db, mustDialect(t, DriverMySQL), "INSERT INTO dyn_fields (title) VALUES (?)", "Грейд")
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCoerce_Decimal(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want any
	}{
		{"строка", "12.5", 12.5},
		{"байты", []byte("3"), 3.0},
		{"int64", int64(2), 2.0},
		{"NaN строкой", "NaN", nil},
		{"бесконечность", "-Inf", nil},
		{"NaN числом", math.NaN(), nil},
		{"мусор", "abc", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Coerce(TypeDecimal, tt.raw))
		})
	}
}
