package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestLoadWithPath_Defaults(t *testing.T) {
	cfg, err := LoadWithPath("", "")
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, Duration(12*time.Hour), cfg.TokenTTL)
	assert.False(t, cfg.AutoMigrate)
}

func TestLoadWithPath_Layers(t *testing.T) {
	jsonPath := writeFile(t, "config.json", `{
		"port": "9000",
		"db_driver": "pgx",
		"db_url": "postgres://json",
		"token_ttl": "1h",
		"log_format": "text"
	}`)
	envPath := writeFile(t, ".env", "TABEL_DB_URL=postgres://dotenv\nTABEL_LOG_LEVEL=debug\n")
	t.Setenv("TABEL_PORT", "9100")
	t.Setenv("TABEL_AUTO_MIGRATE", "yes")
	// заданное окружение .env не перетирает
	t.Setenv("TABEL_LOG_LEVEL", "warn")
	t.Setenv("TABEL_DB_URL", "")

	cfg, err := LoadWithPath(jsonPath, envPath)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Port, "ENV важнее JSON")
	assert.Equal(t, "pgx", cfg.DBDriver)
	assert.Equal(t, "postgres://json", cfg.DBURL, "пустая переменная не перетирает JSON")
	assert.Equal(t, Duration(time.Hour), cfg.TokenTTL)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.True(t, cfg.AutoMigrate)
}

func TestLoadWithPath_DotEnv(t *testing.T) {
	envPath := writeFile(t, ".env", "TABEL_JWT_ISSUER=from-dotenv\n")
	t.Cleanup(func() { _ = os.Unsetenv("TABEL_JWT_ISSUER") })

	cfg, err := LoadWithPath("", envPath)
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.JWTIssuer)

	_, err = LoadWithPath("", filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err, "отсутствующий .env не ошибка")
}

func TestLoadWithPath_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"драйвер", map[string]string{"TABEL_DB_DRIVER": "oracle"}},
		{"уровень логов", map[string]string{"TABEL_LOG_LEVEL": "trace"}},
		{"формат логов", map[string]string{"TABEL_LOG_FORMAT": "xml"}},
		{"ttl", map[string]string{"TABEL_TOKEN_TTL": "сутки"}},
		{"отрицательный ttl", map[string]string{"TABEL_TOKEN_TTL": "-1h"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadWithPath("", "")
			assert.Error(t, err)
		})
	}

	bad := writeFile(t, "config.json", `{"token_ttl": 5}`)
	_, err := LoadWithPath(bad, "")
	assert.Error(t, err)
}

func TestSetupLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := def()
	cfg.LogLevel = "warn"
	logger := SetupLogger(cfg, &buf)

	logger.Info("не попадёт")
	logger.Warn("попадёт", "k", "v")
	assert.NotContains(t, buf.String(), "не попадёт")
	assert.Contains(t, buf.String(), `"msg":"попадёт"`)
}
