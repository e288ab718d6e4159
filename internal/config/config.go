package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Duration: time.Duration, в JSON записывается строкой ("12h").
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"12h\": %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

type Config struct {
	Port     string `json:"port"`
	DBDriver string `json:"db_driver"` // pgx | mysql | sqlite3
	DBURL    string `json:"db_url"`

	// Пустой каталог: встроенные схемы и справочники
	DSLDir     string `json:"dsl_dir"`
	EnumsDir   string `json:"enums_dir"`
	PolicyFile string `json:"policy_file"`

	AutoMigrate bool `json:"auto_migrate"`

	JWTSecret string   `json:"jwt_secret"`
	JWTIssuer string   `json:"jwt_issuer"`
	TokenTTL  Duration `json:"token_ttl"`
	LoginURL  string   `json:"login_url"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

func def() Config {
	return Config{
		Port:        "8080",
		DBDriver:    "sqlite3",
		DBURL:       "file:tabel.db",
		AutoMigrate: false,
		JWTIssuer:   "tabel",
		TokenTTL:    Duration(12 * time.Hour),
		LoginURL:    "/login",
		LogLevel:    "info",
		LogFormat:   "json",
	}
}

func loadJSON(path string, c *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, c)
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

// LoadWithPath: значения по умолчанию, затем JSON (если файл есть),
// затем .env (не перетирает уже заданное окружение), затем TABEL_*.
func LoadWithPath(jsonPath, envPath string) (Config, error) {
	cfg := def()

	if jsonPath != "" {
		if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
			if err := loadJSON(jsonPath, &cfg); err != nil {
				return cfg, fmt.Errorf("config %s: %w", jsonPath, err)
			}
		}
	}

	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("env file %s: %w", envPath, err)
		}
	}

	cfg.Port = getenv("TABEL_PORT", cfg.Port)
	cfg.DBDriver = getenv("TABEL_DB_DRIVER", cfg.DBDriver)
	cfg.DBURL = getenv("TABEL_DB_URL", cfg.DBURL)
	cfg.DSLDir = getenv("TABEL_DSL_DIR", cfg.DSLDir)
	cfg.EnumsDir = getenv("TABEL_ENUMS_DIR", cfg.EnumsDir)
	cfg.PolicyFile = getenv("TABEL_POLICY_FILE", cfg.PolicyFile)
	cfg.AutoMigrate = getenvBool("TABEL_AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.JWTSecret = getenv("TABEL_JWT_SECRET", cfg.JWTSecret)
	cfg.JWTIssuer = getenv("TABEL_JWT_ISSUER", cfg.JWTIssuer)
	cfg.LoginURL = getenv("TABEL_LOGIN_URL", cfg.LoginURL)
	cfg.LogLevel = getenv("TABEL_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("TABEL_LOG_FORMAT", cfg.LogFormat)
	if v := getenv("TABEL_TOKEN_TTL", ""); v != "" {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("TABEL_TOKEN_TTL: %w", err)
		}
		cfg.TokenTTL = Duration(ttl)
	}

	return cfg, cfg.Validate()
}

// Validate проверяет то, без чего сервер не стартует.
// Секрет JWT проверяет auth.NewManager: команде migrate он не нужен.
func (c Config) Validate() error {
	switch c.DBDriver {
	case "pgx", "mysql", "sqlite3":
	default:
		return fmt.Errorf("db_driver: недопустимое значение %q, допустимые: pgx, mysql, sqlite3", c.DBDriver)
	}
	if strings.TrimSpace(c.DBURL) == "" {
		return errors.New("db_url: не задан")
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("log_format: недопустимое значение %q, допустимые: json, text", c.LogFormat)
	}
	if c.TokenTTL <= 0 {
		return errors.New("token_ttl: должен быть положительным")
	}
	return nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(c Config, w io.Writer) *slog.Logger {
	level, _ := parseLogLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
