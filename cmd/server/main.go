package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"

	"tabel/internal/access"
	"tabel/internal/api"
	"tabel/internal/auth"
	"tabel/internal/config"
	"tabel/internal/dsl"
	"tabel/internal/reference"
	"tabel/internal/store"
)

func main() {
	app := &cli.App{
		Name:  "tabel",
		Usage: "Учёт рабочего времени: API админки",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config.json", Usage: "JSON-файл конфигурации"},
			&cli.StringFlag{Name: "env", Value: ".env", Usage: "файл переменных окружения"},
			&cli.StringFlag{Name: "port", Usage: "порт HTTP-сервера"},
			&cli.StringFlag{Name: "db-driver", Usage: "pgx | mysql | sqlite3"},
			&cli.StringFlag{Name: "db-url", Usage: "строка подключения к БД"},
			&cli.BoolFlag{Name: "auto-migrate", Usage: "применить миграции и DDL схем при старте"},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Запустить HTTP-сервер",
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "Применить миграции системных таблиц и DDL схем",
				Action: migrate,
			},
			{
				Name:   "lint",
				Usage:  "Проверить схемы сущностей и справочники",
				Action: lint,
			},
			{
				Name:  "token",
				Usage: "Выпустить токен сессии",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "user", Required: true, Usage: "slug пользователя"},
					&cli.StringFlag{Name: "roles", Value: access.RoleEmployee, Usage: "роли через запятую"},
				},
				Action: token,
			},
		},
	}
	sort.Sort(cli.CommandsByName(app.Commands))

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig: config.json, .env, TABEL_*, затем флаги командной строки.
func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.LoadWithPath(c.String("config"), c.String("env"))
	if err != nil {
		return cfg, err
	}
	if c.IsSet("port") {
		cfg.Port = c.String("port")
	}
	if c.IsSet("db-driver") {
		cfg.DBDriver = c.String("db-driver")
	}
	if c.IsSet("db-url") {
		cfg.DBURL = c.String("db-url")
	}
	if c.IsSet("auto-migrate") {
		cfg.AutoMigrate = c.Bool("auto-migrate")
	}
	return cfg, cfg.Validate()
}

// schema: схемы сущностей и справочники, проверенные друг против друга.
func schema(cfg config.Config) (*dsl.Catalog, reference.Catalogs, error) {
	cat, err := dsl.LoadCatalog(cfg.DSLDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load dsl: %w", err)
	}
	enums, err := reference.LoadEnumCatalog(cfg.EnumsDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load enums: %w", err)
	}
	if issues := dsl.Lint(cat, enums.Has); len(issues) > 0 {
		msgs := make([]string, 0, len(issues))
		for _, it := range issues {
			msgs = append(msgs, it.Entity+"."+it.Field+": "+it.Message)
		}
		return nil, nil, fmt.Errorf("schema lint:\n  %s", strings.Join(msgs, "\n  "))
	}
	return cat, enums, nil
}

func applySchema(cfg config.Config, d store.Dialect, cat *dsl.Catalog, logger *slog.Logger) error {
	if err := store.Migrate(d, cfg.DBURL, logger); err != nil {
		return err
	}
	db, err := store.Open(d, cfg.DBURL)
	if err != nil {
		return err
	}
	defer db.Close()
	ddl, err := store.GenerateDDL(d, cat)
	if err != nil {
		return err
	}
	return store.ApplyDDL(db, ddl, logger)
}

func serve(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := config.SetupLogger(cfg, os.Stdout)

	d, err := store.DialectFor(cfg.DBDriver)
	if err != nil {
		return err
	}
	cat, enums, err := schema(cfg)
	if err != nil {
		return err
	}
	logger.Info("Схемы загружены",
		slog.Int("entities", len(cat.Entities())),
		slog.Int("catalogs", len(enums)),
	)

	if cfg.AutoMigrate {
		if err := applySchema(cfg, d, cat, logger); err != nil {
			return err
		}
	}

	policy, err := access.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}
	sessions, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, time.Duration(cfg.TokenTTL))
	if err != nil {
		return err
	}

	db, err := store.Open(d, cfg.DBURL)
	if err != nil {
		return err
	}
	defer db.Close()

	srv, err := api.NewServer(api.Options{
		DB:         db,
		Dialect:    d,
		Catalog:    cat,
		Enums:      enums,
		Policy:     policy,
		Sessions:   sessions,
		Logger:     logger,
		EnumsDir:   cfg.EnumsDir,
		PolicyFile: cfg.PolicyFile,
		LoginURL:   cfg.LoginURL,
	})
	if err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx, ":"+cfg.Port)
}

func migrate(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger := config.SetupLogger(cfg, os.Stdout)
	d, err := store.DialectFor(cfg.DBDriver)
	if err != nil {
		return err
	}
	cat, _, err := schema(cfg)
	if err != nil {
		return err
	}
	if err := applySchema(cfg, d, cat, logger); err != nil {
		return err
	}
	logger.Info("Схема БД актуальна", slog.String("driver", cfg.DBDriver))
	return nil
}

func lint(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	cat, enums, err := schema(cfg)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	fmt.Fprintf(c.App.Writer, "ok: %d entities, %d catalogs\n", len(cat.Entities()), len(enums))
	return nil
}

func token(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	var roles []string
	for _, r := range strings.Split(c.String("roles"), ",") {
		r = strings.ToLower(strings.TrimSpace(r))
		if r == "" {
			continue
		}
		if !access.ValidRole(r) {
			return fmt.Errorf("unknown role %q", r)
		}
		roles = append(roles, r)
	}
	m, err := auth.NewManager(cfg.JWTSecret, cfg.JWTIssuer, time.Duration(cfg.TokenTTL))
	if err != nil {
		return err
	}
	tok, err := m.Issue(c.String("user"), roles)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, tok)
	return nil
}
