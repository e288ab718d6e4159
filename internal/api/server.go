// Пакет api: HTTP-слой: POST-эндпоинты /ajax/*, метаданные схем,
// метрики и проверки живости.
package api

import (
	"database/sql"
	"log/slog"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"tabel/internal/access"
	"tabel/internal/auth"
	"tabel/internal/dsl"
	"tabel/internal/entity"
	"tabel/internal/reference"
	"tabel/internal/report"
	"tabel/internal/settings"
	"tabel/internal/slug"
	"tabel/internal/store"
	"tabel/internal/vtable"
)

// Options: всё, что нужно серверу; собирается в cmd/server.
type Options struct {
	DB       *sql.DB
	Dialect  store.Dialect
	Catalog  *dsl.Catalog
	Enums    reference.Catalogs
	Policy   *access.Policy
	Sessions *auth.Manager
	Logger   *slog.Logger

	// Откуда перечитывать справочники и политику в /ajax/admin/reload
	EnumsDir   string
	PolicyFile string
	LoginURL   string

	SlugCacheSize int
	Now           func() time.Time
}

// Server держит общие для всех запросов зависимости. Сервисы с правами
// пользователя создаются на каждый запрос.
type Server struct {
	db       *sql.DB
	d        store.Dialect
	catalog  *dsl.Catalog
	sessions *auth.Manager
	slugs    *slug.Cache
	composer *vtable.Composer
	settings *settings.Store
	reports  *report.Reports
	hooks    map[string]entity.Hook
	logger   *slog.Logger
	now      func() time.Time

	enumsDir   string
	policyFile string
	loginURL   string

	// справочники и политика заменяются целиком в reload
	mu     sync.RWMutex
	enums  reference.Catalogs
	policy *access.Policy
}

func NewServer(opts Options) (*Server, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == nil {
		opts.Policy = access.DefaultPolicy()
	}
	if opts.LoginURL == "" {
		opts.LoginURL = "/login"
	}
	cache, err := slug.NewCache(opts.SlugCacheSize)
	if err != nil {
		return nil, err
	}
	registerTagNames()

	return &Server{
		db:         opts.DB,
		d:          opts.Dialect,
		catalog:    opts.Catalog,
		sessions:   opts.Sessions,
		slugs:      cache,
		composer:   vtable.NewComposer(opts.DB, opts.Dialect, opts.Catalog, opts.Logger),
		settings:   settings.NewStore(opts.DB, opts.Dialect, opts.Catalog),
		reports:    report.New(opts.DB, opts.Dialect, opts.Catalog),
		hooks:      entity.DefaultHooks(),
		logger:     opts.Logger.With(slog.String("service", "api")),
		now:        opts.Now,
		enumsDir:   opts.EnumsDir,
		policyFile: opts.PolicyFile,
		loginURL:   opts.LoginURL,
		enums:      opts.Enums,
		policy:     opts.Policy,
	}, nil
}

func (s *Server) currentEnums() reference.Catalogs {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enums
}

func (s *Server) currentPolicy() *access.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// resolver: права текущего пользователя, кеш на время запроса.
func (s *Server) resolver(c *gin.Context) *access.Resolver {
	if r, ok := c.Get(ctxResolver); ok {
		return r.(*access.Resolver)
	}
	r := access.NewResolver(access.NewStore(s.db, s.d), sessionOf(c))
	c.Set(ctxResolver, r)
	return r
}

// entities: сервис сущностей с проверкой прав текущего пользователя.
func (s *Server) entities(c *gin.Context) *entity.Service {
	return entity.NewService(entity.Deps{
		DB:       s.db,
		Dialect:  s.d,
		Catalog:  s.catalog,
		Enums:    s.currentEnums(),
		Slugs:    s.slugs,
		Composer: s.composer,
		Hooks:    s.hooks,
		Logger:   s.logger,
		Now:      s.now,
	}, s.resolver(c))
}
