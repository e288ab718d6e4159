package api

import (
	"fmt"
	"log/slog"

	"github.com/gin-gonic/gin"

	"tabel/internal/access"
	"tabel/internal/apperr"
	"tabel/internal/dsl"
	"tabel/internal/reference"
)

// POST /ajax/admin/reload: перечитать справочники и политику доступа.
// Схемы сущностей не перечитываются: от них зависят таблицы БД.
func (s *Server) adminReload(c *gin.Context) {
	// 1) читаем новые справочники и политику
	newEnums, err := reference.LoadEnumCatalog(s.enumsDir)
	if err != nil {
		fail(c, apperr.Invalid(apperr.ErrInvalid, "enums", fmt.Sprintf("Enum load error: %v", err)))
		return
	}
	newPolicy, err := access.LoadPolicy(s.policyFile)
	if err != nil {
		fail(c, apperr.Invalid(apperr.ErrInvalid, "policy", fmt.Sprintf("Policy load error: %v", err)))
		return
	}

	// 2) схемы должны ссылаться только на существующие справочники
	if issues := dsl.Lint(s.catalog, newEnums.Has); len(issues) > 0 {
		verr := &apperr.ValidationError{}
		for _, it := range issues {
			verr.Add(it.Code, it.Entity+"."+it.Field, it.Message)
		}
		fail(c, verr)
		return
	}

	// 3) атомарная замена под write-lock
	s.mu.Lock()
	s.enums = newEnums
	s.policy = newPolicy
	s.mu.Unlock()

	s.logger.InfoContext(c.Request.Context(), "Справочники и политика перечитаны",
		slog.Int("catalogs", len(newEnums)),
		slog.Int("endpoints", len(newPolicy.Endpoints())),
	)
	ok(c, gin.H{
		"catalogs":  len(newEnums),
		"endpoints": newPolicy.Endpoints(),
	})
}
