package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"tabel/internal/apperr"
)

type slugReq struct {
	Slug string `json:"slug" binding:"required"`
}

// bindRecord читает тело записи как map; slug, если нужен, вынимается из тела.
func bindRecord(c *gin.Context, needSlug bool) (string, map[string]any, bool) {
	var body map[string]any
	if !bind(c, &body) {
		return "", nil, false
	}
	if !needSlug {
		return "", body, true
	}
	sl, _ := body["slug"].(string)
	delete(body, "slug")
	if strings.TrimSpace(sl) == "" {
		fail(c, apperr.Invalid(apperr.ErrRequired, "slug", "Field 'slug' is required"))
		return "", nil, false
	}
	return sl, body, true
}

// POST /ajax/entity/:entity/get
func (s *Server) entityGet(c *gin.Context) {
	var req slugReq
	if !bind(c, &req) {
		return
	}
	rec, err := s.entities(c).Get(c.Request.Context(), c.Param("entity"), req.Slug)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rec)
}

// POST /ajax/entity/:entity/create
func (s *Server) entityCreate(c *gin.Context) {
	_, body, valid := bindRecord(c, false)
	if !valid {
		return
	}
	rec, err := s.entities(c).Create(c.Request.Context(), c.Param("entity"), body)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rec)
}

// POST /ajax/entity/:entity/update
// Ожидаемая версия: If-Match или поле version в теле.
func (s *Server) entityUpdate(c *gin.Context) {
	expected, err := readExpectedVersion(c)
	if err != nil {
		fail(c, err)
		return
	}
	sl, body, valid := bindRecord(c, true)
	if !valid {
		return
	}
	rec, err := s.entities(c).Update(c.Request.Context(), c.Param("entity"), sl, body, expected)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rec)
}

// POST /ajax/entity/:entity/delete
func (s *Server) entityDelete(c *gin.Context) {
	var req slugReq
	if !bind(c, &req) {
		return
	}
	if err := s.entities(c).Delete(c.Request.Context(), c.Param("entity"), req.Slug); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"slug": req.Slug, "deleted": true})
}

// POST /ajax/entity/:entity/restore
func (s *Server) entityRestore(c *gin.Context) {
	var req slugReq
	if !bind(c, &req) {
		return
	}
	rec, err := s.entities(c).Restore(c.Request.Context(), c.Param("entity"), req.Slug)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rec)
}
