package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"tabel/internal/access"
	"tabel/internal/apperr"
	"tabel/internal/dsl"
)

type savePermissionReq struct {
	RoleID      string `json:"role_id" binding:"required"`
	Entity      string `json:"entity" binding:"required"`
	Field       string `json:"field" binding:"required"`
	CanView     *bool  `json:"can_view"`
	CanRead     *bool  `json:"can_read"`
	CanWrite    *bool  `json:"can_write"`
	CanDelete   *bool  `json:"can_delete"`
	CanViewInfo *bool  `json:"can_view_add_info"`
}

// не переданный флаг: разрешено, как и отсутствие записи
func flag(b *bool) bool { return b == nil || *b }

func (s *Server) schemaOf(name string) (*dsl.Entity, error) {
	ent, found := s.catalog.Lookup(name)
	if !found {
		return nil, apperr.NotFound("entity %q", name)
	}
	return ent, nil
}

func fieldNames(ent *dsl.Entity, onlyPermission bool) []string {
	out := make([]string, 0, len(ent.Fields))
	for _, f := range ent.Fields {
		if onlyPermission && !f.Permission() {
			continue
		}
		out = append(out, f.Name)
	}
	return out
}

// POST /ajax/getFieldPermissions: матрица прав текущего пользователя.
func (s *Server) getFieldPermissions(c *gin.Context) {
	var req entityReq
	if !bind(c, &req) {
		return
	}
	ent, err := s.schemaOf(req.Entity)
	if err != nil {
		fail(c, err)
		return
	}
	matrix, err := s.resolver(c).Matrix(c.Request.Context(), ent.Source(), fieldNames(ent, false))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"entity": ent.Source(), "fields": matrix})
}

// POST /ajax/listFieldPermissions: записи для редактора прав.
func (s *Server) listFieldPermissions(c *gin.Context) {
	var req entityReq
	if !bind(c, &req) {
		return
	}
	ent, err := s.schemaOf(req.Entity)
	if err != nil {
		fail(c, err)
		return
	}
	list, err := access.NewStore(s.db, s.d).List(c.Request.Context(), ent.Source())
	if err != nil {
		fail(c, err)
		return
	}
	if list == nil {
		list = []access.Permission{}
	}
	ok(c, gin.H{
		"entity":      ent.Source(),
		"fields":      fieldNames(ent, true),
		"roles":       access.KnownRoles,
		"permissions": list,
	})
}

// POST /ajax/saveFieldPermission
func (s *Server) saveFieldPermission(c *gin.Context) {
	var req savePermissionReq
	if !bind(c, &req) {
		return
	}
	ent, err := s.schemaOf(req.Entity)
	if err != nil {
		fail(c, err)
		return
	}
	p := access.Permission{
		RoleID:      strings.ToLower(strings.TrimSpace(req.RoleID)),
		Entity:      ent.Source(),
		Field:       strings.TrimSpace(req.Field),
		CanView:     flag(req.CanView),
		CanRead:     flag(req.CanRead),
		CanWrite:    flag(req.CanWrite),
		CanDelete:   flag(req.CanDelete),
		CanViewInfo: flag(req.CanViewInfo),
	}
	if err := access.NewStore(s.db, s.d).Save(c.Request.Context(), p); err != nil {
		fail(c, err)
		return
	}
	ok(c, p)
}
