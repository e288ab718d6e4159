package api

import (
	"maps"
	"strings"

	"github.com/gin-gonic/gin"

	"tabel/internal/apperr"
)

type metaEntityListItem struct {
	Module string `json:"module"`
	Entity string `json:"entity"`
	Table  string `json:"table"`
}

// GET /api/meta
func (s *Server) metaList(c *gin.Context) {
	ents := s.catalog.Entities()
	out := make([]metaEntityListItem, 0, len(ents))
	for _, e := range ents {
		out = append(out, metaEntityListItem{Module: e.Module, Entity: e.Source(), Table: e.Table()})
	}
	ok(c, out)
}

type metaField struct {
	Name     string            `json:"name"`
	Type     string            `json:"type"`
	Logical  string            `json:"logical_type"`
	Ref      string            `json:"ref,omitempty"`
	Enum     []string          `json:"enum,omitempty"`
	Catalog  string            `json:"catalog,omitempty"`
	Required bool              `json:"required,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

type metaEntity struct {
	Module      string         `json:"module"`
	Entity      string         `json:"entity"`
	Table       string         `json:"table"`
	Display     string         `json:"display_field"`
	Fields      []metaField    `json:"fields"`
	Constraints map[string]any `json:"constraints,omitempty"` // {"unique":[["user_id","project_id","work_date"]]}
}

// GET /api/meta/:entity
func (s *Server) metaEntity(c *gin.Context) {
	schema, found := s.catalog.Lookup(c.Param("entity"))
	if !found {
		fail(c, apperr.NotFound("entity %q", c.Param("entity")))
		return
	}

	fields := make([]metaField, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		mf := metaField{
			Name:     f.Name,
			Type:     strings.ToLower(f.Type),
			Logical:  f.LogicalType(),
			Enum:     append([]string(nil), f.Enum...),
			Catalog:  f.Catalog(),
			Required: f.Required(),
			Options:  maps.Clone(f.Options),
		}
		if target, ok := s.catalog.RefTarget(f); ok {
			mf.Ref = target.Source()
		}
		fields = append(fields, mf)
	}

	var constraints map[string]any
	if len(schema.Constraints.Unique) > 0 {
		uniq := make([][]string, 0, len(schema.Constraints.Unique))
		for _, set := range schema.Constraints.Unique {
			uniq = append(uniq, append([]string(nil), set...))
		}
		constraints = map[string]any{"unique": uniq}
	}

	ok(c, metaEntity{
		Module:      schema.Module,
		Entity:      schema.Source(),
		Table:       schema.Table(),
		Display:     schema.DisplayField(),
		Fields:      fields,
		Constraints: constraints,
	})
}

type catalogReq struct {
	Name string `json:"name" binding:"required"`
}

// POST /ajax/getCatalog
func (s *Server) getCatalog(c *gin.Context) {
	var req catalogReq
	if !bind(c, &req) {
		return
	}
	dir, found := s.currentEnums()[req.Name]
	if !found {
		fail(c, apperr.NotFound("catalog %q", req.Name))
		return
	}
	ok(c, gin.H{"name": dir.Name, "items": dir.Sorted()})
}
