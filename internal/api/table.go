package api

import (
	"github.com/gin-gonic/gin"

	"tabel/internal/settings"
	"tabel/internal/vtable"
)

type tableDataReq struct {
	Entity        string             `json:"entity" binding:"required"`
	Columns       []string           `json:"columns"`
	DynamicFields []int64            `json:"dynamic_fields"`
	Filter        []vtable.Condition `json:"filter"`
	Sort          []any              `json:"sort"`
	ShowDeleted   bool               `json:"show_deleted"`
	Limit         int                `json:"limit" binding:"gte=0,lte=500"`
	Offset        int                `json:"offset" binding:"gte=0"`
}

type entityReq struct {
	Entity string `json:"entity" binding:"required"`
}

type saveTableSettingsReq struct {
	Entity   string                 `json:"entity" binding:"required"`
	Settings settings.TableSettings `json:"settings"`
}

type saveUserSettingsReq struct {
	Values map[string]string `json:"values" binding:"required"`
}

// POST /ajax/getTableData
// Без columns и dynamic_fields берутся сохранённые настройки пользователя.
func (s *Server) getTableData(c *gin.Context) {
	var req tableDataReq
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	vreq := vtable.Request{
		Entity:        req.Entity,
		Columns:       req.Columns,
		DynamicFields: req.DynamicFields,
		Filter:        req.Filter,
		Sort:          vtable.ParseSortRules(req.Sort),
		ShowDeleted:   req.ShowDeleted,
		Limit:         req.Limit,
		Offset:        req.Offset,
	}

	if len(req.Columns) == 0 && len(req.DynamicFields) == 0 {
		if sess := sessionOf(c); sess != nil {
			ts, found, err := s.settings.Table(ctx, sess.UserSlug, req.Entity)
			if err != nil {
				fail(c, err)
				return
			}
			if found {
				vreq.Columns = ts.Columns
				vreq.DynamicFields = ts.DynamicFields
				if len(vreq.Sort) == 0 {
					vreq.Sort = ts.SortRules()
				}
				if vreq.Limit == 0 {
					vreq.Limit = ts.PageSize
				}
			}
		}
	}

	visible, err := s.resolver(c).Visible(ctx, req.Entity)
	if err != nil {
		fail(c, err)
		return
	}
	res, err := s.entities(c).List(ctx, vreq, visible)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, res)
}

// POST /ajax/getTableSettings
func (s *Server) getTableSettings(c *gin.Context) {
	var req entityReq
	if !bind(c, &req) {
		return
	}
	ts, found, err := s.settings.Table(c.Request.Context(), sessionOf(c).UserSlug, req.Entity)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"entity": req.Entity, "settings": ts, "saved": found})
}

// POST /ajax/saveTableSettings
func (s *Server) saveTableSettings(c *gin.Context) {
	var req saveTableSettingsReq
	if !bind(c, &req) {
		return
	}
	ts, err := s.settings.SaveTable(c.Request.Context(), sessionOf(c).UserSlug, req.Entity, req.Settings)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"entity": req.Entity, "settings": ts, "saved": true})
}

// POST /ajax/getUserSettings
func (s *Server) getUserSettings(c *gin.Context) {
	values, err := s.settings.User(c.Request.Context(), sessionOf(c).UserSlug)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, values)
}

// POST /ajax/saveUserSettings
func (s *Server) saveUserSettings(c *gin.Context) {
	var req saveUserSettingsReq
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	user := sessionOf(c).UserSlug
	if err := s.settings.SaveUser(ctx, user, req.Values); err != nil {
		fail(c, err)
		return
	}
	values, err := s.settings.User(ctx, user)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, values)
}
