package api

import (
	"database/sql"

	"github.com/gin-gonic/gin"

	"tabel/internal/dynfield"
	"tabel/internal/store"
)

type sourceReq struct {
	Source string `json:"source" binding:"required"`
}

type createFieldReq struct {
	Source    string `json:"source" binding:"required"`
	Title     string `json:"title" binding:"required,max=255"`
	FieldType string `json:"field_type" binding:"required"`
	Required  bool   `json:"required"`
	Multiple  bool   `json:"multiple"`
	Sort      int    `json:"sort"`
}

// updateFieldReq: частичное обновление: не переданное поле не меняется.
type updateFieldReq struct {
	ID        int64   `json:"id" binding:"required,gt=0"`
	Title     *string `json:"title" binding:"omitempty,max=255"`
	FieldType *string `json:"field_type"`
	Required  *bool   `json:"required"`
	Multiple  *bool   `json:"multiple"`
	Sort      *int    `json:"sort"`
}

type fieldIDReq struct {
	ID int64 `json:"id" binding:"required,gt=0"`
}

type optionsReq struct {
	FieldID int64             `json:"field_id" binding:"required,gt=0"`
	Options []dynfield.Option `json:"options"`
}

type optionsListReq struct {
	FieldID int64 `json:"field_id" binding:"required,gt=0"`
}

type fieldsDataReq struct {
	Source   string   `json:"source" binding:"required"`
	Slugs    []string `json:"slugs"`
	FieldIDs []int64  `json:"field_ids"`
}

type saveFieldsDataReq struct {
	Source string         `json:"source" binding:"required"`
	Slug   string         `json:"slug" binding:"required"`
	Values map[string]any `json:"values" binding:"required"`
}

func (s *Server) registry() *dynfield.Registry {
	return dynfield.NewRegistry(s.db, s.d, s.catalog)
}

// POST /ajax/getDynamicFieldsForSource
func (s *Server) getDynamicFieldsForSource(c *gin.Context) {
	var req sourceReq
	if !bind(c, &req) {
		return
	}
	defs, err := s.registry().ListFieldsForSource(c.Request.Context(), req.Source)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, defs)
}

// POST /ajax/createDynamicField
func (s *Server) createDynamicField(c *gin.Context) {
	var req createFieldReq
	if !bind(c, &req) {
		return
	}
	def, err := s.registry().Create(c.Request.Context(), dynfield.Definition{
		Source:    req.Source,
		Title:     req.Title,
		FieldType: req.FieldType,
		Required:  req.Required,
		Multiple:  req.Multiple,
		Sort:      req.Sort,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, def)
}

// POST /ajax/updateDynamicField
func (s *Server) updateDynamicField(c *gin.Context) {
	var req updateFieldReq
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	reg := s.registry()
	def, err := reg.Get(ctx, req.ID)
	if err != nil {
		fail(c, err)
		return
	}
	if req.Title != nil {
		def.Title = *req.Title
	}
	if req.FieldType != nil {
		def.FieldType = *req.FieldType
	}
	if req.Required != nil {
		def.Required = *req.Required
	}
	if req.Multiple != nil {
		def.Multiple = *req.Multiple
	}
	if req.Sort != nil {
		def.Sort = *req.Sort
	}
	def, err = reg.Update(ctx, def)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, def)
}

// POST /ajax/deleteDynamicField
func (s *Server) deleteDynamicField(c *gin.Context) {
	var req fieldIDReq
	if !bind(c, &req) {
		return
	}
	if err := s.registry().Delete(c.Request.Context(), req.ID); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"id": req.ID, "deleted": true})
}

// POST /ajax/getDropdownOptions
func (s *Server) getDropdownOptions(c *gin.Context) {
	var req optionsListReq
	if !bind(c, &req) {
		return
	}
	reg := s.registry()
	if _, err := reg.Get(c.Request.Context(), req.FieldID); err != nil {
		fail(c, err)
		return
	}
	opts, err := reg.ListOptions(c.Request.Context(), req.FieldID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, opts)
}

// POST /ajax/saveDropdownOptions
func (s *Server) saveDropdownOptions(c *gin.Context) {
	var req optionsReq
	if !bind(c, &req) {
		return
	}
	ctx := c.Request.Context()
	var saved []dynfield.Option
	err := store.RunInTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error
		saved, err = dynfield.NewRegistry(tx, s.d, s.catalog).SaveOptions(ctx, req.FieldID, req.Options)
		return err
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, saved)
}

// POST /ajax/getDynamicFieldsData
func (s *Server) getDynamicFieldsData(c *gin.Context) {
	var req fieldsDataReq
	if !bind(c, &req) {
		return
	}
	vals, err := s.entities(c).DynamicValues(c.Request.Context(), req.Source, req.Slugs, req.FieldIDs)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, vals)
}

// POST /ajax/saveDynamicFieldsDataMultiple
func (s *Server) saveDynamicFieldsDataMultiple(c *gin.Context) {
	var req saveFieldsDataReq
	if !bind(c, &req) {
		return
	}
	values, err := fieldIDs(req.Values)
	if err != nil {
		fail(c, err)
		return
	}
	svc := s.entities(c)
	ctx := c.Request.Context()
	if err := svc.SaveDynamicValues(ctx, req.Source, req.Slug, values); err != nil {
		fail(c, err)
		return
	}
	ids := make([]int64, 0, len(values))
	for id := range values {
		ids = append(ids, id)
	}
	vals, err := svc.DynamicValues(ctx, req.Source, []string{req.Slug}, ids)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, vals[req.Slug])
}
