package api

import (
	"github.com/gin-gonic/gin"

	"tabel/internal/report"
	"tabel/internal/store"
)

type periodReq struct {
	From string `json:"from" binding:"required"`
	To   string `json:"to" binding:"required"`
}

// POST /ajax/reports/hoursByProject
func (s *Server) hoursByProject(c *gin.Context) {
	var req periodReq
	if !bind(c, &req) {
		return
	}
	rows, err := s.reports.HoursByProject(c.Request.Context(), req.From, req.To)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rows)
}

// POST /ajax/reports/paymentsByMonth: год строкой или числом, пусто: текущий.
func (s *Server) paymentsByMonth(c *gin.Context) {
	var raw map[string]any
	if c.Request.ContentLength != 0 && !bind(c, &raw) {
		return
	}
	year, err := report.YearOf(store.StringOf(raw["year"]), s.now())
	if err != nil {
		fail(c, err)
		return
	}
	rows, err := s.reports.PaymentsByMonth(c.Request.Context(), year)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"year": year, "months": rows})
}

// POST /ajax/reports/entityStats
func (s *Server) entityStats(c *gin.Context) {
	stats, err := s.reports.EntityStats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, stats)
}
