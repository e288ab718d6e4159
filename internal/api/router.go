package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router собирает gin.Engine со всеми маршрутами.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(
		requestID(),
		requestLogger(s.logger),
		httpMetrics(),
		gin.CustomRecovery(s.recovered),
		errorHandler(s.logger),
	)

	r.GET("/health/live", s.live)
	r.GET("/health/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/api/meta", s.metaList)
	r.GET("/api/meta/:entity", s.metaEntity)

	ajax := r.Group("/ajax", s.authenticate(), s.authorize())
	{
		ajax.POST("/getDynamicFieldsForSource", s.getDynamicFieldsForSource)
		ajax.POST("/createDynamicField", s.createDynamicField)
		ajax.POST("/updateDynamicField", s.updateDynamicField)
		ajax.POST("/deleteDynamicField", s.deleteDynamicField)
		ajax.POST("/getDropdownOptions", s.getDropdownOptions)
		ajax.POST("/saveDropdownOptions", s.saveDropdownOptions)
		ajax.POST("/getDynamicFieldsData", s.getDynamicFieldsData)
		ajax.POST("/saveDynamicFieldsDataMultiple", s.saveDynamicFieldsDataMultiple)

		ajax.POST("/getTableData", s.getTableData)
		ajax.POST("/getTableSettings", s.getTableSettings)
		ajax.POST("/saveTableSettings", s.saveTableSettings)
		ajax.POST("/getUserSettings", s.getUserSettings)
		ajax.POST("/saveUserSettings", s.saveUserSettings)

		ajax.POST("/getFieldPermissions", s.getFieldPermissions)
		ajax.POST("/listFieldPermissions", s.listFieldPermissions)
		ajax.POST("/saveFieldPermission", s.saveFieldPermission)

		ajax.POST("/entity/:entity/get", s.entityGet)
		ajax.POST("/entity/:entity/create", s.entityCreate)
		ajax.POST("/entity/:entity/update", s.entityUpdate)
		ajax.POST("/entity/:entity/delete", s.entityDelete)
		ajax.POST("/entity/:entity/restore", s.entityRestore)

		ajax.POST("/reports/hoursByProject", s.hoursByProject)
		ajax.POST("/reports/paymentsByMonth", s.paymentsByMonth)
		ajax.POST("/reports/entityStats", s.entityStats)

		ajax.POST("/getCatalog", s.getCatalog)
		ajax.POST("/admin/reload", s.adminReload)
	}
	return r
}

func (s *Server) recovered(c *gin.Context, rec any) {
	s.logger.ErrorContext(c.Request.Context(), "Паника в обработчике",
		slog.Any("panic", rec),
		slog.String("path", c.Request.URL.Path),
	)
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{
		ErrorType: "internal",
		Message:   "internal server error",
	})
}

// Run слушает addr до отмены ctx, затем ждёт завершения запросов.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Остановка HTTP-сервера")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
