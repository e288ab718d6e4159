package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"tabel/internal/access"
	"tabel/internal/apperr"
	"tabel/internal/auth"
)

// Ключи gin.Context
const (
	ctxRequestID = "request_id"
	ctxSession   = "session"
	ctxResolver  = "resolver"
)

const headerRequestID = "X-Request-ID"

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabel_http_requests_total",
			Help: "Количество HTTP-запросов",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabel_http_request_duration_seconds",
			Help:    "Длительность HTTP-запросов в секундах",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// requestID берёт X-Request-ID клиента, если это UUID, иначе выдаёт новый.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(headerRequestID, id)
		c.Next()
	}
}

// requestLogger пишет строку на запрос; уровень зависит от статуса.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelInfo
		if status >= 500 {
			level = slog.LevelError
		} else if status >= 400 {
			level = slog.LevelWarn
		}
		logger.LogAttrs(c.Request.Context(), level, "HTTP запрос",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", c.GetString(ctxRequestID)),
		)
	}
}

// httpMetrics: счётчик и гистограмма по шаблону маршрута gin, а не по пути.
func httpMetrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

type errorBody struct {
	ErrorType string              `json:"error_type"`
	Message   string              `json:"message"`
	Fields    []apperr.FieldError `json:"fields,omitempty"`
}

// errorHandler превращает ошибку, положенную обработчиком в c.Error,
// в ответ {error_type, message, fields}.
func errorHandler(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		status, kind := apperr.Classify(err)
		body := errorBody{ErrorType: kind, Message: err.Error()}

		var (
			ve *apperr.ValidationError
			ce *apperr.ConflictError
		)
		switch {
		case errors.As(err, &ve):
			body.Message = "validation failed"
			body.Fields = ve.Fields
		case errors.As(err, &ce):
			if len(ce.Fields) > 0 {
				body.Message = ce.Fields[0].Message
			}
			body.Fields = ce.Fields
		case status >= http.StatusInternalServerError:
			logger.ErrorContext(c.Request.Context(), "Ошибка обработки запроса",
				slog.String("error", err.Error()),
				slog.String("error_type", kind),
				slog.String("path", c.Request.URL.Path),
				slog.String("request_id", c.GetString(ctxRequestID)),
			)
			body.Message = "internal server error"
		}
		c.JSON(status, body)
	}
}

func sessionOf(c *gin.Context) *auth.Session {
	if v, ok := c.Get(ctxSession); ok {
		return v.(*auth.Session)
	}
	return nil
}

// authenticate кладёт сессию в контекст. Нет токена или он невалиден -
// сессии нет, решение принимает authorize.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := auth.TokenFromRequest(c.Request); token != "" && s.sessions != nil {
			sess, err := s.sessions.Parse(token)
			if err != nil {
				s.logger.DebugContext(c.Request.Context(), "Токен отклонён", slog.String("error", err.Error()))
			} else {
				c.Set(ctxSession, sess)
			}
		}
		c.Next()
	}
}

// authorize проверяет роли по политике: сначала конкретный путь
// (/ajax/entity/payment/create), затем шаблон маршрута.
func (s *Server) authorize() gin.HandlerFunc {
	return func(c *gin.Context) {
		sess := sessionOf(c)
		switch s.currentPolicy().Decide(sess, c.Request.URL.Path, c.FullPath()) {
		case access.Allowed:
			c.Next()
		case access.DeniedUnauthenticated:
			if strings.HasPrefix(c.Request.URL.Path, "/ajax/") {
				c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
					ErrorType: apperr.KindUnauthorized,
					Message:   "authentication required",
				})
				return
			}
			c.Redirect(http.StatusFound, s.loginURL)
			c.Abort()
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
				ErrorType: apperr.KindPermission,
				Message:   "access denied",
			})
		}
	}
}
