package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"tabel/internal/apperr"
)

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"data": data})
}

// fail передаёт ошибку в errorHandler.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
}

var tagNamesOnce sync.Once

// registerTagNames: в ошибках валидатора имена полей из json-тегов.
func registerTagNames() {
	tagNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
	})
}

// bind читает JSON-тело в req. Ошибки валидатора становятся ValidationError
// с кодом по полю, битый JSON: одной ошибкой на body.
func bind(c *gin.Context, req any) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := &apperr.ValidationError{}
		for _, fe := range verrs {
			code := apperr.ErrInvalid
			if fe.Tag() == "required" {
				code = apperr.ErrRequired
			}
			out.Add(code, fe.Field(), fmt.Sprintf("Field '%s' failed on '%s'", fe.Field(), fe.Tag()))
		}
		fail(c, out)
		return false
	}
	if errors.Is(err, io.EOF) {
		fail(c, apperr.Invalid(apperr.ErrRequired, "body", "Request body is required"))
		return false
	}
	fail(c, apperr.Invalid(apperr.ErrTypeMismatch, "body", "Invalid JSON"))
	return false
}

// readExpectedVersion: ожидаемая версия из If-Match ("3", "\"3\"", W/"3").
// Версию из тела разбирает сервис.
func readExpectedVersion(c *gin.Context) (*int64, error) {
	ifMatch := strings.TrimSpace(c.GetHeader("If-Match"))
	if ifMatch == "" {
		return nil, nil
	}
	ifMatch = strings.Trim(strings.TrimPrefix(ifMatch, "W/"), `"'`)
	v, err := strconv.ParseInt(ifMatch, 10, 64)
	if err != nil {
		return nil, apperr.Invalid(apperr.ErrTypeMismatch, "If-Match", "If-Match must be a record version")
	}
	return &v, nil
}

// fieldIDs разбирает ключи динамических полей ("12") в id.
func fieldIDs(values map[string]any) (map[int64]any, error) {
	out := make(map[int64]any, len(values))
	verr := &apperr.ValidationError{}
	for k, v := range values {
		id, err := strconv.ParseInt(strings.TrimSpace(k), 10, 64)
		if err != nil || id <= 0 {
			verr.Add(apperr.ErrTypeMismatch, k, fmt.Sprintf("Dynamic field key '%s' must be a field id", k))
			continue
		}
		out[id] = v
	}
	if err := verr.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}
