// Пакет apperr: таксономия ошибок приложения и их отображение в HTTP-статусы.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Коды ошибок полей
const (
	ErrRequired        = "required"
	ErrTypeMismatch    = "type_mismatch"
	ErrEnumInvalid     = "enum_invalid"
	ErrPattern         = "pattern_mismatch"
	ErrTooLong         = "too_long"
	ErrUniqueViolation = "unique_violation"
	ErrRefNotFound     = "ref_not_found"
	ErrReadOnly        = "readonly_field"
	ErrVersionConflict = "version_conflict"
	ErrUnknown         = "unknown"
	ErrInvalid         = "invalid"
)

// Типы ошибок в ответе API (поле error_type)
const (
	KindValidation   = "validation"
	KindPermission   = "permission_denied"
	KindUnauthorized = "unauthenticated"
	KindNotFound     = "not_found"
	KindConflict     = "conflict"
	KindConfig       = "configuration"
	KindInternal     = "internal"
)

// ValidationError: некорректный или неполный ввод пользователя.
type ValidationError struct {
	Fields []FieldError
}

func Validation(fields ...FieldError) *ValidationError {
	return &ValidationError{Fields: fields}
}

// Invalid: ошибка валидации с одним сообщением.
func Invalid(code, field, msg string) *ValidationError {
	return &ValidationError{Fields: []FieldError{{Code: code, Field: field, Message: msg}}}
}

func (e *ValidationError) Add(code, field, msg string) {
	e.Fields = append(e.Fields, FieldError{Code: code, Field: field, Message: msg})
}

func (e *ValidationError) Messages() []string {
	out := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		out = append(out, f.Message)
	}
	return out
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages(), "; ")
}

// OrNil возвращает nil, если ошибок не накопилось.
func (e *ValidationError) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

type PermissionDeniedError struct {
	Message string
}

func PermissionDenied(format string, args ...any) *PermissionDeniedError {
	return &PermissionDeniedError{Message: fmt.Sprintf(format, args...)}
}

func (e *PermissionDeniedError) Error() string { return e.Message }

type UnauthenticatedError struct {
	Message string
}

func (e *UnauthenticatedError) Error() string { return e.Message }

type NotFoundError struct {
	What string
}

func NotFound(format string, args ...any) *NotFoundError {
	return &NotFoundError{What: fmt.Sprintf(format, args...)}
}

func (e *NotFoundError) Error() string { return e.What + " not found" }

// ConflictError: нарушение уникальности или optimistic lock.
type ConflictError struct {
	Fields []FieldError
}

func Conflict(code, field, msg string) *ConflictError {
	return &ConflictError{Fields: []FieldError{{Code: code, Field: field, Message: msg}}}
}

func (e *ConflictError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return "conflict: " + strings.Join(msgs, "; ")
}

// ConfigurationError: ошибка схемы или развёртывания (не пользовательский ввод).
// Локально не обрабатывается, уходит в общий обработчик как 500.
type ConfigurationError struct {
	Message string
	Err     error
}

func Configuration(format string, args ...any) *ConfigurationError {
	err := fmt.Errorf(format, args...)
	return &ConfigurationError{Message: err.Error(), Err: errors.Unwrap(err)}
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Message }

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Classify возвращает HTTP-статус и error_type для ошибки.
func Classify(err error) (int, string) {
	var (
		ve  *ValidationError
		pe  *PermissionDeniedError
		ue  *UnauthenticatedError
		nfe *NotFoundError
		ce  *ConflictError
		cfg *ConfigurationError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, KindValidation
	case errors.As(err, &pe):
		return http.StatusForbidden, KindPermission
	case errors.As(err, &ue):
		return http.StatusUnauthorized, KindUnauthorized
	case errors.As(err, &nfe):
		return http.StatusNotFound, KindNotFound
	case errors.As(err, &ce):
		return http.StatusConflict, KindConflict
	case errors.As(err, &cfg):
		return http.StatusInternalServerError, KindConfig
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// IsConfiguration: true, если в цепочке есть ConfigurationError.
func IsConfiguration(err error) bool {
	var cfg *ConfigurationError
	return errors.As(err, &cfg)
}
