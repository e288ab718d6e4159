package entity

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"tabel/internal/apperr"
)

// Hook: проверка конкретной сущности поверх схемы. Получает итоговую
// запись (текущие значения с наложенными изменениями) и может её нормализовать.
type Hook func(rec map[string]any) []apperr.FieldError

var validate = validator.New()

// DefaultHooks: правила встроенных сущностей по тегу.
func DefaultHooks() map[string]Hook {
	return map[string]Hook{
		"project":    projectHook,
		"payment":    paymentHook,
		"user":       userHook,
		"time_entry": timeEntryHook,
	}
}

func projectHook(rec map[string]any) []apperr.FieldError {
	start, _ := rec["starts_on"].(string)
	end, _ := rec["ends_on"].(string)
	// даты уже в YYYY-MM-DD, строки сравнимы
	if start != "" && end != "" && end < start {
		return []apperr.FieldError{ferr(apperr.ErrInvalid, "ends_on", "Project end date must not be before start date")}
	}
	return nil
}

func paymentHook(rec map[string]any) []apperr.FieldError {
	if amount, ok := rec["amount"].(float64); ok && !(amount > 0) {
		return []apperr.FieldError{ferr(apperr.ErrInvalid, "amount", "Payment amount must be positive")}
	}
	return nil
}

func userHook(rec map[string]any) []apperr.FieldError {
	email, ok := rec["email"].(string)
	if !ok {
		return nil
	}
	email = strings.ToLower(strings.TrimSpace(email))
	rec["email"] = email
	if err := validate.Var(email, "required,email"); err != nil {
		return []apperr.FieldError{ferr(apperr.ErrPattern, "email", fmt.Sprintf("Field 'email' is not a valid address: %q", email))}
	}
	return nil
}

func timeEntryHook(rec map[string]any) []apperr.FieldError {
	hours, ok := rec["hours"].(float64)
	if ok && !(hours > 0 && hours <= 24) {
		return []apperr.FieldError{ferr(apperr.ErrInvalid, "hours", "Hours must be greater than 0 and at most 24")}
	}
	return nil
}
