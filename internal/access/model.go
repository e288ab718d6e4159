// Пакет access: права ролей на поля сущностей и требования ролей к эндпоинтам.
package access

import "strings"

// Глобальные роли
const (
	RoleAdmin      = "admin"
	RoleHR         = "hr"
	RoleManager    = "manager"
	RoleAccountant = "accountant"
	RoleEmployee   = "employee"
)

var KnownRoles = []string{RoleAdmin, RoleHR, RoleManager, RoleAccountant, RoleEmployee}

// Действия над полем
const (
	ActionView        = "view"
	ActionRead        = "read"
	ActionWrite       = "write"
	ActionDelete      = "delete"
	ActionViewAddInfo = "view_add_info"
)

var Actions = []string{ActionView, ActionRead, ActionWrite, ActionDelete, ActionViewAddInfo}

func ValidAction(a string) bool {
	for _, x := range Actions {
		if x == a {
			return true
		}
	}
	return false
}

func ValidRole(r string) bool {
	for _, x := range KnownRoles {
		if x == r {
			return true
		}
	}
	return false
}

// Permission: строка field_permissions: права одной роли на одно поле.
type Permission struct {
	RoleID      string `json:"role_id"`
	Entity      string `json:"entity"`
	Field       string `json:"field"`
	CanView     bool   `json:"can_view"`
	CanRead     bool   `json:"can_read"`
	CanWrite    bool   `json:"can_write"`
	CanDelete   bool   `json:"can_delete"`
	CanViewInfo bool   `json:"can_view_add_info"`
}

// Allows: флаг права для действия; неизвестное действие не разрешено.
func (p Permission) Allows(action string) bool {
	switch action {
	case ActionView:
		return p.CanView
	case ActionRead:
		return p.CanRead
	case ActionWrite:
		return p.CanWrite
	case ActionDelete:
		return p.CanDelete
	case ActionViewAddInfo:
		return p.CanViewInfo
	}
	return false
}

type permKey struct {
	role, entity, field string
}

func keyOf(role, entity, field string) permKey {
	return permKey{strings.ToLower(role), entity, field}
}
