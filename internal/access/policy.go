package access

import (
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"tabel/internal/apperr"
	"tabel/internal/auth"
)

// Outcome: результат проверки доступа к эндпоинту.
type Outcome string

const (
	Allowed               Outcome = "ALLOWED"
	DeniedUnauthenticated Outcome = "DENIED_UNAUTHENTICATED"
	DeniedForbidden       Outcome = "DENIED_FORBIDDEN"
)

// Policy: требования ролей к эндпоинтам. Ключ: маршрут gin (FullPath)
// или уточнённый маршрут сущности (/ajax/entity/payment/create).
// Эндпоинт без записи доступен любому аутентифицированному пользователю.
type Policy struct {
	required map[string][]string
}

var defaultPolicy = map[string][]string{
	"/ajax/createDynamicField":  {RoleHR},
	"/ajax/updateDynamicField":  {RoleHR},
	"/ajax/deleteDynamicField":  {RoleHR},
	"/ajax/saveDropdownOptions": {RoleHR},

	"/ajax/saveDynamicFieldsDataMultiple": {RoleHR, RoleManager},

	"/ajax/listFieldPermissions": {RoleAdmin},
	"/ajax/saveFieldPermission":  {RoleAdmin},
	"/ajax/admin/reload":         {RoleAdmin},

	"/ajax/entity/:entity/create":  {RoleHR, RoleManager},
	"/ajax/entity/:entity/update":  {RoleHR, RoleManager},
	"/ajax/entity/:entity/delete":  {RoleHR},
	"/ajax/entity/:entity/restore": {RoleHR},

	"/ajax/entity/user/create": {RoleHR},
	"/ajax/entity/user/update": {RoleHR},

	"/ajax/entity/payment/create":  {RoleAccountant},
	"/ajax/entity/payment/update":  {RoleAccountant},
	"/ajax/entity/payment/delete":  {RoleAccountant},
	"/ajax/entity/payment/restore": {RoleAccountant},

	"/ajax/entity/time_entry/create": {RoleEmployee, RoleManager, RoleHR},
	"/ajax/entity/time_entry/update": {RoleEmployee, RoleManager, RoleHR},
	"/ajax/entity/time_entry/delete": {RoleManager, RoleHR},

	"/ajax/reports/hoursByProject":  {RoleManager, RoleHR},
	"/ajax/reports/paymentsByMonth": {RoleAccountant, RoleManager},
}

// DefaultPolicy: встроенная таблица требований.
func DefaultPolicy() *Policy {
	return &Policy{required: maps.Clone(defaultPolicy)}
}

type policyFile struct {
	Endpoints map[string][]string `yaml:"endpoints"`
}

// LoadPolicy накладывает YAML-файл на встроенную таблицу.
// Пустой путь или отсутствующий файл: встроенная таблица.
// Пустой список ролей в файле: эндпоинт открыт любому вошедшему, даже если
// общий шаблон (/ajax/entity/:entity/delete) требует роли.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()
	if strings.TrimSpace(path) == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return nil, fmt.Errorf("read policy %s: %w", path, err)
	}
	if err := p.overlay(data); err != nil {
		return nil, fmt.Errorf("policy %s: %w", path, err)
	}
	return p, nil
}

func (p *Policy) overlay(data []byte) error {
	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return apperr.Configuration("parse yaml: %w", err)
	}
	for endpoint, roles := range f.Endpoints {
		endpoint = strings.TrimSpace(endpoint)
		if !strings.HasPrefix(endpoint, "/") {
			return apperr.Configuration("endpoint %q must start with /", endpoint)
		}
		norm := make([]string, 0, len(roles))
		for _, r := range roles {
			r = strings.ToLower(strings.TrimSpace(r))
			if !ValidRole(r) {
				return apperr.Configuration("endpoint %s: unknown role %q", endpoint, r)
			}
			norm = append(norm, r)
		}
		// пустой список хранится как есть: частный ключ не уходит к общему шаблону
		p.required[endpoint] = norm
	}
	return nil
}

// RequiredRoles: роли первого объявленного из ключей (от частного к общему).
func (p *Policy) RequiredRoles(endpoints ...string) []string {
	for _, e := range endpoints {
		if roles, ok := p.required[e]; ok {
			return slices.Clone(roles)
		}
	}
	return nil
}

// Decide: проверка сессии против требований эндпоинта.
func (p *Policy) Decide(s *auth.Session, endpoints ...string) Outcome {
	if s == nil {
		return DeniedUnauthenticated
	}
	if s.HasRole(RoleAdmin) {
		return Allowed
	}
	roles := p.RequiredRoles(endpoints...)
	if len(roles) == 0 || s.HasAnyRole(roles...) {
		return Allowed
	}
	return DeniedForbidden
}

// Endpoints: объявленные ключи по алфавиту.
func (p *Policy) Endpoints() []string {
	return slices.Sorted(maps.Keys(p.required))
}
