package reference

import (
	"sort"
	"time"
)

// EnumDirectory описывает один справочник типа enum
type EnumDirectory struct {
	Name  string     `yaml:"name" json:"name"`
	Items []EnumItem `yaml:"items" json:"items"`
}

type EnumItem struct {
	Code      string `yaml:"code" json:"code"`
	Name      string `yaml:"name" json:"name"`
	Order     int    `yaml:"order,omitempty" json:"order,omitempty"`
	ValidFrom string `yaml:"valid_from,omitempty" json:"valid_from,omitempty"`
	ValidTo   string `yaml:"valid_to,omitempty" json:"valid_to,omitempty"`
}

// Active: элемент действует на дату at (границы в формате YYYY-MM-DD, включительно).
func (it EnumItem) Active(at time.Time) bool {
	day := at.Format("2006-01-02")
	if it.ValidFrom != "" && day < it.ValidFrom {
		return false
	}
	if it.ValidTo != "" && day > it.ValidTo {
		return false
	}
	return true
}

// Catalogs: набор справочников по имени.
type Catalogs map[string]EnumDirectory

func (c Catalogs) Has(name string) bool {
	_, ok := c[name]
	return ok
}

// Valid: code есть в справочнике name и действует на дату at.
func (c Catalogs) Valid(name, code string, at time.Time) bool {
	dir, ok := c[name]
	if !ok {
		return false
	}
	for _, it := range dir.Items {
		if it.Code == code {
			return it.Active(at)
		}
	}
	return false
}

// Sorted возвращает элементы справочника по order, затем по code.
func (d EnumDirectory) Sorted() []EnumItem {
	out := append([]EnumItem(nil), d.Items...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Code < out[j].Code
	})
	return out
}
