package dsl

import (
	"fmt"
	"regexp"
	"strings"
)

type SchemaIssue struct {
	Entity  string `json:"entity"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

var knownTypes = map[string]struct{}{
	"string": {}, "text": {}, "int": {}, "decimal": {}, "float": {}, "money": {},
	"bool": {}, "date": {}, "datetime": {}, "enum": {}, "ref": {},
}

// Lint проверяет базовые противоречия в схемах.
// hasCatalog отвечает, существует ли справочник с таким именем (nil: не проверять).
func Lint(c *Catalog, hasCatalog func(name string) bool) []SchemaIssue {
	var issues []SchemaIssue
	add := func(e *Entity, field, code, format string, args ...any) {
		issues = append(issues, SchemaIssue{Entity: e.Source(), Field: field, Code: code, Message: fmt.Sprintf(format, args...)})
	}

	for _, e := range c.Entities() {
		seen := map[string]struct{}{}
		for _, f := range e.Fields {
			if IsSystemColumn(f.Name) {
				add(e, f.Name, "system_column", "field %q clashes with a system column", f.Name)
			}
			if _, dup := seen[f.Name]; dup {
				add(e, f.Name, "duplicate_field", "field %q declared twice", f.Name)
			}
			seen[f.Name] = struct{}{}

			if _, ok := knownTypes[strings.ToLower(f.Type)]; !ok {
				add(e, f.Name, "unknown_type", "unknown type %q", f.Type)
			}

			if od := f.OnDelete(); od != "" && od != "restrict" && od != "set_null" {
				add(e, f.Name, "on_delete_unknown", "unknown on_delete policy %q (allowed: restrict|set_null)", od)
			}

			if f.IsRef() {
				if f.Required() && f.OnDelete() == "set_null" {
					add(e, f.Name, "required_conflicts_on_delete",
						"required ref cannot have on_delete=set_null; use restrict (or make field optional)")
				}
				if strings.TrimSpace(f.RefTarget) == "" {
					add(e, f.Name, "ref_target_empty", "ref field has empty target")
				} else if _, ok := c.RefTarget(f); !ok {
					add(e, f.Name, "ref_target_unknown", "ref target %q is not a known entity", f.RefTarget)
				}
			}

			if p := f.Pattern(); p != "" {
				if _, err := regexp.Compile(p); err != nil {
					add(e, f.Name, "pattern_invalid", "pattern %q does not compile: %v", p, err)
				}
			}

			if cat := f.Catalog(); cat != "" && hasCatalog != nil && !hasCatalog(cat) {
				add(e, f.Name, "catalog_unknown", "reference catalog %q not found", cat)
			}
		}

		for _, set := range e.Constraints.Unique {
			for _, name := range set {
				if _, ok := e.Field(name); !ok {
					add(e, name, "unique_field_unknown", "unique constraint names unknown field %q", name)
				}
			}
		}
	}
	return issues
}
