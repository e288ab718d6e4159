package dsl

import (
	"fmt"
	"sort"
	"strings"
)

// Catalog: неизменяемый набор схем, ключ: тег сущности (source).
type Catalog struct {
	bySource map[string]*Entity
	sources  []string
}

func NewCatalog(entities []*Entity) (*Catalog, error) {
	c := &Catalog{bySource: make(map[string]*Entity, len(entities))}
	for _, e := range entities {
		if e == nil || e.Name == "" {
			return nil, fmt.Errorf("empty entity name")
		}
		src := e.Source()
		if prev, exists := c.bySource[src]; exists {
			return nil, fmt.Errorf("duplicate entity %q (modules %q and %q)", e.Name, prev.Module, e.Module)
		}
		c.bySource[src] = e
		c.sources = append(c.sources, src)
	}
	sort.Strings(c.sources)
	return c, nil
}

// Lookup принимает тег (time_entry), имя (TimeEntry) или FQN (timesheet.TimeEntry).
func (c *Catalog) Lookup(name string) (*Entity, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}
	if e, ok := c.bySource[name]; ok {
		return e, true
	}
	mod := ""
	if i := strings.IndexByte(name, '.'); i > 0 {
		mod, name = name[:i], name[i+1:]
	}
	if e, ok := c.bySource[snake(name)]; ok {
		if mod == "" || strings.EqualFold(e.Module, mod) {
			return e, true
		}
		return nil, false
	}
	// регистронезависимо
	for _, e := range c.bySource {
		if strings.EqualFold(e.Name, name) && (mod == "" || strings.EqualFold(e.Module, mod)) {
			return e, true
		}
	}
	return nil, false
}

func (c *Catalog) Has(source string) bool {
	_, ok := c.bySource[source]
	return ok
}

// Entities: все схемы в стабильном порядке
func (c *Catalog) Entities() []*Entity {
	out := make([]*Entity, 0, len(c.sources))
	for _, s := range c.sources {
		out = append(out, c.bySource[s])
	}
	return out
}

// RefTarget: схема, на которую ссылается ref-поле.
func (c *Catalog) RefTarget(f Field) (*Entity, bool) {
	if !f.IsRef() || f.RefTarget == "" {
		return nil, false
	}
	return c.Lookup(f.RefTarget)
}
