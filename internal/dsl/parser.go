package dsl

import (
	"bufio"
	"embed"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"regexp"
	"strings"
)

//go:embed schemas/*.dsl
var builtinFS embed.FS

// Грамматика строк .dsl
var (
	reModule      = regexp.MustCompile(`^module\s+([A-Za-z0-9_.-]+)$`)
	reEntity      = regexp.MustCompile(`^entity\s+(\w+):`)
	reField       = regexp.MustCompile(`^(\w+):\s*([^\s#]+)(.*)$`)
	reEnumType    = regexp.MustCompile(`^enum\[(.*)\]$`)
	reRefType     = regexp.MustCompile(`^ref\[([A-Za-z0-9_.]+)\]$`)
	reConstraints = regexp.MustCompile(`^constraints\s*:$`)
	reUnique      = regexp.MustCompile(`^unique\s*\(\s*([^)]+)\s*\)$`)
)

// Parse читает DSL из r и возвращает сущности в порядке объявления.
func Parse(r io.Reader) ([]*Entity, error) {
	var p parser
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		if err := p.line(line); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	p.closeEntity()
	return p.out, nil
}

// parser: состояние разбора: текущий модуль, сущность и блок constraints.
type parser struct {
	module   string
	cur      *Entity
	inUnique bool
	out      []*Entity
}

func (p *parser) closeEntity() {
	if p.cur != nil {
		p.out = append(p.out, p.cur)
		p.cur = nil
	}
	p.inUnique = false
}

func (p *parser) line(line string) error {
	if m := reModule.FindStringSubmatch(line); m != nil {
		p.module = m[1]
		return nil
	}
	if m := reEntity.FindStringSubmatch(line); m != nil {
		p.closeEntity()
		p.cur = &Entity{Name: m[1], Module: p.module}
		return nil
	}
	if p.cur == nil {
		// строки вне сущности игнорируются
		return nil
	}
	if reConstraints.MatchString(line) {
		p.inUnique = true
		return nil
	}
	if p.inUnique {
		if m := reUnique.FindStringSubmatch(line); m != nil {
			if set := splitList(m[1]); len(set) > 0 {
				p.cur.Constraints.Unique = append(p.cur.Constraints.Unique, set)
			}
			return nil
		}
		p.inUnique = false
	}

	m := reField.FindStringSubmatch(line)
	if m == nil {
		return fmt.Errorf("entity %s: cannot parse %q", p.cur.Name, line)
	}
	f, err := parseField(m[1], m[2], m[3])
	if err != nil {
		return fmt.Errorf("entity %s: %w", p.cur.Name, err)
	}
	p.cur.Fields = append(p.cur.Fields, f)
	return nil
}

// splitList: "a, 'b', c" -> [a b c], пустые элементы отбрасываются.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.Trim(strings.TrimSpace(part), `"'`); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseField(name, typ, rest string) (Field, error) {
	// enum[a, b] с пробелами режется регуляркой на тип и хвост
	if strings.HasPrefix(typ, "enum[") && !strings.Contains(typ, "]") {
		if i := strings.IndexByte(rest, ']'); i >= 0 {
			typ, rest = typ+rest[:i+1], rest[i+1:]
		}
	}
	f := Field{Name: name, Type: typ, Options: map[string]string{}}

	switch {
	case reEnumType.MatchString(typ):
		f.Type = "enum"
		f.Enum = splitList(reEnumType.FindStringSubmatch(typ)[1])
		if len(f.Enum) == 0 {
			return f, fmt.Errorf("field %s: empty enum", name)
		}
	case reRefType.MatchString(typ):
		f.Type = "ref"
		f.RefTarget = strings.TrimSpace(reRefType.FindStringSubmatch(typ)[1])
	}

	for _, tok := range optionTokens(optionsPart(rest)) {
		if k, v := parseOption(tok); k != "" {
			f.Options[k] = v
		}
	}
	return f, nil
}

// optionsPart: хвост строки поля без комментария и префикса "options:".
// Запятые между опциями равносильны пробелам.
func optionsPart(rest string) string {
	rest, _, _ = strings.Cut(rest, "#")
	rest = strings.TrimSpace(rest)
	if len(rest) >= len("options:") && strings.EqualFold(rest[:len("options:")], "options:") {
		rest = rest[len("options:"):]
	}
	return strings.ReplaceAll(rest, ",", " ")
}

// optionTokens режет строку опций по пробелам, кроме пробелов внутри
// кавычек и квадратных скобок: pattern=^[A-Z _]+$ остаётся одним токеном.
func optionTokens(s string) []string {
	var (
		out   []string
		tok   strings.Builder
		quote rune
		depth int
	)
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case depth > 0:
			if r == '[' {
				depth++
			} else if r == ']' {
				depth--
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '[':
			depth++
		case r == ' ' || r == '\t':
			if tok.Len() > 0 {
				out = append(out, tok.String())
				tok.Reset()
			}
			continue
		}
		tok.WriteRune(r)
	}
	if tok.Len() > 0 {
		out = append(out, tok.String())
	}
	return out
}

// parseOption: "required" -> (required, true), "maxlen='10'" -> (maxlen, 10).
func parseOption(tok string) (string, string) {
	k, v, hasValue := strings.Cut(tok, "=")
	k = strings.ToLower(strings.TrimSpace(k))
	if !hasValue {
		return k, "true"
	}
	v = strings.TrimSpace(v)
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		v = v[1 : len(v)-1]
	}
	return k, v
}

// loadFS собирает сущности из всех *.dsl в fsys.
func loadFS(fsys fs.FS) ([]*Entity, error) {
	var out []*Entity
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(path.Ext(d.Name()), ".dsl") {
			return nil
		}
		f, err := fsys.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		ents, err := Parse(f)
		if err != nil {
			return fmt.Errorf("parse %s: %w", p, err)
		}
		for _, e := range ents {
			if e.Module == "" {
				return fmt.Errorf("entity %q in %s has no module: add `module <name>` at the top", e.Name, p)
			}
		}
		out = append(out, ents...)
		return nil
	})
	return out, err
}

// LoadCatalog грузит схемы из каталога dir; пустой dir: встроенные схемы.
func LoadCatalog(dir string) (*Catalog, error) {
	var fsys fs.FS
	if strings.TrimSpace(dir) == "" {
		sub, err := fs.Sub(builtinFS, "schemas")
		if err != nil {
			return nil, err
		}
		fsys = sub
	} else {
		fsys = os.DirFS(dir)
	}
	ents, err := loadFS(fsys)
	if err != nil {
		return nil, err
	}
	return NewCatalog(ents)
}

// Builtin: встроенные схемы hr/finance/timesheet.
func Builtin() (*Catalog, error) { return LoadCatalog("") }
