package vtable

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"

	"tabel/internal/apperr"
	"tabel/internal/store"
)

// filterColumn: выражение и тип, по которым фильтруется колонка.
type filterColumn struct {
	expr    string
	logical string
}

// numericExpr: decimal во временной таблице хранится строкой, сравнивать надо числа.
func numericExpr(d store.Dialect, expr string) string {
	switch d.Name {
	case "postgres":
		return "CAST(" + expr + " AS NUMERIC)"
	case "mysql":
		return "CAST(" + expr + " AS DECIMAL(30,10))"
	default:
		return "CAST(" + expr + " AS REAL)"
	}
}

// buildCondition превращает условие фильтра в SQL-выражение билдера.
func buildCondition(sb *sqlbuilder.SelectBuilder, d store.Dialect, fc filterColumn, cond Condition) (string, *apperr.FieldError) {
	field := "filter." + cond.Field
	bad := func(msg string) (string, *apperr.FieldError) {
		return "", &apperr.FieldError{Code: apperr.ErrInvalid, Field: field, Message: msg}
	}
	multi := fc.logical == store.TypeMultiSelect
	expr := fc.expr
	cmpExpr := expr
	if fc.logical == store.TypeDecimal {
		cmpExpr = numericExpr(d, expr)
	}

	switch strings.ToLower(strings.TrimSpace(cond.Op)) {
	case OpEmpty:
		if store.IsTextual(fc.logical) {
			return sb.Or(sb.IsNull(expr), sb.EQ(expr, "")), nil
		}
		return sb.IsNull(expr), nil

	case OpNotEmpty:
		if store.IsTextual(fc.logical) {
			return sb.And(sb.IsNotNull(expr), sb.NE(expr, "")), nil
		}
		return sb.IsNotNull(expr), nil

	case OpEq, OpNeq:
		v, ok := filterArg(fc.logical, cond.Value)
		if !ok {
			return bad(fmt.Sprintf("invalid value for %s", cond.Field))
		}
		neq := strings.EqualFold(cond.Op, OpNeq)
		if multi {
			if neq {
				return sb.Or(sb.IsNull(expr), sb.NotLike(expr, multiPattern(v))), nil
			}
			return sb.Like(expr, multiPattern(v)), nil
		}
		if neq {
			return sb.Or(sb.IsNull(expr), sb.NE(cmpExpr, v)), nil
		}
		return sb.EQ(cmpExpr, v), nil

	case OpLike:
		s, ok := cond.Value.(string)
		if !ok || !store.IsTextual(fc.logical) || multi {
			return bad(fmt.Sprintf("like is not supported for %s", cond.Field))
		}
		if !strings.Contains(s, "%") {
			s = "%" + s + "%"
		}
		return sb.Like("LOWER("+expr+")", strings.ToLower(s)), nil

	case OpIn:
		items, ok := cond.Value.([]any)
		if !ok {
			return bad(fmt.Sprintf("in expects a list for %s", cond.Field))
		}
		if len(items) == 0 {
			return "1 = 0", nil
		}
		args := make([]any, 0, len(items))
		for _, it := range items {
			v, ok := filterArg(fc.logical, it)
			if !ok {
				return bad(fmt.Sprintf("invalid value for %s", cond.Field))
			}
			args = append(args, v)
		}
		if multi {
			likes := make([]string, 0, len(args))
			for _, v := range args {
				likes = append(likes, sb.Like(expr, multiPattern(v)))
			}
			return sb.Or(likes...), nil
		}
		return sb.In(cmpExpr, args...), nil

	case OpGt, OpGte, OpLt, OpLte:
		if multi {
			return bad(fmt.Sprintf("%s is not supported for %s", cond.Op, cond.Field))
		}
		v, ok := filterArg(fc.logical, cond.Value)
		if !ok {
			return bad(fmt.Sprintf("invalid value for %s", cond.Field))
		}
		switch strings.ToLower(cond.Op) {
		case OpGt:
			return sb.GT(cmpExpr, v), nil
		case OpGte:
			return sb.GTE(cmpExpr, v), nil
		case OpLt:
			return sb.LT(cmpExpr, v), nil
		default:
			return sb.LTE(cmpExpr, v), nil
		}
	}
	return bad(fmt.Sprintf("unknown filter op %q", cond.Op))
}

// filterArg приводит значение фильтра к типу колонки.
func filterArg(logical string, v any) (any, bool) {
	if v == nil {
		return nil, false
	}
	var out any
	switch logical {
	case store.TypeMultiSelect:
		out = insertValue(store.TypeInteger, v)
	case store.TypeDecimal:
		out = store.Coerce(store.TypeDecimal, v)
	default:
		out = insertValue(logical, v)
	}
	if out == nil {
		return nil, false
	}
	return out, true
}

func multiPattern(id any) string {
	return "%," + store.StringOf(id) + ",%"
}
