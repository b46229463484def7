package transform

import (
	"strings"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// ColumnRef - колонка-источник трансформации в staging таблице
type ColumnRef struct {
	// Name - неэкранированное имя колонки
	Name string
	Type schema.DataType
}

// Expression - результат push-down компиляции трансформации
type Expression struct {
	// SQL - скалярное выражение, параметры нумеруются с 1
	SQL  string
	Args []any

	// NullGuard - обновлять только строки, где источник не NULL
	NullGuard bool

	// Excluded - колонка не попадает в цель, выражения нет
	Excluded bool
}

// ToSQLExpression компилирует трансформацию в SQL-выражение диалекта d
func ToSQLExpression(col ColumnRef, cfg Config, d adapters.Dialect) (Expression, error) {
	if err := cfg.Validate(); err != nil {
		if ce, ok := err.(*ConfigError); ok {
			ce.Column = col.Name
		}
		return Expression{}, err
	}

	ref := d.QuoteIdent(col.Name)
	expr := Expression{NullGuard: true}

	switch cfg.Type {
	case KindExcludeColumn:
		return Expression{Excluded: true}, nil

	case KindTypeConversion:
		expr.SQL = d.Cast(ref, cfg.TargetType)

	case KindCustomExpression:
		expr.SQL = "(" + strings.ReplaceAll(cfg.Expression, ColumnPlaceholder, ref) + ")"

	case KindDefaultValue:
		cond := ref + " IS NULL"
		if col.Type.IsTextual() || col.Type == "" {
			cond += " OR " + ref + " = ''"
		}
		var arg any = *cfg.Value
		if col.Type != "" && !col.Type.IsTextual() {
			if v, err := schema.ConvertValue(*cfg.Value, col.Type); err == nil && v != nil {
				arg = v
			}
		}
		expr.SQL = "CASE WHEN " + cond + " THEN " + d.Placeholder(1) + " ELSE " + ref + " END"
		expr.Args = []any{arg}
		expr.NullGuard = false

	case KindConcatenate:
		parts := []string{textOf(d, ref)}
		n := 0
		for _, c := range cfg.Columns {
			if cfg.Separator != "" {
				n++
				parts = append(parts, d.Cast(d.Placeholder(n), schema.TypeText))
				expr.Args = append(expr.Args, cfg.Separator)
			}
			parts = append(parts, textOf(d, d.QuoteIdent(c)))
		}
		expr.SQL = d.Concat(parts...)

	case KindCaseChange:
		if cfg.Case == "upper" {
			expr.SQL = d.Upper(ref)
		} else {
			expr.SQL = d.Lower(ref)
		}

	case KindTrim:
		expr.SQL = d.Trim(ref)

	case KindDateFormat:
		expr.SQL = d.FormatDate(ref, cfg.Format)
	}
	return expr, nil
}

func textOf(d adapters.Dialect, ref string) string {
	return "COALESCE(" + d.Cast(ref, schema.TypeText) + ", '')"
}
