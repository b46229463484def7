package transform

import (
	"errors"
	"strings"
	"time"

	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

// ErrExcluded возвращается Apply для exclude-column
var ErrExcluded = errors.New("column is excluded")

// Apply выполняет трансформацию над одним значением (preview / dry-run).
// custom-expression вычисляется только в СУБД, значение возвращается без изменений.
func Apply(v any, cfg Config) (any, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case KindExcludeColumn:
		return nil, ErrExcluded

	case KindTypeConversion:
		return schema.ConvertValue(v, cfg.TargetType)

	case KindDefaultValue:
		if isBlank(v) {
			return *cfg.Value, nil
		}
		return v, nil

	case KindCaseChange:
		s, ok := v.(string)
		if !ok {
			return v, nil
		}
		if cfg.Case == "upper" {
			return strings.ToUpper(s), nil
		}
		return strings.ToLower(s), nil

	case KindTrim:
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s), nil
		}
		return v, nil

	case KindDateFormat:
		if v == nil {
			return nil, nil
		}
		t, err := schema.ConvertValue(v, schema.TypeTimestamp)
		if err != nil {
			return nil, err
		}
		if t == nil {
			return nil, nil
		}
		return t.(time.Time).Format(GoLayout(cfg.Format)), nil

	case KindConcatenate:
		if v == nil {
			return nil, nil
		}
		return schema.ToText(v), nil
	}
	return v, nil
}

// ApplyRow применяет трансформацию к колонке строки.
// exclude-column удаляет ключ, concatenate берет остальные части из row.
func ApplyRow(row map[string]any, column string, cfg Config) error {
	if cfg.Type == KindConcatenate {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if row[column] == nil {
			return nil
		}
		parts := []string{schema.ToText(row[column])}
		for _, c := range cfg.Columns {
			parts = append(parts, schema.ToText(row[c]))
		}
		row[column] = strings.Join(parts, cfg.Separator)
		return nil
	}

	v, err := Apply(row[column], cfg)
	if errors.Is(err, ErrExcluded) {
		delete(row, column)
		return nil
	}
	if err != nil {
		return err
	}
	row[column] = v
	return nil
}

// isBlank - null, отсутствующее значение или пустая строка.
// 0 и false пустыми не считаются.
func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// GoLayout переводит шаблон YYYY-MM-DD HH:mm:ss в layout пакета time
func GoLayout(format string) string {
	return strings.NewReplacer(
		"YYYY", "2006", "MM", "01", "DD", "02",
		"HH", "15", "mm", "04", "ss", "05",
	).Replace(format)
}
