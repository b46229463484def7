package transform

import (
	"fmt"
	"strings"

	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
	"github.com/ruslano69/tdtp-migrator/pkg/security"
)

// Kind - вариант трансформации колонки
type Kind string

const (
	KindTypeConversion   Kind = "type-conversion"
	KindCustomExpression Kind = "custom-expression"
	KindExcludeColumn    Kind = "exclude-column"
	KindDefaultValue     Kind = "default-value"
	KindConcatenate      Kind = "concatenate"
	KindCaseChange       Kind = "case-change"
	KindTrim             Kind = "trim"
	KindDateFormat       Kind = "date-format"
)

// ColumnPlaceholder - подстановка колонки в custom-expression
const ColumnPlaceholder = "{{column}}"

// Config - параметры одной трансформации.
// Какие поля обязательны, зависит от Type.
type Config struct {
	Type Kind `yaml:"type" json:"type"`

	// type-conversion
	TargetType schema.DataType `yaml:"target_type,omitempty" json:"targetType,omitempty"`

	// custom-expression: SQL-шаблон с {{column}}
	Expression string `yaml:"expression,omitempty" json:"expression,omitempty"`

	// default-value
	Value *string `yaml:"value,omitempty" json:"value,omitempty"`

	// concatenate: дополнительные колонки источника и разделитель
	Columns   []string `yaml:"columns,omitempty" json:"columns,omitempty"`
	Separator string   `yaml:"separator,omitempty" json:"separator,omitempty"`

	// case-change: upper | lower
	Case string `yaml:"case,omitempty" json:"case,omitempty"`

	// date-format: шаблон из токенов YYYY MM DD HH mm ss
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// ConfigError - некорректные параметры трансформации.
// Возвращается при построении плана миграции, до начала загрузки.
type ConfigError struct {
	Kind    Kind
	Column  string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("invalid %s transformation for column %s: %s", e.Kind, e.Column, e.Message)
	}
	return fmt.Sprintf("invalid %s transformation: %s", e.Kind, e.Message)
}

var exprValidator = security.NewExpressionValidator()

// Validate проверяет обязательные параметры
func (c Config) Validate() error {
	fail := func(format string, args ...any) error {
		return &ConfigError{Kind: c.Type, Message: fmt.Sprintf(format, args...)}
	}

	switch c.Type {
	case KindTypeConversion:
		if c.TargetType == "" {
			return fail("target type is required")
		}
		if !knownType(c.TargetType) {
			return fail("unknown target type %q", c.TargetType)
		}
	case KindCustomExpression:
		if strings.TrimSpace(c.Expression) == "" {
			return fail("expression is required")
		}
		if !strings.Contains(c.Expression, ColumnPlaceholder) {
			return fail("expression must reference %s", ColumnPlaceholder)
		}
		if err := exprValidator.Validate(c.Expression); err != nil {
			return fail("%v", err)
		}
	case KindDefaultValue:
		if c.Value == nil {
			return fail("value is required")
		}
	case KindConcatenate:
		if len(c.Columns) == 0 {
			return fail("at least one additional column is required")
		}
		for _, col := range c.Columns {
			if err := security.ValidateIdentifier(col); err != nil {
				return fail("%v", err)
			}
		}
	case KindCaseChange:
		if c.Case != "upper" && c.Case != "lower" {
			return fail("case must be upper or lower, got %q", c.Case)
		}
	case KindDateFormat:
		if strings.TrimSpace(c.Format) == "" {
			return fail("format is required")
		}
	case KindExcludeColumn, KindTrim:
	case "":
		return &ConfigError{Message: "transformation type is required"}
	default:
		return fail("unknown transformation type")
	}
	return nil
}

func knownType(t schema.DataType) bool {
	switch t {
	case schema.TypeInteger, schema.TypeBigInt, schema.TypeReal, schema.TypeDecimal,
		schema.TypeText, schema.TypeBoolean, schema.TypeDate, schema.TypeTime,
		schema.TypeTimestamp, schema.TypeTimestampTZ, schema.TypeBinary,
		schema.TypeUUID, schema.TypeJSON, schema.TypeObjectID:
		return true
	}
	return false
}

// Excludes - true если колонка не попадает в цель
func (c *Config) Excludes() bool {
	return c != nil && c.Type == KindExcludeColumn
}
