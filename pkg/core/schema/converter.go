package schema

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ValidationError ошибка конвертации значения
type ValidationError struct {
	Type    DataType
	Message string
	Value   any
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("cannot convert %v to %s: %s", e.Value, e.Type, e.Message)
}

// Форматы, которые принимаются при разборе дат из строк
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"15:04:05",
}

// ParseTime разбирает строку в time.Time по известным форматам
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format: %q", s)
}

// ConvertValue приводит значение к нормализованному типу.
// nil остается nil, пустая строка для нетекстовых типов считается NULL.
func ConvertValue(v any, t DataType) (any, error) {
	if v == nil {
		return nil, nil
	}
	if s, ok := v.(string); ok && s == "" && !t.IsTextual() {
		return nil, nil
	}

	switch t {
	case TypeInteger, TypeBigInt:
		return toInt(v, t)
	case TypeReal:
		return toFloat(v, t)
	case TypeDecimal:
		// DECIMAL держим строкой, чтобы не терять точность
		switch x := v.(type) {
		case string:
			if _, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err != nil {
				return nil, &ValidationError{Type: t, Message: "invalid decimal", Value: v}
			}
			return strings.TrimSpace(x), nil
		default:
			f, err := toFloat(v, t)
			if err != nil {
				return nil, err
			}
			return strconv.FormatFloat(f.(float64), 'f', -1, 64), nil
		}
	case TypeBoolean:
		return toBool(v, t)
	case TypeDate, TypeTime, TypeTimestamp, TypeTimestampTZ:
		return toTime(v, t)
	case TypeBinary:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			if b, err := base64.StdEncoding.DecodeString(x); err == nil {
				return b, nil
			}
			return []byte(x), nil
		}
		return nil, &ValidationError{Type: t, Message: "unsupported source value", Value: v}
	default:
		return ToText(v), nil
	}
}

// ToText - текстовое представление значения
func ToText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func toInt(v any, t DataType) (any, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != float64(int64(x)) {
			return nil, &ValidationError{Type: t, Message: "fractional value", Value: v}
		}
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case []byte:
		return toInt(string(x), t)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return nil, &ValidationError{Type: t, Message: "invalid integer", Value: v}
		}
		return n, nil
	}
	return nil, &ValidationError{Type: t, Message: "unsupported source value", Value: v}
}

func toFloat(v any, t DataType) (any, error) {
	switch x := v.(type) {
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	case []byte:
		return toFloat(string(x), t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, &ValidationError{Type: t, Message: "invalid number", Value: v}
		}
		return f, nil
	}
	return nil, &ValidationError{Type: t, Message: "unsupported source value", Value: v}
}

func toBool(v any, t DataType) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case float64:
		return x != 0, nil
	case []byte:
		return toBool(string(x), t)
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "t", "true", "y", "yes", "on":
			return true, nil
		case "0", "f", "false", "n", "no", "off":
			return false, nil
		}
		return nil, &ValidationError{Type: t, Message: "invalid boolean", Value: v}
	}
	return nil, &ValidationError{Type: t, Message: "unsupported source value", Value: v}
}

func toTime(v any, t DataType) (any, error) {
	var tm time.Time
	switch x := v.(type) {
	case time.Time:
		tm = x
	case []byte:
		return toTime(string(x), t)
	case string:
		parsed, err := ParseTime(x)
		if err != nil {
			return nil, &ValidationError{Type: t, Message: err.Error(), Value: v}
		}
		tm = parsed
	case int64:
		tm = time.Unix(x, 0).UTC()
	default:
		return nil, &ValidationError{Type: t, Message: "unsupported source value", Value: v}
	}

	if t == TypeDate {
		y, m, d := tm.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, tm.Location()), nil
	}
	return tm, nil
}
