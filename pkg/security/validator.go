package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ExpressionValidator проверяет пользовательские SQL-выражения трансформаций.
//
// Выражение подставляется в UPDATE ... SET col = <expr>, поэтому разрешено
// только скалярное выражение: без нескольких команд, комментариев,
// подзапросов-модификаторов и DDL/DML ключевых слов.
type ExpressionValidator struct {
	forbidden []string
}

// NewExpressionValidator создает валидатор со стандартным списком запретов
func NewExpressionValidator() *ExpressionValidator {
	return &ExpressionValidator{
		forbidden: []string{
			// DML
			"INSERT", "UPDATE", "DELETE", "TRUNCATE", "MERGE", "SELECT",

			// DDL
			"DROP", "CREATE", "ALTER", "RENAME",

			// DCL
			"GRANT", "REVOKE",

			"EXECUTE", "EXEC", "CALL",
			"PRAGMA", "ATTACH", "DETACH",
			"BEGIN", "COMMIT", "ROLLBACK",
		},
	}
}

// Validate проверяет выражение
func (v *ExpressionValidator) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("expression is empty")
	}
	if strings.Contains(expr, ";") {
		return fmt.Errorf("multiple statements not allowed in expression")
	}
	if strings.Contains(expr, "--") {
		return fmt.Errorf("SQL comments (--) not allowed in expression")
	}
	if strings.Contains(expr, "/*") || strings.Contains(expr, "*/") {
		return fmt.Errorf("SQL comments (/* */) not allowed in expression")
	}

	// ключевые слова ищем только вне строковых литералов
	words := strings.FieldsFunc(strings.ToUpper(stripLiterals(expr)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	for _, w := range words {
		for _, keyword := range v.forbidden {
			if w == keyword {
				return fmt.Errorf("forbidden keyword '%s' found in expression", keyword)
			}
		}
	}
	return nil
}

// stripLiterals заменяет содержимое '...' литералов пробелами
func stripLiterals(s string) string {
	var b strings.Builder
	inLiteral := false
	for _, r := range s {
		if r == '\'' {
			inLiteral = !inLiteral
			b.WriteRune(r)
			continue
		}
		if inLiteral {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$ \-]*$`)

// ValidateIdentifier проверяет имя таблицы, схемы или колонки из конфигурации.
// Имена все равно экранируются диалектом, проверка отсекает явный мусор.
func ValidateIdentifier(name string) error {
	if name == "" {
		return fmt.Errorf("identifier is empty")
	}
	if len(name) > 128 {
		return fmt.Errorf("identifier %q is longer than 128 characters", name)
	}
	if !identRe.MatchString(name) {
		return fmt.Errorf("identifier %q contains forbidden characters", name)
	}
	return nil
}
