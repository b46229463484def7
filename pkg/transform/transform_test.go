package transform

import (
	"errors"
	"strings"
	"testing"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/adapters/base"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
)

func strp(s string) *string { return &s }

func TestApply_TypeConversion(t *testing.T) {
	got, err := Apply("42", Config{Type: KindTypeConversion, TargetType: schema.TypeInteger})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got != int64(42) {
		t.Errorf("expected int64(42), got %T %v", got, got)
	}
}

func TestApplyRow_ExcludeRemovesKey(t *testing.T) {
	row := map[string]any{"id": 1, "secret": "x"}
	if err := ApplyRow(row, "secret", Config{Type: KindExcludeColumn}); err != nil {
		t.Fatalf("ApplyRow: %v", err)
	}
	if _, ok := row["secret"]; ok {
		t.Error("excluded column must not be present in the row")
	}
	if len(row) != 1 {
		t.Errorf("other columns must stay, got %v", row)
	}
}

func TestApply_DefaultValue(t *testing.T) {
	cfg := Config{Type: KindDefaultValue, Value: strp("n/a")}

	tests := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, "n/a"},
		{"empty string", "", "n/a"},
		{"zero", 0, 0},
		{"false", false, false},
		{"space", " ", " "},
		{"value", "abc", "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Apply(tt.in, cfg)
			if err != nil {
				t.Fatalf("Apply: %v", err)
			}
			if got != tt.want {
				t.Errorf("Apply(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	row := map[string]any{}
	if err := ApplyRow(row, "absent", cfg); err != nil {
		t.Fatalf("ApplyRow: %v", err)
	}
	if row["absent"] != "n/a" {
		t.Errorf("absent key must receive default, got %v", row["absent"])
	}
}

func TestApply_StringTransforms(t *testing.T) {
	up, _ := Apply("MiXed", Config{Type: KindCaseChange, Case: "upper"})
	low, _ := Apply("MiXed", Config{Type: KindCaseChange, Case: "lower"})
	trimmed, _ := Apply("  x  ", Config{Type: KindTrim})
	date, err := Apply("2024-03-05T10:20:30Z", Config{Type: KindDateFormat, Format: "DD.MM.YYYY"})
	if err != nil {
		t.Fatalf("date-format: %v", err)
	}

	if up != "MIXED" || low != "mixed" || trimmed != "x" || date != "05.03.2024" {
		t.Errorf("unexpected results: %v %v %q %v", up, low, trimmed, date)
	}
}

func TestApplyRow_Concatenate(t *testing.T) {
	row := map[string]any{"first": "Ada", "last": "Lovelace"}
	cfg := Config{Type: KindConcatenate, Columns: []string{"last"}, Separator: " "}
	if err := ApplyRow(row, "first", cfg); err != nil {
		t.Fatalf("ApplyRow: %v", err)
	}
	if row["first"] != "Ada Lovelace" {
		t.Errorf("got %v", row["first"])
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"type conversion without target", Config{Type: KindTypeConversion}, true},
		{"type conversion", Config{Type: KindTypeConversion, TargetType: schema.TypeBigInt}, false},
		{"empty expression", Config{Type: KindCustomExpression, Expression: " "}, true},
		{"expression without placeholder", Config{Type: KindCustomExpression, Expression: "1 + 1"}, true},
		{"dangerous expression", Config{Type: KindCustomExpression, Expression: "{{column}}; DROP TABLE x"}, true},
		{"expression", Config{Type: KindCustomExpression, Expression: "{{column}} * 2"}, false},
		{"default without value", Config{Type: KindDefaultValue}, true},
		{"bad case", Config{Type: KindCaseChange, Case: "title"}, true},
		{"concat without columns", Config{Type: KindConcatenate}, true},
		{"date without format", Config{Type: KindDateFormat}, true},
		{"unknown", Config{Type: "rot13"}, true},
		{"missing type", Config{}, true},
		{"trim", Config{Type: KindTrim}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			var ce *ConfigError
			if err != nil && !errors.As(err, &ce) {
				t.Errorf("expected *ConfigError, got %T", err)
			}
		})
	}
}

func TestToSQLExpression(t *testing.T) {
	pg := base.Postgres{}
	lite := base.SQLite{}

	tests := []struct {
		name      string
		d         adapters.Dialect
		col       ColumnRef
		cfg       Config
		wantSQL   string
		wantArgs  int
		nullGuard bool
	}{
		{"cast", pg, ColumnRef{Name: "qty", Type: schema.TypeText},
			Config{Type: KindTypeConversion, TargetType: schema.TypeInteger}, `CAST("qty" AS INTEGER)`, 0, true},
		{"custom", lite, ColumnRef{Name: "price"},
			Config{Type: KindCustomExpression, Expression: "{{column}} * 100"}, `("price" * 100)`, 0, true},
		{"upper", lite, ColumnRef{Name: "code"}, Config{Type: KindCaseChange, Case: "upper"}, `UPPER("code")`, 0, true},
		{"trim", lite, ColumnRef{Name: "code"}, Config{Type: KindTrim}, `TRIM("code")`, 0, true},
		{"default text", pg, ColumnRef{Name: "city", Type: schema.TypeText}, Config{Type: KindDefaultValue, Value: strp("n/a")},
			`CASE WHEN "city" IS NULL OR "city" = '' THEN $1 ELSE "city" END`, 1, false},
		{"default numeric", pg, ColumnRef{Name: "qty", Type: schema.TypeInteger}, Config{Type: KindDefaultValue, Value: strp("0")},
			`CASE WHEN "qty" IS NULL THEN $1 ELSE "qty" END`, 1, false},
		{"concat", lite, ColumnRef{Name: "first", Type: schema.TypeText},
			Config{Type: KindConcatenate, Columns: []string{"last"}, Separator: " "},
			`(COALESCE(CAST("first" AS TEXT), '') || CAST(? AS TEXT) || COALESCE(CAST("last" AS TEXT), ''))`, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expr, err := ToSQLExpression(tt.col, tt.cfg, tt.d)
			if err != nil {
				t.Fatalf("ToSQLExpression: %v", err)
			}
			if expr.SQL != tt.wantSQL {
				t.Errorf("SQL:\n got  %s\n want %s", expr.SQL, tt.wantSQL)
			}
			if len(expr.Args) != tt.wantArgs {
				t.Errorf("args = %v, want %d", expr.Args, tt.wantArgs)
			}
			if expr.NullGuard != tt.nullGuard {
				t.Errorf("NullGuard = %v, want %v", expr.NullGuard, tt.nullGuard)
			}
		})
	}
}

func TestToSQLExpression_Exclude(t *testing.T) {
	expr, err := ToSQLExpression(ColumnRef{Name: "x"}, Config{Type: KindExcludeColumn}, base.SQLite{})
	if err != nil || !expr.Excluded || expr.SQL != "" {
		t.Errorf("expected excluded expression, got %+v, %v", expr, err)
	}
}

func TestToSQLExpression_InvalidConfigNamesColumn(t *testing.T) {
	_, err := ToSQLExpression(ColumnRef{Name: "qty"}, Config{Type: KindTypeConversion}, base.SQLite{})
	if err == nil || !strings.Contains(err.Error(), "qty") {
		t.Errorf("expected error naming the column, got %v", err)
	}
}

func TestMatrix_Lookup(t *testing.T) {
	m := DefaultMatrix()

	c := m.Lookup(schema.KindPostgres, schema.KindMySQL, schema.TypeInteger)
	if c.TargetType != schema.TypeInteger || c.RequiresTransformation {
		t.Errorf("integer must map as is, got %+v", c)
	}

	c = m.Lookup(schema.KindPostgres, schema.KindMySQL, schema.TypeTimestampTZ)
	if c.TargetType != schema.TypeTimestamp || !c.RequiresTransformation {
		t.Errorf("timestamptz to mysql must require conversion, got %+v", c)
	}

	c = m.Lookup(schema.KindMongoDB, schema.KindPostgres, schema.TypeObjectID)
	if c.TargetType != schema.TypeText || c.RequiresTransformation {
		t.Errorf("objectid must map to text, got %+v", c)
	}

	c = m.Lookup(schema.KindPostgres, schema.KindCouchDB, "geometry")
	if c.TargetType != schema.TypeText {
		t.Errorf("unknown type must fall back to text, got %+v", c)
	}

	if cfg := m.SuggestTransformation(schema.KindPostgres, schema.KindCouchDB, schema.TypeDate); cfg == nil || cfg.TargetType != schema.TypeText {
		t.Errorf("date to couchdb must suggest a conversion, got %+v", cfg)
	}
}
