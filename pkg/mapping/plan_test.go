package mapping

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/transform"
)

func tm(name string, deps ...string) TableMapping {
	return TableMapping{
		SourceTable: name,
		TargetTable: name,
		DependsOn:   deps,
		Columns:     []ColumnMapping{{SourceColumn: "id", IsPrimaryKey: true}},
	}
}

func names(level []TableMapping) string {
	var out []string
	for _, t := range level {
		out = append(out, t.SourceTable)
	}
	return strings.Join(out, ",")
}

func TestLevels(t *testing.T) {
	levels, err := Levels([]TableMapping{
		tm("orders", "countries", "products"),
		tm("products"),
		tm("countries"),
		tm("order_lines", "orders", "products"),
	})
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}

	want := []string{"countries,products", "orders", "order_lines"}
	if len(levels) != len(want) {
		t.Fatalf("expected %d levels, got %d", len(want), len(levels))
	}
	for i, l := range levels {
		if names(l) != want[i] {
			t.Errorf("level %d = %s, want %s", i, names(l), want[i])
		}
	}
}

func TestLevels_LoadOrderWithinLevel(t *testing.T) {
	a, b := tm("a"), tm("b")
	a.LoadOrder, b.LoadOrder = 2, 1

	levels, err := Levels([]TableMapping{a, b})
	if err != nil {
		t.Fatalf("Levels: %v", err)
	}
	if names(levels[0]) != "b,a" {
		t.Errorf("expected load order b,a, got %s", names(levels[0]))
	}
}

func TestLevels_Cycle(t *testing.T) {
	_, err := Levels([]TableMapping{tm("a", "c"), tm("b", "a"), tm("c", "b"), tm("d")})
	if !errors.Is(err, ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if !strings.Contains(err.Error(), "a, b, c") {
		t.Errorf("error should name the cycle members: %v", err)
	}

	if _, err := Levels([]TableMapping{tm("a", "a")}); !errors.Is(err, ErrCycle) {
		t.Errorf("self dependency must be a cycle, got %v", err)
	}
}

func TestInferRoles(t *testing.T) {
	tables := []TableMapping{tm("countries"), tm("orders", "countries"), tm("lines", "orders")}
	InferRoles(tables)

	want := []Role{RoleDimension, RoleDimension, RoleFact}
	for i, r := range want {
		if tables[i].Role != r {
			t.Errorf("%s: role = %s, want %s", tables[i].SourceTable, tables[i].Role, r)
		}
	}
}

func project(tables ...TableMapping) *Project {
	return &Project{
		ID:     "p1",
		Source: adapters.Connection{ID: "src", Engine: "sqlite", Database: "src.db"},
		Target: adapters.Connection{ID: "dst", Engine: "sqlite", Database: "dst.db"},
		Tables: tables,
	}
}

func TestProjectValidate(t *testing.T) {
	orders := tm("orders")
	orders.Columns = append(orders.Columns, ColumnMapping{SourceColumn: "country_id", References: "countries"})

	p := project(tm("countries"), orders)
	if err := p.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := p.Tables[1].DependsOn; len(got) != 1 || got[0] != "countries" {
		t.Errorf("reference must become a dependency, got %v", got)
	}
	if p.Tables[1].Role != RoleFact || p.Tables[0].Role != RoleDimension {
		t.Errorf("unexpected roles: %s %s", p.Tables[0].Role, p.Tables[1].Role)
	}
	if p.Tables[1].Columns[1].TargetColumn != "country_id" {
		t.Error("empty target column defaults to the source name")
	}
}

func TestProjectValidate_Errors(t *testing.T) {
	badTransform := tm("a")
	badTransform.Columns[0].Transformation = &transform.Config{Type: transform.KindTypeConversion}

	dupTarget := tm("a")
	dupTarget.Columns = append(dupTarget.Columns, ColumnMapping{SourceColumn: "other", TargetColumn: "id"})

	badIdent := tm("a")
	badIdent.TargetTable = "a;drop"

	dimOnFact := tm("d", "f")
	dimOnFact.Role = RoleDimension
	fact := tm("f", "x")
	fact.Role = RoleFact

	tests := []struct {
		name    string
		p       *Project
		errPart string
	}{
		{"no tables", project(), "no table mappings"},
		{"unknown dependency", project(tm("a", "ghost")), "unmapped table ghost"},
		{"cycle", project(tm("a", "b"), tm("b", "a")), "cycle"},
		{"transformation", project(badTransform), "target type is required"},
		{"duplicate target", project(dupTarget), "assigned to both"},
		{"identifier", project(badIdent), "forbidden characters"},
		{"dimension on fact", project(dimOnFact, fact, tm("x")), "cannot depend on fact"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("expected error containing %q, got %v", tt.errPart, err)
			}
		})
	}

	var ce *transform.ConfigError
	if err := project(badTransform).Validate(); !errors.As(err, &ce) || ce.Column != "id" {
		t.Errorf("expected ConfigError naming column id, got %v", err)
	}
}

const projectYAML = `
connections:
  - id: src
    engine: postgres
    host: localhost
    database: shop
    role: source
  - id: dst
    engine: mysql
    host: localhost
    database: dwh
    role: target
projects:
  - id: shop
    source: src
    target: dst
    tables:
      - id: countries
        source: countries
        target: dim_country
        columns:
          - {source: id, target: country_id, primary_key: true}
          - {source: name, target: name}
      - id: orders
        source: orders
        target: fact_orders
        target_key: order_id
        columns:
          - {source: id, primary_key: true}
          - {source: country_id, references: countries}
          - source: note
            transformation: {type: trim}
`

func TestYAMLRepository_LoadProject(t *testing.T) {
	repo, err := ReadYAML(strings.NewReader(projectYAML))
	if err != nil {
		t.Fatalf("ReadYAML: %v", err)
	}

	p, err := LoadProject(context.Background(), repo, "shop")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if p.Source.Engine != "postgres" || p.Target.Database != "dwh" {
		t.Errorf("connections not resolved: %+v %+v", p.Source, p.Target)
	}
	if len(p.Tables) != 2 || len(p.Tables[1].Columns) != 3 {
		t.Fatalf("unexpected tables: %+v", p.Tables)
	}
	orders := p.Tables[1]
	if orders.Role != RoleFact || orders.TargetKey != "order_id" {
		t.Errorf("unexpected orders mapping: %+v", orders)
	}
	if orders.Columns[2].Transformation == nil || orders.Columns[2].Transformation.Type != transform.KindTrim {
		t.Errorf("transformation not parsed: %+v", orders.Columns[2])
	}

	if _, err := LoadProject(context.Background(), repo, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestWriteYAML_RoundTrip(t *testing.T) {
	repo, _ := ReadYAML(strings.NewReader(projectYAML))
	p, err := LoadProject(context.Background(), repo, "shop")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}

	var sb strings.Builder
	if err := WriteYAML(&sb, p); err != nil {
		t.Fatalf("WriteYAML: %v", err)
	}
	again, err := ReadYAML(strings.NewReader(sb.String()))
	if err != nil {
		t.Fatalf("ReadYAML: %v\n%s", err, sb.String())
	}
	if _, err := LoadProject(context.Background(), again, "shop"); err != nil {
		t.Errorf("written project must load again: %v", err)
	}
}
