package mapping

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ruslano69/tdtp-migrator/pkg/security"
	"github.com/ruslano69/tdtp-migrator/pkg/transform"
)

// ErrCycle - граф зависимостей таблиц содержит цикл
var ErrCycle = errors.New("dependency cycle between tables")

// Validate проверяет проект перед запуском: идентификаторы, трансформации,
// зависимости и их ацикличность. Роли выводятся здесь же.
func (p *Project) Validate() error {
	if err := p.Source.Validate(); err != nil {
		return fmt.Errorf("source connection: %w", err)
	}
	if err := p.Target.Validate(); err != nil {
		return fmt.Errorf("target connection: %w", err)
	}
	if len(p.Tables) == 0 {
		return fmt.Errorf("project %s has no table mappings", p.ID)
	}

	sources := make(map[string]bool, len(p.Tables))
	for i := range p.Tables {
		t := &p.Tables[i]
		if t.ID == "" {
			t.ID = t.SourceTable
		}
		if sources[t.SourceTable] {
			return fmt.Errorf("source table %s is mapped twice", t.SourceTable)
		}
		sources[t.SourceTable] = true

		if err := t.validate(); err != nil {
			return fmt.Errorf("table %s: %w", t.SourceTable, err)
		}
	}

	for _, t := range p.Tables {
		for _, dep := range t.DependsOn {
			if !sources[dep] {
				return fmt.Errorf("table %s depends on unmapped table %s", t.SourceTable, dep)
			}
		}
		for _, c := range t.References() {
			if !sources[c.References] {
				return fmt.Errorf("column %s.%s references unmapped table %s", t.SourceTable, c.SourceColumn, c.References)
			}
		}
	}

	if _, err := Levels(p.Tables); err != nil {
		return err
	}
	InferRoles(p.Tables)

	// измерения грузятся раньше фактов, обратная зависимость невыполнима
	for _, t := range p.Tables {
		if t.Role != RoleDimension {
			continue
		}
		for _, dep := range t.DependsOn {
			if d, _ := p.Table(dep); d.Role == RoleFact {
				return fmt.Errorf("dimension %s cannot depend on fact %s", t.SourceTable, dep)
			}
		}
	}
	return nil
}

func (t *TableMapping) validate() error {
	for _, name := range []string{t.SourceTable, t.TargetTable} {
		if err := security.ValidateIdentifier(name); err != nil {
			return err
		}
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("no column mappings")
	}
	if t.Role != "" && t.Role != RoleDimension && t.Role != RoleFact {
		return fmt.Errorf("unknown role %q", t.Role)
	}

	targets := make(map[string]string)
	for i := range t.Columns {
		c := &t.Columns[i]
		if err := security.ValidateIdentifier(c.SourceColumn); err != nil {
			return err
		}
		if c.Transformation != nil {
			if err := c.Transformation.Validate(); err != nil {
				var ce *transform.ConfigError
				if errors.As(err, &ce) {
					ce.Column = c.SourceColumn
				}
				return err
			}
		}
		if c.Excluded() {
			continue
		}
		if c.TargetColumn == "" {
			c.TargetColumn = c.SourceColumn
		}
		if err := security.ValidateIdentifier(c.TargetColumn); err != nil {
			return err
		}
		if prev, ok := targets[c.TargetColumn]; ok {
			return fmt.Errorf("target column %s is assigned to both %s and %s", c.TargetColumn, prev, c.SourceColumn)
		}
		targets[c.TargetColumn] = c.SourceColumn
		if c.References != "" && !containsFold(t.DependsOn, c.References) {
			t.DependsOn = append(t.DependsOn, c.References)
		}
	}

	if t.TargetKey != "" {
		if _, ok := t.KeyColumn(); !ok {
			return fmt.Errorf("target key %s requires a source primary key column", t.TargetKey)
		}
	}
	return nil
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Levels раскладывает таблицы по уровням топологической сортировки.
// Таблицы одного уровня не зависят друг от друга; уровень i+1 грузится после i.
// Внутри уровня порядок по LoadOrder, затем по имени.
func Levels(tables []TableMapping) ([][]TableMapping, error) {
	index := make(map[string]int, len(tables))
	for i, t := range tables {
		index[t.SourceTable] = i
	}

	indegree := make([]int, len(tables))
	dependents := make([][]int, len(tables))
	for i, t := range tables {
		for _, dep := range t.DependsOn {
			j, ok := index[dep]
			if !ok {
				continue
			}
			if j == i {
				return nil, fmt.Errorf("%w: %s depends on itself", ErrCycle, t.SourceTable)
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	var current []int
	for i, d := range indegree {
		if d == 0 {
			current = append(current, i)
		}
	}

	var levels [][]TableMapping
	placed := 0
	for len(current) > 0 {
		sort.Slice(current, func(a, b int) bool {
			ta, tb := tables[current[a]], tables[current[b]]
			if ta.LoadOrder != tb.LoadOrder {
				return ta.LoadOrder < tb.LoadOrder
			}
			return ta.SourceTable < tb.SourceTable
		})

		level := make([]TableMapping, 0, len(current))
		var next []int
		for _, i := range current {
			level = append(level, tables[i])
			placed++
			for _, k := range dependents[i] {
				indegree[k]--
				if indegree[k] == 0 {
					next = append(next, k)
				}
			}
		}
		levels = append(levels, level)
		current = next
	}

	if placed != len(tables) {
		var stuck []string
		for i, d := range indegree {
			if d > 0 {
				stuck = append(stuck, tables[i].SourceTable)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(stuck, ", "))
	}
	return levels, nil
}

// InferRoles заполняет пустые роли: таблица без зависимостей или та,
// от которой кто-то зависит, считается измерением, остальные фактами.
func InferRoles(tables []TableMapping) {
	dependedOn := make(map[string]bool)
	for _, t := range tables {
		for _, dep := range t.DependsOn {
			dependedOn[dep] = true
		}
	}
	for i := range tables {
		if tables[i].Role != "" {
			continue
		}
		if len(tables[i].DependsOn) == 0 || dependedOn[tables[i].SourceTable] {
			tables[i].Role = RoleDimension
		} else {
			tables[i].Role = RoleFact
		}
	}
}

// Flatten возвращает таблицы в порядке загрузки
func Flatten(levels [][]TableMapping) []TableMapping {
	var out []TableMapping
	for _, l := range levels {
		out = append(out, l...)
	}
	return out
}
