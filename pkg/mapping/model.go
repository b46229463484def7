package mapping

import (
	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
	"github.com/ruslano69/tdtp-migrator/pkg/transform"
)

// Role - роль таблицы в порядке загрузки
type Role string

const (
	RoleDimension Role = "dimension"
	RoleFact      Role = "fact"
)

// ColumnMapping - соответствие колонки источника колонке цели
type ColumnMapping struct {
	SourceColumn string          `yaml:"source" json:"sourceColumn"`
	TargetColumn string          `yaml:"target" json:"targetColumn"`
	SourceType   schema.DataType `yaml:"source_type,omitempty" json:"sourceType,omitempty"`
	TargetType   schema.DataType `yaml:"target_type,omitempty" json:"targetType,omitempty"`
	Nullable     bool            `yaml:"nullable" json:"nullable"`
	IsPrimaryKey bool            `yaml:"primary_key,omitempty" json:"isPrimaryKey,omitempty"`

	// References - таблица-источник измерения, на ключ которой ссылается колонка.
	// Значение переписывается через ID mapping при загрузке фактов.
	References string `yaml:"references,omitempty" json:"references,omitempty"`

	// DefaultValue - объявленное значение по умолчанию целевой колонки
	DefaultValue *string `yaml:"default,omitempty" json:"defaultValue,omitempty"`

	Transformation *transform.Config `yaml:"transformation,omitempty" json:"transformation,omitempty"`

	// Confidence заполняется только автоподбором
	Confidence float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

// Excluded - колонка не переносится
func (c ColumnMapping) Excluded() bool {
	return c.Transformation.Excludes()
}

// Transformed - у колонки есть трансформация, дающая новое значение
func (c ColumnMapping) Transformed() bool {
	return c.Transformation != nil && !c.Excluded()
}

// TableMapping - соответствие таблицы источника таблице цели
type TableMapping struct {
	ID           string `yaml:"id" json:"id"`
	SourceTable  string `yaml:"source" json:"sourceTable"`
	SourceSchema string `yaml:"source_schema,omitempty" json:"sourceSchema,omitempty"`
	TargetTable  string `yaml:"target" json:"targetTable"`
	TargetSchema string `yaml:"target_schema,omitempty" json:"targetSchema,omitempty"`
	LoadOrder    int    `yaml:"load_order,omitempty" json:"loadOrder"`

	// DependsOn - исходные таблицы, которые должны быть загружены раньше
	DependsOn []string `yaml:"depends_on,omitempty" json:"dependsOn,omitempty"`

	// Role выводится из зависимостей, если не задана
	Role Role `yaml:"role,omitempty" json:"role,omitempty"`

	// TargetKey - ключ цели, который генерирует сама СУБД (identity / autoincrement).
	// Пусто - ключ переносится из источника.
	TargetKey string `yaml:"target_key,omitempty" json:"targetKey,omitempty"`

	Columns []ColumnMapping `yaml:"columns" json:"columns"`

	Confidence float64 `yaml:"confidence,omitempty" json:"confidence,omitempty"`
}

// SourceRef возвращает ссылку на таблицу источника
func (t TableMapping) SourceRef() adapters.TableRef {
	return adapters.TableRef{Schema: t.SourceSchema, Name: t.SourceTable}
}

// TargetRef возвращает ссылку на таблицу цели
func (t TableMapping) TargetRef() adapters.TableRef {
	return adapters.TableRef{Schema: t.TargetSchema, Name: t.TargetTable}
}

// KeyColumn возвращает колонку первичного ключа источника
func (t TableMapping) KeyColumn() (ColumnMapping, bool) {
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			return c, true
		}
	}
	return ColumnMapping{}, false
}

// Loaded возвращает колонки, которые попадают в цель
func (t TableMapping) Loaded() []ColumnMapping {
	out := make([]ColumnMapping, 0, len(t.Columns))
	for _, c := range t.Columns {
		if !c.Excluded() {
			out = append(out, c)
		}
	}
	return out
}

// References возвращает колонки-ссылки на измерения
func (t TableMapping) References() []ColumnMapping {
	var out []ColumnMapping
	for _, c := range t.Columns {
		if c.References != "" && !c.Excluded() {
			out = append(out, c)
		}
	}
	return out
}

// Project - проект миграции: подключения и соответствия таблиц
type Project struct {
	ID     string              `yaml:"id" json:"id"`
	Name   string              `yaml:"name,omitempty" json:"name,omitempty"`
	Source adapters.Connection `yaml:"source" json:"source"`
	Target adapters.Connection `yaml:"target" json:"target"`
	Tables []TableMapping      `yaml:"tables" json:"tables"`
}

// Table ищет соответствие по таблице источника
func (p *Project) Table(sourceTable string) (*TableMapping, bool) {
	for i := range p.Tables {
		if p.Tables[i].SourceTable == sourceTable {
			return &p.Tables[i], true
		}
	}
	return nil, false
}

// ByRole возвращает таблицы заданной роли в исходном порядке
func (p *Project) ByRole(role Role) []TableMapping {
	var out []TableMapping
	for _, t := range p.Tables {
		if t.Role == role {
			out = append(out, t)
		}
	}
	return out
}
