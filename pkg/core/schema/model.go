package schema

import "strings"

// Column - нормализованное описание колонки
type Column struct {
	Name         string   `json:"name" yaml:"name"`
	Schema       string   `json:"schema,omitempty" yaml:"schema,omitempty"`
	DataType     string   `json:"dataType" yaml:"data_type"`
	Type         DataType `json:"normalizedType" yaml:"type"`
	Nullable     bool     `json:"nullable" yaml:"nullable"`
	IsPrimaryKey bool     `json:"isPrimaryKey" yaml:"primary_key"`
	MaxLength    int      `json:"maxLength,omitempty" yaml:"max_length,omitempty"`
	Default      *string  `json:"default,omitempty" yaml:"default,omitempty"`
}

// Table - таблица (или коллекция документного хранилища)
type Table struct {
	Name    string   `json:"name" yaml:"name"`
	Schema  string   `json:"schema,omitempty" yaml:"schema,omitempty"`
	Columns []Column `json:"columns" yaml:"columns"`
}

// Column ищет колонку по имени (без учета регистра)
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return Column{}, false
}

// PrimaryKey возвращает колонки первичного ключа в порядке объявления
func (t *Table) PrimaryKey() []Column {
	var pk []Column
	for _, c := range t.Columns {
		if c.IsPrimaryKey {
			pk = append(pk, c)
		}
	}
	return pk
}

// Database - результат discovery одного подключения
type Database struct {
	Kind   EngineKind `json:"kind"`
	Name   string     `json:"name"`
	Tables []Table    `json:"tables"`
}

// Table ищет таблицу по имени (без учета регистра)
func (d *Database) Table(name string) (*Table, bool) {
	for i := range d.Tables {
		if strings.EqualFold(d.Tables[i].Name, name) {
			return &d.Tables[i], true
		}
	}
	return nil, false
}

// IsEmpty - в базе не найдено ни одной таблицы
func (d *Database) IsEmpty() bool {
	return len(d.Tables) == 0
}
