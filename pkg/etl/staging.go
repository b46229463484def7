package etl

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/adapters/base"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
	"github.com/ruslano69/tdtp-migrator/pkg/transform"
)

// RowIDColumn - суррогатный ключ staging таблиц, по нему идет keyset-пагинация
const RowIDColumn = base.ServicePrefix + "row_id"

// xfPrefix - префикс колонок с результатом трансформации
const xfPrefix = "xf_"

// stagingColumn - колонка staging таблицы
type stagingColumn struct {
	Name      string
	Type      schema.DataType
	MaxLength int
}

// stagingLayout - staging таблица одного соответствия
type stagingLayout struct {
	Ref    adapters.TableRef
	Quoted string

	// Source - колонки источника в порядке чтения
	Source []stagingColumn

	// Derived - колонки xf_<target> для трансформированных колонок
	Derived []stagingColumn

	types map[string]schema.DataType
}

func (l *stagingLayout) sourceNames() []string {
	names := make([]string, len(l.Source))
	for i, c := range l.Source {
		names[i] = c.Name
	}
	return names
}

// typeOf возвращает тип колонки staging (без учета регистра)
func (l *stagingLayout) typeOf(column string) schema.DataType {
	if t, ok := l.types[strings.ToLower(column)]; ok {
		return t
	}
	return schema.TypeText
}

// valueColumn - колонка staging, из которой берется значение для цели
func valueColumn(c mapping.ColumnMapping) string {
	if c.Transformed() {
		return xfPrefix + c.TargetColumn
	}
	return c.SourceColumn
}

// derivedType - тип колонки с результатом трансформации
func derivedType(c mapping.ColumnMapping, sourceType schema.DataType) schema.DataType {
	switch {
	case c.Transformation.Type == transform.KindTypeConversion:
		return c.Transformation.TargetType
	case c.TargetType != "":
		return c.TargetType
	case c.Transformation.Type == transform.KindDefaultValue:
		return sourceType
	}
	return schema.TypeText
}

// stagingRef возвращает ссылку на staging таблицу соответствия
func (r *Run) stagingRef(t mapping.TableMapping, d adapters.Dialect) adapters.TableRef {
	ref := adapters.TableRef{Name: r.Config.Staging.TablePrefix + t.SourceTable}
	if d.SupportsSchemas() {
		ref.Schema = r.Config.Staging.SchemaName
	}
	return ref
}

// qualify экранирует ссылку, подставляя схему движка по умолчанию
func qualify(e adapters.SQLEngine, ref adapters.TableRef) string {
	if ref.Schema == "" && e.Dialect().SupportsSchemas() {
		ref.Schema = e.DefaultSchema()
	}
	return e.Dialect().Table(ref)
}

// layout строит описание staging таблицы. Типы колонок берутся из discovery
// источника и приводятся к движку staging через матрицу совместимости.
func (r *Run) layout(t mapping.TableMapping, staging adapters.SQLEngine) *stagingLayout {
	d := staging.Dialect()
	ref := r.stagingRef(t, d)
	l := &stagingLayout{
		Ref:    ref,
		Quoted: qualify(staging, ref),
		types:  make(map[string]schema.DataType),
	}

	var discovered *schema.Table
	if r.sourceSchema != nil {
		discovered, _ = r.sourceSchema.Table(t.SourceTable)
	}

	seen := make(map[string]bool)
	add := func(name string, declared schema.DataType) {
		key := strings.ToLower(name)
		if seen[key] {
			return
		}
		seen[key] = true

		col := stagingColumn{Name: name, Type: declared}
		if discovered != nil {
			if dc, ok := discovered.Column(name); ok {
				col.Type = dc.Type
				col.MaxLength = dc.MaxLength
			}
		}
		if col.Type == "" {
			col.Type = schema.TypeText
		}
		col.Type = r.Env.Matrix.Lookup(engineKind(r.Project.Source), d.Kind(), col.Type).TargetType
		l.Source = append(l.Source, col)
		l.types[key] = col.Type
	}

	for _, c := range t.Columns {
		if !c.Excluded() {
			add(c.SourceColumn, c.SourceType)
		}
	}
	for _, c := range t.Columns {
		if c.Transformed() && c.Transformation.Type == transform.KindConcatenate {
			for _, extra := range c.Transformation.Columns {
				add(extra, "")
			}
		}
	}

	for _, c := range t.Columns {
		if !c.Transformed() {
			continue
		}
		dc := stagingColumn{
			Name: xfPrefix + c.TargetColumn,
			Type: derivedType(c, l.typeOf(c.SourceColumn)),
		}
		l.Derived = append(l.Derived, dc)
		l.types[strings.ToLower(dc.Name)] = dc.Type
	}
	return l
}

// ensureStagingSchema создает схему staging, если движок их поддерживает
func (r *Run) ensureStagingSchema(ctx context.Context, staging adapters.SQLEngine) error {
	name := r.Config.Staging.SchemaName
	d := staging.Dialect()
	if name == "" || !d.SupportsSchemas() {
		return nil
	}
	if _, err := staging.DB().ExecContext(ctx, d.CreateSchema(name)); err != nil {
		return fmt.Errorf("failed to create staging schema %s: %w", name, err)
	}
	return nil
}

// prepareStaging создает staging таблицу заново (autoCreate) или очищает существующую
func (r *Run) prepareStaging(ctx context.Context, staging adapters.SQLEngine, l *stagingLayout) error {
	d := staging.Dialect()
	db := staging.DB()

	defs := make([]string, 0, 1+len(l.Source)+len(l.Derived))
	defs = append(defs, d.RowIDColumn(RowIDColumn))
	for _, c := range append(append([]stagingColumn(nil), l.Source...), l.Derived...) {
		defs = append(defs, d.QuoteIdent(c.Name)+" "+d.ColumnType(c.Type, c.MaxLength))
	}

	if r.Config.Staging.AutoCreate {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+l.Quoted); err != nil {
			return fmt.Errorf("failed to drop staging table %s: %w", l.Ref, err)
		}
	}
	if _, err := db.ExecContext(ctx, d.CreateTable(l.Quoted, defs)); err != nil {
		return fmt.Errorf("failed to create staging table %s: %w", l.Ref, err)
	}
	if !r.Config.Staging.AutoCreate {
		if _, err := db.ExecContext(ctx, "DELETE FROM "+l.Quoted); err != nil {
			return fmt.Errorf("failed to truncate staging table %s: %w", l.Ref, err)
		}
	}
	return nil
}

// convert приводит порцию источника к колонкам и типам staging
func (l *stagingLayout) convert(b adapters.Batch) (adapters.Batch, error) {
	index := make(map[string]int, len(b.Columns))
	for i, c := range b.Columns {
		index[strings.ToLower(c)] = i
	}

	out := adapters.Batch{Columns: l.sourceNames(), Rows: make([][]any, len(b.Rows))}
	for r, row := range b.Rows {
		values := make([]any, len(l.Source))
		for i, c := range l.Source {
			j, ok := index[strings.ToLower(c.Name)]
			if !ok || j >= len(row) {
				continue
			}
			v, err := schema.ConvertValue(row[j], c.Type)
			if err != nil {
				return adapters.Batch{}, fmt.Errorf("column %s: %w", c.Name, err)
			}
			values[i] = v
		}
		out.Rows[r] = values
	}
	return out, nil
}

// pageStaging читает staging таблицу страницами по RowIDColumn.
// Страница вычитывается целиком до вызова fn: внутри транзакции
// на одном подключении нельзя писать, пока открыт курсор.
// Первая колонка каждой строки - RowIDColumn.
func (r *Run) pageStaging(ctx context.Context, ex base.Execer, d adapters.Dialect, l *stagingLayout, columns []string, fn func(rows [][]any) error) error {
	cols := append([]string{RowIDColumn}, columns...)
	query := d.SelectPage(cols, l.Quoted, RowIDColumn, r.Config.BatchSize)

	var last int64
	for {
		rows, err := ex.QueryContext(ctx, query, last)
		if err != nil {
			return fmt.Errorf("failed to read staging %s: %w", l.Ref, err)
		}
		page, err := scanAll(rows, len(cols))
		if err != nil {
			return fmt.Errorf("failed to read staging %s: %w", l.Ref, err)
		}
		if len(page) == 0 {
			return nil
		}
		if last, err = asInt64(page[len(page)-1][0]); err != nil {
			return fmt.Errorf("staging %s: %w", l.Ref, err)
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < r.Config.BatchSize {
			return nil
		}
	}
}

// scanAll вычитывает курсор и закрывает его
func scanAll(rows *sql.Rows, n int) ([][]any, error) {
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	binary := make([]bool, len(types))
	for i, ct := range types {
		binary[i] = base.IsBinaryTypeName(ct.DatabaseTypeName())
	}

	var out [][]any
	for rows.Next() {
		values := make([]any, n)
		ptrs := make([]any, n)
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok && i < len(binary) && !binary[i] {
				values[i] = string(b)
			}
		}
		out = append(out, values)
	}
	return out, rows.Err()
}

func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int32:
		return int64(x), nil
	case int:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		return strconv.ParseInt(x, 10, 64)
	case []byte:
		return strconv.ParseInt(string(x), 10, 64)
	}
	return 0, fmt.Errorf("unexpected row id type %T", v)
}

// sameKind приводит ключ цели к типу исходного значения колонки,
// чтобы драйвер не получил строку вместо числа
func sameKind(orig any, id string) any {
	switch orig.(type) {
	case int64, int32, int, uint64:
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			return n
		}
	case float64:
		if f, err := strconv.ParseFloat(id, 64); err == nil {
			return f
		}
	}
	return id
}
