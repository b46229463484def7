package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/audit"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
	"github.com/ruslano69/tdtp-migrator/pkg/transform"
)

// TransformStage выполняет трансформации и очистку внутри staging (push-down)
type TransformStage struct{}

func (TransformStage) Name() StageName { return StageTransform }

func (TransformStage) Run(ctx context.Context, r *Run) (StageResult, error) {
	c, err := r.open(ctx, connNeeds{staging: true})
	if err != nil {
		return StageResult{Status: StageFailed}, err
	}
	defer c.Close()

	tables := r.Tables()
	err = r.forEachTable(ctx, StageTransform, tables, func(ctx context.Context, st *TableState) error {
		return r.transformTable(ctx, c.staging, st)
	})

	res := r.summarize(StageTransform, tables, func(st *TableState) (int64, int64) {
		if st.Failed {
			return 0, st.Extracted
		}
		return st.Extracted, 0
	}, err)
	return res, err
}

// transformTable применяет трансформации колонок, затем очистку.
// Ошибка колонки ловится отдельно: skip-and-log пропускает колонку,
// continue-on-error досчитывает остальные и бросает таблицу, fail-fast
// прерывает сразу.
func (r *Run) transformTable(ctx context.Context, staging adapters.SQLEngine, st *TableState) (err error) {
	t := st.Mapping
	l := st.layout
	if l == nil {
		l = r.layout(t, staging)
		st.layout = l
	}
	d := staging.Dialect()
	db := staging.DB()
	start := time.Now()

	var updates int
	defer func() {
		entry := audit.NewEntry(audit.OpTransform, audit.StatusSuccess).
			WithTable(t.SourceTable).
			WithRecords(st.Extracted, 0).
			WithDuration(time.Since(start)).
			WithMetadata("columns", fmt.Sprint(updates))
		if err != nil {
			entry.WithError(err)
		}
		r.audit(ctx, entry)
	}()

	var errs []error
	handle := func(column string, cerr error) error {
		cerr = fmt.Errorf("column %s: %w", column, cerr)
		switch r.Config.ErrorHandling {
		case FailFast:
			return cerr
		case SkipAndLog:
			st.HadErrors = true
			r.Warn("transform %s: %v, column skipped", t.SourceTable, cerr)
		default:
			errs = append(errs, cerr)
		}
		return nil
	}

	for _, col := range t.Columns {
		if !col.Transformed() {
			continue
		}
		ref := transform.ColumnRef{Name: col.SourceColumn, Type: l.typeOf(col.SourceColumn)}
		expr, xerr := transform.ToSQLExpression(ref, *col.Transformation, d)
		if xerr == nil && expr.Excluded {
			continue
		}
		if xerr == nil {
			query := fmt.Sprintf("UPDATE %s SET %s = %s", l.Quoted, d.QuoteIdent(valueColumn(col)), expr.SQL)
			if expr.NullGuard {
				query += " WHERE " + d.QuoteIdent(col.SourceColumn) + " IS NOT NULL"
			}
			_, xerr = db.ExecContext(ctx, query, expr.Args...)
		}
		if xerr != nil {
			if ferr := handle(col.TargetColumn, xerr); ferr != nil {
				return ferr
			}
			continue
		}
		updates++
	}

	for _, col := range t.Loaded() {
		vc := valueColumn(col)
		typ := l.typeOf(vc)

		if typ.IsTextual() {
			query := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NOT NULL",
				l.Quoted, d.QuoteIdent(vc), d.Trim(d.QuoteIdent(vc)), d.QuoteIdent(vc))
			if _, cerr := db.ExecContext(ctx, query); cerr != nil {
				if ferr := handle(col.TargetColumn, cerr); ferr != nil {
					return ferr
				}
				continue
			}
		}

		if !col.Nullable && col.DefaultValue != nil {
			v, cerr := schema.ConvertValue(*col.DefaultValue, typ)
			if cerr == nil {
				query := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s IS NULL",
					l.Quoted, d.QuoteIdent(vc), d.Placeholder(1), d.QuoteIdent(vc))
				_, cerr = db.ExecContext(ctx, query, v)
			}
			if cerr != nil {
				if ferr := handle(col.TargetColumn, cerr); ferr != nil {
					return ferr
				}
			}
		}
	}

	return errors.Join(errs...)
}
