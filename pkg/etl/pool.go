package etl

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
)

// tableFunc обрабатывает одну таблицу стадии.
// Возвращенная ошибка помечает таблицу упавшей.
type tableFunc func(ctx context.Context, st *TableState) error

// runPool выполняет fn для units не более чем в parallelism горутинах.
// Перед каждой единицей проверяются отмена и контекст; после первой
// ошибки fn новые единицы не запускаются.
func runPool[T any](ctx context.Context, parallelism int, units []T, cancelled func() bool, fn func(ctx context.Context, u T) error) error {
	if parallelism < 1 {
		parallelism = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)

	for _, u := range units {
		if cancelled() {
			break
		}
		if gctx.Err() != nil {
			break
		}
		u := u
		g.Go(func() error {
			if cancelled() {
				return ErrCancelled
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, u)
		})
	}
	err := g.Wait()
	if err == nil && cancelled() {
		return ErrCancelled
	}
	if err == nil {
		return ctx.Err()
	}
	return err
}

// forEachTable обрабатывает таблицы стадии по политике ошибок.
//
// fail-fast: первая ошибка прерывает стадию, следующие таблицы не начинаются.
// Остальные политики: упавшая таблица помечается и стадия идет дальше.
func (r *Run) forEachTable(ctx context.Context, stage StageName, tables []mapping.TableMapping, fn tableFunc) error {
	failFast := r.Config.ErrorHandling == FailFast

	return runPool(ctx, r.Config.Parallelism, tables, r.Cancelled, func(ctx context.Context, t mapping.TableMapping) error {
		st := r.State(t.SourceTable)
		if st.Failed {
			return nil
		}
		if dep, failed := r.failedDependency(t); failed {
			st.fail(stage, fmt.Errorf("dependency %s failed", dep))
			r.Warn("%s: table %s skipped, dependency %s failed", stage, t.SourceTable, dep)
			return nil
		}

		err := fn(ctx, st)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
			return err
		}
		st.fail(stage, err)
		r.Error(stage, t.SourceTable, err)
		if failFast {
			return fmt.Errorf("table %s: %w", t.SourceTable, err)
		}
		return nil
	})
}

// failedDependency ищет упавшую таблицу среди зависимостей и ссылок
func (r *Run) failedDependency(t mapping.TableMapping) (string, bool) {
	for _, dep := range t.DependsOn {
		if s := r.State(dep); s != nil && s.Failed {
			return dep, true
		}
	}
	for _, c := range t.References() {
		if s := r.State(c.References); s != nil && s.Failed {
			return c.References, true
		}
	}
	return "", false
}

// counter возвращает обработанные и упавшие строки таблицы в стадии
type counter func(st *TableState) (processed, failed int64)

// summarize собирает StageResult по таблицам стадии
func (r *Run) summarize(stage StageName, tables []mapping.TableMapping, count counter, err error) StageResult {
	res := StageResult{Stage: stage, Status: StageCompleted, Metadata: map[string]string{}}

	// таблицы, упавшие на прошлых стадиях, здесь уже не учитываются
	var attempted, failedTables int
	for _, t := range tables {
		st := r.State(t.SourceTable)
		if st.Failed && st.FailedAt != stage {
			continue
		}
		attempted++
		p, f := count(st)
		res.RecordsProcessed += p
		res.RecordsFailed += f
		if st.Failed {
			failedTables++
		}
	}
	res.Metadata["tables"] = strconv.Itoa(attempted)
	if failedTables > 0 {
		res.Metadata["failedTables"] = strconv.Itoa(failedTables)
	}

	switch {
	case err != nil:
		res.Status = StageFailed
		res.Error = err.Error()
	case failedTables > 0 && failedTables == attempted:
		res.Status = StageFailed
		res.Error = fmt.Sprintf("all %d tables failed", failedTables)
	case failedTables > 0:
		res.Status = StagePartial
	}
	return res
}
