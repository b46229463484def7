package etl

import (
	"context"
	"time"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/audit"
)

// ExtractStage переносит строки источника в staging порциями batchSize
type ExtractStage struct{}

func (ExtractStage) Name() StageName { return StageExtract }

func (ExtractStage) Run(ctx context.Context, r *Run) (StageResult, error) {
	c, err := r.open(ctx, connNeeds{source: true, staging: true})
	if err != nil {
		return StageResult{Status: StageFailed}, err
	}
	defer c.Close()

	r.sourceSchema, err = c.source.DiscoverSchema(ctx)
	if err != nil {
		return StageResult{Status: StageFailed}, err
	}
	if err := r.ensureStagingSchema(ctx, c.staging); err != nil {
		return StageResult{Status: StageFailed}, err
	}

	tables := r.Tables()
	err = r.forEachTable(ctx, StageExtract, tables, func(ctx context.Context, st *TableState) error {
		return r.extractTable(ctx, c, st)
	})

	res := r.summarize(StageExtract, tables, func(st *TableState) (int64, int64) {
		return st.Extracted, st.ExtractFailed
	}, err)
	return res, err
}

// extractTable создает staging таблицу и стримит в нее источник.
// Курсор источника стоит, пока порция пишется в staging.
func (r *Run) extractTable(ctx context.Context, c *conns, st *TableState) (err error) {
	t := st.Mapping
	start := time.Now()
	var read int64

	defer func() {
		entry := audit.NewEntry(audit.OpExtract, audit.StatusSuccess).
			WithTable(t.SourceTable).
			WithRecords(st.Extracted, st.ExtractFailed).
			WithDuration(time.Since(start))
		if err != nil {
			// брошенная таблица целиком считается непрочитанной
			st.Extracted = 0
			st.ExtractFailed = r.lostRows(ctx, c.source, t.SourceRef(), read)
			entry.WithRecords(0, st.ExtractFailed).WithError(err)
			r.deadLetter(StageExtract, t.SourceTable, st.ExtractFailed, err)
		} else if st.ExtractFailed > 0 {
			entry.Status = audit.StatusPartial
		}
		r.audit(ctx, entry)
	}()

	l := r.layout(t, c.staging)
	st.layout = l
	if err := r.prepareStaging(ctx, c.staging, l); err != nil {
		return err
	}

	req := adapters.ExtractRequest{
		Table:     t.SourceRef(),
		Columns:   l.sourceNames(),
		BatchSize: r.Config.BatchSize,
	}
	err = c.source.ExtractBatches(ctx, req, func(ctx context.Context, b adapters.Batch) error {
		read += int64(b.Len())

		batch, err := l.convert(b)
		if err == nil {
			err = r.retryer.Do(ctx, func(ctx context.Context) error {
				_, err := c.staging.LoadBatch(ctx, l.Ref, batch)
				return retryable(err)
			})
		}
		if err == nil {
			st.Extracted += int64(batch.Len())
			return nil
		}

		err = asLoadError(t.SourceTable, err)
		if r.Config.ErrorHandling == SkipAndLog {
			st.ExtractFailed += int64(b.Len())
			st.HadErrors = true
			r.Warn("extract %s: batch of %d rows skipped: %v", t.SourceTable, b.Len(), err)
			r.deadLetter(StageExtract, t.SourceTable, int64(b.Len()), err)
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}

	r.Logger.Debug().
		Str("table", t.SourceTable).
		Int64("rows", st.Extracted).
		Int64("skipped", st.ExtractFailed).
		Dur("duration", time.Since(start)).
		Msg("table staged")
	return nil
}

// lostRows - сколько строк таблицы не попало в staging.
// Если источник отвечает, берется полный размер таблицы.
func (r *Run) lostRows(ctx context.Context, source adapters.Engine, ref adapters.TableRef, read int64) int64 {
	if source == nil {
		return read
	}
	if n, err := source.RowCount(ctx, ref); err == nil && n > read {
		return n
	}
	return read
}
