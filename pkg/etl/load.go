package etl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/adapters/base"
	"github.com/ruslano69/tdtp-migrator/pkg/attachments"
	"github.com/ruslano69/tdtp-migrator/pkg/audit"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
	"github.com/ruslano69/tdtp-migrator/pkg/resilience"
)

// LoadStage переносит staging в цель для таблиц одной роли.
// Уровни зависимостей грузятся по очереди, таблицы уровня - параллельно.
type LoadStage struct {
	Role mapping.Role
}

func (s LoadStage) Name() StageName {
	if s.Role == mapping.RoleFact {
		return StageLoadFacts
	}
	return StageLoadDimensions
}

func (s LoadStage) Run(ctx context.Context, r *Run) (StageResult, error) {
	name := s.Name()
	facts := s.Role == mapping.RoleFact

	c, err := r.open(ctx, connNeeds{
		source:  facts && r.Config.Attachments.Enabled,
		target:  true,
		staging: true,
	})
	if err != nil {
		return StageResult{Status: StageFailed}, err
	}
	defer c.Close()

	if !facts && r.Config.LoadStrategy == TruncateLoad {
		if err := r.clearDependents(ctx, c); err != nil {
			return StageResult{Status: StageFailed, Error: err.Error()}, err
		}
	}

	var tables []mapping.TableMapping
	for _, level := range r.Levels {
		var batch []mapping.TableMapping
		for _, t := range level {
			if t.Role == s.Role {
				batch = append(batch, t)
			}
		}
		if len(batch) == 0 {
			continue
		}
		tables = append(tables, batch...)
		err = r.forEachTable(ctx, name, batch, func(ctx context.Context, st *TableState) error {
			return r.loadTable(ctx, c, st)
		})
		if err != nil {
			break
		}
	}

	if err == nil && facts && r.Config.Attachments.Enabled {
		err = r.migrateAttachments(ctx, c)
	}

	res := r.summarize(name, tables, func(st *TableState) (int64, int64) {
		if st.Failed {
			return 0, st.Extracted
		}
		return st.Loaded, st.LoadFailed
	}, err)
	if facts && r.Config.Attachments.Enabled {
		sum := r.attachmentSummary()
		res.Metadata["attachmentsMigrated"] = fmt.Sprint(sum.Migrated)
		res.Metadata["attachmentsFailed"] = fmt.Sprint(sum.Failed)
	}
	return res, err
}

// clearDependents очищает таблицы, у которых есть зависимости, в обратном
// порядке загрузки. После этого DELETE измерения внутри его транзакции
// не упирается во внешние ключи фактов.
func (r *Run) clearDependents(ctx context.Context, c *conns) error {
	target, ok := c.targetSQL()
	if !ok {
		return nil
	}

	ordered := r.Tables()
	for i := len(ordered) - 1; i >= 0; i-- {
		t := ordered[i]
		if len(t.DependsOn) == 0 && len(t.References()) == 0 {
			continue
		}
		if r.Cancelled() {
			return ErrCancelled
		}
		q := "DELETE FROM " + qualify(target, t.TargetRef())
		if _, err := target.DB().ExecContext(ctx, q); err != nil {
			err = asLoadError(t.TargetTable, err)
			if r.Config.ErrorHandling == FailFast {
				return fmt.Errorf("failed to clear %s: %w", t.TargetTable, err)
			}
			st := r.State(t.SourceTable)
			st.fail(LoadStage{Role: t.Role}.Name(), err)
			r.Error(StageLoadDimensions, t.SourceTable, err)
		}
	}
	return nil
}

func (r *Run) loadTable(ctx context.Context, c *conns, st *TableState) (err error) {
	t := st.Mapping
	st.LoadStart = time.Now()

	defer func() {
		st.LoadEnd = time.Now()
		op := audit.OpLoadDimensions
		if t.Role == mapping.RoleFact {
			op = audit.OpLoadFacts
		}
		entry := audit.NewEntry(op, audit.StatusSuccess).
			WithTable(t.TargetTable).
			WithRecords(st.Loaded, st.LoadFailed).
			WithDuration(st.LoadEnd.Sub(st.LoadStart))
		if err != nil {
			entry.WithError(err)
			r.deadLetter(LoadStage{Role: t.Role}.Name(), t.SourceTable, st.LoadFailed, err)
		}
		r.audit(ctx, entry)
	}()

	if st.layout == nil {
		st.layout = r.layout(t, c.staging)
	}

	if target, ok := c.targetSQL(); ok {
		err = r.loadSQL(ctx, target, st)
	} else {
		err = r.loadDocuments(ctx, c, st)
	}
	if err != nil {
		st.Loaded = 0
		st.LoadFailed = st.Extracted
		return asLoadError(t.TargetTable, err)
	}

	r.Logger.Info().
		Str("table", t.TargetTable).
		Str("role", string(t.Role)).
		Int64("rows", st.Loaded).
		Int("mappings", r.Tracker.Pending(t.SourceTable)).
		Msg("table loaded")

	if _, err := r.Tracker.Commit(ctx, t.SourceTable); err != nil {
		return err
	}
	return nil
}

// regenerated - цель сама генерирует ключи таблицы
func (r *Run) regenerated(sourceTable string) bool {
	st := r.State(sourceTable)
	return st != nil && st.Mapping.TargetKey != ""
}

// needsRowPath - строки нужно вставлять по одной или переписывать ссылки:
// цель генерирует ключ или таблица ссылается на такое измерение
func (r *Run) needsRowPath(t mapping.TableMapping) bool {
	if t.TargetKey != "" {
		return true
	}
	for _, c := range t.References() {
		if r.regenerated(c.References) {
			return true
		}
	}
	return false
}

// loadColumns - колонки, которые пишутся в цель. Ключ, генерируемый целью, не пишется.
func loadColumns(t mapping.TableMapping) []mapping.ColumnMapping {
	var out []mapping.ColumnMapping
	for _, c := range t.Loaded() {
		if t.TargetKey != "" && strings.EqualFold(c.TargetColumn, t.TargetKey) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// loadSQL грузит таблицу одной транзакцией. Откат затрагивает только эту таблицу,
// соответствия ключей подтверждаются только после коммита.
func (r *Run) loadSQL(ctx context.Context, target adapters.SQLEngine, st *TableState) (err error) {
	t := st.Mapping
	d := target.Dialect()
	table := qualify(target, t.TargetRef())

	if st.TargetBefore, err = base.CountRows(ctx, target.DB(), table); err != nil {
		return err
	}
	// с одним подключением (SQLite) store нельзя читать внутри транзакции
	for _, c := range t.References() {
		if err := r.Tracker.Preload(ctx, c.References); err != nil {
			return fmt.Errorf("failed to load id mappings of %s: %w", c.References, err)
		}
	}

	strategy := r.Config.LoadStrategy
	rowPath := r.needsRowPath(t)
	if strategy == Merge && rowPath {
		r.Warn("load %s: merge is not possible with generated keys, rows are inserted", t.TargetTable)
		strategy = Append
	}

	tx, err := target.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
			r.Tracker.Discard(t.SourceTable)
		}
	}()

	if strategy == TruncateLoad {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", t.TargetTable, err)
		}
	}

	var n int64
	if rowPath {
		n, err = r.insertRows(ctx, tx, d, table, st)
	} else {
		n, err = r.insertSelect(ctx, tx, d, table, st, strategy)
	}
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", t.TargetTable, err)
	}
	committed = true
	st.Loaded = n
	return nil
}

// insertSelect переносит таблицу одним INSERT ... SELECT (или upsert для merge)
// и записывает сквозные соответствия ключей
func (r *Run) insertSelect(ctx context.Context, tx *sql.Tx, d adapters.Dialect, table string, st *TableState, strategy LoadStrategy) (int64, error) {
	t := st.Mapping
	l := st.layout
	cols := loadColumns(t)
	if len(cols) == 0 {
		return 0, fmt.Errorf("table %s has no columns to load", t.TargetTable)
	}

	targets := make([]string, len(cols))
	quoted := make([]string, len(cols))
	values := make([]string, len(cols))
	var keys []string
	for i, c := range cols {
		targets[i] = c.TargetColumn
		quoted[i] = d.QuoteIdent(c.TargetColumn)
		values[i] = d.QuoteIdent(valueColumn(c))
		if c.IsPrimaryKey {
			keys = append(keys, c.TargetColumn)
		}
	}
	selectSQL := fmt.Sprintf("SELECT %s FROM %s", strings.Join(values, ", "), l.Quoted)

	query := fmt.Sprintf("INSERT INTO %s (%s) %s", table, strings.Join(quoted, ", "), selectSQL)
	if strategy == Merge {
		if len(keys) == 0 {
			r.Warn("load %s: merge needs a primary key, rows are appended", t.TargetTable)
		} else {
			query = d.UpsertSelect(table, targets, keys, selectSQL)
		}
	}
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return 0, err
	}

	n, err := base.CountRows(ctx, tx, l.Quoted)
	if err != nil {
		return 0, err
	}

	key, ok := t.KeyColumn()
	if !ok || key.Excluded() {
		return n, nil
	}
	err = r.pageStaging(ctx, tx, d, l, []string{key.SourceColumn, valueColumn(key)}, func(rows [][]any) error {
		for _, row := range rows {
			if row[1] == nil {
				continue
			}
			r.Tracker.Record(t.SourceTable, key.SourceColumn, schema.ToText(row[1]), key.TargetColumn, schema.ToText(row[2]))
		}
		return nil
	})
	return n, err
}

// insertRows вставляет строки постранично: ссылки переписываются через
// ID mapping, ключ, сгенерированный целью, возвращается RETURNING / OUTPUT
// или LastInsertId
func (r *Run) insertRows(ctx context.Context, tx *sql.Tx, d adapters.Dialect, table string, st *TableState) (int64, error) {
	t := st.Mapping
	l := st.layout
	cols := loadColumns(t)
	if len(cols) == 0 {
		return 0, fmt.Errorf("table %s has no columns to load", t.TargetTable)
	}

	key, hasKey := t.KeyColumn()
	hasKey = hasKey && !key.Excluded()

	// [row_id, ключ источника, значения колонок...]
	read := []string{""}
	if hasKey {
		read[0] = key.SourceColumn
	} else {
		read[0] = RowIDColumn
	}
	targets := make([]string, len(cols))
	refs := make([]string, len(cols))
	for i, c := range cols {
		read = append(read, valueColumn(c))
		targets[i] = c.TargetColumn
		refs[i] = c.References
	}

	var insertSQL string
	var mode adapters.ReturningMode
	if t.TargetKey != "" {
		insertSQL, mode = d.InsertReturning(table, targets, t.TargetKey)
	}

	var n int64
	err := r.pageStaging(ctx, tx, d, l, read, func(page [][]any) error {
		batch := adapters.Batch{Columns: targets}
		for _, row := range page {
			values := row[2:]
			if err := r.rewriteReferences(ctx, values, refs); err != nil {
				return err
			}

			if t.TargetKey == "" {
				batch.Rows = append(batch.Rows, values)
				if hasKey && row[1] != nil {
					r.Tracker.Record(t.SourceTable, key.SourceColumn, schema.ToText(row[1]), key.TargetColumn, schema.ToText(valueOf(cols, values, key.TargetColumn, row[1])))
				}
				continue
			}

			id, err := insertReturning(ctx, tx, insertSQL, mode, values)
			if err != nil {
				return err
			}
			n++
			if hasKey && row[1] != nil {
				r.Tracker.Record(t.SourceTable, key.SourceColumn, schema.ToText(row[1]), t.TargetKey, schema.ToText(id))
			}
		}
		if batch.Len() > 0 {
			m, err := base.InsertRows(ctx, tx, d, table, batch)
			if err != nil {
				return err
			}
			n += m
		}
		return nil
	})
	return n, err
}

// valueOf возвращает загружаемое значение целевой колонки
func valueOf(cols []mapping.ColumnMapping, values []any, target string, fallback any) any {
	for i, c := range cols {
		if strings.EqualFold(c.TargetColumn, target) {
			return values[i]
		}
	}
	return fallback
}

func insertReturning(ctx context.Context, tx *sql.Tx, query string, mode adapters.ReturningMode, values []any) (any, error) {
	if mode == adapters.ReturnLastInsertID {
		res, err := tx.ExecContext(ctx, query, values...)
		if err != nil {
			return nil, err
		}
		return res.LastInsertId()
	}
	var id any
	if err := tx.QueryRowContext(ctx, query, values...).Scan(&id); err != nil {
		return nil, err
	}
	if b, ok := id.([]byte); ok {
		id = string(b)
	}
	return id, nil
}

// rewriteReferences заменяет ключи измерений источника ключами цели.
// Ссылка на измерение с ключами цели, которой нет в ID mapping, - ошибка.
func (r *Run) rewriteReferences(ctx context.Context, values []any, refs []string) error {
	for i, ref := range refs {
		if ref == "" || values[i] == nil {
			continue
		}
		src := schema.ToText(values[i])
		id, ok, err := r.Tracker.Resolve(ctx, ref, src)
		if err != nil {
			return err
		}
		if ok {
			values[i] = sameKind(values[i], id)
			continue
		}
		if r.regenerated(ref) {
			return &LoadError{Kind: InvalidReference, Table: ref, Err: fmt.Errorf("no id mapping for %s key %s", ref, src)}
		}
	}
	return nil
}

// loadDocuments грузит staging в документное хранилище порциями.
// Транзакции нет: соответствия подтверждаются, только если загрузились все порции.
func (r *Run) loadDocuments(ctx context.Context, c *conns, st *TableState) (err error) {
	t := st.Mapping
	ref := t.TargetRef()

	switch r.Config.LoadStrategy {
	case TruncateLoad:
		tr, ok := c.target.(adapters.Truncater)
		if !ok {
			return fmt.Errorf("target %s cannot be truncated", c.target.Kind())
		}
		if err := tr.Truncate(ctx, ref); err != nil {
			return fmt.Errorf("failed to truncate %s: %w", t.TargetTable, err)
		}
	case Merge:
		r.Warn("load %s: merge is not supported for document targets, documents are appended", t.TargetTable)
	}

	if st.TargetBefore, err = c.target.RowCount(ctx, ref); err != nil {
		return err
	}
	for _, col := range t.References() {
		if err := r.Tracker.Preload(ctx, col.References); err != nil {
			return err
		}
	}
	defer func() {
		if err != nil {
			r.Tracker.Discard(t.SourceTable)
		}
	}()

	cols := t.Loaded()
	key, hasKey := t.KeyColumn()
	hasKey = hasKey && !key.Excluded()

	read := []string{RowIDColumn}
	if hasKey {
		read[0] = key.SourceColumn
	}
	targets := make([]string, len(cols))
	refs := make([]string, len(cols))
	for i, col := range cols {
		read = append(read, valueColumn(col))
		targets[i] = col.TargetColumn
		refs[i] = col.References
	}

	staging := c.staging
	return r.pageStaging(ctx, staging.DB(), staging.Dialect(), st.layout, read, func(page [][]any) error {
		batch := adapters.Batch{Columns: targets, Rows: make([][]any, 0, len(page))}
		for _, row := range page {
			values := row[2:]
			if err := r.rewriteReferences(ctx, values, refs); err != nil {
				return err
			}
			batch.Rows = append(batch.Rows, values)
		}

		var n int64
		err := r.retryer.Do(ctx, func(ctx context.Context) error {
			var err error
			n, err = c.target.LoadBatch(ctx, ref, batch)
			return retryable(err)
		})
		if err != nil {
			return err
		}
		st.Loaded += n

		if hasKey {
			for i, row := range page {
				if row[1] != nil {
					r.Tracker.Record(t.SourceTable, key.SourceColumn, schema.ToText(row[1]), key.TargetColumn, schema.ToText(valueOf(cols, batch.Rows[i], key.TargetColumn, row[1])))
				}
			}
		}
		return nil
	})
}

// migrateAttachments переносит вложения документного источника.
// Сбой отдельного вложения стадию не роняет: он попадает в отчет и проверку.
func (r *Run) migrateAttachments(ctx context.Context, c *conns) error {
	src, ok := c.source.(adapters.AttachmentSource)
	if !ok {
		r.Warn("attachments: source %s has no attachments, skipped", c.source.Kind())
		return nil
	}

	store := r.Env.Objects
	if store == nil {
		var err error
		if store, err = attachments.NewStore(ctx, r.Config.Attachments.Store); err != nil {
			r.Error(StageLoadFacts, "", fmt.Errorf("attachment store: %w", err))
			return nil
		}
	}

	m := &attachments.Migrator{
		Source:  src,
		Store:   store,
		Retryer: r.retryer,
		Tracker: r.Tracker,
		Prefix:  r.Config.Attachments.Prefix + "/" + r.ID,
		Logger:  r.Logger,
	}
	if lim := r.Config.Attachments.RateLimit; lim > 0 {
		m.Limiter = rate.NewLimiter(rate.Limit(lim), 1)
	}
	if cfg := r.Config.Attachments.Breaker; cfg != nil {
		b, err := resilience.New(*cfg)
		if err != nil {
			return err
		}
		b.OnStateChange = func(name string, from, to resilience.State) {
			r.Logger.Warn().Str("breaker", name).Stringer("from", from).Stringer("to", to).Msg("attachment store circuit changed state")
		}
		m.Breaker = b
	}

	for _, t := range r.Tables() {
		if r.Cancelled() {
			return ErrCancelled
		}
		if r.State(t.SourceTable).Failed {
			continue
		}

		start := time.Now()
		sum, err := m.Migrate(ctx, t.SourceTable)
		r.addAttachments(sum)
		attachmentsTotal.WithLabelValues("migrated").Add(float64(sum.Migrated))
		attachmentsTotal.WithLabelValues("failed").Add(float64(sum.Failed))

		entry := audit.NewEntry(audit.OpAttachment, audit.StatusSuccess).
			WithTable(t.SourceTable).
			WithRecords(int64(sum.Migrated), int64(sum.Failed)).
			WithDuration(time.Since(start))
		if sum.Failed > 0 {
			entry.Status = audit.StatusPartial
		}
		if err != nil {
			entry.WithError(err)
			if errors.Is(err, context.Canceled) {
				r.audit(ctx, entry)
				return err
			}
			r.Error(StageLoadFacts, t.SourceTable, fmt.Errorf("attachments: %w", err))
		}
		r.audit(ctx, entry)
	}
	return nil
}
