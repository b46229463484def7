package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/audit"
	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
)

// ValidationKind - вид проверки
type ValidationKind string

const (
	ValidationRowCount       ValidationKind = "row-count"
	ValidationNullConstraint ValidationKind = "null-constraint"
	ValidationForeignKey     ValidationKind = "foreign-key"
	ValidationCustom         ValidationKind = "custom"
)

// ValidationStatus - итог проверки
type ValidationStatus string

const (
	ValidationPassed  ValidationStatus = "passed"
	ValidationFailed  ValidationStatus = "failed"
	ValidationWarning ValidationStatus = "warning"
)

// ValidationResult - результат одной проверки. Провал проверки не ошибка:
// он только попадает в отчет.
type ValidationResult struct {
	Table    string           `json:"table"`
	Kind     ValidationKind   `json:"validationType"`
	Name     string           `json:"name,omitempty"`
	Expected any              `json:"expected"`
	Actual   any              `json:"actual"`
	Status   ValidationStatus `json:"status"`
	Message  string           `json:"message"`
}

// ValidateStage сверяет цель со staging. Загруженные данные не откатывает.
type ValidateStage struct{}

func (ValidateStage) Name() StageName { return StageValidate }

func (ValidateStage) Run(ctx context.Context, r *Run) (StageResult, error) {
	if !r.Config.ValidateData {
		return StageResult{Status: StageSkipped, Metadata: map[string]string{"reason": "validate_data is false"}}, nil
	}

	c, err := r.open(ctx, connNeeds{target: true})
	if err != nil {
		return StageResult{Status: StageFailed}, err
	}
	defer c.Close()

	start := time.Now()
	for _, t := range r.Tables() {
		if r.Cancelled() {
			return StageResult{Status: StageFailed}, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return StageResult{Status: StageFailed}, err
		}
		r.validateTable(ctx, c, r.State(t.SourceTable))
	}

	if sum := r.attachmentSummary(); sum.Total() > 0 {
		r.addValidation(AttachmentRate(sum.Migrated, sum.Total()))
	}

	res := StageResult{Status: StageCompleted, Metadata: map[string]string{}}
	var passed, failed, warnings int
	for _, v := range r.Validations() {
		switch v.Status {
		case ValidationPassed:
			passed++
		case ValidationFailed:
			failed++
		case ValidationWarning:
			warnings++
		}
	}
	res.RecordsProcessed = int64(passed + failed + warnings)
	res.Metadata["passed"] = fmt.Sprint(passed)
	res.Metadata["failed"] = fmt.Sprint(failed)
	res.Metadata["warnings"] = fmt.Sprint(warnings)

	entry := audit.NewEntry(audit.OpValidate, audit.StatusSuccess).
		WithRecords(int64(passed), int64(failed)).
		WithDuration(time.Since(start))
	if failed > 0 {
		entry.Status = audit.StatusPartial
	}
	r.audit(ctx, entry)
	return res, nil
}

func (r *Run) validateTable(ctx context.Context, c *conns, st *TableState) {
	t := st.Mapping
	hadErrors := st.Failed || st.HadErrors || st.ExtractFailed > 0 || st.LoadFailed > 0

	actual, err := c.target.RowCount(ctx, t.TargetRef())
	if err != nil {
		r.addValidation(ValidationResult{
			Table:   t.TargetTable,
			Kind:    ValidationRowCount,
			Status:  ValidationFailed,
			Message: fmt.Sprintf("row count failed: %v", err),
		})
	} else {
		r.addValidation(CheckRowCount(t.TargetTable, r.Config.LoadStrategy, st.Extracted, actual, st.TargetBefore, hadErrors))
	}

	if target, ok := c.targetSQL(); ok && !st.Failed {
		r.checkNulls(ctx, target, t)
		r.checkReferences(ctx, target, t)
	}

	if _, ok := t.KeyColumn(); ok {
		r.addValidation(r.checkMappings(ctx, st))
	}
}

// CheckRowCount сравнивает количество строк staging и цели.
//
// truncate-load - точное совпадение, append - прирост цели, merge - не меньше
// staging. Если у таблицы были ошибки загрузки, расхождение - предупреждение.
func CheckRowCount(table string, strategy LoadStrategy, staged, actual, before int64, hadErrors bool) ValidationResult {
	v := ValidationResult{Table: table, Kind: ValidationRowCount, Name: "staging vs target", Expected: staged}

	var ok bool
	switch strategy {
	case Append:
		actual -= before
		ok = actual == staged
		v.Message = fmt.Sprintf("expected %d new rows, found %d", staged, actual)
	case Merge:
		ok = actual >= staged
		v.Message = fmt.Sprintf("expected at least %d rows, found %d", staged, actual)
	default:
		ok = actual == staged
		v.Message = fmt.Sprintf("expected %d rows, found %d", staged, actual)
	}
	v.Actual = actual

	switch {
	case ok:
		v.Status = ValidationPassed
	case hadErrors:
		v.Status = ValidationWarning
		v.Message += " (table had load errors)"
	default:
		v.Status = ValidationFailed
	}
	return v
}

// checkNulls ищет NULL в колонках цели, объявленных как NOT NULL
func (r *Run) checkNulls(ctx context.Context, target adapters.SQLEngine, t mapping.TableMapping) {
	d := target.Dialect()
	table := qualify(target, t.TargetRef())

	for _, c := range loadColumns(t) {
		if c.Nullable {
			continue
		}
		var n int64
		q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", table, d.QuoteIdent(c.TargetColumn))
		v := ValidationResult{Table: t.TargetTable, Kind: ValidationNullConstraint, Name: c.TargetColumn, Expected: int64(0)}
		if err := target.DB().QueryRowContext(ctx, q).Scan(&n); err != nil {
			v.Status = ValidationFailed
			v.Message = fmt.Sprintf("null check of %s failed: %v", c.TargetColumn, err)
		} else if n > 0 {
			v.Actual = n
			v.Status = ValidationFailed
			v.Message = fmt.Sprintf("%d rows have NULL in non-nullable column %s", n, c.TargetColumn)
		} else {
			v.Actual = n
			v.Status = ValidationPassed
			v.Message = fmt.Sprintf("no NULL values in %s", c.TargetColumn)
		}
		r.addValidation(v)
	}
}

// checkReferences ищет строки, ссылающиеся на отсутствующий ключ измерения
func (r *Run) checkReferences(ctx context.Context, target adapters.SQLEngine, t mapping.TableMapping) {
	d := target.Dialect()
	child := qualify(target, t.TargetRef())

	for _, c := range t.References() {
		parentState := r.State(c.References)
		if parentState == nil {
			continue
		}
		parent := parentState.Mapping
		parentKey := parent.TargetKey
		if parentKey == "" {
			if k, ok := parent.KeyColumn(); ok {
				parentKey = k.TargetColumn
			}
		}
		if parentKey == "" {
			continue
		}

		col := d.QuoteIdent(c.TargetColumn)
		q := fmt.Sprintf(
			"SELECT COUNT(*) FROM %s c WHERE c.%s IS NOT NULL AND NOT EXISTS (SELECT 1 FROM %s p WHERE p.%s = c.%s)",
			child, col, qualify(target, parent.TargetRef()), d.QuoteIdent(parentKey), col)

		var orphans int64
		v := ValidationResult{
			Table:    t.TargetTable,
			Kind:     ValidationForeignKey,
			Name:     c.TargetColumn + " -> " + parent.TargetTable,
			Expected: int64(0),
		}
		if err := target.DB().QueryRowContext(ctx, q).Scan(&orphans); err != nil {
			v.Status = ValidationFailed
			v.Message = fmt.Sprintf("reference check of %s failed: %v", c.TargetColumn, err)
		} else {
			v.Actual = orphans
			if orphans == 0 {
				v.Status = ValidationPassed
				v.Message = fmt.Sprintf("all %s values reference %s", c.TargetColumn, parent.TargetTable)
			} else {
				v.Status = ValidationFailed
				v.Message = fmt.Sprintf("%d rows reference missing %s.%s", orphans, parent.TargetTable, parentKey)
			}
		}
		r.addValidation(v)
	}
}

// checkMappings проверяет, что таблица с первичным ключом дала ID mapping
func (r *Run) checkMappings(ctx context.Context, st *TableState) ValidationResult {
	t := st.Mapping
	v := ValidationResult{Table: t.TargetTable, Kind: ValidationCustom, Name: "id-mapping coverage", Expected: st.Loaded}

	n, err := r.Tracker.Count(ctx, t.SourceTable)
	switch {
	case err != nil:
		v.Status = ValidationWarning
		v.Message = fmt.Sprintf("id mappings of %s are unavailable: %v", t.SourceTable, err)
	case n == 0 && st.Extracted > 0:
		v.Actual = int64(n)
		v.Status = ValidationWarning
		v.Message = fmt.Sprintf("no id mappings were produced for %s", t.SourceTable)
	default:
		v.Actual = int64(n)
		v.Status = ValidationPassed
		v.Message = fmt.Sprintf("%d id mappings recorded", n)
	}
	return v
}

// AttachmentRate оценивает долю перенесенных вложений:
// 100% - passed, от 90% - warning, ниже - failed
func AttachmentRate(migrated, total int) ValidationResult {
	v := ValidationResult{Kind: ValidationCustom, Name: "attachment success rate", Expected: "100%"}
	if total <= 0 {
		v.Actual = "100%"
		v.Status = ValidationPassed
		v.Message = "no attachments to migrate"
		return v
	}

	pct := float64(migrated) / float64(total) * 100
	v.Actual = fmt.Sprintf("%.1f%%", pct)
	v.Message = fmt.Sprintf("%d of %d attachments migrated (%.1f%%)", migrated, total, pct)
	switch {
	case migrated == total:
		v.Status = ValidationPassed
	case pct >= 90:
		v.Status = ValidationWarning
	default:
		v.Status = ValidationFailed
	}
	return v
}
