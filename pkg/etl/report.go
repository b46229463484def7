package etl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ruslano69/tdtp-migrator/pkg/audit"
)

// Report - итоговый отчет о миграции
type Report struct {
	ExecutionID string          `json:"executionId"`
	ProjectID   string          `json:"projectId"`
	Status      ExecutionStatus `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	FinishedAt  time.Time       `json:"finishedAt"`
	DurationMs  int64           `json:"duration"`

	Summary     ReportSummary      `json:"summary"`
	Stages      []StageResult      `json:"stages"`
	Tables      []TableReport      `json:"tables"`
	Validations []ValidationResult `json:"validations"`
	Errors      []string           `json:"errors"`
	Warnings    []string           `json:"warnings"`
}

// ReportSummary - сводные счетчики отчета
type ReportSummary struct {
	TotalRecords        int64 `json:"totalRecords"`
	SuccessfulRecords   int64 `json:"successfulRecords"`
	FailedRecords       int64 `json:"failedRecords"`
	TablesProcessed     int   `json:"tablesProcessed"`
	ValidationsPassed   int   `json:"validationsPassed"`
	ValidationsFailed   int   `json:"validationsFailed"`
	ValidationWarnings  int   `json:"validationWarnings"`
	AttachmentsMigrated int   `json:"attachmentsMigrated"`
	AttachmentsFailed   int   `json:"attachmentsFailed"`
}

// TableReport - итог по одной таблице
type TableReport struct {
	SourceTable   string    `json:"sourceTable"`
	TargetTable   string    `json:"targetTable"`
	Role          string    `json:"role"`
	Extracted     int64     `json:"extracted"`
	ExtractFailed int64     `json:"extractFailed"`
	Loaded        int64     `json:"loaded"`
	LoadFailed    int64     `json:"loadFailed"`
	Status        string    `json:"status"`
	FailedAt      StageName `json:"failedAt,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// buildReport собирает отчет по состоянию выполнения на момент вызова.
// Стадия report сама в отчет не входит.
func (r *Run) buildReport() *Report {
	now := time.Now().UTC()
	read, loaded := r.totals()

	r.mu.Lock()
	rep := &Report{
		ExecutionID: r.ID,
		ProjectID:   r.Project.ID,
		StartedAt:   r.startedAt,
		FinishedAt:  now,
		DurationMs:  now.Sub(r.startedAt).Milliseconds(),
		Stages:      append([]StageResult{}, r.stages...),
		Validations: append([]ValidationResult{}, r.validations...),
		Errors:      append([]string{}, r.errs...),
		Warnings:    append([]string{}, r.warnings...),
		Summary: ReportSummary{
			TotalRecords:        read,
			SuccessfulRecords:   loaded,
			FailedRecords:       read - loaded,
			AttachmentsMigrated: r.attachments.Migrated,
			AttachmentsFailed:   r.attachments.Failed,
		},
	}
	r.mu.Unlock()

	rep.Status = StatusCompleted
	for _, s := range rep.Stages {
		if s.Status == StageFailed {
			rep.Status = StatusFailed
		}
	}
	if rep.Summary.FailedRecords < 0 {
		rep.Summary.FailedRecords = 0
	}

	for _, v := range rep.Validations {
		switch v.Status {
		case ValidationPassed:
			rep.Summary.ValidationsPassed++
		case ValidationFailed:
			rep.Summary.ValidationsFailed++
		case ValidationWarning:
			rep.Summary.ValidationWarnings++
		}
	}

	for _, t := range r.Tables() {
		st := r.State(t.SourceTable)
		tr := TableReport{
			SourceTable:   t.SourceTable,
			TargetTable:   t.TargetTable,
			Role:          string(t.Role),
			Extracted:     st.Extracted,
			ExtractFailed: st.ExtractFailed,
			Loaded:        st.Loaded,
			LoadFailed:    st.LoadFailed,
			Status:        "completed",
		}
		switch {
		case st.Failed:
			tr.Status = "failed"
			tr.FailedAt = st.FailedAt
			if st.Err != nil {
				tr.Error = st.Err.Error()
			}
		case st.HadErrors || st.ExtractFailed > 0:
			tr.Status = "partial"
		}
		if !st.Failed {
			rep.Summary.TablesProcessed++
		}
		rep.Tables = append(rep.Tables, tr)
	}
	return rep
}

// ReportStage собирает отчет и отдает его всем приемникам.
// Сбой приемника не валит выполнение: стадия становится partial.
type ReportStage struct{}

func (ReportStage) Name() StageName { return StageReport }

func (ReportStage) Run(ctx context.Context, r *Run) (StageResult, error) {
	start := time.Now()
	rep := r.buildReport()

	r.mu.Lock()
	r.report = rep
	r.mu.Unlock()

	sinks, closeSinks, err := r.configuredSinks(ctx)
	defer closeSinks()

	var errs []error
	if err != nil {
		errs = append(errs, err)
	}
	for _, s := range append(append([]ReportSink{}, r.Env.Sinks...), sinks...) {
		if err := s.PersistReport(ctx, rep); err != nil {
			errs = append(errs, err)
			r.Warn("report sink: %v", err)
		}
	}

	res := StageResult{
		Status:           StageCompleted,
		RecordsProcessed: rep.Summary.TotalRecords,
		Metadata: map[string]string{
			"sinks":  fmt.Sprint(len(r.Env.Sinks) + len(sinks)),
			"status": string(rep.Status),
		},
	}
	entry := audit.NewEntry(audit.OpReport, audit.StatusSuccess).
		WithRecords(rep.Summary.SuccessfulRecords, rep.Summary.FailedRecords).
		WithDuration(time.Since(start))
	if err := errors.Join(errs...); err != nil {
		res.Status = StagePartial
		res.Error = err.Error()
		entry.Status = audit.StatusPartial
		entry.WithError(err)
	}
	r.audit(ctx, entry)

	r.Logger.Info().
		Str("status", string(rep.Status)).
		Int64("total", rep.Summary.TotalRecords).
		Int64("successful", rep.Summary.SuccessfulRecords).
		Int64("failed", rep.Summary.FailedRecords).
		Int("validations_failed", rep.Summary.ValidationsFailed).
		Msg("migration report")
	return res, nil
}
