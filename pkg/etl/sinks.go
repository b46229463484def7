package etl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/ruslano69/tdtp-migrator/pkg/brokers"
	"github.com/ruslano69/tdtp-migrator/pkg/resultlog"
	"github.com/ruslano69/tdtp-migrator/pkg/xlsx"
)

// ReportSink - приемник итогового отчета
type ReportSink interface {
	PersistReport(ctx context.Context, report *Report) error
}

// JSONFileSink пишет отчет в JSON файл, при Compress - в zstd
type JSONFileSink struct {
	Path     string
	Compress bool
}

func (s JSONFileSink) PersistReport(_ context.Context, report *Report) (err error) {
	if dir := filepath.Dir(s.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	f, err := os.Create(s.Path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	var w io.Writer = f
	if s.Compress || strings.HasSuffix(s.Path, ".zst") {
		enc, zerr := zstd.NewWriter(f)
		if zerr != nil {
			return fmt.Errorf("failed to create zstd writer: %w", zerr)
		}
		defer func() {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}()
		w = enc
	}

	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	if err := e.Encode(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ReadReportFile читает отчет, записанный JSONFileSink (сжатие определяется по magic)
func ReadReportFile(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) >= 4 && data[0] == 0x28 && data[1] == 0xb5 && data[2] == 0x2f && data[3] == 0xfd {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		if data, err = dec.DecodeAll(data, nil); err != nil {
			return nil, fmt.Errorf("failed to decompress report: %w", err)
		}
	}

	var rep Report
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &rep, nil
}

// XLSXSink пишет отчет в книгу Excel: Summary, Stages, Tables, Validations, Issues
type XLSXSink struct {
	Path string
}

func (s XLSXSink) PersistReport(_ context.Context, report *Report) error {
	sum := report.Summary
	summary := xlsx.Sheet{
		Name:    "Summary",
		Headers: []string{"Metric", "Value"},
		Rows: [][]any{
			{"executionId", report.ExecutionID},
			{"projectId", report.ProjectID},
			{"status", string(report.Status)},
			{"startedAt", report.StartedAt},
			{"finishedAt", report.FinishedAt},
			{"duration", time.Duration(report.DurationMs) * time.Millisecond},
			{"totalRecords", sum.TotalRecords},
			{"successfulRecords", sum.SuccessfulRecords},
			{"failedRecords", sum.FailedRecords},
			{"tablesProcessed", sum.TablesProcessed},
			{"validationsPassed", sum.ValidationsPassed},
			{"validationsFailed", sum.ValidationsFailed},
			{"validationWarnings", sum.ValidationWarnings},
			{"attachmentsMigrated", sum.AttachmentsMigrated},
			{"attachmentsFailed", sum.AttachmentsFailed},
		},
	}

	stages := xlsx.Sheet{
		Name:    "Stages",
		Headers: []string{"Stage", "Status", "Processed", "Failed", "Duration (ms)", "Error"},
	}
	for _, st := range report.Stages {
		stages.Rows = append(stages.Rows, []any{string(st.Stage), string(st.Status), st.RecordsProcessed, st.RecordsFailed, st.DurationMs, st.Error})
	}

	tables := xlsx.Sheet{
		Name:    "Tables",
		Headers: []string{"Source", "Target", "Role", "Extracted", "Extract failed", "Loaded", "Load failed", "Status", "Error"},
	}
	for _, t := range report.Tables {
		tables.Rows = append(tables.Rows, []any{t.SourceTable, t.TargetTable, t.Role, t.Extracted, t.ExtractFailed, t.Loaded, t.LoadFailed, t.Status, t.Error})
	}

	validations := xlsx.Sheet{
		Name:    "Validations",
		Headers: []string{"Table", "Type", "Name", "Expected", "Actual", "Status", "Message"},
	}
	for _, v := range report.Validations {
		validations.Rows = append(validations.Rows, []any{v.Table, string(v.Kind), v.Name, fmt.Sprint(v.Expected), fmt.Sprint(v.Actual), string(v.Status), v.Message})
	}

	issues := xlsx.Sheet{Name: "Issues", Headers: []string{"Level", "Message"}}
	for _, e := range report.Errors {
		issues.Rows = append(issues.Rows, []any{"error", e})
	}
	for _, w := range report.Warnings {
		issues.Rows = append(issues.Rows, []any{"warning", w})
	}

	if err := xlsx.Write(s.Path, summary, stages, tables, validations, issues); err != nil {
		return fmt.Errorf("failed to write xlsx report: %w", err)
	}
	return nil
}

// reportStore - хранилище отчетов по ключу выполнения
type reportStore interface {
	StoreReport(ctx context.Context, executionID string, report any) error
}

// RedisSink сохраняет отчет в Redis рядом с состоянием выполнения
type RedisSink struct {
	Store reportStore
}

func (s RedisSink) PersistReport(ctx context.Context, report *Report) error {
	return s.Store.StoreReport(ctx, report.ExecutionID, report)
}

// BrokerSink отправляет отчет в очередь; ключ сообщения - ID выполнения
type BrokerSink struct {
	Publisher brokers.Publisher
}

func (s BrokerSink) PersistReport(ctx context.Context, report *Report) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := s.Publisher.Publish(ctx, report.ExecutionID, payload); err != nil {
		return fmt.Errorf("%s: %w", s.Publisher.Type(), err)
	}
	return nil
}

// configuredSinks открывает приемники из report.* конфигурации.
// Приемник, который не удалось открыть, пропускается с ошибкой.
func (r *Run) configuredSinks(ctx context.Context) ([]ReportSink, func(), error) {
	cfg := r.Config.Report
	var (
		sinks   []ReportSink
		closers []func() error
		errs    []error
	)

	if cfg.JSON != "" {
		sinks = append(sinks, JSONFileSink{Path: expandPath(cfg.JSON, r.ID), Compress: cfg.Compress})
	}
	if cfg.XLSX != "" {
		sinks = append(sinks, XLSXSink{Path: expandPath(cfg.XLSX, r.ID)})
	}
	if cfg.Redis != nil {
		p, err := resultlog.NewRedisPublisher(*cfg.Redis)
		if err != nil {
			errs = append(errs, fmt.Errorf("redis report sink: %w", err))
		} else {
			sinks = append(sinks, RedisSink{Store: p})
			closers = append(closers, p.Close)
		}
	}
	if cfg.Broker != nil {
		p, err := brokers.New(ctx, *cfg.Broker)
		if err != nil {
			errs = append(errs, fmt.Errorf("broker report sink: %w", err))
		} else {
			sinks = append(sinks, BrokerSink{Publisher: p})
			closers = append(closers, p.Close)
		}
	}

	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				r.Logger.Warn().Err(err).Msg("failed to close report sink")
			}
		}
	}
	return sinks, closeAll, errors.Join(errs...)
}

// expandPath подставляет ID выполнения вместо {execution}
func expandPath(path, executionID string) string {
	return strings.ReplaceAll(path, "{execution}", executionID)
}
