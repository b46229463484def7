package etl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	_ "github.com/ruslano69/tdtp-migrator/pkg/adapters/sqlite"
	"github.com/ruslano69/tdtp-migrator/pkg/attachments"
	"github.com/ruslano69/tdtp-migrator/pkg/audit"
	"github.com/ruslano69/tdtp-migrator/pkg/core/schema"
	"github.com/ruslano69/tdtp-migrator/pkg/idmap"
	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
	"github.com/ruslano69/tdtp-migrator/pkg/retry"
)

// ErrCancelled - выполнение отменено сигналом Cancel
var ErrCancelled = errors.New("execution cancelled")

// TableState - состояние одной таблицы на протяжении выполнения.
// Таблицу внутри стадии обрабатывает одна горутина.
type TableState struct {
	Mapping mapping.TableMapping

	// Extracted - строк в staging, ExtractFailed - прочитано, но не попало
	Extracted     int64
	ExtractFailed int64

	Loaded     int64
	LoadFailed int64

	// TargetBefore - строк в цели до загрузки (для append)
	TargetBefore int64

	LoadStart time.Time
	LoadEnd   time.Time

	// Failed - таблица брошена; последующие стадии ее пропускают
	Failed   bool
	FailedAt StageName
	Err      error

	// HadErrors - были пропущенные порции или колонки
	HadErrors bool

	layout *stagingLayout
}

func (s *TableState) fail(stage StageName, err error) {
	if s.Failed {
		return
	}
	s.Failed = true
	s.FailedAt = stage
	s.Err = err
}

// Run - контекст одного выполнения, общий для всех стадий
type Run struct {
	ID      string
	Config  ExecutionConfig
	Project *mapping.Project
	Levels  [][]mapping.TableMapping
	Env     *Env
	Tracker *idmap.Tracker
	Logger  zerolog.Logger

	retryer   *retry.Retryer
	dlq       *retry.DLQ
	cancelled *atomic.Bool
	startedAt time.Time

	// tables заполняется при создании и дальше не меняется как map
	tables map[string]*TableState

	// sourceSchema - результат discovery стадии extract
	sourceSchema *schema.Database

	mu          sync.Mutex
	stages      []StageResult
	validations []ValidationResult
	warnings    []string
	errs        []string
	attachments attachments.Summary
	report      *Report
}

func newRun(id string, cfg ExecutionConfig, project *mapping.Project, env *Env, cancelled *atomic.Bool) (*Run, error) {
	levels, err := mapping.Levels(project.Tables)
	if err != nil {
		return nil, err
	}
	retryer, err := retry.NewRetryer(cfg.Retry)
	if err != nil {
		return nil, err
	}
	if cancelled == nil {
		cancelled = new(atomic.Bool)
	}
	var dlq *retry.DLQ
	if cfg.DeadLetter != "" {
		if dlq, err = retry.NewDLQ(expandPath(cfg.DeadLetter, id), 0); err != nil {
			return nil, fmt.Errorf("dead letter: %w", err)
		}
	}

	r := &Run{
		ID:        id,
		Config:    cfg,
		Project:   project,
		Levels:    levels,
		Env:       env,
		Tracker:   idmap.NewTracker(env.Store, id),
		Logger:    env.Logger.With().Str("execution", id).Str("project", project.ID).Logger(),
		retryer:   retryer,
		dlq:       dlq,
		cancelled: cancelled,
		startedAt: time.Now().UTC(),
		tables:    make(map[string]*TableState, len(project.Tables)),
	}
	for _, t := range project.Tables {
		r.tables[t.SourceTable] = &TableState{Mapping: t}
	}
	return r, nil
}

// Tables возвращает соответствия в порядке загрузки
func (r *Run) Tables() []mapping.TableMapping {
	return mapping.Flatten(r.Levels)
}

// State возвращает состояние таблицы источника
func (r *Run) State(sourceTable string) *TableState {
	return r.tables[sourceTable]
}

// Cancelled - пришел сигнал отмены
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// Warn добавляет предупреждение в отчет
func (r *Run) Warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	r.Logger.Warn().Msg(msg)
	r.mu.Lock()
	r.warnings = append(r.warnings, msg)
	r.mu.Unlock()
}

// deadLetter записывает брошенную порцию или таблицу в журнал dead_letter
func (r *Run) deadLetter(stage StageName, table string, rows int64, err error) {
	if r.dlq == nil {
		return
	}
	entry := retry.DLQEntry{
		Unit:      string(stage) + " " + table,
		Attempts:  r.retryer.Attempts(),
		LastError: err.Error(),
		Data:      map[string]any{"execution": r.ID, "table": table, "rows": rows},
	}
	var le *LoadError
	if errors.As(err, &le) {
		entry.Data["kind"] = string(le.Kind)
	}
	if aerr := r.dlq.Add(entry); aerr != nil {
		r.Logger.Warn().Err(aerr).Str("table", table).Msg("failed to write dead letter")
	}
}

// Error добавляет ошибку в отчет
func (r *Run) Error(stage StageName, table string, err error) {
	msg := fmt.Sprintf("%s: %v", stage, err)
	if table != "" {
		msg = fmt.Sprintf("%s %s: %v", stage, table, err)
	}
	r.Logger.Error().Err(err).Str("stage", string(stage)).Str("table", table).Msg("table failed")
	r.mu.Lock()
	r.errs = append(r.errs, msg)
	r.mu.Unlock()
}

func (r *Run) addValidation(v ValidationResult) {
	r.mu.Lock()
	r.validations = append(r.validations, v)
	r.mu.Unlock()
	validationsTotal.WithLabelValues(string(v.Kind), string(v.Status)).Inc()
}

func (r *Run) addAttachments(s attachments.Summary) {
	r.mu.Lock()
	r.attachments.Migrated += s.Migrated
	r.attachments.Failed += s.Failed
	r.mu.Unlock()
}

func (r *Run) attachmentSummary() attachments.Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attachments
}

func (r *Run) recordStage(res StageResult) {
	r.mu.Lock()
	r.stages = append(r.stages, res)
	r.mu.Unlock()
}

// Validations возвращает результаты проверок
func (r *Run) Validations() []ValidationResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ValidationResult(nil), r.validations...)
}

// Report возвращает отчет, если стадия report уже отработала
func (r *Run) Report() *Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.report
}

// outcome - итоговый статус по уже записанным стадиям
func (r *Run) outcome() ExecutionStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.stages {
		if s.Status == StageFailed {
			return StatusFailed
		}
	}
	return StatusCompleted
}

// totals - строк прочитано из источника и загружено в цель
func (r *Run) totals() (read, loaded int64) {
	for _, s := range r.tables {
		read += s.Extracted + s.ExtractFailed
		loaded += s.Loaded
	}
	return read, loaded
}

func (r *Run) audit(ctx context.Context, e *audit.Entry) {
	e.WithExecution(r.ID)
	if err := r.Env.Audit.Log(ctx, e); err != nil {
		r.Logger.Warn().Err(err).Msg("audit entry lost")
	}
}

// conns - подключения одной стадии. Закрываются на выходе из стадии.
type conns struct {
	source  adapters.Engine
	target  adapters.Engine
	staging adapters.SQLEngine

	closers []func() error
}

func (c *conns) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

// targetSQL возвращает цель как SQL-движок, если она такая
func (c *conns) targetSQL() (adapters.SQLEngine, bool) {
	if c.target == nil {
		return nil, false
	}
	return adapters.AsSQL(c.target)
}

type connNeeds struct {
	source, target, staging bool
}

// open открывает подключения, нужные стадии. Staging живет в самой цели,
// если она SQL, иначе в файле SQLite workspace.
func (r *Run) open(ctx context.Context, need connNeeds) (*conns, error) {
	c := &conns{}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	if need.source {
		e, err := r.Env.Factory.Open(ctx, r.Project.Source, r.Env.Credentials)
		if err != nil {
			return nil, err
		}
		c.source = e
		c.closers = append(c.closers, e.Close)
	}

	targetIsSQL := !engineKind(r.Project.Target).IsDocumentStore()
	if need.target || (need.staging && targetIsSQL) {
		e, err := r.Env.Factory.Open(ctx, r.Project.Target, r.Env.Credentials)
		if err != nil {
			return nil, err
		}
		c.target = e
		c.closers = append(c.closers, e.Close)
	}

	if need.staging {
		if s, isSQL := c.targetSQL(); isSQL {
			c.staging = s
		} else {
			path := r.Config.WorkspacePath(r.ID)
			e, err := r.Env.Factory.OpenConfig(ctx, adapters.Config{
				Kind:     schema.KindSQLite,
				DSN:      path,
				Database: path,
			}, "staging")
			if err != nil {
				return nil, fmt.Errorf("failed to open staging workspace: %w", err)
			}
			c.closers = append(c.closers, e.Close)
			s, isSQL := adapters.AsSQL(e)
			if !isSQL {
				return nil, fmt.Errorf("staging workspace engine %s has no SQL access", e.Kind())
			}
			c.staging = s
		}
	}

	ok = true
	return c, nil
}

// engineKind возвращает каноническое имя движка подключения
func engineKind(c adapters.Connection) schema.EngineKind {
	k, err := schema.ParseEngineKind(string(c.Engine))
	if err != nil {
		return c.Engine
	}
	return k
}
