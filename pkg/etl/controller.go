package etl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters"
	"github.com/ruslano69/tdtp-migrator/pkg/audit"
	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
	"github.com/ruslano69/tdtp-migrator/pkg/resultlog"
	"github.com/ruslano69/tdtp-migrator/pkg/security"
)

// ErrExecutionNotFound - выполнения с таким ID нет
var ErrExecutionNotFound = errors.New("execution not found")

// Controller ведет выполнения через стадии конвейера.
//
// Pause/Resume/Cancel только выставляют флаги: контроллер видит их на
// границе стадий, отмена дополнительно проверяется перед каждой таблицей.
type Controller struct {
	env    *Env
	stages []Stage

	mu         sync.RWMutex
	executions map[string]*handle
}

// handle - выполнение и его сигналы
type handle struct {
	mu   sync.Mutex
	exec *Execution
	run  *Run

	paused    atomic.Bool
	cancelled atomic.Bool

	// wake будит выполнение, стоящее на паузе
	wake chan struct{}
	done chan struct{}
	err  error
}

func (h *handle) update(fn func(e *Execution)) *Execution {
	h.mu.Lock()
	defer h.mu.Unlock()
	fn(h.exec)
	return h.exec.clone()
}

func (h *handle) snapshot() *Execution {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exec.clone()
}

func (h *handle) signal() {
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// NewController создает контроллер. Без stages используется DefaultStages.
func NewController(env *Env, stages ...Stage) *Controller {
	if env == nil {
		env = &Env{}
	}
	if len(stages) == 0 {
		stages = DefaultStages()
	}
	return &Controller{
		env:        env.withDefaults(),
		stages:     stages,
		executions: make(map[string]*handle),
	}
}

// Execute выполняет миграцию синхронно и возвращает итоговое состояние.
// Ошибка возвращается для неверной конфигурации и для прерванного выполнения;
// сбои таблиц при continue-on-error и skip-and-log видны только в состоянии.
func (c *Controller) Execute(ctx context.Context, cfg ExecutionConfig) (*Execution, error) {
	h, err := c.register(cfg)
	if err != nil {
		return nil, err
	}
	c.run(ctx, h, cfg)
	return h.snapshot(), h.err
}

// Start запускает выполнение в фоне и сразу возвращает его ID.
// Отмена ctx вызывающего выполнение не прерывает, для этого есть Cancel.
func (c *Controller) Start(ctx context.Context, cfg ExecutionConfig) (string, error) {
	h, err := c.register(cfg)
	if err != nil {
		return "", err
	}
	id := h.exec.ID
	go c.run(context.WithoutCancel(ctx), h, cfg)
	return id, nil
}

// Wait ждет завершения выполнения
func (c *Controller) Wait(ctx context.Context, id string) (*Execution, error) {
	h, err := c.get(id)
	if err != nil {
		return nil, err
	}
	select {
	case <-h.done:
		return h.snapshot(), h.err
	case <-ctx.Done():
		return h.snapshot(), ctx.Err()
	}
}

// GetStatus возвращает копию текущего состояния выполнения
func (c *Controller) GetStatus(id string) (*Execution, error) {
	h, err := c.get(id)
	if err != nil {
		return nil, err
	}
	return h.snapshot(), nil
}

// GetReport возвращает отчет выполнения, если стадия report отработала
func (c *Controller) GetReport(id string) (*Report, error) {
	h, err := c.get(id)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	run := h.run
	h.mu.Unlock()
	if run == nil || run.Report() == nil {
		return nil, fmt.Errorf("execution %s: report is not available", id)
	}
	return run.Report(), nil
}

// List возвращает состояния всех известных выполнений
func (c *Controller) List() []*Execution {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Execution, 0, len(c.executions))
	for _, h := range c.executions {
		out = append(out, h.snapshot())
	}
	return out
}

// Pause просит остановиться на ближайшей границе стадий.
// Для завершенного выполнения ничего не делает.
func (c *Controller) Pause(id string) error {
	h, err := c.get(id)
	if err != nil {
		return err
	}
	if h.snapshot().Status.Terminal() {
		return nil
	}
	h.paused.Store(true)
	return nil
}

// Resume снимает паузу
func (c *Controller) Resume(id string) error {
	h, err := c.get(id)
	if err != nil {
		return err
	}
	if h.snapshot().Status.Terminal() {
		return nil
	}
	h.paused.Store(false)
	h.signal()
	return nil
}

// Cancel отменяет выполнение. Уже записанные в цель таблицы не откатываются.
func (c *Controller) Cancel(id string) error {
	h, err := c.get(id)
	if err != nil {
		return err
	}
	if h.snapshot().Status.Terminal() {
		return nil
	}
	h.cancelled.Store(true)
	h.signal()
	return nil
}

func (c *Controller) get(id string) (*handle, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.executions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
	}
	return h, nil
}

func (c *Controller) register(cfg ExecutionConfig) (*handle, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	id := cfg.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}
	h := &handle{
		exec: &Execution{
			ID:        id,
			ProjectID: cfg.ProjectID,
			Status:    StatusPending,
			Stages:    []StageResult{},
		},
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.executions[id]; exists {
		return nil, fmt.Errorf("execution %s already exists", id)
	}
	c.executions[id] = h
	return h, nil
}

// run проводит выполнение через все стадии и фиксирует терминальный статус
func (c *Controller) run(ctx context.Context, h *handle, cfg ExecutionConfig) {
	defer close(h.done)
	executionsActive.Inc()
	defer executionsActive.Dec()

	id := h.exec.ID
	cfg.ExecutionID = id
	logger := c.env.Logger.With().Str("execution", id).Str("project", cfg.ProjectID).Logger()

	h.update(func(e *Execution) {
		e.Status = StatusRunning
		e.StartedAt = time.Now().UTC()
	})

	env, closeEnv, err := c.openSession(ctx, cfg)
	defer closeEnv()
	c.publish(ctx, env, h)

	var run *Run
	if err == nil {
		run, err = c.prepare(ctx, h, cfg, env)
	}
	if err != nil {
		logger.Error().Err(err).Msg("execution setup failed")
		c.finish(ctx, env, h, nil, err)
		return
	}

	logger.Info().
		Int("tables", len(run.Project.Tables)).
		Int("levels", len(run.Levels)).
		Str("strategy", string(cfg.LoadStrategy)).
		Str("policy", string(cfg.ErrorHandling)).
		Msg("execution started")

	var abort error
	for i, stage := range c.stages {
		if err := c.checkpoint(ctx, env, h, run); err != nil {
			abort = err
			break
		}

		name := stage.Name()
		h.update(func(e *Execution) { e.CurrentStage = name })
		c.publish(ctx, env, h)

		started := time.Now()
		res, err := stage.Run(ctx, run)
		res.Stage = name
		res.StartedAt = started.UTC()
		res.DurationMs = time.Since(started).Milliseconds()
		if err != nil {
			res.Status = StageFailed
			if res.Error == "" {
				res.Error = err.Error()
			}
		}

		h.update(func(e *Execution) {
			e.Stages = append(e.Stages, res)
			e.ProcessedRecords += res.RecordsProcessed
			e.FailedRecords += res.RecordsFailed
			e.Progress = (i + 1) * 100 / len(c.stages)
			if name == StageExtract {
				e.TotalRecords, _ = run.totals()
			}
		})
		run.recordStage(res)
		observeStage(res)
		c.auditStage(ctx, run, res)
		c.publish(ctx, env, h)

		logger.Info().
			Str("stage", string(name)).
			Str("status", string(res.Status)).
			Int64("processed", res.RecordsProcessed).
			Int64("failed", res.RecordsFailed).
			Dur("duration", res.Duration()).
			Msg("stage finished")

		if err != nil && (cancelled(err) || cfg.ErrorHandling == FailFast) {
			abort = err
			break
		}
		if res.Status == StageFailed && cfg.ErrorHandling == FailFast {
			abort = fmt.Errorf("stage %s failed: %s", name, res.Error)
			break
		}
	}

	c.finish(ctx, env, h, run, abort)
}

// prepare читает проект и создает контекст выполнения
func (c *Controller) prepare(ctx context.Context, h *handle, cfg ExecutionConfig, env *Env) (*Run, error) {
	if env.Repository == nil {
		return nil, fmt.Errorf("no mapping repository configured")
	}
	project, err := mapping.LoadProject(ctx, env.Repository, cfg.ProjectID)
	if err != nil {
		return nil, err
	}
	run, err := newRun(h.exec.ID, cfg, project, env, &h.cancelled)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.run = run
	h.mu.Unlock()
	return run, nil
}

// checkpoint - граница стадий: отмена или ожидание снятия паузы
func (c *Controller) checkpoint(ctx context.Context, env *Env, h *handle, run *Run) error {
	for {
		if h.cancelled.Load() {
			return ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !h.paused.Load() {
			if h.snapshot().Status == StatusPaused {
				h.update(func(e *Execution) { e.Status = StatusRunning })
				run.audit(ctx, audit.NewEntry(audit.OpResume, audit.StatusSuccess))
				run.Logger.Info().Msg("execution resumed")
				c.publish(ctx, env, h)
			}
			return nil
		}

		if h.snapshot().Status != StatusPaused {
			h.update(func(e *Execution) { e.Status = StatusPaused })
			run.audit(ctx, audit.NewEntry(audit.OpPause, audit.StatusSuccess))
			run.Logger.Info().Msg("execution paused")
			c.publish(ctx, env, h)
		}
		select {
		case <-h.wake:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// finish фиксирует терминальный статус. После него состояние не меняется.
func (c *Controller) finish(ctx context.Context, env *Env, h *handle, run *Run, abort error) {
	status := StatusFailed
	switch {
	case cancelled(abort) || (abort == nil && h.cancelled.Load()):
		status = StatusCancelled
		if abort == nil {
			abort = ErrCancelled
		}
	case abort != nil:
		status = StatusFailed
	case run != nil:
		status = run.outcome()
	}

	final := h.update(func(e *Execution) {
		now := time.Now().UTC()
		e.Status = status
		e.CurrentStage = ""
		e.FinishedAt = &now
		if status == StatusCompleted {
			e.Progress = 100
		}
		switch {
		case abort != nil:
			e.Error = abort.Error()
		case status == StatusFailed:
			for _, s := range e.Stages {
				if s.Status == StageFailed {
					e.Error = fmt.Sprintf("stage %s failed: %s", s.Stage, s.Error)
					break
				}
			}
		}
	})
	h.err = abort

	executionsTotal.WithLabelValues(string(status)).Inc()
	c.publish(ctx, env, h)

	entry := audit.NewEntry(audit.OpExecution, audit.StatusSuccess).
		WithExecution(final.ID).
		WithRecords(final.ProcessedRecords, final.FailedRecords).
		WithMetadata("status", string(status))
	if final.FinishedAt != nil {
		entry.WithDuration(final.FinishedAt.Sub(final.StartedAt))
	}
	switch status {
	case StatusCancelled:
		entry.Operation = audit.OpCancel
		entry.Status = audit.StatusPartial
	case StatusFailed:
		entry.Status = audit.StatusFailure
		entry.WithError(errors.New(final.Error))
	}
	if env != nil && env.Audit != nil {
		if err := env.Audit.Log(ctx, entry); err != nil {
			c.env.Logger.Warn().Err(err).Msg("audit entry lost")
		}
	}

	ev := c.env.Logger.Info()
	if status != StatusCompleted {
		ev = c.env.Logger.Warn()
	}
	ev.Str("execution", final.ID).
		Str("status", string(status)).
		Int64("total", final.TotalRecords).
		Int64("processed", final.ProcessedRecords).
		Int64("failed", final.FailedRecords).
		Str("error", final.Error).
		Msg("execution finished")
}

func (c *Controller) auditStage(ctx context.Context, run *Run, res StageResult) {
	status := audit.StatusSuccess
	switch res.Status {
	case StagePartial:
		status = audit.StatusPartial
	case StageFailed:
		status = audit.StatusFailure
	}
	entry := audit.NewEntry(audit.Operation(res.Stage), status).
		WithRecords(res.RecordsProcessed, res.RecordsFailed).
		WithDuration(res.Duration()).
		WithMetadata("stage_status", string(res.Status))
	if res.Error != "" {
		entry.WithError(errors.New(res.Error))
	}
	run.audit(ctx, entry)
}

func (c *Controller) publish(ctx context.Context, env *Env, h *handle) {
	if env == nil || env.Publisher == nil {
		return
	}
	snap := h.snapshot()
	if err := env.Publisher.Publish(ctx, snap.ID, snap); err != nil {
		c.env.Logger.Warn().Err(err).Str("execution", snap.ID).Msg("failed to publish execution state")
	}
}

// openSession открывает ресурсы выполнения из его конфигурации: журнал аудита
// и публикацию состояния. Закрывающая функция возвращается всегда.
func (c *Controller) openSession(ctx context.Context, cfg ExecutionConfig) (*Env, func(), error) {
	env := *c.env
	var closers []func() error
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				c.env.Logger.Warn().Err(err).Msg("failed to release execution resources")
			}
		}
	}
	closers = append(closers, func() error {
		if cfg.Staging.Workspace != "" {
			return nil
		}
		err := os.Remove(cfg.WorkspacePath(cfg.ExecutionID))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	})

	if cfg.ResultLog != nil && env.Publisher == nil {
		p, err := resultlog.NewRedisPublisher(*cfg.ResultLog)
		if err != nil {
			return &env, closeAll, fmt.Errorf("result log: %w", err)
		}
		env.Publisher = p
		closers = append(closers, p.Close)
	}

	if cfg.Audit.Enabled {
		l, closeAudit, err := c.openAudit(ctx, cfg)
		if err != nil {
			return &env, closeAll, fmt.Errorf("audit: %w", err)
		}
		env.Audit = l
		closers = append(closers, closeAudit)
	}
	return &env, closeAll, nil
}

// openAudit собирает журнал аудита: лог всегда, файл и служебная
// таблица SQL-цели по конфигурации
func (c *Controller) openAudit(ctx context.Context, cfg ExecutionConfig) (audit.Logger, func() error, error) {
	level, err := audit.ParseLevel(cfg.Audit.Level)
	if err != nil {
		return nil, nil, err
	}

	appenders := []audit.Appender{audit.LogAppender{Logger: c.env.Logger}}
	var engines []adapters.Engine
	release := func() {
		audit.MultiAppender(appenders).Close()
		for _, e := range engines {
			e.Close()
		}
	}

	if cfg.Audit.File != "" {
		fa, err := audit.NewFileAppender(audit.FileAppenderConfig{Path: cfg.Audit.File, Level: level})
		if err != nil {
			release()
			return nil, nil, err
		}
		appenders = append(appenders, fa)
	}

	if cfg.Audit.Table && c.env.Repository != nil {
		project, err := mapping.LoadProject(ctx, c.env.Repository, cfg.ProjectID)
		if err != nil {
			release()
			return nil, nil, err
		}
		e, err := c.env.Factory.Open(ctx, project.Target, c.env.Credentials)
		if err != nil {
			release()
			return nil, nil, err
		}
		engines = append(engines, e)
		if s, ok := adapters.AsSQL(e); ok {
			ta, err := audit.NewTableAppender(ctx, s, level, 50)
			if err != nil {
				release()
				return nil, nil, err
			}
			appenders = append(appenders, ta)
		}
	}

	l := audit.NewLogger(audit.Config{
		DefaultUser: security.CurrentUser(),
		OnError: func(err error) { c.env.Logger.Warn().Err(err).Msg("audit append failed") },
	}, appenders...)
	closeFn := func() error {
		err := l.Close()
		for _, e := range engines {
			err = errors.Join(err, e.Close())
		}
		return err
	}
	return l, closeFn, nil
}

func cancelled(err error) bool {
	return errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled)
}
