package etl

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
)

const fakeProjectYAML = `
connections:
  - id: src
    engine: sqlite
    database: %SRC%
    role: source
  - id: dst
    engine: sqlite
    database: %DST%
    role: target
projects:
  - id: demo
    source: src
    target: dst
    tables:
      - source: countries
        target: countries
        columns:
          - {source: id, target: id, primary_key: true}
          - {source: name, target: name, nullable: true}
`

func fakeRepository(t *testing.T) mapping.Repository {
	t.Helper()
	dir := t.TempDir()
	text := strings.NewReplacer(
		"%SRC%", filepath.Join(dir, "src.db"),
		"%DST%", filepath.Join(dir, "dst.db"),
	).Replace(fakeProjectYAML)
	repo, err := mapping.ReadYAML(strings.NewReader(text))
	require.NoError(t, err)
	return repo
}

// fakeStage - стадия с заранее заданным результатом
type fakeStage struct {
	name   StageName
	result StageResult
	err    error

	// gate, если задан, держит стадию до закрытия
	gate    chan struct{}
	started chan struct{}

	mu   sync.Mutex
	runs int
}

func (s *fakeStage) Name() StageName { return s.name }

func (s *fakeStage) Run(ctx context.Context, _ *Run) (StageResult, error) {
	s.mu.Lock()
	s.runs++
	s.mu.Unlock()
	if s.started != nil {
		close(s.started)
	}
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return StageResult{Status: StageFailed}, ctx.Err()
		}
	}
	return s.result, s.err
}

func (s *fakeStage) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

func fakeStages() []*fakeStage {
	names := []StageName{StageExtract, StageTransform, StageLoadDimensions, StageLoadFacts, StageValidate, StageReport}
	out := make([]*fakeStage, len(names))
	for i, n := range names {
		out[i] = &fakeStage{name: n, result: StageResult{Status: StageCompleted, RecordsProcessed: 10}}
	}
	return out
}

func asStages(fs []*fakeStage) []Stage {
	out := make([]Stage, len(fs))
	for i, s := range fs {
		out[i] = s
	}
	return out
}

// recordingPublisher запоминает каждый опубликованный снимок
type recordingPublisher struct {
	mu    sync.Mutex
	snaps []Execution
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, state any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := state.(*Execution); ok {
		p.snaps = append(p.snaps, *e)
	}
	return nil
}

func (p *recordingPublisher) Snapshots() []Execution {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Execution(nil), p.snaps...)
}

func newTestController(t *testing.T, policy ErrorPolicy, stages []*fakeStage) (*Controller, *recordingPublisher, ExecutionConfig) {
	t.Helper()
	pub := &recordingPublisher{}
	c := NewController(&Env{
		Repository: fakeRepository(t),
		Publisher:  pub,
		Logger:     zerolog.Nop(),
	}, asStages(stages)...)

	cfg := DefaultExecutionConfig()
	cfg.ProjectID = "demo"
	cfg.ErrorHandling = policy
	cfg.Staging.Workspace = filepath.Join(t.TempDir(), "ws.db")
	return c, pub, cfg
}

func TestController_CompletesAllStages(t *testing.T) {
	stages := fakeStages()
	c, pub, cfg := newTestController(t, FailFast, stages)

	exec, err := c.Execute(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Len(t, exec.Stages, 6)
	assert.Equal(t, 100, exec.Progress)
	assert.Equal(t, int64(60), exec.ProcessedRecords)
	assert.NotNil(t, exec.FinishedAt)
	assert.Empty(t, exec.CurrentStage)
	for i, s := range exec.Stages {
		assert.Equal(t, stages[i].name, s.Stage)
		assert.False(t, s.StartedAt.IsZero())
	}

	// прогресс не убывает
	last := 0
	for _, s := range pub.Snapshots() {
		assert.GreaterOrEqual(t, s.Progress, last)
		last = s.Progress
	}

	status, err := c.GetStatus(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, status.Status)
}

func TestController_FailFastSkipsRemainingStages(t *testing.T) {
	stages := fakeStages()
	stages[1].result = StageResult{Status: StageFailed}
	stages[1].err = errors.New("staging unavailable")
	c, _, cfg := newTestController(t, FailFast, stages)

	exec, err := c.Execute(context.Background(), cfg)
	require.Error(t, err)

	assert.Equal(t, StatusFailed, exec.Status)
	assert.Len(t, exec.Stages, 2)
	assert.Contains(t, exec.Error, "staging unavailable")
	assert.Equal(t, "staging unavailable", exec.Stages[1].Error)
	for _, s := range stages[2:] {
		assert.Zero(t, s.Runs(), "stage %s must not run", s.name)
	}

	_, err = c.GetReport(exec.ID)
	assert.Error(t, err)
}

func TestController_ContinueOnErrorRunsReport(t *testing.T) {
	stages := fakeStages()
	stages[2].result = StageResult{Status: StagePartial, RecordsProcessed: 5, RecordsFailed: 5}
	c, _, cfg := newTestController(t, ContinueOnError, stages)

	exec, err := c.Execute(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Len(t, exec.Stages, 6)
	assert.Equal(t, 1, stages[5].Runs())
	assert.Equal(t, int64(5), exec.FailedRecords)
}

func TestController_FailedStageFailsExecution(t *testing.T) {
	stages := fakeStages()
	stages[3].result = StageResult{Status: StageFailed, Error: "all 1 tables failed"}
	c, _, cfg := newTestController(t, SkipAndLog, stages)

	exec, err := c.Execute(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, exec.Status)
	assert.Len(t, exec.Stages, 6)
	assert.Contains(t, exec.Error, "load-facts")
}

func TestController_PauseAndResume(t *testing.T) {
	stages := fakeStages()
	stages[0].gate = make(chan struct{})
	stages[0].started = make(chan struct{})
	c, _, cfg := newTestController(t, FailFast, stages)

	id, err := c.Start(context.Background(), cfg)
	require.NoError(t, err)
	<-stages[0].started

	require.NoError(t, c.Pause(id))
	close(stages[0].gate)

	require.Eventually(t, func() bool {
		s, _ := c.GetStatus(id)
		return s.Status == StatusPaused
	}, 5*time.Second, 10*time.Millisecond)
	assert.Zero(t, stages[1].Runs(), "next stage must wait for resume")

	s, _ := c.GetStatus(id)
	assert.Len(t, s.Stages, 1)

	require.NoError(t, c.Resume(id))
	exec, err := c.Wait(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Len(t, exec.Stages, 6)
}

func TestController_CancelStopsAtBoundary(t *testing.T) {
	stages := fakeStages()
	stages[0].gate = make(chan struct{})
	stages[0].started = make(chan struct{})
	c, _, cfg := newTestController(t, ContinueOnError, stages)

	id, err := c.Start(context.Background(), cfg)
	require.NoError(t, err)
	<-stages[0].started

	require.NoError(t, c.Cancel(id))
	close(stages[0].gate)

	exec, err := c.Wait(context.Background(), id)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StatusCancelled, exec.Status)
	assert.Len(t, exec.Stages, 1)
	assert.Zero(t, stages[1].Runs())
	assert.Zero(t, stages[5].Runs(), "report is skipped on cancel")
}

func TestController_CancelWhilePaused(t *testing.T) {
	stages := fakeStages()
	stages[0].gate = make(chan struct{})
	stages[0].started = make(chan struct{})
	c, _, cfg := newTestController(t, FailFast, stages)

	id, err := c.Start(context.Background(), cfg)
	require.NoError(t, err)
	<-stages[0].started
	require.NoError(t, c.Pause(id))
	close(stages[0].gate)

	require.Eventually(t, func() bool {
		s, _ := c.GetStatus(id)
		return s.Status == StatusPaused
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Cancel(id))
	exec, _ := c.Wait(context.Background(), id)
	assert.Equal(t, StatusCancelled, exec.Status)
}

func TestController_SignalsAfterTerminalAreNoops(t *testing.T) {
	c, _, cfg := newTestController(t, FailFast, fakeStages())

	exec, err := c.Execute(context.Background(), cfg)
	require.NoError(t, err)

	require.NoError(t, c.Pause(exec.ID))
	require.NoError(t, c.Resume(exec.ID))
	require.NoError(t, c.Cancel(exec.ID))

	after, err := c.GetStatus(exec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, after.Status)
	assert.Equal(t, exec.FinishedAt, after.FinishedAt)
}

func TestController_UnknownExecution(t *testing.T) {
	c, _, _ := newTestController(t, FailFast, fakeStages())

	_, err := c.GetStatus("missing")
	assert.ErrorIs(t, err, ErrExecutionNotFound)
	assert.ErrorIs(t, c.Pause("missing"), ErrExecutionNotFound)
	assert.ErrorIs(t, c.Resume("missing"), ErrExecutionNotFound)
	assert.ErrorIs(t, c.Cancel("missing"), ErrExecutionNotFound)
}

func TestController_RejectsInvalidConfig(t *testing.T) {
	c, _, cfg := newTestController(t, FailFast, fakeStages())
	cfg.ErrorHandling = "retry-forever"

	_, err := c.Execute(context.Background(), cfg)
	assert.Error(t, err)
	assert.Empty(t, c.List())
}

func TestController_DuplicateExecutionID(t *testing.T) {
	c, _, cfg := newTestController(t, FailFast, fakeStages())
	cfg.ExecutionID = "exec-1"

	_, err := c.Execute(context.Background(), cfg)
	require.NoError(t, err)
	_, err = c.Execute(context.Background(), cfg)
	assert.Error(t, err)
}

func TestController_UnknownProjectFails(t *testing.T) {
	c, _, cfg := newTestController(t, FailFast, fakeStages())
	cfg.ProjectID = "nope"

	exec, err := c.Execute(context.Background(), cfg)
	require.Error(t, err)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Empty(t, exec.Stages)
}
