package etl

import (
	"context"
	"time"

	"github.com/ruslano69/tdtp-migrator/pkg/mapping"
)

// ExecutionStatus - состояние выполнения
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusPaused    ExecutionStatus = "paused"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
)

// Terminal - выполнение завершено и больше не меняется
func (s ExecutionStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StageName - идентификатор стадии конвейера
type StageName string

const (
	StageExtract        StageName = "extract"
	StageTransform      StageName = "transform"
	StageLoadDimensions StageName = "load-dimensions"
	StageLoadFacts      StageName = "load-facts"
	StageValidate       StageName = "validate"
	StageReport         StageName = "report"
)

// StageStatus - итог стадии
type StageStatus string

const (
	StageCompleted StageStatus = "completed"

	// StagePartial - часть таблиц упала при политике без fail-fast
	StagePartial StageStatus = "partial"

	StageFailed StageStatus = "failed"

	// StageSkipped - стадия отключена конфигурацией
	StageSkipped StageStatus = "skipped"
)

// StageResult - результат стадии. После записи в Execution не меняется.
type StageResult struct {
	Stage            StageName         `json:"stageId"`
	Status           StageStatus       `json:"status"`
	RecordsProcessed int64             `json:"recordsProcessed"`
	RecordsFailed    int64             `json:"recordsFailed"`
	StartedAt        time.Time         `json:"startedAt"`
	DurationMs       int64             `json:"duration"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Error            string            `json:"error,omitempty"`
}

// Duration возвращает длительность стадии
func (r StageResult) Duration() time.Duration {
	return time.Duration(r.DurationMs) * time.Millisecond
}

// Execution - одно выполнение конвейера миграции.
// Меняется только контроллером, после терминального статуса неизменно.
type Execution struct {
	ID               string          `json:"id"`
	ProjectID        string          `json:"projectId"`
	Status           ExecutionStatus `json:"status"`
	CurrentStage     StageName       `json:"currentStage,omitempty"`
	Stages           []StageResult   `json:"stages"`
	TotalRecords     int64           `json:"totalRecords"`
	ProcessedRecords int64           `json:"processedRecords"`
	FailedRecords    int64           `json:"failedRecords"`
	Progress         int             `json:"progress"`
	StartedAt        time.Time       `json:"startedAt"`
	FinishedAt       *time.Time      `json:"completedAt,omitempty"`
	Error            string          `json:"error,omitempty"`
}

func (e *Execution) clone() *Execution {
	c := *e
	c.Stages = append([]StageResult(nil), e.Stages...)
	if e.FinishedAt != nil {
		t := *e.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Stage - исполнитель одной стадии конвейера.
//
// Ошибка из Run означает, что стадия не может продолжаться вообще
// (нет подключения, прерывание по fail-fast, отмена). Сбои отдельных таблиц
// при остальных политиках отражаются в StageResult без ошибки.
type Stage interface {
	Name() StageName
	Run(ctx context.Context, run *Run) (StageResult, error)
}

// DefaultStages возвращает шесть стадий в порядке выполнения
func DefaultStages() []Stage {
	return []Stage{
		ExtractStage{},
		TransformStage{},
		LoadStage{Role: mapping.RoleDimension},
		LoadStage{Role: mapping.RoleFact},
		ValidateStage{},
		ReportStage{},
	}
}
