package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Level - уровень детализации аудита
type Level int

const (
	// LevelMinimal - только операция, статус и таблица
	LevelMinimal Level = iota + 1
	// LevelStandard - плюс счётчики, длительность и ошибки
	LevelStandard
	// LevelFull - плюс метаданные
	LevelFull
)

// ParseLevel разбирает уровень из конфигурации.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "", "standard":
		return LevelStandard, nil
	case "minimal":
		return LevelMinimal, nil
	case "full":
		return LevelFull, nil
	}
	return 0, fmt.Errorf("unknown audit level %q", s)
}

// Operation - тип операции миграции
type Operation string

const (
	OpExecution      Operation = "execution"
	OpDiscover       Operation = "discover"
	OpExtract        Operation = "extract"
	OpTransform      Operation = "transform"
	OpLoadDimensions Operation = "load-dimensions"
	OpLoadFacts      Operation = "load-facts"
	OpValidate       Operation = "validate"
	OpReport         Operation = "report"
	OpAttachment     Operation = "attachment"
	OpPause          Operation = "pause"
	OpResume         Operation = "resume"
	OpCancel         Operation = "cancel"
)

// Status - результат операции
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusPartial Status = "partial"
)

// Entry - запись аудита
type Entry struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	ExecutionID     string            `json:"execution_id,omitempty"`
	Operation       Operation         `json:"operation"`
	Status          Status            `json:"status"`
	User            string            `json:"user,omitempty"`
	Table           string            `json:"table,omitempty"`
	RecordsAffected int64             `json:"records_affected,omitempty"`
	RecordsFailed   int64             `json:"records_failed,omitempty"`
	Duration        time.Duration     `json:"duration_ns,omitempty"`
	ErrorMessage    string            `json:"error,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// NewEntry создаёт запись со сгенерированным идентификатором.
func NewEntry(op Operation, status Status) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Operation: op,
		Status:    status,
	}
}

func (e *Entry) WithExecution(id string) *Entry {
	e.ExecutionID = id
	return e
}

func (e *Entry) WithUser(user string) *Entry {
	e.User = user
	return e
}

func (e *Entry) WithTable(table string) *Entry {
	e.Table = table
	return e
}

func (e *Entry) WithRecords(affected, failed int64) *Entry {
	e.RecordsAffected = affected
	e.RecordsFailed = failed
	return e
}

func (e *Entry) WithDuration(d time.Duration) *Entry {
	e.Duration = d
	return e
}

// WithError переводит запись в failure, если статус ещё success.
func (e *Entry) WithError(err error) *Entry {
	if err == nil {
		return e
	}
	e.ErrorMessage = err.Error()
	if e.Status == StatusSuccess {
		e.Status = StatusFailure
	}
	return e
}

func (e *Entry) WithMetadata(key, value string) *Entry {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// FilterByLevel возвращает копию записи с полями, допустимыми для уровня.
func (e *Entry) FilterByLevel(level Level) *Entry {
	out := &Entry{
		ID:          e.ID,
		Timestamp:   e.Timestamp,
		ExecutionID: e.ExecutionID,
		Operation:   e.Operation,
		Status:      e.Status,
		Table:       e.Table,
	}
	if level >= LevelStandard {
		out.User = e.User
		out.RecordsAffected = e.RecordsAffected
		out.RecordsFailed = e.RecordsFailed
		out.Duration = e.Duration
		out.ErrorMessage = e.ErrorMessage
	}
	if level >= LevelFull && len(e.Metadata) > 0 {
		out.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

func (e *Entry) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// String - однострочное представление для консоли
func (e *Entry) String() string {
	s := fmt.Sprintf("[%s] %s %s", e.Timestamp.Format(time.RFC3339), e.Operation, e.Status)
	if e.Table != "" {
		s += " table=" + e.Table
	}
	if e.RecordsAffected > 0 || e.RecordsFailed > 0 {
		s += fmt.Sprintf(" records=%d failed=%d", e.RecordsAffected, e.RecordsFailed)
	}
	if e.Duration > 0 {
		s += " duration=" + e.Duration.String()
	}
	if e.ErrorMessage != "" {
		s += " error=" + e.ErrorMessage
	}
	return s
}
