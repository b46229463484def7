package etl

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/ruslano69/tdtp-migrator/pkg/adapters/base"
	"github.com/ruslano69/tdtp-migrator/pkg/attachments"
	"github.com/ruslano69/tdtp-migrator/pkg/brokers"
	"github.com/ruslano69/tdtp-migrator/pkg/resilience"
	"github.com/ruslano69/tdtp-migrator/pkg/resultlog"
	"github.com/ruslano69/tdtp-migrator/pkg/retry"
	"github.com/ruslano69/tdtp-migrator/pkg/security"
)

// ErrorPolicy - политика обработки ошибок выполнения
type ErrorPolicy string

const (
	// FailFast - первая неисправимая ошибка прерывает выполнение
	FailFast ErrorPolicy = "fail-fast"

	// ContinueOnError - упавшая таблица бросается, остальные продолжают
	ContinueOnError ErrorPolicy = "continue-on-error"

	// SkipAndLog - упавшая порция пропускается и логируется, таблица продолжает
	SkipAndLog ErrorPolicy = "skip-and-log"
)

// LoadStrategy - способ записи в таблицы цели
type LoadStrategy string

const (
	TruncateLoad LoadStrategy = "truncate-load"
	Merge        LoadStrategy = "merge"
	Append       LoadStrategy = "append"
)

// ExecutionConfig - параметры одного выполнения миграции
type ExecutionConfig struct {
	ProjectID     string        `yaml:"project_id" json:"projectId"`
	ExecutionID   string        `yaml:"execution_id,omitempty" json:"executionId,omitempty"`
	BatchSize     int           `yaml:"batch_size" json:"batchSize"`
	Parallelism   int           `yaml:"parallelism" json:"parallelism"`
	ErrorHandling ErrorPolicy   `yaml:"error_handling" json:"errorHandling"`
	ValidateData  bool          `yaml:"validate_data" json:"validateData"`
	LoadStrategy  LoadStrategy  `yaml:"load_strategy" json:"loadStrategy"`
	Staging       StagingConfig `yaml:"staging" json:"staging"`

	// Retry - повторы порций extract/load и вложений
	Retry retry.Config `yaml:"retry" json:"retry"`

	Attachments AttachmentsConfig `yaml:"attachments" json:"attachments"`
	Report      ReportConfig      `yaml:"report" json:"report"`
	Audit       AuditConfig       `yaml:"audit" json:"audit"`

	// DeadLetter - JSON журнал брошенных порций и таблиц ({execution} заменяется на ID)
	DeadLetter string `yaml:"dead_letter,omitempty" json:"deadLetter,omitempty"`

	// ResultLog - публикация состояния выполнения в Redis (nil = отключено)
	ResultLog *resultlog.Config `yaml:"result_log,omitempty" json:"resultLog,omitempty"`
}

// StagingConfig - промежуточная область
type StagingConfig struct {
	// SchemaName - схема staging таблиц на SQL-цели (пусто = схема по умолчанию)
	SchemaName string `yaml:"schema_name" json:"schemaName"`

	// TablePrefix - префикс staging таблиц
	TablePrefix string `yaml:"table_prefix" json:"tablePrefix"`

	// AutoCreate - пересоздавать staging таблицы; false - очищать существующие
	AutoCreate bool `yaml:"auto_create" json:"autoCreate"`

	// Workspace - файл SQLite для staging, когда цель не SQL
	Workspace string `yaml:"workspace,omitempty" json:"workspace,omitempty"`
}

// AttachmentsConfig - перенос вложений документного источника
type AttachmentsConfig struct {
	Enabled bool                    `yaml:"enabled" json:"enabled"`
	Store   attachments.StoreConfig `yaml:"store" json:"store"`
	Prefix  string                  `yaml:"prefix,omitempty" json:"prefix,omitempty"`

	// RateLimit - загрузок в секунду, 0 = без ограничения
	RateLimit float64 `yaml:"rate_limit,omitempty" json:"rateLimit,omitempty"`

	// Breaker размыкает загрузку после серии ошибок хранилища (nil = отключено)
	Breaker *resilience.Config `yaml:"breaker,omitempty" json:"breaker,omitempty"`
}

// ReportConfig - приемники отчета о миграции
type ReportConfig struct {
	// JSON - путь файла отчета; суффикс .zst включает сжатие
	JSON     string `yaml:"json,omitempty" json:"json,omitempty"`
	Compress bool   `yaml:"compress,omitempty" json:"compress,omitempty"`

	XLSX string `yaml:"xlsx,omitempty" json:"xlsx,omitempty"`

	Redis  *resultlog.Config `yaml:"redis,omitempty" json:"redis,omitempty"`
	Broker *brokers.Config   `yaml:"broker,omitempty" json:"broker,omitempty"`
}

// AuditConfig - журнал операций
type AuditConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Level   string `yaml:"level,omitempty" json:"level,omitempty"`
	File    string `yaml:"file,omitempty" json:"file,omitempty"`

	// Table - писать журнал в служебную таблицу SQL-цели
	Table bool `yaml:"table,omitempty" json:"table,omitempty"`
}

// DefaultExecutionConfig - значения, поверх которых читается YAML
func DefaultExecutionConfig() ExecutionConfig {
	return ExecutionConfig{
		BatchSize:     1000,
		Parallelism:   1,
		ErrorHandling: FailFast,
		ValidateData:  true,
		LoadStrategy:  TruncateLoad,
		Staging: StagingConfig{
			TablePrefix: base.ServicePrefix + "stg_",
			AutoCreate:  true,
		},
		Retry: retry.DefaultConfig(),
	}
}

// LoadExecutionConfig читает конфигурацию выполнения из YAML файла
func LoadExecutionConfig(path string) (*ExecutionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseExecutionConfig(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// ParseExecutionConfig разбирает YAML поверх значений по умолчанию без проверки:
// вызывающий может дополнить конфигурацию перед Validate
func ParseExecutionConfig(data []byte) (ExecutionConfig, error) {
	cfg := DefaultExecutionConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// SetDefaults заполняет необязательные поля
func (c *ExecutionConfig) SetDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 1000
	}
	if c.Parallelism == 0 {
		c.Parallelism = 1
	}
	if c.ErrorHandling == "" {
		c.ErrorHandling = FailFast
	}
	if c.LoadStrategy == "" {
		c.LoadStrategy = TruncateLoad
	}
	if c.Staging.TablePrefix == "" {
		c.Staging.TablePrefix = base.ServicePrefix + "stg_"
	}
	if c.Retry.Attempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	if c.Audit.Level == "" {
		c.Audit.Level = "standard"
	}
	if c.Attachments.Prefix == "" {
		c.Attachments.Prefix = "attachments"
	}
}

// WorkspacePath возвращает файл staging workspace для выполнения
func (c *ExecutionConfig) WorkspacePath(executionID string) string {
	if c.Staging.Workspace != "" {
		return c.Staging.Workspace
	}
	return filepath.Join(os.TempDir(), "tdtp-migrator-"+executionID+".db")
}

// Validate проверяет корректность конфигурации
func (c *ExecutionConfig) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.Parallelism <= 0 {
		return fmt.Errorf("parallelism must be positive, got %d", c.Parallelism)
	}

	switch c.ErrorHandling {
	case FailFast, ContinueOnError, SkipAndLog:
	default:
		return fmt.Errorf("error_handling must be one of: fail-fast, continue-on-error, skip-and-log (got %q)", c.ErrorHandling)
	}
	switch c.LoadStrategy {
	case TruncateLoad, Merge, Append:
	default:
		return fmt.Errorf("load_strategy must be one of: truncate-load, merge, append (got %q)", c.LoadStrategy)
	}

	if err := c.Staging.Validate(); err != nil {
		return fmt.Errorf("staging: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if c.Attachments.Enabled && c.Attachments.Store.Type == "" {
		return fmt.Errorf("attachments: store.type is required when enabled")
	}
	if c.Attachments.RateLimit < 0 {
		return fmt.Errorf("attachments: rate_limit must be >= 0")
	}
	if b := c.Attachments.Breaker; b != nil {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("attachments.breaker: %w", err)
		}
	}
	if c.ResultLog != nil {
		if err := c.ResultLog.Validate(); err != nil {
			return fmt.Errorf("result_log: %w", err)
		}
	}
	if c.Report.Redis != nil {
		if err := c.Report.Redis.Validate(); err != nil {
			return fmt.Errorf("report.redis: %w", err)
		}
	}
	return nil
}

// Validate проверяет идентификаторы staging: они попадают в DDL
func (s *StagingConfig) Validate() error {
	if s.SchemaName != "" {
		if err := security.ValidateIdentifier(s.SchemaName); err != nil {
			return fmt.Errorf("schema_name: %w", err)
		}
	}
	if s.TablePrefix == "" {
		return fmt.Errorf("table_prefix is required")
	}
	if err := security.ValidateIdentifier(s.TablePrefix); err != nil {
		return fmt.Errorf("table_prefix: %w", err)
	}
	return nil
}
