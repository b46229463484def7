package retry

import (
	"fmt"
	"time"
)

// Config - фиксированное число попыток с постоянной задержкой
type Config struct {
	// Attempts - максимальное количество попыток, включая первую
	Attempts int `yaml:"attempts" json:"attempts"`

	// DelayMs - пауза между попытками в миллисекундах
	DelayMs int `yaml:"delay_ms" json:"delayMs"`

	// OnRetry вызывается перед каждым повтором
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// Validate проверяет корректность конфигурации
func (c Config) Validate() error {
	if c.Attempts < 1 {
		return fmt.Errorf("retry attempts must be >= 1, got %d", c.Attempts)
	}
	if c.DelayMs < 0 {
		return fmt.Errorf("retry delay must be >= 0, got %d", c.DelayMs)
	}
	return nil
}

// Delay возвращает паузу между попытками
func (c Config) Delay() time.Duration {
	return time.Duration(c.DelayMs) * time.Millisecond
}

// DefaultConfig - 3 попытки с паузой в секунду
func DefaultConfig() Config {
	return Config{Attempts: 3, DelayMs: 1000}
}
