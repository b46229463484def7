package resilience

import (
	"fmt"
	"time"
)

// Config - параметры circuit breaker
type Config struct {
	// Name - имя для логов
	Name string `yaml:"name,omitempty" json:"name,omitempty"`

	// MaxFailures - подряд идущих ошибок для открытия
	MaxFailures uint32 `yaml:"max_failures" json:"maxFailures"`

	// OpenTimeoutMs - время в Open перед пробным вызовом (Half-Open)
	OpenTimeoutMs int `yaml:"open_timeout_ms" json:"openTimeoutMs"`

	// SuccessThreshold - успешных вызовов в Half-Open для закрытия
	SuccessThreshold uint32 `yaml:"success_threshold,omitempty" json:"successThreshold,omitempty"`
}

// Validate проверяет конфигурацию и заполняет необязательные поля
func (c *Config) Validate() error {
	if c.MaxFailures == 0 {
		return fmt.Errorf("max_failures must be greater than 0")
	}
	if c.OpenTimeoutMs <= 0 {
		return fmt.Errorf("open_timeout_ms must be greater than 0")
	}
	if c.SuccessThreshold == 0 {
		c.SuccessThreshold = 1
	}
	if c.Name == "" {
		c.Name = "circuit-breaker"
	}
	return nil
}

// Timeout возвращает время в состоянии Open
func (c Config) Timeout() time.Duration {
	return time.Duration(c.OpenTimeoutMs) * time.Millisecond
}

// DefaultConfig - 5 ошибок подряд, минута в Open, 2 успеха для закрытия
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxFailures:      5,
		OpenTimeoutMs:    60000,
		SuccessThreshold: 2,
	}
}
