// Package brokers отправляет события и отчёты миграции во внешние очереди.
package brokers

import (
	"context"
	"fmt"
)

// Publisher - отправка сообщений в брокер
type Publisher interface {
	// Publish отправляет сообщение; key - ключ партиционирования/маршрутизации
	Publish(ctx context.Context, key string, message []byte) error

	Close() error

	// Type возвращает тип брокера (kafka, rabbitmq)
	Type() string
}

// Config содержит параметры подключения к брокеру
type Config struct {
	Type string `yaml:"type"` // kafka, rabbitmq

	// RabbitMQ
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	VHost      string `yaml:"vhost"`
	UseTLS     bool   `yaml:"use_tls"`
	Queue      string `yaml:"queue"`
	Exchange   string `yaml:"exchange"`
	RoutingKey string `yaml:"routing_key"`

	// Параметры очереди должны совпадать с уже существующей очередью
	Durable bool `yaml:"durable"`

	// Kafka
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// New создает Publisher по конфигурации и подключается к брокеру
func New(ctx context.Context, cfg Config) (Publisher, error) {
	switch cfg.Type {
	case "kafka":
		k, err := NewKafka(cfg)
		if err != nil {
			return nil, err
		}
		return k, k.Connect(ctx)
	case "rabbitmq":
		r, err := NewRabbitMQ(cfg)
		if err != nil {
			return nil, err
		}
		return r, r.Connect(ctx)
	default:
		return nil, fmt.Errorf("unsupported broker type: %q (supported: kafka, rabbitmq)", cfg.Type)
	}
}
