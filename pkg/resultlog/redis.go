// Package resultlog публикует состояние выполнений миграции и отчёты в Redis.
//
// Redis-ключи:
//
//	SET  <prefix>:execution:<id>:state   <JSON>  EX <ttl>  - последнее состояние для опроса
//	PUB  <prefix>:execution:<id>                           - события смены состояния
//	SET  <prefix>:execution:<id>:report  <JSON>  EX <ttl>  - итоговый отчёт
package resultlog

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config - подключение к Redis
type Config struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// Prefix ключей, по умолчанию "tdtp:migration"
	Prefix string `yaml:"prefix"`

	// TTL ключей в секундах, 0 = без истечения
	TTL int `yaml:"ttl"`
}

func (c Config) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.TTL < 0 {
		return fmt.Errorf("redis ttl must be >= 0, got %d", c.TTL)
	}
	return nil
}

// RedisPublisher пишет состояние и отчёт выполнения
type RedisPublisher struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisPublisher(cfg Config) (*RedisPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisPublisherWithClient(client, cfg), nil
}

// NewRedisPublisherWithClient использует готовый клиент
func NewRedisPublisherWithClient(client *redis.Client, cfg Config) *RedisPublisher {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "tdtp:migration"
	}
	return &RedisPublisher{client: client, prefix: prefix, ttl: time.Duration(cfg.TTL) * time.Second}
}

func (p *RedisPublisher) StateKey(executionID string) string {
	return fmt.Sprintf("%s:execution:%s:state", p.prefix, executionID)
}

func (p *RedisPublisher) ReportKey(executionID string) string {
	return fmt.Sprintf("%s:execution:%s:report", p.prefix, executionID)
}

func (p *RedisPublisher) Channel(executionID string) string {
	return fmt.Sprintf("%s:execution:%s", p.prefix, executionID)
}

// Publish сохраняет состояние выполнения и рассылает его подписчикам
func (p *RedisPublisher) Publish(ctx context.Context, executionID string, state any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := p.client.Set(ctx, p.StateKey(executionID), payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	if err := p.client.Publish(ctx, p.Channel(executionID), payload).Err(); err != nil {
		return fmt.Errorf("redis PUBLISH failed: %w", err)
	}
	return nil
}

// StoreReport сохраняет итоговый отчёт
func (p *RedisPublisher) StoreReport(ctx context.Context, executionID string, report any) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := p.client.Set(ctx, p.ReportKey(executionID), payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

// Close закрывает соединение с Redis
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
