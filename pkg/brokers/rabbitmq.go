package brokers

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitMQ публикует сообщения в exchange или напрямую в очередь
type RabbitMQ struct {
	config  Config
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitMQ(cfg Config) (*RabbitMQ, error) {
	if cfg.Queue == "" && cfg.Exchange == "" {
		return nil, fmt.Errorf("queue or exchange is required for RabbitMQ")
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 5672
		if cfg.UseTLS {
			cfg.Port = 5671
		}
	}
	if cfg.VHost == "" {
		cfg.VHost = "/"
	}
	if cfg.RoutingKey == "" {
		cfg.RoutingKey = cfg.Queue
	}
	return &RabbitMQ{config: cfg}, nil
}

// URL собирает amqp(s)://user:password@host:port/vhost
func (r *RabbitMQ) URL() string {
	u := url.URL{
		Scheme: "amqp",
		User:   url.UserPassword(r.config.User, r.config.Password),
		Host:   fmt.Sprintf("%s:%d", r.config.Host, r.config.Port),
		Path:   "/" + url.PathEscape(r.config.VHost),
	}
	if r.config.UseTLS {
		u.Scheme = "amqps"
	}
	return u.String()
}

func (r *RabbitMQ) Connect(_ context.Context) error {
	var err error
	if r.config.UseTLS {
		r.conn, err = amqp.DialTLS(r.URL(), &tls.Config{ServerName: r.config.Host, MinVersion: tls.VersionTLS12})
	} else {
		r.conn, err = amqp.Dial(r.URL())
	}
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	r.channel, err = r.conn.Channel()
	if err != nil {
		r.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// идемпотентно: очередь создаётся, если её нет
	if r.config.Queue != "" {
		if _, err := r.channel.QueueDeclare(r.config.Queue, r.config.Durable, false, false, false, nil); err != nil {
			r.Close()
			return fmt.Errorf("failed to declare queue: %w", err)
		}
	}
	return nil
}

// Publish отправляет сообщение; непустой key заменяет routing key из конфигурации
func (r *RabbitMQ) Publish(ctx context.Context, key string, message []byte) error {
	if r.channel == nil {
		return fmt.Errorf("not connected to RabbitMQ")
	}
	routingKey := r.config.RoutingKey
	if key != "" && r.config.Exchange != "" {
		routingKey = key
	}
	err := r.channel.PublishWithContext(ctx, r.config.Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         message,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    key,
	})
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			return fmt.Errorf("failed to close channel: %w", err)
		}
	}
	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}
	return nil
}

func (r *RabbitMQ) Type() string { return "rabbitmq" }
