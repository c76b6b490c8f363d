// Package notify carries "event accepted" wake messages from the ingest
// path to the worker over RabbitMQ. The event table stays the single
// source of coordination truth; the queue only shortens polling latency,
// and the service is fully functional without it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	defaultQueue     = "marketsync.event-accepted"
	reconnectBackoff = 2 * time.Second
	maxBackoff       = 30 * time.Second
)

// Config locates the broker. An empty URL disables the wake channel.
type Config struct {
	URL   string
	Queue string
}

// wakeMessage is the payload published per accepted event.
type wakeMessage struct {
	EventID string `json:"event_id"`
}

// Conn is a RabbitMQ connection that redials with capped backoff when
// the broker drops it.
type Conn struct {
	cfg    Config
	logger *zap.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	closed  chan struct{}
}

// Dial connects to the broker and declares the wake queue.
func Dial(cfg Config, logger *zap.Logger) (*Conn, error) {
	if cfg.Queue == "" {
		cfg.Queue = defaultQueue
	}
	c := &Conn{cfg: cfg, logger: logger, closed: make(chan struct{})}
	if err := c.connect(); err != nil {
		return nil, err
	}
	go c.monitor()
	return c, nil
}

func (c *Conn) connect() error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := channel.QueueDeclare(c.cfg.Queue, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.channel = channel
	c.mu.Unlock()

	c.logger.Info("Connected to RabbitMQ", zap.String("queue", c.cfg.Queue))
	return nil
}

// monitor redials whenever the connection drops, until Close.
func (c *Conn) monitor() {
	for {
		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()

		notify := conn.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-c.closed:
			return
		case amqpErr := <-notify:
			if amqpErr == nil {
				return
			}
			c.logger.Warn("RabbitMQ connection lost, reconnecting",
				zap.String("reason", amqpErr.Reason),
			)
		}

		backoff := reconnectBackoff
		for {
			select {
			case <-c.closed:
				return
			case <-time.After(backoff):
			}
			if err := c.connect(); err == nil {
				break
			} else {
				c.logger.Warn("RabbitMQ reconnect failed", zap.Error(err))
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}

// Healthy reports whether the connection is currently usable.
func (c *Conn) Healthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed()
}

// Close shuts the connection down and stops reconnection.
func (c *Conn) Close() {
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
		c.logger.Info("RabbitMQ connection closed")
	}
}

// EventAccepted publishes a wake message for one accepted event. It
// satisfies the ingest service's Notifier interface.
func (c *Conn) EventAccepted(ctx context.Context, eventID string) error {
	body, err := json.Marshal(wakeMessage{EventID: eventID})
	if err != nil {
		return fmt.Errorf("marshal wake message: %w", err)
	}

	c.mu.RLock()
	channel := c.channel
	c.mu.RUnlock()
	if channel == nil || channel.IsClosed() {
		return fmt.Errorf("rabbitmq channel unavailable")
	}

	return channel.PublishWithContext(ctx, "", c.cfg.Queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// WakeChannel consumes wake messages and signals the worker. Signals are
// collapsed: a slow worker sees at most one pending wake. The returned
// channel closes when ctx is cancelled or the consumer dies; the worker
// falls back to pure polling in that case.
func (c *Conn) WakeChannel(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)

	go func() {
		defer close(wake)

		c.mu.RLock()
		channel := c.channel
		c.mu.RUnlock()
		if channel == nil {
			return
		}

		deliveries, err := channel.Consume(c.cfg.Queue, "", true, false, false, false, nil)
		if err != nil {
			c.logger.Warn("Failed to consume wake queue, falling back to polling",
				zap.Error(err),
			)
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-deliveries:
				if !ok {
					return
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()

	return wake
}
