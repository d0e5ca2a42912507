// Package audit records moderation events for later review.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"chatroom/backend/pkg/logger"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Kinds of audit events.
const (
	KindOffensiveMessage = "offensive_message"
	KindMessageDeleted   = "message_deleted"
	KindUserBanned       = "user_banned"
)

// Event is one moderation fact.
type Event struct {
	Kind      string    `json:"kind"`
	UserID    string    `json:"userId,omitempty"`
	Username  string    `json:"username,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	Content   string    `json:"content,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	At        time.Time `json:"at"`
}

// Publisher ships audit events somewhere durable.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// LogPublisher writes audit events to the structured log.
type LogPublisher struct {
	log *logger.Logger
}

func NewLogPublisher(log *logger.Logger) *LogPublisher {
	return &LogPublisher{log: log.WithComponent("audit")}
}

func (p *LogPublisher) Publish(_ context.Context, ev Event) error {
	p.log.Info("Audit event",
		"kind", ev.Kind,
		"user_id", ev.UserID,
		"username", ev.Username,
		"message_id", ev.MessageID,
		"detail", ev.Detail,
		"at", ev.At,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// RabbitPublisher sends audit events to a durable queue.
type RabbitPublisher struct {
	mu    sync.Mutex
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string
}

func NewRabbitPublisher(url, queue string) (*RabbitPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	return &RabbitPublisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Type:         ev.Kind,
			Body:         body,
			Timestamp:    ev.At,
		},
	)
}

func (p *RabbitPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// Recorder publishes without blocking the caller. Failures are logged.
// Events recorded after Close are dropped.
type Recorder struct {
	pub Publisher
	log *logger.Logger
	wg  sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewRecorder(pub Publisher, log *logger.Logger) *Recorder {
	return &Recorder{pub: pub, log: log.WithComponent("audit")}
}

// Record stamps ev and publishes it in the background.
func (r *Recorder) Record(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.log.Warn("Audit event dropped after close", "kind", ev.Kind)
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.pub.Publish(context.Background(), ev); err != nil {
			r.log.LogError(err, "Failed to publish audit event", "kind", ev.Kind)
		}
	}()
}

// Close waits for in-flight publishes and closes the publisher.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	r.wg.Wait()
	return r.pub.Close()
}
