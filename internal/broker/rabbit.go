// Package broker publishes alerts, notifications and emergency events to
// RabbitMQ for delivery off-device.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"github.com/hitchsafe/companion/internal/domain"
	"github.com/hitchsafe/companion/internal/notify"
)

const (
	topicExchange        = "hitchsafe_topic"
	notificationExchange = "notifications_fanout"

	alertQueue     = "alert_outbox"
	emergencyQueue = "emergency_events"

	reconnectDelay = 3 * time.Second
)

// AlertMessage is one composed sms:/mailto: URI waiting for a gateway.
type AlertMessage struct {
	Channel   string    `json:"channel"`
	URI       string    `json:"uri"`
	CreatedAt time.Time `json:"created_at"`
}

// Rabbit is the broker connection. It reconnects on its own after the
// server closes the connection.
type Rabbit struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	conn      *amqp091.Connection
	connClose chan *amqp091.Error
	ch        *amqp091.Channel
	isClosed  atomic.Bool
	now       func() time.Time
}

// NewRabbit dials url and declares the exchanges and queues.
func NewRabbit(url string, logger *slog.Logger) (*Rabbit, error) {
	r := &Rabbit{logger: logger, now: time.Now}

	if err := r.createChannel(url); err != nil {
		return nil, fmt.Errorf("broker.NewRabbit: %w", err)
	}

	go r.reconnectConn(url)
	return r, nil
}

// Close stops reconnecting and closes the connection.
func (r *Rabbit) Close() error {
	r.isClosed.Store(true)
	defer r.logger.Info("rabbit closed")

	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conn.Close()
}

func (r *Rabbit) reconnectConn(url string) {
	for {
		r.mu.RLock()
		closed := r.connClose
		r.mu.RUnlock()

		<-closed
		if r.isClosed.Load() {
			return
		}
		r.logger.Warn("rabbitMQ connection lost")
		for {
			if r.isClosed.Load() {
				return
			}
			r.logger.Info("trying to connect to rabbitmq")
			if err := r.createChannel(url); err != nil {
				time.Sleep(reconnectDelay)
				continue
			}
			r.logger.Info("connected to rabbitmq")
			break
		}
	}
}

func (r *Rabbit) createChannel(url string) error {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return errors.Join(conn.Close(), err)
	}
	if err := declareTopology(ch); err != nil {
		return errors.Join(conn.Close(), err)
	}

	connClose := make(chan *amqp091.Error, 1)
	conn.NotifyClose(connClose)

	r.mu.Lock()
	r.conn = conn
	r.connClose = connClose
	r.ch = ch
	r.mu.Unlock()
	return nil
}

func declareTopology(ch *amqp091.Channel) error {
	err := ch.ExchangeDeclare(
		topicExchange, // name
		"topic",       // type
		true,          // durable
		false,         // auto-deleted
		false,         // internal
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return err
	}
	err = ch.ExchangeDeclare(notificationExchange, "fanout", true, false, false, false, nil)
	if err != nil {
		return err
	}

	bindings := []struct{ queue, key string }{
		{alertQueue, "alert.*"},
		{emergencyQueue, "emergency.*"},
	}
	for _, b := range bindings {
		q, err := ch.QueueDeclare(b.queue, true, false, false, false, nil)
		if err != nil {
			return err
		}
		if err := ch.QueueBind(q.Name, b.key, topicExchange, false, nil); err != nil {
			return err
		}
	}
	return nil
}

func (r *Rabbit) publish(ctx context.Context, exchange, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	r.mu.RLock()
	ch := r.ch
	r.mu.RUnlock()

	return ch.PublishWithContext(ctx,
		exchange,
		key,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    r.now(),
			Body:         b,
		},
	)
}

// Open queues an alert URI for the SMS/email gateway. It reports false when
// the message could not be published.
func (r *Rabbit) Open(ctx context.Context, uri string) bool {
	msg := AlertMessage{Channel: alertChannel(uri), URI: uri, CreatedAt: r.now()}
	if err := r.publish(ctx, topicExchange, "alert."+msg.Channel, msg); err != nil {
		r.logger.Warn("publish alert failed", "channel", msg.Channel, "error", err)
		return false
	}
	return true
}

// Present broadcasts a local notification on the fanout exchange.
func (r *Rabbit) Present(ctx context.Context, n notify.Notification) {
	if err := r.publish(ctx, notificationExchange, "", n); err != nil {
		r.logger.Warn("publish notification failed", "kind", n.Kind, "error", err)
	}
}

// PublishEmergency emits the emergency event for push delivery.
func (r *Rabbit) PublishEmergency(ctx context.Context, event domain.EmergencyEvent) error {
	if err := r.publish(ctx, topicExchange, "emergency.triggered", event); err != nil {
		return fmt.Errorf("broker.Rabbit.PublishEmergency: %w", err)
	}
	return nil
}

// alertChannel derives the routing suffix from the URI scheme.
func alertChannel(uri string) string {
	scheme, _, ok := strings.Cut(uri, ":")
	if !ok {
		return "unknown"
	}
	switch strings.ToLower(scheme) {
	case "sms":
		return "sms"
	case "mailto":
		return "email"
	case "tel":
		return "call"
	default:
		return "unknown"
	}
}
