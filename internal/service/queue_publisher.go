// Package service holds outbound adapters used by the booking service.
// Publisher forwards committed order events to RabbitMQ.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/airport-booking/internal/queue"
)

var ErrPublisherClosed = errors.New("publisher closed")

// Publisher keeps one AMQP connection and channel, opened on first use and
// reopened after the broker drops them.  It is safe for concurrent use.
type Publisher struct {
	logger *logrus.Logger
	url    string
	queue  string
	now    func() time.Time

	mu     sync.Mutex
	conn   *amqp.Connection
	ch     *amqp.Channel
	closed bool
}

func NewPublisher(logger *logrus.Logger, url, queueName string) *Publisher {
	return &Publisher{logger: logger, url: url, queue: queueName, now: time.Now}
}

// channel returns an open channel, dialing and declaring the durable queue
// when needed.  Caller holds p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.closed {
		return nil, ErrPublisherClosed
	}
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, err
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

// Publish sends ev as a persistent JSON message routed to the queue through
// the default exchange.
func (p *Publisher) Publish(ctx context.Context, ev queue.OrderEvent) error {
	msg, err := p.message(ev)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		p.logger.WithContext(ctx).WithError(err).Warn("rabbitmq: channel unavailable")
		return err
	}
	if err := ch.PublishWithContext(ctx, "", p.queue, false, false, msg); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("event_id", ev.EventID).Warn("rabbitmq: publish failed")
		_ = ch.Close()
		p.ch = nil
		return err
	}
	return nil
}

func (p *Publisher) message(ev queue.OrderEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.EventID,
		Type:         ev.Type,
		Timestamp:    p.now().UTC(),
		Body:         body,
	}, nil
}

// Close releases the connection; later Publish calls fail.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}
