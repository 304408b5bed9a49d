// Package events publishes progress events to RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"

	"github.com/streakforge/streakforge/internal/domain"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("publisher closed")

// ErrNacked is returned when the broker refuses a message.
var ErrNacked = errors.New("broker nacked message")

const defaultConfirmTimeout = 5 * time.Second

// channel is the subset of *amqp.Channel the publisher uses.
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends each ProgressEvent as a persistent JSON message to a
// durable queue on the default exchange.
type Publisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	ch      channel
	queue   string
	closed  bool
	breaker *breaker
	log     zerolog.Logger

	// confirms is nil unless the channel is in confirm mode. seq is the
	// delivery tag of the last message sent on it.
	confirms       <-chan amqp.Confirmation
	confirmTimeout time.Duration
	seq            uint64
}

// Dial connects to url, puts the channel in confirm mode and declares queue.
func Dial(url, queue string, log zerolog.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("confirm mode: %w", err)
	}

	_, err = ch.QueueDeclare(
		queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}

	p := newPublisher(ch, queue, log)
	p.conn = conn
	p.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 16))

	closed := make(chan *amqp.Error, 1)
	conn.NotifyClose(closed)
	go func() {
		if err := <-closed; err != nil {
			log.Error().Stack().Err(err).Str("queue", queue).Msg("amqp connection closed")
		}
	}()
	return p, nil
}

// newPublisher wraps an already-open channel.
func newPublisher(ch channel, queue string, log zerolog.Logger) *Publisher {
	return &Publisher{
		ch:             ch,
		queue:          queue,
		breaker:        newBreaker(DefaultBreakerConfig()),
		log:            log,
		confirmTimeout: defaultConfirmTimeout,
	}
}

// SetBreaker replaces the circuit breaker settings. Call before publishing.
func (p *Publisher) SetBreaker(cfg BreakerConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breaker = newBreaker(cfg)
}

// Publish encodes ev and sends it. The message type is the event type so
// consumers can route without decoding the body. In confirm mode Publish
// returns once the broker has acked the message.
func (p *Publisher) Publish(ctx context.Context, ev domain.ProgressEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if err := p.breaker.allow(); err != nil {
		return err
	}

	ts := ev.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	err = p.ch.Publish("", p.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(ev.Type),
		Timestamp:    ts,
		Body:         body,
	})
	if err == nil && p.confirms != nil {
		p.seq++
		err = p.awaitConfirm(ctx)
	}
	if err != nil {
		if p.breaker.failure() == stateOpen {
			p.log.Warn().Str("queue", p.queue).Msg("event publishing suspended after repeated failures")
		}
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	p.breaker.success()
	p.log.Debug().Str("user_id", ev.UserID).Str("type", string(ev.Type)).Msg("event published")
	return nil
}

// awaitConfirm waits for the broker's answer to delivery tag p.seq.
// Answers for earlier tags belong to publishes that gave up waiting.
func (p *Publisher) awaitConfirm(ctx context.Context) error {
	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()
	for {
		select {
		case c, ok := <-p.confirms:
			if !ok {
				return errors.New("confirm channel closed")
			}
			if c.DeliveryTag < p.seq {
				continue
			}
			if !c.Ack {
				return ErrNacked
			}
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return fmt.Errorf("no broker confirm within %s", p.confirmTimeout)
		}
	}
}

// Ping reports whether the connection is still open.
func (p *Publisher) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.conn != nil && p.conn.IsClosed() {
		return errors.New("amqp connection is closed")
	}
	if p.breaker.current() == stateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// Close shuts the channel and connection. Safe to call twice.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	err := p.ch.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
