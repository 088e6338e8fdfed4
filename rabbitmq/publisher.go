package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"saferoute/metrics"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/streadway/amqp"
)

const (
	publishTimeout = 10 * time.Second
	appID          = "saferoute"
)

var errNacked = errors.New("broker rejected the message")

// session is one connection with a confirm-mode channel on it
type session struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	confirms chan amqp.Confirmation
}

func (s *session) alive() bool {
	return s != nil && !s.conn.IsClosed()
}

func (s *session) close() {
	_ = s.channel.Close()
	_ = s.conn.Close()
}

// Publisher emits report events as persistent JSON messages on a durable topic
// exchange and waits for the broker to confirm each one. A dropped connection
// is re-established on the next publish.
type Publisher struct {
	mu         sync.Mutex
	amqpURL    string
	exchange   string
	routingKey string
	sess       *session
}

// NewPublisher connects to RabbitMQ and declares the exchange
func NewPublisher(amqpURL, exchangeName, routingKey string) (*Publisher, error) {
	p := &Publisher{
		amqpURL:    amqpURL,
		exchange:   exchangeName,
		routingKey: routingKey,
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.openLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) openLocked() error {
	conn, err := amqp.Dial(p.amqpURL)
	if err != nil {
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(p.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange %s: %w", p.exchange, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	p.sess = &session{
		conn:     conn,
		channel:  ch,
		confirms: ch.NotifyPublish(make(chan amqp.Confirmation, 1)),
	}
	go watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	metrics.RabbitMQConnected.Set(1)
	log.WithField("exchange", p.exchange).Info("Connected to RabbitMQ")
	return nil
}

// watch flips the connection gauge when the broker drops the connection
func watch(closed <-chan *amqp.Error) {
	if err, ok := <-closed; ok && err != nil {
		log.WithField("reason", err.Reason).Warn("RabbitMQ connection lost")
	}
	metrics.RabbitMQConnected.Set(0)
}

func (p *Publisher) resetLocked() {
	if p.sess != nil {
		p.sess.close()
		p.sess = nil
	}
	metrics.RabbitMQConnected.Set(0)
}

func isConnClosedErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, amqp.ErrClosed) || strings.Contains(err.Error(), "channel/connection is not open")
}

func envelope(routingKey string, body []byte, now time.Time) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.New().String(),
		Type:         routingKey,
		AppId:        appID,
		Timestamp:    now,
		Body:         body,
	}
}

// Publish sends message with the configured routing key
func (p *Publisher) Publish(ctx context.Context, message interface{}) error {
	return p.PublishWithRoutingKey(ctx, p.routingKey, message)
}

// PublishWithRoutingKey sends message with a custom routing key and returns
// once the broker has confirmed it.
func (p *Publisher) PublishWithRoutingKey(ctx context.Context, routingKey string, message interface{}) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("publish cancelled: %w", err)
	}

	msg := envelope(routingKey, body, time.Now().UTC())
	err = p.sendLocked(ctx, routingKey, msg)
	if isConnClosedErr(err) {
		p.resetLocked()
		err = p.sendLocked(ctx, routingKey, msg)
	}
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}
	return nil
}

func (p *Publisher) sendLocked(ctx context.Context, routingKey string, msg amqp.Publishing) error {
	if !p.sess.alive() {
		p.resetLocked()
		if err := p.openLocked(); err != nil {
			return err
		}
	}
	if err := p.sess.channel.Publish(p.exchange, routingKey, false, false, msg); err != nil {
		return err
	}

	select {
	case confirm, ok := <-p.sess.confirms:
		if !ok {
			return amqp.ErrClosed
		}
		if !confirm.Ack {
			return errNacked
		}
		return nil
	case <-ctx.Done():
		// A late confirmation would be read by the next publish.
		p.resetLocked()
		return ctx.Err()
	}
}

// Close closes the publisher connection and channel
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sess == nil {
		return nil
	}
	var err error
	if chErr := p.sess.channel.Close(); chErr != nil {
		log.Warnf("Failed to close channel: %v", chErr)
		err = chErr
	}
	if connErr := p.sess.conn.Close(); connErr != nil && err == nil {
		log.Warnf("Failed to close connection: %v", connErr)
		err = connErr
	}
	p.sess = nil
	metrics.RabbitMQConnected.Set(0)
	return err
}

// IsConnected reports whether the publisher currently holds an open connection
func (p *Publisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sess.alive()
}
