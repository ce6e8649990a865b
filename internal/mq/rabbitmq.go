package mq

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oralvis/apiserver/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpChannel is the part of *amqp.Channel the event client drives.
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	Close() error
}

// RabbitMQClient publishes scan events to per-channel queues on the default
// exchange. The event type travels in the AMQP type field and the event id
// in the message id.
type RabbitMQClient struct {
	conn            *amqp.Connection
	channel         amqpChannel
	queueDurable    bool
	queueAutoDelete bool
	now             func() time.Time

	mu       sync.Mutex
	declared map[string]struct{}
}

// NewRabbitMQClient dials the broker and opens the publishing channel.
func NewRabbitMQClient(cfg config.RabbitMQConfig) (*RabbitMQClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("rabbitmq url is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	if cfg.PrefetchCount > 0 {
		if err := ch.Qos(cfg.PrefetchCount, 0, false); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return nil, err
		}
	}

	client := newRabbitMQClient(ch, cfg)
	client.conn = conn
	return client, nil
}

func newRabbitMQClient(ch amqpChannel, cfg config.RabbitMQConfig) *RabbitMQClient {
	return &RabbitMQClient{
		channel:         ch,
		queueDurable:    cfg.QueueDurable,
		queueAutoDelete: cfg.QueueAutoDelete,
		now:             time.Now,
		declared:        map[string]struct{}{},
	}
}

// Publish sends an event to the named queue and returns its message id.
func (r *RabbitMQClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("rabbitmq channel is required")
	}
	if err := r.ensureQueue(channel); err != nil {
		return "", err
	}

	msg := amqp.Publishing{
		ContentType: contentType(attrs),
		MessageId:   attrs[AttrMessageID],
		Type:        attrs[AttrEventType],
		Timestamp:   r.now().UTC(),
		Headers:     attributesToHeaders(attrs),
		Body:        data,
	}
	if msg.MessageId == "" {
		msg.MessageId = newMessageID()
	}
	if r.queueDurable {
		msg.DeliveryMode = amqp.Persistent
	}

	if err := r.channel.PublishWithContext(ctx, "", channel, false, false, msg); err != nil {
		return "", fmt.Errorf("publish %s to %s: %w", msg.Type, channel, err)
	}
	return msg.MessageId, nil
}

// Subscribe consumes events from the named queue until ctx ends. A failed
// event is requeued once; if it fails again on redelivery it is rejected
// so a poison event cannot loop forever.
func (r *RabbitMQClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("rabbitmq channel is required")
	}
	if err := r.ensureQueue(channel); err != nil {
		return err
	}

	consumerTag := fmt.Sprintf("consumer-%s", newMessageID())
	deliveries, err := r.channel.Consume(channel, consumerTag, false, false, false, false, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = r.channel.Cancel(consumerTag, false)
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			r.dispatch(ctx, delivery, handler)
		}
	}
}

func (r *RabbitMQClient) dispatch(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	msg := Message{
		ID:         delivery.MessageId,
		Data:       delivery.Body,
		Attributes: deliveryAttributes(delivery),
	}
	if err := handler(ctx, msg); err != nil {
		if delivery.Redelivered {
			_ = delivery.Reject(false)
			return
		}
		_ = delivery.Nack(false, true)
		return
	}
	_ = delivery.Ack(false)
}

// Close closes the underlying channel and connection.
func (r *RabbitMQClient) Close() error {
	if r.channel != nil {
		_ = r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

// ensureQueue declares each queue once per client.
func (r *RabbitMQClient) ensureQueue(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.declared[name]; ok {
		return nil
	}
	if _, err := r.channel.QueueDeclare(name, r.queueDurable, r.queueAutoDelete, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	r.declared[name] = struct{}{}
	return nil
}

// attributesToHeaders keeps only the attributes that have no native AMQP field.
func attributesToHeaders(attrs map[string]string) amqp.Table {
	headers := amqp.Table{}
	for key, value := range attrs {
		switch key {
		case AttrContentType, AttrMessageID, AttrEventType:
			continue
		}
		headers[key] = value
	}
	return headers
}

// deliveryAttributes folds the native AMQP fields back into attributes so
// subscribers see the same keys the publisher set.
func deliveryAttributes(delivery amqp.Delivery) map[string]string {
	attrs := headersToAttributes(delivery.Headers)
	if attrs == nil {
		attrs = map[string]string{}
	}
	if delivery.Type != "" {
		attrs[AttrEventType] = delivery.Type
	}
	if delivery.MessageId != "" {
		attrs[AttrMessageID] = delivery.MessageId
	}
	if delivery.ContentType != "" {
		attrs[AttrContentType] = delivery.ContentType
	}
	return attrs
}

func headersToAttributes(headers amqp.Table) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(headers))
	for key, value := range headers {
		switch typed := value.(type) {
		case string:
			attrs[key] = typed
		case []byte:
			attrs[key] = string(typed)
		default:
			attrs[key] = fmt.Sprint(value)
		}
	}
	return attrs
}

func contentType(attrs map[string]string) string {
	if ct := attrs[AttrContentType]; ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func newMessageID() string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(buf[:])
}
