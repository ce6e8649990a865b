package mq

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cloud.google.com/go/pubsub"
	"github.com/oralvis/apiserver/config"
	"google.golang.org/api/option"
)

// topicBroker is the Pub/Sub surface the event client drives. receive acks
// a message when fn returns true and nacks it otherwise.
type topicBroker interface {
	publish(ctx context.Context, topic string, msg *pubsub.Message) (string, error)
	receive(ctx context.Context, topic, subscription string, fn func(context.Context, *pubsub.Message) bool) error
	close() error
}

// PubSubClient publishes scan events to one topic per channel. Each
// channel gets a single subscription named channel+suffix.
type PubSubClient struct {
	broker             topicBroker
	subscriptionSuffix string
}

// NewPubSubClient constructs a Pub/Sub client from config.
func NewPubSubClient(ctx context.Context, cfg config.PubSubConfig) (*PubSubClient, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, errors.New("pubsub project id is required")
	}

	var opts []option.ClientOption
	if strings.TrimSpace(cfg.CredentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	return newPubSubClient(&sdkBroker{client: client, topics: map[string]*pubsub.Topic{}}, cfg.SubscriptionSuffix), nil
}

func newPubSubClient(broker topicBroker, suffix string) *PubSubClient {
	if suffix == "" {
		suffix = "-sub"
	}
	return &PubSubClient{broker: broker, subscriptionSuffix: suffix}
}

// Publish sends an event to the channel's topic and returns the server id.
// The event id and type ride along as attributes.
func (p *PubSubClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("pubsub channel is required")
	}

	msg := &pubsub.Message{Data: data, Attributes: map[string]string{}}
	for key, value := range attrs {
		msg.Attributes[key] = value
	}
	msg.Attributes[AttrContentType] = contentType(attrs)

	id, err := p.broker.publish(ctx, channel, msg)
	if err != nil {
		return "", fmt.Errorf("publish %s to %s: %w", attrs[AttrEventType], channel, err)
	}
	return id, nil
}

// Subscribe consumes events from the channel's subscription until ctx ends.
// A failed event is nacked for redelivery once; a second failure acks it
// so it is dropped.
func (p *PubSubClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("pubsub channel is required")
	}
	return p.broker.receive(ctx, channel, p.subscriptionName(channel), func(ctx context.Context, msg *pubsub.Message) bool {
		return p.dispatch(ctx, msg, handler)
	})
}

func (p *PubSubClient) dispatch(ctx context.Context, msg *pubsub.Message, handler Handler) bool {
	message := Message{
		ID:         msg.Attributes[AttrMessageID],
		Data:       msg.Data,
		Attributes: msg.Attributes,
	}
	if message.ID == "" {
		message.ID = msg.ID
	}
	if err := handler(ctx, message); err != nil {
		return msg.DeliveryAttempt != nil && *msg.DeliveryAttempt > 1
	}
	return true
}

// Close flushes pending publishes and closes the client.
func (p *PubSubClient) Close() error {
	return p.broker.close()
}

func (p *PubSubClient) subscriptionName(channel string) string {
	return channel + p.subscriptionSuffix
}

// sdkBroker backs topicBroker with the Cloud Pub/Sub SDK, creating topics
// and subscriptions on first use.
type sdkBroker struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

func (b *sdkBroker) publish(ctx context.Context, name string, msg *pubsub.Message) (string, error) {
	topic, err := b.topic(ctx, name)
	if err != nil {
		return "", err
	}
	return topic.Publish(ctx, msg).Get(ctx)
}

func (b *sdkBroker) receive(ctx context.Context, name, subscription string, fn func(context.Context, *pubsub.Message) bool) error {
	topic, err := b.topic(ctx, name)
	if err != nil {
		return err
	}
	sub := b.client.Subscription(subscription)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		sub, err = b.client.CreateSubscription(ctx, subscription, pubsub.SubscriptionConfig{Topic: topic})
		if err != nil {
			return err
		}
	}
	return sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if fn(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

func (b *sdkBroker) close() error {
	b.mu.Lock()
	for _, topic := range b.topics {
		topic.Stop()
	}
	b.mu.Unlock()
	return b.client.Close()
}

func (b *sdkBroker) topic(ctx context.Context, name string) (*pubsub.Topic, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if topic, ok := b.topics[name]; ok {
		return topic, nil
	}
	topic := b.client.Topic(name)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		if topic, err = b.client.CreateTopic(ctx, name); err != nil {
			return nil, err
		}
	}
	b.topics[name] = topic
	return topic, nil
}
