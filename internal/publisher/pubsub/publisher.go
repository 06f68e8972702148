// Package pubsub mirrors dispatched classification events to a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"google.golang.org/api/option"

	"github.com/JakeFAU/crawler-sentinel/internal/event"
)

// Publisher wraps a Pub/Sub topic.
type Publisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
}

// New connects to projectID and verifies that topicID exists.
func New(ctx context.Context, projectID, topicID string, opts ...option.ClientOption) (*Publisher, error) {
	if projectID == "" || topicID == "" {
		return nil, fmt.Errorf("pubsub project id and topic name are required")
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("check pubsub topic %q: %w", topicID, err)
	}
	if !exists {
		_ = client.Close()
		return nil, fmt.Errorf("pubsub topic %q does not exist in project %q", topicID, projectID)
	}
	return &Publisher{client: client, topic: topic}, nil
}

// NewWithTopic wraps an existing topic; the caller keeps ownership of its client.
func NewWithTopic(topic *pubsub.Topic) *Publisher {
	return &Publisher{topic: topic}
}

// Publish marshals evt to JSON and waits for the server acknowledgement.
func (p *Publisher) Publish(ctx context.Context, evt event.ClassificationEvent) error {
	if p.topic == nil {
		return fmt.Errorf("pubsub publisher is not configured")
	}
	data, err := evt.Marshal()
	if err != nil {
		return err
	}

	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"site_id": evt.SiteID},
	}
	otel.GetTextMapPropagator().Inject(ctx, &pubsubCarrier{attrs: msg.Attributes})

	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes pending messages and releases the client if this Publisher created it.
func (p *Publisher) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		if err := p.client.Close(); err != nil {
			return fmt.Errorf("close pubsub client: %w", err)
		}
	}
	return nil
}

// pubsubCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type pubsubCarrier struct {
	attrs map[string]string
}

func (c *pubsubCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c *pubsubCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c *pubsubCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
