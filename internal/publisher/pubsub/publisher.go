// Package pubsub publishes result notifications to Google Cloud Pub/Sub.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"cloud.google.com/go/pubsub"
)

// Publisher publishes JSON payloads, keeping one *pubsub.Topic per topic ID
// so batching state is shared across calls.
type Publisher struct {
	client *pubsub.Client

	mu     sync.Mutex
	topics map[string]*pubsub.Topic
}

// New creates a Publisher on client.
func New(client *pubsub.Client) (*Publisher, error) {
	if client == nil {
		return nil, fmt.Errorf("pubsub client is required")
	}
	return &Publisher{client: client, topics: make(map[string]*pubsub.Topic)}, nil
}

func (p *Publisher) topic(id string) *pubsub.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.topics[id]
	if !ok {
		t = p.client.Topic(id)
		p.topics[id] = t
	}
	return t
}

// Publish marshals payload to JSON, publishes it to topic and waits for the
// server-assigned message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if topic == "" {
		return "", fmt.Errorf("topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"content_type": "application/json"},
	}
	id, err := p.topic(topic).Publish(ctx, msg).Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish message: %w", err)
	}
	return id, nil
}

// Stop flushes pending messages on every topic used so far.
func (p *Publisher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.topics {
		t.Stop()
	}
}
