// Package pubsub implements a Google Cloud Pub/Sub submission sink.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/keyword-volume-pipeline/internal/keywords"
)

// topic abstracts the Pub/Sub topic publish surface for testing.
type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// Submitter publishes flushed enriched items to a Pub/Sub topic, one message
// per flush.
type Submitter struct {
	topic topic
}

// New connects a Pub/Sub client and returns a Submitter for the named topic.
// Authentication follows Application Default Credentials.
func New(ctx context.Context, projectID, topicName string) (*Submitter, error) {
	if projectID == "" || topicName == "" {
		return nil, fmt.Errorf("pubsub project_id and topic_name are required")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Submitter{topic: client.Topic(topicName)}, nil
}

// NewWithTopic constructs a Submitter over an existing topic (primarily for testing).
func NewWithTopic(t topic) *Submitter {
	return &Submitter{topic: t}
}

// Submit marshals the items to JSON and publishes them as one message,
// blocking until the server acknowledges it.
func (s *Submitter) Submit(ctx context.Context, items []keywords.EnrichedItem) error {
	if s.topic == nil {
		return fmt.Errorf("pubsub submitter is not configured")
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	result := s.topic.Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"items": fmt.Sprintf("%d", len(items)),
		},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}
