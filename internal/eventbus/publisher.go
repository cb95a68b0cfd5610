// Package eventbus implements the engine's event transport on Redis Streams.
//
// Consumer groups give at-least-once delivery: a message stays pending until
// its handler acks it, redeliveries are bounded, and messages that exhaust
// their deliveries are parked on a dead-letter stream.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/mediaforge/transcoder/internal/domain/model"
)

const (
	fieldEventID = "event_id"
	fieldPayload = "payload"
)

// Publisher appends JSON events to a single stream.
type Publisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// PublisherOptions configure a Publisher.
type PublisherOptions struct {
	Client redis.UniversalClient
	Stream string
	// MaxLen caps the stream length (approximate trim). Zero means unbounded.
	MaxLen int64
}

// NewPublisher creates a Publisher for the given stream.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	return &Publisher{
		client: opts.Client,
		stream: opts.Stream,
		maxLen: opts.MaxLen,
	}, nil
}

// Publish appends the event to the stream.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			fieldEventID: uuid.NewString(),
			fieldPayload: payload,
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}

	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// TranscodedPublisher publishes completion events for the announcer.
type TranscodedPublisher struct {
	pub *Publisher
}

// NewTranscodedPublisher creates the typed publisher for "transcoded" events.
func NewTranscodedPublisher(opts PublisherOptions) (*TranscodedPublisher, error) {
	pub, err := NewPublisher(opts)
	if err != nil {
		return nil, err
	}
	return &TranscodedPublisher{pub: pub}, nil
}

// PublishTranscoded publishes one completion event.
func (p *TranscodedPublisher) PublishTranscoded(ctx context.Context, event *model.TranscodedEvent) error {
	if event == nil {
		return errors.New("event is required")
	}
	return p.pub.Publish(ctx, event)
}
