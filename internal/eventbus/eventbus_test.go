package eventbus_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediaforge/transcoder/internal/domain/model"
	"github.com/mediaforge/transcoder/internal/eventbus"
	"github.com/mediaforge/transcoder/internal/testutil"
)

func TestNewPublisherValidation(t *testing.T) {
	_, err := eventbus.NewPublisher(eventbus.PublisherOptions{Stream: "s"})
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{})
	_, err = eventbus.NewPublisher(eventbus.PublisherOptions{Client: client})
	assert.Error(t, err)
}

func TestNewConsumerValidation(t *testing.T) {
	client := redis.NewClient(&redis.Options{})
	handler := func(ctx context.Context, payload []byte) error { return nil }

	_, err := eventbus.NewConsumer(eventbus.ConsumerOptions{
		Stream: "s", Group: "g", Consumer: "c", Handler: handler,
	})
	assert.Error(t, err, "client is required")

	_, err = eventbus.NewConsumer(eventbus.ConsumerOptions{
		Client: client, Stream: "s", Group: "g", Handler: handler,
	})
	assert.Error(t, err, "consumer name is required")

	_, err = eventbus.NewConsumer(eventbus.ConsumerOptions{
		Client: client, Stream: "s", Group: "g", Consumer: "c",
	})
	assert.Error(t, err, "handler is required")
}

func TestConsumerDeliversPublishedEvent(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer testutil.TeardownTestRedis(t, client)

	pub, err := eventbus.NewTranscodedPublisher(eventbus.PublisherOptions{
		Client: client,
		Stream: "test:transcoded",
	})
	require.NoError(t, err)

	received := make(chan []byte, 1)
	consumer, err := eventbus.NewConsumer(eventbus.ConsumerOptions{
		Client:   client,
		Stream:   "test:transcoded",
		Group:    "test-group",
		Consumer: "worker-1",
		Handler: func(ctx context.Context, payload []byte) error {
			received <- payload
			return nil
		},
		Block: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	event := &model.TranscodedEvent{
		VideoID:          "vid-1",
		JobID:            "job-1",
		TenantID:         "acme",
		ManifestLocation: "s3://b/outputs/job-1/manifest.json",
		Success:          true,
		OutputSummary:    map[string]string{"480p": "s3://b/outputs/job-1/480p.mp4"},
	}
	require.NoError(t, pub.PublishTranscoded(ctx, event))

	var payload []byte
	select {
	case payload = <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("event never delivered")
	}

	var got model.TranscodedEvent
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, *event, got)

	// An acked message leaves the pending list.
	require.Eventually(t, func() bool {
		pending, pendErr := client.XPending(context.Background(), "test:transcoded", "test-group").Result()
		return pendErr == nil && pending.Count == 0
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case runErr := <-done:
		assert.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}

func TestConsumerDeadLettersExhaustedMessage(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer testutil.TeardownTestRedis(t, client)

	pub, err := eventbus.NewPublisher(eventbus.PublisherOptions{
		Client: client,
		Stream: "test:failures",
	})
	require.NoError(t, err)

	consumer, err := eventbus.NewConsumer(eventbus.ConsumerOptions{
		Client:   client,
		Stream:   "test:failures",
		Group:    "test-group",
		Consumer: "worker-1",
		Handler: func(ctx context.Context, payload []byte) error {
			return errors.New("handler always fails")
		},
		Block:         50 * time.Millisecond,
		MaxDeliveries: 1,
		ClaimMinIdle:  10 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	require.NoError(t, pub.Publish(ctx, map[string]string{"video_id": "vid-1"}))

	deadStream := consumer.DeadLetterStream()
	require.Eventually(t, func() bool {
		n, lenErr := client.XLen(context.Background(), deadStream).Result()
		return lenErr == nil && n >= 1
	}, 10*time.Second, 50*time.Millisecond, "message should land on the dead-letter stream")

	// Dead-lettering acks the original so the group stops retrying.
	require.Eventually(t, func() bool {
		pending, pendErr := client.XPending(context.Background(), "test:failures", "test-group").Result()
		return pendErr == nil && pending.Count == 0
	}, 5*time.Second, 50*time.Millisecond)

	msgs, err := client.XRange(context.Background(), deadStream, "-", "+").Result()
	require.NoError(t, err)
	require.NotEmpty(t, msgs)
	assert.Equal(t, "max deliveries exceeded", msgs[0].Values["dead_letter_reason"])
	assert.NotEmpty(t, msgs[0].Values["source_message_id"])

	cancel()
	select {
	case runErr := <-done:
		assert.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}

func TestConsumerDeadLettersMalformedMessage(t *testing.T) {
	client := testutil.SetupTestRedis(t)
	defer testutil.TeardownTestRedis(t, client)

	handled := make(chan struct{}, 1)
	consumer, err := eventbus.NewConsumer(eventbus.ConsumerOptions{
		Client:   client,
		Stream:   "test:malformed",
		Group:    "test-group",
		Consumer: "worker-1",
		Handler: func(ctx context.Context, payload []byte) error {
			handled <- struct{}{}
			return nil
		},
		Block: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	// No payload field: the consumer cannot dispatch this.
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: "test:malformed",
		Values: map[string]any{"event_id": "e1"},
	}).Err())

	require.Eventually(t, func() bool {
		n, lenErr := client.XLen(context.Background(), consumer.DeadLetterStream()).Result()
		return lenErr == nil && n >= 1
	}, 5*time.Second, 50*time.Millisecond)

	select {
	case <-handled:
		t.Fatal("handler must not run for a message without a payload")
	default:
	}

	cancel()
	select {
	case runErr := <-done:
		assert.NoError(t, runErr)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop on cancel")
	}
}
