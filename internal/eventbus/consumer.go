package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Handler processes one raw event payload. Returning an error leaves the
// message pending so the group redelivers it.
type Handler func(ctx context.Context, payload []byte) error

// ConsumerOptions configure a stream consumer.
type ConsumerOptions struct {
	Client   redis.UniversalClient
	Stream   string
	Group    string
	Consumer string
	Handler  Handler
	Logger   *slog.Logger

	// Block bounds each XREADGROUP wait.
	Block time.Duration
	// Batch is the max messages fetched per read.
	Batch int64
	// MaxDeliveries bounds redelivery before a message is dead-lettered.
	MaxDeliveries int64
	// ClaimMinIdle is how long a pending message may sit with a dead consumer
	// before another consumer claims it.
	ClaimMinIdle time.Duration
}

// Consumer reads one stream through a consumer group and dispatches messages
// to its handler with bounded redelivery and a dead-letter stream.
type Consumer struct {
	client        redis.UniversalClient
	stream        string
	group         string
	consumer      string
	handler       Handler
	logger        *slog.Logger
	block         time.Duration
	batch         int64
	maxDeliveries int64
	claimMinIdle  time.Duration
}

// NewConsumer creates a stream consumer.
func NewConsumer(opts ConsumerOptions) (*Consumer, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if opts.Stream == "" || opts.Group == "" || opts.Consumer == "" {
		return nil, errors.New("stream, group, and consumer names are required")
	}
	if opts.Handler == nil {
		return nil, errors.New("handler is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	block := opts.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	batch := opts.Batch
	if batch <= 0 {
		batch = 10
	}
	maxDeliveries := opts.MaxDeliveries
	if maxDeliveries <= 0 {
		maxDeliveries = 5
	}
	claimMinIdle := opts.ClaimMinIdle
	if claimMinIdle <= 0 {
		claimMinIdle = time.Minute
	}

	return &Consumer{
		client:        opts.Client,
		stream:        opts.Stream,
		group:         opts.Group,
		consumer:      opts.Consumer,
		handler:       opts.Handler,
		logger:        logger.With("component", "eventbus_consumer", "stream", opts.Stream),
		block:         block,
		batch:         batch,
		maxDeliveries: maxDeliveries,
		claimMinIdle:  claimMinIdle,
	}, nil
}

// DeadLetterStream returns the stream messages are parked on once they
// exhaust their deliveries.
func (c *Consumer) DeadLetterStream() string {
	return c.stream + ":dead"
}

// Run consumes the stream until the context is cancelled. Returns nil on
// graceful shutdown.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "starting event consumer", "group", c.group, "consumer", c.consumer)

	for {
		if ctx.Err() != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		}

		if err := c.reclaimPending(ctx); err != nil && ctx.Err() == nil {
			c.logger.ErrorContext(ctx, "reclaim pending messages failed", "error", err)
		}

		streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    c.group,
			Consumer: c.consumer,
			Streams:  []string{c.stream, ">"},
			Count:    c.batch,
			Block:    c.block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // block timeout, nothing new
			}
			if ctx.Err() != nil {
				continue
			}
			c.logger.ErrorContext(ctx, "read stream failed", "error", err)
			sleepCtx(ctx, time.Second)
			continue
		}

		for _, stream := range streams {
			for _, msg := range stream.Messages {
				c.dispatch(ctx, msg)
			}
		}
	}
}

// ensureGroup creates the consumer group from the start of the stream,
// creating the stream itself if needed.
func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// dispatch runs the handler and acks on success. A handler error leaves the
// message pending for redelivery.
func (c *Consumer) dispatch(ctx context.Context, msg redis.XMessage) {
	payload, ok := msg.Values[fieldPayload].(string)
	if !ok {
		c.logger.WarnContext(ctx, "message without payload field, dead-lettering", "message_id", msg.ID)
		c.deadLetter(ctx, msg, "missing payload field")
		return
	}

	if err := c.handler(ctx, []byte(payload)); err != nil {
		c.logger.ErrorContext(ctx, "event handler failed, leaving pending",
			"message_id", msg.ID,
			"error", err,
		)
		return
	}

	if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil && ctx.Err() == nil {
		c.logger.ErrorContext(ctx, "ack failed", "message_id", msg.ID, "error", err)
	}
}

// reclaimPending claims messages stuck with dead consumers and either
// redispatches them or parks them on the dead-letter stream once their
// delivery count is exhausted.
func (c *Consumer) reclaimPending(ctx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  c.batch,
		Idle:   c.claimMinIdle,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("xpending: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var exhausted []string
	var retryable []string
	for _, entry := range pending {
		if entry.RetryCount >= c.maxDeliveries {
			exhausted = append(exhausted, entry.ID)
		} else {
			retryable = append(retryable, entry.ID)
		}
	}

	if len(exhausted) > 0 {
		if claimErr := c.claimAndDeadLetter(ctx, exhausted); claimErr != nil {
			return claimErr
		}
	}

	if len(retryable) > 0 {
		msgs, claimErr := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.claimMinIdle,
			Messages: retryable,
		}).Result()
		if claimErr != nil && !errors.Is(claimErr, redis.Nil) {
			return fmt.Errorf("xclaim: %w", claimErr)
		}
		for _, msg := range msgs {
			c.dispatch(ctx, msg)
		}
	}

	return nil
}

func (c *Consumer) claimAndDeadLetter(ctx context.Context, ids []string) error {
	msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   c.stream,
		Group:    c.group,
		Consumer: c.consumer,
		MinIdle:  c.claimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("xclaim for dead-letter: %w", err)
	}

	for _, msg := range msgs {
		c.deadLetter(ctx, msg, "max deliveries exceeded")
	}
	return nil
}

// deadLetter copies the message onto the dead stream and acks the original so
// the group stops redelivering it.
func (c *Consumer) deadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	values := make(map[string]any, len(msg.Values)+2)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["dead_letter_reason"] = reason
	values["source_message_id"] = msg.ID

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.DeadLetterStream(),
		Values: values,
	}).Err(); err != nil {
		c.logger.ErrorContext(ctx, "dead-letter write failed", "message_id", msg.ID, "error", err)
		return // keep the original pending rather than lose it
	}

	if err := c.client.XAck(ctx, c.stream, c.group, msg.ID).Err(); err != nil {
		c.logger.ErrorContext(ctx, "ack after dead-letter failed", "message_id", msg.ID, "error", err)
		return
	}

	c.logger.WarnContext(ctx, "message dead-lettered",
		"message_id", msg.ID,
		"reason", reason,
		"dead_stream", c.DeadLetterStream(),
	)
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
