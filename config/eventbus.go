package config

import (
	"os"
	"strings"
	"time"
)

// EventBusConfig contains Redis Streams event bus configuration.
type EventBusConfig struct {
	// UploadStream carries inbound upload-received events.
	UploadStream string `env:"UPLOAD_STREAM" envDefault:"media:upload_received"`

	// FailureStream carries inbound processing-failed events.
	FailureStream string `env:"FAILURE_STREAM" envDefault:"media:processing_failed"`

	// TranscodedStream carries outbound transcoded events.
	TranscodedStream string `env:"TRANSCODED_STREAM" envDefault:"media:transcoded"`

	// ConsumerGroup names the group shared by all engine replicas.
	ConsumerGroup string `env:"CONSUMER_GROUP" envDefault:"transcoder"`

	// ConsumerName identifies this replica within the group. Defaults to the
	// hostname so redeliveries can be traced to a worker.
	ConsumerName string `env:"CONSUMER_NAME" envDefault:""`

	// Block bounds each stream read wait.
	Block time.Duration `env:"BLOCK" envDefault:"5s"`

	// Batch is the max messages fetched per read.
	Batch int64 `env:"BATCH" envDefault:"10"`

	// MaxDeliveries bounds redelivery before a message is dead-lettered.
	MaxDeliveries int64 `env:"MAX_DELIVERIES" envDefault:"5"`

	// ClaimMinIdle is how long a pending message may sit with a dead consumer
	// before another consumer claims it.
	ClaimMinIdle time.Duration `env:"CLAIM_MIN_IDLE" envDefault:"1m"`

	// MaxLen approximately caps outbound stream length. Zero disables trimming.
	MaxLen int64 `env:"MAX_LEN" envDefault:"100000"`
}

// Sanitize applies guardrails to event bus configuration values.
func (c *EventBusConfig) Sanitize() {
	if c.ConsumerName = strings.TrimSpace(c.ConsumerName); c.ConsumerName == "" {
		if host, err := os.Hostname(); err == nil {
			c.ConsumerName = host
		} else {
			c.ConsumerName = "transcoder"
		}
	}
	if c.Block <= 0 {
		c.Block = 5 * time.Second
	}
	if c.Batch < 1 {
		c.Batch = 1
	}
	if c.MaxDeliveries < 1 {
		c.MaxDeliveries = 1
	}
	if c.ClaimMinIdle < time.Second {
		c.ClaimMinIdle = time.Second
	}
	if c.MaxLen < 0 {
		c.MaxLen = 0
	}
}
