// Package statsd emits application metrics over the StatsD line protocol
// with DogStatsD-style tags.
package statsd

import (
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sink describes the minimal interface required to emit StatsD-style metrics.
type Sink interface {
	Count(name string, value int64, tags map[string]string)
	Gauge(name string, value float64, tags map[string]string)
	Timing(name string, value time.Duration, tags map[string]string)
}

// Config describes how to connect to a StatsD-compatible sink.
type Config struct {
	Enabled    bool
	Address    string
	Prefix     string
	Logger     *slog.Logger
	GlobalTags map[string]string
}

const (
	kindCount  = "c"
	kindGauge  = "g"
	kindTiming = "ms"

	dialTimeout = 5 * time.Second
)

// Client emits metrics over UDP using the StatsD line protocol.
// It is safe for concurrent use.
type Client struct {
	prefix   string
	baseTags map[string]string
	log      *slog.Logger

	mu      sync.Mutex
	enabled bool
	conn    net.Conn
}

var _ Sink = (*Client)(nil)

// NewClient dials the configured StatsD endpoint unless disabled.
func NewClient(cfg Config) (*Client, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	addr := strings.TrimSpace(cfg.Address)
	c := &Client{
		prefix:   strings.Trim(strings.TrimSpace(cfg.Prefix), "."),
		baseTags: copyTags(cfg.GlobalTags),
		log:      log,
		enabled:  cfg.Enabled && addr != "",
	}
	if !c.enabled {
		return c, nil
	}

	conn, err := net.DialTimeout("udp", addr, dialTimeout)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return c, nil
}

// Enabled reports whether the client actively emits metrics.
func (c *Client) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled && c.conn != nil
}

// Count increments a counter metric.
func (c *Client) Count(name string, value int64, tags map[string]string) {
	if c != nil {
		c.send(name, strconv.FormatInt(value, 10), kindCount, tags)
	}
}

// Gauge records the current value for a gauge metric.
func (c *Client) Gauge(name string, value float64, tags map[string]string) {
	if c != nil {
		c.send(name, trimFloat(value), kindGauge, tags)
	}
}

// Timing records a timing metric using milliseconds.
func (c *Client) Timing(name string, value time.Duration, tags map[string]string) {
	if c != nil {
		c.send(name, trimFloat(float64(value)/float64(time.Millisecond)), kindTiming, tags)
	}
}

// Close releases the underlying UDP connection if one was established.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.enabled = false
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// send assembles one protocol line, "<prefix>.<name>:<value>|<kind>|#k:v,...",
// and writes it as a single datagram.
func (c *Client) send(name, value, kind string, tags map[string]string) {
	metric := sanitizeName(name)
	if metric == "" {
		return
	}

	line := metric + ":" + value + "|" + kind + tagSuffix(c.baseTags, tags)
	if c.prefix != "" {
		line = c.prefix + "." + line
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || c.conn == nil {
		return
	}
	if _, err := c.conn.Write([]byte(line)); err != nil {
		c.log.Debug("statsd write failed", "error", err)
	}
}

var nameReplacer = strings.NewReplacer(" ", "_", "/", "_", ":", "_", "|", "_")

// sanitizeName normalises a metric name for the line protocol. Spaces,
// slashes, colons and pipes become underscores; empty dot segments are
// dropped.
func sanitizeName(name string) string {
	name = nameReplacer.Replace(strings.TrimSpace(name))
	if name == "" {
		return ""
	}
	parts := strings.Split(name, ".")
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, ".")
}

// tagSuffix renders the merged "|#k:v,..." suffix; local tags win over base
// tags. Returns "" when there are no tags.
func tagSuffix(base, local map[string]string) string {
	merged := copyTags(base)
	for k, v := range copyTags(local) {
		merged[k] = v
	}
	if len(merged) == 0 {
		return ""
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+":"+merged[k])
	}
	return "|#" + strings.Join(pairs, ",")
}

// copyTags trims keys and values and drops empty keys. Always returns a
// fresh map so callers can mutate the result.
func copyTags(tags map[string]string) map[string]string {
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}

func trimFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
