package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/herohooks/pkg/async"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/sirupsen/logrus"
)

const (
	DefaultStream = "herohooks:events"
	DefaultGroup  = "herohooks-workers"

	eventField = "event"
)

// EventEmitter delivers one event. *Emitter satisfies it.
type EventEmitter interface {
	Emit(ctx context.Context, event Event) EmissionResult
}

// QueueConfig configures the Redis Streams queue
type QueueConfig struct {
	Stream    string
	Group     string
	Consumer  string
	BatchSize int64
	// Block is how long a read waits for new messages. Negative disables
	// blocking.
	Block       time.Duration
	Workers     int
	TaskTimeout time.Duration
	// ClaimMinIdle is how long another consumer's message must sit
	// unacknowledged before this consumer takes it over. It must exceed
	// TaskTimeout so live deliveries are not duplicated.
	ClaimMinIdle time.Duration
	// ClaimInterval is how often Run looks for stale messages
	ClaimInterval time.Duration
}

func (c QueueConfig) withDefaults() QueueConfig {
	if c.Stream == "" {
		c.Stream = DefaultStream
	}
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	if c.Consumer == "" {
		host, _ := os.Hostname()
		c.Consumer = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 16
	}
	if c.Block == 0 {
		c.Block = 5 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = defaultAsyncTimeout
	}
	if c.ClaimMinIdle <= 0 {
		c.ClaimMinIdle = c.TaskTimeout + time.Minute
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = 30 * time.Second
	}
	return c
}

// Queue makes emission durable: producers append events to a stream and a
// consumer group delivers them. A message is acknowledged only after Emit
// returns. Messages a dead consumer left unacknowledged are claimed by a live
// one once they have been idle for ClaimMinIdle, so a replacement worker with
// a new consumer name still delivers them.
type Queue struct {
	client  redis.UniversalClient
	emitter EventEmitter
	config  QueueConfig
	logger  logrus.FieldLogger
	metrics *observability.Metrics
}

// NewQueue creates a queue. emitter may be nil for producer-only use.
func NewQueue(client redis.UniversalClient, emitter EventEmitter, config QueueConfig, logger logrus.FieldLogger, metrics *observability.Metrics) *Queue {
	return &Queue{
		client:  client,
		emitter: emitter,
		config:  config.withDefaults(),
		logger:  observability.OrNop(logger),
		metrics: metrics,
	}
}

// Enqueue appends event to the stream and returns the message id
func (q *Queue) Enqueue(ctx context.Context, event Event) (string, error) {
	if event.Type == "" {
		return "", fmt.Errorf("event type is required")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event: %w", err)
	}

	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.config.Stream,
		Values: map[string]interface{}{eventField: string(data)},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue event: %w", err)
	}

	if q.metrics != nil {
		q.metrics.WebhookQueueEnqueuedTotal.Inc()
	}
	return id, nil
}

// EnsureGroup creates the stream and consumer group if missing
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.config.Stream, q.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Run consumes until ctx is cancelled. Recover runs first and stale messages
// are claimed again every ClaimInterval.
func (q *Queue) Run(ctx context.Context) error {
	if q.emitter == nil {
		return fmt.Errorf("queue has no emitter")
	}
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}

	logger := q.logger.WithFields(logrus.Fields{
		"stream":   q.config.Stream,
		"group":    q.config.Group,
		"consumer": q.config.Consumer,
	})
	logger.Info("Webhook queue consumer started")

	if n, err := q.Recover(ctx); err != nil {
		logger.WithError(err).Warn("Failed to recover pending messages")
	} else if n > 0 {
		logger.WithField("messages", n).Info("Recovered pending messages")
	}
	lastClaim := time.Now()

	for {
		if ctx.Err() != nil {
			logger.Info("Webhook queue consumer stopped")
			return nil
		}
		if time.Since(lastClaim) >= q.config.ClaimInterval {
			lastClaim = time.Now()
			if n, err := q.ClaimStale(ctx); err != nil && ctx.Err() == nil {
				logger.WithError(err).Warn("Failed to claim stale messages")
			} else if n > 0 {
				logger.WithField("messages", n).Info("Claimed stale messages")
			}
		}
		if _, err := q.ProcessOnce(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			logger.WithError(err).Error("Failed to read from stream")
			select {
			case <-ctx.Done():
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOnce reads one batch of new messages and delivers them
func (q *Queue) ProcessOnce(ctx context.Context) (int, error) {
	return q.process(ctx, ">")
}

// Recover delivers every message still pending for this consumer name, then
// claims messages other consumers left idle.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	total := 0
	start := "0"
	for ctx.Err() == nil {
		messages, err := q.read(ctx, start)
		if err != nil {
			return total, err
		}
		if len(messages) == 0 {
			break
		}
		q.deliver(ctx, messages)
		total += len(messages)
		start = messages[len(messages)-1].ID
	}

	claimed, err := q.ClaimStale(ctx)
	return total + claimed, err
}

// ClaimStale takes over and delivers messages that have been pending on any
// consumer for at least ClaimMinIdle
func (q *Queue) ClaimStale(ctx context.Context) (int, error) {
	total := 0
	start := "-"
	for ctx.Err() == nil {
		pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: q.config.Stream,
			Group:  q.config.Group,
			Idle:   q.config.ClaimMinIdle,
			Start:  start,
			End:    "+",
			Count:  q.config.BatchSize,
		}).Result()
		if err != nil {
			return total, fmt.Errorf("failed to list pending messages: %w", err)
		}
		if len(pending) == 0 {
			break
		}

		ids := make([]string, 0, len(pending))
		for _, p := range pending {
			ids = append(ids, p.ID)
		}
		messages, err := q.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   q.config.Stream,
			Group:    q.config.Group,
			Consumer: q.config.Consumer,
			MinIdle:  q.config.ClaimMinIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			return total, fmt.Errorf("failed to claim pending messages: %w", err)
		}
		if len(messages) > 0 {
			q.deliver(ctx, messages)
			total += len(messages)
		}

		if int64(len(pending)) < q.config.BatchSize {
			break
		}
		if start, err = nextStreamID(ids[len(ids)-1]); err != nil {
			return total, err
		}
	}
	return total, nil
}

func (q *Queue) process(ctx context.Context, start string) (int, error) {
	messages, err := q.read(ctx, start)
	if err != nil {
		return 0, err
	}
	q.deliver(ctx, messages)
	return len(messages), nil
}

func (q *Queue) read(ctx context.Context, start string) ([]redis.XMessage, error) {
	block := q.config.Block
	if start != ">" {
		block = -1
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.config.Group,
		Consumer: q.config.Consumer,
		Streams:  []string{q.config.Stream, start},
		Count:    q.config.BatchSize,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []redis.XMessage
	for _, s := range streams {
		messages = append(messages, s.Messages...)
	}
	return messages, nil
}

func (q *Queue) deliver(ctx context.Context, messages []redis.XMessage) {
	if len(messages) == 0 {
		return
	}
	errs := async.Batch(ctx, messages, q.config.Workers, "webhook queue", q.config.TaskTimeout, q.handle)
	for _, err := range errs {
		q.logger.WithError(err).Error("Failed to handle stream message")
	}
}

// nextStreamID is the smallest id after id, for paging XPENDING ranges
func nextStreamID(id string) (string, error) {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return "", fmt.Errorf("invalid stream id %q", id)
	}
	n, err := strconv.ParseUint(seq, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid stream id %q: %w", id, err)
	}
	if n == math.MaxUint64 {
		t, err := strconv.ParseUint(ms, 10, 64)
		if err != nil {
			return "", fmt.Errorf("invalid stream id %q: %w", id, err)
		}
		return strconv.FormatUint(t+1, 10) + "-0", nil
	}
	return ms + "-" + strconv.FormatUint(n+1, 10), nil
}

// handle delivers one message and acknowledges it. Malformed messages are
// acknowledged and dropped.
func (q *Queue) handle(ctx context.Context, msg redis.XMessage) error {
	logger := q.logger.WithField("message_id", msg.ID)

	event, err := decodeMessage(msg)
	if err != nil {
		logger.WithError(err).Warn("Dropping malformed stream message")
		q.processed("malformed")
		return q.ack(ctx, msg.ID)
	}

	result := q.emitter.Emit(ctx, event)
	switch {
	case result.Skipped:
		q.processed("skipped")
	case result.Success:
		q.processed("success")
	default:
		q.processed("failed")
	}
	return q.ack(ctx, msg.ID)
}

func (q *Queue) ack(ctx context.Context, id string) error {
	// ack survives task timeouts
	ctx = context.WithoutCancel(ctx)
	if err := q.client.XAck(ctx, q.config.Stream, q.config.Group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", id, err)
	}
	return nil
}

func (q *Queue) processed(outcome string) {
	if q.metrics != nil {
		q.metrics.WebhookQueueProcessedTotal.WithLabelValues(outcome).Inc()
	}
}

func decodeMessage(msg redis.XMessage) (Event, error) {
	raw, ok := msg.Values[eventField].(string)
	if !ok {
		return Event{}, fmt.Errorf("message has no %q field", eventField)
	}
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return Event{}, fmt.Errorf("invalid event JSON: %w", err)
	}
	if event.Type == "" {
		return Event{}, fmt.Errorf("event type is missing")
	}
	return event, nil
}
