package webhooks

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/herohooks/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEmitter struct {
	mu     sync.Mutex
	events []Event
	result EmissionResult
}

func (r *recordingEmitter) Emit(_ context.Context, event Event) EmissionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	res := r.result
	res.EventType = event.Type
	return res
}

func (r *recordingEmitter) seen() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func setupQueue(t *testing.T, emitter EventEmitter) (*Queue, *redis.Client, *observability.Metrics) {
	t.Helper()
	q, client, metrics, _ := setupQueueServer(t, emitter)
	return q, client, metrics
}

func setupQueueServer(t *testing.T, emitter EventEmitter) (*Queue, *redis.Client, *observability.Metrics, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	q := newTestQueue(client, emitter, "worker-1", metrics)
	require.NoError(t, q.EnsureGroup(context.Background()))
	return q, client, metrics, mr
}

func newTestQueue(client *redis.Client, emitter EventEmitter, consumer string, metrics *observability.Metrics) *Queue {
	return NewQueue(client, emitter, QueueConfig{
		Stream:       "test:events",
		Group:        "test-workers",
		Consumer:     consumer,
		BatchSize:    2,
		Block:        -1,
		Workers:      2,
		TaskTimeout:  time.Minute,
		ClaimMinIdle: 2 * time.Minute,
	}, nil, metrics)
}

// readWithoutAck simulates a consumer that read messages and died
func readWithoutAck(t *testing.T, client *redis.Client, consumer string) int {
	t.Helper()
	streams, err := client.XReadGroup(context.Background(), &redis.XReadGroupArgs{
		Group:    "test-workers",
		Consumer: consumer,
		Streams:  []string{"test:events", ">"},
		Block:    -1,
	}).Result()
	require.NoError(t, err)
	n := 0
	for _, s := range streams {
		n += len(s.Messages)
	}
	return n
}

func pendingCount(t *testing.T, client *redis.Client) int64 {
	t.Helper()
	pending, err := client.XPending(context.Background(), "test:events", "test-workers").Result()
	require.NoError(t, err)
	return pending.Count
}

func TestQueue_EnqueueAndProcess(t *testing.T) {
	emitter := &recordingEmitter{result: EmissionResult{Success: true}}
	q, client, metrics := setupQueue(t, emitter)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, Event{
		Type:     "lead_captured",
		Data:     map[string]interface{}{"email": "ada@example.com"},
		Metadata: &Metadata{Source: "form"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WebhookQueueEnqueuedTotal))

	n, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := emitter.seen()
	require.Len(t, events, 1)
	assert.Equal(t, "lead_captured", events[0].Type)
	assert.Equal(t, "ada@example.com", events[0].Data["email"])
	require.NotNil(t, events[0].Metadata)
	assert.Equal(t, "form", events[0].Metadata.Source)

	assert.Equal(t, int64(0), pendingCount(t, client))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WebhookQueueProcessedTotal.WithLabelValues("success")))
}

func TestQueue_ProcessOnceEmpty(t *testing.T) {
	q, _, _ := setupQueue(t, &recordingEmitter{})

	n, err := q.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_EnqueueRequiresType(t *testing.T) {
	q, _, _ := setupQueue(t, &recordingEmitter{})

	_, err := q.Enqueue(context.Background(), Event{})
	assert.Error(t, err)
}

func TestQueue_EnsureGroupIsIdempotent(t *testing.T) {
	q, _, _ := setupQueue(t, &recordingEmitter{})
	assert.NoError(t, q.EnsureGroup(context.Background()))
}

func TestQueue_FailedEmissionIsAcked(t *testing.T) {
	emitter := &recordingEmitter{result: EmissionResult{Success: false}}
	q, client, metrics := setupQueue(t, emitter)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, Event{Type: "ping"})
	require.NoError(t, err)

	_, err = q.ProcessOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(0), pendingCount(t, client))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WebhookQueueProcessedTotal.WithLabelValues("failed")))
}

func TestQueue_MalformedMessageDropped(t *testing.T) {
	emitter := &recordingEmitter{result: EmissionResult{Success: true}}
	q, client, metrics := setupQueue(t, emitter)
	ctx := context.Background()

	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: "test:events",
		Values: map[string]interface{}{"event": "{not json"},
	}).Err())
	require.NoError(t, client.XAdd(ctx, &redis.XAddArgs{
		Stream: "test:events",
		Values: map[string]interface{}{"other": "field"},
	}).Err())

	n, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Empty(t, emitter.seen())
	assert.Equal(t, int64(0), pendingCount(t, client))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.WebhookQueueProcessedTotal.WithLabelValues("malformed")))
}

func TestQueue_RecoversOwnPendingMessages(t *testing.T) {
	emitter := &recordingEmitter{result: EmissionResult{Success: true}}
	q, client, _ := setupQueue(t, emitter)
	ctx := context.Background()

	// more than one batch
	for i := 0; i < 5; i++ {
		_, err := q.Enqueue(ctx, Event{Type: "ping"})
		require.NoError(t, err)
	}
	require.Equal(t, 5, readWithoutAck(t, client, "worker-1"))
	require.Equal(t, int64(5), pendingCount(t, client))

	n, err := q.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, emitter.seen(), 5)
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestQueue_ReplacementConsumerClaimsStaleMessages(t *testing.T) {
	emitter := &recordingEmitter{result: EmissionResult{Success: true}}
	q, client, metrics, mr := setupQueueServer(t, emitter)
	ctx := context.Background()
	now := time.Now()
	mr.SetTime(now)

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, Event{Type: "ping"})
		require.NoError(t, err)
	}
	require.Equal(t, 3, readWithoutAck(t, client, "oldhost-4242"))

	replacement := newTestQueue(client, emitter, "newhost-7", metrics)

	n, err := replacement.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "messages younger than ClaimMinIdle stay with their consumer")
	assert.Empty(t, emitter.seen())

	mr.SetTime(now.Add(3 * time.Minute))
	n, err = replacement.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Len(t, emitter.seen(), 3)
	assert.Equal(t, int64(0), pendingCount(t, client))

	n, err = replacement.ClaimStale(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestQueue_StableConsumerNameRecoversOnRestart(t *testing.T) {
	emitter := &recordingEmitter{result: EmissionResult{Success: true}}
	_, client, metrics := setupQueue(t, emitter)
	ctx := context.Background()

	first := newTestQueue(client, emitter, "herohooks-worker-0", metrics)
	_, err := first.Enqueue(ctx, Event{Type: "ping"})
	require.NoError(t, err)
	require.Equal(t, 1, readWithoutAck(t, client, "herohooks-worker-0"))

	restarted := newTestQueue(client, emitter, "herohooks-worker-0", metrics)
	n, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestQueueConfig_ClaimDefaults(t *testing.T) {
	cfg := QueueConfig{TaskTimeout: 5 * time.Minute}.withDefaults()
	assert.Equal(t, 6*time.Minute, cfg.ClaimMinIdle)
	assert.Equal(t, 30*time.Second, cfg.ClaimInterval)
	assert.NotEmpty(t, cfg.Consumer)
}

func TestNextStreamID(t *testing.T) {
	tests := []struct {
		id      string
		want    string
		wantErr bool
	}{
		{"1700000000000-0", "1700000000000-1", false},
		{"5-41", "5-42", false},
		{"5-18446744073709551615", "6-0", false},
		{"nodash", "", true},
		{"5-x", "", true},
	}
	for _, tt := range tests {
		got, err := nextStreamID(tt.id)
		if tt.wantErr {
			assert.Error(t, err, tt.id)
			continue
		}
		require.NoError(t, err, tt.id)
		assert.Equal(t, tt.want, got)
	}
}

func TestQueue_RunStopsOnCancel(t *testing.T) {
	emitter := &recordingEmitter{result: EmissionResult{Success: true}}
	q, _, _ := setupQueue(t, emitter)
	q.config.Block = 10 * time.Millisecond

	_, err := q.Enqueue(context.Background(), Event{Type: "ping"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.Eventually(t, func() bool { return len(emitter.seen()) == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestQueue_RunRequiresEmitter(t *testing.T) {
	q, _, _ := setupQueue(t, nil)
	assert.Error(t, q.Run(context.Background()))
}
