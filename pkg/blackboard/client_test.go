package blackboard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/drey/pkg/objective"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	return setupTestClientWithOptions(t, Options{})
}

func setupTestClientWithOptions(t *testing.T, opts Options) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-ns", opts)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

type rawRecord struct {
	RawText     string `json:"raw_text"`
	ObjectiveID string `json:"objective_id"`
}

func TestNewClient(t *testing.T) {
	t.Run("creates client with defaults", func(t *testing.T) {
		client, _ := setupTestClient(t)
		assert.Equal(t, "test-ns", client.Namespace())
		assert.Equal(t, DefaultStagingTTL, client.defaultTTL)
		assert.Equal(t, int64(DefaultStreamMaxLen), client.maxLen)
		assert.Equal(t, "drey:test-ns:stream:objective_events", client.StreamKey())
	})

	t.Run("rejects empty namespace", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "", Options{})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "namespace cannot be empty")
	})
}

func TestPing(t *testing.T) {
	client, _ := setupTestClient(t)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestPingFailsWhenRedisIsDown(t *testing.T) {
	client, mr := setupTestClient(t)
	mr.Close()

	assert.Error(t, client.Ping(context.Background()))
}

func TestStoreAndRetrieve(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()
	id := uuid.New().String()

	t.Run("round trips a staged value", func(t *testing.T) {
		in := rawRecord{RawText: "launch the landing page", ObjectiveID: id}
		require.NoError(t, client.Store(ctx, client.RawKey(id), in, 5*time.Minute))

		var out rawRecord
		found, err := client.Retrieve(ctx, client.RawKey(id), &out)
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, in, out)
		assert.Equal(t, 5*time.Minute, mr.TTL(client.RawKey(id)))
	})

	t.Run("falls back to default ttl", func(t *testing.T) {
		key := client.PlanKey(id)
		require.NoError(t, client.Store(ctx, key, map[string]any{"steps": []any{}}, 0))
		assert.Equal(t, DefaultStagingTTL, mr.TTL(key))
	})

	t.Run("uses configured default ttl", func(t *testing.T) {
		custom, mr := setupTestClientWithOptions(t, Options{DefaultTTL: 10 * time.Minute})
		key := custom.ObjectiveKey(id)
		require.NoError(t, custom.Store(ctx, key, "x", -1))
		assert.Equal(t, 10*time.Minute, mr.TTL(key))
	})

	t.Run("missing key is not an error", func(t *testing.T) {
		var out rawRecord
		found, err := client.Retrieve(ctx, client.RawKey(uuid.New().String()), &out)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("expired key is treated as never staged", func(t *testing.T) {
		key := client.ObjectiveKey(uuid.New().String())
		require.NoError(t, client.Store(ctx, key, objective.New(), time.Second))

		mr.FastForward(2 * time.Second)

		var out objective.Objective
		found, err := client.Retrieve(ctx, key, &out)
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("malformed value is an error", func(t *testing.T) {
		key := client.RawKey(uuid.New().String())
		require.NoError(t, mr.Set(key, "{not json"))

		var out rawRecord
		_, err := client.Retrieve(ctx, key, &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to unmarshal staged value")
	})
}

func TestClearStaging(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()
	id := uuid.New().String()
	other := uuid.New().String()

	require.NoError(t, client.Store(ctx, client.RawKey(id), rawRecord{RawText: "a"}, 0))
	require.NoError(t, client.Store(ctx, client.ObjectiveKey(id), objective.New(), 0))
	require.NoError(t, client.Store(ctx, client.PlanKey(id), map[string]any{"steps": []any{}}, 0))
	require.NoError(t, client.Store(ctx, client.RawKey(other), rawRecord{RawText: "b"}, 0))

	require.NoError(t, client.ClearStaging(ctx, id))

	assert.False(t, mr.Exists(client.RawKey(id)))
	assert.False(t, mr.Exists(client.ObjectiveKey(id)))
	assert.False(t, mr.Exists(client.PlanKey(id)))
	assert.True(t, mr.Exists(client.RawKey(other)), "other objectives must be untouched")

	// Clearing again is a no-op
	assert.NoError(t, client.ClearStaging(ctx, id))
}

func TestRemove(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	assert.NoError(t, client.Remove(ctx))
	assert.NoError(t, client.Remove(ctx, client.RawKey("missing")))
}

func TestPublish(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	t.Run("appends event and returns id", func(t *testing.T) {
		ev := objective.NewEvent(objective.EventPlanDrafted, uuid.New().String(), map[string]any{"steps": 3})
		id, err := client.Publish(ctx, ev)
		require.NoError(t, err)
		assert.NotEmpty(t, id)

		n, err := client.StreamLength(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("rejects unknown event type", func(t *testing.T) {
		ev := objective.NewEvent("made_up", "", nil)
		_, err := client.Publish(ctx, ev)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid event")
	})
}

func TestPublishTrimsStream(t *testing.T) {
	client, _ := setupTestClientWithOptions(t, Options{StreamMaxLen: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := client.Publish(ctx, objective.NewEvent(objective.EventProgressUpdated, "obj", nil))
		require.NoError(t, err)
	}

	n, err := client.StreamLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestReadEvents(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	last, err := client.LastEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, "0-0", last)

	first, err := client.Publish(ctx, objective.NewEvent(objective.EventUserInputReceived, "a", nil))
	require.NoError(t, err)

	last, err = client.LastEventID(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, last)

	_, err = client.Publish(ctx, objective.NewEvent(objective.EventPlanDrafted, "a", nil))
	require.NoError(t, err)

	msgs, err := client.ReadEvents(ctx, last, 10, -1)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, objective.EventPlanDrafted, msgs[0].Event.EventType)

	msgs, err = client.ReadEvents(ctx, msgs[0].ID, 10, -1)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// reading does not create or advance any consumer group
	msgs, err = client.ReadEvents(ctx, "0-0", 10, -1)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestEnsureGroupIsIdempotent(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.EnsureGroup(ctx, "workers"))
	require.NoError(t, client.EnsureGroup(ctx, "workers"), "BUSYGROUP must be ignored")
}

func TestPendingCountWithoutGroup(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	_, err := client.Publish(ctx, objective.NewEvent(objective.EventPlanDrafted, "obj", nil))
	require.NoError(t, err)

	n, err := client.PendingCount(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestSubscribe(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	id := uuid.New().String()
	ev := objective.NewEvent(objective.EventUserInputReceived, id, map[string]any{
		"raw_text": "launch the landing page",
	}).WithIdempotencyKey(id)

	_, err := client.Publish(ctx, ev)
	require.NoError(t, err)

	sub, err := client.Subscribe(ctx, "workers", "worker-1", SubscribeOptions{Block: 50 * time.Millisecond})
	require.NoError(t, err)
	defer sub.Close()

	var msg StreamMessage
	select {
	case msg = <-sub.Messages():
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for stream message")
	}

	require.NoError(t, msg.Err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, objective.EventUserInputReceived, msg.Event.EventType)
	assert.Equal(t, id, msg.Event.ObjectiveID)
	assert.Equal(t, id, msg.Event.IdempotencyKey)
	assert.Equal(t, "launch the landing page", msg.Event.Payload["raw_text"])

	pending, err := client.PendingCount(ctx, "workers")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)

	require.NoError(t, client.Ack(ctx, "workers", msg.ID))

	pending, err = client.PendingCount(ctx, "workers")
	require.NoError(t, err)
	assert.Equal(t, int64(0), pending)
}

func TestSubscribeDeliversNewEntries(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := client.Subscribe(ctx, "workers", "worker-1", SubscribeOptions{Block: 50 * time.Millisecond})
	require.NoError(t, err)
	defer sub.Close()

	for i := 1; i <= 3; i++ {
		ev := objective.NewEvent(objective.EventProgressUpdated, "obj", map[string]any{"step": i})
		_, err := client.Publish(ctx, ev)
		require.NoError(t, err)
	}

	for i := 1; i <= 3; i++ {
		select {
		case msg := <-sub.Messages():
			require.NoError(t, msg.Err)
			assert.Equal(t, float64(i), msg.Event.Payload["step"], "entries arrive in stream order")
			require.NoError(t, client.Ack(ctx, "workers", msg.ID))
		case <-time.After(5 * time.Second):
			t.Fatalf("timeout waiting for message %d", i)
		}
	}
}

func TestSubscribeDeliversUndecodableEntries(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// An entry written by something other than Publish
	require.NoError(t, client.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: client.StreamKey(),
		Values: map[string]interface{}{"unexpected": "field"},
	}).Err())

	sub, err := client.Subscribe(ctx, "workers", "worker-1", SubscribeOptions{Block: 50 * time.Millisecond})
	require.NoError(t, err)
	defer sub.Close()

	select {
	case msg := <-sub.Messages():
		assert.Error(t, msg.Err)
		assert.NotEmpty(t, msg.ID, "undecodable entries still carry an id so they can be acked")
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for stream message")
	}
}

func TestSubscriptionClose(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	sub, err := client.Subscribe(ctx, "workers", "worker-1", SubscribeOptions{Block: 50 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "close must be idempotent")

	select {
	case _, ok := <-sub.Messages():
		assert.False(t, ok, "messages channel should be closed")
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not stop")
	}
}

func TestSubscribeRejectsEmptyNames(t *testing.T) {
	client, _ := setupTestClient(t)

	_, err := client.Subscribe(context.Background(), "", "c", SubscribeOptions{})
	assert.Error(t, err)
}

func TestNamespaceIsolationOnStream(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, err := NewClient(&redis.Options{Addr: mr.Addr()}, "team-a", Options{})
	require.NoError(t, err)
	defer a.Close()
	b, err := NewClient(&redis.Options{Addr: mr.Addr()}, "team-b", Options{})
	require.NoError(t, err)
	defer b.Close()

	_, err = a.Publish(ctx, objective.NewEvent(objective.EventPlanDrafted, "obj", nil))
	require.NoError(t, err)

	n, err := b.StreamLength(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(redis.Nil))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(context.Canceled))
}
