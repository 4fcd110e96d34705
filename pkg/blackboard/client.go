package blackboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/drey/pkg/objective"
)

const (
	// DefaultStagingTTL applies when Store is called with a non-positive ttl and no default is configured
	DefaultStagingTTL = time.Hour

	// DefaultStreamName is the single topic carrying objective events
	DefaultStreamName = "objective_events"

	// DefaultStreamMaxLen caps the stream length on every XADD
	DefaultStreamMaxLen = 10000

	defaultReadCount = 10
	defaultReadBlock = 2 * time.Second
	readRetryDelay   = time.Second
)

// Options configures staging and stream behaviour of a Client.
// Zero values fall back to the package defaults.
type Options struct {
	DefaultTTL   time.Duration
	StreamName   string
	StreamMaxLen int64
}

// Client provides namespaced Redis operations for the staging store and the event stream.
// All keys are automatically namespaced.
// The client is thread-safe and can be used concurrently from multiple goroutines.
type Client struct {
	rdb        *redis.Client
	namespace  string
	defaultTTL time.Duration
	streamKey  string
	maxLen     int64
}

// NewClient creates a new blackboard client for the specified namespace.
//
// Parameters:
//   - redisOpts: Redis connection options (address, password, DB, etc.)
//   - namespace: key namespace (must not be empty)
//   - opts: staging TTL and stream settings
//
// Returns an error if namespace is empty.
func NewClient(redisOpts *redis.Options, namespace string, opts Options) (*Client, error) {
	if namespace == "" {
		return nil, fmt.Errorf("namespace cannot be empty")
	}

	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = DefaultStagingTTL
	}
	if opts.StreamName == "" {
		opts.StreamName = DefaultStreamName
	}
	if opts.StreamMaxLen <= 0 {
		opts.StreamMaxLen = DefaultStreamMaxLen
	}

	return &Client{
		rdb:        redis.NewClient(redisOpts),
		namespace:  namespace,
		defaultTTL: opts.DefaultTTL,
		streamKey:  EventStreamKey(namespace, opts.StreamName),
		maxLen:     opts.StreamMaxLen,
	}, nil
}

// Namespace returns the key namespace of this client.
func (c *Client) Namespace() string {
	return c.namespace
}

// StreamKey returns the fully qualified Redis key of the event stream.
func (c *Client) StreamKey() string {
	return c.streamKey
}

// Close closes the Redis connection. Implements io.Closer.
// After calling Close(), the client should not be used.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies Redis connectivity. Useful for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Store JSON-encodes data and writes it under key with an expiry.
// A non-positive ttl falls back to the configured default TTL.
func (c *Client) Store(ctx context.Context, key string, data any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal staged value: %w", err)
	}

	if err := c.rdb.Set(ctx, key, encoded, ttl).Err(); err != nil {
		return fmt.Errorf("failed to write staged value to Redis: %w", err)
	}

	return nil
}

// Retrieve decodes the value stored under key into dst.
// Returns (false, nil) if the key is absent or has expired.
func (c *Client) Retrieve(ctx context.Context, key string, dst any) (bool, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read staged value from Redis: %w", err)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("failed to unmarshal staged value: %w", err)
	}

	return true, nil
}

// Remove deletes the given keys. Missing keys are ignored.
func (c *Client) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to remove staged keys: %w", err)
	}
	return nil
}

// ClearStaging removes the raw, objective and plan records of an objective in one DEL.
func (c *Client) ClearStaging(ctx context.Context, objectiveID string) error {
	keys := make([]string, 0, len(StagingKinds))
	for _, kind := range StagingKinds {
		keys = append(keys, StagingKey(c.namespace, kind, objectiveID))
	}
	return c.Remove(ctx, keys...)
}

// Publish validates the event and appends it to the stream, trimming the stream
// to the configured maximum length. Returns the id Redis assigned to the entry.
func (c *Client) Publish(ctx context.Context, ev *objective.Event) (string, error) {
	if err := ev.Validate(); err != nil {
		return "", fmt.Errorf("invalid event: %w", err)
	}

	values, err := EventToValues(ev)
	if err != nil {
		return "", fmt.Errorf("failed to serialize event: %w", err)
	}

	id, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: c.streamKey,
		MaxLen: c.maxLen,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append event to stream: %w", err)
	}

	return id, nil
}

// EnsureGroup creates the consumer group (and the stream) if it does not exist.
// Calling it for an existing group is a no-op.
func (c *Client) EnsureGroup(ctx context.Context, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.streamKey, group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", group, err)
	}
	return nil
}

// Ack acknowledges a single stream entry for the group.
func (c *Client) Ack(ctx context.Context, group, id string) error {
	if err := c.rdb.XAck(ctx, c.streamKey, group, id).Err(); err != nil {
		return fmt.Errorf("failed to ack stream entry %s: %w", id, err)
	}
	return nil
}

// StreamLength returns the number of entries currently retained in the stream.
func (c *Client) StreamLength(ctx context.Context) (int64, error) {
	n, err := c.rdb.XLen(ctx, c.streamKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read stream length: %w", err)
	}
	return n, nil
}

// PendingCount returns the number of delivered but unacknowledged entries of the group.
// A group that does not exist yet has nothing pending.
func (c *Client) PendingCount(ctx context.Context, group string) (int64, error) {
	pending, err := c.rdb.XPending(ctx, c.streamKey, group).Result()
	if err != nil {
		if strings.Contains(err.Error(), "NOGROUP") {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read pending entries: %w", err)
	}
	return pending.Count, nil
}

// StreamMessage is one entry read from the stream.
// Err is set when the entry could not be decoded; ID is always set so the
// consumer can still acknowledge it.
type StreamMessage struct {
	ID    string
	Event *objective.Event
	Err   error
}

// SubscribeOptions tunes the read loop of a stream subscription.
type SubscribeOptions struct {
	// Count is the maximum number of entries per XREADGROUP call
	Count int64

	// Block is how long a single XREADGROUP waits for new entries
	Block time.Duration
}

// StreamSubscription represents an active consumer-group read loop.
// Caller must call Close() when done to clean up resources.
type StreamSubscription struct {
	messages <-chan StreamMessage
	errors   <-chan error
	cancel   func()
	once     sync.Once
}

// Messages returns the channel of stream entries.
// The channel will be closed when the subscription is closed or the context is cancelled.
func (s *StreamSubscription) Messages() <-chan StreamMessage {
	return s.messages
}

// Errors returns the channel of read errors.
// The subscription keeps reading after an error.
func (s *StreamSubscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Implements io.Closer.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *StreamSubscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// Subscribe joins the consumer group and starts reading the stream.
//
// The read loop first re-delivers the consumer's own pending entries (entries read
// before a restart but never acknowledged), then switches to new entries only.
// Every delivered entry must be acknowledged individually with Ack.
// Context cancellation also stops the subscription.
func (c *Client) Subscribe(ctx context.Context, group, consumer string, opts SubscribeOptions) (*StreamSubscription, error) {
	if group == "" || consumer == "" {
		return nil, fmt.Errorf("group and consumer cannot be empty")
	}
	if opts.Count <= 0 {
		opts.Count = defaultReadCount
	}
	if opts.Block <= 0 {
		opts.Block = defaultReadBlock
	}

	if err := c.EnsureGroup(ctx, group); err != nil {
		return nil, err
	}

	messagesChan := make(chan StreamMessage, opts.Count)
	errorsChan := make(chan error, 10)

	subCtx, cancelFunc := context.WithCancel(ctx)

	go func() {
		defer close(messagesChan)
		defer close(errorsChan)

		// "0" reads this consumer's pending entries; ">" reads never-delivered ones
		cursor := "0"

		for {
			if subCtx.Err() != nil {
				return
			}

			readingPending := cursor != ">"
			block := opts.Block
			if readingPending {
				// pending reads return immediately, a negative Block omits BLOCK
				block = -1
			}

			streams, err := c.rdb.XReadGroup(subCtx, &redis.XReadGroupArgs{
				Group:    group,
				Consumer: consumer,
				Streams:  []string{c.streamKey, cursor},
				Count:    opts.Count,
				Block:    block,
			}).Result()
			if err != nil {
				if errors.Is(err, redis.Nil) {
					if readingPending {
						cursor = ">"
					}
					continue
				}
				if subCtx.Err() != nil {
					return
				}
				if readingPending {
					cursor = ">"
				}

				select {
				case errorsChan <- fmt.Errorf("failed to read from stream: %w", err):
				case <-subCtx.Done():
					return
				}

				select {
				case <-time.After(readRetryDelay):
				case <-subCtx.Done():
					return
				}
				continue
			}

			delivered := 0
			for _, stream := range streams {
				for _, msg := range stream.Messages {
					delivered++

					ev, decodeErr := ValuesToEvent(msg.Values)
					if decodeErr != nil {
						decodeErr = fmt.Errorf("failed to decode stream entry %s: %w", msg.ID, decodeErr)
					}

					select {
					case messagesChan <- StreamMessage{ID: msg.ID, Event: ev, Err: decodeErr}:
					case <-subCtx.Done():
						return
					}

					if readingPending {
						cursor = msg.ID
					}
				}
			}

			if readingPending && delivered == 0 {
				cursor = ">"
			}
		}
	}()

	return &StreamSubscription{
		messages: messagesChan,
		errors:   errorsChan,
		cancel:   cancelFunc,
	}, nil
}

// LastEventID returns the id of the newest stream entry, or "0-0" for an empty stream.
// Passing it to ReadEvents yields only entries appended afterwards.
func (c *Client) LastEventID(ctx context.Context) (string, error) {
	msgs, err := c.rdb.XRevRangeN(ctx, c.streamKey, "+", "-", 1).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read last stream entry: %w", err)
	}
	if len(msgs) == 0 {
		return "0-0", nil
	}
	return msgs[0].ID, nil
}

// ReadEvents reads up to count entries after the given id without joining a consumer
// group, so observers never take entries away from workers. It returns an empty slice
// when block elapses with nothing new. A negative block returns immediately; zero
// blocks until an entry arrives.
func (c *Client) ReadEvents(ctx context.Context, after string, count int64, block time.Duration) ([]StreamMessage, error) {
	if count <= 0 {
		count = defaultReadCount
	}
	streams, err := c.rdb.XRead(ctx, &redis.XReadArgs{
		Streams: []string{c.streamKey, after},
		Count:   count,
		Block:   block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var out []StreamMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			ev, decodeErr := ValuesToEvent(msg.Values)
			if decodeErr != nil {
				decodeErr = fmt.Errorf("failed to decode stream entry %s: %w", msg.ID, decodeErr)
			}
			out = append(out, StreamMessage{ID: msg.ID, Event: ev, Err: decodeErr})
		}
	}
	return out, nil
}

// IsNotFound returns true if the error is a Redis "key not found" error (redis.Nil).
func IsNotFound(err error) bool {
	return errors.Is(err, redis.Nil)
}
