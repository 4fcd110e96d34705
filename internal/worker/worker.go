// Package worker consumes the objective event stream and dispatches each entry to the
// handler registered for its event type.
//
// A Worker is the single consumer of a process. Entries are handled one at a time in
// stream order; producers run concurrently elsewhere and only append to the stream.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"runtime/debug"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dyluth/drey/internal/telemetry"
	"github.com/dyluth/drey/pkg/blackboard"
	"github.com/dyluth/drey/pkg/objective"
)

const (
	// DefaultIdempotencySize bounds the number of remembered idempotency keys
	DefaultIdempotencySize = 10000

	// DefaultIdempotencyTTL is how long a processed key is remembered
	DefaultIdempotencyTTL = 24 * time.Hour

	// DefaultGroup is the consumer group name used when none is configured
	DefaultGroup = "drey-workers"

	// DefaultConsumer is the consumer name used when none is configured
	DefaultConsumer = "worker-1"
)

// Handler processes one decoded event. A returned error counts as a handler failure.
type Handler func(ctx context.Context, ev *objective.Event) error

// Stream is the consumer side of the event stream. *blackboard.Client implements it.
type Stream interface {
	Subscribe(ctx context.Context, group, consumer string, opts blackboard.SubscribeOptions) (*blackboard.StreamSubscription, error)
	Ack(ctx context.Context, group, id string) error
}

// Processor turns staged raw input into a drafted plan.
type Processor interface {
	Process(ctx context.Context, id, rawText string) error
}

// Options configures a Worker. Zero values fall back to the package defaults,
// except AckOnFailure whose zero value leaves failed entries pending.
type Options struct {
	Namespace string
	Group     string
	Consumer  string

	// BatchSize and Block tune the stream read loop
	BatchSize int64
	Block     time.Duration

	IdempotencySize int
	IdempotencyTTL  time.Duration

	// AckOnFailure acknowledges entries whose handler failed. When false the entry stays
	// pending and its idempotency key is forgotten so a restart redelivers it.
	AckOnFailure bool
}

// Worker reads the stream through a consumer group and dispatches entries by event type.
type Worker struct {
	stream   Stream
	opts     Options
	handlers map[objective.EventType]Handler
	seen     *expirable.LRU[string, struct{}]
	tracer   trace.Tracer
	metrics  *telemetry.Metrics
}

// New creates a worker with no handlers registered.
// tracer and metrics may be nil, in which case nothing is recorded.
func New(stream Stream, opts Options, tracer trace.Tracer, metrics *telemetry.Metrics) *Worker {
	if opts.Group == "" {
		opts.Group = DefaultGroup
	}
	if opts.Consumer == "" {
		opts.Consumer = DefaultConsumer
	}
	if opts.IdempotencySize <= 0 {
		opts.IdempotencySize = DefaultIdempotencySize
	}
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = DefaultIdempotencyTTL
	}
	if tracer == nil {
		tracer = telemetry.Disabled().Tracer
	}
	if metrics == nil {
		metrics = telemetry.NoopMetrics()
	}

	return &Worker{
		stream:   stream,
		opts:     opts,
		handlers: make(map[objective.EventType]Handler),
		seen:     expirable.NewLRU[string, struct{}](opts.IdempotencySize, nil, opts.IdempotencyTTL),
		tracer:   tracer,
		metrics:  metrics,
	}
}

// Handle registers h for events of type t, replacing any previous handler.
// Handlers must be registered before Run.
func (w *Worker) Handle(t objective.EventType, h Handler) {
	w.handlers[t] = h
}

// ProcessHandler adapts a Processor to the user_input_received event.
// The raw text travels in the payload; when absent the processor reads it from staging.
func ProcessHandler(p Processor) Handler {
	return func(ctx context.Context, ev *objective.Event) error {
		if ev.ObjectiveID == "" {
			return fmt.Errorf("event %s has no objective_id", ev.EventType)
		}
		raw, _ := ev.Payload["raw_text"].(string)
		return p.Process(ctx, ev.ObjectiveID, raw)
	}
}

// Run subscribes to the stream and handles entries until ctx is cancelled.
// Returns an error only if the subscription cannot be established.
func (w *Worker) Run(ctx context.Context) error {
	log.Printf("[Worker] Starting consumer '%s' in group '%s'", w.opts.Consumer, w.opts.Group)

	sub, err := w.stream.Subscribe(ctx, w.opts.Group, w.opts.Consumer, blackboard.SubscribeOptions{
		Count: w.opts.BatchSize,
		Block: w.opts.Block,
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to event stream: %w", err)
	}
	defer sub.Close()

	log.Printf("[Worker] Subscribed with %d handler(s)", len(w.handlers))

	for {
		select {
		case <-ctx.Done():
			log.Printf("[Worker] Shutting down...")
			return nil

		case msg, ok := <-sub.Messages():
			if !ok {
				log.Printf("[Worker] Subscription closed")
				return nil
			}
			w.handleMessage(ctx, msg)

		case err, ok := <-sub.Errors():
			if !ok {
				continue
			}
			log.Printf("[Worker] Stream read error: %v", err)
		}
	}
}

// handleMessage deduplicates, dispatches and acknowledges a single entry.
func (w *Worker) handleMessage(ctx context.Context, msg blackboard.StreamMessage) {
	if msg.Err != nil {
		// undecodable entries can never succeed, so they are acked and dropped
		w.logEvent("event_undecodable", map[string]interface{}{
			"level":      "error",
			"message_id": msg.ID,
			"error":      msg.Err.Error(),
		})
		w.ack(ctx, msg.ID)
		return
	}

	ev := msg.Event
	typeAttr := metric.WithAttributes(telemetry.AttrEventType.String(string(ev.EventType)))
	w.metrics.EventsReceived.Add(ctx, 1, typeAttr)

	key := ev.IdempotencyKey
	if key != "" {
		if _, dup := w.seen.Get(key); dup {
			w.metrics.EventsDuplicate.Add(ctx, 1, typeAttr)
			w.logEvent("duplicate_event", map[string]interface{}{
				"message_id":      msg.ID,
				"objective_id":    ev.ObjectiveID,
				"stream_event":    string(ev.EventType),
				"idempotency_key": key,
			})
			w.ack(ctx, msg.ID)
			return
		}
		w.seen.Add(key, struct{}{})
	}

	handler, ok := w.handlers[ev.EventType]
	if !ok {
		log.Printf("[Worker] No handler for event type %s (message %s)", ev.EventType, msg.ID)
		w.ack(ctx, msg.ID)
		return
	}

	start := time.Now()
	err := w.dispatch(ctx, msg.ID, ev, handler)
	w.metrics.HandlerDuration.Record(ctx, time.Since(start).Seconds(), typeAttr)

	if err != nil {
		w.metrics.HandlerFailures.Add(ctx, 1, typeAttr)
		w.logEvent("handler_failed", map[string]interface{}{
			"level":        "error",
			"message_id":   msg.ID,
			"objective_id": ev.ObjectiveID,
			"stream_event": string(ev.EventType),
			"error":        err.Error(),
			"acked":        w.opts.AckOnFailure,
		})
		if !w.opts.AckOnFailure {
			if key != "" {
				w.seen.Remove(key)
			}
			return
		}
	} else {
		w.logEvent("event_handled", map[string]interface{}{
			"message_id":   msg.ID,
			"objective_id": ev.ObjectiveID,
			"stream_event": string(ev.EventType),
			"latency_ms":   time.Since(start).Milliseconds(),
		})
	}

	w.ack(ctx, msg.ID)
}

// dispatch runs the handler inside a consumer span and converts panics into errors.
func (w *Worker) dispatch(ctx context.Context, id string, ev *objective.Event, h Handler) (err error) {
	ctx, span := telemetry.StartConsumerSpan(ctx, w.tracer, "worker.handle",
		telemetry.AttrEventType.String(string(ev.EventType)),
		telemetry.AttrMessageID.String(id),
		telemetry.AttrObjectiveID.String(ev.ObjectiveID),
	)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Worker] Handler panic for message %s: %v\n%s", id, r, debug.Stack())
			err = fmt.Errorf("handler panic: %v", r)
		}
		telemetry.EndSpan(span, err)
	}()

	return h(ctx, ev)
}

func (w *Worker) ack(ctx context.Context, id string) {
	if err := w.stream.Ack(ctx, w.opts.Group, id); err != nil {
		log.Printf("[Worker] Failed to ack message %s: %v", id, err)
		return
	}
	w.metrics.EventsAcked.Add(ctx, 1)
}

// logEvent logs a structured event in JSON format.
func (w *Worker) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	if _, ok := data["level"]; !ok {
		data["level"] = "info"
	}
	data["component"] = "worker"
	data["event_type"] = eventType
	data["namespace"] = w.opts.Namespace

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Worker] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
