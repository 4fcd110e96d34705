// Package blackboard provides the Redis-backed shared state of drey: the staging store
// for drafts awaiting a human decision and the append-only event stream that drives
// the background worker.
//
// # Staging Store
//
// Every ingested objective passes through three staged records, each a JSON value with
// a TTL. An expired record is indistinguishable from one that was never written:
//
//	drey:{namespace}:staging:raw:{objective_id}        {raw_text, objective_id}
//	drey:{namespace}:staging:objective:{objective_id}  structured Objective
//	drey:{namespace}:staging:plan:{objective_id}       {steps: [...]}
//
// The three records of an objective are always cleared together (ClearStaging).
//
// # Event Stream
//
// Events are appended to a single Redis stream with XADD MAXLEN, so the stream is
// bounded and old entries are trimmed:
//
//	drey:{namespace}:stream:objective_events
//
// Consumers join a consumer group through Subscribe. Delivery is at-least-once: an
// entry stays pending until it is acknowledged with Ack, and a consumer that restarts
// under the same name is handed its pending entries again before any new ones.
//
// # Usage Example
//
//	client, err := blackboard.NewClient(&redis.Options{Addr: "localhost:6379"}, "default", blackboard.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	ev := objective.NewEvent(objective.EventUserInputReceived, id, map[string]any{"raw_text": text})
//	if _, err := client.Publish(ctx, ev.WithIdempotencyKey(id)); err != nil {
//		log.Fatal(err)
//	}
//
//	sub, err := client.Subscribe(ctx, "drey-workers", "worker-1", blackboard.SubscribeOptions{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sub.Close()
//
//	for msg := range sub.Messages() {
//		handle(msg.Event)
//		client.Ack(ctx, "drey-workers", msg.ID)
//	}
package blackboard
