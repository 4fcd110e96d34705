// Package watch follows the objective event stream and waits for drafted plans.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/dyluth/drey/pkg/blackboard"
	"github.com/dyluth/drey/pkg/objective"
)

// OutputFormat selects how streamed events are written.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

const defaultBlock = 2 * time.Second

// EventReader reads the stream without a consumer group.
type EventReader interface {
	LastEventID(ctx context.Context) (string, error)
	ReadEvents(ctx context.Context, after string, count int64, block time.Duration) ([]blackboard.StreamMessage, error)
}

// Options filters and formats a watch.
type Options struct {
	ObjectiveID string // only events for this objective; empty means all
	FromStart   bool   // replay the retained stream before following it
	Format      OutputFormat
	Block       time.Duration
}

// Stream writes events to w as they are appended, until ctx is cancelled.
func Stream(ctx context.Context, r EventReader, w io.Writer, opts Options) error {
	if opts.Block <= 0 {
		opts.Block = defaultBlock
	}

	cursor := "0-0"
	if !opts.FromStart {
		var err error
		if cursor, err = r.LastEventID(ctx); err != nil {
			return err
		}
	}

	for {
		msgs, err := r.ReadEvents(ctx, cursor, 100, opts.Block)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, msg := range msgs {
			cursor = msg.ID
			if msg.Err != nil {
				fmt.Fprintf(w, "⚠️  skipped entry %s: %v\n", msg.ID, msg.Err)
				continue
			}
			if opts.ObjectiveID != "" && msg.Event.ObjectiveID != opts.ObjectiveID {
				continue
			}
			if err := writeEvent(w, msg, opts.Format); err != nil {
				return err
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

type jsonLine struct {
	StreamID string `json:"stream_id"`
	*objective.Event
}

func writeEvent(w io.Writer, msg blackboard.StreamMessage, format OutputFormat) error {
	if format == OutputFormatJSON {
		data, err := json.Marshal(jsonLine{StreamID: msg.ID, Event: msg.Event})
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	}

	_, err := fmt.Fprintln(w, FormatEvent(msg.ID, msg.Event))
	return err
}

// FormatEvent renders one event as a human-readable line.
func FormatEvent(streamID string, ev *objective.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s %s", streamTime(streamID), icon(ev.EventType), color.New(color.Bold).Sprint(ev.EventType))
	if ev.ObjectiveID != "" {
		id := ev.ObjectiveID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(&b, " objective=%s", id)
	}

	keys := make([]string, 0, len(ev.Payload))
	for k := range ev.Payload {
		if k == "raw_text" || k == "objective" || k == "plan" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, ev.Payload[k])
	}
	return b.String()
}

// streamTime extracts the wall-clock time from a stream id ("<ms>-<seq>").
func streamTime(streamID string) string {
	ms, _, _ := strings.Cut(streamID, "-")
	var n int64
	if _, err := fmt.Sscanf(ms, "%d", &n); err != nil || n == 0 {
		return "--:--:--"
	}
	return time.UnixMilli(n).Format("15:04:05")
}

func icon(t objective.EventType) string {
	switch t {
	case objective.EventUserInputReceived:
		return "📥"
	case objective.EventObjectiveStructured, objective.EventPlanDrafted:
		return "📝"
	case objective.EventPlanConfirmed:
		return "👍"
	case objective.EventPlanRejected:
		return "👎"
	case objective.EventObjectivePersisted:
		return "💾"
	case objective.EventProgressUpdated:
		return "📈"
	case objective.EventPersistenceFailed:
		return "❌"
	default:
		return "💡"
	}
}
