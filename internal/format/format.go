// Package format renders objectives, decisions, learnings and search results for the CLI, as tables for
// people and as JSON for scripts.
package format

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/pkg/client"
	"github.com/dyluth/drey/pkg/objective"
)

// ObjectivesTable writes objectives as a table with columns ID, WHAT, STATUS, PROGRESS and AGE.
// Returns the number of objectives written.
func ObjectivesTable(w io.Writer, objs []*objective.Objective) int {
	if len(objs) == 0 {
		fmt.Fprintln(w, "No objectives found")
		return 0
	}

	tw := newTable(w)
	tw.AppendHeader(table.Row{"ID", "WHAT", "STATUS", "PROGRESS", "AGE"})
	for _, o := range objs {
		tw.AppendRow(table.Row{
			formatID(o.ID),
			truncateLine(o.What, 48),
			printer.Status(string(o.Status)),
			printer.ProgressBar(o.WorkDone, 10),
			formatAge(o.CreatedAt),
		})
	}
	tw.Render()

	noun := "objective"
	if len(objs) != 1 {
		noun = "objectives"
	}
	fmt.Fprintf(w, "\n%d %s\n", len(objs), noun)
	return len(objs)
}

// ObjectiveDetail writes the descriptive fields of an objective followed by its plan.
func ObjectiveDetail(w io.Writer, o *objective.Objective) {
	fmt.Fprintf(w, "ID:        %s\n", o.ID)
	fmt.Fprintf(w, "What:      %s\n", o.What)
	if o.Why != "" {
		fmt.Fprintf(w, "Why:       %s\n", o.Why)
	}
	fmt.Fprintf(w, "Expected:  %s\n", o.ExpectedOutput)
	if o.Outcome != "" {
		fmt.Fprintf(w, "Outcome:   %s\n", o.Outcome)
	}
	if len(o.Tags) > 0 {
		fmt.Fprintf(w, "Tags:      %s\n", strings.Join(o.Tags, ", "))
	}
	fmt.Fprintf(w, "Status:    %s\n", printer.Status(string(o.Status)))
	fmt.Fprintf(w, "Progress:  %s\n", printer.ProgressBar(o.WorkDone, 20))
	if !o.CreatedAt.IsZero() {
		fmt.Fprintf(w, "Created:   %s (%s)\n", o.CreatedAt.Format(time.RFC3339), formatAge(o.CreatedAt))
	}
	if ctx := strings.TrimSpace(o.Context); ctx != "" {
		fmt.Fprintf(w, "\nContext:\n%s\n", indent(ctx, "  "))
	}

	if len(o.Plan) > 0 {
		fmt.Fprintln(w)
		PlanTable(w, o.Plan)
	}
}

// PlanTable writes plan steps with their weight and completion state.
func PlanTable(w io.Writer, steps []objective.PlanStep) {
	tw := newTable(w)
	tw.AppendHeader(table.Row{"#", "STEP", "WEIGHT", "STATUS"})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight},
		{Number: 2, WidthMax: 60},
		{Number: 3, Align: text.AlignRight},
	})
	for _, s := range steps {
		mark := "pending"
		if s.Status == objective.StepCompleted {
			mark = "✓ done"
		}
		tw.AppendRow(table.Row{s.StepNumber, s.Description, fmt.Sprintf("%.1f", s.Weight), mark})
	}
	tw.Render()
}

// SearchTable writes search hits ranked by score. Decisions and learnings show their
// own summary text in the WHAT column.
func SearchTable(w io.Writer, results []client.SearchResult) int {
	if len(results) == 0 {
		fmt.Fprintln(w, "No matching objectives")
		return 0
	}

	tw := newTable(w)
	tw.AppendHeader(table.Row{"SCORE", "TYPE", "ID", "WHAT", "STATUS"})
	for _, r := range results {
		kind, _ := r.Payload["_type"].(string)
		if kind == "" {
			kind = "objective"
		}
		status, _ := r.Payload["status"].(string)
		tw.AppendRow(table.Row{
			fmt.Sprintf("%.3f", r.Score),
			kind,
			formatID(r.ID),
			truncateLine(payloadSummary(kind, r.Payload), 48),
			printer.Status(status),
		})
	}
	tw.Render()
	return len(results)
}

func payloadSummary(kind string, payload map[string]any) string {
	field := "what"
	switch kind {
	case "decision":
		field = "decision"
	case "learning":
		field = "content"
	}
	s, _ := payload[field].(string)
	return s
}

// DecisionsTable writes decisions with their reasoning. Returns the number written.
func DecisionsTable(w io.Writer, ds []*objective.Decision) int {
	if len(ds) == 0 {
		fmt.Fprintln(w, "No decisions found")
		return 0
	}

	tw := newTable(w)
	tw.AppendHeader(table.Row{"ID", "DECISION", "WHY", "OBJECTIVE", "AGE"})
	for _, d := range ds {
		source := "-"
		if d.SourceObjectiveID != "" {
			source = formatID(d.SourceObjectiveID)
		}
		tw.AppendRow(table.Row{
			formatID(d.ID),
			truncateLine(d.Decision, 40),
			truncateLine(d.Why, 40),
			source,
			formatAge(d.CreatedAt),
		})
	}
	tw.Render()
	return len(ds)
}

// LearningsTable writes learnings with their category. Returns the number written.
func LearningsTable(w io.Writer, ls []*objective.Learning) int {
	if len(ls) == 0 {
		fmt.Fprintln(w, "No learnings found")
		return 0
	}

	tw := newTable(w)
	tw.AppendHeader(table.Row{"ID", "CATEGORY", "LEARNING", "TAGS", "AGE"})
	for _, l := range ls {
		tw.AppendRow(table.Row{
			formatID(l.ID),
			string(l.Category),
			truncateLine(l.Content, 56),
			strings.Join(l.Tags, ", "),
			formatAge(l.CreatedAt),
		})
	}
	tw.Render()
	return len(ls)
}

// JSON writes v as indented JSON followed by a newline.
func JSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON output: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// JSONL writes each objective as a single JSON line, for piping into jq.
func JSONL(w io.Writer, objs []*objective.Objective) error {
	for _, o := range objs {
		data, err := json.Marshal(o)
		if err != nil {
			return fmt.Errorf("failed to marshal objective to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

// formatID truncates an objective id to its first 8 characters.
func formatID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncateLine keeps the first non-empty line of s, shortened to max runes.
func truncateLine(s string, max int) string {
	var line string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if line == "" {
		return "-"
	}
	r := []rune(line)
	if len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return line
}

// formatAge renders t relative to now, e.g. "2m ago".
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	diff := time.Since(t)
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
