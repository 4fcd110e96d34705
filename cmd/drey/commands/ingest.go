package commands

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/format"
	"github.com/dyluth/drey/internal/watch"
	"github.com/dyluth/drey/pkg/client"
	"github.com/dyluth/drey/pkg/objective"
)

var (
	ingestWait        bool
	ingestWaitTimeout time.Duration
)

const ingestPollInterval = 500 * time.Millisecond

var ingestCmd = &cobra.Command{
	Use:   "ingest [TEXT]",
	Short: "Submit raw text to be structured into an objective",
	Long: `Submit free-form text. The server stages it and a worker drafts a structured
objective with a weighted plan, which then waits for 'drey confirm'.

With no argument, or with "-", the text is read from stdin.
--wait blocks until the worker has drafted the plan and prints it.

Examples:
  drey ingest "Launch the landing page so we get signups"
  cat notes.md | drey ingest --wait`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestWait, "wait", "w", false, "wait for the drafted plan")
	ingestCmd.Flags().DurationVar(&ingestWaitTimeout, "timeout", time.Minute, "how long --wait waits")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)

	var text string
	if len(args) == 1 && args[0] != "-" {
		text = args[0]
	} else {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return p.Error("nothing to ingest", "The input text is empty.", []string{"Pass the text as an argument or pipe it on stdin"})
	}

	c := newClient()
	id, err := c.Submit(cmd.Context(), text)
	if err != nil {
		return apiFailure(p, "failed to submit text", "", err)
	}

	if !ingestWait {
		if jsonOutput() {
			return format.JSON(cmd.OutOrStdout(), map[string]string{"objective_id": id})
		}
		p.Success("Submitted objective %s\n", id)
		p.Hint("Check the drafted plan with:\n  drey status %s\n", id)
		return nil
	}

	if !jsonOutput() {
		p.Success("Submitted objective %s\n", id)
		p.Step("Waiting for the plan draft...\n")
	}
	steps, err := watch.PollForPlan(cmd.Context(), draftedPlan(c), id, ingestPollInterval, ingestWaitTimeout)
	if err != nil {
		return apiFailure(p, "no plan drafted", id, err)
	}

	if jsonOutput() {
		return format.JSON(cmd.OutOrStdout(), map[string]any{"objective_id": id, "steps": steps})
	}
	format.PlanTable(cmd.OutOrStdout(), steps)
	p.Hint("\nApprove it with:\n  drey confirm %s --approve\n", id)
	return nil
}

// draftedPlan reads the plan draft from the staging status endpoint.
func draftedPlan(c *client.Client) watch.PlanSource {
	return func(ctx context.Context, id string) ([]objective.PlanStep, error) {
		st, err := c.StagingStatus(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.PlanDraft == nil {
			return nil, nil
		}
		return st.PlanDraft.Steps, nil
	}
}
