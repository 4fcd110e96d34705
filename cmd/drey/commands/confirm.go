package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dyluth/drey/internal/format"
	"github.com/dyluth/drey/pkg/objective"
)

var (
	confirmApprove  bool
	confirmReject   bool
	confirmPlanFile string
)

var confirmCmd = &cobra.Command{
	Use:   "confirm OBJECTIVE_ID (--approve | --reject)",
	Short: "Approve or reject a drafted plan",
	Long: `Approve or reject the plan drafted for a staged objective.

Approving commits the objective to the database and the semantic index.
--plan replaces the drafted steps with the ones in a YAML file, either a list
of steps or a mapping with a 'steps' key:

  steps:
    - step_number: 1
      description: Design the page
      weight: 2
    - step_number: 2
      description: Build it

Examples:
  drey confirm 0b7c4c4e-... --approve
  drey confirm 0b7c4c4e-... --approve --plan plan.yml
  drey confirm 0b7c4c4e-... --reject`,
	Args: cobra.ExactArgs(1),
	RunE: runConfirm,
}

func init() {
	confirmCmd.Flags().BoolVar(&confirmApprove, "approve", false, "approve the plan")
	confirmCmd.Flags().BoolVar(&confirmReject, "reject", false, "reject the plan")
	confirmCmd.Flags().StringVar(&confirmPlanFile, "plan", "", "YAML file with replacement plan steps")
	confirmCmd.MarkFlagsMutuallyExclusive("approve", "reject")
	confirmCmd.MarkFlagsOneRequired("approve", "reject")
	rootCmd.AddCommand(confirmCmd)
}

func runConfirm(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)
	c := newClient()
	id, err := resolveID(cmd.Context(), p, c, args[0])
	if err != nil {
		return err
	}

	var steps []objective.PlanStep
	if confirmPlanFile != "" {
		if confirmReject {
			return p.Error("--plan needs --approve", "A replacement plan only applies when approving.", nil)
		}
		steps, err = loadPlanFile(confirmPlanFile)
		if err != nil {
			return p.ErrorWithContext("invalid plan file", err.Error(), map[string]string{"File": confirmPlanFile}, nil)
		}
	}

	obj, err := c.Confirm(cmd.Context(), id, confirmApprove, steps)
	if err != nil {
		return apiFailure(p, "failed to confirm objective", id, err)
	}

	if jsonOutput() {
		return format.JSON(cmd.OutOrStdout(), obj)
	}
	if confirmReject {
		p.Warning("Rejected objective %s\n", id)
		return nil
	}
	p.Success("Approved objective %s\n", id)
	fmt.Fprintln(cmd.OutOrStdout())
	format.ObjectiveDetail(cmd.OutOrStdout(), obj)
	return nil
}

// loadPlanFile reads plan steps from YAML, accepting a bare list or a {steps: [...]} mapping.
func loadPlanFile(path string) ([]objective.PlanStep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var steps []objective.PlanStep
	if err := yaml.Unmarshal(data, &steps); err != nil {
		var doc struct {
			Steps []objective.PlanStep `yaml:"steps"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
		steps = doc.Steps
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}
	return steps, nil
}
