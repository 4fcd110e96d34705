package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/filter"
	"github.com/dyluth/drey/internal/format"
	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/timespec"
	"github.com/dyluth/drey/pkg/objective"
)

// filterScanLimit is how many recent objectives are fetched when filters are active.
const filterScanLimit = 1000

var (
	listLimit  int
	listSince  string
	listUntil  string
	listStatus string
	listTag    string
	listWhat   string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent committed objectives",
	Long: `List committed objectives, newest first.

Filters are applied to the most recent objectives on the client:
  --since / --until  duration ("2h") or RFC3339 timestamp
  --status           exact status, e.g. in_progress
  --tag              objectives carrying the tag
  --what             glob over the objective summary, e.g. "Launch*"

Examples:
  drey list --since 24h --status in_progress
  drey list --json | jq '.workdone'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)

		since, until, err := timespec.ParseRange(listSince, listUntil, time.Now())
		if err != nil {
			return p.Error("invalid time filter", err.Error(), nil)
		}
		criteria := filter.Criteria{
			Since:    since,
			Until:    until,
			Status:   objective.Status(listStatus),
			Tag:      listTag,
			WhatGlob: listWhat,
		}
		if listStatus != "" {
			if err := criteria.Status.Validate(); err != nil {
				return p.Error("invalid status filter", err.Error(), nil)
			}
		}

		fetch := listLimit
		if criteria.HasFilters() {
			fetch = filterScanLimit
		}
		objs, err := newClient().List(cmd.Context(), fetch)
		if err != nil {
			return apiFailure(p, "failed to list objectives", "", err)
		}
		objs = criteria.Apply(objs)
		if listLimit > 0 && len(objs) > listLimit {
			objs = objs[:listLimit]
		}

		if jsonOutput() {
			return format.JSONL(cmd.OutOrStdout(), objs)
		}
		format.ObjectivesTable(cmd.OutOrStdout(), objs)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show OBJECTIVE_ID",
	Short: "Show a committed objective and its plan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		c := newClient()
		id, err := resolveID(cmd.Context(), p, c, args[0])
		if err != nil {
			return err
		}
		obj, err := c.Get(cmd.Context(), id)
		if err != nil {
			return apiFailure(p, "failed to load objective", id, err)
		}
		if jsonOutput() {
			return format.JSON(cmd.OutOrStdout(), obj)
		}
		format.ObjectiveDetail(cmd.OutOrStdout(), obj)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status OBJECTIVE_ID",
	Short: "Show whether an objective is staged or committed",
	Long: `Show where an objective currently lives. A staged objective shows its raw
status and, once the worker has run, the drafted plan awaiting confirmation.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		c := newClient()
		id, err := resolveID(cmd.Context(), p, c, args[0])
		if err != nil {
			return err
		}
		st, err := c.StagingStatus(cmd.Context(), id)
		if err != nil {
			return apiFailure(p, "failed to load status", id, err)
		}
		out := cmd.OutOrStdout()
		if jsonOutput() {
			return format.JSON(out, st)
		}

		fmt.Fprintf(out, "Status:  %s\n", printer.Status(st.Status))
		if st.Source != "" {
			fmt.Fprintf(out, "Source:  %s\n", st.Source)
		}
		if st.Objective != nil {
			fmt.Fprintln(out)
			format.ObjectiveDetail(out, st.Objective)
		}
		if st.PlanDraft != nil && len(st.PlanDraft.Steps) > 0 {
			fmt.Fprintln(out, "\nDrafted plan:")
			format.PlanTable(out, st.PlanDraft.Steps)
			p.Hint("\nApprove it with:\n  drey confirm %s --approve\n", id)
		}
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete OBJECTIVE_ID STEP",
	Short: "Mark a plan step as completed",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		step, err := strconv.Atoi(args[1])
		if err != nil || step < 1 {
			return p.Error("invalid step number", fmt.Sprintf("%q is not a positive integer", args[1]), nil)
		}

		c := newClient()
		id, err := resolveID(cmd.Context(), p, c, args[0])
		if err != nil {
			return err
		}
		obj, err := c.CompleteStep(cmd.Context(), id, step)
		if err != nil {
			return apiFailure(p, "failed to complete step", id, err)
		}
		if jsonOutput() {
			return format.JSON(cmd.OutOrStdout(), obj)
		}
		p.Success("Step %d completed\n", step)
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", printer.ProgressBar(obj.WorkDone, 20), printer.Status(string(obj.Status)))
		return nil
	},
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "l", 20, "maximum number of objectives")
	listCmd.Flags().StringVar(&listSince, "since", "", "only objectives created after this time (duration or RFC3339)")
	listCmd.Flags().StringVar(&listUntil, "until", "", "only objectives created before this time (duration or RFC3339)")
	listCmd.Flags().StringVar(&listStatus, "status", "", "only objectives with this status")
	listCmd.Flags().StringVar(&listTag, "tag", "", "only objectives with this tag")
	listCmd.Flags().StringVar(&listWhat, "what", "", "glob over the objective summary")
	rootCmd.AddCommand(listCmd, showCmd, statusCmd, completeCmd)
}
