package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/format"
	"github.com/dyluth/drey/pkg/client"
	"github.com/dyluth/drey/pkg/objective"
)

var (
	decideWhy          string
	decideContext      string
	decideAlternatives []string
	decideExpected     string
	decideTags         []string
	decideObjective    string

	learnCategory  string
	learnTags      []string
	learnObjective string

	knowledgeLimit int
)

var decideCmd = &cobra.Command{
	Use:   "decide DECISION...",
	Short: "Record a decision and why it was made",
	Long: `Record a decision in the decision log. It is stored in the database, indexed
for 'drey search' and announced on the event stream.

Examples:
  drey decide "Use SQLite for storage" --why "single binary deployment" \
    --alt Postgres --alt BoltDB --expect "no database to operate"
  drey decide "Drop the beta banner" --why "signups plateaued" --objective 0b7c4c4e`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDecide,
}

var learnCmd = &cobra.Command{
	Use:   "learn LEARNING...",
	Short: "Capture something worth remembering",
	Long: `Capture a learning. Categories are insight, mistake, success, pattern, tool
and process; anything else is stored as insight.

Examples:
  drey learn "Small batches ship faster" --category pattern --tag delivery
  drey learn "Forgot to rotate the API key" -c mistake --objective 0b7c4c4e`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLearn,
}

var decisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "List recent decisions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		ds, err := newClient().Decisions(cmd.Context(), knowledgeLimit)
		if err != nil {
			return apiFailure(p, "failed to list decisions", "", err)
		}
		if jsonOutput() {
			return format.JSON(cmd.OutOrStdout(), ds)
		}
		format.DecisionsTable(cmd.OutOrStdout(), ds)
		return nil
	},
}

var learningsCmd = &cobra.Command{
	Use:   "learnings",
	Short: "List recent learnings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		ls, err := newClient().Learnings(cmd.Context(), knowledgeLimit)
		if err != nil {
			return apiFailure(p, "failed to list learnings", "", err)
		}
		if jsonOutput() {
			return format.JSON(cmd.OutOrStdout(), ls)
		}
		format.LearningsTable(cmd.OutOrStdout(), ls)
		return nil
	},
}

func init() {
	decideCmd.Flags().StringVar(&decideWhy, "why", "", "the reasoning behind the decision (required)")
	decideCmd.Flags().StringVar(&decideContext, "context", "", "circumstances at the time")
	decideCmd.Flags().StringSliceVar(&decideAlternatives, "alt", nil, "an alternative that was considered (repeatable)")
	decideCmd.Flags().StringVar(&decideExpected, "expect", "", "the expected outcome")
	decideCmd.Flags().StringSliceVarP(&decideTags, "tag", "t", nil, "tag (repeatable)")
	decideCmd.Flags().StringVar(&decideObjective, "objective", "", "id of the objective the decision belongs to")
	_ = decideCmd.MarkFlagRequired("why")

	learnCmd.Flags().StringVarP(&learnCategory, "category", "c", string(objective.CategoryInsight), "insight, mistake, success, pattern, tool or process")
	learnCmd.Flags().StringSliceVarP(&learnTags, "tag", "t", nil, "tag (repeatable)")
	learnCmd.Flags().StringVar(&learnObjective, "objective", "", "id of the objective the learning came from")

	for _, c := range []*cobra.Command{decisionsCmd, learningsCmd} {
		c.Flags().IntVarP(&knowledgeLimit, "limit", "n", 20, "maximum number to show")
	}

	rootCmd.AddCommand(decideCmd, learnCmd, decisionsCmd, learningsCmd)
}

func runDecide(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)
	c := newClient()

	source, err := sourceObjective(cmd, c, decideObjective)
	if err != nil {
		return err
	}

	d, err := c.LogDecision(cmd.Context(), client.DecisionRequest{
		Decision:          strings.Join(args, " "),
		Why:               decideWhy,
		Context:           decideContext,
		Alternatives:      decideAlternatives,
		ExpectedOutcome:   decideExpected,
		Tags:              decideTags,
		SourceObjectiveID: source,
	})
	if err != nil {
		return apiFailure(p, "failed to log decision", source, err)
	}

	if jsonOutput() {
		return format.JSON(cmd.OutOrStdout(), d)
	}
	p.Success("Logged decision %s\n", d.ID)
	return nil
}

func runLearn(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)
	c := newClient()

	category := objective.LearningCategory(strings.ToLower(learnCategory))
	if err := category.Validate(); err != nil {
		p.Warning("Unknown category %q, storing as insight\n", learnCategory)
	}

	source, err := sourceObjective(cmd, c, learnObjective)
	if err != nil {
		return err
	}

	l, err := c.CaptureLearning(cmd.Context(), client.LearningRequest{
		Content:           strings.Join(args, " "),
		Category:          learnCategory,
		Tags:              learnTags,
		SourceObjectiveID: source,
	})
	if err != nil {
		return apiFailure(p, "failed to capture learning", source, err)
	}

	if jsonOutput() {
		return format.JSON(cmd.OutOrStdout(), l)
	}
	p.Success("Captured %s %s\n", l.Category, l.ID)
	return nil
}

// sourceObjective resolves an optional objective reference, accepting short ids.
func sourceObjective(cmd *cobra.Command, c *client.Client, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	return resolveID(cmd.Context(), newPrinter(cmd), c, ref)
}
