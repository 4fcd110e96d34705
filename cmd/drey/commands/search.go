package commands

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/dyluth/drey/internal/format"
)

var searchLimit int

var searchCmd = &cobra.Command{
	Use:   "search QUERY...",
	Short: "Find committed objectives by meaning",
	Long: `Rank committed objectives by similarity to the query text.

Example:
  drey search weekly newsletter --limit 3`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p := newPrinter(cmd)
		results, err := newClient().Search(cmd.Context(), strings.Join(args, " "), searchLimit)
		if err != nil {
			return apiFailure(p, "search failed", "", err)
		}
		if jsonOutput() {
			return format.JSON(cmd.OutOrStdout(), results)
		}
		format.SearchTable(cmd.OutOrStdout(), results)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "l", 10, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}
