package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/printer"
	"github.com/dyluth/drey/internal/resolver"
	"github.com/dyluth/drey/pkg/client"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drey",
	Short: "Drey - turn raw notes into tracked, searchable objectives",
	Long: `Drey ingests free-form text, drafts a structured objective with a weighted
plan, and waits for a human to approve it. Approved objectives are committed to
a relational store and a semantic index, and their progress is tracked step by step.

Run 'drey serve' to start the API and background worker, then use the other
commands to talk to it.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	// Cobra's own error and usage printing is replaced by the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringP("config", "c", config.DefaultPath, "path to drey.yml")
	rootCmd.PersistentFlags().StringP("server", "s", client.DefaultBaseURL, "drey server URL")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

// initEnv lets DREY_SERVER, DREY_CONFIG and DREY_JSON stand in for the flags.
func initEnv() {
	viper.SetEnvPrefix("DREY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newClient() *client.Client {
	return client.New(viper.GetString("server"))
}

func jsonOutput() bool {
	return viper.GetBool("json")
}

func newPrinter(cmd *cobra.Command) *printer.Printer {
	return printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// apiFailure turns a client error into a formatted CLI error.
func apiFailure(p *printer.Printer, title, id string, err error) error {
	details := map[string]string{"Server": viper.GetString("server")}
	if id != "" {
		details["Objective"] = id
	}

	var suggestions []string
	switch {
	case client.IsNotFound(err):
		suggestions = []string{"Check the id with:\n  drey list"}
	case isConnectionError(err):
		suggestions = []string{"Start the server first:\n  drey serve", "Point at another server with --server or DREY_SERVER"}
	}
	return p.ErrorWithContext(title, err.Error(), details, suggestions)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}

// resolveID expands a short id prefix into a full objective id.
func resolveID(ctx context.Context, p *printer.Printer, c *client.Client, shortID string) (string, error) {
	id, err := resolver.ResolveObjectiveID(ctx, c, shortID)
	if err == nil {
		return id, nil
	}

	var notFound *resolver.NotFoundError
	var ambiguous *resolver.AmbiguousError
	switch {
	case errors.As(err, &notFound):
		return "", p.Error("objective not found", err.Error(), []string{
			"List committed objectives:\n  drey list",
			"Staged objectives need their full id",
		})
	case errors.As(err, &ambiguous):
		return "", p.Error("ambiguous objective id", err.Error()+":\n  "+strings.Join(ambiguous.Candidates(), "\n  "),
			[]string{"Use a longer prefix to identify the objective"})
	case errors.Is(err, resolver.ErrTooShort):
		return "", p.Error("invalid objective id", err.Error(), nil)
	default:
		return "", apiFailure(p, "failed to resolve objective id", shortID, err)
	}
}
