package commands

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dyluth/drey/internal/app"
	"github.com/dyluth/drey/internal/config"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server and the background worker",
	Long: `Run the drey API server and the event worker in one process.

Configuration is read from drey.yml (see --config). When the file does not
exist the built-in defaults are used: Redis at localhost:6379 and a SQLite
database under .drey/.

On startup every committed objective is re-embedded into the semantic index.
SIGINT or SIGTERM stops the server gracefully.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)
	path := viper.GetString("config")

	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return p.ErrorWithContext("invalid configuration", err.Error(), map[string]string{"Config": path}, nil)
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return p.ErrorWithContext("failed to start drey", err.Error(), map[string]string{
			"Redis":    cfg.Redis.URL,
			"Database": cfg.Database.Path,
		}, []string{"Check that Redis is running:\n  redis-cli -u " + cfg.Redis.URL + " ping"})
	}
	defer a.Close()

	p.Success("drey listening on %s (namespace '%s')\n", cfg.Server.Addr, cfg.Namespace)
	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return p.Error("drey stopped", err.Error(), nil)
	}
	p.Info("drey stopped\n")
	return nil
}
