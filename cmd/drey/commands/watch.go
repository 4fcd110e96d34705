package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/watch"
	"github.com/dyluth/drey/pkg/blackboard"
)

var (
	watchOutputFormat string
	watchObjective    string
	watchFromStart    bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow objective events as they happen",
	Long: `Stream events from the objective event stream.

watch reads Redis directly using the redis and stream settings of drey.yml.
It does not join the worker's consumer group, so watching never delays processing.

Output Formats:
  default - one line per event with a timestamp and icon
  json    - line-delimited JSON for programmatic processing

Examples:
  drey watch
  drey watch --objective 0b7c4c4e-... --from-start
  drey watch --output=json > events.jsonl`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "output format (default or json)")
	watchCmd.Flags().StringVar(&watchObjective, "objective", "", "only events for this objective id")
	watchCmd.Flags().BoolVar(&watchFromStart, "from-start", false, "replay retained events before following")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)

	var format watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		format = watch.OutputFormatDefault
	case "json":
		format = watch.OutputFormatJSON
	default:
		return p.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	path := viper.GetString("config")
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return p.ErrorWithContext("invalid configuration", err.Error(), map[string]string{"Config": path}, nil)
	}
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		return p.Error("invalid configuration", err.Error(), nil)
	}

	bb, err := blackboard.NewClient(redisOpts, cfg.Namespace, blackboard.Options{
		StreamName:   cfg.Stream.Name,
		StreamMaxLen: cfg.Stream.MaxLen,
	})
	if err != nil {
		return fmt.Errorf("failed to create blackboard client: %w", err)
	}
	defer bb.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bb.Ping(ctx); err != nil {
		return p.ErrorWithContext("redis not accessible", err.Error(), map[string]string{"Redis": cfg.Redis.URL}, nil)
	}

	if format == watch.OutputFormatDefault {
		p.Info("Watching %s (Ctrl+C to stop)\n", bb.StreamKey())
	}
	err = watch.Stream(ctx, bb, cmd.OutOrStdout(), watch.Options{
		ObjectiveID: watchObjective,
		FromStart:   watchFromStart,
		Format:      format,
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		return p.Error("watch stopped", err.Error(), nil)
	}
	return nil
}
