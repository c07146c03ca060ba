package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/aaroh/backend/internal/analysis/feedback"
	"github.com/zhouzirui/aaroh/backend/internal/service/engine"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze REFERENCE [SUBJECT]",
	Short: "Invoke the recognition engine on PCM recordings",
	Long: "With one argument, prints the chord map of the recording.\n" +
		"With two, scores SUBJECT against REFERENCE and prints the feedback summary.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		invoker := engine.NewInvoker(engine.Config{
			Command: cfg.Engine.Command,
			Args:    cfg.Engine.Args,
		}, runner, newLogger(cmd))

		ctx, cancel := analyzeContext(cmd.Context(), cfg.Engine.AnalyzeTimeout)
		defer cancel()

		if len(args) == 1 {
			result, err := invoker.Reference(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, result.Events)
		}

		result, err := invoker.Compare(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(cmd, feedback.Summarize(result))
	},
}

// analyzeContext applies the engine deadline; zero or less disables it.
func analyzeContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, timeout)
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
}
