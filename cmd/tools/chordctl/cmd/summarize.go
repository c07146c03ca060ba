package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/aaroh/backend/internal/analysis/feedback"
	"github.com/zhouzirui/aaroh/backend/internal/service/engine"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize FILE",
	Short: "Summarize saved engine output (use - for stdin)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			raw []byte
			err error
		)
		if args[0] == "-" {
			raw, err = io.ReadAll(cmd.InOrStdin())
		} else {
			raw, err = os.ReadFile(args[0])
		}
		if err != nil {
			return fmt.Errorf("reading engine output: %w", err)
		}

		result, err := engine.Parse(raw, engine.ModeCompare)
		if err != nil {
			return err
		}
		return printJSON(cmd, feedback.Summarize(result))
	},
}

func init() {
	rootCmd.AddCommand(summarizeCmd)
}
