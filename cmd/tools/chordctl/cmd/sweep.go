package cmd

import (
	"github.com/spf13/cobra"

	"github.com/zhouzirui/aaroh/backend/internal/service/chunkstore"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Remove stale session directories once",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sweeper := chunkstore.NewSweeper(cfg.Storage.Root, cfg.Storage.CleanupInterval, cfg.Storage.CleanupMaxAge, newLogger(cmd))
		removed, err := sweeper.SweepOnce()
		if err != nil {
			return err
		}
		cmd.Printf("removed %d stale session(s) from %s\n", removed, cfg.Storage.Root)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
