package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newReplayCmd(env *cliEnv) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Finish cycles and re-entries interrupted by a crash",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, cleanup, err := env.wire(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			rep, err := deps.Cycles.ReplayPending(cmd.Context(), limit)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "commissioned=%d evaluated=%d cycled=%d reentered=%d failed=%d\n",
				rep.Commissioned, rep.Evaluated, rep.Cycled, rep.Reentered, rep.Failed)
			if rep.Failed > 0 {
				return fmt.Errorf("%d items failed; rerun with -v for details", rep.Failed)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum instances and positions to process")
	return cmd
}
