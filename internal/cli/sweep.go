package cli

import (
	"github.com/sellerwatch/crawl-cloud/internal/app"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "sweep [finalizer|reaper|retention]",
		Short:     "Run a single recovery or retention sweep and exit",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"finalizer", "reaper", "retention"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunSweep(args[0])
		},
	}

	return cmd
}
