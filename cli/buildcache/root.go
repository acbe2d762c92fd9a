package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "buildcache",
		Short:         "Incremental, multi-project UI build cache",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			}
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newBuildCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newCacheCmd())
	return root
}
