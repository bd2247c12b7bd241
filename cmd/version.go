package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/cwbudde/denoiseopt/internal/fit"
)

var version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "denoiseopt version %s (%s, %s/%s, ssd backend %s)\n",
			version, runtime.Version(), runtime.GOOS, runtime.GOARCH, fit.ActiveSSDBackend)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
