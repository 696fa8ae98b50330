package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/cloudsentry/cloudsentry/pkg/defaults"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s %s (%s/%s, %s)\n",
			defaults.ToolName, defaults.Version,
			runtime.GOOS, runtime.GOARCH, runtime.Version())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
