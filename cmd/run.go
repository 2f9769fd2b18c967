// appack run [path]
package cmd

import (
	"github.com/appack-build/appack/internal/builder"
	"github.com/appack-build/appack/internal/msg"
	"github.com/spf13/cobra"
)

func doRun(cmd *cobra.Command, args []string) {
	target := "."
	if len(args) > 0 {
		target = args[0]
		args = args[1:] // other arguments will be passed to the app
	}
	b, err := builder.NewBuilderInDirectory(target, builder.NewExecRunner())
	if err != nil {
		msg.Fatal("%v", err)
	}
	if err := b.BuildAndRun(args, flagMode.Value()); err != nil {
		msg.Fatal("%v", err)
	}
}

var runCmd = &cobra.Command{
	Use:   "run [project path] [args...]",
	Short: "Build the bundle and launch it",
	Long:  `Build the bundle and launch its executable. If no project path is given, uses "."`,
	Args:  cobra.ArbitraryArgs,
	Run:   doRun,
}

func init() {
	// appack run subcommand
	rootCmd.AddCommand(runCmd)
	addBuildFlags(runCmd)
}
