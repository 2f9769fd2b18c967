// appack clean [path]
package cmd

import (
	"github.com/appack-build/appack/internal/builder"
	"github.com/appack-build/appack/internal/msg"
	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean [project path]",
	Short: "Remove the build directory and the output bundle",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		target := "."
		if len(args) > 0 {
			target = args[0]
		}
		b, err := builder.NewBuilderInDirectory(target, builder.NewExecRunner())
		if err != nil {
			msg.Fatal("%v", err)
		}
		if err := b.Clean(); err != nil {
			msg.Fatal("%v", err)
		}
		msg.Info("removed build outputs for %s", b.Name())
	},
}

func init() {
	// appack clean subcommand
	rootCmd.AddCommand(cleanCmd)
}
