// appack [path], appack build [path]
package cmd

import (
	"fmt"
	"os"

	"github.com/appack-build/appack/internal/builder"
	"github.com/appack-build/appack/internal/msg"
	"github.com/spf13/cobra"
)

var flagMode EnumValue = NewEnumValue("release", map[string]string{
	"release": "Optimized whole-module build (default)",
	"debug":   "Build with debug symbols",
})

func doBuild(cmd *cobra.Command, args []string) {
	target := "."
	if len(args) > 0 {
		target = args[0]
	}
	b, err := builder.NewBuilderInDirectory(target, builder.NewExecRunner())
	if err != nil {
		msg.Fatal("%v", err)
	}
	if err := b.Build(flagMode.Value()); err != nil {
		msg.Fatal("%v", err)
	}
}

var rootCmd = &cobra.Command{
	Use:   "appack [project path]",
	Short: "macOS application bundle builder",
	Long:  `Compiles Swift sources into a signed macOS application bundle. If no project path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

var buildCmd = &cobra.Command{
	Use:   "build [project path]",
	Short: "Build the application bundle",
	Long:  `Build the application bundle. If no project path is given, uses "."`,
	Args:  cobra.MaximumNArgs(1),
	Run:   doBuild,
}

func init() {
	addBuildFlags(rootCmd)

	// appack build subcommand
	rootCmd.AddCommand(buildCmd)
	addBuildFlags(buildCmd)
}

func addBuildFlags(cmd *cobra.Command) {
	cmd.Flags().VarP(&flagMode, "mode", "m", "Build mode, one of "+flagMode.HelpString())
	cmd.RegisterFlagCompletionFunc("mode", flagMode.CompletionFunc())
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
