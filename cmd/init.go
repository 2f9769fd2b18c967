// appack init [name], appack new [path]
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/appack-build/appack/internal/msg"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func writefile(content string, elem ...string) {
	path := filepath.Join(elem...)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err = os.WriteFile(path, []byte(content), 0o644); err != nil {
			msg.Fatal("create file %s: %v", path, err)
		}
		fmt.Printf("%s file: %s\n", color.HiGreenString("Created"), filepath.ToSlash(path))
	}
}

func mkdir(elem ...string) {
	path := filepath.Join(elem...)
	if err := os.MkdirAll(path, 0o755); err != nil {
		msg.Fatal("mkdir %s: %v", path, err)
	}
}

func getProgramName() string {
	if len(os.Args) == 0 {
		return "appack"
	}
	basename := filepath.Base(os.Args[0])
	return strings.TrimSuffix(basename, filepath.Ext(basename))
}

// initIn scaffolds an app project in an existing specified directory
func initIn(dir, name string) {
	// Bundle.toml
	writefile(`[package]
name = "`+name+`"
version = "1.0.0"

[target]
sources = ["Sources/**/*.swift"]
plist = "Sources/Info.plist"
frameworks = ["Cocoa", "UserNotifications", "ServiceManagement"]
min-macos = "13.0"

[dependencies]
`, dir, "Bundle.toml")

	mkdir(dir, "Sources")

	// Sources/main.swift
	writefile(`import Cocoa

let app = NSApplication.shared
app.setActivationPolicy(.accessory)
app.activate(ignoringOtherApps: true)
app.run()
`, dir, "Sources", "main.swift")

	// Sources/Info.plist
	writefile(`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>CFBundleExecutable</key>
	<string>`+name+`</string>
	<key>CFBundleIdentifier</key>
	<string>com.example.`+strings.ToLower(name)+`</string>
	<key>CFBundleName</key>
	<string>`+name+`</string>
	<key>CFBundlePackageType</key>
	<string>APPL</string>
	<key>CFBundleShortVersionString</key>
	<string>1.0.0</string>
	<key>LSMinimumSystemVersion</key>
	<string>13.0</string>
	<key>LSUIElement</key>
	<true/>
</dict>
</plist>
`, dir, "Sources", "Info.plist")

	// .gitignore
	writefile(`build/
*.app/
`, dir, ".gitignore")

	programName := getProgramName()
	fmt.Printf("You can now do %s to build, or %s to build and launch.\n",
		color.HiCyanString(programName+" "+dir), color.HiCyanString(programName+" run "+dir))
}

var initCmd = &cobra.Command{
	Use:   "init [name]",
	Short: "Create a new app project in the current directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		initIn(".", args[0])
	},
}

var newCmd = &cobra.Command{
	Use:   "new [path]",
	Short: "Create a new app project in a new directory",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		mkdir(args[0])
		initIn(args[0], filepath.Base(args[0]))
	},
}

func init() {
	// appack init subcommand
	rootCmd.AddCommand(initCmd)

	// appack new subcommand
	rootCmd.AddCommand(newCmd)
}
