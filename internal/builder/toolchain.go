package builder

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	xcrunTool    = "xcrun"
	lipoTool     = "lipo"
	codesignTool = "codesign"
)

// findSwiftc locates the Swift compiler as an argv prefix: the SWIFTC
// environment variable wins, then swiftc on PATH, then `xcrun swiftc`.
func findSwiftc(r Runner) ([]string, error) {
	if swiftc := os.Getenv("SWIFTC"); swiftc != "" {
		return []string{swiftc}, nil
	}
	if path, err := r.LookPath("swiftc"); err == nil {
		return []string{path}, nil
	}
	if path, err := r.LookPath(xcrunTool); err == nil {
		return []string{path, "swiftc"}, nil
	}
	return nil, errors.New("no Swift compiler found: install the Xcode command line tools or set SWIFTC")
}

// resolveSDKPath resolves the macOS SDK at build time: SDKROOT if set,
// otherwise whatever xcrun reports.
func resolveSDKPath(r Runner) (string, error) {
	if sdk := os.Getenv("SDKROOT"); sdk != "" {
		return sdk, nil
	}

	res, err := r.Run("", xcrunTool, "--show-sdk-path", "--sdk", "macosx")
	if err != nil {
		return "", fmt.Errorf("failed to resolve SDK path: %w", err)
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("xcrun --show-sdk-path exited with status %d", res.ExitCode)
	}
	sdk := strings.TrimSpace(res.Stdout)
	if sdk == "" {
		return "", errors.New("xcrun reported an empty SDK path")
	}
	return sdk, nil
}

// appleTriple builds the swiftc -target value for one architecture.
func appleTriple(arch, minMacOS string) string {
	return arch + "-apple-macosx" + minMacOS
}
