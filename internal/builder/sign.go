package builder

import (
	"fmt"
	"path/filepath"
	"strings"
)

// signBundle applies an ad-hoc signature over the whole bundle. Good
// enough for local execution, not for distribution.
func signBundle(r Runner, bundlePath string) error {
	fmt.Printf("CODESIGN %s\n", filepath.Base(bundlePath))

	res, err := r.Run("", codesignTool, "--force", "--deep", "--sign", "-", bundlePath)
	if err != nil {
		return fmt.Errorf("failed to run codesign: %w", err)
	}
	if res.ExitCode != 0 {
		detail := strings.TrimSpace(res.Stderr)
		if detail != "" {
			return fmt.Errorf("codesign exited with status %d: %s", res.ExitCode, detail)
		}
		return fmt.Errorf("codesign exited with status %d", res.ExitCode)
	}
	return nil
}
