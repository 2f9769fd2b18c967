package builder

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPlist = `<?xml version="1.0" encoding="UTF-8"?>
<plist version="1.0">
<dict>
	<key>CFBundleExecutable</key>
	<string>PulseBar</string>
</dict>
</plist>
`

// fakeRunner records tool invocations and fabricates their effects:
// swiftc and lipo write their output file, xcrun reports a fake SDK.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	fail  map[string]int // tool basename -> forced exit code
}

func (f *fakeRunner) Run(dir, name string, args ...string) (Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string{name}, args...))
	f.mu.Unlock()

	tool := filepath.Base(name)
	if code, ok := f.fail[tool]; ok {
		return Result{ExitCode: code, Stderr: tool + ": forced failure"}, nil
	}

	switch tool {
	case "xcrun":
		if len(args) > 0 && args[0] == "--show-sdk-path" {
			return Result{Stdout: "/Library/Fake.sdk\n"}, nil
		}
	case "swiftc":
		return Result{}, writeToolOutput(args, "-o")
	case "lipo":
		return Result{}, writeToolOutput(args, "-output")
	}
	return Result{}, nil
}

func (f *fakeRunner) LookPath(name string) (string, error) {
	return name, nil
}

// invocations returns the argument lists of every call to the named tool.
func (f *fakeRunner) invocations(tool string) [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out [][]string
	for _, call := range f.calls {
		if filepath.Base(call[0]) == tool {
			out = append(out, call[1:])
		}
	}
	return out
}

func writeToolOutput(args []string, flag string) error {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return os.WriteFile(args[i+1], []byte("\xcf\xfa\xed\xfe fake binary\n"), 0644)
		}
	}
	return nil
}

// writeProject scaffolds a minimal buildable project in dir.
func writeProject(t *testing.T, dir, manifest string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Sources"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFilename), []byte(manifest), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Sources", "main.swift"), []byte("import Cocoa\n"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Sources", "Info.plist"), []byte(testPlist), 0644))
}

func newTestBuilder(t *testing.T, dir string, fake *fakeRunner) *Builder {
	t.Helper()
	t.Setenv("SWIFTC", "swiftc")
	t.Setenv("SDKROOT", "")
	b, err := NewBuilderInDirectory(dir, fake)
	require.NoError(t, err)
	return b
}

func TestBuildRelease(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "[package]\nname = \"PulseBar\"\n")
	fake := &fakeRunner{}
	b := newTestBuilder(t, dir, fake)

	require.NoError(t, b.Build("release"))

	compiles := fake.invocations("swiftc")
	require.Len(t, compiles, 1)
	args := compiles[0]
	assert.Contains(t, args, "-O")
	assert.Contains(t, args, "-whole-module-optimization")
	assert.NotContains(t, args, "-g")
	assert.Contains(t, args, "-sdk")
	assert.Contains(t, args, "/Library/Fake.sdk")
	assert.Contains(t, args, appleTriple(hostArch(), "13.0"))
	assert.Contains(t, args, "-framework")
	assert.Contains(t, args, "Cocoa")
	assert.Contains(t, args, "UserNotifications")
	assert.Contains(t, args, "ServiceManagement")
	assert.Contains(t, args, filepath.Join(dir, "Sources", "main.swift"))

	// signed recursively with the ad-hoc identity
	signs := fake.invocations("codesign")
	require.Len(t, signs, 1)
	assert.Equal(t, []string{"--force", "--deep", "--sign", "-", b.BundlePath()}, signs[0])

	// bundle layout: executable, resources dir, manifest
	bundle := b.BundlePath()
	assert.Equal(t, filepath.Join(dir, "PulseBar.app"), bundle)

	exe := filepath.Join(bundle, "Contents", "MacOS", "PulseBar")
	stat, err := os.Stat(exe)
	require.NoError(t, err)
	assert.NotZero(t, stat.Mode()&0111, "bundle executable must be executable")

	assert.DirExists(t, filepath.Join(bundle, "Contents", "Resources"))

	plist, err := os.ReadFile(filepath.Join(bundle, "Contents", "Info.plist"))
	require.NoError(t, err)
	assert.Equal(t, testPlist, string(plist), "manifest must be copied byte-for-byte")

	// the source keeps its copy
	assert.FileExists(t, filepath.Join(dir, "Sources", "Info.plist"))

	// staging never survives a successful run
	assert.NoDirExists(t, b.stagingDir())
}

func TestBuildDebug(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "[package]\nname = \"PulseBar\"\n")
	fake := &fakeRunner{}
	b := newTestBuilder(t, dir, fake)

	require.NoError(t, b.Build("debug"))

	compiles := fake.invocations("swiftc")
	require.Len(t, compiles, 1)
	assert.Contains(t, compiles[0], "-g")
	assert.NotContains(t, compiles[0], "-O")
	assert.NotContains(t, compiles[0], "-whole-module-optimization")
}

func TestBuildUnknownProfile(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "[package]\nname = \"PulseBar\"\n")
	fake := &fakeRunner{}
	b := newTestBuilder(t, dir, fake)

	err := b.Build("fast")
	require.ErrorContains(t, err, `unknown profile "fast"`)
	require.ErrorContains(t, err, "debug, release")
	assert.Empty(t, fake.calls, "no tool may run for an unknown profile")
}

func TestBuildIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "[package]\nname = \"PulseBar\"\n")
	fake := &fakeRunner{}
	b := newTestBuilder(t, dir, fake)

	require.NoError(t, b.Build("release"))

	// plant a stray file; the next build must start from a clean slate
	stray := filepath.Join(b.BundlePath(), "Contents", "stray.txt")
	require.NoError(t, os.WriteFile(stray, []byte("leftover"), 0644))

	require.NoError(t, b.Build("release"))

	assert.NoFileExists(t, stray)
	assert.FileExists(t, filepath.Join(b.BundlePath(), "Contents", "MacOS", "PulseBar"))
	assert.FileExists(t, filepath.Join(b.BundlePath(), "Contents", "Info.plist"))
	assert.NoDirExists(t, b.stagingDir())
}

func TestBuildCompileFailure(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "[package]\nname = \"PulseBar\"\n")
	fake := &fakeRunner{fail: map[string]int{"swiftc": 1}}
	b := newTestBuilder(t, dir, fake)

	err := b.Build("release")
	require.ErrorContains(t, err, "swiftc exited with status 1")

	assert.NoDirExists(t, b.BundlePath(), "no bundle may exist after a failed compile")
	assert.Empty(t, fake.invocations("codesign"), "signing must not be attempted after a failed compile")
}

func TestBuildSignFailure(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "[package]\nname = \"PulseBar\"\n")
	fake := &fakeRunner{fail: map[string]int{"codesign": 1}}
	b := newTestBuilder(t, dir, fake)

	err := b.Build("release")
	require.ErrorContains(t, err, "codesign exited with status 1")

	// the assembled bundle remains on disk, but the build still failed
	assert.DirExists(t, filepath.Join(b.BundlePath(), "Contents", "MacOS"))
}

func TestBuildUniversalBinary(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `[package]
name = "PulseBar"

[target]
archs = ["arm64", "x86_64"]
`)
	fake := &fakeRunner{}
	b := newTestBuilder(t, dir, fake)

	require.NoError(t, b.Build("release"))

	compiles := fake.invocations("swiftc")
	require.Len(t, compiles, 2)
	var triples []string
	for _, args := range compiles {
		i := slices.Index(args, "-target")
		require.GreaterOrEqual(t, i, 0)
		triples = append(triples, args[i+1])
	}
	assert.ElementsMatch(t, []string{"arm64-apple-macosx13.0", "x86_64-apple-macosx13.0"}, triples)

	merges := fake.invocations("lipo")
	require.Len(t, merges, 1)
	assert.Equal(t, "-create", merges[0][0])

	assert.FileExists(t, filepath.Join(b.BundlePath(), "Contents", "MacOS", "PulseBar"))
	assert.NoDirExists(t, b.stagingDir())
}

func TestBuildCopiesResources(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `[package]
name = "PulseBar"

[target]
resources = ["Assets/**"]
`)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Assets"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Assets", "icon.png"), []byte("png"), 0644))

	fake := &fakeRunner{}
	b := newTestBuilder(t, dir, fake)
	require.NoError(t, b.Build("release"))

	assert.FileExists(t, filepath.Join(b.BundlePath(), "Contents", "Resources", "icon.png"))
}

func TestBuildLocalPathDependency(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, `[package]
name = "PulseBar"

[dependencies]
pulsekit = "vendor/pulsekit"
`)
	depDir := filepath.Join(dir, "vendor", "pulsekit")
	require.NoError(t, os.MkdirAll(depDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(depDir, "Heartbeat.swift"), []byte("import Foundation\n"), 0644))

	fake := &fakeRunner{}
	b := newTestBuilder(t, dir, fake)
	require.NoError(t, b.Build("release"))

	compiles := fake.invocations("swiftc")
	require.Len(t, compiles, 1)
	assert.Contains(t, compiles[0], filepath.Join(depDir, "Heartbeat.swift"))
}

func TestBuildUsesSDKRoot(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "[package]\nname = \"PulseBar\"\n")
	fake := &fakeRunner{}
	b := newTestBuilder(t, dir, fake)
	t.Setenv("SDKROOT", "/SDKs/MacOSX14.sdk")

	require.NoError(t, b.Build("release"))

	assert.Empty(t, fake.invocations("xcrun"), "SDKROOT must bypass xcrun")
	compiles := fake.invocations("swiftc")
	require.Len(t, compiles, 1)
	assert.Contains(t, compiles[0], "/SDKs/MacOSX14.sdk")
}

func TestBuildNoSources(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFilename), []byte("[package]\nname = \"PulseBar\"\n"), 0644))

	fake := &fakeRunner{}
	b := newTestBuilder(t, dir, fake)

	err := b.Build("release")
	require.ErrorContains(t, err, "no source files matched")
}

func TestClean(t *testing.T) {
	dir := t.TempDir()
	writeProject(t, dir, "[package]\nname = \"PulseBar\"\n")
	fake := &fakeRunner{}
	b := newTestBuilder(t, dir, fake)

	require.NoError(t, b.Build("release"))
	require.NoError(t, b.Clean())

	assert.NoDirExists(t, b.buildDir())
	assert.NoDirExists(t, b.BundlePath())
}
