package builder

import (
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/appack-build/appack/internal/msg"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"
)

const (
	buildDirName   = "build"
	stagingDirName = "staging"
	depsDirName    = "_deps"
)

// Builder drives the whole pipeline for one project directory: clean,
// fetch dependencies, compile, assemble the .app layout, sign, report.
type Builder struct {
	cfg     *Config
	basedir string
	env     ConfigEnv
	runner  Runner
}

func NewBuilderInDirectory(path string, runner Runner) (*Builder, error) {
	var err error
	path, err = filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	env := NewConfigEnv(path)
	cfg, err := ParseConfigFromFile(filepath.Join(path, ConfigFilename), env)
	if err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg, basedir: path, env: env, runner: runner}, nil
}

func (b *Builder) Name() string { return b.cfg.Package.Name }

// BundlePath is deterministic: the bundle always lands next to the
// manifest, named after the package.
func (b *Builder) BundlePath() string {
	return filepath.Join(b.basedir, b.cfg.Package.Name+".app")
}

func (b *Builder) buildDir() string   { return filepath.Join(b.basedir, buildDirName) }
func (b *Builder) stagingDir() string { return filepath.Join(b.buildDir(), stagingDirName) }
func (b *Builder) depsDir() string    { return filepath.Join(b.buildDir(), depsDirName) }

// Clean removes the build directory (staging and the dependency cache)
// and the output bundle.
func (b *Builder) Clean() error {
	if err := os.RemoveAll(b.buildDir()); err != nil {
		return err
	}
	return os.RemoveAll(b.BundlePath())
}

func (b *Builder) profileFlags(profile string) ([]string, error) {
	if prof, ok := b.cfg.Profile[profile]; ok {
		return slices.Clone(prof.Swiftflags), nil
	}
	return nil, fmt.Errorf("unknown profile %q, known profiles: %s", profile, strings.Join(b.cfg.Profiles(), ", "))
}

// Build runs the pipeline. Every step aborts the run on failure; the only
// cleanup of a failed run is the clean-slate phase of the next one.
func (b *Builder) Build(profile string) error {
	flags, err := b.profileFlags(profile)
	if err != nil {
		return err
	}

	// clean slate: a build never appends to a previous bundle or staging
	// directory. Absence of either is fine. The dependency cache under
	// _deps survives across runs.
	if err := os.RemoveAll(b.stagingDir()); err != nil {
		return err
	}
	if err := os.RemoveAll(b.BundlePath()); err != nil {
		return err
	}
	if err := os.MkdirAll(b.stagingDir(), 0755); err != nil {
		return err
	}

	if err := b.cfg.RunBuildScript(b.env); err != nil {
		return err
	}

	sources, err := b.resolveSources()
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		return fmt.Errorf("no source files matched %v in %s", b.cfg.Target.Sources, b.basedir)
	}

	sdk, err := resolveSDKPath(b.runner)
	if err != nil {
		return err
	}

	exe, err := b.compile(flags, sources, sdk)
	if err != nil {
		return err
	}

	if err := b.assemble(exe); err != nil {
		return err
	}

	if err := signBundle(b.runner, b.BundlePath()); err != nil {
		return err
	}

	if err := os.RemoveAll(b.stagingDir()); err != nil {
		return err
	}

	b.reportSuccess()
	return nil
}

// resolveSources expands the project's source globs and appends the
// sources of every fetched dependency, in deterministic order.
func (b *Builder) resolveSources() ([]string, error) {
	sources, err := collectFiles(b.basedir, b.cfg.Target.Sources)
	if err != nil {
		return nil, fmt.Errorf("failed to collect sources: %w", err)
	}

	for _, name := range slices.Sorted(maps.Keys(b.cfg.Dependencies)) {
		dir, err := b.fetchDep(name, b.cfg.Dependencies[name])
		if err != nil {
			return nil, err
		}
		depSources, err := b.depSources(name, dir)
		if err != nil {
			return nil, err
		}
		sources = append(sources, depSources...)
	}

	return sources, nil
}

// fetchDep materializes one dependency under _deps (git clone, archive
// download, or a local path used in place) and returns its directory.
func (b *Builder) fetchDep(name, source string) (string, error) {
	depPath := filepath.Join(b.depsDir(), name)
	if stat, err := os.Stat(depPath); err == nil && stat.IsDir() {
		// cached from a previous run; archives may have resolved one
		// level down, so strip again
		return stripSingleRoot(depPath)
	}

	if err := os.MkdirAll(filepath.Dir(depPath), 0755); err != nil {
		return "", err
	}
	dir, err := fetchDependency(source, depPath)
	if err != nil {
		return "", fmt.Errorf("failed to fetch dependency %q: %w", name, err)
	}
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(b.basedir, dir)
	}
	return dir, nil
}

// depSources collects the Swift sources a dependency contributes. A
// dependency with its own Bundle.toml declares them (and may run a build
// script hook); otherwise every .swift file in it is taken.
func (b *Builder) depSources(name, dir string) ([]string, error) {
	patterns := []string{"**/*.swift"}

	if _, err := os.Stat(filepath.Join(dir, ConfigFilename)); err == nil {
		env := NewConfigEnv(dir)
		depCfg, err := ParseConfigFromFile(filepath.Join(dir, ConfigFilename), env)
		if err != nil {
			return nil, fmt.Errorf("failed to parse config for dependency %q: %w", name, err)
		}
		if err := depCfg.RunBuildScript(env); err != nil {
			return nil, err
		}
		patterns = depCfg.Target.Sources
	}

	files, err := collectFiles(dir, patterns)
	if err != nil {
		return nil, fmt.Errorf("failed to collect sources for dependency %q: %w", name, err)
	}
	return files, nil
}

// collectFiles globs patterns relative to dir, returning absolute paths
// in sorted order. Absolute patterns pass through untouched.
func collectFiles(dir string, patterns []string) ([]string, error) {
	var files []string
	fsys := os.DirFS(dir)

	for _, pat := range patterns {
		if filepath.IsAbs(pat) {
			files = append(files, filepath.Clean(pat))
			continue
		}
		matches, err := doublestar.Glob(fsys, filepath.ToSlash(pat), doublestar.WithFilesOnly())
		if err != nil {
			return nil, err
		}
		for _, match := range matches {
			files = append(files, filepath.Join(dir, filepath.FromSlash(match)))
		}
	}

	slices.Sort(files)
	return files, nil
}

// compile runs swiftc once per configured arch (whole-module over the
// full source list) and merges multi-arch outputs with lipo.
func (b *Builder) compile(flags, sources []string, sdk string) (string, error) {
	swiftc, err := findSwiftc(b.runner)
	if err != nil {
		return "", err
	}

	archs := b.cfg.Target.Archs
	outputs := make([]string, len(archs))

	var eg errgroup.Group
	eg.SetLimit(runtime.NumCPU())

	for i, arch := range archs {
		out := filepath.Join(b.stagingDir(), b.Name())
		if len(archs) > 1 {
			out += "-" + arch
		}
		outputs[i] = out

		eg.Go(func() error {
			args := slices.Clone(swiftc[1:])
			args = append(args, flags...)
			args = append(args, b.cfg.Target.Swiftflags...)
			args = append(args, "-sdk", sdk, "-target", appleTriple(arch, b.cfg.Target.MinMacOS))
			for _, framework := range b.cfg.Target.Frameworks {
				args = append(args, "-framework", framework)
			}
			args = append(args, sources...)
			args = append(args, "-o", out)

			fmt.Printf("SWIFTC %s\n", filepath.Base(out))
			res, err := b.runner.Run(b.basedir, swiftc[0], args...)
			if err != nil {
				return err
			}
			if res.ExitCode != 0 {
				return fmt.Errorf("swiftc exited with status %d", res.ExitCode)
			}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return "", fmt.Errorf("compilation failed: %w", err)
	}

	if len(outputs) == 1 {
		return outputs[0], nil
	}

	merged := filepath.Join(b.stagingDir(), b.Name())
	args := append([]string{"-create", "-output", merged}, outputs...)
	fmt.Printf("LIPO %s\n", filepath.Base(merged))
	res, err := b.runner.Run(b.basedir, lipoTool, args...)
	if err != nil {
		return "", err
	}
	if res.ExitCode != 0 {
		return "", fmt.Errorf("lipo exited with status %d", res.ExitCode)
	}
	return merged, nil
}

// assemble lays out the bundle: executable into Contents/MacOS, the
// manifest copied verbatim into Contents/, resources into
// Contents/Resources.
func (b *Builder) assemble(exe string) error {
	bundle := b.BundlePath()
	macosDir := filepath.Join(bundle, "Contents", "MacOS")
	resourcesDir := filepath.Join(bundle, "Contents", "Resources")

	for _, dir := range []string{macosDir, resourcesDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	// the binary moves out of staging; staging holds nothing useful after this
	target := filepath.Join(macosDir, b.Name())
	if err := os.Rename(exe, target); err != nil {
		return err
	}
	if err := os.Chmod(target, 0755); err != nil {
		return err
	}

	plist := filepath.Join(b.basedir, b.cfg.Target.Plist)
	if err := copyFile(plist, filepath.Join(bundle, "Contents", "Info.plist")); err != nil {
		return fmt.Errorf("failed to copy %s: %w", b.cfg.Target.Plist, err)
	}

	resources, err := collectFiles(b.basedir, b.cfg.Target.Resources)
	if err != nil {
		return fmt.Errorf("failed to collect resources: %w", err)
	}
	for _, res := range resources {
		if err := copyFile(res, filepath.Join(resourcesDir, filepath.Base(res))); err != nil {
			return fmt.Errorf("failed to copy resource %s: %w", res, err)
		}
	}

	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (b *Builder) reportSuccess() {
	bundle := b.BundlePath()
	msg.Info("build complete: %s", bundle)
	fmt.Println("Install and register it as a login item with:")
	fmt.Printf("  %s\n", color.HiCyanString("cp -R %q /Applications/", bundle))
	fmt.Printf("  %s\n", color.HiCyanString(
		`osascript -e 'tell application "System Events" to make login item at end with properties {path:"/Applications/%s.app", hidden:false}'`,
		b.Name()))
}

// BuildAndRun builds the bundle, then launches its executable directly
// with the console attached.
func (b *Builder) BuildAndRun(args []string, profile string) error {
	if err := b.Build(profile); err != nil {
		return err
	}

	cmd := exec.Command(filepath.Join(b.BundlePath(), "Contents", "MacOS", b.Name()), args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	return cmd.Run()
}
