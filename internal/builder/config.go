package builder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/pelletier/go-toml/v2"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// ConfigFilename is the manifest every project directory must contain.
const ConfigFilename = "Bundle.toml"

func defaultProfiles() map[string]ProfileSection {
	return map[string]ProfileSection{
		"release": {Swiftflags: []string{"-O", "-whole-module-optimization"}},
		"debug":   {Swiftflags: []string{"-g"}},
	}
}

type Config struct {
	Package      PackageSection            `toml:"package"`
	Target       TargetSection             `toml:"target"`
	Dependencies map[string]string         `toml:"dependencies"`
	Profile      map[string]ProfileSection `toml:"profile"`
}

// Profiles returns the sorted profile names, for error messages.
func (c *Config) Profiles() []string {
	return slices.Sorted(maps.Keys(c.Profile))
}

// PackageSection defines the [package] section
type PackageSection struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Build   string `toml:"build"`
}

// TargetSection defines the [target(.*)] section
type TargetSection struct {
	Sources    []string `toml:"sources"`
	Resources  []string `toml:"resources"`
	Plist      string   `toml:"plist"`
	Frameworks []string `toml:"frameworks"`
	Archs      []string `toml:"archs"`
	MinMacOS   string   `toml:"min-macos"`
	Swiftflags []string `toml:"swiftflags"`
}

// merge overlays src onto t: slices append, scalars override when set.
func (t *TargetSection) merge(src TargetSection) {
	t.Sources = append(t.Sources, src.Sources...)
	t.Resources = append(t.Resources, src.Resources...)
	t.Frameworks = append(t.Frameworks, src.Frameworks...)
	t.Archs = append(t.Archs, src.Archs...)
	t.Swiftflags = append(t.Swiftflags, src.Swiftflags...)
	if src.Plist != "" {
		t.Plist = src.Plist
	}
	if src.MinMacOS != "" {
		t.MinMacOS = src.MinMacOS
	}
}

// ProfileSection defines the [profile.*] section
type ProfileSection struct {
	Swiftflags []string `toml:"swiftflags"`
}

func mustMarshal(v any) []byte {
	b, err := toml.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

// decodeTable re-decodes one table of the raw manifest into dst.
func decodeTable(data any, section string, dst any) error {
	if err := toml.Unmarshal(mustMarshal(data), dst); err != nil {
		return fmt.Errorf("failed to parse [%s] section: %w", section, err)
	}
	return nil
}

// splitConditional partitions a section's keys into plain fields and
// conditional sub-tables. A key is conditional when its value is a table
// and the key itself compiles as an expression against env.
func splitConditional(section map[string]any, env ConfigEnv) (base map[string]any, cond map[string]map[string]any) {
	base = make(map[string]any)
	cond = make(map[string]map[string]any)
	for key, val := range section {
		if sub, ok := val.(map[string]any); ok {
			if _, err := expr.Compile(key, expr.Env(env)); err == nil {
				cond[key] = sub
				continue
			}
		}
		base[key] = val
	}
	return base, cond
}

// unmarshalConditional decodes a section that may contain conditional
// sub-tables, calling apply once for the base fields and once per
// sub-table whose condition evaluates to true.
func unmarshalConditional(rawCfg map[string]any, name string, env ConfigEnv, apply func(data any) error) error {
	sectionData, ok := rawCfg[name]
	if !ok {
		return nil
	}
	section, ok := sectionData.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid [%s] section format: expected a table", name)
	}

	base, cond := splitConditional(section, env)
	if len(base) > 0 {
		if err := apply(base); err != nil {
			return err
		}
	}

	for condition, sub := range cond {
		matched, err := env.evalBool(condition)
		if err != nil {
			return fmt.Errorf("[%s.%q]: %w", name, condition, err)
		}
		if !matched {
			continue
		}
		if err := apply(sub); err != nil {
			return fmt.Errorf("in conditional section [%s.%q]: %w", name, condition, err)
		}
	}
	return nil
}

var exprRegex = regexp.MustCompile(`\{\{(.+?)\}\}`)

// evaluateString expands all {{...}} expressions in s against env.
func evaluateString(s string, env ConfigEnv) (string, error) {
	locs := exprRegex.FindAllStringSubmatchIndex(s, -1)
	if len(locs) == 0 {
		return s, nil
	}

	var sb strings.Builder
	last := 0
	for _, loc := range locs {
		sb.WriteString(s[last:loc[0]])
		expression := strings.TrimSpace(s[loc[2]:loc[3]])
		result, err := env.eval(expression)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%v", result)
		last = loc[1]
	}
	sb.WriteString(s[last:])
	return sb.String(), nil
}

// processExpressions walks the parsed TOML tree and expands expressions
// inside every string value.
func processExpressions(data any, env ConfigEnv) (any, error) {
	switch v := data.(type) {
	case map[string]any:
		for key, val := range v {
			processed, err := processExpressions(val, env)
			if err != nil {
				return nil, err
			}
			v[key] = processed
		}
		return v, nil
	case []any:
		for i, item := range v {
			processed, err := processExpressions(item, env)
			if err != nil {
				return nil, err
			}
			v[i] = processed
		}
		return v, nil
	case string:
		return evaluateString(v, env)
	default:
		return data, nil
	}
}

func ParseConfig(rdr io.Reader, env ConfigEnv) (*Config, error) {
	var rawConfig map[string]any
	dec := toml.NewDecoder(rdr)
	if err := dec.Decode(&rawConfig); err != nil {
		if derr, ok := err.(*toml.DecodeError); ok {
			return nil, errors.New(derr.String())
		}
		return nil, err
	}

	processed, err := processExpressions(rawConfig, env)
	if err != nil {
		return nil, fmt.Errorf("error processing expressions in config: %w", err)
	}
	rawConfig = processed.(map[string]any)

	cfg := new(Config)
	cfg.Dependencies = make(map[string]string)
	cfg.Profile = defaultProfiles()

	if data, ok := rawConfig["package"]; ok {
		if err := decodeTable(data, "package", &cfg.Package); err != nil {
			return nil, err
		}
	}
	err = unmarshalConditional(rawConfig, "target", env, func(data any) error {
		var section TargetSection
		if err := decodeTable(data, "target", &section); err != nil {
			return err
		}
		cfg.Target.merge(section)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = unmarshalConditional(rawConfig, "dependencies", env, func(data any) error {
		deps := make(map[string]string)
		if err := decodeTable(data, "dependencies", &deps); err != nil {
			return err
		}
		maps.Copy(cfg.Dependencies, deps)
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = unmarshalConditional(rawConfig, "profile", env, func(data any) error {
		profiles := make(map[string]ProfileSection)
		if err := decodeTable(data, "profile", &profiles); err != nil {
			return err
		}
		maps.Copy(cfg.Profile, profiles)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cfg.Package.Name == "" {
		return nil, errors.New("package.name must be set")
	}
	cfg.applyDefaults()

	return cfg, nil
}

// applyDefaults fills in the target fields the manifest left out. The
// framework and deployment-target defaults match what `appack init`
// scaffolds.
func (c *Config) applyDefaults() {
	if len(c.Target.Sources) == 0 {
		c.Target.Sources = []string{"Sources/**/*.swift"}
	}
	if c.Target.Plist == "" {
		c.Target.Plist = filepath.Join("Sources", "Info.plist")
	}
	if c.Target.Frameworks == nil {
		c.Target.Frameworks = []string{"Cocoa", "UserNotifications", "ServiceManagement"}
	}
	if len(c.Target.Archs) == 0 {
		c.Target.Archs = []string{hostArch()}
	}
	if c.Target.MinMacOS == "" {
		c.Target.MinMacOS = "13.0"
	}
}

// ParseConfigFromFile parses and validates a config file from a filepath
func ParseConfigFromFile(path string, env ConfigEnv) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseConfig(bufio.NewReader(f), env)
}

//
// expr-lang helpers
//

// RunBuildScript evaluates the optional package.build hook. The script
// must evaluate to true; anything else fails the build.
func (c *Config) RunBuildScript(env ConfigEnv) error {
	if c.Package.Build == "" {
		return nil
	}

	result, err := env.eval(c.Package.Build)
	if err != nil {
		return fmt.Errorf("build script for package %q: %w", c.Package.Name, err)
	}
	if ok, isBool := result.(bool); !isBool || !ok {
		return fmt.Errorf("build script for package %q returned false\n%s", c.Package.Name, c.Package.Build)
	}
	return nil
}

type ConfigEnv struct {
	TargetOS   string            `expr:"target_os"`
	TargetArch string            `expr:"target_arch"`
	Environ    map[string]string `expr:"environ"`
	basedir    string
}

func NewConfigEnv(basedir string) ConfigEnv {
	environ := make(map[string]string)
	for _, e := range os.Environ() {
		if i := strings.Index(e, "="); i >= 0 {
			environ[e[:i]] = e[i+1:]
		}
	}

	return ConfigEnv{
		TargetOS:   runtime.GOOS,
		TargetArch: hostArch(),
		Environ:    environ,
		basedir:    basedir,
	}
}

func (env ConfigEnv) eval(expression string) (any, error) {
	program, err := expr.Compile(expression, expr.Env(env))
	if err != nil {
		return nil, fmt.Errorf("failed to compile expression %q: %w", expression, err)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return nil, fmt.Errorf("failed to run expression %q: %w", expression, err)
	}
	return result, nil
}

func (env ConfigEnv) evalBool(expression string) (bool, error) {
	result, err := env.eval(expression)
	if err != nil {
		return false, err
	}
	b, ok := result.(bool)
	return ok && b, nil
}

// Patch applies a unified patch to a file inside the package directory.
// Exposed to build scripts for fixing up fetched dependencies.
func (env ConfigEnv) Patch(path, patchText string) bool {
	fullPath := filepath.Join(env.basedir, path)
	data, err := os.ReadFile(fullPath)
	if err != nil {
		panic(err)
	}

	dmp := diffmatchpatch.New()
	patches, err := dmp.PatchFromText(patchText)
	if err != nil {
		panic(err)
	}
	patched, results := dmp.PatchApply(patches, string(data))
	if !slices.Contains(results, true) {
		return false // nothing was applied, nothing to write
	}

	if err := os.WriteFile(fullPath, []byte(patched), 0644); err != nil {
		panic(err)
	}
	return true
}

// ReadFile reads a file inside the package directory, for build scripts.
func (env ConfigEnv) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(filepath.Join(env.basedir, path))
	if err != nil {
		panic(err)
	}
	return string(data), nil
}

// hostArch maps the Go architecture name to Apple's spelling.
func hostArch() string {
	if runtime.GOARCH == "amd64" {
		return "x86_64"
	}
	return runtime.GOARCH
}
