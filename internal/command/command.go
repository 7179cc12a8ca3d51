// Package command builds the java command line that runs TLC on a specification.
package command

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"tlcrun/internal/check"
)

const (
	// MainClass is the TLC entry point in tla2tools.jar.
	MainClass = "tlc2.TLC"
	// ToolsJarName is the file name of the TLA+ tools distribution.
	ToolsJarName = "tla2tools.jar"
	// DefaultGCOption is added unless the Java options select a collector.
	DefaultGCOption = "-XX:+UseParallelGC"
)

// ErrJavaNotFound is returned when the configured Java home has no java executable.
var ErrJavaNotFound = errors.New("java executable not found, check the Java home setting")

// Command is a ready-to-run process invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// String renders the command line for display. Arguments with spaces are quoted.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	for _, s := range append([]string{c.Path}, c.Args...) {
		if strings.Contains(s, " ") {
			s = `"` + s + `"`
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, " ")
}

// TLC builds TLC invocations from user settings.
type TLC struct {
	// JavaHome selects $JavaHome/bin/java. Empty means java from PATH.
	JavaHome string
	// JavaOptions are passed to the JVM, e.g. -Xmx4g.
	JavaOptions []string
	// Options are extra TLC options. ${specName} and ${modelName} are substituted.
	Options []string
	// ToolsJar is the tla2tools.jar used as default class path.
	ToolsJar string
	// Env is added to the environment of the process.
	Env []string
}

// Build returns the command that checks files. The process runs in the directory of
// the specification.
func (t TLC) Build(files check.SpecFiles, ignoreDeadlock bool) (Command, error) {
	for _, p := range []string{files.TLAPath, files.CfgPath} {
		if _, err := os.Stat(p); err != nil {
			return Command{}, fmt.Errorf("cannot check model: %w", err)
		}
	}
	java, err := JavaPath(t.JavaHome)
	if err != nil {
		return Command{}, err
	}
	jar := t.ToolsJar
	if jar == "" {
		jar = ToolsJarName
	}
	if abs, err := filepath.Abs(jar); err == nil {
		jar = abs
	}

	args := JavaOptions(t.JavaOptions, jar)
	args = append(args, MainClass)
	args = append(args, TLCOptions(files, DeadlockOptions(t.Options, ignoreDeadlock))...)

	cmd := Command{
		Path: java,
		Args: args,
		Dir:  filepath.Dir(files.TLAPath),
	}
	if len(t.Env) > 0 {
		cmd.Env = append(os.Environ(), t.Env...)
	}
	return cmd, nil
}

// JavaPath returns the java executable for javaHome.
func JavaPath(javaHome string) (string, error) {
	name := "java"
	if runtime.GOOS == "windows" {
		name = "java.exe"
	}
	if javaHome == "" {
		return name, nil
	}
	p := filepath.Join(javaHome, "bin", name)
	if _, err := os.Stat(p); err != nil {
		return "", fmt.Errorf("%w: %s", ErrJavaNotFound, p)
	}
	return p, nil
}

// JavaOptions merges custom JVM options with the defaults: the tools jar goes on the
// class path after any custom entries, and the parallel collector is used unless
// another one is selected.
func JavaOptions(custom []string, toolsJar string) []string {
	opts := slices.Clone(custom)
	opts = mergeClassPath(opts, toolsJar)
	if !slices.ContainsFunc(opts, isGCOption) {
		opts = append(opts, DefaultGCOption)
	}
	return opts
}

func isGCOption(opt string) bool {
	return strings.HasPrefix(opt, "-XX:+Use") && strings.HasSuffix(opt, "GC")
}

func mergeClassPath(opts []string, toolsJar string) []string {
	idx := slices.IndexFunc(opts, func(o string) bool { return o == "-cp" || o == "-classpath" })
	if idx < 0 || idx == len(opts)-1 {
		return append(opts, "-cp", toolsJar)
	}
	cp := opts[idx+1]
	if !containsToolsJar(cp) {
		// Custom libraries take precedence over the bundled tools.
		opts[idx+1] = cp + string(os.PathListSeparator) + toolsJar
	}
	return opts
}

func containsToolsJar(cp string) bool {
	for _, entry := range filepath.SplitList(cp) {
		if filepath.Base(entry) == ToolsJarName {
			return true
		}
	}
	return false
}

// DeadlockOptions applies the deadlock setting of a run to the custom options. When
// deadlocks are ignored exactly one -deadlock flag is present, otherwise none is.
func DeadlockOptions(custom []string, ignoreDeadlock bool) []string {
	out := slices.DeleteFunc(slices.Clone(custom), func(o string) bool { return o == "-deadlock" })
	if ignoreDeadlock {
		out = append(out, "-deadlock")
	}
	return out
}

// TLCOptions returns the TLC arguments for files. -coverage and -config get defaults
// unless custom sets them.
func TLCOptions(files check.SpecFiles, custom []string) []string {
	specName, modelName := files.SpecName(), files.ModelName()
	rest := make([]string, len(custom))
	for i, opt := range custom {
		opt = strings.ReplaceAll(opt, "${specName}", specName)
		rest[i] = strings.ReplaceAll(opt, "${modelName}", modelName)
	}

	opts := []string{filepath.Base(files.TLAPath), "-tool", "-modelcheck"}
	opts, rest = valueOrDefault(opts, rest, "-coverage", "1")
	opts, rest = valueOrDefault(opts, rest, "-config", filepath.Base(files.CfgPath))
	return append(opts, rest...)
}

// valueOrDefault moves "option value" from custom to opts, or adds option with def.
// An option without value at the end of custom is dropped.
func valueOrDefault(opts, custom []string, option, def string) ([]string, []string) {
	idx := slices.Index(custom, option)
	if idx < 0 {
		return append(opts, option, def), custom
	}
	if idx == len(custom)-1 {
		return append(opts, option, def), custom[:idx]
	}
	opts = append(opts, option, custom[idx+1])
	return opts, slices.Delete(custom, idx, idx+2)
}

// SplitOptions splits a space separated option string.
func SplitOptions(s string) []string {
	return strings.Fields(s)
}
