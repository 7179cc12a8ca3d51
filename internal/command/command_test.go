package command

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"tlcrun/internal/check"
)

func specFiles(t *testing.T) check.SpecFiles {
	t.Helper()
	dir := t.TempDir()
	files := check.SpecFiles{
		TLAPath: filepath.Join(dir, "Queue.tla"),
		CfgPath: filepath.Join(dir, "Queue.cfg"),
	}
	require.NoError(t, os.WriteFile(files.TLAPath, []byte("---- MODULE Queue ----\n===="), 0o600))
	require.NoError(t, os.WriteFile(files.CfgPath, []byte("INIT Init\nNEXT Next\n"), 0o600))
	return files
}

func TestTLCOptionsDefaults(t *testing.T) {
	files := check.SpecFiles{TLAPath: "/w/Queue.tla", CfgPath: "/w/Queue.cfg"}
	got := TLCOptions(files, nil)
	require.Equal(t, []string{"Queue.tla", "-tool", "-modelcheck", "-coverage", "1", "-config", "Queue.cfg"}, got)
}

func TestTLCOptionsCustomValuesWin(t *testing.T) {
	files := check.SpecFiles{TLAPath: "/w/Queue.tla", CfgPath: "/w/Queue.cfg"}
	got := TLCOptions(files, []string{"-workers", "4", "-coverage", "5", "-config", "${modelName}_alt.cfg", "-dump", "${specName}.dump"})
	require.Equal(t, []string{
		"Queue.tla", "-tool", "-modelcheck",
		"-coverage", "5",
		"-config", "Queue_alt.cfg",
		"-workers", "4", "-dump", "Queue.dump",
	}, got)
}

func TestTLCOptionsDanglingOption(t *testing.T) {
	files := check.SpecFiles{TLAPath: "/w/Queue.tla", CfgPath: "/w/Queue.cfg"}
	got := TLCOptions(files, []string{"-workers", "auto", "-config"})
	require.Equal(t, []string{
		"Queue.tla", "-tool", "-modelcheck", "-coverage", "1", "-config", "Queue.cfg", "-workers", "auto",
	}, got)
}

func TestDeadlockOptions(t *testing.T) {
	tests := []struct {
		name   string
		custom []string
		ignore bool
		want   []string
	}{
		{name: "add", custom: []string{"-workers", "2"}, ignore: true, want: []string{"-workers", "2", "-deadlock"}},
		{name: "collapse duplicates", custom: []string{"-deadlock", "-deadlock"}, ignore: true, want: []string{"-deadlock"}},
		{name: "remove when checking deadlocks", custom: []string{"-deadlock", "-workers", "2"}, ignore: false, want: []string{"-workers", "2"}},
		{name: "nothing to do", custom: nil, ignore: false, want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			custom := append([]string(nil), tt.custom...)
			got := DeadlockOptions(custom, tt.ignore)
			require.ElementsMatch(t, tt.want, got)
			require.Equal(t, tt.custom, custom)
		})
	}
}

func TestJavaOptions(t *testing.T) {
	sep := string(os.PathListSeparator)
	tests := []struct {
		name   string
		custom []string
		want   []string
	}{
		{name: "defaults", custom: nil, want: []string{"-cp", "/t/tla2tools.jar", DefaultGCOption}},
		{name: "custom gc", custom: []string{"-XX:+UseG1GC"}, want: []string{"-XX:+UseG1GC", "-cp", "/t/tla2tools.jar"}},
		{name: "custom class path first", custom: []string{"-classpath", "/lib/community.jar"}, want: []string{"-classpath", "/lib/community.jar" + sep + "/t/tla2tools.jar", DefaultGCOption}},
		{name: "class path names tools", custom: []string{"-cp", "/other/tla2tools.jar"}, want: []string{"-cp", "/other/tla2tools.jar", DefaultGCOption}},
		{name: "dangling class path", custom: []string{"-Xmx2g", "-cp"}, want: []string{"-Xmx2g", "-cp", "-cp", "/t/tla2tools.jar", DefaultGCOption}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, JavaOptions(tt.custom, "/t/tla2tools.jar"))
		})
	}
}

func TestJavaPath(t *testing.T) {
	p, err := JavaPath("")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(p, "java"))

	_, err = JavaPath(t.TempDir())
	require.ErrorIs(t, err, ErrJavaNotFound)

	home := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(home, "bin"), 0o755))
	java := filepath.Join(home, "bin", "java")
	require.NoError(t, os.WriteFile(java, []byte("#!/bin/sh\n"), 0o755))
	p, err = JavaPath(home)
	require.NoError(t, err)
	require.Equal(t, java, p)
}

func TestBuild(t *testing.T) {
	files := specFiles(t)
	tlc := TLC{
		JavaOptions: []string{"-Xmx1g"},
		Options:     []string{"-workers", "auto"},
		ToolsJar:    "/opt/tla/tla2tools.jar",
		Env:         []string{"TLC_TEST=1"},
	}
	cmd, err := tlc.Build(files, true)
	require.NoError(t, err)
	require.Equal(t, "java", cmd.Path)
	require.Equal(t, filepath.Dir(files.TLAPath), cmd.Dir)
	require.Equal(t, []string{
		"-Xmx1g", "-cp", "/opt/tla/tla2tools.jar", DefaultGCOption, MainClass,
		"Queue.tla", "-tool", "-modelcheck", "-coverage", "1", "-config", "Queue.cfg",
		"-workers", "auto", "-deadlock",
	}, cmd.Args)
	require.Contains(t, cmd.Env, "TLC_TEST=1")
}

func TestBuildMissingFiles(t *testing.T) {
	files := specFiles(t)
	require.NoError(t, os.Remove(files.CfgPath))
	_, err := TLC{}.Build(files, false)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCommandString(t *testing.T) {
	cmd := Command{Path: "java", Args: []string{"-cp", "/my tools/tla2tools.jar", "tlc2.TLC"}}
	require.Equal(t, `java -cp "/my tools/tla2tools.jar" tlc2.TLC`, cmd.String())
}

func TestSplitOptions(t *testing.T) {
	require.Equal(t, []string{"-workers", "4", "-deadlock"}, SplitOptions("  -workers 4   -deadlock "))
	require.Empty(t, SplitOptions(""))
}
