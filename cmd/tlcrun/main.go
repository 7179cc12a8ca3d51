package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tlcrun/internal/check"
	"tlcrun/internal/command"
	"tlcrun/internal/config"
	"tlcrun/internal/framer"
	"tlcrun/internal/runner"
)

// Exit codes of the CLI.
const (
	exitOK        = 0
	exitCheckFail = 1
	exitTooling   = 2
	exitUsage     = 3
	exitStopped   = 130
)

var (
	configPath string
	logLevel   string

	javaHome    string
	javaOptions string
	toolsJar    string
	tlcOptions  string
	sentinel    string
	gracePeriod time.Duration
	usePTY      bool
	transcript  bool
	noOutFile   bool
)

var rootCmd = &cobra.Command{
	Use:   "tlcrun",
	Short: "tlcrun - run the TLC model checker and follow its results",
	Long: `tlcrun starts the TLC model checker for a TLA+ specification, parses its
tool-mode output into a structured result and shows progress, errors with their
counterexamples and coverage while the check is running.`,
}

// exitError ends the process with code after the error has been reported.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// statusExitCode maps the status of a finished check to the exit code of tlcrun.
func statusExitCode(s check.Status) int {
	switch s {
	case check.FinishedSuccess:
		return exitOK
	case check.FinishedError:
		return exitCheckFail
	case check.StoppedByUser:
		return exitStopped
	}
	return exitTooling
}

func setupLogging(cmd *cobra.Command) error {
	level := logLevel
	if !cmd.Flags().Changed("log-level") {
		if cfg, err := loadConfig(); err == nil {
			level = cfg.Log.Level
		}
	}
	l, err := config.Log{Level: level}.SlogLevel()
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}

// loadConfig reads the config file and applies the command line flags.
func loadConfig() (config.Config, error) {
	path, explicit := configPath, configPath != ""
	if !explicit {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Default(), nil
		}
		path = p
	}
	cfg, err := config.Load(path, explicit)
	if err != nil {
		return cfg, err
	}

	flags := rootCmd.PersistentFlags()
	if flags.Changed("java-home") {
		cfg.Java.Home = javaHome
	}
	if flags.Changed("java-options") {
		cfg.Java.Options = command.SplitOptions(javaOptions)
	}
	if flags.Changed("tools-jar") {
		cfg.TLC.ToolsJar = toolsJar
	}
	if flags.Changed("tlc-options") {
		cfg.TLC.Options = command.SplitOptions(tlcOptions)
	}
	if flags.Changed("sentinel") {
		cfg.TLC.Sentinel = sentinel
	}
	if flags.Changed("grace-period") {
		cfg.TLC.GracePeriod = gracePeriod
	}
	if flags.Changed("pty") {
		cfg.TLC.PTY = usePTY
	}
	if flags.Changed("transcript") {
		cfg.TLC.Transcript = transcript
	}
	if flags.Changed("no-out-file") {
		cfg.TLC.CreateOutFiles = !noOutFile
	}
	return cfg, cfg.Validate()
}

// newManager creates the run manager for cfg.
func newManager(cfg config.Config, opts ...runner.Option) *runner.Manager {
	opts = append([]runner.Option{
		runner.WithLogger(slog.Default()),
		runner.WithGracePeriod(cfg.TLC.GracePeriod),
		runner.WithMarkers(framer.NewMarkers(cfg.TLC.Sentinel)),
	}, opts...)
	return runner.NewManager(cfg.Command(), opts...)
}

// runOptions derives the options of one run from cfg.
func runOptions(cfg config.Config, files check.SpecFiles, ignoreDeadlock bool) runner.Options {
	opts := runner.Options{IgnoreDeadlock: ignoreDeadlock, PTY: cfg.TLC.PTY}
	if cfg.TLC.CreateOutFiles {
		opts.OutFile = files.OutPath()
	}
	if cfg.TLC.Transcript {
		opts.TranscriptFile = files.TranscriptPath()
	}
	return opts
}

func init() {
	// Assigned here: setupLogging reads the flags of rootCmd.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return setupLogging(cmd)
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default: $XDG_CONFIG_HOME/tlcrun/config.yaml)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	pf.StringVar(&javaHome, "java-home", "", "Java installation to run TLC with (default: java from PATH)")
	pf.StringVar(&javaOptions, "java-options", "", "Space separated JVM options")
	pf.StringVar(&toolsJar, "tools-jar", "", "Path of tla2tools.jar (default: $TLA2TOOLS_JAR)")
	pf.StringVar(&tlcOptions, "tlc-options", "", "Space separated TLC options, ${specName} and ${modelName} are substituted")
	pf.StringVar(&sentinel, "sentinel", "", "Token around message markers (default: "+framer.DefaultSentinel+")")
	pf.DurationVar(&gracePeriod, "grace-period", runner.DefaultGracePeriod, "Time between interrupt and kill when a check is stopped")
	pf.BoolVar(&usePTY, "pty", false, "Run TLC on a pseudo terminal")
	pf.BoolVar(&transcript, "transcript", false, "Write a transcript of all output streams next to the specification")
	pf.BoolVar(&noOutFile, "no-out-file", false, "Do not mirror TLC output to <spec>.out")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initConfigCmd)
}

func main() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(os.Stderr, ee.err)
		}
		os.Exit(ee.code)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(exitUsage)
}
