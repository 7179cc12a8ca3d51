package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"tlcrun/internal/check"
	"tlcrun/internal/config"
	"tlcrun/internal/report"
	"tlcrun/internal/runner"
	"tlcrun/internal/server"
	"tlcrun/internal/sink"
)

var (
	ignoreDeadlock bool
	quiet          bool
	serveAddr      string
	outputFormat   string
	expandValues   bool
	modelConfig    string
)

var checkCmd = &cobra.Command{
	Use:   "check <spec.tla|model.cfg>",
	Short: "Run TLC for a specification and report the result",
	Long: `Run TLC for a specification and its model config. Either file of the pair
may be given; the other one is the sibling with the same base name. With --cfg
the .tla file is checked against any model config.

The exit code is 0 when no error was found, 1 when TLC reported an error,
2 when TLC could not be run and 130 when the check was interrupted.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		files, err := check.SpecFilesWithConfig(args[0], modelConfig)
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		cfg, err := loadConfig()
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		results := sink.New(slog.Default())
		p := newProgress(os.Stderr)
		consumers := []sink.Consumer{p.update}
		if serveAddr != "" {
			srv, err := startLiveView(ctx, cfg, results, nil, serveAddr)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			consumers = append(consumers, srv.Push)
		}
		detach := results.Attach(check.SourceProcess, func(r *check.Result) {
			for _, c := range consumers {
				c(r)
			}
		})
		defer detach()

		opts := runOptions(cfg, files, ignoreDeadlock)
		if !quiet {
			opts.Echo = p.writer(os.Stdout)
		}
		m := newManager(cfg, runner.WithPublisher(results))
		run, err := m.Start(ctx, files, opts)
		if err != nil {
			return &exitError{code: exitTooling, err: err}
		}
		slog.Debug("Started TLC", "command", run.CommandLine(), "pid", run.PID())

		final, runErr := run.Wait()
		p.done()
		if err := printResult(os.Stdout, final); err != nil {
			return err
		}
		code := statusExitCode(final.Status)
		if runErr != nil && !errors.Is(runErr, context.Canceled) {
			return &exitError{code: code, err: runErr}
		}
		if code != exitOK {
			return &exitError{code: code}
		}
		return nil
	},
}

// startLiveView serves results on addr in the background until ctx ends.
// manager is nil for a read-only view.
func startLiveView(ctx context.Context, cfg config.Config, results *sink.Sink, manager *runner.Manager, addr string) (*server.Server, error) {
	srv, err := newServer(cfg, results, manager)
	if err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Serve(ctx, addr); err != nil {
			slog.Error("Live view stopped", "error", err)
		}
	}()
	return srv, nil
}

func printResult(w io.Writer, r *check.Result) error {
	var text string
	opts := report.Options{ExpandValues: expandValues}
	switch outputFormat {
	case "summary":
		text = summaryText(r)
	case "markdown":
		text = report.Markdown(r, opts)
	case "html":
		text = report.HTML(r, opts)
	case "none":
		return nil
	default:
		return &exitError{code: exitUsage, err: fmt.Errorf("unknown output format %q", outputFormat)}
	}
	_, err := io.WriteString(w, text)
	return err
}

// summaryText is the plain text result: the status line, the failure and one line
// per error.
func summaryText(r *check.Result) string {
	text := statusText(r)
	if !r.StartTime.IsZero() && !r.EndTime.IsZero() {
		text += fmt.Sprintf(" | %s", r.EndTime.Sub(r.StartTime).Round(time.Second))
	}
	text += "\n"
	if r.Failure != "" {
		text += r.Failure + "\n"
	}
	for _, e := range r.Errors {
		text += fmt.Sprintf("%s: %s\n", e.Kind, e.Message)
	}
	if r.FingerprintCollision != "" {
		text += "Fingerprint collision probability: " + r.FingerprintCollision + "\n"
	}
	return text
}

func init() {
	checkCmd.Flags().BoolVar(&ignoreDeadlock, "ignore-deadlock", false, "Do not report deadlocks (passes -deadlock to TLC)")
	checkCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Do not echo TLC output")
	checkCmd.Flags().StringVar(&serveAddr, "serve", "", "Serve a live view of the check on this address")
	checkCmd.Flags().StringVarP(&outputFormat, "format", "f", "summary", "Result format: summary, markdown, html or none")
	checkCmd.Flags().BoolVar(&expandValues, "expand-values", false, "Print large trace values in full")
	checkCmd.Flags().StringVar(&modelConfig, "cfg", "", "Model config to check the .tla file with (default: the sibling .cfg)")
}
