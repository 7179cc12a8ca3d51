package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"tlcrun/internal/check"
	"tlcrun/internal/framer"
	"tlcrun/internal/replay"
	"tlcrun/internal/sink"
	"tlcrun/internal/tlc"
)

var (
	replaySpec   string
	follow       bool
	followServe  string
	followWindow = replay.DefaultDebounce
)

var replayCmd = &cobra.Command{
	Use:   "replay <spec.out|spec.transcript>",
	Short: "Parse saved TLC output into a result",
	Long: `Parse the output of an earlier run, either the .out mirror or a transcript,
and report the result as if the check had just run.

With --follow the file is parsed again whenever it changes, for example while
TLC runs in another terminal with its output redirected to the file.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]
		files, err := replayFiles(path)
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		cfg, err := loadConfig()
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		opts := replay.Options{
			Logger:  slog.Default(),
			Builder: []tlc.BuilderOption{tlc.WithMarkers(framer.NewMarkers(cfg.TLC.Sentinel))},
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if !follow {
			res, err := replay.File(ctx, path, files, opts)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			if err := printResult(os.Stdout, res); err != nil {
				return err
			}
			if code := statusExitCode(res.Status); code != exitOK {
				return &exitError{code: code}
			}
			return nil
		}

		results := sink.New(slog.Default())
		p := newProgress(os.Stderr)
		consumers := []sink.Consumer{p.update}
		if followServe != "" {
			srv, err := startLiveView(ctx, cfg, results, nil, followServe)
			if err != nil {
				return &exitError{code: exitUsage, err: err}
			}
			consumers = append(consumers, srv.Push)
		}
		detach := results.Attach(check.SourceOutFile, func(r *check.Result) {
			for _, c := range consumers {
				c(r)
			}
		})
		defer detach()

		err = replay.Follow(ctx, path, files, followWindow, results.Publish, opts)
		p.done()
		if err != nil {
			return &exitError{code: exitUsage, err: err}
		}
		if res, ok := results.Latest(check.SourceOutFile); ok {
			return printResult(os.Stdout, res)
		}
		return nil
	},
}

// replayFiles derives the specification files of a saved output. --spec wins;
// otherwise the .tla and .cfg next to the output with the same base name are
// assumed.
func replayFiles(path string) (check.SpecFiles, error) {
	if replaySpec != "" {
		return check.SpecFilesFor(replaySpec)
	}
	base := strings.TrimSuffix(path, filepath.Ext(path))
	if base == "" {
		return check.SpecFiles{}, fmt.Errorf("cannot derive the specification of %s, use --spec", path)
	}
	return check.SpecFilesFor(base + ".tla")
}

func init() {
	replayCmd.Flags().StringVar(&replaySpec, "spec", "", "Specification (.tla or .cfg) the output belongs to")
	replayCmd.Flags().BoolVar(&follow, "follow", false, "Parse the file again whenever it changes")
	replayCmd.Flags().DurationVar(&followWindow, "debounce", replay.DefaultDebounce, "With --follow, how long writes must settle before parsing")
	replayCmd.Flags().StringVar(&followServe, "serve", "", "With --follow, serve a live view on this address")
	replayCmd.Flags().StringVarP(&outputFormat, "format", "f", "summary", "Result format: summary, markdown, html or none")
	replayCmd.Flags().BoolVar(&expandValues, "expand-values", false, "Print large trace values in full")
}
