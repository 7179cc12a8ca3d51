// Package replay rebuilds results from saved checker output: the raw .out mirror
// or a transcript with all streams and the exit code.
package replay

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"tlcrun/internal/check"
	"tlcrun/internal/tlc"
	"tlcrun/pkg/outputlog"
)

// Options configure a replay.
type Options struct {
	Logger *slog.Logger
	// Builder options, for example custom markers.
	Builder []tlc.BuilderOption
	// Snapshot receives every intermediate snapshot when set.
	Snapshot func(*check.Result)
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// File replays the output saved at path as a result of files.
func File(ctx context.Context, path string, files check.SpecFiles, opts Options) (*check.Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read checker output: %w", err)
	}
	return Bytes(ctx, data, files, opts)
}

// Bytes replays saved output. Raw output has no exit code, so a run that ended
// without a result message is a tooling failure.
func Bytes(ctx context.Context, data []byte, files check.SpecFiles, opts Options) (*check.Result, error) {
	bopts := append([]tlc.BuilderOption{tlc.WithLogger(opts.logger())}, opts.Builder...)
	b := tlc.NewBuilder(uuid.NewString(), check.SourceOutFile, files, bopts...)

	stdout := data
	var o tlc.Outcome
	if outputlog.IsTranscript(data) {
		t, err := readTranscript(data)
		if err != nil {
			return nil, err
		}
		stdout = t.stdout
		o = tlc.Outcome{ExitCode: t.exitCode, ExitKnown: t.exitKnown, Stderr: t.stderr}
	}

	o.StreamErr = tlc.Consume(ctx, bytes.NewReader(stdout), b, opts.Snapshot)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.Finish(o), nil
}

type transcript struct {
	stdout    []byte
	stderr    string
	exitCode  int
	exitKnown bool
}

func readTranscript(data []byte) (transcript, error) {
	var t transcript
	var stdout bytes.Buffer
	var stderr strings.Builder
	r := outputlog.NewReader(bytes.NewReader(data))
	for r.Next() {
		c := r.Chunk()
		switch c.Stream {
		case outputlog.Stdout:
			stdout.Write(c.Data)
		case outputlog.Stderr:
			stderr.Write(c.Data)
		case outputlog.Exit:
			t.exitCode, t.exitKnown = c.ExitCode()
		}
	}
	if err := r.Err(); err != nil {
		return t, fmt.Errorf("failed to read transcript: %w", err)
	}
	t.stdout = stdout.Bytes()
	t.stderr = stderr.String()
	return t, nil
}

// DefaultDebounce is how long Follow waits for writes to settle.
const DefaultDebounce = 200 * time.Millisecond

// Follow replays path now and again whenever it changes, passing each final
// result to publish, until ctx is cancelled. The directory is watched so that a
// file that is replaced or created later is picked up.
func Follow(ctx context.Context, path string, files check.SpecFiles, debounce time.Duration, publish func(*check.Result), opts Options) error {
	logger := opts.logger()
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	replay := func() {
		res, err := File(ctx, abs, files, opts)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("Replay failed", "path", abs, "error", err)
			}
			return
		}
		logger.Debug("Replayed checker output", "path", abs, "status", res.Status)
		publish(res)
	}

	if _, err := os.Stat(abs); err == nil {
		replay()
	}

	var timerC <-chan time.Time
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			timerC = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("File watcher error", "error", err)
		case <-timerC:
			timerC = nil
			replay()
		}
	}
}
