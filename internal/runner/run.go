package runner

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"tlcrun/internal/check"
	"tlcrun/internal/command"
	"tlcrun/internal/metrics"
	"tlcrun/internal/tlc"
)

// Run is one checker process and its result pipeline.
type Run struct {
	id      string
	files   check.SpecFiles
	cmdLine string
	started time.Time
	logger  *slog.Logger

	cmd     *exec.Cmd
	builder *tlc.Builder
	stderr  *tailBuffer
	cancel  context.CancelFunc
	stopped atomic.Bool

	done   chan struct{}
	result *check.Result
	err    error
}

func (m *Manager) spawn(ctx context.Context, files check.SpecFiles, spec command.Command, opts Options) (*Run, error) {
	id := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(runCtx, spec.Path, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = spec.Env
	// TLC prints its final statistics on SIGINT; kill only after the grace period.
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = m.grace

	r := &Run{
		id:      id,
		files:   files,
		cmdLine: spec.String(),
		started: timeNow(),
		logger:  m.logger.With("run", id),
		cmd:     cmd,
		builder: tlc.NewBuilder(id, check.SourceProcess, files,
			tlc.WithLogger(m.logger), tlc.WithMarkers(m.markers)),
		stderr: newTailBuffer(maxStderr),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	t, err := openTees(opts, m.markers, r.logger)
	if err != nil {
		cancel()
		return nil, &ToolingError{Op: "open output files", Err: err}
	}

	// The parser reads its own end of a pipe, the side files get their own copies
	// of every write and never fail it.
	pr, pw := io.Pipe()
	stdout := io.MultiWriter(append([]io.Writer{pw}, t.stdout...)...)

	var ptmx *os.File
	if opts.PTY {
		ptmx, err = pty.StartWithSize(cmd, &pty.Winsize{Rows: 24, Cols: 250})
	} else {
		cmd.Stdout = stdout
		cmd.Stderr = io.MultiWriter(append([]io.Writer{r.stderr}, t.stderr...)...)
		err = cmd.Start()
	}
	if err != nil {
		cancel()
		_ = t.close()
		return nil, &ToolingError{Op: "start TLC", Err: err}
	}

	r.logger.Info("Model checker started", "pid", cmd.Process.Pid, "command", r.cmdLine, "pty", opts.PTY)
	m.publish(r.builder.Result())

	stopOnCancel := context.AfterFunc(ctx, r.Stop)
	go func() {
		defer close(r.done)
		defer stopOnCancel()
		r.pipeline(m, pr, pw, ptmx, stdout, t)
	}()
	return r, nil
}

// pipeline drains the process output through the parser, waits for the exit and
// publishes the final snapshot.
func (r *Run) pipeline(m *Manager, pr *io.PipeReader, pw *io.PipeWriter, ptmx *os.File, stdout io.Writer, t *tees) {
	var g errgroup.Group
	g.Go(func() error {
		err := tlc.Consume(context.Background(), pr, r.builder, m.publish)
		// Keep the writer side flowing if parsing ended early.
		_, _ = io.Copy(io.Discard, pr)
		return err
	})
	if ptmx != nil {
		g.Go(func() error {
			_, err := io.Copy(stdout, ptmx)
			if errors.Is(err, syscall.EIO) {
				// The terminal reports EIO once the child side is closed.
				err = nil
			}
			_ = pw.CloseWithError(err)
			return nil
		})
	}
	var waitErr error
	g.Go(func() error {
		waitErr = r.cmd.Wait()
		if ptmx == nil {
			_ = pw.Close()
		}
		return nil
	})
	streamErr := g.Wait()
	if ptmx != nil {
		_ = ptmx.Close()
	}

	code, known := r.exitStatus(waitErr)
	if known {
		t.exit(code)
	}
	if err := t.close(); err != nil {
		r.logger.Warn("Failed to close output files", "error", err)
	}

	outcome := tlc.Outcome{
		Stopped:   r.stopped.Load(),
		ExitCode:  code,
		ExitKnown: known,
		StreamErr: streamErr,
		Stderr:    r.stderr.String(),
	}
	r.result = r.builder.Finish(outcome)
	r.err = runError(outcome, r.result)
	if r.err != nil {
		r.logger.Error("Model checker failed", "exit_code", code, "error", r.err)
	}
	r.cancel()

	metrics.Runs.WithLabelValues(r.result.Status.String()).Inc()
	metrics.RunDuration.Observe(timeNow().Sub(r.started).Seconds())
	m.publish(r.result)
	m.release(r)
}

// exitStatus extracts the exit code of a finished process. A process killed by a
// signal reports -1.
func (r *Run) exitStatus(waitErr error) (int, bool) {
	ps := r.cmd.ProcessState
	if ps == nil {
		r.logger.Warn("Model checker exit status unknown", "error", waitErr)
		return 0, false
	}
	if status, ok := ps.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		r.logger.Info("Model checker terminated by signal", "signal", status.Signal().String())
	}
	return ps.ExitCode(), true
}

// runError is the error Wait reports: tooling exit codes and tooling failures.
// Domain results are part of the snapshot only.
func runError(o tlc.Outcome, final *check.Result) error {
	if o.Stopped {
		return nil
	}
	if o.ExitKnown && tlc.IsToolingExit(o.ExitCode) {
		return &ToolingError{Op: "run TLC", ExitCode: o.ExitCode, Stderr: o.Stderr}
	}
	if final.Status == check.ToolingFailure {
		return &ToolingError{Op: "run TLC", ExitCode: o.ExitCode, Stderr: o.Stderr, Err: errors.New(final.Failure)}
	}
	return nil
}

// ID is the run identifier, also used as Result.RunID.
func (r *Run) ID() string { return r.id }

// Files returns the checked files.
func (r *Run) Files() check.SpecFiles { return r.files }

// CommandLine returns the printable command line.
func (r *Run) CommandLine() string { return r.cmdLine }

// PID returns the process id.
func (r *Run) PID() int { return r.cmd.Process.Pid }

// Done is closed once the final snapshot has been published.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the run ended and returns its final snapshot. The error is a
// *ToolingError when the tooling failed; the snapshot is returned in any case.
func (r *Run) Wait() (*check.Result, error) {
	<-r.done
	return r.result, r.err
}

// Stop asks the process to terminate. It returns immediately; Wait observes the
// end. Stopping a finished run does nothing.
func (r *Run) Stop() {
	select {
	case <-r.done:
		return
	default:
	}
	if r.stopped.CompareAndSwap(false, true) {
		r.logger.Info("Stopping model checker")
		r.cancel()
	}
}
