package runner

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"tlcrun/internal/framer"
	"tlcrun/pkg/outputlog"
)

// maxStderr bounds the captured diagnostic output of a run.
const maxStderr = 64 * 1024

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
	cut bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.cut = true
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t.cut {
		return "...\n" + string(t.buf)
	}
	return string(t.buf)
}

// echoWriter copies complete lines to w with message markers removed. Lines made
// only of markers are skipped. Errors of w are ignored so a broken terminal never
// stops a run.
type echoWriter struct {
	w       io.Writer
	markers *framer.Markers
	buf     []byte
}

func (e *echoWriter) Write(p []byte) (int, error) {
	e.buf = append(e.buf, p...)
	start := 0
	for {
		i := bytes.IndexByte(e.buf[start:], '\n')
		if i < 0 {
			break
		}
		e.line(string(e.buf[start : start+i]))
		start += i + 1
	}
	e.buf = append(e.buf[:0], e.buf[start:]...)
	return len(p), nil
}

func (e *echoWriter) line(s string) {
	if clean, keep := e.markers.StripMarkers(strings.TrimSuffix(s, "\r")); keep {
		_, _ = fmt.Fprintln(e.w, clean)
	}
}

// Flush writes a pending partial line.
func (e *echoWriter) Flush() {
	if len(e.buf) > 0 {
		e.line(string(e.buf))
		e.buf = nil
	}
}

// sideWriter passes writes to a side file. The first error is logged and disables
// the writer; Write always reports success so the stream it tees keeps flowing.
type sideWriter struct {
	name   string
	w      io.Writer
	logger *slog.Logger
	failed bool
}

func (s *sideWriter) Write(p []byte) (int, error) {
	if s.failed {
		return len(p), nil
	}
	if _, err := s.w.Write(p); err != nil {
		s.failed = true
		s.logger.Warn("Failed to write side file, no longer writing it", "file", s.name, "error", err)
	}
	return len(p), nil
}

// tees holds the side consumers of the output streams: the raw .out mirror, the
// transcript and the echo.
type tees struct {
	stdout     []io.Writer
	stderr     []io.Writer
	files      []*os.File
	transcript *outputlog.Writer
	echo       *echoWriter
}

func openTees(opts Options, markers *framer.Markers, logger *slog.Logger) (*tees, error) {
	t := &tees{}
	side := func(name string, w io.Writer) io.Writer {
		return &sideWriter{name: name, w: w, logger: logger}
	}
	if opts.OutFile != "" {
		f, err := os.Create(opts.OutFile)
		if err != nil {
			return nil, fmt.Errorf("creating output file: %w", err)
		}
		t.files = append(t.files, f)
		t.stdout = append(t.stdout, side(opts.OutFile, f))
	}
	if opts.TranscriptFile != "" {
		f, err := os.Create(opts.TranscriptFile)
		if err != nil {
			_ = t.close()
			return nil, fmt.Errorf("creating transcript: %w", err)
		}
		t.files = append(t.files, f)
		t.transcript = outputlog.NewWriter(f)
		t.stdout = append(t.stdout, side(opts.TranscriptFile, t.transcript.StreamWriter(outputlog.Stdout)))
		t.stderr = append(t.stderr, side(opts.TranscriptFile, t.transcript.StreamWriter(outputlog.Stderr)))
	}
	if opts.Echo != nil {
		t.echo = &echoWriter{w: opts.Echo, markers: markers}
		t.stdout = append(t.stdout, t.echo)
	}
	return t, nil
}

// exit records the exit code in the transcript.
func (t *tees) exit(code int) {
	if t.transcript != nil {
		_ = t.transcript.Write(outputlog.ExitChunk(code, timeNow()))
	}
}

func (t *tees) close() error {
	var errs []error
	if t.echo != nil {
		t.echo.Flush()
	}
	if t.transcript != nil {
		errs = append(errs, t.transcript.Close())
	}
	for _, f := range t.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}
