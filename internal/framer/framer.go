// Package framer groups checker output lines into frames: single human readable
// lines and message blocks enclosed in START/END marker lines.
package framer

import (
	"fmt"
	"log/slog"
	"strings"
)

// Kind tells the two frame variants apart.
type Kind int

const (
	Unframed Kind = iota
	Framed
)

func (k Kind) String() string {
	if k == Framed {
		return "framed"
	}
	return "unframed"
}

// Frame is either one unframed line or the body of a message block. Marker lines are
// never part of Lines.
type Frame struct {
	Kind   Kind
	Code   int
	Sub    int
	HasSub bool
	Lines  []string

	// ClosedEarly is set when a new START marker arrived before the END marker.
	ClosedEarly bool
	// Incomplete is set when the stream ended inside the frame.
	Incomplete bool
}

// Line returns the text of an unframed frame, or the body joined by newlines.
func (f Frame) Line() string {
	return strings.Join(f.Lines, "\n")
}

func (f Frame) String() string {
	if f.Kind == Unframed {
		return fmt.Sprintf("Unframed(%q)", f.Line())
	}
	code := fmt.Sprint(f.Code)
	if f.HasSub {
		code = fmt.Sprintf("%d:%d", f.Code, f.Sub)
	}
	return fmt.Sprintf("Framed(%s, %d lines)", code, len(f.Lines))
}

// NewUnframed returns a frame for a single human readable line.
func NewUnframed(line string) Frame {
	return Frame{Kind: Unframed, Lines: []string{line}}
}

// LineSource is the sequence of lines a Scanner consumes. *lines.Reader implements it.
type LineSource interface {
	Next() bool
	Line() string
	Err() error
}

// Anomaly is a protocol violation the scanner recovered from.
type Anomaly struct {
	Line   int
	Reason string
}

// Scanner produces frames from a line sequence, one per Scan call. Nested frames are
// not supported: a START inside an open frame closes the open frame early.
type Scanner struct {
	src     LineSource
	markers *Markers
	logger  *slog.Logger

	lineNo    int
	open      *Marker
	body      []string
	pending   []Frame
	frame     Frame
	done      bool
	err       error
	anomalies []Anomaly
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger used for protocol anomalies.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = l
	}
}

// NewScanner creates a scanner over src. A nil markers selects the TLC sentinel.
func NewScanner(src LineSource, markers *Markers, opts ...Option) *Scanner {
	if markers == nil {
		markers = NewMarkers("")
	}
	s := &Scanner{
		src:     src,
		markers: markers,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan advances to the next frame. It returns false at the end of the stream; Err
// then returns the read error, if any.
func (s *Scanner) Scan() bool {
	for len(s.pending) == 0 {
		if s.done {
			return false
		}
		s.step()
	}
	s.frame = s.pending[0]
	s.pending = s.pending[1:]
	return true
}

// Frame returns the frame produced by the last Scan.
func (s *Scanner) Frame() Frame {
	return s.frame
}

// Err returns the error of the underlying line source.
func (s *Scanner) Err() error {
	return s.err
}

// Anomalies returns the protocol violations seen so far.
func (s *Scanner) Anomalies() []Anomaly {
	return s.anomalies
}

// InFrame reports whether a frame is currently open.
func (s *Scanner) InFrame() bool {
	return s.open != nil
}

func (s *Scanner) step() {
	if !s.src.Next() {
		s.done = true
		s.err = s.src.Err()
		if s.open != nil {
			reason := "stream ended inside a message frame"
			if s.err != nil {
				reason = "stream failed inside a message frame"
			}
			s.anomaly(reason, "code", s.open.Code)
			s.emit(func(f *Frame) { f.Incomplete = true })
		}
		return
	}
	s.lineNo++
	line := s.src.Line()

	mk, ok := s.markers.Parse(line)
	switch {
	case !ok:
		if s.open != nil {
			s.body = append(s.body, line)
		} else {
			s.pending = append(s.pending, NewUnframed(line))
		}
	case mk.Start:
		if s.open != nil {
			s.anomaly("message started before the previous one ended", "open", s.open.Code, "new", mk.Code)
			s.emit(func(f *Frame) { f.ClosedEarly = true })
		}
		s.open = &mk
	case s.open == nil:
		s.anomaly("end marker without a matching start", "code", mk.Code)
	default:
		if !s.open.Closes(mk) {
			s.anomaly("end marker does not match the open message", "open", s.open.Code, "end", mk.Code)
		}
		s.emit(nil)
	}
}

// emit turns the open frame into a pending Framed value.
func (s *Scanner) emit(mark func(*Frame)) {
	f := Frame{
		Kind:   Framed,
		Code:   s.open.Code,
		Sub:    s.open.Sub,
		HasSub: s.open.HasSub,
		Lines:  collapseBlank(s.body),
	}
	if mark != nil {
		mark(&f)
	}
	s.pending = append(s.pending, f)
	s.open = nil
	s.body = nil
}

func (s *Scanner) anomaly(reason string, args ...any) {
	s.anomalies = append(s.anomalies, Anomaly{Line: s.lineNo, Reason: reason})
	s.logger.Warn("Checker output protocol anomaly", append([]any{"reason", reason, "line", s.lineNo}, args...)...)
}

// collapseBlank returns nil for a body made only of blank lines.
func collapseBlank(body []string) []string {
	for _, l := range body {
		if strings.TrimSpace(l) != "" {
			return body
		}
	}
	return nil
}
