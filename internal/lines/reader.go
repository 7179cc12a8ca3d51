// Package lines splits a byte stream into text lines.
package lines

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"syscall"
)

// Reader yields the lines of a stream with their terminators stripped. It is a
// pull-based sequence in the style of bufio.Scanner, but without a maximum line
// length: checker values can print as a single very long line.
type Reader struct {
	br   *bufio.Reader
	line string
	err  error
	done bool
}

// NewReader creates a line reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next line. It returns false when the stream ends or fails;
// Err tells which.
func (r *Reader) Next() bool {
	if r.done {
		return false
	}
	s, err := r.br.ReadString('\n')
	if err != nil {
		r.done = true
		if !isEnd(err) {
			r.err = err
		}
		if s == "" {
			return false
		}
		// A final line without terminator is still a complete line.
	}
	r.line = trimEOL(s)
	return true
}

// Line returns the current line.
func (r *Reader) Line() string {
	return r.line
}

// Err returns the read error that ended the sequence, or nil on a clean end.
func (r *Reader) Err() error {
	return r.err
}

func trimEOL(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

// isEnd reports whether err marks a regular end of stream. Reading a pty after the
// child exited fails with EIO on Linux.
func isEnd(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, syscall.EIO)
}
