package outputlog

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("outputlog: writer closed")

// Writer multiplexes streams into a transcript. A single goroutine owns the
// underlying io.Writer; stream writers hand records to it through a channel, so
// stdout and stderr can be written from different goroutines.
type Writer struct {
	chunks chan Chunk
	done   chan struct{}
	now    func() time.Time

	mu     sync.RWMutex
	closed bool
	err    error
}

// NewWriter starts a writer goroutine for w. It runs until Close is called.
func NewWriter(w io.Writer) *Writer {
	o := &Writer{
		chunks: make(chan Chunk, 100),
		done:   make(chan struct{}),
		now:    time.Now,
	}
	go func() {
		defer close(o.done)
		for chunk := range o.chunks {
			if o.err != nil {
				continue
			}
			if _, err := w.Write(FormatChunk(chunk)); err != nil {
				o.err = fmt.Errorf("writing transcript: %w", err)
			}
		}
	}()
	return o
}

// StreamWriter returns an io.Writer that records every write as one chunk of
// stream. It panics on an invalid stream name.
func (o *Writer) StreamWriter(stream string) io.Writer {
	if !ValidStream(stream) {
		panic(fmt.Sprintf("outputlog: invalid stream name %q", stream))
	}
	return &streamWriter{stream: stream, w: o}
}

// Write records chunk. A zero timestamp is replaced by the current time.
func (o *Writer) Write(chunk Chunk) error {
	if chunk.Timestamp.IsZero() {
		chunk.Timestamp = o.now()
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	o.chunks <- chunk
	return nil
}

// Close flushes pending records and returns the first write error.
func (o *Writer) Close() error {
	o.mu.Lock()
	if !o.closed {
		o.closed = true
		close(o.chunks)
	}
	o.mu.Unlock()
	<-o.done
	return o.err
}

type streamWriter struct {
	stream string
	w      *Writer
}

func (sw *streamWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	// p is only valid until Write returns.
	data := append([]byte(nil), p...)
	if err := sw.w.Write(Chunk{Stream: sw.stream, Data: data}); err != nil {
		return 0, err
	}
	return len(p), nil
}
