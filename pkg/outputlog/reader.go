package outputlog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

// Reader decodes a transcript record by record.
type Reader struct {
	br    *bufio.Reader
	chunk Chunk
	err   error
	done  bool
}

// NewReader creates a transcript reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// Next decodes the next record. It returns false at the end of the transcript or
// on a malformed record; Err tells which.
func (r *Reader) Next() bool {
	if r.done {
		return false
	}
	chunk, err := r.read()
	if err != nil {
		r.done = true
		if !errors.Is(err, io.EOF) {
			r.err = err
		}
		return false
	}
	r.chunk = chunk
	return true
}

// Chunk returns the current record.
func (r *Reader) Chunk() Chunk {
	return r.chunk
}

// Err returns the decoding error, or nil when the transcript ended cleanly.
func (r *Reader) Err() error {
	return r.err
}

func (r *Reader) read() (Chunk, error) {
	var chunk Chunk

	stream, err := r.br.ReadString(' ')
	if err != nil {
		if errors.Is(err, io.EOF) && stream == "" {
			return chunk, io.EOF
		}
		return chunk, fmt.Errorf("reading stream: %w", unexpected(err))
	}
	chunk.Stream = stream[:len(stream)-1]
	if !ValidStream(chunk.Stream) {
		return chunk, fmt.Errorf("invalid stream name %q", chunk.Stream)
	}

	ts, err := r.br.ReadString(' ')
	if err != nil {
		return chunk, fmt.Errorf("reading timestamp: %w", unexpected(err))
	}
	chunk.Timestamp, err = time.Parse(TimeLayout, ts[:len(ts)-1])
	if err != nil {
		return chunk, fmt.Errorf("parsing timestamp: %w", err)
	}

	length, err := r.br.ReadString(':')
	if err != nil {
		return chunk, fmt.Errorf("reading length: %w", unexpected(err))
	}
	n, err := strconv.Atoi(length[:len(length)-1])
	if err != nil || n < 0 {
		return chunk, fmt.Errorf("parsing length %q", length[:len(length)-1])
	}
	if b, err := r.br.ReadByte(); err != nil || b != ' ' {
		return chunk, errors.New("expected space after length")
	}

	chunk.Data = make([]byte, n)
	if _, err := io.ReadFull(r.br, chunk.Data); err != nil {
		return chunk, fmt.Errorf("reading content (%d bytes): %w", n, unexpected(err))
	}
	if b, err := r.br.ReadByte(); err != nil || b != '\n' {
		return chunk, errors.New("expected newline after content")
	}
	return chunk, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// StreamReader returns the content of one stream as an io.Reader. Other streams are
// skipped. Decoding errors are returned by Read.
func (r *Reader) StreamReader(stream string) io.Reader {
	return &streamReader{r: r, stream: stream}
}

type streamReader struct {
	r      *Reader
	stream string
	buf    []byte
}

func (sr *streamReader) Read(p []byte) (int, error) {
	for len(sr.buf) == 0 {
		if !sr.r.Next() {
			if err := sr.r.Err(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		if c := sr.r.Chunk(); c.Stream == sr.stream {
			sr.buf = c.Data
		}
	}
	n := copy(p, sr.buf)
	sr.buf = sr.buf[n:]
	return n, nil
}

// All returns the concatenated content per stream.
func (r *Reader) All() (map[string][]byte, error) {
	out := make(map[string][]byte)
	for r.Next() {
		c := r.Chunk()
		out[c.Stream] = append(out[c.Stream], c.Data...)
	}
	return out, r.Err()
}

// IsTranscript reports whether data starts with a transcript record header.
func IsTranscript(data []byte) bool {
	line, _, _ := bytes.Cut(data, []byte("\n"))
	stream, rest, ok := bytes.Cut(line, []byte(" "))
	if !ok || !ValidStream(string(stream)) {
		return false
	}
	ts, _, ok := bytes.Cut(rest, []byte(" "))
	if !ok {
		return false
	}
	_, err := time.Parse(TimeLayout, string(ts))
	return err == nil
}
