package outputlog

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// TimeLayout is the record timestamp format.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// Stream names written by the runner.
const (
	Stdout = "stdout"
	Stderr = "stderr"
	Exit   = "exit"
)

var streamName = regexp.MustCompile(`^[a-zA-Z0-9_./-]{1,64}$`)

// ValidStream reports whether name can be used as a stream name.
func ValidStream(name string) bool {
	return streamName.MatchString(name)
}

// Chunk is one record of a transcript.
type Chunk struct {
	Stream    string
	Timestamp time.Time
	Data      []byte
}

// FormatChunk encodes a record.
func FormatChunk(chunk Chunk) []byte {
	out := fmt.Appendf(nil, "%s %s %d: ", chunk.Stream, chunk.Timestamp.UTC().Format(TimeLayout), len(chunk.Data))
	out = append(out, chunk.Data...)
	return append(out, '\n')
}

// ExitChunk is the record that closes the transcript of a finished process.
func ExitChunk(code int, at time.Time) Chunk {
	return Chunk{Stream: Exit, Timestamp: at, Data: []byte(strconv.Itoa(code))}
}

// ExitCode decodes an exit record.
func (c Chunk) ExitCode() (int, bool) {
	if c.Stream != Exit {
		return 0, false
	}
	code, err := strconv.Atoi(string(c.Data))
	if err != nil {
		return 0, false
	}
	return code, true
}
