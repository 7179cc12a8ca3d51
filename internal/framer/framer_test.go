package framer

import (
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/require"

	"tlcrun/internal/lines"
)

func scanAll(t *testing.T, input string, sentinel string) ([]Frame, *Scanner) {
	t.Helper()
	sc := NewScanner(lines.NewReader(strings.NewReader(input)), NewMarkers(sentinel),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	var frames []Frame
	for sc.Scan() {
		frames = append(frames, sc.Frame())
	}
	return frames, sc
}

func TestMarkersParse(t *testing.T) {
	m := NewMarkers("")
	tests := []struct {
		line string
		want Marker
		ok   bool
	}{
		{line: "@!@!@STARTMSG 2262:0 @!@!@", want: Marker{Start: true, Code: 2262, Sub: 0, HasSub: true}, ok: true},
		{line: "@!@!@ENDMSG 2262 @!@!@", want: Marker{Code: 2262}, ok: true},
		{line: "@!@!@STARTMSG 2110:1 @!@!@  ", want: Marker{Start: true, Code: 2110, Sub: 1, HasSub: true}, ok: true},
		{line: "Invariant Inv is violated.", ok: false},
		{line: "@!@!@STARTMSG abc @!@!@", ok: false},
		{line: "text @!@!@STARTMSG 1 @!@!@", ok: false},
	}
	for _, tt := range tests {
		got, ok := m.Parse(tt.line)
		require.Equal(t, tt.ok, ok, tt.line)
		if ok {
			require.Equal(t, tt.want, got, tt.line)
		}
	}
}

func TestMarkersSpacedForm(t *testing.T) {
	m := NewMarkers("@@@")
	mk, ok := m.Parse("@@@ START 1 @@@")
	require.True(t, ok)
	require.Equal(t, Marker{Start: true, Code: 1}, mk)

	mk, ok = m.Parse("@@@ END 1:2 @@@")
	require.True(t, ok)
	require.Equal(t, Marker{Code: 1, Sub: 2, HasSub: true}, mk)
}

func TestMarkerCloses(t *testing.T) {
	start := Marker{Start: true, Code: 2110, Sub: 1, HasSub: true}
	require.True(t, start.Closes(Marker{Code: 2110}))
	require.True(t, start.Closes(Marker{Code: 2110, Sub: 1, HasSub: true}))
	require.False(t, start.Closes(Marker{Code: 2110, Sub: 3, HasSub: true}))
	require.False(t, start.Closes(Marker{Code: 2111}))
}

func TestStripMarkers(t *testing.T) {
	m := NewMarkers("")
	line, keep := m.StripMarkers("@!@!@STARTMSG 2185:0 @!@!@")
	require.False(t, keep)
	require.Equal(t, "", line)

	line, keep = m.StripMarkers("")
	require.True(t, keep)
	require.Equal(t, "", line)

	line, keep = m.StripMarkers("Starting... (2024-01-01 10:00:00)")
	require.True(t, keep)
	require.Equal(t, "Starting... (2024-01-01 10:00:00)", line)
}

func TestScannerFramesAndUnframed(t *testing.T) {
	input := strings.Join([]string{
		"free text",
		"@!@!@STARTMSG 2185:0 @!@!@",
		"Starting... (2024-01-01 10:00:00)",
		"@!@!@ENDMSG 2185 @!@!@",
		"",
		"@!@!@STARTMSG 2217:4 @!@!@",
		"1: <Initial predicate>",
		"/\\ x = 1",
		"",
		"@!@!@ENDMSG 2217 @!@!@",
		"tail",
	}, "\n")

	frames, sc := scanAll(t, input, "")
	require.NoError(t, sc.Err())
	require.Empty(t, sc.Anomalies())
	require.Len(t, frames, 5)

	require.Equal(t, NewUnframed("free text"), frames[0])
	require.Equal(t, Frame{Kind: Framed, Code: 2185, Sub: 0, HasSub: true, Lines: []string{"Starting... (2024-01-01 10:00:00)"}}, frames[1])
	require.Equal(t, NewUnframed(""), frames[2])
	require.Equal(t, []string{"1: <Initial predicate>", "/\\ x = 1", ""}, frames[3].Lines)
	require.Equal(t, 2217, frames[3].Code)
	require.Equal(t, NewUnframed("tail"), frames[4])
}

func TestScannerEmptyFrame(t *testing.T) {
	frames, sc := scanAll(t, "@@@ START 1 @@@\n@@@ END 1 @@@\n", "@@@")
	require.NoError(t, sc.Err())
	require.Len(t, frames, 1)
	require.Equal(t, Framed, frames[0].Kind)
	require.Equal(t, 1, frames[0].Code)
	require.Empty(t, frames[0].Lines)
}

func TestScannerBlankOnlyFrameCollapses(t *testing.T) {
	frames, _ := scanAll(t, "@@@ START 7 @@@\n\n  \n@@@ END 7 @@@\n", "@@@")
	require.Len(t, frames, 1)
	require.Empty(t, frames[0].Lines)
}

func TestScannerNestedStartClosesEarly(t *testing.T) {
	input := strings.Join([]string{
		"@@@ START 1 @@@",
		"a",
		"@@@ START 2 @@@",
		"b",
		"@@@ END 2 @@@",
	}, "\n")
	frames, sc := scanAll(t, input, "@@@")
	require.Len(t, frames, 2)
	require.Equal(t, 1, frames[0].Code)
	require.True(t, frames[0].ClosedEarly)
	require.Equal(t, []string{"a"}, frames[0].Lines)
	require.Equal(t, 2, frames[1].Code)
	require.False(t, frames[1].ClosedEarly)
	require.Equal(t, []string{"b"}, frames[1].Lines)
	require.Len(t, sc.Anomalies(), 1)
	require.Equal(t, 3, sc.Anomalies()[0].Line)
}

func TestScannerUnmatchedStartAtEnd(t *testing.T) {
	frames, sc := scanAll(t, "before\n@@@ START 5 @@@\npartial body", "@@@")
	require.NoError(t, sc.Err())
	require.Len(t, frames, 2)
	require.Equal(t, NewUnframed("before"), frames[0])
	require.True(t, frames[1].Incomplete)
	require.Equal(t, []string{"partial body"}, frames[1].Lines)
	require.Len(t, sc.Anomalies(), 1)
}

func TestScannerStrayEndIsSkipped(t *testing.T) {
	frames, sc := scanAll(t, "a\n@@@ END 3 @@@\nb\n", "@@@")
	require.Equal(t, []Frame{NewUnframed("a"), NewUnframed("b")}, frames)
	require.Len(t, sc.Anomalies(), 1)
}

func TestScannerMismatchedEndClosesFrame(t *testing.T) {
	frames, sc := scanAll(t, "@@@ START 3 @@@\nx\n@@@ END 4 @@@\ny\n", "@@@")
	require.Len(t, frames, 2)
	require.Equal(t, 3, frames[0].Code)
	require.Equal(t, []string{"x"}, frames[0].Lines)
	require.Equal(t, NewUnframed("y"), frames[1])
	require.Len(t, sc.Anomalies(), 1)
}

func TestScannerStreamErrorFlushesOpenFrame(t *testing.T) {
	boom := errors.New("read failed")
	src := io.MultiReader(strings.NewReader("@@@ START 9 @@@\nhalf\n"), iotest.ErrReader(boom))
	sc := NewScanner(lines.NewReader(src), NewMarkers("@@@"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	require.True(t, sc.Scan())
	require.True(t, sc.Frame().Incomplete)
	require.Equal(t, []string{"half"}, sc.Frame().Lines)
	require.False(t, sc.Scan())
	require.ErrorIs(t, sc.Err(), boom)
}

func TestFrameString(t *testing.T) {
	require.Equal(t, `Unframed("x")`, NewUnframed("x").String())
	require.Equal(t, "Framed(2110:1, 0 lines)", Frame{Kind: Framed, Code: 2110, Sub: 1, HasSub: true}.String())
}
