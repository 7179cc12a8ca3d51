package tlc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/require"

	"tlcrun/internal/check"
	"tlcrun/internal/framer"
)

var testFiles = check.SpecFiles{TLAPath: "/work/Queue.tla", CfgPath: "/work/Queue.cfg"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock() func() time.Time {
	t := time.Date(2024, 3, 1, 9, 59, 0, 0, time.Local)
	return func() time.Time { return t }
}

func newTestBuilder(opts ...BuilderOption) *Builder {
	opts = append([]BuilderOption{WithLogger(quietLogger()), WithClock(fixedClock())}, opts...)
	return NewBuilder("run-1", check.SourceProcess, testFiles, opts...)
}

// consumeString folds input and returns every published snapshot.
func consumeString(t *testing.T, b *Builder, input string) []*check.Result {
	t.Helper()
	var snaps []*check.Result
	err := Consume(context.Background(), strings.NewReader(input), b, func(r *check.Result) {
		snaps = append(snaps, r)
	})
	require.NoError(t, err)
	return snaps
}

func consumeFile(t *testing.T, b *Builder, name string) []*check.Result {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	require.NoError(t, err)
	return consumeString(t, b, string(data))
}

func TestCustomTableProgress(t *testing.T) {
	b := newTestBuilder(WithTable(Table{1: KindProgress}), WithMarkers(framer.NewMarkers("@@@")))
	snaps := consumeString(t, b, "@@@ START 1 @@@\nline A\n@@@ END 1 @@@\n")

	require.Len(t, snaps, 1)
	r := snaps[0]
	require.Equal(t, check.Running, r.Status)
	require.Equal(t, "line A", r.Progress)
	require.NotContains(t, r.Output, "line A")
}

func TestSuccessRun(t *testing.T) {
	b := newTestBuilder()
	consumeFile(t, b, "success.out")
	r := b.Finish(Outcome{ExitKnown: true, ExitCode: 0})

	require.Equal(t, check.FinishedSuccess, r.Status)
	require.Equal(t, "TLC2 Version 2.18 of Day Month 20?? (rev: cab6f13)", r.Version)
	require.Equal(t, 4, r.Workers)
	require.Equal(t, "1.6E-14", r.FingerprintCollision)
	require.Equal(t, []string{
		"Starting SANY...",
		"Parsing file /work/Counter.tla",
		"Semantic processing of module Counter",
	}, r.Output)

	require.Equal(t, check.Stats{
		Generated:     1310,
		Distinct:      655,
		Queue:         17,
		Duration:      5 * time.Second,
		Depth:         12,
		InitialStates: 1,
	}, r.Stats)
	require.Len(t, r.History, 1)
	require.Equal(t, int64(602), r.History[0].Distinct)

	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local), r.StartTime)
	require.Equal(t, time.Date(2024, 3, 1, 10, 0, 5, 0, time.Local), r.EndTime)

	require.Equal(t, []check.CoverageItem{
		{Module: "Counter", Action: "Init", Location: "line 7, col 1 to line 7, col 4", Distinct: 1, Total: 1},
		{Module: "Counter", Action: "Inc", Location: "line 9, col 1 to line 9, col 3", Distinct: 700, Total: 1300},
	}, r.Coverage)
	require.Empty(t, r.Errors)
}

func TestInvariantViolation(t *testing.T) {
	b := newTestBuilder()
	consumeFile(t, b, "invariant.out")
	r := b.Finish(Outcome{ExitKnown: true, ExitCode: 12})

	require.Equal(t, check.FinishedError, r.Status)
	require.Empty(t, r.Failure)
	require.Len(t, r.Errors, 1)

	e := r.Errors[0]
	require.Equal(t, check.ErrorInvariantViolated, e.Kind)
	require.Equal(t, "Invariant QueueBounded is violated.", e.Message)
	require.Len(t, e.Trace, 2)

	init := e.Trace[0]
	require.Equal(t, check.StepInitial, init.Kind)
	require.Equal(t, []check.Binding{{Name: "n", Value: "0"}, {Name: "q", Value: "<<>>"}}, init.Vars)

	push := e.Trace[1]
	require.Equal(t, 2, push.Num)
	require.Equal(t, "Push", push.Action)
	require.Equal(t, "line 12, col 9 to line 14, col 22 of module Queue", push.Location)
	require.Len(t, push.Vars, 2)
	require.False(t, push.Vars[0].IsRef())

	q := push.Vars[1]
	require.True(t, q.IsRef())
	require.True(t, strings.HasSuffix(q.Value, "..."))
	text, ok := r.FormatValue(q.ValueID)
	require.True(t, ok)
	require.Equal(t, "<< [id |-> 1, payload |-> \"first message in the queue\", tag |-> \"alpha\"],\n"+
		"  [id |-> 2, payload |-> \"second\", tag |-> \"beta\"] >>", text)

	again, ok := r.FormatValue(q.ValueID)
	require.True(t, ok)
	require.Equal(t, text, again)

	require.Len(t, r.Coverage, 1)
	require.Equal(t, int64(2), r.Stats.Distinct)
}

func TestSnapshotsAreMonotonic(t *testing.T) {
	for _, name := range []string{"success.out", "invariant.out"} {
		t.Run(name, func(t *testing.T) {
			snaps := consumeFile(t, newTestBuilder(), name)
			require.NotEmpty(t, snaps)
			for i := 1; i < len(snaps); i++ {
				prev, cur := snaps[i-1], snaps[i]
				require.GreaterOrEqual(t, cur.Stats.Generated, prev.Stats.Generated)
				require.GreaterOrEqual(t, cur.Stats.Distinct, prev.Stats.Distinct)
				require.GreaterOrEqual(t, cur.Stats.Queue, prev.Stats.Queue)
				require.GreaterOrEqual(t, cur.Stats.Duration, prev.Stats.Duration)
				require.GreaterOrEqual(t, len(cur.Output), len(prev.Output))
				require.GreaterOrEqual(t, len(cur.Errors), len(prev.Errors))
				if prev.Status.IsFinal() {
					require.Equal(t, prev.Status, cur.Status)
				}
			}
		})
	}
}

func TestEarlierSnapshotsAreNotModified(t *testing.T) {
	snaps := consumeFile(t, newTestBuilder(), "invariant.out")

	var afterError *check.Result
	for _, s := range snaps {
		if len(s.Errors) == 1 && afterError == nil {
			afterError = s
		}
	}
	require.NotNil(t, afterError)
	require.Empty(t, afterError.Errors[0].Trace)

	last := snaps[len(snaps)-1]
	require.Len(t, last.Errors[0].Trace, 2)
}

func TestEmptyFrameIsNotOutput(t *testing.T) {
	b := newTestBuilder()
	snaps := consumeString(t, b, "@!@!@STARTMSG 2220:0 @!@!@\n@!@!@ENDMSG 2220 @!@!@\n")
	require.Len(t, snaps, 1)
	require.Empty(t, snaps[0].Output)
	require.Equal(t, check.Running, snaps[0].Status)
}

func TestUnmatchedStartIsToolingFailure(t *testing.T) {
	b := newTestBuilder()
	consumeString(t, b, "hello\n@!@!@STARTMSG 2200:0 @!@!@\nProgress(1) at\n")
	r := b.Finish(Outcome{ExitKnown: true, ExitCode: 0})

	require.Equal(t, check.ToolingFailure, r.Status)
	require.Equal(t, 1, r.TruncatedFrames)
	require.Equal(t, []string{"hello", "Progress(1) at"}, r.Output)
	require.NotEmpty(t, r.Failure)
}

func TestNestedStartNeverLeavesRunning(t *testing.T) {
	b := newTestBuilder()
	consumeString(t, b, strings.Join([]string{
		"@!@!@STARTMSG 2200:0 @!@!@",
		"Progress(1) at 2024-03-01 10:00:01: 5 states generated, 3 distinct states found, 2 states left on queue.",
		"@!@!@STARTMSG 2199:0 @!@!@",
		"5 states generated, 4 distinct states found, 0 states left on queue.",
		"@!@!@ENDMSG 2199 @!@!@",
	}, "\n"))
	require.Equal(t, check.Running, b.Result().Status)
	require.Equal(t, int64(4), b.Result().Stats.Distinct)

	r := b.Finish(Outcome{})
	require.NotEqual(t, check.Running, r.Status)
	require.True(t, r.Status.IsFinal())
}

func TestCancelMidStream(t *testing.T) {
	b := newTestBuilder()
	consumeString(t, b, strings.Join([]string{
		"Parsing file Queue.tla",
		"@!@!@STARTMSG 2200:0 @!@!@",
		"Progress(1) at 2024-03-01 10:00:01: 5 states generated, 3 distinct states found, 2 states left on queue.",
		"@!@!@ENDMSG 2200 @!@!@",
	}, "\n"))
	r := b.Finish(Outcome{Stopped: true, ExitKnown: true, ExitCode: -1})

	require.Equal(t, check.StoppedByUser, r.Status)
	require.Equal(t, []string{"Parsing file Queue.tla"}, r.Output)
	require.Equal(t, int64(3), r.Stats.Distinct)
	require.Empty(t, r.Failure)
}

func TestFinishKeepsTerminalStatus(t *testing.T) {
	b := newTestBuilder()
	consumeFile(t, b, "success.out")
	r := b.Finish(Outcome{Stopped: true})
	require.Equal(t, check.FinishedSuccess, r.Status)

	// Frames after Finish are ignored.
	again := b.Fold(framer.NewUnframed("late"))
	require.NotContains(t, again.Output, "late")
	require.Equal(t, r.Status, b.Finish(Outcome{ExitKnown: true, ExitCode: 3}).Status)
}

func TestFinishOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    check.Status
		failure bool
		errKind check.ErrorKind
	}{
		{name: "success exit", outcome: Outcome{ExitKnown: true}, want: check.FinishedSuccess},
		{name: "tooling exit", outcome: Outcome{ExitKnown: true, ExitCode: 1, Stderr: "Error: Could not find or load main class tlc2.TLC"}, want: check.ToolingFailure, failure: true},
		{name: "killed", outcome: Outcome{ExitKnown: true, ExitCode: -1}, want: check.ToolingFailure, failure: true},
		{name: "domain exit", outcome: Outcome{ExitKnown: true, ExitCode: 150}, want: check.FinishedError, errKind: check.ErrorExitStatus},
		{name: "stream error", outcome: Outcome{StreamErr: errors.New("broken pipe")}, want: check.ToolingFailure, failure: true},
		{name: "unknown exit", outcome: Outcome{}, want: check.ToolingFailure, failure: true},
		{name: "stopped", outcome: Outcome{Stopped: true, ExitKnown: true, ExitCode: 1}, want: check.StoppedByUser},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder()
			b.Fold(framer.NewUnframed("Parsing file Queue.tla"))
			r := b.Finish(tt.outcome)
			require.Equal(t, tt.want, r.Status)
			require.Equal(t, tt.failure, r.Failure != "", r.Failure)
			if tt.errKind != "" {
				e, ok := r.FirstError()
				require.True(t, ok)
				require.Equal(t, tt.errKind, e.Kind)
			}
			require.False(t, r.EndTime.IsZero())
		})
	}
}

func TestToolingFailureIncludesStderr(t *testing.T) {
	b := newTestBuilder()
	r := b.Finish(Outcome{ExitKnown: true, ExitCode: 1, Stderr: "Error: Could not find or load main class tlc2.TLC\n"})
	require.Equal(t, check.ToolingFailure, r.Status)
	require.Contains(t, r.Failure, "exit code 1")
	require.Contains(t, r.Failure, "Could not find or load main class")
}

func TestConsumeStreamError(t *testing.T) {
	b := newTestBuilder()
	r := io.MultiReader(
		strings.NewReader("@!@!@STARTMSG 2200:0 @!@!@\npartial progress\n"),
		iotest.ErrReader(errors.New("read failed")),
	)
	err := Consume(context.Background(), r, b, nil)
	require.EqualError(t, err, "read failed")

	res := b.Finish(Outcome{StreamErr: err})
	require.Equal(t, check.ToolingFailure, res.Status)
	require.Equal(t, 1, res.TruncatedFrames)
	require.Equal(t, []string{"partial progress"}, res.Output)
}

func TestConsumeCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := newTestBuilder()
	err := Consume(ctx, strings.NewReader("a\nb\nc\n"), b, nil)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []string{"a"}, b.Result().Output)
}
