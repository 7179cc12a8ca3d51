package sink

import (
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"tlcrun/internal/check"
)

func newTestSink() *Sink {
	return New(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

var files = check.SpecFiles{TLAPath: "/w/Queue.tla", CfgPath: "/w/Queue.cfg"}

func snapshot(run string, source check.Source, status check.Status) *check.Result {
	r := check.New(run, source, files)
	r.Status = status
	return r
}

// next derives a later snapshot of the same run.
func next(r *check.Result, status check.Status) *check.Result {
	c := r.View()
	c.Status = status
	return c
}

func TestLatestPerSource(t *testing.T) {
	s := newTestSink()
	_, ok := s.Latest(check.SourceProcess)
	require.False(t, ok)

	p := snapshot("p1", check.SourceProcess, check.Running)
	o := snapshot("o1", check.SourceOutFile, check.FinishedSuccess)
	s.Publish(p)
	s.Publish(o)

	got, ok := s.Latest(check.SourceProcess)
	require.True(t, ok)
	require.Same(t, p, got)
	got, ok = s.Latest(check.SourceOutFile)
	require.True(t, ok)
	require.Same(t, o, got)

	src, cur, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, check.SourceOutFile, src)
	require.Same(t, o, cur)

	_, ok = s.LastProcessResult()
	require.False(t, ok)
}

func TestLastProcessResult(t *testing.T) {
	s := newTestSink()
	first := snapshot("p1", check.SourceProcess, check.Running)
	s.Publish(first)
	done := next(first, check.FinishedSuccess)
	s.Publish(done)

	second := snapshot("p2", check.SourceProcess, check.NotStarted)
	s.Publish(second)

	last, ok := s.LastProcessResult()
	require.True(t, ok)
	require.Same(t, done, last)
	latest, _ := s.Latest(check.SourceProcess)
	require.Same(t, second, latest)
}

func TestAttachReceivesLatestThenUpdates(t *testing.T) {
	s := newTestSink()
	r1 := snapshot("p1", check.SourceProcess, check.Running)
	s.Publish(r1)

	var got []*check.Result
	detach := s.Attach(check.SourceProcess, func(r *check.Result) { got = append(got, r) })
	require.Equal(t, []*check.Result{r1}, got)

	r2 := next(r1, check.FinishedError)
	s.Publish(r2)
	s.Publish(snapshot("o1", check.SourceOutFile, check.FinishedSuccess))
	require.Equal(t, []*check.Result{r1, r2}, got)

	detach()
	require.False(t, s.Attached())
	s.Publish(snapshot("p2", check.SourceProcess, check.Running))
	require.Len(t, got, 2)
}

func TestAttachWithoutResult(t *testing.T) {
	s := newTestSink()
	calls := 0
	s.Attach(check.SourceOutFile, func(*check.Result) { calls++ })
	require.Zero(t, calls)
	require.True(t, s.Attached())
}

func TestAttachReplacesConsumer(t *testing.T) {
	s := newTestSink()
	var a, b int
	detachA := s.Attach(check.SourceProcess, func(*check.Result) { a++ })
	s.Attach(check.SourceProcess, func(*check.Result) { b++ })

	// Detaching a replaced consumer leaves the new one attached.
	detachA()
	require.True(t, s.Attached())

	s.Publish(snapshot("p1", check.SourceProcess, check.Running))
	require.Zero(t, a)
	require.Equal(t, 1, b)

	s.Detach()
	require.False(t, s.Attached())
}

func TestConsumerMayReadSink(t *testing.T) {
	s := newTestSink()
	var seen *check.Result
	s.Attach(check.SourceProcess, func(r *check.Result) {
		seen, _ = s.Latest(r.Source)
	})
	r := snapshot("p1", check.SourceProcess, check.Running)
	s.Publish(r)
	require.Same(t, r, seen)
}

func TestResolveValue(t *testing.T) {
	s := newTestSink()
	r := snapshot("p1", check.SourceProcess, check.Running)
	id := r.Values().Store("<<1, 2, 3>>")
	s.Publish(r)

	text, ok := s.ResolveValue(id)
	require.True(t, ok)
	require.Equal(t, "<<1, 2, 3>>", text)

	_, ok = s.ResolveValue(id + 1000)
	require.False(t, ok)
}

func TestDiscardedResultsAreReleased(t *testing.T) {
	s := newTestSink()
	first := snapshot("p1", check.SourceProcess, check.Running)
	firstID := first.Values().Store("{1}")
	s.Publish(first)
	firstDone := next(first, check.FinishedSuccess)
	s.Publish(firstDone)

	// The completed run stays resolvable while the next one runs.
	second := snapshot("p2", check.SourceProcess, check.Running)
	s.Publish(second)
	_, ok := s.ResolveValue(firstID)
	require.True(t, ok)

	// Once the second run completes, the first is gone.
	s.Publish(next(second, check.FinishedError))
	_, ok = s.ResolveValue(firstID)
	require.False(t, ok)
	_, ok = firstDone.FormatValue(firstID)
	require.False(t, ok)
}

func TestSnapshotsOfOneRunShareRegistry(t *testing.T) {
	s := newTestSink()
	r := snapshot("p1", check.SourceProcess, check.Running)
	id := r.Values().Store("{1}")
	s.Publish(r)
	s.Publish(next(r, check.Running))

	_, ok := s.ResolveValue(id)
	require.True(t, ok)
}

func TestConcurrentPublishDeliversInOrder(t *testing.T) {
	s := newTestSink()
	var mu sync.Mutex
	var delivered []*check.Result
	s.Attach(check.SourceProcess, func(r *check.Result) {
		mu.Lock()
		defer mu.Unlock()
		delivered = append(delivered, r)
	})

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := snapshot("p", check.SourceProcess, check.Running)
			for range 50 {
				s.Publish(r)
				r = next(r, check.Running)
			}
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, delivered, 400)
	latest, _ := s.Latest(check.SourceProcess)
	require.Same(t, delivered[len(delivered)-1], latest)
}
