package tlc

import (
	"context"
	"io"
	"log/slog"
	"time"

	"tlcrun/internal/check"
	"tlcrun/internal/framer"
	"tlcrun/internal/lines"
	"tlcrun/internal/metrics"
)

// Builder folds the frames of one run into successive snapshots. It is used by a
// single goroutine; the snapshots it returns are safe to share.
type Builder struct {
	table   Table
	markers *framer.Markers
	clock   func() time.Time
	logger  *slog.Logger

	cur      *check.Result
	finished bool
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithTable replaces DefaultTable.
func WithTable(t Table) BuilderOption {
	return func(b *Builder) { b.table = t }
}

// WithMarkers sets the message markers used by Consume.
func WithMarkers(m *framer.Markers) BuilderOption {
	return func(b *Builder) { b.markers = m }
}

// WithClock sets the time source for event timestamps.
func WithClock(clock func() time.Time) BuilderOption {
	return func(b *Builder) { b.clock = clock }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = l }
}

// NewBuilder starts a result for the given run.
func NewBuilder(runID string, source check.Source, files check.SpecFiles, opts ...BuilderOption) *Builder {
	b := &Builder{
		table:  DefaultTable,
		clock:  time.Now,
		logger: slog.Default(),
		cur:    check.New(runID, source, files),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.markers == nil {
		b.markers = framer.NewMarkers(framer.DefaultSentinel)
	}
	return b
}

// Fold applies one frame and returns the new snapshot. Frames after Finish are
// ignored.
func (b *Builder) Fold(f framer.Frame) *check.Result {
	if b.finished {
		return b.cur.View()
	}
	ev := NewEvent(b.table, f, b.clock())
	metrics.Frames.WithLabelValues(ev.Kind.String()).Inc()
	if ev.Kind == KindUnrecognized {
		b.logger.Debug("Unrecognized checker message", "code", f.Code, "sub", f.Sub)
	}
	prev := b.cur.Status
	b.cur = Apply(b.cur, ev)
	if b.cur.Status != prev {
		b.logger.Info("Check status changed", "run", b.cur.RunID, "from", prev, "to", b.cur.Status)
	}
	return b.cur.View()
}

// Finish applies the end of the stream and returns the final snapshot. Later
// calls return the same snapshot.
func (b *Builder) Finish(o Outcome) *check.Result {
	if !b.finished {
		b.cur = Finalize(b.cur, o, b.clock())
		b.finished = true
		b.logger.Info("Check finished", "run", b.cur.RunID, "status", b.cur.Status,
			"distinct", b.cur.Stats.Distinct, "errors", len(b.cur.Errors))
	}
	return b.cur.View()
}

// Result returns the latest snapshot.
func (b *Builder) Result() *check.Result {
	return b.cur.View()
}

// Consume reads checker output from r until it ends, folding each frame into b and
// passing every snapshot to publish. It returns the stream error, if any. The
// caller finishes the builder. When ctx is cancelled Consume returns early without
// draining r.
func Consume(ctx context.Context, r io.Reader, b *Builder, publish func(*check.Result)) error {
	sc := framer.NewScanner(lines.NewReader(r), b.markers, framer.WithLogger(b.logger))
	for sc.Scan() {
		snap := b.Fold(sc.Frame())
		if publish != nil {
			publish(snap)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	metrics.Anomalies.Add(float64(len(sc.Anomalies())))
	return sc.Err()
}
