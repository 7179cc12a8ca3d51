// Package runner owns the model checker process: it starts at most one run at a
// time, feeds its output through the result pipeline and classifies how it ended.
package runner

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"tlcrun/internal/check"
	"tlcrun/internal/command"
	"tlcrun/internal/framer"
	"tlcrun/internal/metrics"
)

// DefaultGracePeriod is how long a stopped process may take to exit after SIGINT
// before it is killed.
const DefaultGracePeriod = 10 * time.Second

var timeNow = time.Now

// CommandBuilder turns the files of a run into a command line.
type CommandBuilder interface {
	Build(files check.SpecFiles, ignoreDeadlock bool) (command.Command, error)
}

// Publisher receives every snapshot of a run, in order.
type Publisher interface {
	Publish(r *check.Result)
}

// Options configure one run.
type Options struct {
	// IgnoreDeadlock passes -deadlock to TLC.
	IgnoreDeadlock bool
	// PTY runs the process on a pseudo terminal. Stderr is merged into stdout.
	PTY bool
	// OutFile receives a verbatim copy of stdout when set.
	OutFile string
	// TranscriptFile receives an outputlog transcript of all streams when set.
	TranscriptFile string
	// Echo receives stdout with message markers removed when set.
	Echo io.Writer
}

// Manager holds the single run slot.
type Manager struct {
	builder   CommandBuilder
	publisher Publisher
	logger    *slog.Logger
	grace     time.Duration
	markers   *framer.Markers

	mu     sync.Mutex
	active *Run
	last   *request
}

type request struct {
	files check.SpecFiles
	opts  Options
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher sets the consumer of run snapshots.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithGracePeriod sets the time between SIGINT and kill on Stop.
func WithGracePeriod(d time.Duration) Option {
	return func(m *Manager) { m.grace = d }
}

// WithMarkers sets the message markers of the checker output.
func WithMarkers(mk *framer.Markers) Option {
	return func(m *Manager) { m.markers = mk }
}

// NewManager creates a manager that builds commands with builder.
func NewManager(builder CommandBuilder, opts ...Option) *Manager {
	m := &Manager{
		builder: builder,
		logger:  slog.Default(),
		grace:   DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.markers == nil {
		m.markers = framer.NewMarkers(framer.DefaultSentinel)
	}
	return m
}

// Start launches a run for files. It fails with ErrBusy while another run is
// active, and with a *ToolingError when the command cannot be built or started.
// Cancelling ctx stops the run like Stop.
func (m *Manager) Start(ctx context.Context, files check.SpecFiles, opts Options) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		metrics.Rejected.Inc()
		m.logger.Warn("Rejected model check, another run is active",
			"files", files.TLAPath, "active", m.active.id)
		return nil, ErrBusy
	}
	m.last = &request{files: files, opts: opts}

	cmd, err := m.builder.Build(files, opts.IgnoreDeadlock)
	if err != nil {
		return nil, &ToolingError{Op: "build command", Err: err}
	}
	r, err := m.spawn(ctx, files, cmd, opts)
	if err != nil {
		return nil, err
	}
	m.active = r
	metrics.Active.Set(1)
	return r, nil
}

// Again repeats the last started check with the same options.
func (m *Manager) Again(ctx context.Context) (*Run, error) {
	files, opts, ok := m.Last()
	if !ok {
		return nil, ErrNoPrevious
	}
	return m.Start(ctx, files, opts)
}

// Last returns the files and options of the last started check.
func (m *Manager) Last() (check.SpecFiles, Options, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return check.SpecFiles{}, Options{}, false
	}
	return m.last.files, m.last.opts, true
}

// Active returns the running run, or nil.
func (m *Manager) Active() *Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Stop stops the active run. It reports whether there was one.
func (m *Manager) Stop() bool {
	r := m.Active()
	if r == nil {
		return false
	}
	r.Stop()
	return true
}

// release frees the slot. It runs before the run's Done channel closes, so a
// caller that waited for a run can start the next one right away.
func (m *Manager) release(r *Run) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == r {
		m.active = nil
		metrics.Active.Set(0)
	}
}

func (m *Manager) publish(r *check.Result) {
	metrics.DistinctStates.Set(float64(r.Stats.Distinct))
	if m.publisher != nil {
		m.publisher.Publish(r)
	}
}
