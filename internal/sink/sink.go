// Package sink holds the snapshots visible to consumers: the latest result per
// source, the last completed process result, and at most one attached consumer
// that is pushed every update.
package sink

import (
	"log/slog"
	"sync"

	"tlcrun/internal/check"
	"tlcrun/internal/metrics"
)

// Consumer receives snapshots. It must not call Publish or Attach.
type Consumer func(*check.Result)

// Sink is safe for concurrent use. Deliveries are serialized and arrive in publish
// order; no internal lock is held while the consumer runs except the one
// serializing deliveries.
type Sink struct {
	logger *slog.Logger

	// delivery orders state updates together with the callbacks they trigger.
	delivery sync.Mutex

	mu          sync.Mutex
	latest      map[check.Source]*check.Result
	lastProcess *check.Result
	current     check.Source
	consumer    *attachment
	nextID      uint64
}

type attachment struct {
	id     uint64
	source check.Source
	fn     Consumer
}

// New creates an empty sink.
func New(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{
		logger:  logger,
		latest:  make(map[check.Source]*check.Result),
		current: check.SourceProcess,
	}
}

// Publish records r as the latest snapshot of its source and makes that source
// current. The attached consumer gets r when it follows that source. Values of
// results the sink no longer holds are released.
func (s *Sink) Publish(r *check.Result) {
	s.delivery.Lock()
	defer s.delivery.Unlock()

	s.mu.Lock()
	dropped := []*check.Result{s.latest[r.Source]}
	s.latest[r.Source] = r
	s.current = r.Source
	if r.Source == check.SourceProcess && r.Status.IsFinal() {
		dropped = append(dropped, s.lastProcess)
		s.lastProcess = r
	}
	s.releaseDropped(dropped)
	c := s.consumer
	s.mu.Unlock()

	if c != nil && c.source == r.Source {
		s.deliver(c, r)
	}
}

// releaseDropped releases registries that no held result refers to. Snapshots of
// one run share a registry. Callers hold s.mu.
func (s *Sink) releaseDropped(dropped []*check.Result) {
	for _, d := range dropped {
		if d == nil || d.Values() == nil || s.holds(d.Values()) {
			continue
		}
		s.logger.Debug("Releasing values of discarded result", "run", d.RunID, "values", d.Values().Len())
		d.Values().Release()
	}
}

func (s *Sink) holds(v *check.Values) bool {
	if s.lastProcess != nil && s.lastProcess.Values() == v {
		return true
	}
	for _, r := range s.latest {
		if r.Values() == v {
			return true
		}
	}
	return false
}

func (s *Sink) deliver(c *attachment, r *check.Result) {
	metrics.Deliveries.Inc()
	c.fn(r)
}

// Latest returns the latest snapshot of source. For the process source it falls
// back to the last completed process result.
func (s *Sink) Latest(source check.Source) (*check.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestLocked(source)
}

func (s *Sink) latestLocked(source check.Source) (*check.Result, bool) {
	if r, ok := s.latest[source]; ok {
		return r, true
	}
	if source == check.SourceProcess && s.lastProcess != nil {
		return s.lastProcess, true
	}
	return nil, false
}

// LastProcessResult returns the final snapshot of the last completed process run.
func (s *Sink) LastProcessResult() (*check.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastProcess, s.lastProcess != nil
}

// Current returns the source that published last and its latest snapshot.
func (s *Sink) Current() (check.Source, *check.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.latestLocked(s.current)
	return s.current, r, ok
}

// Attach makes fn the consumer of source, replacing any previous consumer. fn is
// called right away with the latest snapshot of source, if there is one, and then
// with every published snapshot of that source. The returned function detaches fn;
// it does nothing once another consumer has been attached.
func (s *Sink) Attach(source check.Source, fn Consumer) (detach func()) {
	s.delivery.Lock()
	defer s.delivery.Unlock()

	s.mu.Lock()
	s.nextID++
	c := &attachment{id: s.nextID, source: source, fn: fn}
	if s.consumer != nil {
		s.logger.Debug("Replacing result consumer", "previous", s.consumer.id, "source", source)
	}
	s.consumer = c
	r, ok := s.latestLocked(source)
	s.mu.Unlock()

	if ok {
		s.deliver(c, r)
	}
	return func() { s.detach(c.id) }
}

// Detach removes the consumer. A delivery already in progress still completes.
func (s *Sink) Detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumer = nil
}

func (s *Sink) detach(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumer != nil && s.consumer.id == id {
		s.consumer = nil
	}
}

// Attached reports whether a consumer is attached.
func (s *Sink) Attached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumer != nil
}

// ResolveValue looks up a value referenced by any result the sink holds.
func (s *Sink) ResolveValue(id check.ValueID) (string, bool) {
	s.mu.Lock()
	held := make([]*check.Result, 0, len(s.latest)+1)
	if r, ok := s.latestLocked(s.current); ok {
		held = append(held, r)
	}
	for _, r := range s.latest {
		held = append(held, r)
	}
	if s.lastProcess != nil {
		held = append(held, s.lastProcess)
	}
	s.mu.Unlock()

	for _, r := range held {
		if text, ok := r.FormatValue(id); ok {
			return text, true
		}
	}
	return "", false
}
