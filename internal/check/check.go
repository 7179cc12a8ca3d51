// Package check holds the result model of a model checking run. A Result is an
// immutable snapshot: every update produces a new value and earlier snapshots stay
// valid for readers on other goroutines.
package check

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// SpecFiles identifies a run: the TLA+ module and the model config it is checked with.
type SpecFiles struct {
	TLAPath string `json:"tla_path"`
	CfgPath string `json:"cfg_path"`
}

// SpecFilesFor derives the file pair from either of its members.
// A .tla file gets the sibling .cfg, a .cfg file gets the sibling .tla.
func SpecFilesFor(path string) (SpecFiles, error) {
	switch filepath.Ext(path) {
	case ".tla":
		return SpecFiles{TLAPath: path, CfgPath: replaceExt(path, ".cfg")}, nil
	case ".cfg":
		return SpecFiles{TLAPath: replaceExt(path, ".tla"), CfgPath: path}, nil
	}
	return SpecFiles{}, fmt.Errorf("%s is not a .tla or .cfg file, it cannot be checked as a model", path)
}

// SpecFilesWithConfig pairs a .tla file with a model config of any name. An empty
// cfg falls back to SpecFilesFor.
func SpecFilesWithConfig(tla, cfg string) (SpecFiles, error) {
	if cfg == "" {
		return SpecFilesFor(tla)
	}
	if filepath.Ext(tla) != ".tla" {
		return SpecFiles{}, fmt.Errorf("%s is not a .tla file", tla)
	}
	if filepath.Ext(cfg) != ".cfg" {
		return SpecFiles{}, fmt.Errorf("%s is not a .cfg file", cfg)
	}
	return SpecFiles{TLAPath: tla, CfgPath: cfg}, nil
}

// Equal reports whether both runs use the same configuration.
func (f SpecFiles) Equal(o SpecFiles) bool {
	return f.TLAPath == o.TLAPath && f.CfgPath == o.CfgPath
}

// SpecName is the module name without directory and extension.
func (f SpecFiles) SpecName() string {
	return strings.TrimSuffix(filepath.Base(f.TLAPath), ".tla")
}

// ModelName is the config name without directory and extension.
func (f SpecFiles) ModelName() string {
	return strings.TrimSuffix(filepath.Base(f.CfgPath), ".cfg")
}

// OutPath is where the raw checker output is mirrored.
func (f SpecFiles) OutPath() string {
	return replaceExt(f.TLAPath, ".out")
}

// TranscriptPath is where the transcript of all streams is written.
func (f SpecFiles) TranscriptPath() string {
	return replaceExt(f.TLAPath, ".transcript")
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// Source tells whether a result comes from a live process or from a saved output file.
type Source string

const (
	SourceProcess Source = "process"
	SourceOutFile Source = "outfile"
)

// ParseSource parses the textual form used by the CLI and HTTP API.
func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceProcess, SourceOutFile:
		return Source(s), nil
	case "":
		return SourceProcess, nil
	}
	return "", fmt.Errorf("unknown result source %q", s)
}

// Status is the run status. Once a final status is reached it never changes.
type Status int

const (
	NotStarted Status = iota
	Running
	StoppedByUser
	FinishedSuccess
	FinishedError
	ToolingFailure
)

var statusNames = [...]string{
	NotStarted:      "not-started",
	Running:         "running",
	StoppedByUser:   "stopped",
	FinishedSuccess: "success",
	FinishedError:   "error",
	ToolingFailure:  "tooling-failure",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// IsFinal reports whether no further status transition is allowed.
func (s Status) IsFinal() bool {
	return s >= StoppedByUser
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(b))
}

// Stats are the computed statistics. All counters are non-decreasing while a run
// progresses; Queue is the largest queue size reported so far.
type Stats struct {
	Generated     int64         `json:"generated"`
	Distinct      int64         `json:"distinct"`
	Queue         int64         `json:"queue"`
	Duration      time.Duration `json:"duration"`
	Depth         int64         `json:"depth"`
	InitialStates int64         `json:"initial_states"`
}

// Merge returns the element-wise maximum of s and o.
func (s Stats) Merge(o Stats) Stats {
	return Stats{
		Generated:     max(s.Generated, o.Generated),
		Distinct:      max(s.Distinct, o.Distinct),
		Queue:         max(s.Queue, o.Queue),
		Duration:      max(s.Duration, o.Duration),
		Depth:         max(s.Depth, o.Depth),
		InitialStates: max(s.InitialStates, o.InitialStates),
	}
}

// ProgressPoint is one progress report as the checker printed it.
type ProgressPoint struct {
	Time      time.Time `json:"time"`
	Generated int64     `json:"generated"`
	Distinct  int64     `json:"distinct"`
	Queue     int64     `json:"queue"`
}

// ErrorKind classifies a domain error reported by the checker.
type ErrorKind string

const (
	ErrorGeneral           ErrorKind = "general"
	ErrorInvariantViolated ErrorKind = "invariant-violated"
	ErrorPropertyViolated  ErrorKind = "property-violated"
	ErrorAssertionFailed   ErrorKind = "assertion-failed"
	ErrorDeadlock          ErrorKind = "deadlock"
	ErrorEvaluation        ErrorKind = "evaluation"
	ErrorExitStatus        ErrorKind = "exit-status"
)

// ErrorReport is one error found by the checker together with its counterexample.
type ErrorReport struct {
	Kind    ErrorKind   `json:"kind"`
	Message string      `json:"message"`
	Details []string    `json:"details,omitempty"`
	Trace   []TraceStep `json:"trace,omitempty"`
}

// StepKind distinguishes the special steps of a behavior.
type StepKind string

const (
	StepInitial    StepKind = "initial"
	StepAction     StepKind = "action"
	StepStuttering StepKind = "stuttering"
	StepBackTo     StepKind = "back-to-state"
)

// TraceStep is one state of a counterexample.
type TraceStep struct {
	Num      int       `json:"num"`
	Kind     StepKind  `json:"kind"`
	Action   string    `json:"action"`
	Location string    `json:"location,omitempty"`
	Vars     []Binding `json:"vars,omitempty"`
}

// Binding is a variable value in a trace step. Large or structured values are not
// inlined: ValueID references the Value Registry of the owning Result.
type Binding struct {
	Name    string  `json:"name"`
	Value   string  `json:"value,omitempty"`
	ValueID ValueID `json:"value_id,omitempty"`
}

// IsRef reports whether the value lives in the Value Registry.
func (b Binding) IsRef() bool {
	return b.ValueID != 0
}

// CoverageItem is the hit count of one action definition.
type CoverageItem struct {
	Module   string `json:"module"`
	Action   string `json:"action"`
	Location string `json:"location"`
	Distinct int64  `json:"distinct"`
	Total    int64  `json:"total"`
}

// Warning is a non-fatal message of the checker.
type Warning struct {
	Code  int      `json:"code"`
	Lines []string `json:"lines"`
}

// MaxOutputLines bounds the output log of one Result. Lines beyond it are counted
// in OutputDropped instead of being stored.
const MaxOutputLines = 20000

// Result is a snapshot of a check. The zero value is not useful; use New.
type Result struct {
	RunID     string    `json:"run_id"`
	Source    Source    `json:"source"`
	Files     SpecFiles `json:"files"`
	Status    Status    `json:"status"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`

	Output        []string `json:"output"`
	OutputDropped int      `json:"output_dropped,omitempty"`

	Progress string          `json:"progress,omitempty"`
	Stats    Stats           `json:"stats"`
	History  []ProgressPoint `json:"history,omitempty"`

	Version string `json:"version,omitempty"`
	Mode    string `json:"mode,omitempty"`
	Workers int    `json:"workers,omitempty"`

	Warnings []Warning      `json:"warnings,omitempty"`
	Errors   []ErrorReport  `json:"errors,omitempty"`
	Coverage []CoverageItem `json:"coverage,omitempty"`

	FingerprintCollision string `json:"fingerprint_collision,omitempty"`
	Failure              string `json:"failure,omitempty"`
	TruncatedFrames      int    `json:"truncated_frames,omitempty"`

	values *Values
}

// New creates an empty result with its own Value Registry.
func New(runID string, source Source, files SpecFiles) *Result {
	return &Result{
		RunID:  runID,
		Source: source,
		Files:  files,
		Status: NotStarted,
		values: NewValues(),
	}
}

// Clone returns a shallow copy for the next fold step. The copy may append into the
// spare capacity of r's slices: entries visible through r are never rewritten, but
// only one successor may be derived from r.
func (r *Result) Clone() *Result {
	c := *r
	return &c
}

// View returns a copy whose slices are capped at their current length, so appending
// to it never writes into memory shared with the producer. Snapshots handed to
// consumers are views.
func (r *Result) View() *Result {
	c := *r
	c.Output = c.Output[:len(c.Output):len(c.Output)]
	c.History = c.History[:len(c.History):len(c.History)]
	c.Warnings = c.Warnings[:len(c.Warnings):len(c.Warnings)]
	c.Errors = c.Errors[:len(c.Errors):len(c.Errors)]
	c.Coverage = c.Coverage[:len(c.Coverage):len(c.Coverage)]
	return &c
}

// Values returns the registry holding the values referenced by this result.
func (r *Result) Values() *Values {
	return r.values
}

// FormatValue resolves a value reference of one of the trace bindings.
func (r *Result) FormatValue(id ValueID) (string, bool) {
	if r == nil || r.values == nil {
		return "", false
	}
	return r.values.Resolve(id)
}

// FirstError returns the first reported error, if any.
func (r *Result) FirstError() (ErrorReport, bool) {
	if len(r.Errors) == 0 {
		return ErrorReport{}, false
	}
	return r.Errors[0], true
}

// AppendOutput adds lines to the output log, respecting MaxOutputLines.
func (r *Result) AppendOutput(lines ...string) {
	room := MaxOutputLines - len(r.Output)
	if room < len(lines) {
		if room < 0 {
			room = 0
		}
		r.OutputDropped += len(lines) - room
		lines = lines[:room]
	}
	r.Output = append(r.Output, lines...)
}
