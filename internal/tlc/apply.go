package tlc

import (
	"fmt"
	"strings"
	"time"

	"tlcrun/internal/check"
	"tlcrun/internal/framer"
)

// Event is a classified frame.
type Event struct {
	Kind       Kind
	Code       int
	Sub        int
	Lines      []string
	Time       time.Time
	Incomplete bool
}

// NewEvent classifies f with table.
func NewEvent(table Table, f framer.Frame, now time.Time) Event {
	return Event{
		Kind:       table.Classify(f),
		Code:       f.Code,
		Sub:        f.Sub,
		Lines:      f.Lines,
		Time:       now,
		Incomplete: f.Incomplete,
	}
}

// Text returns the event body as one string.
func (e Event) Text() string {
	return strings.Join(e.Lines, "\n")
}

// Apply folds ev into prev and returns the next snapshot. Nothing visible through
// prev is modified. The result may reuse spare capacity of prev's slices, so at most
// one event may be applied to any given snapshot.
func Apply(prev *check.Result, ev Event) *check.Result {
	r := prev.Clone()
	if r.Status == check.NotStarted {
		r.Status = check.Running
		if r.StartTime.IsZero() {
			r.StartTime = ev.Time
		}
	}

	if ev.Incomplete {
		// Best effort: the body of a truncated message is kept as plain output.
		r.TruncatedFrames++
		r.AppendOutput(ev.Lines...)
		return r
	}

	text := ev.Text()
	switch ev.Kind {
	case KindText, KindUnrecognized:
		r.AppendOutput(ev.Lines...)

	case KindSilent:

	case KindStarting:
		if t, ok := parseStarting(text); ok {
			r.StartTime = t
		}

	case KindVersion:
		if len(ev.Lines) > 0 {
			r.Version = strings.TrimSpace(ev.Lines[0])
		}

	case KindMode:
		r.Mode = text
		r.Workers = parseWorkers(text)

	case KindProgress:
		r.Progress = text
		if p, ok := parseProgress(text); ok {
			r.History = append(r.History, p.point)
			st := check.Stats{
				Generated: p.point.Generated,
				Distinct:  p.point.Distinct,
				Queue:     p.point.Queue,
				Depth:     p.depth,
			}
			if !r.StartTime.IsZero() && p.point.Time.After(r.StartTime) {
				st.Duration = p.point.Time.Sub(r.StartTime)
			}
			r.Stats = r.Stats.Merge(st)
		}

	case KindInitStates:
		r.Progress = text
		if n, ok := parseInitStates(text); ok {
			r.Stats = r.Stats.Merge(check.Stats{InitialStates: n})
		}

	case KindStats:
		if st, ok := parseStats(text); ok {
			r.Stats = r.Stats.Merge(st)
		}

	case KindSearchDepth:
		if d, ok := parseDepth(text); ok {
			r.Stats = r.Stats.Merge(check.Stats{Depth: d})
		}

	case KindFinished:
		if d, end, ok := parseFinished(text); ok {
			r.Stats = r.Stats.Merge(check.Stats{Duration: d})
			if r.EndTime.IsZero() && !end.IsZero() {
				r.EndTime = end
			}
		}

	case KindCoverageStart:
		// Each coverage dump replaces the previous one.
		r.Coverage = nil

	case KindCoverage:
		for _, line := range ev.Lines {
			if item, ok := parseCoverage(line); ok {
				r.Coverage = append(r.Coverage, item)
			}
		}

	case KindTraceStart:
		if len(r.Errors) == 0 {
			r.Errors = append(r.Errors, check.ErrorReport{Kind: check.ErrorGeneral, Message: text})
		}

	case KindTraceStep:
		step, raw, ok := parseTraceStep(ev.Lines)
		if !ok {
			r.AppendOutput(ev.Lines...)
			break
		}
		step.Vars = bind(raw, r.Values())
		r.Errors = withLastError(r.Errors, func(e *check.ErrorReport) {
			e.Trace = append(e.Trace, step)
		})

	case KindError:
		r.Errors = append(r.Errors, check.ErrorReport{Kind: errorKindOf(ev.Code), Message: text})
		finish(r, check.FinishedError)

	case KindErrorDetail:
		r.Errors = withLastError(r.Errors, func(e *check.ErrorReport) {
			e.Details = append(e.Details, ev.Lines...)
		})

	case KindDeadlock:
		msg := text
		if msg == "" {
			msg = "Deadlock reached."
		}
		r.Errors = append(r.Errors, check.ErrorReport{Kind: check.ErrorDeadlock, Message: msg})
		finish(r, check.FinishedError)

	case KindSuccess:
		r.FingerprintCollision = parseCollision(text)
		finish(r, check.FinishedSuccess)

	case KindWarning:
		r.Warnings = append(r.Warnings, check.Warning{Code: ev.Code, Lines: ev.Lines})

	default:
		panic(fmt.Sprintf("tlc: unhandled event kind %v", ev.Kind))
	}
	return r
}

// finish moves r to a final status unless it already has one.
func finish(r *check.Result, s check.Status) {
	if !r.Status.IsFinal() {
		r.Status = s
	}
}

// withLastError applies fn to a copy of the last error report. A trace or detail
// without a preceding error message gets a generic report.
func withLastError(errs []check.ErrorReport, fn func(*check.ErrorReport)) []check.ErrorReport {
	out := make([]check.ErrorReport, len(errs), len(errs)+1)
	copy(out, errs)
	if len(out) == 0 {
		out = append(out, check.ErrorReport{Kind: check.ErrorGeneral, Message: "Error trace"})
	}
	fn(&out[len(out)-1])
	return out
}

// Outcome describes how the output stream of a run ended.
type Outcome struct {
	Stopped   bool
	ExitCode  int
	ExitKnown bool
	StreamErr error
	Stderr    string
}

// Finalize applies the end of the stream to prev. The returned snapshot is never
// Running or NotStarted. A status that is already final is kept.
func Finalize(prev *check.Result, o Outcome, now time.Time) *check.Result {
	r := prev.Clone()
	if r.StartTime.IsZero() {
		r.StartTime = now
	}
	if r.EndTime.IsZero() {
		r.EndTime = now
	}
	if o.ExitKnown && IsToolingExit(o.ExitCode) && !o.Stopped {
		r.Failure = toolingMessage(o)
	}
	if r.Status.IsFinal() {
		return r
	}

	switch {
	case o.Stopped:
		r.Status = check.StoppedByUser
	case o.StreamErr != nil:
		r.Status = check.ToolingFailure
		r.Failure = fmt.Sprintf("reading checker output failed: %v", o.StreamErr)
	case r.TruncatedFrames > 0:
		r.Status = check.ToolingFailure
		if r.Failure == "" {
			r.Failure = "checker output ended inside a message"
		}
	case o.ExitKnown && IsToolingExit(o.ExitCode):
		r.Status = check.ToolingFailure
	case o.ExitKnown && o.ExitCode == 0:
		r.Status = check.FinishedSuccess
	case o.ExitKnown:
		r.Status = check.FinishedError
		report := check.ErrorReport{
			Kind:    check.ErrorExitStatus,
			Message: fmt.Sprintf("TLC exited with code %d (%s)", o.ExitCode, ExitStatusName(o.ExitCode)),
		}
		if o.Stderr != "" {
			report.Details = strings.Split(strings.TrimRight(o.Stderr, "\n"), "\n")
		}
		r.Errors = append(r.Errors, report)
	default:
		r.Status = check.ToolingFailure
		r.Failure = "output ended before the model checker reported a result"
	}
	return r
}

func toolingMessage(o Outcome) string {
	msg := fmt.Sprintf("Error running TLC (exit code %d)", o.ExitCode)
	if details := strings.TrimSpace(o.Stderr); details != "" {
		msg += "\n" + details
	}
	return msg
}
