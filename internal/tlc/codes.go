// Package tlc classifies TLC output frames and folds them into check results.
package tlc

import (
	"fmt"

	"tlcrun/internal/check"
	"tlcrun/internal/framer"
)

// TLC message codes, see tlc2.output.EC in the TLA+ tools.
const (
	CodeGeneral               = 1000
	CodeInvariantViolatedInit = 2107
	CodeInvariantViolated     = 2110
	CodeActionPropViolated    = 2112
	CodeDeadlock              = 2114
	CodeTemporalPropViolated  = 2116
	CodeBehaviorUpToHere      = 2121
	CodeBackToState           = 2122
	CodeAssertFailed          = 2132
	CodeStarting              = 2185
	CodeFinished              = 2186
	CodeMode                  = 2187
	CodeComputingInit         = 2189
	CodeInitGenerated         = 2190
	CodeInitGeneratedOld      = 2191
	CodeSuccess               = 2193
	CodeSearchDepth           = 2194
	CodeStats                 = 2199
	CodeProgress              = 2200
	CodeCoverageStart         = 2201
	CodeCoverageEnd           = 2202
	CodeStatePrint1           = 2216
	CodeStatePrint2           = 2217
	CodeStuttering            = 2218
	CodeVersion               = 2262
	CodeCoverageNext          = 2772
	CodeCoverageInit          = 2773
	CodeNestedExpression      = 4003
)

// TLC severity sub codes (tlc2.output.MP).
const (
	SeverityNone    = 0
	SeverityError   = 1
	SeverityTLCBug  = 2
	SeverityWarning = 3
	SeverityState   = 4
)

// Kind is the semantic event a frame stands for. The set is closed: every frame
// maps to exactly one Kind, KindUnrecognized included.
type Kind int

const (
	KindUnrecognized Kind = iota
	KindText
	KindProgress
	KindInitStates
	KindStats
	KindCoverage
	KindTraceStep
	KindError
	KindDeadlock
	KindSuccess
	KindWarning
	KindStarting
	KindFinished
	KindVersion
	KindMode
	KindSearchDepth
	KindCoverageStart
	KindTraceStart
	KindErrorDetail
	KindSilent
)

var kindNames = [...]string{
	KindUnrecognized:  "unrecognized",
	KindText:          "text",
	KindProgress:      "progress",
	KindInitStates:    "init-states",
	KindStats:         "stats",
	KindCoverage:      "coverage",
	KindTraceStep:     "trace-step",
	KindError:         "error",
	KindDeadlock:      "deadlock",
	KindSuccess:       "success",
	KindWarning:       "warning",
	KindStarting:      "starting",
	KindFinished:      "finished",
	KindVersion:       "version",
	KindMode:          "mode",
	KindSearchDepth:   "search-depth",
	KindCoverageStart: "coverage-start",
	KindTraceStart:    "trace-start",
	KindErrorDetail:   "error-detail",
	KindSilent:        "silent",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Table maps message codes to event kinds.
type Table map[int]Kind

// DefaultTable is the mapping for TLC run with -tool.
var DefaultTable = Table{
	CodeStarting:              KindStarting,
	CodeFinished:              KindFinished,
	CodeMode:                  KindMode,
	CodeVersion:               KindVersion,
	CodeComputingInit:         KindSilent,
	CodeInitGenerated:         KindInitStates,
	CodeInitGeneratedOld:      KindInitStates,
	CodeProgress:              KindProgress,
	CodeStats:                 KindStats,
	CodeSearchDepth:           KindSearchDepth,
	CodeCoverageStart:         KindCoverageStart,
	CodeCoverageEnd:           KindSilent,
	CodeCoverageNext:          KindCoverage,
	CodeCoverageInit:          KindCoverage,
	CodeBehaviorUpToHere:      KindTraceStart,
	CodeStatePrint1:           KindTraceStep,
	CodeStatePrint2:           KindTraceStep,
	CodeStuttering:            KindTraceStep,
	CodeBackToState:           KindTraceStep,
	CodeInvariantViolatedInit: KindError,
	CodeInvariantViolated:     KindError,
	CodeActionPropViolated:    KindError,
	CodeTemporalPropViolated:  KindError,
	CodeAssertFailed:          KindError,
	CodeDeadlock:              KindDeadlock,
	CodeSuccess:               KindSuccess,
	CodeNestedExpression:      KindErrorDetail,
}

// Classify maps a frame to its event kind. Unframed lines are plain text. Codes
// missing from the table fall back to the TLC severity sub code.
func (t Table) Classify(f framer.Frame) Kind {
	if f.Kind == framer.Unframed {
		return KindText
	}
	if k, ok := t[f.Code]; ok {
		return k
	}
	if f.HasSub {
		switch f.Sub {
		case SeverityError, SeverityTLCBug:
			return KindError
		case SeverityWarning:
			return KindWarning
		case SeverityState:
			return KindTraceStep
		}
	}
	return KindUnrecognized
}

// errorKinds maps error codes to the reported error kind.
var errorKinds = map[int]check.ErrorKind{
	CodeInvariantViolatedInit: check.ErrorInvariantViolated,
	CodeInvariantViolated:     check.ErrorInvariantViolated,
	CodeActionPropViolated:    check.ErrorPropertyViolated,
	CodeTemporalPropViolated:  check.ErrorPropertyViolated,
	CodeAssertFailed:          check.ErrorAssertionFailed,
}

func errorKindOf(code int) check.ErrorKind {
	if k, ok := errorKinds[code]; ok {
		return k
	}
	if code == CodeGeneral {
		return check.ErrorGeneral
	}
	return check.ErrorEvaluation
}
