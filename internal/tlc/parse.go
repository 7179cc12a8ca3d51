package tlc

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"tlcrun/internal/check"
)

// TimeLayout is the timestamp format TLC prints.
const TimeLayout = "2006-01-02 15:04:05"

var (
	reTimestamp  = `(\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2})`
	reProgress   = regexp.MustCompile(`Progress\(([\d,]+)\) at ` + reTimestamp + `: ([\d,]+) states generated(?: \([\d,]+ s/min\))?, ([\d,]+) distinct states found(?: \([\d,]+ ds/min\))?, ([\d,]+) states? left on queue`)
	reStats      = regexp.MustCompile(`([\d,]+) states generated, ([\d,]+) distinct states found, ([\d,]+) states? left on queue`)
	reInit       = regexp.MustCompile(`Finished computing initial states: ([\d,]+) distinct states? generated(?: at ` + reTimestamp + `)?`)
	reInitOld    = regexp.MustCompile(`Finished computing initial states: ([\d,]+) states? generated, with ([\d,]+) of them distinct`)
	reDepth      = regexp.MustCompile(`depth of the complete state graph search is ([\d,]+)`)
	reStarting   = regexp.MustCompile(`Starting\.\.\. \(` + reTimestamp + `\)`)
	reFinished   = regexp.MustCompile(`Finished in (.+?) at \(` + reTimestamp + `\)`)
	reDurPart    = regexp.MustCompile(`(\d+)\s*(ms|min|h|s)`)
	reWorkers    = regexp.MustCompile(`with (\d+) workers?`)
	reCollision  = regexp.MustCompile(`calculated \(optimistic\):\s*val = (\S+)`)
	reCoverage   = regexp.MustCompile(`^<(\S+) (line \d+, col \d+ to line \d+, col \d+) of module (\S+)>:\s*(\d+)(?::(\d+))?\s*$`)
	reStepHeader = regexp.MustCompile(`^(\d+):\s*(.*)$`)
	reStepAction = regexp.MustCompile(`^<(\S+)\s+(line \d+, col \d+ to line \d+, col \d+ of module \S+)>$`)
)

// parseCount parses numbers that TLC prints with thousands separators.
func parseCount(s string) int64 {
	n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func parseTime(s string) (time.Time, bool) {
	t, err := time.ParseInLocation(TimeLayout, s, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type progressReport struct {
	point check.ProgressPoint
	depth int64
}

func parseProgress(text string) (progressReport, bool) {
	m := reProgress.FindStringSubmatch(text)
	if m == nil {
		return progressReport{}, false
	}
	t, _ := parseTime(m[2])
	return progressReport{
		point: check.ProgressPoint{
			Time:      t,
			Generated: parseCount(m[3]),
			Distinct:  parseCount(m[4]),
			Queue:     parseCount(m[5]),
		},
		depth: parseCount(m[1]),
	}, true
}

func parseStats(text string) (check.Stats, bool) {
	m := reStats.FindStringSubmatch(text)
	if m == nil {
		return check.Stats{}, false
	}
	return check.Stats{
		Generated: parseCount(m[1]),
		Distinct:  parseCount(m[2]),
		Queue:     parseCount(m[3]),
	}, true
}

func parseInitStates(text string) (int64, bool) {
	if m := reInit.FindStringSubmatch(text); m != nil {
		return parseCount(m[1]), true
	}
	if m := reInitOld.FindStringSubmatch(text); m != nil {
		return parseCount(m[2]), true
	}
	return 0, false
}

func parseDepth(text string) (int64, bool) {
	m := reDepth.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	return parseCount(m[1]), true
}

func parseStarting(text string) (time.Time, bool) {
	m := reStarting.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	return parseTime(m[1])
}

// parseFinished decodes "Finished in 02min 03s at (2024-01-01 10:00:00)".
func parseFinished(text string) (time.Duration, time.Time, bool) {
	m := reFinished.FindStringSubmatch(text)
	if m == nil {
		return 0, time.Time{}, false
	}
	end, _ := parseTime(m[2])
	return parseDuration(m[1]), end, true
}

func parseDuration(s string) time.Duration {
	var d time.Duration
	for _, part := range reDurPart.FindAllStringSubmatch(s, -1) {
		n, err := strconv.ParseInt(part[1], 10, 64)
		if err != nil {
			continue
		}
		switch part[2] {
		case "h":
			d += time.Duration(n) * time.Hour
		case "min":
			d += time.Duration(n) * time.Minute
		case "s":
			d += time.Duration(n) * time.Second
		case "ms":
			d += time.Duration(n) * time.Millisecond
		}
	}
	return d
}

func parseWorkers(text string) int {
	m := reWorkers.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

func parseCollision(text string) string {
	m := reCollision.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return m[1]
}

func parseCoverage(line string) (check.CoverageItem, bool) {
	m := reCoverage.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return check.CoverageItem{}, false
	}
	item := check.CoverageItem{
		Action:   m[1],
		Location: m[2],
		Module:   m[3],
		Distinct: parseCount(m[4]),
		Total:    parseCount(m[4]),
	}
	if m[5] != "" {
		item.Total = parseCount(m[5])
	}
	return item, true
}

// rawBinding is a variable assignment before value registration.
type rawBinding struct {
	name  string
	value string
}

// parseTraceStep decodes a state print message:
//
//	2: <Next line 10, col 5 to line 12, col 20 of module Queue>
//	/\ x = 1
//	/\ q = <<1, 2>>
func parseTraceStep(lines []string) (check.TraceStep, []rawBinding, bool) {
	if len(lines) == 0 {
		return check.TraceStep{}, nil, false
	}
	m := reStepHeader.FindStringSubmatch(strings.TrimSpace(lines[0]))
	if m == nil {
		return check.TraceStep{}, nil, false
	}
	num, _ := strconv.Atoi(m[1])
	step := check.TraceStep{Num: num, Kind: check.StepAction}
	header := strings.TrimSpace(m[2])

	switch {
	case header == "<Initial predicate>":
		step.Kind = check.StepInitial
		step.Action = "Initial predicate"
	case header == "Stuttering":
		step.Kind = check.StepStuttering
		step.Action = "Stuttering"
	case strings.HasPrefix(header, "Back to state"):
		step.Kind = check.StepBackTo
		rest := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(header, "Back to state"), ":"))
		step.Action, step.Location = splitAction(rest)
		if step.Action == "" {
			step.Action = "Back to state " + rest
		}
	default:
		step.Action, step.Location = splitAction(header)
	}
	return step, parseBindings(lines[1:]), true
}

func splitAction(s string) (string, string) {
	if m := reStepAction.FindStringSubmatch(s); m != nil {
		return m[1], m[2]
	}
	return strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">"), ""
}

// parseBindings reads "/\ name = value" assignments. Lines that do not start a new
// assignment continue the previous value. A state with one variable is printed
// without the conjunction prefix.
func parseBindings(lines []string) []rawBinding {
	var out []rawBinding
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		rest, isConj := strings.CutPrefix(trimmed, `/\ `)
		if isConj || len(out) == 0 {
			if name, value, ok := strings.Cut(rest, " = "); ok && isIdent(name) {
				out = append(out, rawBinding{name: name, value: strings.TrimSpace(value)})
				continue
			}
		}
		if len(out) == 0 {
			continue
		}
		last := &out[len(out)-1]
		last.value += "\n" + strings.TrimRight(line, " \t")
	}
	return out
}

func isIdent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}
