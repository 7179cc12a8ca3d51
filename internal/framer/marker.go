package framer

import (
	"regexp"
	"strconv"
)

// DefaultSentinel is the token TLC wraps its message markers in.
const DefaultSentinel = "@!@!@"

// Marker is a parsed START or END marker line.
type Marker struct {
	Start  bool
	Code   int
	Sub    int
	HasSub bool
}

// Markers recognizes marker lines for one sentinel token. Both the TLC form
// "@!@!@STARTMSG 2110:1 @!@!@" and the spaced form "@@@ START 1 @@@" match.
type Markers struct {
	Sentinel string
	re       *regexp.Regexp
	strip    *regexp.Regexp
}

// NewMarkers compiles the marker grammar for sentinel. An empty sentinel selects
// DefaultSentinel.
func NewMarkers(sentinel string) *Markers {
	if sentinel == "" {
		sentinel = DefaultSentinel
	}
	q := regexp.QuoteMeta(sentinel)
	body := `\s*(START|END)(?:MSG)?\s+(\d+)(?::(\d+))?\s*`
	return &Markers{
		Sentinel: sentinel,
		re:       regexp.MustCompile(`^\s*` + q + body + q + `\s*$`),
		strip:    regexp.MustCompile(q + body + q),
	}
}

// Parse reports whether line is a marker line and decodes it.
func (m *Markers) Parse(line string) (Marker, bool) {
	match := m.re.FindStringSubmatch(line)
	if match == nil {
		return Marker{}, false
	}
	code, err := strconv.Atoi(match[2])
	if err != nil {
		return Marker{}, false
	}
	mk := Marker{Start: match[1] == "START", Code: code}
	if match[3] != "" {
		sub, err := strconv.Atoi(match[3])
		if err != nil {
			return Marker{}, false
		}
		mk.Sub, mk.HasSub = sub, true
	}
	return mk, true
}

// Closes reports whether end is a valid END marker for a frame opened by start.
// TLC closes frames with the bare code, so a missing sub code on either side matches.
func (start Marker) Closes(end Marker) bool {
	if start.Code != end.Code {
		return false
	}
	return !start.HasSub || !end.HasSub || start.Sub == end.Sub
}

// StripMarkers removes marker tokens from a raw output line. It returns false when
// nothing but markers was on a non-empty line, so mirrors of the raw output can skip
// it; blank lines are kept.
func (m *Markers) StripMarkers(line string) (string, bool) {
	if line == "" {
		return line, true
	}
	clean := m.strip.ReplaceAllString(line, "")
	return clean, clean != ""
}
