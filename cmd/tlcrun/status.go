package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"tlcrun/internal/check"
	"tlcrun/internal/report"
)

// progress shows snapshots of a check. On a terminal it keeps one status line at
// the bottom of stderr; otherwise it logs status changes and progress reports.
type progress struct {
	out      *os.File
	terminal bool
	interval time.Duration

	mu       sync.Mutex
	line     string
	drawn    bool
	lastDraw time.Time
	status   check.Status
	progress string
}

func newProgress(out *os.File) *progress {
	return &progress{
		out:      out,
		terminal: term.IsTerminal(int(out.Fd())),
		interval: 100 * time.Millisecond,
		status:   -1,
	}
}

// update is the sink consumer.
func (p *progress) update(r *check.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.terminal {
		if r.Status != p.status {
			slog.Info("Check status", "spec", r.Files.SpecName(), "status", r.Status)
		}
		if r.Progress != "" && r.Progress != p.progress {
			slog.Info("Progress", "generated", r.Stats.Generated, "distinct", r.Stats.Distinct, "queue", r.Stats.Queue)
		}
		p.status, p.progress = r.Status, r.Progress
		return
	}

	p.line = statusText(r)
	now := time.Now()
	if r.Status.IsFinal() || now.Sub(p.lastDraw) >= p.interval {
		p.draw()
		p.lastDraw = now
	}
}

// statusText is the one-line summary of r.
func statusText(r *check.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", r.Files.SpecName(), r.Status)
	st := r.Stats
	if st.Generated > 0 || st.Distinct > 0 {
		fmt.Fprintf(&b, " | %s generated, %s distinct, %s queued",
			report.Count(st.Generated), report.Count(st.Distinct), report.Count(st.Queue))
	}
	if st.Depth > 0 {
		fmt.Fprintf(&b, ", depth %d", st.Depth)
	}
	if n := len(r.Errors); n > 0 {
		fmt.Fprintf(&b, " | %d error(s)", n)
	}
	return b.String()
}

func (p *progress) width() int {
	w, _, err := term.GetSize(int(p.out.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

// draw replaces the status line. Callers hold p.mu.
func (p *progress) draw() {
	line := p.line
	if w := p.width() - 1; len(line) > w && w > 0 {
		line = line[:w]
	}
	fmt.Fprintf(p.out, "\r\033[K%s", line)
	p.drawn = true
}

// clear removes the status line. Callers hold p.mu.
func (p *progress) clear() {
	if p.drawn {
		fmt.Fprint(p.out, "\r\033[K")
		p.drawn = false
	}
}

// done ends the status line so later output starts on a fresh line.
func (p *progress) done() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminal && p.drawn {
		fmt.Fprintln(p.out)
		p.drawn = false
	}
}

// writer returns w wrapped so that the status line is cleared before and redrawn
// after each write.
func (p *progress) writer(w io.Writer) io.Writer {
	if !p.terminal {
		return w
	}
	return &aroundStatus{p: p, w: w}
}

type aroundStatus struct {
	p *progress
	w io.Writer
}

func (a *aroundStatus) Write(b []byte) (int, error) {
	a.p.mu.Lock()
	defer a.p.mu.Unlock()
	redraw := a.p.drawn
	a.p.clear()
	n, err := a.w.Write(b)
	if redraw && a.p.line != "" {
		a.p.draw()
	}
	return n, err
}
