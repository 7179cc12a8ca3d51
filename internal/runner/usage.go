package runner

import (
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// Usage is a resource sample of the checker process.
type Usage struct {
	PID        int32         `json:"pid"`
	CPUPercent float64       `json:"cpu_percent"`
	RSSBytes   uint64        `json:"rss_bytes"`
	Threads    int32         `json:"threads"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Usage samples CPU and memory of the running process. It returns ErrFinished once
// the run has ended.
func (r *Run) Usage() (Usage, error) {
	select {
	case <-r.done:
		return Usage{}, ErrFinished
	default:
	}
	pid := int32(r.cmd.Process.Pid)
	p, err := process.NewProcess(pid)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to inspect process %d: %w", pid, err)
	}
	u := Usage{PID: pid, Elapsed: timeNow().Sub(r.started)}

	// Individual values may be unavailable for a process that is exiting.
	if cpu, err := p.CPUPercent(); err == nil {
		u.CPUPercent = cpu
	}
	if mem, err := p.MemoryInfo(); err == nil {
		u.RSSBytes = mem.RSS
	}
	if n, err := p.NumThreads(); err == nil {
		u.Threads = n
	}
	return u, nil
}
