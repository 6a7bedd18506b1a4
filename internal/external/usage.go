package external

import (
	"context"
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v3/process"
)

// Usage is a point-in-time resource sample of a running child process.
type Usage struct {
	CPUPercent float64
	RSSBytes   uint64
	NumThreads int32
}

// Usage samples CPU and memory consumption of the child. It fails once the
// process has exited.
func (e *External) Usage(ctx context.Context) (*Usage, error) {
	select {
	case <-e.done:
		return nil, errors.New("external: process has already exited")
	default:
	}

	p, err := process.NewProcessWithContext(ctx, int32(e.Pid()))
	if err != nil {
		return nil, fmt.Errorf("external: inspecting pid %d: %w", e.Pid(), err)
	}
	cpu, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("external: sampling cpu of pid %d: %w", e.Pid(), err)
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("external: sampling memory of pid %d: %w", e.Pid(), err)
	}
	threads, err := p.NumThreadsWithContext(ctx)
	if err != nil {
		threads = 0
	}
	return &Usage{CPUPercent: cpu, RSSBytes: mem.RSS, NumThreads: threads}, nil
}
