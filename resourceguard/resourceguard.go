// Package resourceguard provides local, single-process self-throttling
// for a Rivulet peer: it samples this process's own CPU and memory use
// and lets a Client reject outgoing writes before they ever reach the
// backend, rather than contending for advisory locks it has little
// chance of using productively. It has no backend representation and
// affects no other peer — it is purely a courtesy a busy peer can pay to
// the shared backend and to itself.
package resourceguard

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// Config configures a Guard. Zero values disable the corresponding check.
type Config struct {
	// RejectAboveCPUPercent rejects writes once this process's CPU usage
	// (percent of one core) exceeds the threshold.
	RejectAboveCPUPercent float64
	// RejectAboveMemoryMB rejects writes once this process's resident
	// set size exceeds the threshold, in megabytes.
	RejectAboveMemoryMB float64
	// SampleInterval controls how often the background sampler wakes up.
	// Defaults to 5s.
	SampleInterval time.Duration
}

// Status is a point-in-time snapshot of what the Guard last observed.
type Status struct {
	CPUPercent float64
	MemoryMB   float64
	Rejecting  bool
}

// Guard periodically samples process resource usage and answers Allow()
// cheaply (an atomic load) on every write call, so the hot path never
// blocks on a syscall.
type Guard struct {
	cfg    Config
	logger zerolog.Logger
	proc   *process.Process

	mu     sync.RWMutex
	status Status

	stop chan struct{}
	wg   sync.WaitGroup

	rejecting atomic.Bool
}

// New creates a Guard for the current process and starts its sampling
// loop. Call Close to stop sampling.
func New(cfg Config, logger zerolog.Logger) (*Guard, error) {
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 5 * time.Second
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}

	g := &Guard{cfg: cfg, logger: logger, proc: proc, stop: make(chan struct{})}
	g.sampleOnce() // seed a first reading synchronously so Allow() is meaningful immediately
	g.wg.Add(1)
	go g.loop()
	return g, nil
}

func (g *Guard) loop() {
	defer g.wg.Done()
	ticker := time.NewTicker(g.cfg.SampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			g.sampleOnce()
		}
	}
}

func (g *Guard) sampleOnce() {
	var cpuPct float64
	if pct, err := g.proc.CPUPercent(); err == nil {
		cpuPct = pct
	}

	var memMB float64
	if info, err := g.proc.MemoryInfo(); err == nil && info != nil {
		memMB = float64(info.RSS) / 1024 / 1024
	} else if vm, err := mem.VirtualMemory(); err == nil {
		memMB = float64(vm.Used) / 1024 / 1024
	}

	reject := (g.cfg.RejectAboveCPUPercent > 0 && cpuPct > g.cfg.RejectAboveCPUPercent) ||
		(g.cfg.RejectAboveMemoryMB > 0 && memMB > g.cfg.RejectAboveMemoryMB)

	g.mu.Lock()
	g.status = Status{CPUPercent: cpuPct, MemoryMB: memMB, Rejecting: reject}
	g.mu.Unlock()
	g.rejecting.Store(reject)

	if reject {
		g.logger.Warn().
			Float64("cpu_percent", cpuPct).
			Float64("memory_mb", memMB).
			Msg("resource guard rejecting writes")
	}
}

// Allow reports whether a write should proceed. It never blocks.
func (g *Guard) Allow() bool {
	return !g.rejecting.Load()
}

// Status returns the most recently sampled resource usage.
func (g *Guard) Status() Status {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.status
}

// Close stops the sampling loop. Safe to call once.
func (g *Guard) Close(ctx context.Context) error {
	close(g.stop)
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
