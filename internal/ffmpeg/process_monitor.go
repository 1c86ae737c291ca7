package ffmpeg

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats contains resource usage statistics for an FFmpeg process.
type ProcessStats struct {
	PID int `json:"pid"`

	CPUPercent float64 `json:"cpu_percent"` // average since start, 100 per core

	MemoryRSSBytes  uint64 `json:"memory_rss_bytes"`
	PeakMemoryBytes uint64 `json:"peak_memory_bytes"`

	BytesWritten uint64 `json:"bytes_written"` // fed to the process
	BytesRead    uint64 `json:"bytes_read"`    // read from the process

	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	LastUpdated time.Time     `json:"last_updated"`
}

// ProcessMonitor samples resource usage of an FFmpeg process.
type ProcessMonitor struct {
	pid       int
	startedAt time.Time
	interval  time.Duration

	mu      sync.RWMutex
	stats   ProcessStats
	running bool

	bytesWritten atomic.Uint64
	bytesRead    atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessMonitor creates a new process monitor.
func NewProcessMonitor(pid int) *ProcessMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ProcessMonitor{
		pid:       pid,
		startedAt: time.Now(),
		interval:  time.Second,
		stats:     ProcessStats{PID: pid, StartedAt: time.Now()},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start begins monitoring the process.
func (pm *ProcessMonitor) Start() {
	pm.mu.Lock()
	if pm.running {
		pm.mu.Unlock()
		return
	}
	pm.running = true
	pm.mu.Unlock()

	pm.wg.Add(1)
	go pm.monitorLoop()
}

// Stop stops monitoring. Safe to call more than once.
func (pm *ProcessMonitor) Stop() {
	pm.cancel()
	pm.wg.Wait()

	pm.mu.Lock()
	pm.running = false
	pm.mu.Unlock()
}

// Stats returns the latest sample.
func (pm *ProcessMonitor) Stats() ProcessStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	s := pm.stats
	s.BytesWritten = pm.bytesWritten.Load()
	s.BytesRead = pm.bytesRead.Load()
	s.Duration = time.Since(pm.startedAt)
	return s
}

// AddBytesWritten records bytes fed to the process.
func (pm *ProcessMonitor) AddBytesWritten(n uint64) {
	pm.bytesWritten.Add(n)
}

// AddBytesRead records bytes read from the process.
func (pm *ProcessMonitor) AddBytesRead(n uint64) {
	pm.bytesRead.Add(n)
}

// SetInterval changes the sampling interval. Call before Start.
func (pm *ProcessMonitor) SetInterval(d time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.interval = d
}

func (pm *ProcessMonitor) monitorLoop() {
	defer pm.wg.Done()

	proc, err := process.NewProcessWithContext(pm.ctx, int32(pm.pid)) //nolint:gosec // pids fit in int32
	if err != nil {
		return
	}

	pm.mu.RLock()
	interval := pm.interval
	pm.mu.RUnlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pm.sample(proc)
		select {
		case <-pm.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (pm *ProcessMonitor) sample(proc *process.Process) {
	cpu, cpuErr := proc.CPUPercentWithContext(pm.ctx)
	mem, memErr := proc.MemoryInfoWithContext(pm.ctx)

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if cpuErr == nil {
		pm.stats.CPUPercent = cpu
	}
	if memErr == nil && mem != nil {
		pm.stats.MemoryRSSBytes = mem.RSS
		pm.stats.PeakMemoryBytes = max(pm.stats.PeakMemoryBytes, mem.RSS)
	}
	pm.stats.LastUpdated = time.Now()
}

// CountingWriter wraps a writer and records bytes on a monitor.
type CountingWriter struct {
	w       io.Writer
	monitor *ProcessMonitor
}

// NewCountingWriter creates a CountingWriter. A nil monitor disables counting.
func NewCountingWriter(w io.Writer, monitor *ProcessMonitor) *CountingWriter {
	return &CountingWriter{w: w, monitor: monitor}
}

// Write implements io.Writer.
func (cw *CountingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	if cw.monitor != nil && n > 0 {
		cw.monitor.AddBytesWritten(uint64(n))
	}
	return n, err
}

// CountingReader wraps a reader and records bytes on a monitor.
type CountingReader struct {
	r       io.Reader
	monitor *ProcessMonitor
}

// NewCountingReader creates a CountingReader. A nil monitor disables counting.
func NewCountingReader(r io.Reader, monitor *ProcessMonitor) *CountingReader {
	return &CountingReader{r: r, monitor: monitor}
}

// Read implements io.Reader.
func (cr *CountingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if cr.monitor != nil && n > 0 {
		cr.monitor.AddBytesRead(uint64(n))
	}
	return n, err
}
