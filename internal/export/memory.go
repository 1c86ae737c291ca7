package export

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jmylchreest/clipforge/internal/timeline"
)

// MemoryProbe reports the memory available to the process.
type MemoryProbe interface {
	Available(ctx context.Context) (uint64, error)
}

// SystemMemory reads available memory from the operating system.
type SystemMemory struct{}

// Available implements MemoryProbe.
func (SystemMemory) Available(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading memory stats: %w", err)
	}
	return vm.Available, nil
}

// baselineMemory covers codecs, fonts and buffers that do not scale with
// the frame size.
const baselineMemory = 64 << 20

// EstimateMemory returns a rough peak working set for req: the raster
// surface, its snapshot, the blur scratch buffers and one decoded frame per
// video layer.
func EstimateMemory(req *timeline.ExportRequest) uint64 {
	frame := uint64(req.Width) * uint64(req.Height) * 4
	buffers := uint64(4)
	for _, c := range req.SortedClips(timeline.ClipTypeVideo) {
		if t, ok := req.Track(c); ok && t.Visible {
			buffers++
		}
	}
	return baselineMemory + frame*buffers
}
