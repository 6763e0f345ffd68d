// package profiler tracks frame rate, memory statistics and per-pass CPU
// timings for the post-processing pipeline. Stats go to the log at a
// configurable interval; per-pass numbers come in through the frame graph's
// pass observer.
package profiler

import (
	"log"
	"runtime"
	"sort"
	"time"
)

// passStat accumulates the observations of one named pass between reports.
type passStat struct {
	total time.Duration
	count int
}

// Profiler tracks frame rate, memory statistics and pass timings. Outputs
// stats to the log at a configurable interval. Not safe for concurrent use;
// graph execution is single threaded.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastTotalAlloc uint64

	passes map[string]*passStat
}

// NewProfiler creates a new Profiler with default settings.
// Update interval defaults to 1 second.
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler() *Profiler {
	return &Profiler{
		lastTime: time.Now(),

		updateInterval: time.Second,
		passes:         make(map[string]*passStat),
	}
}

// ObservePass records one execution of a named pass. Matches the frame
// graph's PassObserver signature so it can be installed directly with
// SetPassObserver.
//
// Parameters:
//   - name: the pass name
//   - elapsed: the pass's CPU wall time
func (p *Profiler) ObservePass(name string, elapsed time.Duration) {
	stat, ok := p.passes[name]
	if !ok {
		stat = &passStat{}
		p.passes[name] = stat
	}
	stat.total += elapsed
	stat.count++
}

// PassAverage returns the mean CPU time of a pass since the last report.
//
// Parameters:
//   - name: the pass name
//
// Returns:
//   - time.Duration: the mean time, zero if the pass was never observed
func (p *Profiler) PassAverage(name string) time.Duration {
	stat, ok := p.passes[name]
	if !ok || stat.count == 0 {
		return 0
	}
	return stat.total / time.Duration(stat.count)
}

// Tick should be called once per frame to track frame timing.
// Logs performance statistics when the update interval has elapsed:
// FPS, heap usage, allocation rate, and the costliest passes.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.frameCount++
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)

	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	log.Printf("[Profiler] FPS: %.2f | Heap: %.2f MB | Alloc Rate: %.2f MB/s",
		fps, allocMB, allocRateMB)

	if len(p.passes) > 0 {
		type entry struct {
			name string
			avg  time.Duration
		}
		entries := make([]entry, 0, len(p.passes))
		for name, stat := range p.passes {
			entries = append(entries, entry{name, stat.total / time.Duration(stat.count)})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].avg > entries[j].avg })
		if len(entries) > 5 {
			entries = entries[:5]
		}
		for _, e := range entries {
			log.Printf("[Profiler]   pass %-24s %v", e.name, e.avg)
		}
		clear(p.passes)
	}

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastTotalAlloc = p.memStats.TotalAlloc
	return true
}
