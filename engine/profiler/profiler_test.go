package profiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObservePassAccumulates(t *testing.T) {
	p := NewProfiler()

	p.ObservePass("Bloom downsample", 2*time.Millisecond)
	p.ObservePass("Bloom downsample", 4*time.Millisecond)
	p.ObservePass("FXAA", time.Millisecond)

	assert.Equal(t, 3*time.Millisecond, p.PassAverage("Bloom downsample"))
	assert.Equal(t, time.Millisecond, p.PassAverage("FXAA"))
	assert.Zero(t, p.PassAverage("unknown"))
}

func TestTickHonorsInterval(t *testing.T) {
	p := NewProfiler()
	p.updateInterval = time.Hour
	assert.False(t, p.Tick())

	p.updateInterval = 0
	p.ObservePass("SSAO", time.Millisecond)
	assert.True(t, p.Tick())

	// Pass stats reset after a report.
	assert.Zero(t, p.PassAverage("SSAO"))
}
