package common

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceToBytes(t *testing.T) {
	floats := []float32{1.5, -2.25, 0.0078125}
	raw := SliceToBytes(floats)
	assert.Len(t, raw, 12)
	for n, want := range floats {
		got := math.Float32frombits(binary.LittleEndian.Uint32(raw[n*4:]))
		assert.Equal(t, want, got)
	}

	ints := []uint32{7, 0xdeadbeef}
	raw = SliceToBytes(ints)
	assert.Len(t, raw, 8)
	assert.Equal(t, uint32(7), binary.LittleEndian.Uint32(raw))
	assert.Equal(t, uint32(0xdeadbeef), binary.LittleEndian.Uint32(raw[4:]))

	assert.Nil(t, SliceToBytes([]float32(nil)))
}
