package common

import (
	"math/bits"
	"unsafe"

	"github.com/chewxy/math32"
)

// HalfMax is the largest finite value representable in IEEE-754 half precision.
// It is used as a sentinel for "disabled" shader parameters (e.g. the vignette
// mid point), recognizable on the GPU side as a value no enabled configuration
// can produce.
const HalfMax float32 = 65504.0

// MaxLevelCount returns the number of mip levels needed to reduce a texture of
// the given dimensions down to 1x1, including the base level.
//
// Parameters:
//   - width: base level width in pixels
//   - height: base level height in pixels
//
// Returns:
//   - int: the full mip chain length for the larger axis
func MaxLevelCount(width, height uint32) int {
	major := max(width, height)
	if major == 0 {
		return 0
	}
	return bits.Len32(major)
}

// ValueForLevel returns the size of a mip level derived from a base level size.
// Level 0 returns the base size unchanged; each subsequent level halves it,
// clamped to a minimum of 1.
//
// Parameters:
//   - level: the mip level to compute
//   - baseValue: the level 0 size in pixels
//
// Returns:
//   - uint32: the size of the requested level
func ValueForLevel(level int, baseValue uint32) uint32 {
	return max(1, baseValue>>uint(level))
}

// Clamp constrains v to the inclusive range [lo, hi].
//
// Parameters:
//   - v: the value to constrain
//   - lo: the lower bound
//   - hi: the upper bound
//
// Returns:
//   - float32: v clamped to [lo, hi]
func Clamp(v, lo, hi float32) float32 {
	return math32.Min(math32.Max(v, lo), hi)
}

// Saturate constrains v to the inclusive range [0, 1].
//
// Parameters:
//   - v: the value to constrain
//
// Returns:
//   - float32: v clamped to [0, 1]
func Saturate(v float32) float32 {
	return Clamp(v, 0, 1)
}

// Mix linearly interpolates between a and b by t.
//
// Parameters:
//   - a: the value at t=0
//   - b: the value at t=1
//   - t: the interpolation factor
//
// Returns:
//   - float32: a*(1-t) + b*t
func Mix(a, b, t float32) float32 {
	return a + (b-a)*t
}

// Identity resets a 4x4 matrix (flat slice) to the identity matrix.
// The matrix is stored in column-major order.
//
// Parameters:
//   - m: destination slice (must be at least 16 elements)
func Identity(m []float32) {
	for i := range m {
		m[i] = 0
	}
	m[0], m[5], m[10], m[15] = 1, 1, 1, 1
}

// Perspective creates a perspective projection matrix.
// Uses infinite far plane convention compatible with WebGPU clip space [0, 1].
//
// Parameters:
//   - out: destination slice (must be at least 16 elements)
//   - fovY: vertical field of view in radians
//   - aspect: viewport aspect ratio (width/height)
//   - near: near clipping plane distance (must be > 0)
//   - far: far clipping plane distance (must be > near)
func Perspective(out []float32, fovY, aspect, near, far float32) {
	f := 1.0 / math32.Tan(fovY/2.0)
	Identity(out)

	out[0] = f / aspect
	out[5] = f
	out[10] = far / (near - far)
	out[11] = -1.0
	out[14] = (near * far) / (near - far)
	out[15] = 0.0
}

// SliceToBytes converts any slice to a byte slice for GPU buffer uploads.
// Uses unsafe pointer operations to create a view into the original data.
// WARNING: The returned slice shares memory with the input - do not modify.
//
// Parameters:
//   - data: source slice of any type
//
// Returns:
//   - []byte: byte slice view of the input data, or nil if input is empty
func SliceToBytes[T any](data []T) []byte {
	if len(data) == 0 {
		return nil
	}
	var zero T
	size := unsafe.Sizeof(zero)
	totalBytes := int(size) * len(data)
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), totalBytes)
}
