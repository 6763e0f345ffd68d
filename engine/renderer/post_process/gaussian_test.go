package post_process

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianKernelSumsToOne(t *testing.T) {
	cases := []struct {
		name        string
		kernelWidth int
		sigmaRatio  float32
	}{
		{"narrow", 5, 6},
		{"default", 9, 6},
		{"wide", 23, 6},
		{"tight sigma", 17, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			kernel := gaussianKernel(tc.kernelWidth, tc.sigmaRatio, 64)
			require.NotEmpty(t, kernel)

			sum := kernel[0][0]
			for _, k := range kernel[1:] {
				sum += 2 * k[0]
			}
			assert.InDelta(t, 1.0, sum, 1e-5)
		})
	}
}

func TestGaussianKernelTapCount(t *testing.T) {
	// m = min(storage, (kernelWidth-1)/4 + 1)
	assert.Len(t, gaussianKernel(9, 6, 64), 3)
	assert.Len(t, gaussianKernel(23, 6, 64), 6)
	assert.Len(t, gaussianKernel(255, 6, 64), 64)
	assert.Len(t, gaussianKernel(255, 6, 16), 16)
}

func TestGaussianKernelCenterTap(t *testing.T) {
	kernel := gaussianKernel(9, 6, 64)
	assert.Zero(t, kernel[0][1], "center tap has no offset")
	for i, k := range kernel[1:] {
		// Merged pairs sit between their source taps at 2i-1 and 2i.
		lo := float32((i+1)*2 - 1)
		assert.GreaterOrEqual(t, k[1], lo)
		assert.LessOrEqual(t, k[1], lo+1)
	}
}
