package post_process

import "github.com/Carmen-Shannon/oxy-fx/engine/framegraph"

// QualityLevel grades the cost versus quality tradeoff of a stage.
type QualityLevel uint8

const (
	// QualityLow is the cheapest tier.
	QualityLow QualityLevel = iota

	// QualityMedium is the balanced tier.
	QualityMedium

	// QualityHigh is the expensive tier.
	QualityHigh

	// QualityUltra is the no-compromise tier.
	QualityUltra
)

// sensorSize is the simulated camera sensor height in meters, fixed at the
// full-frame 24mm.
const sensorSize = 0.024

// CameraInfo carries the camera state the depth-dependent stages need. The
// projection matrix is column-major, OpenGL style with clip z in [-1, 1]
// folded to the [0, 1] depth range by the viewport transform.
type CameraInfo struct {
	// Projection is the column-major projection matrix.
	Projection [16]float32

	// Near and Far are the clip plane distances, positive.
	Near float32
	Far  float32

	// Aperture is the lens f-stop, as in f/1.4.
	Aperture float32

	// FocalLength is the lens focal length in meters.
	FocalLength float32

	// FocusDistance is the distance to the focus plane in meters.
	FocusDistance float32
}

// AmbientOcclusionOptions configures ScreenSpaceAmbientOcclusion.
type AmbientOcclusionOptions struct {
	// Radius is the occlusion sampling radius in world units.
	Radius float32

	// Power controls the occlusion contrast.
	Power float32

	// Bias rejects self-occlusion from surface acne, in world units.
	Bias float32

	// Resolution is the internal buffer scale relative to the structure
	// pyramid, either 0.5 or 1.0.
	Resolution float32

	// Intensity scales the occlusion darkening.
	Intensity float32

	// Quality selects the sample and filter tap counts.
	Quality QualityLevel

	// LowPass selects the depth-aware blur kernel quality.
	LowPass QualityLevel

	// Upsampling selects the quality used when the buffer is applied at a
	// higher resolution than it was computed at.
	Upsampling QualityLevel
}

// DefaultAmbientOcclusionOptions returns the stage defaults.
//
// Returns:
//   - AmbientOcclusionOptions: radius 0.3, power 1, bias 0.0005, half
//     resolution, intensity 1
func DefaultAmbientOcclusionOptions() AmbientOcclusionOptions {
	return AmbientOcclusionOptions{
		Radius:     0.3,
		Power:      1.0,
		Bias:       0.0005,
		Resolution: 0.5,
		Intensity:  1.0,
		Quality:    QualityLow,
		LowPass:    QualityMedium,
		Upsampling: QualityLow,
	}
}

// BloomBlendMode selects how the bloom buffer combines with the frame.
type BloomBlendMode uint8

const (
	// BloomAdd composites bloom additively over the unscaled frame.
	BloomAdd BloomBlendMode = iota

	// BloomInterpolate energy-conservingly crossfades between frame and bloom.
	BloomInterpolate
)

// BloomOptions configures Bloom and its composite in ColorGrading.
type BloomOptions struct {
	// Strength is the amount of bloom added to the frame, in [0, 1].
	Strength float32

	// Resolution is the minor axis size of the bloom pyramid's base, in
	// pixels. Clamped against the level count and the frame size.
	Resolution uint32

	// Anamorphism stretches the bloom horizontally above 1 and vertically
	// below 1.
	Anamorphism float32

	// Levels is the requested pyramid depth. The effective depth after
	// clamping is returned by Bloom.
	Levels uint32

	// Threshold enables highlight extraction before blurring.
	Threshold bool

	// Highlight bounds the extracted highlights to limit flicker, at least 10.
	Highlight float32

	// BlendMode selects the composite operator.
	BlendMode BloomBlendMode

	// DirtStrength scales the lens dirt texture contribution.
	DirtStrength float32
}

// DefaultBloomOptions returns the stage defaults.
//
// Returns:
//   - BloomOptions: strength 0.1, resolution 360, no anamorphism, 6 levels,
//     threshold on, unbounded highlight
func DefaultBloomOptions() BloomOptions {
	return BloomOptions{
		Strength:    0.1,
		Resolution:  360,
		Anamorphism: 1.0,
		Levels:      6,
		Threshold:   true,
		Highlight:   1000.0,
	}
}

// DepthOfFieldOptions configures DepthOfField.
type DepthOfFieldOptions struct {
	// CocScale scales the circle of confusion, 1 for physical units.
	CocScale float32

	// MaxApertureDiameter is the aperture diameter in meters that maps to the
	// widest bokeh rotation.
	MaxApertureDiameter float32

	// Filter enables the median filter on the gathered blur.
	Filter bool
}

// DefaultDepthOfFieldOptions returns the stage defaults.
//
// Returns:
//   - DepthOfFieldOptions: physical CoC, 10mm maximum aperture, median on
func DefaultDepthOfFieldOptions() DepthOfFieldOptions {
	return DepthOfFieldOptions{
		CocScale:            1.0,
		MaxApertureDiameter: 0.01,
		Filter:              true,
	}
}

// VignetteOptions configures the vignette applied during color grading.
type VignetteOptions struct {
	// MidPoint is the distance where the vignette reaches half strength, in
	// [0, 1] from center to corner.
	MidPoint float32

	// Roundness shapes the falloff from oval at 0 to circular at 1.
	Roundness float32

	// Feather softens the vignette edge, in [0, 1].
	Feather float32

	// Color is the vignette tint, premultiplied over the frame.
	Color [4]float32
}

// DefaultVignetteOptions returns the stage defaults.
//
// Returns:
//   - VignetteOptions: half-way midpoint, half roundness, half feather, black
func DefaultVignetteOptions() VignetteOptions {
	return VignetteOptions{
		MidPoint:  0.5,
		Roundness: 0.5,
		Feather:   0.5,
		Color:     [4]float32{0, 0, 0, 1},
	}
}

// ColorGradingOptions configures the final grading pass.
type ColorGradingOptions struct {
	// Bloom is the bloom pyramid to composite, the zero handle to disable.
	Bloom framegraph.TextureHandle

	// BloomLevels is the effective level count Bloom returned, used to
	// normalize the composite strength.
	BloomLevels uint32

	// Dirt is the lens dirt texture modulating the bloom, the zero handle to
	// disable.
	Dirt framegraph.TextureHandle

	// Lut is the packed grading cube, the zero handle to disable. The texture
	// is a 2D strip of LutSize slices, LutSize*LutSize wide and LutSize tall.
	Lut framegraph.TextureHandle

	// LutSize is the cube side of the grading LUT.
	LutSize uint32

	// BloomOptions carries the strength, blend mode and dirt strength the
	// composite uses. Sizing fields are ignored here.
	BloomOptions BloomOptions

	// VignetteEnabled turns the vignette on.
	VignetteEnabled bool

	// Vignette is the vignette shape when enabled.
	Vignette VignetteOptions

	// Fxaa makes the pass store luma in the output alpha for a following
	// antialiasing pass.
	Fxaa bool

	// Dithering applies triangle-distributed noise before quantization.
	Dithering bool

	// TemporalNoise offsets the dither pattern per frame.
	TemporalNoise float32
}
