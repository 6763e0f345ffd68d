package post_process

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Carmen-Shannon/oxy-fx/common"
	"github.com/Carmen-Shannon/oxy-fx/engine/framegraph"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
)

func newTestPipeline(t *testing.T) (driver.NullDriver, Manager, *FrameContext) {
	t.Helper()
	d := driver.NewNullDriver()
	m := NewManager(d)
	require.NoError(t, m.Init())
	t.Cleanup(m.Terminate)
	return d, m, &FrameContext{Graph: framegraph.NewGraph()}
}

// sinkPass keeps a stage's output alive through culling so tests can execute
// the graph and observe the recorded device calls.
func sinkPass(g *framegraph.Graph, h framegraph.TextureHandle) {
	framegraph.AddPass(g, "sink",
		func(b *framegraph.Builder, _ *struct{}) {
			b.Read(h)
			b.SideEffect()
		},
		func(framegraph.Resources, *struct{}, driver.Driver) {})
}

// drawKeys maps every recorded draw to the key its program was compiled under.
func drawKeys(t *testing.T, d driver.NullDriver) []string {
	t.Helper()
	keys := make([]string, 0, len(d.Draws()))
	for _, rec := range d.Draws() {
		key, ok := d.ProgramKey(rec.Pipeline.Program)
		require.True(t, ok)
		keys = append(keys, key)
	}
	return keys
}

func countKey(keys []string, key string) int {
	n := 0
	for _, k := range keys {
		if k == key {
			n++
		}
	}
	return n
}

// uniformValue decodes one 32-bit uniform member from a recorded draw.
func uniformValue(t *testing.T, m Manager, materialName, member string, uniforms []byte) uint32 {
	t.Helper()
	mem, ok := m.(*manager).getMaterial(materialName).Reflect(member)
	require.True(t, ok, "material %s has no member %q", materialName, member)
	return binary.LittleEndian.Uint32(uniforms[mem.Offset:])
}

func uniformFloat(t *testing.T, m Manager, materialName, member string, uniforms []byte) float32 {
	t.Helper()
	return math.Float32frombits(uniformValue(t, m, materialName, member, uniforms))
}

func testCamera(width, height uint32) CameraInfo {
	var proj [16]float32
	common.Perspective(proj[:], 1.0, float32(width)/float32(height), 0.1, 100)
	return CameraInfo{
		Projection:    proj,
		Near:          0.1,
		Far:           100,
		Aperture:      1.4,
		FocalLength:   0.028,
		FocusDistance: 2,
	}
}

func noopDepthRender(driver.Driver, driver.Viewport) {}

func TestStructureLevelCount(t *testing.T) {
	_, m, fc := newTestPipeline(t)

	h := m.Structure(fc, 1920, 1080, 1.0, noopDepthRender)
	desc := fc.Graph.Descriptor(h)

	want := common.MaxLevelCount(1920, 1080) - 5
	require.GreaterOrEqual(t, want, 1)
	assert.Equal(t, want, desc.LevelCount())
	assert.Equal(t, uint32(1920), desc.Width)
	assert.Equal(t, uint32(1080), desc.Height)
	assert.Equal(t, driver.FormatDepth24, desc.Format)
	assert.Equal(t, h, fc.Structure)
}

func TestStructureFloorsTinyTargets(t *testing.T) {
	_, m, fc := newTestPipeline(t)

	h := m.Structure(fc, 100, 100, 0.1, noopDepthRender)
	desc := fc.Graph.Descriptor(h)

	assert.Equal(t, uint32(32), desc.Width)
	assert.Equal(t, uint32(32), desc.Height)
	assert.Equal(t, 1, desc.LevelCount())
}

func TestSSAOGraphShape(t *testing.T) {
	d, m, fc := newTestPipeline(t)
	cam := testCamera(1920, 1080)

	m.Structure(fc, 1920, 1080, 1.0, noopDepthRender)
	opts := DefaultAmbientOcclusionOptions()
	opts.Radius = 1.0
	opts.Power = 1.0
	opts.Bias = 0
	opts.Quality = QualityMedium
	ssao := m.ScreenSpaceAmbientOcclusion(fc, cam, opts)
	sinkPass(fc.Graph, ssao)

	require.NoError(t, fc.Graph.Compile().Execute(d))

	keys := drawKeys(t, d)
	assert.Equal(t, 1, countKey(keys, "sao"))
	assert.Equal(t, 2, countKey(keys, "bilateralBlur"))

	// The default options downgrade the second blur output to one channel.
	assert.Equal(t, driver.FormatR8, fc.Graph.Descriptor(ssao).Format)

	// Occlusion buffers clear to full visibility so sky pixels, skipped by
	// the depth test, read as unoccluded.
	cleared := 0
	for _, pass := range d.Passes() {
		if pass.Params.ClearFlags&driver.TargetBufferColor != 0 &&
			pass.Params.ClearColor == [4]float32{1, 1, 1, 1} {
			cleared++
		}
	}
	assert.Equal(t, 3, cleared)

	// Only the manager's dummy textures outlive the graph.
	assert.Equal(t, 2, d.LiveTextures())
	assert.Zero(t, d.LiveRenderTargets())
}

func TestSSAOKeepsWideFormatForHighQualityUpsampling(t *testing.T) {
	_, m, fc := newTestPipeline(t)
	cam := testCamera(1280, 720)

	m.Structure(fc, 1280, 720, 0.5, noopDepthRender)
	opts := DefaultAmbientOcclusionOptions()
	opts.Upsampling = QualityHigh
	opts.Resolution = 0.5
	ssao := m.ScreenSpaceAmbientOcclusion(fc, cam, opts)

	assert.Equal(t, driver.FormatRGBA8, fc.Graph.Descriptor(ssao).Format)
}

func TestSSAOQualityTable(t *testing.T) {
	assert.Equal(t, float32(7), saoQuality[QualityLow].sampleCount)
	assert.Equal(t, float32(5), saoQuality[QualityLow].spiralTurns)
	assert.Equal(t, float32(11), saoQuality[QualityMedium].sampleCount)
	assert.Equal(t, float32(9), saoQuality[QualityMedium].spiralTurns)
	assert.Equal(t, float32(16), saoQuality[QualityHigh].sampleCount)
	assert.Equal(t, float32(10), saoQuality[QualityHigh].spiralTurns)
	assert.Equal(t, float32(32), saoQuality[QualityUltra].sampleCount)
	assert.Equal(t, float32(14), saoQuality[QualityUltra].spiralTurns)
}

func TestSaoSpiralUsesPrecomputedAngleIncrement(t *testing.T) {
	d, m, fc := newTestPipeline(t)
	cam := testCamera(1920, 1080)

	m.Structure(fc, 1920, 1080, 1.0, noopDepthRender)
	opts := DefaultAmbientOcclusionOptions()
	opts.Quality = QualityMedium
	ssao := m.ScreenSpaceAmbientOcclusion(fc, cam, opts)
	sinkPass(fc.Graph, ssao)
	require.NoError(t, fc.Graph.Compile().Execute(d))

	var sao *driver.DrawRecord
	for n, rec := range d.Draws() {
		if key, _ := d.ProgramKey(rec.Pipeline.Program); key == "sao" {
			sao = &d.Draws()[n]
		}
	}
	require.NotNil(t, sao)

	// The spiral step angle arrives as a cos/sin pair so the shader rotates
	// each tap incrementally instead of evaluating trig per sample.
	mem, ok := m.(*manager).getMaterial("sao").Reflect("angleIncCosSin")
	require.True(t, ok)
	inc := 2 * math32.Pi * 9.0 / (11.0 - 0.5)
	cos := math.Float32frombits(binary.LittleEndian.Uint32(sao.Uniforms[mem.Offset:]))
	sin := math.Float32frombits(binary.LittleEndian.Uint32(sao.Uniforms[mem.Offset+4:]))
	assert.InDelta(t, math32.Cos(inc), cos, 1e-6)
	assert.InDelta(t, math32.Sin(inc), sin, 1e-6)

	src := readShader("sao.wgsl")
	assert.True(t, strings.Contains(src, "params.angleIncCosSin"), "spiral does not consume the increment pair")
	assert.False(t, strings.Contains(src, "spiralTurns"), "turn count belongs in the precomputed increment")
}

func TestBloomSizingPreservesAspect(t *testing.T) {
	opts := DefaultBloomOptions()
	w, h, levels := bloomDimensions(1920, 1080, opts)

	assert.Equal(t, uint32(360), h, "minor axis snaps to the requested resolution")
	assert.Equal(t, uint32(640), w, "major axis preserves the input aspect")
	assert.Equal(t, uint32(6), levels)
}

func TestBloomSizingAnamorphic(t *testing.T) {
	opts := DefaultBloomOptions()
	sw, sh, _ := bloomDimensions(1920, 1080, opts)

	opts.Anamorphism = 2.0
	aw, ah, _ := bloomDimensions(1920, 1080, opts)

	// Stretching doubles the height-to-width ratio of the pyramid.
	symmetric := float32(sh) / float32(sw)
	anamorphic := float32(ah) / float32(aw)
	assert.InDelta(t, 2*symmetric, anamorphic, 0.01)
}

func TestBloomSizingClampsLevelsOnSmallTargets(t *testing.T) {
	opts := DefaultBloomOptions()
	opts.Levels = 12
	opts.Resolution = 4096
	_, _, levels := bloomDimensions(64, 64, opts)
	assert.LessOrEqual(t, levels, uint32(common.MaxLevelCount(64, 64)))
	assert.GreaterOrEqual(t, levels, uint32(1))
}

func TestBloomReturnsEffectiveLevels(t *testing.T) {
	d, m, fc := newTestPipeline(t)

	id, err := d.CreateTexture(driver.TextureDescriptor{Width: 1920, Height: 1080, Format: driver.FormatRGBA16F})
	require.NoError(t, err)
	input := fc.Graph.Import("scene", driver.TextureDescriptor{Width: 1920, Height: 1080, Format: driver.FormatRGBA16F}, id)

	bloom, levels := m.Bloom(fc, input, driver.FormatRG11B10F, DefaultBloomOptions())
	sinkPass(fc.Graph, bloom)
	require.NoError(t, fc.Graph.Compile().Execute(d))

	assert.Equal(t, uint32(6), levels)
	assert.Equal(t, 6, fc.Graph.Descriptor(bloom).LevelCount())

	keys := drawKeys(t, d)
	// One extraction draw plus one per further level down, one per level up.
	assert.Equal(t, 6, countKey(keys, "bloomDownsample"))
	assert.Equal(t, 5, countKey(keys, "bloomUpsample"))
}

func TestBloomThresholdAppliesToEveryDownsampleLevel(t *testing.T) {
	d, m, fc := newTestPipeline(t)

	id, err := d.CreateTexture(driver.TextureDescriptor{Width: 1920, Height: 1080, Format: driver.FormatRGBA16F})
	require.NoError(t, err)
	input := fc.Graph.Import("scene", driver.TextureDescriptor{Width: 1920, Height: 1080, Format: driver.FormatRGBA16F}, id)

	opts := DefaultBloomOptions()
	require.True(t, opts.Threshold)
	bloom, _ := m.Bloom(fc, input, driver.FormatRG11B10F, opts)
	sinkPass(fc.Graph, bloom)
	require.NoError(t, fc.Graph.Compile().Execute(d))

	// The highlight fade runs on every level of the downsample chain, not
	// just the extraction from the scene color.
	downsamples := 0
	for _, rec := range d.Draws() {
		key, ok := d.ProgramKey(rec.Pipeline.Program)
		require.True(t, ok)
		if key != "bloomDownsample" {
			continue
		}
		downsamples++
		assert.EqualValues(t, 1, uniformValue(t, m, "bloomDownsample", "threshold", rec.Uniforms),
			"downsample draw %d has threshold disabled", downsamples-1)
		assert.InDelta(t, 1.0/opts.Highlight, uniformFloat(t, m, "bloomDownsample", "invHighlight", rec.Uniforms), 1e-9)
	}
	assert.Equal(t, 6, downsamples)
}

func TestDofPassStructure(t *testing.T) {
	d, m, fc := newTestPipeline(t)
	cam := testCamera(1920, 1080)

	colorID, err := d.CreateTexture(driver.TextureDescriptor{Width: 1920, Height: 1080, Format: driver.FormatRGBA16F})
	require.NoError(t, err)
	depthID, err := d.CreateTexture(driver.TextureDescriptor{Width: 1920, Height: 1080, Format: driver.FormatDepth32F})
	require.NoError(t, err)
	input := fc.Graph.Import("scene", driver.TextureDescriptor{Width: 1920, Height: 1080, Format: driver.FormatRGBA16F}, colorID)
	fc.Depth = fc.Graph.Import("depth", driver.TextureDescriptor{Width: 1920, Height: 1080, Format: driver.FormatDepth32F}, depthID)

	out := m.DepthOfField(fc, input, cam, false, DefaultDepthOfFieldOptions())
	sinkPass(fc.Graph, out)
	require.NoError(t, fc.Graph.Compile().Execute(d))

	keys := drawKeys(t, d)
	assert.Equal(t, 1, countKey(keys, "dofDownsample"))
	assert.Equal(t, 3, countKey(keys, "dofMipmap"), "half-res chain carries 4 levels")
	assert.Equal(t, 3, countKey(keys, "dofTiles"), "log2(16)-1 reductions")
	assert.Equal(t, 2, countKey(keys, "dofDilate"), "always exactly two rounds")
	assert.Equal(t, 1, countKey(keys, "dof"))
	assert.Equal(t, 1, countKey(keys, "dofMedian"))
	assert.Equal(t, 1, countKey(keys, "dofCombine"))

	desc := fc.Graph.Descriptor(out)
	assert.Equal(t, uint32(1920), desc.Width)
	assert.Equal(t, uint32(1080), desc.Height)
}

func TestDofSkipsMedianWhenUnfiltered(t *testing.T) {
	d, m, fc := newTestPipeline(t)
	cam := testCamera(1280, 720)

	colorID, err := d.CreateTexture(driver.TextureDescriptor{Width: 1280, Height: 720, Format: driver.FormatRG11B10F})
	require.NoError(t, err)
	depthID, err := d.CreateTexture(driver.TextureDescriptor{Width: 1280, Height: 720, Format: driver.FormatDepth32F})
	require.NoError(t, err)
	input := fc.Graph.Import("scene", driver.TextureDescriptor{Width: 1280, Height: 720, Format: driver.FormatRG11B10F}, colorID)
	fc.Depth = fc.Graph.Import("depth", driver.TextureDescriptor{Width: 1280, Height: 720, Format: driver.FormatDepth32F}, depthID)

	opts := DefaultDepthOfFieldOptions()
	opts.Filter = false
	out := m.DepthOfField(fc, input, cam, false, opts)
	sinkPass(fc.Graph, out)
	require.NoError(t, fc.Graph.Compile().Execute(d))

	keys := drawKeys(t, d)
	assert.Zero(t, countKey(keys, "dofMedian"))
	assert.Equal(t, 2, countKey(keys, "dofDilate"))
}

func TestResolveIsNoopForSingleSample(t *testing.T) {
	d, m, fc := newTestPipeline(t)

	id, err := d.CreateTexture(driver.TextureDescriptor{Width: 800, Height: 600, Format: driver.FormatRGBA8})
	require.NoError(t, err)
	input := fc.Graph.Import("scene", driver.TextureDescriptor{Width: 800, Height: 600, Format: driver.FormatRGBA8}, id)

	assert.Equal(t, input, m.Resolve(fc, input))
}

func TestResolveMultisampled(t *testing.T) {
	d, m, fc := newTestPipeline(t)

	desc := driver.TextureDescriptor{Width: 800, Height: 600, Format: driver.FormatRGBA8, Samples: 4}
	id, err := d.CreateTexture(desc)
	require.NoError(t, err)
	input := fc.Graph.Import("scene", desc, id)

	out := m.Resolve(fc, input)
	require.NotEqual(t, input, out)

	outDesc := fc.Graph.Descriptor(out)
	assert.Equal(t, uint32(800), outDesc.Width)
	assert.Equal(t, uint32(600), outDesc.Height)
	assert.Equal(t, driver.FormatRGBA8, outDesc.Format)
	assert.Equal(t, 1, outDesc.SampleCount())
	assert.Equal(t, 1, outDesc.LevelCount())

	sinkPass(fc.Graph, out)
	require.NoError(t, fc.Graph.Compile().Execute(d))
	require.Len(t, d.Blits(), 1)
	assert.Equal(t, driver.TargetBufferColor, d.Blits()[0].Flags)
}

func TestOpaqueBlitRejectsMultisampledDestination(t *testing.T) {
	d, m, fc := newTestPipeline(t)

	id, err := d.CreateTexture(driver.TextureDescriptor{Width: 64, Height: 64, Format: driver.FormatRGBA8})
	require.NoError(t, err)
	input := fc.Graph.Import("scene", driver.TextureDescriptor{Width: 64, Height: 64, Format: driver.FormatRGBA8}, id)

	assert.Panics(t, func() {
		m.OpaqueBlit(fc, input, driver.TextureDescriptor{Width: 64, Height: 64, Format: driver.FormatRGBA8, Samples: 4}, driver.FilterNearest)
	})
}

func TestVignetteDisabledSentinel(t *testing.T) {
	params := vignetteParameters(false, DefaultVignetteOptions(), 1920, 1080)
	assert.Equal(t, common.HalfMax, params[0])

	enabled := vignetteParameters(true, DefaultVignetteOptions(), 1920, 1080)
	assert.Less(t, enabled[0], float32(4), "enabled midpoints stay in a small bounded range")
	assert.Greater(t, enabled[0], float32(0))
}

func TestBloomParametersInterpolate(t *testing.T) {
	_, m, fc := newTestPipeline(t)
	_ = m

	id := framegraph.TextureHandle{}
	assert.Equal(t, [4]float32{0, 1, 0, 0}, bloomParameters(id, id, 0, DefaultBloomOptions()))

	texID, err := driver.NewNullDriver().CreateTexture(driver.TextureDescriptor{Width: 4, Height: 4, Format: driver.FormatRGBA8})
	require.NoError(t, err)
	bloom := fc.Graph.Import("bloom", driver.TextureDescriptor{Width: 4, Height: 4, Format: driver.FormatRGBA8}, texID)

	opts := DefaultBloomOptions()
	opts.Strength = 0.6
	opts.BlendMode = BloomInterpolate
	params := bloomParameters(bloom, framegraph.TextureHandle{}, 6, opts)
	assert.InDelta(t, 0.1, params[0], 1e-6)
	assert.InDelta(t, 0.9, params[1], 1e-6)
	assert.Zero(t, params[2])
}

func TestColorGradingEndToEnd(t *testing.T) {
	d, m, fc := newTestPipeline(t)

	id, err := d.CreateTexture(driver.TextureDescriptor{Width: 1280, Height: 720, Format: driver.FormatRGBA16F})
	require.NoError(t, err)
	input := fc.Graph.Import("scene", driver.TextureDescriptor{Width: 1280, Height: 720, Format: driver.FormatRGBA16F}, id)

	bloom, levels := m.Bloom(fc, input, driver.FormatRG11B10F, DefaultBloomOptions())
	out := m.ColorGrading(fc, input, ColorGradingOptions{
		Bloom:           bloom,
		BloomLevels:     levels,
		BloomOptions:    DefaultBloomOptions(),
		VignetteEnabled: true,
		Vignette:        DefaultVignetteOptions(),
		Fxaa:            true,
		Dithering:       true,
	})
	out = m.Fxaa(fc, out, false)
	sinkPass(fc.Graph, out)
	require.NoError(t, fc.Graph.Compile().Execute(d))

	keys := drawKeys(t, d)
	assert.Equal(t, 1, countKey(keys, "colorGrading"))
	assert.Equal(t, 1, countKey(keys, "fxaa"))
	assert.Equal(t, driver.FormatRGBA8, fc.Graph.Descriptor(out).Format)
}

func TestPrecompileRealizesAllMaterials(t *testing.T) {
	d := driver.NewNullDriver()
	m := NewManager(d, WithPrecompileWorkers(4))
	require.NoError(t, m.Init())
	defer m.Terminate()

	require.NoError(t, m.Precompile())

	// Realization is idempotent afterwards.
	require.NoError(t, m.Precompile())
}
