package post_process

import (
	"github.com/chewxy/math32"

	"github.com/Carmen-Shannon/oxy-fx/engine/framegraph"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/material"
)

// saoQuality fixes the sample and spiral turn counts per quality tier.
var saoQuality = map[QualityLevel]struct {
	sampleCount float32
	spiralTurns float32
}{
	QualityLow:    {7, 5},
	QualityMedium: {11, 9},
	QualityHigh:   {16, 10},
	QualityUltra:  {32, 14},
}

// bilateralTaps fixes the blur kernel radius per low-pass quality tier. The
// shader compiles a fixed maximum; smaller tiers zero-weight the tail.
var bilateralTaps = map[QualityLevel]int{
	QualityLow:    3,
	QualityMedium: 6,
	QualityHigh:   6,
	QualityUltra:  6,
}

// ssaoPassData carries an occlusion pass's setup results into execute.
type ssaoPassData struct {
	structure framegraph.TextureHandle
	output    framegraph.TextureHandle
	target    framegraph.RenderTargetHandle
}

func (m *manager) ScreenSpaceAmbientOcclusion(fc *FrameContext, cam CameraInfo, opts AmbientOcclusionOptions) framegraph.TextureHandle {
	if !fc.Structure.IsValid() {
		panic("post_process: ScreenSpaceAmbientOcclusion requires the structure pyramid")
	}

	desc := fc.Graph.Descriptor(fc.Structure)
	w, h := desc.Width, desc.Height
	levels := desc.LevelCount()

	q := saoQuality[opts.Quality]
	peak := 0.1 * opts.Radius
	intensity := 2 * math32.Pi * peak * opts.Intensity * 3.0
	power := opts.Power * 2.0
	inc := 2 * math32.Pi * q.spiralTurns / (q.sampleCount - 0.5)
	proj := cam.Projection
	projScale := math32.Min(0.5*proj[0]*float32(w), 0.5*proj[5]*float32(h))

	structure := fc.Structure
	pass := framegraph.AddPass(fc.Graph, "SSAO",
		func(b *framegraph.Builder, data *ssaoPassData) {
			data.structure = b.Read(structure)
			data.output = b.CreateTexture("ssao", driver.TextureDescriptor{
				Width:  w,
				Height: h,
				Format: driver.FormatRGBA8,
			})
			data.output = b.Write(data.output)
			// The pyramid's base level doubles as the depth test so sky pixels
			// keep the cleared 1.0; translucents may read outside the tested
			// region later.
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:         [4]framegraph.Attachment{{Texture: data.output}},
				Depth:         framegraph.Attachment{Texture: data.structure},
				ClearFlags:    driver.TargetBufferColor,
				ClearColor:    [4]float32{1, 1, 1, 1},
				Viewport:      driver.Viewport{Width: w, Height: h},
				ReadOnlyDepth: true,
			})
		},
		func(r framegraph.Resources, data *ssaoPassData, d driver.Driver) {
			mat := m.realize("sao")
			inst := mat.Instance()
			inst.SetFloat4("resolution", [4]float32{float32(w), float32(h), 1 / float32(w), 1 / float32(h)})
			inst.SetFloat2("positionParams", [2]float32{2 / proj[0], 2 / proj[5]})
			inst.SetFloat2("depthParams", [2]float32{-proj[14] * 0.5, (proj[10] - 1) * 0.5})
			inst.SetFloat2("sampleCount", [2]float32{q.sampleCount, 1 / (q.sampleCount - 0.5)})
			inst.SetFloat2("angleIncCosSin", [2]float32{math32.Cos(inc), math32.Sin(inc)})
			inst.SetFloat("invRadiusSquared", 1/(opts.Radius*opts.Radius))
			inst.SetFloat("projectionScaleRadius", projScale*opts.Radius)
			inst.SetFloat("peak2", peak*peak)
			inst.SetFloat("bias", opts.Bias)
			inst.SetFloat("power", power)
			inst.SetFloat("intensity", intensity)
			inst.SetFloat("invFarPlane", 1/-cam.Far)
			inst.SetUint("maxLevel", uint32(levels-1))
			inst.SetTexture("depth", r.Texture(data.structure), samplerNearestMipNearest)
			inst.SetDepthFunc(driver.CompareGreater)
			inst.SetDepthWrite(false)

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})

	ssao := pass.Data.output

	// Two depth-aware passes, horizontal then vertical. The vertical pass can
	// drop to a single channel unless the buffer will be upsampled with the
	// high quality path at sub-native resolution.
	format := driver.FormatR8
	if opts.Upsampling >= QualityHigh && opts.Resolution < 1.0 {
		format = driver.FormatRGBA8
	}
	ssao = m.bilateralBlurPass(fc, ssao, [2]float32{1, 0}, driver.FormatRGBA8, cam.Far, opts.LowPass)
	ssao = m.bilateralBlurPass(fc, ssao, [2]float32{0, 1}, format, cam.Far, opts.LowPass)

	fc.SSAO = ssao
	fc.Graph.Blackboard().Put("ssao", ssao)
	return ssao
}

// bilateralPassData carries a bilateral pass's setup results into execute.
type bilateralPassData struct {
	input     framegraph.TextureHandle
	structure framegraph.TextureHandle
	output    framegraph.TextureHandle
	target    framegraph.RenderTargetHandle
}

// bilateralBlurPass blurs the occlusion buffer along one axis, weighting taps
// by their packed depth difference so occlusion does not bleed across edges.
func (m *manager) bilateralBlurPass(fc *FrameContext, input framegraph.TextureHandle, axis [2]float32, format driver.TextureFormat, far float32, lowPass QualityLevel) framegraph.TextureHandle {
	desc := fc.Graph.Descriptor(input)
	w, h := desc.Width, desc.Height
	structure := fc.Structure
	taps := bilateralTaps[lowPass]

	pass := framegraph.AddPass(fc.Graph, "Bilateral blur",
		func(b *framegraph.Builder, data *bilateralPassData) {
			data.input = b.Read(input)
			data.structure = b.Read(structure)
			data.output = b.CreateTexture("ssao blurred", driver.TextureDescriptor{
				Width:  w,
				Height: h,
				Format: format,
			})
			data.output = b.Write(data.output)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:         [4]framegraph.Attachment{{Texture: data.output}},
				Depth:         framegraph.Attachment{Texture: data.structure},
				ClearFlags:    driver.TargetBufferColor,
				ClearColor:    [4]float32{1, 1, 1, 1},
				Viewport:      driver.Viewport{Width: w, Height: h},
				ReadOnlyDepth: true,
			})
		},
		func(r framegraph.Resources, data *bilateralPassData, d driver.Driver) {
			mat := m.realize("bilateralBlur")
			inst := mat.Instance()
			inst.SetFloat2("axis", axis)
			inst.SetFloat("farPlaneOverEdgeDistance", -far/0.0625)
			inst.SetInt("sampleCount", int32(taps))
			inst.SetTexture("ssao", r.Texture(data.input), samplerNearest)
			inst.SetDepthFunc(driver.CompareGreater)
			inst.SetDepthWrite(false)

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})

	return pass.Data.output
}
