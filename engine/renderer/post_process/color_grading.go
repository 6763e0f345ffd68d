package post_process

import (
	"github.com/chewxy/math32"

	"github.com/Carmen-Shannon/oxy-fx/common"
	"github.com/Carmen-Shannon/oxy-fx/engine/framegraph"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/material"
)

// vignetteParameters derives the shader parameter vector from the
// roundness/midpoint/feather model: a blend between rounded-rectangle and
// circular falloff with aspect correction mixed in by the circle factor. A
// disabled vignette is signaled by the half precision maximum in the midpoint
// slot, which the shader recognizes as off.
//
// Parameters:
//   - enabled: whether the vignette draws at all
//   - opts: the vignette shape
//   - width, height: the output size, for aspect correction
//
// Returns:
//   - [4]float32: {midPoint, radius, aspect, feather}
func vignetteParameters(enabled bool, opts VignetteOptions, width, height uint32) [4]float32 {
	if !enabled {
		return [4]float32{common.HalfMax, 1, 1, 1}
	}

	oval := math32.Min(opts.Roundness, 0.5) * 2.0
	circle := (math32.Max(opts.Roundness, 0.5) - 0.5) * 2.0
	roundness := (1.0-oval)*6.0 + oval

	midPoint := (1.0 - opts.MidPoint) * common.Mix(2.2, 3.0, oval) * (1.0 - 0.1*opts.Feather)
	radius := roundness * common.Mix(1.0+4.0*(1.0-opts.Feather), 1.0, math32.Sqrt(oval))
	aspect := common.Mix(1.0, float32(width)/float32(height), circle)

	return [4]float32{midPoint, radius, aspect, opts.Feather}
}

// bloomParameters derives the composite vector {bloom weight, scene weight,
// dirt strength, 0}. The interpolate mode trades scene energy for bloom
// instead of adding on top.
func bloomParameters(bloom framegraph.TextureHandle, dirt framegraph.TextureHandle, levels uint32, opts BloomOptions) [4]float32 {
	if !bloom.IsValid() || levels == 0 {
		return [4]float32{0, 1, 0, 0}
	}
	strength := opts.Strength / float32(levels)
	sceneWeight := float32(1)
	if opts.BlendMode == BloomInterpolate {
		sceneWeight = 1 - strength
	}
	dirtStrength := float32(0)
	if dirt.IsValid() {
		dirtStrength = opts.DirtStrength
	}
	return [4]float32{strength, sceneWeight, dirtStrength, 0}
}

// gradingPassData carries the grading pass's setup results into execute.
type gradingPassData struct {
	input  framegraph.TextureHandle
	bloom  framegraph.TextureHandle
	dirt   framegraph.TextureHandle
	lut    framegraph.TextureHandle
	output framegraph.TextureHandle
	target framegraph.RenderTargetHandle
}

func (m *manager) ColorGrading(fc *FrameContext, input framegraph.TextureHandle, opts ColorGradingOptions) framegraph.TextureHandle {
	desc := fc.Graph.Descriptor(input)
	w, h := desc.Width, desc.Height

	vignette := vignetteParameters(opts.VignetteEnabled, opts.Vignette, w, h)
	bloomParams := bloomParameters(opts.Bloom, opts.Dirt, opts.BloomLevels, opts.BloomOptions)

	lutSize := float32(0)
	if opts.Lut.IsValid() {
		lutSize = float32(opts.LutSize)
	}
	dithering := float32(0)
	if opts.Dithering {
		dithering = 1
	}

	pass := framegraph.AddPass(fc.Graph, "Color grading",
		func(b *framegraph.Builder, data *gradingPassData) {
			data.input = b.Read(input)
			if opts.Bloom.IsValid() {
				data.bloom = b.Read(opts.Bloom)
			}
			if opts.Dirt.IsValid() {
				data.dirt = b.Read(opts.Dirt)
			}
			if opts.Lut.IsValid() {
				data.lut = b.Read(opts.Lut)
			}
			data.output = b.CreateTexture("graded", driver.TextureDescriptor{
				Width: w, Height: h, Format: driver.FormatRGBA8,
			})
			data.output = b.Write(data.output)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:    [4]framegraph.Attachment{{Texture: data.output}},
				Viewport: driver.Viewport{Width: w, Height: h},
			})
		},
		func(r framegraph.Resources, data *gradingPassData, d driver.Driver) {
			mat := m.realize("colorGrading")
			inst := mat.Instance()
			inst.SetFloat4("bloom", bloomParams)
			inst.SetFloat4("vignette", vignette)
			inst.SetFloat4("vignetteColor", opts.Vignette.Color)
			inst.SetFloat("dithering", dithering)
			inst.SetUint("fxaa", boolToUint(opts.Fxaa))
			inst.SetFloat("temporalNoise", opts.TemporalNoise)
			inst.SetFloat("lutSize", lutSize)
			inst.SetTexture("color", r.Texture(data.input), samplerNearest)
			inst.SetTexture("bloom", m.textureOr(r, data.bloom, m.dummyZero), samplerLinear)
			inst.SetTexture("dirt", m.textureOr(r, data.dirt, m.dummyZero), samplerLinear)
			inst.SetTexture("lut", m.textureOr(r, data.lut, m.dummyZero), samplerLinear)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			inst.DisableBlending()

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})
	return pass.Data.output
}

// textureOr resolves a handle, falling back to a device default when the
// effect input is absent.
func (m *manager) textureOr(r framegraph.Resources, h framegraph.TextureHandle, fallback driver.TextureID) driver.TextureID {
	if h.IsValid() {
		return r.Texture(h)
	}
	return fallback
}

func (m *manager) ColorGradingPrepareSubpass() error {
	return m.getMaterial("colorGradingSubpass").EnsureRealized(m.driver)
}

func (m *manager) ColorGradingSubpass(input driver.TextureID, opts ColorGradingOptions) {
	mat := m.realize("colorGradingSubpass")
	inst := mat.Instance()
	dithering := float32(0)
	if opts.Dithering {
		dithering = 1
	}
	inst.SetFloat("dithering", dithering)
	inst.SetUint("fxaa", boolToUint(opts.Fxaa))
	inst.SetFloat("temporalNoise", opts.TemporalNoise)
	inst.SetTexture("color", input, samplerNearest)
	inst.SetDepthFunc(driver.CompareDisabled)
	inst.SetDepthWrite(false)
	inst.DisableBlending()

	m.driver.NextSubpass()
	inst.Draw(m.driver, material.VariantOpaque)
}
