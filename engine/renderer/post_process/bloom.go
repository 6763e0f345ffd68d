package post_process

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/Carmen-Shannon/oxy-fx/common"
	"github.com/Carmen-Shannon/oxy-fx/engine/framegraph"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/material"
)

// maxBloomLevels bounds the pyramid depth and the power-of-two sizing range.
const maxBloomLevels = 12

// bloomDimensions derives the bloom pyramid base size and the effective level
// count from the input size and options. The minor axis snaps to the
// requested resolution bounded by [2^levels, 2^12]; the major axis preserves
// the anamorphically stretched aspect. The level clamp runs after the minor
// axis is fixed, so very small targets can silently reduce the requested
// depth.
//
// Parameters:
//   - width, height: the input size in pixels
//   - opts: the bloom options
//
// Returns:
//   - uint32: the pyramid base width
//   - uint32: the pyramid base height
//   - uint32: the effective level count
func bloomDimensions(width, height uint32, opts BloomOptions) (uint32, uint32, uint32) {
	w := float32(width)
	h := float32(height)
	if opts.Anamorphism >= 1.0 {
		h *= opts.Anamorphism
	} else {
		w *= 1.0 / math32.Max(opts.Anamorphism, 1.0/4096.0)
	}

	major := math32.Max(w, h)
	minor := math32.Min(w, h)
	newMinor := common.Clamp(float32(opts.Resolution),
		float32(uint32(1)<<opts.Levels),
		math32.Min(minor, float32(uint32(1)<<maxBloomLevels)))
	newMajor := major * newMinor / minor

	var bw, bh float32
	if w >= h {
		bw, bh = newMajor, newMinor
	} else {
		bw, bh = newMinor, newMajor
	}

	levels := min(opts.Levels, uint32(common.MaxLevelCount(uint32(bw), uint32(bh))), maxBloomLevels)
	return uint32(bw), uint32(bh), max(levels, 1)
}

// bloomPassData carries a bloom pass's setup results into execute.
type bloomPassData struct {
	input  framegraph.TextureHandle
	output framegraph.TextureHandle
	target framegraph.RenderTargetHandle
}

func (m *manager) Bloom(fc *FrameContext, input framegraph.TextureHandle, format driver.TextureFormat, opts BloomOptions) (framegraph.TextureHandle, uint32) {
	desc := fc.Graph.Descriptor(input)
	bw, bh, levels := bloomDimensions(desc.Width, desc.Height, opts)

	// Heavy downscales go through a plain blit first; the first mip tap would
	// otherwise skip most of the source pixels.
	if bw*2 < desc.Width || bh*2 < desc.Height {
		input = m.OpaqueBlit(fc, input, driver.TextureDescriptor{
			Width:  bw * 2,
			Height: bh * 2,
			Format: desc.Format,
		}, driver.FilterLinear)
	}

	invHighlight := float32(0)
	if opts.Threshold {
		invHighlight = 1.0 / math32.Max(10, opts.Highlight)
	}

	bloom := m.bloomDownsamplePass(fc, input, bw, bh, levels, format, opts.Threshold, invHighlight)
	for level := uint32(1); level < levels; level++ {
		bloom = m.bloomLevelPass(fc, bloom, level, opts.Threshold, invHighlight)
	}
	for level := levels - 1; level >= 1; level-- {
		bloom = m.bloomUpsamplePass(fc, bloom, level)
	}
	return bloom, levels
}

// bloomDownsamplePass extracts level 0 of the pyramid from the source color.
func (m *manager) bloomDownsamplePass(fc *FrameContext, input framegraph.TextureHandle, w, h, levels uint32, format driver.TextureFormat, threshold bool, invHighlight float32) framegraph.TextureHandle {
	pass := framegraph.AddPass(fc.Graph, "Bloom downsample",
		func(b *framegraph.Builder, data *bloomPassData) {
			data.input = b.Read(input)
			data.output = b.CreateTexture("bloom", driver.TextureDescriptor{
				Width:  w,
				Height: h,
				Levels: uint8(levels),
				Format: format,
			})
			data.output = b.Write(data.output)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:    [4]framegraph.Attachment{{Texture: data.output}},
				Viewport: driver.Viewport{Width: w, Height: h},
			})
		},
		func(r framegraph.Resources, data *bloomPassData, d driver.Driver) {
			mat := m.realize("bloomDownsample")
			inst := mat.Instance()
			inst.SetUint("threshold", boolToUint(threshold))
			inst.SetFloat("invHighlight", invHighlight)
			inst.SetTexture("source", r.Texture(data.input), samplerLinear)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			inst.DisableBlending()

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})
	return pass.Data.output
}

// bloomLevelPass fills one pyramid level from the level above it. The
// threshold fade applies at every level, the same as the extraction pass.
func (m *manager) bloomLevelPass(fc *FrameContext, bloom framegraph.TextureHandle, level uint32, threshold bool, invHighlight float32) framegraph.TextureHandle {
	desc := fc.Graph.Descriptor(bloom)
	lw := common.ValueForLevel(int(level), desc.Width)
	lh := common.ValueForLevel(int(level), desc.Height)

	pass := framegraph.AddPass(fc.Graph, fmt.Sprintf("Bloom downsample mip %d", level),
		func(b *framegraph.Builder, data *bloomPassData) {
			b.Read(bloom)
			data.output = b.Write(bloom)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:    [4]framegraph.Attachment{{Texture: data.output, Level: uint8(level)}},
				Viewport: driver.Viewport{Width: lw, Height: lh},
			})
		},
		func(r framegraph.Resources, data *bloomPassData, d driver.Driver) {
			mat := m.realize("bloomDownsample")
			inst := mat.Instance()
			inst.SetUint("threshold", boolToUint(threshold))
			inst.SetFloat("invHighlight", invHighlight)
			inst.SetTextureRange("source", r.Texture(data.output), samplerLinear, uint8(level-1), 1)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			inst.DisableBlending()

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})
	return pass.Data.output
}

// bloomUpsamplePass composites one coarse level additively onto the next
// finer one, walking the pyramid back up so every level accumulates all the
// levels below it.
func (m *manager) bloomUpsamplePass(fc *FrameContext, bloom framegraph.TextureHandle, level uint32) framegraph.TextureHandle {
	desc := fc.Graph.Descriptor(bloom)
	dst := level - 1
	lw := common.ValueForLevel(int(dst), desc.Width)
	lh := common.ValueForLevel(int(dst), desc.Height)

	pass := framegraph.AddPass(fc.Graph, fmt.Sprintf("Bloom upsample mip %d", dst),
		func(b *framegraph.Builder, data *bloomPassData) {
			b.Read(bloom)
			data.output = b.Write(bloom)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:    [4]framegraph.Attachment{{Texture: data.output, Level: uint8(dst)}},
				Viewport: driver.Viewport{Width: lw, Height: lh},
			})
		},
		func(r framegraph.Resources, data *bloomPassData, d driver.Driver) {
			mat := m.realize("bloomUpsample")
			inst := mat.Instance()
			inst.SetTextureRange("source", r.Texture(data.output), samplerLinear, uint8(level), 1)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			inst.SetBlendFuncs(driver.BlendOne, driver.BlendOne, driver.BlendOne, driver.BlendOne)

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})
	return pass.Data.output
}
