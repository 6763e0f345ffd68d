package post_process

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/Carmen-Shannon/oxy-fx/common"
	"github.com/Carmen-Shannon/oxy-fx/engine/framegraph"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/material"
)

const (
	// dofTileSize is the CoC tile footprint in full resolution pixels. Baked
	// into the tile lookup divisions of the gather and combine shaders.
	dofTileSize = 16

	// dofMaxCoc bounds the circle of confusion in pixels. Two dilation
	// rounds over 16 pixel tiles cover exactly this radius.
	dofMaxCoc = 32

	// dofMaxMipLevels bounds the custom mip chain, which in turn fixes the
	// multiple-of-16 padding of the half resolution buffers.
	dofMaxMipLevels = 4

	// dofCocMinimum is the CoC in pixels below which a pixel counts as in
	// focus.
	dofCocMinimum = 1.0
)

// passVariant maps the translucency of the frame onto the material variant a
// stage draws with.
func passVariant(translucent bool) material.Variant {
	if translucent {
		return material.VariantTranslucent
	}
	return material.VariantOpaque
}

// dofPassData carries a depth of field pass's setup results into execute.
type dofPassData struct {
	inColor framegraph.TextureHandle
	inCoc   framegraph.TextureHandle
	inDepth framegraph.TextureHandle
	inTiles framegraph.TextureHandle

	outColor framegraph.TextureHandle
	outCoc   framegraph.TextureHandle

	target framegraph.RenderTargetHandle
}

func (m *manager) DepthOfField(fc *FrameContext, input framegraph.TextureHandle, cam CameraInfo, translucent bool, opts DepthOfFieldOptions) framegraph.TextureHandle {
	if !fc.Depth.IsValid() {
		panic("post_process: DepthOfField requires the frame depth buffer")
	}

	desc := fc.Graph.Descriptor(input)
	width, height := desc.Width, desc.Height

	// Pad to a multiple of 2^dofMaxMipLevels before halving so every mip of
	// the half resolution chain divides evenly.
	paddedW := (width + dofTileSize - 1) &^ (dofTileSize - 1)
	paddedH := (height + dofTileSize - 1) &^ (dofTileSize - 1)
	dsw, dsh := paddedW/2, paddedH/2
	mips := min(common.MaxLevelCount(dsw, dsh), dofMaxMipLevels)

	colorFormat := driver.FormatRG11B10F
	if translucent {
		colorFormat = driver.FormatRGBA16F
	}

	// Lens model. The focus plane cannot be in front of the near plane, and
	// the CoC stays in the infinite far plane approximation.
	focusDistance := math32.Max(cam.Near, cam.FocusDistance)
	apertureDiameter := cam.FocalLength / cam.Aperture
	kc := apertureDiameter * cam.FocalLength / (focusDistance - cam.FocalLength)
	ks := float32(dsh) / sensorSize
	k := opts.CocScale * ks * kc
	cocParams := [2]float32{
		k * focusDistance / cam.Near,
		k * (1 - focusDistance/cam.Near),
	}
	proj := cam.Projection
	depthScale := [2]float32{
		2 * cam.Near / proj[14],
		cam.Near * (proj[10] - 1) / proj[14],
	}

	bokehAngle := float32(math32.Pi / 6)
	if opts.MaxApertureDiameter > 0 {
		bokehAngle += (math32.Pi / 2) * common.Saturate(apertureDiameter/opts.MaxApertureDiameter)
	}

	variant := passVariant(translucent)

	// 1. Half resolution split into color and CoC.
	dofColor, dofCoc := m.dofDownsamplePass(fc, input, dsw, dsh, mips, colorFormat, variant,
		cocParams, depthScale, [2]float32{float32(2*dsw) / float32(width), float32(2*dsh) / float32(height)})

	// 2. Custom mip chain; hardware filtering would bleed across the focus
	// boundary.
	for level := 1; level < mips; level++ {
		dofColor, dofCoc = m.dofMipmapPass(fc, dofColor, dofCoc, level)
	}

	// 3. Tile min/max CoC, log2(tileSize)-1 successive reductions.
	tiles := dofCoc
	tileReductions := ilog2(dofTileSize) - 1
	for i := 1; i <= tileReductions; i++ {
		tiles = m.dofTilesPass(fc, tiles, i, paddedW>>(1+i), paddedH>>(1+i))
	}

	// 4. Exactly two dilation rounds, covering dofMaxCoc with 16px tiles.
	tiles = m.dofDilatePass(fc, tiles, 1)
	tiles = m.dofDilatePass(fc, tiles, 2)

	// 5. CoC driven gather at half resolution.
	blurred, alpha := m.dofGatherPass(fc, dofColor, dofCoc, tiles, dsw, dsh, variant, bokehAngle)

	// 6. Median filter against gather ringing.
	if opts.Filter {
		blurred, alpha = m.dofMedianPass(fc, blurred, alpha, dsw, dsh)
	}

	// 7. Composite over the sharp frame.
	return m.dofCombinePass(fc, input, blurred, alpha, tiles, variant,
		[2]float32{float32(width) / float32(2*dsw), float32(height) / float32(2*dsh)})
}

// ilog2 returns floor(log2(v)) for positive v.
func ilog2(v uint32) int {
	n := 0
	for v > 1 {
		v >>= 1
		n++
	}
	return n
}

func (m *manager) dofDownsamplePass(fc *FrameContext, input framegraph.TextureHandle, w, h uint32, mips int, colorFormat driver.TextureFormat, variant material.Variant, cocParams, depthScale, uvscale [2]float32) (framegraph.TextureHandle, framegraph.TextureHandle) {
	depth := fc.Depth
	pass := framegraph.AddPass(fc.Graph, "DoF downsample",
		func(b *framegraph.Builder, data *dofPassData) {
			data.inColor = b.Read(input)
			data.inDepth = b.Read(depth)
			data.outColor = b.CreateTexture("dof color", driver.TextureDescriptor{
				Width: w, Height: h, Levels: uint8(mips), Format: colorFormat,
			})
			data.outCoc = b.CreateTexture("dof coc", driver.TextureDescriptor{
				Width: w, Height: h, Levels: uint8(mips), Format: driver.FormatRG16F,
			})
			data.outColor = b.Write(data.outColor)
			data.outCoc = b.Write(data.outCoc)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color: [4]framegraph.Attachment{
					{Texture: data.outColor},
					{Texture: data.outCoc},
				},
				Viewport: driver.Viewport{Width: w, Height: h},
			})
		},
		func(r framegraph.Resources, data *dofPassData, d driver.Driver) {
			mat := m.realize("dofDownsample")
			inst := mat.Instance()
			inst.SetFloat2("cocParams", cocParams)
			inst.SetFloat2("cocClamp", [2]float32{-dofMaxCoc, dofMaxCoc})
			inst.SetFloat2("depthScale", depthScale)
			inst.SetFloat2("uvscale", uvscale)
			inst.SetTexture("color", r.Texture(data.inColor), samplerLinear)
			inst.SetTexture("depth", r.Texture(data.inDepth), samplerNearest)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			inst.DisableBlending()

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, variant)
			d.EndRenderPass()
		})
	return pass.Data.outColor, pass.Data.outCoc
}

func (m *manager) dofMipmapPass(fc *FrameContext, color, coc framegraph.TextureHandle, level int) (framegraph.TextureHandle, framegraph.TextureHandle) {
	desc := fc.Graph.Descriptor(color)
	lw := common.ValueForLevel(level, desc.Width)
	lh := common.ValueForLevel(level, desc.Height)
	weightScale := 0.5 / float32(uint32(1)<<uint(level-1))

	pass := framegraph.AddPass(fc.Graph, fmt.Sprintf("DoF mip %d", level),
		func(b *framegraph.Builder, data *dofPassData) {
			b.Read(color)
			b.Read(coc)
			data.outColor = b.Write(color)
			data.outCoc = b.Write(coc)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color: [4]framegraph.Attachment{
					{Texture: data.outColor, Level: uint8(level)},
					{Texture: data.outCoc, Level: uint8(level)},
				},
				Viewport: driver.Viewport{Width: lw, Height: lh},
			})
		},
		func(r framegraph.Resources, data *dofPassData, d driver.Driver) {
			mat := m.realize("dofMipmap")
			inst := mat.Instance()
			inst.SetFloat("weightScale", weightScale)
			inst.SetTextureRange("color", r.Texture(data.outColor), samplerNearest, uint8(level-1), 1)
			inst.SetTextureRange("coc", r.Texture(data.outCoc), samplerNearest, uint8(level-1), 1)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			inst.DisableBlending()

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})
	return pass.Data.outColor, pass.Data.outCoc
}

func (m *manager) dofTilesPass(fc *FrameContext, input framegraph.TextureHandle, round int, w, h uint32) framegraph.TextureHandle {
	pass := framegraph.AddPass(fc.Graph, fmt.Sprintf("DoF tiles %d", round),
		func(b *framegraph.Builder, data *dofPassData) {
			data.inCoc = b.Read(input)
			data.outCoc = b.CreateTexture("dof tiles", driver.TextureDescriptor{
				Width: w, Height: h, Format: driver.FormatRG16F,
			})
			data.outCoc = b.Write(data.outCoc)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:    [4]framegraph.Attachment{{Texture: data.outCoc}},
				Viewport: driver.Viewport{Width: w, Height: h},
			})
		},
		func(r framegraph.Resources, data *dofPassData, d driver.Driver) {
			mat := m.realize("dofTiles")
			inst := mat.Instance()
			inst.SetTextureRange("coc", r.Texture(data.inCoc), samplerNearest, 0, 1)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			inst.DisableBlending()

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})
	return pass.Data.outCoc
}

func (m *manager) dofDilatePass(fc *FrameContext, input framegraph.TextureHandle, round int) framegraph.TextureHandle {
	desc := fc.Graph.Descriptor(input)
	pass := framegraph.AddPass(fc.Graph, fmt.Sprintf("DoF dilate %d", round),
		func(b *framegraph.Builder, data *dofPassData) {
			data.inTiles = b.Read(input)
			data.outCoc = b.CreateTexture("dof tiles dilated", driver.TextureDescriptor{
				Width: desc.Width, Height: desc.Height, Format: driver.FormatRG16F,
			})
			data.outCoc = b.Write(data.outCoc)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:    [4]framegraph.Attachment{{Texture: data.outCoc}},
				Viewport: driver.Viewport{Width: desc.Width, Height: desc.Height},
			})
		},
		func(r framegraph.Resources, data *dofPassData, d driver.Driver) {
			mat := m.realize("dofDilate")
			inst := mat.Instance()
			inst.SetTexture("tiles", r.Texture(data.inTiles), samplerNearest)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			inst.DisableBlending()

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})
	return pass.Data.outCoc
}

func (m *manager) dofGatherPass(fc *FrameContext, color, coc, tiles framegraph.TextureHandle, w, h uint32, variant material.Variant, bokehAngle float32) (framegraph.TextureHandle, framegraph.TextureHandle) {
	pass := framegraph.AddPass(fc.Graph, "DoF gather",
		func(b *framegraph.Builder, data *dofPassData) {
			data.inColor = b.Read(color)
			data.inCoc = b.Read(coc)
			data.inTiles = b.Read(tiles)
			data.outColor = b.CreateTexture("dof blurred", driver.TextureDescriptor{
				Width: w, Height: h, Format: driver.FormatRGBA16F,
			})
			data.outCoc = b.CreateTexture("dof alpha", driver.TextureDescriptor{
				Width: w, Height: h, Format: driver.FormatR8,
			})
			data.outColor = b.Write(data.outColor)
			data.outCoc = b.Write(data.outCoc)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color: [4]framegraph.Attachment{
					{Texture: data.outColor},
					{Texture: data.outCoc},
				},
				Viewport: driver.Viewport{Width: w, Height: h},
			})
		},
		func(r framegraph.Resources, data *dofPassData, d driver.Driver) {
			mat := m.realize("dof")
			inst := mat.Instance()
			inst.SetFloat2("cocToTexelScale", [2]float32{1 / float32(w), 1 / float32(h)})
			inst.SetFloat2("bokehAngleCosSin", [2]float32{math32.Cos(bokehAngle), math32.Sin(bokehAngle)})
			inst.SetFloat("cocMinimum", dofCocMinimum)
			inst.SetTexture("color", r.Texture(data.inColor), samplerLinearMipNearest)
			inst.SetTexture("coc", r.Texture(data.inCoc), samplerNearestMipNearest)
			inst.SetTexture("tiles", r.Texture(data.inTiles), samplerNearest)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			inst.DisableBlending()

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, variant)
			d.EndRenderPass()
		})
	return pass.Data.outColor, pass.Data.outCoc
}

func (m *manager) dofMedianPass(fc *FrameContext, color, alpha framegraph.TextureHandle, w, h uint32) (framegraph.TextureHandle, framegraph.TextureHandle) {
	pass := framegraph.AddPass(fc.Graph, "DoF median",
		func(b *framegraph.Builder, data *dofPassData) {
			data.inColor = b.Read(color)
			data.inCoc = b.Read(alpha)
			data.outColor = b.CreateTexture("dof filtered", driver.TextureDescriptor{
				Width: w, Height: h, Format: driver.FormatRGBA16F,
			})
			data.outCoc = b.CreateTexture("dof filtered alpha", driver.TextureDescriptor{
				Width: w, Height: h, Format: driver.FormatR8,
			})
			data.outColor = b.Write(data.outColor)
			data.outCoc = b.Write(data.outCoc)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color: [4]framegraph.Attachment{
					{Texture: data.outColor},
					{Texture: data.outCoc},
				},
				Viewport: driver.Viewport{Width: w, Height: h},
			})
		},
		func(r framegraph.Resources, data *dofPassData, d driver.Driver) {
			mat := m.realize("dofMedian")
			inst := mat.Instance()
			inst.SetTexture("color", r.Texture(data.inColor), samplerNearest)
			inst.SetTexture("alpha", r.Texture(data.inCoc), samplerNearest)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			inst.DisableBlending()

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})
	return pass.Data.outColor, pass.Data.outCoc
}

func (m *manager) dofCombinePass(fc *FrameContext, input, blurred, alpha, tiles framegraph.TextureHandle, variant material.Variant, uvscale [2]float32) framegraph.TextureHandle {
	desc := fc.Graph.Descriptor(input)
	pass := framegraph.AddPass(fc.Graph, "DoF combine",
		func(b *framegraph.Builder, data *dofPassData) {
			data.inColor = b.Read(input)
			data.inCoc = b.Read(blurred)
			b.Read(alpha)
			data.inTiles = b.Read(tiles)
			data.outColor = b.CreateTexture("dof output", driver.TextureDescriptor{
				Width: desc.Width, Height: desc.Height, Format: desc.Format,
			})
			data.outColor = b.Write(data.outColor)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:    [4]framegraph.Attachment{{Texture: data.outColor}},
				Viewport: driver.Viewport{Width: desc.Width, Height: desc.Height},
			})
		},
		func(r framegraph.Resources, data *dofPassData, d driver.Driver) {
			mat := m.realize("dofCombine")
			inst := mat.Instance()
			inst.SetFloat2("uvscale", uvscale)
			inst.SetTexture("color", r.Texture(data.inColor), samplerNearest)
			inst.SetTexture("dof", r.Texture(data.inCoc), samplerLinear)
			inst.SetTexture("tiles", r.Texture(data.inTiles), samplerNearest)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			inst.DisableBlending()

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, variant)
			d.EndRenderPass()
		})
	return pass.Data.outColor
}
