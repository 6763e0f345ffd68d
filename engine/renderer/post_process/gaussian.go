package post_process

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/Carmen-Shannon/oxy-fx/common"
	"github.com/Carmen-Shannon/oxy-fx/engine/framegraph"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/material"
)

// gaussianKernel derives the merged-tap separable kernel: adjacent tap pairs
// at offsets (2i-1, 2i) collapse into one bilinear fetch between them, halving
// the fetch count for the same effective width. Element x is the pair weight,
// element y the fetch offset in texels. Weights are normalized so the full
// mirrored kernel sums to 1.
//
// Parameters:
//   - kernelWidth: the effective kernel width in taps, odd
//   - sigmaRatio: kernel width to sigma ratio
//   - storage: the number of elements the uniform array can hold
//
// Returns:
//   - [][2]float32: the packed kernel, center first
func gaussianKernel(kernelWidth int, sigmaRatio float32, storage int) [][2]float32 {
	sigma := (float32(kernelWidth) + 1) / sigmaRatio
	alpha := 1 / (2 * sigma * sigma)

	m := min(storage, (kernelWidth-1)/4+1)
	kernel := make([][2]float32, m)
	kernel[0] = [2]float32{1, 0}
	totalWeight := kernel[0][0]

	for i := 1; i < m; i++ {
		x0 := float32(i*2 - 1)
		x1 := float32(i * 2)
		k0 := math32.Exp(-alpha * x0 * x0)
		k1 := math32.Exp(-alpha * x1 * x1)
		k := k0 + k1
		o := k1 / k
		kernel[i] = [2]float32{k, x0 + o}
		totalWeight += 2 * k
	}
	for i := range kernel {
		kernel[i][0] /= totalWeight
	}
	return kernel
}

// gaussianPassData carries a blur pass's setup results into execute.
type gaussianPassData struct {
	input  framegraph.TextureHandle
	temp   framegraph.TextureHandle
	output framegraph.TextureHandle
	horiz  framegraph.RenderTargetHandle
	vert   framegraph.RenderTargetHandle
}

func (m *manager) GenerateGaussianMipmap(fc *FrameContext, input framegraph.TextureHandle, levels int, reinhard bool, kernelWidth int, sigmaRatio float32) framegraph.TextureHandle {
	for level := 1; level < levels; level++ {
		input = m.gaussianBlurPass(fc, input, level, reinhard && level == 1, kernelWidth, sigmaRatio)
	}
	return input
}

// gaussianBlurPass blurs one mip level into the next: a horizontal pass into a
// temporary sized destination-width by source-height, then a vertical pass
// from the temporary into the destination level.
func (m *manager) gaussianBlurPass(fc *FrameContext, input framegraph.TextureHandle, dstLevel int, reinhard bool, kernelWidth int, sigmaRatio float32) framegraph.TextureHandle {
	desc := fc.Graph.Descriptor(input)
	srcLevel := dstLevel - 1
	srcH := common.ValueForLevel(srcLevel, desc.Height)
	dstW := common.ValueForLevel(dstLevel, desc.Width)
	dstH := common.ValueForLevel(dstLevel, desc.Height)

	pass := framegraph.AddPass(fc.Graph, fmt.Sprintf("Gaussian mip %d", dstLevel),
		func(b *framegraph.Builder, data *gaussianPassData) {
			data.input = b.Read(input)
			data.temp = b.CreateTexture("gaussian temp", driver.TextureDescriptor{
				Width:  dstW,
				Height: srcH,
				Format: desc.Format,
			})
			data.temp = b.Write(data.temp)
			data.horiz = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:    [4]framegraph.Attachment{{Texture: data.temp}},
				Viewport: driver.Viewport{Width: dstW, Height: srcH},
			})

			b.Read(data.temp)
			data.output = b.Write(input)
			data.vert = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:    [4]framegraph.Attachment{{Texture: data.output, Level: uint8(dstLevel)}},
				Viewport: driver.Viewport{Width: dstW, Height: dstH},
			})
		},
		func(r framegraph.Resources, data *gaussianPassData, d driver.Driver) {
			mat := m.realize("separableGaussianBlur")

			storage := 64
			if member, ok := mat.Reflect("kernel"); ok && member.ArrayLen > 0 {
				storage = min(storage, member.ArrayLen)
			}
			kernel := gaussianKernel(kernelWidth, sigmaRatio, storage)

			inst := mat.Instance()
			inst.SetFloat2Array("kernel", kernel)
			inst.SetInt("count", int32(len(kernel)))
			inst.SetUint("reinhard", boolToUint(reinhard))
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)

			// Horizontal, reading the source level of the chain.
			inst.SetFloat2("axis", [2]float32{1, 0})
			inst.SetFloat("level", float32(srcLevel))
			inst.SetTexture("source", r.Texture(data.input), samplerLinearMipNearest)
			d.BeginRenderPass(r.RenderTarget(data.horiz), r.RenderPassParams(data.horiz))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()

			// Vertical, from the temporary into the destination level. The
			// compression ran in the first leg; running it twice would darken.
			inst.SetFloat2("axis", [2]float32{0, 1})
			inst.SetFloat("level", 0)
			inst.SetUint("reinhard", 0)
			inst.SetTexture("source", r.Texture(data.temp), samplerLinearMipNearest)
			d.BeginRenderPass(r.RenderTarget(data.vert), r.RenderPassParams(data.vert))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})

	return pass.Data.output
}

func boolToUint(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
