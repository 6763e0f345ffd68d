package post_process

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-fx/engine/framegraph"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/material"
)

// blitMaterialNames indexes the shader-based blit tiers; qualities above the
// last tier reuse it.
var blitMaterialNames = [3]string{"blitLow", "blitMedium", "blitHigh"}

// blitPassData carries a blit pass's setup results into execute.
type blitPassData struct {
	input  framegraph.TextureHandle
	output framegraph.TextureHandle
	src    framegraph.RenderTargetHandle
	dst    framegraph.RenderTargetHandle
}

func (m *manager) OpaqueBlit(fc *FrameContext, input framegraph.TextureHandle, out driver.TextureDescriptor, filter driver.FilterMode) framegraph.TextureHandle {
	if out.SampleCount() > 1 {
		panic("post_process: OpaqueBlit cannot write a multisampled destination")
	}
	srcDesc := fc.Graph.Descriptor(input)

	pass := framegraph.AddPass(fc.Graph, "Blit",
		func(b *framegraph.Builder, data *blitPassData) {
			data.input = b.Read(input)
			data.output = b.CreateTexture("blit", out)
			data.output = b.Write(data.output)
			data.src = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color: [4]framegraph.Attachment{{Texture: data.input}},
			})
			data.dst = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color: [4]framegraph.Attachment{{Texture: data.output}},
			})
		},
		func(r framegraph.Resources, data *blitPassData, d driver.Driver) {
			d.Blit(driver.TargetBufferColor,
				r.RenderTarget(data.dst), driver.Viewport{Width: out.Width, Height: out.Height},
				r.RenderTarget(data.src), driver.Viewport{Width: srcDesc.Width, Height: srcDesc.Height},
				filter)
		})
	return pass.Data.output
}

func (m *manager) BlendBlit(fc *FrameContext, input framegraph.TextureHandle, translucent bool, quality QualityLevel, out driver.TextureDescriptor) framegraph.TextureHandle {
	name := blitMaterialNames[min(2, int(quality))]

	pass := framegraph.AddPass(fc.Graph, "Blend blit",
		func(b *framegraph.Builder, data *blitPassData) {
			data.input = b.Read(input)
			data.output = b.CreateTexture("blit", out)
			data.output = b.Write(data.output)
			data.dst = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:      [4]framegraph.Attachment{{Texture: data.output}},
				ClearFlags: driver.TargetBufferColor,
				Viewport:   driver.Viewport{Width: out.Width, Height: out.Height},
			})
		},
		func(r framegraph.Resources, data *blitPassData, d driver.Driver) {
			mat := m.realize(name)
			inst := mat.Instance()
			inst.SetFloat2("uvscale", [2]float32{1, 1})
			inst.SetFloat2("uvoffset", [2]float32{0, 0})
			inst.SetFloat("levelOfDetail", 0)
			inst.SetTexture("color", r.Texture(data.input), samplerLinear)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			if translucent {
				inst.SetBlendFuncs(driver.BlendOne, driver.BlendOneMinusSrcAlpha,
					driver.BlendOne, driver.BlendOneMinusSrcAlpha)
			} else {
				inst.DisableBlending()
			}

			d.BeginRenderPass(r.RenderTarget(data.dst), r.RenderPassParams(data.dst))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})
	return pass.Data.output
}

func (m *manager) Resolve(fc *FrameContext, input framegraph.TextureHandle) framegraph.TextureHandle {
	desc := fc.Graph.Descriptor(input)
	if desc.SampleCount() <= 1 {
		return input
	}

	out := driver.TextureDescriptor{
		Width:  desc.Width,
		Height: desc.Height,
		Format: desc.Format,
	}
	pass := framegraph.AddPass(fc.Graph, fmt.Sprintf("Resolve %dx", desc.SampleCount()),
		func(b *framegraph.Builder, data *blitPassData) {
			data.input = b.Read(input)
			data.output = b.CreateTexture("resolved", out)
			data.output = b.Write(data.output)
			data.src = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:   [4]framegraph.Attachment{{Texture: data.input}},
				Samples: desc.Samples,
			})
			data.dst = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color: [4]framegraph.Attachment{{Texture: data.output}},
			})
		},
		func(r framegraph.Resources, data *blitPassData, d driver.Driver) {
			viewport := driver.Viewport{Width: out.Width, Height: out.Height}
			d.Blit(driver.TargetBufferColor,
				r.RenderTarget(data.dst), viewport,
				r.RenderTarget(data.src), viewport,
				driver.FilterNearest)
		})
	return pass.Data.output
}
