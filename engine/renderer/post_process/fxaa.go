package post_process

import (
	"github.com/Carmen-Shannon/oxy-fx/engine/framegraph"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
)

// fxaaPassData carries the antialiasing pass's setup results into execute.
type fxaaPassData struct {
	input  framegraph.TextureHandle
	output framegraph.TextureHandle
	target framegraph.RenderTargetHandle
}

func (m *manager) Fxaa(fc *FrameContext, input framegraph.TextureHandle, translucent bool) framegraph.TextureHandle {
	desc := fc.Graph.Descriptor(input)
	w, h := desc.Width, desc.Height

	pass := framegraph.AddPass(fc.Graph, "FXAA",
		func(b *framegraph.Builder, data *fxaaPassData) {
			data.input = b.Read(input)
			data.output = b.CreateTexture("fxaa", driver.TextureDescriptor{
				Width: w, Height: h, Format: desc.Format,
			})
			data.output = b.Write(data.output)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Color:    [4]framegraph.Attachment{{Texture: data.output}},
				Viewport: driver.Viewport{Width: w, Height: h},
			})
		},
		func(r framegraph.Resources, data *fxaaPassData, d driver.Driver) {
			mat := m.realize("fxaa")
			inst := mat.Instance()
			inst.SetFloat2("invSize", [2]float32{1 / float32(w), 1 / float32(h)})
			inst.SetTexture("color", r.Texture(data.input), samplerLinear)
			inst.SetDepthFunc(driver.CompareDisabled)
			inst.SetDepthWrite(false)
			inst.DisableBlending()

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, passVariant(translucent))
			d.EndRenderPass()
		})
	return pass.Data.output
}
