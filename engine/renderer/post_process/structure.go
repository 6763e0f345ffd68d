package post_process

import (
	"fmt"

	"github.com/chewxy/math32"

	"github.com/Carmen-Shannon/oxy-fx/common"
	"github.com/Carmen-Shannon/oxy-fx/engine/framegraph"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/material"
)

// structureMinSize floors the pyramid base so the smallest mip stays usable by
// the occlusion sampler.
const structureMinSize = 32

// structurePassData carries a structure pass's setup results into execute.
type structurePassData struct {
	depth  framegraph.TextureHandle
	target framegraph.RenderTargetHandle
}

func (m *manager) Structure(fc *FrameContext, width, height uint32, scale float32, render DepthRenderFunc) framegraph.TextureHandle {
	w := max(structureMinSize, uint32(math32.Ceil(float32(width)*scale)))
	h := max(structureMinSize, uint32(math32.Ceil(float32(height)*scale)))

	levels := common.MaxLevelCount(w, h) - 5
	if levels < 1 {
		panic(fmt.Sprintf("post_process: structure %dx%d yields no usable mip levels", w, h))
	}

	// Level 0 is a depth-only scene render owned by the caller's callback.
	base := framegraph.AddPass(fc.Graph, "Structure",
		func(b *framegraph.Builder, data *structurePassData) {
			data.depth = b.CreateTexture("structure", driver.TextureDescriptor{
				Width:  w,
				Height: h,
				Levels: uint8(levels),
				Format: driver.FormatDepth24,
			})
			data.depth = b.Write(data.depth)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Depth:      framegraph.Attachment{Texture: data.depth},
				ClearFlags: driver.TargetBufferDepth,
				Viewport:   driver.Viewport{Width: w, Height: h},
			})
		},
		func(r framegraph.Resources, data *structurePassData, d driver.Driver) {
			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			render(d, driver.Viewport{Width: w, Height: h})
			d.EndRenderPass()
		})

	depth := base.Data.depth
	for level := 1; level < levels; level++ {
		depth = m.structureMipPass(fc.Graph, depth, w, h, level)
	}

	fc.Structure = depth
	fc.Graph.Blackboard().Put("structure", depth)
	return depth
}

// structureMipPass writes one pyramid level from the level above it. The depth
// value is carried through the fragment depth output, so the pass renders with
// an always-passing test and writes enabled.
func (m *manager) structureMipPass(g *framegraph.Graph, depth framegraph.TextureHandle, w, h uint32, level int) framegraph.TextureHandle {
	lw := common.ValueForLevel(level, w)
	lh := common.ValueForLevel(level, h)

	pass := framegraph.AddPass(g, fmt.Sprintf("Structure mip %d", level),
		func(b *framegraph.Builder, data *structurePassData) {
			b.Read(depth)
			data.depth = b.Write(depth)
			data.target = b.DeclareRenderTarget(framegraph.RenderTargetDescriptor{
				Depth:    framegraph.Attachment{Texture: data.depth, Level: uint8(level)},
				Viewport: driver.Viewport{Width: lw, Height: lh},
			})
		},
		func(r framegraph.Resources, data *structurePassData, d driver.Driver) {
			mat := m.realize("mipmapDepth")
			inst := mat.Instance()
			inst.SetTextureRange("depth", r.Texture(data.depth), samplerNearest, uint8(level-1), 1)
			inst.SetDepthFunc(driver.CompareAlways)
			inst.SetDepthWrite(true)

			d.BeginRenderPass(r.RenderTarget(data.target), r.RenderPassParams(data.target))
			inst.Draw(d, material.VariantOpaque)
			d.EndRenderPass()
		})

	return pass.Data.depth
}
