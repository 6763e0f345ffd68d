package framegraph

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
)

// Resources is handed to a pass's execute callback to resolve the handles it
// declared during setup into live device resources.
type Resources struct {
	graph     *Graph
	passIndex int
}

// Texture resolves a graph texture handle to its device texture.
//
// Parameters:
//   - h: the texture handle declared during setup
//
// Returns:
//   - driver.TextureID: the live device texture
func (r Resources) Texture(h TextureHandle) driver.TextureID {
	res := r.graph.handleResource(h, "Texture")
	if res.deviceID == 0 {
		panic(fmt.Sprintf("framegraph: texture %q is not devirtualized in pass %q",
			res.name, r.graph.passes[r.passIndex].name))
	}
	return res.deviceID
}

// Descriptor returns the descriptor of the texture behind a handle.
//
// Parameters:
//   - h: the texture to inspect
//
// Returns:
//   - driver.TextureDescriptor: the creation descriptor
func (r Resources) Descriptor(h TextureHandle) driver.TextureDescriptor {
	return r.graph.handleResource(h, "Descriptor").desc
}

// RenderTarget resolves a render target declared by this pass to its device
// render target.
//
// Parameters:
//   - h: the render target handle declared during setup
//
// Returns:
//   - driver.RenderTargetID: the live device render target
func (r Resources) RenderTarget(h RenderTargetHandle) driver.RenderTargetID {
	if !h.valid || h.pass != r.passIndex {
		panic("framegraph: RenderTarget handle does not belong to this pass")
	}
	decl := &r.graph.passes[r.passIndex].targets[h.index]
	if decl.deviceID == 0 {
		panic("framegraph: render target is not devirtualized")
	}
	return decl.deviceID
}

// RenderPassParams assembles the driver render pass parameters for a declared
// render target: the declared viewport and clear state, plus discard flags
// inferred from attachment lifetimes. An attachment whose first use is this
// pass can discard its previous contents; one whose last use is this pass can
// discard them afterwards. Imported textures are never discarded.
//
// Parameters:
//   - h: the render target handle declared during setup
//
// Returns:
//   - driver.RenderPassParams: the parameters to begin the pass with
func (r Resources) RenderPassParams(h RenderTargetHandle) driver.RenderPassParams {
	if !h.valid || h.pass != r.passIndex {
		panic("framegraph: RenderPassParams handle does not belong to this pass")
	}
	decl := &r.graph.passes[r.passIndex].targets[h.index]

	params := driver.RenderPassParams{
		Viewport:      decl.desc.Viewport,
		ClearColor:    decl.desc.ClearColor,
		ClearFlags:    decl.desc.ClearFlags,
		ReadOnlyDepth: decl.desc.ReadOnlyDepth,
	}

	discard := func(h TextureHandle, flag driver.TargetBufferFlags) {
		res := r.graph.resources[h.index-1]
		if res.imported {
			return
		}
		if res.firstUse == r.passIndex {
			params.DiscardStart |= flag
		}
		if res.lastUse == r.passIndex {
			params.DiscardEnd |= flag
		}
	}
	for _, att := range decl.desc.Color {
		if att.Texture.IsValid() {
			discard(att.Texture, driver.TargetBufferColor)
		}
	}
	if decl.desc.Depth.Texture.IsValid() && !decl.desc.ReadOnlyDepth {
		discard(decl.desc.Depth.Texture, driver.TargetBufferDepth)
	}

	// Clearing overrides discarding at pass start.
	params.DiscardStart &^= params.ClearFlags

	return params
}
