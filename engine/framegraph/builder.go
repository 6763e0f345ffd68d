package framegraph

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
)

// Builder is handed to a pass's setup callback to declare the resources the
// pass creates, reads and writes. All methods panic on misuse; setup-time
// errors are graph construction bugs.
type Builder struct {
	graph     *Graph
	node      *passNode
	passIndex int
}

// CreateTexture declares a transient texture owned by the graph. The texture
// is allocated just before the first pass that uses it runs and released after
// the last.
//
// Parameters:
//   - name: a debug name for the texture
//   - desc: dimensions, mip count, format and sample count
//
// Returns:
//   - TextureHandle: version 1 of the new texture
func (b *Builder) CreateTexture(name string, desc driver.TextureDescriptor) TextureHandle {
	if desc.Width == 0 || desc.Height == 0 {
		panic(fmt.Sprintf("framegraph: pass %q creates zero-sized texture %q", b.node.name, name))
	}
	b.graph.resources = append(b.graph.resources, &resource{
		name:     name,
		desc:     desc,
		version:  1,
		firstUse: -1,
		lastUse:  -1,
	})
	return TextureHandle{index: uint32(len(b.graph.resources)), version: 1}
}

// Read declares that the pass samples the given texture version. The same
// handle is returned for convenience.
//
// Parameters:
//   - h: the texture version to read
//
// Returns:
//   - TextureHandle: h unchanged
func (b *Builder) Read(h TextureHandle) TextureHandle {
	b.graph.handleResource(h, fmt.Sprintf("pass %q reads", b.node.name))
	b.node.reads = append(b.node.reads, h)
	return h
}

// Write declares that the pass renders into the given texture, producing a new
// version. Writing a superseded version panics: each version has exactly one
// writer, and the newest handle must be threaded through.
//
// Parameters:
//   - h: the latest version of the texture to write
//
// Returns:
//   - TextureHandle: the new version produced by this pass
func (b *Builder) Write(h TextureHandle) TextureHandle {
	res := b.graph.handleResource(h, fmt.Sprintf("pass %q writes", b.node.name))
	if h.version != res.version {
		panic(fmt.Sprintf("framegraph: pass %q writes superseded version %d of %q (current %d)",
			b.node.name, h.version, res.name, res.version))
	}
	res.version++
	out := TextureHandle{index: h.index, version: res.version}
	b.node.writes = append(b.node.writes, out)
	return out
}

// DeclareRenderTarget declares a render target assembled from graph textures.
// The handle resolves to a device render target inside the pass's execute
// callback only.
//
// Parameters:
//   - desc: attachments, sample count, and clear state
//
// Returns:
//   - RenderTargetHandle: the pass-local render target handle
func (b *Builder) DeclareRenderTarget(desc RenderTargetDescriptor) RenderTargetHandle {
	hasAttachment := desc.Depth.Texture.IsValid()
	for _, att := range desc.Color {
		if att.Texture.IsValid() {
			hasAttachment = true
			b.graph.handleResource(att.Texture, fmt.Sprintf("pass %q attaches", b.node.name))
		}
	}
	if desc.Depth.Texture.IsValid() {
		b.graph.handleResource(desc.Depth.Texture, fmt.Sprintf("pass %q attaches", b.node.name))
	}
	if !hasAttachment {
		panic(fmt.Sprintf("framegraph: pass %q declares a render target with no attachments", b.node.name))
	}
	b.node.targets = append(b.node.targets, targetDecl{desc: desc})
	return RenderTargetHandle{pass: b.passIndex, index: len(b.node.targets) - 1, valid: true}
}

// SideEffect marks the pass as having effects outside the graph, exempting it
// from culling even when nothing reads its outputs.
func (b *Builder) SideEffect() {
	b.node.sideEffect = true
}

// Descriptor returns the descriptor of the texture behind a handle, for passes
// that derive sizes from their inputs during setup.
//
// Parameters:
//   - h: the texture to inspect
//
// Returns:
//   - driver.TextureDescriptor: the creation descriptor
func (b *Builder) Descriptor(h TextureHandle) driver.TextureDescriptor {
	return b.graph.handleResource(h, "Descriptor").desc
}
