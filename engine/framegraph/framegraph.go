// package framegraph implements a frame graph: render passes declare the
// textures they read and write during a setup phase, the graph is compiled to
// cull unreferenced work and infer transient resource lifetimes, and execution
// devirtualizes resources through the driver just-in-time.
//
// Texture handles are versioned. Writing a texture produces a new version and
// invalidates the old handle for further writes, which makes the single-writer
// rule checkable at graph construction time.
package framegraph

import (
	"fmt"
	"time"

	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/driver"
)

// TextureHandle is a versioned reference to a graph texture. The zero value is
// invalid.
type TextureHandle struct {
	index   uint32
	version uint32
}

// IsValid reports whether the handle references a graph texture.
//
// Returns:
//   - bool: false for the zero handle
func (h TextureHandle) IsValid() bool {
	return h.index != 0
}

// RenderTargetHandle references a render target declared by a pass during
// setup. It is only meaningful inside that pass's execute callback.
type RenderTargetHandle struct {
	pass  int
	index int
	valid bool
}

// Attachment binds one mip level of a graph texture to a render target slot.
type Attachment struct {
	// Texture is the attached graph texture. The zero handle leaves the slot empty.
	Texture TextureHandle
	// Level is the mip level rendered into.
	Level uint8
}

// RenderTargetDescriptor declares a render target from graph textures: up to 4
// color attachments plus an optional depth attachment, with the clear state the
// pass begins with.
type RenderTargetDescriptor struct {
	Color      [4]Attachment
	Depth      Attachment
	Samples    uint8
	ClearFlags driver.TargetBufferFlags
	ClearColor [4]float32
	// Viewport restricts rendering to a sub-rectangle. Zero means the full target.
	Viewport driver.Viewport
	// ReadOnlyDepth attaches the depth texture for testing only, so the same
	// texture can also be read by the pass. The depth attachment then needs a
	// Read declaration rather than a Write.
	ReadOnlyDepth bool
}

// resource is the graph-internal state of one texture, across all versions.
type resource struct {
	name     string
	desc     driver.TextureDescriptor
	version  uint32
	imported bool

	// readers counts declared reads of any version by non-culled passes.
	readers int

	firstUse int
	lastUse  int

	deviceID driver.TextureID
}

// targetDecl is a render target declared by one pass.
type targetDecl struct {
	desc     RenderTargetDescriptor
	deviceID driver.RenderTargetID
}

// passNode is the graph-internal state of one pass.
type passNode struct {
	name       string
	reads      []TextureHandle
	writes     []TextureHandle
	targets    []targetDecl
	sideEffect bool
	culled     bool
	execute    func(Resources, driver.Driver)
}

// Pass carries the typed data a pass's setup phase produced into its execute
// phase, and exposes the pass's post-compile state.
type Pass[T any] struct {
	// Data is the pass data filled in by the setup callback.
	Data *T

	node *passNode
}

// Culled reports whether Compile removed the pass because nothing consumes its
// output.
//
// Returns:
//   - bool: true if the pass will not execute
func (p *Pass[T]) Culled() bool {
	return p.node.culled
}

// Graph assembles passes and resources for one frame. The zero value is not
// usable; create graphs with NewGraph.
type Graph struct {
	resources  []*resource
	passes     []*passNode
	blackboard Blackboard
	observer   PassObserver
	compiled   bool
	executed   bool
}

// PassObserver receives the name and CPU wall time of every executed pass.
type PassObserver func(name string, elapsed time.Duration)

// SetPassObserver installs an observer called after each pass's execute
// callback returns. A nil observer disables timing.
//
// Parameters:
//   - obs: the observer, or nil
func (g *Graph) SetPassObserver(obs PassObserver) {
	g.observer = obs
}

// NewGraph creates an empty frame graph.
//
// Returns:
//   - *Graph: the new graph
func NewGraph() *Graph {
	return &Graph{
		blackboard: make(Blackboard),
	}
}

// Blackboard returns the graph's blackboard, a name-to-handle registry with
// the graph's lifetime.
//
// Returns:
//   - Blackboard: the graph's blackboard
func (g *Graph) Blackboard() Blackboard {
	return g.blackboard
}

// Descriptor returns the descriptor of the texture behind a handle, for
// callers sizing derived resources outside a pass setup.
//
// Parameters:
//   - h: the texture to inspect
//
// Returns:
//   - driver.TextureDescriptor: the creation descriptor
func (g *Graph) Descriptor(h TextureHandle) driver.TextureDescriptor {
	return g.handleResource(h, "Descriptor").desc
}

// Import wraps an externally-owned device texture in a graph handle. Imported
// textures are never allocated or destroyed by the graph, and writes to them
// keep their writer pass alive through culling.
//
// Parameters:
//   - name: a debug name for the texture
//   - desc: the descriptor matching the device texture
//   - id: the device texture to wrap
//
// Returns:
//   - TextureHandle: the graph handle referencing the imported texture
func (g *Graph) Import(name string, desc driver.TextureDescriptor, id driver.TextureID) TextureHandle {
	if id == 0 {
		panic(fmt.Sprintf("framegraph: import of %q with invalid device texture", name))
	}
	g.resources = append(g.resources, &resource{
		name:     name,
		desc:     desc,
		version:  1,
		imported: true,
		firstUse: -1,
		lastUse:  -1,
		deviceID: id,
	})
	return TextureHandle{index: uint32(len(g.resources)), version: 1}
}

// AddPass registers a pass with the graph. The setup callback runs immediately
// and declares the pass's resource usage through the builder; the execute
// callback runs during Execute for passes that survive culling.
//
// Parameters:
//   - g: the graph to add the pass to
//   - name: the pass name, used in panics and profiling
//   - setup: declares created/read/written resources; must be free of driver calls
//   - execute: issues driver commands using the resolved resources
//
// Returns:
//   - *Pass[T]: the pass, carrying the setup-filled data
func AddPass[T any](g *Graph, name string, setup func(*Builder, *T), execute func(Resources, *T, driver.Driver)) *Pass[T] {
	if g.compiled {
		panic(fmt.Sprintf("framegraph: AddPass(%q) after Compile", name))
	}

	node := &passNode{name: name}
	g.passes = append(g.passes, node)

	data := new(T)
	b := &Builder{graph: g, node: node, passIndex: len(g.passes) - 1}
	setup(b, data)

	node.execute = func(r Resources, d driver.Driver) {
		execute(r, data, d)
	}

	return &Pass[T]{Data: data, node: node}
}

// Compile culls passes whose outputs nothing consumes and infers the first and
// last use of every transient resource. Must be called exactly once, after all
// passes are added and before Execute.
//
// Returns:
//   - *Graph: the graph, for chaining into Execute
func (g *Graph) Compile() *Graph {
	if g.compiled {
		panic("framegraph: Compile called twice")
	}
	g.compiled = true

	// A pass is alive if it has side effects, writes an imported resource, or
	// writes a resource version some alive pass reads. Iterate to a fixpoint;
	// reverse order converges in one sweep for acyclic graphs, which versioned
	// writes guarantee.
	alive := make([]bool, len(g.passes))
	for {
		changed := false
		for i := len(g.passes) - 1; i >= 0; i-- {
			if alive[i] {
				continue
			}
			node := g.passes[i]
			ok := node.sideEffect
			if !ok {
				for _, w := range node.writes {
					if g.resources[w.index-1].imported {
						ok = true
						break
					}
					if g.versionIsRead(w, alive) {
						ok = true
						break
					}
				}
			}
			if ok {
				alive[i] = true
				changed = true
			}
		}
		if !changed {
			break
		}
	}

	for i, node := range g.passes {
		node.culled = !alive[i]
	}

	for _, res := range g.resources {
		res.firstUse = -1
		res.lastUse = -1
	}
	for i, node := range g.passes {
		if node.culled {
			continue
		}
		touch := func(h TextureHandle) {
			res := g.resources[h.index-1]
			if res.imported {
				return
			}
			if res.firstUse < 0 {
				res.firstUse = i
			}
			res.lastUse = i
		}
		for _, h := range node.reads {
			touch(h)
			g.resources[h.index-1].readers++
		}
		for _, h := range node.writes {
			touch(h)
		}
		for _, t := range node.targets {
			for _, att := range t.desc.Color {
				if att.Texture.IsValid() {
					touch(att.Texture)
				}
			}
			if t.desc.Depth.Texture.IsValid() {
				touch(t.desc.Depth.Texture)
			}
		}
	}

	return g
}

// versionIsRead reports whether any alive pass reads the exact resource
// version a write produced.
func (g *Graph) versionIsRead(written TextureHandle, alive []bool) bool {
	for i, node := range g.passes {
		if !alive[i] {
			continue
		}
		for _, r := range node.reads {
			if r.index == written.index && r.version == written.version {
				return true
			}
		}
	}
	return false
}

// Execute devirtualizes resources and runs the surviving passes in declaration
// order. Transient textures are allocated just before their first use and
// destroyed after their last; render targets live for their pass only.
//
// Parameters:
//   - d: the driver to execute against
//
// Returns:
//   - error: an error if a device allocation fails; already-allocated
//     transients are released before returning
func (g *Graph) Execute(d driver.Driver) error {
	if !g.compiled {
		panic("framegraph: Execute before Compile")
	}
	if g.executed {
		panic("framegraph: Execute called twice")
	}
	g.executed = true

	cleanup := func() {
		for _, res := range g.resources {
			if !res.imported && res.deviceID != 0 {
				d.DestroyTexture(res.deviceID)
				res.deviceID = 0
			}
		}
	}

	for i, node := range g.passes {
		if node.culled {
			continue
		}

		for _, res := range g.resources {
			if !res.imported && res.firstUse == i && res.deviceID == 0 {
				id, err := d.CreateTexture(res.desc)
				if err != nil {
					cleanup()
					return fmt.Errorf("pass %q: allocating %q: %w", node.name, res.name, err)
				}
				res.deviceID = id
			}
		}

		for t := range node.targets {
			decl := &node.targets[t]
			var rtDesc driver.RenderTargetDescriptor
			rtDesc.Samples = decl.desc.Samples
			for c, att := range decl.desc.Color {
				if att.Texture.IsValid() {
					rtDesc.Color[c] = driver.AttachmentInfo{
						Texture: g.resources[att.Texture.index-1].deviceID,
						Level:   att.Level,
					}
				}
			}
			if decl.desc.Depth.Texture.IsValid() {
				rtDesc.Depth = driver.AttachmentInfo{
					Texture: g.resources[decl.desc.Depth.Texture.index-1].deviceID,
					Level:   decl.desc.Depth.Level,
				}
			}
			id, err := d.CreateRenderTarget(rtDesc)
			if err != nil {
				cleanup()
				return fmt.Errorf("pass %q: creating render target: %w", node.name, err)
			}
			decl.deviceID = id
		}

		if g.observer != nil {
			start := time.Now()
			node.execute(Resources{graph: g, passIndex: i}, d)
			g.observer(node.name, time.Since(start))
		} else {
			node.execute(Resources{graph: g, passIndex: i}, d)
		}

		for t := range node.targets {
			if node.targets[t].deviceID != 0 {
				d.DestroyRenderTarget(node.targets[t].deviceID)
				node.targets[t].deviceID = 0
			}
		}

		for _, res := range g.resources {
			if !res.imported && res.lastUse == i && res.deviceID != 0 {
				d.DestroyTexture(res.deviceID)
				res.deviceID = 0
			}
		}
	}

	return nil
}

// handleResource resolves a handle to its resource, panicking on invalid or
// out-of-range handles. Graph misuse is a programming error, not a runtime
// condition.
func (g *Graph) handleResource(h TextureHandle, context string) *resource {
	if !h.IsValid() || int(h.index) > len(g.resources) {
		panic(fmt.Sprintf("framegraph: %s with invalid texture handle", context))
	}
	res := g.resources[h.index-1]
	if h.version > res.version {
		panic(fmt.Sprintf("framegraph: %s with unknown version %d of %q", context, h.version, res.name))
	}
	return res
}
