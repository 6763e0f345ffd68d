package driver

import (
	"fmt"

	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/shader"
)

// DrawRecord captures one Draw call observed by the null driver.
type DrawRecord struct {
	// Pass is the zero-based index of the render pass the draw happened in.
	Pass int
	// Pipeline is the pipeline state the draw was encoded with.
	Pipeline PipelineState
	// Uniforms is a copy of the packed uniform block.
	Uniforms []byte
	// Textures are the texture bindings of the draw.
	Textures []TextureBinding
}

// PassRecord captures one BeginRenderPass call observed by the null driver.
type PassRecord struct {
	// Target is the render target the pass drew into.
	Target RenderTargetID
	// Params are the pass parameters as given.
	Params RenderPassParams
}

// BlitRecord captures one Blit call observed by the null driver.
type BlitRecord struct {
	Flags       TargetBufferFlags
	Dst         RenderTargetID
	DstViewport Viewport
	Src         RenderTargetID
	SrcViewport Viewport
	Filter      FilterMode
}

// NullDriver is a Driver that allocates nothing on a GPU and instead records
// every call, so frame graphs and post-processing stages can be executed and
// inspected in tests without a device.
type NullDriver interface {
	Driver

	// TextureDesc returns the descriptor a live texture was created with.
	//
	// Parameters:
	//   - id: the texture to look up
	//
	// Returns:
	//   - TextureDescriptor: the creation descriptor
	//   - bool: false if the texture does not exist or was destroyed
	TextureDesc(id TextureID) (TextureDescriptor, bool)

	// LiveTextures returns the number of textures created and not yet destroyed.
	//
	// Returns:
	//   - int: the live texture count
	LiveTextures() int

	// LiveRenderTargets returns the number of render targets created and not yet destroyed.
	//
	// Returns:
	//   - int: the live render target count
	LiveRenderTargets() int

	// RenderTargetDesc returns the descriptor a live render target was created with.
	//
	// Parameters:
	//   - id: the render target to look up
	//
	// Returns:
	//   - RenderTargetDescriptor: the creation descriptor
	//   - bool: false if the target does not exist or was destroyed
	RenderTargetDesc(id RenderTargetID) (RenderTargetDescriptor, bool)

	// Passes returns the recorded render passes in encoding order.
	//
	// Returns:
	//   - []PassRecord: one record per BeginRenderPass call
	Passes() []PassRecord

	// Draws returns the recorded draws in encoding order.
	//
	// Returns:
	//   - []DrawRecord: one record per Draw call
	Draws() []DrawRecord

	// Blits returns the recorded blits in encoding order.
	//
	// Returns:
	//   - []BlitRecord: one record per Blit call
	Blits() []BlitRecord

	// ProgramKey returns the key a program was compiled under.
	//
	// Parameters:
	//   - id: the program to look up
	//
	// Returns:
	//   - string: the compilation key
	//   - bool: false if the program does not exist or was destroyed
	ProgramKey(id ProgramID) (string, bool)
}

type nullDriver struct {
	fbFetch bool

	nextTexture      TextureID
	nextRenderTarget RenderTargetID
	nextProgram      ProgramID

	textures      map[TextureID]TextureDescriptor
	renderTargets map[RenderTargetID]RenderTargetDescriptor
	programs      map[ProgramID]string

	passes []PassRecord
	draws  []DrawRecord
	blits  []BlitRecord
	inPass bool
}

var _ NullDriver = &nullDriver{}

// NullDriverOption configures a null driver at construction.
type NullDriverOption func(*nullDriver)

// WithFrameBufferFetch sets whether the null driver reports framebuffer fetch
// support, which controls the subpass variant of color grading.
//
// Parameters:
//   - supported: the value IsFrameBufferFetchSupported will report
//
// Returns:
//   - NullDriverOption: the option to pass to NewNullDriver
func WithFrameBufferFetch(supported bool) NullDriverOption {
	return func(d *nullDriver) {
		d.fbFetch = supported
	}
}

// NewNullDriver creates a recording Driver for headless tests.
//
// Parameters:
//   - opts: optional configuration
//
// Returns:
//   - NullDriver: the new driver
func NewNullDriver(opts ...NullDriverOption) NullDriver {
	d := &nullDriver{
		textures:      make(map[TextureID]TextureDescriptor),
		renderTargets: make(map[RenderTargetID]RenderTargetDescriptor),
		programs:      make(map[ProgramID]string),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *nullDriver) CreateTexture(desc TextureDescriptor) (TextureID, error) {
	if desc.Width == 0 || desc.Height == 0 {
		return 0, fmt.Errorf("null driver: zero-sized texture %dx%d", desc.Width, desc.Height)
	}
	d.nextTexture++
	d.textures[d.nextTexture] = desc
	return d.nextTexture, nil
}

func (d *nullDriver) DestroyTexture(id TextureID) {
	if id == 0 {
		return
	}
	delete(d.textures, id)
}

func (d *nullDriver) Update2DImage(id TextureID, level int, x, y, width, height uint32, pixels []byte) error {
	desc, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("null driver: update of unknown texture %d", id)
	}
	if level >= desc.LevelCount() {
		return fmt.Errorf("null driver: update of level %d on texture with %d levels", level, desc.LevelCount())
	}
	return nil
}

func (d *nullDriver) CreateRenderTarget(desc RenderTargetDescriptor) (RenderTargetID, error) {
	d.nextRenderTarget++
	d.renderTargets[d.nextRenderTarget] = desc
	return d.nextRenderTarget, nil
}

func (d *nullDriver) DestroyRenderTarget(id RenderTargetID) {
	if id == 0 {
		return
	}
	delete(d.renderTargets, id)
}

func (d *nullDriver) CompileProgram(key string, vertex, fragment shader.Shader) (ProgramID, error) {
	d.nextProgram++
	d.programs[d.nextProgram] = key
	return d.nextProgram, nil
}

func (d *nullDriver) DestroyProgram(id ProgramID) {
	if id == 0 {
		return
	}
	delete(d.programs, id)
}

func (d *nullDriver) BeginRenderPass(rt RenderTargetID, params RenderPassParams) {
	if d.inPass {
		panic("null driver: BeginRenderPass inside an open render pass")
	}
	d.inPass = true
	d.passes = append(d.passes, PassRecord{Target: rt, Params: params})
}

func (d *nullDriver) NextSubpass() {
	if !d.inPass {
		panic("null driver: NextSubpass outside a render pass")
	}
}

func (d *nullDriver) EndRenderPass() {
	if !d.inPass {
		panic("null driver: EndRenderPass without BeginRenderPass")
	}
	d.inPass = false
}

func (d *nullDriver) Draw(ps PipelineState, uniforms []byte, textures []TextureBinding) {
	if !d.inPass {
		panic("null driver: Draw outside a render pass")
	}
	rec := DrawRecord{
		Pass:     len(d.passes) - 1,
		Pipeline: ps,
		Uniforms: append([]byte(nil), uniforms...),
		Textures: append([]TextureBinding(nil), textures...),
	}
	d.draws = append(d.draws, rec)
}

func (d *nullDriver) Blit(flags TargetBufferFlags, dst RenderTargetID, dstViewport Viewport, src RenderTargetID, srcViewport Viewport, filter FilterMode) {
	d.blits = append(d.blits, BlitRecord{
		Flags:       flags,
		Dst:         dst,
		DstViewport: dstViewport,
		Src:         src,
		SrcViewport: srcViewport,
		Filter:      filter,
	})
}

func (d *nullDriver) IsFrameBufferFetchSupported() bool {
	return d.fbFetch
}

func (d *nullDriver) Flush() {}

func (d *nullDriver) TextureDesc(id TextureID) (TextureDescriptor, bool) {
	desc, ok := d.textures[id]
	return desc, ok
}

func (d *nullDriver) LiveTextures() int {
	return len(d.textures)
}

func (d *nullDriver) LiveRenderTargets() int {
	return len(d.renderTargets)
}

func (d *nullDriver) RenderTargetDesc(id RenderTargetID) (RenderTargetDescriptor, bool) {
	desc, ok := d.renderTargets[id]
	return desc, ok
}

func (d *nullDriver) Passes() []PassRecord {
	return d.passes
}

func (d *nullDriver) Draws() []DrawRecord {
	return d.draws
}

func (d *nullDriver) Blits() []BlitRecord {
	return d.blits
}

func (d *nullDriver) ProgramKey(id ProgramID) (string, bool) {
	key, ok := d.programs[id]
	return key, ok
}
