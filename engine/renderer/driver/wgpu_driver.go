package driver

import (
	"errors"
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/Carmen-Shannon/oxy-fx/engine/renderer/shader"
	"github.com/cogentcore/webgpu/wgpu"
)

// blitVertexWGSL and blitFragmentWGSL implement the driver's internal scaling
// blit. The vertex stage emits a single fullscreen triangle from the vertex
// index, the same trick every pipeline program uses.
const blitVertexWGSL = `
struct VertexOutput {
    @builtin(position) position: vec4<f32>,
    @location(0) uv: vec2<f32>,
}

@vertex
fn main(@builtin(vertex_index) index: u32) -> VertexOutput {
    var out: VertexOutput;
    let x = f32(i32(index & 1u) * 4 - 1);
    let y = f32(i32(index & 2u) * 2 - 1);
    out.position = vec4<f32>(x, y, 0.0, 1.0);
    out.uv = vec2<f32>(x, -y) * 0.5 + 0.5;
    return out;
}
`

const blitFragmentWGSL = `
@group(0) @binding(0) var source: texture_2d<f32>;
@group(0) @binding(1) var sourceSampler: sampler;

@fragment
fn main(@location(0) uv: vec2<f32>) -> @location(0) vec4<f32> {
    return textureSampleLevel(source, sourceSampler, uv, 0.0);
}
`

// levelRange identifies a cached texture view covering a mip sub-range.
type levelRange struct {
	base  uint8
	count uint8
}

// wgpuTexture holds a device texture together with its descriptor and the
// views handed out for sampling and attachment.
type wgpuTexture struct {
	desc       TextureDescriptor
	texture    *wgpu.Texture
	format     wgpu.TextureFormat
	levelViews map[levelRange]*wgpu.TextureView
}

// wgpuRenderTarget is a resolved set of attachment views plus the metadata
// needed to build render pass descriptors and pipelines against it.
type wgpuRenderTarget struct {
	desc        RenderTargetDescriptor
	width       uint32
	height      uint32
	samples     uint32
	colorViews  []*wgpu.TextureView
	colorFmts   []wgpu.TextureFormat
	colorTex    []TextureID
	colorLevels []uint8
	depthView   *wgpu.TextureView
	depthFmt    wgpu.TextureFormat
	depthTex    TextureID

	// surfaceView is set for the render target wrapping the current swapchain
	// image; it is not owned by the target.
	surfaceView *wgpu.TextureView
}

// pipelineKey identifies a concrete render pipeline variant of a program:
// the raster state plus the attachment formats and sample count of the
// target it draws into.
type pipelineKey struct {
	raster  RasterState
	colors  [4]wgpu.TextureFormat
	depth   wgpu.TextureFormat
	samples uint32
}

// wgpuProgram is a compiled program: shader modules, the merged bind group
// layout, and the render pipelines realized per target variant.
type wgpuProgram struct {
	key            string
	vertex         shader.Shader
	fragment       shader.Shader
	vsModule       *wgpu.ShaderModule
	fsModule       *wgpu.ShaderModule
	bindLayout     *wgpu.BindGroupLayout
	bindEntries    []wgpu.BindGroupLayoutEntry
	pipelineLayout *wgpu.PipelineLayout
	pipelines      map[pipelineKey]*wgpu.RenderPipeline
}

type wgpuDriver struct {
	mu *sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	surface  *wgpu.Surface
	device   *wgpu.Device
	queue    *wgpu.Queue

	surfaceFormat *wgpu.TextureFormat
	presentMode   wgpu.PresentMode
	forceFallback bool

	nextTexture      TextureID
	nextRenderTarget RenderTargetID
	nextProgram      ProgramID

	textures      map[TextureID]*wgpuTexture
	renderTargets map[RenderTargetID]*wgpuRenderTarget
	programs      map[ProgramID]*wgpuProgram
	samplers      map[SamplerParams]*wgpu.Sampler

	encoder   *wgpu.CommandEncoder
	pass      *wgpu.RenderPassEncoder
	passRT    *wgpuRenderTarget
	passIndex int

	frameSurface *wgpu.Texture
	frameView    *wgpu.TextureView
	surfaceRT    RenderTargetID

	blitProgram ProgramID

	// garbage holds transient per-draw resources released after the next submit.
	garbage []interface{ Release() }
}

// WGPUDriver is the Driver implementation backed by a WebGPU device, with the
// surface plumbing needed to present frames to a window.
type WGPUDriver interface {
	Driver

	// ConfigureSurface (re)configures the window surface. Required before the
	// first AcquireSurfaceTarget and after every resize.
	//
	// Parameters:
	//   - width: the new surface width in pixels
	//   - height: the new surface height in pixels
	ConfigureSurface(width, height int)

	// AcquireSurfaceTarget acquires the next swapchain image and wraps it in a
	// render target usable as a blit or draw destination. The returned id stays
	// valid until Present.
	//
	// Returns:
	//   - RenderTargetID: the render target wrapping the swapchain image
	//   - error: an error if the swapchain image could not be acquired
	AcquireSurfaceTarget() (RenderTargetID, error)

	// Present submits pending work, presents the acquired swapchain image, and
	// releases it.
	Present()

	// Device exposes the underlying wgpu device for integration code.
	//
	// Returns:
	//   - *wgpu.Device: the wgpu device
	Device() *wgpu.Device
}

var _ WGPUDriver = &wgpuDriver{}

// WGPUDriverOption configures a wgpu driver at construction.
type WGPUDriverOption func(*wgpuDriver)

// WithForceFallbackAdapter requests the software fallback adapter, useful for
// environments without a hardware GPU.
//
// Returns:
//   - WGPUDriverOption: the option to pass to NewWGPUDriver
func WithForceFallbackAdapter() WGPUDriverOption {
	return func(d *wgpuDriver) {
		d.forceFallback = true
	}
}

// WithVSync selects FIFO presentation instead of immediate mode.
//
// Returns:
//   - WGPUDriverOption: the option to pass to NewWGPUDriver
func WithVSync() WGPUDriverOption {
	return func(d *wgpuDriver) {
		d.presentMode = wgpu.PresentModeFifo
	}
}

// NewWGPUDriver creates a Driver backed by a WebGPU device. When a surface
// descriptor is provided the driver can present to a window via
// AcquireSurfaceTarget and Present; pass nil for headless use.
// Panics if no adapter or device can be acquired, since nothing can run
// without one.
//
// Parameters:
//   - surfaceDescriptor: the window surface to present to, or nil for headless
//   - opts: optional configuration
//
// Returns:
//   - WGPUDriver: the new driver
func NewWGPUDriver(surfaceDescriptor *wgpu.SurfaceDescriptor, opts ...WGPUDriverOption) WGPUDriver {
	runtime.LockOSThread()
	d := &wgpuDriver{
		mu:            &sync.Mutex{},
		instance:      wgpu.CreateInstance(nil),
		presentMode:   wgpu.PresentModeImmediate,
		textures:      make(map[TextureID]*wgpuTexture),
		renderTargets: make(map[RenderTargetID]*wgpuRenderTarget),
		programs:      make(map[ProgramID]*wgpuProgram),
		samplers:      make(map[SamplerParams]*wgpu.Sampler),
	}
	for _, opt := range opts {
		opt(d)
	}

	if surfaceDescriptor != nil {
		d.surface = d.instance.CreateSurface(surfaceDescriptor)
	}

	a, err := d.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		ForceFallbackAdapter: d.forceFallback,
		CompatibleSurface:    d.surface,
	})
	if err != nil {
		panic(err)
	}
	d.adapter = a

	dev, err := a.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "Post Process Device",
	})
	if err != nil {
		panic(err)
	}
	d.device = dev
	d.queue = dev.GetQueue()

	return d
}

// textureFormatToWGPU maps a driver format to its wgpu equivalent.
func textureFormatToWGPU(f TextureFormat) wgpu.TextureFormat {
	switch f {
	case FormatR8:
		return wgpu.TextureFormatR8Unorm
	case FormatRG16F:
		return wgpu.TextureFormatRG16Float
	case FormatRGBA8:
		return wgpu.TextureFormatRGBA8Unorm
	case FormatRGBA16F:
		return wgpu.TextureFormatRGBA16Float
	case FormatRG11B10F:
		return wgpu.TextureFormatRG11B10Ufloat
	case FormatBGRA8:
		return wgpu.TextureFormatBGRA8Unorm
	case FormatDepth24:
		return wgpu.TextureFormatDepth24Plus
	case FormatDepth32F:
		return wgpu.TextureFormatDepth32Float
	default:
		return wgpu.TextureFormatRGBA8Unorm
	}
}

// bytesPerPixel returns the texel byte size for upload row pitch computation.
func bytesPerPixel(f TextureFormat) (uint32, error) {
	switch f {
	case FormatR8:
		return 1, nil
	case FormatRG16F, FormatRGBA8, FormatBGRA8, FormatRG11B10F:
		return 4, nil
	case FormatRGBA16F:
		return 8, nil
	default:
		return 0, fmt.Errorf("format %d does not support CPU uploads", f)
	}
}

func compareFuncToWGPU(c CompareFunc) wgpu.CompareFunction {
	switch c {
	case CompareLessEqual:
		return wgpu.CompareFunctionLessEqual
	case CompareGreater:
		return wgpu.CompareFunctionGreater
	case CompareAlways:
		return wgpu.CompareFunctionAlways
	default:
		return wgpu.CompareFunctionAlways
	}
}

func blendFactorToWGPU(b BlendFunc) wgpu.BlendFactor {
	switch b {
	case BlendZero:
		return wgpu.BlendFactorZero
	case BlendOne:
		return wgpu.BlendFactorOne
	case BlendSrcAlpha:
		return wgpu.BlendFactorSrcAlpha
	case BlendOneMinusSrcAlpha:
		return wgpu.BlendFactorOneMinusSrcAlpha
	default:
		return wgpu.BlendFactorOne
	}
}

func (d *wgpuDriver) CreateTexture(desc TextureDescriptor) (TextureID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if desc.Width == 0 || desc.Height == 0 {
		return 0, fmt.Errorf("wgpu driver: zero-sized texture %dx%d", desc.Width, desc.Height)
	}

	format := textureFormatToWGPU(desc.Format)
	usage := wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding |
		wgpu.TextureUsageCopySrc | wgpu.TextureUsageCopyDst

	tex, err := d.device.CreateTexture(&wgpu.TextureDescriptor{
		Label: fmt.Sprintf("fg texture %dx%d", desc.Width, desc.Height),
		Size: wgpu.Extent3D{
			Width:              desc.Width,
			Height:             desc.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: uint32(desc.LevelCount()),
		SampleCount:   uint32(desc.SampleCount()),
		Dimension:     wgpu.TextureDimension2D,
		Format:        format,
		Usage:         usage,
	})
	if err != nil {
		return 0, fmt.Errorf("wgpu driver: texture creation failed: %w", err)
	}

	d.nextTexture++
	d.textures[d.nextTexture] = &wgpuTexture{
		desc:       desc,
		texture:    tex,
		format:     format,
		levelViews: make(map[levelRange]*wgpu.TextureView),
	}
	return d.nextTexture, nil
}

func (d *wgpuDriver) DestroyTexture(id TextureID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.textures[id]
	if !ok {
		return
	}
	for _, v := range t.levelViews {
		v.Release()
	}
	t.texture.Release()
	delete(d.textures, id)
}

func (d *wgpuDriver) Update2DImage(id TextureID, level int, x, y, width, height uint32, pixels []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.textures[id]
	if !ok {
		return fmt.Errorf("wgpu driver: update of unknown texture %d", id)
	}
	bpp, err := bytesPerPixel(t.desc.Format)
	if err != nil {
		return err
	}

	d.queue.WriteTexture(
		&wgpu.ImageCopyTexture{
			Texture:  t.texture,
			MipLevel: uint32(level),
			Origin:   wgpu.Origin3D{X: x, Y: y},
			Aspect:   wgpu.TextureAspectAll,
		},
		pixels,
		&wgpu.TextureDataLayout{
			Offset:       0,
			BytesPerRow:  width * bpp,
			RowsPerImage: height,
		},
		&wgpu.Extent3D{
			Width:              width,
			Height:             height,
			DepthOrArrayLayers: 1,
		},
	)
	return nil
}

// view returns a cached texture view covering the given mip range. A zero
// count means all levels from base.
func (t *wgpuTexture) view(base, count uint8) (*wgpu.TextureView, error) {
	if count == 0 {
		count = uint8(t.desc.LevelCount()) - base
	}
	key := levelRange{base: base, count: count}
	if v, ok := t.levelViews[key]; ok {
		return v, nil
	}
	v, err := t.texture.CreateView(&wgpu.TextureViewDescriptor{
		Format:          t.format,
		Dimension:       wgpu.TextureViewDimension2D,
		BaseMipLevel:    uint32(base),
		MipLevelCount:   uint32(count),
		BaseArrayLayer:  0,
		ArrayLayerCount: 1,
		Aspect:          wgpu.TextureAspectAll,
	})
	if err != nil {
		return nil, fmt.Errorf("wgpu driver: view creation failed: %w", err)
	}
	t.levelViews[key] = v
	return v, nil
}

func (d *wgpuDriver) CreateRenderTarget(desc RenderTargetDescriptor) (RenderTargetID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rt := &wgpuRenderTarget{desc: desc, samples: 1}
	if desc.Samples > 1 {
		rt.samples = uint32(desc.Samples)
	}

	for _, att := range desc.Color {
		if att.Texture == 0 {
			continue
		}
		t, ok := d.textures[att.Texture]
		if !ok {
			return 0, fmt.Errorf("wgpu driver: render target references unknown texture %d", att.Texture)
		}
		v, err := t.view(att.Level, 1)
		if err != nil {
			return 0, err
		}
		rt.colorViews = append(rt.colorViews, v)
		rt.colorFmts = append(rt.colorFmts, t.format)
		rt.colorTex = append(rt.colorTex, att.Texture)
		rt.colorLevels = append(rt.colorLevels, att.Level)
		if rt.width == 0 {
			rt.width = max(1, t.desc.Width>>att.Level)
			rt.height = max(1, t.desc.Height>>att.Level)
			if desc.Samples == 0 {
				rt.samples = uint32(t.desc.SampleCount())
			}
		}
	}

	if desc.Depth.Texture != 0 {
		t, ok := d.textures[desc.Depth.Texture]
		if !ok {
			return 0, fmt.Errorf("wgpu driver: render target references unknown depth texture %d", desc.Depth.Texture)
		}
		v, err := t.view(desc.Depth.Level, 1)
		if err != nil {
			return 0, err
		}
		rt.depthView = v
		rt.depthFmt = t.format
		rt.depthTex = desc.Depth.Texture
		if rt.width == 0 {
			rt.width = max(1, t.desc.Width>>desc.Depth.Level)
			rt.height = max(1, t.desc.Height>>desc.Depth.Level)
			if desc.Samples == 0 {
				rt.samples = uint32(t.desc.SampleCount())
			}
		}
	}

	if rt.width == 0 {
		return 0, errors.New("wgpu driver: render target has no attachments")
	}

	d.nextRenderTarget++
	d.renderTargets[d.nextRenderTarget] = rt
	return d.nextRenderTarget, nil
}

func (d *wgpuDriver) DestroyRenderTarget(id RenderTargetID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Attachment views are owned by their textures; the target only drops its
	// references.
	delete(d.renderTargets, id)
}

func (d *wgpuDriver) CompileProgram(key string, vertex, fragment shader.Shader) (ProgramID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.compileProgramLocked(key, vertex, fragment)
}

func (d *wgpuDriver) compileProgramLocked(key string, vertex, fragment shader.Shader) (ProgramID, error) {
	vs, err := d.device.CreateShaderModule(vertex.Module())
	if err != nil {
		return 0, fmt.Errorf("program %s: vertex module: %w", key, err)
	}
	fs, err := d.device.CreateShaderModule(fragment.Module())
	if err != nil {
		return 0, fmt.Errorf("program %s: fragment module: %w", key, err)
	}

	merged := mergeBindGroupLayouts(vertex.BindGroupLayoutDescriptors(), fragment.BindGroupLayoutDescriptors())

	p := &wgpuProgram{
		key:       key,
		vertex:    vertex,
		fragment:  fragment,
		vsModule:  vs,
		fsModule:  fs,
		pipelines: make(map[pipelineKey]*wgpu.RenderPipeline),
	}

	var layouts []*wgpu.BindGroupLayout
	if desc, ok := merged[0]; ok {
		bgl, layoutErr := d.device.CreateBindGroupLayout(&desc)
		if layoutErr != nil {
			return 0, fmt.Errorf("program %s: bind group layout: %w", key, layoutErr)
		}
		p.bindLayout = bgl
		p.bindEntries = desc.Entries
		layouts = append(layouts, bgl)
	}

	pl, err := d.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            key,
		BindGroupLayouts: layouts,
	})
	if err != nil {
		return 0, fmt.Errorf("program %s: pipeline layout: %w", key, err)
	}
	p.pipelineLayout = pl

	d.nextProgram++
	d.programs[d.nextProgram] = p
	return d.nextProgram, nil
}

func (d *wgpuDriver) DestroyProgram(id ProgramID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.programs[id]
	if !ok {
		return
	}
	for _, pipe := range p.pipelines {
		pipe.Release()
	}
	if p.pipelineLayout != nil {
		p.pipelineLayout.Release()
	}
	if p.bindLayout != nil {
		p.bindLayout.Release()
	}
	p.vsModule.Release()
	p.fsModule.Release()
	delete(d.programs, id)
}

// ensureEncoder lazily creates the frame command encoder.
func (d *wgpuDriver) ensureEncoder() *wgpu.CommandEncoder {
	if d.encoder == nil {
		enc, err := d.device.CreateCommandEncoder(nil)
		if err != nil {
			panic(fmt.Sprintf("wgpu driver: command encoder creation failed: %v", err))
		}
		d.encoder = enc
	}
	return d.encoder
}

func (d *wgpuDriver) BeginRenderPass(rtID RenderTargetID, params RenderPassParams) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pass != nil {
		panic("wgpu driver: BeginRenderPass inside an open render pass")
	}
	rt, ok := d.renderTargets[rtID]
	if !ok {
		panic(fmt.Sprintf("wgpu driver: BeginRenderPass on unknown render target %d", rtID))
	}
	d.beginPassLocked(rt, params)
}

// beginPassLocked encodes the pass begin; the caller holds the driver lock.
func (d *wgpuDriver) beginPassLocked(rt *wgpuRenderTarget, params RenderPassParams) {
	enc := d.ensureEncoder()

	colorAttachments := make([]wgpu.RenderPassColorAttachment, 0, len(rt.colorViews)+1)
	appendColor := func(view *wgpu.TextureView) {
		loadOp := wgpu.LoadOpLoad
		if params.ClearFlags&TargetBufferColor != 0 || params.DiscardStart&TargetBufferColor != 0 {
			loadOp = wgpu.LoadOpClear
		}
		storeOp := wgpu.StoreOpStore
		if params.DiscardEnd&TargetBufferColor != 0 {
			storeOp = wgpu.StoreOpDiscard
		}
		colorAttachments = append(colorAttachments, wgpu.RenderPassColorAttachment{
			View:    view,
			LoadOp:  loadOp,
			StoreOp: storeOp,
			ClearValue: wgpu.Color{
				R: float64(params.ClearColor[0]),
				G: float64(params.ClearColor[1]),
				B: float64(params.ClearColor[2]),
				A: float64(params.ClearColor[3]),
			},
		})
	}
	if rt.surfaceView != nil {
		appendColor(rt.surfaceView)
	}
	for _, v := range rt.colorViews {
		appendColor(v)
	}

	passDesc := &wgpu.RenderPassDescriptor{
		ColorAttachments: colorAttachments,
	}
	if rt.depthView != nil {
		if params.ReadOnlyDepth {
			passDesc.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
				View:          rt.depthView,
				DepthReadOnly: true,
			}
		} else {
			depthLoad := wgpu.LoadOpLoad
			if params.ClearFlags&TargetBufferDepth != 0 || params.DiscardStart&TargetBufferDepth != 0 {
				depthLoad = wgpu.LoadOpClear
			}
			depthStore := wgpu.StoreOpStore
			if params.DiscardEnd&TargetBufferDepth != 0 {
				depthStore = wgpu.StoreOpDiscard
			}
			passDesc.DepthStencilAttachment = &wgpu.RenderPassDepthStencilAttachment{
				View:            rt.depthView,
				DepthLoadOp:     depthLoad,
				DepthStoreOp:    depthStore,
				DepthClearValue: 1.0,
			}
		}
	}

	d.pass = enc.BeginRenderPass(passDesc)
	d.passRT = rt
	d.passIndex++

	vp := params.Viewport
	if vp.Width == 0 || vp.Height == 0 {
		vp = Viewport{Width: rt.width, Height: rt.height}
	}
	// Pipeline viewports are specified bottom-left; wgpu is top-left.
	top := int32(rt.height) - vp.Bottom - int32(vp.Height)
	d.pass.SetViewport(float32(vp.Left), float32(top), float32(vp.Width), float32(vp.Height), 0, 1)
}

func (d *wgpuDriver) NextSubpass() {
	// WebGPU has no subpasses; the subpass variant of color grading is only
	// selected when IsFrameBufferFetchSupported reports true.
}

func (d *wgpuDriver) EndRenderPass() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pass == nil {
		panic("wgpu driver: EndRenderPass without BeginRenderPass")
	}
	d.pass.End()
	d.pass.Release()
	d.pass = nil
	d.passRT = nil
}

// pipelineFor returns (building if needed) the render pipeline of a program
// specialized for the raster state and current pass attachments.
func (d *wgpuDriver) pipelineFor(p *wgpuProgram, raster RasterState) *wgpu.RenderPipeline {
	var colors [4]wgpu.TextureFormat
	if d.passRT.surfaceView != nil {
		colors[0] = *d.surfaceFormat
	} else {
		copy(colors[:], d.passRT.colorFmts)
	}
	key := pipelineKey{
		raster:  raster,
		colors:  colors,
		depth:   d.passRT.depthFmt,
		samples: d.passRT.samples,
	}
	if pipe, ok := p.pipelines[key]; ok {
		return pipe
	}

	var targets []wgpu.ColorTargetState
	for _, format := range colors {
		if format == wgpu.TextureFormatUndefined {
			break
		}
		state := wgpu.ColorTargetState{
			Format:    format,
			WriteMask: wgpu.ColorWriteMaskAll,
		}
		if raster.BlendEnabled {
			state.Blend = &wgpu.BlendState{
				Color: wgpu.BlendComponent{
					Operation: wgpu.BlendOperationAdd,
					SrcFactor: blendFactorToWGPU(raster.BlendSrcRGB),
					DstFactor: blendFactorToWGPU(raster.BlendDstRGB),
				},
				Alpha: wgpu.BlendComponent{
					Operation: wgpu.BlendOperationAdd,
					SrcFactor: blendFactorToWGPU(raster.BlendSrcAlpha),
					DstFactor: blendFactorToWGPU(raster.BlendDstAlpha),
				},
			}
		}
		targets = append(targets, state)
	}

	desc := &wgpu.RenderPipelineDescriptor{
		Label:  p.key + " Render Pipeline",
		Layout: p.pipelineLayout,
		Vertex: wgpu.VertexState{
			Module:     p.vsModule,
			EntryPoint: p.vertex.EntryPoint(),
		},
		Fragment: &wgpu.FragmentState{
			Module:     p.fsModule,
			EntryPoint: p.fragment.EntryPoint(),
			Targets:    targets,
		},
		Primitive: wgpu.PrimitiveState{
			Topology:  wgpu.PrimitiveTopologyTriangleList,
			FrontFace: wgpu.FrontFaceCCW,
			CullMode:  wgpu.CullModeNone,
		},
		Multisample: wgpu.MultisampleState{
			Count: d.passRT.samples,
			Mask:  0xFFFFFFFF,
		},
	}
	if key.depth != wgpu.TextureFormatUndefined {
		compare := wgpu.CompareFunctionAlways
		if raster.DepthFunc != CompareDisabled {
			compare = compareFuncToWGPU(raster.DepthFunc)
		}
		desc.DepthStencil = &wgpu.DepthStencilState{
			Format:            key.depth,
			DepthWriteEnabled: raster.DepthWrite,
			DepthCompare:      compare,
			StencilFront: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
			StencilBack: wgpu.StencilFaceState{
				Compare: wgpu.CompareFunctionAlways,
			},
		}
	}

	pipe, err := d.device.CreateRenderPipeline(desc)
	if err != nil {
		panic(fmt.Sprintf("wgpu driver: pipeline creation for %s failed: %v", p.key, err))
	}
	p.pipelines[key] = pipe
	return pipe
}

// sampler returns a cached wgpu sampler for the given parameters.
func (d *wgpuDriver) sampler(params SamplerParams) *wgpu.Sampler {
	if s, ok := d.samplers[params]; ok {
		return s
	}
	toFilter := func(f FilterMode) wgpu.FilterMode {
		if f == FilterLinear {
			return wgpu.FilterModeLinear
		}
		return wgpu.FilterModeNearest
	}
	mip := wgpu.MipmapFilterModeNearest
	if params.Mip == MipFilterLinear {
		mip = wgpu.MipmapFilterModeLinear
	}
	s, err := d.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:         "post sampler",
		AddressModeU:  wgpu.AddressModeClampToEdge,
		AddressModeV:  wgpu.AddressModeClampToEdge,
		AddressModeW:  wgpu.AddressModeClampToEdge,
		MagFilter:     toFilter(params.MagFilter),
		MinFilter:     toFilter(params.MinFilter),
		MipmapFilter:  mip,
		LodMinClamp:   0,
		LodMaxClamp:   32,
		MaxAnisotropy: 1,
	})
	if err != nil {
		panic(fmt.Sprintf("wgpu driver: sampler creation failed: %v", err))
	}
	d.samplers[params] = s
	return s
}

func (d *wgpuDriver) Draw(ps PipelineState, uniforms []byte, textures []TextureBinding) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pass == nil {
		panic("wgpu driver: Draw outside a render pass")
	}
	p, ok := d.programs[ps.Program]
	if !ok {
		panic(fmt.Sprintf("wgpu driver: Draw with unknown program %d", ps.Program))
	}

	pipe := d.pipelineFor(p, ps.Raster)
	d.pass.SetPipeline(pipe)

	if p.bindLayout != nil {
		bg, err := d.buildBindGroup(p, uniforms, textures)
		if err != nil {
			panic(fmt.Sprintf("wgpu driver: %v", err))
		}
		d.pass.SetBindGroup(0, bg, nil)
		d.garbage = append(d.garbage, bg)
	}

	if ps.Scissor != nil {
		top := int32(d.passRT.height) - ps.Scissor.Bottom - int32(ps.Scissor.Height)
		d.pass.SetScissorRect(uint32(ps.Scissor.Left), uint32(max(0, top)), ps.Scissor.Width, ps.Scissor.Height)
	} else {
		d.pass.SetScissorRect(0, 0, d.passRT.width, d.passRT.height)
	}

	d.pass.Draw(3, 1, 0, 0)
}

// buildBindGroup assembles the per-draw bind group: the packed uniform block at
// its reflected binding, and each named texture with its companion sampler.
func (d *wgpuDriver) buildBindGroup(p *wgpuProgram, uniforms []byte, textures []TextureBinding) (*wgpu.BindGroup, error) {
	nameFor := func(binding int) string {
		if n := p.fragment.BindGroupVarName(0, binding); n != "" {
			return n
		}
		return p.vertex.BindGroupVarName(0, binding)
	}

	entries := make([]wgpu.BindGroupEntry, 0, len(p.bindEntries))
	for _, layoutEntry := range p.bindEntries {
		binding := int(layoutEntry.Binding)
		varName := nameFor(binding)

		switch {
		case layoutEntry.Buffer.Type != wgpu.BufferBindingTypeUndefined:
			size := layoutEntry.Buffer.MinBindingSize
			if size == 0 {
				size = uint64(len(uniforms))
			}
			buf, err := d.device.CreateBuffer(&wgpu.BufferDescriptor{
				Label: p.key + " uniforms",
				Size:  size,
				Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
			})
			if err != nil {
				return nil, fmt.Errorf("uniform buffer for %s: %w", p.key, err)
			}
			if len(uniforms) > 0 {
				data := uniforms
				if uint64(len(data)) > size {
					data = data[:size]
				}
				d.queue.WriteBuffer(buf, 0, data)
			}
			d.garbage = append(d.garbage, buf)
			entries = append(entries, wgpu.BindGroupEntry{
				Binding: layoutEntry.Binding,
				Buffer:  buf,
				Offset:  0,
				Size:    wgpu.WholeSize,
			})

		case layoutEntry.Sampler.Type != wgpu.SamplerBindingTypeUndefined:
			// Samplers pair with textures by the Name+"Sampler" convention.
			texName := varName
			if len(texName) > len("Sampler") && texName[len(texName)-len("Sampler"):] == "Sampler" {
				texName = texName[:len(texName)-len("Sampler")]
			}
			var params SamplerParams
			for _, tb := range textures {
				if tb.Name == texName {
					params = tb.Sampler
					break
				}
			}
			entries = append(entries, wgpu.BindGroupEntry{
				Binding: layoutEntry.Binding,
				Sampler: d.sampler(params),
			})

		default:
			var bound *TextureBinding
			for i := range textures {
				if textures[i].Name == varName {
					bound = &textures[i]
					break
				}
			}
			if bound == nil {
				return nil, fmt.Errorf("program %s: no texture bound for parameter %q", p.key, varName)
			}
			t, ok := d.textures[bound.Texture]
			if !ok {
				return nil, fmt.Errorf("program %s: parameter %q bound to unknown texture %d", p.key, varName, bound.Texture)
			}
			view, err := t.view(bound.BaseLevel, bound.LevelCount)
			if err != nil {
				return nil, err
			}
			entries = append(entries, wgpu.BindGroupEntry{
				Binding:     layoutEntry.Binding,
				TextureView: view,
			})
		}
	}

	return d.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   p.key + " Bind Group",
		Layout:  p.bindLayout,
		Entries: entries,
	})
}

func (d *wgpuDriver) Blit(flags TargetBufferFlags, dstID RenderTargetID, dstViewport Viewport, srcID RenderTargetID, srcViewport Viewport, filter FilterMode) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dst, ok := d.renderTargets[dstID]
	if !ok {
		panic(fmt.Sprintf("wgpu driver: Blit to unknown render target %d", dstID))
	}
	src, ok := d.renderTargets[srcID]
	if !ok {
		panic(fmt.Sprintf("wgpu driver: Blit from unknown render target %d", srcID))
	}

	sameSize := dstViewport.Width == srcViewport.Width && dstViewport.Height == srcViewport.Height

	if src.samples > 1 {
		d.resolveBlit(dst, src)
		return
	}

	if flags&TargetBufferColor != 0 {
		if sameSize && len(src.colorTex) > 0 && len(dst.colorTex) > 0 &&
			d.textures[src.colorTex[0]].format == d.textures[dst.colorTex[0]].format {
			d.copyBlit(dst, dstViewport, src, srcViewport)
		} else {
			d.renderBlit(dst, dstViewport, src, srcViewport, filter)
		}
	}
	if flags&TargetBufferDepth != 0 && sameSize && src.depthTex != 0 && dst.depthTex != 0 {
		enc := d.ensureEncoder()
		enc.CopyTextureToTexture(
			&wgpu.ImageCopyTexture{
				Texture:  d.textures[src.depthTex].texture,
				MipLevel: uint32(src.desc.Depth.Level),
				Origin:   wgpu.Origin3D{X: uint32(srcViewport.Left), Y: uint32(srcViewport.Bottom)},
				Aspect:   wgpu.TextureAspectAll,
			},
			&wgpu.ImageCopyTexture{
				Texture:  d.textures[dst.depthTex].texture,
				MipLevel: uint32(dst.desc.Depth.Level),
				Origin:   wgpu.Origin3D{X: uint32(dstViewport.Left), Y: uint32(dstViewport.Bottom)},
				Aspect:   wgpu.TextureAspectAll,
			},
			&wgpu.Extent3D{
				Width:              srcViewport.Width,
				Height:             srcViewport.Height,
				DepthOrArrayLayers: 1,
			},
		)
	}
}

// copyBlit performs a same-size same-format copy through the copy engine.
func (d *wgpuDriver) copyBlit(dst *wgpuRenderTarget, dstViewport Viewport, src *wgpuRenderTarget, srcViewport Viewport) {
	enc := d.ensureEncoder()
	enc.CopyTextureToTexture(
		&wgpu.ImageCopyTexture{
			Texture:  d.textures[src.colorTex[0]].texture,
			MipLevel: uint32(src.colorLevels[0]),
			Origin:   wgpu.Origin3D{X: uint32(srcViewport.Left), Y: uint32(srcViewport.Bottom)},
			Aspect:   wgpu.TextureAspectAll,
		},
		&wgpu.ImageCopyTexture{
			Texture:  d.textures[dst.colorTex[0]].texture,
			MipLevel: uint32(dst.colorLevels[0]),
			Origin:   wgpu.Origin3D{X: uint32(dstViewport.Left), Y: uint32(dstViewport.Bottom)},
			Aspect:   wgpu.TextureAspectAll,
		},
		&wgpu.Extent3D{
			Width:              srcViewport.Width,
			Height:             srcViewport.Height,
			DepthOrArrayLayers: 1,
		},
	)
}

// renderBlit rescales through the internal fullscreen blit program. WebGPU's
// copy engine cannot scale, so size- or format-changing blits go through a
// texture sample.
func (d *wgpuDriver) renderBlit(dst *wgpuRenderTarget, dstViewport Viewport, src *wgpuRenderTarget, srcViewport Viewport, filter FilterMode) {
	if d.blitProgram == 0 {
		vs := shader.NewShader("blit_vs", shader.ShaderTypeVertex, blitVertexWGSL)
		fs := shader.NewShader("blit_fs", shader.ShaderTypeFragment, blitFragmentWGSL)
		id, err := d.compileProgramLocked("driver_blit", vs, fs)
		if err != nil {
			panic(fmt.Sprintf("wgpu driver: internal blit program: %v", err))
		}
		d.blitProgram = id
	}

	if len(src.colorTex) == 0 {
		return
	}

	d.beginPassLocked(dst, RenderPassParams{Viewport: dstViewport})
	p := d.programs[d.blitProgram]
	pipe := d.pipelineFor(p, RasterState{})
	d.pass.SetPipeline(pipe)
	bg, err := d.buildBindGroup(p, nil, []TextureBinding{
		{
			Name:       "source",
			Texture:    src.colorTex[0],
			Sampler:    SamplerParams{MagFilter: filter, MinFilter: filter},
			BaseLevel:  src.colorLevels[0],
			LevelCount: 1,
		},
	})
	if err != nil {
		panic(fmt.Sprintf("wgpu driver: blit bind group: %v", err))
	}
	d.garbage = append(d.garbage, bg)
	d.pass.SetBindGroup(0, bg, nil)
	d.pass.SetScissorRect(0, 0, dst.width, dst.height)
	d.pass.Draw(3, 1, 0, 0)
	d.pass.End()
	d.pass.Release()
	d.pass = nil
	d.passRT = nil
}

// resolveBlit resolves a multisampled source into the destination through a
// load/resolve render pass.
func (d *wgpuDriver) resolveBlit(dst *wgpuRenderTarget, src *wgpuRenderTarget) {
	if len(src.colorViews) == 0 || len(dst.colorViews) == 0 {
		return
	}
	enc := d.ensureEncoder()
	pass := enc.BeginRenderPass(&wgpu.RenderPassDescriptor{
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{
				View:          src.colorViews[0],
				ResolveTarget: dst.colorViews[0],
				LoadOp:        wgpu.LoadOpLoad,
				StoreOp:       wgpu.StoreOpDiscard,
			},
		},
	})
	pass.End()
	pass.Release()
}

func (d *wgpuDriver) IsFrameBufferFetchSupported() bool {
	// wgpu-native exposes no framebuffer fetch; color grading always runs as a
	// standalone pass on this driver.
	return false
}

func (d *wgpuDriver) Flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
}

func (d *wgpuDriver) flushLocked() {
	if d.encoder == nil {
		return
	}
	commandBuffer, err := d.encoder.Finish(nil)
	if err != nil {
		d.encoder.Release()
		d.encoder = nil
		return
	}
	d.queue.Submit(commandBuffer)
	commandBuffer.Release()
	d.encoder.Release()
	d.encoder = nil

	for _, g := range d.garbage {
		g.Release()
	}
	d.garbage = d.garbage[:0]
}

func (d *wgpuDriver) ConfigureSurface(width, height int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.surface == nil {
		panic("wgpu driver: ConfigureSurface on a headless driver")
	}

	capabilities := d.surface.GetCapabilities(d.adapter)
	d.surfaceFormat = &capabilities.Formats[0]

	d.surface.Configure(d.adapter, d.device, &wgpu.SurfaceConfiguration{
		Usage:       wgpu.TextureUsageRenderAttachment,
		Format:      *d.surfaceFormat,
		Width:       uint32(width),
		Height:      uint32(height),
		PresentMode: d.presentMode,
		AlphaMode:   capabilities.AlphaModes[0],
	})
}

func (d *wgpuDriver) AcquireSurfaceTarget() (RenderTargetID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.surface == nil {
		return 0, errors.New("wgpu driver: AcquireSurfaceTarget on a headless driver")
	}
	if d.frameSurface != nil {
		return 0, errors.New("wgpu driver: previous surface image not yet presented")
	}

	surfaceTexture, err := d.surface.GetCurrentTexture()
	if err != nil {
		return 0, err
	}
	view, err := surfaceTexture.CreateView(nil)
	if err != nil {
		surfaceTexture.Release()
		return 0, err
	}

	d.frameSurface = surfaceTexture
	d.frameView = view

	rt := &wgpuRenderTarget{
		width:       surfaceTexture.GetWidth(),
		height:      surfaceTexture.GetHeight(),
		samples:     1,
		surfaceView: view,
	}
	d.nextRenderTarget++
	d.renderTargets[d.nextRenderTarget] = rt
	d.surfaceRT = d.nextRenderTarget
	return d.nextRenderTarget, nil
}

func (d *wgpuDriver) Present() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.frameSurface == nil {
		return
	}

	d.flushLocked()
	d.surface.Present()

	if d.surfaceRT != 0 {
		delete(d.renderTargets, d.surfaceRT)
		d.surfaceRT = 0
	}
	d.frameView.Release()
	d.frameView = nil
	d.frameSurface.Release()
	d.frameSurface = nil
}

func (d *wgpuDriver) Device() *wgpu.Device {
	return d.device
}

// mergeBindGroupLayouts merges the bind group layout descriptors from a vertex
// and fragment shader into a unified set suitable for a pipeline layout.
//
// For each group index present in either shader:
//   - Entries with the same binding number have their Visibility flags ORed together
//   - Entries unique to one shader are included with their original visibility
//
// Parameters:
//   - vertexLayouts: bind group layout descriptors from the vertex shader
//   - fragmentLayouts: bind group layout descriptors from the fragment shader
//
// Returns:
//   - map[int]wgpu.BindGroupLayoutDescriptor: the merged descriptors keyed by group index
func mergeBindGroupLayouts(
	vertexLayouts, fragmentLayouts map[int]wgpu.BindGroupLayoutDescriptor,
) map[int]wgpu.BindGroupLayoutDescriptor {
	merged := make(map[int]wgpu.BindGroupLayoutDescriptor)

	groupIndices := make(map[int]bool)
	for g := range vertexLayouts {
		groupIndices[g] = true
	}
	for g := range fragmentLayouts {
		groupIndices[g] = true
	}

	for g := range groupIndices {
		vDesc, hasV := vertexLayouts[g]
		fDesc, hasF := fragmentLayouts[g]

		switch {
		case hasV && !hasF:
			merged[g] = vDesc
		case hasF && !hasV:
			merged[g] = fDesc
		default:
			entryMap := make(map[uint32]wgpu.BindGroupLayoutEntry)
			for _, e := range vDesc.Entries {
				entryMap[e.Binding] = e
			}
			for _, e := range fDesc.Entries {
				if existing, ok := entryMap[e.Binding]; ok {
					existing.Visibility |= e.Visibility
					entryMap[e.Binding] = existing
				} else {
					entryMap[e.Binding] = e
				}
			}

			entries := make([]wgpu.BindGroupLayoutEntry, 0, len(entryMap))
			for _, e := range entryMap {
				entries = append(entries, e)
			}
			sort.Slice(entries, func(i, j int) bool {
				return entries[i].Binding < entries[j].Binding
			})

			merged[g] = wgpu.BindGroupLayoutDescriptor{
				Label:   vDesc.Label,
				Entries: entries,
			}
		}
	}

	return merged
}
